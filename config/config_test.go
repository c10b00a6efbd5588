package config

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gridpipe/gridpipe/cluster"
)

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(`
cluster:
  type: slurm
  options:
    sbatch: /opt/slurm/bin/sbatch
    runner: gridpipe
poll_interval: 30s
logdir: /data/logs
`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Cluster.Type != "slurm" {
		t.Fatalf("got type %q", cfg.Cluster.Type)
	}
	if cfg.Cluster.Options["sbatch"] != "/opt/slurm/bin/sbatch" {
		t.Fatalf("got options %v", cfg.Cluster.Options)
	}
	if cfg.PollInterval != 30*time.Second {
		t.Fatalf("got poll interval %v", cfg.PollInterval)
	}
	if cfg.Logdir != "/data/logs" {
		t.Fatalf("got logdir %q", cfg.Logdir)
	}
}

func TestParseDefaultsPollInterval(t *testing.T) {
	cfg, err := Parse([]byte("cluster:\n  type: sge\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.PollInterval != cluster.DefaultPollInterval {
		t.Fatalf("got poll interval %v", cfg.PollInterval)
	}
}

func TestParseRejectsBadPollInterval(t *testing.T) {
	if _, err := Parse([]byte("poll_interval: soon\n")); err == nil {
		t.Fatalf("expected error for invalid duration")
	}
}

func TestNewCluster(t *testing.T) {
	cfg, err := Parse([]byte(`
cluster:
  type: slurm
  options:
    sbatch: /opt/slurm/bin/sbatch
    list_args: ["-p", "batch"]
`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	c, err := cfg.NewCluster()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := c.(*cluster.Slurm); !ok {
		t.Fatalf("got %T, want *cluster.Slurm", c)
	}

	cfg.Cluster.Type = "sge"
	c, err = cfg.NewCluster()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := c.(*cluster.SGE); !ok {
		t.Fatalf("got %T, want *cluster.SGE", c)
	}
}

func TestNewClusterErrors(t *testing.T) {
	cfg := &Config{}
	if _, err := cfg.NewCluster(); err == nil {
		t.Fatalf("expected error for missing cluster type")
	}
	cfg.Cluster.Type = "torque"
	if _, err := cfg.NewCluster(); err == nil {
		t.Fatalf("expected error for unknown cluster type")
	}
}

func TestNewClusterRejectsBadOptions(t *testing.T) {
	cfg := &Config{
		Cluster: ClusterConfig{
			Type: "slurm",
			Options: map[string]interface{}{
				"list_args": 42,
			},
		},
	}
	if _, err := cfg.NewCluster(); err == nil {
		t.Fatalf("expected error for undecodable options")
	}
}

func TestLoad(t *testing.T) {
	dir, err := ioutil.TempDir("", "config-load")
	if err != nil {
		t.Fatalf("could not create temp dir: %v", err)
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "run.yaml")
	if err := ioutil.WriteFile(path, []byte("cluster:\n  type: sge\n"), 0644); err != nil {
		t.Fatalf("could not write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Cluster.Type != "sge" {
		t.Fatalf("got %q", cfg.Cluster.Type)
	}

	if _, err := Load(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestLoadFromEnv(t *testing.T) {
	dir, err := ioutil.TempDir("", "config-env")
	if err != nil {
		t.Fatalf("could not create temp dir: %v", err)
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "env.yaml")
	if err := ioutil.WriteFile(path, []byte("cluster:\n  type: slurm\n"), 0644); err != nil {
		t.Fatalf("could not write config: %v", err)
	}

	old := os.Getenv(EnvConfigPath)
	defer os.Setenv(EnvConfigPath, old)
	os.Setenv(EnvConfigPath, path)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Cluster.Type != "slurm" {
		t.Fatalf("got %q", cfg.Cluster.Type)
	}
}
