// Package config loads the run-control file that selects and parameterizes
// a cluster backend. The file is YAML:
//
//	cluster:
//	  type: slurm
//	  options:
//	    sbatch: /usr/local/bin/sbatch
//	    runner: gridpipe
//	poll_interval: 6m
//	logdir: ./logs
package config

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/gridpipe/gridpipe/cluster"
)

// DefaultFileName is looked up in the working directory and the user's
// home directory when no explicit path is given.
const DefaultFileName = ".gridpipe.yaml"

// EnvConfigPath overrides the config file location.
const EnvConfigPath = "GRIDPIPE_CONFIG"

// ClusterConfig selects a backend and carries its options as an opaque map
// decoded per backend.
type ClusterConfig struct {
	Type    string                 `yaml:"type"`
	Options map[string]interface{} `yaml:"options"`
}

// Config is the parsed run-control file.
type Config struct {
	Cluster      ClusterConfig `yaml:"cluster"`
	PollInterval time.Duration `yaml:"poll_interval"`
	Logdir       string        `yaml:"logdir"`
}

// Load reads a config file. An empty path falls back to $GRIDPIPE_CONFIG,
// then ./.gridpipe.yaml, then ~/.gridpipe.yaml.
func Load(path string) (*Config, error) {
	if path == "" {
		path = findDefault()
	}
	if path == "" {
		return nil, errors.New("no config file found")
	}
	raw, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "could not read config %s", path)
	}
	return Parse(raw)
}

// Parse decodes a config document. poll_interval is a duration string,
// e.g. "6m" or "30s".
func Parse(raw []byte) (*Config, error) {
	var doc struct {
		Cluster      ClusterConfig `yaml:"cluster"`
		PollInterval string        `yaml:"poll_interval"`
		Logdir       string        `yaml:"logdir"`
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, errors.Wrap(err, "could not parse config")
	}
	cfg := &Config{
		Cluster:      doc.Cluster,
		PollInterval: cluster.DefaultPollInterval,
		Logdir:       doc.Logdir,
	}
	if doc.PollInterval != "" {
		d, err := time.ParseDuration(doc.PollInterval)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid poll_interval %q", doc.PollInterval)
		}
		cfg.PollInterval = d
	}
	return cfg, nil
}

func findDefault() string {
	if p := os.Getenv(EnvConfigPath); p != "" {
		return p
	}
	if _, err := os.Stat(DefaultFileName); err == nil {
		return DefaultFileName
	}
	if home, err := os.UserHomeDir(); err == nil {
		p := filepath.Join(home, DefaultFileName)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// NewCluster constructs the configured cluster backend.
func (c *Config) NewCluster() (cluster.Cluster, error) {
	switch c.Cluster.Type {
	case "slurm":
		var opts cluster.SlurmOptions
		if err := mapstructure.Decode(c.Cluster.Options, &opts); err != nil {
			return nil, errors.Wrap(err, "invalid slurm options")
		}
		return cluster.NewSlurm(opts), nil
	case "sge":
		var opts cluster.SGEOptions
		if err := mapstructure.Decode(c.Cluster.Options, &opts); err != nil {
			return nil, errors.Wrap(err, "invalid sge options")
		}
		return cluster.NewSGE(opts), nil
	case "":
		return nil, errors.New("no cluster type configured")
	default:
		return nil, errors.Errorf("unknown cluster type %q", c.Cluster.Type)
	}
}
