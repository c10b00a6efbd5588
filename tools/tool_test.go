package tools

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestNewRequiresNameAndCommand(t *testing.T) {
	if _, err := New("", "echo hi"); err == nil {
		t.Fatalf("expected error for unnamed tool")
	}
	if _, err := New("noop", ""); err == nil {
		t.Fatalf("expected error for tool without command or call")
	}
	tool, err := New("greet", "echo hi")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tool.Interpreter != "bash" {
		t.Fatalf("expected default interpreter, got %q", tool.Interpreter)
	}
	if tool.Job == nil {
		t.Fatalf("expected a default job spec")
	}
}

func TestDefaultConfigAndValueOf(t *testing.T) {
	tool, err := New("merge", "merge ${input} > ${output}")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tool.Inputs["input"] = "in.txt"
	tool.Outputs["output"] = "out.txt"
	tool.Options["verbose"] = true

	cfg := tool.DefaultConfig()
	want := Config{"input": "in.txt", "output": "out.txt", "verbose": true}
	if !reflect.DeepEqual(cfg, want) {
		t.Fatalf("got %v, want %v", cfg, want)
	}

	// inputs shadow outputs which shadow options
	tool.Options["input"] = "other"
	if v, ok := tool.ValueOf("input"); !ok || v != "in.txt" {
		t.Fatalf("got %v, want input default", v)
	}
	if _, ok := tool.ValueOf("missing"); ok {
		t.Fatalf("unknown field should not resolve")
	}
}

func TestResolveRendersTemplatesAndExpanders(t *testing.T) {
	tool, err := New("split", "split ${input}")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cfg := Config{
		"input":  "data.txt",
		"prefix": "${input}.part",
		"count":  2,
		"parts": Expander(func(cfg Config) interface{} {
			return []string{"data.txt.part0", "data.txt.part1"}
		}),
	}
	resolved, err := tool.Resolve(cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resolved["prefix"] != "data.txt.part" {
		t.Fatalf("got %v", resolved["prefix"])
	}
	if resolved["count"] != 2 {
		t.Fatalf("non-string values must pass through, got %v", resolved["count"])
	}
	parts, ok := resolved["parts"].([]string)
	if !ok || len(parts) != 2 {
		t.Fatalf("expander was not evaluated, got %v", resolved["parts"])
	}
}

func TestReturns(t *testing.T) {
	tool, err := New("split", "split ${input}")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rets, err := tool.Returns(nil); err != nil || rets != nil {
		t.Fatalf("tool without outputs should return nil, got %v, %v", rets, err)
	}

	tool.Outputs["b"] = "second"
	tool.Outputs["a"] = func(cfg Config) interface{} {
		return []string{"first-0", "first-1"}
	}
	rets, err := tool.Returns(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []interface{}{"first-0", "first-1", "second"}
	if !reflect.DeepEqual(rets, want) {
		t.Fatalf("got %v, want %v", rets, want)
	}

	// a configured value overrides the declared default
	rets, err = tool.Returns(Config{"b": "override"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rets[2] != "override" {
		t.Fatalf("got %v", rets[2])
	}
}

func TestIsDone(t *testing.T) {
	dir, err := ioutil.TempDir("", "tool-done")
	if err != nil {
		t.Fatalf("could not create temp dir: %v", err)
	}
	defer os.RemoveAll(dir)

	existing := filepath.Join(dir, "done.txt")
	if err := ioutil.WriteFile(existing, []byte("x"), 0644); err != nil {
		t.Fatalf("could not write file: %v", err)
	}

	tool, err := New("produce", "touch ${out}")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tool.IsDone(nil) {
		t.Fatalf("tool without outputs is never done")
	}

	tool.Outputs["out"] = existing
	if !tool.IsDone(nil) {
		t.Fatalf("existing output should mark the tool done")
	}

	tool.Outputs["out2"] = filepath.Join(dir, "missing.txt")
	if tool.IsDone(nil) {
		t.Fatalf("missing output should mark the tool not done")
	}
}

func TestValidate(t *testing.T) {
	tool, err := New("align", "align ${reads}")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tool.Inputs["reads"] = nil
	tool.Inputs["reference"] = nil

	err = tool.Validate(Config{"reads": "r.fq"}, nil)
	verr, ok := err.(*ValidationError)
	if !ok {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if _, ok := verr.Errors["reference"]; !ok {
		t.Fatalf("expected reference to be reported, got %v", verr.Errors)
	}
	if _, ok := verr.Errors["reads"]; ok {
		t.Fatalf("reads is set and must not be reported, got %v", verr.Errors)
	}

	if err := tool.Validate(Config{"reads": "r.fq", "reference": "ref.fa"}, nil); err != nil {
		t.Fatalf("complete configuration must validate, got %v", err)
	}
}

func TestValidateCustomValidator(t *testing.T) {
	tool, err := New("align", "align ${reads}")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var gotIncoming Config
	tool.Validator = func(tl *Tool, cfg Config, incoming Config) error {
		gotIncoming = incoming
		return &ValidationError{Errors: map[string]string{"reads": "unreadable"}}
	}
	err = tool.Validate(Config{}, Config{"reads": "upstream"})
	if err == nil {
		t.Fatalf("expected custom validator error")
	}
	if gotIncoming["reads"] != "upstream" {
		t.Fatalf("incoming fields were not passed through, got %v", gotIncoming)
	}
}

func TestCleanupRemovesFailedOutputs(t *testing.T) {
	dir, err := ioutil.TempDir("", "tool-cleanup")
	if err != nil {
		t.Fatalf("could not create temp dir: %v", err)
	}
	defer os.RemoveAll(dir)

	partial := filepath.Join(dir, "partial.txt")
	if err := ioutil.WriteFile(partial, []byte("x"), 0644); err != nil {
		t.Fatalf("could not write file: %v", err)
	}

	tool, err := New("produce", "touch ${out}")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tool.Outputs["out"] = partial

	if err := tool.Cleanup(nil, false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := os.Stat(partial); err != nil {
		t.Fatalf("successful run must keep its outputs")
	}

	if err := tool.Cleanup(nil, true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := os.Stat(partial); !os.IsNotExist(err) {
		t.Fatalf("failed run must lose its partial outputs")
	}
}

func TestScriptBindsJob(t *testing.T) {
	tool, err := New("report", "report --threads ${job.threads} ${input}")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tool.Job.Threads = 4
	script, err := tool.Script(Config{"input": "data.txt"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if script != "report --threads 4 data.txt" {
		t.Fatalf("got %q", script)
	}
}

func TestSerializable(t *testing.T) {
	if !Serializable("text") || !Serializable(nil) || !Serializable(42) {
		t.Fatalf("plain values must be serializable")
	}
	if Serializable(Expander(func(cfg Config) interface{} { return nil })) {
		t.Fatalf("function values must not be serializable")
	}
}
