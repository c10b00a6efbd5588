package cluster

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/gridpipe/gridpipe/tools"
)

func TestArmorWrapsLines(t *testing.T) {
	raw := bytes.Repeat([]byte("payload"), 100)
	enc := armor(raw)
	for _, line := range strings.Split(enc, "\n") {
		if len(line) > 76 {
			t.Fatalf("line longer than 76 columns: %d", len(line))
		}
	}
	dec, err := unarmor(enc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(dec, raw) {
		t.Fatalf("round trip mismatch")
	}
}

func TestEncodeDecodeTool(t *testing.T) {
	tool := mustTool(t, "align", "align ${input} > ${outfile}")
	tool.Interpreter = "sh"
	tool.Outputs["outfile"] = "result.sam"
	tool.Job.Name = "align"
	tool.Job.Threads = 8

	cfg := tools.Config{
		"input":   "data.txt",
		"outfile": "result.sam",
		"hook": tools.Expander(func(cfg tools.Config) interface{} {
			return nil
		}),
		tools.JobKey: tool.Job,
	}

	encoded, err := encodeTool(tool, cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	raw, err := unarmor(encoded)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	decoded, dcfg, err := decodeTool(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if decoded.Name != "align" || decoded.Command != tool.Command || decoded.Interpreter != "sh" {
		t.Fatalf("tool identity lost: %+v", decoded)
	}
	if decoded.Outputs["outfile"] != "result.sam" {
		t.Fatalf("outputs lost: %v", decoded.Outputs)
	}
	if decoded.Job.Threads != 8 || decoded.Job.Name != "align" {
		t.Fatalf("job spec lost: %+v", decoded.Job)
	}
	if dcfg["input"] != "data.txt" {
		t.Fatalf("configuration lost: %v", dcfg)
	}
	if _, ok := dcfg["hook"]; ok {
		t.Fatalf("function values must not travel: %v", dcfg)
	}
	if dcfg[tools.JobKey] != decoded.Job {
		t.Fatalf("job must be rebound in the decoded configuration")
	}
}

func TestEncodeToolRequiresCommandOrKind(t *testing.T) {
	tool, err := tools.NewNative("native", func(tl *tools.Tool, cfg tools.Config) (interface{}, error) {
		return nil, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := encodeTool(tool, nil); err == nil {
		t.Fatalf("a native tool without a registered kind must not encode")
	}
}

func TestDecodeToolUsesRegistry(t *testing.T) {
	tools.Register("test/answer", func() (*tools.Tool, error) {
		return tools.NewNative("answer", func(tl *tools.Tool, cfg tools.Config) (interface{}, error) {
			return 42, nil
		})
	})

	tool, err := tools.NewNative("answer", func(tl *tools.Tool, cfg tools.Config) (interface{}, error) {
		return 42, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tool.Kind = "test/answer"
	tool.Job.Name = "answer-job"

	encoded, err := encodeTool(tool, tools.Config{"n": 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	raw, err := unarmor(encoded)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	decoded, _, err := decodeTool(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decoded.Call == nil {
		t.Fatalf("registry reconstruction must produce a callable tool")
	}
	if decoded.Job.Name != "answer-job" {
		t.Fatalf("job spec must override the factory default, got %+v", decoded.Job)
	}
}

func TestDecodeToolUnknownKind(t *testing.T) {
	raw := []byte(`{"kind":"test/unknown","name":"x"}`)
	if _, _, err := decodeTool(raw); err == nil {
		t.Fatalf("unknown kind without a command must not decode")
	}
}

func TestBootstrapScript(t *testing.T) {
	script := bootstrapScript("gridpipe", "QUJD")
	want := "gridpipe bootstrap <<'__PAYLOAD__'\nQUJD\n__PAYLOAD__\n"
	if script != want {
		t.Fatalf("got %q, want %q", script, want)
	}
}

func TestRunBootstrapSuccess(t *testing.T) {
	tools.Register("test/hello", func() (*tools.Tool, error) {
		tool, err := tools.NewNative("hello", func(tl *tools.Tool, cfg tools.Config) (interface{}, error) {
			return "hello " + cfg["name"].(string), nil
		})
		if err != nil {
			return nil, err
		}
		tool.HandleSignals = false
		return tool, nil
	})

	tool, err := tools.NewNative("hello", func(tl *tools.Tool, cfg tools.Config) (interface{}, error) {
		return nil, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tool.Kind = "test/hello"

	encoded, err := encodeTool(tool, tools.Config{"name": "world"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var out bytes.Buffer
	code := RunBootstrap(strings.NewReader(encoded), &out)
	if code != 0 {
		t.Fatalf("got exit code %d:\n%s", code, out.String())
	}

	value, err := ReadResult(bytes.NewReader(out.Bytes()))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if value != "hello world" {
		t.Fatalf("got %v", value)
	}
}

func TestRunBootstrapToolFailure(t *testing.T) {
	tools.Register("test/fail", func() (*tools.Tool, error) {
		tool, err := tools.NewNative("fail", func(tl *tools.Tool, cfg tools.Config) (interface{}, error) {
			return nil, errors.New("no reference genome")
		})
		if err != nil {
			return nil, err
		}
		tool.HandleSignals = false
		return tool, nil
	})

	tool, err := tools.NewNative("fail", func(tl *tools.Tool, cfg tools.Config) (interface{}, error) {
		return nil, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tool.Kind = "test/fail"

	encoded, err := encodeTool(tool, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var out bytes.Buffer
	code := RunBootstrap(strings.NewReader(encoded), &out)
	if code != 1 {
		t.Fatalf("got exit code %d, want 1", code)
	}

	_, err = ReadResult(bytes.NewReader(out.Bytes()))
	ee, ok := err.(*tools.ExecutionError)
	if !ok {
		t.Fatalf("expected ExecutionError, got %v", err)
	}
	if ee.Error() != "tool fail failed: no reference genome" {
		t.Fatalf("remote error message must match the local one, got %q", ee.Error())
	}
}

func TestRunBootstrapGarbagePayload(t *testing.T) {
	var out bytes.Buffer
	code := RunBootstrap(strings.NewReader("!!! not base64 !!!"), &out)
	if code != 1 {
		t.Fatalf("got exit code %d, want 1", code)
	}
	if strings.Contains(out.String(), ResultStart) {
		t.Fatalf("an undecodable payload must not emit sentinels:\n%s", out.String())
	}

	_, err := ReadResult(bytes.NewReader(out.Bytes()))
	rerr, ok := err.(*RetrievalError)
	if !ok {
		t.Fatalf("expected RetrievalError, got %v", err)
	}
	if !strings.Contains(rerr.Error(), "result marker not found") {
		t.Fatalf("got %q", rerr.Error())
	}
}

func TestReadResultFailureModes(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{"no sentinels", "just tool output\n", "result marker not found"},
		{"truncated", ResultStart + "\nQUJD\n", "truncated"},
		{"bad base64", ResultStart + "\n!!!\n" + ResultEnd + "\n", "not valid base64"},
		{"bad json", ResultStart + "\n" + armor([]byte("not json")) + "\n" + ResultEnd + "\n", "not decodable"},
	}
	for _, c := range cases {
		_, err := ReadResult(strings.NewReader(c.body))
		rerr, ok := err.(*RetrievalError)
		if !ok {
			t.Fatalf("%s: expected RetrievalError, got %v", c.name, err)
		}
		if !strings.Contains(rerr.Error(), c.want) {
			t.Fatalf("%s: got %q, want it to mention %q", c.name, rerr.Error(), c.want)
		}
	}
}

func TestReadResultIgnoresSurroundingOutput(t *testing.T) {
	var body bytes.Buffer
	body.WriteString("tool chatter before\n")
	if err := writeResult(&body, envelope{Value: []interface{}{"a.txt", "b.txt"}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	body.WriteString("trailing noise\n")

	value, err := ReadResult(bytes.NewReader(body.Bytes()))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	list, ok := value.([]interface{})
	if !ok || len(list) != 2 || list[0] != "a.txt" {
		t.Fatalf("got %v", value)
	}
}
