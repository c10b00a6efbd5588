package cluster

import (
	"bufio"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"io/ioutil"
	"os"
	"strings"

	"github.com/pkg/errors"

	"github.com/gridpipe/gridpipe/common/stats"
	"github.com/gridpipe/gridpipe/tools"

	log "github.com/sirupsen/logrus"
)

// Result sentinel lines. The remote bootstrap writes the encoded result
// between them on stdout; retrieval scans the job's stdout log for the pair
// and decodes only the enclosed payload.
const (
	ResultStart = "-------------------RESULT-------------------"
	ResultEnd   = "-------------------END-RESULT-------------------"
)

const payloadDelimiter = "__PAYLOAD__"

// RetrievalError indicates the result of a remote job could not be read
// back: a missing sentinel, truncated output, or an undecodable payload.
// This is distinct from a tool-reported failure, which decodes cleanly into
// an ExecutionError.
type RetrievalError struct {
	Msg string
	Err error
}

func (e *RetrievalError) Error() string {
	if e.Err != nil {
		return "could not retrieve result: " + e.Msg + ": " + e.Err.Error()
	}
	return "could not retrieve result: " + e.Msg
}

// Cause returns the underlying error, if any.
func (e *RetrievalError) Cause() error { return e.Err }

// payload is the serializable description of a tool plus its resolved
// configuration. The remote side reconstructs the tool from the kind
// registry, or as a generic interpreter tool; no code is ever serialized.
type payload struct {
	Kind        string                 `json:"kind,omitempty"`
	Name        string                 `json:"name"`
	Interpreter string                 `json:"interpreter,omitempty"`
	Command     string                 `json:"command,omitempty"`
	Outputs     map[string]interface{} `json:"outputs,omitempty"`
	Config      map[string]interface{} `json:"config"`
	Job         *tools.Job             `json:"job,omitempty"`
}

type remoteError struct {
	Tool     string `json:"tool,omitempty"`
	Message  string `json:"message"`
	ExitCode int    `json:"exit_code,omitempty"`
	Signal   int    `json:"signal,omitempty"`
}

// envelope carries the remote run's value or its error, never both.
type envelope struct {
	Value interface{}  `json:"value,omitempty"`
	Error *remoteError `json:"error,omitempty"`
}

// encodeTool marshals a tool and its resolved configuration into a
// base64-armored payload. Function-valued entries cannot travel; they have
// already been evaluated into the resolved configuration and are dropped
// from the raw output declarations.
func encodeTool(t *tools.Tool, cfg tools.Config) (string, error) {
	p := payload{
		Kind:        t.Kind,
		Name:        t.Name,
		Interpreter: t.Interpreter,
		Command:     t.Command,
		Outputs:     serializableMap(t.Outputs),
		Config:      serializableMap(cfg),
		Job:         t.Job,
	}
	if t.Command == "" {
		if _, ok := tools.Lookup(t.Kind); !ok {
			return "", errors.Errorf(
				"tool %s has no command and its kind %q is not registered for remote execution",
				t.Name, t.Kind)
		}
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return "", errors.Wrapf(err, "could not encode tool %s", t.Name)
	}
	return armor(raw), nil
}

func serializableMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		if k == tools.JobKey {
			continue
		}
		if !tools.Serializable(v) {
			continue
		}
		out[k] = v
	}
	return out
}

// armor base64-encodes and wraps at 76 columns so the payload survives
// line-oriented transports.
func armor(raw []byte) string {
	enc := base64.StdEncoding.EncodeToString(raw)
	var b strings.Builder
	for len(enc) > 76 {
		b.WriteString(enc[:76])
		b.WriteByte('\n')
		enc = enc[76:]
	}
	b.WriteString(enc)
	return b.String()
}

func unarmor(s string) ([]byte, error) {
	clean := strings.Map(func(r rune) rune {
		if r == '\n' || r == '\r' || r == ' ' || r == '\t' {
			return -1
		}
		return r
	}, s)
	return base64.StdEncoding.DecodeString(clean)
}

// decodeTool reconstructs a tool and its configuration from a payload.
func decodeTool(raw []byte) (*tools.Tool, tools.Config, error) {
	var p payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, nil, errors.Wrap(err, "could not decode tool payload")
	}

	var t *tools.Tool
	if p.Kind != "" {
		factory, ok := tools.Lookup(p.Kind)
		if !ok && p.Command == "" {
			return nil, nil, errors.Errorf("tool kind %q is not registered", p.Kind)
		}
		if ok {
			tool, err := factory()
			if err != nil {
				return nil, nil, errors.Wrapf(err, "could not construct tool kind %q", p.Kind)
			}
			t = tool
		}
	}
	if t == nil {
		tool, err := tools.New(p.Name, p.Command)
		if err != nil {
			return nil, nil, err
		}
		if p.Interpreter != "" {
			tool.Interpreter = p.Interpreter
		}
		for k, v := range p.Outputs {
			tool.Outputs[k] = v
		}
		t = tool
	}
	if p.Name != "" {
		t.Name = p.Name
	}
	if p.Job != nil {
		t.Job = p.Job
	}
	// remote outcomes travel in the result envelope, not in process-local
	// metrics of a one-shot bootstrap
	t.SetStats(stats.NilStatsReceiver())

	cfg := tools.Config(p.Config)
	if cfg == nil {
		cfg = tools.Config{}
	}
	cfg[tools.JobKey] = t.Job
	return t, cfg, nil
}

// bootstrapScript embeds the armored payload in a heredoc fed to the runner
// executable, which decodes and executes the tool on the remote side.
func bootstrapScript(runner, encoded string) string {
	return fmt.Sprintf("%s bootstrap <<'%s'\n%s\n%s\n",
		runner, payloadDelimiter, encoded, payloadDelimiter)
}

// RunBootstrap is the remote side of the submission protocol: it reads the
// armored payload from in, reconstructs and runs the tool, and writes the
// result envelope between the sentinel lines on out. The returned exit code
// is non-zero when the envelope carries an error. A payload that cannot be
// decoded produces no sentinels at all, so retrieval reports it as a
// retrieval failure rather than a tool failure.
func RunBootstrap(in io.Reader, out io.Writer) int {
	data, err := ioutil.ReadAll(in)
	if err != nil {
		log.WithFields(log.Fields{"error": err}).Error("Could not read payload")
		return 1
	}
	raw, err := unarmor(string(data))
	if err != nil {
		log.WithFields(log.Fields{"error": err}).Error("Could not decode payload")
		return 1
	}
	t, cfg, err := decodeTool(raw)
	if err != nil {
		log.WithFields(log.Fields{"error": err}).Error("Could not reconstruct tool")
		return 1
	}

	result, runErr := t.Run(cfg)

	env := envelope{}
	if runErr != nil {
		env.Error = &remoteError{Message: runErr.Error()}
		if ee, ok := runErr.(*tools.ExecutionError); ok {
			env.Error.Tool = ee.Tool
			env.Error.Message = ee.Msg
			if env.Error.Message == "" && ee.Err != nil {
				env.Error.Message = ee.Err.Error()
			}
			env.Error.ExitCode = ee.ExitCode
			env.Error.Signal = ee.Signal
		}
	} else {
		env.Value = result
	}
	if err := writeResult(out, env); err != nil {
		log.WithFields(log.Fields{"error": err}).Error("Could not write result")
		return 1
	}
	if runErr != nil {
		return 1
	}
	return 0
}

func writeResult(w io.Writer, env envelope) error {
	raw, err := json.Marshal(env)
	if err != nil {
		return errors.Wrap(err, "could not encode result")
	}
	if _, err := fmt.Fprintf(w, "%s\n%s\n%s\n", ResultStart, armor(raw), ResultEnd); err != nil {
		return err
	}
	return nil
}

// ReadResult scans a job's stdout stream for the sentinel pair and decodes
// the enclosed payload. A decoded error envelope is returned as an
// ExecutionError carrying the remote failure; anything preventing decoding
// is a RetrievalError.
func ReadResult(r io.Reader) (interface{}, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	var (
		collecting bool
		terminated bool
		lines      []string
	)
	for scanner.Scan() {
		line := scanner.Text()
		if !collecting {
			if strings.TrimSpace(line) == ResultStart {
				collecting = true
			}
			continue
		}
		if strings.TrimSpace(line) == ResultEnd {
			terminated = true
			break
		}
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, &RetrievalError{Msg: "could not read job output", Err: err}
	}
	if !collecting {
		return nil, &RetrievalError{Msg: "result marker not found in job output"}
	}
	if !terminated {
		return nil, &RetrievalError{Msg: "job output is truncated"}
	}

	raw, err := unarmor(strings.Join(lines, "\n"))
	if err != nil {
		return nil, &RetrievalError{Msg: "result payload is not valid base64", Err: err}
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, &RetrievalError{Msg: "result payload is not decodable", Err: err}
	}
	if env.Error != nil {
		return nil, &tools.ExecutionError{
			Tool:     env.Error.Tool,
			Msg:      env.Error.Message,
			ExitCode: env.Error.ExitCode,
			Signal:   env.Error.Signal,
		}
	}
	return env.Value, nil
}

// ReadResultFile reads a result from a job's stdout log on disk.
func ReadResultFile(path string) (interface{}, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &RetrievalError{Msg: "could not open job output " + path, Err: err}
	}
	defer f.Close()
	return ReadResult(f)
}
