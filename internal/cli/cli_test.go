package cli_test

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"varianthunter/internal/cli"
)

const results = `{
	"rows": [
		{"protein": "S", "mut": "D614G", "slope": 0.5, "f1": 1, "f2": 2, "f3": 3, "f4": 4, "w1": 1, "w2": 2, "w3": 3, "w4": 4},
		{"protein": "ORF1a", "mut": "T265I", "slope": 1.25}
	],
	"totalSequenceCounts": [10, 20, 30, 40],
	"metadata": {
		"location": {"continent": "Europe", "country": "Italy"},
		"date": "2021-03-31",
		"lineage": "B.1.1.7"
	}
}`

type env struct {
	dir    string
	config string
}

func newEnv(t *testing.T) env {
	t.Helper()
	dir := t.TempDir()
	cfg := fmt.Sprintf(`storage:
  driver: sqlite
  sqlite_path: %s
persistence:
  debounce_ms: 5
logging:
  level: error
  trace_file: %s
export:
  driver: fs
  fs_root: %s
`, filepath.Join(dir, "session.db"), filepath.Join(dir, "trace", "operations.jsonl"), filepath.Join(dir, "exports"))
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(cfg), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "results.json"), []byte(results), 0o600); err != nil {
		t.Fatalf("write results: %v", err)
	}
	return env{dir: dir, config: path}
}

func (e env) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := cli.NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--config", e.config}, args...))
	err := root.Execute()
	return out.String(), err
}

func (e env) mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := e.run(t, args...)
	if err != nil {
		t.Fatalf("%v: %v\n%s", args, err, out)
	}
	return out
}

func TestSessionSurvivesAcrossInvocations(t *testing.T) {
	e := newEnv(t)

	out := e.mustRun(t, "import", filepath.Join(e.dir, "results.json"), "--tag", "uk")
	if !strings.Contains(out, "added analysis 0 (Italy_2021-03-31_B.1.1.7)") {
		t.Fatalf("unexpected import output %q", out)
	}
	e.mustRun(t, "do", "setStarredAnalysis", `{"id": 0, "starred": true}`)

	out = e.mustRun(t, "list", "--starred", "--mode", "ls")
	if !strings.Contains(out, "Italy") || !strings.Contains(out, "UK") {
		t.Fatalf("expected restored starred analysis, got %q", out)
	}
	out = e.mustRun(t, "list", "--mode", "li")
	if strings.Contains(out, "Italy") {
		t.Fatalf("lineage specific analysis must be filtered out: %q", out)
	}

	out = e.mustRun(t, "export", "0", "--stdout")
	lines := strings.Split(out, "\r\n")
	if len(lines) != 3 || !strings.HasPrefix(lines[1], `"ORF1a","T265I","1.250"`) {
		t.Fatalf("unexpected csv %q", out)
	}

	out = e.mustRun(t, "plot", "0")
	if !strings.Contains(out, `"title"`) {
		t.Fatalf("unexpected plot output %q", out)
	}
}

func TestOperationsAreTracedToFile(t *testing.T) {
	e := newEnv(t)
	e.mustRun(t, "import", filepath.Join(e.dir, "results.json"))
	e.mustRun(t, "do", "setStarredAnalysis", `{"id": 0, "starred": true}`)

	data, err := os.ReadFile(filepath.Join(e.dir, "trace", "operations.jsonl"))
	if err != nil {
		t.Fatalf("read trace: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) < 2 {
		t.Fatalf("expected a span per operation, got %q", data)
	}
	if !strings.Contains(lines[0], `"operation":"add_analysis"`) || !strings.Contains(lines[len(lines)-1], `"status":"success"`) {
		t.Fatalf("unexpected trace lines %q", lines)
	}
}

func TestExportWritesToBlobStore(t *testing.T) {
	e := newEnv(t)
	e.mustRun(t, "import", filepath.Join(e.dir, "results.json"))
	e.mustRun(t, "export", "0", "-f", "csv", "-f", "yaml")

	for _, ext := range []string{"csv", "yaml"} {
		matches, err := filepath.Glob(filepath.Join(e.dir, "exports", "exports", "*", "Italy_2021-03-31_B.1.1.7."+ext))
		if err != nil {
			t.Fatalf("glob: %v", err)
		}
		if len(matches) != 1 {
			t.Fatalf("expected one %s artifact, got %v", ext, matches)
		}
	}
}

func TestResetDiscardsSessionOnNextStart(t *testing.T) {
	e := newEnv(t)
	e.mustRun(t, "import", filepath.Join(e.dir, "results.json"))
	e.mustRun(t, "reset")
	out := e.mustRun(t, "list")
	if strings.Contains(out, "Italy") {
		t.Fatalf("expected empty history after reset, got %q", out)
	}
}

func TestLineagesCompactsFile(t *testing.T) {
	e := newEnv(t)
	path := filepath.Join(e.dir, "lineages.json")
	data := `[
		{"name": "AY.4.1", "f4": 1, "w4": 1},
		{"name": "AY.4.2", "f4": 2, "w4": 2},
		{"name": "B.1.617.2", "f4": 60, "w4": 60}
	]`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write lineages: %v", err)
	}
	out := e.mustRun(t, "lineages", path)
	if !strings.Contains(out, "AY.4.*") || !strings.Contains(out, "B.1.617.2") || strings.Contains(out, "AY.4.1") {
		t.Fatalf("unexpected lineages output %q", out)
	}
	if _, err := e.run(t, "lineages", path, "--level", "5"); err == nil {
		t.Fatalf("expected invalid level error")
	}
}

func TestCommandErrors(t *testing.T) {
	e := newEnv(t)
	if _, err := e.run(t, "plot", "3"); err == nil {
		t.Fatalf("expected missing analysis error")
	}
	if _, err := e.run(t, "do", "dropTables"); err == nil {
		t.Fatalf("expected unknown operation error")
	}
	if _, err := e.run(t, "list", "--granularity", "planet"); err == nil {
		t.Fatalf("expected granularity error")
	}
	if _, err := e.run(t, "export", "x"); err == nil {
		t.Fatalf("expected invalid id error")
	}
}
