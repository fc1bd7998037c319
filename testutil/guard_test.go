package testutil

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type recordingFatal struct{ msg string }

func (r *recordingFatal) Fatalf(format string, args ...any) {
	r.msg = format
	if len(args) > 0 {
		r.msg = strings.TrimSpace(format + " " + args[len(args)-1].(string))
	}
}

func writeFile(t *testing.T, dir, name, src string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(src), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestNonStandardImport(t *testing.T) {
	cases := map[string]bool{
		"fmt":                         false,
		"encoding/json":               false,
		"github.com/spf13/cobra":      true,
		"gopkg.in/yaml.v3":            true,
		"varianthunter/internal/core": true,
		"varianthunterx/pkg":          false,
	}
	for in, want := range cases {
		if got := NonStandardImport(in); got != want {
			t.Fatalf("NonStandardImport(%q)=%v want %v", in, got, want)
		}
	}
}

func TestModuleImport(t *testing.T) {
	match := ModuleImport("internal/core", "internal/cli")
	cases := map[string]bool{
		"varianthunter/internal/core":     true,
		"varianthunter/internal/core/sub": true,
		"varianthunter/internal/corex":    false,
		"varianthunter/internal/cli":      true,
		"varianthunter/internal/export":   false,
	}
	for in, want := range cases {
		if got := match(in); got != want {
			t.Fatalf("ModuleImport(%q)=%v want %v", in, got, want)
		}
	}
}

func TestDirectImportViolationsIgnoresTestsAndDirs(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.go", "package tmp\n\nimport (\n\t\"fmt\"\n\t\"varianthunter/internal/core\"\n)\n\nvar _ = fmt.Sprint\n")
	writeFile(t, dir, "a_test.go", "package tmp\n\nimport \"github.com/stretchr/testify/require\"\n")
	if err := os.Mkdir(filepath.Join(dir, "sub.go"), 0o700); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	viols, err := directImportViolations(dir, NonStandardImport)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(viols) != 1 || viols[0] != "varianthunter/internal/core (in a.go)" {
		t.Fatalf("unexpected violations %v", viols)
	}
	AssertNoDirectImports(t, dir, ModuleImport("internal/cli"), "no cli imports")
}

func TestDirectImportViolationsReportsParseErrors(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "broken.go", "package\n")
	if _, err := directImportViolations(dir, NonStandardImport); err == nil {
		t.Fatalf("expected parse error")
	}
	if _, err := directImportViolations(filepath.Join(dir, "missing"), NonStandardImport); err == nil {
		t.Fatalf("expected read error")
	}
}

func TestFailIfViolations(t *testing.T) {
	var rec recordingFatal
	failIfViolations(&rec, "reason", nil)
	if rec.msg != "" {
		t.Fatalf("expected no failure")
	}
	failIfViolations(&rec, "reason", []string{"x (in a.go)"})
	if !strings.Contains(rec.msg, "x (in a.go)") {
		t.Fatalf("expected violation in message, got %q", rec.msg)
	}
}
