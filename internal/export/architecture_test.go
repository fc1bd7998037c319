package export_test

import (
	"testing"

	"varianthunter/testutil"
)

func TestExportReadsSessionThroughSource(t *testing.T) {
	testutil.AssertNoDirectImports(t, ".", testutil.ModuleImport("internal/core", "internal/adapters", "internal/cli"),
		"export depends on the Source interface, not on the session controller")
}
