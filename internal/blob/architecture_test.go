package blob

import (
	"sort"
	"strings"
	"testing"

	"golang.org/x/tools/go/packages"
)

// TestInfraBlobImportedOnlyThroughFacade keeps the archive and CLI layers on
// the blob.Store interface rather than concrete backends.
func TestInfraBlobImportedOnlyThroughFacade(t *testing.T) {
	const infra = "spiritcore/internal/infra/blob"
	cfg := &packages.Config{Mode: packages.NeedName | packages.NeedImports, Tests: true}
	pkgs, err := packages.Load(cfg, "spiritcore/...")
	if err != nil {
		t.Fatalf("load packages: %v", err)
	}
	var violations []string
	for _, pkg := range pkgs {
		if underPrefix(pkg.PkgPath, "spiritcore/internal/blob") || underPrefix(pkg.PkgPath, infra) {
			continue
		}
		for importPath := range pkg.Imports {
			if underPrefix(importPath, infra) {
				violations = append(violations, pkg.PkgPath+": "+importPath)
			}
		}
	}
	sort.Strings(violations)
	for _, v := range violations {
		t.Errorf("forbidden import of infra blob package: %s", v)
	}
}

func underPrefix(path, prefix string) bool {
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}
