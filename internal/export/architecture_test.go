package export

import (
	"testing"

	"triagetree/testutil"
)

func TestExporterReachesStorageThroughBlobOnly(t *testing.T) {
	testutil.AssertNoDirectImports(t, ".", testutil.InfraImportForbidden, "export must go through the blob facade")
	testutil.AssertNoDirectImports(t, ".", testutil.DriverImportForbidden, "export must not talk to storage clients")
}
