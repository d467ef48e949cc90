// Package all registers every storage backend with the factory. Programs
// that let configuration pick the backend blank-import this package;
// programs that want exactly one backend import it directly instead.
package all

import (
	// The mssql backend leaves driver registration to its importer.
	_ "github.com/microsoft/go-mssqldb"

	_ "neurolab/internal/storage/filestore"
	_ "neurolab/internal/storage/mssql"
	_ "neurolab/internal/storage/postgres"
	_ "neurolab/internal/storage/sqlite"
)
