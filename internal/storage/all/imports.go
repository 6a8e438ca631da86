// Package all registers every storage backend.
package all

import (
	_ "queryworker/internal/storage/mssql"
	_ "queryworker/internal/storage/postgres"
	_ "queryworker/internal/storage/sqlite"
)
