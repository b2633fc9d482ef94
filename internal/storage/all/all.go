// Package all links every storage backend into the binary.
//
// Import it for side effects from a main package:
//
//	import _ "dq/internal/storage/all"
package all

import (
	_ "dq/internal/storage/mssql"
	_ "dq/internal/storage/postgres"
	_ "dq/internal/storage/sqlite"
)
