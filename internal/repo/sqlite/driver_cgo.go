//go:build swarm_cgo_sqlite

// This file is only compiled with -tags swarm_cgo_sqlite, for hosts that
// prefer the CGo mattn/go-sqlite3 driver over the default CGo-free
// modernc.org/sqlite build. Importing mattn's package registers its driver
// under the name "sqlite3"; Open in db.go uses whichever driverName the
// build tag selected.
package sqlite

import (
	_ "github.com/mattn/go-sqlite3"
)

// driverName is the database/sql driver name Open uses for this build.
const driverName = "sqlite3"
