//go:build !swarm_cgo_sqlite

// Default build: the CGo-free modernc.org/sqlite driver.
package sqlite

import (
	_ "modernc.org/sqlite"
)

// driverName is the database/sql driver name Open uses for this build.
const driverName = "sqlite"
