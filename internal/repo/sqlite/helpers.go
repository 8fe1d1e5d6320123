package sqlite

import (
	"database/sql"

	"github.com/abathur/swarm/pkg/swarmmodel"
)

// nullID renders an optional ID as a sql.NullString for a nullable column.
func nullID(id *swarmmodel.ID) sql.NullString {
	if id == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: id.String(), Valid: true}
}

func nullStr(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
