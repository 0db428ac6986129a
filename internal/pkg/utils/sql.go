package utils

import (
	"database/sql"
	"strings"
)

// ToSQLStr makes a nullable string, blank values are stored as NULL
func ToSQLStr(s string) sql.NullString {
	return sql.NullString{String: s, Valid: strings.TrimSpace(s) != ""}
}

// FromSQLStr returns "" for NULL
func FromSQLStr(v sql.NullString) string {
	if v.Valid {
		return v.String
	}
	return ""
}
