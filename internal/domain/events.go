package domain

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// ChangeType is the kind of row change delivered by a change feed.
type ChangeType string

const (
	ChangeInsert ChangeType = "INSERT"
	ChangeUpdate ChangeType = "UPDATE"
	ChangeDelete ChangeType = "DELETE"
)

// ParseChangeType normalises a change type string. Unknown values are
// returned unchanged (uppercased) so reducers can treat them as no-ops.
func ParseChangeType(s string) ChangeType {
	return ChangeType(strings.ToUpper(strings.TrimSpace(s)))
}

// Record is a row as delivered by the hosted database, kept schemaless.
type Record map[string]any

// ID returns the record's identifier as a string, or "" when absent.
func (r Record) ID() string {
	switch v := r["id"].(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// ChangeEvent is one row change on a subscribed table.
type ChangeEvent struct {
	Table     string     `json:"table"`
	Type      ChangeType `json:"type"`
	Record    Record     `json:"record,omitempty"`
	OldRecord Record     `json:"old_record,omitempty"`
}

// TargetID returns the identifier the event applies to. Deletes usually only
// carry the old record.
func (e ChangeEvent) TargetID() string {
	if id := e.Record.ID(); id != "" {
		return id
	}
	return e.OldRecord.ID()
}
