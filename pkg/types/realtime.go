package types

import "time"

type RowChangeType string

const (
	RowChangeInsert RowChangeType = "INSERT"
	RowChangeUpdate RowChangeType = "UPDATE"
	RowChangeDelete RowChangeType = "DELETE"
)

// RowChange is the payload published on a realtime channel after a row write.
type RowChange struct {
	Type        RowChangeType `json:"type"`
	Table       string        `json:"table"`
	RowID       string        `json:"row_id"`
	CommittedAt time.Time     `json:"committed_at"`
}

// RowFilter selects the changes a listener is interested in. Empty Events
// means every change type.
type RowFilter struct {
	Table  string
	RowID  string
	Events []RowChangeType
}

func (f RowFilter) Match(c RowChange) bool {
	if f.Table != "" && f.Table != c.Table {
		return false
	}
	if f.RowID != "" && f.RowID != c.RowID {
		return false
	}
	if len(f.Events) == 0 {
		return true
	}
	for _, e := range f.Events {
		if e == c.Type {
			return true
		}
	}
	return false
}
