package dashboard

import "github.com/tjfontaine/enterprise-crm-gateway/internal/domain"

// Apply folds a change event into records and returns the new list. The input
// slice is never modified. INSERT prepends and truncates to limit (when
// limit > 0), UPDATE replaces the record with the same id, DELETE removes it.
// Anything else, including events without an id, leaves the list unchanged.
func Apply(records []domain.Record, ev domain.ChangeEvent, limit int) []domain.Record {
	out, _ := apply(records, ev, limit)
	return out
}

func apply(records []domain.Record, ev domain.ChangeEvent, limit int) ([]domain.Record, bool) {
	id := ev.TargetID()

	switch ev.Type {
	case domain.ChangeInsert:
		if ev.Record == nil {
			return records, false
		}
		out := make([]domain.Record, 0, len(records)+1)
		out = append(out, ev.Record)
		out = append(out, records...)
		if limit > 0 && len(out) > limit {
			out = out[:limit]
		}
		return out, true

	case domain.ChangeUpdate:
		if id == "" || ev.Record == nil {
			return records, false
		}
		for i, r := range records {
			if r.ID() == id {
				out := make([]domain.Record, len(records))
				copy(out, records)
				out[i] = ev.Record
				return out, true
			}
		}
		return records, false

	case domain.ChangeDelete:
		if id == "" {
			return records, false
		}
		for i, r := range records {
			if r.ID() == id {
				out := make([]domain.Record, 0, len(records)-1)
				out = append(out, records[:i]...)
				return append(out, records[i+1:]...), true
			}
		}
		return records, false

	default:
		return records, false
	}
}
