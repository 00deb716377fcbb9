package store

import (
	"context"
	"encoding/json"
	"fmt"

	"civicreport/internal/models"
)

// createdAtLayout is ISO 8601 in UTC with millisecond precision.
const createdAtLayout = "2006-01-02T15:04:05.000Z07:00"

func (s *Store) Reports(ctx context.Context) ([]models.Report, error) {
	reports := []models.Report{}
	if _, err := s.Get(ctx, KeyReports, &reports); err != nil {
		return nil, err
	}
	return reports, nil
}

// ReportsByOwner keeps collection order.
func (s *Store) ReportsByOwner(ctx context.Context, userID string) ([]models.Report, error) {
	all, err := s.Reports(ctx)
	if err != nil {
		return nil, err
	}
	out := []models.Report{}
	for _, r := range all {
		if r.UserID == userID {
			out = append(out, r)
		}
	}
	return out, nil
}

// CreateReport fills in id and createdAt and puts r at the front of the
// collection. Existing records are written back unchanged.
func (s *Store) CreateReport(ctx context.Context, r models.Report) (models.Report, error) {
	records, version, err := s.getRaw(ctx, KeyReports)
	if err != nil {
		return models.Report{}, err
	}
	taken, err := recordIDs(records)
	if err != nil {
		return models.Report{}, err
	}
	now := s.now()
	r.ID = nextID(now, taken)
	r.CreatedAt = now.UTC().Format(createdAtLayout)
	raw, err := encode(r)
	if err != nil {
		return models.Report{}, fmt.Errorf("encode report: %w", err)
	}
	next := make([]json.RawMessage, 0, len(records)+1)
	next = append(next, raw)
	next = append(next, records...)
	if err := s.setRaw(ctx, KeyReports, next, version); err != nil {
		return models.Report{}, err
	}
	return r, nil
}

// StatusFunc picks the new status given the current one. Returning an
// error aborts the update without writing.
type StatusFunc func(current models.Status) (models.Status, error)

// UpdateReportStatus rewrites the status value of the report with id. Other
// records keep their stored bytes; in the match only the status value is
// replaced, so field order and unknown fields survive. A missing or empty id
// is not an error: found is false and nothing is written.
func (s *Store) UpdateReportStatus(ctx context.Context, id string, decide StatusFunc) (updated models.Report, found bool, err error) {
	if id == "" {
		return models.Report{}, false, nil
	}
	records, version, err := s.getRaw(ctx, KeyReports)
	if err != nil {
		return models.Report{}, false, err
	}
	for i, raw := range records {
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(raw, &fields); err != nil {
			return models.Report{}, false, fmt.Errorf("%w: reports[%d]: %v", ErrCorrupt, i, err)
		}
		// null entries carry no id
		if fields == nil {
			continue
		}
		var recID string
		if v, ok := fields["id"]; ok {
			if err := json.Unmarshal(v, &recID); err != nil {
				return models.Report{}, false, fmt.Errorf("%w: reports[%d].id: %v", ErrCorrupt, i, err)
			}
		}
		if recID != id {
			continue
		}

		var current models.Report
		if err := json.Unmarshal(raw, &current); err != nil {
			return models.Report{}, false, fmt.Errorf("%w: reports[%d]: %v", ErrCorrupt, i, err)
		}
		next, err := decide(current.Status)
		if err != nil {
			return models.Report{}, true, err
		}
		status, err := encode(next)
		if err != nil {
			return models.Report{}, true, fmt.Errorf("encode status: %w", err)
		}
		patched, err := setField(raw, "status", status)
		if err != nil {
			return models.Report{}, true, fmt.Errorf("%w: reports[%d]: %v", ErrCorrupt, i, err)
		}
		records[i] = patched
		if err := s.setRaw(ctx, KeyReports, records, version); err != nil {
			return models.Report{}, true, err
		}
		current.Status = next
		return current, true, nil
	}
	return models.Report{}, false, nil
}

// ImportReports appends records whose id is not yet present, in the order
// given. Records are stored verbatim.
func (s *Store) ImportReports(ctx context.Context, incoming []json.RawMessage) (int, error) {
	records, version, err := s.getRaw(ctx, KeyReports)
	if err != nil {
		return 0, err
	}
	taken, err := recordIDs(records)
	if err != nil {
		return 0, err
	}
	added := 0
	for i, raw := range incoming {
		var rec idOnly
		if err := json.Unmarshal(raw, &rec); err != nil {
			return 0, fmt.Errorf("%w: import record %d: %v", ErrCorrupt, i, err)
		}
		if rec.ID == "" {
			continue
		}
		if _, dup := taken[rec.ID]; dup {
			continue
		}
		taken[rec.ID] = struct{}{}
		records = append(records, compact(raw))
		added++
	}
	if added == 0 {
		return 0, nil
	}
	if err := s.setRaw(ctx, KeyReports, records, version); err != nil {
		return 0, err
	}
	return added, nil
}
