package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rcliao/live-meeting/internal/kv"
	"github.com/rcliao/live-meeting/internal/logging"
	"github.com/rcliao/live-meeting/internal/model"
)

// closeActive drops the published active record after it was archived.
// Further chunks for it are refused with ErrMeetingArchived.
func (r *Repository) closeActive(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active = nil
	r.draft = nil
	r.closed = id
}

// EnsureActive returns the active record, loading or creating one when none
// is published. It is the entry point for starting the next meeting after an
// archive.
func (r *Repository) EnsureActive(ctx context.Context) (*model.SessionRecord, error) {
	if rec, ok := r.Active(); ok {
		return rec, nil
	}
	return r.Load(ctx)
}

// Archive finalizes the active record: it sets IsArchived, fills EndTime if
// absent and stops the record from accepting new chunks. Unsaved changes are
// written with it. Archiving a record that is already archived returns it
// unchanged.
func (r *Repository) Archive(ctx context.Context) (*model.SessionRecord, error) {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	cur, closed := r.base()

	if cur == nil {
		if closed == "" {
			return nil, ErrNoActiveMeeting
		}
		rec, err := r.Get(ctx, closed)
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%w: archived meeting %s was deleted", ErrNoActiveMeeting, closed)
		}
		if err != nil {
			return nil, err
		}
		if rec.IsArchived {
			return rec, nil
		}
		return nil, ErrNoActiveMeeting
	}
	if cur.IsArchived {
		r.closeActive(cur.ID)
		return cur.Clone(), nil
	}

	next := cur.Clone()
	next.IsArchived = true
	if next.EndTime == nil {
		end := r.now().UTC()
		if n := len(next.Chunks); n > 0 && next.Chunks[n-1].Timestamp.After(end) {
			end = next.Chunks[n-1].Timestamp
		}
		next.EndTime = &end
	}
	if err := r.put(ctx, next); err != nil {
		return nil, &StorageWriteError{Key: next.ID, Err: err, Record: next.Clone()}
	}
	r.closeActive(next.ID)
	logging.WithMeeting(r.log, next.ID).Info("archived meeting", "chunks", len(next.Chunks), "notes", len(next.Notes))
	return next.Clone(), nil
}

// ListArchived returns every archived record, newest start time first.
func (r *Repository) ListArchived(ctx context.Context) ([]*model.SessionRecord, error) {
	var out []*model.SessionRecord
	err := r.scan(ctx, func(rec *model.SessionRecord) {
		if rec.IsArchived {
			out = append(out, rec)
		}
	})
	if err != nil {
		return nil, err
	}
	sortNewestFirst(out)
	return out, nil
}

// ListAll returns every stored record, newest start time first.
func (r *Repository) ListAll(ctx context.Context) ([]*model.SessionRecord, error) {
	var out []*model.SessionRecord
	if err := r.scan(ctx, func(rec *model.SessionRecord) { out = append(out, rec) }); err != nil {
		return nil, err
	}
	sortNewestFirst(out)
	return out, nil
}

func sortNewestFirst(recs []*model.SessionRecord) {
	sort.SliceStable(recs, func(i, j int) bool {
		return recs[i].StartTime.After(recs[j].StartTime)
	})
}

// DeleteArchived removes the archived record that started at startTime.
// A missing record is logged and otherwise ignored.
func (r *Repository) DeleteArchived(ctx context.Context, startTime time.Time) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	match, err := r.find(ctx, func(rec *model.SessionRecord) bool {
		return rec.IsArchived && rec.StartTime.Equal(startTime)
	})
	if err != nil {
		return err
	}
	if match == nil {
		r.log.Info("no archived meeting to delete", "start_time", startTime.UTC().Format(time.RFC3339Nano))
		return nil
	}
	if err := r.kv.Remove(ctx, match.ID); err != nil {
		return fmt.Errorf("delete %s: %w", match.ID, err)
	}
	logging.WithMeeting(r.log, match.ID).Info("deleted archived meeting")
	return nil
}

// UpdateRecord merges p into the stored record with id. It returns nil and
// no error when no such record exists.
func (r *Repository) UpdateRecord(ctx context.Context, id string, p Patch) (*model.SessionRecord, error) {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	active, _ := r.base()

	var cur *model.SessionRecord
	isActive := active != nil && active.ID == id
	if isActive {
		cur = active.Clone()
	} else {
		rec, err := r.Get(ctx, id)
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		cur = rec
	}

	next := cur.Clone()
	ApplyPatch(next, p)
	next.ID = cur.ID
	if cur.IsArchived {
		next.IsArchived = true
	}
	if next.IsArchived && next.EndTime == nil {
		end := r.now().UTC()
		next.EndTime = &end
	}

	if err := r.put(ctx, next); err != nil {
		if isActive && !next.IsArchived {
			r.hold(next)
		}
		return nil, &StorageWriteError{Key: next.ID, Err: err, Record: next.Clone()}
	}
	if isActive {
		if next.IsArchived {
			r.closeActive(next.ID)
		} else {
			r.commit(next)
		}
	}
	return next.Clone(), nil
}

// Clear discards the active record and starts a fresh empty one.
func (r *Repository) Clear(ctx context.Context) (*model.SessionRecord, error) {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	cur, err := r.findActive(ctx)
	if err != nil {
		return nil, err
	}
	if cur != nil {
		if err := r.kv.Remove(ctx, cur.ID); err != nil {
			return nil, fmt.Errorf("clear %s: %w", cur.ID, err)
		}
		logging.WithMeeting(r.log, cur.ID).Info("cleared meeting")
	}

	rec := model.NewSessionRecord(r.now())
	if cur != nil && rec.ID == cur.ID {
		rec = model.NewSessionRecord(cur.StartTime.Add(time.Millisecond))
	}
	if err := r.put(ctx, rec); err != nil {
		return nil, &StorageWriteError{Key: rec.ID, Err: err, Record: rec.Clone()}
	}
	r.publish(rec)
	return rec.Clone(), nil
}

// ImportResult reports what Import did.
type ImportResult struct {
	Imported int `json:"imported"`
	Archived int `json:"archived"`
	Skipped  int `json:"skipped"`
}

// Import stores records exported from another store. Imported records that
// are not archived are archived on the way in, so the local active record
// stays the only one. A record colliding with the active id is skipped, and
// so is one whose id is already stored unless overwrite is set.
func (r *Repository) Import(ctx context.Context, recs []*model.SessionRecord, overwrite bool) (ImportResult, error) {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	r.mu.RLock()
	activeID := ""
	if r.active != nil {
		activeID = r.active.ID
	}
	r.mu.RUnlock()

	var res ImportResult
	for _, in := range recs {
		if in == nil || in.StartTime.IsZero() {
			res.Skipped++
			continue
		}
		rec := in.Clone()
		rec.Normalize()
		if rec.ID == activeID {
			logging.WithMeeting(r.log, rec.ID).Warn("import collides with active meeting")
			res.Skipped++
			continue
		}
		if !overwrite {
			_, err := r.kv.Get(ctx, rec.ID)
			if err == nil {
				logging.WithMeeting(r.log, rec.ID).Info("skipping import of stored meeting")
				res.Skipped++
				continue
			}
			if !errors.Is(err, kv.ErrNotFound) {
				return res, fmt.Errorf("import %s: %w", rec.ID, err)
			}
		}
		if !rec.IsArchived {
			rec.IsArchived = true
			if rec.EndTime == nil {
				end := rec.StartTime
				if n := len(rec.Chunks); n > 0 {
					end = rec.Chunks[n-1].Timestamp
				}
				rec.EndTime = &end
			}
			res.Archived++
		}
		if err := r.put(ctx, rec); err != nil {
			return res, &StorageWriteError{Key: rec.ID, Err: err, Record: rec}
		}
		res.Imported++
	}
	return res, nil
}

// Stats summarizes the stored records.
type Stats struct {
	Records  int    `json:"records"`
	Active   int    `json:"active"`
	Archived int    `json:"archived"`
	Chunks   int    `json:"chunks"`
	Notes    int    `json:"notes"`
	Edits    int    `json:"edits"`
	ActiveID string `json:"active_id,omitempty"`
}

// Stats scans the store and counts records and their contents.
func (r *Repository) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	err := r.scan(ctx, func(rec *model.SessionRecord) {
		s.Records++
		if rec.IsArchived {
			s.Archived++
		} else {
			s.Active++
			s.ActiveID = rec.ID
		}
		s.Chunks += len(rec.Chunks)
		s.Notes += len(rec.Notes)
		s.Edits += len(rec.EditedMergedChunks)
	})
	return s, err
}
