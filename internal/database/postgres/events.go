package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/kozaktomas/faceinbox/internal/database"
	"github.com/kozaktomas/faceinbox/internal/faceerr"
	"github.com/lib/pq"
)

const eventColumns = `id, created_at, source, image_path, thumb_path, bbox, matched, person_id,
	person_name, nickname, score, age, gender, tier, detect_ms, match_ms, total_ms, trained_image_id`

// EventRepository provides PostgreSQL-backed recognition history.
type EventRepository struct {
	pool *Pool
}

// NewEventRepository creates a new PostgreSQL event repository.
func NewEventRepository(pool *Pool) *EventRepository {
	return &EventRepository{pool: pool}
}

// RecordEvent inserts an event.
func (r *EventRepository) RecordEvent(ctx context.Context, e *database.Event) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	err := r.pool.QueryRow(ctx, `
		INSERT INTO recognition_events (
			created_at, source, image_path, thumb_path, bbox, matched, person_id,
			person_name, nickname, score, age, gender, tier, detect_ms, match_ms, total_ms, trained_image_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		RETURNING id`,
		e.CreatedAt, string(e.Source), e.ImagePath, e.ThumbPath, pq.Array(e.BBox), e.Matched, nullInt64(e.PersonID),
		e.PersonName, e.Nickname, e.Score, e.Age, e.Gender, e.Tier, e.DetectMS, e.MatchMS, e.TotalMS,
		nullInt64(e.TrainedImageID),
	).Scan(&e.ID)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// GetEvent returns one event.
func (r *EventRepository) GetEvent(ctx context.Context, id int64) (*database.Event, error) {
	e, err := scanEventRow(r.pool.QueryRow(ctx,
		"SELECT "+eventColumns+" FROM recognition_events WHERE id = $1", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: event %d", faceerr.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// ListEvents returns the newest events first.
func (r *EventRepository) ListEvents(ctx context.Context, limit int) ([]database.Event, error) {
	rows, err := r.pool.Query(ctx,
		"SELECT "+eventColumns+" FROM recognition_events ORDER BY created_at DESC, id DESC LIMIT $1", limit)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	return scanEvents(rows)
}

// DeleteEvent removes one event.
func (r *EventRepository) DeleteEvent(ctx context.Context, id int64) error {
	res, err := r.pool.Exec(ctx, "DELETE FROM recognition_events WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("delete event: %w", err)
	}
	return expectOneRow(res, "event", id)
}

// PruneEvents keeps the newest keep events.
func (r *EventRepository) PruneEvents(ctx context.Context, keep int) ([]database.Event, error) {
	rows, err := r.pool.Query(ctx, `
		DELETE FROM recognition_events WHERE id IN (
			SELECT id FROM recognition_events
			ORDER BY created_at DESC, id DESC
			OFFSET $1
		)
		RETURNING `+eventColumns, keep)
	if err != nil {
		return nil, fmt.Errorf("prune events: %w", err)
	}
	return scanEvents(rows)
}

// ClearEvents removes every event.
func (r *EventRepository) ClearEvents(ctx context.Context) ([]database.Event, error) {
	rows, err := r.pool.Query(ctx, "DELETE FROM recognition_events RETURNING "+eventColumns)
	if err != nil {
		return nil, fmt.Errorf("clear events: %w", err)
	}
	return scanEvents(rows)
}

func scanEventRow(scanner interface{ Scan(...any) error }) (database.Event, error) {
	var e database.Event
	var source string
	var bbox pq.Float64Array
	var personID, trainedID sql.NullInt64

	err := scanner.Scan(
		&e.ID, &e.CreatedAt, &source, &e.ImagePath, &e.ThumbPath, &bbox, &e.Matched, &personID,
		&e.PersonName, &e.Nickname, &e.Score, &e.Age, &e.Gender, &e.Tier,
		&e.DetectMS, &e.MatchMS, &e.TotalMS, &trainedID,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return e, err
	}
	if err != nil {
		return e, fmt.Errorf("scan event: %w", err)
	}

	e.Source = database.EventSource(source)
	e.BBox = []float64(bbox)
	e.PersonID = personID.Int64
	e.TrainedImageID = trainedID.Int64
	return e, nil
}

func scanEvents(rows *sql.Rows) ([]database.Event, error) {
	defer rows.Close()
	var events []database.Event
	for rows.Next() {
		e, err := scanEventRow(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

func nullInt64(v int64) sql.NullInt64 {
	return sql.NullInt64{Int64: v, Valid: v != 0}
}
