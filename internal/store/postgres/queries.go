package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/trackdechets/eventlog/internal/model"
	"github.com/trackdechets/eventlog/internal/store"
)

// eventColumns is the column list used for SELECT statements on the events table.
const eventColumns = `id, stream_id, type, actor, data, metadata, created_at`

// executor is the interface satisfied by both *sql.DB and *sql.Tx.
type executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func queryAppendEvent(ctx context.Context, db executor, e *model.Event) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO events (id, stream_id, type, actor, data, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.ID,
		e.StreamID,
		e.Type,
		e.Actor,
		jsonbBytes(e.Data),
		jsonbBytes(e.Metadata),
		e.CreatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("append event %s: %w", e.ID, store.ErrDuplicateID)
	}
	if err != nil {
		return fmt.Errorf("append event %s: %w", e.ID, classify(err))
	}
	return nil
}

func queryListOldest(ctx context.Context, db executor, after *model.Position, limit int) ([]*model.Event, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if after == nil {
		rows, err = db.QueryContext(ctx, `
			SELECT `+eventColumns+`
			FROM events
			ORDER BY created_at ASC, id ASC
			LIMIT $1`,
			limit,
		)
	} else {
		rows, err = db.QueryContext(ctx, `
			SELECT `+eventColumns+`
			FROM events
			WHERE (created_at, id) > ($1, $2)
			ORDER BY created_at ASC, id ASC
			LIMIT $3`,
			after.CreatedAt, after.ID, limit,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("list oldest events: %w", classify(err))
	}
	defer rows.Close()

	events, err := scanEvents(rows)
	if err != nil {
		return nil, fmt.Errorf("scan events: %w", classify(err))
	}
	return events, nil
}

func queryDeleteByIDs(ctx context.Context, db executor, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res, err := db.ExecContext(ctx, `DELETE FROM events WHERE id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return 0, fmt.Errorf("delete events: %w", classify(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete events: %w", err)
	}
	return n, nil
}

func queryFindByStreams(ctx context.Context, db executor, streamIDs []string, lte *time.Time) ([]*model.Event, error) {
	if len(streamIDs) == 0 {
		return nil, nil
	}

	query := `SELECT ` + eventColumns + ` FROM events WHERE stream_id = ANY($1)`
	args := []any{pq.Array(streamIDs)}
	if lte != nil {
		query += ` AND created_at <= $2`
		args = append(args, *lte)
	}
	query += ` ORDER BY stream_id ASC, created_at ASC, id ASC`

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("find stream events: %w", classify(err))
	}
	defer rows.Close()

	events, err := scanEvents(rows)
	if err != nil {
		return nil, fmt.Errorf("scan events: %w", classify(err))
	}
	return events, nil
}

func queryListStreamIDs(ctx context.Context, db executor, after string, limit int) ([]string, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT DISTINCT stream_id
		FROM events
		WHERE stream_id > $1
		ORDER BY stream_id ASC
		LIMIT $2`,
		after, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list stream ids: %w", classify(err))
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan stream id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list stream ids: %w", classify(err))
	}
	return ids, nil
}
