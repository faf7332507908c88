package postgres

import (
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"net"
	"strings"

	"github.com/lib/pq"

	"github.com/trackdechets/eventlog/internal/model"
	"github.com/trackdechets/eventlog/internal/store"
)

// scannable is the interface satisfied by both *sql.Row and *sql.Rows.
type scannable interface {
	Scan(dest ...any) error
}

// scanEvent scans a single row into a model.Event.
// The row must contain columns in the order defined by eventColumns.
func scanEvent(row scannable) (*model.Event, error) {
	var e model.Event
	var data, metadata []byte
	err := row.Scan(&e.ID, &e.StreamID, &e.Type, &e.Actor, &data, &metadata, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	if len(data) > 0 {
		e.Data = json.RawMessage(data)
	}
	if len(metadata) > 0 {
		e.Metadata = json.RawMessage(metadata)
	}
	e.CreatedAt = e.CreatedAt.UTC()
	return &e, nil
}

// scanEvents scans multiple rows into a slice of model.Event pointers.
func scanEvents(rows *sql.Rows) ([]*model.Event, error) {
	var events []*model.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

// jsonbBytes converts json.RawMessage to a []byte suitable for JSONB columns.
func jsonbBytes(m json.RawMessage) []byte {
	if len(m) == 0 {
		return nil
	}
	return []byte(m)
}

// isUniqueViolation reports a unique_violation (SQLSTATE 23505).
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// isConnectionError reports errors meaning the database could not be reached:
// broken connections, network failures, SQLSTATE class 08 (connection
// exception) and 57P01-57P03 (server shutting down or not accepting).
func isConnectionError(err error) bool {
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		code := string(pqErr.Code)
		return strings.HasPrefix(code, "08") || code == "57P01" || code == "57P02" || code == "57P03"
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// classify marks connection errors as store.ErrUnavailable.
func classify(err error) error {
	if err != nil && isConnectionError(err) {
		return store.Unavailable("hot store", err)
	}
	return err
}
