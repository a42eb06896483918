// Package ledger keeps the append-only event log and webhook delivery
// records in an in-memory SQLite database. Nothing here survives process
// exit; the database exists to give the log real query semantics.
package ledger

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"issuelab/internal/domain"
)

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("not found")

const timeLayout = time.RFC3339Nano

// Ledger wraps the backing database.
type Ledger struct {
	db *sql.DB
}

// Open creates a fresh in-memory ledger and applies migrations.
// A single connection is enforced: every :memory: connection would
// otherwise see its own empty database.
func Open() (*Ledger, error) {
	conn, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, err
	}
	conn.SetMaxOpenConns(1)
	if err := migrate(conn); err != nil {
		conn.Close()
		return nil, err
	}
	return &Ledger{db: conn}, nil
}

// Close releases the backing database.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// AppendEvent inserts evt and assigns its monotonic sequence number.
func (l *Ledger) AppendEvent(evt *domain.Event) error {
	res, err := l.db.Exec(
		`INSERT INTO events(id, type, ts, payload_json) VALUES (?, ?, ?, ?)`,
		evt.ID, evt.Type, evt.TS.Format(timeLayout), string(evt.Payload),
	)
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return err
	}
	evt.Seq = seq
	return nil
}

// GetEvent returns the earliest event with the given id. Redundant
// publishes of the same fact may append the id more than once.
func (l *Ledger) GetEvent(id string) (domain.Event, error) {
	row := l.db.QueryRow(`SELECT seq, id, type, ts, payload_json FROM events WHERE id = ? ORDER BY seq LIMIT 1`, id)
	return scanEvent(row)
}

// ListEvents returns events with seq greater than afterSeq, oldest first,
// up to limit rows. A limit of 0 or less means no cap.
func (l *Ledger) ListEvents(afterSeq int64, limit int) ([]domain.Event, error) {
	q := `SELECT seq, id, type, ts, payload_json FROM events WHERE seq > ? ORDER BY seq`
	args := []any{afterSeq}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := l.db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Event
	for rows.Next() {
		evt, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, evt)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (domain.Event, error) {
	var evt domain.Event
	var ts, payload string
	err := row.Scan(&evt.Seq, &evt.ID, &evt.Type, &ts, &payload)
	if err == sql.ErrNoRows {
		return domain.Event{}, ErrNotFound
	}
	if err != nil {
		return domain.Event{}, err
	}
	evt.TS, err = time.Parse(timeLayout, ts)
	if err != nil {
		return domain.Event{}, fmt.Errorf("event %s: bad timestamp: %w", evt.ID, err)
	}
	evt.Payload = []byte(payload)
	return evt, nil
}

// InsertDelivery persists a new delivery record and assigns its id.
func (l *Ledger) InsertDelivery(rec *domain.DeliveryRecord) error {
	res, err := l.db.Exec(
		`INSERT INTO deliveries(webhook_id, url, event_id, event_type, payload_json, secret, status, attempts, last_status_code, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.WebhookID, rec.URL, rec.EventID, rec.EventType, string(rec.Payload), rec.Secret,
		rec.Status, rec.Attempts, rec.LastStatusCode,
		rec.Created.Format(timeLayout), rec.Updated.Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("insert delivery: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	rec.ID = id
	return nil
}

// UpdateDelivery writes back the mutable fields of rec.
func (l *Ledger) UpdateDelivery(rec *domain.DeliveryRecord) error {
	res, err := l.db.Exec(
		`UPDATE deliveries SET status = ?, attempts = ?, last_status_code = ?, updated_at = ? WHERE id = ?`,
		rec.Status, rec.Attempts, rec.LastStatusCode, rec.Updated.Format(timeLayout), rec.ID,
	)
	if err != nil {
		return fmt.Errorf("update delivery %d: %w", rec.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetDelivery returns the delivery record with the given id.
func (l *Ledger) GetDelivery(id int64) (domain.DeliveryRecord, error) {
	row := l.db.QueryRow(deliverySelect+` WHERE id = ?`, id)
	return scanDelivery(row)
}

// ListDeliveries returns delivery records, newest first. A webhookID of
// zero lists records for every webhook.
func (l *Ledger) ListDeliveries(webhookID int64, limit int) ([]domain.DeliveryRecord, error) {
	q := deliverySelect
	var args []any
	if webhookID != 0 {
		q += ` WHERE webhook_id = ?`
		args = append(args, webhookID)
	}
	q += ` ORDER BY id DESC`
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := l.db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.DeliveryRecord
	for rows.Next() {
		rec, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

const deliverySelect = `SELECT id, webhook_id, url, event_id, event_type, payload_json, secret, status, attempts, last_status_code, created_at, updated_at FROM deliveries`

func scanDelivery(row rowScanner) (domain.DeliveryRecord, error) {
	var rec domain.DeliveryRecord
	var payload, created, updated string
	err := row.Scan(&rec.ID, &rec.WebhookID, &rec.URL, &rec.EventID, &rec.EventType, &payload,
		&rec.Secret, &rec.Status, &rec.Attempts, &rec.LastStatusCode, &created, &updated)
	if err == sql.ErrNoRows {
		return domain.DeliveryRecord{}, ErrNotFound
	}
	if err != nil {
		return domain.DeliveryRecord{}, err
	}
	rec.Payload = []byte(payload)
	if rec.Created, err = time.Parse(timeLayout, created); err != nil {
		return domain.DeliveryRecord{}, err
	}
	if rec.Updated, err = time.Parse(timeLayout, updated); err != nil {
		return domain.DeliveryRecord{}, err
	}
	return rec, nil
}
