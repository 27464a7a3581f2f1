package webhooks

import (
	"database/sql"
	"encoding/json"
)

// SQLEndpointStore persists endpoints so registrations survive
// restarts. Delivery history intentionally does not: it is transient
// operational state.
type SQLEndpointStore struct {
	db *sql.DB
}

func NewSQLEndpointStore(db *sql.DB) *SQLEndpointStore {
	return &SQLEndpointStore{db: db}
}

func (s *SQLEndpointStore) Insert(e *Endpoint) error {
	eventsJSON, err := json.Marshal(e.Events)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(`
		INSERT INTO webhook_endpoints (id, url, events, secret, is_active, success_count, failure_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.URL, string(eventsJSON), e.Secret, e.IsActive, e.SuccessCount, e.FailureCount, e.CreatedAt)
	return err
}

func (s *SQLEndpointStore) Delete(id string) (bool, error) {
	res, err := s.db.Exec(`DELETE FROM webhook_endpoints WHERE id = ?`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *SQLEndpointStore) Get(id string) (*Endpoint, error) {
	row := s.db.QueryRow(`
		SELECT id, url, events, secret, is_active, success_count, failure_count, last_triggered_at, created_at
		FROM webhook_endpoints WHERE id = ?
	`, id)

	e, err := scanEndpoint(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return e, err
}

func (s *SQLEndpointStore) List() ([]*Endpoint, error) {
	rows, err := s.db.Query(`
		SELECT id, url, events, secret, is_active, success_count, failure_count, last_triggered_at, created_at
		FROM webhook_endpoints ORDER BY created_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var endpoints []*Endpoint
	for rows.Next() {
		e, err := scanEndpoint(rows)
		if err != nil {
			return nil, err
		}
		endpoints = append(endpoints, e)
	}
	return endpoints, rows.Err()
}

func (s *SQLEndpointStore) RecordOutcome(id string, success bool, at int64) error {
	if success {
		_, err := s.db.Exec(`
			UPDATE webhook_endpoints SET success_count = success_count + 1, last_triggered_at = ? WHERE id = ?
		`, at, id)
		return err
	}
	_, err := s.db.Exec(`UPDATE webhook_endpoints SET failure_count = failure_count + 1 WHERE id = ?`, id)
	return err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEndpoint(row rowScanner) (*Endpoint, error) {
	e := &Endpoint{}
	var eventsStr string
	var lastTriggered sql.NullInt64

	err := row.Scan(&e.ID, &e.URL, &eventsStr, &e.Secret, &e.IsActive, &e.SuccessCount, &e.FailureCount, &lastTriggered, &e.CreatedAt)
	if err != nil {
		return nil, err
	}

	if lastTriggered.Valid {
		e.LastTriggered = &lastTriggered.Int64
	}
	json.Unmarshal([]byte(eventsStr), &e.Events)

	return e, nil
}
