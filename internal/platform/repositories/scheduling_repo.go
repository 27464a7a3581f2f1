package repositories

import (
	"database/sql"
	"time"

	"flock/internal/platform/models"
)

// Ministry, event, assignment and notification repositories all operate
// on a tenant database handle, never on the global one.

type MinistryRepository struct {
	db *sql.DB
}

func NewMinistryRepository(db *sql.DB) *MinistryRepository {
	return &MinistryRepository{db: db}
}

func (r *MinistryRepository) Create(m *models.Ministry) error {
	_, err := r.db.Exec(`
		INSERT INTO ministries (id, name, description, leader_id, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, m.ID, m.Name, m.Description, m.LeaderID, m.Status, m.CreatedAt, m.UpdatedAt)
	return err
}

func (r *MinistryRepository) GetByID(id string) (*models.Ministry, error) {
	m := &models.Ministry{}
	err := r.db.QueryRow(`
		SELECT id, name, description, leader_id, status, created_at, updated_at
		FROM ministries WHERE id = ?
	`, id).Scan(&m.ID, &m.Name, &m.Description, &m.LeaderID, &m.Status, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return m, nil
}

func (r *MinistryRepository) List() ([]*models.Ministry, error) {
	rows, err := r.db.Query(`
		SELECT id, name, description, leader_id, status, created_at, updated_at
		FROM ministries WHERE status != 'archived' ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ministries []*models.Ministry
	for rows.Next() {
		m := &models.Ministry{}
		if err := rows.Scan(&m.ID, &m.Name, &m.Description, &m.LeaderID, &m.Status, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, err
		}
		ministries = append(ministries, m)
	}
	return ministries, rows.Err()
}

func (r *MinistryRepository) UpdateStatus(id, status string) error {
	_, err := r.db.Exec(`UPDATE ministries SET status = ?, updated_at = ? WHERE id = ?`, status, time.Now().Unix(), id)
	return err
}

type EventRepository struct {
	db *sql.DB
}

func NewEventRepository(db *sql.DB) *EventRepository {
	return &EventRepository{db: db}
}

func (r *EventRepository) Create(e *models.Event) error {
	_, err := r.db.Exec(`
		INSERT INTO events (id, ministry_id, title, description, location, starts_at, ends_at, volunteers_needed, status, created_by, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.MinistryID, e.Title, e.Description, e.Location, e.StartsAt, e.EndsAt, e.VolunteersNeeded, e.Status, e.CreatedBy, e.CreatedAt, e.UpdatedAt)
	return err
}

func (r *EventRepository) GetByID(id string) (*models.Event, error) {
	e := &models.Event{}
	err := r.db.QueryRow(`
		SELECT id, ministry_id, title, description, location, starts_at, ends_at, volunteers_needed, status, created_by, created_at, updated_at
		FROM events WHERE id = ?
	`, id).Scan(&e.ID, &e.MinistryID, &e.Title, &e.Description, &e.Location, &e.StartsAt, &e.EndsAt, &e.VolunteersNeeded, &e.Status, &e.CreatedBy, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return e, nil
}

func (r *EventRepository) ListUpcoming(after int64) ([]*models.Event, error) {
	rows, err := r.db.Query(`
		SELECT id, ministry_id, title, description, location, starts_at, ends_at, volunteers_needed, status, created_by, created_at, updated_at
		FROM events WHERE starts_at >= ? AND status = 'scheduled' ORDER BY starts_at
	`, after)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*models.Event
	for rows.Next() {
		e := &models.Event{}
		if err := rows.Scan(&e.ID, &e.MinistryID, &e.Title, &e.Description, &e.Location, &e.StartsAt, &e.EndsAt, &e.VolunteersNeeded, &e.Status, &e.CreatedBy, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func (r *EventRepository) Update(e *models.Event) error {
	e.UpdatedAt = time.Now().Unix()
	_, err := r.db.Exec(`
		UPDATE events
		SET title = ?, description = ?, location = ?, starts_at = ?, ends_at = ?, volunteers_needed = ?, status = ?, updated_at = ?
		WHERE id = ?
	`, e.Title, e.Description, e.Location, e.StartsAt, e.EndsAt, e.VolunteersNeeded, e.Status, e.UpdatedAt, e.ID)
	return err
}

func (r *EventRepository) UpdateStatus(id, status string) error {
	_, err := r.db.Exec(`UPDATE events SET status = ?, updated_at = ? WHERE id = ?`, status, time.Now().Unix(), id)
	return err
}

type AssignmentRepository struct {
	db *sql.DB
}

func NewAssignmentRepository(db *sql.DB) *AssignmentRepository {
	return &AssignmentRepository{db: db}
}

func (r *AssignmentRepository) Create(a *models.Assignment) error {
	_, err := r.db.Exec(`
		INSERT INTO assignments (id, event_id, volunteer_id, position, status, notes, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, a.ID, a.EventID, a.VolunteerID, a.Position, a.Status, a.Notes, a.CreatedAt, a.UpdatedAt)
	return err
}

func (r *AssignmentRepository) GetByID(id string) (*models.Assignment, error) {
	a := &models.Assignment{}
	err := r.db.QueryRow(`
		SELECT id, event_id, volunteer_id, position, status, notes, created_at, updated_at
		FROM assignments WHERE id = ?
	`, id).Scan(&a.ID, &a.EventID, &a.VolunteerID, &a.Position, &a.Status, &a.Notes, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return a, nil
}

func (r *AssignmentRepository) ListByEvent(eventID string) ([]*models.Assignment, error) {
	rows, err := r.db.Query(`
		SELECT id, event_id, volunteer_id, position, status, notes, created_at, updated_at
		FROM assignments WHERE event_id = ? ORDER BY created_at
	`, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var assignments []*models.Assignment
	for rows.Next() {
		a := &models.Assignment{}
		if err := rows.Scan(&a.ID, &a.EventID, &a.VolunteerID, &a.Position, &a.Status, &a.Notes, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, err
		}
		assignments = append(assignments, a)
	}
	return assignments, rows.Err()
}

func (r *AssignmentRepository) ListByVolunteer(volunteerID string) ([]*models.Assignment, error) {
	rows, err := r.db.Query(`
		SELECT id, event_id, volunteer_id, position, status, notes, created_at, updated_at
		FROM assignments WHERE volunteer_id = ? ORDER BY created_at DESC
	`, volunteerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var assignments []*models.Assignment
	for rows.Next() {
		a := &models.Assignment{}
		if err := rows.Scan(&a.ID, &a.EventID, &a.VolunteerID, &a.Position, &a.Status, &a.Notes, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, err
		}
		assignments = append(assignments, a)
	}
	return assignments, rows.Err()
}

func (r *AssignmentRepository) UpdateStatus(id, status string) error {
	_, err := r.db.Exec(`UPDATE assignments SET status = ?, updated_at = ? WHERE id = ?`, status, time.Now().Unix(), id)
	return err
}

type NotificationRepository struct {
	db *sql.DB
}

func NewNotificationRepository(db *sql.DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

func (r *NotificationRepository) Create(n *models.Notification) error {
	_, err := r.db.Exec(`
		INSERT INTO notifications (id, user_id, type, channel, subject, body, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, n.ID, n.UserID, n.Type, n.Channel, n.Subject, n.Body, n.Status, n.CreatedAt)
	return err
}

func (r *NotificationRepository) MarkSent(id string, sentAt int64) error {
	_, err := r.db.Exec(`UPDATE notifications SET status = 'sent', sent_at = ? WHERE id = ?`, sentAt, id)
	return err
}

func (r *NotificationRepository) MarkFailed(id string) error {
	_, err := r.db.Exec(`UPDATE notifications SET status = 'failed' WHERE id = ?`, id)
	return err
}

// DeleteOlderThan sweeps sent notifications past the retention cutoff.
// Called by the cleanup_old_data job executor.
func (r *NotificationRepository) DeleteOlderThan(cutoff int64) (int64, error) {
	res, err := r.db.Exec(`DELETE FROM notifications WHERE status = 'sent' AND created_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
