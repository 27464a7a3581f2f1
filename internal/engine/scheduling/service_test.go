package scheduling

import (
	"database/sql"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"flock/internal/engine/jobs"
	"flock/internal/platform/models"
	"flock/internal/platform/repositories"
)

type fakeJobQueue struct {
	added []struct {
		Queue string
		Type  jobs.Type
		Data  map[string]interface{}
	}
}

func (f *fakeJobQueue) Add(queueName string, jobType jobs.Type, data map[string]interface{}, _ jobs.AddOptions) (*jobs.Job, error) {
	f.added = append(f.added, struct {
		Queue string
		Type  jobs.Type
		Data  map[string]interface{}
	}{queueName, jobType, data})
	return &jobs.Job{ID: "job_fake"}, nil
}

type fakePublisher struct {
	events []struct {
		Type string
		Data map[string]interface{}
	}
}

func (f *fakePublisher) TriggerEvent(eventType string, data map[string]interface{}, _ string) error {
	f.events = append(f.events, struct {
		Type string
		Data map[string]interface{}
	}{eventType, data})
	return nil
}

func (f *fakePublisher) has(eventType string) bool {
	for _, e := range f.events {
		if e.Type == eventType {
			return true
		}
	}
	return false
}

func setupTestDBs(t *testing.T) (tenant, global *sql.DB) {
	tenant, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open tenant db: %v", err)
	}

	tenantSchema := `
	CREATE TABLE ministries (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT,
		leader_id TEXT NOT NULL,
		status TEXT DEFAULT 'active',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE TABLE events (
		id TEXT PRIMARY KEY,
		ministry_id TEXT NOT NULL,
		title TEXT NOT NULL,
		description TEXT,
		location TEXT,
		starts_at INTEGER NOT NULL,
		ends_at INTEGER NOT NULL,
		volunteers_needed INTEGER DEFAULT 0,
		status TEXT DEFAULT 'scheduled',
		created_by TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE TABLE assignments (
		id TEXT PRIMARY KEY,
		event_id TEXT NOT NULL,
		volunteer_id TEXT NOT NULL,
		position TEXT NOT NULL,
		status TEXT DEFAULT 'pending',
		notes TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE TABLE notifications (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		type TEXT NOT NULL,
		channel TEXT NOT NULL,
		subject TEXT,
		body TEXT,
		status TEXT DEFAULT 'queued',
		sent_at INTEGER,
		created_at INTEGER NOT NULL
	);
	`
	if _, err := tenant.Exec(tenantSchema); err != nil {
		t.Fatalf("Failed to create tenant schema: %v", err)
	}

	global, err = sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open global db: %v", err)
	}
	globalSchema := `
	CREATE TABLE users (
		id TEXT PRIMARY KEY,
		organization_id TEXT NOT NULL,
		email TEXT NOT NULL,
		password_hash TEXT NOT NULL,
		full_name TEXT NOT NULL,
		role TEXT DEFAULT 'volunteer',
		phone TEXT,
		last_login_at INTEGER,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		deleted_at INTEGER
	);
	`
	if _, err := global.Exec(globalSchema); err != nil {
		t.Fatalf("Failed to create global schema: %v", err)
	}

	t.Cleanup(func() {
		tenant.Close()
		global.Close()
	})
	return tenant, global
}

func seedUser(t *testing.T, global *sql.DB, id, email string) {
	now := time.Now().Unix()
	user := &models.User{
		ID:             id,
		OrganizationID: "org_1",
		Email:          email,
		PasswordHash:   "x",
		FullName:       "Test Volunteer",
		Role:           "volunteer",
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := repositories.NewUserRepository(global).Create(user); err != nil {
		t.Fatalf("Failed to seed user: %v", err)
	}
}

func newTestService(global *sql.DB) (*Service, *fakeJobQueue, *fakePublisher) {
	jq := &fakeJobQueue{}
	pub := &fakePublisher{}
	svc := NewService(repositories.NewUserRepository(global), jq, pub)
	return svc, jq, pub
}

func seedEvent(t *testing.T, svc *Service, db *sql.DB, needed int) *models.Event {
	m, err := svc.CreateMinistry(db, "Worship", "Sunday worship team", "leader_1")
	if err != nil {
		t.Fatalf("CreateMinistry failed: %v", err)
	}

	starts := time.Now().Add(24 * time.Hour).Unix()
	e, err := svc.CreateEvent(db, &models.Event{
		MinistryID:       m.ID,
		Title:            "Sunday Service",
		Location:         "Main Hall",
		StartsAt:         starts,
		EndsAt:           starts + 7200,
		VolunteersNeeded: needed,
		CreatedBy:        "leader_1",
	})
	if err != nil {
		t.Fatalf("CreateEvent failed: %v", err)
	}
	return e
}

func TestCreateEvent(t *testing.T) {
	tenant, global := setupTestDBs(t)
	svc, _, pub := newTestService(global)

	e := seedEvent(t, svc, tenant, 3)

	if e.Status != "scheduled" {
		t.Errorf("Status = %s, want scheduled", e.Status)
	}
	if !pub.has("ministry.created") || !pub.has("event.created") {
		t.Error("expected ministry.created and event.created to be published")
	}

	fetched, err := svc.GetEvent(tenant, e.ID)
	if err != nil || fetched == nil {
		t.Fatalf("GetEvent failed: %v", err)
	}
	if fetched.Title != "Sunday Service" {
		t.Errorf("Title = %s", fetched.Title)
	}
}

func TestCreateEvent_UnknownMinistry(t *testing.T) {
	tenant, global := setupTestDBs(t)
	svc, _, _ := newTestService(global)

	starts := time.Now().Add(time.Hour).Unix()
	_, err := svc.CreateEvent(tenant, &models.Event{
		MinistryID: "nope",
		Title:      "Orphan Event",
		StartsAt:   starts,
		EndsAt:     starts + 3600,
		CreatedBy:  "leader_1",
	})
	if err != ErrMinistryNotFound {
		t.Errorf("err = %v, want ErrMinistryNotFound", err)
	}
}

func TestAssignVolunteer(t *testing.T) {
	tenant, global := setupTestDBs(t)
	svc, jq, pub := newTestService(global)
	seedUser(t, global, "vol_1", "vol1@example.com")

	e := seedEvent(t, svc, tenant, 3)

	a, err := svc.AssignVolunteer(tenant, e.ID, "vol_1", "greeter", "")
	if err != nil {
		t.Fatalf("AssignVolunteer failed: %v", err)
	}
	if a.Status != "pending" {
		t.Errorf("Status = %s, want pending", a.Status)
	}
	if !pub.has("assignment.created") {
		t.Error("expected assignment.created to be published")
	}

	// The volunteer gets an email job on the email queue.
	if len(jq.added) != 1 {
		t.Fatalf("jobs enqueued = %d, want 1", len(jq.added))
	}
	job := jq.added[0]
	if job.Queue != "email" || job.Type != jobs.TypeSendNotificationEmail {
		t.Errorf("enqueued %s on %s", job.Type, job.Queue)
	}
	if job.Data["to"] != "vol1@example.com" {
		t.Errorf("email to = %v", job.Data["to"])
	}

	// A notification row backs the email.
	var n int
	tenant.QueryRow(`SELECT COUNT(*) FROM notifications WHERE user_id = 'vol_1'`).Scan(&n)
	if n != 1 {
		t.Errorf("notifications = %d, want 1", n)
	}
}

func TestAssignVolunteer_Duplicate(t *testing.T) {
	tenant, global := setupTestDBs(t)
	svc, _, _ := newTestService(global)
	seedUser(t, global, "vol_1", "vol1@example.com")

	e := seedEvent(t, svc, tenant, 3)

	if _, err := svc.AssignVolunteer(tenant, e.ID, "vol_1", "greeter", ""); err != nil {
		t.Fatalf("first assignment failed: %v", err)
	}
	if _, err := svc.AssignVolunteer(tenant, e.ID, "vol_1", "usher", ""); err != ErrAlreadyAssigned {
		t.Errorf("err = %v, want ErrAlreadyAssigned", err)
	}
}

func TestAssignVolunteer_EventFull(t *testing.T) {
	tenant, global := setupTestDBs(t)
	svc, _, _ := newTestService(global)
	seedUser(t, global, "vol_1", "vol1@example.com")
	seedUser(t, global, "vol_2", "vol2@example.com")

	e := seedEvent(t, svc, tenant, 1)

	if _, err := svc.AssignVolunteer(tenant, e.ID, "vol_1", "greeter", ""); err != nil {
		t.Fatalf("first assignment failed: %v", err)
	}
	if _, err := svc.AssignVolunteer(tenant, e.ID, "vol_2", "greeter", ""); err != ErrEventFull {
		t.Errorf("err = %v, want ErrEventFull", err)
	}
}

func TestAssignVolunteer_DeclinedFreesSlot(t *testing.T) {
	tenant, global := setupTestDBs(t)
	svc, _, pub := newTestService(global)
	seedUser(t, global, "vol_1", "vol1@example.com")
	seedUser(t, global, "vol_2", "vol2@example.com")

	e := seedEvent(t, svc, tenant, 1)

	a, _ := svc.AssignVolunteer(tenant, e.ID, "vol_1", "greeter", "")
	if _, err := svc.RespondToAssignment(tenant, a.ID, "declined"); err != nil {
		t.Fatalf("RespondToAssignment failed: %v", err)
	}
	if !pub.has("volunteer.left") {
		t.Error("declining should publish volunteer.left")
	}

	if _, err := svc.AssignVolunteer(tenant, e.ID, "vol_2", "greeter", ""); err != nil {
		t.Errorf("slot should be free after decline, got %v", err)
	}
}

func TestRespondToAssignment_Confirm(t *testing.T) {
	tenant, global := setupTestDBs(t)
	svc, _, pub := newTestService(global)
	seedUser(t, global, "vol_1", "vol1@example.com")

	e := seedEvent(t, svc, tenant, 3)
	a, _ := svc.AssignVolunteer(tenant, e.ID, "vol_1", "greeter", "")

	updated, err := svc.RespondToAssignment(tenant, a.ID, "confirmed")
	if err != nil {
		t.Fatalf("RespondToAssignment failed: %v", err)
	}
	if updated.Status != "confirmed" {
		t.Errorf("Status = %s, want confirmed", updated.Status)
	}
	if !pub.has("assignment.updated") || !pub.has("volunteer.joined") {
		t.Error("confirming should publish assignment.updated and volunteer.joined")
	}

	// A second response is rejected.
	if _, err := svc.RespondToAssignment(tenant, a.ID, "declined"); err == nil {
		t.Error("responding twice should fail")
	}
}

func TestCancelEvent_NotifiesRoster(t *testing.T) {
	tenant, global := setupTestDBs(t)
	svc, jq, pub := newTestService(global)
	seedUser(t, global, "vol_1", "vol1@example.com")
	seedUser(t, global, "vol_2", "vol2@example.com")

	e := seedEvent(t, svc, tenant, 3)
	svc.AssignVolunteer(tenant, e.ID, "vol_1", "greeter", "")
	svc.AssignVolunteer(tenant, e.ID, "vol_2", "usher", "")

	before := len(jq.added)
	if err := svc.CancelEvent(tenant, e.ID); err != nil {
		t.Fatalf("CancelEvent failed: %v", err)
	}

	if !pub.has("event.cancelled") {
		t.Error("expected event.cancelled to be published")
	}
	if got := len(jq.added) - before; got != 2 {
		t.Errorf("cancellation emails = %d, want 2", got)
	}

	fetched, _ := svc.GetEvent(tenant, e.ID)
	if fetched.Status != "cancelled" {
		t.Errorf("Status = %s, want cancelled", fetched.Status)
	}

	// Cancelling twice is a no-op.
	if err := svc.CancelEvent(tenant, e.ID); err != nil {
		t.Errorf("second cancel should be a no-op, got %v", err)
	}

	// A cancelled event accepts no new volunteers.
	if _, err := svc.AssignVolunteer(tenant, e.ID, "vol_1", "greeter", ""); err != ErrEventNotScheduled {
		t.Errorf("err = %v, want ErrEventNotScheduled", err)
	}
}

func TestCancelAssignment(t *testing.T) {
	tenant, global := setupTestDBs(t)
	svc, _, pub := newTestService(global)
	seedUser(t, global, "vol_1", "vol1@example.com")

	e := seedEvent(t, svc, tenant, 3)
	a, _ := svc.AssignVolunteer(tenant, e.ID, "vol_1", "greeter", "")
	svc.RespondToAssignment(tenant, a.ID, "confirmed")

	if err := svc.CancelAssignment(tenant, a.ID); err != nil {
		t.Fatalf("CancelAssignment failed: %v", err)
	}
	if !pub.has("assignment.cancelled") {
		t.Error("expected assignment.cancelled to be published")
	}

	fetched, _ := repositories.NewAssignmentRepository(tenant).GetByID(a.ID)
	if fetched.Status != "cancelled" {
		t.Errorf("Status = %s, want cancelled", fetched.Status)
	}
}

func TestUpdateEvent(t *testing.T) {
	tenant, global := setupTestDBs(t)
	svc, _, pub := newTestService(global)

	e := seedEvent(t, svc, tenant, 3)

	newStart := time.Now().Add(48 * time.Hour).Unix()
	updated, err := svc.UpdateEvent(tenant, e.ID, &models.Event{
		Title:    "Sunday Service (moved)",
		StartsAt: newStart,
		EndsAt:   newStart + 7200,
	})
	if err != nil {
		t.Fatalf("UpdateEvent failed: %v", err)
	}
	if updated.Title != "Sunday Service (moved)" || updated.StartsAt != newStart {
		t.Errorf("update not applied: %+v", updated)
	}
	if updated.Location != "Main Hall" {
		t.Error("untouched fields should survive a partial update")
	}
	if !pub.has("event.updated") {
		t.Error("expected event.updated to be published")
	}
}
