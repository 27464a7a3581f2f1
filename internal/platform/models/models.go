package models

// Organization is a church tenant. Each one gets its own SQLite
// database file holding ministries, events, assignments, notifications
// and webhook endpoints.
type Organization struct {
	ID          string `json:"id"`
	Slug        string `json:"slug"`
	Name        string `json:"name"`
	DBFilePath  string `json:"db_file_path"`
	PlanTier    string `json:"plan_tier"`
	MemberQuota int    `json:"member_quota"`
	CreatedAt   int64  `json:"created_at"`
	UpdatedAt   int64  `json:"updated_at"`
	DeletedAt   *int64 `json:"deleted_at,omitempty"`
}

type User struct {
	ID             string `json:"id"`
	OrganizationID string `json:"organization_id"`
	Email          string `json:"email"`
	PasswordHash   string `json:"-"`
	FullName       string `json:"full_name"`
	Role           string `json:"role"` // owner, admin, leader, volunteer
	Phone          string `json:"phone,omitempty"`
	LastLoginAt    *int64 `json:"last_login_at,omitempty"`
	CreatedAt      int64  `json:"created_at"`
	UpdatedAt      int64  `json:"updated_at"`
	DeletedAt      *int64 `json:"deleted_at,omitempty"`
}

type Ministry struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	LeaderID    string `json:"leader_id"`
	Status      string `json:"status"` // active, archived
	CreatedAt   int64  `json:"created_at"`
	UpdatedAt   int64  `json:"updated_at"`
}

type Event struct {
	ID               string `json:"id"`
	MinistryID       string `json:"ministry_id"`
	Title            string `json:"title"`
	Description      string `json:"description,omitempty"`
	Location         string `json:"location,omitempty"`
	StartsAt         int64  `json:"starts_at"`
	EndsAt           int64  `json:"ends_at"`
	VolunteersNeeded int    `json:"volunteers_needed"`
	Status           string `json:"status"` // scheduled, cancelled, completed
	CreatedBy        string `json:"created_by"`
	CreatedAt        int64  `json:"created_at"`
	UpdatedAt        int64  `json:"updated_at"`
}

type Assignment struct {
	ID          string `json:"id"`
	EventID     string `json:"event_id"`
	VolunteerID string `json:"volunteer_id"`
	Position    string `json:"position"` // greeter, usher, sound, childcare, ...
	Status      string `json:"status"`   // pending, confirmed, declined, cancelled
	Notes       string `json:"notes,omitempty"`
	CreatedAt   int64  `json:"created_at"`
	UpdatedAt   int64  `json:"updated_at"`
}

type Notification struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Type      string `json:"type"`    // assignment_confirmation, event_reminder, ...
	Channel   string `json:"channel"` // email, sms, push
	Subject   string `json:"subject"`
	Body      string `json:"body"`
	Status    string `json:"status"` // queued, sent, failed
	SentAt    *int64 `json:"sent_at,omitempty"`
	CreatedAt int64  `json:"created_at"`
}
