package scheduling

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"flock/internal/engine/jobs"
	"flock/internal/platform/models"
	"flock/internal/platform/repositories"
)

var (
	ErrMinistryNotFound   = errors.New("ministry not found")
	ErrEventNotFound      = errors.New("event not found")
	ErrAssignmentNotFound = errors.New("assignment not found")
	ErrEventNotScheduled  = errors.New("event is not open for assignments")
	ErrEventFull          = errors.New("event already has enough volunteers")
	ErrAlreadyAssigned    = errors.New("volunteer is already assigned to this event")
)

// JobQueue is the slice of the job manager the scheduling service
// enqueues work on.
type JobQueue interface {
	Add(queueName string, jobType jobs.Type, data map[string]interface{}, opts jobs.AddOptions) (*jobs.Job, error)
}

// EventPublisher fans scheduling changes out to webhook subscribers.
type EventPublisher interface {
	TriggerEvent(eventType string, data map[string]interface{}, source string) error
}

// Service owns the volunteer scheduling workflow: ministries, events
// and assignments. Every mutation lands in the tenant database first;
// emails and webhook fan-out ride on the side and never fail the
// operation itself.
//
// Repositories bind to a tenant database per call because each
// organization has its own; users live in the global database.
type Service struct {
	users  *repositories.UserRepository
	jobs   JobQueue
	events EventPublisher
}

func NewService(users *repositories.UserRepository, jobQueue JobQueue, events EventPublisher) *Service {
	return &Service{users: users, jobs: jobQueue, events: events}
}

func (s *Service) CreateMinistry(db *sql.DB, name, description, leaderID string) (*models.Ministry, error) {
	if name == "" {
		return nil, errors.New("ministry name is required")
	}

	now := time.Now().Unix()
	m := &models.Ministry{
		ID:          uuid.New().String(),
		Name:        name,
		Description: description,
		LeaderID:    leaderID,
		Status:      "active",
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := repositories.NewMinistryRepository(db).Create(m); err != nil {
		return nil, err
	}

	s.publish("ministry.created", map[string]interface{}{
		"ministry_id": m.ID,
		"name":        m.Name,
		"leader_id":   m.LeaderID,
	})
	return m, nil
}

func (s *Service) GetMinistry(db *sql.DB, id string) (*models.Ministry, error) {
	return repositories.NewMinistryRepository(db).GetByID(id)
}

func (s *Service) ListMinistries(db *sql.DB) ([]*models.Ministry, error) {
	return repositories.NewMinistryRepository(db).List()
}

func (s *Service) CreateEvent(db *sql.DB, req *models.Event) (*models.Event, error) {
	if req.Title == "" {
		return nil, errors.New("event title is required")
	}
	if req.StartsAt <= 0 || req.EndsAt <= req.StartsAt {
		return nil, errors.New("event needs a valid start and end time")
	}

	ministry, err := repositories.NewMinistryRepository(db).GetByID(req.MinistryID)
	if err != nil {
		return nil, err
	}
	if ministry == nil {
		return nil, ErrMinistryNotFound
	}

	now := time.Now().Unix()
	e := &models.Event{
		ID:               uuid.New().String(),
		MinistryID:       req.MinistryID,
		Title:            req.Title,
		Description:      req.Description,
		Location:         req.Location,
		StartsAt:         req.StartsAt,
		EndsAt:           req.EndsAt,
		VolunteersNeeded: req.VolunteersNeeded,
		Status:           "scheduled",
		CreatedBy:        req.CreatedBy,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := repositories.NewEventRepository(db).Create(e); err != nil {
		return nil, err
	}

	s.publish("event.created", map[string]interface{}{
		"event_id":    e.ID,
		"ministry_id": e.MinistryID,
		"title":       e.Title,
		"starts_at":   e.StartsAt,
	})
	return e, nil
}

func (s *Service) GetEvent(db *sql.DB, id string) (*models.Event, error) {
	return repositories.NewEventRepository(db).GetByID(id)
}

func (s *Service) ListUpcomingEvents(db *sql.DB) ([]*models.Event, error) {
	return repositories.NewEventRepository(db).ListUpcoming(time.Now().Unix())
}

// UpdateEvent applies partial updates and notifies every volunteer
// already assigned so nobody shows up at the old time.
func (s *Service) UpdateEvent(db *sql.DB, id string, updates *models.Event) (*models.Event, error) {
	repo := repositories.NewEventRepository(db)

	existing, err := repo.GetByID(id)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, ErrEventNotFound
	}

	if updates.Title != "" {
		existing.Title = updates.Title
	}
	if updates.Description != "" {
		existing.Description = updates.Description
	}
	if updates.Location != "" {
		existing.Location = updates.Location
	}
	if updates.StartsAt > 0 {
		existing.StartsAt = updates.StartsAt
	}
	if updates.EndsAt > 0 {
		existing.EndsAt = updates.EndsAt
	}
	if updates.VolunteersNeeded > 0 {
		existing.VolunteersNeeded = updates.VolunteersNeeded
	}
	if existing.EndsAt <= existing.StartsAt {
		return nil, errors.New("event needs a valid start and end time")
	}

	if err := repo.Update(existing); err != nil {
		return nil, err
	}

	s.publish("event.updated", map[string]interface{}{
		"event_id":  existing.ID,
		"title":     existing.Title,
		"starts_at": existing.StartsAt,
	})
	s.notifyAssignedVolunteers(db, existing,
		fmt.Sprintf("Update: %s", existing.Title),
		fmt.Sprintf("The event %q you are serving at has been updated. It now starts at %s.",
			existing.Title, time.Unix(existing.StartsAt, 0).Format("Mon, Jan 2 3:04 PM")))

	return existing, nil
}

func (s *Service) CancelEvent(db *sql.DB, id string) error {
	repo := repositories.NewEventRepository(db)

	existing, err := repo.GetByID(id)
	if err != nil {
		return err
	}
	if existing == nil {
		return ErrEventNotFound
	}
	if existing.Status == "cancelled" {
		return nil
	}

	if err := repo.UpdateStatus(id, "cancelled"); err != nil {
		return err
	}

	s.publish("event.cancelled", map[string]interface{}{
		"event_id": existing.ID,
		"title":    existing.Title,
	})
	s.notifyAssignedVolunteers(db, existing,
		fmt.Sprintf("Cancelled: %s", existing.Title),
		fmt.Sprintf("The event %q has been cancelled. You are no longer needed for this one.", existing.Title))

	return nil
}

// AssignVolunteer places a volunteer on an event roster. The slot
// count only considers pending and confirmed assignments, so a
// declined volunteer frees their slot.
func (s *Service) AssignVolunteer(db *sql.DB, eventID, volunteerID, position, notes string) (*models.Assignment, error) {
	eventRepo := repositories.NewEventRepository(db)
	assignRepo := repositories.NewAssignmentRepository(db)

	event, err := eventRepo.GetByID(eventID)
	if err != nil {
		return nil, err
	}
	if event == nil {
		return nil, ErrEventNotFound
	}
	if event.Status != "scheduled" {
		return nil, ErrEventNotScheduled
	}

	existing, err := assignRepo.ListByEvent(eventID)
	if err != nil {
		return nil, err
	}
	active := 0
	for _, a := range existing {
		if a.Status == "pending" || a.Status == "confirmed" {
			if a.VolunteerID == volunteerID {
				return nil, ErrAlreadyAssigned
			}
			active++
		}
	}
	if event.VolunteersNeeded > 0 && active >= event.VolunteersNeeded {
		return nil, ErrEventFull
	}

	now := time.Now().Unix()
	a := &models.Assignment{
		ID:          uuid.New().String(),
		EventID:     eventID,
		VolunteerID: volunteerID,
		Position:    position,
		Status:      "pending",
		Notes:       notes,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := assignRepo.Create(a); err != nil {
		return nil, err
	}

	s.publish("assignment.created", map[string]interface{}{
		"assignment_id": a.ID,
		"event_id":      eventID,
		"volunteer_id":  volunteerID,
		"position":      position,
	})
	s.notifyVolunteer(db, volunteerID,
		fmt.Sprintf("You're needed: %s", event.Title),
		fmt.Sprintf("You've been asked to serve as %s at %q on %s. Please confirm or decline.",
			position, event.Title, time.Unix(event.StartsAt, 0).Format("Mon, Jan 2 3:04 PM")))

	return a, nil
}

// RespondToAssignment records the volunteer's confirm/decline answer.
func (s *Service) RespondToAssignment(db *sql.DB, id, status string) (*models.Assignment, error) {
	if status != "confirmed" && status != "declined" {
		return nil, fmt.Errorf("invalid response %q", status)
	}

	repo := repositories.NewAssignmentRepository(db)
	a, err := repo.GetByID(id)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, ErrAssignmentNotFound
	}
	if a.Status != "pending" {
		return nil, fmt.Errorf("assignment already %s", a.Status)
	}

	if err := repo.UpdateStatus(id, status); err != nil {
		return nil, err
	}
	a.Status = status

	s.publish("assignment.updated", map[string]interface{}{
		"assignment_id": a.ID,
		"event_id":      a.EventID,
		"volunteer_id":  a.VolunteerID,
		"status":        status,
	})
	if status == "confirmed" {
		s.publish("volunteer.joined", map[string]interface{}{
			"event_id":     a.EventID,
			"volunteer_id": a.VolunteerID,
			"position":     a.Position,
		})
	} else {
		s.publish("volunteer.left", map[string]interface{}{
			"event_id":     a.EventID,
			"volunteer_id": a.VolunteerID,
		})
	}
	return a, nil
}

func (s *Service) CancelAssignment(db *sql.DB, id string) error {
	repo := repositories.NewAssignmentRepository(db)

	a, err := repo.GetByID(id)
	if err != nil {
		return err
	}
	if a == nil {
		return ErrAssignmentNotFound
	}
	if a.Status == "cancelled" {
		return nil
	}

	if err := repo.UpdateStatus(id, "cancelled"); err != nil {
		return err
	}

	s.publish("assignment.cancelled", map[string]interface{}{
		"assignment_id": a.ID,
		"event_id":      a.EventID,
		"volunteer_id":  a.VolunteerID,
	})
	if a.Status == "confirmed" {
		s.publish("volunteer.left", map[string]interface{}{
			"event_id":     a.EventID,
			"volunteer_id": a.VolunteerID,
		})
	}

	if event, err := repositories.NewEventRepository(db).GetByID(a.EventID); err == nil && event != nil {
		s.notifyVolunteer(db, a.VolunteerID,
			fmt.Sprintf("Assignment cancelled: %s", event.Title),
			fmt.Sprintf("Your %s assignment for %q has been cancelled.", a.Position, event.Title))
	}
	return nil
}

func (s *Service) ListAssignments(db *sql.DB, eventID string) ([]*models.Assignment, error) {
	return repositories.NewAssignmentRepository(db).ListByEvent(eventID)
}

func (s *Service) ListVolunteerAssignments(db *sql.DB, volunteerID string) ([]*models.Assignment, error) {
	return repositories.NewAssignmentRepository(db).ListByVolunteer(volunteerID)
}

// publish fires a webhook event. Fan-out problems are logged, never
// surfaced: the database write already succeeded.
func (s *Service) publish(eventType string, data map[string]interface{}) {
	if s.events == nil {
		return
	}
	if err := s.events.TriggerEvent(eventType, data, "scheduling"); err != nil {
		log.Warn().Err(err).Str("event_type", eventType).Msg("webhook publish failed")
	}
}

// notifyVolunteer records a notification row and queues the email.
func (s *Service) notifyVolunteer(db *sql.DB, volunteerID, subject, body string) {
	if s.jobs == nil || s.users == nil {
		return
	}

	user, err := s.users.GetByID(volunteerID)
	if err != nil || user == nil {
		log.Warn().Err(err).Str("volunteer_id", volunteerID).Msg("cannot notify unknown volunteer")
		return
	}

	n := &models.Notification{
		ID:        uuid.New().String(),
		UserID:    volunteerID,
		Type:      "assignment_notification",
		Channel:   "email",
		Subject:   subject,
		Body:      body,
		Status:    "queued",
		CreatedAt: time.Now().Unix(),
	}
	if err := repositories.NewNotificationRepository(db).Create(n); err != nil {
		log.Warn().Err(err).Str("volunteer_id", volunteerID).Msg("notification insert failed")
	}

	_, err = s.jobs.Add("email", jobs.TypeSendNotificationEmail, map[string]interface{}{
		"to":              user.Email,
		"subject":         subject,
		"body":            body,
		"notification_id": n.ID,
	}, jobs.AddOptions{Priority: 5})
	if err != nil {
		log.Warn().Err(err).Str("volunteer_id", volunteerID).Msg("notification email enqueue failed")
	}
}

func (s *Service) notifyAssignedVolunteers(db *sql.DB, event *models.Event, subject, body string) {
	assignments, err := repositories.NewAssignmentRepository(db).ListByEvent(event.ID)
	if err != nil {
		log.Warn().Err(err).Str("event_id", event.ID).Msg("cannot list assignments for notification")
		return
	}
	for _, a := range assignments {
		if a.Status == "pending" || a.Status == "confirmed" {
			s.notifyVolunteer(db, a.VolunteerID, subject, body)
		}
	}
}
