package scheduler

import (
	"context"
	"log"
	"time"

	"github.com/example/kotoba/internal/database"
	"github.com/go-co-op/gocron"
)

// Default notification window (hours, UTC)
const (
	DefaultNotificationStartHour = 8
	DefaultNotificationEndHour   = 22
)

// Scheduler manages scheduled tasks for the application
type Scheduler struct {
	scheduler *gocron.Scheduler
	notifier  Notifier
	due       DueSource
	startHour int
	endHour   int
	now       func() time.Time
}

// Notifier interface for sending notifications
type Notifier interface {
	SendReminders(userID int64, count int) error
}

// DueSource reports users with cards waiting; *database.ReviewStateRepository satisfies it
type DueSource interface {
	UsersWithDue(ctx context.Context, now time.Time) ([]database.DueCount, error)
	CountDue(ctx context.Context, userID int64, now time.Time) (int, error)
}

// New creates a new scheduler instance. Reminders go out only between
// startHour and endHour inclusive.
func New(notifier Notifier, due DueSource, startHour, endHour int) *Scheduler {
	return &Scheduler{
		scheduler: gocron.NewScheduler(time.UTC),
		notifier:  notifier,
		due:       due,
		startHour: startHour,
		endHour:   endHour,
		now:       time.Now,
	}
}

// Start begins running all scheduled tasks
func (s *Scheduler) Start() error {
	// Hourly check for users with due cards
	_, err := s.scheduler.Every(1).Hour().Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		s.CheckAndSendReminders(ctx)
	})
	if err != nil {
		return err
	}

	// Start the scheduler in a non-blocking manner
	s.scheduler.StartAsync()
	return nil
}

// Stop terminates all scheduled tasks
func (s *Scheduler) Stop() {
	s.scheduler.Stop()
}

// CheckAndSendReminders notifies every user with due cards and returns how
// many reminders were sent
func (s *Scheduler) CheckAndSendReminders(ctx context.Context) int {
	now := s.now().UTC()
	currentHour := now.Hour()

	if currentHour < s.startHour || currentHour > s.endHour {
		log.Printf("Current hour %d is outside notification hours (%d-%d), skipping reminders",
			currentHour, s.startHour, s.endHour)
		return 0
	}

	users, err := s.due.UsersWithDue(ctx, now)
	if err != nil {
		log.Printf("Error getting users for notification: %v", err)
		return 0
	}

	sent := 0
	for _, u := range users {
		if u.Count == 0 {
			continue
		}
		if err := s.notifier.SendReminders(u.UserID, u.Count); err != nil {
			log.Printf("Error sending reminder to user %d: %v", u.UserID, err)
			continue
		}
		sent++
	}
	return sent
}

// RunManualCheck forces a check for a specific user
func (s *Scheduler) RunManualCheck(ctx context.Context, userID int64) error {
	count, err := s.due.CountDue(ctx, userID, s.now().UTC())
	if err != nil {
		return err
	}
	if count > 0 {
		return s.notifier.SendReminders(userID, count)
	}
	return nil
}
