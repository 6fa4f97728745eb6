package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/Palabra/internal/flow"
	"github.com/BTreeMap/Palabra/internal/models"
)

// DefaultReminderTimeout bounds one full reminder run.
const DefaultReminderTimeout = 5 * time.Minute

// UserLister lists learners who finished onboarding.
type UserLister interface {
	ListCompletedUsers(ctx context.Context) ([]models.UserProfile, error)
}

// WordPicker picks a random learned word; "" means the learner has none.
type WordPicker interface {
	PickLearned(ctx context.Context, phone string) (string, error)
}

// Sender delivers a message to a phone number.
type Sender interface {
	SendMessage(ctx context.Context, to string, body string) error
}

// Reminder nudges each onboarded learner to review one of their words.
type Reminder struct {
	users   UserLister
	picker  WordPicker
	sender  Sender
	timeout time.Duration
}

// NewReminder creates a Reminder.
func NewReminder(users UserLister, picker WordPicker, sender Sender) *Reminder {
	return &Reminder{users: users, picker: picker, sender: sender, timeout: DefaultReminderTimeout}
}

// Run sends one reminder to every completed learner with at least one learned
// word and no quiz in progress. Per-learner failures are logged and skipped.
// It returns how many reminders were sent.
func (r *Reminder) Run(ctx context.Context) (int, error) {
	users, err := r.users.ListCompletedUsers(ctx)
	if err != nil {
		return 0, fmt.Errorf("list completed users: %w", err)
	}
	sent := 0
	for _, u := range users {
		if ctx.Err() != nil {
			return sent, ctx.Err()
		}
		if u.QuizActive {
			continue
		}
		word, err := r.picker.PickLearned(ctx, u.Phone)
		if err != nil {
			slog.Error("Reminder.Run: failed to pick word", "phone", u.Phone, "error", err)
			continue
		}
		if word == "" {
			continue
		}
		if err := r.sender.SendMessage(ctx, u.Phone, fmt.Sprintf(flow.MsgReviewReminder, word)); err != nil {
			slog.Error("Reminder.Run: failed to send", "phone", u.Phone, "error", err)
			continue
		}
		sent++
	}
	return sent, nil
}

// Schedule registers the reminder on s. An empty expr disables it.
func (r *Reminder) Schedule(s *Scheduler, expr string) error {
	if expr == "" {
		slog.Info("Reminder disabled (no cron expression)")
		return nil
	}
	err := s.AddJob(expr, func() {
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()
		sent, err := r.Run(ctx)
		if err != nil {
			slog.Error("Reminder job failed", "sent", sent, "error", err)
			return
		}
		slog.Info("Reminder job finished", "sent", sent)
	})
	if err != nil {
		return fmt.Errorf("schedule reminder %q: %w", expr, err)
	}
	slog.Info("Reminder scheduled", "cron", expr)
	return nil
}
