package notify

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/victornm/quizmaster/internal/domain"
	"github.com/victornm/quizmaster/internal/telemetry"
)

const DefaultConcurrency = 8

type FailedEmail struct {
	Email string `json:"email"`
	Error string `json:"error"`
}

// Outcome counts the deliveries of one batch.
type Outcome struct {
	Sent         int           `json:"sent"`
	Failed       int           `json:"failed"`
	FailedEmails []FailedEmail `json:"failed_emails"`
}

type DispatcherConfig struct {
	Mailer Mailer
	// Concurrency caps the number of messages in flight, defaults to DefaultConcurrency.
	Concurrency int
}

// Dispatcher sends one message per recipient.
type Dispatcher struct {
	mailer      Mailer
	concurrency int
}

func NewDispatcher(c DispatcherConfig) *Dispatcher {
	d := &Dispatcher{mailer: c.Mailer, concurrency: c.Concurrency}
	if d.concurrency <= 0 {
		d.concurrency = DefaultConcurrency
	}
	return d
}

// Send delivers a single message.
func (d *Dispatcher) Send(ctx context.Context, kind string, to string, c Content) error {
	err := d.mailer.Send(ctx, Message{To: []string{to}, Subject: c.Subject, Body: c.Body})
	telemetry.CountEmail(kind, err == nil)
	return err
}

// SendEach sends c to every non-admin user. A failed delivery is recorded in the outcome and
// never stops the batch. progress, when set, is called after each successful delivery.
func (d *Dispatcher) SendEach(ctx context.Context, kind string, users []domain.User, c Content, progress func(sent, total int)) Outcome {
	var (
		mu  sync.Mutex
		out = Outcome{FailedEmails: []FailedEmail{}}
	)

	recipients := make([]domain.User, 0, len(users))
	for _, u := range users {
		if !u.IsAdmin {
			recipients = append(recipients, u)
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(d.concurrency)

	for _, u := range recipients {
		g.Go(func() error {
			err := d.Send(ctx, kind, u.Email, c)

			mu.Lock()
			defer mu.Unlock()

			if err != nil {
				slog.WarnContext(ctx, "notify: delivery failed", "kind", kind, "email", u.Email, "error", err)
				out.Failed++
				out.FailedEmails = append(out.FailedEmails, FailedEmail{Email: u.Email, Error: err.Error()})
				return nil
			}

			out.Sent++
			if progress != nil {
				progress(out.Sent, len(recipients))
			}
			return nil
		})
	}

	_ = g.Wait()
	return out
}
