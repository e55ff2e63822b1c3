// Package notify delivers the side effects of committed transitions:
// in-app notification rows and chat webhook posts. Everything here is
// best effort; failures are logged and swallowed.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"trackline/internal/domain"
	"trackline/internal/engine"
	"trackline/internal/repo"
)

type Config struct {
	WebhookURL   string
	Timeout      time.Duration
	Coordinators []string
}

// Dispatcher implements engine.Notifier.
type Dispatcher struct {
	Repo   repo.Repo
	Chat   ChatClient
	Coords []string
	Logger *log.Logger
	Now    func() time.Time
}

func NewDispatcher(cfg Config, r repo.Repo, logger *log.Logger) *Dispatcher {
	if logger == nil {
		logger = log.Default()
	}
	return &Dispatcher{
		Repo:   r,
		Chat:   NewChatClient(cfg.WebhookURL, cfg.Timeout),
		Coords: cfg.Coordinators,
		Logger: logger,
		Now:    time.Now,
	}
}

func (d *Dispatcher) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

// Dispatch fans a committed event out to its audiences. The transition
// that produced the event is already durable; nothing here may fail it.
func (d *Dispatcher) Dispatch(ctx context.Context, ev engine.Event) {
	link := ev.Link
	if link == "" && ev.EntityKind != "" {
		link = fmt.Sprintf("/%ss/%d", ev.EntityKind, ev.EntityID)
	}

	if ev.ToMentor && ev.MentorID != 0 {
		d.notifyMentor(ctx, ev, link)
	}
	if ev.ToCoords {
		for _, userID := range d.Coords {
			d.insert(ctx, userID, ev, link)
		}
	}

	var err error
	if ev.Urgency == engine.UrgencyHigh || ev.Urgency == engine.UrgencyCritical {
		err = d.Chat.PostAlert(ctx, ev.Urgency, ev.Title, ev.Message)
	} else {
		err = d.Chat.PostBlocks(ctx, ev.Title, ev.Fields)
	}
	if err != nil {
		d.Logger.Printf("notify: chat post failed for %s: %v", ev.Kind, err)
	}
}

// notifyMentor resolves the mentor's stable user id before writing the
// in-app row. Directory rows sometimes miss the id and only carry it on
// the email-keyed record.
func (d *Dispatcher) notifyMentor(ctx context.Context, ev engine.Event, link string) {
	mentor, err := d.Repo.GetMentor(ctx, ev.MentorID)
	if err != nil {
		d.Logger.Printf("notify: mentor %d lookup failed: %v", ev.MentorID, err)
		return
	}
	if mentor.UserID == "" && mentor.Email != "" {
		if byEmail, err := d.Repo.GetMentorByEmail(ctx, mentor.Email); err == nil {
			mentor.UserID = byEmail.UserID
		}
	}
	if mentor.UserID == "" {
		d.Logger.Printf("notify: mentor %d has no identity record, skipping", ev.MentorID)
		return
	}
	d.insert(ctx, mentor.UserID, ev, link)
}

func (d *Dispatcher) insert(ctx context.Context, userID string, ev engine.Event, link string) {
	var metadata string
	if len(ev.Fields) > 0 {
		if data, err := json.Marshal(ev.Fields); err == nil {
			metadata = string(data)
		}
	}
	_, err := d.Repo.InsertNotification(ctx, domain.Notification{
		UserID:    userID,
		Kind:      ev.Kind,
		Title:     ev.Title,
		Message:   ev.Message,
		Link:      link,
		Metadata:  metadata,
		CreatedAt: d.now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		d.Logger.Printf("notify: insert for %s failed: %v", userID, err)
	}
}
