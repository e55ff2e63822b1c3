package notify_test

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"trackline/internal/db"
	"trackline/internal/domain"
	"trackline/internal/engine"
	"trackline/internal/migrate"
	"trackline/internal/notify"
	"trackline/internal/repo"
)

type capturedPost struct {
	Body       map[string]any
	DeliveryID string
}

func newWebhook(t *testing.T, status int) (*httptest.Server, *[]capturedPost) {
	t.Helper()
	var posts []capturedPost
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		var body map[string]any
		if err := json.Unmarshal(data, &body); err != nil {
			t.Errorf("webhook got invalid JSON: %v", err)
		}
		posts = append(posts, capturedPost{Body: body, DeliveryID: r.Header.Get("X-Trackline-Delivery")})
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv, &posts
}

func newDispatcher(t *testing.T, webhookURL string) (*notify.Dispatcher, repo.Repo) {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	r := repo.Repo{DB: conn}
	d := notify.NewDispatcher(notify.Config{
		WebhookURL:   webhookURL,
		Timeout:      2 * time.Second,
		Coordinators: []string{"coord-1", "coord-2"},
	}, r, log.New(io.Discard, "", 0))
	d.Now = func() time.Time { return time.Date(2024, 3, 10, 14, 0, 0, 0, time.UTC) }
	return d, r
}

func TestDispatchBlocksPayload(t *testing.T) {
	srv, posts := newWebhook(t, http.StatusOK)
	d, r := newDispatcher(t, srv.URL)
	ctx := context.Background()

	d.Dispatch(ctx, engine.Event{
		Kind:       "session.confirmed",
		Title:      "Session confirmed",
		Message:    "Session 7 was confirmed.",
		Urgency:    engine.UrgencyLow,
		Fields:     map[string]string{"Starts": "2024-03-20T10:00:00Z", "Kind": "writing_practice"},
		ToCoords:   true,
		EntityKind: "session",
		EntityID:   7,
	})

	if len(*posts) != 1 {
		t.Fatalf("got %d posts, want 1", len(*posts))
	}
	post := (*posts)[0]
	if post.DeliveryID == "" {
		t.Fatalf("missing delivery header")
	}
	blocks, ok := post.Body["blocks"].([]any)
	if !ok || len(blocks) != 2 {
		t.Fatalf("payload not block-shaped: %v", post.Body)
	}
	header := blocks[0].(map[string]any)
	if header["type"] != "header" {
		t.Fatalf("first block is %v, want header", header["type"])
	}

	// both coordinators got in-app rows with the entity link
	for _, coord := range []string{"coord-1", "coord-2"} {
		items, err := r.ListNotifications(ctx, coord, false, 0)
		if err != nil || len(items) != 1 {
			t.Fatalf("%s notifications: %v %d", coord, err, len(items))
		}
		if items[0].Link != "/sessions/7" || items[0].Kind != "session.confirmed" {
			t.Fatalf("unexpected row %+v", items[0])
		}
	}
}

func TestDispatchAlertPayload(t *testing.T) {
	srv, posts := newWebhook(t, http.StatusOK)
	d, _ := newDispatcher(t, srv.URL)

	d.Dispatch(context.Background(), engine.Event{
		Kind:    "session.rejected",
		Title:   "Session rejected",
		Message: "Session 7 was rejected: schedule clash",
		Urgency: engine.UrgencyHigh,
	})

	if len(*posts) != 1 {
		t.Fatalf("got %d posts, want 1", len(*posts))
	}
	atts, ok := (*posts)[0].Body["attachments"].([]any)
	if !ok || len(atts) != 1 {
		t.Fatalf("payload not attachment-shaped: %v", (*posts)[0].Body)
	}
	att := atts[0].(map[string]any)
	if att["color"] != "warning" {
		t.Fatalf("color = %v, want warning for high urgency", att["color"])
	}
	if !strings.Contains(att["title"].(string), "\U0001F7E0") {
		t.Fatalf("title missing urgency emoji: %v", att["title"])
	}
}

func TestUrgencyCriticalIsDanger(t *testing.T) {
	srv, posts := newWebhook(t, http.StatusOK)
	d, _ := newDispatcher(t, srv.URL)

	d.Dispatch(context.Background(), engine.Event{
		Kind:    "pipeline.stalled",
		Title:   "Pipeline stalled",
		Message: "No advances in 14 days.",
		Urgency: engine.UrgencyCritical,
	})
	att := (*posts)[0].Body["attachments"].([]any)[0].(map[string]any)
	if att["color"] != "danger" {
		t.Fatalf("color = %v, want danger", att["color"])
	}
}

func TestDispatchSurvivesWebhookFailure(t *testing.T) {
	srv, _ := newWebhook(t, http.StatusInternalServerError)
	d, r := newDispatcher(t, srv.URL)
	ctx := context.Background()

	d.Dispatch(ctx, engine.Event{
		Kind:     "session.rejected",
		Title:    "Session rejected",
		Message:  "nope",
		Urgency:  engine.UrgencyHigh,
		ToCoords: true,
	})

	// the in-app rows landed even though the webhook refused the post
	items, err := r.ListNotifications(ctx, "coord-1", false, 0)
	if err != nil || len(items) != 1 {
		t.Fatalf("notifications after webhook failure: %v %d", err, len(items))
	}
}

func TestNotifyMentorResolvesIdentity(t *testing.T) {
	d, r := newDispatcher(t, "")
	ctx := context.Background()
	withID, err := r.InsertMentor(ctx, domain.Mentor{Name: "Ana", Email: "ana@example.org", UserID: "user-ana"})
	if err != nil {
		t.Fatal(err)
	}
	withoutID, err := r.InsertMentor(ctx, domain.Mentor{Name: "Ghost"})
	if err != nil {
		t.Fatal(err)
	}

	d.Dispatch(ctx, engine.Event{Kind: "session.assigned", Title: "t", Message: "m", MentorID: withID, ToMentor: true})
	items, err := r.ListNotifications(ctx, "user-ana", true, 0)
	if err != nil || len(items) != 1 {
		t.Fatalf("mentor notifications: %v %d", err, len(items))
	}

	// no identity record means skip, not crash
	d.Dispatch(ctx, engine.Event{Kind: "session.assigned", Title: "t", Message: "m", MentorID: withoutID, ToMentor: true})

	// mark read and count
	if err := r.MarkNotificationRead(ctx, items[0].ID); err != nil {
		t.Fatalf("mark read: %v", err)
	}
	n, err := r.CountUnreadNotifications(ctx, "user-ana")
	if err != nil || n != 0 {
		t.Fatalf("unread count: %v %d", err, n)
	}
}

func TestEmptyWebhookURLDisablesPosting(t *testing.T) {
	d, _ := newDispatcher(t, "")
	// nothing to assert beyond not panicking and not dialing anywhere
	d.Dispatch(context.Background(), engine.Event{Kind: "session.confirmed", Title: "t", Message: "m"})
}
