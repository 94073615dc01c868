package events_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"workdesk/internal/config"
	"workdesk/internal/db"
	"workdesk/internal/domain"
	"workdesk/internal/events"
	"workdesk/internal/logging"
	"workdesk/internal/migrate"
	"workdesk/internal/repo"
)

var fixedNow = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }

func newRepo(t *testing.T) (repo.Repo, context.Context) {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	ctx := context.Background()
	_, err = migrate.Migrate(ctx, conn)
	require.NoError(t, err)
	return repo.Repo{DB: conn}, ctx
}

func appendEvents(t *testing.T, r repo.Repo, ctx context.Context, types ...string) {
	t.Helper()
	w := events.Writer{Repo: r, Now: fixedNow, Enabled: true}
	tx, err := r.DB.BeginTx(ctx, nil)
	require.NoError(t, err)
	defer tx.Rollback()
	for i, typ := range types {
		evt, ok, err := w.Append(ctx, tx, typ, 1, int64(i+1), events.EventPayload{"work_item_id": 1})
		require.NoError(t, err)
		require.True(t, ok)
		assert.Len(t, evt.EventID, 26)
	}
	require.NoError(t, tx.Commit())
}

func TestWriterDisabled(t *testing.T) {
	r, ctx := newRepo(t)
	w := events.Writer{Repo: r, Now: fixedNow}
	_, ok, err := w.Append(ctx, nil, domain.EventWorkItemCreated, 1, 1, nil)
	require.NoError(t, err)
	assert.False(t, ok)
	n, err := r.CountOutbox(ctx, 1)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestEventTypeFor(t *testing.T) {
	typ, ok := events.EventTypeFor(domain.ActionComplete)
	assert.True(t, ok)
	assert.Equal(t, "WorkItemCompleted", typ)
	_, ok = events.EventTypeFor(domain.ActionTransition)
	assert.False(t, ok)
}

func TestRelayPublishesAndRetries(t *testing.T) {
	r, ctx := newRepo(t)
	appendEvents(t, r, ctx, domain.EventWorkItemCreated, domain.EventWorkItemClaimed)

	calls := 0
	flaky := events.PublisherFunc(func(_ context.Context, evt domain.OutboxEvent) error {
		calls++
		if evt.EventType == domain.EventWorkItemClaimed {
			return errors.New("downstream unavailable")
		}
		return nil
	})
	relay := events.Relay{Repo: r, Publisher: flaky, MaxAttempts: 2, Now: fixedNow, Logger: logging.Discard()}

	report, err := relay.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, events.RelayReport{Claimed: 2, Published: 1, Retrying: 1}, report)

	report, err = relay.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, events.RelayReport{Claimed: 1, Failed: 1}, report)

	report, err = relay.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Claimed)
	assert.Equal(t, 3, calls)

	published, err := r.ListOutbox(ctx, repo.OutboxFilters{Status: domain.OutboxPublished})
	require.NoError(t, err)
	require.Len(t, published, 1)
	require.NotNil(t, published[0].PublishedAt)
}

func TestWebhookPublisherSignsAndFilters(t *testing.T) {
	var (
		mu       sync.Mutex
		received []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		body, _ := io.ReadAll(req.Body)
		assert.Equal(t, "sha256="+events.Sign("s3cret", body), req.Header.Get("X-Workdesk-Signature"))
		var payload map[string]any
		assert.NoError(t, json.Unmarshal(body, &payload))
		mu.Lock()
		received = append(received, req.Header.Get("X-Workdesk-Event"))
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	pub := events.NewWebhookPublisher([]config.Webhook{
		{URL: srv.URL, Secret: "s3cret"},
		{URL: srv.URL, Secret: "s3cret", Events: []string{domain.EventWorkItemCompleted}},
	})
	evt := domain.OutboxEvent{EventID: "01HX", EventType: domain.EventWorkItemClaimed, AggregateID: 9, Version: 2, Payload: `{"actor_id":"u1"}`, OccurredAt: fixedNow()}
	require.NoError(t, pub.Publish(context.Background(), evt))

	evt.EventType = domain.EventWorkItemCompleted
	require.NoError(t, pub.Publish(context.Background(), evt))

	mu.Lock()
	defer mu.Unlock()
	assert.ElementsMatch(t, []string{domain.EventWorkItemClaimed, domain.EventWorkItemCompleted, domain.EventWorkItemCompleted}, received)
}

func TestWebhookPublisherReportsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()
	pub := events.NewWebhookPublisher([]config.Webhook{{URL: srv.URL}})
	err := pub.Publish(context.Background(), domain.OutboxEvent{EventID: "x", EventType: domain.EventWorkItemCreated})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 502")
}

func TestSchedulerRejectsBadSpec(t *testing.T) {
	r, _ := newRepo(t)
	_, err := events.NewScheduler("not a spec", events.Relay{Repo: r, Publisher: events.LogPublisher{}}, nil)
	assert.Error(t, err)

	s, err := events.NewScheduler("@every 1h", events.Relay{Repo: r, Publisher: events.LogPublisher{}}, nil)
	require.NoError(t, err)
	s.Start()
	s.Stop()
}
