package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"workdesk/internal/config"
	"workdesk/internal/db"
	"workdesk/internal/domain"
	"workdesk/internal/engine"
	"workdesk/internal/logging"
	"workdesk/internal/migrate"
)

const testSecret = "test-secret"

type testServer struct {
	URL    string
	Engine engine.Engine
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	ctx := context.Background()
	if _, err := migrate.Migrate(ctx, conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e, err := engine.New(conn, config.Default(), logging.Discard())
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	if err := e.ApplyOrgChanges(ctx,
		engine.OrgChange{Kind: engine.OrgAddGroup, ID: "finance"},
		engine.OrgChange{Kind: engine.OrgAddMember, ID: "finance", UserID: "u1"},
		engine.OrgChange{Kind: engine.OrgAddMember, ID: "finance", UserID: "u2"},
	); err != nil {
		t.Fatalf("seed org: %v", err)
	}
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v0",
		Auth:     AuthConfig{JWTSecret: testSecret, AllowActorHeader: true},
		Logger:   logging.Discard(),
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Engine: e,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func as(actor string) map[string]string {
	return map[string]string{"X-Actor-Id": actor}
}

type errorEnvelope struct {
	Error struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

func createItem(t *testing.T, srv *testServer, body map[string]any, headers map[string]string) CommandResponse {
	t.Helper()
	if headers == nil {
		headers = as("orchestrator")
	}
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/work-items", body, headers)
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	var out CommandResponse
	require.NoError(t, json.Unmarshal(data, &out))
	require.True(t, out.Decision.Accepted)
	return out
}

func invoiceItem() map[string]any {
	return map[string]any{
		"workflow_id": "wf-1",
		"run_id":      "run-1",
		"task_type":   "approve-invoice",
		"assignment_spec": map[string]any{
			"candidate_groups": []string{"finance"},
		},
		"parameters": []map[string]any{
			{"name": "approved", "direction": "OUT", "mandatory": true},
		},
		"context_data": map[string]any{"region": "emea"},
	}
}

func TestWorkItemLifecycleOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	created := createItem(t, srv, invoiceItem(), nil)
	assert.Equal(t, domain.StateOffered, created.Decision.InitialState)
	base := fmt.Sprintf("%s/v0/work-items/%d", srv.URL, created.WorkItemID)

	res, data := doJSON(t, client, http.MethodPost, base+"/claim", map[string]any{"expected_version": 1}, as("u1"))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))

	res, data = doJSON(t, client, http.MethodPost, base+"/complete", map[string]any{}, as("u1"))
	require.Equal(t, http.StatusUnprocessableEntity, res.StatusCode, string(data))
	var env errorEnvelope
	require.NoError(t, json.Unmarshal(data, &env))
	assert.Equal(t, "validation_failed", env.Error.Code)
	assert.Equal(t, "Missing mandatory output parameter: approved", env.Error.Message)
	assert.Contains(t, env.Error.Details, "decision")

	res, data = doJSON(t, client, http.MethodPost, base+"/complete", map[string]any{
		"output": map[string]any{"approved": true},
	}, as("u1"))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))

	res, data = doJSON(t, client, http.MethodGet, base, nil, as("u1"))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var wi WorkItemResponse
	require.NoError(t, json.Unmarshal(data, &wi))
	assert.Equal(t, "COMPLETED", wi.State)
	assert.Equal(t, int64(3), wi.Version)
	assert.Equal(t, "u1", wi.AssigneeID)

	res, data = doJSON(t, client, http.MethodGet, base+"/audit", nil, as("u1"))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var audit []AuditEntryResponse
	require.NoError(t, json.Unmarshal(data, &audit))
	require.Len(t, audit, 3)
	assert.Equal(t, []string{"CREATE", "CLAIM", "COMPLETE"}, []string{audit[0].Action, audit[1].Action, audit[2].Action})

	res, data = doJSON(t, client, http.MethodGet, base+"/participants", nil, as("u1"))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var participants []ParticipantResponse
	require.NoError(t, json.Unmarshal(data, &participants))
	roles := map[string]bool{}
	for _, p := range participants {
		if p.UserID == "u1" {
			roles[p.Role] = true
		}
	}
	assert.True(t, roles["COMPLETER"])
}

func TestIneligibleClaimIsRejected(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	created := createItem(t, srv, invoiceItem(), nil)
	res, data := doJSON(t, srv.Client(), http.MethodPost,
		fmt.Sprintf("%s/v0/work-items/%d/claim", srv.URL, created.WorkItemID), nil, as("stranger"))
	require.Equal(t, http.StatusUnprocessableEntity, res.StatusCode, string(data))
	var env errorEnvelope
	require.NoError(t, json.Unmarshal(data, &env))
	assert.Equal(t, "Actor not eligible for this work item", env.Error.Message)
}

func TestStaleVersionIsConflict(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	created := createItem(t, srv, invoiceItem(), nil)
	res, data := doJSON(t, srv.Client(), http.MethodPost,
		fmt.Sprintf("%s/v0/work-items/%d/claim", srv.URL, created.WorkItemID),
		map[string]any{"expected_version": 7}, as("u1"))
	require.Equal(t, http.StatusConflict, res.StatusCode, string(data))
	var env errorEnvelope
	require.NoError(t, json.Unmarshal(data, &env))
	assert.Equal(t, "concurrency_conflict", env.Error.Code)
}

func TestIdempotentCreateReplaysAndRejectsReuse(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	headers := map[string]string{"X-Actor-Id": "orchestrator", "Idempotency-Key": "create-1"}

	first := createItem(t, srv, invoiceItem(), headers)

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/work-items", invoiceItem(), headers)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var replay CommandResponse
	require.NoError(t, json.Unmarshal(data, &replay))
	assert.True(t, replay.Replayed)
	assert.Equal(t, first.WorkItemID, replay.WorkItemID)

	other := invoiceItem()
	other["task_type"] = "something-else"
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/work-items", other, headers)
	require.Equal(t, http.StatusConflict, res.StatusCode, string(data))
	var env errorEnvelope
	require.NoError(t, json.Unmarshal(data, &env))
	assert.Equal(t, "duplicate_request", env.Error.Code)

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/idempotency/create-1", nil, as("orchestrator"))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var rec domain.IdempotencyRecord
	require.NoError(t, json.Unmarshal(data, &rec))
	assert.Equal(t, domain.IdempotencyCompleted, rec.Status)

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/work-items", nil, as("orchestrator"))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var page paginatedWorkItems
	require.NoError(t, json.Unmarshal(data, &page))
	assert.Equal(t, 1, page.Total)
}

func TestListFiltersByContext(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	createItem(t, srv, invoiceItem(), nil)
	other := invoiceItem()
	other["context_data"] = map[string]any{"region": "apac"}
	createItem(t, srv, other, nil)

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/work-items?context=region=apac&user=u2", nil, as("u2"))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var page paginatedWorkItems
	require.NoError(t, json.Unmarshal(data, &page))
	require.Len(t, page.Items, 1)
	assert.Equal(t, "apac", page.Items[0].ContextData["region"])

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/work-items?context=broken", nil, as("u2"))
	assert.Equal(t, http.StatusBadRequest, res.StatusCode, string(data))
}

func TestUnknownWorkItemIs404(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	for _, path := range []string{"/v0/work-items/999", "/v0/work-items/999/audit"} {
		res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+path, nil, as("u1"))
		assert.Equal(t, http.StatusNotFound, res.StatusCode, string(data))
	}
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/work-items/999/claim", nil, as("u1"))
	assert.Equal(t, http.StatusNotFound, res.StatusCode, string(data))
}

func TestAuthentication(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, _ := doJSON(t, client, http.MethodGet, srv.URL+"/v0/health", nil, nil)
	assert.Equal(t, http.StatusOK, res.StatusCode)

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/work-items", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode, string(data))

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{"Authorization": "Bearer nope"})
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode, string(data))

	token, err := SignToken(testSecret, "u1", time.Hour, time.Now())
	require.NoError(t, err)
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{"Authorization": "Bearer " + token})
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var me WhoAmIResponse
	require.NoError(t, json.Unmarshal(data, &me))
	assert.Equal(t, WhoAmIResponse{ActorID: "u1", Source: "jwt"}, me)

	_, secret, err := srv.Engine.Repo.IssueAPIKey(context.Background(), "admin", "ci", time.Now())
	require.NoError(t, err)
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{"X-Api-Key": secret})
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	require.NoError(t, json.Unmarshal(data, &me))
	assert.Equal(t, WhoAmIResponse{ActorID: "admin", Source: "api_key", Admin: true}, me)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/auth/dev/login", map[string]any{"actor_id": "u2"}, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var login DevLoginResponse
	require.NoError(t, json.Unmarshal(data, &login))
	assert.NotEmpty(t, login.Token)
}

func TestAdminOnlyEndpoints(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	createItem(t, srv, invoiceItem(), nil)

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/outbox/relay", nil, as("u1"))
	assert.Equal(t, http.StatusForbidden, res.StatusCode, string(data))

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/org/changes", []map[string]any{
		{"kind": "group", "id": "legal"},
		{"kind": "add_member", "id": "legal", "user_id": "u9"},
	}, as("admin"))
	require.Equal(t, http.StatusNoContent, res.StatusCode, string(data))

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/candidates", map[string]any{
		"candidate_groups": []string{"legal"},
	}, as("u1"))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var cands CandidatesResponse
	require.NoError(t, json.Unmarshal(data, &cands))
	assert.Equal(t, []string{"u9"}, cands.Users)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/outbox/relay", nil, as("admin"))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var report struct {
		Published int `json:"published"`
	}
	require.NoError(t, json.Unmarshal(data, &report))
	assert.Equal(t, 1, report.Published)

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/outbox?status=PUBLISHED", nil, as("admin"))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var evts []OutboxEventResponse
	require.NoError(t, json.Unmarshal(data, &evts))
	require.Len(t, evts, 1)
	assert.Equal(t, domain.EventWorkItemCreated, evts[0].EventType)
}
