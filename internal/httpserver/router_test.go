package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/AbuAli85/business-services-hub-sub011/internal/approval"
	"github.com/AbuAli85/business-services-hub-sub011/internal/cascade"
	"github.com/AbuAli85/business-services-hub-sub011/internal/events"
	"github.com/AbuAli85/business-services-hub-sub011/internal/handler"
	"github.com/AbuAli85/business-services-hub-sub011/internal/model"
	"github.com/AbuAli85/business-services-hub-sub011/internal/notify"
	"github.com/AbuAli85/business-services-hub-sub011/internal/repository"
	"github.com/AbuAli85/business-services-hub-sub011/internal/service"
	"github.com/AbuAli85/business-services-hub-sub011/pkg/util"
)

const secret = "test-secret"

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeReplayer struct {
	replayed []int64
}

func (f *fakeReplayer) ReplayEvent(_ context.Context, id int64) error {
	f.replayed = append(f.replayed, id)
	return nil
}

func (f *fakeReplayer) ReplayFailedEvents(context.Context, int) (int, error) { return 3, nil }

type env struct {
	router    *Router
	store     *repository.MemoryStore
	booking   *model.Booking
	milestone *model.Milestone
	clientID  string
	provider  string
	replayer  *fakeReplayer
}

func newEnv(t *testing.T, ready ReadyFunc) *env {
	t.Helper()
	ctx := context.Background()
	store := repository.NewMemoryStore()
	e := &env{store: store, clientID: uuid.NewString(), provider: uuid.NewString(), replayer: &fakeReplayer{}}

	e.booking = &model.Booking{ClientID: e.clientID, ProviderID: e.provider, Title: "Website"}
	require.NoError(t, store.CreateBooking(ctx, e.booking))
	e.milestone = &model.Milestone{BookingID: e.booking.ID, Title: "Design"}
	require.NoError(t, store.CreateMilestone(ctx, e.milestone))
	require.NoError(t, store.CreateTask(ctx, &model.Task{MilestoneID: e.milestone.ID, Title: "Mockups"}))

	log := zap.NewNop()
	engine := cascade.NewEngine(store, events.Nop, notify.Nop, log)
	approvals := approval.NewService(store, engine, events.Nop, notify.Nop, log)
	progress := service.NewProgressService(store, engine, events.Nop, log)

	e.router = NewRouter(Handlers{
		Approval: handler.NewApprovalHandler(approvals, log),
		Progress: handler.NewProgressHandler(progress, log),
		Admin:    handler.NewAdminHandler(e.replayer, log),
	}, secret, ready)
	return e
}

func token(t *testing.T, userID, role, name string) string {
	t.Helper()
	tok, err := util.GenerateJWT(userID, role, name, secret, time.Hour)
	require.NoError(t, err)
	return tok
}

func (e *env) do(t *testing.T, method, path, tok string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	w := httptest.NewRecorder()
	e.router.Engine.ServeHTTP(w, req)

	var out map[string]any
	if w.Body.Len() > 0 && w.Header().Get("Content-Type") != "" {
		_ = json.Unmarshal(w.Body.Bytes(), &out)
	}
	return w, out
}

func TestHealth(t *testing.T) {
	e := newEnv(t, nil)
	w, _ := e.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Trace-ID"))

	w, _ = e.do(t, http.MethodGet, "/readyz", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	down := newEnv(t, func(context.Context) error { return errors.New("db down") })
	w, body := down.do(t, http.MethodGet, "/readyz", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "not_ready", body["status"])
}

func TestTraceHeaderIsEchoed(t *testing.T) {
	e := newEnv(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Trace-ID", "abc123")
	w := httptest.NewRecorder()
	e.router.Engine.ServeHTTP(w, req)
	assert.Equal(t, "abc123", w.Header().Get("X-Trace-ID"))
}

func TestAuth(t *testing.T) {
	e := newEnv(t, nil)
	path := "/bookings/" + e.booking.ID + "/progress"

	w, body := e.do(t, http.MethodGet, path, "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "missing token", body["error"])

	w, _ = e.do(t, http.MethodGet, path, "not-a-jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, _ = e.do(t, http.MethodGet, path, token(t, uuid.NewString(), "client", ""), nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestApprove(t *testing.T) {
	e := newEnv(t, nil)
	client := token(t, e.clientID, "client", "Dana Client")
	req := gin.H{"milestone_id": e.milestone.ID, "action": "approve", "feedback": "Looks good"}

	w, body := e.do(t, http.MethodPost, "/milestones/approve", client, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, approval.MsgApproved, body["message"])
	milestone := body["milestone"].(map[string]any)
	assert.Equal(t, "completed", milestone["status"])
	assert.EqualValues(t, 100, milestone["progress"])
	appr := body["approval"].(map[string]any)
	assert.Equal(t, "approved", appr["decision"])
	assert.Equal(t, "Dana Client", appr["approver_name"])
	assert.Equal(t, "client", appr["approver_role"])
	assert.Equal(t, "Looks good", appr["comment"])

	// Approving again records a second approval without changing state.
	w, body = e.do(t, http.MethodPost, "/milestones/approve", client, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, approval.MsgAlreadyApproved, body["message"])

	w, body = e.do(t, http.MethodGet, "/milestones/"+e.milestone.ID+"/approvals", client, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, body["approvals"], 2)

	w, body = e.do(t, http.MethodGet, "/milestones/"+e.milestone.ID+"/approvals/latest", client, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotNil(t, body["approval"])

	// Rejecting a completed milestone is refused.
	req["action"] = "reject"
	w, body = e.do(t, http.MethodPost, "/milestones/approve", client, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, approval.MsgAlreadyCompleted, body["error"])
}

func TestApprove_Errors(t *testing.T) {
	e := newEnv(t, nil)
	client := token(t, e.clientID, "client", "")

	tests := []struct {
		name   string
		tok    string
		body   any
		status int
	}{
		{"malformed body", client, "not an object", http.StatusBadRequest},
		{"non uuid milestone", client, gin.H{"milestone_id": "42", "action": "approve"}, http.StatusBadRequest},
		{"unknown action", client, gin.H{"milestone_id": e.milestone.ID, "action": "maybe"}, http.StatusBadRequest},
		{"missing milestone", client, gin.H{"milestone_id": uuid.NewString(), "action": "approve"}, http.StatusNotFound},
		{"not a party", token(t, uuid.NewString(), "provider", ""), gin.H{"milestone_id": e.milestone.ID, "action": "approve"}, http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, body := e.do(t, http.MethodPost, "/milestones/approve", tt.tok, tt.body)
			assert.Equal(t, tt.status, w.Code)
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestTaskLifecycleUpdatesProgress(t *testing.T) {
	e := newEnv(t, nil)
	provider := token(t, e.provider, "provider", "")

	w, body := e.do(t, http.MethodPost, "/tasks", provider, gin.H{"milestone_id": e.milestone.ID, "title": "Copy"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	taskID := body["task"].(map[string]any)["id"].(string)

	w, _ = e.do(t, http.MethodPatch, "/tasks/"+taskID, provider, gin.H{"status": "completed"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w, body = e.do(t, http.MethodGet, "/bookings/"+e.booking.ID+"/progress", provider, nil)
	require.Equal(t, http.StatusOK, w.Code)
	milestones := body["milestones"].([]any)
	require.Len(t, milestones, 1)
	m := milestones[0].(map[string]any)
	assert.EqualValues(t, 50, m["progress"])
	assert.EqualValues(t, 1, m["completed_tasks"])
	assert.EqualValues(t, 2, m["total_tasks"])
	assert.EqualValues(t, 50, body["booking"].(map[string]any)["progress"])

	w, _ = e.do(t, http.MethodDelete, "/tasks/"+taskID, provider, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	// Clients cannot edit tasks.
	w, _ = e.do(t, http.MethodPost, "/tasks", token(t, e.clientID, "client", ""), gin.H{"milestone_id": e.milestone.ID, "title": "x"})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestMilestoneCRUD(t *testing.T) {
	e := newEnv(t, nil)
	provider := token(t, e.provider, "provider", "")

	w, body := e.do(t, http.MethodPost, "/milestones", provider, gin.H{"booking_id": e.booking.ID, "title": "Launch", "weight": 2})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	id := body["milestone"].(map[string]any)["id"].(string)

	w, body = e.do(t, http.MethodPatch, "/milestones/"+id, provider, gin.H{"progress": 40})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.EqualValues(t, 40, body["milestone"].(map[string]any)["progress"])

	w, _ = e.do(t, http.MethodDelete, "/milestones/"+id, provider, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = e.do(t, http.MethodDelete, "/milestones/"+id, provider, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAdminReplay(t *testing.T) {
	e := newEnv(t, nil)

	w, _ := e.do(t, http.MethodPost, "/admin/outbox/replay?id=7", token(t, e.provider, "provider", ""), nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	admin := token(t, uuid.NewString(), "admin", "")
	w, _ = e.do(t, http.MethodPost, "/admin/outbox/replay?id=7", admin, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []int64{7}, e.replayer.replayed)

	w, _ = e.do(t, http.MethodPost, "/admin/outbox/replay?id=x", admin, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, body := e.do(t, http.MethodPost, "/admin/outbox/replay-failed", admin, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 3, body["success_count"])
}

func TestMetricsEndpoint(t *testing.T) {
	e := newEnv(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	e.router.Engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}
