package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rtmpipe/internal/common"
	"rtmpipe/internal/server/dao"
	"rtmpipe/internal/server/middleware"
	"rtmpipe/internal/server/model"
	"rtmpipe/internal/task_executor/scheduler"
	"rtmpipe/pkg/api"
	"rtmpipe/pkg/queue"
)

const testSecret = "hook-secret"

type fakeSubmitter struct {
	mu   sync.Mutex
	err  error
	reqs []*queue.RunRequest
}

func (f *fakeSubmitter) Submit(req *queue.RunRequest) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, f.err
	}
	f.reqs = append(f.reqs, req)
	return false, nil
}

type response struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func setup(t *testing.T) (*gin.Engine, *fakeSubmitter) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	common.SetConfig(common.Config{Server: common.ServerConfig{
		JWTKey:     "test-key",
		JWTExpire:  time.Hour,
		JWTRefresh: 10 * time.Minute,
	}})
	require.NoError(t, dao.InitDB(common.DBConfig{Driver: "sqlite", DSN: filepath.Join(t.TempDir(), "history.db")}))

	pipeline := &queue.PipelineConfig{
		Triggers: []queue.Trigger{{Webhook: "/webhook/rtm"}, {Cron: "0 6 * * *"}},
		Params:   queue.Params{ProjectKey: "QA"},
	}
	sub := &fakeSubmitter{}
	return NewRouter(NewRunHandler(sub, pipeline, testSecret)), sub
}

func do(t *testing.T, r http.Handler, req *http.Request) (*httptest.ResponseRecorder, response) {
	t.Helper()
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	var resp response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return w, resp
}

func jsonRequest(t *testing.T, method, url string, body any, token string) *http.Request {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(method, url, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func addUser(t *testing.T, name, password, role string) {
	t.Helper()
	hash, err := HashPassword(password)
	require.NoError(t, err)
	require.NoError(t, dao.NewUserDAO().Upsert(context.Background(), &model.User{Username: name, Password: hash, Role: role}))
}

func TestUserLogin(t *testing.T) {
	r, _ := setup(t)
	addUser(t, "ops", "s3cret", model.RoleExecutor)

	w, resp := do(t, r, jsonRequest(t, http.MethodPost, "/login", api.LoginRequest{Username: "ops", Password: "s3cret"}, ""))
	assert.Equal(t, common.SuccessCode, resp.Code)
	token, err := common.GetAuthorizationToken(w.Header().Get("Authorization"))
	require.NoError(t, err)
	assert.NotEmpty(t, token)

	_, resp = do(t, r, jsonRequest(t, http.MethodPost, "/login", api.LoginRequest{Username: "ops", Password: "wrong"}, ""))
	assert.Equal(t, common.PasswordErr, resp.Code)

	_, resp = do(t, r, jsonRequest(t, http.MethodPost, "/login", api.LoginRequest{Username: "ghost", Password: "x"}, ""))
	assert.Equal(t, common.UserNotExists, resp.Code)
}

func TestTriggerRun(t *testing.T) {
	r, sub := setup(t)
	executor, err := middleware.GenerateJWT("ops", model.RoleExecutor)
	require.NoError(t, err)

	_, resp := do(t, r, jsonRequest(t, http.MethodPost, "/trigger", api.TriggerRequest{ExecutionKey: "QA-TE-7", Recipients: "a@x.io"}, executor))
	require.Equal(t, common.SuccessCode, resp.Code, resp.Message)

	var out api.TriggerResponse
	require.NoError(t, json.Unmarshal(resp.Data, &out))
	assert.NotEmpty(t, out.RunID)
	require.Len(t, sub.reqs, 1)
	assert.Equal(t, out.RunID, sub.reqs[0].RunID)
	assert.Equal(t, queue.TriggerManual, sub.reqs[0].TriggerType)
	assert.Equal(t, "QA", sub.reqs[0].Params.ProjectKey, "project key falls back to the pipeline default")
	assert.Equal(t, queue.FormatHTML, sub.reqs[0].Params.ReportFormat)
}

func TestTriggerRun_Rejected(t *testing.T) {
	r, sub := setup(t)
	executor, err := middleware.GenerateJWT("ops", model.RoleExecutor)
	require.NoError(t, err)
	viewer, err := middleware.GenerateJWT("guest", model.RoleViewer)
	require.NoError(t, err)
	valid := api.TriggerRequest{ExecutionKey: "QA-TE-7"}

	_, resp := do(t, r, jsonRequest(t, http.MethodPost, "/trigger", valid, ""))
	assert.Equal(t, common.TokenInvalid, resp.Code)

	_, resp = do(t, r, jsonRequest(t, http.MethodPost, "/trigger", valid, viewer))
	assert.Equal(t, common.PermissionDenied, resp.Code)

	_, resp = do(t, r, jsonRequest(t, http.MethodPost, "/trigger", api.TriggerRequest{ExecutionKey: "QA-TE-7", ReportFormat: "both"}, executor))
	assert.Equal(t, common.ParamsInvalid, resp.Code)

	_, resp = do(t, r, jsonRequest(t, http.MethodPost, "/trigger", api.TriggerRequest{ProjectKey: "QA"}, executor))
	assert.Equal(t, common.ParamsInvalid, resp.Code)
	assert.Empty(t, sub.reqs)

	sub.err = scheduler.ErrRunInProgress
	_, resp = do(t, r, jsonRequest(t, http.MethodPost, "/trigger", valid, executor))
	assert.Equal(t, common.RunInProgress, resp.Code)
}

func webhookRequest(t *testing.T, url string, body []byte, ts time.Time, secret string) *http.Request {
	t.Helper()
	stamp := strconv.FormatInt(ts.Unix(), 10)
	req := httptest.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	req.Header.Set("X-Webhook-Timestamp", stamp)
	req.Header.Set("X-Webhook-Signature", WebhookSignature(stamp, body, secret))
	return req
}

func TestWebhook(t *testing.T) {
	r, sub := setup(t)
	body, err := json.Marshal(WebhookPayload{ExecutionKey: "QA-TE-9", ReportFormat: queue.FormatPDF})
	require.NoError(t, err)

	_, resp := do(t, r, webhookRequest(t, "/webhook/rtm", body, time.Now(), testSecret))
	require.Equal(t, common.SuccessCode, resp.Code, resp.Message)
	require.Len(t, sub.reqs, 1)
	assert.Equal(t, queue.TriggerWebhook, sub.reqs[0].TriggerType)
	assert.Equal(t, "QA-TE-9", sub.reqs[0].Params.ExecutionKey)
	assert.Equal(t, queue.FormatPDF, sub.reqs[0].Params.ReportFormat)

	_, resp = do(t, r, webhookRequest(t, "/webhook/rtm", body, time.Now(), "other"))
	assert.Equal(t, common.WebhookInvalid, resp.Code)

	_, resp = do(t, r, webhookRequest(t, "/webhook/rtm", body, time.Now().Add(-time.Hour), testSecret))
	assert.Equal(t, common.RequestInvalid, resp.Code)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, webhookRequest(t, "/webhook/other", body, time.Now(), testSecret))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Len(t, sub.reqs, 1)

	both, err := json.Marshal(WebhookPayload{ExecutionKey: "QA-TE-9", ReportFormat: queue.FormatBoth})
	require.NoError(t, err)
	_, resp = do(t, r, webhookRequest(t, "/webhook/rtm", both, time.Now(), testSecret))
	assert.Equal(t, common.ParamsInvalid, resp.Code)
	assert.Len(t, sub.reqs, 1)
}

func TestTriggerRun_MarkerPipeline(t *testing.T) {
	setup(t)
	executor, err := middleware.GenerateJWT("ops", model.RoleExecutor)
	require.NoError(t, err)
	pipeline := &queue.PipelineConfig{
		Params: queue.Params{ProjectKey: "QA", ReportFormat: queue.FormatBoth},
		Stages: queue.Stages{Fetch: queue.FetchStage{Mode: queue.FetchModeMarker}},
	}
	sub := &fakeSubmitter{}
	r := NewRouter(NewRunHandler(sub, pipeline, testSecret))

	// the default format is both, which the export script cannot produce
	_, resp := do(t, r, jsonRequest(t, http.MethodPost, "/trigger", api.TriggerRequest{ExecutionKey: "QA-TE-7"}, executor))
	assert.Equal(t, common.ParamsInvalid, resp.Code)
	assert.Empty(t, sub.reqs)

	_, resp = do(t, r, jsonRequest(t, http.MethodPost, "/trigger", api.TriggerRequest{ExecutionKey: "QA-TE-7", ReportFormat: queue.FormatPDF}, executor))
	require.Equal(t, common.SuccessCode, resp.Code, resp.Message)
	assert.Len(t, sub.reqs, 1)
}

func TestHistory(t *testing.T) {
	r, _ := setup(t)
	viewer, err := middleware.GenerateJWT("guest", model.RoleViewer)
	require.NoError(t, err)

	record := dao.NewRunRecorder()
	now := time.Now()
	params := queue.Params{ProjectKey: "QA", ExecutionKey: "QA-TE-1", TriggerToken: "tok"}
	require.NoError(t, record(&scheduler.StatusUpdate{RunID: "done", TriggerType: queue.TriggerManual, Params: params, State: scheduler.StatePending, Time: now}))
	require.NoError(t, record(&scheduler.StatusUpdate{RunID: "done", State: scheduler.StateFailed, FailedStage: "fetch", Kind: "FetchError", Error: "boom", Time: now}))
	require.NoError(t, record(&scheduler.StatusUpdate{RunID: "live", TriggerType: queue.TriggerCron, Params: params, State: scheduler.StatePending, Time: now}))
	require.NoError(t, record(&scheduler.StatusUpdate{RunID: "live", State: scheduler.StateValidating, Stage: "validate", StageStatus: "running", Time: now}))

	req := httptest.NewRequest(http.MethodGet, "/history", nil)
	req.Header.Set("Authorization", "Bearer "+viewer)
	_, resp := do(t, r, req)
	require.Equal(t, common.SuccessCode, resp.Code, resp.Message)
	var runs []api.RunBrief
	require.NoError(t, json.Unmarshal(resp.Data, &runs))
	require.Len(t, runs, 2)
	assert.Equal(t, "live", runs[0].RunID, "running runs are listed first")
	assert.Equal(t, "failed", runs[1].Status)
	assert.Equal(t, "FetchError", runs[1].ErrorKind)

	req = httptest.NewRequest(http.MethodGet, "/history/done", nil)
	req.Header.Set("Authorization", "Bearer "+viewer)
	_, resp = do(t, r, req)
	require.Equal(t, common.SuccessCode, resp.Code, resp.Message)
	var detail api.RunDetail
	require.NoError(t, json.Unmarshal(resp.Data, &detail))
	assert.Equal(t, "fetch", detail.FailedStage)
	assert.Equal(t, "boom", detail.Error)
	assert.NotContains(t, detail.Params, "tok")
	assert.Len(t, detail.Stages, 7)
	assert.NotEmpty(t, detail.EndTime)

	req = httptest.NewRequest(http.MethodGet, "/history/missing", nil)
	req.Header.Set("Authorization", "Bearer "+viewer)
	_, resp = do(t, r, req)
	assert.Equal(t, common.RunNotExists, resp.Code)
}

func TestHealthz(t *testing.T) {
	r, _ := setup(t)
	_, resp := do(t, r, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, common.SuccessCode, resp.Code)
}
