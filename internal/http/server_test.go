package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/specd/internal/coordinator"
	"github.com/fyrsmithlabs/specd/internal/docstore"
	"github.com/fyrsmithlabs/specd/internal/faults"
	"github.com/fyrsmithlabs/specd/internal/logging"
	"github.com/fyrsmithlabs/specd/internal/registry"
	"github.com/fyrsmithlabs/specd/internal/session"
	"github.com/fyrsmithlabs/specd/internal/telemetry"
)

const requirementsDoc = "---\ntitle: Rate Limits\ntags: [api]\nfacts:\n  limit: \"100\"\n---\n# Rate Limits\n"

type fixture struct {
	server *Server
	client *Client
	logs   *logging.TestLogger
}

func setup(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	store, err := docstore.NewStore(docstore.NewMemoryBackend(), zap.NewNop())
	require.NoError(t, err)

	reviewer := session.WorkerFunc(func(context.Context, *session.Workspace) (session.Result, error) {
		return session.Result{Status: docstore.ReportGo, Findings: []string{"clear"}}, nil
	})
	coord, err := coordinator.New(coordinator.Config{}, store, zap.NewNop(),
		coordinator.WithWorker(registry.RoleReviewer, reviewer))
	require.NoError(t, err)

	logs := logging.NewTestLogger()
	srv, err := NewServer(NewService(store, coord), logs.Logger, Config{Version: "test"}, opts...)
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &fixture{server: srv, client: NewClient(ts.URL), logs: logs}
}

func TestNewServer_RequiresDependencies(t *testing.T) {
	_, err := NewServer(nil, logging.Nop(), Config{})
	assert.Error(t, err)

	_, err = NewServer(NewService(nil, nil), nil, Config{})
	assert.ErrorContains(t, err, "logger is required")
}

func TestHandleHealth(t *testing.T) {
	f := setup(t, WithTelemetry(telemetry.NewTestTelemetry().Telemetry))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "test", resp.Version)
	require.NotNil(t, resp.Telemetry)
	assert.True(t, resp.Telemetry.Enabled)
}

func TestAPI_Lifecycle(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	spec, err := f.client.Create(ctx, CreateRequest{Title: "Rate Limits", Tags: []string{"api"}, Requirements: requirementsDoc})
	require.NoError(t, err)
	assert.Equal(t, "0001-rate-limits", spec.ID)
	assert.Equal(t, docstore.StatusDraft, spec.Status)
	assert.Equal(t, []string{"api"}, spec.Metadata.Tags)

	task, err := f.client.AddTask(ctx, spec.ID, TaskRequest{ID: "t1", Description: "token bucket"})
	require.NoError(t, err)
	assert.Equal(t, "t1", task.ID)

	require.NoError(t, f.client.Attach(ctx, spec.ID, docstore.ArtifactFeature, ArtifactRequest{Name: "burst", Content: "allow bursts"}))

	got, err := f.client.Get(ctx, spec.ID)
	require.NoError(t, err)
	require.Len(t, got.Tasks, 1)
	require.Len(t, got.Features, 1)

	action, err := f.client.Advance(ctx, spec.ID)
	require.NoError(t, err)
	assert.Equal(t, coordinator.ActionAdvanced, action.Kind)
	assert.Equal(t, registry.RoleReviewer, action.Role)
	assert.Equal(t, docstore.StatusInReview, action.Status)

	action, err = f.client.Advance(ctx, spec.ID)
	require.NoError(t, err)
	assert.Equal(t, coordinator.ActionAwaitApproval, action.Kind)

	info, err := f.client.Status(ctx, spec.ID)
	require.NoError(t, err)
	assert.True(t, info.AwaitingApproval)
	assert.Nil(t, info.Session)

	approved, err := f.client.Approve(ctx, spec.ID)
	require.NoError(t, err)
	assert.Equal(t, docstore.StatusApproved, approved.Status)

	aborted, err := f.client.Abort(ctx, spec.ID)
	require.NoError(t, err)
	assert.False(t, aborted)

	specs, err := f.client.List(ctx)
	require.NoError(t, err)
	require.Len(t, specs, 1)
	assert.Equal(t, docstore.StatusApproved, specs[0].Status)

	f.logs.AssertField(t, "http request", "spec.id", spec.ID)
}

func TestAPI_CreateFromMarkdown(t *testing.T) {
	f := setup(t)

	spec, err := f.client.Create(context.Background(), CreateRequest{Markdown: requirementsDoc})
	require.NoError(t, err)
	assert.Equal(t, "Rate Limits", spec.Title)
	assert.Equal(t, []string{"api"}, spec.Metadata.Tags)
	assert.True(t, spec.HasArtifact(docstore.ArtifactRequirements))
}

func TestAPI_Errors(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	spec, err := f.client.Create(ctx, CreateRequest{Title: "Rate Limits"})
	require.NoError(t, err)

	apiErr := func(t *testing.T, err error) *APIError {
		t.Helper()
		var ae *APIError
		require.True(t, errors.As(err, &ae), "got %v", err)
		return ae
	}

	t.Run("not found", func(t *testing.T) {
		_, err := f.client.Get(ctx, "0099-missing")
		ae := apiErr(t, err)
		assert.Equal(t, http.StatusNotFound, ae.Status)
		assert.Equal(t, faults.CodeNotFound, faults.CodeOf(err))
		assert.Equal(t, faults.ClassProtocol, faults.ClassOf(err))
	})

	t.Run("cyclic dependency", func(t *testing.T) {
		_, err := f.client.AddTask(ctx, spec.ID, TaskRequest{ID: "a", DependsOn: []string{"b"}})
		require.NoError(t, err)
		_, err = f.client.AddTask(ctx, spec.ID, TaskRequest{ID: "b", DependsOn: []string{"a"}})
		ae := apiErr(t, err)
		assert.Equal(t, http.StatusUnprocessableEntity, ae.Status)
		assert.Equal(t, faults.CodeCyclicDependency, ae.Code())
		assert.Contains(t, ae.Details, "path")
	})

	t.Run("duplicate task", func(t *testing.T) {
		_, err := f.client.AddTask(ctx, spec.ID, TaskRequest{ID: "a"})
		ae := apiErr(t, err)
		assert.Equal(t, http.StatusConflict, ae.Status)
		assert.Equal(t, faults.CodeDuplicateID, ae.Code())
	})

	t.Run("unknown artifact kind", func(t *testing.T) {
		err := f.client.Attach(ctx, spec.ID, "diagram", ArtifactRequest{Content: "x"})
		ae := apiErr(t, err)
		assert.Equal(t, http.StatusBadRequest, ae.Status)
		assert.Equal(t, faults.CodeInvalidInput, ae.Code())
	})

	t.Run("feature without name", func(t *testing.T) {
		err := f.client.Attach(ctx, spec.ID, docstore.ArtifactFeature, ArtifactRequest{Content: "x"})
		assert.Equal(t, faults.CodeInvalidInput, faults.CodeOf(err))
	})

	t.Run("invalid transition", func(t *testing.T) {
		_, err := f.client.Approve(ctx, spec.ID)
		require.NoError(t, err)
		_, err = f.client.Approve(ctx, spec.ID)
		ae := apiErr(t, err)
		assert.Equal(t, http.StatusConflict, ae.Status)
		assert.Equal(t, faults.CodeInvalidTransition, ae.Code())
		assert.Equal(t, string(docstore.StatusApproved), ae.Details["current"])
	})

	t.Run("empty title", func(t *testing.T) {
		_, err := f.client.Create(ctx, CreateRequest{})
		assert.Equal(t, faults.CodeInvalidInput, faults.CodeOf(err))
	})
}

func TestServer_RawErrors(t *testing.T) {
	f := setup(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		status int
		code   string
	}{
		{name: "malformed body", method: http.MethodPost, path: "/api/v1/specs", body: "{", status: http.StatusBadRequest, code: faults.CodeInvalidInput},
		{name: "unknown route", method: http.MethodGet, path: "/api/v1/nothing", status: http.StatusNotFound, code: faults.CodeNotFound},
		{name: "missing spec", method: http.MethodPost, path: "/api/v1/specs/0042-x/advance", status: http.StatusNotFound, code: faults.CodeNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			rec := httptest.NewRecorder()
			f.server.Handler().ServeHTTP(rec, req)

			assert.Equal(t, tt.status, rec.Code)
			var body ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.code, body.Code)
			assert.NotEmpty(t, body.Message)
		})
	}
}

func TestServer_Metrics(t *testing.T) {
	f := setup(t)
	_, err := f.client.List(context.Background())
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `specd_http_requests_total{method="GET",route="/api/v1/specs",status="200"}`)
}

func TestClient_Unreachable(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	url := ts.URL
	ts.Close()

	_, err := NewClient(url).List(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrServerUnavailable)
	assert.True(t, faults.IsRetryable(err))
}

func TestClient_NonJSONError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "upstream exploded", http.StatusBadGateway)
	}))
	defer ts.Close()

	_, err := NewClient(ts.URL).Get(context.Background(), "0001-a")
	var ae *APIError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, http.StatusBadGateway, ae.Status)
	assert.Equal(t, faults.CodeInternal, ae.Code())
	assert.Equal(t, "upstream exploded", ae.Message)
}

func TestStatusFor(t *testing.T) {
	tests := map[string]int{
		faults.CodeNotFound:            http.StatusNotFound,
		faults.CodeInvalidInput:        http.StatusBadRequest,
		faults.CodeCapabilityViolation: http.StatusForbidden,
		faults.CodeInvalidTransition:   http.StatusConflict,
		faults.CodeLeaseHeld:           http.StatusConflict,
		faults.CodeMissingArtifact:     http.StatusUnprocessableEntity,
		faults.CodeCyclicDependency:    http.StatusUnprocessableEntity,
		faults.CodeUnavailable:         http.StatusServiceUnavailable,
		faults.CodeInternal:            http.StatusInternalServerError,
	}
	for code, want := range tests {
		assert.Equal(t, want, statusFor(code), code)
	}
}

func TestToResponse_Details(t *testing.T) {
	status, body := toResponse(&docstore.MissingArtifactError{
		SpecID: "0001-a", From: docstore.StatusInProgress, To: docstore.StatusVerifying,
		IncompleteTasks: []string{"t2"},
	})
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, faults.CodeMissingArtifact, body.Code)
	assert.Equal(t, []string{"t2"}, body.Details["incomplete_tasks"])
	assert.NotContains(t, body.Details, "missing")

	_, body = toResponse(&registry.CapabilityViolationError{Role: "reviewer", Capability: registry.CapMutateDocument, Action: "attach report"})
	assert.Equal(t, faults.ClassCapability, body.Class)
	assert.Equal(t, "reviewer", body.Details["role"])
}
