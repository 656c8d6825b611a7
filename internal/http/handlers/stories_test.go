package handlers

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"storyforge/internal/adapter/repo"
	"storyforge/internal/capability"
	"storyforge/internal/domain"
	"storyforge/internal/infra"
	"storyforge/internal/storage"
)

type fakeEnqueuer struct {
	mu  sync.Mutex
	ids []string
}

func (f *fakeEnqueuer) Enqueue(jobID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ids = append(f.ids, jobID)
}

type fakeBlobs struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

func newFakeBlobs() *fakeBlobs {
	return &fakeBlobs{blobs: map[string][]byte{}}
}

func (f *fakeBlobs) Put(_ context.Context, key string, data []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blobs[key] = append([]byte(nil), data...)
	return key, nil
}

func (f *fakeBlobs) Get(_ context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.blobs[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return data, nil
}

type testEnv struct {
	app    *App
	repo   *repo.Memory
	runner *fakeEnqueuer
	blobs  *fakeBlobs
	router chi.Router
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	caps := map[capability.Kind]map[string][]capability.ProviderConfig{}
	for _, kind := range capability.Kinds {
		caps[kind] = map[string][]capability.ProviderConfig{
			"en": {{Vendor: "openai", Model: "gpt-4o-mini"}},
		}
	}
	resolver := capability.NewResolver(capability.NewStaticSource(&capability.Settings{
		DefaultLanguage: "en",
		Capabilities:    caps,
	}))

	jobs := repo.NewMemory()
	runner := &fakeEnqueuer{}
	blobs := newFakeBlobs()
	app := NewApp(jobs, runner, blobs, resolver, infra.NewLogger("test"))

	r := chi.NewRouter()
	r.Post("/v1/stories", app.StoriesCreate)
	r.Get("/v1/stories/{job_id}", app.StoriesGet)
	r.Post("/v1/stories/{job_id}/approve", app.StoriesApprove)
	r.Post("/v1/stories/{job_id}/reject", app.StoriesReject)
	r.Get("/v1/stories/{job_id}/audio", app.StoriesAudio)

	return &testEnv{app: app, repo: jobs, runner: runner, blobs: blobs, router: r}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func TestCreateStoryTextInput(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/v1/stories", map[string]any{
		"input_type": "text",
		"text":       "a small boat lost at sea",
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202: %s", rec.Code, rec.Body.String())
	}

	var resp createStoryResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.JobID == "" || resp.Status != "pending" {
		t.Fatalf("response = %+v", resp)
	}
	if len(env.runner.ids) != 1 || env.runner.ids[0] != resp.JobID {
		t.Fatalf("enqueued ids = %v", env.runner.ids)
	}

	job, err := env.repo.Get(context.Background(), resp.JobID)
	if err != nil {
		t.Fatalf("job not persisted: %v", err)
	}
	if job.InputType != domain.InputTypeText || job.ApprovalPolicy != domain.ApprovalAuto {
		t.Fatalf("job = %+v", job)
	}
	payload, err := env.blobs.Get(context.Background(), job.InputRef)
	if err != nil {
		t.Fatalf("input blob missing: %v", err)
	}
	if string(payload) != "a small boat lost at sea" {
		t.Fatalf("payload = %q", payload)
	}
	if job.Language != "en" {
		t.Fatalf("language = %q, want detected or default en", job.Language)
	}
}

func TestCreateStoryImageInput(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/v1/stories", map[string]any{
		"input_type":      "image",
		"payload_base64":  base64.StdEncoding.EncodeToString([]byte{0x89, 0x50, 0x4e, 0x47}),
		"mime":            "image/png",
		"language":        "id-ID",
		"approval_policy": "manual",
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var resp createStoryResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	job, err := env.repo.Get(context.Background(), resp.JobID)
	if err != nil {
		t.Fatalf("job not persisted: %v", err)
	}
	if job.Language != "id-ID" {
		t.Fatalf("explicit language must win, got %q", job.Language)
	}
	if job.ApprovalPolicy != domain.ApprovalManual {
		t.Fatalf("policy = %q", job.ApprovalPolicy)
	}
}

func TestCreateStoryValidation(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	cases := []struct {
		name string
		body map[string]any
	}{
		{name: "unknown_input_type", body: map[string]any{"input_type": "video"}},
		{name: "text_without_text", body: map[string]any{"input_type": "text"}},
		{name: "image_without_payload", body: map[string]any{"input_type": "image"}},
		{name: "bad_base64", body: map[string]any{"input_type": "audio", "payload_base64": "!!!not-base64!!!"}},
		{name: "bad_policy", body: map[string]any{"input_type": "text", "text": "hi", "approval_policy": "sometimes"}},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/v1/stories", tc.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400: %s", rec.Code, rec.Body.String())
			}
		})
	}
	if len(env.runner.ids) != 0 {
		t.Fatalf("invalid requests must not enqueue jobs, got %v", env.runner.ids)
	}
}

func TestGetStoryPendingIsStable(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/v1/stories", map[string]any{"input_type": "text", "text": "hello"})
	var created createStoryResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode response: %v", err)
	}

	for i := 0; i < 3; i++ {
		rec = env.do(t, http.MethodGet, "/v1/stories/"+created.JobID, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
		var got storyResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
			t.Fatalf("decode response: %v", err)
		}
		if got.Status != domain.StatusPending {
			t.Fatalf("status = %s, want pending", got.Status)
		}
		if len(got.StageOutputs) != 0 || len(got.Metadata) != 0 {
			t.Fatalf("pending job must have empty outputs, got %+v", got)
		}
		if got.Error != nil {
			t.Fatalf("pending job must have no error, got %+v", got.Error)
		}
	}
}

func TestGetStoryNotFound(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/v1/stories/nope", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestGetStoryFailedIncludesError(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()
	now := time.Now().UTC()
	if err := env.repo.Create(ctx, &domain.Job{
		ID: "failed-job", InputType: domain.InputTypeText, Status: domain.StatusPending,
		ApprovalPolicy: domain.ApprovalAuto, CreatedAt: now, UpdatedAt: now,
	}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := env.repo.Transition(ctx, "failed-job", domain.StatusPending, domain.StatusProcessing, domain.Patch{}); err != nil {
		t.Fatalf("transition: %v", err)
	}
	if _, err := env.repo.Transition(ctx, "failed-job", domain.StatusProcessing, domain.StatusFailed, domain.Patch{
		ErrorKind: "all_providers_failed", ErrorMessage: "stage speak: all providers failed",
	}); err != nil {
		t.Fatalf("transition: %v", err)
	}

	rec := env.do(t, http.MethodGet, "/v1/stories/failed-job", nil)
	var got storyResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.Error == nil || got.Error.Kind != "all_providers_failed" {
		t.Fatalf("error = %+v", got.Error)
	}
}

func seedPendingApproval(t *testing.T, env *testEnv, id string) {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()
	if err := env.repo.Create(ctx, &domain.Job{
		ID: id, InputType: domain.InputTypeText, Status: domain.StatusPending,
		ApprovalPolicy: domain.ApprovalManual, CreatedAt: now, UpdatedAt: now,
	}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := env.repo.Transition(ctx, id, domain.StatusPending, domain.StatusProcessing, domain.Patch{}); err != nil {
		t.Fatalf("transition: %v", err)
	}
	if _, err := env.repo.Transition(ctx, id, domain.StatusProcessing, domain.StatusPendingApproval, domain.Patch{}); err != nil {
		t.Fatalf("transition: %v", err)
	}
}

func TestApproveStory(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	seedPendingApproval(t, env, "j1")

	rec := env.do(t, http.MethodPost, "/v1/stories/j1/approve", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var got storyResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.Status != domain.StatusCompleted {
		t.Fatalf("status = %s, want completed", got.Status)
	}

	// Approving twice hits the closed guard.
	rec = env.do(t, http.MethodPost, "/v1/stories/j1/approve", nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("second approve status = %d, want 409", rec.Code)
	}
}

func TestRejectStory(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	seedPendingApproval(t, env, "j2")

	rec := env.do(t, http.MethodPost, "/v1/stories/j2/reject", map[string]any{"reason": "tone is off"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var got storyResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.Status != domain.StatusRejected || got.RejectReason != "tone is off" {
		t.Fatalf("got %+v", got)
	}
}

func TestApproveRejectsWrongState(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()
	now := time.Now().UTC()
	if err := env.repo.Create(ctx, &domain.Job{
		ID: "j3", InputType: domain.InputTypeText, Status: domain.StatusPending,
		ApprovalPolicy: domain.ApprovalAuto, CreatedAt: now, UpdatedAt: now,
	}); err != nil {
		t.Fatalf("create: %v", err)
	}
	rec := env.do(t, http.MethodPost, "/v1/stories/j3/approve", nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
	rec = env.do(t, http.MethodPost, "/v1/stories/missing/approve", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestStoryAudio(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()
	now := time.Now().UTC()
	ref, err := env.blobs.Put(ctx, "stories/j4/story.mp3", []byte("mp3-bytes"))
	if err != nil {
		t.Fatalf("put blob: %v", err)
	}
	if err := env.repo.Create(ctx, &domain.Job{
		ID: "j4", InputType: domain.InputTypeText, Status: domain.StatusPending,
		ApprovalPolicy: domain.ApprovalAuto, CreatedAt: now, UpdatedAt: now,
	}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := env.repo.AppendStageOutput(ctx, "j4", domain.StageOutput{Stage: domain.StageSpeak, AudioRef: ref}); err != nil {
		t.Fatalf("append output: %v", err)
	}

	rec := env.do(t, http.MethodGet, "/v1/stories/j4/audio", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "audio/mpeg" {
		t.Fatalf("content type = %q", ct)
	}
	if rec.Body.String() != "mp3-bytes" {
		t.Fatalf("body = %q", rec.Body.String())
	}
}

func TestStoryAudioNotReady(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()
	now := time.Now().UTC()
	if err := env.repo.Create(ctx, &domain.Job{
		ID: "j5", InputType: domain.InputTypeText, Status: domain.StatusPending,
		ApprovalPolicy: domain.ApprovalAuto, CreatedAt: now, UpdatedAt: now,
	}); err != nil {
		t.Fatalf("create: %v", err)
	}
	rec := env.do(t, http.MethodGet, "/v1/stories/j5/audio", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}
