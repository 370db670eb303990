package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"mediaguard/internal/config"
	"mediaguard/internal/logging"
	"mediaguard/internal/moderation"
	"mediaguard/internal/services"
	"mediaguard/internal/testsupport"
	"mediaguard/internal/uploads"
)

type rehydratorStub struct {
	paths map[string]string
	err   error
	calls int
}

func (s *rehydratorStub) Rehydrate(_ context.Context, name string) (string, error) {
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	path, ok := s.paths[name]
	if !ok {
		return "", services.Wrap(services.ErrNotFound, "tiering", "rehydrate", name, nil)
	}
	return path, nil
}

type apiFixture struct {
	cfg     *config.Config
	store   *uploads.Store
	files   *rehydratorStub
	handler http.Handler
}

func newAPIFixture(t *testing.T, token string) *apiFixture {
	t.Helper()
	cfg := testsupport.NewConfig(t, testsupport.WithPublicURL("https://media.example.com"))
	cfg.API.Token = token
	store := testsupport.MustOpenStore(t, cfg)
	files := &rehydratorStub{paths: map[string]string{}}
	srv := newAPIServer(cfg, nil, store, files, logging.NewNop())
	return &apiFixture{cfg: cfg, store: store, files: files, handler: srv.routes(token)}
}

func (f *apiFixture) get(t *testing.T, path string, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)
	return w
}

func decodeStatus(t *testing.T, w *httptest.ResponseRecorder) uploadStatus {
	t.Helper()
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 OK, got %d: %s", w.Code, w.Body.String())
	}
	var resp uploadStatus
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return resp
}

func statusPath(id int64) string {
	return "/api/uploads/" + strconv.FormatInt(id, 10) + "/status"
}

func TestUploadStatusApprovedResolvesVariantURLs(t *testing.T) {
	f := newAPIFixture(t, "")
	rec := testsupport.NewVariantUpload(t, f.cfg, f.store, nil, "20260101000000_abc")
	if _, err := f.store.SetStatus(context.Background(), rec.ID, uploads.StatusApproved); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}

	resp := decodeStatus(t, f.get(t, statusPath(rec.ID)))
	if resp.Status != uploads.StatusApproved {
		t.Fatalf("expected approved, got %s", resp.Status)
	}
	want := "https://media.example.com/api/uploads/20260101000000_abc_md.jpg"
	if resp.Variants[uploads.VariantMedium] != want {
		t.Fatalf("expected md variant %q, got %q", want, resp.Variants[uploads.VariantMedium])
	}
	if resp.Location != "" || resp.Message != "" {
		t.Fatalf("unexpected location or message in %+v", resp)
	}
}

func TestUploadStatusApprovedResolvesLocationAndThumbnail(t *testing.T) {
	f := newAPIFixture(t, "")
	ctx := context.Background()
	path := filepath.Join(f.cfg.Paths.UploadDir, "clip.mp4")
	testsupport.WriteFile(t, path, 32)
	rec, err := f.store.Insert(ctx, uploads.NewRecord{
		Filename:  "clip.mp4",
		Path:      path,
		Mime:      "video/mp4",
		Thumbnail: "tclip.jpg",
	})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if _, err := f.store.SetStatus(ctx, rec.ID, uploads.StatusApproved); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}

	resp := decodeStatus(t, f.get(t, statusPath(rec.ID)))
	if resp.Location != "https://media.example.com/api/uploads/clip.mp4" {
		t.Fatalf("unexpected location %q", resp.Location)
	}
	if resp.Thumbnail != "https://media.example.com/api/uploads/tclip.jpg" {
		t.Fatalf("unexpected thumbnail %q", resp.Thumbnail)
	}
}

func TestUploadStatusRejectedHidesDetails(t *testing.T) {
	f := newAPIFixture(t, "")
	rec := testsupport.NewUpload(t, f.cfg, f.store, nil, "bad.png", "image/png", 16)
	if _, err := f.store.SetStatus(context.Background(), rec.ID, uploads.StatusRejected); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}

	resp := decodeStatus(t, f.get(t, statusPath(rec.ID)))
	if resp.Message != moderation.RejectedMessage {
		t.Fatalf("expected policy message, got %q", resp.Message)
	}
	if resp.Location != "" || len(resp.Variants) != 0 {
		t.Fatalf("rejected status must not expose paths: %+v", resp)
	}
}

func TestUploadStatusPendingReturnsBaseDescriptor(t *testing.T) {
	f := newAPIFixture(t, "")
	rec := testsupport.NewUpload(t, f.cfg, f.store, nil, "wait.png", "image/png", 16)

	resp := decodeStatus(t, f.get(t, statusPath(rec.ID)))
	if resp.Status != uploads.StatusPending || resp.Mime != "image/png" {
		t.Fatalf("unexpected descriptor %+v", resp)
	}
	if resp.Location != "" || resp.Message != "" {
		t.Fatalf("pending status must only carry the base descriptor: %+v", resp)
	}
}

func TestUploadStatusFiltersByOwner(t *testing.T) {
	f := newAPIFixture(t, "")
	owner := testsupport.NewUser(t, f.store, "owner@example.com")
	rec := testsupport.NewUpload(t, f.cfg, f.store, &owner, "mine.png", "image/png", 16)

	if w := f.get(t, statusPath(rec.ID)+"?user_id="+strconv.FormatInt(owner, 10)); w.Code != http.StatusOK {
		t.Fatalf("expected owner lookup to succeed, got %d", w.Code)
	}
	if w := f.get(t, statusPath(rec.ID)+"?user_id="+strconv.FormatInt(owner+1, 10)); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for another user, got %d", w.Code)
	}
	if w := f.get(t, statusPath(rec.ID)+"?user_id=abc"); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed user id, got %d", w.Code)
	}
}

func TestUploadStatusUnknownID(t *testing.T) {
	f := newAPIFixture(t, "")
	if w := f.get(t, statusPath(999)); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
	if w := f.get(t, "/api/uploads/0/status"); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestUploadFileServesRehydratedPath(t *testing.T) {
	f := newAPIFixture(t, "")
	path := filepath.Join(f.cfg.Paths.UploadDir, "pic.jpg")
	testsupport.WriteFile(t, path, 128)
	f.files.paths["pic.jpg"] = path

	w := f.get(t, "/api/uploads/pic.jpg")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 OK, got %d", w.Code)
	}
	body, _ := io.ReadAll(w.Body)
	if len(body) != 128 {
		t.Fatalf("expected 128 bytes, got %d", len(body))
	}
	if got := w.Header().Get("Cache-Control"); got != "public, max-age=31536000, immutable" {
		t.Fatalf("unexpected cache header %q", got)
	}
}

func TestUploadFileErrorMapping(t *testing.T) {
	f := newAPIFixture(t, "")
	if w := f.get(t, "/api/uploads/missing.jpg"); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
	if w := f.get(t, "/api/uploads/.hidden"); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for hidden name, got %d", w.Code)
	}

	f.files.err = services.Wrap(services.ErrTransient, "objectstore", "download", "timeout", errors.New("i/o timeout"))
	if w := f.get(t, "/api/uploads/pic.jpg"); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 for transient failure, got %d", w.Code)
	}
}

func TestAuthRequiredWhenTokenConfigured(t *testing.T) {
	f := newAPIFixture(t, "secret")
	rec := testsupport.NewUpload(t, f.cfg, f.store, nil, "a.png", "image/png", 16)

	if w := f.get(t, statusPath(rec.ID)); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", w.Code)
	}
	if w := f.get(t, statusPath(rec.ID), "Authorization", "Bearer wrong"); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with wrong token, got %d", w.Code)
	}
	if w := f.get(t, statusPath(rec.ID), "Authorization", "Bearer secret"); w.Code != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d", w.Code)
	}
	if w := f.get(t, "/healthz"); w.Code != http.StatusOK {
		t.Fatalf("expected healthz to bypass auth, got %d", w.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	f := newAPIFixture(t, "")
	f.get(t, "/healthz")
	w := f.get(t, "/metrics")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 OK, got %d", w.Code)
	}
	if body := w.Body.String(); !strings.Contains(body, "mediaguard_api_requests_total") {
		t.Fatalf("expected api request counter in metrics output")
	}
}
