package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/maauso/outro-api/internal/fetch"
	"github.com/maauso/outro-api/internal/media"
	"github.com/maauso/outro-api/internal/metrics"
	"github.com/maauso/outro-api/internal/outro"
	"github.com/maauso/outro-api/internal/pipeline"
	"github.com/maauso/outro-api/internal/session"
)

// mockRunner implements pipeline.Runner for testing.
type mockRunner struct {
	mock.Mock
}

func (m *mockRunner) Run(ctx context.Context, req pipeline.Request) (*pipeline.Result, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*pipeline.Result), args.Error(1)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestHandlers(t *testing.T, opts ...HandlerOption) (*Handlers, *mockRunner) {
	t.Helper()
	runner := new(mockRunner)
	return NewHandlers(runner, testLogger(), opts...), runner
}

func postJSON(t *testing.T, path string, body any) *http.Request {
	t.Helper()
	bodyJSON, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(bodyJSON))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp
}

func TestHealth(t *testing.T) {
	h, _ := newTestHandlers(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()

	h.Health(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	err := json.NewDecoder(rec.Body).Decode(&resp)
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Status)
}

func TestProcessVideo_Success(t *testing.T) {
	h, runner := newTestHandlers(t)

	runner.On("Run", mock.Anything, pipeline.Request{
		VideoURL:    "https://cdn.test/source.mp4",
		Filename:    "my clip.mp4",
		AspectRatio: "16:9",
	}).Return(&pipeline.Result{
		Data:          []byte("finished-video"),
		Filename:      "my clip.mp4",
		ContentType:   "video/mp4",
		SessionID:     "3f6c1f0e-8a43-4d5e-9a39-6c0f3a1f5b2d",
		Outro:         outro.Key{Tier: outro.Tier720, Orientation: outro.Landscape},
		CoverEmbedded: true,
	}, nil)

	rec := httptest.NewRecorder()
	h.ProcessVideo(rec, postJSON(t, "/process-video", ProcessVideoRequest{
		VideoURL:    "https://cdn.test/source.mp4",
		Filename:    "my clip.mp4",
		AspectRatio: "16:9",
	}))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "video/mp4", rec.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename="my clip.mp4"`, rec.Header().Get("Content-Disposition"))
	assert.Equal(t, "14", rec.Header().Get("Content-Length"))
	assert.Equal(t, "true", rec.Header().Get("X-Cover-Embedded"))
	assert.Equal(t, "finished-video", rec.Body.String())
	runner.AssertExpectations(t)
}

func TestProcessVideo_MethodNotAllowed(t *testing.T) {
	for _, method := range []string{http.MethodGet, http.MethodPut, http.MethodDelete, http.MethodOptions} {
		t.Run(method, func(t *testing.T) {
			h, runner := newTestHandlers(t)

			req := httptest.NewRequest(method, "/process-video", nil)
			rec := httptest.NewRecorder()
			h.ProcessVideo(rec, req)

			assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
			assert.Equal(t, http.MethodPost, rec.Header().Get("Allow"))
			assert.Equal(t, CodeMethodNotAllowed, decodeError(t, rec).Code)
			runner.AssertNotCalled(t, "Run", mock.Anything, mock.Anything)
		})
	}
}

func TestProcessVideo_InvalidJSON(t *testing.T) {
	h, runner := newTestHandlers(t)

	req := httptest.NewRequest(http.MethodPost, "/process-video", strings.NewReader("invalid json"))
	rec := httptest.NewRecorder()
	h.ProcessVideo(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, CodeInvalidJSON, decodeError(t, rec).Code)
	runner.AssertNotCalled(t, "Run", mock.Anything, mock.Anything)
}

func TestProcessVideo_ValidationError(t *testing.T) {
	tests := []struct {
		name string
		body ProcessVideoRequest
	}{
		{"missing videoUrl", ProcessVideoRequest{AspectRatio: "16:9"}},
		{"missing aspectRatio", ProcessVideoRequest{VideoURL: "https://cdn.test/a.mp4"}},
		{"empty body", ProcessVideoRequest{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, runner := newTestHandlers(t)

			rec := httptest.NewRecorder()
			h.ProcessVideo(rec, postJSON(t, "/process-video", tt.body))

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			resp := decodeError(t, rec)
			assert.Equal(t, CodeValidation, resp.Code)
			assert.Contains(t, resp.Error, "videoUrl")
			runner.AssertNotCalled(t, "Run", mock.Anything, mock.Anything)
		})
	}
}

func TestProcessVideo_BodyTooLarge(t *testing.T) {
	h, runner := newTestHandlers(t, WithMaxBodyBytes(64))

	rec := httptest.NewRecorder()
	h.ProcessVideo(rec, postJSON(t, "/process-video", ProcessVideoRequest{
		VideoURL:    "data:video/mp4;base64," + strings.Repeat("A", 256),
		AspectRatio: "9:16",
		IsBlob:      true,
	}))

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, CodeBodyTooLarge, decodeError(t, rec).Code)
	runner.AssertNotCalled(t, "Run", mock.Anything, mock.Anything)
}

func TestProcessVideo_PipelineFailure(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		wantCode    string
		wantDetails string
	}{
		{
			name: "acquisition",
			err: &pipeline.StageError{
				Stage: pipeline.StateAcquiring,
				Kind:  pipeline.ErrAcquisition,
				Err:   fmt.Errorf("%w: status 404", fetch.ErrRequestFailed),
			},
			wantCode:    CodeAcquisition,
			wantDetails: "fetch: request failed: status 404",
		},
		{
			name: "thumbnail extraction",
			err: &pipeline.StageError{
				Stage: pipeline.StateExtractingThumbnail,
				Kind:  pipeline.ErrThumbnailExtraction,
				Err:   media.ErrNoFrameExtracted,
			},
			wantCode:    CodeThumbnail,
			wantDetails: media.ErrNoFrameExtracted.Error(),
		},
		{
			name: "concatenation",
			err: &pipeline.StageError{
				Stage: pipeline.StateConcatenating,
				Kind:  pipeline.ErrConcatenation,
				Err:   &media.ToolError{Tool: "ffmpeg", Stderr: "Conversion failed!", Err: errors.New("exit status 1")},
			},
			wantCode:    CodeConcatenation,
			wantDetails: "ffmpeg: Conversion failed!",
		},
		{
			name:        "unclassified",
			err:         errors.New("boom"),
			wantCode:    CodeInternal,
			wantDetails: "boom",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, runner := newTestHandlers(t)
			runner.On("Run", mock.Anything, mock.Anything).Return(nil, tt.err)

			rec := httptest.NewRecorder()
			h.ProcessVideo(rec, postJSON(t, "/process-video", ProcessVideoRequest{
				VideoURL:    "https://cdn.test/source.mp4",
				AspectRatio: "16:9",
			}))

			assert.Equal(t, http.StatusInternalServerError, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
			resp := decodeError(t, rec)
			assert.Equal(t, "Failed to process video", resp.Error)
			assert.Equal(t, tt.wantCode, resp.Code)
			assert.Equal(t, tt.wantDetails, resp.Details)
		})
	}
}

func TestRouter_Integration(t *testing.T) {
	h, runner := newTestHandlers(t)
	router := NewRouter(h, testLogger(), DefaultConfig())

	runner.On("Run", mock.Anything, mock.Anything).Return(&pipeline.Result{
		Data:        []byte("v"),
		Filename:    "video.mp4",
		ContentType: "video/mp4",
	}, nil)

	// Test health endpoint
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	for _, path := range []string{"/process-video", "/api/process-video"} {
		rec = httptest.NewRecorder()
		router.ServeHTTP(rec, postJSON(t, path, ProcessVideoRequest{
			VideoURL:    "https://cdn.test/source.mp4",
			AspectRatio: "16:9",
		}))
		assert.Equal(t, http.StatusOK, rec.Code, path)
		assert.Equal(t, `attachment; filename="video.mp4"`, rec.Header().Get("Content-Disposition"))

		req = httptest.NewRequest(http.MethodGet, path, nil)
		rec = httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code, path)
	}

	// Test metrics endpoint
	req = httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "outro_api_http_requests_total")
}

func TestCORSMiddleware(t *testing.T) {
	h, _ := newTestHandlers(t)

	cfg := Config{AllowedOrigins: []string{"https://example.com"}}
	router := NewRouter(h, testLogger(), cfg)

	// Test with allowed origin
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://example.com")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, "https://example.com", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Expose-Headers"), "Content-Disposition")

	// Test with disallowed origin
	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))

	// Test OPTIONS preflight
	req = httptest.NewRequest(http.MethodOptions, "/process-video", nil)
	req.Header.Set("Origin", "https://example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestRouter_OptionsWithoutPreflightIsMethodNotAllowed(t *testing.T) {
	tests := []struct {
		name   string
		origin string
		acrm   string
	}{
		{"no cors headers", "", ""},
		{"origin only", "https://example.com", ""},
		{"disallowed origin preflight", "https://evil.example", http.MethodPost},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, runner := newTestHandlers(t)
			router := NewRouter(h, testLogger(), Config{AllowedOrigins: []string{"https://example.com"}})

			req := httptest.NewRequest(http.MethodOptions, "/process-video", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			if tt.acrm != "" {
				req.Header.Set("Access-Control-Request-Method", tt.acrm)
			}
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
			assert.Equal(t, http.MethodPost, rec.Header().Get("Allow"))
			assert.Equal(t, CodeMethodNotAllowed, decodeError(t, rec).Code)
			runner.AssertNotCalled(t, "Run", mock.Anything, mock.Anything)
		})
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	// Create a handler that panics
	panicHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("test panic")
	})

	handler := RecoveryMiddleware(testLogger())(panicHandler)

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	rec := httptest.NewRecorder()

	// Should not panic
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, CodeInternal, decodeError(t, rec).Code)
}

func TestMetricsMiddleware(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	handler := MetricsMiddleware("/metrics")(ok)

	counter := metrics.HTTPRequestsTotal.WithLabelValues(http.MethodPost, "/process-video", "418")
	before := testutil.ToFloat64(counter)

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/process-video", nil))
	assert.Equal(t, before+1, testutil.ToFloat64(counter))

	skipped := metrics.HTTPRequestsTotal.WithLabelValues(http.MethodGet, "/metrics", "418")
	before = testutil.ToFloat64(skipped)
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, before, testutil.ToFloat64(skipped))
}

func TestRouteLabel(t *testing.T) {
	assert.Equal(t, "/process-video", routeLabel("/process-video"))
	assert.Equal(t, "/api/process-video", routeLabel("/api/process-video/"))
	assert.Equal(t, "/health", routeLabel("/health"))
	assert.Equal(t, "other", routeLabel("/wp-admin/setup.php"))
}

// skipIfNoFFmpeg skips the test if ffmpeg or ffprobe is not available.
func skipIfNoFFmpeg(t *testing.T) {
	t.Helper()
	for _, tool := range []string{"ffmpeg", "ffprobe"} {
		if _, err := exec.LookPath(tool); err != nil {
			t.Skipf("%s not found in PATH, skipping test", tool)
		}
	}
}

func createTestVideo(t *testing.T, path string, width, height int, duration float64) {
	t.Helper()
	cmd := exec.Command("ffmpeg",
		"-y",
		"-f", "lavfi",
		"-i", fmt.Sprintf("testsrc=size=%dx%d:rate=25:duration=%.1f", width, height, duration),
		"-c:v", "libx264",
		"-preset", "ultrafast",
		"-pix_fmt", "yuv420p",
		path,
	)
	if output, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("failed to create test video: %v\noutput: %s", err, output)
	}
}

func TestProcessVideo_EndToEnd(t *testing.T) {
	skipIfNoFFmpeg(t)

	assets := t.TempDir()
	createTestVideo(t, filepath.Join(assets, "source.mp4"), 640, 360, 3)
	createTestVideo(t, filepath.Join(assets, "outro_l.mp4"), 320, 180, 1)
	createTestVideo(t, filepath.Join(assets, "outro_p.mp4"), 180, 320, 1)

	assetServer := httptest.NewServer(http.FileServer(http.Dir(assets)))
	defer assetServer.Close()

	catalog, err := outro.NewCatalog(outro.URLs{
		Tier720Landscape:     assetServer.URL + "/outro_l.mp4",
		Tier720Portrait:      assetServer.URL + "/outro_p.mp4",
		TierDefaultLandscape: assetServer.URL + "/outro_l.mp4",
		TierDefaultPortrait:  assetServer.URL + "/outro_p.mp4",
	})
	require.NoError(t, err)

	ws, err := session.NewWorkspace(t.TempDir(), testLogger())
	require.NoError(t, err)

	downloader := fetch.NewDownloader(fetch.WithLogger(testLogger()))
	svc := pipeline.NewService(ws, downloader, downloader,
		media.NewFFmpegProcessor("", "", media.WithPreset("ultrafast")),
		catalog, testLogger(),
		pipeline.WithMaxConcurrent(2),
	)
	router := NewRouter(NewHandlers(svc, testLogger()), testLogger(), DefaultConfig())

	sourceBytes, err := os.ReadFile(filepath.Join(assets, "source.mp4"))
	require.NoError(t, err)

	tests := []struct {
		name string
		body ProcessVideoRequest
	}{
		{"remote url", ProcessVideoRequest{
			VideoURL:    assetServer.URL + "/source.mp4",
			Filename:    "final.mp4",
			AspectRatio: "16:9",
		}},
		{"inline data", ProcessVideoRequest{
			VideoURL:    "data:video/mp4;base64," + base64.StdEncoding.EncodeToString(sourceBytes),
			Filename:    "final.mp4",
			AspectRatio: "16:9",
			IsBlob:      true,
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, postJSON(t, "/process-video", tt.body))

			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
			assert.Equal(t, "video/mp4", rec.Header().Get("Content-Type"))
			assert.Equal(t, `attachment; filename="final.mp4"`, rec.Header().Get("Content-Disposition"))

			body := rec.Body.Bytes()
			require.Greater(t, len(body), 8)
			assert.Equal(t, "ftyp", string(body[4:8]))

			entries, err := os.ReadDir(ws.Root())
			require.NoError(t, err)
			assert.Empty(t, entries, "session files left behind")
		})
	}

	t.Run("unreachable source", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, postJSON(t, "/process-video", ProcessVideoRequest{
			VideoURL:    assetServer.URL + "/missing.mp4",
			AspectRatio: "16:9",
		}))

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Equal(t, CodeAcquisition, decodeError(t, rec).Code)

		entries, err := os.ReadDir(ws.Root())
		require.NoError(t, err)
		assert.Empty(t, entries, "session files left behind")
	})
}
