// Package pipeline orchestrates one outro post-processing run: acquire the
// source video, probe it, select and fetch the matching outro, extract a
// cover frame, concatenate, embed the cover and return the finished bytes.
// Every file a run creates lives in a session.Session that is cleaned up
// whether the run succeeds or fails.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/maauso/outro-api/internal/fetch"
	"github.com/maauso/outro-api/internal/media"
	"github.com/maauso/outro-api/internal/metrics"
	"github.com/maauso/outro-api/internal/outro"
	"github.com/maauso/outro-api/internal/session"
)

const (
	// DefaultFilename is used when a request names no output file.
	DefaultFilename = "video.mp4"
	// ContentType is the media type of every pipeline result.
	ContentType = "video/mp4"

	defaultStepTimeout = 2 * time.Minute
	defaultThumbnailAt = time.Second
)

// Request is the input of one pipeline run.
type Request struct {
	// VideoURL is a remote URL or, with IsBlob, a base64 data URI.
	VideoURL string
	// Filename is the suggested download name of the result.
	Filename string
	// AspectRatio is accepted for compatibility; the outro is chosen from
	// the probed resolution, not from this value.
	AspectRatio string
	// IsBlob marks VideoURL as inline data.
	IsBlob bool
}

// Validate checks the required fields.
func (r Request) Validate() error {
	if strings.TrimSpace(r.VideoURL) == "" {
		return fmt.Errorf("%w: videoUrl is required", ErrValidation)
	}
	if strings.TrimSpace(r.AspectRatio) == "" {
		return fmt.Errorf("%w: aspectRatio is required", ErrValidation)
	}
	return nil
}

// VideoAsset is a video file materialized inside a session.
type VideoAsset struct {
	Path       string
	Source     fetch.SourceKind
	Resolution media.Resolution
}

// Result is the outcome of a successful run.
type Result struct {
	// Data is the finished MP4. It is read into memory before the session's
	// files are removed.
	Data        []byte
	Filename    string
	ContentType string

	SessionID  string
	Source     fetch.SourceKind
	Resolution media.Resolution
	Outro      outro.Key
	OutroURL   string
	// CoverEmbedded is false when the best-effort cover embed was skipped.
	CoverEmbedded bool
	History       []Transition
}

// Runner runs the pipeline. It is implemented by Service.
type Runner interface {
	Run(ctx context.Context, req Request) (*Result, error)
}

// Service runs pipelines against shared infrastructure.
// It is safe for concurrent use.
type Service struct {
	workspace *session.Workspace
	acquirer  fetch.Acquirer
	fetcher   fetch.Fetcher
	processor media.Processor
	catalog   *outro.Catalog
	logger    *slog.Logger

	// slots caps concurrent runs. Nil means unlimited.
	slots       *semaphore.Weighted
	stepTimeout time.Duration
	thumbnailAt time.Duration
	maxDuration time.Duration
}

// Option configures a Service.
type Option func(*Service)

// WithMaxConcurrent caps the number of runs that hold a session at once.
// Zero or a negative value means unlimited.
func WithMaxConcurrent(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.slots = semaphore.NewWeighted(int64(n))
		} else {
			s.slots = nil
		}
	}
}

// WithStepTimeout bounds each step. Zero disables the per-step bound.
func WithStepTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d >= 0 {
			s.stepTimeout = d
		}
	}
}

// WithThumbnailAt sets the offset of the cover frame.
func WithThumbnailAt(d time.Duration) Option {
	return func(s *Service) {
		if d >= 0 {
			s.thumbnailAt = d
		}
	}
}

// WithMaxSourceDuration rejects sources longer than d during probing.
// Zero disables the check.
func WithMaxSourceDuration(d time.Duration) Option {
	return func(s *Service) {
		if d >= 0 {
			s.maxDuration = d
		}
	}
}

// NewService creates a new Service.
func NewService(
	ws *session.Workspace,
	acquirer fetch.Acquirer,
	fetcher fetch.Fetcher,
	processor media.Processor,
	catalog *outro.Catalog,
	logger *slog.Logger,
	opts ...Option,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		workspace:   ws,
		acquirer:    acquirer,
		fetcher:     fetcher,
		processor:   processor,
		catalog:     catalog,
		logger:      logger,
		stepTimeout: defaultStepTimeout,
		thumbnailAt: defaultThumbnailAt,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run executes the pipeline for req. On success the result holds the
// finished video; on failure the error is a *StageError (or wraps
// ErrValidation) naming the failed step. All session files are removed
// before Run returns in both cases.
func (s *Service) Run(ctx context.Context, req Request) (res *Result, err error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	if s.slots != nil {
		waitStart := time.Now()
		if err := s.slots.Acquire(ctx, 1); err != nil {
			waited := time.Since(waitStart)
			qerr := &StageError{Stage: StateQueued, Kind: ErrInternal, Err: fmt.Errorf("%w after %s: %w", ErrQueueWait, waited.Round(time.Millisecond), err)}
			metrics.PipelineRunsTotal.WithLabelValues(string(StateFailed), string(StateQueued)).Inc()
			s.logger.Error("pipeline failed",
				slog.String("stage", string(StateQueued)),
				slog.Duration("elapsed", waited),
				slog.String("error", qerr.Error()),
			)
			return nil, qerr
		}
		defer s.slots.Release(1)
		metrics.PipelineQueueWaitSeconds.Observe(time.Since(waitStart).Seconds())
	}
	metrics.PipelinesInProgress.Inc()
	defer metrics.PipelinesInProgress.Dec()

	sess := s.workspace.Open()
	r := &run{
		svc:    s,
		sess:   sess,
		req:    req,
		state:  StateAcquiring,
		start:  time.Now(),
		logger: s.logger.With(slog.String("session_id", sess.ID)),
	}

	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("pipeline panicked",
				slog.String("stage", string(r.state)),
				slog.Any("panic", p),
			)
			res = nil
			err = r.fail(&StageError{Stage: r.state, Kind: ErrInternal, Err: fmt.Errorf("panic: %v", p)})
		}
		if failures := sess.Cleanup(); failures > 0 {
			r.logger.Warn("session cleanup incomplete", slog.Int("failures", failures))
		}
		r.finish(err)
	}()

	r.logger.Info("pipeline started",
		slog.Bool("is_blob", req.IsBlob),
		slog.String("aspect_ratio", req.AspectRatio),
	)

	if err := r.execute(ctx); err != nil {
		return nil, err
	}
	return r.result(), nil
}

// run is the state of a single pipeline execution. It is confined to the
// goroutine calling Service.Run.
type run struct {
	svc    *Service
	sess   *session.Session
	req    Request
	logger *slog.Logger

	state   State
	history []Transition
	start   time.Time

	source        VideoAsset
	outroKey      outro.Key
	outroURL      string
	coverEmbedded bool
	data          []byte
}

type step struct {
	state State
	kind  error
	fn    func(ctx context.Context) error
}

func (r *run) execute(ctx context.Context) error {
	steps := []step{
		{StateAcquiring, ErrAcquisition, r.acquire},
		{StateProbing, ErrProbe, r.probe},
		{StateSelectingOutro, ErrInternal, r.selectOutro},
		{StateFetchingOutro, ErrOutroFetch, r.fetchOutro},
		{StateExtractingThumbnail, ErrThumbnailExtraction, r.extractThumbnail},
		{StateConcatenating, ErrConcatenation, r.concatenate},
	}

	for i, st := range steps {
		if i > 0 {
			if err := r.transition(st.state); err != nil {
				return r.fail(&StageError{Stage: r.state, Kind: ErrInternal, Err: err})
			}
		}
		if err := r.runStep(ctx, st); err != nil {
			return r.fail(err)
		}
	}

	if err := r.transition(StateEmbeddingThumbnail); err != nil {
		return r.fail(&StageError{Stage: r.state, Kind: ErrInternal, Err: err})
	}
	r.embedThumbnail(ctx)

	if err := r.transition(StateFinalizing); err != nil {
		return r.fail(&StageError{Stage: r.state, Kind: ErrInternal, Err: err})
	}
	data, err := os.ReadFile(r.sess.Path(session.KindOutput))
	if err != nil {
		return r.fail(&StageError{Stage: StateFinalizing, Kind: ErrInternal, Err: fmt.Errorf("read output: %w", err)})
	}
	r.data = data

	return r.transition(StateCompleted)
}

// runStep executes one fatal step under the step timeout and classifies
// its error.
func (r *run) runStep(ctx context.Context, st step) error {
	stepCtx := ctx
	if r.svc.stepTimeout > 0 {
		var cancel context.CancelFunc
		stepCtx, cancel = context.WithTimeout(ctx, r.svc.stepTimeout)
		defer cancel()
	}

	start := time.Now()
	err := st.fn(stepCtx)
	metrics.PipelineStageDuration.WithLabelValues(string(st.state)).Observe(time.Since(start).Seconds())
	if err == nil {
		return nil
	}

	if ctx.Err() == nil && errors.Is(stepCtx.Err(), context.DeadlineExceeded) {
		err = fmt.Errorf("%w after %s: %w", ErrStepTimeout, r.svc.stepTimeout, err)
	}
	return &StageError{Stage: st.state, Kind: st.kind, Err: err}
}

func (r *run) acquire(ctx context.Context) error {
	dst := r.sess.Path(session.KindInput)
	kind, err := r.svc.acquirer.Acquire(ctx, fetch.Source{VideoURL: r.req.VideoURL, IsBlob: r.req.IsBlob}, dst)
	if err != nil {
		return err
	}
	r.source = VideoAsset{Path: dst, Source: kind}
	r.logger.Debug("source acquired", slog.String("source", string(kind)))
	return nil
}

func (r *run) probe(ctx context.Context) error {
	res, err := r.svc.processor.ProbeResolution(ctx, r.source.Path)
	if err != nil {
		return err
	}
	r.source.Resolution = res

	if r.svc.maxDuration > 0 {
		d, err := r.svc.processor.ProbeDuration(ctx, r.source.Path)
		if err != nil {
			return err
		}
		if d > r.svc.maxDuration {
			return fmt.Errorf("%w: %s > %s", ErrSourceTooLong, d, r.svc.maxDuration)
		}
	}

	r.logger.Debug("source probed", slog.String("resolution", res.String()))
	return nil
}

func (r *run) selectOutro(_ context.Context) error {
	url, key := r.svc.catalog.Select(r.source.Resolution.Width, r.source.Resolution.Height)
	r.outroURL = url
	r.outroKey = key
	metrics.OutroSelectionsTotal.WithLabelValues(string(key.Tier), string(key.Orientation)).Inc()
	r.logger.Info("outro selected",
		slog.String("resolution", r.source.Resolution.String()),
		slog.String("outro", key.String()),
	)
	return nil
}

func (r *run) fetchOutro(ctx context.Context) error {
	return r.svc.fetcher.Download(ctx, r.outroURL, r.sess.Path(session.KindOutro))
}

func (r *run) extractThumbnail(ctx context.Context) error {
	return r.svc.processor.ExtractThumbnail(ctx, r.source.Path, r.sess.Path(session.KindThumbnail), r.svc.thumbnailAt)
}

func (r *run) concatenate(ctx context.Context) error {
	return r.svc.processor.ConcatWithOutro(ctx,
		r.source.Path,
		r.sess.Path(session.KindOutro),
		r.sess.Path(session.KindOutput),
		r.source.Resolution,
	)
}

// embedThumbnail muxes the cover frame into the output. Failures are
// logged and the output is delivered without a cover.
func (r *run) embedThumbnail(ctx context.Context) {
	stepCtx := ctx
	if r.svc.stepTimeout > 0 {
		var cancel context.CancelFunc
		stepCtx, cancel = context.WithTimeout(ctx, r.svc.stepTimeout)
		defer cancel()
	}

	start := time.Now()
	err := r.svc.processor.EmbedThumbnail(stepCtx,
		r.sess.Path(session.KindOutput),
		r.sess.Path(session.KindThumbnail),
		r.sess.Path(session.KindCover),
	)
	metrics.PipelineStageDuration.WithLabelValues(string(StateEmbeddingThumbnail)).Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.ThumbnailEmbedFailuresTotal.Inc()
		r.logger.Warn("thumbnail embed failed, delivering video without cover",
			slog.String("error", Details(err)),
		)
		return
	}
	r.coverEmbedded = true
}

func (r *run) transition(to State) error {
	if !canTransition(r.state, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.state, to)
	}
	r.history = append(r.history, Transition{From: r.state, To: to, At: time.Now()})
	r.state = to
	return nil
}

// fail moves the run to FAILED and returns err. The failed stage stays in
// err; r.state becomes terminal.
func (r *run) fail(err error) error {
	if r.state.IsTerminal() {
		return err
	}
	r.history = append(r.history, Transition{From: r.state, To: StateFailed, At: time.Now()})
	r.state = StateFailed
	return err
}

func (r *run) finish(err error) {
	elapsed := time.Since(r.start)
	if err != nil {
		stage := "unknown"
		var se *StageError
		if errors.As(err, &se) {
			stage = string(se.Stage)
		}
		metrics.PipelineRunsTotal.WithLabelValues(string(StateFailed), stage).Inc()
		r.logger.Error("pipeline failed",
			slog.String("stage", stage),
			slog.Duration("elapsed", elapsed),
			slog.String("error", err.Error()),
		)
		return
	}

	metrics.PipelineRunsTotal.WithLabelValues(string(StateCompleted), "none").Inc()
	r.logger.Info("pipeline completed",
		slog.String("outro", r.outroKey.String()),
		slog.Bool("cover_embedded", r.coverEmbedded),
		slog.Int("bytes", len(r.data)),
		slog.Duration("elapsed", elapsed),
	)
}

func (r *run) result() *Result {
	return &Result{
		Data:          r.data,
		Filename:      SanitizeFilename(r.req.Filename),
		ContentType:   ContentType,
		SessionID:     r.sess.ID,
		Source:        r.source.Source,
		Resolution:    r.source.Resolution,
		Outro:         r.outroKey,
		OutroURL:      r.outroURL,
		CoverEmbedded: r.coverEmbedded,
		History:       r.history,
	}
}

// SanitizeFilename reduces name to a bare file name safe for a
// Content-Disposition header, falling back to DefaultFilename.
func SanitizeFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	name = strings.TrimSpace(strings.Map(func(r rune) rune {
		if r == '"' || r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, name))
	if name == "" || name == "." || name == "/" || name == ".." {
		return DefaultFilename
	}
	return name
}
