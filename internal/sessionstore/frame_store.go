package sessionstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/localrivet/codebridge/internal/lexstore"
	"github.com/localrivet/codebridge/internal/telemetry"
)

// On-disk layout and frame defaults.
const (
	DirName  = ".codebridge"
	FileName = "sessions.mv2"

	FrameTitle = "Session Frame"
	SessionTag = "session_id"
	MessageTag = "message"

	DefaultTopK         = 10
	DefaultSnippetChars = 500
	AnonymousSubject    = "anonymous"
)

// Identity is the subject searches run as. The zero value with
// SubjectID "anonymous" is used unless the caller supplies one.
type Identity struct {
	TenantID  string
	SubjectID string
	Roles     []string
	GroupIDs  []string
}

// FrameStore is the lock-guarded handle to one open engine.
type FrameStore struct {
	sem    *semaphore.Weighted
	engine Engine
	path   string

	logger       *slog.Logger
	metrics      *telemetry.MetricsCollector
	topK         int
	snippetChars int
	identity     Identity
	newFrameID   func() string
}

// Option configures a FrameStore.
type Option func(*FrameStore)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *FrameStore) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics records operation metrics into m.
func WithMetrics(m *telemetry.MetricsCollector) Option {
	return func(s *FrameStore) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithSearchLimits overrides the result cap and snippet length used by
// searches. Non-positive values keep the defaults.
func WithSearchLimits(topK, snippetChars int) Option {
	return func(s *FrameStore) {
		if topK > 0 {
			s.topK = topK
		}
		if snippetChars > 0 {
			s.snippetChars = snippetChars
		}
	}
}

// WithIdentity replaces the anonymous search subject.
func WithIdentity(id Identity) Option {
	return func(s *FrameStore) {
		if id.SubjectID == "" {
			id.SubjectID = AnonymousSubject
		}
		s.identity = id
	}
}

// New wraps an already open engine. Most callers want OpenOrCreate.
func New(engine Engine, path string, opts ...Option) *FrameStore {
	s := &FrameStore{
		sem:          semaphore.NewWeighted(1),
		engine:       engine,
		path:         path,
		logger:       slog.Default(),
		metrics:      telemetry.NewMetricsCollector(),
		topK:         DefaultTopK,
		snippetChars: DefaultSnippetChars,
		identity:     Identity{SubjectID: AnonymousSubject},
		newFrameID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var (
	openEngine = func(path string, logger *slog.Logger) (Engine, error) {
		db, err := lexstore.Open(path, lexstore.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		return db, nil
	}
	createEngine = func(path string, logger *slog.Logger) (Engine, error) {
		db, err := lexstore.Create(path, lexstore.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		return db, nil
	}
)

// StorePath returns the store file location for a project root.
func StorePath(projectRoot string) string {
	return filepath.Join(projectRoot, DirName, FileName)
}

// OpenOrCreate opens the session store under projectRoot, creating the
// directory and file when missing, and enables the lexical index before
// returning. It must not be called twice for the same root in one process.
func OpenOrCreate(ctx context.Context, projectRoot string, opts ...Option) (*FrameStore, error) {
	s := New(nil, StorePath(projectRoot), opts...)

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, s.fail(StageDirCreate, err)
	}

	var (
		engine Engine
		err    error
	)
	if fileExists(s.path) {
		s.logger.Debug("Opening session store", "path", s.path)
		if engine, err = openEngine(s.path, s.logger); err != nil {
			return nil, s.fail(StageOpen, err)
		}
	} else {
		s.logger.Debug("Creating session store", "path", s.path)
		if engine, err = createEngine(s.path, s.logger); err != nil {
			return nil, s.fail(StageCreate, err)
		}
	}
	s.engine = engine

	err = s.withLock(ctx, func(e Engine) error {
		if err := e.EnableLex(); err != nil {
			return s.fail(StageEnableLex, err)
		}
		if err := e.Commit(); err != nil {
			return s.fail(StageCommitAfterEnable, err)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Join(err, engine.Close())
	}

	s.logger.Info("Session store ready", "path", s.path)
	return s, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Path returns the store file location.
func (s *FrameStore) Path() string {
	return s.path
}

// Metrics returns the collector the store records into.
func (s *FrameStore) Metrics() *telemetry.MetricsCollector {
	return s.metrics
}

// withLock runs fn with exclusive access to the engine. Waiting for the lock
// honours ctx; once held, fn runs to completion and the lock is released on
// every return path.
func (s *FrameStore) withLock(ctx context.Context, fn func(Engine) error) error {
	start := time.Now()
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return s.fail(StageLock, err)
	}
	defer s.sem.Release(1)
	s.metrics.RecordTimer(telemetry.MetricLockWait, time.Since(start))

	if s.engine == nil {
		return ErrClosed
	}
	return fn(s.engine)
}

// fail wraps err with its stage and counts it.
func (s *FrameStore) fail(stage Stage, err error) error {
	s.metrics.IncrementCounter(telemetry.MetricFailurePrefix+string(stage), 1)
	return stageError(stage, err).WithField("path", s.path)
}

// FrameURI returns the resource identifier of a frame.
func FrameURI(sessionID, frameID string) string {
	return fmt.Sprintf("session://%s/%s", sessionID, frameID)
}

// AppendFrame stores content as a new frame of sessionID. The frame is
// committed before AppendFrame returns; on error nothing is visible, except
// that a failed commit leaves durability unknown and the caller should
// re-check before retrying.
func (s *FrameStore) AppendFrame(ctx context.Context, content, sessionID string) error {
	if sessionID == "" {
		return s.fail(StageValidate, ErrEmptySessionID)
	}

	start := time.Now()
	frameID := s.newFrameID()
	opts := lexstore.PutOptions{
		Title: FrameTitle,
		URI:   FrameURI(sessionID, frameID),
		Tags: map[string]string{
			SessionTag: sessionID,
			MessageTag: content,
		},
	}

	err := s.withLock(ctx, func(e Engine) error {
		if err := e.EnableLex(); err != nil {
			return s.fail(StageEnableBeforePut, err)
		}
		if err := e.PutBytes([]byte(content), opts); err != nil {
			return s.fail(StagePut, err)
		}
		if err := e.Commit(); err != nil {
			return s.fail(StageCommit, err)
		}
		s.metrics.RecordTimestamp(telemetry.MetricLastCommit)
		return nil
	})
	if err != nil {
		s.metrics.IncrementCounter(telemetry.MetricAppendFailures, 1)
		s.logger.Error("Failed to append frame", "session_id", sessionID, "stage", StageOf(err), "error", err)
		return err
	}

	s.metrics.IncrementCounter(telemetry.MetricAppends, 1)
	s.metrics.RecordTimestamp(telemetry.MetricLastAppend)
	s.metrics.RecordTimer(telemetry.MetricAppendLatency, time.Since(start))
	s.logger.Debug("Appended frame", "session_id", sessionID, "uri", opts.URI, "length", len(content))
	return nil
}

// SearchText returns the text of up to the configured number of frames
// matching query, in engine rank order.
func (s *FrameStore) SearchText(ctx context.Context, query string) ([]string, error) {
	return s.search(ctx, lexstore.SearchRequest{Query: query})
}

// GetSessionFrames returns the text of frames tagged with sessionID.
func (s *FrameStore) GetSessionFrames(ctx context.Context, sessionID string) ([]string, error) {
	if sessionID == "" {
		return nil, s.fail(StageValidate, ErrEmptySessionID)
	}
	return s.search(ctx, lexstore.SearchRequest{
		Tags: map[string]string{SessionTag: sessionID},
	})
}

func (s *FrameStore) search(ctx context.Context, req lexstore.SearchRequest) ([]string, error) {
	start := time.Now()
	req.TopK = s.topK
	req.SnippetChars = s.snippetChars
	req.ACLContext = s.aclContext()
	req.ACLEnforcementMode = lexstore.ACLAudit

	var results []string
	err := s.withLock(ctx, func(e Engine) error {
		if err := e.EnableLex(); err != nil {
			return s.fail(StageEnableBeforeSearch, err)
		}
		resp, err := e.Search(req)
		if err != nil {
			return s.fail(StageSearch, err)
		}
		results = make([]string, 0, len(resp.Hits))
		for _, hit := range resp.Hits {
			results = append(results, hit.Text)
		}
		return nil
	})
	if err != nil {
		s.metrics.IncrementCounter(telemetry.MetricSearchFailures, 1)
		s.logger.Error("Failed to search session store", "query", req.Query, "stage", StageOf(err), "error", err)
		return nil, err
	}

	s.metrics.IncrementCounter(telemetry.MetricSearches, 1)
	s.metrics.SetGauge(telemetry.MetricLastHitCount, float64(len(results)))
	s.metrics.RecordTimer(telemetry.MetricSearchLatency, time.Since(start))
	s.logger.Debug("Searched session store", "query", req.Query, "tags", req.Tags, "count", len(results))
	return results, nil
}

// aclContext builds a fresh access context for one query.
func (s *FrameStore) aclContext() *lexstore.ACLContext {
	return &lexstore.ACLContext{
		TenantID:  s.identity.TenantID,
		SubjectID: s.identity.SubjectID,
		Roles:     append([]string{}, s.identity.Roles...),
		GroupIDs:  append([]string{}, s.identity.GroupIDs...),
	}
}

// Close waits for the in-flight operation, then closes the engine.
// Later calls return ErrClosed.
func (s *FrameStore) Close() error {
	return s.withLock(context.Background(), func(e Engine) error {
		s.engine = nil
		if err := e.Close(); err != nil {
			return fmt.Errorf("failed to close session store: %w", err)
		}
		s.logger.Debug("Closed session store", "path", s.path)
		return nil
	})
}
