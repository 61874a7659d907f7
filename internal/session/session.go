// Package session manages the ephemeral files owned by one processing request.
//
// A Workspace is the process-wide staging root, created once at startup.
// Each request opens a Session inside it; every file the session hands out is
// named after the session ID, so concurrent sessions never collide on disk,
// and every file is removed when the session is cleaned up.
package session

import (
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/maauso/outro-api/internal/metrics"
)

// Kind identifies one of the files a session may allocate.
type Kind string

const (
	// KindInput is the acquired source video.
	KindInput Kind = "input"
	// KindOutro is the downloaded outro clip.
	KindOutro Kind = "outro"
	// KindOutput is the concatenated result.
	KindOutput Kind = "output"
	// KindThumbnail is the still frame extracted from the source.
	KindThumbnail Kind = "thumbnail"
	// KindCover is the intermediate file written while muxing the cover image.
	KindCover Kind = "cover"
)

var extensions = map[Kind]string{
	KindInput:     ".mp4",
	KindOutro:     ".mp4",
	KindOutput:    ".mp4",
	KindThumbnail: ".jpg",
	KindCover:     ".mp4",
}

// Status is the lifecycle state of a Session.
type Status string

const (
	// StatusOpen indicates the session may still allocate files.
	StatusOpen Status = "OPEN"
	// StatusClosed indicates Cleanup has run.
	StatusClosed Status = "CLOSED"
)

// Session owns the set of temporary file paths for one request.
// It is safe for concurrent use.
type Session struct {
	// ID is the globally unique session identifier.
	ID string

	dir    string
	logger *slog.Logger

	mu        sync.Mutex
	status    Status
	allocated []string
	seen      map[string]struct{}
}

// FileName returns the name used for a file of the given kind in session id.
func FileName(id string, kind Kind) string {
	ext, ok := extensions[kind]
	if !ok {
		ext = ".tmp"
	}
	return id + "_" + string(kind) + ext
}

// Path returns the deterministic path for a file of the given kind and records
// it for removal at cleanup. Calling Path twice with the same kind returns the
// same path.
func (s *Session) Path(kind Kind) string {
	p := filepath.Join(s.dir, FileName(s.ID, kind))

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.seen[p]; !ok {
		s.seen[p] = struct{}{}
		s.allocated = append(s.allocated, p)
	}
	return p
}

// Paths returns every path allocated so far, in allocation order.
func (s *Session) Paths() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.allocated))
	copy(out, s.allocated)
	return out
}

// Status returns the current lifecycle state.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Cleanup removes every path the session allocated. Files that do not exist
// are ignored; any other removal failure is logged and counted, never returned.
// Cleanup does not take a context: it must run even after the request context
// has been cancelled. It returns the number of files that could not be removed.
func (s *Session) Cleanup() int {
	s.mu.Lock()
	paths := s.allocated
	s.allocated = nil
	s.seen = make(map[string]struct{})
	wasOpen := s.status == StatusOpen
	s.status = StatusClosed
	s.mu.Unlock()

	if wasOpen {
		metrics.SessionsOpen.Dec()
	}

	failures := 0
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			failures++
			metrics.SessionCleanupFailuresTotal.Inc()
			s.logger.Warn("failed to remove session file",
				slog.String("session_id", s.ID),
				slog.String("path", p),
				slog.String("error", err.Error()),
			)
		}
	}

	s.logger.Debug("session cleaned up",
		slog.String("session_id", s.ID),
		slog.Int("files", len(paths)),
		slog.Int("failures", failures),
	)

	return failures
}
