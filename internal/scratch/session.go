// Package scratch owns per-invocation scratch space. Every file a pipeline
// stage writes to disk is registered with its Session, and the Session is
// swept when the invocation ends, whether it succeeded, failed, panicked, or
// was cancelled. Whitelisted base names (shared branding such as logo.png)
// survive the sweep.
package scratch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// ErrSessionClosed is returned for new paths requested after Close.
var ErrSessionClosed = errors.New("scratch session closed")

// Janitor creates sessions under a base directory.
type Janitor struct {
	baseDir   string
	whitelist []string
}

// NewJanitor returns a Janitor rooted at baseDir. Whitelist entries are
// filepath.Match patterns applied to base names.
func NewJanitor(baseDir string, whitelist ...string) *Janitor {
	return &Janitor{baseDir: baseDir, whitelist: whitelist}
}

// Session is the scratch namespace of one invocation.
type Session struct {
	id        string
	root      string
	whitelist []string

	mu     sync.Mutex
	files  []string
	closed bool
	seq    atomic.Int64
}

// Open creates a fresh session directory.
func (j *Janitor) Open() (*Session, error) {
	id := uuid.NewString()
	root := filepath.Join(j.baseDir, "session-"+id)
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}
	log.Debug().Str("session_id", id).Str("root", root).Msg("Scratch session opened")
	return &Session{id: id, root: root, whitelist: j.whitelist}, nil
}

// Run opens a session, runs fn inside it, and always sweeps the session
// before returning fn's error. A panic in fn is re-raised after the sweep.
func (j *Janitor) Run(ctx context.Context, fn func(ctx context.Context, s *Session) error) error {
	s, err := j.Open()
	if err != nil {
		return err
	}
	defer s.Close()
	return fn(ctx, s)
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Root returns the session directory.
func (s *Session) Root() string { return s.root }

// Register records a path for deletion at sweep time. Registration is
// append-only and safe for concurrent use.
func (s *Session) Register(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		log.Warn().Str("session_id", s.id).Str("path", path).Msg("Registration after session close, removing now")
		s.remove(path)
		return
	}
	s.files = append(s.files, path)
}

// Files returns a copy of the registered paths.
func (s *Session) Files() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.files...)
}

// NewPath returns a registered, session-unique path inside the session
// directory. The file itself is not created.
func (s *Session) NewPath(prefix, ext string) (string, error) {
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	name := fmt.Sprintf("%s_%s_%d%s", sanitize(prefix), s.id[:8], s.seq.Add(1), ext)
	path := filepath.Join(s.root, name)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", ErrSessionClosed
	}
	s.files = append(s.files, path)
	return path, nil
}

// WriteFile writes data to a new registered session path.
func (s *Session) WriteFile(prefix, ext string, data []byte) (string, error) {
	path, err := s.NewPath(prefix, ext)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write scratch file: %w", err)
	}

	// A Close that raced the write has already swept this path.
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		s.remove(path)
		return "", ErrSessionClosed
	}
	return path, nil
}

// Close deletes every registered file and any stray file under the session
// directory except whitelisted names, then removes the directory if empty.
// Failures are logged and never returned. Close is idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	files := s.files
	s.mu.Unlock()

	removed := 0
	for _, path := range files {
		if s.remove(path) {
			removed++
		}
	}

	_ = filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if s.remove(path) {
			removed++
		}
		return nil
	})

	if err := os.Remove(s.root); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Debug().Err(err).Str("root", s.root).Msg("Session dir kept")
	}
	log.Debug().Str("session_id", s.id).Int("removed", removed).Msg("Scratch session swept")
}

func (s *Session) remove(path string) bool {
	if s.whitelisted(path) {
		return false
	}
	if err := os.Remove(path); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			log.Warn().Err(err).Str("session_id", s.id).Str("path", path).Msg("Failed to remove scratch file")
		}
		return false
	}
	return true
}

func (s *Session) whitelisted(path string) bool {
	base := filepath.Base(path)
	for _, pattern := range s.whitelist {
		if ok, _ := filepath.Match(pattern, base); ok {
			return true
		}
	}
	return false
}

func sanitize(prefix string) string {
	if prefix == "" {
		return "file"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, prefix)
}
