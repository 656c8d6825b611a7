package capability

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"
)

// Source supplies the current capability settings. Implementations are read
// per orchestration run, so a vendor swap takes effect without a restart.
type Source interface {
	Load(ctx context.Context) (*Settings, error)
}

// StaticSource serves a fixed settings value. Used in tests and for
// environments without a settings file.
type StaticSource struct {
	settings *Settings
}

func NewStaticSource(s *Settings) *StaticSource {
	return &StaticSource{settings: s}
}

func (s *StaticSource) Load(context.Context) (*Settings, error) {
	if s.settings == nil {
		return nil, fmt.Errorf("settings: none configured")
	}
	return s.settings, nil
}

// FileSource reads settings from a JSON file, re-parsing when the file's
// mtime changes. A short TTL caps how often the file is stat'ed under load.
// A file that turns invalid keeps serving the last good settings so a bad
// edit cannot starve running jobs.
type FileSource struct {
	path string
	ttl  time.Duration

	mu        sync.Mutex
	cached    *Settings
	mtime     time.Time
	checkedAt time.Time
}

const defaultSourceTTL = 5 * time.Second

func NewFileSource(path string, ttl time.Duration) *FileSource {
	if ttl <= 0 {
		ttl = defaultSourceTTL
	}
	return &FileSource{path: path, ttl: ttl}
}

func (f *FileSource) Load(ctx context.Context) (*Settings, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	now := time.Now()
	if f.cached != nil && now.Sub(f.checkedAt) < f.ttl {
		return f.cached, nil
	}

	info, err := os.Stat(f.path)
	if err != nil {
		if f.cached != nil {
			return f.cached, nil
		}
		return nil, fmt.Errorf("settings: stat %s: %w", f.path, err)
	}
	f.checkedAt = now
	if f.cached != nil && info.ModTime().Equal(f.mtime) {
		return f.cached, nil
	}

	data, err := os.ReadFile(f.path)
	if err != nil {
		if f.cached != nil {
			return f.cached, nil
		}
		return nil, fmt.Errorf("settings: read %s: %w", f.path, err)
	}
	parsed, err := ParseSettings(data)
	if err != nil {
		if f.cached != nil {
			return f.cached, nil
		}
		return nil, err
	}

	f.cached = parsed
	f.mtime = info.ModTime()
	return parsed, nil
}
