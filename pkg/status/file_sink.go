package status

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/spf13/afero"
	"k8s.io/klog/v2"
)

const (
	// DefaultStateDir is where FileSink keeps indicator slots
	DefaultStateDir = "/run/bootmount"

	stateFileMode = 0644
	stateDirMode  = 0755
)

// FileSink stores each indicator as <dir>/<id>.json. Desktop shells, login
// banners and node agents read the file to show progress.
type FileSink struct {
	fs  afero.Fs
	dir string
	mu  sync.Mutex
}

// NewFileSink creates a sink writing under dir on the given filesystem.
// Use afero.NewOsFs() in production and afero.NewMemMapFs() in tests.
func NewFileSink(fs afero.Fs, dir string) *FileSink {
	if dir == "" {
		dir = DefaultStateDir
	}
	return &FileSink{fs: fs, dir: dir}
}

// Path returns the state file for an indicator id
func (s *FileSink) Path(id string) string {
	return filepath.Join(s.dir, id+".json")
}

// Update atomically replaces the state file for ind.ID
func (s *FileSink) Update(_ context.Context, ind Indicator) error {
	data, err := json.Marshal(ind)
	if err != nil {
		return fmt.Errorf("failed to encode indicator: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.fs.MkdirAll(s.dir, stateDirMode); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	final := s.Path(ind.ID)
	tmp := final + ".tmp"
	if err := afero.WriteFile(s.fs, tmp, data, stateFileMode); err != nil {
		return fmt.Errorf("failed to write %s: %w", tmp, err)
	}
	if err := s.fs.Rename(tmp, final); err != nil {
		_ = s.fs.Remove(tmp)
		return fmt.Errorf("failed to replace %s: %w", final, err)
	}

	klog.V(4).Infof("Wrote indicator %s to %s", ind, final)
	return nil
}

// Read returns the indicator currently stored under id
func (s *FileSink) Read(id string) (Indicator, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := afero.ReadFile(s.fs, s.Path(id))
	if err != nil {
		return Indicator{}, fmt.Errorf("failed to read indicator %s: %w", id, err)
	}

	var ind Indicator
	if err := json.Unmarshal(data, &ind); err != nil {
		return Indicator{}, fmt.Errorf("failed to decode indicator %s: %w", id, err)
	}
	return ind, nil
}
