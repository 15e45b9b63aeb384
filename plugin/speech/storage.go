package speech

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/lithammer/shortuuid/v4"
	"github.com/pkg/errors"
)

// Storage keeps synthesized mp3 artifacts on disk with age-based cleanup.
type Storage struct {
	dir string
	ttl time.Duration
}

// NewStorage creates the audio directory if needed.
func NewStorage(dataDir string, ttl time.Duration) (*Storage, error) {
	dir := filepath.Join(dataDir, "audio")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "unable to create audio folder %s", dir)
	}
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	return &Storage{dir: dir, ttl: ttl}, nil
}

// Save writes an mp3 artifact and returns its filename.
func (s *Storage) Save(data []byte) (string, error) {
	filename := shortuuid.New() + ".mp3"
	if err := os.WriteFile(filepath.Join(s.dir, filename), data, 0o644); err != nil {
		return "", errors.Wrap(err, "failed to write audio file")
	}
	return filename, nil
}

// Resolve returns the on-disk path for a stored artifact. Only plain mp3
// filenames are accepted; anything that could escape the audio directory is
// rejected.
func (s *Storage) Resolve(filename string) (string, error) {
	if filename == "" || filename != filepath.Base(filename) || strings.Contains(filename, "..") {
		return "", errors.Errorf("invalid audio filename %q", filename)
	}
	if filepath.Ext(filename) != ".mp3" {
		return "", errors.Errorf("invalid audio filename %q", filename)
	}
	path := filepath.Join(s.dir, filename)
	if _, err := os.Stat(path); err != nil {
		return "", errors.Wrapf(err, "audio file not found: %s", filename)
	}
	return path, nil
}

// CleanupOldFiles removes artifacts older than the TTL and returns how many
// were deleted.
func (s *Storage) CleanupOldFiles() int {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0
	}

	cutoff := time.Now().Add(-s.ttl)
	cleaned := 0
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".mp3" {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(filepath.Join(s.dir, entry.Name())); err == nil {
				cleaned++
			}
		}
	}
	return cleaned
}

// CleanupJob periodically reclaims expired audio artifacts.
type CleanupJob struct {
	storage  *Storage
	interval time.Duration

	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
}

// NewCleanupJob creates a cleanup job.
func NewCleanupJob(storage *Storage, interval time.Duration) *CleanupJob {
	if interval <= 0 {
		interval = 30 * time.Minute
	}
	return &CleanupJob{storage: storage, interval: interval}
}

// Start begins the periodic cleanup. Non-blocking.
func (j *CleanupJob) Start(ctx context.Context) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.running {
		return
	}
	j.running = true
	j.stopChan = make(chan struct{})

	go j.run(ctx)

	slog.Info("audio cleanup job started", "interval", j.interval, "ttl", j.storage.ttl)
}

// Stop stops the cleanup job.
func (j *CleanupJob) Stop() {
	j.mu.Lock()
	defer j.mu.Unlock()

	if !j.running {
		return
	}
	close(j.stopChan)
	j.running = false
}

func (j *CleanupJob) run(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-j.stopChan:
			return
		case <-ticker.C:
			if cleaned := j.storage.CleanupOldFiles(); cleaned > 0 {
				slog.Info("audio cleanup completed", "deleted", cleaned)
			}
		}
	}
}
