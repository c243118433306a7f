package recorder

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"enginesound/server/internal/logging"
)

// RetentionPolicy defines how many recorded sessions are kept on disk.
type RetentionPolicy struct {
	MaxSessions int
	MaxAge      time.Duration
}

// StorageStats summarises the disk footprint of recorded sessions.
type StorageStats struct {
	Sessions  int
	Bytes     int64
	LastSweep time.Time
}

// Cleaner periodically prunes session directories according to a retention policy.
type Cleaner struct {
	mu     sync.RWMutex
	dir    string
	policy RetentionPolicy
	log    *logging.Logger
	now    func() time.Time
	stats  StorageStats
}

// NewCleaner constructs a cleaner for the recording root.
func NewCleaner(dir string, policy RetentionPolicy, logger *logging.Logger) *Cleaner {
	if logger == nil {
		logger = logging.L()
	}
	return &Cleaner{dir: dir, policy: policy, log: logger, now: time.Now}
}

// Run executes retention sweeps until the context is cancelled.
func (c *Cleaner) Run(ctx context.Context, interval time.Duration) {
	if c == nil || ctx == nil {
		return
	}
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	//1.- Sweep eagerly so retention applies on startup.
	c.sweep()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.sweep()
		}
	}
}

// RunOnce performs a single retention sweep.
func (c *Cleaner) RunOnce() {
	if c == nil {
		return
	}
	c.sweep()
}

// Stats returns the last recorded storage statistics.
func (c *Cleaner) Stats() StorageStats {
	if c == nil {
		return StorageStats{}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stats
}

type sessionDir struct {
	name    string
	path    string
	size    int64
	modTime time.Time
}

func (c *Cleaner) sweep() {
	if c == nil || strings.TrimSpace(c.dir) == "" {
		return
	}
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		c.log.Warn("recording retention scan failed", logging.Error(err), logging.String("directory", c.dir))
		return
	}
	sessions := c.collect(entries)
	now := c.now()
	kept := 0
	stats := StorageStats{LastSweep: now}
	for _, s := range sessions {
		if remove, reason := c.shouldRemove(s, now, kept); remove {
			err := os.RemoveAll(s.path)
			if err == nil {
				c.log.Info("recording retention removed session", logging.String("session", s.name), logging.String("reason", reason))
				continue
			}
			//1.- A session that could not be removed still occupies disk.
			c.log.Warn("recording retention removal failed", logging.Error(err), logging.String("session", s.name))
		}
		kept++
		stats.Sessions++
		stats.Bytes += s.size
	}
	c.mu.Lock()
	c.stats = stats
	c.mu.Unlock()
}

// collect lists session directories newest first. Only directories holding a manifest count.
func (c *Cleaner) collect(entries []os.DirEntry) []sessionDir {
	sessions := make([]sessionDir, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		path := filepath.Join(c.dir, entry.Name())
		info, err := os.Stat(filepath.Join(path, manifestName))
		if err != nil {
			continue
		}
		size, err := directorySize(path)
		if err != nil {
			c.log.Warn("recording retention size failed", logging.Error(err), logging.String("path", path))
			continue
		}
		sessions = append(sessions, sessionDir{name: entry.Name(), path: path, size: size, modTime: info.ModTime()})
	}
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].modTime.After(sessions[j].modTime) })
	return sessions
}

func (c *Cleaner) shouldRemove(s sessionDir, now time.Time, kept int) (bool, string) {
	reasons := make([]string, 0, 2)
	if c.policy.MaxAge > 0 && now.Sub(s.modTime) > c.policy.MaxAge {
		reasons = append(reasons, fmt.Sprintf("age>%s", c.policy.MaxAge))
	}
	if c.policy.MaxSessions > 0 && kept >= c.policy.MaxSessions {
		reasons = append(reasons, fmt.Sprintf(">=%d sessions", c.policy.MaxSessions))
	}
	return len(reasons) > 0, strings.Join(reasons, ", ")
}

func directorySize(root string) (int64, error) {
	var total int64
	walkErr := filepath.WalkDir(root, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		return nil
	})
	return total, walkErr
}
