package cleanup

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Task is a named housekeeping function run on every tick. It returns the
// number of items it removed.
type Task struct {
	Name string
	Run  func() int
}

// Scheduler periodically removes orphaned pipeline work directories and runs
// registered housekeeping tasks (job registry pruning, rate limiter buckets).
// Work directories normally vanish with their invocation; the scheduler only
// catches the ones left behind by a crashed process.
type Scheduler struct {
	interval time.Duration
	maxAge   time.Duration
	tasks    []Task
	log      *logrus.Entry
	stopChan chan struct{}
}

// NewScheduler creates the scheduler.
func NewScheduler(interval, maxAge time.Duration, log *logrus.Entry, tasks ...Task) *Scheduler {
	return &Scheduler{
		interval: interval,
		maxAge:   maxAge,
		tasks:    tasks,
		log:      log,
		stopChan: make(chan struct{}),
	}
}

// Start runs one immediate sweep, then sweeps on every interval until Stop.
func (s *Scheduler) Start() {
	s.sweep()

	ticker := time.NewTicker(s.interval)
	go func() {
		for {
			select {
			case <-ticker.C:
				s.sweep()
			case <-s.stopChan:
				ticker.Stop()
				return
			}
		}
	}()

	s.log.WithFields(logrus.Fields{
		"interval": s.interval,
		"max_age":  s.maxAge,
	}).Info("Cleanup scheduler started")
}

// Stop halts the scheduler.
func (s *Scheduler) Stop() {
	close(s.stopChan)
	s.log.Info("Cleanup scheduler stopped")
}

func (s *Scheduler) sweep() {
	if removed := s.removeStaleWorkDirs(); removed > 0 {
		s.log.WithField("removed", removed).Info("Removed orphaned work directories")
	}
	for _, task := range s.tasks {
		if removed := task.Run(); removed > 0 {
			s.log.WithFields(logrus.Fields{
				"task":    task.Name,
				"removed": removed,
			}).Info("Housekeeping task ran")
		}
	}
}

// removeStaleWorkDirs deletes pipeline work directories in the system temp
// directory older than maxAge.
func (s *Scheduler) removeStaleWorkDirs() int {
	entries, err := os.ReadDir(os.TempDir())
	if err != nil {
		s.log.WithError(err).Warn("Failed to scan temp directory")
		return 0
	}

	cutoff := time.Now().Add(-s.maxAge)
	removed := 0
	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), "callsight-") {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(os.TempDir(), entry.Name())
		if err := os.RemoveAll(path); err != nil {
			s.log.WithError(err).WithField("path", path).Warn("Failed to remove work directory")
			continue
		}
		removed++
	}
	return removed
}
