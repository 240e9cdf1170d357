// Package diag watches a long-running scan for stalls and writes
// diagnostic artifacts when progress stops.
package diag

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime/pprof"
	"sync"
	"time"

	"dupfinder/logger"

	"github.com/sirupsen/logrus"
)

const filePrefix = "dupfinder"

type profileWriter interface {
	WriteTo(w io.Writer, debug int) error
}

type Options struct {
	// StallThreshold enables the watcher when positive.
	StallThreshold time.Duration
	Dir            string
	GoroutineLeak  bool
	// Progress returns a counter that grows while work advances, such as
	// files built plus files hashed.
	Progress func() int64
	// Stage names the pipeline phase for stall events.
	Stage              func() string
	DumpFlightRecorder func(path string) error
	Logger             logrus.FieldLogger
	NowFn              func() time.Time
	ProfileLookupFn    func(name string) profileWriter
}

// StallEvent is written as JSON whenever progress stops for the threshold.
type StallEvent struct {
	Event         string `json:"event"`
	Timestamp     string `json:"timestamp"`
	Stage         string `json:"stage,omitempty"`
	Progress      int64  `json:"progress_count"`
	ThresholdMs   int64  `json:"threshold_ms"`
	StalledMs     int64  `json:"observed_stalled_ms"`
	GoroutineDump string `json:"goroutine_dump,omitempty"`
}

type Controller struct {
	threshold          time.Duration
	dir                string
	goroutineLeak      bool
	progress           func() int64
	stage              func() string
	dumpFlightRecorder func(path string) error
	log                logrus.FieldLogger
	nowFn              func() time.Time
	profileLookupFn    func(name string) profileWriter

	mu             sync.Mutex
	lastProgressAt time.Time
	lastProgress   int64
	lastDumpAt     time.Time
	stalls         int

	stopCh chan struct{}
	doneCh chan struct{}
}

func NewController(opts Options) *Controller {
	nowFn := opts.NowFn
	if nowFn == nil {
		nowFn = time.Now
	}
	profileLookup := opts.ProfileLookupFn
	if profileLookup == nil {
		profileLookup = func(name string) profileWriter {
			if p := pprof.Lookup(name); p != nil {
				return p
			}
			return nil
		}
	}
	dir := opts.Dir
	if dir == "" {
		dir = "."
	}

	return &Controller{
		threshold:          opts.StallThreshold,
		dir:                dir,
		goroutineLeak:      opts.GoroutineLeak,
		progress:           opts.Progress,
		stage:              opts.Stage,
		dumpFlightRecorder: opts.DumpFlightRecorder,
		log:                logger.OrDiscard(opts.Logger),
		nowFn:              nowFn,
		profileLookupFn:    profileLookup,
	}
}

// Start launches the watcher goroutine. It is a no-op without a threshold
// or a progress source, and when already running.
func (c *Controller) Start(ctx context.Context) {
	if c == nil || c.threshold <= 0 || c.progress == nil || c.stopCh != nil {
		return
	}

	now := c.nowFn()
	c.mu.Lock()
	c.lastProgress = c.progress()
	c.lastProgressAt = now
	c.lastDumpAt = time.Time{}
	c.mu.Unlock()

	c.stopCh = make(chan struct{})
	c.doneCh = make(chan struct{})
	interval := c.threshold / 2
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	if interval > 2*time.Second {
		interval = 2 * time.Second
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		defer close(c.doneCh)

		for {
			select {
			case <-ctx.Done():
				return
			case <-c.stopCh:
				return
			case <-ticker.C:
				c.runProbe(c.nowFn())
			}
		}
	}()
}

// Stalls is the number of stall events written so far.
func (c *Controller) Stalls() int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stalls
}

func (c *Controller) Close() {
	if c == nil {
		return
	}
	if c.stopCh != nil {
		close(c.stopCh)
		if c.doneCh != nil {
			<-c.doneCh
		}
		c.stopCh = nil
		c.doneCh = nil
	}

	if c.goroutineLeak {
		if path, err := c.writeProfile("goroutine", 2); err != nil {
			c.log.Warnf("Diagnostics goroutine profile dump failed: %v", err)
		} else {
			c.log.WithField("path", path).Debug("goroutine profile written")
		}
	}
}

func (c *Controller) runProbe(now time.Time) {
	if c == nil || c.progress == nil || c.threshold <= 0 {
		return
	}

	progress := c.progress()

	c.mu.Lock()
	if progress != c.lastProgress {
		c.lastProgress = progress
		c.lastProgressAt = now
		c.mu.Unlock()
		return
	}
	if c.lastProgressAt.IsZero() {
		c.lastProgressAt = now
		c.mu.Unlock()
		return
	}
	stalledFor := now.Sub(c.lastProgressAt)
	shouldDump := stalledFor >= c.threshold &&
		(c.lastDumpAt.IsZero() || now.Sub(c.lastDumpAt) >= c.threshold)
	if shouldDump {
		c.lastDumpAt = now
		c.stalls++
	}
	c.mu.Unlock()

	if shouldDump {
		if err := c.dumpStallArtifacts(now, progress, stalledFor); err != nil {
			c.log.Warnf("Diagnostics stall dump failed: %v", err)
		}
	}
}

func (c *Controller) dumpStallArtifacts(now time.Time, progress int64, stalledFor time.Duration) error {
	if err := os.MkdirAll(c.dir, 0755); err != nil {
		return err
	}
	ts := now.UTC().Format("20060102-150405.000")
	event := StallEvent{
		Event:       "scan_stalled",
		Timestamp:   now.UTC().Format(time.RFC3339Nano),
		Progress:    progress,
		ThresholdMs: c.threshold.Milliseconds(),
		StalledMs:   stalledFor.Milliseconds(),
	}
	if c.stage != nil {
		event.Stage = c.stage()
	}
	if path, err := c.writeProfileAt("goroutine", 1, now); err != nil {
		c.log.Warnf("Diagnostics goroutine dump failed: %v", err)
	} else {
		event.GoroutineDump = filepath.Base(path)
	}

	b, err := json.MarshalIndent(event, "", "  ")
	if err != nil {
		return err
	}
	eventPath := filepath.Join(c.dir, fmt.Sprintf("%s-stall-%s.json", filePrefix, ts))
	if err := os.WriteFile(eventPath, b, 0600); err != nil {
		return err
	}
	c.log.WithFields(logrus.Fields{
		"stage":      event.Stage,
		"stalled_ms": event.StalledMs,
		"event":      eventPath,
	}).Warn("scan progress stalled")

	if c.dumpFlightRecorder != nil {
		tracePath := filepath.Join(c.dir, fmt.Sprintf("%s-flight-%s.out", filePrefix, ts))
		if err := c.dumpFlightRecorder(tracePath); err != nil {
			c.log.Warnf("Diagnostics flight recorder dump failed: %v", err)
		}
	}
	return nil
}

func (c *Controller) writeProfile(name string, debug int) (string, error) {
	if c == nil {
		return "", fmt.Errorf("diagnostics controller is nil")
	}
	return c.writeProfileAt(name, debug, c.nowFn())
}

func (c *Controller) writeProfileAt(name string, debug int, now time.Time) (string, error) {
	if c.profileLookupFn == nil {
		return "", fmt.Errorf("profile lookup function is nil")
	}
	profile := c.profileLookupFn(name)
	if profile == nil {
		return "", fmt.Errorf("pprof profile %q unavailable", name)
	}
	if err := os.MkdirAll(c.dir, 0755); err != nil {
		return "", err
	}
	ts := now.UTC().Format("20060102-150405.000")
	path := filepath.Join(c.dir, fmt.Sprintf("%s-%s-profile-%s.pprof", filePrefix, name, ts))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return "", err
	}
	defer f.Close()
	if err := profile.WriteTo(f, debug); err != nil {
		return "", err
	}
	return path, nil
}
