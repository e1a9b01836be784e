// Package memwatch samples heap size and goroutine count and reacts when either
// crosses a threshold. Encoder weights and decoded rasters make the server's heap
// the first thing to watch.
package memwatch

import (
	"context"
	"runtime"
	"time"

	"image-stand/internal/logging"
)

const mb = 1024 * 1024

type Config struct {
	Interval      time.Duration
	HeapWarnBytes uint64
	HeapCritBytes uint64
	GoroutineWarn int
	GoroutineCrit int
	WarnEvery     time.Duration // minimum gap between two warnings
	OnCritical    func()        // called once when a critical threshold is hit
}

func DefaultConfig() Config {
	return Config{
		Interval:      30 * time.Second,
		HeapWarnBytes: 1536 * mb,
		HeapCritBytes: 3072 * mb,
		GoroutineWarn: 2000,
		GoroutineCrit: 10000,
		WarnEvery:     10 * time.Minute,
	}
}

// Stats is one sample.
type Stats struct {
	HeapAlloc  uint64
	Sys        uint64
	Goroutines int
}

type Level int

const (
	LevelOK Level = iota
	LevelWarn
	LevelCritical
)

type Watcher struct {
	cfg        Config
	log        *logging.Logger
	sample     func() Stats
	lastWarnAt time.Time
	tripped    bool
}

func New(cfg Config, log *logging.Logger) *Watcher {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	if log == nil {
		log = logging.Discard()
	}
	return &Watcher{cfg: cfg, log: log, sample: readStats}
}

func readStats() Stats {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return Stats{HeapAlloc: ms.HeapAlloc, Sys: ms.Sys, Goroutines: runtime.NumGoroutine()}
}

// Run samples every Interval until ctx is done.
func (w *Watcher) Run(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	w.log.Infof("memwatch: started (heap warn=%dMB crit=%dMB, goroutines warn=%d crit=%d)",
		w.cfg.HeapWarnBytes/mb, w.cfg.HeapCritBytes/mb, w.cfg.GoroutineWarn, w.cfg.GoroutineCrit)

	for {
		select {
		case <-ctx.Done():
			w.log.Infof("memwatch: stopped")
			return
		case <-ticker.C:
			w.Check()
		}
	}
}

// Check takes one sample and logs or escalates. A zero threshold is disabled.
func (w *Watcher) Check() Level {
	s := w.sample()
	heapMB, sysMB := s.HeapAlloc/mb, s.Sys/mb

	if over(uint64(s.Goroutines), uint64(w.cfg.GoroutineCrit)) {
		w.log.Errorf("memwatch: CRITICAL goroutine count %d (limit %d), heap=%dMB", s.Goroutines, w.cfg.GoroutineCrit, heapMB)
		w.critical()
		return LevelCritical
	}
	if over(s.HeapAlloc, w.cfg.HeapCritBytes) {
		w.log.Errorf("memwatch: CRITICAL heap %dMB (limit %dMB), sys=%dMB goroutines=%d", heapMB, w.cfg.HeapCritBytes/mb, sysMB, s.Goroutines)
		w.critical()
		return LevelCritical
	}

	if over(s.HeapAlloc, w.cfg.HeapWarnBytes) || over(uint64(s.Goroutines), uint64(w.cfg.GoroutineWarn)) {
		if time.Since(w.lastWarnAt) > w.cfg.WarnEvery {
			w.log.Warnf("memwatch: heap=%dMB sys=%dMB goroutines=%d", heapMB, sysMB, s.Goroutines)
			runtime.GC()
			w.lastWarnAt = time.Now()
		}
		return LevelWarn
	}
	return LevelOK
}

func (w *Watcher) critical() {
	if w.tripped || w.cfg.OnCritical == nil {
		return
	}
	w.tripped = true
	w.cfg.OnCritical()
}

func over(v, limit uint64) bool {
	return limit > 0 && v >= limit
}
