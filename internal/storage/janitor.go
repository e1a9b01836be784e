package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"image-stand/internal/logging"
)

// Janitor deletes stored images older than maxAge on a cron schedule.
type Janitor struct {
	store   Store
	catalog *Catalog
	maxAge  time.Duration
	log     *logging.Logger
	cron    *cron.Cron
	now     func() time.Time
}

// NewJanitor registers the sweep under schedule (standard 5-field expression or a
// descriptor such as "@hourly"). catalog may be nil.
func NewJanitor(store Store, catalog *Catalog, maxAge time.Duration, schedule string, log *logging.Logger) (*Janitor, error) {
	if maxAge <= 0 {
		return nil, errors.New("janitor: max age must be positive")
	}
	if log == nil {
		log = logging.Discard()
	}
	j := &Janitor{store: store, catalog: catalog, maxAge: maxAge, log: log, cron: cron.New(), now: time.Now}

	if _, err := j.cron.AddFunc(schedule, func() {
		n, err := j.Sweep(context.Background())
		if err != nil {
			log.Errorf("janitor: sweep: %v", err)
			return
		}
		if n > 0 {
			log.Infof("janitor: removed %d image(s) older than %s", n, maxAge)
		}
	}); err != nil {
		return nil, fmt.Errorf("janitor: schedule %q: %w", schedule, err)
	}
	return j, nil
}

// Sweep deletes every image last modified before now-maxAge and returns how many
// were removed. A failed delete is logged and skipped.
func (j *Janitor) Sweep(ctx context.Context) (int, error) {
	objects, err := j.store.List(ctx)
	if err != nil {
		return 0, err
	}
	cutoff := j.now().Add(-j.maxAge)

	var removed []string
	for _, o := range objects {
		if !o.ModTime.Before(cutoff) {
			continue
		}
		if err := j.store.Delete(ctx, o.Name); err != nil && !errors.Is(err, ErrNotFound) {
			j.log.Warnf("janitor: delete %s: %v", o.Name, err)
			continue
		}
		removed = append(removed, o.Name)
	}

	if j.catalog != nil && len(removed) > 0 {
		if err := j.catalog.Remove(ctx, removed...); err != nil {
			j.log.Warnf("janitor: update catalog: %v", err)
		}
	}
	return len(removed), nil
}

// Run starts the schedule and blocks until ctx is done.
func (j *Janitor) Run(ctx context.Context) error {
	j.cron.Start()
	<-ctx.Done()

	stopped := j.cron.Stop()
	select {
	case <-stopped.Done():
		return nil
	case <-time.After(10 * time.Second):
		return errors.New("janitor: cron stop timeout")
	}
}
