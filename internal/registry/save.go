package registry

import (
	"context"
	"errors"
	"time"
)

// SaveAll saves every dirty index. Each index is checked under its read lock
// and upgraded only when it has changes, so clean indexes never block
// queries.
func (r *Registry) SaveAll(ctx context.Context) error {
	var errs []error
	saved := 0
	for _, e := range r.snapshot() {
		if err := ctx.Err(); err != nil {
			return err
		}
		e.monitor.EnterRead()
		if r.Lock(e.idx) != nil && e.idx.HasUnsavedChanges() {
			err := e.monitor.Upgrade(func() error {
				return r.SaveIndex(e.idx)
			})
			if err != nil {
				errs = append(errs, err)
			} else {
				saved++
			}
		}
		e.monitor.ExitRead()
	}
	if saved > 0 {
		r.logger.Info("indexes saved", "count", saved)
	}
	return errors.Join(errs...)
}

// StartSaveLoop saves dirty indexes every interval until ctx is done, then
// performs a final save.
func (r *Registry) StartSaveLoop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				r.logger.Info("save loop stopping, performing final save")
				if err := r.SaveAll(context.Background()); err != nil {
					r.logger.Error("final save failed", "error", err)
				}
				return
			case <-ticker.C:
				if err := r.SaveAll(ctx); err != nil && ctx.Err() == nil {
					r.logger.Error("periodic save failed", "error", err)
				}
			}
		}
	}()
}

// Close saves every dirty index. It is the shutdown hook; the registry stays
// usable afterwards.
func (r *Registry) Close() error {
	return r.SaveAll(context.Background())
}
