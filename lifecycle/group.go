package lifecycle

import (
	"context"
	"errors"
)

// Startable is anything with a start/stop lifecycle.
type Startable interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Suspendable services can pause without releasing their resources.
type Suspendable interface {
	Suspend(ctx context.Context) error
	Resume(ctx context.Context) error
}

// StartAll starts services in order. On the first failure it stops the
// services already started, in reverse order, and returns the combined error.
func StartAll(ctx context.Context, services ...Startable) error {
	for i, svc := range services {
		if svc == nil {
			continue
		}
		if err := svc.Start(ctx); err != nil {
			return errors.Join(err, StopAll(ctx, services[:i]...))
		}
	}
	return nil
}

// StopAll stops services in reverse order and keeps going past failures.
func StopAll(ctx context.Context, services ...Startable) error {
	var errs []error
	for i := len(services) - 1; i >= 0; i-- {
		if services[i] == nil {
			continue
		}
		if err := services[i].Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
