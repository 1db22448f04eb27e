package gps

import (
	"context"
	"errors"
)

var (
	// ErrPermissionDenied is returned when access to the location source is refused
	ErrPermissionDenied = errors.New("location permission denied")

	// ErrLocationDisabled is returned when no location source is available
	ErrLocationDisabled = errors.New("location services disabled")
)

// Provider is a source of position fixes, such as a GNSS receiver
type Provider interface {
	// Open requests access to the location source. It must return promptly
	// once ctx is cancelled.
	Open(ctx context.Context) error

	// Watch delivers fixes to found until ctx is cancelled or the source
	// fails. found is called from a single goroutine.
	Watch(ctx context.Context, found func(Fix)) error

	// Close releases the location source
	Close() error
}

// Disabled is a provider for setups without a location source
type Disabled struct{}

func (Disabled) Open(context.Context) error {
	return ErrLocationDisabled
}

func (Disabled) Watch(ctx context.Context, _ func(Fix)) error {
	<-ctx.Done()
	return ctx.Err()
}

func (Disabled) Close() error {
	return nil
}
