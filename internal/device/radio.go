package device

import "context"

// Radio discovers and connects to telemetry units
type Radio interface {
	// Enable prepares the adapter. It returns ErrRadioUnavailable or
	// ErrPermissionDenied when the radio cannot be used.
	Enable() error

	// Scan reports advertisements to found until ctx is done
	Scan(ctx context.Context, found func(Device)) error

	// Connect opens a link to the device with the given identifier
	Connect(ctx context.Context, id string) (Link, error)
}

// Link is an open connection to a telemetry unit
type Link interface {
	// Subscribe registers the handler for telemetry notifications. The
	// handler may be called from any goroutine and must not retain p.
	Subscribe(handler func(p []byte)) error

	// Write sends a command to the unit
	Write(p []byte) error

	// Done is closed when the unit drops the link
	Done() <-chan struct{}

	Disconnect() error
}

// Memory persists the single remembered device slot
type Memory interface {
	Remembered(ctx context.Context) (*RememberedDevice, error)
	Remember(ctx context.Context, d RememberedDevice) error
	ForgetDevice(ctx context.Context) error
}
