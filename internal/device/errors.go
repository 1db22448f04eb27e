package device

import "errors"

var (
	// ErrPermissionDenied is returned when the OS refuses access to the radio
	ErrPermissionDenied = errors.New("bluetooth permission denied")

	// ErrDeviceUnreachable is returned when a device no longer advertises or
	// the link cannot be established. It is retryable.
	ErrDeviceUnreachable = errors.New("device unreachable")

	// ErrNotConnected is returned by operations that require a connection
	ErrNotConnected = errors.New("not connected")

	// ErrRadioUnavailable is returned when no usable radio adapter exists
	ErrRadioUnavailable = errors.New("bluetooth radio unavailable")

	// ErrNoDevices is reported when a scan finds no matching device
	ErrNoDevices = errors.New("no matching devices found")

	// ErrLinkLost is reported as the fallback reason when a connected device
	// drops the link
	ErrLinkLost = errors.New("device link lost")
)
