package ble

import (
	"errors"
	"testing"

	"github.com/roman-kulish/drive-telemetry/internal/device"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		msg  string
		want error
	}{
		{"org.bluez.Error.NotAuthorized: Not authorized", device.ErrPermissionDenied},
		{"bluetooth: permission denied by user", device.ErrPermissionDenied},
		{"no such adapter: hci0", device.ErrRadioUnavailable},
		{"adapter powered off", device.ErrRadioUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			if err := classify(errors.New(tt.msg)); !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestNewRadio_UUIDs(t *testing.T) {
	r, err := NewRadio(Config{})
	if err != nil {
		t.Fatalf("default uuids: %v", err)
	}
	if r.service.String() != DefaultServiceUUID {
		t.Errorf("expected service %s, got %s", DefaultServiceUUID, r.service)
	}
	if r.notify == r.command {
		t.Errorf("expected distinct notify and command characteristics")
	}

	if _, err = NewRadio(Config{NotifyUUID: "not-a-uuid"}); err == nil {
		t.Errorf("expected error for invalid uuid")
	}
}
