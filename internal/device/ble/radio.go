// Package ble implements the device radio over the host Bluetooth LE stack.
package ble

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"tinygo.org/x/bluetooth"

	"github.com/roman-kulish/drive-telemetry/internal/device"
)

// Nordic UART service, as flashed on the telemetry units
const (
	DefaultServiceUUID = "6e400001-b5a3-f393-e0a9-e50e24dcca9e"
	DefaultNotifyUUID  = "6e400003-b5a3-f393-e0a9-e50e24dcca9e"
	DefaultCommandUUID = "6e400002-b5a3-f393-e0a9-e50e24dcca9e"
)

// Config holds the GATT identity of the telemetry service
type Config struct {
	ServiceUUID string
	NotifyUUID  string
	CommandUUID string
}

// WithLogger sets the logger for the radio
func WithLogger(logger *slog.Logger) func(r *Radio) {
	return func(r *Radio) {
		r.logger = logger.With(slog.String("component", "ble"))
	}
}

// Radio drives the default Bluetooth adapter
type Radio struct {
	adapter *bluetooth.Adapter

	service bluetooth.UUID
	notify  bluetooth.UUID
	command bluetooth.UUID

	mu      sync.Mutex
	enabled bool
	seen    map[string]bluetooth.Address // addresses of the last scans, by id
	links   map[string]*link

	logger *slog.Logger
}

// NewRadio creates a radio for the default adapter. Empty UUIDs in cfg
// take the defaults.
func NewRadio(cfg Config, options ...func(r *Radio)) (*Radio, error) {
	r := Radio{
		adapter: bluetooth.DefaultAdapter,
		seen:    map[string]bluetooth.Address{},
		links:   map[string]*link{},
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, option := range options {
		option(&r)
	}

	var err error
	if r.service, err = parseUUID(cfg.ServiceUUID, DefaultServiceUUID); err != nil {
		return nil, fmt.Errorf("service uuid: %w", err)
	}
	if r.notify, err = parseUUID(cfg.NotifyUUID, DefaultNotifyUUID); err != nil {
		return nil, fmt.Errorf("notify uuid: %w", err)
	}
	if r.command, err = parseUUID(cfg.CommandUUID, DefaultCommandUUID); err != nil {
		return nil, fmt.Errorf("command uuid: %w", err)
	}

	return &r, nil
}

func parseUUID(s, fallback string) (bluetooth.UUID, error) {
	if s == "" {
		s = fallback
	}
	return bluetooth.ParseUUID(s)
}

// Enable powers up the adapter once
func (r *Radio) Enable() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.enabled {
		return nil
	}

	if err := r.adapter.Enable(); err != nil {
		return classify(err)
	}

	r.adapter.SetConnectHandler(r.connectionChanged)
	r.enabled = true

	r.logger.Debug("adapter enabled")
	return nil
}

// classify maps host stack errors to device errors. The stacks only expose
// textual errors here.
func classify(err error) error {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "permission") || strings.Contains(msg, "not authorized") || strings.Contains(msg, "denied") {
		return fmt.Errorf("%w: %w", device.ErrPermissionDenied, err)
	}
	return fmt.Errorf("%w: %w", device.ErrRadioUnavailable, err)
}

// Scan reports advertisements until ctx is done
func (r *Radio) Scan(ctx context.Context, found func(device.Device)) error {
	errc := make(chan error, 1)

	go func() {
		errc <- r.adapter.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
			name := result.LocalName()
			if name == "" {
				return
			}

			id := result.Address.String()
			rssi := result.RSSI

			r.mu.Lock()
			r.seen[id] = result.Address
			r.mu.Unlock()

			found(device.Device{ID: id, Name: name, RSSI: &rssi})
		})
	}()

	select {
	case <-ctx.Done():
		if err := r.adapter.StopScan(); err != nil {
			r.logger.Debug("stopping scan", slog.String("error", err.Error()))
		}
		<-errc
		return ctx.Err()
	case err := <-errc:
		if err != nil {
			return classify(err)
		}
		return nil
	}
}

// Connect opens a link to a device seen by a previous scan and resolves the
// telemetry characteristics
func (r *Radio) Connect(ctx context.Context, id string) (device.Link, error) {
	r.mu.Lock()
	addr, ok := r.seen[id]
	r.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s not seen in scan", device.ErrDeviceUnreachable, id)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dev, err := r.adapter.Connect(addr, bluetooth.ConnectionParams{})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", device.ErrDeviceUnreachable, err)
	}

	l, err := r.resolve(dev, id)
	if err != nil {
		if derr := dev.Disconnect(); derr != nil {
			r.logger.Debug("disconnecting after failed discovery", slog.String("error", derr.Error()))
		}
		return nil, fmt.Errorf("%w: %w", device.ErrDeviceUnreachable, err)
	}

	r.mu.Lock()
	r.links[id] = l
	r.mu.Unlock()

	return l, nil
}

func (r *Radio) resolve(dev bluetooth.Device, id string) (*link, error) {
	services, err := dev.DiscoverServices([]bluetooth.UUID{r.service})
	if err != nil {
		return nil, fmt.Errorf("discovering services: %w", err)
	}
	if len(services) == 0 {
		return nil, fmt.Errorf("telemetry service %s not found", r.service)
	}

	chars, err := services[0].DiscoverCharacteristics([]bluetooth.UUID{r.notify, r.command})
	if err != nil {
		return nil, fmt.Errorf("discovering characteristics: %w", err)
	}

	l := link{
		radio:  r,
		id:     id,
		device: dev,
		done:   make(chan struct{}),
	}

	var haveNotify, haveCommand bool
	for _, c := range chars {
		switch c.UUID() {
		case r.notify:
			l.notify, haveNotify = c, true
		case r.command:
			l.command, haveCommand = c, true
		}
	}
	if !haveNotify || !haveCommand {
		return nil, fmt.Errorf("telemetry characteristics missing (notify=%t, command=%t)", haveNotify, haveCommand)
	}

	return &l, nil
}

func (r *Radio) connectionChanged(dev bluetooth.Device, connected bool) {
	if connected {
		return
	}

	id := dev.Address.String()

	r.mu.Lock()
	l, ok := r.links[id]
	delete(r.links, id)
	r.mu.Unlock()

	if ok {
		r.logger.Info("device disconnected", slog.String("deviceID", id))
		l.lost()
	}
}

func (r *Radio) forget(l *link) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.links[l.id] == l {
		delete(r.links, l.id)
	}
}

type link struct {
	radio *Radio
	id    string

	device  bluetooth.Device
	notify  bluetooth.DeviceCharacteristic
	command bluetooth.DeviceCharacteristic

	done chan struct{}
	once sync.Once
}

func (l *link) Subscribe(handler func(p []byte)) error {
	return l.notify.EnableNotifications(handler)
}

func (l *link) Write(p []byte) error {
	if _, err := l.command.WriteWithoutResponse(p); err != nil {
		return err
	}
	return nil
}

func (l *link) Done() <-chan struct{} {
	return l.done
}

func (l *link) Disconnect() error {
	l.radio.forget(l)
	l.lost()
	return l.device.Disconnect()
}

func (l *link) lost() {
	l.once.Do(func() { close(l.done) })
}
