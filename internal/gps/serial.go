package gps

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"go.bug.st/serial"
)

const (
	DefaultBaudRate = 9600

	readTimeout = 500 * time.Millisecond
	maxLineSize = 512
)

// WithSerialLogger sets the logger for the serial provider
func WithSerialLogger(logger *slog.Logger) func(p *SerialProvider) {
	return func(p *SerialProvider) {
		p.logger = logger.With(slog.String("port", p.portName))
	}
}

// SerialProvider reads NMEA 0183 sentences from a GNSS receiver on a serial port
type SerialProvider struct {
	portName string
	baudRate int
	logger   *slog.Logger

	mu   sync.Mutex
	port serial.Port
}

// NewSerialProvider creates a provider for the receiver on portName
func NewSerialProvider(portName string, baudRate int, options ...func(p *SerialProvider)) *SerialProvider {
	if baudRate <= 0 {
		baudRate = DefaultBaudRate
	}

	p := SerialProvider{
		portName: portName,
		baudRate: baudRate,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, option := range options {
		option(&p)
	}

	return &p
}

// Open opens the serial port. Access errors map to ErrPermissionDenied, a
// missing receiver maps to ErrLocationDisabled.
func (p *SerialProvider) Open(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	port, err := serial.Open(p.portName, &serial.Mode{
		BaudRate: p.baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		var portErr *serial.PortError
		if errors.As(err, &portErr) {
			switch portErr.Code() {
			case serial.PermissionDenied:
				return fmt.Errorf("%w: %s: %w", ErrPermissionDenied, p.portName, err)
			case serial.PortNotFound, serial.InvalidSerialPort:
				return fmt.Errorf("%w: %s: %w", ErrLocationDisabled, p.portName, err)
			}
		}
		return fmt.Errorf("opening %s: %w", p.portName, err)
	}

	if err = port.SetReadTimeout(readTimeout); err != nil {
		_ = port.Close()
		return fmt.Errorf("setting read timeout: %w", err)
	}

	p.mu.Lock()
	p.port = port
	p.mu.Unlock()

	p.logger.Info("gnss receiver opened", slog.Int("baudRate", p.baudRate))
	return nil
}

// Watch reads sentences until ctx is cancelled
func (p *SerialProvider) Watch(ctx context.Context, found func(Fix)) error {
	p.mu.Lock()
	port := p.port
	p.mu.Unlock()

	if port == nil {
		return fmt.Errorf("%w: port not open", ErrLocationDisabled)
	}

	return readSentences(ctx, port, found, p.logger)
}

// Close closes the serial port
func (p *SerialProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.port == nil {
		return nil
	}
	err := p.port.Close()
	p.port = nil
	return err
}

// readSentences splits the byte stream into lines and feeds them to a
// decoder. A reader returning (0, nil) on timeout gives ctx a chance to be
// checked.
func readSentences(ctx context.Context, r io.Reader, found func(Fix), logger *slog.Logger) error {
	var (
		dec     nmeaDecoder
		pending []byte
		buf     = make([]byte, 256)
	)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		n, err := r.Read(buf)
		if n > 0 {
			pending = append(pending, buf[:n]...)

			for {
				i := bytes.IndexByte(pending, '\n')
				if i < 0 {
					break
				}
				line := string(bytes.TrimSpace(pending[:i]))
				pending = pending[i+1:]

				if line == "" {
					continue
				}

				fix, ok, err := dec.Feed(line)
				if err != nil {
					logger.Debug("skipping sentence", slog.String("error", err.Error()), slog.String("line", line))
					continue
				}
				if ok {
					found(fix)
				}
			}

			if len(pending) > maxLineSize {
				pending = pending[:0] // garbage without line breaks
			}
		}

		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("reading sentences: %w", err)
		}
	}
}
