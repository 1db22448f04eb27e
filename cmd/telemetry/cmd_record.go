package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/roman-kulish/drive-telemetry/cmd/telemetry/app"
	"github.com/roman-kulish/drive-telemetry/internal/device"
	"github.com/roman-kulish/drive-telemetry/internal/gps"
)

const (
	statusInterval = time.Second
	saveTimeout    = 30 * time.Second
)

func newRecordCommand(c *cli) *cobra.Command {
	var (
		duration time.Duration
		deviceID string
	)

	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record a session",
		Long: `Connects to the remembered device, the strongest device in range, or the
simulator, and records until the duration elapses or the command is
interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.open()
			if err != nil {
				return err
			}
			defer c.close(a)

			return c.record(cmd.Context(), a, bufio.NewReader(cmd.InOrStdin()), deviceID, duration)
		},
	}

	cmd.Flags().DurationVarP(&duration, "duration", "d", 0, "Stop after this long, 0 records until interrupted")
	cmd.Flags().StringVar(&deviceID, "device", "", "Connect to the device with this identifier")

	return cmd
}

func (c *cli) record(ctx context.Context, a *app.App, in *bufio.Reader, deviceID string, duration time.Duration) error {
	state, err := connect(ctx, a, c.logger, deviceID)
	if err != nil {
		return err
	}
	c.printf("%s\n", describeState(state))

	if err = a.Recorder.Start(ctx); err != nil {
		return fmt.Errorf("starting recording: %w", err)
	}
	if status := a.Recorder.Status(); !status.Tracking {
		if msg, ok := actionable(status.TrackingErr); ok {
			c.printf("%s\n", msg)
		}
		c.printf("GPS unavailable, recording without a track\n")
	}

	var deadline <-chan time.Time
	if duration > 0 {
		timer := time.NewTimer(duration)
		defer timer.Stop()
		deadline = timer.C
	}

	ticker := time.NewTicker(statusInterval)
	defer ticker.Stop()

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-deadline:
			break loop
		case <-ticker.C:
			status := a.Recorder.Status()
			c.printf("\rrecording %s  samples %s  points %s",
				time.Since(status.StartedAt).Round(time.Second),
				humanize.Comma(int64(status.Samples)),
				humanize.Comma(int64(status.Points)),
			)
		}
	}
	c.printf("\n")

	// the command context may be cancelled already, the session is still saved
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), saveTimeout)
	defer cancel()

	key, err := a.Recorder.Stop(saveCtx)
	for err != nil {
		msg, ok := actionable(err)
		if !ok {
			msg = err.Error()
		}
		c.printf("%s\nPress Enter to retry saving, or end the input to discard the recording.\n", msg)

		if _, rErr := in.ReadString('\n'); rErr != nil {
			a.Recorder.Discard()
			return err
		}
		key, err = a.Recorder.Stop(saveCtx)
	}
	a.Manager.Disconnect()

	s, err := a.Store.Get(saveCtx, key)
	if err != nil {
		return err
	}

	c.printf("saved %s\n", key)
	c.printSummary(s.Duration, s.Stats.SampleCount, s.Stats.PeakSpeed, s.Stats.PeakGForce, gps.TrackLength(s.Track))
	return nil
}

func connect(ctx context.Context, a *app.App, logger *slog.Logger, deviceID string) (device.ConnectionState, error) {
	if deviceID != "" {
		// the radio only connects to devices it has seen advertising
		devices, err := a.Manager.Scan(ctx, 0)
		switch {
		case errors.Is(err, device.ErrPermissionDenied):
			return device.ConnectionState{}, fmt.Errorf("scanning: %w", err)
		case err != nil:
			logger.Warn("scan before connecting failed", slog.String("deviceID", deviceID), slog.String("error", err.Error()))
		}
		for _, d := range devices {
			if d.ID == deviceID {
				return a.Manager.Connect(ctx, &d)
			}
		}
		return a.Manager.Connect(ctx, &device.Device{ID: deviceID})
	}

	if a.Manager.TryAutoConnect(ctx) {
		return a.Manager.State(), nil
	}
	return a.Manager.Connect(ctx, nil)
}

func describeState(s device.ConnectionState) string {
	if s.Mode == device.ModeSimulated && s.FallbackReason != nil {
		return fmt.Sprintf("%s (fallback: %s)", s, s.FallbackReason)
	}
	return s.String()
}

func (c *cli) printSummary(duration float64, samples int, peakSpeed, peakGForce, trackLength float64) {
	c.printf("  duration     %s\n", seconds(duration))
	c.printf("  samples      %s\n", humanize.Comma(int64(samples)))
	c.printf("  top speed    %.1f km/h\n", peakSpeed)
	c.printf("  max g-force  %.2f g\n", peakGForce)
	c.printf("  distance     %s\n", humanize.SIWithDigits(trackLength, 2, "m"))
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second)).Round(100 * time.Millisecond)
}
