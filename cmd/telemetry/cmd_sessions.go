package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/roman-kulish/drive-telemetry/cmd/telemetry/app"
	"github.com/roman-kulish/drive-telemetry/internal/export"
	"github.com/roman-kulish/drive-telemetry/internal/gps"
	"github.com/roman-kulish/drive-telemetry/internal/session"
	"github.com/roman-kulish/drive-telemetry/internal/storage"
)

const latestKey = "latest"

func newSessionsCommand(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Browse recorded sessions",
	}

	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List sessions, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.open()
			if err != nil {
				return err
			}
			defer c.close(a)

			return c.listSessions(cmd.Context(), a, limit)
		},
	}
	list.Flags().IntVarP(&limit, "limit", "n", 20, "Number of sessions to show, 0 for all")

	show := &cobra.Command{
		Use:   "show KEY",
		Short: "Show a session, or the latest one",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.open()
			if err != nil {
				return err
			}
			defer c.close(a)

			s, err := loadSession(cmd.Context(), a, args[0])
			if err != nil {
				return err
			}

			c.printf("%s\n", s.Key)
			c.printf("  started      %s (%s)\n", s.StartTime.Format("2006-01-02 15:04:05"), humanize.Time(s.StartTime))
			c.printSummary(s.Duration, s.Stats.SampleCount, s.Stats.PeakSpeed, s.Stats.PeakGForce, gps.TrackLength(s.Track))
			c.printf("  avg speed    %.1f km/h\n", s.Stats.AvgSpeed)
			c.printf("  avg g-force  %.2f g\n", s.Stats.AvgGForce)
			c.printf("  temperature  %.1f to %.1f °C\n", s.Stats.MinTemperature, s.Stats.MaxTemperature)
			c.printf("  altitude     %.0f to %.0f m (%.0f m change)\n", s.Stats.MinAltitude, s.Stats.MaxAltitude, s.Stats.AltitudeChange)
			c.printf("  gps points   %s\n", humanize.Comma(int64(len(s.Track))))
			return nil
		},
	}

	del := &cobra.Command{
		Use:   "delete KEY",
		Short: "Delete a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := session.ParseKey(args[0])
			if err != nil {
				return err
			}

			a, err := c.open()
			if err != nil {
				return err
			}
			defer c.close(a)

			if err = a.Store.Delete(cmd.Context(), key); err != nil {
				return err
			}
			c.printf("deleted %s\n", key)
			return nil
		},
	}

	var output string
	exp := &cobra.Command{
		Use:   "export KEY",
		Short: "Export a session as a FIT activity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.open()
			if err != nil {
				return err
			}
			defer c.close(a)

			s, err := loadSession(cmd.Context(), a, args[0])
			if err != nil {
				return err
			}

			if output == "" {
				output = s.Key.Date + "-" + s.Key.Name + ".fit"
			}
			size, err := writeFIT(output, s)
			if err != nil {
				return err
			}
			c.printf("exported %s to %s (%s)\n", s.Key, output, humanize.Bytes(uint64(size)))
			return nil
		},
	}
	exp.Flags().StringVarP(&output, "output", "o", "", "Path to the output file")

	cmd.AddCommand(list, show, del, exp)
	return cmd
}

func (c *cli) listSessions(ctx context.Context, a *app.App, limit int) error {
	keys, err := a.Store.List(ctx)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		c.printf("no sessions\n")
		return nil
	}
	if limit > 0 && len(keys) > limit {
		keys = keys[:limit]
	}

	c.printf("%-26s %-16s %10s %10s %12s\n", "KEY", "STARTED", "DURATION", "SAMPLES", "TOP SPEED")
	for _, key := range keys {
		s, err := a.Store.Get(ctx, key)
		if errors.Is(err, storage.ErrCorrupted) || errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}

		c.printf("%-26s %-16s %10s %10s %7.1f km/h\n",
			key,
			humanize.Time(s.StartTime),
			seconds(s.Duration),
			humanize.Comma(int64(s.Stats.SampleCount)),
			s.Stats.PeakSpeed,
		)
	}
	return nil
}

func loadSession(ctx context.Context, a *app.App, arg string) (*session.Session, error) {
	if arg == latestKey {
		s, err := a.Store.Latest(ctx)
		if err != nil {
			return nil, err
		}
		if s == nil {
			return nil, storage.ErrNotFound
		}
		return s, nil
	}

	key, err := session.ParseKey(arg)
	if err != nil {
		return nil, err
	}
	return a.Store.Get(ctx, key)
}

func writeFIT(path string, s *session.Session) (size int64, err error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("creating %s: %w", path, err)
	}
	defer func() {
		if cErr := f.Close(); cErr != nil && err == nil {
			err = fmt.Errorf("closing %s: %w", path, cErr)
		}
	}()

	if err = export.FIT(f, s); err != nil {
		return 0, err
	}

	info, err := f.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}
