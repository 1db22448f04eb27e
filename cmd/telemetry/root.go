package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roman-kulish/drive-telemetry/cmd/telemetry/app"
	"github.com/roman-kulish/drive-telemetry/internal/device"
	"github.com/roman-kulish/drive-telemetry/internal/gps"
	"github.com/roman-kulish/drive-telemetry/internal/storage"
)

// cli carries what every subcommand needs
type cli struct {
	logger     *slog.Logger
	level      *slog.LevelVar
	out        io.Writer
	configPath string
	config     *app.Config
	options    []func(a *app.App)
}

func newRootCommand(logger *slog.Logger, level *slog.LevelVar, out io.Writer, options ...func(a *app.App)) *cobra.Command {
	c := &cli{logger: logger, level: level, out: out, options: options}

	root := &cobra.Command{
		Use:   "telemetry",
		Short: "Drive telemetry recorder",
		Long: `Connects to a wireless telemetry unit, or its simulator, records driving
sessions with their GPS track and keeps them in a local database.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			config, err := app.LoadConfig(c.configPath)
			if err != nil {
				return err
			}
			c.config = config
			c.level.Set(config.LogLevel())
			return nil
		},
	}
	root.SetOut(out)
	root.PersistentFlags().StringVarP(&c.configPath, "config", "c", "", "Path to the configuration file")

	root.AddCommand(
		newRecordCommand(c),
		newDeviceCommand(c),
		newSessionsCommand(c),
		newLeaderboardCommand(c),
	)

	return root
}

// open builds the application for a single command
func (c *cli) open() (*app.App, error) {
	return app.New(c.config, c.logger, c.options...)
}

func (c *cli) close(a *app.App) {
	if err := a.Close(); err != nil {
		c.logger.Warn("closing", slog.String("error", err.Error()))
	}
}

func (c *cli) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(c.out, format, args...)
}

// actionable returns a message for errors the user can do something about
func actionable(err error) (string, bool) {
	switch {
	case errors.Is(err, storage.ErrStorageFull):
		return "Storage is full. Free disk space or delete old sessions with 'telemetry sessions delete'.", true
	case errors.Is(err, gps.ErrPermissionDenied):
		return "Location access was denied. Grant access to the GNSS receiver and try again.", true
	case errors.Is(err, device.ErrPermissionDenied):
		return "Bluetooth access was denied. Grant access to the adapter and try again.", true
	}
	return "", false
}
