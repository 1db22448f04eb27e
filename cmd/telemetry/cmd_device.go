package main

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func newDeviceCommand(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "device",
		Short: "Manage the telemetry unit",
	}

	var timeout time.Duration
	scan := &cobra.Command{
		Use:   "scan",
		Short: "List telemetry units in range, strongest signal first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.open()
			if err != nil {
				return err
			}
			defer c.close(a)

			devices, err := a.Manager.Scan(cmd.Context(), timeout)
			if err != nil {
				return fmt.Errorf("scanning: %w", err)
			}
			if len(devices) == 0 {
				c.printf("no devices found\n")
				return nil
			}

			c.printf("%-20s %-24s %s\n", "ID", "NAME", "RSSI")
			for _, d := range devices {
				rssi := "-"
				if d.RSSI != nil {
					rssi = fmt.Sprintf("%d dBm", *d.RSSI)
				}
				c.printf("%-20s %-24s %s\n", d.ID, d.Name, rssi)
			}
			return nil
		},
	}
	scan.Flags().DurationVarP(&timeout, "timeout", "t", 0, "Scan duration, defaults to the configured scan timeout")

	show := &cobra.Command{
		Use:   "show",
		Short: "Show the remembered device",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.open()
			if err != nil {
				return err
			}
			defer c.close(a)

			d, err := a.Store.Remembered(cmd.Context())
			if err != nil {
				return err
			}
			if d == nil {
				c.printf("no remembered device\n")
				return nil
			}
			c.printf("%s (%s), connected %s\n", d.Name, d.ID, humanize.Time(d.ConnectedAt))
			return nil
		},
	}

	forget := &cobra.Command{
		Use:   "forget",
		Short: "Forget the remembered device",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.open()
			if err != nil {
				return err
			}
			defer c.close(a)

			if err = a.Manager.Forget(cmd.Context()); err != nil {
				return err
			}
			c.printf("device forgotten\n")
			return nil
		},
	}

	send := &cobra.Command{
		Use:   "send COMMAND",
		Short: "Connect and send a command to the unit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.open()
			if err != nil {
				return err
			}
			defer c.close(a)

			state, err := connect(cmd.Context(), a, c.logger, "")
			if err != nil {
				return err
			}
			if err = a.Manager.SendCommand(cmd.Context(), args[0]); err != nil {
				return err
			}
			c.printf("sent %q to %s\n", args[0], describeState(state))
			return nil
		},
	}

	cmd.AddCommand(scan, show, forget, send)
	return cmd
}
