package main

import (
	"errors"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/roman-kulish/drive-telemetry/internal/leaderboard"
)

var errLeaderboardDisabled = errors.New("leaderboard is disabled in the configuration")

func newLeaderboardCommand(c *cli) *cobra.Command {
	var (
		board string
		limit int
	)

	cmd := &cobra.Command{
		Use:   "leaderboard",
		Short: "Show the best users",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var unit string
			switch leaderboard.Board(board) {
			case leaderboard.TopSpeed:
				unit = "km/h"
			case leaderboard.MaxGForce:
				unit = "g"
			default:
				return fmt.Errorf("unknown board '%s'", board)
			}

			a, err := c.open()
			if err != nil {
				return err
			}
			defer c.close(a)

			if a.Leaderboard == nil {
				return errLeaderboardDisabled
			}

			entries, err := a.Leaderboard.Top(cmd.Context(), leaderboard.Board(board), limit)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				c.printf("no scores yet\n")
				return nil
			}

			for i, e := range entries {
				c.printf("%5s  %-24s %8.2f %s\n", humanize.Ordinal(i+1), e.UserID, e.Score, unit)
			}

			user := c.config.Profile.UserID
			if user == "" {
				return nil
			}
			rank, score, ok, err := a.Leaderboard.Rank(cmd.Context(), leaderboard.Board(board), user)
			if err != nil {
				return err
			}
			if ok {
				c.printf("\nyou are %s with %.2f %s\n", humanize.Ordinal(int(rank)+1), score, unit)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&board, "board", "b", string(leaderboard.TopSpeed), "Board to show: top_speed or max_gforce")
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "Number of entries")

	return cmd
}
