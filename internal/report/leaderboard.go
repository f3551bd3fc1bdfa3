// Package report renders engine results for terminals.
package report

import (
	"fmt"
	"io"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/alanyoungcy/pollmarket/internal/domain"
)

// Leaderboard prints a ranked leaderboard table to w.
func Leaderboard(w io.Writer, timeframe domain.Timeframe, entries []domain.LeaderboardEntry, now time.Time) error {
	fmt.Fprintf(w, "\nLeaderboard (%s) at %s, %d user(s)\n", timeframe, now.UTC().Format(time.RFC3339), len(entries))
	if len(entries) == 0 {
		fmt.Fprintln(w, "  no resolved predictions in this timeframe")
		return nil
	}

	table := tablewriter.NewWriter(w)
	table.Header("#", "User", "Net", "ROI", "Win rate", "Payout", "Stake", "Preds")
	for _, e := range entries {
		if err := table.Append(
			fmt.Sprintf("%d", e.Rank),
			e.UserID,
			fmt.Sprintf("%+d", e.NetProfit),
			fmt.Sprintf("%.1f%%", e.ROI),
			fmt.Sprintf("%.0f%%", e.WinRate*100),
			fmt.Sprintf("%d", e.TotalPayout),
			fmt.Sprintf("%d", e.TotalStake),
			fmt.Sprintf("%d/%d", e.Wins, e.Predictions),
		); err != nil {
			return fmt.Errorf("report: append row %d: %w", e.Rank, err)
		}
	}
	if err := table.Render(); err != nil {
		return fmt.Errorf("report: render leaderboard: %w", err)
	}
	return nil
}
