// Package market holds the pure pari-mutuel arithmetic of the engine: odds
// aggregation, market analytics, settlement and leaderboard ranking. Nothing
// here performs I/O; the service layer feeds it snapshots read from the store.
package market

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/alanyoungcy/pollmarket/internal/domain"
)

// Params are the tunable constants of the market.
type Params struct {
	HouseEdge        float64
	VolumeWeight     float64
	ConfidenceWeight float64
	MinStake         int64
	MaxStake         int64

	// ConfidenceBonus scales the winner bonus: payout *= 1 + confidence*ConfidenceBonus.
	ConfidenceBonus float64
	// WinnerReputationRate applies to profit: +floor(profit*rate*(1+confidence)).
	WinnerReputationRate float64
	// LoserReputationRate applies to stake: -floor(stake*rate).
	LoserReputationRate float64
	NoWinnerPolicy      domain.NoWinnerPolicy

	TrendWindow    time.Duration
	TrendThreshold float64
}

// DefaultParams returns the standard market constants.
func DefaultParams() Params {
	return Params{
		HouseEdge:            0.05,
		VolumeWeight:         0.3,
		ConfidenceWeight:     0.7,
		MinStake:             10,
		MaxStake:             10_000,
		ConfidenceBonus:      0.1,
		WinnerReputationRate: 0.1,
		LoserReputationRate:  0.01,
		NoWinnerPolicy:       domain.NoWinnerRetain,
		TrendWindow:          24 * time.Hour,
		TrendThreshold:       0.05,
	}
}

// Validate checks that the parameters describe a coherent market.
func (p Params) Validate() error {
	var errs []string
	if p.HouseEdge < 0 || p.HouseEdge >= 1 {
		errs = append(errs, fmt.Sprintf("house_edge must be in [0,1), got %v", p.HouseEdge))
	}
	if p.VolumeWeight < 0 || p.ConfidenceWeight < 0 {
		errs = append(errs, "volume_weight and confidence_weight must be >= 0")
	}
	if math.Abs(p.VolumeWeight+p.ConfidenceWeight-1) > 1e-9 {
		errs = append(errs, fmt.Sprintf("volume_weight + confidence_weight must equal 1, got %v", p.VolumeWeight+p.ConfidenceWeight))
	}
	if p.MinStake < 1 {
		errs = append(errs, "min_stake must be >= 1")
	}
	if p.MaxStake < p.MinStake {
		errs = append(errs, "max_stake must not be below min_stake")
	}
	if p.ConfidenceBonus < 0 || p.WinnerReputationRate < 0 || p.LoserReputationRate < 0 {
		errs = append(errs, "bonus and reputation rates must be >= 0")
	}
	switch p.NoWinnerPolicy {
	case domain.NoWinnerRetain, domain.NoWinnerRefund:
	default:
		errs = append(errs, fmt.Sprintf("unknown no_winner_policy %q", p.NoWinnerPolicy))
	}
	if p.TrendWindow <= 0 {
		errs = append(errs, "trend_window must be > 0")
	}
	if len(errs) > 0 {
		return fmt.Errorf("market params: %s", strings.Join(errs, "; "))
	}
	return nil
}
