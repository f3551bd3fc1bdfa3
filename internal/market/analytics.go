package market

import (
	"math"
	"sort"

	"github.com/alanyoungcy/pollmarket/internal/domain"
)

const (
	liquidityVolumeScale    = 10_000
	liquidityPredictorScale = 100
	reputationScale         = 1000
	maxVolatilitySnapshots  = 10
)

// CalculateAnalytics derives aggregate market health metrics from the working
// set of predictions, the predictors' reputations and the poll's snapshot
// history. An empty market yields zero metrics rather than an error.
func CalculateAnalytics(pollID string, predictions []domain.Prediction, reputations map[string]int64, snapshots []domain.MarketSnapshot) domain.MarketAnalytics {
	a := domain.MarketAnalytics{
		PollID:     pollID,
		Volatility: Volatility(snapshots),
	}
	if len(predictions) == 0 {
		return a
	}

	users := make(map[string]struct{}, len(predictions))
	confidences := make([]float64, 0, len(predictions))
	var weightSum, weightedConf float64
	for _, p := range predictions {
		users[p.UserID] = struct{}{}
		confidences = append(confidences, p.Confidence)
		a.TotalVolume += p.Points

		// Deeply negative reputation must not flip the sign of a stake.
		multiplier := math.Max(0, 1+float64(reputations[p.UserID])/reputationScale)
		w := float64(p.Points) * multiplier
		weightSum += w
		weightedConf += p.Confidence * w
	}

	a.UniquePredictors = len(users)
	a.AverageConfidence = mean(confidences)
	if weightSum > 0 {
		a.ConsensusProbability = weightedConf / weightSum
	}
	a.MarketEfficiency = clamp(1-variance(confidences)*4, 0, 1)
	a.LiquidityIndex = (math.Min(float64(a.TotalVolume)/liquidityVolumeScale, 1) +
		math.Min(float64(a.UniquePredictors)/liquidityPredictorScale, 1)) / 2
	return a
}

// Volatility is the mean absolute percentage-point move between consecutive
// snapshots, using at most the last ten. Each move averages the options
// present in both snapshots.
func Volatility(snapshots []domain.MarketSnapshot) float64 {
	if len(snapshots) < 2 {
		return 0
	}
	sorted := make([]domain.MarketSnapshot, len(snapshots))
	copy(sorted, snapshots)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].TakenAt.Before(sorted[j].TakenAt)
	})
	if len(sorted) > maxVolatilitySnapshots {
		sorted = sorted[len(sorted)-maxVolatilitySnapshots:]
	}

	var moves []float64
	for i := 1; i < len(sorted); i++ {
		prev, cur := sorted[i-1].Probabilities, sorted[i].Probabilities
		var sum float64
		var n int
		for optionID, p := range cur {
			q, ok := prev[optionID]
			if !ok {
				continue
			}
			sum += math.Abs(p-q) * 100
			n++
		}
		if n > 0 {
			moves = append(moves, sum/float64(n))
		}
	}
	return mean(moves)
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// variance is the population variance of xs.
func variance(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	m := mean(xs)
	var sum float64
	for _, x := range xs {
		d := x - m
		sum += d * d
	}
	return sum / float64(len(xs))
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
