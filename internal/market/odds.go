package market

import (
	"fmt"
	"sort"
	"time"

	"github.com/alanyoungcy/pollmarket/internal/domain"
)

// optionTotals accumulates stake and stake-weighted confidence for an option.
type optionTotals struct {
	volume          int64
	weightedConfSum float64
}

// CalculateOdds converts the working set of predictions on a poll into
// per-option probabilities normalised to 1 - HouseEdge. recent holds the
// predictions created inside the trend window and drives Trend. The result is
// sorted by probability, highest first.
func CalculateOdds(poll domain.Poll, predictions, recent []domain.Prediction, p Params) []domain.OptionOdds {
	options := orderedOptions(poll)

	totals := make(map[string]*optionTotals, len(options))
	for _, o := range options {
		totals[o.ID] = &optionTotals{}
	}

	var totalVolume int64
	for _, pred := range predictions {
		t, ok := totals[pred.OptionID]
		if !ok {
			continue
		}
		t.volume += pred.Points
		t.weightedConfSum += float64(pred.Points) * pred.Confidence
		totalVolume += pred.Points
	}

	out := make([]domain.OptionOdds, len(options))
	raw := make([]float64, len(options))
	var rawSum float64
	for i, o := range options {
		t := totals[o.ID]
		var weightedConf, volumeShare float64
		if t.volume > 0 {
			weightedConf = t.weightedConfSum / float64(t.volume)
		}
		if totalVolume > 0 {
			volumeShare = float64(t.volume) / float64(totalVolume)
		}
		raw[i] = volumeShare*p.VolumeWeight + weightedConf*p.ConfidenceWeight
		rawSum += raw[i]

		out[i] = domain.OptionOdds{
			OptionID:   o.ID,
			Volume:     t.volume,
			Confidence: weightedConf,
			Trend:      Trend(filterOption(recent, o.ID), p.TrendThreshold),
		}
	}

	scale := 0.0
	if rawSum > 0 {
		scale = (1 - p.HouseEdge) / rawSum
	}
	for i := range out {
		out[i].Probability = raw[i] * scale
		out[i].ImpliedOdds = FormatImpliedOdds(out[i].Probability)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Probability > out[j].Probability
	})
	return out
}

// FormatImpliedOdds renders a probability as fractional odds against, e.g.
// 0.25 -> "3.0:1" and 0.8 -> "1:4.0".
func FormatImpliedOdds(probability float64) string {
	switch {
	case probability <= 0:
		return "∞:1"
	case probability >= 1:
		return "1:∞"
	}
	odds := 1/probability - 1
	if odds >= 1 {
		return fmt.Sprintf("%.1f:1", odds)
	}
	return fmt.Sprintf("1:%.1f", 1/odds)
}

// Trend compares the mean confidence of the older and newer half of the
// given predictions.
func Trend(predictions []domain.Prediction, threshold float64) domain.Trend {
	if len(predictions) < 2 {
		return domain.TrendStable
	}
	sorted := make([]domain.Prediction, len(predictions))
	copy(sorted, predictions)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
	})

	mid := len(sorted) / 2
	delta := meanConfidence(sorted[mid:]) - meanConfidence(sorted[:mid])
	switch {
	case delta > threshold:
		return domain.TrendUp
	case delta < -threshold:
		return domain.TrendDown
	default:
		return domain.TrendStable
	}
}

// RecentCutoff returns the start of the trend window ending at now.
func RecentCutoff(now time.Time, p Params) time.Time {
	return now.Add(-p.TrendWindow)
}

func orderedOptions(poll domain.Poll) []domain.Option {
	options := make([]domain.Option, len(poll.Options))
	copy(options, poll.Options)
	sort.SliceStable(options, func(i, j int) bool {
		return options[i].Position < options[j].Position
	})
	return options
}

func filterOption(predictions []domain.Prediction, optionID string) []domain.Prediction {
	var out []domain.Prediction
	for _, p := range predictions {
		if p.OptionID == optionID {
			out = append(out, p)
		}
	}
	return out
}

func meanConfidence(predictions []domain.Prediction) float64 {
	if len(predictions) == 0 {
		return 0
	}
	var sum float64
	for _, p := range predictions {
		sum += p.Confidence
	}
	return sum / float64(len(predictions))
}
