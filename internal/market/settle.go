package market

import (
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/pollmarket/internal/domain"
)

// Settle computes the pari-mutuel settlement of a poll from its unresolved
// predictions. All point arithmetic is exact: stakes, pool and payouts stay
// integers and fractional factors are applied in decimal before flooring.
//
// The returned Settlement has no Source or ResolvedAt; the caller owns those.
func Settle(pollID, winningOptionID string, predictions []domain.Prediction, p Params) domain.Settlement {
	s := domain.Settlement{
		PollID:          pollID,
		WinningOptionID: winningOptionID,
		Payouts:         make([]domain.Payout, 0, len(predictions)),
	}
	for _, pred := range predictions {
		s.TotalPool += pred.Points
		if pred.OptionID == winningOptionID {
			s.WinningPool += pred.Points
		}
	}

	refund := s.WinningPool == 0 && p.NoWinnerPolicy == domain.NoWinnerRefund
	s.Refunded = refund

	one := decimal.NewFromInt(1)
	pool := decimal.NewFromInt(s.TotalPool)
	winningPool := decimal.NewFromInt(s.WinningPool)
	afterEdge := one.Sub(decimal.NewFromFloat(p.HouseEdge))
	bonusRate := decimal.NewFromFloat(p.ConfidenceBonus)
	winnerRep := decimal.NewFromFloat(p.WinnerReputationRate)
	loserRep := decimal.NewFromFloat(p.LoserReputationRate)

	for _, pred := range predictions {
		line := domain.Payout{
			PredictionID: pred.ID,
			UserID:       pred.UserID,
			OptionID:     pred.OptionID,
			Points:       pred.Points,
			Confidence:   pred.Confidence,
		}
		confidence := decimal.NewFromFloat(pred.Confidence)

		switch {
		case refund:
			line.BasePayout = pred.Points
			line.Payout = pred.Points

		case s.WinningPool > 0 && pred.OptionID == winningOptionID:
			// payout = points * pool * (1-edge) * (1+confidence*bonus) / winningPool
			base := decimal.NewFromInt(pred.Points).Mul(pool).Mul(afterEdge)
			line.BasePayout = floorDiv(base, winningPool)
			line.Payout = floorDiv(base.Mul(one.Add(confidence.Mul(bonusRate))), winningPool)
			line.Won = true

			if profit := line.Payout - pred.Points; profit > 0 {
				line.ReputationChange = decimal.NewFromInt(profit).
					Mul(winnerRep).
					Mul(one.Add(confidence)).
					Floor().IntPart()
			}

		default:
			line.ReputationChange = -decimal.NewFromInt(pred.Points).Mul(loserRep).Floor().IntPart()
		}

		if line.Won {
			s.Winners++
		} else if !refund {
			s.Losers++
		}
		s.PaidOut += line.Payout
		s.Payouts = append(s.Payouts, line)
	}

	s.HouseRetained = s.TotalPool - s.PaidOut
	return s
}

// floorDiv returns floor(num/den) for non-negative num and positive den.
func floorDiv(num, den decimal.Decimal) int64 {
	q, _ := num.QuoRem(den, 0)
	return q.IntPart()
}
