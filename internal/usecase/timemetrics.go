package usecase

import "github.com/powerpulse/powerpulse/internal/domain"

// TimeMetrics holds the locally derived response and handling durations for
// one conversation-day. Fields are nil where the day has no defining pair.
type TimeMetrics struct {
	FirstResponseSec *float64
	AvgResponseSec   *float64
	HandlingMin      *float64
}

// ComputeTimeMetrics derives time metrics from a day's messages, which must
// already be in timestamp order. A response pair is the first unanswered
// to_company message and the next to_client message after it; the pair
// resets once answered, so consecutive agent messages count once. Handling
// time needs at least two messages.
func ComputeTimeMetrics(msgs []domain.Message) TimeMetrics {
	var tm TimeMetrics
	if len(msgs) == 0 {
		return tm
	}
	if len(msgs) >= 2 {
		minutes := msgs[len(msgs)-1].SocialCreateTime.Sub(msgs[0].SocialCreateTime).Minutes()
		tm.HandlingMin = &minutes
	}
	var pending *domain.Message
	var gaps []float64
	for i := range msgs {
		m := &msgs[i]
		switch m.Direction {
		case domain.DirectionToCompany:
			if pending == nil {
				pending = m
			}
		case domain.DirectionToClient:
			if pending != nil {
				gaps = append(gaps, m.SocialCreateTime.Sub(pending.SocialCreateTime).Seconds())
				pending = nil
			}
		}
	}
	if len(gaps) > 0 {
		first := gaps[0]
		tm.FirstResponseSec = &first
		sum := 0.0
		for _, g := range gaps {
			sum += g
		}
		avg := sum / float64(len(gaps))
		tm.AvgResponseSec = &avg
	}
	return tm
}
