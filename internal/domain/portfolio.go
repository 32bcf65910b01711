package domain

import "time"

// Portfolio is a point-in-time valuation of the account.
type Portfolio struct {
	Available float64
	Equity    float64
	Marks     map[string]float64 // symbol -> mark-to-market notional
	Invested  map[Bucket]float64
	TakenAt   time.Time
}

// InvestedIn returns the notional currently held in bucket b.
func (p Portfolio) InvestedIn(b Bucket) float64 {
	if p.Invested == nil {
		return 0
	}
	return p.Invested[b]
}
