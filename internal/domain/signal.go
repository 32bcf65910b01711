package domain

import "context"

// Verdict is the signal generator's decision for a symbol.
type Verdict string

const (
	VerdictNone  Verdict = "NONE"
	VerdictEnter Verdict = "ENTER"
	VerdictExit  Verdict = "EXIT"
)

// Signal is the result of analysing one symbol.
type Signal struct {
	Symbol   string
	Verdict  Verdict
	Strategy string
	Price    float64 // reference price used by the generator
	ATR      float64 // latest average true range, 0 if unknown
}

// SignalGenerator decides whether to enter or exit a symbol.
type SignalGenerator interface {
	Analyze(ctx context.Context, symbol string) (Signal, error)
}

// Candidate is a tradable symbol with its volatility bucket.
type Candidate struct {
	Symbol string
	Bucket Bucket
}

// Universe supplies the ordered list of symbols to scan.
type Universe interface {
	Refresh(ctx context.Context) error
	Candidates() []Candidate
	BucketOf(symbol string) Bucket
}
