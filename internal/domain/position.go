package domain

import (
	"fmt"
	"strings"
	"time"
)

// Direction is the side of a position. It is fixed for the lifetime of the
// position and, for a running agent, for the lifetime of the process.
type Direction string

const (
	Long  Direction = "long"
	Short Direction = "short"
)

// ParseDirection converts a config string into a Direction.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "long", "buy":
		return Long, nil
	case "short", "sell":
		return Short, nil
	default:
		return "", fmt.Errorf("domain: unknown direction %q", s)
	}
}

// Sign returns +1 for Long and -1 for Short. Every price comparison in the
// protection engine is written in terms of this sign.
func (d Direction) Sign() float64 {
	if d == Short {
		return -1
	}
	return 1
}

// EntrySide is the order side that opens a position in this direction.
func (d Direction) EntrySide() Side {
	if d == Short {
		return SideSell
	}
	return SideBuy
}

// ExitSide is the order side that reduces a position in this direction.
func (d Direction) ExitSide() Side {
	if d == Short {
		return SideBuy
	}
	return SideSell
}

// Bucket is the volatility class of an instrument in the universe.
type Bucket string

const (
	BucketStable   Bucket = "stable"
	BucketVolatile Bucket = "volatile"
)

// Position is the protection state for one open symbol. All monotonic
// fields (PExtreme, FloorROI, MFE, MAE) only ever move in one direction.
type Position struct {
	Symbol     string    `json:"symbol"`
	Direction  Direction `json:"direction"`
	Bucket     Bucket    `json:"bucket"`
	Strategy   string    `json:"strategy"`
	EntryPrice float64   `json:"entry_price"`
	Qty        float64   `json:"qty"`
	EntryCost  float64   `json:"entry_cost"`
	EntryTime  time.Time `json:"entry_time"`

	StopLoss   float64 `json:"stop_loss"`
	TakeProfit float64 `json:"take_profit"`
	RDistance  float64 `json:"r_distance"`

	// StopOnExchange is false while StopLoss is only enforced locally.
	StopOnExchange bool `json:"stop_on_exchange"`

	TrailingActive bool    `json:"trailing_active"`
	PExtreme       float64 `json:"p_extreme"`

	FloorActive    bool      `json:"floor_active"`
	FloorROI       float64   `json:"floor_roi"`
	FloorPrice     float64   `json:"floor_price"`
	FloorUpdatedAt time.Time `json:"floor_updated_at"`

	BELocked bool    `json:"be_locked"`
	BEPrice  float64 `json:"be_price"`

	MFE float64 `json:"mfe"` // best favourable move, percent of entry
	MAE float64 `json:"mae"` // worst adverse move, percent of entry (<= 0)

	Recovered bool `json:"recovered"`
}

// Move returns the signed favourable price move from entry in percent.
// Positive means the position is in profit.
func (p Position) Move(price float64) float64 {
	if p.EntryPrice <= 0 {
		return 0
	}
	return p.Direction.Sign() * (price - p.EntryPrice) / p.EntryPrice * 100
}

// ROI returns the leveraged return on margin in percent for the given price.
func (p Position) ROI(price float64, leverage float64) float64 {
	return p.Move(price) * leverage
}

// Better reports whether price a is strictly more favourable than b for
// this position's direction.
func (p Position) Better(a, b float64) bool {
	return p.Direction.Sign()*(a-b) > 0
}

// StopBreached reports whether price has crossed the local stop level.
func (p Position) StopBreached(price float64) bool {
	if p.StopLoss <= 0 {
		return false
	}
	return p.Direction.Sign()*(price-p.StopLoss) <= 0
}

// PnL returns the unrealised profit in quote currency at price.
func (p Position) PnL(price float64) float64 {
	return p.Direction.Sign() * (price - p.EntryPrice) * p.Qty
}
