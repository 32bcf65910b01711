package protection

import (
	"time"

	"github.com/adamalfredo/bybit-trading-bot-sub000/internal/domain"
)

// The functions in this file are the pure state machine. They read and
// mutate a Position value only; the Engine decides which exchange calls to
// make from their answers.

// InitialLevels returns the opening stop-loss and take-profit for entry.
// The take-profit is zero when rDistance or the R multiple is unset.
func InitialLevels(dir domain.Direction, entry, rDistance float64, cfg Config) (stop, tp float64) {
	sign := dir.Sign()
	stop = entry * (1 - sign*cfg.InitialStopFraction)
	if rDistance > 0 && cfg.TPRMultiple > 0 {
		tp = entry + sign*rDistance*cfg.TPRMultiple
		if tp <= 0 {
			tp = 0
		}
	}
	return stop, tp
}

// NewPosition builds the ledger entry for a fresh fill. Stop and take-profit
// levels are left for the Engine to place.
func NewPosition(symbol string, dir domain.Direction, bucket domain.Bucket, strategy string, entry, qty, rDistance float64, now time.Time) domain.Position {
	return domain.Position{
		Symbol:     symbol,
		Direction:  dir,
		Bucket:     bucket,
		Strategy:   strategy,
		EntryPrice: entry,
		Qty:        qty,
		EntryCost:  entry * qty,
		EntryTime:  now,
		RDistance:  rDistance,
		PExtreme:   entry,
	}
}

// Observe folds price into the position's monotonic extremes.
func Observe(p *domain.Position, price float64) {
	if price <= 0 {
		return
	}
	if p.PExtreme <= 0 || p.Better(price, p.PExtreme) {
		p.PExtreme = price
	}
	move := p.Move(price)
	if move > p.MFE {
		p.MFE = move
	}
	if move < p.MAE {
		p.MAE = move
	}
}

// ActivationPct is the favourable move that arms trailing for bucket.
func ActivationPct(bucket domain.Bucket, cfg Config) float64 {
	if bucket == domain.BucketVolatile {
		return cfg.TrailActivationPctVolatile
	}
	return cfg.TrailActivationPct
}

// ShouldArmTrailing reports whether the position has run far enough to arm
// the trailing stop.
func ShouldArmTrailing(p domain.Position, cfg Config) bool {
	return !p.TrailingActive && p.MFE >= ActivationPct(p.Bucket, cfg)
}

// TrailDistance is the native trailing-stop distance in price units.
func TrailDistance(p domain.Position, cfg Config) float64 {
	if p.RDistance > 0 && cfg.TrailRMultiple > 0 {
		return p.RDistance * cfg.TrailRMultiple
	}
	return p.EntryPrice * cfg.InitialStopFraction
}

// BreakevenStop is the stop level that caps the loss at the buffer.
func BreakevenStop(p domain.Position, cfg Config) float64 {
	return p.EntryPrice * (1 + p.Direction.Sign()*cfg.BreakevenBufferPct/100)
}

// ShouldLockBreakeven reports whether the position has reached the
// breakeven activation move and has not been locked yet.
func ShouldLockBreakeven(p domain.Position, cfg Config) bool {
	return !p.BELocked && p.MFE >= cfg.BreakevenActivationPct
}

// FloorTarget returns the floor ROI of the highest tier whose threshold
// mfeROI has reached. tiers must be sorted ascending.
func FloorTarget(mfeROI float64, tiers []Tier) (float64, bool) {
	floor, ok := 0.0, false
	for _, t := range tiers {
		if mfeROI < t.ROIThreshold {
			break
		}
		floor, ok = t.FloorROI, true
	}
	return floor, ok
}

// FloorStop converts a floor ROI into a stop price, moved toward the market
// by the buffer so the fill after slippage still honours the floor.
func FloorStop(p domain.Position, floorROI float64, cfg Config) float64 {
	movePct := floorROI/cfg.Leverage + cfg.FloorBufferPct
	return p.EntryPrice * (1 + p.Direction.Sign()*movePct/100)
}

// FloorPlan is a proposed ratchet step.
type FloorPlan struct {
	FloorROI float64
	Stop     float64
}

// PlanFloor returns the ratchet step the position is due, if any. It never
// proposes a floor that is not strictly higher than the current one, and
// honours the cooldown between raises.
func PlanFloor(p domain.Position, now time.Time, cfg Config) (FloorPlan, bool) {
	target, ok := FloorTarget(p.MFE*cfg.Leverage, cfg.FloorTiers)
	if !ok {
		return FloorPlan{}, false
	}
	if p.FloorActive && target <= p.FloorROI {
		return FloorPlan{}, false
	}
	if p.FloorActive && cfg.FloorCooldown > 0 && now.Sub(p.FloorUpdatedAt) < cfg.FloorCooldown {
		return FloorPlan{}, false
	}
	return FloorPlan{FloorROI: target, Stop: FloorStop(p, target, cfg)}, true
}

// CheckExit reports whether the position must be closed at price.
func CheckExit(p domain.Position, price float64, cfg Config) (domain.CloseReason, bool) {
	if p.StopBreached(price) {
		return domain.CloseStopBreach, true
	}
	if p.FloorActive && p.FloorPrice > 0 && !p.Better(price, p.FloorPrice) {
		return domain.CloseStopBreach, true
	}
	if cfg.MaxLossROIPct > 0 && p.ROI(price, cfg.Leverage) <= -cfg.MaxLossROIPct {
		return domain.CloseMaxLoss, true
	}
	return "", false
}
