package protection

import (
	"fmt"
	"sort"
	"time"

	"github.com/adamalfredo/bybit-trading-bot-sub000/internal/domain"
)

// Tier is one row of the profit-floor ratchet table: once the position's
// best ROI reaches ROIThreshold, at least FloorROI is locked in.
type Tier struct {
	ROIThreshold float64 `toml:"roi_threshold"`
	FloorROI     float64 `toml:"floor_roi"`
}

// Config holds the protection thresholds. Percentages are in percent
// (1.5 means 1.5%), fractions are plain ratios.
type Config struct {
	Leverage float64

	InitialStopFraction float64
	TPRMultiple         float64

	TrailActivationPct         float64
	TrailActivationPctVolatile float64
	TrailRMultiple             float64

	BreakevenActivationPct float64
	BreakevenBufferPct     float64

	FloorTiers     []Tier
	FloorBufferPct float64
	FloorCooldown  time.Duration

	MaxLossROIPct float64

	StopTriggerBy domain.TriggerBy

	TrailInterval     time.Duration
	BreakevenInterval time.Duration
	FloorInterval     time.Duration
	SymbolTimeout     time.Duration
	MaxParallel       int
}

// DefaultConfig returns the thresholds the agent ships with.
func DefaultConfig() Config {
	return Config{
		Leverage:                   5,
		InitialStopFraction:        0.03,
		TPRMultiple:                3,
		TrailActivationPct:         1.5,
		TrailActivationPctVolatile: 3,
		TrailRMultiple:             1,
		BreakevenActivationPct:     1.0,
		BreakevenBufferPct:         0.1,
		FloorTiers: []Tier{
			{ROIThreshold: 10, FloorROI: 0},
			{ROIThreshold: 20, FloorROI: 10},
			{ROIThreshold: 35, FloorROI: 20},
			{ROIThreshold: 50, FloorROI: 35},
		},
		FloorBufferPct:    0.05,
		FloorCooldown:     30 * time.Second,
		MaxLossROIPct:     40,
		StopTriggerBy:     domain.TriggerMark,
		TrailInterval:     5 * time.Second,
		BreakevenInterval: 3 * time.Second,
		FloorInterval:     5 * time.Second,
		SymbolTimeout:     10 * time.Second,
		MaxParallel:       8,
	}
}

// Validate checks c and sorts the tier table ascending.
func (c *Config) Validate() error {
	var errs []string
	if c.Leverage <= 0 {
		errs = append(errs, "leverage must be positive")
	}
	if c.InitialStopFraction <= 0 || c.InitialStopFraction >= 1 {
		errs = append(errs, "initial_stop_fraction must be in (0, 1)")
	}
	if c.TrailActivationPct <= 0 || c.TrailActivationPctVolatile <= 0 {
		errs = append(errs, "trail activation percentages must be positive")
	}
	if c.BreakevenActivationPct <= c.BreakevenBufferPct {
		errs = append(errs, "breakeven_activation_pct must exceed breakeven_buffer_pct")
	}
	if c.MaxParallel <= 0 {
		errs = append(errs, "max_parallel must be positive")
	}
	sort.Slice(c.FloorTiers, func(i, j int) bool {
		return c.FloorTiers[i].ROIThreshold < c.FloorTiers[j].ROIThreshold
	})
	for i, t := range c.FloorTiers {
		if t.FloorROI >= t.ROIThreshold {
			errs = append(errs, fmt.Sprintf("floor tier %d: floor_roi %.2f must be below roi_threshold %.2f", i, t.FloorROI, t.ROIThreshold))
		}
		if i > 0 && t.FloorROI < c.FloorTiers[i-1].FloorROI {
			errs = append(errs, fmt.Sprintf("floor tier %d: floor_roi must not decrease", i))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("protection: invalid config: %v", errs)
	}
	return nil
}
