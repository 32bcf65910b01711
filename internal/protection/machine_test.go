package protection

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adamalfredo/bybit-trading-bot-sub000/internal/domain"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Leverage = 10
	cfg.InitialStopFraction = 0.03
	cfg.TrailActivationPct = 1.5
	cfg.TrailActivationPctVolatile = 3
	cfg.BreakevenActivationPct = 1
	cfg.BreakevenBufferPct = 0.1
	cfg.FloorTiers = []Tier{{ROIThreshold: 10, FloorROI: 0}, {ROIThreshold: 20, FloorROI: 10}}
	cfg.FloorBufferPct = 0.05
	cfg.FloorCooldown = 30 * time.Second
	cfg.MaxLossROIPct = 50
	return cfg
}

func TestInitialLevels(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.TPRMultiple = 2

	tests := []struct {
		name     string
		dir      domain.Direction
		entry    float64
		r        float64
		wantStop float64
		wantTP   float64
	}{
		{name: "long 100 stops at 97", dir: domain.Long, entry: 100, r: 2, wantStop: 97, wantTP: 104},
		{name: "short 100 stops at 103", dir: domain.Short, entry: 100, r: 2, wantStop: 103, wantTP: 96},
		{name: "no r distance means no take profit", dir: domain.Long, entry: 50, r: 0, wantStop: 48.5, wantTP: 0},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			stop, tp := InitialLevels(tt.dir, tt.entry, tt.r, cfg)
			assert.InDelta(t, tt.wantStop, stop, 1e-9)
			assert.InDelta(t, tt.wantTP, tp, 1e-9)
		})
	}
}

func TestObserveIsMonotonic(t *testing.T) {
	t.Parallel()

	for _, dir := range []domain.Direction{domain.Long, domain.Short} {
		dir := dir
		t.Run(string(dir), func(t *testing.T) {
			t.Parallel()
			p := NewPosition("BTCUSDT", dir, domain.BucketStable, "test", 100, 1, 2, time.Now())
			prices := []float64{101, 99, 104, 97, 102, 95, 106, 100}

			prevExtreme, prevMFE, prevMAE := p.PExtreme, p.MFE, p.MAE
			for _, price := range prices {
				Observe(&p, price)
				if dir == domain.Long {
					assert.GreaterOrEqual(t, p.PExtreme, prevExtreme)
				} else {
					assert.LessOrEqual(t, p.PExtreme, prevExtreme)
				}
				assert.GreaterOrEqual(t, p.MFE, prevMFE)
				assert.LessOrEqual(t, p.MAE, prevMAE)
				prevExtreme, prevMFE, prevMAE = p.PExtreme, p.MFE, p.MAE
			}
			if dir == domain.Long {
				assert.Equal(t, 106.0, p.PExtreme)
				assert.InDelta(t, 6, p.MFE, 1e-9)
				assert.InDelta(t, -5, p.MAE, 1e-9)
			} else {
				assert.Equal(t, 95.0, p.PExtreme)
				assert.InDelta(t, 5, p.MFE, 1e-9)
				assert.InDelta(t, -6, p.MAE, 1e-9)
			}
		})
	}
}

func TestShouldArmTrailingByBucket(t *testing.T) {
	t.Parallel()
	cfg := testConfig()

	stable := NewPosition("BTCUSDT", domain.Long, domain.BucketStable, "", 100, 1, 0, time.Now())
	Observe(&stable, 102)
	assert.True(t, ShouldArmTrailing(stable, cfg))

	volatile := NewPosition("PEPEUSDT", domain.Long, domain.BucketVolatile, "", 100, 1, 0, time.Now())
	Observe(&volatile, 102)
	assert.False(t, ShouldArmTrailing(volatile, cfg))
	Observe(&volatile, 103)
	assert.True(t, ShouldArmTrailing(volatile, cfg))

	volatile.TrailingActive = true
	assert.False(t, ShouldArmTrailing(volatile, cfg))
}

func TestBreakevenStop(t *testing.T) {
	t.Parallel()
	cfg := testConfig()

	long := NewPosition("X", domain.Long, domain.BucketStable, "", 100, 1, 0, time.Now())
	short := NewPosition("X", domain.Short, domain.BucketStable, "", 100, 1, 0, time.Now())
	assert.InDelta(t, 100.1, BreakevenStop(long, cfg), 1e-9)
	assert.InDelta(t, 99.9, BreakevenStop(short, cfg), 1e-9)
}

func TestFloorTarget(t *testing.T) {
	t.Parallel()
	tiers := []Tier{{ROIThreshold: 10, FloorROI: 0}, {ROIThreshold: 20, FloorROI: 10}}

	tests := []struct {
		roi    float64
		want   float64
		wantOK bool
	}{
		{roi: 5, want: 0, wantOK: false},
		{roi: 10, want: 0, wantOK: true},
		{roi: 19.99, want: 0, wantOK: true},
		{roi: 21, want: 10, wantOK: true},
		{roi: 500, want: 10, wantOK: true},
	}
	for _, tt := range tests {
		got, ok := FloorTarget(tt.roi, tiers)
		assert.Equal(t, tt.wantOK, ok, "roi %v", tt.roi)
		assert.Equal(t, tt.want, got, "roi %v", tt.roi)
	}
}

func TestPlanFloorScenario(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	now := time.Unix(1700000000, 0)

	p := NewPosition("SOLUSDT", domain.Long, domain.BucketStable, "", 100, 1, 0, now)
	Observe(&p, 102.1) // MFE 2.1% x10 = ROI 21

	plan, ok := PlanFloor(p, now, cfg)
	require.True(t, ok)
	assert.Equal(t, 10.0, plan.FloorROI)
	// 10% ROI at 10x is a 1% move, plus 0.05% buffer.
	assert.InDelta(t, 101.05, plan.Stop, 1e-9)

	p.FloorActive, p.FloorROI, p.FloorUpdatedAt = true, plan.FloorROI, now

	// Same tier again: no-op regardless of time.
	_, ok = PlanFloor(p, now.Add(time.Hour), cfg)
	assert.False(t, ok)
}

func TestPlanFloorCooldown(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	now := time.Unix(1700000000, 0)

	p := NewPosition("SOLUSDT", domain.Short, domain.BucketStable, "", 100, 1, 0, now)
	Observe(&p, 98.8) // ROI 12 -> tier 0
	plan, ok := PlanFloor(p, now, cfg)
	require.True(t, ok)
	assert.Equal(t, 0.0, plan.FloorROI)
	assert.InDelta(t, 99.95, plan.Stop, 1e-9)
	p.FloorActive, p.FloorROI, p.FloorUpdatedAt = true, plan.FloorROI, now

	Observe(&p, 97.5) // ROI 25 -> tier 10
	_, ok = PlanFloor(p, now.Add(10*time.Second), cfg)
	assert.False(t, ok, "cooldown holds the next raise")

	plan, ok = PlanFloor(p, now.Add(31*time.Second), cfg)
	require.True(t, ok)
	assert.Equal(t, 10.0, plan.FloorROI)
	assert.InDelta(t, 98.95, plan.Stop, 1e-9)
}

func TestCheckExit(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.MaxLossROIPct = 25

	p := NewPosition("ETHUSDT", domain.Long, domain.BucketStable, "", 100, 1, 0, time.Now())
	p.StopLoss = 97

	_, ok := CheckExit(p, 98, cfg)
	assert.False(t, ok)

	reason, ok := CheckExit(p, 97, cfg)
	require.True(t, ok)
	assert.Equal(t, domain.CloseStopBreach, reason)

	// Stop far away, but 10x leverage on a 2.5% drop is -25% ROI.
	p.StopLoss = 90
	reason, ok = CheckExit(p, 97.5, cfg)
	require.True(t, ok)
	assert.Equal(t, domain.CloseMaxLoss, reason)

	short := NewPosition("ETHUSDT", domain.Short, domain.BucketStable, "", 100, 1, 0, time.Now())
	short.StopLoss = 103
	reason, ok = CheckExit(short, 103.2, cfg)
	require.True(t, ok)
	assert.Equal(t, domain.CloseStopBreach, reason)
}

func TestCheckExitHonoursFloor(t *testing.T) {
	t.Parallel()
	cfg := testConfig()

	tests := []struct {
		name   string
		dir    domain.Direction
		stop   float64
		floor  float64
		price  float64
		closed bool
	}{
		{name: "long above floor", dir: domain.Long, stop: 100.1, floor: 101.05, price: 101.2},
		{name: "long at floor", dir: domain.Long, stop: 100.1, floor: 101.05, price: 101.05, closed: true},
		{name: "long below floor", dir: domain.Long, stop: 100.1, floor: 101.05, price: 100.5, closed: true},
		{name: "short below floor", dir: domain.Short, stop: 99.9, floor: 98.95, price: 98.5},
		{name: "short above floor", dir: domain.Short, stop: 99.9, floor: 98.95, price: 99.5, closed: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p := NewPosition("ETHUSDT", tt.dir, domain.BucketStable, "", 100, 1, 0, time.Now())
			p.StopLoss = tt.stop
			p.FloorActive = true
			p.FloorPrice = tt.floor

			reason, ok := CheckExit(p, tt.price, cfg)
			assert.Equal(t, tt.closed, ok)
			if tt.closed {
				assert.Equal(t, domain.CloseStopBreach, reason)
			}
		})
	}
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.FloorTiers = []Tier{{ROIThreshold: 20, FloorROI: 10}, {ROIThreshold: 10, FloorROI: 0}}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 10.0, cfg.FloorTiers[0].ROIThreshold, "tiers are sorted")

	bad := DefaultConfig()
	bad.Leverage = 0
	bad.FloorTiers = []Tier{{ROIThreshold: 10, FloorROI: 15}}
	err := bad.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "leverage")
	assert.Contains(t, err.Error(), "floor tier 0")
}
