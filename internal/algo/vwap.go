package algo

import (
	"time"

	"github.com/alanyoungcy/optionsbot/internal/domain"
)

// VWAP weights slices by an intraday volume curve. Windows spanning more
// intervals than the curve has buckets fall back to uniform weights.
type VWAP struct {
	interval int
	curve    []float64
}

// NewVWAP creates a VWAP slicer.
func NewVWAP(cfg Config) *VWAP {
	curve := cfg.VWAPCurve
	if len(curve) == 0 {
		curve = DefaultVolumeCurve
	}
	return &VWAP{interval: cfg.VWAPIntervalMinutes, curve: curve}
}

func (v *VWAP) Name() string { return NameVWAP }

func (v *VWAP) Slice(req Request) *Schedule {
	if req.Quantity <= 0 {
		return newSchedule(nil)
	}
	minutes := int(req.window() / time.Minute)
	intervals := min(len(v.curve), minutes/max(1, v.interval))
	if intervals <= 0 {
		return newSchedule(nil)
	}

	slices := make([]domain.OrderSlice, intervals)
	for i := range slices {
		slices[i] = domain.OrderSlice{
			Quantity:      int(float64(req.Quantity) * v.weight(i, intervals)),
			ScheduledTime: req.at(i, intervals),
			LimitPrice:    req.Price,
		}
	}
	return newSchedule(slices)
}

func (v *VWAP) weight(i, intervals int) float64 {
	if intervals <= len(v.curve) {
		return v.curve[i*len(v.curve)/intervals]
	}
	return 1 / float64(intervals)
}
