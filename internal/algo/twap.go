package algo

import (
	"time"

	"github.com/alanyoungcy/optionsbot/internal/domain"
)

// TWAP splits an order into equal fixed-length intervals. The remainder goes
// one unit at a time to the leading slices so quantities always sum to the
// parent.
type TWAP struct {
	interval     int
	maxIntervals int
}

// NewTWAP creates a TWAP slicer.
func NewTWAP(cfg Config) *TWAP {
	return &TWAP{interval: cfg.TWAPIntervalMinutes, maxIntervals: cfg.TWAPMaxIntervals}
}

func (t *TWAP) Name() string { return NameTWAP }

func (t *TWAP) Slice(req Request) *Schedule {
	if req.Quantity <= 0 {
		return newSchedule(nil)
	}
	minutes := int(req.window() / time.Minute)
	intervals := max(1, min(t.maxIntervals, minutes/max(1, t.interval)))

	base := req.Quantity / intervals
	remainder := req.Quantity % intervals

	slices := make([]domain.OrderSlice, intervals)
	for i := range slices {
		qty := base
		if i < remainder {
			qty++
		}
		slices[i] = domain.OrderSlice{
			Quantity:      qty,
			ScheduledTime: req.at(i, intervals),
			LimitPrice:    req.Price,
		}
	}
	return newSchedule(slices)
}
