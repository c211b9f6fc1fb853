package algo

import (
	"math"
	"time"

	"github.com/alanyoungcy/optionsbot/internal/domain"
)

// maxPriceNudge is the largest fractional limit adjustment at full urgency.
const maxPriceNudge = 0.001

// Shortfall is an implementation-shortfall slicer. It trades faster while the
// signal's alpha is fresh and nudges the limit in the order's direction.
type Shortfall struct {
	perHour          int
	decay            float64
	maxParticipation float64
}

// NewShortfall creates an implementation-shortfall slicer.
func NewShortfall(cfg Config) *Shortfall {
	return &Shortfall{
		perHour:          max(1, cfg.ISIntervalsPerHour),
		decay:            cfg.ISAlphaDecay,
		maxParticipation: cfg.ISMaxParticipation,
	}
}

func (s *Shortfall) Name() string { return NameIS }

// ParticipationRate balances market impact sqrt(q*p)/10000 against the alpha
// lost over the window, capped at the configured maximum.
func (s *Shortfall) ParticipationRate(qty int, price, hours float64) float64 {
	impact := math.Sqrt(float64(qty)*price) / 10000
	opportunity := s.decay * hours
	return math.Min(s.maxParticipation, 1/(1+impact+opportunity))
}

func (s *Shortfall) Slice(req Request) *Schedule {
	if req.Quantity <= 0 {
		return newSchedule(nil)
	}
	hours := float64(req.window()/time.Minute) / 60
	rate := s.ParticipationRate(req.Quantity, req.Price, hours)
	intervals := max(1, int(hours*float64(s.perHour)))

	direction := 1.0
	if req.Side == domain.SideSell {
		direction = -1.0
	}

	slices := make([]domain.OrderSlice, intervals)
	for i := range slices {
		progress := float64(i) / float64(intervals)
		remainingAlpha := math.Exp(-s.decay * progress * hours)
		aggressiveness := math.Min(1, remainingAlpha*rate)

		slices[i] = domain.OrderSlice{
			Quantity:      int(float64(req.Quantity) * aggressiveness / float64(intervals)),
			ScheduledTime: req.at(i, intervals),
			LimitPrice:    req.Price * (1 + direction*aggressiveness*maxPriceNudge),
		}
	}
	return newSchedule(slices)
}
