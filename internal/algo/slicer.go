// Package algo implements the order slicing algorithms. Every slicer is a pure
// function of its Request and returns a Schedule of child orders.
package algo

import (
	"fmt"
	"strings"
	"time"

	"github.com/alanyoungcy/optionsbot/internal/domain"
)

// Algorithm names accepted by ForName.
const (
	NameTWAP = "TWAP"
	NameVWAP = "VWAP"
	NameIS   = "IS"
)

// Request is a parent order to be split over [Start, End).
type Request struct {
	Quantity int
	Price    float64
	Side     domain.Side
	Start    time.Time
	End      time.Time
}

func (r Request) window() time.Duration {
	if r.End.Before(r.Start) {
		return 0
	}
	return r.End.Sub(r.Start)
}

// at returns the dispatch time of child i of n, evenly spaced over the window.
func (r Request) at(i, n int) time.Time {
	return r.Start.Add(r.window() * time.Duration(i) / time.Duration(n))
}

// Slicer splits a parent order into child slices.
type Slicer interface {
	Name() string
	Slice(req Request) *Schedule
}

// Config holds the tunables for every slicer.
type Config struct {
	TWAPIntervalMinutes int
	TWAPMaxIntervals    int
	VWAPIntervalMinutes int
	VWAPCurve           []float64
	ISIntervalsPerHour  int
	ISAlphaDecay        float64
	ISMaxParticipation  float64
}

// DefaultVolumeCurve is the intraday volume profile in twelve buckets.
var DefaultVolumeCurve = []float64{0.02, 0.03, 0.04, 0.06, 0.08, 0.12, 0.15, 0.18, 0.16, 0.10, 0.04, 0.02}

// DefaultConfig returns the stock slicing parameters.
func DefaultConfig() Config {
	return Config{
		TWAPIntervalMinutes: 15,
		TWAPMaxIntervals:    20,
		VWAPIntervalMinutes: 30,
		VWAPCurve:           DefaultVolumeCurve,
		ISIntervalsPerHour:  4,
		ISAlphaDecay:        0.1,
		ISMaxParticipation:  0.3,
	}
}

// ForName returns the slicer registered under name (case-insensitive).
func ForName(name string, cfg Config) (Slicer, error) {
	switch strings.ToUpper(name) {
	case NameTWAP:
		return NewTWAP(cfg), nil
	case NameVWAP:
		return NewVWAP(cfg), nil
	case NameIS, "IMPLEMENTATION_SHORTFALL":
		return NewShortfall(cfg), nil
	default:
		return nil, fmt.Errorf("algo: unknown algorithm %q", name)
	}
}

// Schedule is a finite, ordered sequence of child slices. It can be walked
// exactly once and is meant for a single consumer.
type Schedule struct {
	slices []domain.OrderSlice
	next   int
}

// newSchedule keeps only slices with a positive quantity.
func newSchedule(slices []domain.OrderSlice) *Schedule {
	kept := slices[:0]
	for _, s := range slices {
		if s.Quantity > 0 {
			kept = append(kept, s)
		}
	}
	return &Schedule{slices: kept}
}

// Next returns the next slice, or false once the schedule is exhausted.
func (s *Schedule) Next() (domain.OrderSlice, bool) {
	if s.next >= len(s.slices) {
		return domain.OrderSlice{}, false
	}
	sl := s.slices[s.next]
	s.next++
	return sl, true
}

// Len is the number of slices in the schedule.
func (s *Schedule) Len() int { return len(s.slices) }

// Remaining is the number of slices not yet returned by Next.
func (s *Schedule) Remaining() int { return len(s.slices) - s.next }

// Total is the sum of all slice quantities.
func (s *Schedule) Total() int {
	var n int
	for _, sl := range s.slices {
		n += sl.Quantity
	}
	return n
}

// Slices returns a copy of every slice, consumed or not.
func (s *Schedule) Slices() []domain.OrderSlice {
	out := make([]domain.OrderSlice, len(s.slices))
	copy(out, s.slices)
	return out
}
