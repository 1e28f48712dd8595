package health

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"theravox/internal/domain"
)

const (
	StageInBed  = "inBed"
	StageAwake  = "awake"
	StageAsleep = "asleep"
)

type stageSpan struct {
	label string
	dur   time.Duration
}

// One night, starting at 22:00.
var night = []stageSpan{
	{StageInBed, 30 * time.Minute},
	{StageAwake, 15 * time.Minute},
	{StageAsleep, 2 * time.Hour},
	{StageAsleep, 150 * time.Minute},
	{StageAsleep, 90 * time.Minute},
	{StageAsleep, 90 * time.Minute},
	{StageAsleep, time.Hour},
	{StageAwake, 15 * time.Minute},
}

// Simulator generates two days of plausible samples ending at Now.
type Simulator struct {
	Now func() time.Time
	Loc *time.Location

	mu  sync.Mutex
	rng *rand.Rand
}

func NewSimulator(seed int64) *Simulator {
	return &Simulator{
		Now: time.Now,
		Loc: time.Local,
		rng: rand.New(rand.NewSource(seed)),
	}
}

func (s *Simulator) between(lo, hi float64) float64 {
	return lo + s.rng.Float64()*(hi-lo)
}

// HeartRate emits one reading every 15 minutes, shaped by hour of day.
func (s *Simulator) HeartRate(context.Context) ([]domain.BiometricSample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.Now().In(s.Loc)
	var out []domain.BiometricSample
	for t := now.AddDate(0, 0, -2); !t.After(now); t = t.Add(15 * time.Minute) {
		var base float64
		switch h := t.Hour(); {
		case h <= 5:
			base = s.between(50, 65)
		case h <= 8:
			base = s.between(70, 90)
		case h <= 17:
			base = s.between(65, 85)
		case h <= 21:
			base = s.between(70, 95)
		default:
			base = s.between(60, 75)
		}
		out = append(out, domain.BiometricSample{
			Kind:  domain.BiometricHeartRate,
			Value: base + s.between(-5, 5),
			Start: t,
			End:   t,
		})
	}
	return out, nil
}

// Sleep emits the stages of the last two nights, oldest first.
func (s *Simulator) Sleep(context.Context) ([]domain.BiometricSample, error) {
	now := s.Now().In(s.Loc)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, s.Loc)

	var out []domain.BiometricSample
	for offset := 2; offset >= 1; offset-- {
		start := today.AddDate(0, 0, -offset).Add(22 * time.Hour)
		for _, span := range night {
			end := start.Add(span.dur)
			out = append(out, domain.BiometricSample{
				Kind:  domain.BiometricSleepStage,
				Label: span.label,
				Start: start,
				End:   end,
			})
			start = end
		}
	}
	return out, nil
}
