package sinks

import (
	"context"
	"maps"
	"sync"

	"github.com/JakeFAU/paper-harvester/internal/progress"
)

// YearTally counts document events for one year.
type YearTally struct {
	Expected int64                    `json:"expected"`
	Stages   map[progress.Stage]int64 `json:"stages"`
}

// TallySink keeps running per-year counts in memory for live status queries.
type TallySink struct {
	mu    sync.RWMutex
	years map[string]*YearTally
	runs  int64
	done  int64
}

// NewTallySink returns an empty tally.
func NewTallySink() *TallySink {
	return &TallySink{years: make(map[string]*YearTally)}
}

// Consume folds the batch into the running counts.
func (s *TallySink) Consume(_ context.Context, batch []progress.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, evt := range batch {
		switch evt.Stage {
		case progress.StageRunStart:
			s.runs++
		case progress.StageRunDone:
			s.done++
		case progress.StageYearListed:
			s.year(evt.Year).Expected = evt.Bytes
		default:
			s.year(evt.Year).Stages[evt.Stage]++
		}
	}
	return nil
}

func (s *TallySink) year(year string) *YearTally {
	if year == "" {
		year = "unknown"
	}
	t, ok := s.years[year]
	if !ok {
		t = &YearTally{Stages: make(map[progress.Stage]int64)}
		s.years[year] = t
	}
	return t
}

// TallySnapshot is a copy of the tally safe to serialize.
type TallySnapshot struct {
	RunsStarted   int64                `json:"runs_started"`
	RunsCompleted int64                `json:"runs_completed"`
	Years         map[string]YearTally `json:"years"`
}

// Snapshot copies the current counts.
func (s *TallySink) Snapshot() TallySnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := TallySnapshot{
		RunsStarted:   s.runs,
		RunsCompleted: s.done,
		Years:         make(map[string]YearTally, len(s.years)),
	}
	for year, t := range s.years {
		out.Years[year] = YearTally{Expected: t.Expected, Stages: maps.Clone(t.Stages)}
	}
	return out
}

// Close implements the Sink interface; it performs no action.
func (s *TallySink) Close(context.Context) error {
	return nil
}
