package services

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"raffle/internal/apperr"
	"raffle/internal/metrics"
	"raffle/internal/models"
)

// HighlightInterval is the fixed cadence of the suspense phase.
const HighlightInterval = 100 * time.Millisecond

// DrawEngine selects winners uniformly at random.
type DrawEngine struct {
	clock clockwork.Clock
	intn  func(n int) int
}

// NewDrawEngine creates a DrawEngine. A nil clock uses the real clock.
func NewDrawEngine(clock clockwork.Clock) *DrawEngine {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &DrawEngine{
		clock: clock,
		intn:  rand.Intn,
	}
}

// Draw returns one participant chosen uniformly at random.
func (e *DrawEngine) Draw(participants []models.Participant) (models.Participant, error) {
	if len(participants) == 0 {
		return models.Participant{}, apperr.NewInvalidArgument("no participants to draw from", "participants", 0)
	}
	return participants[e.intn(len(participants))], nil
}

// Highlights returns the decorative pick sequence for a suspense phase of the
// given duration. It says nothing about who will win.
func (e *DrawEngine) Highlights(participants []models.Participant, duration time.Duration) *HighlightSequence {
	total := 0
	if len(participants) > 0 && duration > 0 {
		total = int(duration / HighlightInterval)
	}
	return &HighlightSequence{
		participants: participants,
		total:        total,
		intn:         e.intn,
	}
}

// HighlightSequence lazily yields a finite number of random picks.
// It is not safe for concurrent use.
type HighlightSequence struct {
	participants []models.Participant
	total        int
	pos          int
	intn         func(n int) int
}

// Next returns the next pick, or false once the sequence is exhausted.
func (h *HighlightSequence) Next() (models.Participant, bool) {
	if h.pos >= h.total {
		return models.Participant{}, false
	}
	h.pos++
	return h.participants[h.intn(len(h.participants))], true
}

// Len is the total number of picks the sequence produces.
func (h *HighlightSequence) Len() int {
	return h.total
}

// Reset restarts the sequence. Picks after a reset are freshly random.
func (h *HighlightSequence) Reset() {
	h.pos = 0
}

// DrawState is the lifecycle state of a DrawSession.
type DrawState int

const (
	StateIdle DrawState = iota
	StateSuspense
	StateWinnerSelected
)

func (s DrawState) String() string {
	switch s {
	case StateSuspense:
		return "suspense"
	case StateWinnerSelected:
		return "winner_selected"
	default:
		return "idle"
	}
}

// DrawSession runs one draw at a time: Idle -> Suspense -> WinnerSelected.
// From WinnerSelected a new Run starts another suspense phase; Reset returns to Idle.
type DrawSession struct {
	engine *DrawEngine

	mu     sync.Mutex
	state  DrawState
	winner *models.Participant
	cancel context.CancelFunc
	run    uint64
}

func NewDrawSession(engine *DrawEngine) *DrawSession {
	return &DrawSession{engine: engine}
}

// Run plays the suspense phase, calling onHighlight once per tick, then draws
// the winner independently of the highlighted picks. It fails with
// DrawInProgress if another run is active and DrawCancelled if the run is
// cancelled (through Cancel, Reset or ctx) before the winner is announced.
func (s *DrawSession) Run(ctx context.Context, participants []models.Participant, duration time.Duration, onHighlight func(models.Participant)) (models.Participant, error) {
	if len(participants) == 0 {
		metrics.DrawsTotal.WithLabelValues("rejected").Inc()
		return models.Participant{}, apperr.NewInvalidArgument("no participants to draw from", "participants", 0)
	}

	s.mu.Lock()
	if s.state == StateSuspense {
		s.mu.Unlock()
		metrics.DrawsTotal.WithLabelValues("rejected").Inc()
		return models.Participant{}, apperr.NewDrawInProgress()
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.run++
	myRun := s.run
	s.state = StateSuspense
	s.winner = nil
	s.cancel = cancel
	s.mu.Unlock()
	defer cancel()

	seq := s.engine.Highlights(participants, duration)
	if seq.Len() > 0 {
		ticker := s.engine.clock.NewTicker(HighlightInterval)
		defer ticker.Stop()

		for pick, ok := seq.Next(); ok; pick, ok = seq.Next() {
			// A tick may already be queued when Cancel lands.
			if !s.current(myRun) || runCtx.Err() != nil {
				s.abandon(myRun)
				metrics.DrawsTotal.WithLabelValues("cancelled").Inc()
				return models.Participant{}, apperr.NewDrawCancelled().WithCause(runCtx.Err())
			}
			if onHighlight != nil {
				onHighlight(pick)
			}
			select {
			case <-runCtx.Done():
				s.abandon(myRun)
				metrics.DrawsTotal.WithLabelValues("cancelled").Inc()
				return models.Participant{}, apperr.NewDrawCancelled().WithCause(runCtx.Err())
			case <-ticker.Chan():
			}
		}
	}

	winner, err := s.engine.Draw(participants)
	if err != nil {
		s.abandon(myRun)
		return models.Participant{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.run != myRun || s.state != StateSuspense || runCtx.Err() != nil {
		metrics.DrawsTotal.WithLabelValues("cancelled").Inc()
		return models.Participant{}, apperr.NewDrawCancelled()
	}
	s.state = StateWinnerSelected
	s.winner = &winner
	s.cancel = nil
	metrics.DrawsTotal.WithLabelValues("winner").Inc()
	return winner, nil
}

// current reports whether run is still the active suspense run.
func (s *DrawSession) current(run uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.run == run && s.state == StateSuspense
}

// abandon returns the session to Idle if run is still the active run.
func (s *DrawSession) abandon(run uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.run == run && s.state == StateSuspense {
		s.state = StateIdle
		s.cancel = nil
	}
}

// Cancel stops an active suspense phase. It reports whether a run was cancelled.
func (s *DrawSession) Cancel() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelLocked()
}

func (s *DrawSession) cancelLocked() bool {
	if s.state != StateSuspense {
		return false
	}
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	// Invalidate the run so a late winner is never announced.
	s.run++
	s.state = StateIdle
	return true
}

// Reset cancels any active run and clears the winner.
func (s *DrawSession) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelLocked()
	s.state = StateIdle
	s.winner = nil
}

func (s *DrawSession) State() DrawState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Winner returns the selected winner, if the session is in WinnerSelected.
func (s *DrawSession) Winner() (models.Participant, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.winner == nil {
		return models.Participant{}, false
	}
	return *s.winner, true
}
