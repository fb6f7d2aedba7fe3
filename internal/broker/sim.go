package broker

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/Qatanajs/Algo-Trading-Production/internal/market"
)

// Sim is a deterministic in-memory gateway used by tests and offline runs.
// Fills execute at the close of the latest bar unless a rejection is scripted.
type Sim struct {
	mu            sync.Mutex
	bars          []market.Bar
	equity        float64
	positions     []market.Position
	connected     bool
	failReconnect int // remaining Reconnect calls that fail
	rejectReason  string
	submitted     []Order
	closed        []Order
}

// NewSim returns a connected gateway with the given equity and bar history.
func NewSim(equity float64, bars []market.Bar) *Sim {
	return &Sim{bars: bars, equity: equity, connected: true}
}

// SetBars replaces the scripted bar history.
func (s *Sim) SetBars(bars []market.Bar) {
	s.mu.Lock()
	s.bars = bars
	s.mu.Unlock()
}

// PushBar appends one bar to the scripted history.
func (s *Sim) PushBar(b market.Bar) {
	s.mu.Lock()
	s.bars = append(s.bars, b)
	s.mu.Unlock()
}

// SetEquity updates the reported account equity.
func (s *Sim) SetEquity(v float64) {
	s.mu.Lock()
	s.equity = v
	s.mu.Unlock()
}

// Disconnect drops the link; the next n Reconnect attempts fail before one
// succeeds.
func (s *Sim) Disconnect(n int) {
	s.mu.Lock()
	s.connected = false
	s.failReconnect = n
	s.mu.Unlock()
}

// RejectNext makes every following order attempt fail with reason until
// cleared with an empty string.
func (s *Sim) RejectNext(reason string) {
	s.mu.Lock()
	s.rejectReason = reason
	s.mu.Unlock()
}

// SeedPosition scripts an already-open position, as the venue would report
// after a restart.
func (s *Sim) SeedPosition(p market.Position) {
	s.mu.Lock()
	s.positions = append(s.positions, p)
	s.mu.Unlock()
}

// Submitted returns a copy of all opening orders received.
func (s *Sim) Submitted() []Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Order, len(s.submitted))
	copy(out, s.submitted)
	return out
}

// Closed returns a copy of all closing orders received.
func (s *Sim) Closed() []Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Order, len(s.closed))
	copy(out, s.closed)
	return out
}

func (s *Sim) Bars(_ context.Context, _, _ string, count int) ([]market.Bar, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return nil, ErrNotConnected
	}
	if len(s.bars) == 0 {
		return nil, ErrDataUnavailable
	}
	if count > len(s.bars) {
		count = len(s.bars)
	}
	out := make([]market.Bar, count)
	copy(out, s.bars[len(s.bars)-count:])
	return out, nil
}

func (s *Sim) OpenPositions(_ context.Context, tag string) ([]market.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return nil, ErrNotConnected
	}
	var out []market.Position
	for _, p := range s.positions {
		if p.Tag == tag {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *Sim) Equity(_ context.Context) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return 0, ErrNotConnected
	}
	return s.equity, nil
}

func (s *Sim) Submit(_ context.Context, o Order) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return Result{}, ErrNotConnected
	}
	s.submitted = append(s.submitted, o)
	if s.rejectReason != "" {
		return Result{Filled: false, Reason: s.rejectReason}, nil
	}
	price := s.lastClose()
	s.positions = append(s.positions, market.Position{
		State:      market.HeldState(o.Direction),
		EntryPrice: price,
		EntryTime:  s.lastTs(),
		Size:       o.Size,
		Tag:        o.Tag,
	})
	return Result{Filled: true, Price: price}, nil
}

func (s *Sim) Close(_ context.Context, o Order) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return Result{}, ErrNotConnected
	}
	s.closed = append(s.closed, o)
	if s.rejectReason != "" {
		return Result{Filled: false, Reason: s.rejectReason}, nil
	}
	for i, p := range s.positions {
		if p.Tag == o.Tag && p.Open() {
			s.positions = append(s.positions[:i], s.positions[i+1:]...)
			break
		}
	}
	return Result{Filled: true, Price: s.lastClose()}, nil
}

func (s *Sim) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *Sim) Reconnect(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failReconnect > 0 {
		s.failReconnect--
		return ErrNotConnected
	}
	s.connected = true
	return nil
}

func (s *Sim) Shutdown() error {
	s.mu.Lock()
	s.connected = false
	s.mu.Unlock()
	return nil
}

func (s *Sim) lastClose() float64 {
	if len(s.bars) == 0 {
		return 0
	}
	return s.bars[len(s.bars)-1].Close
}

func (s *Sim) lastTs() time.Time {
	if len(s.bars) == 0 {
		return time.Time{}
	}
	return s.bars[len(s.bars)-1].Ts
}

// SyntheticBars generates n hourly bars following a mean-reverting walk
// around base. Deterministic for a given seed.
func SyntheticBars(n int, base float64, seed int64) []market.Bar {
	rng := rand.New(rand.NewSource(seed))
	bars := make([]market.Bar, 0, n)
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	price := base
	for i := 0; i < n; i++ {
		drift := 0.05 * (base - price) / base
		shock := rng.NormFloat64() * 0.002 * base
		next := price + drift*base + shock
		high := math.Max(price, next) + math.Abs(shock)/2
		low := math.Min(price, next) - math.Abs(shock)/2
		bars = append(bars, market.Bar{Ts: ts, Open: price, High: high, Low: low, Close: next})
		price = next
		ts = ts.Add(time.Hour)
	}
	return bars
}
