// Package engine is the decision core: it combines the signal, the risk
// sizer, and the recovered position into entry and exit transitions against
// the broker gateway, writing one audit record per accepted transition.
package engine

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/Qatanajs/Algo-Trading-Production/internal/audit"
	"github.com/Qatanajs/Algo-Trading-Production/internal/broker"
	"github.com/Qatanajs/Algo-Trading-Production/internal/market"
	"github.com/Qatanajs/Algo-Trading-Production/internal/metrics"
	"github.com/Qatanajs/Algo-Trading-Production/internal/position"
	"github.com/Qatanajs/Algo-Trading-Production/internal/risk"
	"github.com/Qatanajs/Algo-Trading-Production/internal/signal"
)

// ExitReason names why a held position was closed, in evaluation priority
// order: Target, Stop, Time, Weekend. Exactly one reason is recorded per exit
// even when several are simultaneously true.
type ExitReason string

const (
	ReasonTarget  ExitReason = "Target"
	ReasonStop    ExitReason = "Stop"
	ReasonTime    ExitReason = "Time"
	ReasonWeekend ExitReason = "Weekend"
)

// Params holds everything the engine needs beyond its collaborators.
type Params struct {
	Symbol    string
	Timeframe string
	Tag       string
	BarCount  int // bars requested per cycle

	EntryZ float64
	ExitZ  float64
	StopZ  float64

	RiskFraction float64 // of equity risked per trade
	StopATRMult  float64 // stop distance = ATR * this

	MaxHold time.Duration

	// Session-close guard: no position is held from CloseHourUTC on
	// CloseWeekday onward.
	CloseWeekday time.Weekday
	CloseHourUTC int

	PollInterval  time.Duration
	ReconnectWait time.Duration
}

// Engine owns the single logical position for its tag. It is not safe for
// concurrent use; Run drives strictly sequential cycles.
type Engine struct {
	gw     broker.Gateway
	sig    signal.Engine
	sizer  risk.Sizer
	limits risk.Limits
	sink   audit.Sink
	log    zerolog.Logger
	clock  Clock
	p      Params

	pos market.Position

	// needRecovery is set whenever the link is found down and cleared only
	// by a successful Recover; no cycle runs while it is set.
	needRecovery bool
}

// Option configures Engine construction.
type Option func(*Engine)

// WithClock overrides the wall clock, for tests.
func WithClock(c Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// New wires an engine. The position starts flat; Run establishes the real
// state via recovery before the first cycle.
func New(gw broker.Gateway, sig signal.Engine, sizer risk.Sizer, limits risk.Limits,
	sink audit.Sink, log zerolog.Logger, p Params, opts ...Option) *Engine {
	e := &Engine{
		gw:     gw,
		sig:    sig,
		sizer:  sizer,
		limits: limits,
		sink:   sink,
		log:    log,
		clock:  wallClock{},
		p:      p,
		pos:    market.FlatPosition(p.Tag),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Position returns the engine's current view of the position.
func (e *Engine) Position() market.Position { return e.pos }

// Run recovers state and then drives fixed-interval cycles until ctx is
// cancelled. Only a failed initial recovery escapes as an error; every other
// failure is absorbed at the cycle boundary.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.Recover(ctx); err != nil {
		return fmt.Errorf("initial recovery: %w", err)
	}
	e.log.Info().Str("tag", e.p.Tag).Str("symbol", e.p.Symbol).Msg("engine online")

	delay := e.p.PollInterval
	for {
		select {
		case <-ctx.Done():
			e.log.Info().Msg("engine stopping, leaving open positions in place")
			if err := e.gw.Shutdown(); err != nil {
				e.log.Warn().Err(err).Msg("gateway shutdown")
			}
			return nil
		case <-e.clock.After(delay):
		}
		delay = e.Step(ctx)
	}
}

// Step runs one scheduler tick: reconnect handling first, then a decision
// cycle. It returns the delay before the next tick: the reconnect wait while
// the link is down, the poll interval otherwise.
func (e *Engine) Step(ctx context.Context) time.Duration {
	if !e.gw.Connected() {
		e.needRecovery = true
		if err := e.gw.Reconnect(ctx); err != nil {
			e.log.Warn().Err(err).Msg("gateway unreachable, retrying")
			return e.p.ReconnectWait
		}
		metrics.ReconnectsTotal.Inc()
	}
	// state is never trusted to have survived the outage
	if e.needRecovery {
		if err := e.Recover(ctx); err != nil {
			e.log.Error().Err(err).Msg("recovery after reconnect failed")
			return e.p.ReconnectWait
		}
	}
	e.Cycle(ctx, e.clock.Now())
	return e.p.PollInterval
}

// Recover re-establishes the position from the gateway's records. Run calls
// it at startup and after every successful reconnect.
func (e *Engine) Recover(ctx context.Context) error {
	pos, err := position.Recover(ctx, e.gw, e.p.Tag)
	if err != nil {
		return err
	}
	e.pos = pos
	e.needRecovery = false
	if pos.Open() {
		metrics.PositionSize.Set(pos.Size)
		e.log.Info().
			Str("direction", string(pos.Direction())).
			Float64("entry", pos.EntryPrice).
			Float64("size", pos.Size).
			Msg("recovered open position")
	} else {
		metrics.PositionSize.Set(0)
	}
	return nil
}

// Cycle evaluates exactly one decision: entry when flat, exit when held.
// Never both.
func (e *Engine) Cycle(ctx context.Context, now time.Time) {
	bars, err := e.gw.Bars(ctx, e.p.Symbol, e.p.Timeframe, e.p.BarCount)
	if err != nil {
		metrics.CyclesTotal.WithLabelValues("skipped").Inc()
		e.log.Warn().Err(err).Msg("bar fetch failed, cycle skipped")
		return
	}
	sg, err := e.sig.Compute(bars)
	if err != nil {
		metrics.CyclesTotal.WithLabelValues("skipped").Inc()
		e.log.Debug().Err(err).Msg("signal unavailable, cycle skipped")
		return
	}
	price := bars[len(bars)-1].Close

	if e.pos.Open() {
		e.evalExit(ctx, sg, now)
	} else {
		e.evalEntry(ctx, sg, price, now)
	}
	metrics.CyclesTotal.WithLabelValues("ok").Inc()
}

func (e *Engine) evalEntry(ctx context.Context, sg signal.Signal, price float64, now time.Time) {
	if math.Abs(sg.ZScore) <= e.p.EntryZ || sg.Trending {
		return
	}

	equity, err := e.gw.Equity(ctx)
	if err != nil {
		e.log.Warn().Err(err).Msg("equity fetch failed, entry skipped")
		return
	}
	metrics.AccountEquity.Set(equity)

	lots := e.sizer.Lots(equity*e.p.RiskFraction, sg.ATR*e.p.StopATRMult)
	if lots == 0 {
		e.record(audit.Record{
			Ts: now, Action: audit.Skip, Status: "risk-too-small",
			Price: price, Reason: zReason(sg.ZScore),
		})
		return
	}
	if !e.limits.Allow(lots * price * e.sizer.ContractMultiplier) {
		e.record(audit.Record{
			Ts: now, Action: audit.Skip, Status: "notional-cap",
			Price: price, Size: lots, Reason: zReason(sg.ZScore),
		})
		return
	}

	dir := market.Long
	if sg.ZScore > 0 {
		dir = market.Short // price elevated, expect reversion down
	}

	res, err := e.gw.Submit(ctx, broker.Order{
		Symbol: e.p.Symbol, Direction: dir, Size: lots, Tag: e.p.Tag, Comment: "z-entry",
	})
	if err != nil || !res.Filled {
		metrics.OrdersTotal.WithLabelValues("entry", "rejected").Inc()
		e.record(audit.Record{
			Ts: now, Action: audit.Failure, Status: rejection(res, err),
			Price: price, Size: lots, Reason: zReason(sg.ZScore),
		})
		return
	}

	metrics.OrdersTotal.WithLabelValues("entry", "filled").Inc()
	// audit before the transition is visible to the next cycle
	e.record(audit.Record{
		Ts: now, Action: audit.Entry, Status: string(dir),
		Price: res.Price, Size: lots, Reason: zReason(sg.ZScore),
	})
	e.pos = market.Position{
		State:      market.HeldState(dir),
		EntryPrice: res.Price,
		EntryTime:  now,
		Size:       lots,
		Tag:        e.p.Tag,
	}
	metrics.PositionSize.Set(lots)
	e.log.Info().Str("direction", string(dir)).Float64("lots", lots).
		Float64("price", res.Price).Float64("z", sg.ZScore).Msg("entered position")
}

func (e *Engine) evalExit(ctx context.Context, sg signal.Signal, now time.Time) {
	reason, due := e.exitReason(sg, now)
	if !due {
		return
	}

	held := e.pos
	res, err := e.gw.Close(ctx, broker.Order{
		Symbol: e.p.Symbol, Direction: held.Direction(), Size: held.Size,
		Tag: e.p.Tag, Comment: string(reason),
	})
	if err != nil || !res.Filled {
		metrics.OrdersTotal.WithLabelValues("exit", "rejected").Inc()
		e.record(audit.Record{
			Ts: now, Action: audit.Failure, Status: rejection(res, err),
			Price: held.EntryPrice, Size: held.Size, Reason: string(reason),
		})
		// position is kept; the close is retried next cycle
		return
	}

	pnl := (res.Price - held.EntryPrice) * held.Direction().Sign() * held.Size * e.sizer.ContractMultiplier
	metrics.OrdersTotal.WithLabelValues("exit", "filled").Inc()
	e.record(audit.Record{
		Ts: now, Action: audit.Exit, Status: string(held.Direction()),
		Price: res.Price, Size: held.Size, PnL: pnl, Reason: string(reason),
	})
	e.pos = market.FlatPosition(e.p.Tag)
	metrics.PositionSize.Set(0)
	e.log.Info().Str("reason", string(reason)).Float64("pnl", pnl).
		Float64("price", res.Price).Msg("closed position")
}

// exitReason evaluates exit conditions in strict priority order; the first
// true condition wins.
func (e *Engine) exitReason(sg signal.Signal, now time.Time) (ExitReason, bool) {
	z := math.Abs(sg.ZScore)
	switch {
	case z <= e.p.ExitZ:
		return ReasonTarget, true
	case z >= e.p.StopZ:
		return ReasonStop, true
	case now.Sub(e.pos.EntryTime) > e.p.MaxHold:
		return ReasonTime, true
	case e.inCloseWindow(now):
		return ReasonWeekend, true
	}
	return "", false
}

func (e *Engine) inCloseWindow(now time.Time) bool {
	utc := now.UTC()
	return utc.Weekday() == e.p.CloseWeekday && utc.Hour() >= e.p.CloseHourUTC
}

// record appends to the audit trail with fire-and-report semantics: a write
// failure is escalated to the operator log, never rolled into the decision.
func (e *Engine) record(rec audit.Record) {
	if err := e.sink.Append(rec); err != nil {
		metrics.AuditWriteFailures.Inc()
		e.log.Error().Err(err).Str("action", string(rec.Action)).Msg("audit write failed")
	}
}

func zReason(z float64) string { return fmt.Sprintf("z=%.2f", z) }

func rejection(res broker.Result, err error) string {
	if err != nil {
		return err.Error()
	}
	if res.Reason != "" {
		return res.Reason
	}
	return "order rejected"
}
