package engine

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/Qatanajs/Algo-Trading-Production/internal/audit"
	"github.com/Qatanajs/Algo-Trading-Production/internal/broker"
	"github.com/Qatanajs/Algo-Trading-Production/internal/market"
	"github.com/Qatanajs/Algo-Trading-Production/internal/risk"
	"github.com/Qatanajs/Algo-Trading-Production/internal/signal"
)

type stubClock struct{ now time.Time }

func (c *stubClock) Now() time.Time { return c.now }
func (c *stubClock) After(time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- c.now
	return ch
}

// wednesday is a mid-week reference time well clear of the close guard.
var wednesday = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

func testParams() Params {
	return Params{
		Symbol:        "EURJPY",
		Timeframe:     "H1",
		Tag:           "meanrev-test",
		BarCount:      20,
		EntryZ:        2.0,
		ExitZ:         0.3,
		StopZ:         3.0,
		RiskFraction:  0.01,
		StopATRMult:   1.0,
		MaxHold:       8 * time.Hour,
		CloseWeekday:  time.Friday,
		CloseHourUTC:  20,
		PollInterval:  time.Minute,
		ReconnectWait: 5 * time.Second,
	}
}

func testSizer() risk.Sizer {
	return risk.Sizer{
		TickValue:          1,
		ContractMultiplier: 1,
		MinStopDistance:    0.1,
		LotMin:             0.01,
		LotStep:            0.01,
		LotMax:             50,
	}
}

// seriesTo builds 20 hourly bars oscillating around 100 with the final close
// at last, ending at end.
func seriesTo(end time.Time, last float64) []market.Bar {
	bars := make([]market.Bar, 20)
	for i := 0; i < 20; i++ {
		c := 101.0
		if i%2 == 1 {
			c = 99.0
		}
		if i == 19 {
			c = last
		}
		bars[i] = market.Bar{
			Ts:    end.Add(time.Duration(i-19) * time.Hour),
			Open:  c,
			High:  c + 0.5,
			Low:   c - 0.5,
			Close: c,
		}
	}
	return bars
}

func newTestEngine(t *testing.T, gw *broker.Sim, clock *stubClock) (*Engine, *audit.Ledger) {
	t.Helper()
	ledger := audit.NewLedger(16)
	eng := New(
		gw,
		signal.Engine{Lookback: 20, TrendWindow: 20, ATRPeriod: 5, TrendThreshold: 0.2},
		testSizer(),
		risk.Limits{},
		ledger,
		zerolog.Nop(),
		testParams(),
		WithClock(clock),
	)
	return eng, ledger
}

func TestEntryShortOnElevatedZScore(t *testing.T) {
	gw := broker.NewSim(10_000, seriesTo(wednesday, 103))
	clock := &stubClock{now: wednesday}
	eng, ledger := newTestEngine(t, gw, clock)

	eng.Cycle(context.Background(), clock.now)

	pos := eng.Position()
	require.Equal(t, market.HeldShort, pos.State)
	require.Greater(t, pos.Size, 0.0)
	require.Equal(t, 103.0, pos.EntryPrice)

	orders := gw.Submitted()
	require.Len(t, orders, 1)
	require.Equal(t, market.Short, orders[0].Direction)
	require.Equal(t, "meanrev-test", orders[0].Tag)

	recs := ledger.Snapshot()
	require.Len(t, recs, 1, "exactly one record per accepted transition")
	require.Equal(t, audit.Entry, recs[0].Action)
	require.Equal(t, "SHORT", recs[0].Status)
	require.Contains(t, recs[0].Reason, "z=")
}

func TestEntryLongOnDepressedZScore(t *testing.T) {
	gw := broker.NewSim(10_000, seriesTo(wednesday, 97))
	clock := &stubClock{now: wednesday}
	eng, _ := newTestEngine(t, gw, clock)

	eng.Cycle(context.Background(), clock.now)

	require.Equal(t, market.HeldLong, eng.Position().State)
}

func TestNoEntryWhileTrending(t *testing.T) {
	gw := broker.NewSim(10_000, seriesTo(wednesday, 103))
	clock := &stubClock{now: wednesday}
	ledger := audit.NewLedger(4)
	// trend threshold low enough that any displacement counts as trending
	eng := New(gw,
		signal.Engine{Lookback: 20, TrendWindow: 20, ATRPeriod: 5, TrendThreshold: 0.001},
		testSizer(), risk.Limits{}, ledger, zerolog.Nop(), testParams(), WithClock(clock))

	eng.Cycle(context.Background(), clock.now)

	require.False(t, eng.Position().Open())
	require.Empty(t, gw.Submitted())
	require.Empty(t, ledger.Snapshot())
}

func TestEntrySkippedWhenRiskTooSmall(t *testing.T) {
	gw := broker.NewSim(10_000, seriesTo(wednesday, 103))
	clock := &stubClock{now: wednesday}
	ledger := audit.NewLedger(4)
	sizer := testSizer()
	sizer.LotMin = 100 // budget can never reach the minimum lot
	eng := New(gw,
		signal.Engine{Lookback: 20, TrendWindow: 20, ATRPeriod: 5, TrendThreshold: 0.2},
		sizer, risk.Limits{}, ledger, zerolog.Nop(), testParams(), WithClock(clock))

	eng.Cycle(context.Background(), clock.now)

	require.False(t, eng.Position().Open())
	require.Empty(t, gw.Submitted())

	recs := ledger.Snapshot()
	require.Len(t, recs, 1)
	require.Equal(t, audit.Skip, recs[0].Action)
	require.Equal(t, "risk-too-small", recs[0].Status)
}

func TestEntryRejectionKeepsFlatAndRetriesNextCycle(t *testing.T) {
	gw := broker.NewSim(10_000, seriesTo(wednesday, 103))
	clock := &stubClock{now: wednesday}
	eng, ledger := newTestEngine(t, gw, clock)

	gw.RejectNext("no liquidity")
	eng.Cycle(context.Background(), clock.now)

	require.False(t, eng.Position().Open())
	recs := ledger.Snapshot()
	require.Len(t, recs, 1)
	require.Equal(t, audit.Failure, recs[0].Action)
	require.Equal(t, "no liquidity", recs[0].Status)

	// next cycle re-evaluates and fills
	gw.RejectNext("")
	clock.now = clock.now.Add(time.Minute)
	eng.Cycle(context.Background(), clock.now)
	require.True(t, eng.Position().Open())
}

func TestExitOnTargetWithFavorablePnL(t *testing.T) {
	gw := broker.NewSim(10_000, seriesTo(wednesday, 103))
	clock := &stubClock{now: wednesday}
	eng, ledger := newTestEngine(t, gw, clock)

	eng.Cycle(context.Background(), clock.now)
	require.Equal(t, market.HeldShort, eng.Position().State)
	ledger.Reset()

	// z reverts into the neutral zone
	clock.now = clock.now.Add(time.Hour)
	gw.SetBars(seriesTo(clock.now, 100.2))
	eng.Cycle(context.Background(), clock.now)

	require.False(t, eng.Position().Open())
	recs := ledger.Snapshot()
	require.Len(t, recs, 1)
	require.Equal(t, audit.Exit, recs[0].Action)
	require.Equal(t, string(ReasonTarget), recs[0].Reason)
	require.Greater(t, recs[0].PnL, 0.0, "short closed below entry must profit")
}

func TestExitStopTakesPriority(t *testing.T) {
	entry := time.Date(2024, 5, 3, 9, 0, 0, 0, time.UTC) // Friday morning
	gw := broker.NewSim(10_000, seriesTo(entry, 97))
	clock := &stubClock{now: entry}
	eng, ledger := newTestEngine(t, gw, clock)

	eng.Cycle(context.Background(), clock.now)
	require.Equal(t, market.HeldLong, eng.Position().State)
	ledger.Reset()

	// stop-level z while the time and weekend conditions are also true
	clock.now = entry.Add(12 * time.Hour) // Friday 21:00 UTC, held > MaxHold
	gw.SetBars(seriesTo(clock.now, 110))
	eng.Cycle(context.Background(), clock.now)

	recs := ledger.Snapshot()
	require.Len(t, recs, 1)
	require.Equal(t, audit.Exit, recs[0].Action)
	require.Equal(t, string(ReasonStop), recs[0].Reason)
}

func TestExitOnMaxHoldDuration(t *testing.T) {
	gw := broker.NewSim(10_000, seriesTo(wednesday, 103))
	clock := &stubClock{now: wednesday}
	eng, ledger := newTestEngine(t, gw, clock)

	eng.Cycle(context.Background(), clock.now)
	require.True(t, eng.Position().Open())
	ledger.Reset()

	// z stays between exit and stop; only the clock forces the close
	clock.now = wednesday.Add(9 * time.Hour)
	gw.SetBars(seriesTo(clock.now, 101.5))
	eng.Cycle(context.Background(), clock.now)

	recs := ledger.Snapshot()
	require.Len(t, recs, 1)
	require.Equal(t, string(ReasonTime), recs[0].Reason)
}

func TestExitOnSessionCloseGuard(t *testing.T) {
	entry := time.Date(2024, 5, 3, 19, 0, 0, 0, time.UTC) // Friday 19:00
	gw := broker.NewSim(10_000, seriesTo(entry, 103))
	clock := &stubClock{now: entry}
	eng, ledger := newTestEngine(t, gw, clock)

	eng.Cycle(context.Background(), clock.now)
	require.True(t, eng.Position().Open())
	ledger.Reset()

	clock.now = entry.Add(90 * time.Minute) // Friday 20:30, inside the guard window
	gw.SetBars(seriesTo(clock.now, 101.5))
	eng.Cycle(context.Background(), clock.now)

	recs := ledger.Snapshot()
	require.Len(t, recs, 1)
	require.Equal(t, string(ReasonWeekend), recs[0].Reason)
}

func TestExitRejectionKeepsPositionAndRetries(t *testing.T) {
	gw := broker.NewSim(10_000, seriesTo(wednesday, 103))
	clock := &stubClock{now: wednesday}
	eng, ledger := newTestEngine(t, gw, clock)

	eng.Cycle(context.Background(), clock.now)
	held := eng.Position()
	require.True(t, held.Open())
	ledger.Reset()

	clock.now = clock.now.Add(time.Hour)
	gw.SetBars(seriesTo(clock.now, 100.2))
	gw.RejectNext("market closed")
	eng.Cycle(context.Background(), clock.now)

	// the position is not abandoned
	require.Equal(t, held, eng.Position())
	recs := ledger.Snapshot()
	require.Len(t, recs, 1)
	require.Equal(t, audit.Failure, recs[0].Action)

	gw.RejectNext("")
	clock.now = clock.now.Add(time.Minute)
	eng.Cycle(context.Background(), clock.now)
	require.False(t, eng.Position().Open())
}

func TestOutageSuspendsEvaluationAndRecoversBeforeTrading(t *testing.T) {
	gw := broker.NewSim(10_000, seriesTo(wednesday, 103))
	clock := &stubClock{now: wednesday}
	eng, _ := newTestEngine(t, gw, clock)

	// another process's fill appears at the venue during the outage
	gw.SeedPosition(market.Position{
		State: market.HeldLong, EntryPrice: 101, EntryTime: wednesday.Add(-time.Hour),
		Size: 0.5, Tag: "meanrev-test",
	})
	gw.Disconnect(2)

	// two failed ticks: no evaluation, no orders
	p := testParams()
	require.Equal(t, p.ReconnectWait, eng.Step(context.Background()))
	require.Equal(t, p.ReconnectWait, eng.Step(context.Background()))
	require.Empty(t, gw.Submitted())
	require.Empty(t, gw.Closed())

	// craft conditions that would trigger a fresh entry if recovery were skipped
	gw.SetBars(seriesTo(clock.now, 101.5))

	require.Equal(t, p.PollInterval, eng.Step(context.Background()))

	// recovery adopted the venue's position, so the cycle evaluated exit only
	require.Empty(t, gw.Submitted())
	pos := eng.Position()
	require.Equal(t, market.HeldLong, pos.State)
	require.Equal(t, 0.5, pos.Size)
}

// flakyPositions fails the next n position queries while otherwise behaving
// like its Sim.
type flakyPositions struct {
	*broker.Sim
	failures int
}

func (g *flakyPositions) OpenPositions(ctx context.Context, tag string) ([]market.Position, error) {
	if g.failures > 0 {
		g.failures--
		return nil, broker.ErrDataUnavailable
	}
	return g.Sim.OpenPositions(ctx, tag)
}

func TestRecoveryFailureAfterReconnectBlocksTrading(t *testing.T) {
	sim := broker.NewSim(10_000, seriesTo(wednesday, 101.5))
	gw := &flakyPositions{Sim: sim, failures: 1}
	clock := &stubClock{now: wednesday}
	ledger := audit.NewLedger(4)
	eng := New(gw,
		signal.Engine{Lookback: 20, TrendWindow: 20, ATRPeriod: 5, TrendThreshold: 0.2},
		testSizer(), risk.Limits{}, ledger, zerolog.Nop(), testParams(), WithClock(clock))

	// a Long for the tag sits at the venue while the link is down
	sim.SeedPosition(market.Position{
		State: market.HeldLong, EntryPrice: 101, EntryTime: wednesday.Add(-time.Hour),
		Size: 0.5, Tag: "meanrev-test",
	})
	sim.Disconnect(0)

	p := testParams()

	// reconnect succeeds but the position query fails: the tick must stay
	// suspended rather than trade on pre-outage state
	require.Equal(t, p.ReconnectWait, eng.Step(context.Background()))
	require.Empty(t, sim.Submitted())
	require.True(t, sim.Connected())

	// entry conditions that would open a second position if the stale flat
	// state were trusted
	sim.SetBars(seriesTo(clock.now, 103))

	require.Equal(t, p.PollInterval, eng.Step(context.Background()))

	// recovery ran first and adopted the held Long, so no fresh entry
	require.Empty(t, sim.Submitted())
	pos := eng.Position()
	require.Equal(t, market.HeldLong, pos.State)
	require.Equal(t, 0.5, pos.Size)
}

func TestCycleSkipsOnBarFetchFailure(t *testing.T) {
	gw := broker.NewSim(10_000, nil) // no history scripted
	clock := &stubClock{now: wednesday}
	eng, ledger := newTestEngine(t, gw, clock)

	eng.Cycle(context.Background(), clock.now)

	require.False(t, eng.Position().Open())
	require.Empty(t, gw.Submitted())
	require.Empty(t, ledger.Snapshot())
}

func TestRunStopsCleanlyOnCancel(t *testing.T) {
	gw := broker.NewSim(10_000, seriesTo(wednesday, 100.2))
	clock := &stubClock{now: wednesday}
	eng, _ := newTestEngine(t, gw, clock)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, eng.Run(ctx))
	require.False(t, gw.Connected(), "shutdown must release the gateway")
}
