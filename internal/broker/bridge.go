package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/Qatanajs/Algo-Trading-Production/internal/market"
)

// Bridge talks to a terminal sidecar over a websocket request/response
// channel. Calls are synchronous: one request is in flight at a time, which
// matches the engine's single-threaded cycle model.
type Bridge struct {
	url     string
	log     zerolog.Logger
	timeout time.Duration

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
}

const bridgeCallTimeout = 15 * time.Second

// DialBridge connects to the sidecar at url and verifies the link with a
// ping round trip.
func DialBridge(ctx context.Context, url string, log zerolog.Logger) (*Bridge, error) {
	b := &Bridge{url: url, log: log, timeout: bridgeCallTimeout}
	if err := b.dial(ctx); err != nil {
		return nil, err
	}
	if err := b.ping(ctx); err != nil {
		b.Shutdown()
		return nil, err
	}
	return b, nil
}

func (b *Bridge) dial(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, b.url, nil)
	if err != nil {
		return fmt.Errorf("dial bridge: %w", err)
	}
	conn.SetReadLimit(1 << 20)

	b.mu.Lock()
	if b.conn != nil {
		b.conn.Close()
	}
	b.conn = conn
	b.connected = true
	b.mu.Unlock()

	b.log.Info().Str("url", b.url).Msg("connected to broker bridge")
	return nil
}

type bridgeRequest struct {
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

type bridgeResponse struct {
	ID     string          `json:"id"`
	Error  string          `json:"error,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
}

// call performs one request/response round trip. Any transport failure marks
// the link down so the scheduler takes the reconnect path.
func (b *Bridge) call(ctx context.Context, method string, params, out any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn == nil || !b.connected {
		return ErrNotConnected
	}

	raw, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("marshal %s params: %w", method, err)
	}
	req := bridgeRequest{ID: uuid.NewString(), Method: method, Params: raw}

	deadline := time.Now().Add(b.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	b.conn.SetWriteDeadline(deadline)
	if err := b.conn.WriteJSON(req); err != nil {
		b.markDown(err)
		return err
	}

	for {
		b.conn.SetReadDeadline(deadline)
		var resp bridgeResponse
		if err := b.conn.ReadJSON(&resp); err != nil {
			b.markDown(err)
			return err
		}
		if resp.ID != req.ID {
			// stale reply from an abandoned call
			continue
		}
		if resp.Error != "" {
			return fmt.Errorf("bridge %s: %s", method, resp.Error)
		}
		if out != nil && len(resp.Result) > 0 {
			return json.Unmarshal(resp.Result, out)
		}
		return nil
	}
}

// markDown flags the link dead; caller must hold b.mu.
func (b *Bridge) markDown(err error) {
	b.connected = false
	b.log.Warn().Err(err).Msg("bridge link down")
}

func (b *Bridge) ping(ctx context.Context) error {
	return b.call(ctx, "ping", struct{}{}, nil)
}

type bridgeBar struct {
	Ts    int64   `json:"ts"` // unix seconds
	Open  float64 `json:"open"`
	High  float64 `json:"high"`
	Low   float64 `json:"low"`
	Close float64 `json:"close"`
}

type barsParams struct {
	Symbol    string `json:"symbol"`
	Timeframe string `json:"timeframe"`
	Count     int    `json:"count"`
}

func (b *Bridge) Bars(ctx context.Context, symbol, timeframe string, count int) ([]market.Bar, error) {
	var raw []bridgeBar
	err := b.call(ctx, "bars", barsParams{Symbol: symbol, Timeframe: timeframe, Count: count}, &raw)
	if err != nil {
		return nil, err
	}
	if len(raw) < count {
		return nil, ErrDataUnavailable
	}
	bars := make([]market.Bar, len(raw))
	for i, r := range raw {
		bars[i] = market.Bar{
			Ts:    time.Unix(r.Ts, 0).UTC(),
			Open:  r.Open,
			High:  r.High,
			Low:   r.Low,
			Close: r.Close,
		}
	}
	return bars, nil
}

type bridgePosition struct {
	Direction string  `json:"direction"`
	Price     float64 `json:"price"`
	OpenTime  int64   `json:"open_time"` // unix seconds
	Size      float64 `json:"size"`
	Tag       string  `json:"tag"`
}

func (b *Bridge) OpenPositions(ctx context.Context, tag string) ([]market.Position, error) {
	var raw []bridgePosition
	if err := b.call(ctx, "positions", struct {
		Tag string `json:"tag"`
	}{Tag: tag}, &raw); err != nil {
		return nil, err
	}
	out := make([]market.Position, 0, len(raw))
	for _, p := range raw {
		dir := market.Long
		if p.Direction == string(market.Short) {
			dir = market.Short
		}
		out = append(out, market.Position{
			State:      market.HeldState(dir),
			EntryPrice: p.Price,
			EntryTime:  time.Unix(p.OpenTime, 0).UTC(),
			Size:       p.Size,
			Tag:        p.Tag,
		})
	}
	return out, nil
}

func (b *Bridge) Equity(ctx context.Context) (float64, error) {
	var out struct {
		Equity float64 `json:"equity"`
	}
	if err := b.call(ctx, "equity", struct{}{}, &out); err != nil {
		return 0, err
	}
	return out.Equity, nil
}

type orderParams struct {
	Symbol    string  `json:"symbol"`
	Direction string  `json:"direction"`
	Size      float64 `json:"size"`
	Tag       string  `json:"tag"`
	Comment   string  `json:"comment,omitempty"`
}

type orderResult struct {
	Filled bool    `json:"filled"`
	Price  float64 `json:"price"`
	Reason string  `json:"reason,omitempty"`
}

func (b *Bridge) Submit(ctx context.Context, o Order) (Result, error) {
	return b.order(ctx, "order.open", o)
}

func (b *Bridge) Close(ctx context.Context, o Order) (Result, error) {
	return b.order(ctx, "order.close", o)
}

func (b *Bridge) order(ctx context.Context, method string, o Order) (Result, error) {
	var res orderResult
	err := b.call(ctx, method, orderParams{
		Symbol:    o.Symbol,
		Direction: string(o.Direction),
		Size:      o.Size,
		Tag:       o.Tag,
		Comment:   o.Comment,
	}, &res)
	if err != nil {
		return Result{}, err
	}
	return Result{Filled: res.Filled, Price: res.Price, Reason: res.Reason}, nil
}

// Connected reports the link state as of the last call or ping.
func (b *Bridge) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected && b.conn != nil
}

// Reconnect drops any stale connection and dials again.
func (b *Bridge) Reconnect(ctx context.Context) error {
	if err := b.dial(ctx); err != nil {
		return err
	}
	return b.ping(ctx)
}

// Shutdown closes the websocket. Open positions at the venue are untouched.
func (b *Bridge) Shutdown() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connected = false
	if b.conn == nil {
		return nil
	}
	b.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	err := b.conn.Close()
	b.conn = nil
	return err
}
