// Package market holds the data types shared between the gateway, signal, and
// engine layers: price bars, directions, and the single logical position.
package market

import "time"

// Bar is one OHLC price bar. Sequences are ordered oldest to newest and are
// immutable once fetched.
type Bar struct {
	Ts    time.Time
	Open  float64
	High  float64
	Low   float64
	Close float64
}

// Direction names the side of a held position or an order.
type Direction string

const (
	Long  Direction = "LONG"
	Short Direction = "SHORT"
)

// Sign returns +1 for Long and -1 for Short, for PnL arithmetic.
func (d Direction) Sign() float64 {
	if d == Short {
		return -1
	}
	return 1
}

// State enumerates the engine's position states.
type State string

const (
	Flat      State = "FLAT"
	HeldLong  State = "LONG"
	HeldShort State = "SHORT"
)

// Position is the one logical position per (instrument, tag). The zero-ish
// Flat form carries no entry price, time, or size.
type Position struct {
	State      State
	EntryPrice float64
	EntryTime  time.Time
	Size       float64
	Tag        string
}

// FlatPosition returns the empty position carrying only the strategy tag.
func FlatPosition(tag string) Position {
	return Position{State: Flat, Tag: tag}
}

// Open reports whether the position holds exposure.
func (p Position) Open() bool { return p.State == HeldLong || p.State == HeldShort }

// Direction maps a non-flat state to its order direction.
func (p Position) Direction() Direction {
	if p.State == HeldShort {
		return Short
	}
	return Long
}

// HeldState maps an order direction to the position state it opens.
func HeldState(d Direction) State {
	if d == Short {
		return HeldShort
	}
	return HeldLong
}
