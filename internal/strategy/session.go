package strategy

import (
	"time"

	"github.com/ghantakiran/axion-stock-sub004/pkg/types"
	"github.com/shopspring/decimal"
)

// Session locates the regular trading session for a bar.
type Session struct {
	Location   *time.Location
	OpenHour   int
	OpenMinute int
}

// DefaultSession returns the US equity session, falling back to UTC when the
// zone database is unavailable.
func DefaultSession() Session {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		loc = time.UTC
	}
	return Session{Location: loc, OpenHour: 9, OpenMinute: 30}
}

// Open returns the session open on t's trading day.
func (s Session) Open(t time.Time) time.Time {
	loc := s.Location
	if loc == nil {
		loc = time.UTC
	}
	lt := t.In(loc)
	return time.Date(lt.Year(), lt.Month(), lt.Day(), s.OpenHour, s.OpenMinute, 0, 0, loc)
}

// SinceOpen returns how long after the open t falls.
func (s Session) SinceOpen(t time.Time) time.Duration {
	return t.Sub(s.Open(t))
}

// openingRange is the high/low of the first bars of a session.
type openingRange struct {
	High  decimal.Decimal
	Low   decimal.Decimal
	First int // index of the first session bar
	Last  int // index of the last bar inside the range
}

// findOpeningRange scans back from the last bar for today's session bars and
// returns the range over [open, open+length). It needs the range to be
// complete: the last bar must start at or after open+length.
func findOpeningRange(bars []types.Bar, session Session, length time.Duration) (openingRange, bool) {
	n := len(bars)
	if n == 0 {
		return openingRange{}, false
	}
	open := session.Open(bars[n-1].Timestamp)
	end := open.Add(length)
	if bars[n-1].Timestamp.Before(end) {
		return openingRange{}, false
	}

	first := -1
	for j := n - 1; j >= 0; j-- {
		if bars[j].Timestamp.Before(open) {
			break
		}
		first = j
	}
	if first < 0 || !bars[first].Timestamp.Before(end) {
		return openingRange{}, false
	}

	or := openingRange{High: bars[first].High, Low: bars[first].Low, First: first, Last: first}
	for j := first + 1; j < n && bars[j].Timestamp.Before(end); j++ {
		if bars[j].High.GreaterThan(or.High) {
			or.High = bars[j].High
		}
		if bars[j].Low.LessThan(or.Low) {
			or.Low = bars[j].Low
		}
		or.Last = j
	}
	return or, true
}

// breakout reports a first close beyond the range on the last bar: every
// bar between the range and the last bar stayed inside.
func (or openingRange) breakout(bars []types.Bar) types.Direction {
	n := len(bars)
	last := bars[n-1].Close
	var dir types.Direction
	switch {
	case last.GreaterThan(or.High):
		dir = types.DirectionLong
	case last.LessThan(or.Low):
		dir = types.DirectionShort
	default:
		return types.DirectionNone
	}
	for j := or.Last + 1; j < n-1; j++ {
		c := bars[j].Close
		if (dir == types.DirectionLong && c.GreaterThan(or.High)) ||
			(dir == types.DirectionShort && c.LessThan(or.Low)) {
			return types.DirectionNone
		}
	}
	return dir
}

// stop returns the far side of the range for a direction.
func (or openingRange) stop(dir types.Direction) decimal.Decimal {
	if dir == types.DirectionShort {
		return or.High
	}
	return or.Low
}
