package market

import (
	"fmt"
	"time"
)

// Bar is a single daily OHLCV observation.
type Bar struct {
	Date   time.Time `json:"date" db:"date"`
	Open   float64   `json:"open" db:"open"`
	High   float64   `json:"high" db:"high"`
	Low    float64   `json:"low" db:"low"`
	Close  float64   `json:"close" db:"close"`
	Volume float64   `json:"volume" db:"volume"`
}

// Series is an ordered daily price history for one symbol. Bars are strictly
// ascending by date with no duplicates; Validate enforces the invariant and
// every consumer may assume it holds.
type Series struct {
	Symbol string `json:"symbol"`
	Bars   []Bar  `json:"bars"`
}

// Validate checks the ordering invariant.
func (s Series) Validate() error {
	for i := 1; i < len(s.Bars); i++ {
		prev, cur := s.Bars[i-1].Date, s.Bars[i].Date
		if !cur.After(prev) {
			return fmt.Errorf("series %s: bar %d (%s) not after bar %d (%s)",
				s.Symbol, i, cur.Format("2006-01-02"), i-1, prev.Format("2006-01-02"))
		}
	}
	return nil
}

// Len returns the number of bars.
func (s Series) Len() int { return len(s.Bars) }

// Last returns the most recent bar. Callers must check Len first.
func (s Series) Last() Bar { return s.Bars[len(s.Bars)-1] }

// BarOn returns the bar for the given calendar date, if present.
func (s Series) BarOn(date time.Time) (Bar, bool) {
	y, m, d := date.Date()
	lo, hi := 0, len(s.Bars)
	for lo < hi {
		mid := (lo + hi) / 2
		by, bm, bd := s.Bars[mid].Date.Date()
		switch {
		case by == y && bm == m && bd == d:
			return s.Bars[mid], true
		case s.Bars[mid].Date.Before(time.Date(y, m, d, 0, 0, 0, 0, s.Bars[mid].Date.Location())):
			lo = mid + 1
		default:
			hi = mid
		}
	}
	return Bar{}, false
}

// TruncateThrough returns the prefix of the series with dates <= cutoff.
// The returned series shares backing storage with the receiver.
func (s Series) TruncateThrough(cutoff time.Time) Series {
	n := len(s.Bars)
	lo, hi := 0, n
	for lo < hi {
		mid := (lo + hi) / 2
		if s.Bars[mid].Date.After(cutoff) {
			hi = mid
		} else {
			lo = mid + 1
		}
	}
	return Series{Symbol: s.Symbol, Bars: s.Bars[:lo]}
}

// Tail returns the last n bars (all bars when n exceeds the length).
func (s Series) Tail(n int) Series {
	if n >= len(s.Bars) {
		return s
	}
	return Series{Symbol: s.Symbol, Bars: s.Bars[len(s.Bars)-n:]}
}

// SMA computes the simple moving average of closes over the trailing window
// ending at the last bar. Returns 0 when history is insufficient.
func (s Series) SMA(window int) float64 {
	return s.SMAEndingAt(window, len(s.Bars)-1)
}

// SMAEndingAt computes the close SMA over the window that ends at bar index
// end (inclusive). Returns 0 when the window does not fit.
func (s Series) SMAEndingAt(window, end int) float64 {
	if window <= 0 || end < 0 || end >= len(s.Bars) || end+1 < window {
		return 0
	}
	sum := 0.0
	for i := end - window + 1; i <= end; i++ {
		sum += s.Bars[i].Close
	}
	return sum / float64(window)
}

// HighestHigh returns the maximum high over the last n bars.
func (s Series) HighestHigh(n int) float64 {
	if len(s.Bars) == 0 {
		return 0
	}
	if n > len(s.Bars) {
		n = len(s.Bars)
	}
	max := s.Bars[len(s.Bars)-n].High
	for _, b := range s.Bars[len(s.Bars)-n:] {
		if b.High > max {
			max = b.High
		}
	}
	return max
}

// LowestLow returns the minimum low over the last n bars.
func (s Series) LowestLow(n int) float64 {
	if len(s.Bars) == 0 {
		return 0
	}
	if n > len(s.Bars) {
		n = len(s.Bars)
	}
	min := s.Bars[len(s.Bars)-n].Low
	for _, b := range s.Bars[len(s.Bars)-n:] {
		if b.Low < min {
			min = b.Low
		}
	}
	return min
}

// MeanVolume returns the average volume over all bars.
func (s Series) MeanVolume() float64 {
	if len(s.Bars) == 0 {
		return 0
	}
	sum := 0.0
	for _, b := range s.Bars {
		sum += b.Volume
	}
	return sum / float64(len(s.Bars))
}
