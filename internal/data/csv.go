package data

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/vcplab/vcptrader/internal/market"
)

// CSVProvider reads daily bars from a directory of per-symbol CSV files.
// Each <symbol>.csv carries a header row and date,open,high,low,close,volume
// columns; universe.csv carries symbol,name,sector.
type CSVProvider struct {
	dir       string
	benchmark string
}

// NewCSVProvider builds a provider over dir. benchmark names the symbol whose
// file serves as the index baseline.
func NewCSVProvider(dir, benchmark string) (*CSVProvider, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("csv provider: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("csv provider: %s is not a directory", dir)
	}
	if benchmark == "" {
		return nil, fmt.Errorf("csv provider: benchmark symbol required")
	}
	return &CSVProvider{dir: dir, benchmark: benchmark}, nil
}

// LoadSeries implements Provider.
func (p *CSVProvider) LoadSeries(ctx context.Context, symbol string) (market.Series, error) {
	if err := ctx.Err(); err != nil {
		return market.Series{}, err
	}
	path := filepath.Join(p.dir, symbol+".csv")
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return market.Series{}, fmt.Errorf("%s: %w", symbol, ErrSeriesNotFound)
		}
		return market.Series{}, fmt.Errorf("load %s: %w", symbol, err)
	}
	defer f.Close()

	bars, err := readBars(f)
	if err != nil {
		return market.Series{}, fmt.Errorf("load %s: %w", symbol, err)
	}
	s := market.Series{Symbol: symbol, Bars: bars}
	if err := s.Validate(); err != nil {
		return market.Series{}, fmt.Errorf("load %s: %w", symbol, err)
	}
	return s, nil
}

// BenchmarkSeries implements Provider.
func (p *CSVProvider) BenchmarkSeries(ctx context.Context) (market.Series, error) {
	return p.LoadSeries(ctx, p.benchmark)
}

// ListUniverse implements Provider. The benchmark symbol is excluded even
// when it appears in universe.csv.
func (p *CSVProvider) ListUniverse(ctx context.Context) ([]Listing, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(filepath.Join(p.dir, "universe.csv"))
	if err != nil {
		return nil, fmt.Errorf("list universe: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	var listings []Listing
	first := true
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list universe: %w", err)
		}
		if first {
			first = false
			if strings.EqualFold(strings.TrimSpace(rec[0]), "symbol") {
				continue
			}
		}
		if len(rec) < 1 || strings.TrimSpace(rec[0]) == "" {
			continue
		}
		l := Listing{Symbol: strings.TrimSpace(rec[0])}
		if len(rec) > 1 {
			l.Name = strings.TrimSpace(rec[1])
		}
		if len(rec) > 2 {
			l.Sector = strings.TrimSpace(rec[2])
		}
		if l.Symbol == p.benchmark {
			continue
		}
		listings = append(listings, l)
	}

	log.Debug().Int("symbols", len(listings)).Str("dir", p.dir).Msg("universe loaded")
	return listings, nil
}

func readBars(r io.Reader) ([]market.Bar, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = 6

	var bars []market.Bar
	first := true
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if first {
			first = false
			if strings.EqualFold(strings.TrimSpace(rec[0]), "date") {
				continue
			}
		}
		bar, err := parseBar(rec)
		if err != nil {
			return nil, err
		}
		bars = append(bars, bar)
	}
	return bars, nil
}

func parseBar(rec []string) (market.Bar, error) {
	date, err := time.Parse("2006-01-02", strings.TrimSpace(rec[0]))
	if err != nil {
		return market.Bar{}, fmt.Errorf("bad date %q: %w", rec[0], err)
	}
	vals := make([]float64, 5)
	for i := 0; i < 5; i++ {
		v, err := strconv.ParseFloat(strings.TrimSpace(rec[i+1]), 64)
		if err != nil {
			return market.Bar{}, fmt.Errorf("bad number %q: %w", rec[i+1], err)
		}
		vals[i] = v
	}
	return market.Bar{
		Date: date, Open: vals[0], High: vals[1], Low: vals[2], Close: vals[3], Volume: vals[4],
	}, nil
}
