package risk

import (
	"fmt"
	"math"

	"github.com/rs/zerolog/log"
)

// Constraint labels report which limit bound a sizing decision.
const (
	ConstraintNone        = "none"
	ConstraintRisk        = "risk"
	ConstraintMaxPosition = "max_position"
	ConstraintExposure    = "exposure"
	ConstraintSector      = "sector"
	ConstraintMaxCount    = "max_count"
	ConstraintMinNotional = "min_notional"
	ConstraintLotSize     = "lot_size"
)

// Config holds portfolio risk limits. Percentages are expressed as whole
// numbers (2.0 means 2%).
type Config struct {
	RiskPerTradePct   float64 `yaml:"risk_per_trade_pct"`
	MaxPositionPct    float64 `yaml:"max_position_pct"`
	MaxExposurePct    float64 `yaml:"max_exposure_pct"`
	MaxSectorPct      float64 `yaml:"max_sector_pct"`
	MaxPositionCount  int     `yaml:"max_position_count"`
	MinNotional       float64 `yaml:"min_notional"`
	LotSize           int     `yaml:"lot_size"`
	MaxPortfolioRisk  float64 `yaml:"max_portfolio_risk_pct"`
}

// DefaultConfig returns standard sizing limits.
func DefaultConfig() Config {
	return Config{
		RiskPerTradePct:  2.0,
		MaxPositionPct:   15.0,
		MaxExposurePct:   90.0,
		MaxSectorPct:     30.0,
		MaxPositionCount: 10,
		MinNotional:      100_000,
		LotSize:          1,
		MaxPortfolioRisk: 10.0,
	}
}

// Validate checks sizing limits at construction time.
func (c Config) Validate() error {
	if c.RiskPerTradePct <= 0 || c.RiskPerTradePct > 100 {
		return fmt.Errorf("risk config: risk_per_trade_pct %.2f outside (0,100]", c.RiskPerTradePct)
	}
	if c.MaxPositionPct <= 0 || c.MaxPositionPct > 100 {
		return fmt.Errorf("risk config: max_position_pct %.2f outside (0,100]", c.MaxPositionPct)
	}
	if c.MaxExposurePct <= 0 || c.MaxExposurePct > 100 {
		return fmt.Errorf("risk config: max_exposure_pct %.2f outside (0,100]", c.MaxExposurePct)
	}
	if c.MaxSectorPct <= 0 || c.MaxSectorPct > 100 {
		return fmt.Errorf("risk config: max_sector_pct %.2f outside (0,100]", c.MaxSectorPct)
	}
	if c.MaxPositionCount <= 0 {
		return fmt.Errorf("risk config: max_position_count must be positive")
	}
	if c.MinNotional < 0 {
		return fmt.Errorf("risk config: min_notional must not be negative")
	}
	if c.LotSize <= 0 {
		return fmt.Errorf("risk config: lot_size must be positive")
	}
	return nil
}

// PortfolioState describes current holdings for sizing purposes.
type PortfolioState struct {
	AccountValue   float64
	OpenPositions  int
	TotalExposure  float64            // market value of all open positions
	SectorExposure map[string]float64 // market value per sector
	OpenRisk       float64            // sum of (price - stop) * qty over open positions
}

// SizeRequest is one sizing question.
type SizeRequest struct {
	Symbol     string
	EntryPrice float64
	StopPrice  float64
	Sector     string
}

// SizeResult carries the sized quantity plus the first constraint that bound
// it. Quantity zero with a non-empty Reason is a rejection.
type SizeResult struct {
	Symbol      string
	Quantity    int
	RawQuantity int
	Notional    float64
	RiskAmount  float64
	Constraint  string
	Reason      string
}

// Sizer applies risk limits to candidate entries in a fixed order.
type Sizer struct {
	cfg Config
}

// NewSizer builds a Sizer, rejecting invalid limits.
func NewSizer(cfg Config) (*Sizer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Sizer{cfg: cfg}, nil
}

// Size determines the share quantity for an entry. Constraints apply in
// order: position count, risk budget, single-position cap, exposure cap,
// sector cap, minimum notional, lot rounding. The reported constraint is the
// first one that reduced or rejected the raw quantity.
func (s *Sizer) Size(req SizeRequest, state PortfolioState) (SizeResult, error) {
	if req.EntryPrice <= 0 {
		return SizeResult{}, fmt.Errorf("size %s: entry price %.2f must be positive", req.Symbol, req.EntryPrice)
	}
	if req.StopPrice <= 0 {
		return SizeResult{}, fmt.Errorf("size %s: stop price %.2f must be positive", req.Symbol, req.StopPrice)
	}
	if state.AccountValue <= 0 {
		return SizeResult{}, fmt.Errorf("size %s: account value must be positive", req.Symbol)
	}

	res := SizeResult{Symbol: req.Symbol, Constraint: ConstraintNone}

	if state.OpenPositions >= s.cfg.MaxPositionCount {
		res.Constraint = ConstraintMaxCount
		res.Reason = fmt.Sprintf("open positions at cap (%d)", s.cfg.MaxPositionCount)
		return res, nil
	}

	riskPerShare := math.Abs(req.EntryPrice - req.StopPrice)
	if riskPerShare == 0 {
		res.Constraint = ConstraintRisk
		res.Reason = "stop equals entry, zero risk per share"
		return res, nil
	}
	riskBudget := state.AccountValue * s.cfg.RiskPerTradePct / 100
	qty := int(riskBudget / riskPerShare)
	res.RawQuantity = qty
	res.Constraint = ConstraintRisk

	if maxByPosition := int(state.AccountValue * s.cfg.MaxPositionPct / 100 / req.EntryPrice); qty > maxByPosition {
		qty = maxByPosition
		res.Constraint = ConstraintMaxPosition
	}

	exposureRoom := state.AccountValue*s.cfg.MaxExposurePct/100 - state.TotalExposure
	if exposureRoom < 0 {
		exposureRoom = 0
	}
	if maxByExposure := int(exposureRoom / req.EntryPrice); qty > maxByExposure {
		qty = maxByExposure
		res.Constraint = ConstraintExposure
	}

	if req.Sector != "" {
		sectorRoom := state.AccountValue*s.cfg.MaxSectorPct/100 - state.SectorExposure[req.Sector]
		if sectorRoom < 0 {
			sectorRoom = 0
		}
		if maxBySector := int(sectorRoom / req.EntryPrice); qty > maxBySector {
			qty = maxBySector
			res.Constraint = ConstraintSector
		}
	}

	if qty <= 0 {
		res.Quantity = 0
		res.Reason = "no room under current limits"
		return res, nil
	}

	notional := float64(qty) * req.EntryPrice
	if notional < s.cfg.MinNotional {
		res.Quantity = 0
		res.Constraint = ConstraintMinNotional
		res.Reason = fmt.Sprintf("notional %.0f below minimum %.0f", notional, s.cfg.MinNotional)
		return res, nil
	}

	if s.cfg.LotSize > 1 {
		qty = RoundDownToLot(qty, s.cfg.LotSize)
		if qty == 0 {
			res.Quantity = 0
			res.Constraint = ConstraintLotSize
			res.Reason = fmt.Sprintf("lot size %d leaves no shares", s.cfg.LotSize)
			return res, nil
		}
		notional = float64(qty) * req.EntryPrice
	}

	res.Quantity = qty
	res.Notional = notional
	res.RiskAmount = float64(qty) * riskPerShare

	log.Debug().Str("symbol", req.Symbol).Int("qty", qty).Int("raw_qty", res.RawQuantity).
		Str("constraint", res.Constraint).Float64("notional", notional).
		Msg("position sized")

	return res, nil
}

// MaxPositions returns the configured position count cap.
func (s *Sizer) MaxPositions() int {
	return s.cfg.MaxPositionCount
}

// PortfolioRisk returns current open risk as a percent of account value.
func (s *Sizer) PortfolioRisk(state PortfolioState) float64 {
	if state.AccountValue <= 0 {
		return 0
	}
	return state.OpenRisk / state.AccountValue * 100
}

// ValidateTrade reports whether adding the sized trade keeps total open risk
// inside the portfolio budget.
func (s *Sizer) ValidateTrade(res SizeResult, state PortfolioState) error {
	if res.Quantity == 0 {
		return nil
	}
	totalRisk := state.OpenRisk + res.RiskAmount
	limit := state.AccountValue * s.cfg.MaxPortfolioRisk / 100
	if totalRisk > limit {
		return fmt.Errorf("trade %s: portfolio risk %.0f would exceed budget %.0f",
			res.Symbol, totalRisk, limit)
	}
	return nil
}

// RMultiple expresses a realized trade outcome in units of initial risk.
func RMultiple(entry, exit, stop float64, qty int) float64 {
	riskPerShare := entry - stop
	if riskPerShare <= 0 || qty <= 0 {
		return 0
	}
	return (exit - entry) / riskPerShare
}

// RoundDownToLot rounds a quantity down to the nearest lot multiple.
func RoundDownToLot(qty, lot int) int {
	if lot <= 1 {
		return qty
	}
	return int(math.Floor(float64(qty)/float64(lot))) * lot
}
