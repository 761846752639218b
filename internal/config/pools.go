/*

YAML pool and loan definitions. The definition file declares the pools this
instance manages, their pricing/cycle parameters, and the fixture loan
records served by the static lending adapter.

*/

package config

import (
	"fmt"
	"os"
	"time"

	sdkmath "cosmossdk.io/math"
	"gopkg.in/yaml.v3"

	"github.com/parapet-finance/parapet/internal/types"
)

// LoanDef declares one loan served by the static adapter.
type LoanDef struct {
	ID                string  `yaml:"id"`
	Protocol          string  `yaml:"protocol"`
	BuyerAPR          string  `yaml:"buyer_apr"`
	PaymentPeriodDays int64   `yaml:"payment_period_days"`
	TermEnd           string  `yaml:"term_end"` // RFC3339
	Positions         []struct {
		Lender     string `yaml:"lender"`
		PositionID uint64 `yaml:"position_id"`
		Principal  string `yaml:"principal"`
	} `yaml:"positions"`
}

// PoolDef declares one protection pool.
type PoolDef struct {
	ID            uint64   `yaml:"id"`
	AssetDecimals uint32   `yaml:"asset_decimals"`
	Loans         []string `yaml:"loans"`

	LeverageRatioFloor       string `yaml:"leverage_ratio_floor"`
	LeverageRatioCeiling     string `yaml:"leverage_ratio_ceiling"`
	LeverageRatioBuffer      string `yaml:"leverage_ratio_buffer"`
	MinRequiredCapital       string `yaml:"min_required_capital"`
	Curvature                string `yaml:"curvature"`
	MinPremiumPercent        string `yaml:"min_premium_percent"`
	UnderlyingPremiumPercent string `yaml:"underlying_premium_percent"`
	MinProtectionDuration    string `yaml:"min_protection_duration"` // Go duration
	RenewalGracePeriod       string `yaml:"renewal_grace_period"`

	OpenCycleDuration string `yaml:"open_cycle_duration"`
	CycleDuration     string `yaml:"cycle_duration"`
}

// Definitions is the full pool/loan definition file.
type Definitions struct {
	Pools []PoolDef `yaml:"pools"`
	Loans []LoanDef `yaml:"loans"`
}

// LoadDefinitions reads and parses the YAML definition file.
func LoadDefinitions(path string) (*Definitions, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pool definitions: %w", err)
	}

	defs := &Definitions{}
	if err := yaml.Unmarshal(data, defs); err != nil {
		return nil, fmt.Errorf("parse pool definitions: %w", err)
	}
	if len(defs.Pools) == 0 {
		return nil, fmt.Errorf("pool definitions file %s declares no pools", path)
	}
	return defs, nil
}

// PoolParams converts the definition into engine parameters.
func (d PoolDef) PoolParams() (types.PoolParams, error) {
	params := types.PoolParams{}

	decs := []struct {
		name string
		raw  string
		dst  *sdkmath.LegacyDec
	}{
		{"leverage_ratio_floor", d.LeverageRatioFloor, &params.LeverageRatioFloor},
		{"leverage_ratio_ceiling", d.LeverageRatioCeiling, &params.LeverageRatioCeiling},
		{"leverage_ratio_buffer", d.LeverageRatioBuffer, &params.LeverageRatioBuffer},
		{"min_required_capital", d.MinRequiredCapital, &params.MinRequiredCapital},
		{"curvature", d.Curvature, &params.Curvature},
		{"min_premium_percent", d.MinPremiumPercent, &params.MinPremiumPercent},
		{"underlying_premium_percent", d.UnderlyingPremiumPercent, &params.UnderlyingPremiumPercent},
	}
	for _, field := range decs {
		value, err := sdkmath.LegacyNewDecFromStr(field.raw)
		if err != nil {
			return types.PoolParams{}, fmt.Errorf("pool %d %s: %w", d.ID, field.name, err)
		}
		*field.dst = value
	}

	var err error
	params.MinProtectionDuration, err = time.ParseDuration(d.MinProtectionDuration)
	if err != nil {
		return types.PoolParams{}, fmt.Errorf("pool %d min_protection_duration: %w", d.ID, err)
	}
	params.RenewalGracePeriod, err = time.ParseDuration(d.RenewalGracePeriod)
	if err != nil {
		return types.PoolParams{}, fmt.Errorf("pool %d renewal_grace_period: %w", d.ID, err)
	}
	return params, nil
}

// CycleParams converts the definition into cycle parameters.
func (d PoolDef) CycleParams() (types.PoolCycleParams, error) {
	open, err := time.ParseDuration(d.OpenCycleDuration)
	if err != nil {
		return types.PoolCycleParams{}, fmt.Errorf("pool %d open_cycle_duration: %w", d.ID, err)
	}
	cycleDuration, err := time.ParseDuration(d.CycleDuration)
	if err != nil {
		return types.PoolCycleParams{}, fmt.Errorf("pool %d cycle_duration: %w", d.ID, err)
	}
	return types.PoolCycleParams{OpenDuration: open, CycleDuration: cycleDuration}, nil
}
