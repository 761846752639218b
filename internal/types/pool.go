/*

Pool-level parameter and cycle types. PoolParams controls pricing and
eligibility; PoolCycle is the recurring Open/Locked window that gates
deposits, withdrawals and protection sales.

*/

package types

import (
	"time"

	sdkmath "cosmossdk.io/math"
)

// PoolPhase is the owner-driven lifecycle phase of a protection pool.
// Phases only ever advance: OpenToSellers -> OpenToBuyers -> Open.
type PoolPhase int

const (
	PhaseOpenToSellers PoolPhase = iota
	PhaseOpenToBuyers
	PhaseOpen
)

func (p PoolPhase) String() string {
	switch p {
	case PhaseOpenToSellers:
		return "OpenToSellers"
	case PhaseOpenToBuyers:
		return "OpenToBuyers"
	case PhaseOpen:
		return "Open"
	default:
		return "Unknown"
	}
}

// PoolParams holds the pricing and eligibility parameters of a pool.
// All percentage values are 18-decimal fixed point (1.0 == 100%).
type PoolParams struct {
	LeverageRatioFloor       sdkmath.LegacyDec `json:"leverage_ratio_floor"`
	LeverageRatioCeiling     sdkmath.LegacyDec `json:"leverage_ratio_ceiling"`
	LeverageRatioBuffer      sdkmath.LegacyDec `json:"leverage_ratio_buffer"`
	MinRequiredCapital       sdkmath.LegacyDec `json:"min_required_capital"`
	Curvature                sdkmath.LegacyDec `json:"curvature"`
	MinPremiumPercent        sdkmath.LegacyDec `json:"min_premium_percent"`
	UnderlyingPremiumPercent sdkmath.LegacyDec `json:"underlying_premium_percent"`
	MinProtectionDuration    time.Duration     `json:"min_protection_duration"`
	RenewalGracePeriod       time.Duration     `json:"renewal_grace_period"`
}

// CycleState tracks where a pool currently is inside its recurring cycle.
type CycleState int

const (
	// CycleNone is only observable for pools that were never registered.
	CycleNone CycleState = iota
	CycleOpen
	CycleLocked
)

func (s CycleState) String() string {
	switch s {
	case CycleOpen:
		return "Open"
	case CycleLocked:
		return "Locked"
	default:
		return "None"
	}
}

// PoolCycleParams configures the recurring window of a pool.
// OpenDuration must not exceed CycleDuration.
type PoolCycleParams struct {
	OpenDuration  time.Duration `json:"open_duration"`
	CycleDuration time.Duration `json:"cycle_duration"`
}

// PoolCycle is the current cycle of a pool. It is owned by the pool and
// mutated only by the cycle manager.
type PoolCycle struct {
	Params    PoolCycleParams `json:"params"`
	Index     uint64          `json:"index"`
	StartedAt time.Time       `json:"started_at"`
	State     CycleState      `json:"state"`
}

// OpenExpired reports whether the open window of the current cycle has passed.
func (c PoolCycle) OpenExpired(now time.Time) bool {
	return now.Sub(c.StartedAt) > c.Params.OpenDuration
}

// Expired reports whether the current cycle has run its full duration.
func (c PoolCycle) Expired(now time.Time) bool {
	return now.Sub(c.StartedAt) > c.Params.CycleDuration
}

// EndOfNextCycle returns the timestamp at which the cycle after the current
// one will end, assuming cycles roll over on schedule.
func (c PoolCycle) EndOfNextCycle() time.Time {
	return c.StartedAt.Add(2 * c.Params.CycleDuration)
}
