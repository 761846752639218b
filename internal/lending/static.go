/*

Static fixture adapter. Real protocol adapters query third-party lending
protocols; this one serves loan facts from in-process records that operators
(or tests) update directly. It implements both StatusOracle and Basket.

*/

package lending

import (
	"fmt"
	"sync"
	"time"

	sdkmath "cosmossdk.io/math"

	"github.com/parapet-finance/parapet/internal/types"
)

// LoanRecord is the full fact set the static adapter serves for one loan.
type LoanRecord struct {
	Expired           bool
	Late              bool
	LateSince         time.Time
	TermEnd           time.Time
	BuyerAPR          sdkmath.LegacyDec
	PaymentPeriodDays int64
	LastPaymentAt     time.Time
	// Principal per (lender, position).
	Principal map[types.AccountID]map[uint64]sdkmath.LegacyDec
}

// StaticOracle serves a mutable set of LoanRecords.
type StaticOracle struct {
	mu    sync.RWMutex
	loans map[types.LoanID]*LoanRecord
	clock func() time.Time
}

// NewStaticOracle creates an empty static adapter. A nil clock defaults to
// time.Now.
func NewStaticOracle(clock func() time.Time) *StaticOracle {
	if clock == nil {
		clock = time.Now
	}
	return &StaticOracle{
		loans: make(map[types.LoanID]*LoanRecord),
		clock: clock,
	}
}

// SetLoan installs or replaces the record for a loan.
func (o *StaticOracle) SetLoan(id types.LoanID, record LoanRecord) {
	o.mu.Lock()
	defer o.mu.Unlock()
	copied := record
	o.loans[id] = &copied
}

// Update applies a mutation to an existing loan record.
func (o *StaticOracle) Update(id types.LoanID, mutate func(*LoanRecord)) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	record, ok := o.loans[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownLoan, id)
	}
	mutate(record)
	return nil
}

func (o *StaticOracle) get(id types.LoanID) (*LoanRecord, error) {
	record, ok := o.loans[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownLoan, id)
	}
	return record, nil
}

func (o *StaticOracle) IsExpired(loan types.LoanID) (bool, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	record, err := o.get(loan)
	if err != nil {
		return false, err
	}
	return record.Expired, nil
}

func (o *StaticOracle) IsLate(loan types.LoanID) (bool, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	record, err := o.get(loan)
	if err != nil {
		return false, err
	}
	return record.Late, nil
}

func (o *StaticOracle) IsLateWithinGrace(loan types.LoanID, graceDays int64) (bool, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	record, err := o.get(loan)
	if err != nil {
		return false, err
	}
	if !record.Late {
		return false, nil
	}
	grace := time.Duration(graceDays) * 24 * time.Hour
	return o.clock().Sub(record.LateSince) <= grace, nil
}

func (o *StaticOracle) TermEnd(loan types.LoanID) (time.Time, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	record, err := o.get(loan)
	if err != nil {
		return time.Time{}, err
	}
	return record.TermEnd, nil
}

func (o *StaticOracle) BuyerAPR(loan types.LoanID) (sdkmath.LegacyDec, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	record, err := o.get(loan)
	if err != nil {
		return sdkmath.LegacyDec{}, err
	}
	return record.BuyerAPR, nil
}

func (o *StaticOracle) RemainingPrincipal(loan types.LoanID, lender types.AccountID, positionID uint64) (sdkmath.LegacyDec, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	record, err := o.get(loan)
	if err != nil {
		return sdkmath.LegacyDec{}, err
	}
	if positions, ok := record.Principal[lender]; ok {
		if principal, ok := positions[positionID]; ok {
			return principal, nil
		}
	}
	return sdkmath.LegacyZeroDec(), nil
}

func (o *StaticOracle) LastPaymentTimestamp(loan types.LoanID) (time.Time, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	record, err := o.get(loan)
	if err != nil {
		return time.Time{}, err
	}
	return record.LastPaymentAt, nil
}

func (o *StaticOracle) PaymentPeriodDays(loan types.LoanID) (int64, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	record, err := o.get(loan)
	if err != nil {
		return 0, err
	}
	return record.PaymentPeriodDays, nil
}

// StaticBasket is a fixed loan list with registry-derived statuses.
type StaticBasket struct {
	mu       sync.RWMutex
	loans    []types.LoanID
	registry *Registry
}

// NewStaticBasket creates a basket over the given loans.
func NewStaticBasket(registry *Registry, loans ...types.LoanID) *StaticBasket {
	return &StaticBasket{loans: append([]types.LoanID(nil), loans...), registry: registry}
}

// AddLoan appends a loan to the basket.
func (b *StaticBasket) AddLoan(loan types.LoanID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.loans = append(b.loans, loan)
}

func (b *StaticBasket) ListLoans() []types.LoanID {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]types.LoanID(nil), b.loans...)
}

func (b *StaticBasket) AggregateStatus() (map[types.LoanID]types.LoanStatus, error) {
	b.mu.RLock()
	loans := append([]types.LoanID(nil), b.loans...)
	b.mu.RUnlock()

	statuses := make(map[types.LoanID]types.LoanStatus, len(loans))
	for _, loan := range loans {
		status, err := b.registry.CurrentStatus(loan)
		if err != nil {
			return nil, fmt.Errorf("aggregate status for %s: %w", loan, err)
		}
		statuses[loan] = status
	}
	return statuses, nil
}

// CanBuy reports whether the buyer holds a position in the loan large enough
// to cover the requested protection amount.
func (b *StaticBasket) CanBuy(buyer types.AccountID, params types.ProtectionPurchaseParams, isRenewal bool) (bool, error) {
	oracle, err := b.registry.Resolve(params.LoanID)
	if err != nil {
		return false, err
	}
	principal, err := oracle.RemainingPrincipal(params.LoanID, buyer, params.PositionID)
	if err != nil {
		return false, err
	}
	return principal.GTE(params.Amount), nil
}
