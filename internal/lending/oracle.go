/*

Lending-protocol collaborators. The engine never talks to a third-party
lending protocol directly; it goes through the StatusOracle capability
interface, one implementation per protocol tag, selected via the Registry.

*/

package lending

import (
	"errors"
	"fmt"
	"sync"
	"time"

	sdkmath "cosmossdk.io/math"

	"github.com/parapet-finance/parapet/internal/types"
)

var (
	ErrUnknownProtocol = errors.New("no adapter registered for protocol")
	ErrUnknownLoan     = errors.New("loan not known to adapter")
)

// StatusOracle answers health and position queries for loans of one
// lending protocol. Implementations are synchronous reads and must not
// mutate engine state.
type StatusOracle interface {
	IsExpired(loan types.LoanID) (bool, error)
	IsLate(loan types.LoanID) (bool, error)
	IsLateWithinGrace(loan types.LoanID, graceDays int64) (bool, error)
	TermEnd(loan types.LoanID) (time.Time, error)
	BuyerAPR(loan types.LoanID) (sdkmath.LegacyDec, error)
	RemainingPrincipal(loan types.LoanID, lender types.AccountID, positionID uint64) (sdkmath.LegacyDec, error)
	LastPaymentTimestamp(loan types.LoanID) (time.Time, error)
	PaymentPeriodDays(loan types.LoanID) (int64, error)
}

// Basket is the set of loans a pool insures, plus purchase eligibility.
type Basket interface {
	ListLoans() []types.LoanID
	AggregateStatus() (map[types.LoanID]types.LoanStatus, error)
	CanBuy(buyer types.AccountID, params types.ProtectionPurchaseParams, isRenewal bool) (bool, error)
}

// Registry maps protocol tags to their StatusOracle adapters.
type Registry struct {
	mu      sync.RWMutex
	oracles map[types.ProtocolTag]StatusOracle
	byLoan  map[types.LoanID]types.ProtocolTag
}

// NewRegistry returns an empty adapter registry.
func NewRegistry() *Registry {
	return &Registry{
		oracles: make(map[types.ProtocolTag]StatusOracle),
		byLoan:  make(map[types.LoanID]types.ProtocolTag),
	}
}

// Register installs the adapter for a protocol tag, replacing any previous one.
func (r *Registry) Register(tag types.ProtocolTag, oracle StatusOracle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.oracles[tag] = oracle
}

// Bind associates a loan with a protocol tag.
func (r *Registry) Bind(loan types.LoanID, tag types.ProtocolTag) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byLoan[loan] = tag
}

// Resolve returns the adapter serving a loan.
func (r *Registry) Resolve(loan types.LoanID) (StatusOracle, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tag, ok := r.byLoan[loan]
	if !ok {
		return nil, fmt.Errorf("%w: loan %s has no protocol binding", ErrUnknownProtocol, loan)
	}
	oracle, ok := r.oracles[tag]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProtocol, tag)
	}
	return oracle, nil
}

// CurrentStatus derives a loan's LoanStatus from its oracle. A loan without
// a resolvable adapter reports LoanNotSupported.
func (r *Registry) CurrentStatus(loan types.LoanID) (types.LoanStatus, error) {
	oracle, err := r.Resolve(loan)
	if err != nil {
		if errors.Is(err, ErrUnknownProtocol) {
			return types.LoanNotSupported, nil
		}
		return types.LoanNotSupported, err
	}
	return Status(oracle, loan)
}

// Status derives a LoanStatus from raw oracle answers. Lateness within one
// payment period of grace reports LateWithinGrace, beyond it Late.
func Status(oracle StatusOracle, loan types.LoanID) (types.LoanStatus, error) {
	expired, err := oracle.IsExpired(loan)
	if err != nil {
		return types.LoanNotSupported, fmt.Errorf("oracle isExpired: %w", err)
	}
	if expired {
		return types.LoanExpired, nil
	}

	late, err := oracle.IsLate(loan)
	if err != nil {
		return types.LoanNotSupported, fmt.Errorf("oracle isLate: %w", err)
	}
	if !late {
		return types.LoanActive, nil
	}

	graceDays, err := oracle.PaymentPeriodDays(loan)
	if err != nil {
		return types.LoanNotSupported, fmt.Errorf("oracle paymentPeriodDays: %w", err)
	}
	withinGrace, err := oracle.IsLateWithinGrace(loan, graceDays)
	if err != nil {
		return types.LoanNotSupported, fmt.Errorf("oracle isLateWithinGrace: %w", err)
	}
	if withinGrace {
		return types.LoanLateWithinGrace, nil
	}
	return types.LoanLate, nil
}
