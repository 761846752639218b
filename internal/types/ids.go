package types

// PoolID identifies a protection pool managed by this instance.
type PoolID uint64

// LoanID identifies an underlying lending pool being insured.
type LoanID string

// ProtectionID is a stable integer handle into the append-only protection log.
// Ids start at 1 and are never reused.
type ProtectionID uint64

// AccountID identifies a buyer or seller account.
type AccountID string

// ProtocolTag selects the lending-protocol adapter for a loan.
type ProtocolTag string

// LoanPosition is the (loan, position) pair a protection covers.
type LoanPosition struct {
	LoanID     LoanID `json:"loan_id"`
	PositionID uint64 `json:"position_id"`
}
