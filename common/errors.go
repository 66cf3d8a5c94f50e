package common

import "errors"

// Kind classifies ledger errors. Every failure an operation can report
// belongs to exactly one kind; any error outside resolution aborts the whole
// invocation and discards its storage overlay.
type Kind uint8

const (
	// KindValidation covers malformed inputs: zero amounts, self-transfers,
	// invalid identifiers and metadata.
	KindValidation Kind = iota + 1
	// KindState covers operations against missing or conflicting state:
	// unknown accounts and tokens, duplicate registrations.
	KindState
	// KindAuthorization covers callers acting without the required rights.
	KindAuthorization
	// KindResource covers exhausted balances and insufficient attached
	// payments.
	KindResource
)

// Error is a classified ledger error. All sentinel errors of this package
// are of this type, so callers can branch on the taxonomy with the IsXxx
// helpers while matching concrete conditions with errors.Is.
type Error struct {
	kind Kind
	msg  string
}

func newError(kind Kind, msg string) *Error {
	return &Error{kind: kind, msg: msg}
}

func (e *Error) Error() string {
	return e.msg
}

// Kind returns the error class.
func (e *Error) Kind() Kind {
	return e.kind
}

// Sentinel errors, grouped by kind.
var (
	// Validation errors.
	ErrInvalidAccount  = newError(KindValidation, "ledger: invalid account id")
	ErrInvalidAmount   = newError(KindValidation, "ledger: invalid amount")
	ErrZeroAmount      = newError(KindValidation, "ledger: zero transfer amount")
	ErrSelfTransfer    = newError(KindValidation, "ledger: sender and receiver are the same account")
	ErrInvalidMetadata = newError(KindValidation, "ledger: invalid metadata")

	// State errors.
	ErrNotRegistered         = newError(KindState, "ledger: account is not registered")
	ErrAlreadyRegistered     = newError(KindState, "ledger: account is already registered")
	ErrReceiverNotRegistered = newError(KindState, "ledger: receiver is not registered")
	ErrStillHoldingAssets    = newError(KindState, "ledger: account still holds assets")
	ErrTokenNotFound         = newError(KindState, "ledger: token not found")
	ErrTokenAlreadyExists    = newError(KindState, "ledger: token already exists")
	ErrPendingNotFound       = newError(KindState, "ledger: pending transfer not found")

	// Authorization errors.
	ErrNotTokenOwner      = newError(KindAuthorization, "ledger: caller does not own the token")
	ErrNotOwnerOrApproved = newError(KindAuthorization, "ledger: caller is neither owner nor approved")
	ErrResolveNotSelf     = newError(KindAuthorization, "ledger: resolution may only be invoked by the contract itself")
	ErrNotContractOwner   = newError(KindAuthorization, "ledger: caller is not the contract owner")

	// Resource errors.
	ErrInsufficientBalance        = newError(KindResource, "ledger: insufficient balance")
	ErrInsufficientStorageDeposit = newError(KindResource, "ledger: insufficient attached storage deposit")
	ErrNothingToWithdraw          = newError(KindResource, "ledger: no storage balance available to withdraw")
	ErrWithdrawTooMuch            = newError(KindResource, "ledger: withdrawal exceeds available storage balance")
)

func isKind(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.kind == kind
}

// IsValidation reports whether err is a validation error.
func IsValidation(err error) bool { return isKind(err, KindValidation) }

// IsState reports whether err is a state error.
func IsState(err error) bool { return isKind(err, KindState) }

// IsAuthorization reports whether err is an authorization error.
func IsAuthorization(err error) bool { return isKind(err, KindAuthorization) }

// IsResource reports whether err is a resource error.
func IsResource(err error) bool { return isKind(err, KindResource) }
