// Package host declares the contract between the ledger core and the
// execution environment hosting it. The core never schedules calls or moves
// native payments itself; it goes through the collaborators declared here,
// and the runtime drives the mandatory resolution step of every
// transfer-and-notify chain back into the core.
package host

import "github.com/dohalee/token-ledger/common"

// Receiver hook methods dispatched by the core. The hosting runtime routes
// them to the receiving account's code.
const (
	// MethodOnTransfer notifies a receiver about an incoming fungible
	// transfer. The hook's return value is the base-10 amount the receiver
	// declares as used.
	MethodOnTransfer = "on_transfer"
	// MethodOnNFTTransfer notifies a receiver about an incoming token. The
	// hook returns "true" to keep the token and "false" to decline it.
	MethodOnNFTTransfer = "on_nft_transfer"
	// MethodOnApproval notifies an account that it has been approved to
	// transfer a token. Fire-and-forget; the outcome is ignored.
	MethodOnApproval = "on_approval"
)

// Env describes a single invocation as seen by the core: who calls, which
// account the contract itself occupies and what payment is attached.
type Env interface {
	// Caller returns the account the invocation originates from.
	Caller() common.AccountID

	// ContractAccount returns the account the contract is deployed to.
	ContractAccount() common.AccountID

	// AttachedDeposit returns the payment attached to the invocation. It is
	// consumed by storage-rent charges; the unused part is refunded.
	AttachedDeposit() common.Amount
}

// Outcome reports the eventual result of a dispatched external call.
//
// Success means the callee produced a return value; a receiver whose chain
// failed after returning a value still counts as successful with that value,
// while a hook that raised an error or never produced a value reports
// Success == false. The core never trusts Value beyond parsing it: anything
// malformed settles as fully unused/declined.
type Outcome struct {
	Success bool
	Value   []byte
}

// CallScheduler dispatches external calls. The whole call chain, including
// the mandatory resolution continuation, completes before control returns to
// the top-level caller, so from the core's point of view dispatch is
// synchronous and the Outcome is the call's final result.
type CallScheduler interface {
	CallReceiver(receiver common.AccountID, method string, args []byte) Outcome
}

// PaymentSender sends outbound native payments: storage-rent refunds and
// released escrows. Sends are fire-and-forget; a failed send is logged by
// the core and never rolls back the ledger mutation that preceded it.
type PaymentSender interface {
	SendPayment(to common.AccountID, amount common.Amount) error
}

// Runtime groups the collaborators a deployed contract needs.
type Runtime interface {
	CallScheduler
	PaymentSender
}

// selfEnv is the invocation context of the contract calling itself.
type selfEnv struct {
	account common.AccountID
}

func (e selfEnv) Caller() common.AccountID          { return e.account }
func (e selfEnv) ContractAccount() common.AccountID { return e.account }
func (e selfEnv) AttachedDeposit() common.Amount    { return common.Amount{} }

// SelfInvocation returns the Env of a contract invoking its own entry point,
// as the runtime does for resolution continuations.
func SelfInvocation(contract common.AccountID) Env {
	return selfEnv{account: contract}
}
