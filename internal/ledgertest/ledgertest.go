// Package ledgertest provides an in-process host harness for exercising the
// ledger without a real runtime: a scriptable call scheduler, a recording
// payment sender and invocation environments for arbitrary callers.
package ledgertest

import (
	"github.com/dohalee/token-ledger/common"
	"github.com/dohalee/token-ledger/host"
)

// Env is a test invocation context.
type Env struct {
	CallerID common.AccountID
	Contract common.AccountID
	Deposit  common.Amount
}

// Caller implements host.Env.
func (e Env) Caller() common.AccountID { return e.CallerID }

// ContractAccount implements host.Env.
func (e Env) ContractAccount() common.AccountID { return e.Contract }

// AttachedDeposit implements host.Env.
func (e Env) AttachedDeposit() common.Amount { return e.Deposit }

// Payment is one recorded outbound payment.
type Payment struct {
	To     common.AccountID
	Amount common.Amount
}

// Receiver handles hook dispatches addressed to one account.
type Receiver func(method string, args []byte) host.Outcome

// Runtime is a host.Runtime that routes receiver hooks to registered
// handlers and records every outbound payment. Calls to accounts without a
// handler fail, the way a call to an account without code does.
type Runtime struct {
	Receivers map[common.AccountID]Receiver

	Payments   []Payment
	PaymentErr error
}

// NewRuntime returns an empty Runtime.
func NewRuntime() *Runtime {
	return &Runtime{Receivers: make(map[common.AccountID]Receiver)}
}

// CallReceiver implements host.CallScheduler.
func (r *Runtime) CallReceiver(receiver common.AccountID, method string, args []byte) host.Outcome {
	if fn, ok := r.Receivers[receiver]; ok {
		return fn(method, args)
	}
	return host.Outcome{}
}

// SendPayment implements host.PaymentSender.
func (r *Runtime) SendPayment(to common.AccountID, amount common.Amount) error {
	if r.PaymentErr != nil {
		return r.PaymentErr
	}
	r.Payments = append(r.Payments, Payment{To: to, Amount: amount})
	return nil
}

// PaidTo returns the sum of all payments recorded for account.
func (r *Runtime) PaidTo(account common.AccountID) common.Amount {
	var total common.Amount
	for _, p := range r.Payments {
		if p.To == account {
			total, _ = total.Add(p.Amount)
		}
	}
	return total
}

// Accepting returns a Receiver that accepts every dispatch with value.
func Accepting(value string) Receiver {
	return func(string, []byte) host.Outcome {
		return host.Outcome{Success: true, Value: []byte(value)}
	}
}

// Failing returns a Receiver whose dispatches fail without a value.
func Failing() Receiver {
	return func(string, []byte) host.Outcome {
		return host.Outcome{}
	}
}
