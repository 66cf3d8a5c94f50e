// Package rent implements storage-rent accounting: every mutating operation
// is wrapped in a byte-delta measurement, growth must be paid for by the
// attached deposit and shrinkage is refunded to the caller.
package rent

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/dohalee/token-ledger/common"
	"github.com/dohalee/token-ledger/host"
	"github.com/dohalee/token-ledger/storage"
)

// Accountant converts storage-byte deltas into payment requirements and
// refunds.
type Accountant struct {
	costPerByte common.Amount
	payments    host.PaymentSender
	log         *zap.Logger
}

// New returns an Accountant charging costPerByte for every occupied byte.
func New(costPerByte common.Amount, payments host.PaymentSender, log *zap.Logger) *Accountant {
	if log == nil {
		log = zap.NewNop()
	}
	return &Accountant{costPerByte: costPerByte, payments: payments, log: log}
}

// CostPerByte returns the deployment-fixed per-byte price.
func (a *Accountant) CostPerByte() common.Amount {
	return a.costPerByte
}

// Charge runs op against st and settles the storage-byte delta it produced.
//
// If storage grew, the attached deposit must cover delta*costPerByte or the
// whole operation fails with ErrInsufficientStorageDeposit (the caller
// discards the overlay, so nothing persists). If storage shrank, the freed
// cost plus the unused deposit is sent back to the caller. The refund is
// fire-and-forget: a failed send is logged and does not undo the mutation.
func (a *Accountant) Charge(env host.Env, st storage.Store, op func() error) error {
	before := st.UsedBytes()
	if err := op(); err != nil {
		return err
	}
	after := st.UsedBytes()

	deposit := env.AttachedDeposit()
	refund := deposit
	if after > before {
		need, err := a.costPerByte.MulUint64(after - before)
		if err != nil {
			return err
		}
		if deposit.Cmp(need) < 0 {
			return fmt.Errorf("%w: need %s, attached %s",
				common.ErrInsufficientStorageDeposit, need, deposit)
		}
		refund, _ = deposit.Sub(need)
	} else if before > after {
		freed, err := a.costPerByte.MulUint64(before - after)
		if err != nil {
			return err
		}
		if refund, err = refund.Add(freed); err != nil {
			return err
		}
	}

	a.Refund(env.Caller(), refund)
	return nil
}

// Refund sends amount back to account, best effort. Zero refunds are
// skipped.
func (a *Accountant) Refund(account common.AccountID, amount common.Amount) {
	if amount.IsZero() {
		return
	}
	if err := a.payments.SendPayment(account, amount); err != nil {
		a.log.Warn("storage refund failed",
			zap.Stringer("account", account),
			zap.String("amount", amount.String()),
			zap.Error(err))
	}
}
