// Package fungible implements the balance ledger: a mapping from registered
// accounts to unsigned 128-bit balances whose sum always equals the total
// supply. Supply only ever decreases through the burn path of transfer
// resolution; ordinary transfers conserve it.
package fungible

import (
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/dohalee/token-ledger/common"
	"github.com/dohalee/token-ledger/host"
	"github.com/dohalee/token-ledger/registry"
	"github.com/dohalee/token-ledger/storage"
)

// Ledger keeps account balances and the total supply. Zero balances are not
// stored: an account record is deleted when its balance reaches zero and
// recreated on the next deposit, the way registration status stays in the
// account registry alone.
type Ledger struct {
	balancePrefix byte
	supplyKey     []byte
	reg           *registry.Registry
	log           *zap.Logger
}

// New returns a Ledger persisting balances under balancePrefix and the
// supply singleton under supplyPrefix.
func New(balancePrefix, supplyPrefix byte, reg *registry.Registry, log *zap.Logger) *Ledger {
	if log == nil {
		log = zap.NewNop()
	}
	return &Ledger{
		balancePrefix: balancePrefix,
		supplyKey:     storage.Key(supplyPrefix),
		reg:           reg,
		log:           log,
	}
}

func (l *Ledger) balanceKey(account common.AccountID) []byte {
	return storage.Key(l.balancePrefix, account.Bytes())
}

// BalanceOf returns the balance of account, zero when absent.
func (l *Ledger) BalanceOf(st storage.Store, account common.AccountID) common.Amount {
	raw := st.Get(l.balanceKey(account))
	if raw == nil {
		return common.Amount{}
	}
	a, err := common.ParseAmount(string(raw))
	if err != nil {
		l.log.Error("corrupt balance record", zap.Stringer("account", account), zap.Error(err))
		return common.Amount{}
	}
	return a
}

// TotalSupply returns the current total supply.
func (l *Ledger) TotalSupply(st storage.Store) common.Amount {
	raw := st.Get(l.supplyKey)
	if raw == nil {
		return common.Amount{}
	}
	a, err := common.ParseAmount(string(raw))
	if err != nil {
		l.log.Error("corrupt supply record", zap.Error(err))
		return common.Amount{}
	}
	return a
}

func (l *Ledger) setBalance(st storage.Store, account common.AccountID, a common.Amount) {
	key := l.balanceKey(account)
	if a.IsZero() {
		st.Delete(key)
		return
	}
	st.Put(key, []byte(a.String()))
}

func (l *Ledger) setSupply(st storage.Store, a common.Amount) {
	st.Put(l.supplyKey, []byte(a.String()))
}

// InitialMint credits the whole supply to owner. It may run only once, at
// deployment, before any balance exists.
func (l *Ledger) InitialMint(st storage.Store, owner common.AccountID, supply common.Amount) {
	l.setSupply(st, supply)
	l.setBalance(st, owner, supply)
	l.log.Info("initial supply minted",
		zap.Stringer("owner", owner),
		zap.String("amount", supply.String()))
}

func (l *Ledger) deposit(st storage.Store, account common.AccountID, amount common.Amount) error {
	bal, err := l.BalanceOf(st, account).Add(amount)
	if err != nil {
		return err
	}
	l.setBalance(st, account, bal)
	return nil
}

func (l *Ledger) withdraw(st storage.Store, account common.AccountID, amount common.Amount) error {
	bal := l.BalanceOf(st, account)
	if bal.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s has %s, needs %s",
			common.ErrInsufficientBalance, account, bal, amount)
	}
	bal, _ = bal.Sub(amount)
	l.setBalance(st, account, bal)
	return nil
}

func (l *Ledger) checkTransfer(st storage.Store, sender, receiver common.AccountID, amount common.Amount) error {
	if sender == receiver {
		return fmt.Errorf("%w: %s", common.ErrSelfTransfer, sender)
	}
	if amount.IsZero() {
		return common.ErrZeroAmount
	}
	if !l.reg.IsRegistered(st, sender) {
		return fmt.Errorf("%w: %s", common.ErrNotRegistered, sender)
	}
	if !l.reg.IsRegistered(st, receiver) {
		return fmt.Errorf("%w: %s", common.ErrReceiverNotRegistered, receiver)
	}
	return nil
}

// Transfer atomically moves amount from sender to receiver.
func (l *Ledger) Transfer(st storage.Store, sender, receiver common.AccountID, amount common.Amount, memo string) error {
	if err := l.checkTransfer(st, sender, receiver, amount); err != nil {
		return err
	}
	if err := l.withdraw(st, sender, amount); err != nil {
		return err
	}
	if err := l.deposit(st, receiver, amount); err != nil {
		return err
	}
	fields := []zap.Field{
		zap.Stringer("sender", sender),
		zap.Stringer("receiver", receiver),
		zap.String("amount", amount.String()),
	}
	if memo != "" {
		fields = append(fields, zap.String("memo", memo))
	}
	l.log.Info("transfer", fields...)
	return nil
}

// OnTransferArgs is the payload of the receiver hook dispatched by a
// transfer-and-notify call.
type OnTransferArgs struct {
	Sender common.AccountID `json:"sender_id"`
	Amount common.Amount    `json:"amount"`
	Msg    string           `json:"msg"`
}

// Resolution is the outcome of resolving one fungible transfer-and-notify.
type Resolution struct {
	// Used is the amount the transfer finally settled at.
	Used common.Amount
	// Refunded was re-credited to the sender.
	Refunded common.Amount
	// Burned was subtracted from total supply because the sender
	// unregistered while the call was in flight.
	Burned common.Amount
}

// Resolve reconciles a pessimistically executed transfer against the
// receiver hook's outcome. It never fails: a missing, failed or malformed
// outcome settles as fully unused, and the unused part flows back to the
// sender or, when the sender is gone, into a supply burn. The refund is
// capped by the receiver's remaining balance, so funds the receiver already
// spent count as used.
func (l *Ledger) Resolve(st storage.Store, sender, receiver common.AccountID, amount common.Amount, outcome host.Outcome) Resolution {
	used := common.NewAmount(0)
	if outcome.Success {
		var declared common.Amount
		if err := json.Unmarshal(outcome.Value, &declared); err == nil {
			used = common.MinAmount(amount, declared)
		}
	}

	unused, _ := amount.Sub(used)
	res := Resolution{Used: used}
	if unused.IsZero() {
		return res
	}

	reclaim := common.MinAmount(unused, l.BalanceOf(st, receiver))
	if reclaim.IsZero() {
		res.Used = amount
		return res
	}
	res.Used, _ = amount.Sub(reclaim)

	// the receiver's balance covers reclaim, withdraw cannot fail
	_ = l.withdraw(st, receiver, reclaim)
	if l.reg.IsRegistered(st, sender) {
		_ = l.deposit(st, sender, reclaim)
		res.Refunded = reclaim
		l.log.Info("unused transfer amount refunded",
			zap.Stringer("sender", sender),
			zap.String("amount", reclaim.String()))
		return res
	}

	supply, _ := l.TotalSupply(st).Sub(reclaim)
	l.setSupply(st, supply)
	res.Burned = reclaim
	l.log.Info("unused transfer amount burned",
		zap.Stringer("sender", sender),
		zap.String("amount", reclaim.String()))
	return res
}

// Drop removes the remaining balance of account and subtracts it from the
// total supply. It backs forced unregistration; the discarded balance is
// reported to the caller's hooks.
func (l *Ledger) Drop(st storage.Store, account common.AccountID) common.Amount {
	bal := l.BalanceOf(st, account)
	if bal.IsZero() {
		return bal
	}
	l.setBalance(st, account, common.Amount{})
	supply, _ := l.TotalSupply(st).Sub(bal)
	l.setSupply(st, supply)
	l.log.Info("holdings discarded on forced unregistration",
		zap.Stringer("account", account),
		zap.String("amount", bal.String()))
	return bal
}
