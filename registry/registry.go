// Package registry tracks which accounts are registered with the ledger and
// the storage-balance escrow each of them maintains. An account exists iff
// it has a registry record, and a record always escrows at least the
// deployment-fixed minimum.
package registry

import (
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/dohalee/token-ledger/common"
	"github.com/dohalee/token-ledger/storage"
)

// StorageBalance is the escrow an account holds against the storage it
// occupies. Total >= Used at all times; Total - Used is available for
// withdrawal.
type StorageBalance struct {
	Total common.Amount `json:"total"`
	Used  common.Amount `json:"used"`
}

// Available returns the withdrawable part of the balance.
func (b StorageBalance) Available() common.Amount {
	v, err := b.Total.Sub(b.Used)
	if err != nil {
		return common.Amount{}
	}
	return v
}

// Bounds are the registration cost floor and ceiling, fixed per deployment.
type Bounds struct {
	Min common.Amount `json:"min"`
	Max common.Amount `json:"max"`
}

// RecordFootprint returns the largest number of storage bytes a single
// registry record can occupy: the longest valid account identity with both
// escrow fields at their 128-bit maximum. The registration cost floor is
// derived from it at deployment.
func RecordFootprint(prefix byte) uint64 {
	account := common.AccountID(strings.Repeat("a", 64))
	max, _ := common.ParseAmount("340282366920938463463374607431768211455")
	raw, _ := json.Marshal(StorageBalance{Total: max, Used: max})
	return uint64(len(storage.Key(prefix, account.Bytes())) + len(raw))
}

// Registry is the account book. All methods operate on the storage overlay
// of the current invocation.
type Registry struct {
	prefix byte
	bounds Bounds
	log    *zap.Logger
}

// New returns a Registry persisting records under the given key prefix.
func New(prefix byte, bounds Bounds, log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{prefix: prefix, bounds: bounds, log: log}
}

// Bounds returns the registration bounds.
func (r *Registry) Bounds() Bounds {
	return r.bounds
}

func (r *Registry) key(account common.AccountID) []byte {
	return storage.Key(r.prefix, account.Bytes())
}

// Get returns the storage balance of account and whether it is registered.
func (r *Registry) Get(st storage.Store, account common.AccountID) (StorageBalance, bool) {
	raw := st.Get(r.key(account))
	if raw == nil {
		return StorageBalance{}, false
	}
	var b StorageBalance
	if err := json.Unmarshal(raw, &b); err != nil {
		// a corrupt record means the store was tampered with outside the
		// single-writer discipline; treat the account as absent
		r.log.Error("corrupt registry record", zap.Stringer("account", account), zap.Error(err))
		return StorageBalance{}, false
	}
	return b, true
}

// IsRegistered reports whether account has a registry record.
func (r *Registry) IsRegistered(st storage.Store, account common.AccountID) bool {
	return st.Get(r.key(account)) != nil
}

func (r *Registry) put(st storage.Store, account common.AccountID, b StorageBalance) {
	raw, _ := json.Marshal(b)
	st.Put(r.key(account), raw)
}

// Register creates a record for account escrowing bounds.Min out of deposit.
// The surplus above the escrowed amount is returned for the caller to refund.
// Fails with ErrAlreadyRegistered when a record exists and with
// ErrInsufficientStorageDeposit when deposit < bounds.Min.
func (r *Registry) Register(st storage.Store, account common.AccountID, deposit common.Amount) (common.Amount, error) {
	if !account.Valid() {
		return common.Amount{}, fmt.Errorf("%w: %q", common.ErrInvalidAccount, account)
	}
	if r.IsRegistered(st, account) {
		return common.Amount{}, fmt.Errorf("%w: %s", common.ErrAlreadyRegistered, account)
	}
	if deposit.Cmp(r.bounds.Min) < 0 {
		return common.Amount{}, fmt.Errorf("%w: registration requires %s, attached %s",
			common.ErrInsufficientStorageDeposit, r.bounds.Min, deposit)
	}
	r.put(st, account, StorageBalance{Total: r.bounds.Min, Used: r.bounds.Min})
	refund, _ := deposit.Sub(r.bounds.Min)
	r.log.Info("account registered", zap.Stringer("account", account))
	return refund, nil
}

// Deposit adds amount to the storage balance of account, registering it
// first when absent. Total is capped at bounds.Max; anything above the cap
// is returned for the caller to refund. With registrationOnly set, only
// registration is paid for and the entire remainder is returned.
func (r *Registry) Deposit(st storage.Store, account common.AccountID, amount common.Amount, registrationOnly bool) (StorageBalance, common.Amount, error) {
	b, ok := r.Get(st, account)
	if !ok {
		refund, err := r.Register(st, account, amount)
		if err != nil {
			return StorageBalance{}, common.Amount{}, err
		}
		b, _ = r.Get(st, account)
		return b, refund, nil
	}
	if registrationOnly {
		// already registered, the whole attached amount goes back
		return b, amount, nil
	}
	total, err := b.Total.Add(amount)
	if err != nil {
		return StorageBalance{}, common.Amount{}, err
	}
	refund := common.NewAmount(0)
	if total.Cmp(r.bounds.Max) > 0 {
		refund, _ = total.Sub(r.bounds.Max)
		total = r.bounds.Max
	}
	b.Total = total
	r.put(st, account, b)
	return b, refund, nil
}

// Withdraw releases amount from the available part of the account's storage
// balance; a nil amount releases everything available. The released value is
// returned for the caller to pay out.
func (r *Registry) Withdraw(st storage.Store, account common.AccountID, amount *common.Amount) (StorageBalance, common.Amount, error) {
	b, ok := r.Get(st, account)
	if !ok {
		return StorageBalance{}, common.Amount{}, fmt.Errorf("%w: %s", common.ErrNotRegistered, account)
	}
	available := b.Available()
	if available.IsZero() {
		return StorageBalance{}, common.Amount{}, fmt.Errorf("%w: %s", common.ErrNothingToWithdraw, account)
	}
	take := available
	if amount != nil {
		if amount.Cmp(available) > 0 {
			return StorageBalance{}, common.Amount{}, fmt.Errorf("%w: requested %s, available %s",
				common.ErrWithdrawTooMuch, amount, available)
		}
		take = *amount
	}
	b.Total, _ = b.Total.Sub(take)
	r.put(st, account, b)
	return b, take, nil
}

// Bootstrap creates a record for account without a deposit. It backs
// deployment-time registration of the initial supply owner; the deployer
// pays for that storage out of band.
func (r *Registry) Bootstrap(st storage.Store, account common.AccountID) {
	if !r.IsRegistered(st, account) {
		r.put(st, account, StorageBalance{Total: r.bounds.Min, Used: r.bounds.Min})
	}
}

// Unregister removes the record of account and returns the escrowed total
// for the caller to pay out. Holdings checks are the caller's concern.
func (r *Registry) Unregister(st storage.Store, account common.AccountID) (common.Amount, error) {
	b, ok := r.Get(st, account)
	if !ok {
		return common.Amount{}, fmt.Errorf("%w: %s", common.ErrNotRegistered, account)
	}
	st.Delete(r.key(account))
	r.log.Info("account unregistered", zap.Stringer("account", account))
	return b.Total, nil
}
