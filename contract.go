package tokenledger

import (
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/dohalee/token-ledger/common"
	"github.com/dohalee/token-ledger/fungible"
	"github.com/dohalee/token-ledger/host"
	"github.com/dohalee/token-ledger/nonfungible"
	"github.com/dohalee/token-ledger/registry"
	"github.com/dohalee/token-ledger/rent"
	"github.com/dohalee/token-ledger/settle"
	"github.com/dohalee/token-ledger/storage"

	"github.com/prometheus/client_golang/prometheus"
)

// Storage schema. Every record family lives under its own single-byte key
// prefix; prefixes never overlap.
const (
	prefixSupply      byte = 0x00 // fungible total supply, singleton
	prefixBalance     byte = 0x01 // fungible balance per account
	prefixRegistry    byte = 0x02 // storage-balance record per account
	prefixFTMetadata  byte = 0x03 // fungible metadata, singleton
	prefixToken       byte = 0x10 // token record per token id
	prefixOwnerIndex  byte = 0x11 // owner/token-id index
	prefixNFTMetadata byte = 0x12 // collection metadata, singleton
	prefixTokenSupply byte = 0x13 // minted token counter, singleton
	prefixPending     byte = 0x20 // pending transfer per call id
)

// DeriveBounds computes the storage bounds a deployment with cfg imposes:
// the registration floor covers the largest possible registry record at the
// configured per-byte cost, the ceiling caps the escrow at
// MaxAccountStorageBytes.
func DeriveBounds(cfg Config) (registry.Bounds, error) {
	cost, err := common.ParseAmount(cfg.CostPerByte)
	if err != nil {
		return registry.Bounds{}, fmt.Errorf("cost per byte: %w", err)
	}
	min, err := cost.MulUint64(registry.RecordFootprint(prefixRegistry))
	if err != nil {
		return registry.Bounds{}, fmt.Errorf("registration cost floor: %w", err)
	}
	max, err := cost.MulUint64(cfg.MaxAccountStorageBytes)
	if err != nil {
		return registry.Bounds{}, fmt.Errorf("storage escrow ceiling: %w", err)
	}
	if max.Cmp(min) < 0 {
		return registry.Bounds{}, fmt.Errorf("%w: escrow ceiling %s below registration floor %s",
			common.ErrInvalidAmount, max, min)
	}
	return registry.Bounds{Min: min, Max: max}, nil
}

// Prm groups the construction parameters of a Contract.
type Prm struct {
	// Config is the deployment configuration, see Config.Validate for the
	// invariants.
	Config Config

	// Store is the persistent key-value state. Required.
	Store storage.Store

	// Runtime dispatches external calls and outbound payments. Required.
	Runtime host.Runtime

	// Logger for the ledger core. Defaults to a no-op logger.
	Logger *zap.Logger

	// Metrics is where the ledger registers its counters. A nil value
	// leaves the counters unregistered but functional.
	Metrics prometheus.Registerer

	// OnTokensBurned is invoked whenever tokens are removed from the total
	// supply: a forced unregistration discarding a non-zero balance, or a
	// transfer resolution whose unused portion could not be returned to an
	// unregistered sender. Defaults to a log line.
	OnTokensBurned func(account common.AccountID, amount common.Amount)

	// OnAccountClosed is invoked after an account is unregistered.
	// Defaults to a log line.
	OnAccountClosed func(account common.AccountID)
}

// Contract is a deployed ledger instance. All its methods are entry points
// of the external interface; mutating ones run against a storage overlay
// committed on success and discarded on any error.
type Contract struct {
	contractAccount common.AccountID
	owner           common.AccountID

	store   storage.Store
	runtime host.Runtime
	log     *zap.Logger
	metrics *Metrics

	rent *rent.Accountant
	reg  *registry.Registry
	ft   *fungible.Ledger
	nft  *nonfungible.Registry
	book *settle.Book

	ftMetaKey  []byte
	nftMetaKey []byte

	onTokensBurned  func(account common.AccountID, amount common.Amount)
	onAccountClosed func(account common.AccountID)
}

// New constructs a Contract from prm. On the first construction against an
// empty store it also initializes the ledger: both metadata singletons are
// persisted, the owner account is registered and the entire supply is minted
// to it. Reconstruction over existing state performs no writes.
func New(prm Prm) (*Contract, error) {
	if err := prm.Config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if prm.Store == nil {
		return nil, errors.New("missing store")
	}
	if prm.Runtime == nil {
		return nil, errors.New("missing runtime")
	}

	log := prm.Logger
	if log == nil {
		log = zap.NewNop()
	}

	contractAccount := common.AccountID(prm.Config.ContractAccount)
	owner := common.AccountID(prm.Config.OwnerAccount)
	supply, _ := common.ParseAmount(prm.Config.TotalSupply)
	cost, _ := common.ParseAmount(prm.Config.CostPerByte)

	bounds, err := DeriveBounds(prm.Config)
	if err != nil {
		return nil, err
	}

	accountant := rent.New(cost, prm.Runtime, log)
	reg := registry.New(prefixRegistry, bounds, log)

	c := &Contract{
		contractAccount: contractAccount,
		owner:           owner,
		store:           prm.Store,
		runtime:         prm.Runtime,
		log:             log,
		metrics:         newMetrics(prm.Metrics),
		rent:            accountant,
		reg:             reg,
		ft:              fungible.New(prefixBalance, prefixSupply, reg, log),
		nft:             nonfungible.New(prefixToken, prefixOwnerIndex, prefixTokenSupply, prm.Config.MaxApprovals, reg, log),
		book:            settle.NewBook(prefixPending, log),
		ftMetaKey:       storage.Key(prefixFTMetadata),
		nftMetaKey:      storage.Key(prefixNFTMetadata),
		onTokensBurned:  prm.OnTokensBurned,
		onAccountClosed: prm.OnAccountClosed,
	}
	if c.onTokensBurned == nil {
		c.onTokensBurned = func(account common.AccountID, amount common.Amount) {
			log.Info("tokens burned",
				zap.Stringer("account", account),
				zap.String("amount", amount.String()))
		}
	}
	if c.onAccountClosed == nil {
		c.onAccountClosed = func(account common.AccountID) {
			log.Info("account closed", zap.Stringer("account", account))
		}
	}

	if c.store.Get(c.ftMetaKey) == nil {
		rawFT, _ := json.Marshal(prm.Config.Fungible)
		rawNFT, _ := json.Marshal(prm.Config.NonFungible)
		c.store.Put(c.ftMetaKey, rawFT)
		c.store.Put(c.nftMetaKey, rawNFT)
		c.reg.Bootstrap(c.store, owner)
		c.ft.InitialMint(c.store, owner, supply)
		log.Info("ledger initialized",
			zap.Stringer("owner", owner),
			zap.String("supply", supply.String()),
			zap.String("registration_cost", bounds.Min.String()))
	}
	return c, nil
}

// mutate runs op against a fresh overlay with storage-rent settlement and
// commits on success. On any error nothing reaches the base store.
func (c *Contract) mutate(env host.Env, op func(st storage.Store) error) error {
	ov := storage.NewOverlay(c.store)
	if err := c.rent.Charge(env, ov, func() error { return op(ov) }); err != nil {
		return err
	}
	ov.Commit()
	return nil
}

// mutateDirect is mutate without the rent settlement, for operations whose
// payment economics are their own (the storage-balance family and the
// resolution entries).
func (c *Contract) mutateDirect(op func(st storage.Store) error) error {
	ov := storage.NewOverlay(c.store)
	if err := op(ov); err != nil {
		return err
	}
	ov.Commit()
	return nil
}

// Register creates a storage-balance record for account (the caller when
// nil), escrowing the registration cost floor out of the attached deposit.
// Anything above the floor flows back to the caller.
func (c *Contract) Register(env host.Env, account *common.AccountID) (registry.StorageBalance, error) {
	target := env.Caller()
	if account != nil {
		target = *account
	}
	var (
		bal    registry.StorageBalance
		refund common.Amount
	)
	err := c.mutateDirect(func(st storage.Store) error {
		var err error
		if refund, err = c.reg.Register(st, target, env.AttachedDeposit()); err != nil {
			return err
		}
		bal, _ = c.reg.Get(st, target)
		return nil
	})
	if err != nil {
		return registry.StorageBalance{}, err
	}
	c.rent.Refund(env.Caller(), refund)
	c.metrics.Registrations.Inc()
	return bal, nil
}

// StorageDeposit adds the attached deposit to the storage balance of account
// (the caller when nil), registering it first when absent. The balance is
// capped at the escrow ceiling; with registrationOnly set only registration
// is paid for. The excess flows back to the caller.
func (c *Contract) StorageDeposit(env host.Env, account *common.AccountID, registrationOnly bool) (registry.StorageBalance, error) {
	target := env.Caller()
	if account != nil {
		target = *account
	}
	var (
		bal     registry.StorageBalance
		refund  common.Amount
		created bool
	)
	err := c.mutateDirect(func(st storage.Store) error {
		created = !c.reg.IsRegistered(st, target)
		var err error
		bal, refund, err = c.reg.Deposit(st, target, env.AttachedDeposit(), registrationOnly)
		return err
	})
	if err != nil {
		return registry.StorageBalance{}, err
	}
	c.rent.Refund(env.Caller(), refund)
	if created {
		c.metrics.Registrations.Inc()
	}
	return bal, nil
}

// StorageWithdraw releases amount from the available part of the caller's
// storage balance, or everything available when amount is nil, and pays it
// out to the caller.
func (c *Contract) StorageWithdraw(env host.Env, amount *common.Amount) (registry.StorageBalance, error) {
	caller := env.Caller()
	var (
		bal  registry.StorageBalance
		take common.Amount
	)
	err := c.mutateDirect(func(st storage.Store) error {
		var err error
		bal, take, err = c.reg.Withdraw(st, caller, amount)
		return err
	})
	if err != nil {
		return registry.StorageBalance{}, err
	}
	c.rent.Refund(caller, take)
	return bal, nil
}

// StorageUnregister removes the caller's storage-balance record and pays the
// escrowed total back. It reports whether an account was actually closed; an
// unregistered caller is a no-op, not an error.
//
// A caller still holding a fungible balance fails with
// ErrStillHoldingAssets unless force is set, in which case the balance is
// discarded and subtracted from the total supply. A caller owning tokens
// always fails: tokens are never destroyed implicitly.
func (c *Contract) StorageUnregister(env host.Env, force bool) (bool, error) {
	caller := env.Caller()
	if !c.reg.IsRegistered(c.store, caller) {
		return false, nil
	}
	var escrow, burned common.Amount
	err := c.mutateDirect(func(st storage.Store) error {
		if n := c.nft.SupplyForOwner(st, caller); n > 0 {
			return fmt.Errorf("%w: %s owns %d tokens", common.ErrStillHoldingAssets, caller, n)
		}
		if bal := c.ft.BalanceOf(st, caller); !bal.IsZero() {
			if !force {
				return fmt.Errorf("%w: %s holds %s", common.ErrStillHoldingAssets, caller, bal)
			}
			burned = c.ft.Drop(st, caller)
		}
		var err error
		escrow, err = c.reg.Unregister(st, caller)
		return err
	})
	if err != nil {
		return false, err
	}
	if !burned.IsZero() {
		c.onTokensBurned(caller, burned)
		c.metrics.Burns.Inc()
	}
	c.onAccountClosed(caller)
	c.metrics.Unregistrations.Inc()
	payout, err := escrow.Add(env.AttachedDeposit())
	if err != nil {
		payout = escrow
	}
	c.rent.Refund(caller, payout)
	return true, nil
}

// Transfer moves amount from the caller to receiver.
func (c *Contract) Transfer(env host.Env, receiver common.AccountID, amount common.Amount, memo string) error {
	err := c.mutate(env, func(st storage.Store) error {
		return c.ft.Transfer(st, env.Caller(), receiver, amount, memo)
	})
	if err != nil {
		return err
	}
	c.metrics.Transfers.Inc()
	return nil
}

// TransferCall moves amount from the caller to receiver and notifies the
// receiver's on_transfer hook with msg. The move is committed before the
// hook runs; the mandatory resolution step then settles the transfer at the
// amount the receiver declared used, refunding or burning the rest. It
// returns the finally used amount.
func (c *Contract) TransferCall(env host.Env, receiver common.AccountID, amount common.Amount, memo, msg string) (common.Amount, error) {
	sender := env.Caller()
	var callID string
	err := c.mutate(env, func(st storage.Store) error {
		if err := c.ft.Transfer(st, sender, receiver, amount, memo); err != nil {
			return err
		}
		callID = c.book.Create(st, &settle.PendingTransfer{
			Kind:     settle.KindFungible,
			Sender:   sender,
			Receiver: receiver,
			Amount:   amount,
		})
		return nil
	})
	if err != nil {
		return common.Amount{}, err
	}
	c.metrics.TransferCalls.Inc()

	args, _ := json.Marshal(fungible.OnTransferArgs{Sender: sender, Amount: amount, Msg: msg})
	outcome := c.runtime.CallReceiver(receiver, host.MethodOnTransfer, args)
	return c.ResolveTransfer(host.SelfInvocation(c.contractAccount), callID, outcome)
}

// ResolveTransfer settles the pending fungible transfer identified by callID
// against the receiver hook's outcome and returns the amount the transfer
// finally settled at. Only the contract itself may invoke it; resolution
// itself never fails, but an unknown or already consumed call id does.
func (c *Contract) ResolveTransfer(env host.Env, callID string, outcome host.Outcome) (common.Amount, error) {
	if env.Caller() != c.contractAccount {
		return common.Amount{}, fmt.Errorf("%w: caller %s", common.ErrResolveNotSelf, env.Caller())
	}
	var (
		res    fungible.Resolution
		sender common.AccountID
		freed  common.Amount
	)
	err := c.mutateDirect(func(st storage.Store) error {
		before := st.UsedBytes()
		p, err := c.book.Consume(st, callID, settle.KindFungible)
		if err != nil {
			return err
		}
		sender = p.Sender
		res = c.ft.Resolve(st, p.Sender, p.Receiver, p.Amount, outcome)
		c.book.Close(p, settle.StateSettled)
		if after := st.UsedBytes(); before > after {
			freed, _ = c.rent.CostPerByte().MulUint64(before - after)
		}
		return nil
	})
	if err != nil {
		return common.Amount{}, err
	}
	// the bytes freed by consuming the pending record were paid for by the
	// initiating invocation
	c.rent.Refund(sender, freed)
	if !res.Refunded.IsZero() {
		c.metrics.Refunds.Inc()
	}
	if !res.Burned.IsZero() {
		c.onTokensBurned(sender, res.Burned)
		c.metrics.Burns.Inc()
	}
	return res.Used, nil
}

// Mint registers a new token owned by owner. Only the contract owner may
// mint, and the receiving account must be registered.
func (c *Contract) Mint(env host.Env, tokenID string, owner common.AccountID, md *nonfungible.TokenMetadata) (*nonfungible.Token, error) {
	if env.Caller() != c.owner {
		return nil, fmt.Errorf("%w: %s", common.ErrNotContractOwner, env.Caller())
	}
	var t *nonfungible.Token
	err := c.mutate(env, func(st storage.Store) error {
		if !c.reg.IsRegistered(st, owner) {
			return fmt.Errorf("%w: %s", common.ErrNotRegistered, owner)
		}
		var err error
		t, err = c.nft.Mint(st, tokenID, owner, md)
		return err
	})
	if err != nil {
		return nil, err
	}
	c.metrics.Mints.Inc()
	return t, nil
}

// NFTTransfer reassigns tokenID to receiver. The caller must be the owner or
// hold the approval identified by approvalID, and the receiver must be
// registered.
func (c *Contract) NFTTransfer(env host.Env, receiver common.AccountID, tokenID string, approvalID *uint64, memo string) error {
	return c.mutate(env, func(st storage.Store) error {
		if !c.reg.IsRegistered(st, receiver) {
			return fmt.Errorf("%w: %s", common.ErrReceiverNotRegistered, receiver)
		}
		return c.nft.Transfer(st, env.Caller(), tokenID, receiver, approvalID, memo)
	})
}

// NFTTransferCall reassigns tokenID to receiver and notifies the receiver's
// on_nft_transfer hook with msg. The reassignment is committed before the
// hook runs; the mandatory resolution step rolls it back when the receiver
// declines. It reports whether the receiver kept the token.
func (c *Contract) NFTTransferCall(env host.Env, receiver common.AccountID, tokenID string, approvalID *uint64, memo, msg string) (bool, error) {
	sender := env.Caller()
	var (
		callID string
		args   []byte
	)
	err := c.mutate(env, func(st storage.Store) error {
		if !c.reg.IsRegistered(st, receiver) {
			return fmt.Errorf("%w: %s", common.ErrReceiverNotRegistered, receiver)
		}
		prev, restore, err := c.nft.BeginTransferCall(st, sender, tokenID, receiver, approvalID)
		if err != nil {
			return err
		}
		// Sender of the pending record is the rollback target: the
		// previous owner, not necessarily the approved caller.
		callID = c.book.Create(st, &settle.PendingTransfer{
			Kind:     settle.KindNonFungible,
			Sender:   prev,
			Receiver: receiver,
			TokenID:  tokenID,
			Restore:  restore,
		})
		args, _ = json.Marshal(nonfungible.OnTransferArgs{
			Sender:        sender,
			PreviousOwner: prev,
			TokenID:       tokenID,
			Msg:           msg,
		})
		return nil
	})
	if err != nil {
		return false, err
	}
	c.metrics.TransferCalls.Inc()

	outcome := c.runtime.CallReceiver(receiver, host.MethodOnNFTTransfer, args)
	return c.NFTResolveTransfer(host.SelfInvocation(c.contractAccount), callID, outcome)
}

// NFTResolveTransfer settles the pending token transfer identified by callID
// against the receiver hook's outcome and reports whether the receiver kept
// the token. Only the contract itself may invoke it.
func (c *Contract) NFTResolveTransfer(env host.Env, callID string, outcome host.Outcome) (bool, error) {
	if env.Caller() != c.contractAccount {
		return false, fmt.Errorf("%w: caller %s", common.ErrResolveNotSelf, env.Caller())
	}
	var (
		kept     bool
		refundTo common.AccountID
		freed    common.Amount
	)
	err := c.mutateDirect(func(st storage.Store) error {
		before := st.UsedBytes()
		p, err := c.book.Consume(st, callID, settle.KindNonFungible)
		if err != nil {
			return err
		}
		refundTo = p.Sender
		kept = c.nft.Resolve(st, p.Sender, p.Receiver, p.TokenID, p.Restore, outcome)
		if kept {
			c.book.Close(p, settle.StateSettled)
		} else {
			c.book.Close(p, settle.StateRolledBack)
		}
		if after := st.UsedBytes(); before > after {
			freed, _ = c.rent.CostPerByte().MulUint64(before - after)
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	c.rent.Refund(refundTo, freed)
	if !kept {
		c.metrics.Rollbacks.Inc()
	}
	return kept, nil
}

// Approve grants account the right to transfer tokenID and returns the
// assigned approval id. Only the token owner may call it. When msg is
// non-nil the approved account is notified through its on_approval hook; the
// notification outcome is ignored.
func (c *Contract) Approve(env host.Env, tokenID string, account common.AccountID, msg *string) (uint64, error) {
	var id uint64
	err := c.mutate(env, func(st storage.Store) error {
		var err error
		id, err = c.nft.Approve(st, env.Caller(), tokenID, account)
		return err
	})
	if err != nil {
		return 0, err
	}
	if msg != nil {
		args, _ := json.Marshal(nonfungible.OnApprovalArgs{
			TokenID:    tokenID,
			OwnerID:    env.Caller(),
			ApprovalID: id,
			Msg:        *msg,
		})
		c.runtime.CallReceiver(account, host.MethodOnApproval, args)
	}
	return id, nil
}

// Revoke removes the grant of account on tokenID. Only the token owner may
// call it.
func (c *Contract) Revoke(env host.Env, tokenID string, account common.AccountID) error {
	return c.mutate(env, func(st storage.Store) error {
		return c.nft.Revoke(st, env.Caller(), tokenID, account)
	})
}

// RevokeAll removes every grant on tokenID. Only the token owner may call
// it.
func (c *Contract) RevokeAll(env host.Env, tokenID string) error {
	return c.mutate(env, func(st storage.Store) error {
		return c.nft.RevokeAll(st, env.Caller(), tokenID)
	})
}

// BalanceOf returns the fungible balance of account, zero when absent.
func (c *Contract) BalanceOf(account common.AccountID) common.Amount {
	return c.ft.BalanceOf(c.store, account)
}

// TotalSupply returns the current fungible total supply.
func (c *Contract) TotalSupply() common.Amount {
	return c.ft.TotalSupply(c.store)
}

// TokenByID returns the token with the given id.
func (c *Contract) TokenByID(tokenID string) (*nonfungible.Token, error) {
	return c.nft.Get(c.store, tokenID)
}

// TokensForOwner returns tokens owned by owner in token-id order, skipping
// fromIndex entries and returning at most limit of them (limit 0 means no
// bound).
func (c *Contract) TokensForOwner(owner common.AccountID, fromIndex, limit uint64) []nonfungible.Token {
	return c.nft.TokensForOwner(c.store, owner, fromIndex, limit)
}

// SupplyForOwner returns the number of tokens owned by owner.
func (c *Contract) SupplyForOwner(owner common.AccountID) uint64 {
	return c.nft.SupplyForOwner(c.store, owner)
}

// Tokens returns all minted tokens in token-id order with the same paging
// rules as TokensForOwner.
func (c *Contract) Tokens(fromIndex, limit uint64) []nonfungible.Token {
	return c.nft.Tokens(c.store, fromIndex, limit)
}

// TotalTokens returns the overall number of minted tokens.
func (c *Contract) TotalTokens() uint64 {
	return c.nft.TotalTokens(c.store)
}

// StorageBalanceOf returns the storage balance of account and whether it is
// registered.
func (c *Contract) StorageBalanceOf(account common.AccountID) (registry.StorageBalance, bool) {
	return c.reg.Get(c.store, account)
}

// StorageBalanceBounds returns the registration cost floor and the escrow
// ceiling.
func (c *Contract) StorageBalanceBounds() registry.Bounds {
	return c.reg.Bounds()
}

// Metadata returns the fungible token metadata.
func (c *Contract) Metadata() fungible.Metadata {
	var m fungible.Metadata
	if raw := c.store.Get(c.ftMetaKey); raw != nil {
		if err := json.Unmarshal(raw, &m); err != nil {
			c.log.Error("corrupt fungible metadata record", zap.Error(err))
		}
	}
	return m
}

// NFTMetadata returns the token collection metadata.
func (c *Contract) NFTMetadata() nonfungible.Metadata {
	var m nonfungible.Metadata
	if raw := c.store.Get(c.nftMetaKey); raw != nil {
		if err := json.Unmarshal(raw, &m); err != nil {
			c.log.Error("corrupt collection metadata record", zap.Error(err))
		}
	}
	return m
}

// IsApproved reports whether account holds a grant on tokenID and, when
// approvalID is given, whether it matches.
func (c *Contract) IsApproved(tokenID string, account common.AccountID, approvalID *uint64) (bool, error) {
	return c.nft.IsApproved(c.store, tokenID, account, approvalID)
}
