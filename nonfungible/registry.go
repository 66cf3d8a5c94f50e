// Package nonfungible implements the token registry: unique tokens with a
// single owner each, an owner index for enumeration, and time-limited
// transfer approvals. A token is never destroyed, only reassigned; the
// per-token approval counter is monotonic and approval ids are never reused.
package nonfungible

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/dohalee/token-ledger/common"
	"github.com/dohalee/token-ledger/host"
	"github.com/dohalee/token-ledger/registry"
	"github.com/dohalee/token-ledger/storage"
)

// ownerSep separates the owner from the token id inside owner-index keys.
// It cannot occur in an account identity.
const ownerSep = '/'

// Approval is one grant of transfer rights on a token.
type Approval struct {
	AccountID common.AccountID `json:"account_id"`
	ID        uint64           `json:"approval_id"`
}

// Token is a registered non-fungible token. Approvals are ordered by
// ascending approval id, oldest grant first.
type Token struct {
	ID             string           `json:"token_id"`
	OwnerID        common.AccountID `json:"owner_id"`
	Approvals      []Approval       `json:"approved_account_ids,omitempty"`
	NextApprovalID uint64           `json:"next_approval_id"`
	Metadata       *TokenMetadata   `json:"metadata,omitempty"`
}

// Registry is the token book. All methods operate on the storage overlay of
// the current invocation.
type Registry struct {
	tokenPrefix  byte
	ownerPrefix  byte
	supplyKey    []byte
	maxApprovals int
	reg          *registry.Registry
	log          *zap.Logger
}

// New returns a Registry persisting tokens, the owner index and the token
// counter under the given prefixes. maxApprovals bounds the approval table
// of a single token; the oldest grant is evicted beyond it.
func New(tokenPrefix, ownerPrefix, supplyPrefix byte, maxApprovals int, reg *registry.Registry, log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{
		tokenPrefix:  tokenPrefix,
		ownerPrefix:  ownerPrefix,
		supplyKey:    storage.Key(supplyPrefix),
		maxApprovals: maxApprovals,
		reg:          reg,
		log:          log,
	}
}

func (r *Registry) tokenKey(tokenID string) []byte {
	return storage.Key(r.tokenPrefix, []byte(tokenID))
}

func (r *Registry) ownerKey(owner common.AccountID, tokenID string) []byte {
	return storage.Key(r.ownerPrefix, owner.Bytes(), []byte{ownerSep}, []byte(tokenID))
}

func (r *Registry) ownerScanPrefix(owner common.AccountID) []byte {
	return storage.Key(r.ownerPrefix, owner.Bytes(), []byte{ownerSep})
}

// Get returns the token with the given id.
func (r *Registry) Get(st storage.Store, tokenID string) (*Token, error) {
	raw := st.Get(r.tokenKey(tokenID))
	if raw == nil {
		return nil, fmt.Errorf("%w: %q", common.ErrTokenNotFound, tokenID)
	}
	var t Token
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, fmt.Errorf("%w: %q: %s", common.ErrTokenNotFound, tokenID, err)
	}
	return &t, nil
}

func (r *Registry) put(st storage.Store, t *Token) {
	raw, _ := json.Marshal(t)
	st.Put(r.tokenKey(t.ID), raw)
}

// TotalTokens returns the overall number of minted tokens.
func (r *Registry) TotalTokens(st storage.Store) uint64 {
	raw := st.Get(r.supplyKey)
	if len(raw) != 8 {
		return 0
	}
	return binary.BigEndian.Uint64(raw)
}

func (r *Registry) setTotalTokens(st storage.Store, n uint64) {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], n)
	st.Put(r.supplyKey, buf[:])
}

// Mint registers a new token owned by owner.
func (r *Registry) Mint(st storage.Store, tokenID string, owner common.AccountID, md *TokenMetadata) (*Token, error) {
	if tokenID == "" {
		return nil, fmt.Errorf("%w: empty token id", common.ErrInvalidMetadata)
	}
	if !owner.Valid() {
		return nil, fmt.Errorf("%w: %q", common.ErrInvalidAccount, owner)
	}
	if err := md.Validate(); err != nil {
		return nil, err
	}
	if st.Get(r.tokenKey(tokenID)) != nil {
		return nil, fmt.Errorf("%w: %q", common.ErrTokenAlreadyExists, tokenID)
	}
	t := &Token{ID: tokenID, OwnerID: owner, NextApprovalID: 1, Metadata: md}
	r.put(st, t)
	st.Put(r.ownerKey(owner, tokenID), []byte(tokenID))
	r.setTotalTokens(st, r.TotalTokens(st)+1)
	r.log.Info("token minted",
		zap.String("token_id", tokenID),
		zap.Stringer("owner", owner))
	return t, nil
}

// checkTransfer validates a transfer request and returns the token.
func (r *Registry) checkTransfer(st storage.Store, sender common.AccountID, tokenID string, receiver common.AccountID, approvalID *uint64) (*Token, error) {
	t, err := r.Get(st, tokenID)
	if err != nil {
		return nil, err
	}
	if receiver == t.OwnerID || sender == receiver {
		return nil, fmt.Errorf("%w: token %q", common.ErrSelfTransfer, tokenID)
	}
	if sender == t.OwnerID {
		return t, nil
	}
	if approvalID == nil {
		return nil, fmt.Errorf("%w: %s on token %q", common.ErrNotOwnerOrApproved, sender, tokenID)
	}
	for _, a := range t.Approvals {
		if a.AccountID == sender && a.ID == *approvalID {
			return t, nil
		}
	}
	return nil, fmt.Errorf("%w: %s with approval %d on token %q",
		common.ErrNotOwnerOrApproved, sender, *approvalID, tokenID)
}

// reassign moves t to receiver, clearing all approvals: a new owner starts
// with none. Both sides of the owner index are updated.
func (r *Registry) reassign(st storage.Store, t *Token, receiver common.AccountID) {
	st.Delete(r.ownerKey(t.OwnerID, t.ID))
	st.Put(r.ownerKey(receiver, t.ID), []byte(t.ID))
	t.OwnerID = receiver
	t.Approvals = nil
	r.put(st, t)
}

// Transfer reassigns tokenID from its current owner to receiver. The sender
// must be the owner or hold a matching approval.
func (r *Registry) Transfer(st storage.Store, sender common.AccountID, tokenID string, receiver common.AccountID, approvalID *uint64, memo string) error {
	t, err := r.checkTransfer(st, sender, tokenID, receiver, approvalID)
	if err != nil {
		return err
	}
	prev := t.OwnerID
	r.reassign(st, t, receiver)
	fields := []zap.Field{
		zap.String("token_id", tokenID),
		zap.Stringer("from", prev),
		zap.Stringer("to", receiver),
	}
	if memo != "" {
		fields = append(fields, zap.String("memo", memo))
	}
	r.log.Info("token transferred", fields...)
	return nil
}

// BeginTransferCall performs the pessimistic phase of a transfer-and-notify:
// the token is reassigned to the receiver before the external call runs, and
// the previous owner together with the approval state to reinstate on
// rollback is returned for the pending record.
func (r *Registry) BeginTransferCall(st storage.Store, sender common.AccountID, tokenID string, receiver common.AccountID, approvalID *uint64) (common.AccountID, json.RawMessage, error) {
	t, err := r.checkTransfer(st, sender, tokenID, receiver, approvalID)
	if err != nil {
		return "", nil, err
	}
	prev := t.OwnerID
	restore, _ := json.Marshal(t.Approvals)
	r.reassign(st, t, receiver)
	return prev, restore, nil
}

// OnTransferArgs is the payload of the receiver hook dispatched by a token
// transfer-and-notify call.
type OnTransferArgs struct {
	Sender        common.AccountID `json:"sender_id"`
	PreviousOwner common.AccountID `json:"previous_owner_id"`
	TokenID       string           `json:"token_id"`
	Msg           string           `json:"msg"`
}

// Resolve reconciles a pessimistically executed token transfer against the
// receiver hook's outcome and reports whether the transfer stuck. It never
// fails.
//
// A successful outcome whose value parses as true settles the transfer. Any
// other outcome is a decline: the token goes back to its previous owner and
// the stashed approvals are reinstated — unless the previous owner
// unregistered in the interim (a token cannot be assigned to a nonexistent
// account) or the receiver already moved the token on, in which cases the
// token stays where it is.
func (r *Registry) Resolve(st storage.Store, prevOwner, receiver common.AccountID, tokenID string, restore json.RawMessage, outcome host.Outcome) bool {
	if outcome.Success {
		var accepted bool
		if err := json.Unmarshal(outcome.Value, &accepted); err == nil && accepted {
			r.log.Info("token transfer settled",
				zap.String("token_id", tokenID),
				zap.Stringer("owner", receiver))
			return true
		}
	}

	t, err := r.Get(st, tokenID)
	if err != nil {
		// gone from the registry, nothing to roll back
		return true
	}
	if t.OwnerID != receiver {
		// the receiver moved the token on, the transfer is final
		return true
	}
	if !r.reg.IsRegistered(st, prevOwner) {
		r.log.Info("token transfer declined but previous owner is gone, token stays",
			zap.String("token_id", tokenID),
			zap.Stringer("owner", receiver))
		return false
	}

	r.reassign(st, t, prevOwner)
	var approvals []Approval
	if json.Unmarshal(restore, &approvals) == nil && len(approvals) > 0 {
		t.Approvals = approvals
		r.put(st, t)
	}
	r.log.Info("token transfer rolled back",
		zap.String("token_id", tokenID),
		zap.Stringer("owner", prevOwner))
	return false
}

// SupplyForOwner returns the number of tokens owned by owner.
func (r *Registry) SupplyForOwner(st storage.Store, owner common.AccountID) uint64 {
	var n uint64
	st.Seek(r.ownerScanPrefix(owner), func(_, _ []byte) bool {
		n++
		return true
	})
	return n
}

// TokensForOwner returns tokens owned by owner in token-id order, skipping
// fromIndex entries and returning at most limit of them (limit 0 means no
// bound).
func (r *Registry) TokensForOwner(st storage.Store, owner common.AccountID, fromIndex, limit uint64) []Token {
	return r.collect(st, r.ownerScanPrefix(owner), fromIndex, limit, func(_, value []byte) (*Token, error) {
		return r.Get(st, string(value))
	})
}

// Tokens returns all minted tokens in token-id order with the same paging
// rules as TokensForOwner.
func (r *Registry) Tokens(st storage.Store, fromIndex, limit uint64) []Token {
	return r.collect(st, []byte{r.tokenPrefix}, fromIndex, limit, func(_, value []byte) (*Token, error) {
		var t Token
		if err := json.Unmarshal(value, &t); err != nil {
			return nil, err
		}
		return &t, nil
	})
}

func (r *Registry) collect(st storage.Store, prefix []byte, fromIndex, limit uint64, load func(key, value []byte) (*Token, error)) []Token {
	var (
		out  []Token
		seen uint64
	)
	st.Seek(prefix, func(key, value []byte) bool {
		seen++
		if seen <= fromIndex {
			return true
		}
		t, err := load(key, value)
		if err != nil {
			r.log.Error("corrupt token record", zap.Error(err))
			return true
		}
		out = append(out, *t)
		return limit == 0 || uint64(len(out)) < limit
	})
	return out
}
