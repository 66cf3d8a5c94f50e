// Package settle implements the two-phase settlement protocol shared by the
// fungible and non-fungible ledgers.
//
// A transfer-and-notify operation moves the asset first, durably, and only
// then dispatches the external receiver hook; the resolution step always
// runs afterwards and reconciles the optimistic move against the hook's
// reported outcome. The book below keeps exactly one pending record per
// in-flight call, keyed by the call's identity, and a record is consumed
// exactly once.
package settle

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dohalee/token-ledger/common"
	"github.com/dohalee/token-ledger/storage"
)

// Kind discriminates what a pending transfer moves.
type Kind byte

const (
	// KindFungible marks a pending fungible transfer.
	KindFungible Kind = iota + 1
	// KindNonFungible marks a pending token transfer.
	KindNonFungible
)

// State of a pending transfer. A record is created in StateAwaiting (the
// asset is already moved by then) and leaves the book when resolution
// consumes it; Close stamps the terminal state on the consumed record and
// logs it.
type State string

const (
	StateAwaiting   State = "awaiting_external_call"
	StateSettled    State = "settled"
	StateRolledBack State = "rolled_back"
)

// PendingTransfer is the transient record of one in-flight
// transfer-and-notify chain. It is never visible to external queries.
type PendingTransfer struct {
	CallID   string           `json:"call_id"`
	Kind     Kind             `json:"kind"`
	Sender   common.AccountID `json:"sender"`
	Receiver common.AccountID `json:"receiver"`
	State    State            `json:"state"`

	// Amount is set for fungible transfers.
	Amount common.Amount `json:"amount,omitempty"`

	// TokenID and Restore are set for non-fungible transfers; Restore
	// carries the approval state to reinstate on rollback.
	TokenID string          `json:"token_id,omitempty"`
	Restore json.RawMessage `json:"restore,omitempty"`
}

// Book persists pending transfers under a dedicated key prefix.
type Book struct {
	prefix byte
	log    *zap.Logger
}

// NewBook returns a Book storing records under prefix.
func NewBook(prefix byte, log *zap.Logger) *Book {
	if log == nil {
		log = zap.NewNop()
	}
	return &Book{prefix: prefix, log: log}
}

func (b *Book) key(callID string) []byte {
	return storage.Key(b.prefix, []byte(callID))
}

// Create assigns p a fresh call identity, persists it in StateAwaiting and
// returns the call id. It runs inside the initiating invocation's overlay,
// so the record is committed together with the phase-1 asset move, before
// the external call executes.
func (b *Book) Create(st storage.Store, p *PendingTransfer) string {
	p.CallID = uuid.NewString()
	p.State = StateAwaiting
	raw, _ := json.Marshal(p)
	st.Put(b.key(p.CallID), raw)
	b.log.Debug("pending transfer created",
		zap.String("call_id", p.CallID),
		zap.Stringer("sender", p.Sender),
		zap.Stringer("receiver", p.Receiver))
	return p.CallID
}

// Consume loads and removes the pending transfer keyed by callID. A missing
// record, a malformed record or a kind mismatch all report
// ErrPendingNotFound: resolution can run once and only once per record, and
// a spoofed or replayed call id settles nothing.
func (b *Book) Consume(st storage.Store, callID string, kind Kind) (*PendingTransfer, error) {
	key := b.key(callID)
	raw := st.Get(key)
	if raw == nil {
		return nil, fmt.Errorf("%w: call %s", common.ErrPendingNotFound, callID)
	}
	var p PendingTransfer
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("%w: call %s: %s", common.ErrPendingNotFound, callID, err)
	}
	if p.Kind != kind {
		return nil, fmt.Errorf("%w: call %s resolved as wrong kind", common.ErrPendingNotFound, callID)
	}
	st.Delete(key)
	return &p, nil
}

// Close stamps the terminal state on a consumed record. The record is gone
// from storage by then; the stamp feeds the log trail only.
func (b *Book) Close(p *PendingTransfer, state State) {
	p.State = state
	b.log.Debug("pending transfer closed",
		zap.String("call_id", p.CallID),
		zap.String("state", string(state)))
}
