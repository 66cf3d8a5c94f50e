package nonfungible

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/dohalee/token-ledger/common"
	"github.com/dohalee/token-ledger/storage"
)

// OnApprovalArgs is the payload of the notification dispatched to the
// approved account when the owner attaches a message to an approval.
type OnApprovalArgs struct {
	TokenID    string           `json:"token_id"`
	OwnerID    common.AccountID `json:"owner_id"`
	ApprovalID uint64           `json:"approval_id"`
	Msg        string           `json:"msg"`
}

// Approve grants account the right to transfer tokenID and returns the
// assigned approval id. Only the current owner may call it. Re-approving an
// account replaces its grant with a fresh id.
//
// The approval table of a token is bounded: when a new grant would exceed
// the configured maximum, the entry with the lowest approval id — the oldest
// grant — is evicted. The eviction order is deterministic because the table
// is kept sorted by ascending approval id.
func (r *Registry) Approve(st storage.Store, caller common.AccountID, tokenID string, account common.AccountID) (uint64, error) {
	if !account.Valid() {
		return 0, fmt.Errorf("%w: %q", common.ErrInvalidAccount, account)
	}
	t, err := r.Get(st, tokenID)
	if err != nil {
		return 0, err
	}
	if caller != t.OwnerID {
		return 0, fmt.Errorf("%w: %s on token %q", common.ErrNotTokenOwner, caller, tokenID)
	}

	id := t.NextApprovalID
	t.NextApprovalID++

	for i, a := range t.Approvals {
		if a.AccountID == account {
			t.Approvals = append(t.Approvals[:i], t.Approvals[i+1:]...)
			break
		}
	}
	t.Approvals = append(t.Approvals, Approval{AccountID: account, ID: id})
	if evicted := len(t.Approvals) - r.maxApprovals; r.maxApprovals > 0 && evicted > 0 {
		for _, a := range t.Approvals[:evicted] {
			r.log.Debug("approval evicted",
				zap.String("token_id", tokenID),
				zap.Stringer("account", a.AccountID),
				zap.Uint64("approval_id", a.ID))
		}
		t.Approvals = t.Approvals[evicted:]
	}
	r.put(st, t)
	return id, nil
}

// Revoke removes the grant of account on tokenID. Only the current owner
// may call it; revoking an absent grant is a no-op.
func (r *Registry) Revoke(st storage.Store, caller common.AccountID, tokenID string, account common.AccountID) error {
	t, err := r.Get(st, tokenID)
	if err != nil {
		return err
	}
	if caller != t.OwnerID {
		return fmt.Errorf("%w: %s on token %q", common.ErrNotTokenOwner, caller, tokenID)
	}
	for i, a := range t.Approvals {
		if a.AccountID == account {
			t.Approvals = append(t.Approvals[:i], t.Approvals[i+1:]...)
			r.put(st, t)
			return nil
		}
	}
	return nil
}

// RevokeAll removes every grant on tokenID. Only the current owner may call
// it.
func (r *Registry) RevokeAll(st storage.Store, caller common.AccountID, tokenID string) error {
	t, err := r.Get(st, tokenID)
	if err != nil {
		return err
	}
	if caller != t.OwnerID {
		return fmt.Errorf("%w: %s on token %q", common.ErrNotTokenOwner, caller, tokenID)
	}
	if len(t.Approvals) == 0 {
		return nil
	}
	t.Approvals = nil
	r.put(st, t)
	return nil
}

// IsApproved reports whether account holds a grant on tokenID and, when
// approvalID is given, whether it matches the stored grant.
func (r *Registry) IsApproved(st storage.Store, tokenID string, account common.AccountID, approvalID *uint64) (bool, error) {
	t, err := r.Get(st, tokenID)
	if err != nil {
		return false, err
	}
	for _, a := range t.Approvals {
		if a.AccountID == account {
			return approvalID == nil || a.ID == *approvalID, nil
		}
	}
	return false, nil
}
