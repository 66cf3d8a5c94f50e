package nonfungible_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/dohalee/token-ledger/common"
	"github.com/dohalee/token-ledger/host"
	"github.com/dohalee/token-ledger/nonfungible"
	"github.com/dohalee/token-ledger/registry"
	"github.com/dohalee/token-ledger/storage"
)

const (
	alice = common.AccountID("alice")
	bob   = common.AccountID("bob")
	carol = common.AccountID("carol")
)

func newRegistry(t *testing.T, maxApprovals int) (*nonfungible.Registry, *registry.Registry, *storage.MemStore) {
	log := zaptest.NewLogger(t)
	reg := registry.New(0x02, registry.Bounds{Min: common.NewAmount(10), Max: common.NewAmount(100)}, log)
	r := nonfungible.New(0x10, 0x11, 0x13, maxApprovals, reg, log)
	st := storage.NewMemStore()
	for _, a := range []common.AccountID{alice, bob, carol} {
		_, err := reg.Register(st, a, common.NewAmount(10))
		require.NoError(t, err)
	}
	return r, reg, st
}

func TestMint(t *testing.T) {
	r, _, st := newRegistry(t, 32)

	tok, err := r.Mint(st, "token-1", alice, &nonfungible.TokenMetadata{Title: "First"})
	require.NoError(t, err)
	require.Equal(t, "token-1", tok.ID)
	require.Equal(t, alice, tok.OwnerID)
	require.Equal(t, uint64(1), tok.NextApprovalID)
	require.Equal(t, uint64(1), r.TotalTokens(st))
	require.Equal(t, uint64(1), r.SupplyForOwner(st, alice))

	_, err = r.Mint(st, "token-1", bob, nil)
	require.ErrorIs(t, err, common.ErrTokenAlreadyExists)

	_, err = r.Mint(st, "", alice, nil)
	require.ErrorIs(t, err, common.ErrInvalidMetadata)
}

func TestTransferByOwner(t *testing.T) {
	r, _, st := newRegistry(t, 32)
	_, err := r.Mint(st, "token-1", alice, nil)
	require.NoError(t, err)

	require.NoError(t, r.Transfer(st, alice, "token-1", bob, nil, "gift"))

	tok, err := r.Get(st, "token-1")
	require.NoError(t, err)
	require.Equal(t, bob, tok.OwnerID)
	require.Empty(t, tok.Approvals)
	require.Zero(t, r.SupplyForOwner(st, alice))
	require.Equal(t, uint64(1), r.SupplyForOwner(st, bob))
}

func TestTransferByApproved(t *testing.T) {
	r, _, st := newRegistry(t, 32)
	_, err := r.Mint(st, "token-1", alice, nil)
	require.NoError(t, err)

	id, err := r.Approve(st, alice, "token-1", bob)
	require.NoError(t, err)

	// an approved sender must present the matching approval id
	err = r.Transfer(st, bob, "token-1", carol, nil, "")
	require.ErrorIs(t, err, common.ErrNotOwnerOrApproved)

	wrong := id + 1
	err = r.Transfer(st, bob, "token-1", carol, &wrong, "")
	require.ErrorIs(t, err, common.ErrNotOwnerOrApproved)

	require.NoError(t, r.Transfer(st, bob, "token-1", carol, &id, ""))
	tok, err := r.Get(st, "token-1")
	require.NoError(t, err)
	require.Equal(t, carol, tok.OwnerID)
}

func TestTransferValidation(t *testing.T) {
	r, _, st := newRegistry(t, 32)
	_, err := r.Mint(st, "token-1", alice, nil)
	require.NoError(t, err)

	err = r.Transfer(st, alice, "token-1", alice, nil, "")
	require.ErrorIs(t, err, common.ErrSelfTransfer)

	err = r.Transfer(st, bob, "token-1", carol, nil, "")
	require.ErrorIs(t, err, common.ErrNotOwnerOrApproved)

	err = r.Transfer(st, alice, "no-such-token", bob, nil, "")
	require.ErrorIs(t, err, common.ErrTokenNotFound)
}

func TestResolveAccepted(t *testing.T) {
	r, _, st := newRegistry(t, 32)
	_, err := r.Mint(st, "token-1", alice, nil)
	require.NoError(t, err)

	prev, restore, err := r.BeginTransferCall(st, alice, "token-1", bob, nil)
	require.NoError(t, err)
	require.Equal(t, alice, prev)

	kept := r.Resolve(st, prev, bob, "token-1", restore, host.Outcome{Success: true, Value: []byte("true")})
	require.True(t, kept)

	tok, err := r.Get(st, "token-1")
	require.NoError(t, err)
	require.Equal(t, bob, tok.OwnerID)
}

func TestResolveDeclinedRollsBack(t *testing.T) {
	r, _, st := newRegistry(t, 32)
	_, err := r.Mint(st, "token-1", alice, nil)
	require.NoError(t, err)
	approvalID, err := r.Approve(st, alice, "token-1", carol)
	require.NoError(t, err)

	prev, restore, err := r.BeginTransferCall(st, alice, "token-1", bob, nil)
	require.NoError(t, err)

	// mid-flight the approvals are cleared
	tok, err := r.Get(st, "token-1")
	require.NoError(t, err)
	require.Empty(t, tok.Approvals)

	kept := r.Resolve(st, prev, bob, "token-1", restore, host.Outcome{Success: true, Value: []byte("false")})
	require.False(t, kept)

	tok, err = r.Get(st, "token-1")
	require.NoError(t, err)
	require.Equal(t, alice, tok.OwnerID)
	require.Equal(t, []nonfungible.Approval{{AccountID: carol, ID: approvalID}}, tok.Approvals)
	require.Equal(t, uint64(1), r.SupplyForOwner(st, alice))
	require.Zero(t, r.SupplyForOwner(st, bob))
}

func TestResolveFailedOutcomeRollsBack(t *testing.T) {
	r, _, st := newRegistry(t, 32)
	_, err := r.Mint(st, "token-1", alice, nil)
	require.NoError(t, err)

	prev, restore, err := r.BeginTransferCall(st, alice, "token-1", bob, nil)
	require.NoError(t, err)

	kept := r.Resolve(st, prev, bob, "token-1", restore, host.Outcome{})
	require.False(t, kept)

	tok, err := r.Get(st, "token-1")
	require.NoError(t, err)
	require.Equal(t, alice, tok.OwnerID)
}

func TestResolveDeclinedButReceiverMovedOn(t *testing.T) {
	r, _, st := newRegistry(t, 32)
	_, err := r.Mint(st, "token-1", alice, nil)
	require.NoError(t, err)

	prev, restore, err := r.BeginTransferCall(st, alice, "token-1", bob, nil)
	require.NoError(t, err)

	// the receiver passed the token along before resolution ran
	require.NoError(t, r.Transfer(st, bob, "token-1", carol, nil, ""))

	kept := r.Resolve(st, prev, bob, "token-1", restore, host.Outcome{Success: true, Value: []byte("false")})
	require.True(t, kept, "a token the receiver no longer holds stays put")

	tok, err := r.Get(st, "token-1")
	require.NoError(t, err)
	require.Equal(t, carol, tok.OwnerID)
}

func TestResolveDeclinedButPreviousOwnerGone(t *testing.T) {
	r, reg, st := newRegistry(t, 32)
	_, err := r.Mint(st, "token-1", alice, nil)
	require.NoError(t, err)

	prev, restore, err := r.BeginTransferCall(st, alice, "token-1", bob, nil)
	require.NoError(t, err)

	_, err = reg.Unregister(st, alice)
	require.NoError(t, err)

	kept := r.Resolve(st, prev, bob, "token-1", restore, host.Outcome{Success: true, Value: []byte("false")})
	require.False(t, kept)

	// the token cannot go back to a nonexistent account
	tok, err := r.Get(st, "token-1")
	require.NoError(t, err)
	require.Equal(t, bob, tok.OwnerID)
}

func TestEnumeration(t *testing.T) {
	r, _, st := newRegistry(t, 32)
	for _, id := range []string{"a-1", "b-2", "c-3"} {
		_, err := r.Mint(st, id, alice, nil)
		require.NoError(t, err)
	}
	_, err := r.Mint(st, "d-4", bob, nil)
	require.NoError(t, err)

	require.Equal(t, uint64(4), r.TotalTokens(st))

	all := r.Tokens(st, 0, 0)
	require.Len(t, all, 4)
	require.Equal(t, "a-1", all[0].ID)
	require.Equal(t, "d-4", all[3].ID)

	page := r.Tokens(st, 1, 2)
	require.Len(t, page, 2)
	require.Equal(t, "b-2", page[0].ID)
	require.Equal(t, "c-3", page[1].ID)

	mine := r.TokensForOwner(st, alice, 0, 0)
	require.Len(t, mine, 3)
	require.Equal(t, "a-1", mine[0].ID)

	require.Empty(t, r.TokensForOwner(st, carol, 0, 0))
}
