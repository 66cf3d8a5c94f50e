package tokenledger_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	tokenledger "github.com/dohalee/token-ledger"
	"github.com/dohalee/token-ledger/common"
	"github.com/dohalee/token-ledger/host"
	"github.com/dohalee/token-ledger/internal/ledgertest"
	"github.com/dohalee/token-ledger/storage"
)

const (
	contractID = common.AccountID("ledger.token")
	ownerID    = common.AccountID("issuer")
	aliceID    = common.AccountID("alice")
	bobID      = common.AccountID("bob")
	marketID   = common.AccountID("market")
)

func testConfig() tokenledger.Config {
	cfg := tokenledger.DefaultConfig()
	cfg.ContractAccount = string(contractID)
	cfg.OwnerAccount = string(ownerID)
	cfg.TotalSupply = "1000000"
	cfg.CostPerByte = "1"
	cfg.Fungible.Name = "Example Token"
	cfg.Fungible.Symbol = "EXT"
	cfg.Fungible.Decimals = 18
	cfg.NonFungible.Name = "Example Collection"
	cfg.NonFungible.Symbol = "EXC"
	return cfg
}

func newContract(t *testing.T) (*tokenledger.Contract, *ledgertest.Runtime) {
	rt := ledgertest.NewRuntime()
	c, err := tokenledger.New(tokenledger.Prm{
		Config:  testConfig(),
		Store:   storage.NewMemStore(),
		Runtime: rt,
		Logger:  zaptest.NewLogger(t),
	})
	require.NoError(t, err)
	return c, rt
}

func env(caller common.AccountID, deposit common.Amount) ledgertest.Env {
	return ledgertest.Env{CallerID: caller, Contract: contractID, Deposit: deposit}
}

// rentDeposit comfortably covers the storage growth of any single operation
// at the test cost of 1 per byte.
func rentDeposit() common.Amount {
	return common.NewAmount(4096)
}

func register(t *testing.T, c *tokenledger.Contract, account common.AccountID) {
	min := c.StorageBalanceBounds().Min
	_, err := c.Register(env(account, min), nil)
	require.NoError(t, err)
}

func TestNewInitializesLedgerOnce(t *testing.T) {
	rt := ledgertest.NewRuntime()
	st := storage.NewMemStore()
	cfg := testConfig()

	c, err := tokenledger.New(tokenledger.Prm{
		Config: cfg, Store: st, Runtime: rt, Logger: zaptest.NewLogger(t),
	})
	require.NoError(t, err)

	supply, _ := common.ParseAmount(cfg.TotalSupply)
	require.Equal(t, supply, c.TotalSupply())
	require.Equal(t, supply, c.BalanceOf(ownerID))

	_, registered := c.StorageBalanceOf(ownerID)
	require.True(t, registered)

	md := c.Metadata()
	require.Equal(t, "EXT", md.Symbol)
	require.Equal(t, uint8(18), md.Decimals)
	require.Equal(t, "EXC", c.NFTMetadata().Symbol)

	bounds := c.StorageBalanceBounds()
	require.False(t, bounds.Min.IsZero())
	require.True(t, bounds.Min.Cmp(bounds.Max) <= 0)

	// reconstruction over existing state performs no writes
	cfg.TotalSupply = "5"
	c2, err := tokenledger.New(tokenledger.Prm{
		Config: cfg, Store: st, Runtime: rt, Logger: zaptest.NewLogger(t),
	})
	require.NoError(t, err)
	require.Equal(t, supply, c2.TotalSupply())
}

func TestNewRejectsBadPrm(t *testing.T) {
	rt := ledgertest.NewRuntime()

	cfg := testConfig()
	cfg.OwnerAccount = "Not Valid"
	_, err := tokenledger.New(tokenledger.Prm{Config: cfg, Store: storage.NewMemStore(), Runtime: rt})
	require.ErrorIs(t, err, common.ErrInvalidAccount)

	_, err = tokenledger.New(tokenledger.Prm{Config: testConfig(), Runtime: rt})
	require.Error(t, err)

	_, err = tokenledger.New(tokenledger.Prm{Config: testConfig(), Store: storage.NewMemStore()})
	require.Error(t, err)
}

func TestRegisterRefundsExcess(t *testing.T) {
	c, rt := newContract(t)
	min := c.StorageBalanceBounds().Min

	extra := common.NewAmount(77)
	deposit, _ := min.Add(extra)
	bal, err := c.Register(env(aliceID, deposit), nil)
	require.NoError(t, err)
	require.Equal(t, min, bal.Total)
	require.Equal(t, extra, rt.PaidTo(aliceID), "only the floor is escrowed")

	_, err = c.Register(env(aliceID, deposit), nil)
	require.ErrorIs(t, err, common.ErrAlreadyRegistered)
}

func TestRegisterBelowMinimumFails(t *testing.T) {
	c, rt := newContract(t)
	min := c.StorageBalanceBounds().Min
	low, _ := min.Sub(common.NewAmount(1))

	_, err := c.Register(env(aliceID, low), nil)
	require.ErrorIs(t, err, common.ErrInsufficientStorageDeposit)

	_, registered := c.StorageBalanceOf(aliceID)
	require.False(t, registered)
	require.Empty(t, rt.Payments)
}

func TestRegisterOnBehalf(t *testing.T) {
	c, _ := newContract(t)
	min := c.StorageBalanceBounds().Min

	target := bobID
	_, err := c.Register(env(aliceID, min), &target)
	require.NoError(t, err)

	_, registered := c.StorageBalanceOf(bobID)
	require.True(t, registered)
}

func TestStorageDepositAndWithdraw(t *testing.T) {
	c, rt := newContract(t)
	register(t, c, aliceID)

	bal, err := c.StorageDeposit(env(aliceID, common.NewAmount(500)), nil, false)
	require.NoError(t, err)
	require.Equal(t, common.NewAmount(500), bal.Available())

	// registration-only on a registered account refunds everything
	paidBefore := rt.PaidTo(aliceID)
	bal, err = c.StorageDeposit(env(aliceID, common.NewAmount(300)), nil, true)
	require.NoError(t, err)
	require.Equal(t, common.NewAmount(500), bal.Available())
	wantPaid, _ := paidBefore.Add(common.NewAmount(300))
	require.Equal(t, wantPaid, rt.PaidTo(aliceID))

	bal, err = c.StorageWithdraw(env(aliceID, common.Amount{}), nil)
	require.NoError(t, err)
	require.True(t, bal.Available().IsZero())
	wantPaid, _ = wantPaid.Add(common.NewAmount(500))
	require.Equal(t, wantPaid, rt.PaidTo(aliceID))
}

func TestUnregisterReturnsEscrow(t *testing.T) {
	c, rt := newContract(t)
	register(t, c, aliceID)
	min := c.StorageBalanceBounds().Min

	closed, err := c.StorageUnregister(env(aliceID, common.Amount{}), false)
	require.NoError(t, err)
	require.True(t, closed)
	require.Equal(t, min, rt.PaidTo(aliceID), "the full escrow flows back")

	_, registered := c.StorageBalanceOf(aliceID)
	require.False(t, registered)

	// an unregistered caller is a no-op
	closed, err = c.StorageUnregister(env(aliceID, common.Amount{}), false)
	require.NoError(t, err)
	require.False(t, closed)
}

func TestUnregisterWithBalance(t *testing.T) {
	var (
		burnedFrom common.AccountID
		burned     common.Amount
		closed     common.AccountID
	)
	rt := ledgertest.NewRuntime()
	c, err := tokenledger.New(tokenledger.Prm{
		Config:  testConfig(),
		Store:   storage.NewMemStore(),
		Runtime: rt,
		Logger:  zaptest.NewLogger(t),
		OnTokensBurned: func(account common.AccountID, amount common.Amount) {
			burnedFrom, burned = account, amount
		},
		OnAccountClosed: func(account common.AccountID) { closed = account },
	})
	require.NoError(t, err)

	register(t, c, bobID)
	require.NoError(t, c.Transfer(env(ownerID, rentDeposit()), bobID, common.NewAmount(50), ""))
	supplyBefore := c.TotalSupply()

	_, err = c.StorageUnregister(env(bobID, common.Amount{}), false)
	require.ErrorIs(t, err, common.ErrStillHoldingAssets)
	require.True(t, common.IsState(err))

	ok, err := c.StorageUnregister(env(bobID, common.Amount{}), true)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, bobID, burnedFrom)
	require.Equal(t, common.NewAmount(50), burned)
	require.Equal(t, bobID, closed)

	wantSupply, _ := supplyBefore.Sub(common.NewAmount(50))
	require.Equal(t, wantSupply, c.TotalSupply())
}

func TestUnregisterWithTokensAlwaysFails(t *testing.T) {
	c, _ := newContract(t)
	register(t, c, bobID)
	_, err := c.Mint(env(ownerID, rentDeposit()), "token-1", bobID, nil)
	require.NoError(t, err)

	for _, force := range []bool{false, true} {
		_, err := c.StorageUnregister(env(bobID, common.Amount{}), force)
		require.ErrorIs(t, err, common.ErrStillHoldingAssets)
	}
	require.Equal(t, uint64(1), c.SupplyForOwner(bobID))
}

func TestTransfer(t *testing.T) {
	c, _ := newContract(t)
	register(t, c, aliceID)

	require.NoError(t, c.Transfer(env(ownerID, rentDeposit()), aliceID, common.NewAmount(100), "seed"))
	require.Equal(t, common.NewAmount(100), c.BalanceOf(aliceID))

	err := c.Transfer(env(aliceID, rentDeposit()), bobID, common.NewAmount(1), "")
	require.ErrorIs(t, err, common.ErrReceiverNotRegistered)
	require.Equal(t, common.NewAmount(100), c.BalanceOf(aliceID), "a failed transfer leaves no trace")
}

func TestTransferCallPartialUse(t *testing.T) {
	c, rt := newContract(t)
	register(t, c, aliceID)
	register(t, c, marketID)
	require.NoError(t, c.Transfer(env(ownerID, rentDeposit()), aliceID, common.NewAmount(100), ""))

	// the market consumes 40 of the 100 it was offered
	rt.Receivers[marketID] = ledgertest.Accepting(`"40"`)

	used, err := c.TransferCall(env(aliceID, rentDeposit()), marketID, common.NewAmount(100), "", "order 17")
	require.NoError(t, err)
	require.Equal(t, common.NewAmount(40), used)
	require.Equal(t, common.NewAmount(60), c.BalanceOf(aliceID))
	require.Equal(t, common.NewAmount(40), c.BalanceOf(marketID))

	supply, _ := common.ParseAmount(testConfig().TotalSupply)
	require.Equal(t, supply, c.TotalSupply(), "partial use conserves supply")
}

func TestTransferCallBurnsWhenSenderUnregistersMidFlight(t *testing.T) {
	var (
		burnedFrom common.AccountID
		burned     common.Amount
	)
	rt := ledgertest.NewRuntime()
	c, err := tokenledger.New(tokenledger.Prm{
		Config:  testConfig(),
		Store:   storage.NewMemStore(),
		Runtime: rt,
		Logger:  zaptest.NewLogger(t),
		OnTokensBurned: func(account common.AccountID, amount common.Amount) {
			burnedFrom, burned = account, amount
		},
	})
	require.NoError(t, err)

	register(t, c, aliceID)
	register(t, c, marketID)
	require.NoError(t, c.Transfer(env(ownerID, rentDeposit()), aliceID, common.NewAmount(100), ""))
	supplyBefore := c.TotalSupply()

	// the market uses 40 and unregisters alice before resolution runs; her
	// balance is zero mid-flight, so the plain unregister succeeds
	rt.Receivers[marketID] = func(method string, args []byte) host.Outcome {
		ok, err := c.StorageUnregister(env(aliceID, common.Amount{}), false)
		require.NoError(t, err)
		require.True(t, ok)
		return host.Outcome{Success: true, Value: []byte(`"40"`)}
	}

	used, err := c.TransferCall(env(aliceID, rentDeposit()), marketID, common.NewAmount(100), "", "")
	require.NoError(t, err)
	require.Equal(t, common.NewAmount(40), used)

	// the unused 60 has no registered sender to return to
	require.Equal(t, aliceID, burnedFrom)
	require.Equal(t, common.NewAmount(60), burned)
	wantSupply, _ := supplyBefore.Sub(common.NewAmount(60))
	require.Equal(t, wantSupply, c.TotalSupply())
}

func TestTransferCallReceiverObservesMovedFunds(t *testing.T) {
	c, rt := newContract(t)
	register(t, c, aliceID)
	register(t, c, marketID)
	require.NoError(t, c.Transfer(env(ownerID, rentDeposit()), aliceID, common.NewAmount(100), ""))

	// the debit is durable before the hook runs
	var observed common.Amount
	rt.Receivers[marketID] = func(method string, args []byte) host.Outcome {
		require.Equal(t, host.MethodOnTransfer, method)
		observed = c.BalanceOf(marketID)
		return host.Outcome{Success: true, Value: []byte(`"100"`)}
	}

	used, err := c.TransferCall(env(aliceID, rentDeposit()), marketID, common.NewAmount(100), "", "")
	require.NoError(t, err)
	require.Equal(t, common.NewAmount(100), used)
	require.Equal(t, common.NewAmount(100), observed)
}

func TestTransferCallFailedHookRefundsAll(t *testing.T) {
	c, rt := newContract(t)
	register(t, c, aliceID)
	register(t, c, marketID)
	require.NoError(t, c.Transfer(env(ownerID, rentDeposit()), aliceID, common.NewAmount(100), ""))

	rt.Receivers[marketID] = ledgertest.Failing()

	used, err := c.TransferCall(env(aliceID, rentDeposit()), marketID, common.NewAmount(100), "", "")
	require.NoError(t, err)
	require.True(t, used.IsZero())
	require.Equal(t, common.NewAmount(100), c.BalanceOf(aliceID))
	require.True(t, c.BalanceOf(marketID).IsZero())
}

func TestTransferCallToAccountWithoutCode(t *testing.T) {
	c, _ := newContract(t)
	register(t, c, aliceID)
	register(t, c, bobID)
	require.NoError(t, c.Transfer(env(ownerID, rentDeposit()), aliceID, common.NewAmount(100), ""))

	// no handler registered for bob: the dispatch fails, everything flows
	// back
	used, err := c.TransferCall(env(aliceID, rentDeposit()), bobID, common.NewAmount(100), "", "")
	require.NoError(t, err)
	require.True(t, used.IsZero())
	require.Equal(t, common.NewAmount(100), c.BalanceOf(aliceID))
}

func TestResolveTransferIsSelfOnly(t *testing.T) {
	c, _ := newContract(t)

	_, err := c.ResolveTransfer(env(aliceID, common.Amount{}), "some-call", host.Outcome{})
	require.ErrorIs(t, err, common.ErrResolveNotSelf)
	require.True(t, common.IsAuthorization(err))

	_, err = c.NFTResolveTransfer(env(aliceID, common.Amount{}), "some-call", host.Outcome{})
	require.ErrorIs(t, err, common.ErrResolveNotSelf)

	// even the contract cannot settle a call that does not exist
	_, err = c.ResolveTransfer(env(contractID, common.Amount{}), "no-such-call", host.Outcome{})
	require.ErrorIs(t, err, common.ErrPendingNotFound)
}

func TestMint(t *testing.T) {
	c, _ := newContract(t)
	register(t, c, aliceID)

	tok, err := c.Mint(env(ownerID, rentDeposit()), "token-1", aliceID, nil)
	require.NoError(t, err)
	require.Equal(t, aliceID, tok.OwnerID)
	require.Equal(t, uint64(1), c.TotalTokens())

	_, err = c.Mint(env(aliceID, rentDeposit()), "token-2", aliceID, nil)
	require.ErrorIs(t, err, common.ErrNotContractOwner)

	_, err = c.Mint(env(ownerID, rentDeposit()), "token-2", bobID, nil)
	require.ErrorIs(t, err, common.ErrNotRegistered)
}

func TestNFTTransfer(t *testing.T) {
	c, _ := newContract(t)
	register(t, c, aliceID)
	register(t, c, bobID)
	_, err := c.Mint(env(ownerID, rentDeposit()), "token-1", aliceID, nil)
	require.NoError(t, err)

	require.NoError(t, c.NFTTransfer(env(aliceID, rentDeposit()), bobID, "token-1", nil, ""))
	tok, err := c.TokenByID("token-1")
	require.NoError(t, err)
	require.Equal(t, bobID, tok.OwnerID)

	err = c.NFTTransfer(env(bobID, rentDeposit()), "ghost", "token-1", nil, "")
	require.ErrorIs(t, err, common.ErrReceiverNotRegistered)
}

func TestNFTTransferCallAccepted(t *testing.T) {
	c, rt := newContract(t)
	register(t, c, aliceID)
	register(t, c, marketID)
	_, err := c.Mint(env(ownerID, rentDeposit()), "token-1", aliceID, nil)
	require.NoError(t, err)

	rt.Receivers[marketID] = ledgertest.Accepting("true")

	kept, err := c.NFTTransferCall(env(aliceID, rentDeposit()), marketID, "token-1", nil, "", "listing")
	require.NoError(t, err)
	require.True(t, kept)

	tok, err := c.TokenByID("token-1")
	require.NoError(t, err)
	require.Equal(t, marketID, tok.OwnerID)
}

func TestNFTTransferCallDeclined(t *testing.T) {
	c, rt := newContract(t)
	register(t, c, aliceID)
	register(t, c, marketID)
	_, err := c.Mint(env(ownerID, rentDeposit()), "token-1", aliceID, nil)
	require.NoError(t, err)
	_, err = c.Approve(env(aliceID, rentDeposit()), "token-1", bobID, nil)
	require.NoError(t, err)

	rt.Receivers[marketID] = ledgertest.Accepting("false")

	kept, err := c.NFTTransferCall(env(aliceID, rentDeposit()), marketID, "token-1", nil, "", "")
	require.NoError(t, err)
	require.False(t, kept)

	// the token went back together with its approvals
	tok, err := c.TokenByID("token-1")
	require.NoError(t, err)
	require.Equal(t, aliceID, tok.OwnerID)
	ok, err := c.IsApproved("token-1", bobID, nil)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestApproveNotifies(t *testing.T) {
	c, rt := newContract(t)
	register(t, c, aliceID)
	_, err := c.Mint(env(ownerID, rentDeposit()), "token-1", aliceID, nil)
	require.NoError(t, err)

	var gotMethod string
	var gotArgs []byte
	rt.Receivers[bobID] = func(method string, args []byte) host.Outcome {
		gotMethod, gotArgs = method, args
		return host.Outcome{Success: true}
	}

	// without a message no notification goes out
	id, err := c.Approve(env(aliceID, rentDeposit()), "token-1", bobID, nil)
	require.NoError(t, err)
	require.Equal(t, uint64(1), id)
	require.Empty(t, gotMethod)

	msg := "sale pending"
	id, err = c.Approve(env(aliceID, rentDeposit()), "token-1", bobID, &msg)
	require.NoError(t, err)
	require.Equal(t, uint64(2), id)
	require.Equal(t, host.MethodOnApproval, gotMethod)
	require.Contains(t, string(gotArgs), `"approval_id":2`)
	require.Contains(t, string(gotArgs), "sale pending")
}

func TestRevoke(t *testing.T) {
	c, _ := newContract(t)
	register(t, c, aliceID)
	_, err := c.Mint(env(ownerID, rentDeposit()), "token-1", aliceID, nil)
	require.NoError(t, err)
	_, err = c.Approve(env(aliceID, rentDeposit()), "token-1", bobID, nil)
	require.NoError(t, err)
	_, err = c.Approve(env(aliceID, rentDeposit()), "token-1", marketID, nil)
	require.NoError(t, err)

	require.NoError(t, c.Revoke(env(aliceID, rentDeposit()), "token-1", bobID))
	ok, err := c.IsApproved("token-1", bobID, nil)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, c.RevokeAll(env(aliceID, rentDeposit()), "token-1"))
	ok, err = c.IsApproved("token-1", marketID, nil)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestEnumerationQueries(t *testing.T) {
	c, _ := newContract(t)
	register(t, c, aliceID)
	register(t, c, bobID)
	for _, id := range []string{"a-1", "b-2", "c-3"} {
		_, err := c.Mint(env(ownerID, rentDeposit()), id, aliceID, nil)
		require.NoError(t, err)
	}
	_, err := c.Mint(env(ownerID, rentDeposit()), "d-4", bobID, nil)
	require.NoError(t, err)

	require.Equal(t, uint64(4), c.TotalTokens())
	require.Equal(t, uint64(3), c.SupplyForOwner(aliceID))
	require.Len(t, c.Tokens(0, 0), 4)
	require.Len(t, c.Tokens(2, 0), 2)
	require.Len(t, c.TokensForOwner(aliceID, 1, 1), 1)
}
