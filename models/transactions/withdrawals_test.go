package transactions

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/lightningnetwork/lnd/lnrpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"gitlab.com/arcanecrypto/lnaccounts/apierr"
	"gitlab.com/arcanecrypto/lnaccounts/models/wallets"
	"gitlab.com/arcanecrypto/lnaccounts/testutil/lntestutil"
	"gitlab.com/arcanecrypto/lnaccounts/testutil/walletstestutil"
)

func TestPayWithdrawalInvoice(t *testing.T) {
	t.Run("debits amount plus fee on success", func(t *testing.T) {
		payReq := lntestutil.MockPayReq(100)
		mock := lntestutil.GetLightningMockClient()
		mock.DecodePayReqResponse = payReq
		engine, _ := newTestEngine(t, mock, EngineConfig{})
		wallet := walletstestutil.CreateWalletWithBalanceOrFail(t, testDB, 500)

		txn, err := engine.PayWithdrawalInvoice(
			wallet.UserID, "lnbcrt100n1", "rent")
		require.NoError(t, err)

		assert.Equal(t, Withdraw, txn.Type)
		assert.Equal(t, int64(100), txn.AmountSat)
		assert.Equal(t, int64(5), txn.FeeSat)
		assert.Equal(t, StateSettled, txn.State())
		require.NotNil(t, txn.Invoice)
		assert.Equal(t, payReq.PaymentHash, txn.Invoice.ID)

		found, err := wallets.GetByID(testDB, wallet.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(395), found.BalanceSat)
	})

	t.Run("drains wallet on zero-value invoice", func(t *testing.T) {
		mock := lntestutil.GetLightningMockClient()
		mock.DecodePayReqResponse = lntestutil.MockPayReq(0)
		engine, _ := newTestEngine(t, mock, EngineConfig{})
		wallet := walletstestutil.CreateWalletWithBalanceOrFail(t, testDB, 1000)

		txn, err := engine.PayWithdrawalInvoice(wallet.UserID, "lnbcrt1", "")
		require.NoError(t, err)

		assert.Equal(t, int64(950), txn.AmountSat)
		assert.Equal(t, int64(48), txn.FeeSat)

		found, err := wallets.GetByID(testDB, wallet.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(2), found.BalanceSat)
	})

	t.Run("rejects balance too low for amount plus fee", func(t *testing.T) {
		mock := lntestutil.GetLightningMockClient()
		mock.DecodePayReqResponse = lntestutil.MockPayReq(100)
		engine, _ := newTestEngine(t, mock, EngineConfig{})
		wallet := walletstestutil.CreateWalletWithBalanceOrFail(t, testDB, 104)

		_, err := engine.PayWithdrawalInvoice(wallet.UserID, "lnbcrt100n1", "")
		assert.True(t, errors.Is(err, apierr.ErrBalanceTooLowForFee))

		found, err := wallets.GetByID(testDB, wallet.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(104), found.BalanceSat)

		txns, err := GetByWalletID(testDB, wallet.ID)
		require.NoError(t, err)
		assert.Empty(t, txns)
	})

	t.Run("rolls back debit on payment failure", func(t *testing.T) {
		mock := lntestutil.GetLightningMockClient()
		mock.DecodePayReqResponse = lntestutil.MockPayReq(200)
		mock.SendPaymentSyncResponse = lnrpc.SendResponse{
			PaymentError: "unable to find a path to destination",
		}
		engine, _ := newTestEngine(t, mock, EngineConfig{})
		wallet := walletstestutil.CreateWalletWithBalanceOrFail(t, testDB, 500)

		_, err := engine.PayWithdrawalInvoice(wallet.UserID, "lnbcrt200n1", "")
		assert.True(t, errors.Is(err, apierr.ErrPaymentFailed))

		found, err := wallets.GetByID(testDB, wallet.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(500), found.BalanceSat)

		txns, err := GetByWalletID(testDB, wallet.ID)
		require.NoError(t, err)
		assert.Empty(t, txns, "rolled back withdrawal must not leave a row")
	})

	t.Run("settles when timeout resolves to confirmed", func(t *testing.T) {
		payReq := lntestutil.MockPayReq(150)
		mock := lntestutil.GetLightningMockClient()
		mock.DecodePayReqResponse = payReq
		mock.SendPaymentSyncFunc = func(ctx context.Context,
			in *lnrpc.SendRequest) (*lnrpc.SendResponse, error) {
			return nil, status.Error(codes.DeadlineExceeded,
				"context deadline exceeded")
		}
		settled := lntestutil.MockInvoice(150)
		settled.Settled = true
		mock.LookupInvoiceFunc = func(ctx context.Context,
			in *lnrpc.PaymentHash) (*lnrpc.Invoice, error) {
			return &settled, nil
		}
		engine, _ := newTestEngine(t, mock, EngineConfig{})
		wallet := walletstestutil.CreateWalletWithBalanceOrFail(t, testDB, 500)

		txn, err := engine.PayWithdrawalInvoice(wallet.UserID, "lnbcrt150n1", "")
		require.NoError(t, err)
		assert.Equal(t, StateSettled, txn.State())

		found, err := wallets.GetByID(testDB, wallet.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(500-150-8), found.BalanceSat)
	})

	t.Run("keeps debit when timeout stays unresolved", func(t *testing.T) {
		payReq := lntestutil.MockPayReq(150)
		mock := lntestutil.GetLightningMockClient()
		mock.DecodePayReqResponse = payReq
		mock.SendPaymentSyncFunc = func(ctx context.Context,
			in *lnrpc.SendRequest) (*lnrpc.SendResponse, error) {
			return nil, status.Error(codes.DeadlineExceeded,
				"context deadline exceeded")
		}
		unsettled := lntestutil.MockInvoice(150)
		mock.LookupInvoiceFunc = func(ctx context.Context,
			in *lnrpc.PaymentHash) (*lnrpc.Invoice, error) {
			return &unsettled, nil
		}
		engine, _ := newTestEngine(t, mock, EngineConfig{})
		wallet := walletstestutil.CreateWalletWithBalanceOrFail(t, testDB, 500)

		txn, err := engine.PayWithdrawalInvoice(wallet.UserID, "lnbcrt150n1", "")
		assert.True(t, errors.Is(err, apierr.ErrPaymentTimeout))
		assert.Equal(t, StateApplied, txn.State())

		// the debit is held until the sweep settles or reverts it
		found, err := wallets.GetByID(testDB, wallet.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(500-150-8), found.BalanceSat)

		inconsistent, err := ListInconsistent(testDB)
		require.NoError(t, err)
		ids := make([]int, 0, len(inconsistent))
		for _, row := range inconsistent {
			ids = append(ids, row.ID)
		}
		assert.Contains(t, ids, txn.ID)
	})

	t.Run("rejects disabled wallet", func(t *testing.T) {
		mock := lntestutil.GetLightningMockClient()
		engine, _ := newTestEngine(t, mock, EngineConfig{})
		wallet := walletstestutil.CreateWalletWithBalanceOrFail(t, testDB, 500)
		_, err := wallets.SetDisabled(testDB, wallet.ID, true)
		require.NoError(t, err)

		_, err = engine.PayWithdrawalInvoice(wallet.UserID, "lnbcrt1", "")
		assert.True(t, errors.Is(err, apierr.ErrWalletDisabled))
	})

	t.Run("rejects busy wallet", func(t *testing.T) {
		mock := lntestutil.GetLightningMockClient()
		engine, locks := newTestEngine(t, mock, EngineConfig{})
		wallet := walletstestutil.CreateWalletWithBalanceOrFail(t, testDB, 500)

		require.True(t, locks.TryAcquire(wallet.ID))
		defer locks.Release(wallet.ID)

		_, err := engine.PayWithdrawalInvoice(wallet.UserID, "lnbcrt1", "")
		assert.True(t, errors.Is(err, apierr.ErrWalletBusy))
	})

	t.Run("concurrent withdrawals are mutually exclusive", func(t *testing.T) {
		mock := lntestutil.GetLightningMockClient()
		mock.DecodePayReqResponse = lntestutil.MockPayReq(100)
		release := make(chan struct{})
		mock.SendPaymentSyncFunc = func(ctx context.Context,
			in *lnrpc.SendRequest) (*lnrpc.SendResponse, error) {
			<-release
			return &lnrpc.SendResponse{PaymentPreimage: []byte("x")}, nil
		}
		engine, _ := newTestEngine(t, mock, EngineConfig{})
		wallet := walletstestutil.CreateWalletWithBalanceOrFail(t, testDB, 500)

		var wg sync.WaitGroup
		results := make(chan error, 2)
		wg.Add(2)
		for i := 0; i < 2; i++ {
			go func() {
				defer wg.Done()
				_, err := engine.PayWithdrawalInvoice(
					wallet.UserID, "lnbcrt100n1", "")
				results <- err
			}()
		}

		// let both goroutines reach the lock before releasing the payment
		time.Sleep(100 * time.Millisecond)
		close(release)
		wg.Wait()
		close(results)

		var succeeded, busy int
		for err := range results {
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, apierr.ErrWalletBusy):
				busy++
			default:
				t.Fatalf("unexpected error: %v", err)
			}
		}
		assert.Equal(t, 1, succeeded)
		assert.Equal(t, 1, busy)

		// the lock is released after completion, a third call succeeds
		_, err := engine.PayWithdrawalInvoice(wallet.UserID, "lnbcrt100n1", "")
		assert.NoError(t, err)
	})
}
