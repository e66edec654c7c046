package transactions

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitlab.com/arcanecrypto/lnaccounts/apierr"
	"gitlab.com/arcanecrypto/lnaccounts/models/payrequests"
	"gitlab.com/arcanecrypto/lnaccounts/models/wallets"
	"gitlab.com/arcanecrypto/lnaccounts/testutil/lntestutil"
	"gitlab.com/arcanecrypto/lnaccounts/testutil/walletstestutil"
)

func TestPayUser(t *testing.T) {
	t.Run("moves funds and records both sides", func(t *testing.T) {
		engine, _ := newTestEngine(t, lntestutil.GetLightningMockClient(),
			EngineConfig{})
		payer := walletstestutil.CreateWalletWithBalanceOrFail(t, testDB, 500)
		receiver := walletstestutil.CreateWalletOrFail(t, testDB)

		description := "lunch"
		sendTxn, err := engine.PayUser(
			payer.UserID, receiver.UserID, 100, &description)
		require.NoError(t, err)

		assert.Equal(t, Send, sendTxn.Type)
		assert.Equal(t, int64(100), sendTxn.AmountSat)
		assert.Equal(t, StateSettled, sendTxn.State())
		assert.Nil(t, sendTxn.Invoice)

		payerWallet, err := wallets.GetByID(testDB, payer.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(400), payerWallet.BalanceSat)

		receiverWallet, err := wallets.GetByID(testDB, receiver.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(100), receiverWallet.BalanceSat)

		receiverTxns, err := GetByWalletID(testDB, receiver.ID)
		require.NoError(t, err)
		require.Len(t, receiverTxns, 1)
		assert.Equal(t, Receive, receiverTxns[0].Type)
		assert.Equal(t, StateSettled, receiverTxns[0].State())
	})

	t.Run("rejects insufficient balance atomically", func(t *testing.T) {
		engine, _ := newTestEngine(t, lntestutil.GetLightningMockClient(),
			EngineConfig{})
		payer := walletstestutil.CreateWalletWithBalanceOrFail(t, testDB, 50)
		receiver := walletstestutil.CreateWalletOrFail(t, testDB)

		_, err := engine.PayUser(payer.UserID, receiver.UserID, 100, nil)
		assert.True(t, errors.Is(err, apierr.ErrBalanceTooLow))

		payerWallet, err := wallets.GetByID(testDB, payer.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(50), payerWallet.BalanceSat)

		receiverWallet, err := wallets.GetByID(testDB, receiver.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(0), receiverWallet.BalanceSat)

		txns, err := GetByWalletID(testDB, receiver.ID)
		require.NoError(t, err)
		assert.Empty(t, txns)
	})

	t.Run("rejects non-positive amount", func(t *testing.T) {
		engine, _ := newTestEngine(t, lntestutil.GetLightningMockClient(),
			EngineConfig{})
		payer := walletstestutil.CreateWalletWithBalanceOrFail(t, testDB, 500)
		receiver := walletstestutil.CreateWalletOrFail(t, testDB)

		_, err := engine.PayUser(payer.UserID, receiver.UserID, 0, nil)
		assert.True(t, errors.Is(err, apierr.ErrBadAmount))
	})

	t.Run("rejects disabled wallets", func(t *testing.T) {
		engine, _ := newTestEngine(t, lntestutil.GetLightningMockClient(),
			EngineConfig{})
		payer := walletstestutil.CreateWalletWithBalanceOrFail(t, testDB, 500)
		receiver := walletstestutil.CreateWalletOrFail(t, testDB)
		_, err := wallets.SetDisabled(testDB, receiver.ID, true)
		require.NoError(t, err)

		_, err = engine.PayUser(payer.UserID, receiver.UserID, 100, nil)
		assert.True(t, errors.Is(err, apierr.ErrWalletDisabled))
	})
}

func TestSettlePayRequest(t *testing.T) {
	t.Run("receiver pays creator", func(t *testing.T) {
		engine, _ := newTestEngine(t, lntestutil.GetLightningMockClient(),
			EngineConfig{})
		creator := walletstestutil.CreateWalletOrFail(t, testDB)
		receiver := walletstestutil.CreateWalletWithBalanceOrFail(t, testDB, 500)

		request, err := payrequests.New(testDB, payrequests.NewPayRequestArgs{
			CreatorID:  creator.UserID,
			ReceiverID: receiver.UserID,
			AmountSat:  200,
		})
		require.NoError(t, err)

		settled, err := engine.SettlePayRequest(receiver.UserID, request.ID)
		require.NoError(t, err)
		assert.True(t, settled.Paid)

		creatorWallet, err := wallets.GetByID(testDB, creator.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(200), creatorWallet.BalanceSat)

		receiverWallet, err := wallets.GetByID(testDB, receiver.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(300), receiverWallet.BalanceSat)

		// both rows reference the request
		receiverTxns, err := GetByWalletID(testDB, receiver.ID)
		require.NoError(t, err)
		require.Len(t, receiverTxns, 1)
		assert.Equal(t, Send, receiverTxns[0].Type)
		require.NotNil(t, receiverTxns[0].PayRequestID)
		assert.Equal(t, request.ID, *receiverTxns[0].PayRequestID)

		t.Run("second settlement fails", func(t *testing.T) {
			_, err := engine.SettlePayRequest(receiver.UserID, request.ID)
			assert.True(t, errors.Is(err, apierr.ErrPayRequestAlreadyPaid))

			creatorWallet, err := wallets.GetByID(testDB, creator.ID)
			require.NoError(t, err)
			assert.Equal(t, int64(200), creatorWallet.BalanceSat,
				"funds must move exactly once")
		})
	})

	t.Run("only the designated receiver can settle", func(t *testing.T) {
		engine, _ := newTestEngine(t, lntestutil.GetLightningMockClient(),
			EngineConfig{})
		creator := walletstestutil.CreateWalletOrFail(t, testDB)
		receiver := walletstestutil.CreateWalletWithBalanceOrFail(t, testDB, 500)
		stranger := walletstestutil.CreateWalletWithBalanceOrFail(t, testDB, 500)

		request, err := payrequests.New(testDB, payrequests.NewPayRequestArgs{
			CreatorID:  creator.UserID,
			ReceiverID: receiver.UserID,
			AmountSat:  200,
		})
		require.NoError(t, err)

		_, err = engine.SettlePayRequest(stranger.UserID, request.ID)
		assert.True(t, errors.Is(err, apierr.ErrPayRequestNotFound))
	})

	t.Run("insufficient balance leaves request unpaid", func(t *testing.T) {
		engine, _ := newTestEngine(t, lntestutil.GetLightningMockClient(),
			EngineConfig{})
		creator := walletstestutil.CreateWalletOrFail(t, testDB)
		receiver := walletstestutil.CreateWalletWithBalanceOrFail(t, testDB, 100)

		request, err := payrequests.New(testDB, payrequests.NewPayRequestArgs{
			CreatorID:  creator.UserID,
			ReceiverID: receiver.UserID,
			AmountSat:  200,
		})
		require.NoError(t, err)

		_, err = engine.SettlePayRequest(receiver.UserID, request.ID)
		assert.True(t, errors.Is(err, apierr.ErrBalanceTooLow))

		found, err := payrequests.GetByID(testDB, request.ID)
		require.NoError(t, err)
		assert.False(t, found.Paid, "rolled back settlement must not mark paid")
	})

	t.Run("concurrent settlements settle exactly once", func(t *testing.T) {
		engine, _ := newTestEngine(t, lntestutil.GetLightningMockClient(),
			EngineConfig{})
		creator := walletstestutil.CreateWalletOrFail(t, testDB)
		receiver := walletstestutil.CreateWalletWithBalanceOrFail(t, testDB, 1000)

		request, err := payrequests.New(testDB, payrequests.NewPayRequestArgs{
			CreatorID:  creator.UserID,
			ReceiverID: receiver.UserID,
			AmountSat:  300,
		})
		require.NoError(t, err)

		const attempts = 4
		var wg sync.WaitGroup
		results := make(chan error, attempts)
		wg.Add(attempts)
		for i := 0; i < attempts; i++ {
			go func() {
				defer wg.Done()
				_, err := engine.SettlePayRequest(receiver.UserID, request.ID)
				results <- err
			}()
		}
		wg.Wait()
		close(results)

		var succeeded int
		for err := range results {
			if err == nil {
				succeeded++
			} else {
				assert.True(t, errors.Is(err, apierr.ErrPayRequestAlreadyPaid),
					"unexpected error: %v", err)
			}
		}
		assert.Equal(t, 1, succeeded)

		creatorWallet, err := wallets.GetByID(testDB, creator.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(300), creatorWallet.BalanceSat)
	})
}
