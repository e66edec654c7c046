package wallets_test

import (
	"errors"
	"math/rand"
	"os"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitlab.com/arcanecrypto/lnaccounts/apierr"
	"gitlab.com/arcanecrypto/lnaccounts/build"
	"gitlab.com/arcanecrypto/lnaccounts/db"
	"gitlab.com/arcanecrypto/lnaccounts/models/wallets"
	"gitlab.com/arcanecrypto/lnaccounts/testutil"
	"gitlab.com/arcanecrypto/lnaccounts/testutil/walletstestutil"
)

var (
	databaseConfig = testutil.GetDatabaseConfig("wallets")
	testDB         *db.DB
)

func TestMain(m *testing.M) {
	build.SetLogLevels(logrus.ErrorLevel)

	rand.Seed(time.Now().UnixNano())

	testDB = testutil.InitDatabase(databaseConfig)

	result := m.Run()

	if err := testDB.Close(); err != nil {
		panic(err.Error())
	}

	os.Exit(result)
}

func TestCreateWallet(t *testing.T) {
	t.Run("can create wallet", func(t *testing.T) {
		userID := gofakeit.Number(1, 1000000000)

		wallet, err := wallets.Create(testDB, userID)
		require.NoError(t, err)

		assert.Equal(t, userID, wallet.UserID)
		assert.Equal(t, int64(0), wallet.BalanceSat)
		assert.False(t, wallet.Disabled)
		assert.False(t, wallet.Busy)
	})

	t.Run("one wallet per user", func(t *testing.T) {
		wallet := walletstestutil.CreateWalletOrFail(t, testDB)

		_, err := wallets.Create(testDB, wallet.UserID)
		assert.True(t, errors.Is(err, wallets.ErrUserMustBeUnique))
	})
}

func TestGetWallet(t *testing.T) {
	wallet := walletstestutil.CreateWalletOrFail(t, testDB)

	t.Run("by id", func(t *testing.T) {
		found, err := wallets.GetByID(testDB, wallet.ID)
		require.NoError(t, err)
		assert.Equal(t, wallet.ID, found.ID)
	})

	t.Run("by user id", func(t *testing.T) {
		found, err := wallets.GetByUserID(testDB, wallet.UserID)
		require.NoError(t, err)
		assert.Equal(t, wallet.ID, found.ID)
	})

	t.Run("not found", func(t *testing.T) {
		_, err := wallets.GetByID(testDB, 99999999)
		assert.True(t, errors.Is(err, apierr.ErrWalletNotFound))

		_, err = wallets.GetByUserID(testDB, 99999999)
		assert.True(t, errors.Is(err, apierr.ErrWalletNotFound))
	})
}

func TestIncreaseBalance(t *testing.T) {
	wallet := walletstestutil.CreateWalletOrFail(t, testDB)

	updated, err := wallets.IncreaseBalance(testDB, wallet.ID, 500)
	require.NoError(t, err)
	assert.Equal(t, int64(500), updated.BalanceSat)

	updated, err = wallets.IncreaseBalance(testDB, wallet.ID, 250)
	require.NoError(t, err)
	assert.Equal(t, int64(750), updated.BalanceSat)

	t.Run("rejects non-positive amounts", func(t *testing.T) {
		_, err := wallets.IncreaseBalance(testDB, wallet.ID, 0)
		assert.True(t, errors.Is(err, apierr.ErrBadAmount))

		_, err = wallets.IncreaseBalance(testDB, wallet.ID, -10)
		assert.True(t, errors.Is(err, apierr.ErrBadAmount))
	})
}

func TestDecreaseBalance(t *testing.T) {
	wallet := walletstestutil.CreateWalletWithBalanceOrFail(t, testDB, 1000)

	updated, err := wallets.DecreaseBalance(testDB, wallet.ID, 400)
	require.NoError(t, err)
	assert.Equal(t, int64(600), updated.BalanceSat)

	t.Run("rejects debit beyond balance", func(t *testing.T) {
		_, err := wallets.DecreaseBalance(testDB, wallet.ID, 601)
		assert.True(t, errors.Is(err, apierr.ErrBalanceTooLow))

		// balance untouched by the failed debit
		found, err := wallets.GetByID(testDB, wallet.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(600), found.BalanceSat)
	})

	t.Run("can drain to exactly zero", func(t *testing.T) {
		updated, err := wallets.DecreaseBalance(testDB, wallet.ID, 600)
		require.NoError(t, err)
		assert.Equal(t, int64(0), updated.BalanceSat)
	})
}

func TestSetBusyAndDisabled(t *testing.T) {
	wallet := walletstestutil.CreateWalletOrFail(t, testDB)

	require.NoError(t, wallets.SetBusy(testDB, wallet.ID, true))
	found, err := wallets.GetByID(testDB, wallet.ID)
	require.NoError(t, err)
	assert.True(t, found.Busy)

	require.NoError(t, wallets.SetBusy(testDB, wallet.ID, false))

	disabled, err := wallets.SetDisabled(testDB, wallet.ID, true)
	require.NoError(t, err)
	assert.True(t, disabled.Disabled)

	enabled, err := wallets.SetDisabled(testDB, wallet.ID, false)
	require.NoError(t, err)
	assert.False(t, enabled.Disabled)
}
