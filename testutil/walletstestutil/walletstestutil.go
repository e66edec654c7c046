package walletstestutil

import (
	"testing"

	"github.com/brianvoe/gofakeit"

	"gitlab.com/arcanecrypto/lnaccounts/db"
	"gitlab.com/arcanecrypto/lnaccounts/models/wallets"
)

// CreateWalletOrFail creates a zero-balance wallet for a random user
func CreateWalletOrFail(t *testing.T, d *db.DB) wallets.Wallet {
	t.Helper()

	wallet, err := wallets.Create(d, gofakeit.Number(1, 1000000000))
	if err != nil {
		t.Fatalf("could not create wallet: %+v", err)
	}
	return wallet
}

// CreateWalletWithBalanceOrFail creates a wallet holding the given balance
func CreateWalletWithBalanceOrFail(t *testing.T, d *db.DB,
	balanceSat int64) wallets.Wallet {
	t.Helper()

	wallet := CreateWalletOrFail(t, d)
	funded, err := wallets.IncreaseBalance(d, wallet.ID, balanceSat)
	if err != nil {
		t.Fatalf("could not fund wallet: %+v", err)
	}
	return funded
}
