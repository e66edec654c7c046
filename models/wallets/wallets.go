package wallets

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/pkg/errors"

	"gitlab.com/arcanecrypto/lnaccounts/apierr"
	"gitlab.com/arcanecrypto/lnaccounts/build"
	"gitlab.com/arcanecrypto/lnaccounts/db"
)

var log = build.AddSubLogger("WLLT")

// Wallet is a database table. Balances are sats, always whole and never
// negative, enforced by a check constraint as the last line of defense.
type Wallet struct {
	ID         int   `db:"id"`
	UserID     int   `db:"user_id"`
	BalanceSat int64 `db:"balance_sat"`
	// Disabled wallets reject every mutating operation
	Disabled bool `db:"disabled"`
	// Busy mirrors the in-process lock registry so read paths and other
	// processes can observe an in-flight operation. The registry, not this
	// column, is the mutual-exclusion mechanism.
	Busy      bool      `db:"busy"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// SQL related constants
const (
	// returningFromWalletsTable is a SQL snippet that returns all the rows
	// needed to scan a wallet struct
	returningFromWalletsTable = "RETURNING id, user_id, balance_sat, disabled, busy, created_at, updated_at"
	// selectFromWalletsTable is a SQL snippet that selects all the rows
	// needed to get a full fledged wallet struct
	selectFromWalletsTable = "SELECT id, user_id, balance_sat, disabled, busy, created_at, updated_at"

	uniqueUserIDKey = "wallets_user_id_key"
)

// Exported errors
var (
	// ErrUserMustBeUnique is returned when the user already has a wallet
	ErrUserMustBeUnique = errors.New("a user can have at most one wallet")
)

type dbScanner interface {
	Err() error
	Next() bool
	Scan(dest ...interface{}) error
	Close() error
}

// Create inserts a fresh zero-balance wallet for the given user
func Create(i db.Inserter, userID int) (Wallet, error) {
	walletCreateQuery := `INSERT INTO wallets (user_id)
		VALUES (:user_id) ` + returningFromWalletsTable

	rows, err := i.NamedQuery(walletCreateQuery, Wallet{UserID: userID})
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Constraint == uniqueUserIDKey {
			err = ErrUserMustBeUnique
		}
		return Wallet{}, fmt.Errorf("could not insert wallet: %w", err)
	}

	wallet, err := scanWallet(rows)
	if err != nil {
		return Wallet{}, fmt.Errorf("could not scan wallet: %w", err)
	}
	return wallet, nil
}

// GetByID selects all columns for wallet where id=id
func GetByID(d db.Getter, id int) (Wallet, error) {
	wallet := Wallet{}
	wQuery := fmt.Sprintf(`%s FROM wallets WHERE id=$1 LIMIT 1`,
		selectFromWalletsTable)

	if err := d.Get(&wallet, wQuery, id); err != nil {
		if err == sql.ErrNoRows {
			return Wallet{}, apierr.ErrWalletNotFound
		}
		return Wallet{}, errors.Wrapf(err, "GetByID(d, %d)", id)
	}

	return wallet, nil
}

// GetByUserID selects all columns for wallet where user_id=userID
func GetByUserID(d db.Getter, userID int) (Wallet, error) {
	wallet := Wallet{}
	wQuery := fmt.Sprintf(`%s FROM wallets WHERE user_id=$1 LIMIT 1`,
		selectFromWalletsTable)

	if err := d.Get(&wallet, wQuery, userID); err != nil {
		if err == sql.ErrNoRows {
			return Wallet{}, apierr.ErrWalletNotFound
		}
		return Wallet{}, errors.Wrapf(err, "GetByUserID(d, %d)", userID)
	}

	return wallet, nil
}

// IncreaseBalance credits the wallet by amountSat as a relative update, so
// concurrent credits never lose each other
func IncreaseBalance(d db.Getter, walletID int, amountSat int64) (Wallet, error) {
	if amountSat <= 0 {
		return Wallet{}, apierr.ErrBadAmount
	}

	wallet := Wallet{}
	query := fmt.Sprintf(`UPDATE wallets
		SET balance_sat = balance_sat + $1, updated_at = NOW()
		WHERE id = $2 %s`, returningFromWalletsTable)

	if err := d.Get(&wallet, query, amountSat, walletID); err != nil {
		if err == sql.ErrNoRows {
			return Wallet{}, apierr.ErrWalletNotFound
		}
		return Wallet{}, errors.Wrapf(err,
			"IncreaseBalance(d, %d, %d)", walletID, amountSat)
	}

	log.WithFields(map[string]interface{}{
		"walletId":  walletID,
		"amountSat": amountSat,
	}).Debug("increased balance")

	return wallet, nil
}

// DecreaseBalance debits the wallet by amountSat. The update only matches
// when the balance covers the debit, an unmatched row means insufficient
// funds.
func DecreaseBalance(d db.Getter, walletID int, amountSat int64) (Wallet, error) {
	if amountSat <= 0 {
		return Wallet{}, apierr.ErrBadAmount
	}

	wallet := Wallet{}
	query := fmt.Sprintf(`UPDATE wallets
		SET balance_sat = balance_sat - $1, updated_at = NOW()
		WHERE id = $2 AND balance_sat >= $1 %s`, returningFromWalletsTable)

	if err := d.Get(&wallet, query, amountSat, walletID); err != nil {
		if err == sql.ErrNoRows {
			return Wallet{}, apierr.ErrBalanceTooLow
		}
		return Wallet{}, errors.Wrapf(err,
			"DecreaseBalance(d, %d, %d)", walletID, amountSat)
	}

	log.WithFields(map[string]interface{}{
		"walletId":  walletID,
		"amountSat": amountSat,
	}).Debug("decreased balance")

	return wallet, nil
}

// SetBusy updates the busy column. Purely an observability mirror of the
// lock registry, failures here must not fail the guarded operation.
func SetBusy(d db.Getter, walletID int, busy bool) error {
	wallet := Wallet{}
	query := fmt.Sprintf(`UPDATE wallets
		SET busy = $1, updated_at = NOW()
		WHERE id = $2 %s`, returningFromWalletsTable)

	if err := d.Get(&wallet, query, busy, walletID); err != nil {
		if err == sql.ErrNoRows {
			return apierr.ErrWalletNotFound
		}
		return errors.Wrapf(err, "SetBusy(d, %d, %t)", walletID, busy)
	}
	return nil
}

// ClearAllBusy resets the busy mirror on every wallet and returns how many
// were cleared. The lock registry is process local, so after a restart any
// persisted busy mark is stale and would reject deposits forever.
func ClearAllBusy(d *db.DB) (int, error) {
	var ids []int
	query := `UPDATE wallets
		SET busy = false, updated_at = NOW()
		WHERE busy RETURNING id`

	if err := d.Select(&ids, query); err != nil {
		return 0, errors.Wrap(err, "could not clear busy wallets")
	}
	return len(ids), nil
}

// SetDisabled freezes or unfreezes the wallet
func SetDisabled(d db.Getter, walletID int, disabled bool) (Wallet, error) {
	wallet := Wallet{}
	query := fmt.Sprintf(`UPDATE wallets
		SET disabled = $1, updated_at = NOW()
		WHERE id = $2 %s`, returningFromWalletsTable)

	if err := d.Get(&wallet, query, disabled, walletID); err != nil {
		if err == sql.ErrNoRows {
			return Wallet{}, apierr.ErrWalletNotFound
		}
		return Wallet{}, errors.Wrapf(err,
			"SetDisabled(d, %d, %t)", walletID, disabled)
	}
	return wallet, nil
}

func scanWallet(rows dbScanner) (Wallet, error) {
	defer db.CloseRows(rows)
	wallet := Wallet{}

	if err := rows.Err(); err != nil {
		return wallet, err
	}

	if rows.Next() {
		if err := rows.Scan(
			&wallet.ID,
			&wallet.UserID,
			&wallet.BalanceSat,
			&wallet.Disabled,
			&wallet.Busy,
			&wallet.CreatedAt,
			&wallet.UpdatedAt,
		); err != nil {
			return wallet, errors.Wrap(
				err, "could not scan wallet returned from DB")
		}
	} else {
		return wallet, errors.New("given rows did not have any elements")
	}

	return wallet, nil
}
