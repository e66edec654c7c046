package transactions

import (
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"reflect"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"

	"gitlab.com/arcanecrypto/lnaccounts/apierr"
	"gitlab.com/arcanecrypto/lnaccounts/build"
	"gitlab.com/arcanecrypto/lnaccounts/db"
)

var log = build.AddSubLogger("TXNS")

// Type is the kind of ledger movement a transaction records
type Type string

// Transaction types. Deposit and Withdraw settle against the Lightning
// Network, Send and Receive are internal transfers that settle instantly.
const (
	Deposit  Type = "DEPOSIT"
	Withdraw Type = "WITHDRAW"
	Send     Type = "SEND"
	Receive  Type = "RECEIVE"
)

// State is derived from the two persisted flags. The storage schema keeps
// the flags as independent booleans, application code reasons about the
// combination.
type State string

const (
	// StatePending means neither the ledger nor the network has seen the
	// transaction through, both flags false
	StatePending State = "PENDING"
	// StateApplied means the balance was touched but the network never
	// confirmed, an inconsistency the sweep must close
	StateApplied State = "APPLIED"
	// StateConfirmed means the network confirmed but the balance was never
	// touched, the mirror inconsistency
	StateConfirmed State = "CONFIRMED"
	// StateSettled means fully applied and confirmed, both flags true
	StateSettled State = "SETTLED"
)

// Invoice is the payment-network metadata persisted with Lightning-settled
// transactions. ID is the hex payment hash, Request the encoded invoice.
// The settlement fields are filled in when the network confirms.
type Invoice struct {
	ID      string `json:"id"`
	Request string `json:"request"`

	Tokens      int64      `json:"tokens,omitempty"`
	IsConfirmed bool       `json:"is_confirmed,omitempty"`
	ConfirmedAt *time.Time `json:"confirmed_at,omitempty"`
}

// Value implements driver.Valuer, storing the invoice as JSON
func (i Invoice) Value() (driver.Value, error) {
	return json.Marshal(i)
}

// Scan implements sql.Scanner
func (i *Invoice) Scan(src interface{}) error {
	switch data := src.(type) {
	case []byte:
		return json.Unmarshal(data, i)
	case string:
		return json.Unmarshal([]byte(data), i)
	case nil:
		return nil
	default:
		return fmt.Errorf("cannot scan %T into Invoice", src)
	}
}

// Transaction is a database table. Every balance mutation in the ledger has
// exactly one transaction row recording it.
type Transaction struct {
	ID       int  `db:"id"`
	WalletID int  `db:"wallet_id"`
	Type     Type `db:"type"`

	// AmountSat is the principal amount. For withdrawals the fee reserve
	// comes on top, the wallet is debited AmountSat+FeeSat.
	AmountSat int64 `db:"amount_sat"`
	FeeSat    int64 `db:"fee_sat"`

	// WalletImpacted is whether the row's effect has been applied to the
	// wallet balance. InvoiceSettled is whether the network confirmed the
	// payment. The two must converge to the same value, a row where they
	// differ is inconsistent and picked up by the reconciliation sweep.
	WalletImpacted bool `db:"wallet_impacted"`
	InvoiceSettled bool `db:"invoice_settled"`

	Invoice      *Invoice `db:"invoice"`
	Description  *string  `db:"description"`
	PayRequestID *int     `db:"pay_request_id"`

	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// State maps the persisted flags to the transaction's lifecycle state
func (t Transaction) State() State {
	switch {
	case t.WalletImpacted && t.InvoiceSettled:
		return StateSettled
	case t.WalletImpacted:
		return StateApplied
	case t.InvoiceSettled:
		return StateConfirmed
	default:
		return StatePending
	}
}

// Consistent reports whether the ledger and the network agree on this row
func (t Transaction) Consistent() bool {
	return t.WalletImpacted == t.InvoiceSettled
}

// TotalSat is the full balance impact of the row, principal plus fee
func (t Transaction) TotalSat() int64 {
	return t.AmountSat + t.FeeSat
}

// ExactlyEqual checks whether the two transactions are exactly equal,
// including all postgres-fields, such as CreatedAt, UpdatedAt and ID
func (t Transaction) ExactlyEqual(t2 Transaction) (bool, string) {
	if !reflect.DeepEqual(t, t2) {
		return false, cmp.Diff(t, t2)
	}

	return true, ""
}

// Equal checks whether the Transaction is equal to another, and
// returns an explanation of the diff if not equal.
// Equal does not compare db-fields unique for every row, such
// as CreatedAt, UpdatedAt and ID
func (t Transaction) Equal(t2 Transaction) (bool, string) {
	t.CreatedAt = t2.CreatedAt
	t.UpdatedAt = t2.UpdatedAt
	t.ID = t2.ID

	if !reflect.DeepEqual(t, t2) {
		return false, cmp.Diff(t, t2)
	}

	return true, ""
}

const (
	returningFromTransactionsTable = "RETURNING id, wallet_id, type, amount_sat, fee_sat, wallet_impacted, invoice_settled, invoice, description, pay_request_id, created_at, updated_at"
	selectFromTransactionsTable    = "SELECT id, wallet_id, type, amount_sat, fee_sat, wallet_impacted, invoice_settled, invoice, description, pay_request_id, created_at, updated_at"
)

func insert(i db.Inserter, t Transaction) (Transaction, error) {
	createQuery := `INSERT INTO transactions
		(wallet_id, type, amount_sat, fee_sat, wallet_impacted,
invoice_settled, invoice, description, pay_request_id)
		VALUES (:wallet_id, :type, :amount_sat, :fee_sat, :wallet_impacted,
:invoice_settled, :invoice, :description, :pay_request_id) ` +
		returningFromTransactionsTable

	rows, err := i.NamedQuery(createQuery, t)
	if err != nil {
		return Transaction{}, fmt.Errorf("could not insert transaction: %w", err)
	}

	inserted, err := scanTransaction(rows)
	if err != nil {
		return Transaction{}, fmt.Errorf("could not scan transaction: %w", err)
	}
	return inserted, nil
}

// GetByID selects all columns for transaction where id=id
func GetByID(d db.Getter, id int) (Transaction, error) {
	txn := Transaction{}
	query := fmt.Sprintf(`%s FROM transactions WHERE id=$1 LIMIT 1`,
		selectFromTransactionsTable)

	if err := d.Get(&txn, query, id); err != nil {
		if err == sql.ErrNoRows {
			return Transaction{}, apierr.ErrTransactionNotFound
		}
		return Transaction{}, errors.Wrapf(err, "GetByID(d, %d)", id)
	}

	return txn, nil
}

// GetByIDForUser fetches the transaction and verifies the requesting user
// owns the wallet it belongs to
func GetByIDForUser(d db.Getter, id, userID int) (Transaction, error) {
	row := struct {
		Transaction
		OwnerID int `db:"owner_id"`
	}{}
	query := fmt.Sprintf(
		`SELECT t.*, w.user_id AS owner_id FROM (%s FROM transactions WHERE id=$1) t
		JOIN wallets w ON w.id = t.wallet_id LIMIT 1`,
		selectFromTransactionsTable)

	if err := d.Get(&row, query, id); err != nil {
		if err == sql.ErrNoRows {
			return Transaction{}, apierr.ErrTransactionNotFound
		}
		return Transaction{}, errors.Wrapf(err, "GetByIDForUser(d, %d, %d)", id, userID)
	}

	if row.OwnerID != userID {
		return Transaction{}, apierr.ErrTransactionNotYours
	}

	return row.Transaction, nil
}

// GetByWalletID lists every transaction on the wallet, newest first
func GetByWalletID(d *db.DB, walletID int) ([]Transaction, error) {
	var txns []Transaction
	query := fmt.Sprintf(
		`%s FROM transactions WHERE wallet_id=$1 ORDER BY id DESC`,
		selectFromTransactionsTable)

	if err := d.Select(&txns, query, walletID); err != nil {
		return nil, errors.Wrapf(err, "GetByWalletID(d, %d)", walletID)
	}
	return txns, nil
}

// getByInvoiceID finds the Lightning transaction carrying the given invoice
// id (hex payment hash)
func getByInvoiceID(d db.Getter, invoiceID string, txType Type) (Transaction, error) {
	txn := Transaction{}
	query := fmt.Sprintf(
		`%s FROM transactions WHERE invoice->>'id' = $1 AND type = $2 LIMIT 1`,
		selectFromTransactionsTable)

	if err := d.Get(&txn, query, invoiceID, txType); err != nil {
		if err == sql.ErrNoRows {
			return Transaction{}, apierr.ErrTransactionNotFound
		}
		return Transaction{}, errors.Wrapf(err,
			"getByInvoiceID(d, %s, %s)", invoiceID, txType)
	}

	return txn, nil
}

// ListInconsistent returns every row where the ledger and the network
// disagree, oldest first
func ListInconsistent(d *db.DB) ([]Transaction, error) {
	var txns []Transaction
	query := fmt.Sprintf(
		`%s FROM transactions WHERE wallet_impacted <> invoice_settled ORDER BY id`,
		selectFromTransactionsTable)

	if err := d.Select(&txns, query); err != nil {
		return nil, errors.Wrap(err, "could not list inconsistent transactions")
	}
	return txns, nil
}

// updateFlags sets both consistency flags on the row
func updateFlags(d db.Getter, id int, impacted, settled bool) (Transaction, error) {
	txn := Transaction{}
	query := fmt.Sprintf(`UPDATE transactions
		SET wallet_impacted = $2, invoice_settled = $3, updated_at = NOW()
		WHERE id = $1 %s`, returningFromTransactionsTable)

	if err := d.Get(&txn, query, id, impacted, settled); err != nil {
		if err == sql.ErrNoRows {
			return Transaction{}, apierr.ErrTransactionNotFound
		}
		return Transaction{}, errors.Wrapf(err,
			"updateFlags(d, %d, %t, %t)", id, impacted, settled)
	}

	return txn, nil
}

func isNoRows(err error) bool {
	return err == sql.ErrNoRows
}

type dbScanner interface {
	Err() error
	Next() bool
	Scan(dest ...interface{}) error
	Close() error
}

func scanTransaction(rows dbScanner) (Transaction, error) {
	defer db.CloseRows(rows)
	txn := Transaction{}

	if err := rows.Err(); err != nil {
		return txn, err
	}

	if rows.Next() {
		if err := rows.Scan(
			&txn.ID,
			&txn.WalletID,
			&txn.Type,
			&txn.AmountSat,
			&txn.FeeSat,
			&txn.WalletImpacted,
			&txn.InvoiceSettled,
			&txn.Invoice,
			&txn.Description,
			&txn.PayRequestID,
			&txn.CreatedAt,
			&txn.UpdatedAt,
		); err != nil {
			return txn, errors.Wrap(
				err, "could not scan transaction returned from DB")
		}
	} else {
		return txn, errors.New("given rows did not have any elements")
	}

	return txn, nil
}
