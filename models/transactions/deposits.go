package transactions

import (
	"encoding/hex"
	"time"

	"github.com/lightningnetwork/lnd/lnrpc"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"gitlab.com/arcanecrypto/lnaccounts/apierr"
	"gitlab.com/arcanecrypto/lnaccounts/models/wallets"
)

// NewDeposit creates a Lightning invoice for the given amount and persists
// a pending deposit referencing it. The wallet is credited later, when the
// network reports the invoice settled.
func (e *Engine) NewDeposit(userID int, amountSat int64, description string) (
	Transaction, error) {
	wallet, err := wallets.GetByUserID(e.db, userID)
	if err != nil {
		return Transaction{}, err
	}
	if wallet.Disabled {
		return Transaction{}, apierr.ErrWalletDisabled
	}
	if wallet.Busy || e.locks.IsBusy(wallet.ID) {
		return Transaction{}, apierr.ErrWalletBusy
	}
	if e.conf.MaxWalletBalanceSat > 0 &&
		wallet.BalanceSat+amountSat > e.conf.MaxWalletBalanceSat {
		return Transaction{}, apierr.ErrMaxBalanceExceeded
	}

	invoice, err := e.gateway.CreateInvoice(amountSat, description)
	if err != nil {
		return Transaction{}, err
	}

	txn := Transaction{
		WalletID:  wallet.ID,
		Type:      Deposit,
		AmountSat: amountSat,
		Invoice: &Invoice{
			ID:      hex.EncodeToString(invoice.RHash),
			Request: invoice.PaymentRequest,
		},
	}
	if description != "" {
		txn.Description = &description
	}

	tx, err := e.db.Beginx()
	if err != nil {
		return Transaction{}, errors.Wrap(err, "could not begin transaction")
	}
	txn, err = insert(tx, txn)
	if err != nil {
		_ = tx.Rollback()
		return Transaction{}, err
	}
	if err := tx.Commit(); err != nil {
		_ = tx.Rollback()
		return Transaction{}, errors.Wrap(err, "could not commit deposit")
	}

	log.WithFields(logrus.Fields{
		"walletId":  wallet.ID,
		"amountSat": amountSat,
		"invoiceId": txn.Invoice.ID,
	}).Info("created deposit invoice")

	return txn, nil
}

// InvoiceStatusListener consumes invoice updates from the node
// subscription and settles the matching deposits. Errors are logged, never
// propagated, there is no caller waiting on this path.
func (e *Engine) InvoiceStatusListener(invoiceUpdatesCh chan *lnrpc.Invoice) {
	for invoice := range invoiceUpdatesCh {
		if invoice == nil {
			log.Error("got nil invoice from invoice updates channel")
			return
		}
		hash := hex.EncodeToString(invoice.RHash)
		log.WithField("hash", hash).
			Debug("received invoice on invoice status listener")

		settled, err := e.SettleDeposit(*invoice)
		if err != nil {
			if errors.Is(err, apierr.ErrTransactionNotFound) {
				// not a deposit of ours, e.g. an outbound payment echo
				log.WithField("hash", hash).
					Debug("no deposit matches invoice update")
				continue
			}
			log.WithError(err).WithField("hash", hash).
				Error("could not update deposit status")
			continue
		}
		if settled != nil {
			log.WithFields(logrus.Fields{
				"id":    settled.ID,
				"state": settled.State(),
			}).Debug("updated deposit status")
		}
	}
}

// SettleDeposit credits the wallet for a confirmed deposit invoice. The
// update is conditional on the row not being impacted yet, so duplicate
// confirmations credit exactly once. An unconfirmed update is a no-op.
func (e *Engine) SettleDeposit(invoice lnrpc.Invoice) (*Transaction, error) {
	invoiceID := hex.EncodeToString(invoice.RHash)

	txn, err := getByInvoiceID(e.db, invoiceID, Deposit)
	if err != nil {
		return nil, err
	}

	if !invoice.Settled {
		return &txn, nil
	}
	if txn.WalletImpacted {
		// duplicate delivery, the credit already happened
		return &txn, nil
	}

	now := time.Now()
	confirmed := *txn.Invoice
	confirmed.Tokens = invoice.AmtPaidSat
	if confirmed.Tokens == 0 {
		confirmed.Tokens = invoice.Value
	}
	confirmed.IsConfirmed = true
	confirmed.ConfirmedAt = &now

	// the wallet is credited the invoiced amount, reconciliation reverts
	// by the same number. An overpayment stays on the node.
	if confirmed.Tokens != txn.AmountSat {
		log.WithFields(logrus.Fields{
			"id":        txn.ID,
			"amountSat": txn.AmountSat,
			"paidSat":   confirmed.Tokens,
		}).Warn("invoice paid amount differs from deposit amount")
	}

	tx, err := e.db.Beginx()
	if err != nil {
		return nil, errors.Wrap(err, "could not begin transaction")
	}

	// the conditional update is the idempotence guard under concurrent
	// delivery, only one settle can match the unimpacted row
	updated := Transaction{}
	updateQuery := `UPDATE transactions
		SET wallet_impacted = true, invoice_settled = true, invoice = $2,
			updated_at = NOW()
		WHERE id = $1 AND wallet_impacted = false ` +
		returningFromTransactionsTable
	if err := tx.Get(&updated, updateQuery, txn.ID, confirmed); err != nil {
		_ = tx.Rollback()
		if isNoRows(err) {
			return &txn, nil
		}
		return nil, errors.Wrapf(err, "could not settle deposit %d", txn.ID)
	}

	if _, err := wallets.IncreaseBalance(tx, updated.WalletID, updated.AmountSat); err != nil {
		_ = tx.Rollback()
		return nil, errors.Wrapf(err,
			"could not credit wallet %d for deposit %d",
			updated.WalletID, updated.ID)
	}

	if err := tx.Commit(); err != nil {
		_ = tx.Rollback()
		return nil, errors.Wrap(err, "could not commit deposit settlement")
	}

	log.WithFields(logrus.Fields{
		"id":        updated.ID,
		"walletId":  updated.WalletID,
		"amountSat": updated.AmountSat,
	}).Info("settled deposit")

	return &updated, nil
}
