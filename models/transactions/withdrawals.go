package transactions

import (
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"gitlab.com/arcanecrypto/lnaccounts/apierr"
	"gitlab.com/arcanecrypto/lnaccounts/async"
	"gitlab.com/arcanecrypto/lnaccounts/models/wallets"
)

const (
	checkInvoiceAttempts = 3
	checkInvoiceDelay    = time.Second
)

// PayWithdrawalInvoice pays the given invoice from the user's balance. The
// wallet is debited amount plus fee reserve in the same database
// transaction that records the withdrawal, and the debit is rolled back if
// the node reports a definite payment failure.
//
// A zero-value invoice drains the wallet: the amount is the balance minus
// the fee reserve carved out of it.
//
// When the payment times out with no resolvable status the debit is kept,
// the row is left applied-but-unsettled and ErrPaymentTimeout is returned.
// The startup sweep settles or reverts it against network truth.
func (e *Engine) PayWithdrawalInvoice(userID int, paymentRequest string,
	description string) (Transaction, error) {
	wallet, err := wallets.GetByUserID(e.db, userID)
	if err != nil {
		return Transaction{}, err
	}
	if wallet.Disabled {
		return Transaction{}, apierr.ErrWalletDisabled
	}

	if !e.locks.TryAcquire(wallet.ID) {
		return Transaction{}, apierr.ErrWalletBusy
	}
	defer e.locks.Release(wallet.ID)

	// mirror the lock into the busy column for observers. Never fail the
	// withdrawal over the mirror.
	if err := wallets.SetBusy(e.db, wallet.ID, true); err != nil {
		log.WithError(err).WithField("walletId", wallet.ID).
			Warn("could not mark wallet busy")
	}
	defer func() {
		if err := wallets.SetBusy(e.db, wallet.ID, false); err != nil {
			log.WithError(err).WithField("walletId", wallet.ID).
				Warn("could not clear wallet busy mark")
		}
	}()

	payReq, err := e.gateway.DecodeInvoice(paymentRequest)
	if err != nil {
		return Transaction{}, err
	}

	amountSat := payReq.NumSatoshis
	zeroValue := amountSat == 0
	if zeroValue {
		amountSat = e.drainAmount(wallet.BalanceSat)
		if amountSat <= 0 {
			return Transaction{}, apierr.ErrBalanceTooLowForFee
		}
	}
	feeSat := e.FeeReserve(amountSat)
	totalSat := amountSat + feeSat

	if wallet.BalanceSat < totalSat {
		return Transaction{}, apierr.ErrBalanceTooLowForFee
	}

	tx, err := e.db.Beginx()
	if err != nil {
		return Transaction{}, errors.Wrap(err, "could not begin transaction")
	}

	if _, err := wallets.DecreaseBalance(tx, wallet.ID, totalSat); err != nil {
		_ = tx.Rollback()
		return Transaction{}, err
	}

	txn := Transaction{
		WalletID:  wallet.ID,
		Type:      Withdraw,
		AmountSat: amountSat,
		FeeSat:    feeSat,
		Invoice: &Invoice{
			ID:      payReq.PaymentHash,
			Request: paymentRequest,
		},
	}
	if description != "" {
		txn.Description = &description
	}
	txn, err = insert(tx, txn)
	if err != nil {
		_ = tx.Rollback()
		return Transaction{}, err
	}

	var payAmount int64
	if zeroValue {
		payAmount = amountSat
	}
	_, payErr := e.gateway.PayInvoice(paymentRequest, payAmount)

	switch {
	case payErr == nil:
		txn, err = updateFlags(tx, txn.ID, true, true)
		if err != nil {
			_ = tx.Rollback()
			return Transaction{}, err
		}
		if err := tx.Commit(); err != nil {
			_ = tx.Rollback()
			return Transaction{}, errors.Wrap(err, "could not commit withdrawal")
		}

		log.WithFields(logrus.Fields{
			"id":        txn.ID,
			"walletId":  wallet.ID,
			"amountSat": amountSat,
			"feeSat":    feeSat,
		}).Info("paid withdrawal invoice")
		return txn, nil

	case errors.Is(payErr, apierr.ErrPaymentTimeout):
		// the payment may still settle, ask the node before deciding
		settled := false
		checkErr := async.RetryNoBackoff(checkInvoiceAttempts,
			checkInvoiceDelay, func() error {
				confirmed, err := e.gateway.CheckInvoice(payReq.PaymentHash)
				if err != nil {
					return err
				}
				if !confirmed {
					return errors.New("invoice not confirmed yet")
				}
				settled = true
				return nil
			})

		if settled {
			txn, err = updateFlags(tx, txn.ID, true, true)
			if err != nil {
				_ = tx.Rollback()
				return Transaction{}, err
			}
			if err := tx.Commit(); err != nil {
				_ = tx.Rollback()
				return Transaction{}, errors.Wrap(err,
					"could not commit withdrawal")
			}
			log.WithField("id", txn.ID).
				Info("withdrawal timed out but settled on polling")
			return txn, nil
		}

		// unknown outcome. Keep the debit so the funds can't be spent
		// twice, the sweep reverts it if the payment never went through.
		txn, err = updateFlags(tx, txn.ID, true, false)
		if err != nil {
			_ = tx.Rollback()
			return Transaction{}, err
		}
		if err := tx.Commit(); err != nil {
			_ = tx.Rollback()
			return Transaction{}, errors.Wrap(err, "could not commit withdrawal")
		}

		log.WithError(checkErr).WithFields(logrus.Fields{
			"id":        txn.ID,
			"walletId":  wallet.ID,
			"amountSat": amountSat,
		}).Warn("withdrawal outcome unknown, debit held for reconciliation")
		return txn, apierr.ErrPaymentTimeout

	default:
		if err := tx.Rollback(); err != nil {
			return Transaction{}, errors.Wrap(err, "could not rollback failed withdrawal")
		}
		log.WithError(payErr).WithFields(logrus.Fields{
			"walletId":  wallet.ID,
			"amountSat": amountSat,
		}).Info("withdrawal payment failed, debit rolled back")
		return Transaction{}, payErr
	}
}
