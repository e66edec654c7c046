package transactions

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"gitlab.com/arcanecrypto/lnaccounts/apierr"
	"gitlab.com/arcanecrypto/lnaccounts/db"
	"gitlab.com/arcanecrypto/lnaccounts/models/payrequests"
	"gitlab.com/arcanecrypto/lnaccounts/models/wallets"
)

// PayUser moves amountSat from the payer's wallet to the receiver's inside
// one database transaction. Both rows are created pre-settled, there is no
// network leg to wait for. Returns the payer-side SEND row.
func (e *Engine) PayUser(payerID, receiverID int, amountSat int64,
	description *string) (Transaction, error) {
	if amountSat <= 0 {
		return Transaction{}, apierr.ErrBadAmount
	}

	payerWallet, err := wallets.GetByUserID(e.db, payerID)
	if err != nil {
		return Transaction{}, err
	}
	if payerWallet.Disabled {
		return Transaction{}, apierr.ErrWalletDisabled
	}
	receiverWallet, err := wallets.GetByUserID(e.db, receiverID)
	if err != nil {
		return Transaction{}, err
	}
	if receiverWallet.Disabled {
		return Transaction{}, apierr.ErrWalletDisabled
	}

	tx, err := e.db.Beginx()
	if err != nil {
		return Transaction{}, errors.Wrap(err, "could not begin transaction")
	}

	sendTxn, err := moveFunds(tx, moveFundsArgs{
		fromWallet:  payerWallet.ID,
		toWallet:    receiverWallet.ID,
		amountSat:   amountSat,
		description: description,
	})
	if err != nil {
		_ = tx.Rollback()
		return Transaction{}, err
	}

	if err := tx.Commit(); err != nil {
		_ = tx.Rollback()
		return Transaction{}, errors.Wrap(err, "could not commit transfer")
	}

	log.WithFields(logrus.Fields{
		"payerId":    payerID,
		"receiverId": receiverID,
		"amountSat":  amountSat,
	}).Info("transferred funds between users")

	return sendTxn, nil
}

// SettlePayRequest pays the given pay request from the payer's balance.
// The payer must be the request's designated receiver, funds move to the
// creator. The paid flag flips exactly once, concurrent settlement
// attempts lose on the conditional update and fail as already paid.
func (e *Engine) SettlePayRequest(payerID, requestID int) (
	payrequests.PayRequest, error) {
	request, err := payrequests.GetByIDForReceiver(e.db, requestID, payerID)
	if err != nil {
		return payrequests.PayRequest{}, err
	}
	if request.Paid {
		return payrequests.PayRequest{}, apierr.ErrPayRequestAlreadyPaid
	}

	payerWallet, err := wallets.GetByUserID(e.db, payerID)
	if err != nil {
		return payrequests.PayRequest{}, err
	}
	if payerWallet.Disabled {
		return payrequests.PayRequest{}, apierr.ErrWalletDisabled
	}
	creatorWallet, err := wallets.GetByUserID(e.db, request.CreatorID)
	if err != nil {
		return payrequests.PayRequest{}, err
	}
	if creatorWallet.Disabled {
		return payrequests.PayRequest{}, apierr.ErrWalletDisabled
	}

	tx, err := e.db.Beginx()
	if err != nil {
		return payrequests.PayRequest{}, errors.Wrap(err, "could not begin transaction")
	}

	request, err = payrequests.MarkPaid(tx, request.ID)
	if err != nil {
		_ = tx.Rollback()
		return payrequests.PayRequest{}, err
	}

	if _, err := moveFunds(tx, moveFundsArgs{
		fromWallet:   payerWallet.ID,
		toWallet:     creatorWallet.ID,
		amountSat:    request.AmountSat,
		description:  request.Description,
		payRequestID: &request.ID,
	}); err != nil {
		_ = tx.Rollback()
		return payrequests.PayRequest{}, err
	}

	if err := tx.Commit(); err != nil {
		_ = tx.Rollback()
		return payrequests.PayRequest{}, errors.Wrap(err,
			"could not commit pay request settlement")
	}

	log.WithFields(logrus.Fields{
		"payRequestId": request.ID,
		"payerId":      payerID,
		"creatorId":    request.CreatorID,
		"amountSat":    request.AmountSat,
	}).Info("settled pay request")

	return request, nil
}

type moveFundsArgs struct {
	fromWallet   int
	toWallet     int
	amountSat    int64
	description  *string
	payRequestID *int
}

// moveFunds performs the double-entry move inside the caller's database
// transaction: debit, credit, one SEND row, one RECEIVE row, all
// pre-settled
func moveFunds(tx db.InsertGetter, args moveFundsArgs) (Transaction, error) {
	if _, err := wallets.DecreaseBalance(tx, args.fromWallet, args.amountSat); err != nil {
		return Transaction{}, err
	}
	if _, err := wallets.IncreaseBalance(tx, args.toWallet, args.amountSat); err != nil {
		return Transaction{}, err
	}

	sendTxn, err := insert(tx, Transaction{
		WalletID:       args.fromWallet,
		Type:           Send,
		AmountSat:      args.amountSat,
		WalletImpacted: true,
		InvoiceSettled: true,
		Description:    args.description,
		PayRequestID:   args.payRequestID,
	})
	if err != nil {
		return Transaction{}, err
	}

	if _, err := insert(tx, Transaction{
		WalletID:       args.toWallet,
		Type:           Receive,
		AmountSat:      args.amountSat,
		WalletImpacted: true,
		InvoiceSettled: true,
		Description:    args.description,
		PayRequestID:   args.payRequestID,
	}); err != nil {
		return Transaction{}, err
	}

	return sendTxn, nil
}
