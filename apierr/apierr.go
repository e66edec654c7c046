// Package apierr defines the typed errors the wallet core can hand to its
// callers. Every error carries a unique code, a meaningful message and an
// HTTP-equivalent status, so the (external) transport layer can terminate
// requests without inspecting error strings.
package apierr

import (
	"errors"
	"fmt"
	"net/http"

	pkgerrors "github.com/pkg/errors"
)

// Error is the error type we hand to callers of the wallet core. It ensures
// we're both giving a unique error code and a meaningful error message.
type Error struct {
	err    error
	code   string
	status int
}

func (e Error) Error() string {
	return pkgerrors.Wrap(e.err, e.code).Error()
}

// Unwrap returns the underlying error
func (e Error) Unwrap() error {
	return e.err
}

// StatusCode returns the HTTP-equivalent status for this error
func (e Error) StatusCode() int {
	return e.status
}

// Message returns the user facing message, without the error code
func (e Error) Message() string {
	return e.err.Error()
}

// Is provides functionality for comparing errors
func (e Error) Is(err error) bool {
	if other, ok := err.(Error); ok {
		return e.code == other.code
	}
	return e.err.Error() == err.Error()
}

// WithDetail returns a copy of the given error where the supplied detail is
// appended to the message, keeping code and status. We use this to preserve
// the payment gateway's failure reason when re-raising its errors.
func WithDetail(e Error, detail error) Error {
	return Error{
		err:    fmt.Errorf("%s: %s", e.err.Error(), detail.Error()),
		code:   e.code,
		status: e.status,
	}
}

// StatusOf extracts the HTTP-equivalent status of the given error, falling
// back to 500 for errors that aren't an apierr.Error.
func StatusOf(err error) int {
	var apiErr Error
	if errors.As(err, &apiErr) {
		return apiErr.status
	}
	return http.StatusInternalServerError
}

var (
	// ErrWalletNotFound means no wallet exists for the given user or id
	ErrWalletNotFound = Error{
		err:    errors.New("wallet not found"),
		code:   "ERR_WALLET_NOT_FOUND",
		status: http.StatusNotFound,
	}

	// ErrTransactionNotFound means the requested transaction was not found
	ErrTransactionNotFound = Error{
		err:    errors.New("transaction not found"),
		code:   "ERR_TRANSACTION_NOT_FOUND",
		status: http.StatusNotFound,
	}

	// ErrPayRequestNotFound means the requested pay request was not found,
	// or is not addressed to the requesting user
	ErrPayRequestNotFound = Error{
		err:    errors.New("pay request not found"),
		code:   "ERR_PAY_REQUEST_NOT_FOUND",
		status: http.StatusNotFound,
	}

	// ErrWalletDisabled means the wallet has been administratively frozen
	ErrWalletDisabled = Error{
		err:    errors.New("wallet is disabled"),
		code:   "ERR_WALLET_DISABLED",
		status: http.StatusForbidden,
	}

	// ErrWalletBusy means another operation on the same wallet is in flight
	ErrWalletBusy = Error{
		err:    errors.New("wallet is busy with another operation"),
		code:   "ERR_WALLET_BUSY",
		status: http.StatusForbidden,
	}

	// ErrPayRequestAlreadyPaid means the pay request has been settled before
	ErrPayRequestAlreadyPaid = Error{
		err:    errors.New("pay request is already paid"),
		code:   "ERR_PAY_REQUEST_ALREADY_PAID",
		status: http.StatusForbidden,
	}

	// ErrTransactionNotYours means the transaction belongs to another user
	ErrTransactionNotYours = Error{
		err:    errors.New("transaction belongs to a different user"),
		code:   "ERR_TRANSACTION_NOT_YOURS",
		status: http.StatusForbidden,
	}

	// ErrBalanceTooLow means the user tried to spend or withdraw more money
	// than they had available
	ErrBalanceTooLow = Error{
		err:    errors.New("balance is too low"),
		code:   "ERR_BALANCE_TOO_LOW",
		status: http.StatusBadRequest,
	}

	// ErrBalanceTooLowForFee means the balance covers the amount but not the
	// fee reserve on top of it
	ErrBalanceTooLowForFee = Error{
		err:    errors.New("insufficient balance to cover fee"),
		code:   "ERR_BALANCE_TOO_LOW_FOR_FEE",
		status: http.StatusBadRequest,
	}

	// ErrMaxBalanceExceeded means the deposit would push the wallet above the
	// configured maximum balance
	ErrMaxBalanceExceeded = Error{
		err:    errors.New("deposit would exceed maximum wallet balance"),
		code:   "ERR_MAX_BALANCE_EXCEEDED",
		status: http.StatusBadRequest,
	}

	// ErrMalformedInvoice means the supplied payment request could not be
	// decoded
	ErrMalformedInvoice = Error{
		err:    errors.New("malformed invoice"),
		code:   "ERR_MALFORMED_INVOICE",
		status: http.StatusBadRequest,
	}

	// ErrBadAmount means a non-positive amount was supplied
	ErrBadAmount = Error{
		err:    errors.New("amount must be greater than 0"),
		code:   "ERR_BAD_AMOUNT",
		status: http.StatusBadRequest,
	}

	// ErrNodeUnavailable means the lightning node is not connected or not
	// initialized. Mutating operations fail fast with this error instead of
	// hanging.
	ErrNodeUnavailable = Error{
		err:    errors.New("lightning node is unavailable"),
		code:   "ERR_NODE_UNAVAILABLE",
		status: http.StatusServiceUnavailable,
	}

	// ErrPaymentTimeout means the gateway call exceeded its bound and the
	// payment's true outcome could not be resolved. The transaction is left
	// for the reconciliation sweep.
	ErrPaymentTimeout = Error{
		err:    errors.New("payment timed out with unknown outcome"),
		code:   "ERR_PAYMENT_TIMEOUT",
		status: http.StatusRequestTimeout,
	}

	// ErrPaymentFailed means the payment network rejected the payment
	ErrPaymentFailed = Error{
		err:    errors.New("payment failed"),
		code:   "ERR_PAYMENT_FAILED",
		status: http.StatusBadRequest,
	}

	// ErrUnknownError means we don't know exactly what went wrong
	ErrUnknownError = Error{
		err:    errors.New("something went wrong"),
		code:   "ERR_UNKNOWN_ERROR",
		status: http.StatusInternalServerError,
	}
)
