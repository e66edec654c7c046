package ln

import (
	"context"
	"encoding/hex"
	"sync"
	"time"

	"github.com/lightningnetwork/lnd/lnrpc"
	"github.com/pkg/errors"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"gitlab.com/arcanecrypto/lnaccounts/apierr"
)

// DefaultGatewayTimeout bounds every node RPC issued by the gateway.
// Lightning payments can take a long time to resolve when routing through
// offline hops, so this is deliberately generous.
const DefaultGatewayTimeout = 60 * time.Second

// GatewayConfig contains the options for creating a gateway
type GatewayConfig struct {
	// Timeout bounds every RPC to the node. Zero means
	// DefaultGatewayTimeout.
	Timeout time.Duration
}

// Gateway wraps a Lightning node client with bounded timeouts and a
// connection gate. Mutating ledger operations must not hang on a dead node,
// they fail fast until Connect has succeeded.
type Gateway struct {
	lncli   NodeClient
	timeout time.Duration

	mu        sync.RWMutex
	connected bool
}

// NetworkTip is the node's view of the best block
type NetworkTip struct {
	Hash   string
	Height uint32
}

// NewGateway creates a gateway around the given node client. The gateway
// starts out disconnected, call Connect before using it.
func NewGateway(lncli NodeClient, conf GatewayConfig) *Gateway {
	timeout := conf.Timeout
	if timeout == 0 {
		timeout = DefaultGatewayTimeout
	}
	return &Gateway{
		lncli:   lncli,
		timeout: timeout,
	}
}

// Connect probes the node and marks the gateway connected on success
func (g *Gateway) Connect() error {
	ctx, cancel := g.timeoutContext()
	defer cancel()

	info, err := g.lncli.GetInfo(ctx, &lnrpc.GetInfoRequest{})
	if err != nil {
		return errors.Wrap(err, "could not get node info")
	}

	g.mu.Lock()
	g.connected = true
	g.mu.Unlock()

	log.WithField("alias", info.Alias).Info("connected to lightning node")
	return nil
}

// Connected reports whether Connect has succeeded
func (g *Gateway) Connected() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.connected
}

func (g *Gateway) ensureConnected() error {
	if !g.Connected() {
		return apierr.ErrNodeUnavailable
	}
	return nil
}

func (g *Gateway) timeoutContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), g.timeout)
}

// NetworkTip returns the hash and height of the node's best block
func (g *Gateway) NetworkTip() (*NetworkTip, error) {
	if err := g.ensureConnected(); err != nil {
		return nil, err
	}

	ctx, cancel := g.timeoutContext()
	defer cancel()

	info, err := g.lncli.GetInfo(ctx, &lnrpc.GetInfoRequest{})
	if err != nil {
		return nil, errors.Wrap(err, "could not get node info")
	}

	return &NetworkTip{
		Hash:   info.BlockHash,
		Height: info.BlockHeight,
	}, nil
}

// CreateInvoice adds an invoice for the given amount to the node and returns
// the full invoice, including the payment request the payer needs
func (g *Gateway) CreateInvoice(amountSat int64, memo string) (
	*lnrpc.Invoice, error) {
	if err := g.ensureConnected(); err != nil {
		return nil, err
	}
	if amountSat <= 0 || amountSat > MaxAmountSatPerInvoice {
		return nil, apierr.ErrBadAmount
	}

	ctx, cancel := g.timeoutContext()
	defer cancel()

	invoice, err := AddInvoice(ctx, g.lncli, lnrpc.Invoice{
		Memo:  memo,
		Value: amountSat,
	})
	if err != nil {
		return nil, errors.Wrap(err, "could not create invoice")
	}

	return invoice, nil
}

// DecodeInvoice decodes a payment request. A NumSatoshis of 0 on the
// returned PayReq means a zero-value invoice where the payer picks the
// amount.
func (g *Gateway) DecodeInvoice(paymentRequest string) (*lnrpc.PayReq, error) {
	if err := g.ensureConnected(); err != nil {
		return nil, err
	}

	ctx, cancel := g.timeoutContext()
	defer cancel()

	payReq, err := g.lncli.DecodePayReq(ctx, &lnrpc.PayReqString{
		PayReq: paymentRequest,
	})
	if err != nil {
		log.WithError(err).WithField("paymentRequest", paymentRequest).
			Debug("could not decode payment request")
		return nil, apierr.WithDetail(apierr.ErrMalformedInvoice, err)
	}

	return payReq, nil
}

// PayInvoice pays the given payment request, blocking until the node reports
// success, failure, or the gateway timeout fires. amountSat must be set for
// zero-value invoices and zero otherwise.
//
// A returned ErrPaymentTimeout does NOT mean the payment failed, the payment
// may still settle on the network side. Callers must resolve the ambiguity
// through CheckInvoice before treating the funds as unspent.
func (g *Gateway) PayInvoice(paymentRequest string, amountSat int64) (
	*lnrpc.SendResponse, error) {
	if err := g.ensureConnected(); err != nil {
		return nil, err
	}

	ctx, cancel := g.timeoutContext()
	defer cancel()

	resp, err := g.lncli.SendPaymentSync(ctx, &lnrpc.SendRequest{
		PaymentRequest: paymentRequest,
		Amt:            amountSat,
	})
	if err != nil {
		if isDeadlineExceeded(err) {
			log.WithField("paymentRequest", paymentRequest).
				Warn("payment timed out with unknown outcome")
			return nil, apierr.ErrPaymentTimeout
		}
		return nil, apierr.WithDetail(apierr.ErrPaymentFailed, err)
	}
	if resp.PaymentError != "" {
		return nil, apierr.WithDetail(apierr.ErrPaymentFailed,
			errors.New(resp.PaymentError))
	}

	return resp, nil
}

// CheckInvoice reports whether the invoice with the given hex-encoded
// payment hash has settled. The query is idempotent and safe to retry.
func (g *Gateway) CheckInvoice(invoiceID string) (bool, error) {
	if err := g.ensureConnected(); err != nil {
		return false, err
	}

	rHash, err := hex.DecodeString(invoiceID)
	if err != nil {
		return false, errors.Wrapf(err, "invalid invoice id %q", invoiceID)
	}

	ctx, cancel := g.timeoutContext()
	defer cancel()

	invoice, err := g.lncli.LookupInvoice(ctx, &lnrpc.PaymentHash{
		RHash: rHash,
	})
	if err != nil {
		return false, errors.Wrap(err, "could not lookup invoice")
	}

	return invoice.Settled, nil
}

func isDeadlineExceeded(err error) bool {
	if errors.Cause(err) == context.DeadlineExceeded {
		return true
	}
	return status.Code(err) == codes.DeadlineExceeded
}
