package lntestutil

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/rand"
	"testing"

	"github.com/lightningnetwork/lnd/lnrpc"
	"google.golang.org/grpc"

	"gitlab.com/arcanecrypto/lnaccounts/ln"
)

// LightningMockClient is a mocked out version of LND for testing purposes.
// It implements ln.NodeClient. The response fields are returned as-is, the
// Func fields take precedence when set so tests can script behavior per
// call.
type LightningMockClient struct {
	GetInfoResponse         lnrpc.GetInfoResponse
	InvoiceResponse         lnrpc.Invoice
	SendPaymentSyncResponse lnrpc.SendResponse
	DecodePayReqResponse    lnrpc.PayReq

	GetInfoFunc         func(ctx context.Context, in *lnrpc.GetInfoRequest) (*lnrpc.GetInfoResponse, error)
	AddInvoiceFunc      func(ctx context.Context, in *lnrpc.Invoice) (*lnrpc.AddInvoiceResponse, error)
	LookupInvoiceFunc   func(ctx context.Context, in *lnrpc.PaymentHash) (*lnrpc.Invoice, error)
	DecodePayReqFunc    func(ctx context.Context, in *lnrpc.PayReqString) (*lnrpc.PayReq, error)
	SendPaymentSyncFunc func(ctx context.Context, in *lnrpc.SendRequest) (*lnrpc.SendResponse, error)
}

var _ ln.NodeClient = &LightningMockClient{}

func (client *LightningMockClient) GetInfo(ctx context.Context,
	in *lnrpc.GetInfoRequest, opts ...grpc.CallOption) (
	*lnrpc.GetInfoResponse, error) {
	if client.GetInfoFunc != nil {
		return client.GetInfoFunc(ctx, in)
	}
	resp := client.GetInfoResponse
	return &resp, nil
}

func (client *LightningMockClient) AddInvoice(ctx context.Context,
	in *lnrpc.Invoice, opts ...grpc.CallOption) (
	*lnrpc.AddInvoiceResponse, error) {
	if client.AddInvoiceFunc != nil {
		return client.AddInvoiceFunc(ctx, in)
	}
	return &lnrpc.AddInvoiceResponse{
		RHash:          client.InvoiceResponse.RHash,
		PaymentRequest: client.InvoiceResponse.PaymentRequest,
	}, nil
}

func (client *LightningMockClient) LookupInvoice(ctx context.Context,
	in *lnrpc.PaymentHash, opts ...grpc.CallOption) (*lnrpc.Invoice, error) {
	if client.LookupInvoiceFunc != nil {
		return client.LookupInvoiceFunc(ctx, in)
	}
	resp := client.InvoiceResponse
	return &resp, nil
}

func (client *LightningMockClient) DecodePayReq(ctx context.Context,
	in *lnrpc.PayReqString, opts ...grpc.CallOption) (*lnrpc.PayReq, error) {
	if client.DecodePayReqFunc != nil {
		return client.DecodePayReqFunc(ctx, in)
	}
	resp := client.DecodePayReqResponse
	return &resp, nil
}

func (client *LightningMockClient) SendPaymentSync(ctx context.Context,
	in *lnrpc.SendRequest, opts ...grpc.CallOption) (
	*lnrpc.SendResponse, error) {
	if client.SendPaymentSyncFunc != nil {
		return client.SendPaymentSyncFunc(ctx, in)
	}
	resp := client.SendPaymentSyncResponse
	return &resp, nil
}

// GetLightningMockClient returns a mock with a random confirmed invoice
// loaded into every response field
func GetLightningMockClient() *LightningMockClient {
	invoice := MockInvoice(1000)
	return &LightningMockClient{
		InvoiceResponse: invoice,
		DecodePayReqResponse: lnrpc.PayReq{
			PaymentHash: hex.EncodeToString(invoice.RHash),
			NumSatoshis: invoice.Value,
			Description: invoice.Memo,
		},
		SendPaymentSyncResponse: lnrpc.SendResponse{
			PaymentPreimage: invoice.RPreimage,
		},
	}
}

// GetGatewayMock returns a connected gateway backed by the given mock
func GetGatewayMock(t *testing.T, lncli ln.NodeClient) *ln.Gateway {
	gateway := ln.NewGateway(lncli, ln.GatewayConfig{})
	if err := gateway.Connect(); err != nil {
		t.Fatalf("could not connect mock gateway: %v", err)
	}
	return gateway
}

// MockInvoice creates an unsettled invoice with a random preimage and a
// matching payment hash
func MockInvoice(amountSat int64) lnrpc.Invoice {
	preimage := make([]byte, 32)
	_, _ = rand.Read(preimage)
	hash := sha256.Sum256(preimage)

	return lnrpc.Invoice{
		Memo:           "mock invoice",
		Value:          amountSat,
		RPreimage:      preimage,
		RHash:          hash[:],
		PaymentRequest: fmt.Sprintf("lnbcrt%dn1mock%x", amountSat, hash[:8]),
		Expiry:         3600,
	}
}

// MockPayReq creates a decoded payment request for the given amount. An
// amount of 0 models a zero-value invoice.
func MockPayReq(amountSat int64) lnrpc.PayReq {
	invoice := MockInvoice(amountSat)
	return lnrpc.PayReq{
		PaymentHash: hex.EncodeToString(invoice.RHash),
		NumSatoshis: amountSat,
		Description: invoice.Memo,
		Expiry:      invoice.Expiry,
	}
}
