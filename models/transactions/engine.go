package transactions

import (
	"math"

	"gitlab.com/arcanecrypto/lnaccounts/db"
	"gitlab.com/arcanecrypto/lnaccounts/ln"
	"gitlab.com/arcanecrypto/lnaccounts/models/wallets"
)

// DefaultFeeRate is the fraction of a withdrawal reserved for routing fees
const DefaultFeeRate = 0.05

// EngineConfig tunes the transaction engine
type EngineConfig struct {
	// MaxWalletBalanceSat caps deposits, a deposit that would push the
	// balance past the cap is rejected. 0 disables the cap.
	MaxWalletBalanceSat int64
	// FeeRate is the withdrawal fee reserve rate. 0 means DefaultFeeRate.
	FeeRate float64
}

// Engine orchestrates every balance mutation in the ledger. All deposits,
// withdrawals and transfers go through it, nothing else touches wallet
// balances.
type Engine struct {
	db      *db.DB
	gateway *ln.Gateway
	locks   *wallets.LockRegistry
	conf    EngineConfig
}

// NewEngine wires up an engine. The lock registry is shared with any other
// component that needs to observe in-flight operations.
func NewEngine(d *db.DB, gateway *ln.Gateway, locks *wallets.LockRegistry,
	conf EngineConfig) *Engine {
	if conf.FeeRate == 0 {
		conf.FeeRate = DefaultFeeRate
	}
	return &Engine{
		db:      d,
		gateway: gateway,
		locks:   locks,
		conf:    conf,
	}
}

// FeeReserve is the fee withheld on top of a withdrawal amount
func (e *Engine) FeeReserve(amountSat int64) int64 {
	return int64(math.Round(float64(amountSat) * e.conf.FeeRate))
}

// drainAmount is the largest amount payable on a zero-value invoice from
// the given balance, leaving room for the fee reserve
func (e *Engine) drainAmount(balanceSat int64) int64 {
	return balanceSat - int64(math.Floor(float64(balanceSat)*e.conf.FeeRate))
}
