package transactions

import (
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"gitlab.com/arcanecrypto/lnaccounts/async"
	"gitlab.com/arcanecrypto/lnaccounts/models/wallets"
)

const (
	reconcileCheckAttempts = 3
	reconcileCheckDelay    = time.Second
)

// ReconcileSummary reports what a sweep did
type ReconcileSummary struct {
	// Scanned is the number of inconsistent rows found
	Scanned int
	// Repaired rows were brought back to a consistent state
	Repaired int
	// Failed rows could not be repaired and were forced unsettled
	Failed int
}

// Reconcile scans for rows where the ledger and the network disagree and
// repairs each one against the network's authoritative status. It runs at
// startup, before the service takes traffic. The sweep also clears stale
// busy marks, the lock registry they mirror does not survive a restart.
//
// Each repair is one atomic database transaction. A row that cannot be
// repaired is forced both-flags-false, assume unsettled rather than risk
// double counting, and the sweep moves on. With dryRun set the sweep logs
// every intended repair without writing.
func (e *Engine) Reconcile(dryRun bool) (ReconcileSummary, error) {
	// busy marks persisted by a process that died mid-withdrawal are stale,
	// the in-memory registry they mirror is gone
	if !dryRun {
		cleared, err := wallets.ClearAllBusy(e.db)
		if err != nil {
			return ReconcileSummary{}, err
		}
		if cleared > 0 {
			log.WithField("count", cleared).
				Warn("cleared stale busy marks left by an earlier shutdown")
		}
	}

	inconsistent, err := ListInconsistent(e.db)
	if err != nil {
		return ReconcileSummary{}, err
	}

	summary := ReconcileSummary{Scanned: len(inconsistent)}
	if len(inconsistent) == 0 {
		log.Info("reconciliation found no inconsistent transactions")
		return summary, nil
	}

	log.WithFields(logrus.Fields{
		"count":  len(inconsistent),
		"dryRun": dryRun,
	}).Warn("reconciling inconsistent transactions")

	for _, txn := range inconsistent {
		if err := e.reconcileRow(txn, dryRun); err != nil {
			summary.Failed++
			log.WithError(err).WithField("id", txn.ID).
				Error("could not reconcile transaction")
			if !dryRun {
				e.forceUnsettled(txn)
			}
			continue
		}
		summary.Repaired++
	}

	log.WithFields(logrus.Fields{
		"scanned":  summary.Scanned,
		"repaired": summary.Repaired,
		"failed":   summary.Failed,
	}).Info("reconciliation sweep finished")

	return summary, nil
}

func (e *Engine) reconcileRow(txn Transaction, dryRun bool) error {
	if txn.Invoice == nil || txn.Invoice.ID == "" {
		// nothing to check against the network, assume unsettled
		log.WithField("id", txn.ID).
			Warn("inconsistent transaction has no usable invoice, forcing unsettled")
		if dryRun {
			return nil
		}
		_, err := updateFlags(e.db, txn.ID, false, false)
		return err
	}

	var confirmed bool
	err := async.RetryNoBackoff(reconcileCheckAttempts, reconcileCheckDelay,
		func() error {
			settled, err := e.gateway.CheckInvoice(txn.Invoice.ID)
			if err != nil {
				return err
			}
			confirmed = settled
			return nil
		})
	if err != nil {
		return errors.Wrapf(err, "could not check invoice %s", txn.Invoice.ID)
	}

	switch {
	case txn.Type == Deposit && txn.WalletImpacted:
		return e.repairAppliedDeposit(txn, confirmed, dryRun)
	case txn.Type == Deposit:
		return e.repairConfirmedDeposit(txn, confirmed, dryRun)
	case txn.Type == Withdraw && txn.WalletImpacted:
		return e.repairAppliedWithdrawal(txn, confirmed, dryRun)
	case txn.Type == Withdraw:
		return e.repairConfirmedWithdrawal(txn, confirmed, dryRun)
	default:
		return errors.Errorf("transaction %d of type %s should never be inconsistent",
			txn.ID, txn.Type)
	}
}

// repairAppliedDeposit handles a deposit credited to the wallet without a
// network confirmation on record
func (e *Engine) repairAppliedDeposit(txn Transaction, confirmed, dryRun bool) error {
	if confirmed {
		logRepair(txn, "marking settled, credit was correct", dryRun)
		if dryRun {
			return nil
		}
		_, err := updateFlags(e.db, txn.ID, true, true)
		return err
	}

	logRepair(txn, "reverting optimistic credit", dryRun)
	if dryRun {
		return nil
	}

	tx, err := e.db.Beginx()
	if err != nil {
		return errors.Wrap(err, "could not begin transaction")
	}
	if _, err := wallets.DecreaseBalance(tx, txn.WalletID, txn.AmountSat); err != nil {
		_ = tx.Rollback()
		return err
	}
	if _, err := updateFlags(tx, txn.ID, false, false); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// repairConfirmedDeposit handles a deposit the network confirmed whose
// credit never reached the wallet
func (e *Engine) repairConfirmedDeposit(txn Transaction, confirmed, dryRun bool) error {
	if !confirmed {
		logRepair(txn, "clearing stale settled flag", dryRun)
		if dryRun {
			return nil
		}
		_, err := updateFlags(e.db, txn.ID, false, false)
		return err
	}

	logRepair(txn, "applying missed deposit credit", dryRun)
	if dryRun {
		return nil
	}

	tx, err := e.db.Beginx()
	if err != nil {
		return errors.Wrap(err, "could not begin transaction")
	}
	if _, err := wallets.IncreaseBalance(tx, txn.WalletID, txn.AmountSat); err != nil {
		_ = tx.Rollback()
		return err
	}
	if _, err := updateFlags(tx, txn.ID, true, true); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// repairAppliedWithdrawal handles a withdrawal debit whose payment has no
// confirmation on record, the timeout path leaves rows like this
func (e *Engine) repairAppliedWithdrawal(txn Transaction, confirmed, dryRun bool) error {
	if confirmed {
		logRepair(txn, "marking settled, debit was correct", dryRun)
		if dryRun {
			return nil
		}
		_, err := updateFlags(e.db, txn.ID, true, true)
		return err
	}

	logRepair(txn, "refunding failed withdrawal", dryRun)
	if dryRun {
		return nil
	}

	tx, err := e.db.Beginx()
	if err != nil {
		return errors.Wrap(err, "could not begin transaction")
	}
	if _, err := wallets.IncreaseBalance(tx, txn.WalletID, txn.TotalSat()); err != nil {
		_ = tx.Rollback()
		return err
	}
	if _, err := updateFlags(tx, txn.ID, false, false); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// repairConfirmedWithdrawal handles a withdrawal the network paid out
// without the wallet ever being debited
func (e *Engine) repairConfirmedWithdrawal(txn Transaction, confirmed, dryRun bool) error {
	if !confirmed {
		logRepair(txn, "clearing stale settled flag", dryRun)
		if dryRun {
			return nil
		}
		_, err := updateFlags(e.db, txn.ID, false, false)
		return err
	}

	logRepair(txn, "applying missed withdrawal debit", dryRun)
	if dryRun {
		return nil
	}

	tx, err := e.db.Beginx()
	if err != nil {
		return errors.Wrap(err, "could not begin transaction")
	}
	if _, err := wallets.DecreaseBalance(tx, txn.WalletID, txn.TotalSat()); err != nil {
		_ = tx.Rollback()
		// the network paid but the wallet can't cover the debit. Never
		// force a negative balance, flag the row for manual follow up.
		log.WithFields(logrus.Fields{
			"id":       txn.ID,
			"walletId": txn.WalletID,
			"totalSat": txn.TotalSat(),
		}).Error("confirmed withdrawal exceeds wallet balance, marking unsettled")
		_, flagErr := updateFlags(e.db, txn.ID, false, false)
		return flagErr
	}
	if _, err := updateFlags(tx, txn.ID, true, true); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// forceUnsettled is the fail-safe for rows that errored mid-repair
func (e *Engine) forceUnsettled(txn Transaction) {
	if _, err := updateFlags(e.db, txn.ID, false, false); err != nil {
		log.WithError(err).WithField("id", txn.ID).
			Error("could not force transaction unsettled")
	}
}

func logRepair(txn Transaction, action string, dryRun bool) {
	entry := log.WithFields(logrus.Fields{
		"id":       txn.ID,
		"walletId": txn.WalletID,
		"type":     txn.Type,
		"state":    txn.State(),
		"action":   action,
	})
	if dryRun {
		entry.Info("dry run, would repair transaction")
	} else {
		entry.Info("repairing transaction")
	}
}
