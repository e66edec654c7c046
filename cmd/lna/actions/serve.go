package actions

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"time"

	"github.com/lightningnetwork/lnd/lnrpc"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	"gitlab.com/arcanecrypto/lnaccounts/async"
	"gitlab.com/arcanecrypto/lnaccounts/cmd/lna/flags"
	"gitlab.com/arcanecrypto/lnaccounts/db"
	"gitlab.com/arcanecrypto/lnaccounts/ln"
	"gitlab.com/arcanecrypto/lnaccounts/models/transactions"
	"gitlab.com/arcanecrypto/lnaccounts/models/wallets"
)

const (
	rpcAwaitAttempts = 5
	rpcAwaitDuration = time.Second
)

// awaitLnd tries to get a RPC response from lnd, returning an error
// if that isn't possible within a set of attempts
func awaitLnd(lncli lnrpc.LightningClient) error {
	retry := func() bool {
		_, err := lncli.GetInfo(context.Background(), &lnrpc.GetInfoRequest{})
		return err == nil
	}
	return async.Await(rpcAwaitAttempts, rpcAwaitDuration, retry, "couldn't reach lnd")
}

// awaitLndMacaroonFile waits for the creation of the macaroon file in the given
// configuration
func awaitLndMacaroonFile(config ln.LightningConfig) error {
	macaroon := config.MacaroonPath
	if macaroon == "" {
		macaroon = path.Join(config.LndDir,
			ln.DefaultRelativeMacaroonPath(config.Network))
	}
	retry := func() bool {
		_, err := os.Stat(macaroon)
		return err == nil
	}
	return async.Await(rpcAwaitAttempts, rpcAwaitDuration,
		retry, fmt.Sprintf("couldn't read macaroon file %q", macaroon))
}

func Serve() cli.Command {
	serve := cli.Command{
		Name:  "serve",
		Usage: "Starts the wallet ledger and its invoice settlement listener",
		Action: func(c *cli.Context) (err error) {
			lnConfig, err := flags.ReadLnConf(c)
			if err != nil {
				return err
			}

			dbConf := flags.ReadDbConf(c)
			database, err := db.Open(dbConf)
			if err != nil {
				return err
			}
			defer func() {
				if dbErr := database.Close(); dbErr != nil {
					err = dbErr
				}
			}()

			// we do a DB status check here, to verify that we can connect
			// to the DB. otherwise errors there won't get picked up until later
			status, err := database.MigrationStatus()
			if err != nil {
				return fmt.Errorf("could not query DB migration status: %w", err)
			}
			if status.Dirty {
				return fmt.Errorf("database migration state is dirty at version %d", status.Version)
			}
			if c.Bool("db.migrateup") {
				if err := database.MigrateUp(); err != nil {
					return err
				}
			}

			if err := awaitLndMacaroonFile(lnConfig); err != nil {
				return err
			}

			lncli, err := ln.NewLNDClient(lnConfig)
			if err != nil {
				return err
			}
			if err := awaitLnd(lncli); err != nil {
				return err
			}
			log.Info("lnd is properly started")

			gateway := ln.NewGateway(lncli, flags.ReadGatewayConf(c))
			if err := gateway.Connect(); err != nil {
				return err
			}
			tip, err := gateway.NetworkTip()
			if err != nil {
				return err
			}
			log.WithFields(logrus.Fields{
				"network": lnConfig.Network.Name,
				"height":  tip.Height,
				"hash":    tip.Hash,
			}).Info("Connected to lnd")

			engine := transactions.NewEngine(database, gateway,
				wallets.NewLockRegistry(), transactions.EngineConfig{
					MaxWalletBalanceSat: c.Int64("wallet.maxbalance"),
					FeeRate:             c.Float64("wallet.feerate"),
				})

			// sweep transactions left half-done by an earlier crash before
			// accepting new invoice updates
			summary, err := engine.Reconcile(c.Bool("reconcile.dryrun"))
			if err != nil {
				return err
			}
			log.WithFields(logrus.Fields{
				"scanned":  summary.Scanned,
				"repaired": summary.Repaired,
				"failed":   summary.Failed,
				"dryRun":   c.Bool("reconcile.dryrun"),
			}).Info("Reconciled ledger")

			invoiceUpdates := make(chan *lnrpc.Invoice)
			go engine.InvoiceStatusListener(invoiceUpdates)

			ln.ListenInvoices(lncli, invoiceUpdates)
			return errors.New("invoice subscription stream closed")
		},
	}

	serve.Flags = flags.Concat(flags.Db, flags.Lnd, flags.Wallet)
	return serve
}
