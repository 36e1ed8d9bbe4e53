package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"ilpconnector/connector"
	"ilpconnector/examplesettlement"
	"ilpconnector/ledger"
	"ilpconnector/nodeconfig"
)

func newServeCmd() *cobra.Command {
	var adminAddr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the connector node and its admin status surface",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), adminAddr)
		},
	}
	cmd.Flags().StringVar(&adminAddr, "admin-addr", "127.0.0.1:7769", "listen address for the read-only admin status surface")
	return cmd
}

func runServe(ctx context.Context, adminAddr string) error {
	nc, err := nodeconfig.LoadFromEnv(configPath)
	if err != nil {
		return err
	}
	if level, parseErr := logrus.ParseLevel(nc.LogLevel); parseErr == nil {
		logrus.SetLevel(level)
	}
	log = log.WithField("node_id", nc.NodeID)

	node := connector.New(connector.FromNodeConfig(nc), log)

	driver := examplesettlement.New(node.ApplySettlement, ledger.SideCredit, log)
	node.SetSettlementObserver(driver.OnSettlementRequested)

	if err := node.Start(ctx); err != nil {
		return err
	}
	log.WithField("listen_addr", nc.ListenAddr).Info("connector node started")

	adminSrv := &http.Server{Addr: adminAddr, Handler: newAdminRouter(node)}
	go func() {
		if err := adminSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("admin status server stopped")
		}
	}()
	log.WithField("admin_addr", adminAddr).Info("admin status surface listening")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), nc.ShutdownDeadline())
	defer cancel()
	_ = adminSrv.Shutdown(shutdownCtx)
	return node.Stop(shutdownCtx)
}
