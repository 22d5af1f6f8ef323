// cmd/main.go
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/zkwallet/zkwallet/internal/api"
	"github.com/zkwallet/zkwallet/internal/auth"
	"github.com/zkwallet/zkwallet/internal/config"
	"github.com/zkwallet/zkwallet/internal/db"
	"github.com/zkwallet/zkwallet/internal/faucet"
	"github.com/zkwallet/zkwallet/internal/logging"
	"github.com/zkwallet/zkwallet/internal/payment"
	"github.com/zkwallet/zkwallet/internal/topup"
	"github.com/zkwallet/zkwallet/internal/wallet"
	"github.com/zkwallet/zkwallet/internal/zkproof"
	"github.com/zkwallet/zkwallet/pkg/midtrans"
	"github.com/zkwallet/zkwallet/pkg/polygon"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("loading configuration: %v", err)
	}

	logging.Init(cfg.LogLevel)
	defer logging.Sync()

	if err := db.Init(cfg.DatabaseURL, cfg.MigrationsPath); err != nil {
		logging.Error("connecting to database", zap.Error(err))
		os.Exit(1)
	}
	defer db.Close()

	db.CheckWalletsTableStructure()
	db.CheckWalletsTableIndexes()

	chain, err := polygon.NewClient(polygon.Config{
		RPCURL:        cfg.PolygonRPCURL,
		ChainID:       cfg.PolygonChainID,
		MasterAddress: cfg.MasterWalletAddress,
		MasterKey:     cfg.MasterWalletKey,
		Timeout:       cfg.PolygonTimeout,
	})
	if err != nil {
		logging.Error("building chain client", zap.Error(err))
		os.Exit(1)
	}
	if chain.Simulated() {
		logging.Warn("no master wallet key configured, chain transfers run in simulation mode")
	}

	wallets := wallet.NewStore(db.DB, chain, cfg.EncryptionKey)
	engine := zkproof.NewEngine(zkproof.NewGormNullifierStore(db.DB))
	orchestrator := payment.NewOrchestrator(wallets, chain, engine)
	dispenser := faucet.NewDispenser(wallets, chain, faucet.NewGormRequestLog(db.DB))
	authSvc := auth.NewService(auth.NewGormUsers(db.DB), wallets, engine)
	gateway := midtrans.NewClient(cfg.MidtransServerKey, cfg.MidtransProduction)
	topups := topup.NewService(topup.NewGormOrders(db.DB), gateway, topup.NewCoinGeckoSource(), wallets, chain)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reconciler := payment.NewReconciler(wallets, chain)
	go reconciler.Run(ctx, time.Minute)
	go topups.RunReconciler(ctx, time.Minute)

	server := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      api.NewServer(authSvc, wallets, orchestrator, dispenser, topups).Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	go func() {
		logging.Info("http server listening", zap.String("addr", cfg.ListenAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Error("http server", zap.Error(err))
			cancel()
		}
	}()

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	select {
	case <-c:
	case <-ctx.Done():
	}

	logging.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logging.Error("http shutdown", zap.Error(err))
	}
}
