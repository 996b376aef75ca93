// Command walletwatchd runs the wallet-activity ingest pipeline: a
// sharded gRPC subscription feeding a micro-batching dispatcher that
// classifies, persists, and fans out buy/sell events for a watched set
// of Solana wallets.
package main

import (
	"context"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gagliardetto/solana-go/rpc"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/walletwatch/ingest/internal/classifier"
	"github.com/walletwatch/ingest/internal/config"
	"github.com/walletwatch/ingest/internal/dedup"
	"github.com/walletwatch/ingest/internal/fanout"
	"github.com/walletwatch/ingest/internal/ingest"
	"github.com/walletwatch/ingest/internal/logging"
	"github.com/walletwatch/ingest/internal/metadata"
	"github.com/walletwatch/ingest/internal/priceoracle"
	"github.com/walletwatch/ingest/internal/store"
	"github.com/walletwatch/ingest/internal/subscription"
	"github.com/walletwatch/ingest/internal/walletset"
)

func main() {
	root := &cobra.Command{
		Use:   "walletwatchd",
		Short: "Solana wallet activity ingest pipeline",
	}
	root.AddCommand(serveCmd())
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	var configPaths []string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the ingest pipeline until terminated",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPaths...)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			return run(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringArrayVar(&configPaths, "config-path", []string{"."}, "directories to search for walletwatch.yaml")
	return cmd
}

func run(ctx context.Context, cfg *config.Config) error {
	logger, err := logging.New(cfg.Env)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()
	pg := store.NewPostgres(pool)

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisURL})
	defer rdb.Close()

	rpcClient := rpc.New(cfg.SolanaRPCURL)
	chain := metadata.NewRPCClient(rpcClient)
	resolver := metadata.NewResolver(metadata.Config{CacheTTL: cfg.MetadataCacheTTL}, rdb, chain, pg)

	oracle := priceoracle.NewCachedOracle(priceoracle.NewHTTPOracle(cfg.PriceOracleURL), 60*time.Second)

	bus := fanout.NewRedisBus(rdb)

	// watched is seeded empty here: populating W from the wallets table
	// on boot and keeping it current is the admin surface's job, which
	// is out of scope (spec §1). A full deployment wires an admin RPC
	// or a boot-time table scan into watched.Put/Remove before Start.
	watched := walletset.NewSet()
	wallets := walletset.NewCache(pg, cfg.WalletCacheTTL)

	updates := make(chan *subscription.RawUpdate, cfg.BatchSize*4)
	onEvent := func(u *subscription.RawUpdate) {
		select {
		case updates <- u:
		case <-ctx.Done():
		}
	}

	conn, err := grpc.DialContext(ctx, cfg.GRPCEndpoint, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("dial geyser endpoint: %w", err)
	}
	defer conn.Close()
	geyser := subscription.NewGRPCClient(conn)

	mgr := subscription.NewManager(geyser, onEvent, logger)
	mgr.SetShardMax(cfg.GRPCChunkSize)
	for _, addr := range watched.Addresses() {
		mgr.Subscribe(ctx, []string{addr})
	}

	dispatcher := ingest.NewDispatcher(ingest.Config{
		BatchSize:      cfg.BatchSize,
		BatchTimeout:   time.Duration(cfg.BatchTimeoutMS) * time.Millisecond,
		WorkerPoolSize: cfg.WorkerPoolSize,
	}, ingest.Deps{
		Recent:     dedup.NewHotSet(5_000),
		LongTerm:   dedup.NewHotSet(50_000),
		Resolver:   resolver,
		Store:      pg,
		Bus:        bus,
		Oracle:     oracle,
		Wallets:    wallets,
		Groups:     mgr,
		Thresholds: classifier.Thresholds{BuyThreshold: floatToRat(cfg.SolBuyThreshold), SellThreshold: floatToRat(cfg.SolSellThreshold)},
		Logger:     logger,
	})

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		mgr.Start(ctx)
		<-ctx.Done()
		mgr.Stop()
	}()
	go func() {
		defer wg.Done()
		dispatcher.Run(ctx, updates)
	}()
	go func() {
		defer wg.Done()
		dispatcher.RunCleanupTimers(ctx)
	}()

	healthSrv := newHealthServer(cfg.HealthAddr)
	go func() {
		if err := healthSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("health server failed", zap.Error(err))
		}
	}()

	logger.Info("walletwatchd started", zap.String("grpc_endpoint", cfg.GRPCEndpoint))
	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_ = healthSrv.Shutdown(shutdownCtx)

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-shutdownCtx.Done():
		logger.Warn("shutdown deadline exceeded, exiting anyway")
	}
	return nil
}

func floatToRat(f float64) *big.Rat {
	return new(big.Rat).SetFloat64(f)
}
