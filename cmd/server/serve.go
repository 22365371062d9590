package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"rewardrails/internal/address"
	"rewardrails/internal/config"
	"rewardrails/internal/contract"
	"rewardrails/internal/idempotency"
	"rewardrails/internal/ledger"
	"rewardrails/internal/ledger/devnet"
	"rewardrails/internal/ledger/ethrpc"
	"rewardrails/internal/logging"
	"rewardrails/internal/report"
	"rewardrails/internal/server"
	"rewardrails/internal/settlement"
	"rewardrails/internal/signer"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the settlement HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("config error: %w", err)
			}
			level, _ := cmd.Flags().GetString(flagLogLevel)
			format, _ := cmd.Flags().GetString(flagLogFormat)
			log, err := logging.New(os.Stdout, orFlag(level, cfg.Service.LogLevel), orFlag(format, cfg.Service.LogFormat))
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg, log)
		},
	}
}

func serve(ctx context.Context, cfg *config.AppConfig, log zerolog.Logger) error {
	if ctx == nil {
		ctx = context.Background()
	}
	escrowAddr, err := address.ParseContract(cfg.Network.EscrowContract)
	if err != nil {
		return fmt.Errorf("escrow contract: %w", err)
	}

	chain, closeChain, err := openLedger(ctx, cfg, escrowAddr, log)
	if err != nil {
		return err
	}
	defer closeChain()

	journal, closeJournal, err := openJournal(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeJournal()

	decimals := cfg.File.Token.Decimals
	reporters := report.Multi{report.NewLog(log, decimals)}
	if cfg.Service.PostgresDSN != "" {
		pg, err := report.NewPostgres(ctx, cfg.Service.PostgresDSN, decimals)
		if err != nil {
			return fmt.Errorf("reporting store error: %w", err)
		}
		defer pg.Close()
		reporters = append(reporters, pg)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	keys := signer.NewKeyring(signer.FileSource{Path: cfg.Keys.KeyFile}, cfg.Keys.CacheSize, cfg.Keys.TTL, log)
	orch, err := settlement.New(settlement.Config{
		NetworkID: cfg.Network.ID,
		Contract:  escrowAddr,
		Retry: settlement.RetryPolicy{
			MaxAttempts:       cfg.Retry.MaxAttempts,
			InitialBackoff:    cfg.Retry.InitialBackoff,
			MaxBackoff:        cfg.Retry.MaxBackoff,
			BackoffMultiplier: cfg.Retry.BackoffMultiplier,
		},
		ConfirmTimeout:   cfg.Timeouts.Confirm,
		PollInterval:     cfg.Timeouts.PollInterval,
		SubmitRate:       cfg.File.Limits.SubmitRate,
		SubmitBurst:      cfg.File.Limits.SubmitBurst,
		BatchConcurrency: cfg.File.Limits.BatchConcurrency,
		JournalTTL:       cfg.Timeouts.JournalWindow,
	}, chain, keys, journal,
		settlement.WithLogger(log),
		settlement.WithReporter(reporters),
		settlement.WithMetrics(settlement.NewMetrics(reg)),
		settlement.WithDeadLetters(settlement.NewDeadLetters(cfg.Service.DLQPath, log)),
	)
	if err != nil {
		return err
	}

	apiServer := server.NewServer(cfg, orch, server.Deps{
		Registry: reg,
		Logger:   log,
		Ledger:   chain,
		Journal:  journal,
	})

	errCh := make(chan error, 1)
	go func() { errCh <- apiServer.Start() }()

	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	select {
	case err := <-errCh:
		return err
	case <-sigCtx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Service.ShutdownTimeout)
	defer cancel()
	return apiServer.Shutdown(shutdownCtx)
}

func openLedger(ctx context.Context, cfg *config.AppConfig, escrowAddr address.ContractAddress, log zerolog.Logger) (ledger.Ledger, func(), error) {
	switch cfg.Network.Mode {
	case config.ModeRPC:
		dialCtx, cancel := context.WithTimeout(ctx, cfg.Timeouts.RPC)
		defer cancel()
		client, err := ethrpc.Dial(dialCtx, ethrpc.Config{
			RPCURL:        cfg.Network.RPCURL,
			RelayerKeyHex: cfg.Network.RelayerKey,
			Gateway:       cfg.Network.GatewayContract,
			NetworkID:     cfg.Network.ID,
			Logger:        log,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("gateway client error: %w", err)
		}
		return client, client.Close, nil
	}

	l, err := devnet.Open(devnet.Options{Dir: cfg.Network.DataDir, NetworkID: cfg.Network.ID, Logger: log})
	if err != nil {
		return nil, nil, err
	}
	closeFn := func() {
		if err := l.Close(); err != nil {
			log.Error().Err(err).Msg("devnet close")
		}
	}
	if err := l.Deploy(escrowAddr, contract.Escrow{}); err != nil {
		closeFn()
		return nil, nil, err
	}
	for text, amount := range cfg.File.Devnet.Balances {
		a, err := address.Resolve(text)
		if err != nil {
			closeFn()
			return nil, nil, fmt.Errorf("devnet balance: %w", err)
		}
		// a persisted devnet keeps its balances across restarts
		if held, err := l.Balance(a); err == nil && held > 0 {
			continue
		}
		if err := l.Credit(a, amount); err != nil {
			closeFn()
			return nil, nil, err
		}
	}
	log.Info().Str("network", cfg.Network.ID).Str("escrow", escrowAddr.String()).Msg("devnet ready")
	return l, closeFn, nil
}

func openJournal(ctx context.Context, cfg *config.AppConfig) (idempotency.Store, func(), error) {
	if cfg.Service.PostgresDSN != "" {
		pg, err := idempotency.NewPostgresStore(ctx, cfg.Service.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("journal store error: %w", err)
		}
		return pg, pg.Close, nil
	}
	store, err := idempotency.NewFileStore(cfg.Service.JournalPath)
	if err != nil {
		return nil, nil, fmt.Errorf("journal store error: %w", err)
	}
	return store, func() {}, nil
}

func orFlag(flag, fallback string) string {
	if flag != "" {
		return flag
	}
	return fallback
}
