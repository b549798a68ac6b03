package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/blingmoon/netflow-triage/detector"
	"github.com/spf13/cobra"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	var bind string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP prediction API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger := ctx.logger(cmd.ErrOrStderr())

			lock, closeLock := batchLock(cfg, logger)
			defer func() { _ = closeLock() }()
			opts := []detector.Option{detector.WithLock(lock)}

			recorder, closeAudit, err := openAudit(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = closeAudit() }()
			if recorder != nil {
				opts = append(opts, detector.WithRecorder(recorder))
			}

			predictor, err := ctx.newPredictor(logger, opts...)
			if err != nil {
				return err
			}

			serverCfg := cfg.Server
			if bind != "" {
				serverCfg.Bind = bind
			}
			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return newAPIServer(serverCfg, predictor, logger).serve(runCtx)
		},
	}

	cmd.Flags().StringVar(&bind, "bind", "", "Override server.bind (host:port)")
	return cmd
}

