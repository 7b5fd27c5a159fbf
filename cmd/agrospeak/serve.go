package main

import (
	"context"
	"errors"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	_ "github.com/agrospeak/agrospeak/docs"
	"github.com/agrospeak/agrospeak/internal/config"
	"github.com/agrospeak/agrospeak/internal/health"
	"github.com/agrospeak/agrospeak/internal/transport"
	grpctransport "github.com/agrospeak/agrospeak/internal/transport/grpc"
	httptransport "github.com/agrospeak/agrospeak/internal/transport/http"
	mqtttransport "github.com/agrospeak/agrospeak/internal/transport/mqtt"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the AgroSpeak daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			return serve(ctx, cfg)
		},
	}
}

// enabledTransports returns the transports switched on in cfg.
func enabledTransports(cfg *config.Config) []transport.Transport {
	var transports []transport.Transport
	if cfg.Transports.GRPC.Enabled {
		transports = append(transports, grpctransport.New(cfg.Transports.GRPC.Port))
	}
	if cfg.Transports.HTTP.Enabled {
		transports = append(transports, httptransport.New(cfg.Transports.HTTP.Port))
	}
	if cfg.Transports.MQTT.Enabled {
		mq := cfg.Transports.MQTT
		transports = append(transports, mqtttransport.New(mq.Broker, mq.Topic, mq.ClientID))
	}
	return transports
}

func serve(ctx context.Context, cfg *config.Config) error {
	slog.Info("agrospeak starting", "version", version)

	transports := enabledTransports(cfg)
	if len(transports) == 0 {
		return errors.New("no transports enabled, enable at least one in config")
	}

	reg := prometheus.NewRegistry()
	a, err := buildApp(ctx, cfg, reg)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			slog.Error("shutdown error", "error", err)
		}
	}()

	healthServer := health.New(cfg.Server.HealthPort, reg)
	if a.archive != nil {
		healthServer.AddCheck("store", a.archive.Ping)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return healthServer.ListenAndServe(gctx) })
	g.Go(func() error {
		a.manager.Run(gctx)
		return nil
	})
	for _, t := range transports {
		g.Go(func() error {
			slog.Info("starting transport", "name", t.Name())
			if err := t.Listen(gctx, a.dispatcher); err != nil {
				slog.Error("transport failed", "name", t.Name(), "error", err)
				return err
			}
			return nil
		})
	}

	healthServer.SetReady(true)
	slog.Info("agrospeak ready",
		"transports", len(transports),
		"health_port", cfg.Server.HealthPort,
		"speech", a.speech)

	<-gctx.Done()
	slog.Info("shutdown signal received, draining...")
	healthServer.SetReady(false)

	for _, t := range transports {
		if err := t.Close(); err != nil {
			slog.Error("transport close error", "name", t.Name(), "error", err)
		}
	}

	err = g.Wait()
	slog.Info("agrospeak stopped")
	return err
}
