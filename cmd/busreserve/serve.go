package main

import (
	"context"

	"github.com/gofiber/fiber/v2/log"
	"github.com/schoolbus-labs/busreserve/internal/metrics"
	"github.com/schoolbus-labs/busreserve/internal/pushclient"
	"github.com/schoolbus-labs/busreserve/internal/server"
	"github.com/schoolbus-labs/busreserve/internal/service"
	"github.com/schoolbus-labs/busreserve/internal/storage/bolt"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the reservation HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()

		store, err := bolt.New(cfg.Storage.Path)
		if err != nil {
			return err
		}
		defer store.Close()

		m := metrics.New()

		// without a VAPID pair the API still runs; dispatch attempts are logged as failed
		var sender service.PushSender
		var publicKey string
		if cfg.Push.VAPIDPublicKey != "" && cfg.Push.VAPIDPrivateKey != "" {
			pc, err := pushclient.New(pushclient.Options{
				PublicKey:  cfg.Push.VAPIDPublicKey,
				PrivateKey: cfg.Push.VAPIDPrivateKey,
				Subscriber: cfg.Push.Subscriber,
				TTL:        cfg.Push.TTL,
				Urgency:    cfg.Push.Urgency,
				Timeout:    cfg.Push.RequestTimeout,
			})
			if err != nil {
				return err
			}
			sender = pc
			publicKey = pc.PublicKey()
		} else {
			log.Warn("push: no vapid key pair configured, web push disabled")
		}

		dispatcher := service.NewDispatcher(store, sender, m, cfg.Push.Concurrency)
		gate := service.NewGateService(store, dispatcher, m, cfg)
		if err := gate.SyncMetrics(context.Background()); err != nil {
			return err
		}
		srv := server.New(cfg, server.Deps{
			Auth:           service.NewAuthService(cfg),
			Gate:           gate,
			Routes:         service.NewRouteService(store, gate),
			Bookings:       service.NewBookingService(store),
			Subscriptions:  service.NewSubscriptionService(store),
			Dispatcher:     dispatcher,
			Logs:           service.NewDispatchLogService(store),
			Metrics:        m,
			VAPIDPublicKey: publicKey,
		})

		go func() {
			if err := srv.Start(); err != nil {
				log.Fatalf("server stopped: %v", err)
			}
		}()

		waitForSignal()
		log.Info("shutting down...")
		ctx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.WriteTimeout)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.Errorf("shutdown error: %v", err)
		}
		return nil
	},
}
