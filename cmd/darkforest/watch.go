package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/DaveHalls/nft-dark-forest/env"
	"github.com/DaveHalls/nft-dark-forest/server"
	"github.com/DaveHalls/nft-dark-forest/service/logger"
	"github.com/DaveHalls/nft-dark-forest/service/sentryutil"
	"github.com/ethereum/go-ethereum/ethclient"
	sentry "github.com/getsentry/sentry-go"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func init() {
	env.SetDefault("PORT", 4000)
	env.SetDefault("RECONCILE_INTERVAL_SECONDS", 30)
}

func watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Run the reconcile loop, reveal poller and status server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			initSentry()
			ctx = sentryutil.NewSentryHubContext(ctx)

			router := server.HandlersInit(gin.Default(), server.Deps{
				Loader:     a.loader,
				Reconciler: a.reconciler,
				Tracker:    a.tracker,
			})
			httpServer := &http.Server{
				Addr:    fmt.Sprintf(":%d", env.GetInt("PORT")),
				Handler: router,
			}

			group, ctx := errgroup.WithContext(ctx)
			group.Go(func() error {
				a.poller.PollRevealing(ctx)
				return nil
			})
			group.Go(func() error {
				a.subscribeLoop(ctx)
				return nil
			})
			group.Go(func() error {
				a.reconcileLoop(ctx)
				return nil
			})
			group.Go(func() error {
				logger.For(ctx).Infof("listening on %s", httpServer.Addr)
				if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					return err
				}
				return nil
			})
			group.Go(func() error {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return httpServer.Shutdown(shutdownCtx)
			})
			return group.Wait()
		},
	}
}

// reconcileLoop refreshes assets and pending operations on an interval, feeding the
// merged battle view into the tracker so status counts stay current.
func (a *app) reconcileLoop(ctx context.Context) {
	defer sentryutil.RecoverAndRaise(ctx)

	interval := time.Duration(env.GetInt64("RECONCILE_INTERVAL_SECONDS")) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	a.reconcileOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.reconcileOnce(ctx)
		}
	}
}

func (a *app) reconcileOnce(ctx context.Context) {
	ids, err := a.ownedTokenIDs(ctx)
	if err != nil {
		logger.For(ctx).WithError(err).Error("asset load failed")
		return
	}
	battles, err := a.reconciler.Battles(ctx, ids)
	if err != nil {
		logger.For(ctx).WithError(err).Error("battle reconcile failed")
	}
	for _, b := range battles {
		a.tracker.Apply(ctx, b)
	}
	if _, err := a.reconciler.Trainings(ctx, ids); err != nil {
		logger.For(ctx).WithError(err).Error("training reconcile failed")
	}
}

// subscribeLoop keeps a push subscription over BattleEnded logs alive when a
// websocket endpoint is configured, resubscribing with a backoff on failure.
func (a *app) subscribeLoop(ctx context.Context) {
	defer sentryutil.RecoverAndRaise(ctx)

	wsURL := env.GetString("WS_RPC_URL")
	if wsURL == "" {
		return
	}
	for ctx.Err() == nil {
		client, err := ethclient.DialContext(ctx, wsURL)
		if err != nil {
			logger.For(ctx).WithError(err).Warn("websocket dial failed")
		} else {
			err = a.poller.SubscribeBattleEnded(ctx, client, a.contract.Address())
			client.Close()
			if ctx.Err() != nil {
				return
			}
			logger.For(ctx).WithError(err).Warn("battle subscription dropped")
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(10 * time.Second):
		}
	}
}

func initSentry() {
	dsn := env.GetString("SENTRY_DSN")
	if dsn == "" {
		return
	}
	if err := sentry.Init(sentry.ClientOptions{
		Dsn:         dsn,
		Environment: env.GetString("ENV"),
	}); err != nil {
		logger.For(nil).WithError(err).Warn("sentry init failed")
	}
}
