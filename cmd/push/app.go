package main

import (
	"context"
	"errors"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	push "github.com/jgaa/go-push"
	"github.com/jgaa/go-push/internal/config"
)

// resultHolder carries the push outcome out of the fx graph.
type resultHolder struct {
	result push.Result
}

// runApp wires config, logger and pusher together, delivers the message once
// and shuts everything down. Exit code 2 signals a failed delivery.
func runApp(cfg config.Config, msg push.Message, logLevel string) error {
	holder := &resultHolder{}

	app := fx.New(
		fx.NopLogger,
		fx.Supply(cfg),
		fx.Supply(msg),
		fx.Supply(holder),
		fx.Provide(
			func() (*zap.Logger, error) { return newLogger(logLevel, cfg.Environment) },
			newPusher,
		),
		fx.Invoke(registerSend),
	)

	startCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := app.Start(startCtx); err != nil {
		return err
	}

	<-app.Wait()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer stopCancel()
	if err := app.Stop(stopCtx); err != nil {
		return err
	}

	if !holder.result.OK {
		return &exitError{code: 2, err: errors.New("push failed: " + holder.result.Message)}
	}
	return nil
}

func newLogger(level, environment string) (*zap.Logger, error) {
	switch level {
	case "", "off", "false":
		return zap.NewNop(), nil
	case "debug", "trace":
		return zap.NewDevelopment()
	}
	if environment == "development" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func newPusher(cfg config.Config, logger *zap.Logger) (push.Pusher, error) {
	return push.NewGooglePusher(push.Config{
		CredentialsFile: cfg.CredentialsFile,
		TokenTTL:        cfg.TokenTTL,
		RefreshMargin:   cfg.RefreshMargin,
	}, logger)
}

func registerSend(lc fx.Lifecycle, sd fx.Shutdowner, p push.Pusher, logger *zap.Logger, cfg config.Config, msg push.Message, holder *resultHolder) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				holder.result = sendWhenReady(context.Background(), p, logger, cfg.ReadyTimeout, msg)
				_ = sd.Shutdown()
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return p.Stop(ctx)
		},
	})
}

// sendWhenReady polls readiness up to the configured timeout, then delivers
// the message exactly once.
func sendWhenReady(ctx context.Context, p push.Pusher, logger *zap.Logger, readyTimeout time.Duration, msg push.Message) push.Result {
	deadline := time.Now().Add(readyTimeout)
	for !p.IsReady() && time.Now().Before(deadline) {
		logger.Debug("waiting for pusher to become ready")
		time.Sleep(time.Second)
	}

	res := p.Push(ctx, msg)
	if res.OK {
		logger.Info("push message sent", zap.Int("recipients", res.SuccessCount))
	} else {
		logger.Warn("push failed",
			zap.String("reason", res.Message),
			zap.Int("reached", res.SuccessCount))
	}
	return res
}
