package main

import (
	"context"
	"fmt"
	"os"

	"github.com/cenkalti/backoff/v4"

	"github.com/expensly/expensly-go/internal/expensly"
	pkgauth "github.com/expensly/expensly-go/pkg/auth"
	pkgenv "github.com/expensly/expensly-go/pkg/env"
	pkghttp "github.com/expensly/expensly-go/pkg/http"
	pkglog "github.com/expensly/expensly-go/pkg/log"
)

func main() {
	ctx := context.Background()
	logger := pkglog.New(pkglog.LevelInfo)
	defer handleAppPanic(ctx, logger)

	logger.Info(ctx, "expensly client is starting")

	requestTimeout := pkgenv.Must(pkgenv.ParseDurationDefault("EXPENSLY_HTTP_TIMEOUT", pkghttp.DefaultRequestTimeout))
	email := pkgenv.Must(pkgenv.ParseString("EXPENSLY_EMAIL"))
	password := pkgenv.Must(pkgenv.ParseString("EXPENSLY_PASSWORD"))

	store := pkgauth.NewTokenStore(logger)
	bus := pkgauth.NewEventBus(logger)

	clients := expensly.NewClientFactory(logger)
	authService := expensly.NewAuthService(clients.MustInitClient(
		pkghttp.WithRequestTimeout(requestTimeout),
	))
	coordinator := pkgauth.NewRefreshCoordinator(store, bus, authService.Refresh, logger)
	session := pkgauth.NewSession(store, bus, authService, logger)
	expenses := expensly.NewExpenseService(clients.MustInitClient(
		pkghttp.WithRequestTimeout(requestTimeout),
		pkgauth.WithRequestAuth(coordinator),
	))

	bus.Subscribe(pkgauth.EventSessionRefreshed, func(ctx context.Context, _ pkgauth.Event) {
		logger.Info(ctx, "session refreshed")
	})
	bus.Subscribe(pkgauth.EventSessionCleared, func(ctx context.Context, _ pkgauth.Event) {
		logger.Info(ctx, "session cleared")
	})
	bus.Subscribe(pkgauth.EventSessionError, func(ctx context.Context, event pkgauth.Event) {
		logger.WithError(event.Err).Warn(ctx, "session error, re-authentication required")
	})

	err := backoff.Retry(
		func() error { return authService.Ping(ctx) },
		backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 10), ctx),
	)
	if err != nil {
		panic(fmt.Errorf("expensly API is not available: %w", err))
	}

	tokens, err := authService.Login(ctx, expensly.Credentials{Email: email, Password: password})
	if err != nil {
		panic(fmt.Errorf("login: %w", err))
	}

	session.Login(ctx, tokens)
	if user, ok := session.CurrentUser(); ok {
		logger.WithField("email", user.Email).Info(ctx, "logged in")
	}

	result, err := expenses.List(ctx)
	if err != nil {
		panic(fmt.Errorf("list expenses: %w", err))
	}
	logger.WithField("count", len(result)).Info(ctx, "expenses fetched")

	session.Logout(ctx)
}

func handleAppPanic(ctx context.Context, logger pkglog.Logger) {
	msg := recover()
	if msg == nil {
		return
	}

	logger.WithField("panic", fmt.Sprintf("%v", msg)).Error(ctx, "app failed with panic")
	os.Exit(1)
}
