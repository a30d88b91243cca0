package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/antihax/goesi"
	"github.com/dustin/go-humanize"

	"github.com/jp-673/isktreon/internal/app"
	"github.com/jp-673/isktreon/internal/app/authservice"
	"github.com/jp-673/isktreon/internal/app/identityservice"
	"github.com/jp-673/isktreon/internal/app/journalservice"
	"github.com/jp-673/isktreon/internal/app/patronageservice"
	"github.com/jp-673/isktreon/internal/app/storage"
	"github.com/jp-673/isktreon/internal/httptransport"
	"github.com/jp-673/isktreon/internal/scheduler"
	"github.com/jp-673/isktreon/internal/webserver"
)

const shutdownTimeout = 10 * time.Second

func runServe(ctx context.Context, ad appDirs, configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	lock, err := acquireLock()
	if err != nil {
		return err
	}
	defer lock.Release()
	dsn, err := ad.initDSN()
	if err != nil {
		return err
	}
	db, err := storage.InitDB(dsn)
	if err != nil {
		return err
	}
	defer db.Close()
	st := storage.New(db)

	timeout := cfg.RequestTimeoutDuration()
	// The SSO server and the directory must not be called again automatically
	// after a failure. Only the ledger is retried.
	ssoClient := httptransport.New(httptransport.Params{
		MaxRetries:   -1,
		RedactedURLs: []string{httptransport.TokenURLSuffix, cfg.TokenURL},
		Timeout:      timeout,
		UserAgent:    cfg.UserAgent,
	})
	directoryClient := httptransport.New(httptransport.Params{
		Cache:      true,
		MaxRetries: -1,
		Timeout:    timeout,
		UserAgent:  cfg.UserAgent,
	})
	ledgerClient := httptransport.New(httptransport.Params{
		Timeout:   timeout,
		UserAgent: cfg.UserAgent,
	})

	identity := identityservice.New(identityservice.Params{
		ESIClient: goesi.NewAPIClient(directoryClient, cfg.UserAgent),
	})
	defer identity.Close()
	auth := authservice.New(authservice.Params{
		AuthorizeURL: cfg.AuthorizeURL,
		CallbackURL:  cfg.CallbackURL,
		ClientID:     cfg.ClientID,
		HTTPClient:   ssoClient,
		Identity:     identity,
		Storage:      st,
		Timeout:      timeout,
		TokenURL:     cfg.TokenURL,
		VerifyURL:    cfg.VerifyURL,
	})
	journal := journalservice.New(journalservice.Params{
		ESIClient:      goesi.NewAPIClient(ledgerClient, cfg.UserAgent),
		RescanInterval: cfg.RescanIntervalDuration(),
		Timeout:        timeout,
	})
	patronage := patronageservice.New(patronageservice.Params{
		Auth:     auth,
		Creators: cfg.AppCreators(),
		Journal:  journal,
	})
	patronage.SubscriptionConfirmed.AddListener(func(ctx context.Context, s app.Subscription) {
		slog.Info(
			"Subscription confirmed",
			"creator", s.CreatorName,
			"tier", s.TierName,
			"cost", humanize.Comma(s.Cost)+"M",
			"reasonCode", s.ReasonCode,
			"nextBilling", s.NextBillingDate.Format(app.DateTimeFormat),
		)
	})

	if spec := cfg.Schedule(); spec != "" {
		sch := scheduler.New(scheduler.Params{
			Auth:      auth,
			Patronage: patronage,
			Spec:      spec,
		})
		if err := sch.Start(); err != nil {
			return err
		}
		defer sch.Stop()
	} else {
		slog.Info("Scheduled verification disabled")
	}

	srv := &http.Server{
		Addr: cfg.ListenAddress,
		Handler: webserver.New(webserver.Params{
			AllowedOrigins: cfg.AllowedOrigins,
			Auth:           auth,
			Journal:        journal,
			Patronage:      patronage,
		}),
		ReadHeaderTimeout: timeout,
	}
	errC := make(chan error, 1)
	go func() {
		slog.Info("Server started", "address", cfg.ListenAddress, "creators", len(cfg.Creators))
		errC <- srv.ListenAndServe()
	}()
	select {
	case err := <-errC:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}
	slog.Info("Shutting down server")
	ctx2, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(ctx2)
}
