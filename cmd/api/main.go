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

	"moveflow/auth"
	"moveflow/config"
	"moveflow/db"
	"moveflow/notify"
	"moveflow/order"
	"moveflow/partner"
	"moveflow/quote"
	"moveflow/referral"
	"moveflow/storage"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("api: %v", err)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()

	authRepo := auth.NewRepository(pool)
	partnerRepo := partner.NewRepository(pool)
	quoteRepo := quote.NewRepository(pool)
	notifyRepo := notify.NewRepository(pool)
	orderRepo := order.NewRepository(pool)
	referralRepo := referral.NewRepository(pool)

	// Without provider credentials the simulated senders keep the full
	// flow usable in development.
	var email notify.EmailSender = notify.SimulatedEmail{}
	if cfg.EmailAPIKey != "" {
		email = notify.NewEmailAPI(cfg.EmailAPIURL, cfg.EmailAPIKey, cfg.EmailFrom)
	}
	var sms notify.SMSSender = notify.SimulatedSMS{}
	if cfg.SMSAPIKey != "" {
		sms = notify.NewSMSAPI(cfg.SMSAPIURL, cfg.SMSAPIKey, cfg.SMSSender)
	}

	partnerService := partner.NewService(partnerRepo)
	authService := auth.NewService(authRepo, sms, cfg.JWTSecret, cfg.AdminEmails)
	quoteService := quote.NewService(pool, quoteRepo, partnerService)
	referralService := referral.NewService(pool, referralRepo)
	orderService := order.NewService(pool, orderRepo, quoteRepo, referralService)
	dispatcher := notify.NewDispatcher(notifyRepo, quoteRepo, partnerService, email, sms)

	var uploads *storage.Store
	if cfg.StorageBucket != "" {
		uploads, err = storage.New(ctx, cfg.StorageBucket)
		if err != nil {
			return err
		}
		defer uploads.Close()
	} else {
		log.Printf("api: STORAGE_BUCKET not set, uploads disabled")
	}

	srv := &Server{
		auth:       authService,
		partners:   partnerService,
		quotes:     quoteService,
		orders:     orderService,
		referrals:  referralService,
		dispatcher: dispatcher,
		uploads:    uploads,
	}

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("api: listening on %s", cfg.ListenAddr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		log.Printf("api: shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return err
		}
	}
	return nil
}
