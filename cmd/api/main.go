package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-account-tokens/internal/application/account"
	"github.com/go-account-tokens/internal/application/tokens"
	"github.com/go-account-tokens/internal/config"
	"github.com/go-account-tokens/internal/domain"
	"github.com/go-account-tokens/internal/infrastructure/dynamo"
	jwtinfra "github.com/go-account-tokens/internal/infrastructure/jwt"
	"github.com/go-account-tokens/internal/infrastructure/memory"
	"github.com/go-account-tokens/internal/infrastructure/postgres"
	"github.com/go-account-tokens/internal/infrastructure/smtp"
	"github.com/go-account-tokens/internal/infrastructure/sns"
	"github.com/go-account-tokens/internal/pkg/clock"
	"github.com/go-account-tokens/internal/pkg/token"
	transporthttp "github.com/go-account-tokens/internal/transport/http"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// userStore is what both the token service and the account gate need.
type userStore interface {
	Create(ctx context.Context, u *domain.User) error
	Get(ctx context.Context, userID string) (*domain.User, error)
	FindByEmail(ctx context.Context, email string) (*domain.User, error)
	UpdatePassword(ctx context.Context, userID, hash string) error
	MarkVerified(ctx context.Context, userID string) error
	Delete(ctx context.Context, userID string) error
}

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, reading from environment")
	}

	cfg := config.Load()
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	users, store, closeStore := openStores(ctx, cfg)
	defer closeStore()

	var notifier tokens.Notifier
	if cfg.Notifier == "log" {
		log.Println("WARN: NOTIFIER=log, token links will be written to the log")
		notifier = smtp.NewDevNotifier(slog.Default())
	} else {
		mailer := smtp.NewNotifier(cfg)
		defer func() {
			if err := mailer.Close(); err != nil {
				log.Printf("WARN: closing SMTP connection: %v", err)
			}
		}()
		notifier = mailer
	}

	// SNS lifecycle events (optional).
	var events tokens.EventPublisher
	if cfg.SNSTopicARN != "" {
		if p, err := sns.NewPublisher(cfg); err == nil {
			events = p
		} else {
			log.Printf("WARN: SNS publisher not available: %v", err)
		}
	}

	// JWT provider (optional; bearer routes are disabled without it).
	var jwtProvider *jwtinfra.Provider
	if p, err := jwtinfra.NewProvider(cfg); err == nil {
		jwtProvider = p
	} else {
		log.Printf("WARN: JWT provider not available: %v", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	tokens.RegisterMetrics(reg)

	tc := cfg.Tokens
	tokenSvc := tokens.NewService(tokens.ServiceDeps{
		Store:    store,
		Users:    users,
		Notifier: notifier,
		Events:   events,
		Codec:    token.NewCodec(tc.BcryptCost),
		Clock:    clock.Real{},
		TTL: map[domain.Purpose]time.Duration{
			domain.PurposeEmailVerification: tc.VerificationTTL,
			domain.PurposePasswordReset:      tc.ResetTTL,
		},
		LinkBase: map[domain.Purpose]string{
			domain.PurposeEmailVerification: tc.VerifyLinkBase,
			domain.PurposePasswordReset:      tc.ResetLinkBase,
		},
		StoreTimeout:  tc.StoreTimeout,
		NotifyTimeout: tc.NotifyTimeout,
		ClaimLease:    tc.ClaimLease,
	})

	acctDeps := account.ServiceDeps{
		Tokens:     tokenSvc,
		Users:      users,
		Clock:      clock.Real{},
		BcryptCost: tc.BcryptCost,
	}
	routerDeps := &transporthttp.Deps{Metrics: reg}
	if jwtProvider != nil {
		acctDeps.Signer = jwtProvider
		routerDeps.Verifier = jwtProvider
	}
	routerDeps.Account = account.NewService(acctDeps)

	go tokens.NewSweeper(tokenSvc, tc.SweepInterval, tc.StoreTimeout).Run(ctx)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.AppPort),
		Handler:      transporthttp.NewRouter(ctx, cfg, routerDeps),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Server starting on :%s (env=%s, store=%s)", cfg.AppPort, cfg.AppEnv, cfg.StoreBackend)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-ctx.Done()

	log.Println("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("forced shutdown: %v", err)
	}
	log.Println("Server stopped")
}

// openStores wires the backend selected by STORE_BACKEND.
func openStores(ctx context.Context, cfg *config.Config) (userStore, tokens.Store, func()) {
	switch cfg.StoreBackend {
	case config.BackendPostgres:
		pool, err := postgres.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("postgres: %v", err)
		}
		if err := postgres.Migrate(ctx, pool); err != nil {
			log.Fatalf("postgres migrate: %v", err)
		}
		return postgres.NewUserStore(pool), postgres.NewTokenStore(pool), pool.Close
	case config.BackendMemory:
		log.Println("WARN: STORE_BACKEND=memory, state is lost on restart")
		return memory.NewUserStore(), memory.NewTokenStore(), func() {}
	case config.BackendDynamo:
		client := dynamo.NewClient(cfg)
		dynamo.Bootstrap(ctx, client, cfg.DynamoTables)
		return dynamo.NewUserRepo(client, cfg.DynamoTables.Users),
			dynamo.NewTokenRepo(client, cfg.DynamoTables.Tokens),
			func() {}
	default:
		log.Fatalf("unknown STORE_BACKEND %q", cfg.StoreBackend)
		return nil, nil, nil
	}
}
