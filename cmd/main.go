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

	"totpgate/internal/api"
	"totpgate/internal/auth"
	"totpgate/internal/config"
	"totpgate/internal/database"
	"totpgate/internal/logger"
	"totpgate/internal/security"
	"totpgate/internal/token"

	"github.com/gorilla/handlers"
	"github.com/joho/godotenv"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

func init() {
	// Load environment variables from .env file.
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found")
	}
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Configuration error: %v", err)
	}
	logg := logger.New(cfg.LogLevel, cfg.Env)
	defer func() { _ = logg.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	accounts, challenges, closeStore, err := openStores(ctx, cfg, logg)
	if err != nil {
		logg.Fatal("store initialization failed", zap.Error(err))
	}
	defer closeStore()

	hasher, err := security.NewArgon2Hasher(security.Argon2Params{
		Memory:      cfg.Argon2MemoryKiB,
		Iterations:  cfg.Argon2Iterations,
		Parallelism: cfg.Argon2Parallelism,
		SaltLength:  16,
		KeyLength:   32,
	})
	if err != nil {
		logg.Fatal("password hasher", zap.Error(err))
	}
	issuer, err := token.NewIssuer(cfg.JWTSecret, cfg.JWTIssuer, cfg.TokenTTL)
	if err != nil {
		logg.Fatal("token issuer", zap.Error(err))
	}

	svc, err := auth.NewService(accounts, challenges, hasher,
		security.NewTOTP(cfg.OTPIssuer, cfg.OTPSkew), issuer,
		auth.Options{ChallengeTTL: cfg.ChallengeTTL, MaxAttempts: cfg.OTPMaxAttempts},
		logger.WithComponent(logg, "auth"),
	)
	if err != nil {
		logg.Fatal("auth service", zap.Error(err))
	}

	router := api.NewHandler(svc, logger.WithComponent(logg, "api")).Router()

	srv := &http.Server{
		Handler:      handlers.LoggingHandler(os.Stdout, router),
		Addr:         cfg.Addr(),
		WriteTimeout: 15 * time.Second,
		ReadTimeout:  15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logg.Info("server listening", zap.String("addr", cfg.Addr()), zap.String("store", cfg.StoreBackend))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Fatal("server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	logg.Info("shutting down server")

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(ctxShutdown); err != nil {
		logg.Error("server forced to shutdown", zap.Error(err))
		return
	}
	logg.Info("server exited gracefully")
}

// openStores builds the account and challenge stores for the configured backend.
// The returned func releases them.
func openStores(ctx context.Context, cfg *config.Config, logg *zap.Logger) (auth.AccountStore, auth.ChallengeStore, func(), error) {
	if cfg.StoreBackend == config.BackendMemory {
		logg.Warn("using in-memory stores; accounts and challenges are lost on restart")
		return database.NewMemoryAccounts(), database.NewMemoryChallenges(nil), func() {}, nil
	}

	client, err := database.ConnectMongoDB(ctx, cfg.MongoURI, logg)
	if err != nil {
		return nil, nil, nil, err
	}
	db := client.Database(cfg.MongoDB)
	if err := database.EnsureIndexes(ctx, db); err != nil {
		disconnect(client, logg)
		return nil, nil, nil, err
	}
	accounts := database.NewAccountRepository(database.AccountsCollection(db))
	challenges := database.NewChallengeRepository(database.ChallengeCollections(db))
	return accounts, challenges, func() { disconnect(client, logg) }, nil
}

func disconnect(client *mongo.Client, logg *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Disconnect(ctx); err != nil {
		logg.Error("error disconnecting from MongoDB", zap.Error(err))
	}
}
