package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/airheartdev/realtime"
	"github.com/airheartdev/realtime/memory"
	"github.com/airheartdev/realtime/rest"
)

type config struct {
	Addr           string        `mapstructure:"addr"`
	LogLevel       string        `mapstructure:"log_level"`
	JWTSecret      string        `mapstructure:"jwt_secret"`
	RequireAuth    bool          `mapstructure:"require_auth"`
	AckLatency     time.Duration `mapstructure:"ack_latency"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
}

func init() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr}).With().Logger()
}

func loadConfig() (config, error) {
	v := viper.New()
	v.SetDefault("addr", "127.0.0.1:1234")
	v.SetDefault("log_level", "info")
	v.SetDefault("ack_latency", "0s")
	v.SetDefault("allowed_origins", []string{"*"})

	v.SetConfigName("realtime")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/realtime")
	v.SetEnvPrefix("realtime")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return config{}, err
		}
	} else {
		log.Info().Msgf("reading config: %v", v.ConfigFileUsed())
	}

	var c config
	if err := v.Unmarshal(&c); err != nil {
		return config{}, err
	}
	return c, nil
}

func main() {
	cfg, err := loadConfig()
	if err != nil {
		log.Fatal().Msgf("failed to load config: %v", err)
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatal().Msgf("invalid log level %q: %v", cfg.LogLevel, err)
	}
	zerolog.SetGlobalLevel(level)

	storeOpts := []memory.Option{memory.WithAckLatency(cfg.AckLatency)}
	if cfg.JWTSecret != "" {
		storeOpts = append(storeOpts, memory.WithSecret([]byte(cfg.JWTSecret)))
	}
	if cfg.RequireAuth {
		storeOpts = append(storeOpts, memory.WithRequireAuth())
	}
	store := memory.New(storeOpts...)
	db := realtime.New(store)

	api := rest.New(db, rest.WithStatus(func(err error) int {
		switch {
		case errors.Is(err, memory.ErrPermissionDenied):
			return http.StatusForbidden
		case errors.Is(err, memory.ErrAuthDisabled):
			return http.StatusNotImplemented
		}
		return 0
	}))
	defer api.Close()

	router := chi.NewRouter()
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "PUT", "PATCH", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", rest.RequestIDHeader},
		ExposedHeaders:   []string{rest.RequestIDHeader},
		AllowCredentials: true,
		MaxAge:           300, // Maximum value not ignored by any of major browsers
	}))
	router.Mount("/", api.Routes())

	server := &http.Server{Addr: cfg.Addr, Handler: router}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		log.Info().Msgf("Listening on http://%s (store %s)", cfg.Addr, store.ID())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	eg.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := eg.Wait(); err != nil {
		log.Fatal().Msgf("server stopped: %v", err)
	}
	log.Info().Msgf("server stopped")
}
