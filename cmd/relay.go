package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/hari1098/snaptalks/internal/config"
	"github.com/hari1098/snaptalks/internal/relay"
	"github.com/hari1098/snaptalks/internal/ui"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

var (
	flagPort      string
	flagRedisAddr string
)

var relayCmd = &cobra.Command{
	Use:   "relay",
	Short: "Run the signaling relay",
	Long: `Run the websocket relay that seats room members and passes call signals.

Offers waiting for a late joiner are kept in memory, or in Redis when
--redis (env REDIS_ADDR) is set so several relay processes can share them.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRelay(cmd.Context())
	},
}

func runRelay(ctx context.Context) error {
	cfg, err := LoadConfig(config.Options{
		Port:          flagPort,
		RedisAddr:     flagRedisAddr,
		AdminUsername: flagUser,
		AdminPassword: flagPassword,
	})
	if err != nil {
		return err
	}

	var store relay.OfferStore = relay.NewMemoryStore()
	if cfg.RedisAddr != "" {
		rs, err := relay.NewRedisStore(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return err
		}
		defer rs.Close()
		store = rs
		slog.Info("redis offer store connected", "addr", cfg.RedisAddr)
	}
	if cfg.JWTSecret == config.DefaultJWTSecret && cfg.IsProduction() {
		ui.PrintWarning("JWT_SECRET is not set; admin tokens use the development secret.")
	}

	auth := relay.NewAuth(cfg.JWTSecret, cfg.AdminUsername, cfg.AdminPassword, cfg.TokenTTL)
	hub := relay.NewHub(store, auth)

	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	go hub.Run(hubCtx)

	srv := &http.Server{
		Addr:              cfg.ListenAddr(),
		Handler:           relay.NewRouter(hub, auth, cfg.IsProduction()),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	ui.PrintSuccess(fmt.Sprintf("Relay listening on %s", cfg.ListenAddr()))

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("relay server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	ui.PrintInfo("Shutting down relay...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	// Websocket connections are hijacked; stopping the hub closes them.
	stopHub()
	return srv.Shutdown(shutdownCtx)
}

func init() {
	rootCmd.AddCommand(relayCmd)

	relayCmd.Flags().StringVar(&flagPort, "port", "", "Listen port or address (env PORT)")
	relayCmd.Flags().StringVar(&flagRedisAddr, "redis", "", "Redis address for the offer store (env REDIS_ADDR)")
	relayCmd.Flags().StringVarP(&flagUser, "user", "u", "", "Admin username (env ADMIN_USERNAME)")
	relayCmd.Flags().StringVarP(&flagPassword, "password", "p", "", "Admin password (env ADMIN_PASSWORD)")
}
