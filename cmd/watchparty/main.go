package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/watchparty/internal/conference"
	"github.com/MarcoPoloResearchLab/watchparty/internal/config"
	"github.com/MarcoPoloResearchLab/watchparty/internal/database"
	"github.com/MarcoPoloResearchLab/watchparty/internal/logging"
	"github.com/MarcoPoloResearchLab/watchparty/internal/playlist"
	"github.com/MarcoPoloResearchLab/watchparty/internal/server"
	"github.com/MarcoPoloResearchLab/watchparty/internal/session"
	"github.com/MarcoPoloResearchLab/watchparty/internal/snapshot"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "watchparty",
		Short: "Shared watch party playlist peer",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPeer(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path for the playlist snapshot")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("log-encoding", defaults.GetString("log.encoding"), "Log encoding (json, console)")
	cmd.PersistentFlags().String("room", defaults.GetString("room.name"), "Conference room name")
	cmd.PersistentFlags().String("redis-address", defaults.GetString("redis.address"), "Redis address backing the conference room")
	cmd.PersistentFlags().Duration("sync-period", defaults.GetDuration("sync.period"), "Reconciliation interval")
	cmd.PersistentFlags().Duration("freshness-window", defaults.GetDuration("sync.freshness_window"), "Maximum age of an adoptable snapshot")
	cmd.PersistentFlags().Duration("staleness-threshold", defaults.GetDuration("sync.staleness_threshold"), "Idle time before requesting a resync")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "log.encoding", "log-encoding")
	bindFlag(cmd, "room.name", "room")
	bindFlag(cmd, "redis.address", "redis-address")
	bindFlag(cmd, "sync.period", "sync-period")
	bindFlag(cmd, "sync.freshness_window", "freshness-window")
	bindFlag(cmd, "sync.staleness_threshold", "staleness-threshold")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func runPeer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel, appConfig.LogEncoding)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	store, err := snapshot.NewSQLStore(snapshot.SQLStoreConfig{
		Database: db,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     appConfig.RedisAddress,
		Password: appConfig.RedisPassword,
		DB:       appConfig.RedisDB,
	})
	defer redisClient.Close()

	room, err := conference.NewRedisRoom(conference.RedisRoomConfig{
		Client: redisClient,
		Room:   appConfig.RoomName,
		Logger: logger,
	})
	if err != nil {
		return err
	}

	notifier := server.NewChangeNotifier()
	peer, err := session.Join(ctx, session.Config{
		Conference:         room,
		Store:              store,
		IDProvider:         playlist.NewUUIDProvider(),
		Clock:              time.Now,
		Logger:             logger,
		OutboxSize:         appConfig.OutboxSize,
		StalenessThreshold: appConfig.StalenessThreshold,
		Period:             appConfig.SyncPeriod,
		FreshnessWindow:    appConfig.FreshnessWindow,
		OnChange:           notifier.HandleChange,
	})
	if err != nil {
		return err
	}
	defer func() {
		leaveCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if leaveErr := peer.Leave(leaveCtx); leaveErr != nil {
			logger.Warn("leave failed", zap.Error(leaveErr))
		}
	}()

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Playlist:       peer.Engine(),
		Notifier:       notifier,
		Logger:         logger,
		AllowedOrigins: appConfig.AllowedOrigins,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.String("address", appConfig.HTTPAddress),
			zap.String("room", appConfig.RoomName),
			zap.String("participant_id", peer.ParticipantID().String()))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
