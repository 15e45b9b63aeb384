package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/duetcast/duetcast/internal/profile"
	"github.com/duetcast/duetcast/server"
	"github.com/duetcast/duetcast/store"
	"github.com/duetcast/duetcast/store/db"
)

const greetingBanner = `duetcast - scripted agent conversations with voice`

var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "duetcast",
	Short: "An orchestrator for scripted multi-agent voice conversations",
	Run: func(_ *cobra.Command, _ []string) {
		serverProfile := &profile.Profile{
			Mode:    viper.GetString("mode"),
			Addr:    viper.GetString("addr"),
			Port:    viper.GetInt("port"),
			Data:    viper.GetString("data"),
			Driver:  viper.GetString("driver"),
			DSN:     viper.GetString("dsn"),
			Version: version,
		}
		serverProfile.FromEnv()
		if err := serverProfile.Validate(); err != nil {
			fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
			os.Exit(1)
		}

		logLevel := slog.LevelInfo
		if serverProfile.IsDev() {
			logLevel = slog.LevelDebug
		}
		logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
		slog.SetDefault(logger)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		driver, err := db.NewDBDriver(serverProfile)
		if err != nil {
			logger.Error("failed to create store driver", "error", err)
			os.Exit(1)
		}
		st := store.New(driver, serverProfile)
		if err := st.Migrate(ctx); err != nil {
			logger.Error("failed to migrate store", "error", err)
			os.Exit(1)
		}

		s, err := server.NewServer(ctx, serverProfile, st, logger)
		if err != nil {
			logger.Error("failed to create server", "error", err)
			os.Exit(1)
		}

		signals := make(chan os.Signal, 1)
		signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
		go func() {
			<-signals
			s.Shutdown(ctx)
			cancel()
		}()

		println(greetingBanner)
		if err := s.Start(ctx); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("mode", "demo", `mode of server, can be "prod", "dev" or "demo"`)
	rootCmd.PersistentFlags().String("addr", "", "address of server")
	rootCmd.PersistentFlags().Int("port", 8230, "port of server")
	rootCmd.PersistentFlags().String("data", ".", "data directory for audio artifacts and sqlite state")
	rootCmd.PersistentFlags().String("driver", "sqlite", `session store driver, can be "sqlite", "postgres" or "memory"`)
	rootCmd.PersistentFlags().String("dsn", "", "database source name")

	if err := viper.BindPFlags(rootCmd.PersistentFlags()); err != nil {
		panic(err)
	}
	viper.SetDefault("mode", "demo")
	viper.SetDefault("driver", "sqlite")
	viper.SetDefault("port", 8230)
	viper.SetEnvPrefix("duetcast")
	viper.AutomaticEnv()
}
