package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wakelak/wakelak/internal/config"
	"github.com/wakelak/wakelak/internal/db"
	"github.com/wakelak/wakelak/internal/github"
	"github.com/wakelak/wakelak/internal/llm"
	"github.com/wakelak/wakelak/internal/log"
	"github.com/wakelak/wakelak/internal/server"
)

var (
	configPath string
	debug      bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "wakelak",
		Short:         "AI-assisted web app editor backed by GitHub",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path (default ~/.wakelak/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run()
		},
	}
	rootCmd.AddCommand(serveCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if debug {
		log.SetDebug()
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	database, err := db.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer database.Close()

	queries := db.NewQueries(database)

	gh := github.NewClient(
		github.WithAPIBaseURL(cfg.GitHub.APIBaseURL),
		github.WithOAuthBaseURL(cfg.GitHub.OAuthBaseURL),
		github.WithTimeout(cfg.UpstreamTimeout),
		github.WithCommitter(cfg.GitHub.BotName, cfg.GitHub.BotEmail),
	)
	ai := llm.NewClient(cfg.AI.GatewayURL, cfg.AI.APIKey, cfg.AI.Model,
		llm.WithTimeout(cfg.UpstreamTimeout))

	srv := server.New(cfg, queries, gh, ai)
	if err := srv.Listen(); err != nil {
		return err
	}

	log.Logger.Info("wakelak starting",
		zap.String("addr", srv.Addr()),
		zap.String("db", cfg.DBPath),
		zap.String("model", cfg.AI.Model))

	return srv.Run(ctx)
}
