package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/matheus-giordani/emme7-bot/bot"
	"github.com/matheus-giordani/emme7-bot/internal/config"
	"github.com/matheus-giordani/emme7-bot/internal/lib/logger"
	"github.com/matheus-giordani/emme7-bot/internal/lib/sl"
)

var (
	configPath string
	logPath    string
)

var rootCmd = &cobra.Command{
	Use:   "emme7-bot",
	Short: "WhatsApp reception assistant for the furniture store",
	Long: `emme7-bot receives Evolution API webhooks, batches customer messages,
answers them with the sales agent and registers completed leads.

Examples:
  emme7-bot serve --conf config.yml
  emme7-bot consume --conf config.yml
  emme7-bot migrate up`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "conf", "config.yml", "path to config file")
	rootCmd.PersistentFlags().StringVar(&logPath, "log", "/var/log/", "path to log file directory")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(consumeCmd)
	rootCmd.AddCommand(migrateCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// setup loads the configuration and builds the logger, forwarding errors
// to Telegram when enabled.
func setup(ctx context.Context) (*config.Config, *slog.Logger) {
	conf := config.MustLoad(configPath)
	lg := logger.SetupLogger(conf.Env, logPath)

	if conf.Telegram.Enabled {
		alerts, err := bot.NewAlertBot(conf.Telegram.BotName, conf.Telegram.ApiKey, conf.Telegram.AdminId, lg)
		if err != nil {
			lg.Error("failed to initialize telegram bot", sl.Err(err))
		} else {
			lg = logger.SetupTelegramHandler(lg, alerts, slog.LevelError)
			go alerts.Run(ctx)
			lg.With(
				slog.String("bot_name", conf.Telegram.BotName),
			).Info("telegram alerts enabled")
		}
	}

	lg.Info("starting emme7-bot", slog.String("config", configPath), slog.String("env", conf.Env))
	lg.Debug("debug messages enabled")
	return conf, lg
}
