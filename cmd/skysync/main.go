package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fatih/color"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/skysyncd/skysync/internal/config"
	"github.com/skysyncd/skysync/internal/utils"
	"github.com/skysyncd/skysync/internal/version"
)

var (
	red   = color.New(color.FgHiRed, color.Bold).SprintFunc()
	green = color.New(color.FgHiGreen).SprintFunc()
	cyan  = color.New(color.FgHiCyan).SprintFunc()
)

var rootCmd = &cobra.Command{
	Use:           "skysync",
	Short:         "SkySync keeps a local directory and a drive server in sync",
	Version:       version.Detailed(),
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", config.DefaultConfigPath, "config file")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug|info|warn|error)")
}

func main() {
	cobra.OnInitialize(setupLogging)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "%s: %v\n", red("ERROR"), err)
		os.Exit(1)
	}
}

func setupLogging() {
	viper.SetEnvPrefix("SKYSYNC")
	viper.AutomaticEnv()
	viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	level := parseLevel(viper.GetString("log_level"))

	stdoutHandler := tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
		NoColor:    !isatty.IsTerminal(os.Stderr.Fd()),
	})

	handlers := []slog.Handler{stdoutHandler}
	logFile := config.DefaultLogFile
	if err := os.MkdirAll(filepath.Dir(logFile), 0o755); err == nil {
		if file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644); err == nil {
			handlers = append(handlers, slog.NewTextHandler(file, &slog.HandlerOptions{Level: level}))
		}
	}

	slog.SetDefault(slog.New(utils.NewTeeHandler(handlers...)))
}

func parseLevel(value string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(value)); err != nil {
		return slog.LevelInfo
	}
	return level
}

// loadConfig resolves the config file through viper: flag, then env, then
// the default path.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	configPath := config.DefaultConfigPath
	if cmd.Flag("config").Changed {
		configPath = cmd.Flag("config").Value.String()
	} else if envPath := os.Getenv("SKYSYNC_CONFIG_PATH"); envPath != "" {
		configPath = envPath
	}

	viper.SetConfigFile(configPath)
	viper.SetConfigType("json")
	viper.SetEnvPrefix("SKYSYNC")
	viper.AutomaticEnv()
	viper.BindPFlag("log_level", cmd.Flags().Lookup("log-level"))

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.Is(err, os.ErrNotExist) && !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config %q: %w", configPath, err)
		}
		return nil, fmt.Errorf("not logged in, run 'skysync login' first")
	}

	cfg := &config.Config{
		Path:            viper.ConfigFileUsed(),
		DataDir:         viper.GetString("data_dir"),
		ServerURL:       viper.GetString("server_url"),
		Email:           viper.GetString("email"),
		RefreshToken:    viper.GetString("refresh_token"),
		UploadWorkers:   viper.GetInt("upload_workers"),
		DownloadWorkers: viper.GetInt("download_workers"),
		IntervalSecs:    viper.GetInt("interval_secs"),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
