package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"dashabr/internal/config"
	"dashabr/internal/dash"
	"dashabr/internal/logger"
	"dashabr/internal/metrics"
	"dashabr/internal/session"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var configFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "dashabr",
	Short: "Adaptive-bitrate DASH segment fetcher",
	Long: `dashabr pulls DASH content from a media server one segment at a time,
picking for every segment the track whose bandwidth best matches the measured
throughput, and hands the resulting byte stream to a player.

Run "dashabr serve" to accept player connections, or "dashabr fetch" to write
one stream to a file.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return bindFlags(cmd, viper.GetViper())
	},
}

// Execute adds all child commands to the root command and runs it.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "",
		"config file (default is ./dashabr.yaml or $HOME/.config/dashabr/dashabr.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("media-server-url", "http://localhost:9999", "media server base URL")
	rootCmd.PersistentFlags().Int("window-size", 3, "throughput estimator window, in segments")

	rootCmd.AddCommand(serveCmd, fetchCmd, configCmd)
}

// initConfig reads in the config file and environment variables.
func initConfig() {
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		viper.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			viper.AddConfigPath(filepath.Join(home, ".config", "dashabr"))
		}
		viper.AddConfigPath("/etc/dashabr")
		viper.SetConfigName("dashabr")
		viper.SetConfigType("yaml")
	}

	config.BindEnv(viper.GetViper())
	config.SetDefaults(viper.GetViper())

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			fmt.Fprintf(os.Stderr, "Error reading config file: %v\n", err)
			os.Exit(1)
		}
	}
}

// bindFlags binds each cobra flag to its viper key. Dashed flag names map
// to underscored keys, so --media-server-url sets media_server_url.
func bindFlags(cmd *cobra.Command, v *viper.Viper) error {
	var lastErr error

	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		key := strings.ReplaceAll(f.Name, "-", "_")
		if key == "config" {
			return
		}

		// A flag left at its default must not mask a file or env value.
		if !f.Changed {
			return
		}
		if err := v.BindPFlag(key, f); err != nil {
			lastErr = err
		}
	})

	return lastErr
}

// app holds the components shared by the commands.
type app struct {
	cfg     *config.Config
	log     logger.Logger
	metrics *metrics.Metrics
	client  *dash.Client
	manager *session.Manager
}

func newApp() (*app, error) {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, err
	}

	log := logger.NewLogger(cfg.LogLevel)
	m := metrics.New()
	client := dash.NewClient(log.With("component", "dash"), cfg.DashOptions())
	client.SetObserver(m)
	manager := session.NewManager(log, client, m, cfg.SessionOptions())

	return &app{cfg: cfg, log: log, metrics: m, client: client, manager: manager}, nil
}
