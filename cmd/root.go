package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/echotab/internal/logging"
	"github.com/joescharf/echotab/internal/output"
	"github.com/joescharf/echotab/internal/store"
)

// Package-level shared dependencies, initialized in cobra.OnInitialize.
var (
	ui        *output.UI
	logger    *slog.Logger
	dataStore *store.SQLiteStore

	verbose bool
	dryRun  bool
)

const envPrefix = "ECHOTAB"

var rootCmd = &cobra.Command{
	Use:   "echotab",
	Short: "EchoTab - save, tag, and share browser tabs",
	Long: `echotab is the backend for the EchoTab browser extension.
It stores saved tabs and tags, captures page snapshots, and serves
shareable link collections over a REST API and public web pages.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	DisableAutoGenTag: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

// Execute is the main entry point called from main.go.
func Execute(version, commit, date string) {
	buildVersion = version
	buildCommit = commit
	buildDate = date

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig, initDeps)

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().BoolVarP(&dryRun, "dry-run", "n", false, "Show what would happen without making changes")
	rootCmd.PersistentFlags().String("config", "", "Config file (default ~/.config/echotab/config.yaml)")
}

// setDefaults registers every config key's default relative to configDir.
func setDefaults(configDir string) {
	viper.SetDefault("state_dir", configDir)
	viper.SetDefault("db_path", filepath.Join(configDir, "echotab.db"))
	viper.SetDefault("log.level", "info")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.base_url", "http://localhost:8080")
	viper.SetDefault("server.trust_proxy", false)
	viper.SetDefault("auth.header", "X-User-Id")
	viper.SetDefault("lists.max_per_user", store.MaxListsPerUser)
	viper.SetDefault("lists.default_user", "")
	viper.SetDefault("ratelimit.per_minute", 60)
	viper.SetDefault("ratelimit.burst", 10)
	viper.SetDefault("snapshot.width", 640)
	viper.SetDefault("snapshot.height", 360)
	viper.SetDefault("snapshot.quality", 80)
	viper.SetDefault("snapshot.capture_timeout", 10*time.Second)
	viper.SetDefault("snapshot.temp_ttl", 24*time.Hour)
	viper.SetDefault("browser.enabled", true)
	viper.SetDefault("browser.remote_url", "")
	viper.SetDefault("anthropic.api_key", "")
	viper.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
}

func initConfig() {
	home, err := os.UserHomeDir()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: cannot find home directory: %v\n", err)
		os.Exit(1)
	}
	configDir := filepath.Join(home, ".config", "echotab")

	if cfgFile, _ := rootCmd.PersistentFlags().GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(configDir)
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults(configDir)

	// Read config file if it exists (optional)
	_ = viper.ReadInConfig()
}

func initDeps() {
	ui = output.New()
	ui.Verbose = verbose
	ui.DryRun = dryRun

	level := viper.GetString("log.level")
	if verbose {
		level = "debug"
	}
	logger = logging.Setup(os.Stderr, level)
}

// getStore returns the shared store, initializing it on first call.
func getStore() (*store.SQLiteStore, error) {
	if dataStore != nil {
		return dataStore, nil
	}

	dbPath := viper.GetString("db_path")
	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := s.Migrate(context.Background()); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	s.SetListQuota(viper.GetInt("lists.max_per_user"))

	dataStore = s
	return dataStore, nil
}
