package app

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/brandon/mailsync/internal/cache"
	"github.com/brandon/mailsync/internal/config"
	"github.com/brandon/mailsync/internal/core"
	"github.com/brandon/mailsync/internal/credential"
	"github.com/brandon/mailsync/internal/email"
	"github.com/brandon/mailsync/internal/mcp"
	"github.com/brandon/mailsync/internal/rules"
	"github.com/brandon/mailsync/internal/tools"
)

var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "mailsync",
	Short: "Offline-first mail synchronization server",
	Long:  "Mirrors IMAP accounts into a local cache, replays queued changes to the server and serves the cache over MCP",
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Synchronize accounts and serve MCP over stdio",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := newLogger()

		secrets, err := credential.Open(viper.GetString("keyring_path"))
		if err != nil {
			logger.WithError(err).Warn("Keyring unavailable, using configured passwords only")
		}
		var lookup config.Secrets
		if secrets != nil {
			lookup = secrets
		}

		cfg, err := config.LoadConfig(viper.GetViper(), lookup)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
			logger.SetLevel(level)
		}

		logger.WithField("version", version).Info("Starting mailsync")

		emailCache, err := cache.NewCache(cfg.CachePath, logger)
		if err != nil {
			return fmt.Errorf("failed to initialize cache: %w", err)
		}
		defer emailCache.Close()
		store := cache.NewStore(emailCache, logger)

		files, err := cache.NewFiles(cfg.FilesPath)
		if err != nil {
			return fmt.Errorf("failed to initialize file store: %w", err)
		}

		engine := newEngine(cfg, store, files, logger)
		notifier := email.NewLogNotifier(logger)
		engine.SetNotifier(notifier)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		manager := email.NewManager(cfg, store, engine, logger)
		if err := manager.Start(ctx); err != nil {
			return fmt.Errorf("failed to start synchronization: %w", err)
		}
		defer manager.Close()

		registry := tools.NewRegistry(tools.Deps{
			Config:        cfg,
			Store:         store,
			Files:         files,
			Syncer:        manager,
			Notifications: notifier,
			Logger:        logger,
		})
		server := mcp.NewServer(registry, version, logger)

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

		errChan := make(chan error, 1)
		go func() {
			errChan <- server.Run(ctx, os.Stdin, os.Stdout)
		}()

		select {
		case sig := <-sigChan:
			logger.WithField("signal", sig).Info("Received shutdown signal")
		case err := <-errChan:
			if err != nil {
				logger.WithError(err).Error("Server error")
			}
		}
		cancel()

		logger.Info("Shutting down mailsync")
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "mailsync version %s\n", version)
	},
}

var credentialCmd = &cobra.Command{
	Use:   "credential",
	Short: "Manage account passwords in the keyring",
}

var credentialSetCmd = &cobra.Command{
	Use:   "set <account> <imap|smtp>",
	Short: "Store a password read from stdin",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := credentialKey(args)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "Password for %s: ", key)
		line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		if err != nil && line == "" {
			return fmt.Errorf("failed to read password: %w", err)
		}
		password := strings.TrimRight(line, "\r\n")
		if password == "" {
			return fmt.Errorf("empty password")
		}

		secrets, err := credential.Open(viper.GetString("keyring_path"))
		if err != nil {
			return err
		}
		return secrets.Set(key, password)
	},
}

var credentialDeleteCmd = &cobra.Command{
	Use:   "delete <account> <imap|smtp>",
	Short: "Remove a stored password",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := credentialKey(args)
		if err != nil {
			return err
		}
		secrets, err := credential.Open(viper.GetString("keyring_path"))
		if err != nil {
			return err
		}
		return secrets.Delete(key)
	},
}

func credentialKey(args []string) (string, error) {
	switch args[1] {
	case "imap", "smtp":
		return credential.Key(args[0], args[1]), nil
	}
	return "", fmt.Errorf("unknown protocol %q, want imap or smtp", args[1])
}

// newEngine builds the synchronization engine from the sync preferences
func newEngine(cfg *config.Config, store *cache.Store, files *cache.Files, logger *logrus.Logger) *core.Engine {
	metered := cfg.Sync.Metered
	engine := core.NewEngine(store, files, core.Settings{
		MaxDownloadSize: cfg.Sync.DownloadMaxSize,
		Metered:         func() (bool, bool) { return metered, true },
		FilterRules:     cfg.Sync.FilterRules,
		Debug:           cfg.Sync.Debug,
	}, logger)
	engine.SetRuleEngine(rules.NewEngine(logger))
	if !cfg.Sync.Avatars {
		engine.SetAvatarLookup(nil)
	}
	return engine
}

// newLogger logs JSON to stderr; stdout carries the MCP transport
func newLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stderr)
	if level, err := logrus.ParseLevel(viper.GetString("log_level")); err == nil {
		logger.SetLevel(level)
	}
	return logger
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String("config", "", "Config file (default ./config.yaml)")
	rootCmd.PersistentFlags().String("log_level", "info", "Log level")
	rootCmd.PersistentFlags().String("keyring_path", "/data/keyring", "Directory of the file keyring fallback")
	runCmd.Flags().String("cache_path", "/data/mailsync.db", "SQLite cache database")
	runCmd.Flags().String("files_path", "/data/files", "Directory for bodies and attachments")
	runCmd.Flags().Bool("sync.metered", false, "Treat the network as metered")

	viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))             //nolint:errcheck
	viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log_level"))       //nolint:errcheck
	viper.BindPFlag("keyring_path", rootCmd.PersistentFlags().Lookup("keyring_path")) //nolint:errcheck
	viper.BindPFlag("cache_path", runCmd.Flags().Lookup("cache_path"))                //nolint:errcheck
	viper.BindPFlag("files_path", runCmd.Flags().Lookup("files_path"))                //nolint:errcheck
	viper.BindPFlag("sync.metered", runCmd.Flags().Lookup("sync.metered"))            //nolint:errcheck

	credentialCmd.AddCommand(credentialSetCmd, credentialDeleteCmd)
	rootCmd.AddCommand(runCmd, versionCmd, credentialCmd)
}

func initConfig() {
	if path := viper.GetString("config"); path != "" {
		viper.SetConfigFile(path)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("/etc/mailsync")
	}
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintf(os.Stderr, "Using config file: %s\n", viper.ConfigFileUsed())
	}
}

// Execute runs the root command
func Execute(v string) {
	version = v
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
