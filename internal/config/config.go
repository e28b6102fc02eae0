package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/brandon/mailsync/internal/credential"
)

// Config holds the application configuration
type Config struct {
	// Cache settings
	CachePath         string `mapstructure:"cache_path"`
	FilesPath         string `mapstructure:"files_path"`
	KeyringPath       string `mapstructure:"keyring_path"`
	SearchResultLimit int    `mapstructure:"search_result_limit"`
	LogLevel          string `mapstructure:"log_level"`

	Sync SyncConfig `mapstructure:"sync"`

	// Accounts
	Accounts []AccountConfig `mapstructure:"accounts"`
}

// SyncConfig holds the synchronization preferences
type SyncConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
	// DownloadMaxSize caps eager downloads on metered networks, in bytes
	DownloadMaxSize int64 `mapstructure:"download_max_size"`
	Metered         bool  `mapstructure:"metered"`
	FilterRules     bool  `mapstructure:"filter_rules"`
	Debug           bool  `mapstructure:"debug"`
	Avatars         bool  `mapstructure:"avatars"`
	SyncDays        int   `mapstructure:"sync_days"`
	KeepDays        int   `mapstructure:"keep_days"`
}

// AccountConfig holds configuration for a single email account
type AccountConfig struct {
	Name        string  `mapstructure:"name"`
	Email       string  `mapstructure:"email"`
	DisplayName string  `mapstructure:"display_name"`
	Prefix      *string `mapstructure:"prefix"`
	PlainOnly   bool    `mapstructure:"plain_only"`

	// IMAP settings
	IMAPHost     string `mapstructure:"imap_host"`
	IMAPPort     int    `mapstructure:"imap_port"`
	IMAPUsername string `mapstructure:"imap_username"`
	IMAPPassword string `mapstructure:"imap_password"`

	// SMTP settings
	SMTPHost     string `mapstructure:"smtp_host"`
	SMTPPort     int    `mapstructure:"smtp_port"`
	SMTPUsername string `mapstructure:"smtp_username"`
	SMTPPassword string `mapstructure:"smtp_password"`
}

// Secrets looks up passwords that are not in the configuration
type Secrets interface {
	Get(key string) (string, error)
}

// SetDefaults registers the default values on v
func SetDefaults(v *viper.Viper) {
	v.SetDefault("cache_path", "/data/mailsync.db")
	v.SetDefault("files_path", "/data/files")
	v.SetDefault("keyring_path", "/data/keyring")
	v.SetDefault("search_result_limit", 100)
	v.SetDefault("log_level", "info")
	v.SetDefault("sync.poll_interval", 15*time.Minute)
	v.SetDefault("sync.download_max_size", 32768)
	v.SetDefault("sync.metered", false)
	v.SetDefault("sync.filter_rules", true)
	v.SetDefault("sync.debug", false)
	v.SetDefault("sync.avatars", true)
	v.SetDefault("sync.sync_days", 7)
	v.SetDefault("sync.keep_days", 30)
}

// LoadConfig loads configuration from v. Accounts come from the accounts
// list of the config file, or else from environment variables. Missing
// passwords are looked up in secrets when it is not nil.
func LoadConfig(v *viper.Viper, secrets Secrets) (*Config, error) {
	SetDefaults(v)

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}

	if len(cfg.Accounts) == 0 {
		accounts, err := loadAccounts(v)
		if err != nil {
			return nil, fmt.Errorf("failed to load accounts: %w", err)
		}
		cfg.Accounts = accounts
	}

	if len(cfg.Accounts) == 0 {
		return nil, fmt.Errorf("no email accounts configured")
	}

	for i := range cfg.Accounts {
		if err := resolveAccount(&cfg.Accounts[i], secrets); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// resolveAccount fills in defaults and passwords kept outside the configuration
func resolveAccount(acc *AccountConfig, secrets Secrets) error {
	if acc.IMAPPort == 0 {
		acc.IMAPPort = 993
	}
	if acc.SMTPPort == 0 {
		acc.SMTPPort = 587
	}
	if acc.SMTPUsername == "" {
		acc.SMTPUsername = acc.IMAPUsername
	}
	if acc.Email == "" {
		acc.Email = acc.IMAPUsername
	}

	if acc.IMAPPassword == "" && secrets != nil {
		password, err := secrets.Get(credential.Key(acc.Name, "imap"))
		if err != nil && !errors.Is(err, credential.ErrNotFound) {
			return fmt.Errorf("account %s: %w", acc.Name, err)
		}
		acc.IMAPPassword = password
	}
	if acc.SMTPPassword == "" && secrets != nil {
		if password, err := secrets.Get(credential.Key(acc.Name, "smtp")); err == nil {
			acc.SMTPPassword = password
		}
	}
	if acc.SMTPPassword == "" {
		acc.SMTPPassword = acc.IMAPPassword
	}
	return nil
}

// loadAccounts loads email account configurations from environment variables
func loadAccounts(v *viper.Viper) ([]AccountConfig, error) {
	var accounts []AccountConfig

	// First, try single account configuration (for backward compatibility)
	if v.GetString("imap_host") != "" {
		account, err := loadAccount(v, "")
		if err != nil {
			return nil, err
		}
		if account.Name == "" {
			account.Name = "default"
		}
		return append(accounts, *account), nil
	}

	// Load multiple accounts (ACCOUNT_1_*, ACCOUNT_2_*, etc.)
	for num := 1; ; num++ {
		prefix := fmt.Sprintf("account_%d_", num)
		if v.GetString(prefix+"name") == "" {
			break
		}
		account, err := loadAccount(v, prefix)
		if err != nil {
			return nil, fmt.Errorf("account %d: %w", num, err)
		}
		accounts = append(accounts, *account)
	}

	if len(accounts) == 0 {
		return nil, fmt.Errorf("no accounts found in environment variables")
	}
	return accounts, nil
}

// loadAccount reads one account whose keys start with prefix
func loadAccount(v *viper.Viper, prefix string) (*AccountConfig, error) {
	acc := &AccountConfig{
		Name:         v.GetString(prefix + "name"),
		Email:        v.GetString(prefix + "email"),
		DisplayName:  v.GetString(prefix + "display_name"),
		IMAPHost:     v.GetString(prefix + "imap_host"),
		IMAPPort:     v.GetInt(prefix + "imap_port"),
		IMAPUsername: v.GetString(prefix + "imap_username"),
		IMAPPassword: v.GetString(prefix + "imap_password"),
		SMTPHost:     v.GetString(prefix + "smtp_host"),
		SMTPPort:     v.GetInt(prefix + "smtp_port"),
		SMTPUsername: v.GetString(prefix + "smtp_username"),
		SMTPPassword: v.GetString(prefix + "smtp_password"),
	}
	if prefix == "" {
		acc.Name = v.GetString("account_name")
	}
	if p := v.GetString(prefix + "prefix"); p != "" {
		acc.Prefix = &p
	}

	if acc.IMAPHost == "" {
		return nil, fmt.Errorf("IMAP_HOST is required")
	}
	if acc.IMAPUsername == "" {
		return nil, fmt.Errorf("IMAP_USERNAME is required")
	}
	return acc, nil
}

// GetAccountByName finds an account by name
func (c *Config) GetAccountByName(name string) (*AccountConfig, error) {
	for i := range c.Accounts {
		if c.Accounts[i].Name == name {
			return &c.Accounts[i], nil
		}
	}
	return nil, fmt.Errorf("account not found: %s", name)
}

// GetDefaultAccount returns the first account (or default account if named "default")
func (c *Config) GetDefaultAccount() *AccountConfig {
	if len(c.Accounts) == 0 {
		return nil
	}

	// Try to find "default" account first
	for i := range c.Accounts {
		if c.Accounts[i].Name == "default" {
			return &c.Accounts[i]
		}
	}

	// Return first account
	return &c.Accounts[0]
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.CachePath == "" {
		return fmt.Errorf("cache_path is required")
	}
	if c.FilesPath == "" {
		return fmt.Errorf("files_path is required")
	}

	if c.SearchResultLimit < 1 || c.SearchResultLimit > 1000 {
		return fmt.Errorf("search_result_limit must be between 1 and 1000")
	}
	if c.Sync.PollInterval < time.Minute {
		return fmt.Errorf("sync.poll_interval must be at least one minute")
	}
	if c.Sync.SyncDays < 1 || c.Sync.KeepDays < c.Sync.SyncDays {
		return fmt.Errorf("sync.keep_days must be at least sync.sync_days, which must be positive")
	}

	if len(c.Accounts) == 0 {
		return fmt.Errorf("at least one account must be configured")
	}

	// Validate each account
	seen := make(map[string]bool, len(c.Accounts))
	for i := range c.Accounts {
		acc := &c.Accounts[i]
		if acc.Name == "" {
			return fmt.Errorf("account %d: name is required", i+1)
		}
		if seen[acc.Name] {
			return fmt.Errorf("account %s: duplicate name", acc.Name)
		}
		seen[acc.Name] = true
		if acc.IMAPHost == "" {
			return fmt.Errorf("account %s: imap_host is required", acc.Name)
		}
		if acc.IMAPPort < 1 || acc.IMAPPort > 65535 {
			return fmt.Errorf("account %s: invalid imap_port", acc.Name)
		}
		if acc.SMTPHost != "" && (acc.SMTPPort < 1 || acc.SMTPPort > 65535) {
			return fmt.Errorf("account %s: invalid smtp_port", acc.Name)
		}
		if acc.IMAPPassword == "" {
			return fmt.Errorf("account %s: no IMAP password configured or stored", acc.Name)
		}
	}

	return nil
}

// AccountNames returns a list of all account names
func (c *Config) AccountNames() []string {
	names := make([]string, len(c.Accounts))
	for i := range c.Accounts {
		names[i] = c.Accounts[i].Name
	}
	return names
}
