package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/toml/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

var (
	ErrConfigFileNotFound    = errors.New("could not find config file in any config path")
	ErrConfigVersionMissing  = errors.New("config file is missing version field")
	ErrConfigVersionMismatch = errors.New("config file version mismatch")
)

// Current version of the config files.
const (
	CurrentCommonVersion = 1
	CurrentBotVersion    = 1
	CurrentWorkerVersion = 1
)

// Config represents the entire application configuration.
type Config struct {
	Common CommonConfig
	Bot    BotConfig
	Worker WorkerConfig
}

// CommonConfig contains configuration shared between the bot and the workers.
type CommonConfig struct {
	// Version of the common config.
	Version      int          `koanf:"version"`
	Debug        Debug        `koanf:"debug"`
	PostgreSQL   PostgreSQL   `koanf:"postgresql"`
	Redis        Redis        `koanf:"redis"`
	Telegram     Telegram     `koanf:"telegram"`
	Mail         Mail         `koanf:"mail"`
	Verification Verification `koanf:"verification"`
	Roster       Roster       `koanf:"roster"`
}

// BotConfig contains live bot specific configuration.
type BotConfig struct {
	// Version of the bot config.
	Version int `koanf:"version"`
	// Long-poll timeout in seconds for getUpdates.
	PollTimeout int `koanf:"poll_timeout"`
}

// WorkerConfig contains batch job specific configuration.
type WorkerConfig struct {
	// Version of the worker config.
	Version int `koanf:"version"`
	// Maximum allowed roster size change versus the previous roster (0..1).
	MaxRosterDelta float64 `koanf:"max_roster_delta"`
	// Lookback window in hours for the cleaner's import integrity check.
	ImportLookbackHours int `koanf:"import_lookback_hours"`
}

// Debug contains debug-related configuration.
type Debug struct {
	// Log level (debug, info, warn, error).
	LogLevel string `koanf:"log_level"`
	// Maximum log session directories to keep.
	MaxLogsToKeep int `koanf:"max_logs_to_keep"`
}

// PostgreSQL contains database connection configuration.
type PostgreSQL struct {
	// Database hostname.
	Host string `koanf:"host"`
	// Database port.
	Port int `koanf:"port"`
	// Database username.
	User string `koanf:"user"`
	// Database password.
	Password string `koanf:"password"`
	// Database name.
	DBName string `koanf:"db_name"`
	// Maximum open connections.
	MaxOpenConns int `koanf:"max_open_conns"`
	// Maximum idle connections.
	MaxIdleConns int `koanf:"max_idle_conns"`
	// Connection lifetime in minutes.
	MaxLifetime int `koanf:"max_lifetime"`
	// Idle timeout in minutes.
	MaxIdleTime int `koanf:"max_idle_time"`
}

// Redis contains Redis connection configuration.
type Redis struct {
	// Redis hostname.
	Host string `koanf:"host"`
	// Redis port.
	Port int `koanf:"port"`
	// Redis username.
	Username string `koanf:"username"`
	// Redis password.
	Password string `koanf:"password"`
}

// Telegram contains Bot API configuration.
type Telegram struct {
	// Bot token for authentication.
	Token string `koanf:"token"`
	// Chat ID of the managed company channel.
	ChannelID int64 `koanf:"channel_id"`
}

// Mail contains the transactional email service configuration.
type Mail struct {
	// API endpoint for sending mail.
	APIURL string `koanf:"api_url"`
	// API key for authentication.
	APIKey string `koanf:"api_key"`
	// Sender display name.
	SenderName string `koanf:"sender_name"`
	// Sender email address.
	SenderEmail string `koanf:"sender_email"`
}

// Verification contains the verification policy configuration.
type Verification struct {
	// Corporate email domain, without the @ sign.
	WorkDomain string `koanf:"work_domain"`
	// Emails always treated as valid regardless of domain or roster.
	ExcludedEmails []string `koanf:"excluded_emails"`
	// Hex-encoded AES key for email encryption at rest (16/24/32 bytes).
	EncryptionKey string `koanf:"encryption_key"`
}

// Roster contains the HR file exchange directory layout.
type Roster struct {
	// Directory where the company drops active_users_<date>.csv files.
	ImportDir string `koanf:"import_dir"`
	// Directory where export files are written for the company to collect.
	ExportDir string `koanf:"export_dir"`
}

// NormalizedExcludedEmails returns the exemption list lowercased and trimmed,
// with empty entries removed.
func (v *Verification) NormalizedExcludedEmails() []string {
	out := make([]string, 0, len(v.ExcludedEmails))

	for _, email := range v.ExcludedEmails {
		email = strings.ToLower(strings.TrimSpace(email))
		if email != "" {
			out = append(out, email)
		}
	}

	return out
}

// LoadConfig loads the configuration from the first config path that contains
// all config files. It returns the config and the path it was loaded from.
func LoadConfig() (*Config, string, error) {
	k := koanf.New(".")

	// Get user's home directory
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, "", fmt.Errorf("failed to get home directory: %w", err)
	}

	// List search paths
	configPaths := []string{
		".pulsegate",
		homeDir + "/.pulsegate/config",
		"/etc/pulsegate/config",
		"/app/config",
		"config",
		".",
	}

	// Load all config files
	var usedConfigPath string

	configFiles := []string{"common", "bot", "worker"}
	for _, configName := range configFiles {
		configLoaded := false

		for _, path := range configPaths {
			configPath := fmt.Sprintf("%s/%s.toml", path, configName)
			if err := k.Load(file.Provider(configPath), toml.Parser()); err == nil {
				configLoaded = true

				if usedConfigPath == "" {
					usedConfigPath = path
				}

				break
			}
		}

		if !configLoaded {
			return nil, "", fmt.Errorf("%w: %s.toml", ErrConfigFileNotFound, configName)
		}
	}

	var config Config
	if err := k.Unmarshal("", &config); err != nil {
		return nil, "", fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Check versions for each config file
	if err := checkConfigVersion("common", config.Common.Version, CurrentCommonVersion); err != nil {
		return nil, "", err
	}

	if err := checkConfigVersion("bot", config.Bot.Version, CurrentBotVersion); err != nil {
		return nil, "", err
	}

	if err := checkConfigVersion("worker", config.Worker.Version, CurrentWorkerVersion); err != nil {
		return nil, "", err
	}

	return &config, usedConfigPath, nil
}

// checkConfigVersion validates a config file's version field.
func checkConfigVersion(name string, current, expected int) error {
	if current == 0 {
		return fmt.Errorf("%w: %s.toml", ErrConfigVersionMissing, name)
	}

	if current != expected {
		return fmt.Errorf("%w: %s.toml has version %d, expected %d",
			ErrConfigVersionMismatch, name, current, expected)
	}

	return nil
}
