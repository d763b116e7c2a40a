package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/gunmm/woodenfish/pkg/keychain"
	"github.com/gunmm/woodenfish/pkg/purchase"
)

// Environment variables read by Load.
const (
	EnvDataDir         = "WOODENFISH_DATA_DIR"
	EnvAppDir          = "WOODENFISH_APP_DIR"
	EnvKeychainBackend = "WOODENFISH_KEYCHAIN_BACKEND"
	EnvKeychainService = "WOODENFISH_KEYCHAIN_SERVICE"
	EnvProductID       = "WOODENFISH_PRODUCT_ID"
	EnvTrialDays       = "WOODENFISH_TRIAL_DAYS"
	EnvAssetsDir       = "WOODENFISH_ASSETS_DIR"
	EnvLogLevel        = "LOG_LEVEL"
	EnvLogFormat       = "LOG_FORMAT"
	EnvLogFile         = "LOG_FILE"
)

const (
	defaultTrialDays = 7
	// maxTrialDays bounds WOODENFISH_TRIAL_DAYS.
	maxTrialDays     = 36500
)

// Config holds runtime settings.
type Config struct {
	// DataDir holds durable data (the keychain and the sandbox store account).
	// It survives a reinstall.
	DataDir string
	// AppDir holds regular app data that a reinstall wipes.
	AppDir string

	KeychainBackend string
	KeychainService string
	ProductID       string
	TrialDuration   time.Duration
	AssetsDir       string

	LogLevel  string
	LogFormat string
	LogFile   string

	// EnvOverrides records which settings came from the environment.
	EnvOverrides map[string]bool
}

// Load builds the configuration from defaults, .env files and the environment.
func Load() (*Config, error) {
	root, err := defaultRoot()
	if err != nil {
		return nil, err
	}

	appDir := filepath.Join(root, "app")
	if dir := strings.TrimSpace(os.Getenv(EnvAppDir)); dir != "" {
		appDir = dir
	}

	// Load .env from the app directory if present.
	envFile := filepath.Join(appDir, ".env")
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			log.Warn().Err(err).Str("file", envFile).Msg("Failed to load .env file")
		} else {
			log.Debug().Str("file", envFile).Msg("Loaded .env file")
		}
	}

	// Also try the current directory for development.
	if err := godotenv.Load(); err == nil {
		log.Debug().Msg("Loaded configuration from .env in current directory")
	}

	cfg := &Config{
		DataDir:         filepath.Join(root, "keychain"),
		AppDir:          appDir,
		KeychainBackend: keychain.BackendFile,
		KeychainService: keychain.DefaultService,
		ProductID:       purchase.DefaultProductID,
		TrialDuration:   defaultTrialDays * 24 * time.Hour,
		AssetsDir:       "assets",
		LogLevel:        "info",
		LogFormat:       "auto",
		EnvOverrides:    make(map[string]bool),
	}

	// The app dir may itself come from a .env file.
	if dir := strings.TrimSpace(os.Getenv(EnvAppDir)); dir != "" {
		cfg.AppDir = dir
		cfg.EnvOverrides["appDir"] = true
	}
	if dir := strings.TrimSpace(os.Getenv(EnvDataDir)); dir != "" {
		cfg.DataDir = dir
		cfg.EnvOverrides["dataDir"] = true
	}
	if backend := strings.TrimSpace(os.Getenv(EnvKeychainBackend)); backend != "" {
		cfg.KeychainBackend = strings.ToLower(backend)
		cfg.EnvOverrides["keychainBackend"] = true
	}
	if service := strings.TrimSpace(os.Getenv(EnvKeychainService)); service != "" {
		cfg.KeychainService = service
		cfg.EnvOverrides["keychainService"] = true
	}
	if productID := strings.TrimSpace(os.Getenv(EnvProductID)); productID != "" {
		cfg.ProductID = productID
		cfg.EnvOverrides["productID"] = true
	}
	if days := strings.TrimSpace(os.Getenv(EnvTrialDays)); days != "" {
		n, err := strconv.Atoi(days)
		if err != nil {
			return nil, fmt.Errorf("invalid %s %q: %w", EnvTrialDays, days, err)
		}
		if n < 1 || n > maxTrialDays {
			return nil, fmt.Errorf("invalid %s %d: must be between 1 and %d", EnvTrialDays, n, maxTrialDays)
		}
		cfg.TrialDuration = time.Duration(n) * 24 * time.Hour
		cfg.EnvOverrides["trialDuration"] = true
	}
	if assets := strings.TrimSpace(os.Getenv(EnvAssetsDir)); assets != "" {
		cfg.AssetsDir = assets
		cfg.EnvOverrides["assetsDir"] = true
	}
	if level := strings.TrimSpace(os.Getenv(EnvLogLevel)); level != "" {
		cfg.LogLevel = level
		cfg.EnvOverrides["logLevel"] = true
	}
	if format := strings.TrimSpace(os.Getenv(EnvLogFormat)); format != "" {
		cfg.LogFormat = format
		cfg.EnvOverrides["logFormat"] = true
	}
	if file := strings.TrimSpace(os.Getenv(EnvLogFile)); file != "" {
		cfg.LogFile = file
		cfg.EnvOverrides["logFile"] = true
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for values the app cannot run with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.ProductID) == "" {
		return fmt.Errorf("product id is required")
	}
	if c.TrialDuration <= 0 {
		return fmt.Errorf("trial duration must be positive, got %s", c.TrialDuration)
	}
	switch c.KeychainBackend {
	case keychain.BackendFile, keychain.BackendSQLite, keychain.BackendMemory:
	default:
		return fmt.Errorf("unknown keychain backend %q", c.KeychainBackend)
	}
	if c.DataDir == "" || c.AppDir == "" {
		return fmt.Errorf("data and app directories are required")
	}
	if overlaps(c.DataDir, c.AppDir) {
		return fmt.Errorf("data directory %q and app directory %q must not contain each other: reinstall would wipe entitlement data", c.DataDir, c.AppDir)
	}
	return nil
}

// overlaps reports whether a and b are the same directory or one is inside the other.
func overlaps(a, b string) bool {
	return within(a, b) || within(b, a)
}

func within(dir, root string) bool {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return false
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(absRoot, absDir)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

func defaultRoot() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home directory: %w", err)
	}
	return filepath.Join(home, ".woodenfish"), nil
}
