// Package config defines the configuration contract and handles loading and
// validating environment configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	// Canonical environment variable keys.
	KeyTelegramToken      = "TELEGRAM_TOKEN"
	KeyBotOwner           = "BOT_OWNER"
	KeyMongoURI           = "MONGO_URI"
	KeyMongoDB            = "MONGO_DB"
	KeyAppEnv             = "APP_ENV"
	KeyLogLevel           = "LOG_LEVEL"
	KeyHTTPPort           = "HTTP_PORT"
	KeyFreeMatchesPerDay  = "FREE_MATCHES_PER_DAY"
	KeyRebindCooldownHrs  = "REBIND_COOLDOWN_HOURS"
	KeyCryptoAddress      = "CRYPTO_ADDRESS"
	KeyCryptoPollInterval = "CRYPTO_POLL_INTERVAL_SECONDS"
	KeyCryptoPollCount    = "CRYPTO_POLL_COUNT"
	KeyCryptoPayAPIKey    = "ZERO_CRYPTO_PAY_API_KEY"
	KeySteamAPIKey        = "STEAM_API_KEY"
	KeyWotApplicationID   = "WOT_APPLICATION_ID"
	KeyRiotAPIKey         = "RIOT_API_KEY"
	KeyPubgAPIKey         = "PUBG_API_KEY"

	// Allowed environment values.
	EnvDevelopment = "development"
	EnvProduction  = "production"

	// Defaults for optional settings.
	DefaultAppEnv             = EnvProduction
	DefaultLogLevel           = "info"
	DefaultHTTPPort           = 8080
	DefaultFreeMatchesPerDay  = 2
	DefaultRebindCooldownHrs  = 48
	DefaultCryptoPollInterval = 30
	DefaultCryptoPollCount    = 20

	// Recommended database names by environment.
	DefaultMongoDBProd = "game_results_bot"
	DefaultMongoDBDev  = "game_results_bot_dev"
)

// VarSpec describes a single configuration key.
type VarSpec struct {
	Key         string // environment variable name
	Example     string // human-friendly sample value
	Required    bool   // whether the bot must refuse to start without this value
	Default     string // default when unset (empty when required)
	Description string // what the variable controls
	Notes       string // extra guidance or policies
}

// Contract enumerates the authoritative configuration keys for the bot.
// .env loading is only permitted when APP_ENV=development; production must rely
// on environment variables supplied by the runtime.
var Contract = []VarSpec{
	{
		Key:         KeyTelegramToken,
		Example:     "123:ABC",
		Required:    true,
		Description: "Telegram Bot Token issued by BotFather.",
	},
	{
		Key:         KeyBotOwner,
		Example:     "123456789",
		Required:    true,
		Description: "Super admin Telegram user_id with owner privileges.",
	},
	{
		Key:         KeyMongoURI,
		Example:     "mongodb://localhost:27017",
		Required:    true,
		Description: "MongoDB connection string.",
	},
	{
		Key:         KeyMongoDB,
		Example:     DefaultMongoDBProd + " / " + DefaultMongoDBDev,
		Required:    true,
		Description: "MongoDB database name.",
		Notes:       "Recommended: production=" + DefaultMongoDBProd + ", development=" + DefaultMongoDBDev + ".",
	},
	{
		Key:         KeyAppEnv,
		Example:     EnvDevelopment + " / " + EnvProduction,
		Default:     DefaultAppEnv,
		Description: "Runtime environment; controls log format and dotenv usage.",
		Notes:       "Load .env files only when APP_ENV=" + EnvDevelopment + ".",
	},
	{
		Key:         KeyLogLevel,
		Example:     DefaultLogLevel,
		Default:     DefaultLogLevel,
		Description: "Overrides default log level.",
	},
	{
		Key:         KeyHTTPPort,
		Example:     strconv.Itoa(DefaultHTTPPort),
		Default:     strconv.Itoa(DefaultHTTPPort),
		Description: "HTTP health/diagnostics port.",
	},
	{
		Key:         KeyFreeMatchesPerDay,
		Example:     strconv.Itoa(DefaultFreeMatchesPerDay),
		Default:     strconv.Itoa(DefaultFreeMatchesPerDay),
		Description: "Daily free stat lookups for users without a subscription.",
	},
	{
		Key:         KeyRebindCooldownHrs,
		Example:     strconv.Itoa(DefaultRebindCooldownHrs),
		Default:     strconv.Itoa(DefaultRebindCooldownHrs),
		Description: "Hours a user must wait before replacing a linked game account.",
	},
	{
		Key:         KeyCryptoAddress,
		Example:     "TB3gXVXXb7ueq1siwuSNoLD7yXg6g7ByDJ",
		Description: "Deposit address shown for cryptocurrency payments.",
		Notes:       "Crypto payments are disabled when unset.",
	},
	{
		Key:         KeyCryptoPollInterval,
		Example:     strconv.Itoa(DefaultCryptoPollInterval),
		Default:     strconv.Itoa(DefaultCryptoPollInterval),
		Description: "Seconds between crypto payment status checks.",
	},
	{
		Key:         KeyCryptoPollCount,
		Example:     strconv.Itoa(DefaultCryptoPollCount),
		Default:     strconv.Itoa(DefaultCryptoPollCount),
		Description: "Status checks before a crypto payment watch gives up.",
	},
	{
		Key:         KeyCryptoPayAPIKey,
		Example:     "zcp_live_...",
		Description: "zerocryptopay.com API key, used to confirm incoming crypto transfers.",
		Notes:       "Without it pending crypto payments can only be settled via /paycheck support flows.",
	},
	{
		Key:         KeySteamAPIKey,
		Example:     "7DA945...",
		Description: "Steam Web API key, used to verify CS:GO accounts.",
	},
	{
		Key:         KeyWotApplicationID,
		Example:     "demo",
		Description: "Wargaming application id, used to verify World of Tanks accounts.",
	},
	{
		Key:         KeyRiotAPIKey,
		Example:     "RGAPI-...",
		Description: "Riot API key, used to verify Valorant and LoL accounts.",
	},
	{
		Key:         KeyPubgAPIKey,
		Example:     "eyJhbGci...",
		Description: "PUBG API key, used to verify PUBG accounts.",
	},
}

// Config mirrors resolved configuration values after loading.
type Config struct {
	TelegramToken      string
	BotOwnerID         int64
	MongoURI           string
	MongoDB            string
	AppEnv             string
	LogLevel           string
	HTTPPort           int
	FreeMatchesPerDay  int
	RebindCooldown     time.Duration
	CryptoAddress      string
	CryptoPollInterval time.Duration
	CryptoPollCount    int
	CryptoPayAPIKey    string
	SteamAPIKey        string
	WotApplicationID   string
	RiotAPIKey         string
	PubgAPIKey         string
}

// Load resolves configuration from the environment (with optional dotenv in development).
func Load() (Config, error) {
	appEnv, err := resolveAppEnv()
	if err != nil {
		return Config{}, err
	}

	if err := loadDotEnv(appEnv); err != nil {
		return Config{}, err
	}

	cfg := Config{
		AppEnv:             firstNonEmpty(normalizeEnv(os.Getenv(KeyAppEnv)), appEnv),
		TelegramToken:      strings.TrimSpace(os.Getenv(KeyTelegramToken)),
		MongoURI:           strings.TrimSpace(os.Getenv(KeyMongoURI)),
		MongoDB:            strings.TrimSpace(os.Getenv(KeyMongoDB)),
		LogLevel:           firstNonEmpty(strings.TrimSpace(os.Getenv(KeyLogLevel)), DefaultLogLevel),
		HTTPPort:           DefaultHTTPPort,
		FreeMatchesPerDay:  DefaultFreeMatchesPerDay,
		RebindCooldown:     DefaultRebindCooldownHrs * time.Hour,
		CryptoAddress:      strings.TrimSpace(os.Getenv(KeyCryptoAddress)),
		CryptoPollInterval: DefaultCryptoPollInterval * time.Second,
		CryptoPollCount:    DefaultCryptoPollCount,
		CryptoPayAPIKey:    strings.TrimSpace(os.Getenv(KeyCryptoPayAPIKey)),
		SteamAPIKey:        strings.TrimSpace(os.Getenv(KeySteamAPIKey)),
		WotApplicationID:   strings.TrimSpace(os.Getenv(KeyWotApplicationID)),
		RiotAPIKey:         strings.TrimSpace(os.Getenv(KeyRiotAPIKey)),
		PubgAPIKey:         strings.TrimSpace(os.Getenv(KeyPubgAPIKey)),
	}

	if err := validateAppEnv(cfg.AppEnv); err != nil {
		return Config{}, err
	}

	missing := make([]string, 0)

	if cfg.TelegramToken == "" {
		missing = append(missing, KeyTelegramToken)
	}

	ownerRaw := strings.TrimSpace(os.Getenv(KeyBotOwner))
	if ownerRaw == "" {
		missing = append(missing, KeyBotOwner)
	} else {
		ownerID, parseErr := strconv.ParseInt(ownerRaw, 10, 64)
		if parseErr != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", KeyBotOwner, parseErr)
		}
		cfg.BotOwnerID = ownerID
	}

	if cfg.MongoURI == "" {
		missing = append(missing, KeyMongoURI)
	}

	if cfg.MongoDB == "" {
		missing = append(missing, KeyMongoDB)
	}

	if len(missing) > 0 {
		return Config{}, fmt.Errorf("missing required environment variable(s): %s", strings.Join(missing, ", "))
	}

	if port, ok, err := positiveIntFromEnv(KeyHTTPPort); err != nil {
		return Config{}, err
	} else if ok {
		cfg.HTTPPort = port
	}

	if limit, ok, err := positiveIntFromEnv(KeyFreeMatchesPerDay); err != nil {
		return Config{}, err
	} else if ok {
		cfg.FreeMatchesPerDay = limit
	}

	if hours, ok, err := positiveIntFromEnv(KeyRebindCooldownHrs); err != nil {
		return Config{}, err
	} else if ok {
		cfg.RebindCooldown = time.Duration(hours) * time.Hour
	}

	if seconds, ok, err := positiveIntFromEnv(KeyCryptoPollInterval); err != nil {
		return Config{}, err
	} else if ok {
		cfg.CryptoPollInterval = time.Duration(seconds) * time.Second
	}

	if count, ok, err := positiveIntFromEnv(KeyCryptoPollCount); err != nil {
		return Config{}, err
	} else if ok {
		cfg.CryptoPollCount = count
	}

	return cfg, nil
}

// FormatRedacted renders the resolved configuration with secrets masked, for
// the --config-only startup check.
func FormatRedacted(cfg Config) string {
	lines := []string{
		KeyAppEnv + "=" + cfg.AppEnv,
		KeyTelegramToken + "=" + redact(cfg.TelegramToken),
		KeyBotOwner + "=" + strconv.FormatInt(cfg.BotOwnerID, 10),
		KeyMongoURI + "=" + redact(cfg.MongoURI),
		KeyMongoDB + "=" + cfg.MongoDB,
		KeyLogLevel + "=" + cfg.LogLevel,
		KeyHTTPPort + "=" + strconv.Itoa(cfg.HTTPPort),
		KeyFreeMatchesPerDay + "=" + strconv.Itoa(cfg.FreeMatchesPerDay),
		KeyRebindCooldownHrs + "=" + strconv.Itoa(int(cfg.RebindCooldown/time.Hour)),
		KeyCryptoAddress + "=" + redact(cfg.CryptoAddress),
		KeyCryptoPollInterval + "=" + strconv.Itoa(int(cfg.CryptoPollInterval/time.Second)),
		KeyCryptoPollCount + "=" + strconv.Itoa(cfg.CryptoPollCount),
		KeyCryptoPayAPIKey + "=" + redact(cfg.CryptoPayAPIKey),
		KeySteamAPIKey + "=" + redact(cfg.SteamAPIKey),
		KeyWotApplicationID + "=" + redact(cfg.WotApplicationID),
		KeyRiotAPIKey + "=" + redact(cfg.RiotAPIKey),
		KeyPubgAPIKey + "=" + redact(cfg.PubgAPIKey),
	}

	return strings.Join(lines, "\n")
}

func redact(value string) string {
	if value == "" {
		return "(unset)"
	}
	if len(value) <= 4 {
		return "****"
	}

	return value[:2] + "****" + value[len(value)-2:]
}

// IsDevelopment reports if APP_ENV is development.
func (c Config) IsDevelopment() bool {
	return c.AppEnv == EnvDevelopment
}

// CryptoEnabled reports whether cryptocurrency payments are configured.
func (c Config) CryptoEnabled() bool {
	return c.CryptoAddress != ""
}

func positiveIntFromEnv(key string) (int, bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return 0, false, nil
	}

	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false, fmt.Errorf("invalid %s: %w", key, err)
	}
	if value <= 0 {
		return 0, false, fmt.Errorf("%s must be greater than 0", key)
	}

	return value, true, nil
}

func resolveAppEnv() (string, error) {
	if explicit := normalizeEnv(os.Getenv(KeyAppEnv)); explicit != "" {
		return explicit, nil
	}

	dotEnvValues, err := godotenv.Read()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return DefaultAppEnv, nil
		}
		return "", fmt.Errorf("read .env: %w", err)
	}

	if envFromFile := normalizeEnv(dotEnvValues[KeyAppEnv]); envFromFile != "" {
		return envFromFile, nil
	}

	return DefaultAppEnv, nil
}

func loadDotEnv(appEnv string) error {
	if appEnv != EnvDevelopment {
		return nil
	}

	if err := godotenv.Load(); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load .env: %w", err)
	}

	return nil
}

func validateAppEnv(appEnv string) error {
	if appEnv == EnvDevelopment || appEnv == EnvProduction {
		return nil
	}

	return fmt.Errorf("invalid %s: must be %q or %q", KeyAppEnv, EnvDevelopment, EnvProduction)
}

func normalizeEnv(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}

func firstNonEmpty(values ...string) string {
	for _, val := range values {
		if strings.TrimSpace(val) != "" {
			return strings.TrimSpace(val)
		}
	}
	return ""
}
