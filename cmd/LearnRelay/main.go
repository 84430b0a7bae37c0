package main

import (
	"errors"
	"flag"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/BTreeMap/LearnRelay/internal/api"
	"github.com/BTreeMap/LearnRelay/internal/genai"
	"github.com/BTreeMap/LearnRelay/internal/history"
	"github.com/BTreeMap/LearnRelay/internal/linebot"
	"github.com/BTreeMap/LearnRelay/internal/lockfile"
	"github.com/BTreeMap/LearnRelay/internal/messaging"
	"github.com/BTreeMap/LearnRelay/internal/session"
	"github.com/BTreeMap/LearnRelay/internal/store"
	"github.com/BTreeMap/LearnRelay/internal/twiliowhatsapp"
	"github.com/BTreeMap/LearnRelay/internal/util"
	"github.com/BTreeMap/LearnRelay/internal/whatsapp"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for LearnRelay state data
	DefaultStateDir = "/var/lib/learnrelay"
	// DefaultWhatsAppDBFileName is the default whatsmeow SQLite database filename
	DefaultWhatsAppDBFileName = "whatsmeow.db"
	// LockOwner names the state directory lock
	LockOwner = "learnrelay"
)

func main() {
	// Initialize structured logger
	initializeLogger()

	// Load environment configuration
	config := loadEnvironmentConfig()

	// Parse command line flags
	flags := parseCommandLineFlags(config)

	// Ensure required directories exist
	if err := ensureDirectoriesExist(flags); err != nil {
		slog.Error("Failed to create required directories", "error", err)
		os.Exit(1)
	}

	lock, err := lockfile.Acquire(*flags.stateDir, LockOwner)
	if err != nil {
		var held *lockfile.HeldError
		if errors.As(err, &held) {
			slog.Error("Another LearnRelay instance is using the state directory", "error", err)
		} else {
			slog.Error("Failed to lock state directory", "error", err)
		}
		os.Exit(1)
	}

	// Build module options
	genaiOpts := buildGenAIOptions(config, flags)
	sessionOpts := buildSessionOptions(config)
	historyOpts := buildHistoryOptions(config)
	apiOpts := buildAPIOptions(config, flags)

	// Start the service
	slog.Info("Bootstrapping LearnRelay with configured modules", "platform", *flags.platform)
	slog.Debug("Module options counts", "genai", len(genaiOpts), "session", len(sessionOpts), "history", len(historyOpts), "api", len(apiOpts))
	runErr := api.Run(genaiOpts, sessionOpts, historyOpts, apiOpts)
	if err := lock.Release(); err != nil {
		slog.Warn("Failed to release state directory lock", "error", err)
	}
	if runErr != nil {
		slog.Error("LearnRelay failed to run", "error", runErr)
		os.Exit(1)
	}
	slog.Info("LearnRelay exited successfully")
}

// Config holds environment configuration
type Config struct {
	Platform           string
	StateDir           string
	LineChannelSecret  string
	LineAccessToken    string
	TwilioAccountSID   string
	TwilioAuthToken    string
	TwilioFromNumber   string
	TwilioWebhookURL   string
	WhatsAppDSN        string
	OpenAIKey          string
	AnthropicKey       string
	GenAIProvider      string
	GenAIModel         string
	GenAIFineTuned     string
	GenAIMaxTokens     int
	GenAITimeout       time.Duration
	GenAIAttempts      int
	GenAIBackoff       time.Duration
	HistoryURL         string
	HistoryDSN         string
	HistoryLimit       int
	SessionTTL         time.Duration
	MenuOnFollow       bool
	Shortcuts          bool
	DailyChallengeCron string
	APIAddr            string
	AdminToken         string
	DatabaseURL        string
}

// Flags holds command line flag values
type Flags struct {
	platform      *string
	stateDir      *string
	apiAddr       *string
	whatsappDSN   *string
	qrOutput      *string
	numeric       *bool
	historyURL    *string
	historyDSN    *string
	databaseURL   *string
	openaiKey     *string
	challengeCron *string
}

// initializeLogger sets up structured logging with debug level
func initializeLogger() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		Platform:           strings.ToLower(strings.TrimSpace(os.Getenv("PLATFORM"))),
		StateDir:           os.Getenv("LEARNRELAY_STATE_DIR"),
		LineChannelSecret:  os.Getenv("LINE_CHANNEL_SECRET"),
		LineAccessToken:    os.Getenv("LINE_CHANNEL_ACCESS_TOKEN"),
		TwilioAccountSID:   os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioAuthToken:    os.Getenv("TWILIO_AUTH_TOKEN"),
		TwilioFromNumber:   os.Getenv("TWILIO_FROM_NUMBER"),
		TwilioWebhookURL:   os.Getenv("TWILIO_WEBHOOK_URL"),
		WhatsAppDSN:        os.Getenv("WHATSAPP_DB_DSN"),
		OpenAIKey:          os.Getenv("OPENAI_API_KEY"),
		AnthropicKey:       os.Getenv("ANTHROPIC_API_KEY"),
		GenAIProvider:      os.Getenv("GENAI_PROVIDER"),
		GenAIModel:         os.Getenv("GENAI_MODEL"),
		GenAIFineTuned:     os.Getenv("GENAI_FINETUNED_MODEL"),
		GenAIMaxTokens:     util.ParseIntEnv("GENAI_MAX_TOKENS", genai.DefaultMaxTokens),
		GenAITimeout:       util.ParseDurationEnv("GENAI_TIMEOUT", genai.DefaultTimeout),
		GenAIAttempts:      util.ParseIntEnv("GENAI_ATTEMPTS", genai.DefaultAttempts),
		GenAIBackoff:       util.ParseDurationEnv("GENAI_BACKOFF", genai.DefaultBackoffStep),
		HistoryURL:         os.Getenv("HISTORY_URL"),
		HistoryDSN:         os.Getenv("HISTORY_DSN"),
		HistoryLimit:       util.ParseIntEnv("HISTORY_LIMIT", 0),
		SessionTTL:         util.ParseDurationEnv("SESSION_TTL", session.DefaultTTL),
		MenuOnFollow:       util.ParseBoolEnv("MODE_MENU_ON_FOLLOW", false),
		Shortcuts:          util.ParseBoolEnv("MODE_SHORTCUTS", false),
		DailyChallengeCron: os.Getenv("DAILY_CHALLENGE_CRON"),
		APIAddr:            os.Getenv("API_ADDR"),
		AdminToken:         os.Getenv("ADMIN_TOKEN"),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
	}

	if config.Platform == "" {
		config.Platform = messaging.PlatformLine
		slog.Debug("No PLATFORM set, using default", "platform", config.Platform)
	}

	// Set default state directory if not specified
	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No LEARNRELAY_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	}

	// Default the whatsmeow database to SQLite in the state directory
	if config.WhatsAppDSN == "" {
		config.WhatsAppDSN = defaultWhatsAppDSN(config.StateDir)
		slog.Debug("No WHATSAPP_DB_DSN provided, defaulting to SQLite", "dsn", config.WhatsAppDSN)
	}

	slog.Debug("environment variables loaded",
		"PLATFORM", config.Platform,
		"LEARNRELAY_STATE_DIR", config.StateDir,
		"LINE_CHANNEL_SECRET_SET", config.LineChannelSecret != "",
		"LINE_CHANNEL_ACCESS_TOKEN_SET", config.LineAccessToken != "",
		"TWILIO_ACCOUNT_SID_SET", config.TwilioAccountSID != "",
		"TWILIO_WEBHOOK_URL", config.TwilioWebhookURL,
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"ANTHROPIC_API_KEY_SET", config.AnthropicKey != "",
		"GENAI_PROVIDER", config.GenAIProvider,
		"GENAI_MODEL", config.GenAIModel,
		"HISTORY_URL", config.HistoryURL,
		"HISTORY_DSN_SET", config.HistoryDSN != "",
		"SESSION_TTL", config.SessionTTL,
		"DAILY_CHALLENGE_CRON", config.DailyChallengeCron,
		"API_ADDR", config.APIAddr,
		"ADMIN_TOKEN_SET", config.AdminToken != "",
		"DATABASE_URL_SET", config.DatabaseURL != "")

	return config
}

func defaultWhatsAppDSN(stateDir string) string {
	return "file:" + filepath.Join(stateDir, DefaultWhatsAppDBFileName) + "?_foreign_keys=on"
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	fs := flag.CommandLine
	flags := Flags{
		platform:      fs.String("platform", config.Platform, "chat platform: line, twilio or whatsapp (overrides $PLATFORM)"),
		stateDir:      fs.String("state-dir", config.StateDir, "state directory for LearnRelay data (overrides $LEARNRELAY_STATE_DIR)"),
		apiAddr:       fs.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		whatsappDSN:   fs.String("whatsapp-db-dsn", config.WhatsAppDSN, "whatsmeow database DSN (overrides $WHATSAPP_DB_DSN)"),
		qrOutput:      fs.String("qr-output", "", "path to write the WhatsApp login QR code"),
		numeric:       fs.Bool("numeric-code", false, "use numeric WhatsApp login code instead of QR code"),
		historyURL:    fs.String("history-url", config.HistoryURL, "history store service base URL (overrides $HISTORY_URL)"),
		historyDSN:    fs.String("history-dsn", config.HistoryDSN, "local history database DSN (overrides $HISTORY_DSN)"),
		databaseURL:   fs.String("db-dsn", config.DatabaseURL, "webhook dedup database DSN (overrides $DATABASE_URL)"),
		openaiKey:     fs.String("openai-api-key", config.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)"),
		challengeCron: fs.String("daily-challenge-cron", config.DailyChallengeCron, "cron schedule for the daily challenge (overrides $DAILY_CHALLENGE_CRON)"),
	}

	flag.Parse()

	slog.Debug("flags parsed",
		"platform", *flags.platform,
		"stateDir", *flags.stateDir,
		"apiAddr", *flags.apiAddr,
		"whatsappDSN_set", *flags.whatsappDSN != "",
		"qrOutput", *flags.qrOutput,
		"numeric", *flags.numeric,
		"historyURL", *flags.historyURL,
		"historyDSN_set", *flags.historyDSN != "",
		"dbDSN_set", *flags.databaseURL != "",
		"openaiKeySet", *flags.openaiKey != "",
		"challengeCron", *flags.challengeCron)

	// Follow a moved state directory unless the whatsmeow DSN was set explicitly
	if *flags.whatsappDSN == defaultWhatsAppDSN(config.StateDir) && *flags.stateDir != config.StateDir {
		*flags.whatsappDSN = defaultWhatsAppDSN(*flags.stateDir)
		slog.Debug("Updated WhatsApp DSN based on state directory", "new_state_dir", *flags.stateDir)
	}

	return flags
}

// ensureDirectoriesExist creates the state directory and the directories of file-based databases
func ensureDirectoriesExist(flags Flags) error {
	dirs := []string{*flags.stateDir}
	for _, dsn := range []string{*flags.whatsappDSN, *flags.historyDSN, *flags.databaseURL} {
		if dsn == "" || store.DetectDSNType(dsn) == store.DSNTypePostgres {
			continue
		}
		if path := store.SQLitePath(dsn); path != "" {
			dirs = append(dirs, filepath.Dir(path))
		}
	}
	for _, dir := range dirs {
		slog.Debug("Creating directory for file-based storage", "dir", dir)
		if err := os.MkdirAll(dir, 0755); err != nil {
			slog.Error("Failed to create directory", "error", err, "dir", dir)
			return err
		}
	}
	return nil
}

// buildGenAIOptions constructs completion gateway options
func buildGenAIOptions(config Config, flags Flags) []genai.Option {
	genaiOpts := []genai.Option{
		genai.WithMaxTokens(config.GenAIMaxTokens),
		genai.WithTimeout(config.GenAITimeout),
		genai.WithAttempts(config.GenAIAttempts),
		genai.WithBackoffStep(config.GenAIBackoff),
	}
	if config.GenAIProvider != "" {
		genaiOpts = append(genaiOpts, genai.WithProvider(config.GenAIProvider))
	}
	if *flags.openaiKey != "" {
		genaiOpts = append(genaiOpts, genai.WithAPIKey(*flags.openaiKey))
	}
	if config.AnthropicKey != "" {
		genaiOpts = append(genaiOpts, genai.WithAnthropicAPIKey(config.AnthropicKey))
	}
	if config.GenAIModel != "" {
		genaiOpts = append(genaiOpts, genai.WithModel(config.GenAIModel))
	}
	if config.GenAIFineTuned != "" {
		genaiOpts = append(genaiOpts, genai.WithFineTunedModel(config.GenAIFineTuned))
	}
	return genaiOpts
}

// buildSessionOptions constructs session store options
func buildSessionOptions(config Config) []session.Option {
	return []session.Option{session.WithTTL(config.SessionTTL)}
}

// buildHistoryOptions constructs history client options
func buildHistoryOptions(config Config) []history.Option {
	var historyOpts []history.Option
	if t := util.ParseDurationEnv("HISTORY_TIMEOUT", 0); t > 0 {
		historyOpts = append(historyOpts, history.WithTimeout(t))
	}
	return historyOpts
}

// buildAPIOptions constructs relay options, including the platform and its credentials
func buildAPIOptions(config Config, flags Flags) []api.Option {
	var apiOpts []api.Option
	switch *flags.platform {
	case messaging.PlatformTwilio:
		var twOpts []twiliowhatsapp.Option
		if config.TwilioAccountSID != "" {
			twOpts = append(twOpts, twiliowhatsapp.WithAccountSID(config.TwilioAccountSID))
		}
		if config.TwilioAuthToken != "" {
			twOpts = append(twOpts, twiliowhatsapp.WithAuthToken(config.TwilioAuthToken))
		}
		if config.TwilioFromNumber != "" {
			twOpts = append(twOpts, twiliowhatsapp.WithFromWhats(config.TwilioFromNumber))
		}
		apiOpts = append(apiOpts, api.WithTwilio(config.TwilioAuthToken, config.TwilioWebhookURL, twOpts...))
	case messaging.PlatformWhatsApp:
		var waOpts []whatsapp.Option
		if *flags.whatsappDSN != "" {
			waOpts = append(waOpts, whatsapp.WithDBDSN(*flags.whatsappDSN))
		}
		if *flags.qrOutput != "" {
			waOpts = append(waOpts, whatsapp.WithQRCodeOutput(*flags.qrOutput))
		}
		if *flags.numeric {
			waOpts = append(waOpts, whatsapp.WithNumericCode())
		}
		apiOpts = append(apiOpts, api.WithWhatsApp(waOpts...))
	default:
		var lineOpts []linebot.Option
		if config.LineAccessToken != "" {
			lineOpts = append(lineOpts, linebot.WithChannelAccessToken(config.LineAccessToken))
		}
		apiOpts = append(apiOpts, api.WithLine(config.LineChannelSecret, lineOpts...))
	}

	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	if *flags.historyURL != "" {
		apiOpts = append(apiOpts, api.WithHistoryURL(*flags.historyURL))
	}
	if *flags.historyDSN != "" {
		apiOpts = append(apiOpts, api.WithHistoryDSN(*flags.historyDSN))
	}
	if config.HistoryLimit > 0 {
		apiOpts = append(apiOpts, api.WithHistoryTurns(config.HistoryLimit))
	}
	if *flags.databaseURL != "" {
		apiOpts = append(apiOpts, api.WithDedupDSN(*flags.databaseURL))
	}
	if *flags.challengeCron != "" {
		apiOpts = append(apiOpts, api.WithChallengeCron(*flags.challengeCron))
	}
	if config.AdminToken != "" {
		apiOpts = append(apiOpts, api.WithAdminToken(config.AdminToken))
	}
	apiOpts = append(apiOpts, api.WithMenuOnFollow(config.MenuOnFollow), api.WithShortcuts(config.Shortcuts))
	return apiOpts
}
