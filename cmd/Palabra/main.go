package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/BTreeMap/Palabra/internal/api"
	"github.com/BTreeMap/Palabra/internal/assistant"
	"github.com/BTreeMap/Palabra/internal/flow"
	"github.com/BTreeMap/Palabra/internal/genai"
	"github.com/BTreeMap/Palabra/internal/lockfile"
	"github.com/BTreeMap/Palabra/internal/messaging"
	"github.com/BTreeMap/Palabra/internal/scheduler"
	"github.com/BTreeMap/Palabra/internal/store"
	"github.com/BTreeMap/Palabra/internal/twiliowhatsapp"
	"github.com/BTreeMap/Palabra/internal/util"
	"github.com/BTreeMap/Palabra/internal/whatsapp"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for Palabra state data
	DefaultStateDir = "/var/lib/palabra"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "palabra.db"
	// DefaultWhatsAppDBFileName is the default whatsmeow device store filename
	DefaultWhatsAppDBFileName = "whatsmeow.db"

	TransportTwilio    = "twilio"
	TransportWhatsmeow = "whatsmeow"
)

var errUnknownTransport = errors.New("unknown transport")

func main() {
	initializeLogger(os.Getenv("LOG_LEVEL"))

	config := loadEnvironmentConfig()
	config, err := parseCommandLineFlags(flag.CommandLine, os.Args[1:], config)
	if err != nil {
		slog.Error("Failed to parse flags", "error", err)
		os.Exit(2)
	}
	if err := ensureDirectoriesExist(config); err != nil {
		slog.Error("Failed to create required directories", "error", err)
		os.Exit(1)
	}

	lock, err := acquireStateLock(config)
	if err != nil {
		slog.Error("Failed to lock state directory", "error", err)
		os.Exit(1)
	}
	defer lock.Release()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Bootstrapping Palabra", "transport", config.Transport, "language", config.TargetLanguage, "api_addr", config.APIAddr)
	if err := run(ctx, config); err != nil {
		slog.Error("Palabra failed to run", "error", err)
		lock.Release()
		os.Exit(1)
	}
	slog.Info("Palabra exited successfully")
}

// Config holds the resolved configuration.
type Config struct {
	StateDir    string
	DatabaseDSN string
	WhatsAppDSN string

	OpenAIKey        string
	OpenAIBaseURL    string
	OpenAIModel      string
	AssistantTimeout time.Duration
	Temperature      float64
	MaxTokens        int
	GenAIDebug       bool
	TargetLanguage   string
	CacheSize        int

	APIAddr   string
	Transport string

	TwilioAccountSID        string
	TwilioAuthToken         string
	TwilioFrom              string
	TwilioWebhookURL        string
	TwilioValidateSignature bool

	QROutput    string
	NumericCode bool

	ReminderCron string
}

// initializeLogger sets up structured logging; level defaults to debug.
func initializeLogger(level string) {
	lvl := slog.LevelDebug
	if level != "" {
		if err := lvl.UnmarshalText([]byte(level)); err != nil {
			lvl = slog.LevelDebug
		}
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	stateDir := util.StringEnv("PALABRA_STATE_DIR", DefaultStateDir)
	config := Config{
		StateDir:    stateDir,
		DatabaseDSN: util.StringEnv("DATABASE_URL", filepath.Join(stateDir, DefaultDBFileName)),
		WhatsAppDSN: util.StringEnv("WHATSAPP_DB_DSN", "file:"+filepath.Join(stateDir, DefaultWhatsAppDBFileName)+"?_foreign_keys=on"),

		OpenAIKey:        os.Getenv("OPENAI_API_KEY"),
		OpenAIBaseURL:    os.Getenv("OPENAI_BASE_URL"),
		OpenAIModel:      util.StringEnv("OPENAI_MODEL", genai.DefaultModel),
		AssistantTimeout: util.ParseDurationEnv("ASSISTANT_TIMEOUT", genai.DefaultTimeout),
		Temperature:      util.ParseFloatEnv("OPENAI_TEMPERATURE", genai.DefaultTemperature),
		MaxTokens:        util.ParseIntEnv("OPENAI_MAX_TOKENS", genai.DefaultMaxTokens),
		GenAIDebug:       util.ParseBoolEnv("GENAI_DEBUG", false),
		TargetLanguage:   util.StringEnv("TARGET_LANGUAGE", assistant.DefaultTargetLanguage),
		CacheSize:        util.ParseIntEnv("ASSISTANT_CACHE_SIZE", assistant.DefaultCacheSize),

		APIAddr:   util.StringEnv("API_ADDR", api.DefaultAddr),
		Transport: strings.ToLower(util.StringEnv("TRANSPORT", TransportTwilio)),

		TwilioAccountSID:        os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioAuthToken:         os.Getenv("TWILIO_AUTH_TOKEN"),
		TwilioFrom:              os.Getenv("TWILIO_FROM_NUMBER"),
		TwilioWebhookURL:        os.Getenv("TWILIO_WEBHOOK_URL"),
		TwilioValidateSignature: util.ParseBoolEnv("TWILIO_VALIDATE_SIGNATURE", false),

		ReminderCron: os.Getenv("REMINDER_CRON"),
	}

	slog.Debug("environment variables loaded",
		"PALABRA_STATE_DIR", config.StateDir,
		"DATABASE_URL_SET", os.Getenv("DATABASE_URL") != "",
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"OPENAI_MODEL", config.OpenAIModel,
		"TARGET_LANGUAGE", config.TargetLanguage,
		"TRANSPORT", config.Transport,
		"REMINDER_CRON", config.ReminderCron)
	return config
}

// parseCommandLineFlags applies flag overrides on top of config.
func parseCommandLineFlags(fs *flag.FlagSet, args []string, config Config) (Config, error) {
	defaultDSN := filepath.Join(config.StateDir, DefaultDBFileName)

	stateDir := fs.String("state-dir", config.StateDir, "state directory for Palabra data (overrides $PALABRA_STATE_DIR)")
	dbDSN := fs.String("db-dsn", config.DatabaseDSN, "application database DSN; empty keeps state in memory (overrides $DATABASE_URL)")
	waDSN := fs.String("whatsapp-db-dsn", config.WhatsAppDSN, "whatsmeow device store DSN (overrides $WHATSAPP_DB_DSN)")
	openaiKey := fs.String("openai-api-key", config.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)")
	model := fs.String("model", config.OpenAIModel, "chat model (overrides $OPENAI_MODEL)")
	language := fs.String("language", config.TargetLanguage, "language being learned (overrides $TARGET_LANGUAGE)")
	apiAddr := fs.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)")
	transport := fs.String("transport", config.Transport, "messaging transport: twilio or whatsmeow (overrides $TRANSPORT)")
	reminderCron := fs.String("reminder-cron", config.ReminderCron, "cron expression for review reminders; empty disables (overrides $REMINDER_CRON)")
	qrOutput := fs.String("qr-output", "", "path to write login QR code")
	numeric := fs.Bool("numeric-code", false, "use numeric login code instead of QR code")

	if err := fs.Parse(args); err != nil {
		return config, err
	}

	// A new state dir moves the default SQLite file with it.
	if *stateDir != config.StateDir && *dbDSN == defaultDSN {
		*dbDSN = filepath.Join(*stateDir, DefaultDBFileName)
	}

	config.StateDir = *stateDir
	config.DatabaseDSN = *dbDSN
	config.WhatsAppDSN = *waDSN
	config.OpenAIKey = *openaiKey
	config.OpenAIModel = *model
	config.TargetLanguage = *language
	config.APIAddr = *apiAddr
	config.Transport = strings.ToLower(*transport)
	config.ReminderCron = *reminderCron
	config.QROutput = *qrOutput
	config.NumericCode = *numeric

	slog.Debug("flags parsed",
		"stateDir", config.StateDir,
		"dbDSN_set", config.DatabaseDSN != "",
		"transport", config.Transport,
		"apiAddr", config.APIAddr,
		"reminderCron", config.ReminderCron)
	return config, nil
}

// ensureDirectoriesExist creates the parent directory of a file-based DSN.
func ensureDirectoriesExist(config Config) error {
	if config.DatabaseDSN == "" || store.DetectDSNType(config.DatabaseDSN) == store.DriverPostgres {
		return nil
	}
	dir := filepath.Dir(strings.TrimPrefix(config.DatabaseDSN, "file:"))
	slog.Debug("Creating state directory for file-based database", "state_dir", dir)
	return os.MkdirAll(dir, store.DefaultDirPermissions)
}

// acquireStateLock locks the state directory when it holds SQLite files.
// PostgreSQL deployments may run several replicas and take no lock.
func acquireStateLock(config Config) (*lockfile.Lock, error) {
	usesSQLite := config.DatabaseDSN != "" && store.DetectDSNType(config.DatabaseDSN) == store.DriverSQLite
	usesWhatsmeowSQLite := config.Transport == TransportWhatsmeow && store.DetectDSNType(config.WhatsAppDSN) == store.DriverSQLite
	if !usesSQLite && !usesWhatsmeowSQLite {
		return nil, nil
	}
	return lockfile.AcquireLock(config.StateDir)
}

// buildStoreOptions constructs store configuration options
func buildStoreOptions(config Config) []store.Option {
	if config.DatabaseDSN == "" {
		slog.Debug("No database DSN provided, will use in-memory store")
		return nil
	}
	if store.DetectDSNType(config.DatabaseDSN) == store.DriverPostgres {
		return []store.Option{store.WithPostgresDSN(config.DatabaseDSN)}
	}
	return []store.Option{store.WithSQLiteDSN(config.DatabaseDSN)}
}

// buildGenAIOptions constructs GenAI configuration options
func buildGenAIOptions(config Config) []genai.Option {
	opts := []genai.Option{
		genai.WithAPIKey(config.OpenAIKey),
		genai.WithModel(config.OpenAIModel),
		genai.WithTimeout(config.AssistantTimeout),
		genai.WithTemperature(config.Temperature),
		genai.WithMaxTokens(int64(config.MaxTokens)),
	}
	if config.OpenAIBaseURL != "" {
		opts = append(opts, genai.WithBaseURL(config.OpenAIBaseURL))
	}
	if config.GenAIDebug {
		opts = append(opts, genai.WithDebugMode(true, config.StateDir))
	}
	return opts
}

// buildWhatsAppOptions constructs WhatsApp configuration options
func buildWhatsAppOptions(config Config) []whatsapp.Option {
	opts := []whatsapp.Option{whatsapp.WithDBDSN(config.WhatsAppDSN)}
	if config.QROutput != "" {
		opts = append(opts, whatsapp.WithQRCodeOutput(config.QROutput))
	}
	if config.NumericCode {
		opts = append(opts, whatsapp.WithNumericCode())
	}
	return opts
}

// buildAPIOptions constructs API server configuration options. The Twilio
// webhook is only served when svc is the Twilio transport.
func buildAPIOptions(config Config, svc messaging.Service) []api.Option {
	opts := []api.Option{api.WithAddr(config.APIAddr)}
	if tw, ok := svc.(*messaging.TwilioService); ok {
		opts = append(opts, api.WithInboundQueue(tw))
	}
	if config.TwilioValidateSignature {
		opts = append(opts, api.WithTwilioSignature(config.TwilioAuthToken, config.TwilioWebhookURL))
	}
	return opts
}

// buildMessagingService connects the configured transport.
func buildMessagingService(ctx context.Context, config Config) (messaging.Service, error) {
	switch config.Transport {
	case TransportTwilio:
		client, err := twiliowhatsapp.NewClient(
			twiliowhatsapp.WithAccountSID(config.TwilioAccountSID),
			twiliowhatsapp.WithAuthToken(config.TwilioAuthToken),
			twiliowhatsapp.WithFrom(config.TwilioFrom),
		)
		if err != nil {
			return nil, fmt.Errorf("twilio client: %w", err)
		}
		return messaging.NewTwilioService(client), nil
	case TransportWhatsmeow:
		client, err := whatsapp.NewClient(ctx, buildWhatsAppOptions(config)...)
		if err != nil {
			return nil, fmt.Errorf("whatsapp client: %w", err)
		}
		return messaging.NewWhatsAppService(client), nil
	default:
		return nil, fmt.Errorf("%w %q", errUnknownTransport, config.Transport)
	}
}

// run wires every component and blocks until ctx is cancelled.
func run(ctx context.Context, config Config) error {
	st, err := store.Open(buildStoreOptions(config)...)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	gaClient, err := genai.NewClient(buildGenAIOptions(config)...)
	if err != nil {
		return fmt.Errorf("genai client: %w", err)
	}
	asst, err := assistant.New(gaClient,
		assistant.WithTargetLanguage(config.TargetLanguage),
		assistant.WithCacheSize(config.CacheSize),
	)
	if err != nil {
		return fmt.Errorf("assistant: %w", err)
	}
	engine := flow.NewEngine(st, asst)

	svc, err := buildMessagingService(ctx, config)
	if err != nil {
		return err
	}
	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("start messaging: %w", err)
	}
	dispatcher := messaging.NewDispatcher(svc, engine, messaging.WithDedup(st))
	dispatcher.Start(ctx)
	defer func() {
		if err := svc.Stop(); err != nil {
			slog.Error("Failed to stop messaging service", "error", err)
		}
		dispatcher.Wait()
	}()

	sched := scheduler.NewScheduler()
	if err := scheduler.NewReminder(st, engine, svc).Schedule(sched, config.ReminderCron); err != nil {
		return err
	}
	sched.Start()
	defer sched.Stop()

	return api.NewServer(engine, buildAPIOptions(config, svc)...).Run(ctx)
}
