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

	"github.com/BTreeMap/ScreenPipe/internal/api"
	"github.com/BTreeMap/ScreenPipe/internal/catalog"
	"github.com/BTreeMap/ScreenPipe/internal/classify"
	"github.com/BTreeMap/ScreenPipe/internal/flow"
	"github.com/BTreeMap/ScreenPipe/internal/lockfile"
	"github.com/BTreeMap/ScreenPipe/internal/messaging"
	"github.com/BTreeMap/ScreenPipe/internal/metrics"
	"github.com/BTreeMap/ScreenPipe/internal/notify"
	"github.com/BTreeMap/ScreenPipe/internal/store"
	"github.com/BTreeMap/ScreenPipe/internal/twiliowhatsapp"
	"github.com/BTreeMap/ScreenPipe/internal/util"
	"github.com/BTreeMap/ScreenPipe/internal/whatsapp"
	"github.com/joho/godotenv"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for ScreenPipe state data
	DefaultStateDir = "/var/lib/screenpipe"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "screenpipe.db"
	// DefaultWhatsAppDBFileName is the default whatsmeow session database filename
	DefaultWhatsAppDBFileName = "whatsmeow.db"
	// DefaultStepsFile and DefaultFAQFile are resolved against the working directory
	DefaultStepsFile = "configs/steps.csv"
	DefaultFAQFile   = "configs/faq.csv"
)

func main() {
	config := loadEnvironmentConfig()
	flags := parseCommandLineFlags(config)
	initializeLogger(*flags.logLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, flags); err != nil {
		slog.Error("ScreenPipe failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("ScreenPipe exited successfully")
}

// Config holds environment configuration
type Config struct {
	StateDir       string
	DatabaseURL    string
	WhatsAppDSN    string
	APIAddr        string
	StepsFile      string
	FAQFile        string
	VocabularyFile string
	AdminID        string
	NotifyMode     string
	NotifyRelayURL string
	LogLevel       string

	WhatsAppEnabled bool
	TwilioInbound   bool
	WholeWords      bool
	Thresholds      classify.Thresholds
}

// Flags holds command line flag values
type Flags struct {
	qrOutput       *string
	numeric        *bool
	stateDir       *string
	dbDSN          *string
	waDSN          *string
	apiAddr        *string
	stepsFile      *string
	faqFile        *string
	vocabularyFile *string
	adminID        *string
	notifyMode     *string
	relayURL       *string
	logLevel       *string
	whatsapp       *bool
	twilioInbound  *bool
	wholeWords     *bool
	gate           *int
	faqThreshold   *int
	ctcLimit       *float64
}

// initializeLogger installs a text handler on stdout at the requested level.
func initializeLogger(level string) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
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

	config := Config{
		StateDir:        util.GetenvDefault("SCREENPIPE_STATE_DIR", DefaultStateDir),
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		WhatsAppDSN:     os.Getenv("WHATSAPP_DB_DSN"),
		APIAddr:         util.GetenvDefault("API_ADDR", api.DefaultAddr),
		StepsFile:       util.GetenvDefault("STEPS_FILE", DefaultStepsFile),
		FAQFile:         util.GetenvDefault("FAQ_FILE", DefaultFAQFile),
		VocabularyFile:  os.Getenv("VOCABULARY_FILE"),
		AdminID:         util.GetenvDefault("ADMIN_WA_ID", flow.DefaultAdminID),
		NotifyMode:      util.GetenvDefault("NOTIFY_MODE", notify.ModeRelay),
		NotifyRelayURL:  util.GetenvDefault("NOTIFY_RELAY_URL", notify.DefaultRelayURL),
		LogLevel:        util.GetenvDefault("LOG_LEVEL", "info"),
		WhatsAppEnabled: util.ParseBoolEnv("WHATSAPP_ENABLED", false),
		TwilioInbound:   util.ParseBoolEnv("TWILIO_INBOUND_ENABLED", false),
		WholeWords:      util.ParseBoolEnv("CLASSIFIER_WHOLE_WORDS", false),
		Thresholds: classify.Thresholds{
			Gate:        util.ParseIntEnv("GATE_THRESHOLD", classify.DefaultGateThreshold),
			FAQ:         util.ParseIntEnv("FAQ_THRESHOLD", classify.DefaultFAQThreshold),
			CTCLimitLPA: util.ParseFloatEnv("CTC_LIMIT_LPA", classify.DefaultCTCLimitLPA),
		},
	}

	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No DATABASE_URL provided, defaulting to SQLite", "sqlite_path", config.DatabaseURL)
	}
	if config.WhatsAppDSN == "" {
		config.WhatsAppDSN = "file:" + filepath.Join(config.StateDir, DefaultWhatsAppDBFileName) + "?_foreign_keys=on"
	}

	slog.Debug("environment variables loaded",
		"SCREENPIPE_STATE_DIR", config.StateDir,
		"DATABASE_URL_TYPE", store.DetectDSNType(config.DatabaseURL),
		"API_ADDR", config.APIAddr,
		"STEPS_FILE", config.StepsFile,
		"FAQ_FILE", config.FAQFile,
		"NOTIFY_MODE", config.NotifyMode,
		"WHATSAPP_ENABLED", config.WhatsAppEnabled)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	return parseFlags(flag.CommandLine, config, os.Args[1:])
}

func parseFlags(fs *flag.FlagSet, config Config, args []string) Flags {
	flags := Flags{
		qrOutput:       fs.String("qr-output", "", "path to write WhatsApp login QR code"),
		numeric:        fs.Bool("numeric-code", false, "use numeric login code instead of QR code"),
		stateDir:       fs.String("state-dir", config.StateDir, "state directory (overrides $SCREENPIPE_STATE_DIR)"),
		dbDSN:          fs.String("db-dsn", config.DatabaseURL, "state store: sqlite path, postgres DSN, redis:// URL or *.json snapshot (overrides $DATABASE_URL)"),
		waDSN:          fs.String("whatsapp-db-dsn", config.WhatsAppDSN, "whatsmeow session database (overrides $WHATSAPP_DB_DSN)"),
		apiAddr:        fs.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		stepsFile:      fs.String("steps-file", config.StepsFile, "interview steps CSV or YAML (overrides $STEPS_FILE)"),
		faqFile:        fs.String("faq-file", config.FAQFile, "FAQ CSV or YAML (overrides $FAQ_FILE)"),
		vocabularyFile: fs.String("vocabulary-file", config.VocabularyFile, "classifier vocabulary YAML (overrides $VOCABULARY_FILE)"),
		adminID:        fs.String("admin-id", config.AdminID, "recruiter chat id that receives summaries (overrides $ADMIN_WA_ID)"),
		notifyMode:     fs.String("notify-mode", config.NotifyMode, "relay, twilio, whatsapp or log (overrides $NOTIFY_MODE)"),
		relayURL:       fs.String("notify-relay-url", config.NotifyRelayURL, "relay notify endpoint (overrides $NOTIFY_RELAY_URL)"),
		logLevel:       fs.String("log-level", config.LogLevel, "debug, info, warn or error (overrides $LOG_LEVEL)"),
		whatsapp:       fs.Bool("whatsapp", config.WhatsAppEnabled, "receive candidate messages over WhatsApp (overrides $WHATSAPP_ENABLED)"),
		twilioInbound:  fs.Bool("twilio-inbound", config.TwilioInbound, "receive candidate messages via the Twilio webhook (overrides $TWILIO_INBOUND_ENABLED)"),
		wholeWords:     fs.Bool("whole-words", config.WholeWords, "match keywords on word boundaries (overrides $CLASSIFIER_WHOLE_WORDS)"),
		gate:           fs.Int("gate-threshold", config.Thresholds.Gate, "interest gate similarity threshold (overrides $GATE_THRESHOLD)"),
		faqThreshold:   fs.Int("faq-threshold", config.Thresholds.FAQ, "FAQ similarity threshold (overrides $FAQ_THRESHOLD)"),
		ctcLimit:       fs.Float64("ctc-limit", config.Thresholds.CTCLimitLPA, "CTC ceiling in LPA (overrides $CTC_LIMIT_LPA)"),
	}
	if err := fs.Parse(args); err != nil {
		slog.Warn("flag parsing failed", "error", err)
	}

	// Follow -state-dir when the store DSN is still the default inside the old state dir.
	if *flags.dbDSN == filepath.Join(config.StateDir, DefaultDBFileName) && *flags.stateDir != config.StateDir {
		*flags.dbDSN = filepath.Join(*flags.stateDir, DefaultDBFileName)
		slog.Debug("Updated dbDSN based on state directory", "state_dir", *flags.stateDir)
	}
	defaultWA := "file:" + filepath.Join(config.StateDir, DefaultWhatsAppDBFileName) + "?_foreign_keys=on"
	if *flags.waDSN == defaultWA && *flags.stateDir != config.StateDir {
		*flags.waDSN = "file:" + filepath.Join(*flags.stateDir, DefaultWhatsAppDBFileName) + "?_foreign_keys=on"
	}

	slog.Debug("flags parsed",
		"stateDir", *flags.stateDir,
		"dbDSN_type", store.DetectDSNType(*flags.dbDSN),
		"apiAddr", *flags.apiAddr,
		"notifyMode", *flags.notifyMode,
		"whatsapp", *flags.whatsapp,
		"twilioInbound", *flags.twilioInbound)
	return flags
}

// run wires every component and blocks until ctx is cancelled.
func run(ctx context.Context, flags Flags) error {
	lock, err := lockfile.Acquire(*flags.stateDir)
	if err != nil {
		return err
	}
	defer lock.Release()

	st, err := store.Open(buildStoreOptions(flags)...)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	cat, faq, cls, err := loadScreeningConfig(flags)
	if err != nil {
		return err
	}

	var waClient *whatsapp.Client
	if *flags.whatsapp {
		waClient, err = whatsapp.NewClient(buildWhatsAppOptions(flags)...)
		if err != nil {
			return fmt.Errorf("failed to start WhatsApp client: %w", err)
		}
	}

	notifier, err := buildNotifier(*flags.notifyMode, *flags.relayURL, waClient)
	if err != nil {
		return err
	}

	m := metrics.New()
	engine, err := flow.New(cat, faq, cls, st,
		flow.WithNotifier(notifier),
		flow.WithTranscript(st),
		flow.WithMetrics(m),
		flow.WithAdminID(*flags.adminID),
	)
	if err != nil {
		return fmt.Errorf("failed to build engine: %w", err)
	}
	defer engine.Close()

	apiOpts := buildAPIOptions(flags, st, m)
	if svc := buildMessagingService(flags, waClient); svc != nil {
		apiOpts = append(apiOpts, api.WithMessaging(svc, messaging.NewResponseHandler(svc, engine, st)))
	}

	slog.Info("Bootstrapping ScreenPipe",
		"steps", cat.Len(),
		"faq", len(faq.Entries()),
		"store", store.DetectDSNType(*flags.dbDSN),
		"notifier", notifier.Name())
	server := api.NewServer(engine, apiOpts...)
	if err := server.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// loadScreeningConfig reads the step catalog, FAQ table and vocabulary.
func loadScreeningConfig(flags Flags) (*catalog.Catalog, *catalog.FAQTable, *classify.Classifier, error) {
	cat, err := catalog.LoadSteps(*flags.stepsFile)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load steps: %w", err)
	}
	faq, err := catalog.LoadFAQ(*flags.faqFile)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load faq: %w", err)
	}

	vocab := classify.DefaultVocabulary()
	if *flags.vocabularyFile != "" {
		if vocab, err = classify.LoadVocabulary(*flags.vocabularyFile); err != nil {
			return nil, nil, nil, err
		}
	}
	if *flags.wholeWords {
		vocab.WholeWords = true
	}

	cls, err := classify.New(vocab, buildThresholds(flags))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to build classifier: %w", err)
	}
	return cat, faq, cls, nil
}

// buildThresholds collects the classifier cut-offs from flags
func buildThresholds(flags Flags) classify.Thresholds {
	return classify.Thresholds{
		Gate:        *flags.gate,
		FAQ:         *flags.faqThreshold,
		CTCLimitLPA: *flags.ctcLimit,
	}
}

// buildStoreOptions constructs store configuration options
func buildStoreOptions(flags Flags) []store.Option {
	dsn := *flags.dbDSN
	switch store.DetectDSNType(dsn) {
	case store.DSNTypePostgres:
		slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store")
		return []store.Option{store.WithPostgresDSN(dsn)}
	case store.DSNTypeSQLite:
		slog.Debug("Detected SQLite DSN, configuring SQLite store", "db_path", dsn)
		return []store.Option{store.WithSQLiteDSN(dsn)}
	case store.DSNTypeMemory:
		slog.Debug("No database DSN provided, will use in-memory store")
		return nil
	default:
		return []store.Option{store.WithDSN(dsn)}
	}
}

// buildWhatsAppOptions constructs WhatsApp configuration options
func buildWhatsAppOptions(flags Flags) []whatsapp.Option {
	var waOpts []whatsapp.Option
	if *flags.qrOutput != "" {
		waOpts = append(waOpts, whatsapp.WithQRCodeOutput(*flags.qrOutput))
	}
	if *flags.numeric {
		waOpts = append(waOpts, whatsapp.WithNumericCode())
	}
	if *flags.waDSN != "" {
		waOpts = append(waOpts, whatsapp.WithDBDSN(*flags.waDSN))
	}
	return waOpts
}

// buildNotifier selects how completion summaries reach the recruiter.
func buildNotifier(mode, relayURL string, waClient *whatsapp.Client) (notify.Notifier, error) {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case notify.ModeRelay, "":
		return notify.NewRelay(notify.WithURL(relayURL)), nil
	case notify.ModeTwilio:
		client, err := twiliowhatsapp.NewClient()
		if err != nil {
			return nil, fmt.Errorf("twilio notifier: %w", err)
		}
		return notify.NewTwilio(client), nil
	case notify.ModeWhatsApp:
		if waClient == nil {
			return nil, fmt.Errorf("whatsapp notifier requires -whatsapp / WHATSAPP_ENABLED")
		}
		return notify.NewWhatsApp(waClient), nil
	case notify.ModeLog:
		return notify.Log{}, nil
	default:
		return nil, fmt.Errorf("unknown notify mode %q", mode)
	}
}

// buildMessagingService picks the inbound chat transport, if any.
func buildMessagingService(flags Flags, waClient *whatsapp.Client) messaging.Service {
	switch {
	case waClient != nil:
		return messaging.NewWhatsAppService(waClient)
	case *flags.twilioInbound:
		client, err := twiliowhatsapp.NewClient()
		if err != nil {
			slog.Error("Twilio inbound disabled: client not configured", "error", err)
			return nil
		}
		return messaging.NewTwilioService(client)
	default:
		return nil
	}
}

// buildAPIOptions constructs API server configuration options
func buildAPIOptions(flags Flags, st store.Store, m *metrics.Metrics) []api.Option {
	apiOpts := []api.Option{
		api.WithTranscripts(st),
		api.WithDedup(st),
		api.WithMetrics(m),
	}
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	return apiOpts
}
