package main

import (
	"flag"
	"path/filepath"
	"testing"

	"github.com/BTreeMap/ScreenPipe/internal/classify"
	"github.com/BTreeMap/ScreenPipe/internal/flow"
	"github.com/BTreeMap/ScreenPipe/internal/notify"
	"github.com/BTreeMap/ScreenPipe/internal/store"
)

var screenPipeEnv = []string{
	"SCREENPIPE_STATE_DIR", "DATABASE_URL", "WHATSAPP_DB_DSN", "API_ADDR", "STEPS_FILE",
	"FAQ_FILE", "VOCABULARY_FILE", "ADMIN_WA_ID", "NOTIFY_MODE", "NOTIFY_RELAY_URL",
	"LOG_LEVEL", "WHATSAPP_ENABLED", "TWILIO_INBOUND_ENABLED", "CLASSIFIER_WHOLE_WORDS",
	"GATE_THRESHOLD", "FAQ_THRESHOLD", "CTC_LIMIT_LPA",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range screenPipeEnv {
		t.Setenv(key, "")
	}
}

func parse(t *testing.T, config Config, args ...string) Flags {
	t.Helper()
	return parseFlags(flag.NewFlagSet("test", flag.ContinueOnError), config, args)
}

func TestLoadEnvironmentConfigDefaults(t *testing.T) {
	clearEnv(t)
	config := loadEnvironmentConfig()

	if config.StateDir != DefaultStateDir {
		t.Errorf("Expected default state dir %q, got %q", DefaultStateDir, config.StateDir)
	}
	if want := filepath.Join(DefaultStateDir, DefaultDBFileName); config.DatabaseURL != want {
		t.Errorf("Expected default store DSN %q, got %q", want, config.DatabaseURL)
	}
	if want := "file:" + filepath.Join(DefaultStateDir, DefaultWhatsAppDBFileName) + "?_foreign_keys=on"; config.WhatsAppDSN != want {
		t.Errorf("Expected default WhatsApp DSN %q, got %q", want, config.WhatsAppDSN)
	}
	if config.AdminID != flow.DefaultAdminID {
		t.Errorf("Expected default admin id, got %q", config.AdminID)
	}
	if config.NotifyMode != notify.ModeRelay || config.NotifyRelayURL != notify.DefaultRelayURL {
		t.Errorf("Expected relay notifier defaults, got %q %q", config.NotifyMode, config.NotifyRelayURL)
	}
	if config.Thresholds != classify.DefaultThresholds() {
		t.Errorf("Expected default thresholds, got %+v", config.Thresholds)
	}
	if config.WhatsAppEnabled || config.WholeWords {
		t.Error("Expected WhatsApp and whole-word matching off by default")
	}
}

func TestLoadEnvironmentConfigOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("SCREENPIPE_STATE_DIR", "/tmp/custom_screenpipe")
	t.Setenv("DATABASE_URL", "redis://localhost:6379/0")
	t.Setenv("GATE_THRESHOLD", "70")
	t.Setenv("FAQ_THRESHOLD", "not-a-number")
	t.Setenv("CTC_LIMIT_LPA", "7.5")
	t.Setenv("CLASSIFIER_WHOLE_WORDS", "true")
	t.Setenv("NOTIFY_MODE", "log")

	config := loadEnvironmentConfig()

	if config.StateDir != "/tmp/custom_screenpipe" {
		t.Errorf("Expected custom state dir, got %q", config.StateDir)
	}
	if config.DatabaseURL != "redis://localhost:6379/0" {
		t.Errorf("Expected DATABASE_URL to be kept, got %q", config.DatabaseURL)
	}
	want := classify.Thresholds{Gate: 70, FAQ: classify.DefaultFAQThreshold, CTCLimitLPA: 7.5}
	if config.Thresholds != want {
		t.Errorf("Expected thresholds %+v, got %+v", want, config.Thresholds)
	}
	if !config.WholeWords || config.NotifyMode != notify.ModeLog {
		t.Errorf("unexpected config: %+v", config)
	}
}

func TestFlagsOverrideEnvironment(t *testing.T) {
	clearEnv(t)
	config := loadEnvironmentConfig()
	flags := parse(t, config, "-api-addr", ":9090", "-gate-threshold", "85", "-notify-mode", "log", "-whole-words")

	if *flags.apiAddr != ":9090" {
		t.Errorf("Expected api addr :9090, got %q", *flags.apiAddr)
	}
	if got := buildThresholds(flags); got.Gate != 85 || got.FAQ != classify.DefaultFAQThreshold {
		t.Errorf("unexpected thresholds %+v", got)
	}
	if *flags.notifyMode != "log" || !*flags.wholeWords {
		t.Error("flags did not override environment")
	}
}

func TestStateDirFlagMovesDefaultDSNs(t *testing.T) {
	clearEnv(t)
	config := loadEnvironmentConfig()
	flags := parse(t, config, "-state-dir", "/srv/screenpipe")

	if want := filepath.Join("/srv/screenpipe", DefaultDBFileName); *flags.dbDSN != want {
		t.Errorf("Expected store DSN %q, got %q", want, *flags.dbDSN)
	}
	if want := "file:" + filepath.Join("/srv/screenpipe", DefaultWhatsAppDBFileName) + "?_foreign_keys=on"; *flags.waDSN != want {
		t.Errorf("Expected WhatsApp DSN %q, got %q", want, *flags.waDSN)
	}

	// An explicit DSN is left alone.
	flags = parse(t, config, "-state-dir", "/srv/screenpipe", "-db-dsn", "postgres://u:p@db/screen")
	if *flags.dbDSN != "postgres://u:p@db/screen" {
		t.Errorf("explicit DSN was rewritten: %q", *flags.dbDSN)
	}
}

func TestBuildStoreOptions(t *testing.T) {
	clearEnv(t)
	config := loadEnvironmentConfig()
	tests := []struct {
		dsn     string
		wantLen int
	}{
		{"postgres://u:p@db/screen", 1},
		{"/tmp/screenpipe.db", 1},
		{"redis://localhost:6379/0", 1},
		{"/tmp/state.json", 1},
		{"", 0},
	}
	for _, tt := range tests {
		flags := parse(t, config, "-db-dsn", tt.dsn)
		opts := buildStoreOptions(flags)
		if len(opts) != tt.wantLen {
			t.Errorf("buildStoreOptions(%q) returned %d options, want %d", tt.dsn, len(opts), tt.wantLen)
			continue
		}
		var o store.Opts
		for _, opt := range opts {
			opt(&o)
		}
		if o.DSN != tt.dsn {
			t.Errorf("buildStoreOptions(%q) set DSN %q", tt.dsn, o.DSN)
		}
	}
}

func TestBuildNotifier(t *testing.T) {
	n, err := buildNotifier("relay", "http://relay:3000/notify", nil)
	if err != nil || n.Name() != notify.ModeRelay {
		t.Errorf("relay: got %v, %v", n, err)
	}
	n, err = buildNotifier("LOG", "", nil)
	if err != nil || n.Name() != notify.ModeLog {
		t.Errorf("log: got %v, %v", n, err)
	}
	if _, err := buildNotifier("whatsapp", "", nil); err == nil {
		t.Error("whatsapp notifier without a client should fail")
	}
	if _, err := buildNotifier("carrier-pigeon", "", nil); err == nil {
		t.Error("unknown mode should fail")
	}
}

func TestLoadScreeningConfigFromShippedFiles(t *testing.T) {
	clearEnv(t)
	config := loadEnvironmentConfig()
	configs := filepath.Join("..", "..", "configs")
	flags := parse(t, config,
		"-steps-file", filepath.Join(configs, "steps.csv"),
		"-faq-file", filepath.Join(configs, "faq.csv"),
		"-vocabulary-file", filepath.Join(configs, "vocabulary.yaml"),
	)

	cat, faq, cls, err := loadScreeningConfig(flags)
	if err != nil {
		t.Fatalf("loadScreeningConfig returned error: %v", err)
	}
	if cat.Len() == 0 || len(faq.Entries()) == 0 {
		t.Error("expected shipped steps and FAQ to be non-empty")
	}
	if cls.Thresholds() != classify.DefaultThresholds() {
		t.Errorf("unexpected thresholds %+v", cls.Thresholds())
	}

	flags = parse(t, config, "-steps-file", filepath.Join(configs, "missing.csv"))
	if _, _, _, err := loadScreeningConfig(flags); err == nil {
		t.Error("expected error for missing steps file")
	}
}
