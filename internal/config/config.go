// Package config loads migratemail configuration from defaults, an
// optional TOML file, and MIG_-prefixed environment variables, in that
// order of precedence (environment wins).
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

// ValidationError reports a configuration value that fails validation.
// Commands translate it into a misconfiguration exit code.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid config: %s: %s", e.Field, e.Msg)
}

// Config is the full migratemail configuration tree.
type Config struct {
	IMAP        IMAPConfig        `toml:"imap"`
	Gmail       GmailConfig       `toml:"gmail"`
	Storage     StorageConfig     `toml:"storage"`
	Concurrency ConcurrencyConfig `toml:"concurrency"`
	Filter      FilterConfig      `toml:"filter"`
	Logging     LoggingConfig     `toml:"logging"`
}

// IMAPConfig holds source mailbox connection settings.
type IMAPConfig struct {
	Host          string   `toml:"host"`
	Port          int      `toml:"port"`
	SSL           bool     `toml:"ssl"`
	Username      string   `toml:"username"`
	Password      string   `toml:"password"`
	FolderInclude []string `toml:"folder_include"`
	FolderExclude []string `toml:"folder_exclude"`
	SearchQuery   string   `toml:"search_query"`
}

// GmailConfig holds destination account settings.
type GmailConfig struct {
	TargetUserEmail string `toml:"target_user_email"` // Gmail API userId; "me" when empty
	CredentialsPath string `toml:"credentials_path"`
	TokenPath       string `toml:"token_path"`
	LabelPrefix     string `toml:"label_prefix"`
	ImportMode      string `toml:"import_mode"` // "import" or "insert"
	DateSource      string `toml:"date_source"` // "dateHeader" or "receivedTime"
}

// StorageConfig holds on-disk layout settings. EvidenceDir, ReportsDir, and
// SQLitePath default to paths under RootDir when unset.
type StorageConfig struct {
	RootDir     string `toml:"root_dir"`
	EvidenceDir string `toml:"evidence_dir"`
	ReportsDir  string `toml:"reports_dir"`
	SQLitePath  string `toml:"sqlite_path"`
}

// ConcurrencyConfig bounds the pipeline's parallelism.
type ConcurrencyConfig struct {
	IMAPConnections      int `toml:"imap_connections"`
	BatchSize            int `toml:"batch_size"`
	GmailWorkers         int `toml:"gmail_workers"`
	IMAPFetchConcurrency int `toml:"imap_fetch_concurrency"`
	QueueMaxSize         int `toml:"queue_maxsize"`
}

// FilterConfig selects which messages are migrated.
type FilterConfig struct {
	TargetAddresses      []string `toml:"target_addresses"`
	IncludeSender        bool     `toml:"include_sender"`
	IncludeRecipients    bool     `toml:"include_recipients"`
	FingerprintBodyBytes int      `toml:"fingerprint_body_bytes"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `toml:"level"`  // debug, info, warn, error
	Format string `toml:"format"` // text or json
}

// Default returns the configuration defaults before any file or
// environment layering.
func Default() *Config {
	return &Config{
		IMAP: IMAPConfig{
			Host: "imap.mail.me.com",
			Port: 993,
			SSL:  true,
		},
		Gmail: GmailConfig{
			LabelPrefix: "iCloud",
			ImportMode:  "import",
			DateSource:  "dateHeader",
		},
		Storage: StorageConfig{
			RootDir: "./migration-data",
		},
		Concurrency: ConcurrencyConfig{
			IMAPConnections:      2,
			BatchSize:            50,
			GmailWorkers:         10,
			IMAPFetchConcurrency: 5,
			QueueMaxSize:         1000,
		},
		Filter: FilterConfig{
			IncludeSender:        true,
			IncludeRecipients:    true,
			FingerprintBodyBytes: 4096,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load builds a Config by layering defaults, the optional TOML file at
// path, and MIG_ environment variables. If envFile is non-empty its
// entries are loaded into the process environment first, without
// overriding variables already set.
func Load(path, envFile string) (*Config, error) {
	if envFile != "" {
		if err := loadEnvFile(envFile); err != nil {
			return nil, err
		}
	}

	cfg := Default()

	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("decode config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overlays MIG_SECTION__KEY environment variables. Some settings
// answer to more than one key (the documented name plus a TOML-shaped
// alias); the first key present wins.
func (c *Config) applyEnv() error {
	envStr(&c.IMAP.Host, "MIG_IMAP__HOST")
	if err := envInt(&c.IMAP.Port, "MIG_IMAP__PORT"); err != nil {
		return err
	}
	if err := envBool(&c.IMAP.SSL, "MIG_IMAP__SSL"); err != nil {
		return err
	}
	envStr(&c.IMAP.Username, "MIG_IMAP__USERNAME")
	envStr(&c.IMAP.Password, "MIG_IMAP__APP_PASSWORD", "MIG_IMAP__PASSWORD")
	envList(&c.IMAP.FolderInclude, "MIG_IMAP__FOLDER_INCLUDE")
	envList(&c.IMAP.FolderExclude, "MIG_IMAP__FOLDER_EXCLUDE")
	envStr(&c.IMAP.SearchQuery, "MIG_IMAP__SEARCH_QUERY")

	envStr(&c.Gmail.TargetUserEmail, "MIG_GMAIL__TARGET_USER_EMAIL")
	envStr(&c.Gmail.CredentialsPath, "MIG_GMAIL__CREDENTIALS_FILE", "MIG_GMAIL__CREDENTIALS_PATH")
	envStr(&c.Gmail.TokenPath, "MIG_GMAIL__TOKEN_FILE", "MIG_GMAIL__TOKEN_PATH")
	envStr(&c.Gmail.LabelPrefix, "MIG_GMAIL__LABEL_PREFIX")
	envStr(&c.Gmail.ImportMode, "MIG_GMAIL__MODE", "MIG_GMAIL__IMPORT_MODE")
	envStr(&c.Gmail.DateSource, "MIG_GMAIL__INTERNAL_DATE_SOURCE", "MIG_GMAIL__DATE_SOURCE")

	envStr(&c.Storage.RootDir, "MIG_STORAGE__ROOT_DIR")
	envStr(&c.Storage.EvidenceDir, "MIG_STORAGE__EVIDENCE_DIR_OVERRIDE", "MIG_STORAGE__EVIDENCE_DIR")
	envStr(&c.Storage.ReportsDir, "MIG_STORAGE__REPORTS_DIR_OVERRIDE", "MIG_STORAGE__REPORTS_DIR")
	envStr(&c.Storage.SQLitePath, "MIG_STORAGE__SQLITE_PATH_OVERRIDE", "MIG_STORAGE__SQLITE_PATH")

	if err := envInt(&c.Concurrency.IMAPConnections, "MIG_IMAP__CONNECTIONS", "MIG_CONCURRENCY__IMAP_CONNECTIONS"); err != nil {
		return err
	}
	if err := envInt(&c.Concurrency.BatchSize, "MIG_IMAP__BATCH_SIZE", "MIG_CONCURRENCY__BATCH_SIZE"); err != nil {
		return err
	}
	if err := envInt(&c.Concurrency.GmailWorkers, "MIG_CONCURRENCY__GMAIL_WORKERS"); err != nil {
		return err
	}
	if err := envInt(&c.Concurrency.IMAPFetchConcurrency, "MIG_CONCURRENCY__IMAP_FETCH_CONCURRENCY"); err != nil {
		return err
	}
	if err := envInt(&c.Concurrency.QueueMaxSize, "MIG_CONCURRENCY__QUEUE_MAXSIZE"); err != nil {
		return err
	}

	envList(&c.Filter.TargetAddresses, "MIG_FILTER__TARGET_ADDRESSES")
	if err := envBool(&c.Filter.IncludeSender, "MIG_FILTER__INCLUDE_SENDER"); err != nil {
		return err
	}
	if err := envBool(&c.Filter.IncludeRecipients, "MIG_FILTER__INCLUDE_RECIPIENTS"); err != nil {
		return err
	}
	if err := envInt(&c.Filter.FingerprintBodyBytes, "MIG_STORAGE__FINGERPRINT_BODY_BYTES", "MIG_FILTER__FINGERPRINT_BODY_BYTES"); err != nil {
		return err
	}

	envStr(&c.Logging.Level, "MIG_LOGGING__LEVEL")
	envStr(&c.Logging.Format, "MIG_LOGGING__FORMAT")
	if v, ok := os.LookupEnv("MIG_LOGGING__JSON_LOGS"); ok {
		jsonLogs, err := parseBool("MIG_LOGGING__JSON_LOGS", v)
		if err != nil {
			return err
		}
		if jsonLogs {
			c.Logging.Format = "json"
		} else {
			c.Logging.Format = "text"
		}
	}
	return nil
}

// normalize fills computed paths and canonicalizes list values.
func (c *Config) normalize() error {
	if c.Storage.EvidenceDir == "" {
		c.Storage.EvidenceDir = filepath.Join(c.Storage.RootDir, "evidence")
	}
	if c.Storage.ReportsDir == "" {
		c.Storage.ReportsDir = filepath.Join(c.Storage.RootDir, "reports")
	}
	if c.Storage.SQLitePath == "" {
		c.Storage.SQLitePath = filepath.Join(c.Storage.RootDir, "state.sqlite3")
	}
	if c.Gmail.TokenPath == "" {
		c.Gmail.TokenPath = filepath.Join(c.Storage.RootDir, "gmail-token.json")
	}

	addrs, err := normalizeAddresses(c.Filter.TargetAddresses)
	if err != nil {
		return err
	}
	c.Filter.TargetAddresses = addrs

	c.IMAP.FolderInclude = trimList(c.IMAP.FolderInclude)
	c.IMAP.FolderExclude = trimList(c.IMAP.FolderExclude)
	return nil
}

// Validate checks bounds and enumerations.
func (c *Config) Validate() error {
	checks := []struct {
		field    string
		value    int
		min, max int
	}{
		{"concurrency.imap_connections", c.Concurrency.IMAPConnections, 1, 10},
		{"concurrency.batch_size", c.Concurrency.BatchSize, 1, 500},
		{"concurrency.gmail_workers", c.Concurrency.GmailWorkers, 1, 50},
		{"concurrency.imap_fetch_concurrency", c.Concurrency.IMAPFetchConcurrency, 1, 50},
		{"concurrency.queue_maxsize", c.Concurrency.QueueMaxSize, 1, 10000},
		{"filter.fingerprint_body_bytes", c.Filter.FingerprintBodyBytes, 0, 1 << 20},
		{"imap.port", c.IMAP.Port, 1, 65535},
	}
	for _, ck := range checks {
		if ck.value < ck.min || ck.value > ck.max {
			return &ValidationError{
				Field: ck.field,
				Msg:   fmt.Sprintf("%d out of range [%d, %d]", ck.value, ck.min, ck.max),
			}
		}
	}

	switch c.Gmail.ImportMode {
	case "import", "insert":
	default:
		return &ValidationError{Field: "gmail.import_mode", Msg: fmt.Sprintf("%q is not one of import, insert", c.Gmail.ImportMode)}
	}
	switch c.Gmail.DateSource {
	case "dateHeader", "receivedTime":
	default:
		return &ValidationError{Field: "gmail.date_source", Msg: fmt.Sprintf("%q is not one of dateHeader, receivedTime", c.Gmail.DateSource)}
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return &ValidationError{Field: "logging.level", Msg: fmt.Sprintf("%q is not one of debug, info, warn, error", c.Logging.Level)}
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return &ValidationError{Field: "logging.format", Msg: fmt.Sprintf("%q is not one of text, json", c.Logging.Format)}
	}
	return nil
}

// RequireIMAP verifies the credentials needed to contact the source server.
func (c *Config) RequireIMAP() error {
	if c.IMAP.Host == "" {
		return &ValidationError{Field: "imap.host", Msg: "required"}
	}
	if c.IMAP.Username == "" {
		return &ValidationError{Field: "imap.username", Msg: "required"}
	}
	if c.IMAP.Password == "" {
		return &ValidationError{Field: "imap.password", Msg: "required"}
	}
	return nil
}

// RequireGmail verifies the settings needed to reach the destination account.
func (c *Config) RequireGmail() error {
	if c.Gmail.CredentialsPath == "" {
		return &ValidationError{Field: "gmail.credentials_path", Msg: "required"}
	}
	return nil
}

// normalizeAddresses lowercases, validates, and de-duplicates target
// addresses. Each must contain "@".
func normalizeAddresses(addrs []string) ([]string, error) {
	seen := make(map[string]bool, len(addrs))
	var out []string
	for _, a := range addrs {
		a = strings.ToLower(strings.TrimSpace(a))
		if a == "" {
			continue
		}
		if !strings.Contains(a, "@") {
			return nil, &ValidationError{Field: "filter.target_addresses", Msg: fmt.Sprintf("%q is not an email address", a)}
		}
		if seen[a] {
			continue
		}
		seen[a] = true
		out = append(out, a)
	}
	sort.Strings(out)
	return out, nil
}

func trimList(items []string) []string {
	var out []string
	for _, s := range items {
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// lookupFirst returns the first of keys that is set in the environment.
func lookupFirst(keys []string) (key, value string, ok bool) {
	for _, k := range keys {
		if v, found := os.LookupEnv(k); found {
			return k, v, true
		}
	}
	return "", "", false
}

func envStr(dst *string, keys ...string) {
	if _, v, ok := lookupFirst(keys); ok {
		*dst = v
	}
}

func envInt(dst *int, keys ...string) error {
	key, v, ok := lookupFirst(keys)
	if !ok {
		return nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return &ValidationError{Field: key, Msg: fmt.Sprintf("%q is not an integer", v)}
	}
	*dst = n
	return nil
}

func envBool(dst *bool, keys ...string) error {
	key, v, ok := lookupFirst(keys)
	if !ok {
		return nil
	}
	b, err := parseBool(key, v)
	if err != nil {
		return err
	}
	*dst = b
	return nil
}

func parseBool(key, v string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off":
		return false, nil
	default:
		return false, &ValidationError{Field: key, Msg: fmt.Sprintf("%q is not a boolean", v)}
	}
}

// envList parses a JSON array when the value starts with "[", otherwise a
// comma-separated list.
func envList(dst *[]string, keys ...string) {
	if _, v, ok := lookupFirst(keys); ok {
		*dst = ParseList(v)
	}
}

// ParseList parses a JSON string array or a comma-separated list.
func ParseList(v string) []string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	if strings.HasPrefix(v, "[") {
		var items []string
		if err := json.Unmarshal([]byte(v), &items); err == nil {
			return items
		}
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// loadEnvFile reads KEY=VALUE lines into the environment without
// overriding variables that are already set. Blank lines and # comments
// are skipped; values may be single- or double-quoted.
func loadEnvFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read env file %s: %w", path, err)
	}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if len(value) >= 2 {
			if (value[0] == '"' && value[len(value)-1] == '"') ||
				(value[0] == '\'' && value[len(value)-1] == '\'') {
				value = value[1 : len(value)-1]
			}
		}
		if key == "" {
			continue
		}
		if _, exists := os.LookupEnv(key); exists {
			continue
		}
		if err := os.Setenv(key, value); err != nil {
			return fmt.Errorf("set %s from env file: %w", key, err)
		}
	}
	return nil
}
