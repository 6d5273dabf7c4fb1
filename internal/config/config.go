package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultPort        = 8080
	defaultCacheTTLSec = 300
	defaultChunkSize   = 500
)

func checkFilePermissions(path string) error {
	if runtime.GOOS == "windows" {
		return nil
	}
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if perm := info.Mode().Perm(); perm&0077 != 0 {
		return fmt.Errorf("config file %s has insecure permissions %04o; should be 0600", path, perm)
	}
	return nil
}

type Config struct {
	Log        LogConfig        `yaml:"log"`
	Store      StoreConfig      `yaml:"store"`
	Pipeline   PipelineConfig   `yaml:"pipeline"`
	Classifier ClassifierConfig `yaml:"classifier,omitempty"`
	Sources    SourcesConfig    `yaml:"sources,omitempty"`
	Redis      RedisConfig      `yaml:"redis,omitempty"`
	Server     ServerConfig     `yaml:"server"`
	Digest     DigestConfig     `yaml:"digest,omitempty"`
}

type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // "console" or "json"
}

type StoreConfig struct {
	Driver   string `yaml:"driver"` // "sqlite" or "postgres"
	Path     string `yaml:"path,omitempty"`
	DSN      string `yaml:"dsn,omitempty"`
	MaxConns int32  `yaml:"max_conns,omitempty"`
}

// PipelineConfig tunes the cleaning pipeline and the ingest runner.
type PipelineConfig struct {
	Stages        []string `yaml:"stages,omitempty"`
	Profile       string   `yaml:"profile,omitempty"` // "unicode" or "latin"
	DisableParser bool     `yaml:"disable_parser,omitempty"`
	// Reply guard tunables. Absent keys keep the extractor defaults; an
	// explicit 0 is honored.
	MaxBlankRun   *int     `yaml:"max_blank_run,omitempty"`
	MinKeptRatio  *float64 `yaml:"min_kept_ratio,omitempty"`
	MinProseChars *int     `yaml:"min_prose_chars,omitempty"`
	MaxPasses     int      `yaml:"max_passes,omitempty"`
	Workers       int      `yaml:"workers,omitempty"`
	ChunkSize     int      `yaml:"chunk_size,omitempty"`
}

type ClassifierConfig struct {
	Table    string `yaml:"table,omitempty"`     // single YAML category table
	TableDir string `yaml:"table_dir,omitempty"` // directory of YAML tables, merged
}

type SourcesConfig struct {
	Accounts          []IMAPAccount `yaml:"accounts,omitempty"`
	MailboxPaths      string        `yaml:"mailbox_paths,omitempty"`
	Cutoff            string        `yaml:"cutoff,omitempty"` // "today", "none" or YYYY-MM-DD
	KeepNotifications bool          `yaml:"keep_notifications,omitempty"`
	AMQP              AMQPConfig    `yaml:"amqp,omitempty"`
}

// IMAPAccount is one mailbox to pull from.
type IMAPAccount struct {
	Name      string   `yaml:"name"`     // display name, first word becomes the person name
	Stream    string   `yaml:"stream"`   // program or team the account belongs to
	Provider  string   `yaml:"provider"` // "gmail", "outlook", "imap"
	Server    string   `yaml:"server"`
	Port      int      `yaml:"port"`
	Email     string   `yaml:"email"`
	Password  string   `yaml:"password"` // app password
	Folders   []string `yaml:"folders,omitempty"`
	SinceDays int      `yaml:"since_days,omitempty"`
}

type AMQPConfig struct {
	URL        string `yaml:"url"`
	Exchange   string `yaml:"exchange"`
	Queue      string `yaml:"queue"`
	RoutingKey string `yaml:"routing_key"`
	BatchSize  int    `yaml:"batch_size"`
	Prefetch   int    `yaml:"prefetch"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db,omitempty"`
	SeenTTL  int    `yaml:"seen_ttl_hours,omitempty"`
}

func (r RedisConfig) Enabled() bool { return r.Addr != "" }

type ServerConfig struct {
	Port           int      `yaml:"port"`
	CacheTTLSec    int      `yaml:"cache_ttl_sec"`
	CSRFKey        string   `yaml:"csrf_key,omitempty"`
	TrustedOrigins []string `yaml:"trusted_origins,omitempty"`
}

func (s ServerConfig) CacheTTL() time.Duration {
	return time.Duration(s.CacheTTLSec) * time.Second
}

type DigestConfig struct {
	Provider string     `yaml:"provider"` // "smtp", "resend" or "sendgrid"
	From     string     `yaml:"from"`
	To       []string   `yaml:"to"`
	Subject  string     `yaml:"subject,omitempty"`
	APIKey   string     `yaml:"api_key,omitempty"`
	SMTP     SMTPConfig `yaml:"smtp,omitempty"`
}

type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	UseTLS   bool   `yaml:"use_tls"`
}

func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".mailsift"
	}
	return filepath.Join(home, ".mailsift")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultDir(), "config.yaml")
}

func DefaultDBPath() string {
	return filepath.Join(DefaultDir(), "emails.db")
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func Load(path string) (*Config, error) {
	if err := checkFilePermissions(path); err != nil {
		fmt.Fprintf(os.Stderr, "WARNING: %v\n", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}

	if c.Store.Driver == "" {
		c.Store.Driver = "sqlite"
	}
	if c.Store.Driver == "sqlite" && c.Store.Path == "" {
		c.Store.Path = DefaultDBPath()
	}
	if c.Store.MaxConns == 0 {
		c.Store.MaxConns = 10
	}

	if c.Pipeline.Profile == "" {
		c.Pipeline.Profile = "unicode"
	}
	if c.Pipeline.ChunkSize == 0 {
		c.Pipeline.ChunkSize = defaultChunkSize
	}
	if c.Pipeline.Workers == 0 {
		c.Pipeline.Workers = runtime.NumCPU()
	}

	if c.Sources.Cutoff == "" {
		c.Sources.Cutoff = "today"
	}
	for i := range c.Sources.Accounts {
		a := &c.Sources.Accounts[i]
		if len(a.Folders) == 0 {
			a.Folders = []string{"INBOX"}
		}
		if a.Provider == "gmail" && a.Server == "" {
			a.Server = "imap.gmail.com"
			a.Port = 993
		}
		if a.Provider == "outlook" && a.Server == "" {
			a.Server = "outlook.office365.com"
			a.Port = 993
		}
		if a.SinceDays == 0 {
			a.SinceDays = 1
		}
	}
	amqp := &c.Sources.AMQP
	if amqp.Exchange == "" {
		amqp.Exchange = "events"
	}
	if amqp.Queue == "" {
		amqp.Queue = "mailsift.raw"
	}
	if amqp.RoutingKey == "" {
		amqp.RoutingKey = "mail.raw"
	}
	if amqp.BatchSize == 0 {
		amqp.BatchSize = 100
	}
	if amqp.Prefetch == 0 {
		amqp.Prefetch = amqp.BatchSize
	}

	if c.Redis.SeenTTL == 0 {
		c.Redis.SeenTTL = 72
	}

	if c.Server.Port == 0 {
		c.Server.Port = defaultPort
	}
	if c.Server.CacheTTLSec == 0 {
		c.Server.CacheTTLSec = defaultCacheTTLSec
	}

	if c.Digest.Subject == "" {
		c.Digest.Subject = "mailsift digest"
	}
}

func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to serialize config: %w", err)
	}
	return os.WriteFile(path, data, 0600)
}

func (c *Config) Validate() error {
	switch c.Log.Format {
	case "console", "json":
	default:
		return fmt.Errorf("log: unknown format %q (console or json)", c.Log.Format)
	}

	switch c.Store.Driver {
	case "sqlite":
		if c.Store.Path == "" {
			return fmt.Errorf("store: path is required for sqlite")
		}
	case "postgres":
		if c.Store.DSN == "" {
			return fmt.Errorf("store: dsn is required for postgres")
		}
	default:
		return fmt.Errorf("store: unknown driver %q (sqlite or postgres)", c.Store.Driver)
	}

	switch c.Pipeline.Profile {
	case "unicode", "latin", "ascii":
	default:
		return fmt.Errorf("pipeline: unknown profile %q", c.Pipeline.Profile)
	}
	if r := c.Pipeline.MinKeptRatio; r != nil && (*r < 0 || *r > 1) {
		return fmt.Errorf("pipeline: min_kept_ratio must be between 0 and 1")
	}
	if negative(c.Pipeline.MaxBlankRun) || negative(c.Pipeline.MinProseChars) || c.Pipeline.MaxPasses < 0 {
		return fmt.Errorf("pipeline: tunables must not be negative")
	}

	if c.Sources.Cutoff != "today" && c.Sources.Cutoff != "none" {
		if _, err := time.Parse("2006-01-02", c.Sources.Cutoff); err != nil {
			return fmt.Errorf("sources: cutoff must be today, none or YYYY-MM-DD")
		}
	}
	return nil
}

// ValidateIMAP validates account settings (only called when IMAP ingest is used)
func (c *Config) ValidateIMAP() error {
	if len(c.Sources.Accounts) == 0 {
		return fmt.Errorf("sources: no IMAP accounts configured")
	}
	for i, a := range c.Sources.Accounts {
		if a.Email == "" {
			return fmt.Errorf("sources.accounts[%d]: email address is required", i)
		}
		if a.Password == "" {
			return fmt.Errorf("sources.accounts[%d]: password (app password) is required", i)
		}
		if a.Server == "" {
			return fmt.Errorf("sources.accounts[%d]: IMAP server is required", i)
		}
		if a.Port == 0 {
			return fmt.Errorf("sources.accounts[%d]: IMAP port is required", i)
		}
	}
	return nil
}

// ValidateDigest validates delivery settings (only called by the digest command)
func (c *Config) ValidateDigest() error {
	if c.Digest.From == "" {
		return fmt.Errorf("digest: from address is required")
	}
	if len(c.Digest.To) == 0 {
		return fmt.Errorf("digest: at least one recipient is required")
	}
	switch c.Digest.Provider {
	case "smtp":
		if c.Digest.SMTP.Host == "" {
			return fmt.Errorf("digest.smtp: host is required")
		}
		if c.Digest.SMTP.Port == 0 {
			return fmt.Errorf("digest.smtp: port is required")
		}
	case "resend", "sendgrid":
		if c.Digest.APIKey == "" {
			return fmt.Errorf("digest: api_key is required for %s", c.Digest.Provider)
		}
	case "":
		return fmt.Errorf("digest: provider is required")
	default:
		return fmt.Errorf("digest: unknown provider %q (smtp, resend or sendgrid)", c.Digest.Provider)
	}
	return nil
}

// CutoffDay resolves Sources.Cutoff against now. The zero time means no cutoff.
func (c *Config) CutoffDay(now time.Time) time.Time {
	switch c.Sources.Cutoff {
	case "none":
		return time.Time{}
	case "", "today":
		y, m, d := now.Date()
		return time.Date(y, m, d, 0, 0, 0, 0, now.Location())
	}
	t, err := time.ParseInLocation("2006-01-02", c.Sources.Cutoff, now.Location())
	if err != nil {
		return time.Time{}
	}
	return t
}

func negative(v *int) bool {
	return v != nil && *v < 0
}
