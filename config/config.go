package config

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"github.com/rulewatch/rulewatch/detect"
)

// SourceConfig selects and parameterizes the rule source.
type SourceConfig struct {
	Kind      string   `toml:"kind"` // "sievedir" or "managesieve"
	Mailboxes []string `toml:"mailboxes"`

	SieveDir    SieveDirConfig    `toml:"sievedir"`
	ManageSieve ManageSieveConfig `toml:"managesieve"`
}

type SieveDirConfig struct {
	Root string `toml:"root"`
}

type ManageSieveConfig struct {
	Host               string `toml:"host"`
	Port               int    `toml:"port"`
	Username           string `toml:"username"`
	Password           string `toml:"password"`
	UseTLS             bool   `toml:"tls"`
	InsecureSkipVerify bool   `toml:"insecure_skip_verify"`
}

// SMTPConfig holds the notification relay and addressing.
type SMTPConfig struct {
	Host               string   `toml:"host"`
	Port               int      `toml:"port"`
	From               string   `toml:"from"`
	To                 []string `toml:"to"`
	Subject            string   `toml:"subject"`
	Username           string   `toml:"username"`
	Password           string   `toml:"password"`
	UseTLS             bool     `toml:"tls"`
	UseStartTLS        bool     `toml:"starttls"`
	InsecureSkipVerify bool     `toml:"insecure_skip_verify"`
}

// ReportConfig holds the rendered document's heading, styling and columns.
type ReportConfig struct {
	Heading string   `toml:"heading"`
	CSS     string   `toml:"css"`
	Fields  []string `toml:"fields"`
}

// HeartbeatConfig holds the daily "nothing changed" notification window.
type HeartbeatConfig struct {
	Enabled       bool   `toml:"enabled"`
	WindowStart   string `toml:"window_start"` // "HH:MM"
	WindowMinutes int    `toml:"window_minutes"`
}

type BaselineConfig struct {
	Path string `toml:"path"`
}

type LoggingConfig struct {
	Level string `toml:"level"`
	Dir   string `toml:"dir"`
}

// Config is the full, immutable run configuration: the TOML file overlaid
// with CLI flags, validated once at start and passed down by value.
type Config struct {
	Source    SourceConfig    `toml:"source"`
	SMTP      SMTPConfig      `toml:"smtp"`
	Report    ReportConfig    `toml:"report"`
	Heartbeat HeartbeatConfig `toml:"heartbeat"`
	Baseline  BaselineConfig  `toml:"baseline"`
	Logging   LoggingConfig   `toml:"logging"`

	// Flag-only settings.
	CheckNow bool `toml:"-"`
	DryRun   bool `toml:"-"`
	Workers  int  `toml:"-"`
}

const defaultCSS = `body { font-family: sans-serif; }
table { border-collapse: collapse; width: 100%; }
th, td { border: 1px solid #999; padding: 4px 8px; text-align: left; }
th { background: #444; color: #fff; }
.band-a { background: #f6f6f6; }
.band-b { background: #e2e8f0; }
.clientside { background: #fde68a; }
.modified { background: #fca5a5; font-weight: bold; }`

// RegisterFlags attaches all CLI flags to the provided command.
func RegisterFlags(cmd *cobra.Command) error {
	flags := cmd.Flags()
	flags.String("config", "", "Path to the TOML configuration file")
	flags.Bool("check-now", false, "Force full-scan mode: report every flagged rule, ignoring the baseline")
	flags.Bool("dry-run", false, "Scan and render but send nothing and persist nothing")
	flags.Int("workers", 4, "Number of mailboxes fetched concurrently")
	flags.String("log-level", "", "Logging level: debug, info, warn, error (overrides config file)")
	flags.String("log-dir", "", "Directory for log files (overrides config file)")

	return cmd.MarkFlagRequired("config")
}

// LoadConfig parses the TOML file named by --config, overlays the remaining
// flags and validates the result.
func LoadConfig(cmd *cobra.Command) (Config, error) {
	flags := cmd.Flags()

	path, err := flags.GetString("config")
	if err != nil {
		return Config{}, err
	}

	var cfg Config
	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, key := range undecoded {
			keys = append(keys, key.String())
		}
		return Config{}, fmt.Errorf("unknown config keys in %s: %s", path, strings.Join(keys, ", "))
	}

	if cfg.CheckNow, err = flags.GetBool("check-now"); err != nil {
		return Config{}, err
	}
	if cfg.DryRun, err = flags.GetBool("dry-run"); err != nil {
		return Config{}, err
	}
	if cfg.Workers, err = flags.GetInt("workers"); err != nil {
		return Config{}, err
	}

	logLevel, err := flags.GetString("log-level")
	if err != nil {
		return Config{}, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	logDir, err := flags.GetString("log-dir")
	if err != nil {
		return Config{}, err
	}
	if logDir != "" {
		cfg.Logging.Dir = logDir
	}

	applyDefaults(&cfg)

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Report.CSS == "" {
		cfg.Report.CSS = defaultCSS
	}
	if cfg.Report.Heading == "" {
		cfg.Report.Heading = "Inbox Rule Audit"
	}
	if len(cfg.Report.Fields) == 0 {
		cfg.Report.Fields = append([]string(nil), detect.DisplayFields...)
	}
	if cfg.SMTP.Subject == "" {
		cfg.SMTP.Subject = "Inbox rule changes detected"
	}
	if cfg.Heartbeat.WindowStart == "" {
		cfg.Heartbeat.WindowStart = "07:00"
	}
	if cfg.Heartbeat.WindowMinutes == 0 {
		cfg.Heartbeat.WindowMinutes = 60
	}
	if cfg.Source.ManageSieve.Port == 0 {
		cfg.Source.ManageSieve.Port = 4190
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	cfg.Logging.Level = strings.ToLower(cfg.Logging.Level)
	if cfg.Logging.Level == "warning" {
		cfg.Logging.Level = "warn"
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
}

func validateConfig(cfg Config) error {
	switch cfg.Source.Kind {
	case "sievedir":
		if cfg.Source.SieveDir.Root == "" {
			return fmt.Errorf("source.sievedir.root is required for the sievedir source")
		}
	case "managesieve":
		if cfg.Source.ManageSieve.Host == "" {
			return fmt.Errorf("source.managesieve.host is required for the managesieve source")
		}
		if len(cfg.Source.Mailboxes) == 0 {
			return fmt.Errorf("source.mailboxes is required for the managesieve source")
		}
	default:
		return fmt.Errorf("source.kind must be sievedir or managesieve, got %q", cfg.Source.Kind)
	}

	if cfg.SMTP.Host == "" {
		return fmt.Errorf("smtp.host is required")
	}
	if cfg.SMTP.Port <= 0 || cfg.SMTP.Port > 65535 {
		return fmt.Errorf("smtp.port must be between 1 and 65535")
	}
	if cfg.SMTP.From == "" {
		return fmt.Errorf("smtp.from is required")
	}
	if len(cfg.SMTP.To) == 0 {
		return fmt.Errorf("smtp.to must name at least one recipient")
	}
	if cfg.SMTP.UseTLS && cfg.SMTP.UseStartTLS {
		return fmt.Errorf("smtp.tls and smtp.starttls are mutually exclusive")
	}

	if cfg.Baseline.Path == "" {
		return fmt.Errorf("baseline.path is required")
	}

	if cfg.Heartbeat.WindowMinutes < 0 {
		return fmt.Errorf("heartbeat.window_minutes must not be negative")
	}

	switch cfg.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid logging level: %s", cfg.Logging.Level)
	}

	return nil
}
