// Package config resolves solver and service settings from defaults, an
// optional YAML file and the environment, in that order.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	yaml "gopkg.in/yaml.v3"

	"evroute/internal/opt"
)

var ErrInvalid = errors.New("invalid configuration")

type Config struct {
	Search opt.Params `yaml:"search" json:"search"`
	// EV enables the battery model for instances read from files.
	EV bool `yaml:"ev" json:"ev"`

	LogLevel    string `yaml:"logLevel" json:"logLevel"`
	LogFormat   string `yaml:"logFormat" json:"logFormat"`
	InstanceDir string `yaml:"instanceDir" json:"instanceDir"`
	Port        string `yaml:"port" json:"port"`
	DatabaseURL string `yaml:"databaseUrl" json:"-"`
	DBMigrate   bool   `yaml:"dbMigrate" json:"dbMigrate"`
	RedisURL    string `yaml:"redisUrl" json:"-"`

	// ProgressRPS and ProgressBurst throttle iteration events published per run.
	ProgressRPS   float64 `yaml:"progressRps" json:"progressRps"`
	ProgressBurst int     `yaml:"progressBurst" json:"progressBurst"`
	// MaxRuns bounds concurrently executing runs in the API server.
	MaxRuns int `yaml:"maxRuns" json:"maxRuns"`

	// WebhookURL receives a signed run.finished notification per run.
	WebhookURL         string `yaml:"webhookUrl" json:"-"`
	WebhookSecret      string `yaml:"webhookSecret" json:"-"`
	WebhookMaxAttempts int    `yaml:"webhookMaxAttempts" json:"webhookMaxAttempts"`
}

func Default() Config {
	return Config{
		Search:        opt.DefaultParams(),
		LogLevel:      "info",
		LogFormat:     "text",
		InstanceDir:   "instances",
		Port:          "8080",
		DBMigrate:     true,
		ProgressRPS:   20,
		ProgressBurst: 5,
		MaxRuns:       4,

		WebhookMaxAttempts: 5,
	}
}

// LoadDotEnv loads .env style files into the process environment. Missing
// files are not an error.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// Load starts from Default, overlays the YAML file at path (if any) and then
// the process environment, and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("load config: %w", err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("load config %s: %v: %w", path, err, ErrInvalid)
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ApplyEnv overlays variables found through lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	p := envParser{lookup: lookup}
	p.intVar("ALNS_ITERATIONS", &c.Search.Iterations)
	p.intVar("ALNS_MIN_NBH", &c.Search.MinNeighborhood)
	p.intVar("ALNS_MAX_NBH", &c.Search.MaxNeighborhood)
	p.int64Var("ALNS_SEED", &c.Search.Seed)
	p.floatVar("ALNS_T0", &c.Search.InitialTemperature)
	p.floatVar("ALNS_COOLING", &c.Search.CoolingRate)
	p.floatVar("ALNS_DECAY", &c.Search.Decay)
	p.intVar("ALNS_DESTROY_OPS", &c.Search.DestroyOps)
	p.intVar("ALNS_REPAIR_OPS", &c.Search.RepairOps)
	p.intVar("ALNS_REGRET_K", &c.Search.RegretK)
	p.scores("ALNS_SCORES", &c.Search.ScoreWeights)
	p.boolVar("ALNS_EV", &c.EV)
	p.strVar("ALNS_INSTANCE_DIR", &c.InstanceDir)
	p.strVar("LOG_LEVEL", &c.LogLevel)
	p.strVar("LOG_FORMAT", &c.LogFormat)
	p.strVar("PORT", &c.Port)
	p.strVar("DATABASE_URL", &c.DatabaseURL)
	p.boolVar("DB_MIGRATE", &c.DBMigrate)
	p.strVar("REDIS_URL", &c.RedisURL)
	p.floatVar("PROGRESS_RPS", &c.ProgressRPS)
	p.intVar("PROGRESS_BURST", &c.ProgressBurst)
	p.intVar("MAX_RUNS", &c.MaxRuns)
	p.strVar("WEBHOOK_URL", &c.WebhookURL)
	p.strVar("WEBHOOK_SECRET", &c.WebhookSecret)
	p.intVar("WEBHOOK_MAX_ATTEMPTS", &c.WebhookMaxAttempts)
	return p.err
}

func (c Config) Validate() error {
	if err := c.Search.Validate(); err != nil {
		return fmt.Errorf("search: %v: %w", err, ErrInvalid)
	}
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		return fmt.Errorf("log format must be text or json, got %q: %w", c.LogFormat, ErrInvalid)
	}
	if _, err := strconv.Atoi(c.Port); err != nil {
		return fmt.Errorf("port %q: %w", c.Port, ErrInvalid)
	}
	if c.ProgressRPS <= 0 || c.ProgressBurst < 1 {
		return fmt.Errorf("progress rate must be > 0 with burst >= 1: %w", ErrInvalid)
	}
	if c.MaxRuns < 1 {
		return fmt.Errorf("max runs must be >= 1: %w", ErrInvalid)
	}
	if c.WebhookMaxAttempts < 1 {
		return fmt.Errorf("webhook max attempts must be >= 1: %w", ErrInvalid)
	}
	return nil
}

// Public returns the settings that are safe to expose over the debug
// endpoint.
func (c Config) Public() map[string]any {
	return map[string]any{
		"search":         c.Search,
		"ev":             c.EV,
		"logLevel":       c.LogLevel,
		"instanceDir":    c.InstanceDir,
		"port":           c.Port,
		"progressRps":    c.ProgressRPS,
		"maxRuns":        c.MaxRuns,
		"hasDatabaseUrl": c.DatabaseURL != "",
		"hasRedisUrl":    c.RedisURL != "",
		"hasWebhook":     c.WebhookURL != "",
	}
}

// envParser records the first parse failure and skips the rest.
type envParser struct {
	lookup func(string) (string, bool)
	err    error
}

func (p *envParser) get(key string) (string, bool) {
	if p.err != nil {
		return "", false
	}
	v, ok := p.lookup(key)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func (p *envParser) fail(key, v string, err error) {
	p.err = fmt.Errorf("%s=%q: %v: %w", key, v, err, ErrInvalid)
}

func (p *envParser) strVar(key string, dst *string) {
	if v, ok := p.get(key); ok {
		*dst = v
	}
}

func (p *envParser) intVar(key string, dst *int) {
	if v, ok := p.get(key); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			p.fail(key, v, err)
			return
		}
		*dst = n
	}
}

func (p *envParser) int64Var(key string, dst *int64) {
	if v, ok := p.get(key); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			p.fail(key, v, err)
			return
		}
		*dst = n
	}
}

func (p *envParser) floatVar(key string, dst *float64) {
	if v, ok := p.get(key); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			p.fail(key, v, err)
			return
		}
		*dst = f
	}
}

func (p *envParser) boolVar(key string, dst *bool) {
	if v, ok := p.get(key); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			p.fail(key, v, err)
			return
		}
		*dst = b
	}
}

// scores parses four comma separated weights.
func (p *envParser) scores(key string, dst *[4]float64) {
	v, ok := p.get(key)
	if !ok {
		return
	}
	parts := strings.Split(v, ",")
	if len(parts) != len(dst) {
		p.fail(key, v, fmt.Errorf("want %d values", len(dst)))
		return
	}
	var out [4]float64
	for i, s := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			p.fail(key, v, err)
			return
		}
		out[i] = f
	}
	*dst = out
}
