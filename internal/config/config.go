package config

import (
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Paths      PathsConfig      `yaml:"paths" mapstructure:"paths"`
	Converter  ConverterConfig  `yaml:"converter" mapstructure:"converter"`
	Summarizer SummarizerConfig `yaml:"summarizer" mapstructure:"summarizer"`
	Index      IndexConfig      `yaml:"index" mapstructure:"index"`
	Verify     VerifyConfig     `yaml:"verify" mapstructure:"verify"`
	Watcher    WatcherConfig    `yaml:"watcher" mapstructure:"watcher"`
	Pipeline   PipelineConfig   `yaml:"pipeline" mapstructure:"pipeline"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Google     GoogleConfig     `yaml:"google" mapstructure:"google"`
	Mistral    MistralConfig    `yaml:"mistral" mapstructure:"mistral"`
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Download   DownloadConfig   `yaml:"download" mapstructure:"download"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// PathsConfig locates the three artifact directories. Relative paths are
// resolved against the directory of the config file.
type PathsConfig struct {
	Papers    string `yaml:"papers" mapstructure:"papers" validate:"required"`
	Markdown  string `yaml:"markdown" mapstructure:"markdown" validate:"required"`
	Summaries string `yaml:"summaries" mapstructure:"summaries" validate:"required"`
	StateDB   string `yaml:"state_db" mapstructure:"state_db"`
}

// ConverterConfig configures PDF to text conversion.
type ConverterConfig struct {
	Provider        string   `yaml:"provider" mapstructure:"provider" validate:"oneof=marker pdftotext mistral"`
	MarkerPath      string   `yaml:"marker_path" mapstructure:"marker_path"`
	PdfToTextPath   string   `yaml:"pdftotext_path" mapstructure:"pdftotext_path"`
	HighAccuracy    bool     `yaml:"high_accuracy" mapstructure:"high_accuracy"`
	ForceOCR        bool     `yaml:"force_ocr" mapstructure:"force_ocr"`
	Languages       []string `yaml:"languages" mapstructure:"languages"`
	MaxPages        int      `yaml:"max_pages" mapstructure:"max_pages" validate:"min=0"`
	BatchMultiplier int      `yaml:"batch_multiplier" mapstructure:"batch_multiplier" validate:"min=1"`
	TimeoutSecs     int      `yaml:"timeout_secs" mapstructure:"timeout_secs" validate:"min=1"`
}

// SummarizerConfig configures the summarize stage.
type SummarizerConfig struct {
	Enabled        bool   `yaml:"enabled" mapstructure:"enabled"`
	Model          string `yaml:"model" mapstructure:"model" validate:"required"`
	MaxTokens      int64  `yaml:"max_tokens" mapstructure:"max_tokens" validate:"min=64"`
	MaxInputChars  int    `yaml:"max_input_chars" mapstructure:"max_input_chars" validate:"min=1000"`
	PromptTemplate string `yaml:"prompt_template" mapstructure:"prompt_template"`
	TimeoutSecs    int    `yaml:"timeout_secs" mapstructure:"timeout_secs" validate:"min=1"`
}

// IndexConfig configures the semantic index (Gemini Files).
type IndexConfig struct {
	Model            string `yaml:"model" mapstructure:"model" validate:"required"`
	PollIntervalSecs int    `yaml:"poll_interval_secs" mapstructure:"poll_interval_secs" validate:"min=1"`
	TimeoutSecs      int    `yaml:"timeout_secs" mapstructure:"timeout_secs" validate:"min=1"`
	TopK             int    `yaml:"top_k" mapstructure:"top_k" validate:"min=1,max=20"`
}

// VerifyConfig configures claim verification.
type VerifyConfig struct {
	Model       string `yaml:"model" mapstructure:"model" validate:"required"`
	MaxTokens   int64  `yaml:"max_tokens" mapstructure:"max_tokens" validate:"min=64"`
	MaxDocChars int    `yaml:"max_doc_chars" mapstructure:"max_doc_chars" validate:"min=1000"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs" validate:"min=1"`
}

// WatcherConfig configures the event source.
type WatcherConfig struct {
	ProcessExisting bool     `yaml:"process_existing" mapstructure:"process_existing"`
	Upload          bool     `yaml:"upload" mapstructure:"upload"`
	DebounceMs      int      `yaml:"debounce_ms" mapstructure:"debounce_ms" validate:"min=0"`
	SettleMs        int      `yaml:"settle_ms" mapstructure:"settle_ms" validate:"min=0"`
	QueueSize       int      `yaml:"queue_size" mapstructure:"queue_size" validate:"min=1"`
	Workers         int      `yaml:"workers" mapstructure:"workers" validate:"min=1,max=64"`
	Extensions      []string `yaml:"extensions" mapstructure:"extensions" validate:"min=1"`
	Ignore          []string `yaml:"ignore" mapstructure:"ignore"`
}

// PipelineConfig configures the controller.
type PipelineConfig struct {
	Concurrency int  `yaml:"concurrency" mapstructure:"concurrency" validate:"min=1,max=64"`
	RetryFailed bool `yaml:"retry_failed" mapstructure:"retry_failed"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key                     string  `yaml:"key" mapstructure:"key"`
	RequestsPerSecond       float64 `yaml:"requests_per_second" mapstructure:"requests_per_second" validate:"gt=0"`
	CircuitFailureThreshold int     `yaml:"circuit_failure_threshold" mapstructure:"circuit_failure_threshold" validate:"min=1"`
	CircuitResetSecs        int     `yaml:"circuit_reset_secs" mapstructure:"circuit_reset_secs" validate:"min=1"`
}

// GoogleConfig holds the Gemini API key used for indexing and for Marker's
// high-accuracy mode.
type GoogleConfig struct {
	Key string `yaml:"key" mapstructure:"key"`
}

// MistralConfig holds Mistral OCR settings.
type MistralConfig struct {
	Key   string `yaml:"key" mapstructure:"key"`
	Model string `yaml:"model" mapstructure:"model"`
}

// StoreConfig configures the artifact ledger backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver" validate:"oneof=sqlite postgres"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url" validate:"required_if=Driver postgres"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// ServerConfig configures the read-only HTTP API.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port" validate:"min=1,max=65535"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// DownloadConfig configures fetching papers into the papers folder.
type DownloadConfig struct {
	// Email identifies the caller to Unpaywall for DOI lookups.
	Email       string `yaml:"email" mapstructure:"email" validate:"omitempty,email"`
	UserAgent   string `yaml:"user_agent" mapstructure:"user_agent"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs" validate:"min=0"`
	MaxRetries  int    `yaml:"max_retries" mapstructure:"max_retries" validate:"min=0,max=10"`
}

// MonitoringConfig configures stage failure alerts raised while watching.
type MonitoringConfig struct {
	Enabled              bool    `yaml:"enabled" mapstructure:"enabled"`
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url" validate:"omitempty,url"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold" validate:"gte=0,lte=1"`
	LookbackWindowHours  int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours" validate:"min=0"`
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs" validate:"min=0"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format" validate:"oneof=json console"`
}

// Load reads configuration from file and environment. If configFile is
// empty, config.yaml is looked up in the working directory. A .env file in
// the working directory is loaded first when present.
func Load(configFile string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()

	// Config file
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	// Environment
	v.SetEnvPrefix("PAPERS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("anthropic.key", "PAPERS_ANTHROPIC_KEY", "ANTHROPIC_API_KEY")
	_ = v.BindEnv("google.key", "PAPERS_GOOGLE_KEY", "GOOGLE_API_KEY")
	_ = v.BindEnv("mistral.key", "PAPERS_MISTRAL_KEY", "MISTRAL_API_KEY")

	// Defaults
	v.SetDefault("paths.papers", "papers")
	v.SetDefault("paths.markdown", "markdown")
	v.SetDefault("paths.summaries", "summaries")
	v.SetDefault("paths.state_db", "state.db")
	v.SetDefault("converter.provider", "marker")
	v.SetDefault("converter.marker_path", "marker_single")
	v.SetDefault("converter.pdftotext_path", "pdftotext")
	v.SetDefault("converter.high_accuracy", true)
	v.SetDefault("converter.force_ocr", false)
	v.SetDefault("converter.languages", []string{})
	v.SetDefault("converter.max_pages", 0)
	v.SetDefault("converter.batch_multiplier", 2)
	v.SetDefault("converter.timeout_secs", 300)
	v.SetDefault("summarizer.enabled", true)
	v.SetDefault("summarizer.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("summarizer.max_tokens", 1500)
	v.SetDefault("summarizer.max_input_chars", 150000)
	v.SetDefault("summarizer.timeout_secs", 180)
	v.SetDefault("index.model", "gemini-2.0-flash")
	v.SetDefault("index.poll_interval_secs", 2)
	v.SetDefault("index.timeout_secs", 300)
	v.SetDefault("index.top_k", 5)
	v.SetDefault("verify.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("verify.max_tokens", 1000)
	v.SetDefault("verify.max_doc_chars", 50000)
	v.SetDefault("verify.timeout_secs", 120)
	v.SetDefault("watcher.process_existing", true)
	v.SetDefault("watcher.upload", false)
	v.SetDefault("watcher.debounce_ms", 2000)
	v.SetDefault("watcher.settle_ms", 1000)
	v.SetDefault("watcher.queue_size", 64)
	v.SetDefault("watcher.workers", 1)
	v.SetDefault("watcher.extensions", []string{".pdf"})
	v.SetDefault("watcher.ignore", []string{".*", "~$*", "*.part", "*.crdownload"})
	v.SetDefault("pipeline.concurrency", 1)
	v.SetDefault("pipeline.retry_failed", false)
	v.SetDefault("anthropic.requests_per_second", 1.0)
	v.SetDefault("anthropic.circuit_failure_threshold", 5)
	v.SetDefault("anthropic.circuit_reset_secs", 30)
	v.SetDefault("mistral.model", "mistral-ocr-latest")
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("monitoring.enabled", false)
	v.SetDefault("monitoring.failure_rate_threshold", 0.5)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("download.email", "")
	v.SetDefault("download.user_agent", "paper-cli/1.0")
	v.SetDefault("download.timeout_secs", 60)
	v.SetDefault("download.max_retries", 3)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional unless named explicitly)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || configFile != "" {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	if used := v.ConfigFileUsed(); used != "" {
		cfg.Paths.resolve(filepath.Dir(used))
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (p *PathsConfig) resolve(base string) {
	for _, s := range []*string{&p.Papers, &p.Markdown, &p.Summaries, &p.StateDB} {
		if *s != "" && !filepath.IsAbs(*s) {
			*s = filepath.Join(base, *s)
		}
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints on the loaded configuration.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if eris.As(err, &verrs) && len(verrs) > 0 {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fe.Namespace()+" ("+fe.Tag()+")")
			}
			return eris.Errorf("config: invalid %s", strings.Join(fields, ", "))
		}
		return eris.Wrap(err, "config: validate")
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
