package config

import (
	"errors"
	"os"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/companydb/internal/db"
)

// Store drivers.
const (
	DriverFirestore = "firestore"
	DriverPostgres  = "postgres"
	DriverSQLite    = "sqlite"
)

// Checkpoint backends.
const (
	CheckpointFile     = "file"
	CheckpointSQLite   = "sqlite"
	CheckpointPostgres = "postgres"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Dedup      DedupConfig      `yaml:"dedup" mapstructure:"dedup"`
	Batch      BatchConfig      `yaml:"batch" mapstructure:"batch"`
	Checkpoint CheckpointConfig `yaml:"checkpoint" mapstructure:"checkpoint"`
	Report     ReportConfig     `yaml:"report" mapstructure:"report"`
	Backfill   BackfillConfig   `yaml:"backfill" mapstructure:"backfill"`
	Retry      RetryConfig      `yaml:"retry" mapstructure:"retry"`
	Schema     SchemaConfig     `yaml:"schema" mapstructure:"schema"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig selects and locates the document store.
type StoreConfig struct {
	Driver      string          `yaml:"driver" mapstructure:"driver" validate:"oneof=firestore postgres sqlite"`
	Firestore   FirestoreConfig `yaml:"firestore" mapstructure:"firestore"`
	DatabaseURL string          `yaml:"database_url" mapstructure:"database_url"`
	Table       string          `yaml:"table" mapstructure:"table"`
	SQLitePath  string          `yaml:"sqlite_path" mapstructure:"sqlite_path"`
	Pool        db.PoolConfig   `yaml:"pool" mapstructure:"pool"`
}

// FirestoreConfig locates the company collection.
type FirestoreConfig struct {
	ProjectID       string `yaml:"project_id" mapstructure:"project_id"`
	DatabaseID      string `yaml:"database_id" mapstructure:"database_id"`
	Collection      string `yaml:"collection" mapstructure:"collection"`
	CredentialsFile string `yaml:"credentials_file" mapstructure:"credentials_file"`
}

// DedupConfig configures grouping and primary selection.
type DedupConfig struct {
	Strategy              string   `yaml:"strategy" mapstructure:"strategy" validate:"oneof=full-scan incremental"`
	KeyMode               string   `yaml:"key_mode" mapstructure:"key_mode" validate:"oneof=auto corporate-number name-address"`
	IncludePrefecture     bool     `yaml:"include_prefecture" mapstructure:"include_prefecture"`
	IncludeRepresentative bool     `yaml:"include_representative" mapstructure:"include_representative"`
	AuthoritativeSources  []string `yaml:"authoritative_sources" mapstructure:"authoritative_sources"`
}

// BatchConfig sizes pages and write batches.
type BatchConfig struct {
	PageSize        int `yaml:"page_size" mapstructure:"page_size" validate:"min=1,max=10000"`
	BatchSize       int `yaml:"batch_size" mapstructure:"batch_size" validate:"min=1"`
	CheckpointEvery int `yaml:"checkpoint_every" mapstructure:"checkpoint_every" validate:"min=1"`
	// WritesPerSecond caps batch commits; 0 disables the limit.
	WritesPerSecond float64 `yaml:"writes_per_second" mapstructure:"writes_per_second" validate:"gte=0"`
}

// CheckpointConfig selects where resume cursors live.
type CheckpointConfig struct {
	Backend    string `yaml:"backend" mapstructure:"backend" validate:"oneof=file sqlite postgres"`
	Dir        string `yaml:"dir" mapstructure:"dir"`
	SQLitePath string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
	Resume     bool   `yaml:"resume" mapstructure:"resume"`
}

// ReportConfig configures the audit report.
type ReportConfig struct {
	Dir      string `yaml:"dir" mapstructure:"dir"`
	Format   string `yaml:"format" mapstructure:"format" validate:"oneof=jsonl text"`
	Disabled bool   `yaml:"disabled" mapstructure:"disabled"`
}

// BackfillConfig configures corporate-number backfill.
type BackfillConfig struct {
	Master               string  `yaml:"master" mapstructure:"master"`
	Encoding             string  `yaml:"encoding" mapstructure:"encoding"`
	MinAddressSimilarity float64 `yaml:"min_address_similarity" mapstructure:"min_address_similarity" validate:"gte=0,lte=1"`
	TempDir              string  `yaml:"temp_dir" mapstructure:"temp_dir"`
}

// RetryConfig configures retries of transient store errors.
type RetryConfig struct {
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts" validate:"min=1,max=20"`
	InitialBackoffMs int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms" validate:"gte=0"`
	MaxBackoffMs     int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms" validate:"gte=0"`
	Multiplier       float64 `yaml:"multiplier" mapstructure:"multiplier" validate:"gte=0"`
	JitterFraction   float64 `yaml:"jitter_fraction" mapstructure:"jitter_fraction" validate:"gte=0,lte=1"`
}

// SchemaConfig extends the embedded field whitelist.
type SchemaConfig struct {
	ExtraFields []string `yaml:"extra_fields" mapstructure:"extra_fields"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format" validate:"oneof=json console"`
}

// Load reads configuration from .env, the config file and environment, in
// increasing order of precedence.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, eris.Wrap(err, "config: load .env")
	}

	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("COMPANYDB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", DriverFirestore)
	v.SetDefault("store.firestore.collection", "companies")
	v.SetDefault("store.firestore.project_id", "")
	v.SetDefault("store.firestore.database_id", "")
	v.SetDefault("store.firestore.credentials_file", "")
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.table", "companydb.companies")
	v.SetDefault("store.sqlite_path", "companydb.sqlite")
	v.SetDefault("dedup.strategy", "full-scan")
	v.SetDefault("dedup.key_mode", "auto")
	v.SetDefault("dedup.include_prefecture", false)
	v.SetDefault("dedup.include_representative", false)
	v.SetDefault("batch.page_size", 500)
	v.SetDefault("batch.batch_size", 500)
	v.SetDefault("batch.checkpoint_every", 10)
	v.SetDefault("batch.writes_per_second", 0)
	v.SetDefault("checkpoint.backend", CheckpointFile)
	v.SetDefault("checkpoint.dir", ".checkpoints")
	v.SetDefault("checkpoint.sqlite_path", ".checkpoints/checkpoints.sqlite")
	v.SetDefault("checkpoint.resume", true)
	v.SetDefault("report.dir", "reports")
	v.SetDefault("report.format", "jsonl")
	v.SetDefault("report.disabled", false)
	v.SetDefault("backfill.encoding", "shift_jis")
	v.SetDefault("backfill.min_address_similarity", 0.3)
	v.SetDefault("backfill.master", "")
	v.SetDefault("backfill.temp_dir", os.TempDir())
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_backoff_ms", 500)
	v.SetDefault("retry.max_backoff_ms", 30000)
	v.SetDefault("retry.multiplier", 2.0)
	v.SetDefault("retry.jitter_fraction", 0.25)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("mapstructure"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks field constraints and the settings the selected store and
// checkpoint backends need. All problems are reported together.
func (c *Config) Validate() error {
	var msgs []string

	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return eris.Wrap(err, "config: validate")
		}
		for _, fe := range verrs {
			msgs = append(msgs, describe(fe))
		}
	}

	switch c.Store.Driver {
	case DriverFirestore:
		if c.Store.Firestore.ProjectID == "" {
			msgs = append(msgs, "store.firestore.project_id is required")
		}
		if c.Store.Firestore.Collection == "" {
			msgs = append(msgs, "store.firestore.collection is required")
		}
	case DriverPostgres:
		if c.Store.DatabaseURL == "" {
			msgs = append(msgs, "store.database_url is required")
		}
	case DriverSQLite:
		if c.Store.SQLitePath == "" {
			msgs = append(msgs, "store.sqlite_path is required")
		}
	}

	switch c.Checkpoint.Backend {
	case CheckpointFile:
		if c.Checkpoint.Dir == "" {
			msgs = append(msgs, "checkpoint.dir is required")
		}
	case CheckpointSQLite:
		if c.Checkpoint.SQLitePath == "" {
			msgs = append(msgs, "checkpoint.sqlite_path is required")
		}
	case CheckpointPostgres:
		if c.Store.Driver != DriverPostgres {
			msgs = append(msgs, "checkpoint.backend postgres requires store.driver postgres")
		}
	}

	if !c.Report.Disabled && c.Report.Dir == "" {
		msgs = append(msgs, "report.dir is required unless report.disabled is set")
	}
	if c.Retry.MaxBackoffMs > 0 && c.Retry.InitialBackoffMs > c.Retry.MaxBackoffMs {
		msgs = append(msgs, "retry.initial_backoff_ms must not exceed retry.max_backoff_ms")
	}

	if len(msgs) > 0 {
		return eris.Errorf("config: %s", strings.Join(msgs, "; "))
	}
	return nil
}

// describe renders a validation failure using the config key path.
func describe(fe validator.FieldError) string {
	key := fe.Namespace()
	if _, rest, ok := strings.Cut(key, "."); ok {
		key = rest
	}
	switch fe.Tag() {
	case "oneof":
		return key + " must be one of: " + strings.ReplaceAll(fe.Param(), " ", ", ")
	case "min", "gte":
		return key + " must be >= " + fe.Param()
	case "max", "lte":
		return key + " must be <= " + fe.Param()
	case "required":
		return key + " is required"
	default:
		return key + " failed " + fe.Tag()
	}
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
