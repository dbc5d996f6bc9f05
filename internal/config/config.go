// Package config loads application configuration from file, environment,
// and defaults, and initializes the global logger.
package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Data    DataConfig    `yaml:"data" mapstructure:"data"`
	Context ContextConfig `yaml:"context" mapstructure:"context"`
	History HistoryConfig `yaml:"history" mapstructure:"history"`
	Link    LinkConfig    `yaml:"link" mapstructure:"link"`
	Output  OutputConfig  `yaml:"output" mapstructure:"output"`
	Log     LogConfig     `yaml:"log" mapstructure:"log"`
}

// DataConfig describes the primary observation dataset.
type DataConfig struct {
	Path    string `yaml:"path" mapstructure:"path"`
	IDCol   string `yaml:"id_col" mapstructure:"id_col"`
	DateCol string `yaml:"date_col" mapstructure:"date_col"`
	UnitCol string `yaml:"unit_col" mapstructure:"unit_col"`
}

// ContextConfig describes the yearly measurement directory.
type ContextConfig struct {
	Dir         string   `yaml:"dir" mapstructure:"dir"`
	MeasureType string   `yaml:"measure_type" mapstructure:"measure_type"`
	DateCol     string   `yaml:"date_col" mapstructure:"date_col"`
	UnitCol     string   `yaml:"unit_col" mapstructure:"unit_col"`
	ValueCols   []string `yaml:"value_cols" mapstructure:"value_cols"`
}

// HistoryConfig describes the optional residence-history file and its
// five required columns plus the two source sentinel values.
type HistoryConfig struct {
	Path          string `yaml:"path" mapstructure:"path"`
	IDCol         string `yaml:"id_col" mapstructure:"id_col"`
	MoveCol       string `yaml:"move_col" mapstructure:"move_col"`
	YearCol       string `yaml:"year_col" mapstructure:"year_col"`
	MonthCol      string `yaml:"month_col" mapstructure:"month_col"`
	UnitCol       string `yaml:"unit_col" mapstructure:"unit_col"`
	SurveyYearCol string `yaml:"survey_year_col" mapstructure:"survey_year_col"`
	MovedMark     string `yaml:"moved_mark" mapstructure:"moved_mark"`
	FirstMark     string `yaml:"first_mark" mapstructure:"first_mark"`
}

// LinkConfig configures lag extraction and scheduling.
type LinkConfig struct {
	Lags            int    `yaml:"lags" mapstructure:"lags"`
	LagList         []int  `yaml:"lag_list" mapstructure:"lag_list"`
	Parallel        bool   `yaml:"parallel" mapstructure:"parallel"`
	MaxWorkers      int    `yaml:"max_workers" mapstructure:"max_workers"`
	MemoryCeilingMB int    `yaml:"memory_ceiling_mb" mapstructure:"memory_ceiling_mb"`
	UnitWidth       int    `yaml:"unit_width" mapstructure:"unit_width"`
	KeepLagColumns  bool   `yaml:"keep_lag_columns" mapstructure:"keep_lag_columns"`
	TempDir         string `yaml:"temp_dir" mapstructure:"temp_dir"`
}

// OutputConfig configures where the linked result is written.
type OutputConfig struct {
	Path        string `yaml:"path" mapstructure:"path"`
	SummaryPath string `yaml:"summary_path" mapstructure:"summary_path"`
	PostgresURL string `yaml:"postgres_url" mapstructure:"postgres_url"`
	Table       string `yaml:"table" mapstructure:"table"`
	Schema      string `yaml:"schema" mapstructure:"schema"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("STITCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("data.id_col", "hhidpn")
	v.SetDefault("data.date_col", "iwdate")
	v.SetDefault("data.unit_col", "LINKCEN2010")
	v.SetDefault("context.date_col", "Date")
	v.SetDefault("context.unit_col", "GEOID10")
	v.SetDefault("history.id_col", "hhidpn")
	v.SetDefault("history.move_col", "trmove_tr")
	v.SetDefault("history.year_col", "mvyear")
	v.SetDefault("history.month_col", "mvmonth")
	v.SetDefault("history.unit_col", "LINKCEN2010")
	v.SetDefault("history.survey_year_col", "year")
	v.SetDefault("history.moved_mark", "1. move")
	v.SetDefault("history.first_mark", "999")
	v.SetDefault("link.lags", 365)
	v.SetDefault("link.max_workers", 0) // 0 = GOMAXPROCS
	v.SetDefault("link.memory_ceiling_mb", 4096)
	v.SetDefault("link.unit_width", 0) // 0 = no unit-code padding
	v.SetDefault("output.schema", "public")

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
