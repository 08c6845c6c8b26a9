package config

import (
	"fmt"

	"github.com/spf13/viper"
)

type Config struct {
	Database       DatabaseConfig       `mapstructure:"database"`
	Server         ServerConfig         `mapstructure:"server"`
	OCR            OCRConfig            `mapstructure:"ocr"`
	Matching       MatchingConfig       `mapstructure:"matching"`
	Attribution    AttributionConfig    `mapstructure:"attribution"`
	Storage        StorageConfig        `mapstructure:"storage"`
	Reconciliation ReconciliationConfig `mapstructure:"reconciliation"`
	Logging        LoggingConfig        `mapstructure:"logging"`
}

type DatabaseConfig struct {
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	DBName          string `mapstructure:"dbname"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"`
}

func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		d.User, d.Password, d.Host, d.Port, d.DBName)
}

type ServerConfig struct {
	Port         int `mapstructure:"port"`
	ReadTimeout  int `mapstructure:"read_timeout"`
	WriteTimeout int `mapstructure:"write_timeout"`
}

type OCRConfig struct {
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
	Timeout int    `mapstructure:"timeout"`
}

// MatchingConfig holds the merchant verification policy. The defaults are the
// historical production values; retuning any of them changes the false-accept
// and false-reject rates for merchant verification.
type MatchingConfig struct {
	MinWordLength       int      `mapstructure:"min_word_length"`
	MinCompactLength    int      `mapstructure:"min_compact_length"`
	PartialWordWeight   float64  `mapstructure:"partial_word_weight"`
	WordRatioThreshold  float64  `mapstructure:"word_ratio_threshold"`
	SimilarityThreshold float64  `mapstructure:"similarity_threshold"`
	BrandTokens         []string `mapstructure:"brand_tokens"`
}

type AttributionConfig struct {
	Endpoint string `mapstructure:"endpoint"`
	Timeout  int    `mapstructure:"timeout"`
}

type StorageConfig struct {
	Root string `mapstructure:"root"`
}

type ReconciliationConfig struct {
	Enabled           bool   `mapstructure:"enabled"`
	Cron              string `mapstructure:"cron"`
	StaleAfterMinutes int    `mapstructure:"stale_after_minutes"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

func Load(configPath string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 15)
	v.SetDefault("server.write_timeout", 30)

	v.SetDefault("ocr.timeout", 30)
	v.SetDefault("attribution.timeout", 10)

	v.SetDefault("matching.min_word_length", 3)
	v.SetDefault("matching.min_compact_length", 4)
	v.SetDefault("matching.partial_word_weight", 0.7)
	v.SetDefault("matching.word_ratio_threshold", 0.40)
	v.SetDefault("matching.similarity_threshold", 0.50)
	v.SetDefault("matching.brand_tokens", []string{
		"jollibee", "mcdo", "mcdonalds", "kfc", "chowking", "greenwich",
		"shell", "petron", "caltex", "711", "seveneleven", "ministop",
	})

	v.SetDefault("reconciliation.enabled", true)
	v.SetDefault("reconciliation.cron", "0 */10 * * * *")
	v.SetDefault("reconciliation.stale_after_minutes", 15)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.output", "stdout")
}
