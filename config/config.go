package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	ZeroTrust ZeroTrustConfig `yaml:"zerotrust"`
}

// ZeroTrustConfig is the project configuration.
type ZeroTrustConfig struct {
	Input    InputConfig    `yaml:"input"`
	Storage  StorageConfig  `yaml:"storage"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Model    ModelConfig    `yaml:"model"`
	Trust    TrustConfig    `yaml:"trust"`
	Feedback FeedbackConfig `yaml:"feedback"`
	Rules    RulesConfig    `yaml:"rules"`
	Notify   NotifyConfig   `yaml:"notify"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// InputConfig controls the raw event intake.
type InputConfig struct {
	Redis RedisConfig `yaml:"redis"`
}

// RedisConfig controls a Redis connection.
type RedisConfig struct {
	Addr         string        `yaml:"addr"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	Key          string        `yaml:"key"`
	ControlKey   string        `yaml:"control_key"`
	BlockTimeout time.Duration `yaml:"block_timeout"`
}

// StorageConfig controls the persistence collaborator.
type StorageConfig struct {
	Mode      string `yaml:"mode"` // redis|memory
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

// PipelineConfig controls ingestion behavior.
type PipelineConfig struct {
	Workers   int `yaml:"workers"`
	QueueSize int `yaml:"queue_size"`
}

// ModelConfig controls the anomaly scorer ensemble.
type ModelConfig struct {
	Trees         int     `yaml:"trees"`
	Subsample     int     `yaml:"subsample"`
	Contamination float64 `yaml:"contamination"`
	MinCorpusSize int     `yaml:"min_corpus_size"`
	Seed          int64   `yaml:"seed"`
	ArtifactPath  string  `yaml:"artifact_path"`
}

// TrustConfig controls trust arithmetic.
type TrustConfig struct {
	InitialScore      float64            `yaml:"initial_score"`
	CriticalThreshold float64            `yaml:"critical_threshold"`
	SeverityWeights   map[string]float64 `yaml:"severity_weights"`
}

// FeedbackConfig controls the operator correction loop.
type FeedbackConfig struct {
	RetrainBatch int `yaml:"retrain_batch"`
}

// RulesConfig controls optional Sigma rule enrichment.
type RulesConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// NotifyConfig controls the best-effort broadcast collaborator.
type NotifyConfig struct {
	Mode      string `yaml:"mode"` // redis|none
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	ChannelNS string `yaml:"channel_ns"`
	QueueSize int    `yaml:"queue_size"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// LoggingConfig controls logging output.
type LoggingConfig struct {
	Enabled bool   `yaml:"enabled"`
	Level   string `yaml:"level"`
	File    string `yaml:"file"`
	Console bool   `yaml:"console"`
}

// LoadConfig reads and parses a YAML config file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
