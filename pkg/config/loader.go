package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// destinyYAMLConfig represents the complete destiny.yaml file structure.
// Every field is optional; unset sections fall back to their package
// defaults in load.
type destinyYAMLConfig struct {
	Database  *DatabaseConfig  `yaml:"database"`
	Blob      *BlobConfig      `yaml:"blob"`
	Redis     *RedisConfig     `yaml:"redis"`
	Server    *ServerConfig    `yaml:"server"`
	TaskBus   *TaskBusConfig   `yaml:"task_bus"`
	Dedup     *DedupConfig     `yaml:"dedup"`
	Ingestion *IngestionConfig `yaml:"ingestion"`
	RobotAuth  *RobotAuthConfig  `yaml:"robot_auth"`
	Retention  *RetentionConfig  `yaml:"retention"`
	Automation *AutomationConfig `yaml:"automation"`
}

// Initialize loads, validates, and returns ready-to-use configuration. This
// is the primary entry point for configuration loading.
//
// Steps performed:
//  1. Load destiny.yaml from configDir
//  2. Expand environment variables
//  3. Parse YAML into structs
//  4. Merge user-defined configuration onto built-in defaults
//  5. Validate all configuration
//  6. Return Config ready for use
func Initialize(ctx context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("initializing configuration")

	cfg, err := load(ctx, configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	log.Info("configuration initialized successfully",
		"task_bus_workers", cfg.TaskBus.WorkerCount,
		"dedup_candidate_recall_limit", cfg.Dedup.CandidateRecallLimit,
		"ingestion_fan_out", cfg.Ingestion.FanOut)

	return cfg, nil
}

func load(_ context.Context, configDir string) (*Config, error) {
	var yamlCfg destinyYAMLConfig
	path := filepath.Join(configDir, "destiny.yaml")

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, NewLoadError(path, fmt.Errorf("%w: %s", ErrConfigNotFound, path))
		}
		return nil, NewLoadError(path, err)
	}

	data = ExpandEnv(data)

	if err := yaml.Unmarshal(data, &yamlCfg); err != nil {
		return nil, NewLoadError(path, fmt.Errorf("%w: %v", ErrInvalidYAML, err))
	}

	database := DefaultDatabaseConfig()
	if yamlCfg.Database != nil {
		if err := mergo.Merge(database, yamlCfg.Database, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge database config: %w", err)
		}
	}

	blob := DefaultBlobConfig()
	if yamlCfg.Blob != nil {
		if err := mergo.Merge(blob, yamlCfg.Blob, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge blob config: %w", err)
		}
	}

	redis := DefaultRedisConfig()
	if yamlCfg.Redis != nil {
		if err := mergo.Merge(redis, yamlCfg.Redis, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge redis config: %w", err)
		}
	}

	server := DefaultServerConfig()
	if yamlCfg.Server != nil {
		if err := mergo.Merge(server, yamlCfg.Server, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge server config: %w", err)
		}
	}

	taskBus := DefaultTaskBusConfig()
	if yamlCfg.TaskBus != nil {
		if err := mergo.Merge(taskBus, yamlCfg.TaskBus, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge task_bus config: %w", err)
		}
	}

	dedup := DefaultDedupConfig()
	if yamlCfg.Dedup != nil {
		if err := mergo.Merge(dedup, yamlCfg.Dedup, mergo.WithOverride, mergo.WithAppendSlice); err != nil {
			return nil, fmt.Errorf("failed to merge dedup config: %w", err)
		}
	}

	ingestion := DefaultIngestionConfig()
	if yamlCfg.Ingestion != nil {
		if err := mergo.Merge(ingestion, yamlCfg.Ingestion, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge ingestion config: %w", err)
		}
	}

	robotAuth := DefaultRobotAuthConfig()
	if yamlCfg.RobotAuth != nil {
		if err := mergo.Merge(robotAuth, yamlCfg.RobotAuth, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge robot_auth config: %w", err)
		}
	}

	retention := DefaultRetentionConfig()
	if yamlCfg.Retention != nil {
		if err := mergo.Merge(retention, yamlCfg.Retention, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge retention config: %w", err)
		}
	}

	automation := DefaultAutomationConfig()
	if yamlCfg.Automation != nil {
		if err := mergo.Merge(automation, yamlCfg.Automation, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge automation config: %w", err)
		}
	}

	return &Config{
		configDir:  configDir,
		Database:   database,
		Blob:       blob,
		Redis:      redis,
		Server:     server,
		TaskBus:    taskBus,
		Dedup:      dedup,
		Ingestion:  ingestion,
		RobotAuth:  robotAuth,
		Retention:  retention,
		Automation: automation,
	}, nil
}

func validate(cfg *Config) error {
	v := NewValidator(cfg)
	return v.ValidateAll()
}
