package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	SourceLake  = "lake"
	SourceJSONL = "jsonl"

	// keyDelimiter replaces viper's "." so Kafka property names such as
	// "bootstrap.servers" stay single keys.
	keyDelimiter = "::"
)

var (
	ErrInvalidConcurrency = errors.New("concurrency must be at least 1")
	ErrUnknownSource      = errors.New("unknown block source")
	ErrMissingInput       = errors.New("jsonl source needs an input file")
	ErrMissingRPC         = errors.New("metadata enrichment and start_from_latest need an rpc url")
	ErrMissingKafka       = errors.New("kafka::bootstrap.servers is required unless dry_run_out is set")
)

type LakeConfig struct {
	Bucket       string
	Region       string
	PollInterval time.Duration
}

// Config holds configuration values loaded from flags, env, or config file.
type Config struct {
	Kafka                map[string]string
	TopicPrefix          string
	AllTopic             string
	WhitelistContractIDs []string
	BlacklistContractIDs []string
	NewTopicPartitions   int
	NewTopicReplication  int
	ForceCreateNewTopic  bool
	TopicMetadataTimeout time.Duration
	EnrichMetadata       bool
	EnrichConcurrency    int
	Concurrency          int
	RPCURL               string
	RPCMaxRetries        int
	RPCRetryBackoff      time.Duration
	Source               string
	In                   string
	StartBlockHeight     uint64
	StartFromLatest      bool
	Lake                 LakeConfig
	StatsInterval        time.Duration
	MetricsAddr          string
	PGDSN                string
	DryRunOut            string
	LogLevel             string
}

// flagKeys maps command line flag names to config keys.
var flagKeys = map[string]string{
	"concurrency":        "concurrency",
	"source":             "source",
	"in":                 "in",
	"start-block-height": "start_block_height",
	"from-latest":        "start_from_latest",
	"rpc":                "rpc",
	"dry-run-out":        "dry_run_out",
	"metrics-addr":       "metrics_addr",
	"log-level":          "log_level",
	"whitelist":          "whitelist_contract_ids",
	"blacklist":          "blacklist_contract_ids",
}

// Load merges the config file, NES_ environment variables, and flags into
// Config. Without cfgFile, nes.{toml,yaml,json} is looked up in homeDir and
// then the working directory.
func Load(cfgFile, homeDir string, flags *pflag.FlagSet) (Config, error) {
	v := viper.NewWithOptions(viper.KeyDelimiter(keyDelimiter))
	v.SetEnvPrefix("NES")
	v.SetEnvKeyReplacer(strings.NewReplacer(keyDelimiter, "_", "-", "_"))
	v.AutomaticEnv()

	v.SetDefault("near_events_topic_prefix", "near_events")
	v.SetDefault("new_topic_partitions", 1)
	v.SetDefault("new_topic_replication", 1)
	v.SetDefault("force_create_new_topic", false)
	v.SetDefault("topic_metadata_timeout", time.Second)
	v.SetDefault("enrich_metadata", false)
	v.SetDefault("enrich_concurrency", 8)
	v.SetDefault("concurrency", 1)
	v.SetDefault("rpc_max_retries", 2)
	v.SetDefault("rpc_retry_backoff", 200*time.Millisecond)
	v.SetDefault("source", SourceLake)
	v.SetDefault("lake::bucket", "near-lake-data-mainnet")
	v.SetDefault("lake::region", "eu-central-1")
	v.SetDefault("lake::poll_interval", 2*time.Second)
	v.SetDefault("stats_interval", 10*time.Second)
	v.SetDefault("log_level", "info")

	if flags != nil {
		for name, key := range flagKeys {
			f := flags.Lookup(name)
			if f == nil {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return Config{}, fmt.Errorf("bind flag %s: %w", name, err)
			}
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("nes")
		if dir := expandHome(homeDir); dir != "" {
			v.AddConfigPath(dir)
		}
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	prefix := v.GetString("near_events_topic_prefix")
	allTopic := v.GetString("near_events_all_topic")
	if allTopic == "" {
		allTopic = prefix + "_all"
	}

	cfg := Config{
		Kafka:                v.GetStringMapString("kafka"),
		TopicPrefix:          prefix,
		AllTopic:             allTopic,
		WhitelistContractIDs: getStringSlice(v, "whitelist_contract_ids"),
		BlacklistContractIDs: getStringSlice(v, "blacklist_contract_ids"),
		NewTopicPartitions:   v.GetInt("new_topic_partitions"),
		NewTopicReplication:  v.GetInt("new_topic_replication"),
		ForceCreateNewTopic:  v.GetBool("force_create_new_topic"),
		TopicMetadataTimeout: v.GetDuration("topic_metadata_timeout"),
		EnrichMetadata:       v.GetBool("enrich_metadata"),
		EnrichConcurrency:    v.GetInt("enrich_concurrency"),
		Concurrency:          v.GetInt("concurrency"),
		RPCURL:               v.GetString("rpc"),
		RPCMaxRetries:        v.GetInt("rpc_max_retries"),
		RPCRetryBackoff:      v.GetDuration("rpc_retry_backoff"),
		Source:               v.GetString("source"),
		In:                   v.GetString("in"),
		StartBlockHeight:     v.GetUint64("start_block_height"),
		StartFromLatest:      v.GetBool("start_from_latest"),
		Lake: LakeConfig{
			Bucket:       v.GetString("lake::bucket"),
			Region:       v.GetString("lake::region"),
			PollInterval: v.GetDuration("lake::poll_interval"),
		},
		StatsInterval: v.GetDuration("stats_interval"),
		MetricsAddr:   v.GetString("metrics_addr"),
		PGDSN:         v.GetString("pg_dsn"),
		DryRunOut:     v.GetString("dry_run_out"),
		LogLevel:      v.GetString("log_level"),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects values that are wrong for every command.
func (c Config) Validate() error {
	if c.Concurrency < 1 {
		return fmt.Errorf("%w, got %d", ErrInvalidConcurrency, c.Concurrency)
	}
	switch c.Source {
	case SourceLake, SourceJSONL:
	default:
		return fmt.Errorf("%w %q, want %s or %s", ErrUnknownSource, c.Source, SourceLake, SourceJSONL)
	}
	return nil
}

// ValidateRun checks the settings the streaming command needs on top of
// Validate.
func (c Config) ValidateRun() error {
	if c.Source == SourceJSONL && c.In == "" {
		return ErrMissingInput
	}
	if (c.EnrichMetadata || c.StartFromLatest) && c.RPCURL == "" {
		return ErrMissingRPC
	}
	if c.DryRunOut == "" && c.Kafka["bootstrap.servers"] == "" {
		return ErrMissingKafka
	}
	return nil
}

func expandHome(dir string) string {
	if dir == "~" || strings.HasPrefix(dir, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		return filepath.Join(home, strings.TrimPrefix(dir, "~"))
	}
	return dir
}

func getStringSlice(v *viper.Viper, key string) []string {
	if !v.IsSet(key) {
		return nil
	}

	val := v.Get(key)
	switch typed := val.(type) {
	case []string:
		return cleanStrings(typed)
	case string:
		return splitAndClean(typed)
	case []interface{}:
		items := make([]string, 0, len(typed))
		for _, item := range typed {
			items = append(items, fmt.Sprintf("%v", item))
		}
		return cleanStrings(items)
	default:
		return nil
	}
}

func splitAndClean(input string) []string {
	if input == "" {
		return nil
	}
	parts := strings.Split(input, ",")
	return cleanStrings(parts)
}

func cleanStrings(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		out = append(out, item)
	}
	return out
}
