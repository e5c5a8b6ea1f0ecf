// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/cardinalhq/objalert/internal/invoke"
)

// Config aggregates configuration for every stage.
type Config struct {
	Store      StoreConfig      `mapstructure:"store"`
	Queue      QueueConfig      `mapstructure:"queue"`
	Batcher    BatcherConfig    `mapstructure:"batcher"`
	Dispatcher DispatcherConfig `mapstructure:"dispatcher"`
	Analyzer   AnalyzerConfig   `mapstructure:"analyzer"`
	Invoke     InvokeConfig     `mapstructure:"invoke"`
	MatchStore MatchStoreConfig `mapstructure:"matchstore"`
	Alerts     AlertsConfig     `mapstructure:"alerts"`
	AWS        AWSConfig        `mapstructure:"aws"`
}

// StoreConfig selects the bucket being scanned.
type StoreConfig struct {
	Bucket    string `mapstructure:"bucket"`
	Prefix    string `mapstructure:"prefix"`
	PageSize  int32  `mapstructure:"page_size"`
	RoleARN   string `mapstructure:"role_arn"`
	Endpoint  string `mapstructure:"endpoint"`
	PathStyle bool   `mapstructure:"path_style"`
}

const (
	QueueSQS    = "sqs"
	QueueAzure  = "azure"
	QueueMemory = "memory"
)

type QueueConfig struct {
	Backend             string        `mapstructure:"backend"`
	URL                 string        `mapstructure:"url"`
	AzureStorageAccount string        `mapstructure:"azure_storage_account"`
	AzureQueueName      string        `mapstructure:"azure_queue_name"`
	AzureEndpoint       string        `mapstructure:"azure_endpoint"`
	Visibility          time.Duration `mapstructure:"visibility"`
}

type BatcherConfig struct {
	ObjectsPerMessage int           `mapstructure:"objects_per_message"`
	MessagesPerBatch  int           `mapstructure:"messages_per_batch"`
	SafetyMargin      time.Duration `mapstructure:"safety_margin"`
}

type DispatcherConfig struct {
	MaxDispatches    int           `mapstructure:"max_dispatches"`
	WaitTime         time.Duration `mapstructure:"wait_time"`
	ProcessingMargin time.Duration `mapstructure:"processing_margin"`
	EmptyPollLimit   int           `mapstructure:"empty_poll_limit"`
	// UnescapeKeys is for queues fed by S3 bucket notifications, whose keys
	// arrive form-escaped.
	UnescapeKeys bool `mapstructure:"unescape_keys"`
}

// RuleVersionAuto takes the rule version from the Lambda function version.
const RuleVersionAuto = 0

type AnalyzerConfig struct {
	RulesDir    string `mapstructure:"rules_dir"`
	ScratchDir  string `mapstructure:"scratch_dir"`
	ChunkSize   int    `mapstructure:"chunk_size"`
	RuleVersion int    `mapstructure:"rule_version"`
}

const (
	InvokeLambda = "lambda"
	InvokeLocal  = "local"
)

type InvokeConfig struct {
	Backend            string        `mapstructure:"backend"`
	BatcherFunction    string        `mapstructure:"batcher_function"`
	DispatcherFunction string        `mapstructure:"dispatcher_function"`
	AnalyzerFunction   string        `mapstructure:"analyzer_function"`
	Qualifier          string        `mapstructure:"qualifier"`
	LocalConcurrency   int           `mapstructure:"local_concurrency"`
	LocalTimeout       time.Duration `mapstructure:"local_timeout"`
}

// Functions maps each stage to its Lambda function.
func (c InvokeConfig) Functions() map[invoke.Stage]string {
	return map[invoke.Stage]string{
		invoke.StageBatcher:    c.BatcherFunction,
		invoke.StageDispatcher: c.DispatcherFunction,
		invoke.StageAnalyzer:   c.AnalyzerFunction,
	}
}

const (
	MatchStoreDynamoDB = "dynamodb"
	MatchStorePostgres = "postgres"
	MatchStoreMemory   = "memory"
)

type MatchStoreConfig struct {
	Backend     string `mapstructure:"backend"`
	Table       string `mapstructure:"table"`
	PostgresURL string `mapstructure:"postgres_url"`
}

const (
	AlertsSNS   = "sns"
	AlertsKafka = "kafka"
	AlertsLog   = "log"
)

type AlertsConfig struct {
	Backend  string            `mapstructure:"backend"`
	TopicARN string            `mapstructure:"topic_arn"`
	Kafka    KafkaAlertsConfig `mapstructure:"kafka"`
}

type KafkaAlertsConfig struct {
	Brokers       []string `mapstructure:"brokers"`
	Topic         string   `mapstructure:"topic"`
	SASLMechanism string   `mapstructure:"sasl_mechanism"`
	SASLUsername  string   `mapstructure:"sasl_username"`
	SASLPassword  string   `mapstructure:"sasl_password"`
	TLSEnabled    bool     `mapstructure:"tls_enabled"`
	TLSSkipVerify bool     `mapstructure:"tls_skip_verify"`
}

type AWSConfig struct {
	Region   string `mapstructure:"region"`
	RoleARN  string `mapstructure:"role_arn"`
	Endpoint string `mapstructure:"endpoint"`
}

func DefaultConfig() *Config {
	return &Config{
		Queue: QueueConfig{
			Backend:    QueueSQS,
			Visibility: 5 * time.Minute,
		},
		Batcher: BatcherConfig{
			ObjectsPerMessage: 20,
			MessagesPerBatch:  10,
			SafetyMargin:      10 * time.Second,
		},
		Dispatcher: DispatcherConfig{
			MaxDispatches:    20,
			WaitTime:         10 * time.Second,
			ProcessingMargin: 5 * time.Second,
		},
		Analyzer: AnalyzerConfig{
			RulesDir:    "rules",
			ChunkSize:   2 << 20,
			RuleVersion: RuleVersionAuto,
		},
		Invoke: InvokeConfig{
			Backend:          InvokeLambda,
			LocalConcurrency: 4,
			LocalTimeout:     5 * time.Minute,
		},
		MatchStore: MatchStoreConfig{
			Backend: MatchStoreDynamoDB,
		},
		Alerts: AlertsConfig{
			Backend: AlertsSNS,
		},
	}
}

// Load reads configuration from files and environment variables.
// Environment variables use the prefix "OBJALERT" and the dot character
// in keys is replaced by an underscore. For example, "store.bucket" becomes
// "OBJALERT_STORE_BUCKET".
func Load() (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	v.SetConfigName("config")
	v.AddConfigPath(".")
	v.SetEnvPrefix("OBJALERT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvs(v, cfg)
	_ = v.ReadInConfig()

	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	if b := v.GetString("alerts.kafka.brokers"); b != "" {
		cfg.Alerts.Kafka.Brokers = strings.Split(b, ",")
	}
	return cfg, nil
}

// Validate checks the settings a stage needs.
func (c *Config) Validate(stage invoke.Stage) error {
	var errs []error
	need := func(ok bool, msg string) {
		if !ok {
			errs = append(errs, errors.New(msg))
		}
	}

	switch c.Queue.Backend {
	case QueueSQS:
		need(c.Queue.URL != "", "queue.url is required for the sqs queue")
	case QueueAzure:
		need(c.Queue.AzureQueueName != "", "queue.azure_queue_name is required for the azure queue")
		need(c.Queue.AzureStorageAccount != "" || c.Queue.AzureEndpoint != "",
			"queue.azure_storage_account or queue.azure_endpoint is required for the azure queue")
	case QueueMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown queue backend %q", c.Queue.Backend))
	}

	switch c.Invoke.Backend {
	case InvokeLambda:
		switch stage {
		case invoke.StageBatcher:
			need(c.Invoke.BatcherFunction != "", "invoke.batcher_function is required")
		case invoke.StageDispatcher:
			need(c.Invoke.DispatcherFunction != "", "invoke.dispatcher_function is required")
			need(c.Invoke.AnalyzerFunction != "", "invoke.analyzer_function is required")
		}
	case InvokeLocal:
		need(c.Invoke.LocalTimeout > c.Batcher.SafetyMargin,
			"invoke.local_timeout must exceed batcher.safety_margin")
	default:
		errs = append(errs, fmt.Errorf("unknown invoke backend %q", c.Invoke.Backend))
	}

	switch stage {
	case invoke.StageBatcher:
		need(c.Store.Bucket != "", "store.bucket is required")
		need(c.Batcher.ObjectsPerMessage >= 1, "batcher.objects_per_message must be at least 1")
		need(c.Batcher.MessagesPerBatch >= 1 && c.Batcher.MessagesPerBatch <= 10,
			"batcher.messages_per_batch must be between 1 and 10")
	case invoke.StageDispatcher:
		need(c.Dispatcher.MaxDispatches >= 1, "dispatcher.max_dispatches must be at least 1")
		need(c.Dispatcher.WaitTime >= 0 && c.Dispatcher.WaitTime <= 20*time.Second,
			"dispatcher.wait_time must be between 0s and 20s")
	case invoke.StageAnalyzer:
		need(c.Store.Bucket != "", "store.bucket is required")
		need(c.Analyzer.RulesDir != "", "analyzer.rules_dir is required")
		need(c.Analyzer.ChunkSize > 0, "analyzer.chunk_size must be positive")
		switch c.MatchStore.Backend {
		case MatchStoreDynamoDB:
			need(c.MatchStore.Table != "", "matchstore.table is required for dynamodb")
		case MatchStorePostgres:
			need(c.MatchStore.PostgresURL != "", "matchstore.postgres_url is required for postgres")
		case MatchStoreMemory:
		default:
			errs = append(errs, fmt.Errorf("unknown matchstore backend %q", c.MatchStore.Backend))
		}
		switch c.Alerts.Backend {
		case AlertsSNS:
			need(c.Alerts.TopicARN != "", "alerts.topic_arn is required for sns")
		case AlertsKafka:
			need(len(c.Alerts.Kafka.Brokers) > 0 && c.Alerts.Kafka.Topic != "",
				"alerts.kafka.brokers and alerts.kafka.topic are required for kafka")
		case AlertsLog:
		default:
			errs = append(errs, fmt.Errorf("unknown alerts backend %q", c.Alerts.Backend))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown stage %s", stage))
	}

	return errors.Join(errs...)
}

// bindEnvs registers all keys within cfg so that viper will look up
// corresponding environment variables when unmarshalling.
func bindEnvs(v *viper.Viper, cfg any, parts ...string) {
	val := reflect.ValueOf(cfg)
	typ := reflect.TypeOf(cfg)
	if typ.Kind() == reflect.Ptr {
		val = val.Elem()
		typ = typ.Elem()
	}
	for i := 0; i < typ.NumField(); i++ {
		f := typ.Field(i)
		tag := f.Tag.Get("mapstructure")
		if tag == "" {
			tag = strings.ToLower(f.Name)
		}
		key := append(parts, tag)
		if f.Type.Kind() == reflect.Struct {
			bindEnvs(v, val.Field(i).Interface(), key...)
			continue
		}
		_ = v.BindEnv(strings.Join(key, "."))
	}
}
