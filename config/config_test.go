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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/objalert/internal/invoke"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, QueueSQS, cfg.Queue.Backend)
	assert.Equal(t, 20, cfg.Batcher.ObjectsPerMessage)
	assert.Equal(t, 10, cfg.Batcher.MessagesPerBatch)
	assert.Equal(t, 10*time.Second, cfg.Batcher.SafetyMargin)
	assert.Equal(t, 20, cfg.Dispatcher.MaxDispatches)
	assert.Equal(t, 2<<20, cfg.Analyzer.ChunkSize)
	assert.Equal(t, RuleVersionAuto, cfg.Analyzer.RuleVersion)
	assert.False(t, cfg.Dispatcher.UnescapeKeys)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("OBJALERT_STORE_BUCKET", "uploads")
	t.Setenv("OBJALERT_STORE_PREFIX", "incoming/")
	t.Setenv("OBJALERT_QUEUE_URL", "https://sqs.us-east-2.amazonaws.com/1234/scan")
	t.Setenv("OBJALERT_BATCHER_SAFETY_MARGIN", "15s")
	t.Setenv("OBJALERT_DISPATCHER_MAX_DISPATCHES", "7")
	t.Setenv("OBJALERT_DISPATCHER_UNESCAPE_KEYS", "true")
	t.Setenv("OBJALERT_INVOKE_BACKEND", "local")
	t.Setenv("OBJALERT_ALERTS_KAFKA_BROKERS", "broker1:9092,broker2:9092")
	t.Setenv("OBJALERT_ALERTS_KAFKA_TLS_ENABLED", "true")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "uploads", cfg.Store.Bucket)
	assert.Equal(t, "incoming/", cfg.Store.Prefix)
	assert.Equal(t, "https://sqs.us-east-2.amazonaws.com/1234/scan", cfg.Queue.URL)
	assert.Equal(t, 15*time.Second, cfg.Batcher.SafetyMargin)
	assert.Equal(t, 7, cfg.Dispatcher.MaxDispatches)
	assert.True(t, cfg.Dispatcher.UnescapeKeys)
	assert.Equal(t, InvokeLocal, cfg.Invoke.Backend)
	assert.Equal(t, []string{"broker1:9092", "broker2:9092"}, cfg.Alerts.Kafka.Brokers)
	assert.True(t, cfg.Alerts.Kafka.TLSEnabled)
}

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.Store.Bucket = "uploads"
	cfg.Queue.URL = "https://sqs.example/queue"
	cfg.Invoke.BatcherFunction = "batcher"
	cfg.Invoke.DispatcherFunction = "dispatcher"
	cfg.Invoke.AnalyzerFunction = "analyzer"
	cfg.MatchStore.Table = "matches"
	cfg.Alerts.TopicARN = "arn:aws:sns:us-east-2:1234:alerts"
	return cfg
}

func TestValidate(t *testing.T) {
	for _, stage := range invoke.Stages() {
		require.NoError(t, validConfig().Validate(stage), stage.String())
	}

	tests := []struct {
		name   string
		stage  invoke.Stage
		mutate func(*Config)
		want   string
	}{
		{"missing bucket", invoke.StageBatcher, func(c *Config) { c.Store.Bucket = "" }, "store.bucket"},
		{"too many messages", invoke.StageBatcher, func(c *Config) { c.Batcher.MessagesPerBatch = 11 }, "messages_per_batch"},
		{"missing queue url", invoke.StageDispatcher, func(c *Config) { c.Queue.URL = "" }, "queue.url"},
		{"long poll too long", invoke.StageDispatcher, func(c *Config) { c.Dispatcher.WaitTime = 30 * time.Second }, "wait_time"},
		{"missing analyzer function", invoke.StageDispatcher, func(c *Config) { c.Invoke.AnalyzerFunction = "" }, "analyzer_function"},
		{"missing table", invoke.StageAnalyzer, func(c *Config) { c.MatchStore.Table = "" }, "matchstore.table"},
		{"unknown alerts", invoke.StageAnalyzer, func(c *Config) { c.Alerts.Backend = "pager" }, "alerts backend"},
		{"kafka without brokers", invoke.StageAnalyzer, func(c *Config) {
			c.Alerts.Backend = AlertsKafka
			c.Alerts.Kafka.Topic = "alerts"
		}, "alerts.kafka.brokers"},
		{"azure without account", invoke.StageDispatcher, func(c *Config) {
			c.Queue.Backend = QueueAzure
			c.Queue.AzureQueueName = "scan"
		}, "azure_storage_account"},
		{"unknown stage", invoke.StageUnknown, func(c *Config) {}, "unknown stage"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate(tt.stage)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestFunctions(t *testing.T) {
	fns := validConfig().Invoke.Functions()
	assert.Equal(t, "batcher", fns[invoke.StageBatcher])
	assert.Equal(t, "dispatcher", fns[invoke.StageDispatcher])
	assert.Equal(t, "analyzer", fns[invoke.StageAnalyzer])
}
