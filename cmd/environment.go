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

package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/aws/aws-lambda-go/lambdacontext"

	"github.com/cardinalhq/objalert/config"
	"github.com/cardinalhq/objalert/internal/alerts"
	"github.com/cardinalhq/objalert/internal/analyzer"
	"github.com/cardinalhq/objalert/internal/awsclient"
	"github.com/cardinalhq/objalert/internal/azureclient"
	"github.com/cardinalhq/objalert/internal/batcher"
	"github.com/cardinalhq/objalert/internal/budget"
	"github.com/cardinalhq/objalert/internal/dispatch"
	"github.com/cardinalhq/objalert/internal/enumerator"
	"github.com/cardinalhq/objalert/internal/ingest"
	"github.com/cardinalhq/objalert/internal/invoke"
	"github.com/cardinalhq/objalert/internal/logctx"
	"github.com/cardinalhq/objalert/internal/matchstore"
	"github.com/cardinalhq/objalert/internal/queue"
	"github.com/cardinalhq/objalert/internal/rules"
)

// environment holds the backends shared by every stage running in this
// process.  The analyzer is built on first use since loading rules and
// connecting to the match store is only needed by that stage.
type environment struct {
	cfg     *config.Config
	enum    enumerator.Enumerator
	queue   queue.Queue
	invoker invoke.Invoker
	local   *invoke.Local

	buildAnalyzer func(ctx context.Context) (*analyzer.Analyzer, error)

	mu       sync.Mutex
	analyzer *analyzer.Analyzer
	closers  []func()
}

func newEnvironment(ctx context.Context, cfg *config.Config) (*environment, error) {
	awsMgr, err := awsclient.NewManager(ctx, awsclient.WithAssumeRoleSessionName("objalert"))
	if err != nil {
		return nil, err
	}
	env := &environment{cfg: cfg}

	s3Client, err := awsMgr.GetS3(ctx, s3Options(cfg)...)
	if err != nil {
		return nil, fmt.Errorf("s3 client: %w", err)
	}
	enumOpts := []enumerator.Option{enumerator.WithPrefix(cfg.Store.Prefix)}
	if cfg.Store.PageSize > 0 {
		enumOpts = append(enumOpts, enumerator.WithPageSize(cfg.Store.PageSize))
	}
	env.enum = enumerator.NewS3(s3Client, cfg.Store.Bucket, enumOpts...)

	if env.queue, err = buildQueue(ctx, cfg, awsMgr); err != nil {
		return nil, err
	}

	switch cfg.Invoke.Backend {
	case config.InvokeLocal:
		env.useLocalInvoker(ctx)
	default:
		client, err := awsMgr.GetLambda(ctx, awsOptions(cfg)...)
		if err != nil {
			return nil, fmt.Errorf("lambda client: %w", err)
		}
		env.invoker = invoke.NewLambda(client, cfg.Invoke.Functions(), cfg.Invoke.Qualifier)
	}

	env.buildAnalyzer = func(ctx context.Context) (*analyzer.Analyzer, error) {
		return newAnalyzer(ctx, cfg, awsMgr, s3Client, env.queue, env.addCloser)
	}
	return env, nil
}

// useLocalInvoker runs every stage as a goroutine of this process.
func (e *environment) useLocalInvoker(ctx context.Context) {
	e.local = invoke.NewLocal(ctx, e.cfg.Invoke.LocalConcurrency, e.cfg.Invoke.LocalTimeout)
	for _, stage := range invoke.Stages() {
		e.local.Register(stage, func(ctx context.Context, payload []byte) error {
			_, err := e.invoke(ctx, stage, payload)
			return err
		})
	}
	e.invoker = e.local
}

func (e *environment) addCloser(fn func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closers = append(e.closers, fn)
}

func (e *environment) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := len(e.closers) - 1; i >= 0; i-- {
		e.closers[i]()
	}
	e.closers = nil
}

// wait blocks until locally triggered invocations finish.  It is a no-op
// when stages run on Lambda.
func (e *environment) wait() error {
	if e.local == nil {
		return nil
	}
	return e.local.Wait()
}

// invoke runs one invocation of stage with its JSON payload and returns the
// stage's result.  The context deadline is the invocation's time budget.
func (e *environment) invoke(ctx context.Context, stage invoke.Stage, payload []byte) (result any, err error) {
	start := time.Now()
	ctx = logctx.With(ctx, slog.String("stage", stage.String()))
	defer func() { recordInvocation(ctx, stage.String(), start, err) }()

	b := budget.FromContext(ctx, e.cfg.Invoke.LocalTimeout)
	switch stage {
	case invoke.StageBatcher:
		return e.runBatcher(ctx, b, payload)
	case invoke.StageDispatcher:
		return e.runDispatcher(ctx, b)
	case invoke.StageAnalyzer:
		return e.runAnalyzer(ctx, payload)
	default:
		return nil, fmt.Errorf("unknown stage %s", stage)
	}
}

func (e *environment) runBatcher(ctx context.Context, b budget.Budget, payload []byte) (ingest.Result, error) {
	var cont ingest.Continuation
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &cont); err != nil {
			return ingest.Result{}, fmt.Errorf("decode continuation: %w", err)
		}
	}
	packer, err := batcher.NewPacker(e.queue, e.cfg.Batcher.ObjectsPerMessage, e.cfg.Batcher.MessagesPerBatch)
	if err != nil {
		return ingest.Result{}, err
	}
	ctrl := ingest.NewController(e.enum, packer, e.invoker, e.cfg.Batcher.SafetyMargin)
	res, err := ctrl.Run(ctx, b, cont)
	stats := packer.Stats()
	logctx.FromContext(ctx).Info("Batcher finished",
		slog.String("state", res.State.String()),
		slog.Int("keysListed", res.KeysListed),
		slog.Int("keysSent", stats.KeysSent),
		slog.Int("keysDropped", stats.KeysDropped))
	return res, err
}

func (e *environment) runDispatcher(ctx context.Context, b budget.Budget) (dispatch.Result, error) {
	d := dispatch.NewDispatcher(e.queue, e.invoker, dispatch.Config{
		MaxDispatches:    e.cfg.Dispatcher.MaxDispatches,
		WaitTime:         e.cfg.Dispatcher.WaitTime,
		ProcessingMargin: e.cfg.Dispatcher.ProcessingMargin,
		MaxMessages:      queue.MaxBatchSize,
		EmptyPollLimit:   e.cfg.Dispatcher.EmptyPollLimit,
		UnescapeKeys:     e.cfg.Dispatcher.UnescapeKeys,
	})
	return d.Run(ctx, b)
}

func (e *environment) runAnalyzer(ctx context.Context, payload []byte) (map[string]analyzer.Summary, error) {
	var p dispatch.Payload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, fmt.Errorf("decode analyzer payload: %w", err)
	}
	a, err := e.getAnalyzer(ctx)
	if err != nil {
		return nil, err
	}
	res, err := a.Handle(ctx, p)
	if err != nil {
		return nil, err
	}
	logctx.FromContext(ctx).Info("Analyzer finished", slog.String("result", res.String()))
	return res.Summaries, nil
}

// getAnalyzer builds the analyzer on first use.  The lock is held for the
// whole build so the scratch sweep never runs beside an analysis.
func (e *environment) getAnalyzer(ctx context.Context) (*analyzer.Analyzer, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.analyzer != nil {
		return e.analyzer, nil
	}

	a, err := e.buildAnalyzer(ctx)
	if err != nil {
		return nil, fmt.Errorf("build analyzer: %w", err)
	}
	e.analyzer = a
	return a, nil
}

func awsOptions(cfg *config.Config) []awsclient.Option {
	opts := []awsclient.Option{awsclient.WithRegion(cfg.AWS.Region)}
	if cfg.AWS.RoleARN != "" {
		opts = append(opts, awsclient.WithRole(cfg.AWS.RoleARN))
	}
	if cfg.AWS.Endpoint != "" {
		opts = append(opts, awsclient.WithEndpoint(cfg.AWS.Endpoint))
	}
	return opts
}

// s3Options lets the scanned bucket live in another account or behind an
// S3-compatible endpoint.
func s3Options(cfg *config.Config) []awsclient.Option {
	opts := awsOptions(cfg)
	if cfg.Store.RoleARN != "" {
		opts = append(opts, awsclient.WithRole(cfg.Store.RoleARN))
	}
	if cfg.Store.Endpoint != "" {
		opts = append(opts, awsclient.WithEndpoint(cfg.Store.Endpoint))
	}
	if cfg.Store.PathStyle {
		opts = append(opts, awsclient.WithPathStyle())
	}
	return opts
}

func buildQueue(ctx context.Context, cfg *config.Config, awsMgr *awsclient.Manager) (queue.Queue, error) {
	switch cfg.Queue.Backend {
	case config.QueueSQS:
		client, err := awsMgr.GetSQS(ctx, awsOptions(cfg)...)
		if err != nil {
			return nil, fmt.Errorf("sqs client: %w", err)
		}
		return queue.NewSQS(client, cfg.Queue.URL), nil
	case config.QueueAzure:
		azMgr, err := azureclient.NewManager(ctx)
		if err != nil {
			return nil, fmt.Errorf("azure credentials: %w", err)
		}
		client, err := azMgr.GetQueue(ctx,
			azureclient.WithQueueStorageAccount(cfg.Queue.AzureStorageAccount),
			azureclient.WithQueueName(cfg.Queue.AzureQueueName),
			azureclient.WithQueueEndpoint(cfg.Queue.AzureEndpoint),
		)
		if err != nil {
			return nil, fmt.Errorf("azure queue client: %w", err)
		}
		return queue.NewAzure(client, cfg.Queue.Visibility), nil
	case config.QueueMemory:
		return queue.NewMemory(cfg.Queue.Visibility), nil
	default:
		return nil, fmt.Errorf("unknown queue backend %q", cfg.Queue.Backend)
	}
}

func newAnalyzer(
	ctx context.Context,
	cfg *config.Config,
	awsMgr *awsclient.Manager,
	s3Client *awsclient.S3Client,
	receipts queue.Deleter,
	onClose func(func()),
) (*analyzer.Analyzer, error) {
	ll := logctx.FromContext(ctx)

	scratch := cfg.Analyzer.ScratchDir
	if scratch == "" {
		scratch = analyzer.DefaultScratchDir()
	}
	if n := analyzer.SweepScratch(ctx, scratch); n > 0 {
		ll.Info("Removed leftover scratch files", slog.Int("count", n))
	}

	rs, err := rules.Load(cfg.Analyzer.RulesDir, rules.WithChunkSize(cfg.Analyzer.ChunkSize))
	if err != nil {
		return nil, err
	}
	ll.Info("Loaded detection rules", slog.Int("count", rs.Count()), slog.String("dir", cfg.Analyzer.RulesDir))

	store, err := buildMatchStore(ctx, cfg, awsMgr, onClose)
	if err != nil {
		return nil, err
	}
	publisher, err := buildPublisher(ctx, cfg, awsMgr, onClose)
	if err != nil {
		return nil, err
	}

	ruleVersion := resolveRuleVersion(cfg.Analyzer.RuleVersion, lambdacontext.FunctionVersion)
	ll.Info("Using rule version", slog.Int("ruleVersion", ruleVersion))

	fetcher := analyzer.NewS3Fetcher(s3Client, cfg.Store.Bucket, int64(cfg.Analyzer.ChunkSize))
	return analyzer.New(fetcher, rs, store, publisher, receipts, analyzer.Config{
		ScratchDir:  scratch,
		ChunkSize:   cfg.Analyzer.ChunkSize,
		RuleVersion: ruleVersion,
	}), nil
}

// resolveRuleVersion prefers an explicit version, then the Lambda function
// version.  Unpublished functions report "$LATEST", which maps to -1.
func resolveRuleVersion(configured int, functionVersion string) int {
	if configured != config.RuleVersionAuto {
		return configured
	}
	v, err := strconv.Atoi(functionVersion)
	if err != nil {
		return -1
	}
	return v
}

func buildMatchStore(ctx context.Context, cfg *config.Config, awsMgr *awsclient.Manager, onClose func(func())) (analyzer.MatchStore, error) {
	switch cfg.MatchStore.Backend {
	case config.MatchStoreDynamoDB:
		client, err := awsMgr.GetDynamoDB(ctx, awsOptions(cfg)...)
		if err != nil {
			return nil, fmt.Errorf("dynamodb client: %w", err)
		}
		return matchstore.NewDynamo(client, cfg.MatchStore.Table), nil
	case config.MatchStorePostgres:
		pool, err := matchstore.NewPostgresPool(ctx, cfg.MatchStore.PostgresURL)
		if err != nil {
			return nil, fmt.Errorf("postgres match store: %w", err)
		}
		onClose(pool.Close)
		return matchstore.NewPostgres(pool), nil
	case config.MatchStoreMemory:
		return matchstore.NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown matchstore backend %q", cfg.MatchStore.Backend)
	}
}

func buildPublisher(ctx context.Context, cfg *config.Config, awsMgr *awsclient.Manager, onClose func(func())) (analyzer.Publisher, error) {
	switch cfg.Alerts.Backend {
	case config.AlertsSNS:
		client, err := awsMgr.GetSNS(ctx, awsOptions(cfg)...)
		if err != nil {
			return nil, fmt.Errorf("sns client: %w", err)
		}
		return alerts.NewSNS(client, cfg.Alerts.TopicARN), nil
	case config.AlertsKafka:
		k := cfg.Alerts.Kafka
		pub, err := alerts.NewKafka(alerts.KafkaConfig{
			Brokers:       k.Brokers,
			Topic:         k.Topic,
			SASLMechanism: k.SASLMechanism,
			SASLUsername:  k.SASLUsername,
			SASLPassword:  k.SASLPassword,
			TLSEnabled:    k.TLSEnabled,
			TLSSkipVerify: k.TLSSkipVerify,
		})
		if err != nil {
			return nil, err
		}
		onClose(func() {
			if err := pub.Close(); err != nil {
				slog.Error("Failed to close kafka alert writer", slog.Any("error", err))
			}
		})
		return pub, nil
	case config.AlertsLog:
		return alerts.Log{}, nil
	default:
		return nil, fmt.Errorf("unknown alerts backend %q", cfg.Alerts.Backend)
	}
}
