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

// Package analyzer downloads, fingerprints and matches objects, records new
// matches and raises alerts for them.
package analyzer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/cardinalhq/objalert/internal/dispatch"
	"github.com/cardinalhq/objalert/internal/logctx"
	"github.com/cardinalhq/objalert/internal/queue"
	"github.com/cardinalhq/objalert/internal/rules"
)

const (
	MetaFilePath       = "filepath"
	MetaReportedSHA256 = "reported_sha256"
)

// ErrObjectNotFound is returned by an ObjectFetcher when the object is gone.
var ErrObjectNotFound = errors.New("object not found")

type ObjectInfo struct {
	Size     int64
	Metadata map[string]string
}

type ObjectFetcher interface {
	Bucket() string
	Head(ctx context.Context, key string) (ObjectInfo, error)
	Download(ctx context.Context, key string, w io.WriterAt) (int64, error)
}

type Matcher interface {
	Match(ctx context.Context, path string, ext rules.Externals) ([]rules.Match, error)
	Count() int
}

// MatchStore persists matches idempotently.  Save reports whether any of the
// record's (fingerprint, rule) pairs was new under ruleVersion.  Forget drops
// the record's pairs when the alert for them could not be published, so a
// redelivery alerts again.
type MatchStore interface {
	Save(ctx context.Context, rec *Record, ruleVersion int) (bool, error)
	Forget(ctx context.Context, rec *Record, ruleVersion int) error
}

type Publisher interface {
	Publish(ctx context.Context, rec *Record) error
}

type Config struct {
	ScratchDir string
	ChunkSize  int
	// RuleVersion scopes match records, so redeploying rules re-alerts.
	RuleVersion int
}

type Analyzer struct {
	fetcher   ObjectFetcher
	matcher   Matcher
	store     MatchStore
	publisher Publisher
	receipts  queue.Deleter
	cfg       Config
}

func New(fetcher ObjectFetcher, matcher Matcher, store MatchStore, publisher Publisher, receipts queue.Deleter, cfg Config) *Analyzer {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.ScratchDir == "" {
		cfg.ScratchDir = DefaultScratchDir()
	}
	return &Analyzer{
		fetcher:   fetcher,
		matcher:   matcher,
		store:     store,
		publisher: publisher,
		receipts:  receipts,
		cfg:       cfg,
	}
}

type Result struct {
	// Summaries is keyed by Record.Location.
	Summaries map[string]Summary
	Analyzed  int
	Matched   int
	Alerts    int
	Skipped   int
	Failures  *multierror.Error
	// Redeliver is set when an alert failed to publish.  The payload's queue
	// messages are then left to become visible again.
	Redeliver bool
}

// Handle analyzes every key in p in order, then deletes p's queue messages
// unless an alert failed to publish.  Failures are collected per object in
// Result.Failures; the returned error is reserved for an unusable payload.
func (a *Analyzer) Handle(ctx context.Context, p dispatch.Payload) (Result, error) {
	ll := logctx.FromContext(ctx)
	res := Result{Summaries: make(map[string]Summary, len(p.S3Objects))}

	if len(p.S3Objects) == 0 {
		return res, errors.New("payload has no objects")
	}

	ll.Info("Processing objects", slog.Int("count", len(p.S3Objects)))
	var downloads []time.Duration
	for _, key := range p.S3Objects {
		rec, alerted, err := a.analyze(ctx, key)
		if errors.Is(err, ErrObjectNotFound) {
			ll.Warn("Object no longer exists, skipping", slog.String("key", key))
			res.Skipped++
			continue
		}
		if rec != nil {
			res.Summaries[rec.Location()] = rec.Summary()
			downloads = append(downloads, rec.Download)
		}
		if err != nil {
			ll.Error("Object analysis failed", slog.String("key", key), slog.Any("error", err))
			res.Failures = multierror.Append(res.Failures, err)
			var oe *ObjectError
			if errors.As(err, &oe) && oe.Stage == stageAlert {
				res.Redeliver = true
			}
			continue
		}
		res.Analyzed++
		if len(rec.Matches) > 0 {
			res.Matched++
		}
		if alerted {
			res.Alerts++
		}
	}

	switch {
	case len(p.SQSReceipts) == 0:
	case res.Redeliver:
		ll.Warn("Leaving queue messages for redelivery", slog.Int("count", len(p.SQSReceipts)))
	default:
		if err := a.receipts.DeleteBatch(ctx, p.SQSReceipts); err != nil {
			ll.Error("Failed to delete queue messages", slog.Any("error", err))
		}
	}

	a.record(ctx, &res, downloads)
	return res, nil
}

// analyze runs one object through the pipeline and reports whether an alert
// was published for it.  The scratch file is wiped on every return path.
func (a *Analyzer) analyze(ctx context.Context, key string) (rec *Record, alerted bool, err error) {
	ll := logctx.FromContext(ctx).With(slog.String("key", key))
	ll.Info("Analyzing object")

	info, err := a.fetcher.Head(ctx, key)
	if err != nil {
		if errors.Is(err, ErrObjectNotFound) {
			return nil, false, err
		}
		return nil, false, &ObjectError{Key: key, Stage: "head", Err: err}
	}

	rec = &Record{
		Bucket:         a.fetcher.Bucket(),
		Key:            key,
		LogicalPath:    key,
		ReportedSHA256: info.Metadata[MetaReportedSHA256],
	}
	if p := info.Metadata[MetaFilePath]; p != "" {
		rec.LogicalPath = p
	}

	scratch, err := NewScratch(a.cfg.ScratchDir)
	if err != nil {
		return nil, false, &ObjectError{Key: key, Stage: "scratch", Err: err}
	}
	rec.ScratchPath = scratch.Path
	defer func() {
		if err := scratch.Wipe(); err != nil {
			ll.Error("Failed to wipe scratch file", slog.String("path", scratch.Path), slog.Any("error", err))
		}
	}()

	start := time.Now()
	if _, err := a.fetcher.Download(ctx, key, scratch.File()); err != nil {
		if errors.Is(err, ErrObjectNotFound) {
			return nil, false, err
		}
		return nil, false, &ObjectError{Key: key, Stage: "download", Err: err}
	}
	rec.Download = time.Since(start)

	if _, err := scratch.File().Seek(0, io.SeekStart); err != nil {
		return nil, false, &ObjectError{Key: key, Stage: "hash", Err: err}
	}
	fp, size, err := Fingerprint(scratch.File(), a.cfg.ChunkSize)
	if err != nil {
		return nil, false, &ObjectError{Key: key, Stage: "hash", Err: err}
	}
	rec.SHA256, rec.MD5, rec.Size = fp.SHA256, fp.MD5, size

	if rec.ReportedSHA256 != "" && rec.ReportedSHA256 != rec.SHA256 {
		ll.Warn("Reported SHA-256 differs from computed",
			slog.String("reported", rec.ReportedSHA256),
			slog.String("computed", rec.SHA256))
	}

	matches, err := a.matcher.Match(ctx, scratch.Path, rules.ExternalsFor(rec.LogicalPath))
	if err != nil {
		return rec, false, &ObjectError{Key: key, Stage: "match", Err: err}
	}
	rec.Matches = matches

	if len(matches) == 0 {
		ll.Info("No matches", slog.String("sha256", rec.SHA256))
		return rec, false, nil
	}

	ll.Warn("Object matched rules",
		slog.Any("rules", rec.RuleNames()),
		slog.String("sha256", rec.SHA256),
		slog.String("path", rec.LogicalPath))

	first, err := a.store.Save(ctx, rec, a.cfg.RuleVersion)
	if err != nil {
		return rec, false, &ObjectError{Key: key, Stage: "save", Err: err}
	}
	if !first {
		ll.Info("Matches already recorded, not alerting")
		return rec, false, nil
	}

	if err := a.publisher.Publish(ctx, rec); err != nil {
		if ferr := a.store.Forget(ctx, rec, a.cfg.RuleVersion); ferr != nil {
			ll.Error("Failed to forget unalerted matches", slog.Any("error", ferr))
		}
		return rec, false, &ObjectError{Key: key, Stage: stageAlert, Err: err}
	}
	alertsPublished.Add(ctx, 1)
	return rec, true, nil
}

// record publishes metrics.  Telemetry problems never fail the invocation.
func (a *Analyzer) record(ctx context.Context, res *Result, downloads []time.Duration) {
	ruleCount.Record(ctx, int64(a.matcher.Count()))
	objectsAnalyzed.Add(ctx, int64(res.Analyzed))
	objectsMatched.Add(ctx, int64(res.Matched))
	if res.Failures != nil {
		analysisFailures.Add(ctx, int64(res.Failures.Len()))
	}
	attrs := metric.WithAttributes(attribute.String("bucket", a.fetcher.Bucket()))
	for _, d := range downloads {
		downloadLatency.Record(ctx, d.Seconds(), attrs)
	}
}

// FailureCount is the number of objects that failed in res.
func (res Result) FailureCount() int {
	if res.Failures == nil {
		return 0
	}
	return res.Failures.Len()
}

func (res Result) String() string {
	return fmt.Sprintf("analyzed=%d matched=%d alerts=%d skipped=%d failures=%d redeliver=%t",
		res.Analyzed, res.Matched, res.Alerts, res.Skipped, res.FailureCount(), res.Redeliver)
}
