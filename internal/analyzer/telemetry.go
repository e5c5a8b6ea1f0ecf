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

package analyzer

import (
	"log"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

var (
	ruleCount        metric.Int64Gauge
	objectsAnalyzed  metric.Int64Counter
	objectsMatched   metric.Int64Counter
	analysisFailures metric.Int64Counter
	alertsPublished  metric.Int64Counter
	downloadLatency  metric.Float64Histogram
)

func init() {
	meter := otel.Meter("github.com/cardinalhq/objalert/internal/analyzer")

	var err error

	ruleCount, err = meter.Int64Gauge(
		"objalert.analyzer.rules",
		metric.WithDescription("Number of compiled rules loaded by the analyzer"),
	)
	if err != nil {
		log.Fatalf("failed to create analyzer.rules gauge: %v", err)
	}

	objectsAnalyzed, err = meter.Int64Counter(
		"objalert.analyzer.objects.analyzed",
		metric.WithDescription("Objects downloaded, hashed and matched"),
	)
	if err != nil {
		log.Fatalf("failed to create analyzer.objects.analyzed counter: %v", err)
	}

	objectsMatched, err = meter.Int64Counter(
		"objalert.analyzer.objects.matched",
		metric.WithDescription("Objects that matched at least one rule"),
	)
	if err != nil {
		log.Fatalf("failed to create analyzer.objects.matched counter: %v", err)
	}

	analysisFailures, err = meter.Int64Counter(
		"objalert.analyzer.failures",
		metric.WithDescription("Objects whose analysis failed"),
	)
	if err != nil {
		log.Fatalf("failed to create analyzer.failures counter: %v", err)
	}

	alertsPublished, err = meter.Int64Counter(
		"objalert.analyzer.alerts",
		metric.WithDescription("Alerts published for first observations"),
	)
	if err != nil {
		log.Fatalf("failed to create analyzer.alerts counter: %v", err)
	}

	downloadLatency, err = meter.Float64Histogram(
		"objalert.analyzer.download.duration",
		metric.WithDescription("Time spent downloading one object"),
		metric.WithUnit("s"),
	)
	if err != nil {
		log.Fatalf("failed to create analyzer.download.duration histogram: %v", err)
	}
}
