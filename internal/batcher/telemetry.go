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

package batcher

import (
	"log"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

var (
	enqueueFailures metric.Int64Counter
	keysEnqueued    metric.Int64Counter
	batchesFlushed  metric.Int64Counter
)

func init() {
	meter := otel.Meter("github.com/cardinalhq/objalert/internal/batcher")

	var err error

	enqueueFailures, err = meter.Int64Counter(
		"objalert.batcher.enqueue.failures",
		metric.WithDescription("Queue messages the queue service refused during a batch send"),
	)
	if err != nil {
		log.Fatalf("failed to create batcher.enqueue.failures counter: %v", err)
	}

	keysEnqueued, err = meter.Int64Counter(
		"objalert.batcher.keys.enqueued",
		metric.WithDescription("Object keys carried by successfully sent queue messages"),
	)
	if err != nil {
		log.Fatalf("failed to create batcher.keys.enqueued counter: %v", err)
	}

	batchesFlushed, err = meter.Int64Counter(
		"objalert.batcher.batches.flushed",
		metric.WithDescription("Batch send calls issued by the packer"),
	)
	if err != nil {
		log.Fatalf("failed to create batcher.batches.flushed counter: %v", err)
	}
}
