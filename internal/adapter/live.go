// Package adapter wires the engine packages' narrow read ports
// (rollup.LiveReader, cycletime.FixtureReader, broker.ServerNameResolver,
// broker.HierarchyResolver) against the concrete historian and config
// cache clients, so cmd/engine only assembles, never implements.
package adapter

import (
	"context"
	"time"

	"github.com/magnaline/productiontelemetry/internal/domain"
	"github.com/magnaline/productiontelemetry/internal/historian"
	"github.com/magnaline/productiontelemetry/internal/rollup"
)

// LiveValueReader reads the current value of a tag as the last historian
// sample at-or-before now — OPC/live-tag browsing is out of scope (§1),
// so "live" here means the historian's own freshest point (§4.1 Anchor).
type LiveValueReader struct {
	client *historian.Client
	now    func() time.Time
}

// NewLiveValueReader wraps a historian client. now defaults to time.Now.
func NewLiveValueReader(client *historian.Client, now func() time.Time) *LiveValueReader {
	if now == nil {
		now = time.Now
	}
	return &LiveValueReader{client: client, now: now}
}

// ReadCounters satisfies rollup.LiveReader: one Anchor lookup per station
// with a resolved tag path, skipping stations with no tag configured.
func (r *LiveValueReader) ReadCounters(ctx context.Context, stations []domain.Station) map[string]rollup.LiveSample {
	out := make(map[string]rollup.LiveSample, len(stations))
	now := r.now()
	for _, st := range stations {
		if !st.HasTag() {
			continue
		}
		sample, err := r.client.Anchor(ctx, st.TagPath, now)
		if err != nil || sample == nil {
			out[st.StationID] = rollup.LiveSample{Good: false}
			continue
		}
		out[st.StationID] = rollup.LiveSample{
			Value:   int64(sample.Value),
			Good:    true,
			SrcTime: sample.Timestamp,
		}
	}
	return out
}
