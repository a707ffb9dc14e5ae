package adapter

import (
	"context"
	"fmt"
	"time"

	"github.com/magnaline/productiontelemetry/internal/config"
	"github.com/magnaline/productiontelemetry/internal/domain"
	"github.com/magnaline/productiontelemetry/internal/historian"
)

// FixtureReader reads each station's current fixture part-number tags and
// resolves them to cycle times via the config cache's part-CT lookup,
// mirroring the source's `_tt_fixture_part_paths` / `_non_tt_fixture_part_paths`
// tag layout (recovered from original_source `ProductionTargetsLive.py`).
type FixtureReader struct {
	client *historian.Client
	cache  *config.Cache
	now    func() time.Time
}

// NewFixtureReader wraps a historian client and config cache.
func NewFixtureReader(client *historian.Client, cache *config.Cache, now func() time.Time) *FixtureReader {
	if now == nil {
		now = time.Now
	}
	return &FixtureReader{client: client, cache: cache, now: now}
}

// ReadFixtures satisfies cycletime.FixtureReader.
func (r *FixtureReader) ReadFixtures(ctx context.Context, st domain.Station) []domain.FixtureSample {
	if !st.HasTag() || st.FixturesPerSide <= 0 {
		return nil
	}
	partCTs, err := r.cache.PartCT(ctx, st.StationID)
	if err != nil || len(partCTs) == 0 {
		return nil
	}
	byPart := make(map[string]domain.PartCT, len(partCTs))
	for _, p := range partCTs {
		byPart[p.PartNumber] = p
	}

	now := r.now()
	if st.IsTurntable {
		var out []domain.FixtureSample
		out = append(out, r.readSide(ctx, st, 1, now, byPart)...)
		out = append(out, r.readSide(ctx, st, 2, now, byPart)...)
		return out
	}
	return r.readFixtures(ctx, st.TagPath+"/Fixture_%d/Part_Number", st.FixturesPerSide, 1, now, byPart)
}

func (r *FixtureReader) readSide(ctx context.Context, st domain.Station, side int, now time.Time, byPart map[string]domain.PartCT) []domain.FixtureSample {
	base := fmt.Sprintf("%s/TurntableSide_%d/TurntableFixtures/TurntableFixture_%%d/Part_Number", st.TagPath, side)
	return r.readFixtures(ctx, base, st.FixturesPerSide, side, now, byPart)
}

func (r *FixtureReader) readFixtures(ctx context.Context, pathTemplate string, n, side int, now time.Time, byPart map[string]domain.PartCT) []domain.FixtureSample {
	out := make([]domain.FixtureSample, 0, n)
	for i := 1; i <= n; i++ {
		path := fmt.Sprintf(pathTemplate, i)
		sample, err := r.client.Anchor(ctx, path, now)
		if err != nil || sample == nil {
			continue
		}
		key := partNumberKey(sample.Value)
		part, ok := byPart[key]
		if !ok {
			continue
		}
		out = append(out, domain.FixtureSample{
			FixtureIndex: i,
			Side:         side,
			PartNumber:   part.PartNumber,
			CTSec:        part.CycleTimeSec,
			SourceTS:     sample.Timestamp,
			Good:         true,
		})
	}
	return out
}

// partNumberKey renders a historian numeric sample as the part-number key
// used by the part-CT map; part numbers in this deployment are numeric
// identifiers stored as floats in the tag historian.
func partNumberKey(v float64) string {
	return fmt.Sprintf("%d", int64(v))
}
