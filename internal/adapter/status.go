package adapter

import (
	"context"
	"fmt"
	"time"

	"github.com/magnaline/productiontelemetry/internal/config"
	"github.com/magnaline/productiontelemetry/internal/cycletime"
	"github.com/magnaline/productiontelemetry/internal/domain"
	"github.com/magnaline/productiontelemetry/internal/historian"
	"github.com/magnaline/productiontelemetry/internal/tagpublish"
)

// StatusBuilder composes the §4.7 Status snapshot for one station root:
// read every descendant fixture/counter leaf and compose the
// flat-vs-turntable payload shape, mirroring FixtureReader's tag-path
// conventions. Each leaf is read with its own historian Anchor call; the
// reads are not batched.
type StatusBuilder struct {
	client *historian.Client
	cache  *config.Cache
	now    func() time.Time
}

// NewStatusBuilder wraps a historian client and config cache. now
// defaults to time.Now.
func NewStatusBuilder(client *historian.Client, cache *config.Cache, now func() time.Time) *StatusBuilder {
	if now == nil {
		now = time.Now
	}
	return &StatusBuilder{client: client, cache: cache, now: now}
}

// Build reads the station's counter and every configured fixture slot
// and returns the structured Status payload (§4.7).
func (b *StatusBuilder) Build(ctx context.Context, st domain.Station) tagpublish.StatusPayload {
	now := b.now()
	payload := tagpublish.StatusPayload{Version: 1, Timestamp: now.UTC().Format(time.RFC3339)}

	totalParts := b.totalParts(ctx, st, now)

	if !st.HasTag() || st.FixturesPerSide <= 0 {
		payload.Data = []tagpublish.SideStatus{{SideID: 1, TotalParts: totalParts}}
		return payload
	}

	partCTs, err := b.cache.PartCT(ctx, st.StationID)
	if err != nil {
		partCTs = nil
	}

	if st.IsTurntable {
		payload.Data = []tagpublish.SideStatus{
			b.sideStatus(ctx, st, 1, totalParts, partCTs, now),
			b.sideStatus(ctx, st, 2, totalParts, partCTs, now),
		}
		return payload
	}
	payload.Data = []tagpublish.SideStatus{b.sideStatus(ctx, st, 1, totalParts, partCTs, now)}
	return payload
}

// totalParts reads the station's single counter tag. Turntable sides
// share this one station-level counter — the deployment has no
// per-side counter tag (an Open Question resolved in DESIGN.md).
func (b *StatusBuilder) totalParts(ctx context.Context, st domain.Station, now time.Time) int64 {
	if !st.HasTag() {
		return 0
	}
	sample, err := b.client.Anchor(ctx, st.TagPath, now)
	if err != nil || sample == nil {
		return 0
	}
	return int64(sample.Value)
}

func (b *StatusBuilder) sideStatus(ctx context.Context, st domain.Station, side int, totalParts int64, partCTs []domain.PartCT, now time.Time) tagpublish.SideStatus {
	byPart := make(map[string]domain.PartCT, len(partCTs))
	for _, p := range partCTs {
		byPart[p.PartNumber] = p
	}

	pathTemplate := st.TagPath + "/Fixture_%d/Part_Number"
	if st.IsTurntable {
		pathTemplate = fmt.Sprintf("%s/TurntableSide_%d/TurntableFixtures/TurntableFixture_%%d/Part_Number", st.TagPath, side)
	}

	var cts []float64
	fixtures := make([]tagpublish.FixtureStatus, 0, st.FixturesPerSide)
	for i := 1; i <= st.FixturesPerSide; i++ {
		path := fmt.Sprintf(pathTemplate, i)
		sample, err := b.client.Anchor(ctx, path, now)
		if err != nil || sample == nil {
			continue
		}
		part, ok := byPart[partNumberKey(sample.Value)]
		if !ok {
			continue
		}
		cts = append(cts, part.CycleTimeSec)
		fixtures = append(fixtures, tagpublish.FixtureStatus{FixtureIndex: i, CTSec: part.CycleTimeSec})
	}

	return tagpublish.SideStatus{
		SideID:     side,
		CycleTime:  cycletime.EffectiveCT(cts, st.ParallelismFactor),
		TotalParts: totalParts,
		Fixtures:   fixtures,
	}
}
