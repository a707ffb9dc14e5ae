package broker

import (
	"context"
	"time"

	"github.com/magnaline/productiontelemetry/internal/overcycle"
	"github.com/magnaline/productiontelemetry/internal/store"
)

// HierarchyResolver supplies topic-path names for a line, keyed by the
// representative station the engine already has a hierarchy row for.
type HierarchyResolver interface {
	HierarchyForLine(ctx context.Context, lineID string) (store.HierarchyNames, bool)
}

// TopicBuilder composes topics against a hierarchy resolver so engines
// never format topics themselves.
type TopicBuilder struct {
	hierarchy HierarchyResolver
}

// NewTopicBuilder wraps a hierarchy resolver.
func NewTopicBuilder(h HierarchyResolver) *TopicBuilder {
	return &TopicBuilder{hierarchy: h}
}

func (t *TopicBuilder) topicFor(ctx context.Context, lineID, scopeSlug string) string {
	h, ok := t.hierarchy.HierarchyForLine(ctx, lineID)
	if !ok {
		h = store.HierarchyNames{Line: lineID}
	}
	return Topic(h.Division, h.Plant, h.Area, h.Subarea, h.Line, scopeSlug)
}

// envelope wraps every published payload in {Version, Timestamp, <key>: ...}.
func envelope(key string, body any) map[string]any {
	return map[string]any{
		"Version":   1,
		"Timestamp": time.Now().UTC().Format(time.RFC3339),
		key:         body,
	}
}

// PublishScoped composes the line's topic for scopeSlug and publishes
// payload as-is (the caller supplies the full envelope), satisfying
// production.Publisher.
func (c *Client) PublishScoped(ctx context.Context, lineID, scopeSlug string, qos byte, retain bool, payload any) error {
	tb := c.topicBuilder
	if tb == nil {
		tb = NewTopicBuilder(noHierarchy{})
	}
	topic := tb.topicFor(ctx, lineID, scopeSlug)
	return c.Publish(topic, qos, retain, payload)
}

// PublishTopOvercycles satisfies overcycle.Publisher: publishes both
// leaderboard payloads to the line's topic (§4.6 step 7).
func (c *Client) PublishTopOvercycles(ctx context.Context, lineID, shiftID string, times, totals overcycle.TopPayload) error {
	timesBody := envelope("TopOvercycles", times)
	totalsBody := envelope("TopOvercycles", totals)

	tb := c.topicBuilder
	if tb == nil {
		tb = NewTopicBuilder(noHierarchy{})
	}
	topic := tb.topicFor(ctx, lineID, "TopOvercycleTimes")
	if err := c.Publish(topic, 0, true, timesBody); err != nil {
		return err
	}
	topic2 := tb.topicFor(ctx, lineID, "TopOvercycleTotals")
	return c.Publish(topic2, 0, true, totalsBody)
}

// noHierarchy is the fallback HierarchyResolver when none is wired,
// leaving the topic's plant/division/area/subarea segments empty.
type noHierarchy struct{}

func (noHierarchy) HierarchyForLine(ctx context.Context, lineID string) (store.HierarchyNames, bool) {
	return store.HierarchyNames{Line: lineID}, true
}
