// Package tagpublish implements the Tag-Change Publisher (§4.7): builds
// status/node/cycle snapshots, tri-state AND-reduces node groups, and
// fans them out to the broker under coalescing windows, with a typed
// log row written to the durable store for every publication.
package tagpublish

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/magnaline/productiontelemetry/internal/store"
	"github.com/magnaline/productiontelemetry/internal/valuetype"
)

// StatusCoalesceWindow and NodeCoalesceWindow are the §6 coalescing
// cadences for status snapshots and node/cycle groups.
const (
	StatusCoalesceWindow = 150 * time.Millisecond
	NodeCoalesceWindow   = 75 * time.Millisecond
)

// FixtureStatus is one fixture entry inside a station's Status payload.
type FixtureStatus struct {
	FixtureIndex int     `json:"FixtureIndex"`
	CTSec        float64 `json:"CTSec"`
}

// SideStatus is one data entry in a flat station's or one turntable
// side's Status payload (§4.7).
type SideStatus struct {
	SideID     int             `json:"SideID"`
	CycleTime  float64         `json:"CycleTime"`
	TotalParts int64           `json:"TotalParts"`
	Fixtures   []FixtureStatus `json:"fixtures"`
}

// StatusPayload is the §4.7 structured status snapshot.
type StatusPayload struct {
	Version   int          `json:"version"`
	Timestamp string       `json:"timestamp"`
	Data      []SideStatus `json:"data"`
}

// GroupPayload is the §4.7 node/cycle group publication shape.
type GroupPayload struct {
	Version   int    `json:"Version"`
	Timestamp string `json:"Timestamp"`
	Value     any    `json:"Value"`
}

// Broker is the subset of broker.Client the publisher calls.
type Broker interface {
	Publish(topic string, qos byte, retain bool, payload any) error
}

// Store logs every publication (§4.7 last paragraph).
type Store interface {
	InsertTagPublishLog(ctx context.Context, row store.TagPublishLogRow) (store.Kind, error)
}

// Publisher coalesces and fans out status/node/cycle snapshots.
type Publisher struct {
	broker Broker
	store  Store
	log    *zap.Logger

	statusCoalescer *coalescer
	nodeCoalescer   *coalescer
}

// New builds a Tag-Change Publisher.
func New(b Broker, st Store, log *zap.Logger) *Publisher {
	p := &Publisher{broker: b, store: st, log: log}
	p.statusCoalescer = newCoalescer(StatusCoalesceWindow)
	p.nodeCoalescer = newCoalescer(NodeCoalesceWindow)
	return p
}

// NotifyStatusChange schedules a coalesced status-snapshot publish for a
// station root; repeated calls within the window collapse to one build.
func (p *Publisher) NotifyStatusChange(ctx context.Context, topic string, build func() StatusPayload) {
	p.statusCoalescer.schedule(func() {
		payload := build()
		if err := p.broker.Publish(topic, 0, false, payload); err != nil {
			p.log.Warn("tagpublish: status publish failed", zap.Error(err))
			return
		}
		raw, err := json.Marshal(payload)
		if err != nil {
			p.log.Warn("tagpublish: status payload marshal failed", zap.Error(err))
			return
		}
		p.logPublication(ctx, topic, valuetype.KindText, valuetype.String(string(raw)))
	})
}

// NotifyNodeChange schedules a coalesced node-group (tri-state AND)
// publish.
func (p *Publisher) NotifyNodeChange(ctx context.Context, topic string, members func() []interface{}) {
	p.nodeCoalescer.schedule(func() {
		raws := members()
		states := make([]valuetype.Tristate, 0, len(raws))
		for _, r := range raws {
			states = append(states, valuetype.CoerceBoolTristate(r))
		}
		result := valuetype.AndTristate(states)
		var v valuetype.Value
		switch result {
		case valuetype.True:
			v = valuetype.Boolean(true)
		case valuetype.False:
			v = valuetype.Boolean(false)
		default:
			v = valuetype.Value{Kind: valuetype.KindBool}
		}
		payload := GroupPayload{Version: 1, Timestamp: time.Now().UTC().Format(time.RFC3339), Value: tristateJSON(result)}
		if err := p.broker.Publish(topic, 0, false, payload); err != nil {
			p.log.Warn("tagpublish: node group publish failed", zap.Error(err))
			return
		}
		p.logPublication(ctx, topic, v.Kind, v)
	})
}

// NotifyCycleChange schedules a coalesced cycle-group (first good
// numeric) publish.
func (p *Publisher) NotifyCycleChange(ctx context.Context, topic string, members func() []interface{}) {
	p.nodeCoalescer.schedule(func() {
		raws := members()
		val, ok := valuetype.FirstGoodNumeric(raws)
		if !ok {
			return
		}
		payload := GroupPayload{Version: 1, Timestamp: time.Now().UTC().Format(time.RFC3339), Value: val}
		if err := p.broker.Publish(topic, 0, false, payload); err != nil {
			p.log.Warn("tagpublish: cycle group publish failed", zap.Error(err))
			return
		}
		p.logPublication(ctx, topic, valuetype.KindNum, valuetype.Number(val))
	})
}

func tristateJSON(t valuetype.Tristate) any {
	switch t {
	case valuetype.True:
		return true
	case valuetype.False:
		return false
	default:
		return nil
	}
}

func (p *Publisher) logPublication(ctx context.Context, topicID string, kind valuetype.Kind, v valuetype.Value) {
	row := store.TagPublishLogRow{
		TopicID: topicID, QoS: 0, Retain: false, ValueType: string(kind), QualityOK: true, SrcTS: time.Now().UTC(),
	}
	switch kind {
	case valuetype.KindNum:
		n := v.Num
		row.ValueNum = &n
	case valuetype.KindBool:
		b := v.Bool
		row.ValueBool = &b
	case valuetype.KindText:
		s := v.Text
		row.ValueText = &s
	}
	if _, err := p.store.InsertTagPublishLog(ctx, row); err != nil {
		p.log.Warn("tagpublish: log insert failed", zap.Error(err))
	}
}
