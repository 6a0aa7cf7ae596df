// Package events fans oracle events out to subscribers over a cometbft
// pubsub server. Every event is tagged with its type, round and (when it
// has one) node, so subscribers can filter with cometbft queries such as
//
//	oracle.event = 'NodeSlashed' AND oracle.round = 'AB12...'
package events

import (
	"context"
	"fmt"

	cmtlog "github.com/cometbft/cometbft/libs/log"
	cmtpubsub "github.com/cometbft/cometbft/libs/pubsub"
	cmtquery "github.com/cometbft/cometbft/libs/pubsub/query"

	"commit-reveal-oracle/internal/oracle"
)

// Attribute keys set on every published event.
const (
	EventTypeKey = "oracle.event"
	RoundKey     = "oracle.round"
	NodeKey      = "oracle.node"
)

const defaultBufferCapacity = 100

// Bus implements oracle.Publisher.
type Bus struct {
	server *cmtpubsub.Server
}

func NewBus(logger cmtlog.Logger) *Bus {
	if logger == nil {
		logger = cmtlog.NewNopLogger()
	}
	s := cmtpubsub.NewServer(cmtpubsub.BufferCapacity(defaultBufferCapacity))
	s.SetLogger(logger.With("module", "events"))
	return &Bus{server: s}
}

func (b *Bus) Start() error { return b.server.Start() }

func (b *Bus) Stop() error { return b.server.Stop() }

// Publish tags ev and hands it to the pubsub server.
func (b *Bus) Publish(ctx context.Context, ev oracle.Event) error {
	attrs := map[string][]string{
		EventTypeKey: {ev.EventType()},
		RoundKey:     {ev.RoundID().String()},
	}
	if node := NodeOf(ev); len(node) > 0 {
		attrs[NodeKey] = []string{node.String()}
	}
	if err := b.server.PublishWithEvents(ctx, ev, attrs); err != nil {
		return fmt.Errorf("publish %s: %w", ev.EventType(), err)
	}
	return nil
}

// Subscribe delivers events matching q on a buffered subscription. A
// subscriber that falls outCapacity events behind is cancelled.
func (b *Bus) Subscribe(ctx context.Context, subscriber string, q cmtpubsub.Query, outCapacity int) (*cmtpubsub.Subscription, error) {
	return b.server.Subscribe(ctx, subscriber, q, outCapacity)
}

func (b *Bus) UnsubscribeAll(ctx context.Context, subscriber string) error {
	return b.server.UnsubscribeAll(ctx, subscriber)
}

// QueryAll matches every oracle event, in publish order.
func QueryAll() cmtpubsub.Query {
	return cmtquery.MustCompile(EventTypeKey + " EXISTS")
}

// QueryForEvent matches one event type.
func QueryForEvent(eventType string) cmtpubsub.Query {
	return cmtquery.MustCompile(fmt.Sprintf("%s = '%s'", EventTypeKey, eventType))
}

// QueryForRound matches events of one type within one round.
func QueryForRound(eventType string, round oracle.Address) cmtpubsub.Query {
	return cmtquery.MustCompile(fmt.Sprintf("%s = '%s' AND %s = '%s'", EventTypeKey, eventType, RoundKey, round))
}

// NodeOf returns the node an event is about, if any.
func NodeOf(ev oracle.Event) oracle.Address {
	switch e := ev.(type) {
	case oracle.NodeJoined:
		return e.Node
	case oracle.NodeCommitted:
		return e.Node
	case oracle.NodeRevealed:
		return e.Node
	case oracle.NodeSlashed:
		return e.Node
	}
	return nil
}
