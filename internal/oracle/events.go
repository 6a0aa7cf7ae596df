package oracle

import "context"

// Event type names, also used as the "oracle.event" attribute on the bus.
const (
	EventNodeJoined    = "NodeJoined"
	EventNodeCommitted = "NodeCommitted"
	EventNodeRevealed  = "NodeRevealed"
	EventPhaseChanged  = "PhaseChanged"
	EventNodeSlashed   = "NodeSlashed"
	EventRoundResolved = "RoundResolved"
)

// Event is a notification emitted after an operation commits.
type Event interface {
	EventType() string
	RoundID() Address
}

// Publisher delivers events to observers.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, Event) error { return nil }

type NodeJoined struct {
	Round Address
	Node  Address
	Owner Address
	Stake uint64
}

func (e NodeJoined) EventType() string { return EventNodeJoined }
func (e NodeJoined) RoundID() Address  { return e.Round }

type NodeCommitted struct {
	Round      Address
	Node       Address
	Commitment Commitment
}

func (e NodeCommitted) EventType() string { return EventNodeCommitted }
func (e NodeCommitted) RoundID() Address  { return e.Round }

type NodeRevealed struct {
	Round Address
	Node  Address
	Vote  bool
}

func (e NodeRevealed) EventType() string { return EventNodeRevealed }
func (e NodeRevealed) RoundID() Address  { return e.Round }

type PhaseChanged struct {
	Round          Address
	From           Phase
	To             Phase
	RevealDeadline int64
	At             int64
}

func (e PhaseChanged) EventType() string { return EventPhaseChanged }
func (e PhaseChanged) RoundID() Address  { return e.Round }

// NodeSlashed is emitted on every successful slash, including non-reveal
// forfeits applied during Resolve. Slasher is empty for those.
type NodeSlashed struct {
	Round   Address
	Node    Address
	Slasher Address
	Reason  SlashReason
	Amount  uint64
}

func (e NodeSlashed) EventType() string { return EventNodeSlashed }
func (e NodeSlashed) RoundID() Address  { return e.Round }

type RoundResolved struct {
	Round      Address
	Settlement Settlement
}

func (e RoundResolved) EventType() string { return EventRoundResolved }
func (e RoundResolved) RoundID() Address  { return e.Round }
