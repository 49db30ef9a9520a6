package node

import (
	"sync"

	"github.com/mosaicnetworks/nebula/src/peers"
	"github.com/sirupsen/logrus"
)

// EventType names a membership transition.
type EventType int

const (
	// NodeConnected is published when a peer is registered after a
	// successful join, in either direction.
	NodeConnected EventType = iota
	// NodeFaulted is published when the link to a registered peer is lost.
	NodeFaulted
)

// String ...
func (e EventType) String() string {
	switch e {
	case NodeConnected:
		return "NodeConnected"
	case NodeFaulted:
		return "NodeFaulted"
	default:
		return "Unknown"
	}
}

// Handler receives the address of the peer concerned by an event.
type Handler func(peers.NodeAddress)

type subscription struct {
	id uint64
	fn Handler
}

// eventBus maps each event to its subscribers, in subscription order.
type eventBus struct {
	sync.RWMutex

	subs   map[EventType][]subscription
	lastID uint64
	logger *logrus.Entry
}

func newEventBus(logger *logrus.Entry) *eventBus {
	return &eventBus{
		subs:   make(map[EventType][]subscription),
		logger: logger,
	}
}

func (b *eventBus) subscribe(evt EventType, fn Handler) func() {
	b.Lock()
	defer b.Unlock()

	b.lastID++
	id := b.lastID
	b.subs[evt] = append(b.subs[evt], subscription{id: id, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() { b.unsubscribe(evt, id) })
	}
}

func (b *eventBus) unsubscribe(evt EventType, id uint64) {
	b.Lock()
	defer b.Unlock()

	subs := b.subs[evt]
	for i, s := range subs {
		if s.id == id {
			// copy so that in-flight publications keep their slice
			b.subs[evt] = append(append([]subscription{}, subs[:i]...), subs[i+1:]...)
			return
		}
	}
}

// publish calls every subscriber on the current goroutine. A panicking
// subscriber is logged and does not prevent the others from running.
func (b *eventBus) publish(evt EventType, addr peers.NodeAddress) {
	b.RLock()
	subs := b.subs[evt]
	b.RUnlock()

	for _, s := range subs {
		b.call(evt, s, addr)
	}
}

func (b *eventBus) call(evt EventType, s subscription, addr peers.NodeAddress) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.WithFields(logrus.Fields{
				"event": evt.String(),
				"peer":  addr.String(),
				"panic": r,
			}).Error("Event subscriber panicked")
		}
	}()

	s.fn(addr)
}

// Subscribe registers fn for evt and returns a function that cancels the
// subscription.
func (n *Node) Subscribe(evt EventType, fn Handler) func() {
	return n.events.subscribe(evt, fn)
}

// OnNodeConnected subscribes fn to NodeConnected.
func (n *Node) OnNodeConnected(fn Handler) func() {
	return n.Subscribe(NodeConnected, fn)
}

// OnNodeFaulted subscribes fn to NodeFaulted.
func (n *Node) OnNodeFaulted(fn Handler) func() {
	return n.Subscribe(NodeFaulted, fn)
}
