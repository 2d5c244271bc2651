package realtime

import (
	"context"
	"sync"
)

// Broker fans events out to in-process subscribers, per workspace, in
// publish order.
type Broker struct {
	mu     sync.Mutex
	subs   map[string]map[*Subscription]struct{}
	buffer int
}

func NewBroker(buffer int) *Broker {
	return &Broker{subs: make(map[string]map[*Subscription]struct{}), buffer: buffer}
}

// Publish delivers e to every subscriber of its workspace. Holding the lock
// across delivery keeps concurrent publishers from interleaving per
// subscriber.
func (b *Broker) Publish(_ context.Context, e Event) error {
	var slow []*Subscription
	b.mu.Lock()
	for s := range b.subs[e.WorkspaceID] {
		if !s.deliver(e) {
			slow = append(slow, s)
		}
	}
	b.mu.Unlock()

	for _, s := range slow {
		s.fail(ErrSlowConsumer)
	}
	return nil
}

func (b *Broker) Subscribe(ctx context.Context, workspaceID string) (*Subscription, error) {
	var sub *Subscription
	sub = newSubscription(workspaceID, b.buffer, func() { b.remove(sub) })

	b.mu.Lock()
	if b.subs[workspaceID] == nil {
		b.subs[workspaceID] = make(map[*Subscription]struct{})
	}
	b.subs[workspaceID][sub] = struct{}{}
	b.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			sub.Close()
		case <-sub.Done():
		}
	}()
	return sub, nil
}

// Subscribers counts live subscriptions for workspaceID.
func (b *Broker) Subscribers(workspaceID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[workspaceID])
}

func (b *Broker) remove(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs[sub.WorkspaceID], sub)
	if len(b.subs[sub.WorkspaceID]) == 0 {
		delete(b.subs, sub.WorkspaceID)
	}
}

// FailWorkspace ends every subscription of workspaceID with err.
func (b *Broker) FailWorkspace(workspaceID string, err error) {
	b.mu.Lock()
	subs := make([]*Subscription, 0, len(b.subs[workspaceID]))
	for s := range b.subs[workspaceID] {
		subs = append(subs, s)
	}
	b.mu.Unlock()
	for _, s := range subs {
		s.fail(err)
	}
}

// CloseAll ends every subscription with err.
func (b *Broker) CloseAll(err error) {
	b.mu.Lock()
	var subs []*Subscription
	for _, set := range b.subs {
		for s := range set {
			subs = append(subs, s)
		}
	}
	b.mu.Unlock()
	for _, s := range subs {
		s.fail(err)
	}
}
