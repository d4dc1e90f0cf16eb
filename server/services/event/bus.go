package event

import (
	"context"
	"sync"

	"github.com/faceforge/orchestrator/common/logger"
	"github.com/faceforge/orchestrator/common/util"
)

// DefaultSubscriberQueueSize is the number of events buffered for a single subscriber before
// further events are dropped rather than blocking the publisher.
const DefaultSubscriberQueueSize = 100

// dispatchQueueSize bounds the number of published events awaiting fan-out; publishing never
// blocks on subscriber delivery, only (in the pathological case of an overwhelmed bus) on this
// internal queue filling up.
const dispatchQueueSize = 1000

// Subscription is a single subscriber's view of the bus: either every event for one job
// (closed automatically once a terminal event for that job is delivered) or every event
// published bus-wide (must be explicitly unsubscribed).
type Subscription struct {
	C     <-chan JobEvent
	ch    chan JobEvent
	jobID string // empty string means this is a global subscription
}

// EventBus is an in-process publish/subscribe hub for JobEvents. Publish never blocks the
// caller on subscriber delivery: events are queued internally and fanned out by a single
// background dispatch loop, matching an at-most-once, best-effort delivery model - a slow or
// stuck subscriber can lose events but can never stall job execution.
type EventBus struct {
	log logger.Log

	mu                sync.Mutex
	jobSubscribers    map[string]map[*Subscription]struct{}
	globalSubscribers map[*Subscription]struct{}
	queueSize         int

	dispatchC chan JobEvent
	service   *util.StatefulService
}

func NewEventBus(logFactory logger.LogFactory, queueSize int) *EventBus {
	if queueSize <= 0 {
		queueSize = DefaultSubscriberQueueSize
	}
	b := &EventBus{
		log:               logFactory("EventBus"),
		jobSubscribers:    make(map[string]map[*Subscription]struct{}),
		globalSubscribers: make(map[*Subscription]struct{}),
		queueSize:         queueSize,
		dispatchC:         make(chan JobEvent, dispatchQueueSize),
	}
	return b
}

// Start begins the background dispatch loop. Must be called before Publish is used.
func (b *EventBus) Start(ctx context.Context) {
	b.service = util.NewStatefulService(ctx, b.log, b.dispatchLoop)
	b.service.Start()
}

// Stop drains and halts the dispatch loop, then closes all outstanding subscriptions.
func (b *EventBus) Stop() {
	if b.service != nil {
		b.service.Stop()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.globalSubscribers {
		close(sub.ch)
	}
	for _, subs := range b.jobSubscribers {
		for sub := range subs {
			close(sub.ch)
		}
	}
	b.globalSubscribers = make(map[*Subscription]struct{})
	b.jobSubscribers = make(map[string]map[*Subscription]struct{})
}

func (b *EventBus) dispatchLoop() {
	ctx := b.service.Ctx()
	for {
		select {
		case <-ctx.Done():
			// Deliver whatever is still queued before the subscriptions are closed.
			for {
				select {
				case evt := <-b.dispatchC:
					b.dispatch(evt)
				default:
					return
				}
			}
		case evt := <-b.dispatchC:
			b.dispatch(evt)
		}
	}
}

// Publish enqueues an event for asynchronous delivery to all matching subscribers. If the
// internal dispatch queue itself is full the event is dropped and logged, rather than
// blocking the caller.
func (b *EventBus) Publish(evt JobEvent) {
	select {
	case b.dispatchC <- evt:
	default:
		b.log.Warnf("dispatch queue full, dropping %s event for job %s", evt.Type, evt.JobID)
	}
}

func (b *EventBus) dispatch(evt JobEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for sub := range b.globalSubscribers {
		b.trySend(sub, evt)
	}

	subs := b.jobSubscribers[evt.JobID]
	for sub := range subs {
		b.trySend(sub, evt)
		if evt.Type.IsTerminal() {
			close(sub.ch)
			delete(subs, sub)
		}
	}
	if len(subs) == 0 {
		delete(b.jobSubscribers, evt.JobID)
	}
}

func (b *EventBus) trySend(sub *Subscription, evt JobEvent) {
	select {
	case sub.ch <- evt:
	default:
		b.log.Debugf("subscriber queue full, dropping %s event for job %s", evt.Type, evt.JobID)
	}
}

// SubscribeJob returns a subscription delivering every event published for jobID. The
// channel is closed automatically once a terminal event (completed/failed/canceled) for that
// job has been delivered, so a range over sub.C naturally terminates.
func (b *EventBus) SubscribeJob(jobID string) *Subscription {
	sub := &Subscription{ch: make(chan JobEvent, b.queueSize), jobID: jobID}
	sub.C = sub.ch

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.jobSubscribers[jobID] == nil {
		b.jobSubscribers[jobID] = make(map[*Subscription]struct{})
	}
	b.jobSubscribers[jobID][sub] = struct{}{}
	return sub
}

// SubscribeGlobal returns a subscription delivering every event published for any job. Unlike
// a per-job subscription this is never closed automatically; the caller must call
// Unsubscribe when done.
func (b *EventBus) SubscribeGlobal() *Subscription {
	sub := &Subscription{ch: make(chan JobEvent, b.queueSize)}
	sub.C = sub.ch

	b.mu.Lock()
	defer b.mu.Unlock()
	b.globalSubscribers[sub] = struct{}{}
	return sub
}

// Unsubscribe removes a subscription and closes its channel. Safe to call more than once, and
// safe to call on a per-job subscription that has already been closed automatically.
func (b *EventBus) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if sub.jobID == "" {
		if _, ok := b.globalSubscribers[sub]; ok {
			delete(b.globalSubscribers, sub)
			close(sub.ch)
		}
		return
	}
	subs, ok := b.jobSubscribers[sub.jobID]
	if !ok {
		return
	}
	if _, ok := subs[sub]; ok {
		delete(subs, sub)
		close(sub.ch)
		if len(subs) == 0 {
			delete(b.jobSubscribers, sub.jobID)
		}
	}
}
