package operations

import (
	"context"
	"sync"
)

// Dispatcher is an Observer that hands events over to its own goroutine.
//
// Events are copied into an unbounded FIFO so the run goroutine never blocks on a slow consumer,
// and are delivered one at a time in the order they were received. The completion event is the last
// event a Dispatcher accepts; once it has been delivered the dispatcher goroutine exits.
type Dispatcher struct {
	deliver func(Event)
	onDone  func()

	mu     sync.Mutex
	queue  []Event
	closed bool

	wake chan struct{}
	done chan struct{}
}

var _ Observer = (*Dispatcher)(nil)

// NewDispatcher starts a Dispatcher calling deliver for every event.
func NewDispatcher(deliver func(Event)) *Dispatcher {
	return newDispatcher(deliver, nil)
}

// DispatchTo starts a Dispatcher forwarding events to o on the dispatcher goroutine.
func DispatchTo(o Observer) *Dispatcher {
	return newDispatcher(func(ev Event) { deliver(o, ev) }, nil)
}

func newDispatcher(deliver func(Event), onDone func()) *Dispatcher {
	d := &Dispatcher{
		deliver: deliver,
		onDone:  onDone,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	go d.loop()

	return d
}

func (d *Dispatcher) OnStatus(ev StatusEvent) {
	d.push(Event{Kind: EventStatus, Status: ev}, false)
}

func (d *Dispatcher) OnLog(ev LogEvent) {
	d.push(Event{Kind: EventLog, Log: ev}, false)
}

func (d *Dispatcher) OnComplete(c Completion) {
	d.push(Event{Kind: EventCompletion, Completion: c}, true)
}

// Close stops accepting events. Queued events are still delivered.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	d.signal()
}

// Done is closed once every accepted event has been delivered and the dispatcher has stopped.
func (d *Dispatcher) Done() <-chan struct{} {
	return d.done
}

func (d *Dispatcher) push(ev Event, last bool) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.queue = append(d.queue, ev.clone())
	if last {
		d.closed = true
	}
	d.mu.Unlock()

	d.signal()
}

func (d *Dispatcher) signal() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *Dispatcher) loop() {
	defer func() {
		if d.onDone != nil {
			d.onDone()
		}
		close(d.done)
	}()

	for {
		d.mu.Lock()
		for len(d.queue) == 0 && !d.closed {
			d.mu.Unlock()
			<-d.wake
			d.mu.Lock()
		}
		if len(d.queue) == 0 {
			d.mu.Unlock()
			return
		}
		batch := d.queue
		d.queue = nil
		d.mu.Unlock()

		for _, ev := range batch {
			d.deliver(ev)
		}
	}
}

// channelDispatcher feeds a subscription channel until the completion event or ctx is done.
func channelDispatcher(ctx context.Context) (*Dispatcher, <-chan Event) {
	ch := make(chan Event)
	d := newDispatcher(func(ev Event) {
		select {
		case ch <- ev:
		case <-ctx.Done():
		}
	}, func() { close(ch) })

	go func() {
		select {
		case <-ctx.Done():
			d.Close()
		case <-d.Done():
		}
	}()

	return d, ch
}
