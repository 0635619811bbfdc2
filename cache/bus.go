package cache

import (
	"sync"
	"time"
)

// Callback receives the payload published to a domain. Callbacks run
// synchronously on the publishing goroutine; a refresh driven by the
// interval loop, a focus signal or a reconnect signal passes a nil payload.
type Callback func(payload interface{})

type subscription struct {
	id       int
	domain   string
	callback Callback
	interval time.Duration
}

type domainState struct {
	subs        map[int]*subscription
	lastPublish time.Time
}

// Bus is a publish/subscribe fan-out keyed by named data domains
// ("transfers", "drops", "balances"). Publishing a domain invokes every
// registered callback and resets the domain's staleness clock; stale domains
// are additionally refreshed on an interval tick, on window focus and on
// network reconnect. Close stops the interval loop.
type Bus struct {
	now  func() time.Time
	tick time.Duration

	mu      sync.Mutex
	nextID  int
	domains map[string]*domainState
	closed  chan struct{}
	once    sync.Once
}

// NewBus starts a bus whose interval loop wakes at the given resolution
// (1s when non-positive).
func NewBus(tick time.Duration) *Bus {
	if tick <= 0 {
		tick = time.Second
	}
	b := &Bus{
		now:     time.Now,
		tick:    tick,
		domains: make(map[string]*domainState),
		closed:  make(chan struct{}),
	}
	go b.loop()
	return b
}

func (b *Bus) loop() {
	ticker := time.NewTicker(b.tick)
	defer ticker.Stop()
	for {
		select {
		case <-b.closed:
			return
		case <-ticker.C:
			b.refreshStale(false)
		}
	}
}

// Subscribe registers a callback on the domain. A positive interval marks
// the domain for periodic refresh; zero means the subscriber only reacts to
// explicit publishes and focus/reconnect signals. The returned function
// removes the subscription.
func (b *Bus) Subscribe(domain string, cb Callback, interval time.Duration) func() {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	ds, ok := b.domains[domain]
	if !ok {
		ds = &domainState{subs: make(map[int]*subscription), lastPublish: b.now()}
		b.domains[domain] = ds
	}
	ds.subs[id] = &subscription{id: id, domain: domain, callback: cb, interval: interval}
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		if ds, ok := b.domains[domain]; ok {
			delete(ds.subs, id)
		}
		b.mu.Unlock()
	}
}

// Publish invokes every callback registered on the domain with the payload
// and resets the domain's staleness clock. No cross-domain ordering or
// consistency is implied.
func (b *Bus) Publish(domain string, payload interface{}) {
	b.mu.Lock()
	ds, ok := b.domains[domain]
	if !ok {
		b.mu.Unlock()
		return
	}
	ds.lastPublish = b.now()
	callbacks := make([]Callback, 0, len(ds.subs))
	for _, sub := range ds.subs {
		callbacks = append(callbacks, sub.callback)
	}
	b.mu.Unlock()

	for _, cb := range callbacks {
		cb(payload)
	}
}

// NotifyFocus refreshes every stale domain when the window regains focus.
func (b *Bus) NotifyFocus() { b.refreshStale(true) }

// NotifyOnline refreshes every stale domain when connectivity returns.
func (b *Bus) NotifyOnline() { b.refreshStale(true) }

// refreshStale republishes (with a nil payload) each domain whose age
// exceeds the smallest subscriber interval. When force is set, any domain
// with at least one interval subscriber refreshes regardless of age.
func (b *Bus) refreshStale(force bool) {
	b.mu.Lock()
	now := b.now()
	var due []string
	for domain, ds := range b.domains {
		min := time.Duration(0)
		for _, sub := range ds.subs {
			if sub.interval <= 0 {
				continue
			}
			if min == 0 || sub.interval < min {
				min = sub.interval
			}
		}
		if min == 0 {
			continue
		}
		if force || now.Sub(ds.lastPublish) >= min {
			due = append(due, domain)
		}
	}
	b.mu.Unlock()

	for _, domain := range due {
		b.Publish(domain, nil)
	}
}

// Close stops the interval loop. Subscriptions stay callable via Publish.
func (b *Bus) Close() {
	b.once.Do(func() { close(b.closed) })
}
