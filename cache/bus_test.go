package cache

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestPublishInvokesSubscribersSynchronously(t *testing.T) {
	b := NewBus(time.Hour)
	defer b.Close()

	var got atomic.Value
	b.Subscribe("transfers", func(payload interface{}) { got.Store(payload) }, 0)
	b.Publish("transfers", "updated")

	if v := got.Load(); v != "updated" {
		t.Fatalf("callback saw %v, want updated", v)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := NewBus(time.Hour)
	defer b.Close()

	var calls atomic.Int64
	cancel := b.Subscribe("drops", func(interface{}) { calls.Add(1) }, 0)
	b.Publish("drops", nil)
	cancel()
	b.Publish("drops", nil)

	if n := calls.Load(); n != 1 {
		t.Fatalf("callback ran %d times, want 1", n)
	}
}

func TestPublishIsDomainScoped(t *testing.T) {
	b := NewBus(time.Hour)
	defer b.Close()

	var transfers, balances atomic.Int64
	b.Subscribe("transfers", func(interface{}) { transfers.Add(1) }, 0)
	b.Subscribe("balances", func(interface{}) { balances.Add(1) }, 0)

	b.Publish("transfers", nil)
	if transfers.Load() != 1 || balances.Load() != 0 {
		t.Fatalf("cross-domain delivery: transfers=%d balances=%d", transfers.Load(), balances.Load())
	}
}

func TestFocusSignalRefreshesIntervalDomains(t *testing.T) {
	b := NewBus(time.Hour)
	defer b.Close()

	var interval, passive atomic.Int64
	b.Subscribe("transfers", func(interface{}) { interval.Add(1) }, time.Minute)
	b.Subscribe("contacts", func(interface{}) { passive.Add(1) }, 0)

	b.NotifyFocus()
	if interval.Load() != 1 {
		t.Fatalf("interval domain not refreshed on focus")
	}
	if passive.Load() != 0 {
		t.Fatalf("passive domain refreshed on focus")
	}

	b.NotifyOnline()
	if interval.Load() != 2 {
		t.Fatalf("interval domain not refreshed on reconnect")
	}
}

func TestStaleDomainsRefreshOnTick(t *testing.T) {
	b := NewBus(5 * time.Millisecond)
	defer b.Close()

	var calls atomic.Int64
	b.Subscribe("drops", func(interface{}) { calls.Add(1) }, 10*time.Millisecond)

	deadline := time.After(2 * time.Second)
	for calls.Load() == 0 {
		select {
		case <-deadline:
			t.Fatalf("interval refresh never fired")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestPublishResetsStaleness(t *testing.T) {
	b := NewBus(time.Hour)
	defer b.Close()

	now := time.Now()
	b.now = func() time.Time { return now }

	var calls atomic.Int64
	b.Subscribe("transfers", func(interface{}) { calls.Add(1) }, time.Minute)

	// Freshly published: the non-forced sweep must skip the domain.
	b.Publish("transfers", nil)
	b.refreshStale(false)
	if n := calls.Load(); n != 1 {
		t.Fatalf("fresh domain refreshed, calls=%d", n)
	}

	now = now.Add(2 * time.Minute)
	b.refreshStale(false)
	if n := calls.Load(); n != 2 {
		t.Fatalf("stale domain not refreshed, calls=%d", n)
	}
}
