package broadcast_test

import (
	"testing"
	"time"

	"github.com/ngandimoun/voicejobs/broadcast"
	"github.com/ngandimoun/voicejobs/models"
)

// collect subscribes and forwards updates to a channel for assertions.
func collect(t *testing.T, bus broadcast.Broadcaster) (<-chan broadcast.StatusUpdate, func()) {
	t.Helper()
	ch := make(chan broadcast.StatusUpdate, 64)
	unsub := bus.Subscribe(func(u broadcast.StatusUpdate) {
		ch <- u
	})
	return ch, unsub
}

func waitFor(t *testing.T, ch <-chan broadcast.StatusUpdate) broadcast.StatusUpdate {
	t.Helper()
	select {
	case u := <-ch:
		return u
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for status update")
		return broadcast.StatusUpdate{}
	}
}

func TestBusFansOutToAllSubscribers(t *testing.T) {
	bus := broadcast.NewBus(nil)

	first, unsubFirst := collect(t, bus)
	second, unsubSecond := collect(t, bus)
	defer unsubFirst()
	defer unsubSecond()

	bus.Publish(broadcast.StatusUpdate{JobID: "job-1", Status: models.StatusProcessing})

	for _, ch := range []<-chan broadcast.StatusUpdate{first, second} {
		u := waitFor(t, ch)
		if u.JobID != "job-1" || u.Status != models.StatusProcessing {
			t.Fatalf("unexpected update: %+v", u)
		}
	}
}

func TestBusPreservesOrderPerSubscriber(t *testing.T) {
	bus := broadcast.NewBus(nil)
	ch, unsub := collect(t, bus)
	defer unsub()

	bus.Publish(broadcast.StatusUpdate{JobID: "job-1", Status: models.StatusProcessing})
	bus.Publish(broadcast.StatusUpdate{JobID: "job-1", Status: models.StatusCompleted})

	if u := waitFor(t, ch); u.Status != models.StatusProcessing {
		t.Fatalf("first update status = %s, want processing", u.Status)
	}
	if u := waitFor(t, ch); u.Status != models.StatusCompleted {
		t.Fatalf("second update status = %s, want completed", u.Status)
	}
}

func TestBusUnsubscribeStopsDelivery(t *testing.T) {
	bus := broadcast.NewBus(nil)
	ch, unsub := collect(t, bus)

	bus.Publish(broadcast.StatusUpdate{JobID: "job-1", Status: models.StatusProcessing})
	waitFor(t, ch)

	unsub()
	unsub() // safe to call twice

	bus.Publish(broadcast.StatusUpdate{JobID: "job-2", Status: models.StatusProcessing})

	select {
	case u := <-ch:
		t.Fatalf("received update after unsubscribe: %+v", u)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestBusSlowListenerDoesNotBlockPublish(t *testing.T) {
	bus := broadcast.NewBus(nil)

	// This listener never makes progress.
	block := make(chan struct{})
	unsub := bus.Subscribe(func(broadcast.StatusUpdate) {
		<-block
	})
	defer func() {
		close(block)
		unsub()
	}()

	fast, unsubFast := collect(t, bus)
	defer unsubFast()

	start := time.Now()
	for i := 0; i < 100; i++ {
		bus.Publish(broadcast.StatusUpdate{JobID: "job-1", Status: models.StatusProcessing})
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("publish blocked behind slow listener: %v", elapsed)
	}

	// The healthy listener still receives updates.
	waitFor(t, fast)
}

func TestBusSurvivesPanickingListener(t *testing.T) {
	bus := broadcast.NewBus(nil)

	unsub := bus.Subscribe(func(broadcast.StatusUpdate) {
		panic("listener bug")
	})
	defer unsub()

	healthy, unsubHealthy := collect(t, bus)
	defer unsubHealthy()

	bus.Publish(broadcast.StatusUpdate{JobID: "job-1", Status: models.StatusCompleted})
	waitFor(t, healthy)
}

func TestBusPublishWithNoSubscribers(t *testing.T) {
	bus := broadcast.NewBus(nil)
	bus.Publish(broadcast.StatusUpdate{JobID: "job-1", Status: models.StatusCompleted})
}
