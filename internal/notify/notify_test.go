package notify

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDoneWakesWaiter(t *testing.T) {
	n := NewNotifier(time.Minute)

	ch, release := n.Wait("u1:o1")
	defer release()

	select {
	case <-ch:
		t.Fatal("channel closed before Done")
	default:
	}

	n.Done("u1:o1")

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("waiter not woken")
	}
}

func TestLateWaiterSeesCompletion(t *testing.T) {
	n := NewNotifier(time.Minute)

	n.Done("u1:o1")

	ch, release := n.Wait("u1:o1")
	defer release()

	select {
	case <-ch:
	default:
		t.Fatal("late waiter should observe completion immediately")
	}
}

func TestDoneIsIdempotent(t *testing.T) {
	n := NewNotifier(time.Minute)

	n.Done("u1:o1")
	assert.NotPanics(t, func() { n.Done("u1:o1") })
}

func TestKeysAreIndependent(t *testing.T) {
	n := NewNotifier(time.Minute)

	n.Done("u1:o1")

	ch, release := n.Wait("u2:o1")
	defer release()

	select {
	case <-ch:
		t.Fatal("unrelated key must not be completed")
	default:
	}
}

func TestResetAllowsFreshFlow(t *testing.T) {
	n := NewNotifier(time.Minute)

	n.Done("u1:o1")
	n.Reset("u1:o1")

	ch, release := n.Wait("u1:o1")
	defer release()

	select {
	case <-ch:
		t.Fatal("reset key must not be completed")
	default:
	}
}

func TestReleaseDropsAbandonedEntry(t *testing.T) {
	n := NewNotifier(time.Minute)

	_, release := n.Wait("u1:o1")
	release()

	n.mu.Lock()
	defer n.mu.Unlock()
	assert.Empty(t, n.entries, "abandoned waiter must not leave an entry behind")
}

func TestReleaseKeepsEntryForRemainingWaiters(t *testing.T) {
	n := NewNotifier(time.Minute)

	ch1, release1 := n.Wait("u1:o1")
	_, release2 := n.Wait("u1:o1")
	release2()

	n.Done("u1:o1")

	select {
	case <-ch1:
	case <-time.After(time.Second):
		t.Fatal("remaining waiter not woken")
	}
	release1()
}

func TestReleaseIsIdempotent(t *testing.T) {
	n := NewNotifier(time.Minute)

	_, release := n.Wait("u1:o1")
	release()
	assert.NotPanics(t, release)
}

func TestRetentionSweepsStaleMarks(t *testing.T) {
	now := time.Now()
	nowFunc = func() time.Time { return now }
	t.Cleanup(func() { nowFunc = time.Now })

	n := NewNotifier(10 * time.Minute)
	n.Done("u1:o1")

	now = now.Add(11 * time.Minute)

	ch, release := n.Wait("u1:o1")
	defer release()

	select {
	case <-ch:
		t.Fatal("completion mark must not outlive its retention window")
	default:
	}
}
