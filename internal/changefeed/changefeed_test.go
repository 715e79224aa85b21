package changefeed

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/freezerdb/freezer/internal/codec"
)

func TestFeed_DeliversInCommitOrder(t *testing.T) {
	f := New()
	defer f.Close()

	ch, unsubscribe := f.Subscribe()
	defer unsubscribe()

	f.Publish(Batch{TxID: 1, Changes: []Change{{Type: ChangeTypeAdd, EntityID: "alice"}}})
	f.Publish(Batch{TxID: 2, Changes: []Change{{Type: ChangeTypeAdd, EntityID: "bob"}}})

	select {
	case b := <-ch:
		require.Equal(t, int64(1), b.TxID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for first batch")
	}
	select {
	case b := <-ch:
		require.Equal(t, int64(2), b.TxID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for second batch")
	}
}

func TestFeed_FanOutToMultipleSubscribers(t *testing.T) {
	f := New()
	defer f.Close()

	ch1, unsub1 := f.Subscribe()
	defer unsub1()
	ch2, unsub2 := f.Subscribe()
	defer unsub2()

	f.Publish(Batch{TxID: 1, Changes: []Change{{Type: ChangeTypeAdd, EntityID: "alice"}}})

	for _, ch := range []<-chan Batch{ch1, ch2} {
		select {
		case b := <-ch:
			require.Equal(t, int64(1), b.TxID)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for fan-out delivery")
		}
	}
}

func TestFeed_ValuesAndChangesFor_FiltersByEntity(t *testing.T) {
	f := New()
	defer f.Close()

	stop := make(chan struct{})
	defer close(stop)

	out := f.ValuesAndChangesFor("alice", stop)

	f.Publish(Batch{TxID: 1, Changes: []Change{
		{Type: ChangeTypeAdd, EntityID: "bob", Attribute: "age", Delta: codec.Integer(1)},
		{Type: ChangeTypeAdd, EntityID: "alice", Attribute: "age", Delta: codec.Integer(42)},
	}})

	select {
	case ec := <-out:
		require.Equal(t, "alice", ec.Change.EntityID)
		require.Equal(t, int64(42), ec.Change.Delta.Integer)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for filtered change")
	}
}

func TestFeed_CloseCompletesSubscribers(t *testing.T) {
	f := New()
	ch, _ := f.Subscribe()

	f.Close()

	select {
	case _, ok := <-ch:
		require.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for channel close")
	}
}
