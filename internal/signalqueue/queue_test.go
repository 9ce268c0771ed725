package signalqueue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/polyfund/multifund-trader/internal/domain"
)

func sig(id string) domain.Signal {
	return domain.Signal{Trader: &domain.TraderSignal{SignalID: id}}
}

func TestFIFOOrderPreserved(t *testing.T) {
	now := time.Now()
	q := New("PSI-10", 5*time.Second)
	q.Enqueue(now, sig("a"))
	q.Enqueue(now, sig("b"))
	q.Enqueue(now, sig("c"))

	due := q.DrainDue(now.Add(10 * time.Second))
	require.Len(t, due, 3)
	require.Equal(t, "a", due[0].Signal.ID())
	require.Equal(t, "b", due[1].Signal.ID())
	require.Equal(t, "c", due[2].Signal.ID())
}

func TestDrainDueOnlyPopsReadyHead(t *testing.T) {
	now := time.Now()
	q := New("PSI-10", 5*time.Second)
	q.Enqueue(now, sig("early"))

	require.Empty(t, q.DrainDue(now.Add(1*time.Second)))
	due := q.DrainDue(now.Add(5 * time.Second))
	require.Len(t, due, 1)
	require.Equal(t, "early", due[0].Signal.ID())
	require.Equal(t, 0, q.Len())
}

func TestOverflowDropsAndCounts(t *testing.T) {
	q := New("PSI-10", time.Second)
	q.capacity = 2
	now := time.Now()
	q.Enqueue(now, sig("a"))
	q.Enqueue(now, sig("b"))
	q.Enqueue(now, sig("c"))

	require.Equal(t, 2, q.Len())
	require.EqualValues(t, 1, q.Overflow())
}
