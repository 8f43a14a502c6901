package idx_test

import (
	"sync"
	"testing"
	"time"

	"github.com/aussiebroadwan/crudlink/pkg/idx"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Parallel()

	before := time.Now().Add(-time.Millisecond)
	id := idx.New()

	require.False(t, id.IsZero())
	require.Len(t, id.String(), 26)
	require.WithinRange(t, id.Time(), before, time.Now().Add(time.Millisecond))
}

func TestNewAt_UsesGivenClock(t *testing.T) {
	t.Parallel()

	at := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	require.True(t, at.Equal(idx.NewAt(at).Time()))
}

func TestCompare_IssueOrderWithinMillisecond(t *testing.T) {
	t.Parallel()

	at := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	a := idx.NewAt(at)
	b := idx.NewAt(at)
	later := idx.NewAt(at.Add(time.Second))

	require.Equal(t, -1, idx.Compare(a, b))
	require.Equal(t, 1, idx.Compare(later, b))
	require.Equal(t, 0, idx.Compare(a, a))
}

func TestNew_ConcurrentIDsAreUnique(t *testing.T) {
	t.Parallel()

	const n = 200
	ids := make([]idx.ID, n)

	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ids[i] = idx.New()
		}()
	}
	wg.Wait()

	seen := make(map[idx.ID]bool, n)
	for _, id := range ids {
		require.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
}

func TestTime_Invalid(t *testing.T) {
	t.Parallel()

	for _, id := range []idx.ID{"", "not-a-ulid"} {
		require.True(t, id.Time().IsZero())
	}
}
