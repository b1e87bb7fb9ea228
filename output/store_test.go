package output

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStoreAppend(t *testing.T) {
	s := NewStore(10)

	a := s.Append("web", KindData, "one")
	b := s.Append("api", KindError, "two")

	require.Equal(t, uint64(1), a.Seq)
	require.Equal(t, uint64(2), b.Seq)
	require.Equal(t, "web", a.ChannelID)
	require.Equal(t, KindError, b.Kind)
	require.False(t, a.Time.IsZero())

	require.Equal(t, []LogLine{a}, s.Lines("web"))
	require.Equal(t, []LogLine{b}, s.Lines("api"))
	require.Equal(t, []LogLine{a, b}, s.All())
	require.Equal(t, []string{"api", "web"}, s.Channels())
	require.Equal(t, uint64(2), s.LastSeq())
}

func TestStoreUnknownChannel(t *testing.T) {
	s := NewStore(10)
	lines := s.Lines("missing")
	require.NotNil(t, lines)
	require.Empty(t, lines)
}

// TestStoreBounded verifies both histories stay within capacity and evict
// the lowest sequence numbers first.
func TestStoreBounded(t *testing.T) {
	s := NewStore(3)

	for i := 0; i < 10; i++ {
		id := "a"
		if i%2 == 1 {
			id = "b"
		}
		s.Append(id, KindData, fmt.Sprint(i))
	}

	all := s.All()
	require.Len(t, all, 3)
	require.Equal(t, []uint64{8, 9, 10}, seqs(all))

	a := s.Lines("a")
	require.Len(t, a, 3)
	require.Equal(t, []uint64{5, 7, 9}, seqs(a))
}

func TestStoreClear(t *testing.T) {
	s := NewStore(10)
	s.Append("a", KindData, "1")
	s.Append("b", KindData, "2")
	s.Append("a", KindData, "3")

	s.Clear("a")

	require.Empty(t, s.Lines("a"))
	require.Equal(t, []uint64{2}, seqs(s.All()))

	// Sequence numbers continue after a clear.
	next := s.Append("a", KindInfo, "4")
	require.Equal(t, uint64(4), next.Seq)
}

func TestStoreConcurrentSequence(t *testing.T) {
	s := NewStore(1000)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				s.Append(fmt.Sprintf("ch%d", g), KindData, "x")
			}
		}(g)
	}
	wg.Wait()

	all := s.All()
	require.Len(t, all, 800)
	for i := 1; i < len(all); i++ {
		require.Greater(t, all[i].Seq, all[i-1].Seq)
	}
}

func seqs(lines []LogLine) []uint64 {
	out := make([]uint64, len(lines))
	for i, l := range lines {
		out[i] = l.Seq
	}
	return out
}
