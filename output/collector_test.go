package output

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/scomans/dev-console-sub000/bus"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// receiveLines reads batches until n lines arrived.
func receiveLines(t *testing.T, batches <-chan Batch, n int) []LogLine {
	t.Helper()
	var got []LogLine
	deadline := time.After(2 * time.Second)
	for len(got) < n {
		select {
		case b, ok := <-batches:
			require.True(t, ok, "subscription closed")
			got = append(got, b...)
		case <-deadline:
			t.Fatalf("received %d lines, want %d", len(got), n)
		}
	}
	return got
}

func TestCollectorWriter(t *testing.T) {
	c := NewCollector(Config{Capacity: 100, Logger: quietLogger()})
	defer c.Close()

	batches, unsub := c.SubscribeLines()
	defer unsub()

	rw, err := NewRewriter(`^INFO `, "")
	require.NoError(t, err)

	stdout := c.Writer("web", KindData, rw)
	stderr := c.Writer("web", KindError, nil)

	fmt.Fprint(stdout, "INFO listening on http://localhost:3000\n")
	fmt.Fprint(stderr, "warn <x>\n")
	fmt.Fprint(stdout, "no newline")
	require.NoError(t, stdout.Close())
	require.NoError(t, stderr.Close())

	got := receiveLines(t, batches, 3)
	require.Len(t, got, 3)

	require.Equal(t, KindData, got[0].Kind)
	require.Equal(t,
		`listening on <a href="http://localhost:3000" target="_blank" rel="noopener noreferrer">http://localhost:3000</a>`,
		got[0].Message)
	require.Equal(t, KindError, got[1].Kind)
	require.Equal(t, "warn &lt;x&gt;", got[1].Message)
	require.Equal(t, "no newline", got[2].Message)

	for i := 1; i < len(got); i++ {
		require.Greater(t, got[i].Seq, got[i-1].Seq)
	}

	require.Equal(t, got, c.Lines("web"))
	require.Equal(t, got, c.AllLines())
}

func TestCollectorSyntheticLines(t *testing.T) {
	c := NewCollector(Config{Logger: quietLogger()})
	defer c.Close()

	info := c.Info("api", "Process started with PID 42")
	errLine := c.Error("api", `spawn "x": <denied>`)

	require.Equal(t, KindInfo, info.Kind)
	require.Equal(t, "Process started with PID 42", info.Message)
	require.Equal(t, KindError, errLine.Kind)
	require.Equal(t, "spawn &#34;x&#34;: &lt;denied&gt;", errLine.Message)
	require.Greater(t, errLine.Seq, info.Seq)
	require.Len(t, c.Lines("api"), 2)
}

// TestCollectorBatchesBurst verifies lines produced before the flusher runs
// are delivered as one batch.
func TestCollectorBatchesBurst(t *testing.T) {
	c := &Collector{
		store:  NewStore(0),
		lines:  bus.New[Batch](),
		logger: quietLogger(),
		kick:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	defer c.lines.Close()

	batches, unsub := c.SubscribeLines()
	defer unsub()

	c.Info("a", "1")
	c.Info("b", "2")
	c.Error("a", "3")

	require.Len(t, c.kick, 1, "exactly one flush scheduled")

	c.flush()

	select {
	case b := <-batches:
		require.Len(t, b, 3)
		require.Equal(t, []uint64{1, 2, 3}, seqs(b))
	default:
		t.Fatal("no batch published")
	}

	// Nothing pending means no empty batch.
	c.flush()
	select {
	case b := <-batches:
		t.Fatalf("unexpected batch %v", b)
	default:
	}
}

func TestCollectorCloseFlushes(t *testing.T) {
	c := NewCollector(Config{Logger: quietLogger()})
	batches, _ := c.SubscribeLines()

	c.Info("x", "last words")
	c.Close()

	var got []LogLine
	for b := range batches {
		got = append(got, b...)
	}
	require.Len(t, got, 1)
	require.Equal(t, "last words", got[0].Message)

	// Close is idempotent.
	c.Close()
}

func TestCollectorConcurrentWriters(t *testing.T) {
	c := NewCollector(Config{Capacity: 1000, Logger: quietLogger()})
	defer c.Close()

	batches, unsub := c.SubscribeLines()
	defer unsub()

	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			w := c.Writer(fmt.Sprintf("ch%d", g), KindData, nil)
			for i := 0; i < 25; i++ {
				fmt.Fprintf(w, "line %d\n", i)
			}
			w.Close()
		}(g)
	}
	wg.Wait()

	got := receiveLines(t, batches, 100)
	require.Len(t, got, 100)
	for i := 1; i < len(got); i++ {
		require.Greater(t, got[i].Seq, got[i-1].Seq, "batches arrive in sequence order")
	}
	require.Len(t, c.AllLines(), 100)
}

func TestCollectorClear(t *testing.T) {
	c := NewCollector(Config{Logger: quietLogger()})
	defer c.Close()

	c.Info("a", "1")
	c.Info("b", "2")
	c.Clear("a")

	require.Empty(t, c.Lines("a"))
	require.Len(t, c.AllLines(), 1)
}
