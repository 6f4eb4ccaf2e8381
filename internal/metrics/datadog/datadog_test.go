package datadog

import (
	"net"
	"testing"
	"time"

	"github.com/Tanayk7/etl-lambdas/internal/metrics"
)

// listenUDP binds a local DogStatsD stand-in and returns its address plus a
// reader that reports how many payload bytes arrive within the deadline.
func listenUDP(t *testing.T) (string, func() int) {
	t.Helper()
	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen udp: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	read := func() int {
		total := 0
		buf := make([]byte, 64*1024)
		for {
			if err := conn.SetReadDeadline(time.Now().Add(500 * time.Millisecond)); err != nil {
				t.Fatalf("set deadline: %v", err)
			}
			n, _, err := conn.ReadFrom(buf)
			total += n
			if err != nil {
				return total
			}
		}
	}
	return conn.LocalAddr().String(), read
}

// TestBackend_FlushKeepsClientUsable records and flushes twice: metrics
// recorded after the first Flush must still reach the agent, since the
// consumer flushes after every job for the life of the process.
func TestBackend_FlushKeepsClientUsable(t *testing.T) {
	addr, read := listenUDP(t)

	b, err := NewBackend(Config{Addr: addr})
	if err != nil {
		t.Fatalf("NewBackend: %v", err)
	}
	defer b.Close()

	b.IncCounter("pipeline_chunks_total", 1, metrics.Labels{"outcome": "ok"})
	if err := b.Flush(); err != nil {
		t.Fatalf("first flush: %v", err)
	}
	if got := read(); got == 0 {
		t.Fatal("first flush delivered no bytes")
	}

	b.IncCounter("pipeline_chunks_total", 1, metrics.Labels{"outcome": "ok"})
	if err := b.Flush(); err != nil {
		t.Fatalf("second flush: %v", err)
	}
	if got := read(); got == 0 {
		t.Fatal("metrics recorded after the first flush never reached the agent")
	}
}
