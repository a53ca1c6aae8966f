package util

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/pterm/pterm"
)

// ──────────────────────────────────────────────────────────────────────────────
// Global stats singleton
// ──────────────────────────────────────────────────────────────────────────────

// Stats is the process-wide signaling/media counter.
var Stats = &stats{}

type stats struct {
	Endpoints  atomic.Int64 // relay: currently connected endpoints
	Forwarded  atomic.Int64 // relay: envelopes queued to a recipient
	Dropped    atomic.Int64 // relay: envelopes dropped (unknown sender, full outbox)
	RTPSent    atomic.Int64 // endpoint: media bytes written to local tracks
	RTPRecv    atomic.Int64 // endpoint: RTP payload bytes read from remote tracks
	PacketLoss atomic.Int64 // endpoint: RTP sequence gaps seen on remote tracks
}

func (s *stats) AddEndpoint()     { s.Endpoints.Add(1) }
func (s *stats) RemoveEndpoint()  { s.Endpoints.Add(-1) }
func (s *stats) AddForwarded()    { s.Forwarded.Add(1) }
func (s *stats) AddDropped()      { s.Dropped.Add(1) }
func (s *stats) AddSent(n int)    { s.RTPSent.Add(int64(n)) }
func (s *stats) AddRecv(n int)    { s.RTPRecv.Add(int64(n)) }
func (s *stats) AddLoss(n uint16) { s.PacketLoss.Add(int64(n)) }

// ──────────────────────────────────────────────────────────────────────────────
// Periodic reporter
// ──────────────────────────────────────────────────────────────────────────────

// StartStatsReporter launches a goroutine that logs counters every interval
// when anything moved since the previous tick. It stops when ctx is cancelled.
func StartStatsReporter(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		secs := interval.Seconds()
		var prevFwd, prevDrop, prevSent, prevRecv int64
		for {
			select {
			case <-ticker.C:
				fwd := Stats.Forwarded.Load()
				drop := Stats.Dropped.Load()
				sent := Stats.RTPSent.Load()
				recv := Stats.RTPRecv.Load()

				if fwd != prevFwd || drop != prevDrop || sent-prevSent > 10 || recv-prevRecv > 10 {
					pterm.DefaultLogger.Info(formatStats(
						float64(sent-prevSent)/secs,
						float64(recv-prevRecv)/secs,
						fwd-prevFwd,
						drop-prevDrop,
						Stats.Endpoints.Load(),
						Stats.PacketLoss.Load(),
					))
				}

				prevFwd, prevDrop, prevSent, prevRecv = fwd, drop, sent, recv

			case <-ctx.Done():
				return
			}
		}
	}()
}

// byteUnits defines the units for formatting byte counts in a human-readable way.
var byteUnits = []string{"B", "KiB", "MiB", "GiB", "TiB", "PiB"}

// formatBytes formats a byte count into a fixed-width (8 chars) string,
// e.g. "99.0   B", " 1.5 KiB".
func formatBytes(b float64) string {
	unitIdx := 0

	// to prevent "100.0 KiB", which is 9 chars
	for b > 99 && unitIdx < len(byteUnits)-1 {
		b /= 1024
		unitIdx++
	}

	return fmt.Sprintf("%4.1f %3s", b, byteUnits[unitIdx])
}

func formatStats(outS, inS float64, fwd, drop, endpoints, loss int64) string {
	return fmt.Sprintf("Media out: %s/s | in: %s/s | Signal: %d fwd %d drop | Endpoints: %d | Loss: %d",
		formatBytes(outS),
		formatBytes(inS),
		fwd,
		drop,
		endpoints,
		loss,
	)
}
