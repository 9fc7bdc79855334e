package tapetype

import (
	"context"
	"testing"
	"time"

	"github.com/tapecore/tapecore/internal/deverr"
)

// fakeClock is a manually-advanced Clock so the ≥25s compressibility
// floor can be exercised without a real 25-second sleep.
type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }
func (c *fakeClock) advance(d time.Duration) {
	c.now = c.now.Add(d)
}

// isPatternBlock reports whether buf looks like patternBlock's
// byte(i%256) sequence, distinguishing it from pseudo-random data
// without needing the writer to see the Prober's internal state.
func isPatternBlock(buf []byte) bool {
	for i := 0; i < 16 && i < len(buf); i++ {
		if buf[i] != byte(i%256) {
			return false
		}
	}
	return true
}

// speedWriter simulates a backend whose write throughput depends on
// whether the data is compressible (pattern) or not, advancing a
// fakeClock by the simulated transfer time on every Write.
type speedWriter struct {
	clock               *fakeClock
	comprBPS, randomBPS float64
	eomAfterBytes       int64 // 0 = unlimited
	written             int64
}

func (w *speedWriter) Write(ctx context.Context, buf []byte) (int, error) {
	if w.eomAfterBytes > 0 && w.written+int64(len(buf)) > w.eomAfterBytes {
		return 0, deverr.New(deverr.EomReached, "speedWriter: simulated end of medium")
	}
	bps := w.randomBPS
	if isPatternBlock(buf) {
		bps = w.comprBPS
	}
	w.written += int64(len(buf))
	w.clock.advance(time.Duration(float64(len(buf)) / bps * float64(time.Second)))
	return len(buf), nil
}

func (w *speedWriter) WEOF(ctx context.Context, n int) error { return nil }
func (w *speedWriter) Rewind(ctx context.Context) error {
	w.written = 0
	return nil
}

// A backend writing compressible data at 10 MiB/s and random data at
// 5 MiB/s must be classified as hardware-compressing under the
// 20%-faster rule.
func TestCompressibilityDetectsHardwareCompression(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	w := &speedWriter{clock: clock, comprBPS: 10 * 1024 * 1024, randomBPS: 5 * 1024 * 1024}
	p := &Prober{W: w, Clock: clock}

	result, err := p.Compressibility(context.Background())
	if err != nil {
		t.Fatalf("Compressibility: %v", err)
	}
	if !result.HardwareCompression {
		t.Fatalf("HardwareCompression = false, want true (compr=%v random=%v)", result.CompressibleElapsed, result.RandomElapsed)
	}
	if result.CompressibleElapsed < MinCompressibilityDuration {
		t.Fatalf("compressible pass elapsed %v below the %v floor", result.CompressibleElapsed, MinCompressibilityDuration)
	}
	if result.RandomElapsed <= result.CompressibleElapsed {
		t.Fatalf("random pass (%v) should take longer than compressible pass (%v)", result.RandomElapsed, result.CompressibleElapsed)
	}
}

// TestCompressibilityNoHardwareCompression checks the symmetric case:
// equal throughput for both data shapes must not report compression.
func TestCompressibilityNoHardwareCompression(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	w := &speedWriter{clock: clock, comprBPS: 6 * 1024 * 1024, randomBPS: 6 * 1024 * 1024}
	p := &Prober{W: w, Clock: clock}

	result, err := p.Compressibility(context.Background())
	if err != nil {
		t.Fatalf("Compressibility: %v", err)
	}
	if result.HardwareCompression {
		t.Fatalf("HardwareCompression = true, want false for equal-speed passes")
	}
}

// TestCapacityDerivesFilemarkAndLength runs the capacity passes against
// a backend that simulates end-of-medium after a fixed byte budget,
// checking the derived quantities are sane.
func TestCapacityDerivesFilemarkAndLength(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	w := &speedWriter{
		clock:         clock,
		comprBPS:      20 * 1024 * 1024,
		randomBPS:     20 * 1024 * 1024,
		eomAfterBytes: 64 * 1024 * 1024,
	}
	p := &Prober{W: w, Clock: clock, BlockSize: 32 * 1024}

	result, err := p.Capacity(context.Background(), 200*1024*1024)
	if err != nil {
		t.Fatalf("Capacity: %v", err)
	}
	if result.Length <= 0 {
		t.Fatalf("Length = %d, want > 0", result.Length)
	}
	if result.FilemarkBytes < 0 {
		t.Fatalf("FilemarkBytes = %d, want >= 0", result.FilemarkBytes)
	}
	if result.SpeedBPS <= 0 {
		t.Fatalf("SpeedBPS = %f, want > 0", result.SpeedBPS)
	}
}
