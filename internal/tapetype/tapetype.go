// Package tapetype implements the capacity/speed/filemark-size
// estimator and hardware-compression detector. The probe is driven
// through a narrow Writer interface so it can run against any device
// backend, or a fake in tests.
package tapetype

import (
	"context"
	"math/rand"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/tapecore/tapecore/internal/deverr"
)

const DefaultBlockSize = 32 * 1024

// MinCompressibilityDuration is the floor the timed pass must reach so
// second-granularity timing stays inside 10% accuracy.
const MinCompressibilityDuration = 25 * time.Second

// hwCompressionThreshold is how much faster the compressible pass must
// be before hardware compression is reported.
const hwCompressionThreshold = 0.20

// maxProbeBlocks bounds the compressibility pass-size doubling loop so
// a pathologically fast backend (e.g. a null sink) cannot spin forever.
const maxProbeBlocks = 1 << 20

// Writer is the subset of the tape-primitive surface the probe needs:
// write, write-filemark, and rewind. Narrow enough that tests can drive
// the probe without the device handle registry.
type Writer interface {
	Write(ctx context.Context, buf []byte) (int, error)
	WEOF(ctx context.Context, n int) error
	Rewind(ctx context.Context) error
}

// Clock abstracts wall-clock reads so tests can simulate throughput
// without actually sleeping for tens of seconds.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock is the production Clock, backed by time.Now.
var SystemClock Clock = systemClock{}

// Prober runs the tapetype measurement passes against a single backend.
type Prober struct {
	W         Writer
	Clock     Clock
	BlockSize int // bytes per block; DefaultBlockSize if zero
}

func (p *Prober) blockSize() int {
	if p.BlockSize <= 0 {
		return DefaultBlockSize
	}
	return p.BlockSize
}

func (p *Prober) clock() Clock {
	if p.Clock == nil {
		return SystemClock
	}
	return p.Clock
}

func patternBlock(size int) []byte {
	b := make([]byte, size)
	for i := range b {
		b[i] = byte(i % 256)
	}
	return b
}

func randomBlock(size int, rng *rand.Rand) []byte {
	b := make([]byte, size)
	rng.Read(b)
	return b
}

// writeBlocks writes up to n blocks of buf, stopping at the first write
// that doesn't consume the whole block (short write or error), and
// returns how many full blocks were written.
func (p *Prober) writeBlocks(ctx context.Context, buf []byte, n int64) (int64, error) {
	var wrote int64
	for wrote < n {
		nw, err := p.W.Write(ctx, buf)
		if err != nil {
			return wrote, nil
		}
		if nw != len(buf) {
			return wrote, nil
		}
		wrote++
	}
	return wrote, nil
}

// timedPass writes fileBlocks-sized files until a write fails, with a
// filemark between files, and reports the totals and elapsed time.
func (p *Prober) timedPass(ctx context.Context, buf []byte, fileBlocks int64) (blocks, files int64, elapsed time.Duration, err error) {
	if rerr := p.W.Rewind(ctx); rerr != nil {
		return 0, 0, 0, deverr.Wrap(deverr.DeviceError, rerr, "tapetype: rewind before pass")
	}
	start := p.clock().Now()
	for {
		n, werr := p.writeBlocks(ctx, buf, fileBlocks)
		if werr != nil {
			return blocks, files, 0, werr
		}
		if n <= 0 {
			break
		}
		if ferr := p.W.WEOF(ctx, 1); ferr != nil {
			break
		}
		blocks += n
		files++
	}
	elapsed = p.clock().Now().Sub(start)
	if elapsed <= 0 {
		elapsed = time.Second
	}
	if blocks == 0 {
		return 0, 0, 0, deverr.New(deverr.DeviceError, "tapetype: pass wrote no data")
	}
	return blocks, files, elapsed, nil
}

// singlePass writes exactly size blocks of buf as one file and measures
// the elapsed time. The compressibility estimate only cares about one
// file's duration, not EOM.
func (p *Prober) singlePass(ctx context.Context, buf []byte, size int64) (time.Duration, error) {
	if err := p.W.Rewind(ctx); err != nil {
		return 0, deverr.Wrap(deverr.DeviceError, err, "tapetype: rewind before pass")
	}
	start := p.clock().Now()
	blocks, err := p.writeBlocks(ctx, buf, size)
	if err != nil {
		return 0, err
	}
	_ = p.W.WEOF(ctx, 1)
	elapsed := p.clock().Now().Sub(start)
	if elapsed <= 0 {
		elapsed = time.Second
	}
	if blocks == 0 {
		return 0, deverr.New(deverr.DeviceError, "tapetype: compressibility pass wrote no data")
	}
	return elapsed, nil
}

// CompressibilityResult is the outcome of the compression-detection
// pass.
type CompressibilityResult struct {
	CompressibleElapsed time.Duration
	RandomElapsed       time.Duration
	HardwareCompression bool
}

// Compressibility writes a repeating compressible pattern and
// pseudo-random data, sized so the faster (compressible) pass takes at
// least MinCompressibilityDuration, and reports hardware compression
// when the compressible pass is at least 20% faster.
func (p *Prober) Compressibility(ctx context.Context) (CompressibilityResult, error) {
	size := int64(8)
	pattern := patternBlock(p.blockSize())

	var comprElapsed time.Duration
	for {
		elapsed, err := p.singlePass(ctx, pattern, size)
		if err != nil {
			return CompressibilityResult{}, err
		}
		comprElapsed = elapsed
		if comprElapsed >= MinCompressibilityDuration || size >= maxProbeBlocks {
			break
		}
		size *= 2
	}

	rng := rand.New(rand.NewSource(int64(size) ^ int64(p.blockSize())))
	random := randomBlock(p.blockSize(), rng)
	randElapsed, err := p.singlePass(ctx, random, size)
	if err != nil {
		return CompressibilityResult{}, err
	}

	var hw bool
	if comprElapsed < randElapsed {
		speedup := float64(randElapsed-comprElapsed) / float64(randElapsed)
		if speedup >= hwCompressionThreshold {
			hw = true
		}
	}

	return CompressibilityResult{
		CompressibleElapsed: comprElapsed,
		RandomElapsed:       randElapsed,
		HardwareCompression: hw,
	}, nil
}

// CapacityResult is the outcome of the capacity-measurement passes.
type CapacityResult struct {
	Length        int64 // bytes
	FilemarkBytes int64
	SpeedBPS      float64 // bytes/second
}

// Capacity writes full-drive passes at 1% and 0.5% of
// estimateBytes-sized files, deriving filemark overhead from the
// block-count difference and averaging length/speed across both passes.
func (p *Prober) Capacity(ctx context.Context, estimateBytes int64) (CapacityResult, error) {
	bs := int64(p.blockSize())
	pattern := patternBlock(p.blockSize())

	pass1Blocks := int64(float64(estimateBytes) * 0.01 / float64(bs))
	if pass1Blocks <= 0 {
		pass1Blocks = 2
	}
	pass2Blocks := pass1Blocks / 2
	if pass2Blocks <= 0 {
		pass2Blocks = 1
	}

	b1, f1, t1, err := p.timedPass(ctx, pattern, pass1Blocks)
	if err != nil {
		return CapacityResult{}, err
	}
	b2, f2, t2, err := p.timedPass(ctx, pattern, pass2Blocks)
	if err != nil {
		return CapacityResult{}, err
	}

	blockDiff := b1 - b2
	if blockDiff < 0 {
		blockDiff = 0
	}
	fileDiff := f2 - f1
	if fileDiff <= 0 {
		fileDiff = 1
	}
	filemark := (blockDiff * bs) / fileDiff

	length := ((b1*bs + filemark*f1) + (b2*bs + filemark*f2)) / 2
	speed := (float64(b1*bs)/t1.Seconds() + float64(b2*bs)/t2.Seconds()) / 2

	return CapacityResult{Length: length, FilemarkBytes: filemark, SpeedBPS: speed}, nil
}

// Report is the human-readable summary of a full probe (compressibility
// plus capacity), formatted with go-humanize the way cmd/tapecore prints
// it to the operator.
type Report struct {
	Compressibility CompressibilityResult
	Capacity        CapacityResult
}

// String renders r as a one-line diagnostic summary for the operator.
func (r Report) String() string {
	comment := "hardware compression off"
	if r.Compressibility.HardwareCompression {
		comment = "hardware compression on"
	}
	return "tapetype probe (" + comment + "): length " +
		humanize.Bytes(uint64(r.Capacity.Length)) +
		", filemark " + humanize.Bytes(uint64(r.Capacity.FilemarkBytes)) +
		", speed " + humanize.Bytes(uint64(r.Capacity.SpeedBPS)) + "/s"
}

// Probe runs both the compressibility and capacity passes and returns a
// Report.
func (p *Prober) Probe(ctx context.Context, estimateBytes int64) (Report, error) {
	compr, err := p.Compressibility(ctx)
	if err != nil {
		return Report{}, err
	}
	capacity, err := p.Capacity(ctx, estimateBytes)
	if err != nil {
		return Report{}, err
	}
	return Report{Compressibility: compr, Capacity: capacity}, nil
}
