// Package rait implements the RAIT (redundant array of independent
// tapes) virtual device: brace-expanded N-way striping with XOR parity,
// degraded-mode read reconstruction, and parallel fan-out to child
// devices opened through internal/device.
package rait

import (
	"context"
	"io"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/tapecore/tapecore/internal/deverr"
	"github.com/tapecore/tapecore/internal/device"
)

// Status is the aggregate fault state of a RAIT set.
type Status int

const (
	// Complete: no failed child.
	Complete Status = iota
	// Degraded: exactly one failed child; reads reconstruct via parity.
	Degraded
	// Failed: two or more children lost. Terminal for the remainder of
	// the open — every subsequent operation fails.
	Failed
)

func (s Status) String() string {
	switch s {
	case Complete:
		return "Complete"
	case Degraded:
		return "Degraded"
	case Failed:
		return "Failed"
	default:
		return "Unknown"
	}
}

type childSlot struct {
	handle device.Handle
	ok     bool
}

// Set is N child handles plus the XOR scratch buffer and status. It
// satisfies device.Backend and is registered under device.BackendRait
// so it is reachable through the ordinary
// Open("rait:prefix{a,b,c}suffix") name grammar.
type Set struct {
	mu sync.Mutex

	names        []string
	children     []childSlot
	n            int
	dataChildren int

	blockSize int // parent block size S; 0 until configured
	childBS   int
	scratch   []byte // xor scratch, reused across writes

	status      Status
	failedIndex int // -1 when Complete

	flags device.OpenFlags
}

// Open expands name's brace grammar and opens each alternative as a
// child device. Exactly one open-time child failure degrades the set;
// two or more mark it Failed. Open itself still succeeds — Failed is
// terminal state, not an open error.
func Open(ctx context.Context, name string, flags device.OpenFlags, self device.Handle) (*Set, error) {
	names, err := ExpandBraces(name)
	if err != nil {
		return nil, err
	}
	n := len(names)
	dataChildren := n - 1
	if n == 1 {
		dataChildren = 1
	}

	s := &Set{
		names:        names,
		children:     make([]childSlot, n),
		n:            n,
		dataChildren: dataChildren,
		failedIndex:  -1,
		flags:        flags,
	}

	failures := 0
	for i, nm := range names {
		h, oerr := device.Open(ctx, nm, flags, &self)
		if oerr != nil {
			failures++
			s.failedIndex = i
			continue
		}
		s.children[i] = childSlot{handle: h, ok: true}
	}

	switch {
	case failures == 0:
		s.status = Complete
		s.failedIndex = -1
	case failures == 1:
		s.status = Degraded
	default:
		s.status = Failed
	}
	return s, nil
}

// StatusState reports the set's current fault state and, if Degraded,
// the failed child index.
func (s *Set) StatusState() (Status, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status, s.failedIndex
}

// DataChildren is N-1 for N>1 children, else 1.
func (s *Set) DataChildren() int {
	return s.dataChildren
}

// ChildCount is N.
func (s *Set) ChildCount() int {
	return s.n
}

// SetBlockSize configures the parent block size S. S must be a multiple
// of DataChildren(); child block size is S/DataChildren().
func (s *Set) SetBlockSize(parentSize int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setBlockSizeLocked(parentSize)
}

func (s *Set) setBlockSizeLocked(parentSize int) error {
	if parentSize <= 0 || parentSize%s.dataChildren != 0 {
		return deverr.New(deverr.InvalidArg, "rait: block size must be a positive multiple of data-child count")
	}
	s.blockSize = parentSize
	s.childBS = parentSize / s.dataChildren
	s.scratch = make([]byte, s.childBS)
	return nil
}

func roundUp(n, multiple int) int {
	if n%multiple == 0 {
		return n
	}
	return (n/multiple + 1) * multiple
}

func xorInto(dst, src []byte) {
	for i := range dst {
		if i < len(src) {
			dst[i] ^= src[i]
		}
	}
}

// Write splits buf into DataChildren() data chunks plus one XOR parity
// chunk (when N>1) and fans the writes out to all children in parallel.
// Any child failure surfaces as EomReached, since tape EOM is
// indistinguishable from error at this layer.
func (s *Set) Write(ctx context.Context, buf []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status == Failed {
		return 0, deverr.New(deverr.DeviceError, "rait: set failed, cannot write")
	}
	if s.blockSize == 0 {
		if err := s.setBlockSizeLocked(roundUp(len(buf), s.dataChildren)); err != nil {
			return 0, err
		}
	}
	if len(buf) > s.blockSize {
		return 0, deverr.New(deverr.InvalidArg, "rait: write larger than configured block size")
	}

	padded := buf
	if len(padded) < s.blockSize {
		padded = make([]byte, s.blockSize)
		copy(padded, buf)
	}

	chunks := make([][]byte, s.dataChildren)
	for i := range chunks {
		chunks[i] = padded[i*s.childBS : (i+1)*s.childBS]
	}

	var parity []byte
	if s.n > 1 {
		parity = s.scratch
		for i := range parity {
			parity[i] = 0
		}
		for _, c := range chunks {
			xorInto(parity, c)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < s.n; i++ {
		i := i
		if !s.children[i].ok {
			continue
		}
		var data []byte
		if i < s.dataChildren {
			data = chunks[i]
		} else {
			data = parity
		}
		h := s.children[i].handle
		g.Go(func() error {
			_, err := device.Write(gctx, h, data)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return 0, deverr.Wrap(deverr.EomReached, err, "rait: child write failed")
	}
	return len(buf), nil
}

type readOutcome struct {
	data []byte
	n    int
	eof  bool
	err  error
}

// Read fans out parallel reads of child block size to every live child,
// verifies parity in Complete mode, and reconstructs a single missing
// data chunk in Degraded mode.
func (s *Set) Read(ctx context.Context, buf []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status == Failed {
		return 0, deverr.New(deverr.DeviceError, "rait: set failed, cannot read")
	}
	if s.blockSize == 0 {
		return 0, deverr.New(deverr.InvalidArg, "rait: block size not configured")
	}

	results := make([]readOutcome, s.n)
	var wg sync.WaitGroup
	for i := 0; i < s.n; i++ {
		i := i
		if !s.children[i].ok {
			results[i] = readOutcome{err: errChildDown}
			continue
		}
		wg.Add(1)
		h := s.children[i].handle
		go func() {
			defer wg.Done()
			cbuf := make([]byte, s.childBS)
			n, err := device.Read(ctx, h, cbuf)
			switch {
			case err == io.EOF:
				results[i] = readOutcome{eof: true}
			case err != nil && !deverr.Is(err, deverr.SuccessButShort):
				results[i] = readOutcome{err: err}
			default:
				results[i] = readOutcome{data: cbuf[:n], n: n}
			}
		}()
	}
	wg.Wait()

	liveTotal, liveEOF, failIdx, failCount := 0, 0, -1, 0
	for i, r := range results {
		if !s.children[i].ok {
			failCount++
			continue
		}
		liveTotal++
		switch {
		case r.eof:
			liveEOF++
		case r.err != nil:
			failCount++
			failIdx = i
		}
	}
	if liveTotal > 0 && liveEOF == liveTotal {
		return 0, io.EOF
	}

	switch {
	case failCount >= 2:
		s.status = Failed
		return 0, deverr.New(deverr.DeviceError, "rait: two or more children failed on read")
	case failCount == 1:
		missing := failIdx
		if missing < 0 {
			// the only failure is a pre-existing down child from open
			for i := range s.children {
				if !s.children[i].ok {
					missing = i
					break
				}
			}
		}
		if s.status == Complete {
			s.status = Degraded
			s.failedIndex = missing
			s.children[missing].ok = false
		} else if missing != s.failedIndex {
			s.status = Failed
			return 0, deverr.New(deverr.DeviceError, "rait: second distinct child failed while degraded")
		}
		return s.assembleDegraded(results, missing, buf)
	default:
		return s.assembleComplete(results, buf)
	}
}

var errChildDown = deverr.New(deverr.DeviceError, "rait: child previously failed")

func (s *Set) assembleComplete(results []readOutcome, buf []byte) (int, error) {
	block := make([]byte, s.blockSize)
	for i := 0; i < s.dataChildren; i++ {
		copy(block[i*s.childBS:(i+1)*s.childBS], results[i].data)
	}
	if s.n > 1 {
		computed := make([]byte, s.childBS)
		for i := 0; i < s.dataChildren; i++ {
			xorInto(computed, results[i].data)
		}
		if !bytesEqual(computed, results[s.dataChildren].data) {
			return 0, deverr.New(deverr.XorMismatch, "rait: parity mismatch on complete-mode read")
		}
	}
	return copyOut(block, buf)
}

func (s *Set) assembleDegraded(results []readOutcome, missing int, buf []byte) (int, error) {
	block := make([]byte, s.blockSize)
	if missing >= s.dataChildren {
		// parity child missing: data is intact, so nothing needs
		// reconstructing.
		for i := 0; i < s.dataChildren; i++ {
			copy(block[i*s.childBS:(i+1)*s.childBS], results[i].data)
		}
		return copyOut(block, buf)
	}
	reconstructed := make([]byte, s.childBS)
	for i := 0; i < s.dataChildren; i++ {
		if i == missing {
			continue
		}
		xorInto(reconstructed, results[i].data)
	}
	if s.n > 1 {
		xorInto(reconstructed, results[s.dataChildren].data)
	}
	for i := 0; i < s.dataChildren; i++ {
		if i == missing {
			copy(block[i*s.childBS:(i+1)*s.childBS], reconstructed)
			continue
		}
		copy(block[i*s.childBS:(i+1)*s.childBS], results[i].data)
	}
	return copyOut(block, buf)
}

func copyOut(block, buf []byte) (int, error) {
	n := copy(buf, block)
	if n < len(block) {
		return n, deverr.New(deverr.SuccessButShort, "rait: read buffer smaller than block size")
	}
	return n, nil
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// fanout runs op against every live child in parallel and robust-unions
// the failures: the first child failure degrades the set, a second
// (distinct) failure is terminal.
func (s *Set) fanout(ctx context.Context, op func(context.Context, device.Handle) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == Failed {
		return deverr.New(deverr.DeviceError, "rait: set failed")
	}

	errs := make([]error, s.n)
	var wg sync.WaitGroup
	for i := 0; i < s.n; i++ {
		i := i
		if !s.children[i].ok {
			continue
		}
		wg.Add(1)
		h := s.children[i].handle
		go func() {
			defer wg.Done()
			errs[i] = op(ctx, h)
		}()
	}
	wg.Wait()

	failCount, failIdx := 0, -1
	for i, e := range errs {
		if e != nil {
			failCount++
			failIdx = i
		}
	}
	switch {
	case failCount == 0:
		return nil
	case failCount == 1 && s.status == Complete:
		s.status = Degraded
		s.failedIndex = failIdx
		s.children[failIdx].ok = false
		return nil
	case failCount == 1 && s.status == Degraded && failIdx == s.failedIndex:
		return nil
	default:
		s.status = Failed
		return deverr.New(deverr.DeviceError, "rait: multiple child failures")
	}
}

func (s *Set) Rewind(ctx context.Context) error {
	return s.fanout(ctx, func(ctx context.Context, h device.Handle) error { return device.Rewind(ctx, h) })
}

func (s *Set) FSF(ctx context.Context, n int) error {
	return s.fanout(ctx, func(ctx context.Context, h device.Handle) error { return device.FSF(ctx, h, n) })
}

func (s *Set) BSF(ctx context.Context, n int) error {
	return s.fanout(ctx, func(ctx context.Context, h device.Handle) error { return device.BSF(ctx, h, n) })
}

func (s *Set) WEOF(ctx context.Context, n int) error {
	return s.fanout(ctx, func(ctx context.Context, h device.Handle) error { return device.WEOF(ctx, h, n) })
}

func (s *Set) Eject(ctx context.Context) error {
	return s.fanout(ctx, func(ctx context.Context, h device.Handle) error { return device.Eject(ctx, h) })
}

// Status reports the first live child's status as the parent's; a
// Degraded/Failed set still answers from whichever children remain.
func (s *Set) Status(ctx context.Context) (device.AmMtStatus, error) {
	s.mu.Lock()
	var live device.Handle
	found := false
	for _, c := range s.children {
		if c.ok {
			live = c.handle
			found = true
			break
		}
	}
	s.mu.Unlock()
	if !found {
		return device.AmMtStatus{}, deverr.New(deverr.DeviceError, "rait: no live children")
	}
	return device.Status(ctx, live)
}

func (s *Set) Stat(ctx context.Context) (device.Stat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return device.Stat{Exists: s.status != Failed}, nil
}

func (s *Set) Access(ctx context.Context, mode device.AccessMode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if mode == device.AccessWrite && !s.flags.Write {
		return deverr.New(deverr.Access, "rait: set not opened for write")
	}
	return nil
}

// Close closes every live child, returning the first error encountered
// but attempting the rest regardless.
func (s *Set) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var first error
	for _, c := range s.children {
		if !c.ok {
			continue
		}
		if err := device.Close(c.handle); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func openRaitBackend(ctx context.Context, path string, flags device.OpenFlags, self device.Handle) (device.Backend, error) {
	return Open(ctx, path, flags, self)
}

func init() {
	device.RegisterBackend(device.BackendRait, openRaitBackend)
}
