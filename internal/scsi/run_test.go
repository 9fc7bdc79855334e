package scsi

import (
	"context"
	"testing"
	"time"
)

// scriptedTransport replays a fixed sequence of Results, one per Run call,
// repeating the last entry once exhausted.
type scriptedTransport struct {
	results []Result
	errs    []error
	calls   int
}

func (s *scriptedTransport) Run(dir Direction, cdb []byte, data []byte, timeout time.Duration) (Result, error) {
	i := s.calls
	if i >= len(s.results) {
		i = len(s.results) - 1
	}
	s.calls++
	var err error
	if i < len(s.errs) {
		err = s.errs[i]
	}
	return s.results[i], err
}

func (s *scriptedTransport) Close() error { return nil }

func TestWaitReadySucceedsImmediately(t *testing.T) {
	tr := &scriptedTransport{results: []Result{{Outcome: Ok}}}
	if err := WaitReady(context.Background(), tr, "tape", 5); err != nil {
		t.Fatalf("WaitReady: %v", err)
	}
	if tr.calls != 1 {
		t.Fatalf("calls = %d, want 1", tr.calls)
	}
}

func TestWaitReadyRetriesThenSucceeds(t *testing.T) {
	tr := &scriptedTransport{results: []Result{
		{Outcome: Busy},
		{Outcome: Busy},
		{Outcome: Ok},
	}}
	start := time.Now()
	if err := WaitReady(context.Background(), tr, "tape", 5); err != nil {
		t.Fatalf("WaitReady: %v", err)
	}
	if tr.calls != 3 {
		t.Fatalf("calls = %d, want 3", tr.calls)
	}
	if time.Since(start) < 2*DefaultTURBackoff {
		t.Fatalf("expected at least 2 backoff sleeps")
	}
}

func TestWaitReadyAbortsOnFatalSense(t *testing.T) {
	senseBuf := make([]byte, 20)
	senseBuf[2] = 0x03 // arbitrary sense key
	senseBuf[12] = 0x44 // internal target failure -> ABORT
	tr := &scriptedTransport{results: []Result{
		{Outcome: Sense, SenseBuf: senseBuf},
	}}
	err := WaitReady(context.Background(), tr, "tape", 5)
	if err == nil {
		t.Fatalf("expected error on fatal sense")
	}
}

func TestWaitReadyBoundedRetries(t *testing.T) {
	tr := &scriptedTransport{results: []Result{{Outcome: Busy}}}
	ctx := context.Background()
	err := WaitReady(ctx, tr, "tape", 2)
	if err != ErrTURTimeout {
		t.Fatalf("err = %v, want ErrTURTimeout", err)
	}
	if tr.calls != 2 {
		t.Fatalf("calls = %d, want 2 (bounded)", tr.calls)
	}
}

func TestWaitReadyContextCancel(t *testing.T) {
	tr := &scriptedTransport{results: []Result{{Outcome: Busy}}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := WaitReady(ctx, tr, "tape", 5)
	if err == nil {
		t.Fatalf("expected context error")
	}
}

func TestCDBLengthsMatchOpcodeTable(t *testing.T) {
	cases := []struct {
		op  Opcode
		n   int
	}{
		{OpTestUnitReady, 6},
		{OpRewind, 6},
		{OpRequestSense, 6},
		{OpInitializeElementStatus, 6},
		{OpInquiry, 6},
		{OpErase, 6},
		{OpModeSelect, 6},
		{OpModeSense, 6},
		{OpUnload, 6},
		{OpLogSense, 10},
		{OpMoveMedium, 12},
		{OpReadElementStatus, 12},
		{OpVendorSDXAlignElements, 12},
	}
	for _, c := range cases {
		cdb := NewCDB(c.op)
		if len(cdb) != c.n {
			t.Errorf("opcode %#02x: len = %d, want %d", byte(c.op), len(cdb), c.n)
		}
		if cdb[0] != byte(c.op) {
			t.Errorf("opcode %#02x: cdb[0] = %#02x", byte(c.op), cdb[0])
		}
	}
}

func TestMoveMediumFieldEncoding(t *testing.T) {
	cdb := MoveMedium(0x0100, 0x0004, 0x0020, false)
	if cdb[2] != 0x01 || cdb[3] != 0x00 {
		t.Fatalf("transport addr not encoded big-endian: % x", cdb)
	}
	if cdb[4] != 0x00 || cdb[5] != 0x04 {
		t.Fatalf("source addr not encoded big-endian: % x", cdb)
	}
	if cdb[6] != 0x00 || cdb[7] != 0x20 {
		t.Fatalf("dest addr not encoded big-endian: % x", cdb)
	}
}

func TestReadElementStatusVoltagBit(t *testing.T) {
	cdb := ReadElementStatus(ElementStorage, 0, 10, true, 4096)
	if cdb[1]&0x10 == 0 {
		t.Fatalf("voltag bit not set: % x", cdb)
	}
	if cdb[1]&0x0f != byte(ElementStorage) {
		t.Fatalf("element type not encoded: % x", cdb)
	}
}
