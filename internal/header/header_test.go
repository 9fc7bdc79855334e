package header

import (
	"testing"
)

func TestRoundTripDumpfile(t *testing.T) {
	h := &Header{
		Type:       DumpFile,
		Datestamp:  "20100102030405",
		Host:       "localhost",
		Disk:       "/usr",
		DumpLevel:  1,
		Compressed: true,
		CompSuffix: ".gz",
		PartNum:    1,
		TotalParts: 1,
	}
	buf, err := Build(h, 32768)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(buf) != 32768 {
		t.Fatalf("len(buf) = %d, want 32768", len(buf))
	}
	got := Parse(buf, len(buf))
	if got.Type != h.Type || got.Datestamp != h.Datestamp || got.Host != h.Host ||
		got.Disk != h.Disk || got.DumpLevel != h.DumpLevel ||
		got.Compressed != h.Compressed || got.CompSuffix != h.CompSuffix {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, h)
	}
}

func TestRoundTripSplitDumpfile(t *testing.T) {
	cases := []struct {
		partnum, totalparts int
	}{
		{1, 2}, {2, 2}, {2, -1},
	}
	for _, c := range cases {
		h := &Header{
			Type:       SplitDumpFile,
			Datestamp:  "20100102030405",
			Host:       "localhost",
			Disk:       "/usr",
			PartNum:    c.partnum,
			TotalParts: c.totalparts,
		}
		buf, err := Build(h, 32768)
		if err != nil {
			t.Fatalf("Build(%+v): %v", c, err)
		}
		got := Parse(buf, len(buf))
		if got.PartNum != c.partnum || got.TotalParts != c.totalparts {
			t.Fatalf("partnum/totalparts mismatch: got (%d,%d), want (%d,%d)", got.PartNum, got.TotalParts, c.partnum, c.totalparts)
		}
	}
}

func TestRoundTripWithDLEBlock(t *testing.T) {
	h := &Header{
		Type:      DumpFile,
		Datestamp: "20100102030405",
		Host:      "localhost",
		Disk:      "/usr",
		DLEStr:    "line one\nline two",
	}
	buf, err := Build(h, 32768)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	got := Parse(buf, len(buf))
	if got.DLEStr != h.DLEStr {
		t.Fatalf("DLEStr = %q, want %q", got.DLEStr, h.DLEStr)
	}
}

func TestTapeStartTapeEndRejectHostDisk(t *testing.T) {
	h := &Header{Type: TapeStart, Datestamp: "20100102030405", Host: "localhost"}
	if _, err := Build(h, 32768); err == nil {
		t.Fatal("expected error for TAPESTART with non-empty host")
	}
}

func TestCompressedFlagSuffixAgreement(t *testing.T) {
	h := &Header{Type: DumpFile, Datestamp: "x", Compressed: true, CompSuffix: ""}
	if _, err := Build(h, 1024); err == nil {
		t.Fatal("expected error: compressed=true with empty suffix")
	}
}

func TestBuildRejectsOversizeHeader(t *testing.T) {
	h := &Header{Type: TapeStart, Datestamp: "x"}
	if _, err := Build(h, 64*1024); err == nil {
		t.Fatal("expected error for size > 32 KiB")
	}
}

func TestParseUnknownGarbage(t *testing.T) {
	got := Parse([]byte("not a header at all\n"), 20)
	if got.Type != Unknown {
		t.Fatalf("Type = %v, want Unknown", got.Type)
	}
}

func TestParseTruncatedBuffer(t *testing.T) {
	h := &Header{Type: TapeStart, Datestamp: "20100102030405", Name: "vol1"}
	buf, _ := Build(h, 32768)
	got := Parse(buf, 20) // shorter than the first line
	if got.Type != TapeStart {
		t.Fatalf("Type = %v, want TapeStart even with a short first-line read", got.Type)
	}
}
