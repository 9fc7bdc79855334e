package device

import "testing"

func TestParseName(t *testing.T) {
	cases := []struct {
		name     string
		wantKind BackendKind
		wantPath string
	}{
		{"tape:/dev/nst0", BackendTape, "/dev/nst0"},
		{"null:ignored", BackendNull, "ignored"},
		{"file:/tmp/vol", BackendFile, "/tmp/vol"},
		{"rait:/tmp/{a,b,c}", BackendRait, "/tmp/{a,b,c}"},
		{"/dev/nst0", BackendTape, "/dev/nst0"},
	}
	for _, c := range cases {
		kind, path := ParseName(c.name)
		if kind != c.wantKind || path != c.wantPath {
			t.Errorf("ParseName(%q) = (%q, %q), want (%q, %q)", c.name, kind, path, c.wantKind, c.wantPath)
		}
	}
}
