package rait

import (
	"strings"

	"github.com/tapecore/tapecore/internal/deverr"
)

// ExpandBraces expands a name of the form `prefix{a,b,c}suffix` into
// []string{"prefixasuffix", ...}. A name with no braces expands to a
// single-element slice equal to itself, so one alternative behaves
// exactly like no braces at all.
func ExpandBraces(name string) ([]string, error) {
	open := strings.IndexByte(name, '{')
	if open < 0 {
		return []string{name}, nil
	}
	close := strings.IndexByte(name[open:], '}')
	if close < 0 {
		return nil, deverr.New(deverr.InvalidArg, "rait: unterminated brace expansion")
	}
	close += open

	prefix := name[:open]
	suffix := name[close+1:]
	alts := strings.Split(name[open+1:close], ",")
	if len(alts) == 0 || (len(alts) == 1 && alts[0] == "") {
		return nil, deverr.New(deverr.InvalidArg, "rait: empty brace expansion")
	}

	out := make([]string, len(alts))
	for i, a := range alts {
		out[i] = prefix + a + suffix
	}
	return out, nil
}
