package device

import "github.com/tapecore/tapecore/internal/deverr"

var errInvalidArg = deverr.New(deverr.InvalidArg, "device: invalid argument")
