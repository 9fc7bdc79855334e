// Package restore implements the restore path: sequential dump-file
// iteration over an open device handle, filtered by (host, disk,
// datestamp) regex triples, with optional header stripping and optional
// piping through the compression/encryption helper commands a header
// names.
package restore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/tapecore/tapecore/internal/cmdutil"
	"github.com/tapecore/tapecore/internal/deverr"
	"github.com/tapecore/tapecore/internal/device"
	"github.com/tapecore/tapecore/internal/header"
)

// DefaultMaxConsecutiveErrors is how many consecutive read failures a
// run tolerates before giving up on the volume.
const DefaultMaxConsecutiveErrors = 10

// DefaultBodyBlockSize is the read size used once a matched file's
// header has been consumed.
const DefaultBodyBlockSize = 32 * 1024

// MatchSpec is one (host, disk, datestamp) regex triple; a nil field
// matches anything.
type MatchSpec struct {
	Host      *regexp.Regexp
	Disk      *regexp.Regexp
	Datestamp *regexp.Regexp
}

// CompileMatch builds a MatchSpec from three regex patterns; an empty
// pattern matches every value for that field.
func CompileMatch(hostPattern, diskPattern, datestampPattern string) (MatchSpec, error) {
	host, err := compileField(hostPattern)
	if err != nil {
		return MatchSpec{}, err
	}
	disk, err := compileField(diskPattern)
	if err != nil {
		return MatchSpec{}, err
	}
	datestamp, err := compileField(datestampPattern)
	if err != nil {
		return MatchSpec{}, err
	}
	return MatchSpec{Host: host, Disk: disk, Datestamp: datestamp}, nil
}

func compileField(pattern string) (*regexp.Regexp, error) {
	if pattern == "" {
		return nil, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, deverr.Wrap(deverr.InvalidArg, err, "restore: compile match pattern "+pattern)
	}
	return re, nil
}

func (m MatchSpec) matches(h *header.Header) bool {
	return matchField(m.Host, h.Host) && matchField(m.Disk, h.Disk) && matchField(m.Datestamp, h.Datestamp)
}

func matchField(re *regexp.Regexp, s string) bool {
	if re == nil {
		return true
	}
	return re.MatchString(s)
}

// Options controls one Restore call.
type Options struct {
	// Matches is the list of triples a dump file must satisfy at least
	// one of to be restored. Empty means restore everything.
	Matches []MatchSpec

	// StripHeader omits the leading header block from the restored
	// bytes, leaving only the dump file's own payload.
	StripHeader bool

	// RunHelpers pipes a matched file's payload through the decrypt
	// and/or uncompress commands its header names, in that order, before
	// it reaches Output or PerFile. Ignored for fields the header
	// leaves blank.
	RunHelpers bool

	// BlockSize is the read size for a matched file's body once its
	// header block has been consumed. 0 means DefaultBodyBlockSize.
	BlockSize int

	// MaxConsecutiveErrors is the skip threshold. 0 means
	// DefaultMaxConsecutiveErrors.
	MaxConsecutiveErrors int

	// Output receives every matched file's bytes, concatenated in tape
	// order. Ignored when PerFile is set.
	Output io.Writer

	// PerFile, when set, opens a distinct destination per matched file;
	// Restore closes what it returns.
	PerFile func(h *header.Header) (io.WriteCloser, error)
}

func (o Options) matchesAny(h *header.Header) bool {
	if len(o.Matches) == 0 {
		return true
	}
	for _, m := range o.Matches {
		if m.matches(h) {
			return true
		}
	}
	return false
}

func (o Options) blockSize() int {
	if o.BlockSize > 0 {
		return o.BlockSize
	}
	return DefaultBodyBlockSize
}

func (o Options) maxConsecutiveErrors() int {
	if o.MaxConsecutiveErrors > 0 {
		return o.MaxConsecutiveErrors
	}
	return DefaultMaxConsecutiveErrors
}

// Result summarizes one Restore run. RunID identifies the run in logs so
// a multi-file restore's skips and errors can be correlated without
// threading a request ID through every call in the package.
type Result struct {
	RunID         string
	FilesRestored int
	BytesRestored int64
	Errors        []string
}

// Restore iterates dump files on h starting at its current position;
// rewinding, or an initial fsf to a starting file number, is the
// caller's job. It stops at a TAPEEND header, at the per-file error
// threshold, or on ctx cancellation.
func Restore(ctx context.Context, h device.Handle, opts Options) (Result, error) {
	result := Result{RunID: uuid.NewString()}
	headerBuf := make([]byte, header.MaxHeaderSize)
	consecutiveErrors := 0

	for {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		n, readErr := device.Read(ctx, h, headerBuf)
		switch {
		case readErr == io.EOF:
			// A filemark where a header was expected. EOF only latches
			// until the next reposition, so fsf(1) moves past it.
			consecutiveErrors++
			if consecutiveErrors >= opts.maxConsecutiveErrors() {
				return result, deverr.New(deverr.DeviceError, "restore: too many consecutive EOFs reading headers")
			}
			if fsfErr := device.FSF(ctx, h, 1); fsfErr != nil {
				return result, deverr.Wrap(deverr.DeviceError, fsfErr, "restore: advance past unexpected EOF")
			}
			continue
		case readErr != nil && !deverr.Is(readErr, deverr.SuccessButShort):
			result.Errors = append(result.Errors, fmt.Sprintf("read header: %v", readErr))
			consecutiveErrors++
			if consecutiveErrors >= opts.maxConsecutiveErrors() {
				return result, deverr.New(deverr.DeviceError, "restore: too many consecutive errors reading headers")
			}
			if fsfErr := device.FSF(ctx, h, 1); fsfErr != nil {
				return result, deverr.Wrap(deverr.DeviceError, fsfErr, "restore: recover from header read error")
			}
			continue
		}

		consecutiveErrors = 0
		hdr := header.Parse(headerBuf, n)
		if hdr.Type == header.TapeEnd {
			return result, nil
		}

		isDumpFile := hdr.Type == header.DumpFile || hdr.Type == header.SplitDumpFile || hdr.Type == header.ContDumpFile
		if isDumpFile && opts.matchesAny(hdr) {
			written, copyErr := restoreOne(ctx, h, opts, hdr, headerBuf[:n])
			result.FilesRestored++
			result.BytesRestored += written
			if copyErr != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", descriptor(hdr), copyErr))
			}
		}

		if err := device.FSF(ctx, h, 1); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("fsf past %s: %v", descriptor(hdr), err))
			consecutiveErrors++
			if consecutiveErrors >= opts.maxConsecutiveErrors() {
				return result, deverr.New(deverr.DeviceError, "restore: too many consecutive errors advancing past files")
			}
		}
	}
}

func descriptor(h *header.Header) string {
	return fmt.Sprintf("%s:%s.%d", h.Host, h.Disk, h.DumpLevel)
}

// restoreOne copies one matched dump file's payload to its destination,
// reading body blocks until the tape's filemark (io.EOF) closes it out.
func restoreOne(ctx context.Context, h device.Handle, opts Options, hdr *header.Header, headerBlock []byte) (int64, error) {
	var dst io.Writer = opts.Output
	var closer io.WriteCloser
	if opts.PerFile != nil {
		w, err := opts.PerFile(hdr)
		if err != nil {
			return 0, deverr.Wrap(deverr.DeviceError, err, "restore: open per-file output")
		}
		dst, closer = w, w
	}
	if dst == nil {
		return 0, deverr.New(deverr.InvalidArg, "restore: no output configured")
	}
	if closer != nil {
		defer closer.Close()
	}

	pipeline, err := buildPipeline(ctx, opts, hdr, dst)
	if err != nil {
		return 0, err
	}
	defer pipeline.close()

	var written int64
	if !opts.StripHeader {
		nw, werr := pipeline.w.Write(headerBlock)
		written += int64(nw)
		if werr != nil {
			return written, werr
		}
	}

	buf := make([]byte, opts.blockSize())
	for {
		n, readErr := device.Read(ctx, h, buf)
		if n > 0 {
			nw, werr := pipeline.w.Write(buf[:n])
			written += int64(nw)
			if werr != nil {
				return written, werr
			}
		}
		switch {
		case readErr == io.EOF:
			return written, pipeline.finish()
		case readErr == nil, deverr.Is(readErr, deverr.SuccessButShort):
			continue
		default:
			return written, readErr
		}
	}
}

// filterStage is one command in a decrypt/decompress chain: cmd's
// stdout is downstream (either the next stage's stdin pipe or the
// pipeline's final sink).
type filterStage struct {
	cmd        *exec.Cmd
	stderr     *bytes.Buffer
	downstream io.Writer
}

// filterPipeline is where restoreOne writes a matched file's raw bytes
// (w); when RunHelpers names decrypt/uncompress commands, w feeds the
// first of a chain of exec.Cmd processes ending at the caller's sink.
type filterPipeline struct {
	w      io.Writer
	stages []filterStage
}

// buildPipeline starts, in order, the decrypt then uncompress commands
// hdr names (when opts.RunHelpers is set and the header marks the
// field present), chaining each one's stdin to the previous stage's
// stdout and the first stage's stdin to the returned pipeline's w.
func buildPipeline(ctx context.Context, opts Options, hdr *header.Header, dst io.Writer) (*filterPipeline, error) {
	var specs []string
	if opts.RunHelpers {
		if hdr.Encrypted && hdr.DecryptCmd != "" {
			specs = append(specs, hdr.DecryptCmd)
		}
		if hdr.Compressed && hdr.UncompressCmd != "" {
			specs = append(specs, hdr.UncompressCmd)
		}
	}
	if len(specs) == 0 {
		return &filterPipeline{w: dst}, nil
	}

	p := &filterPipeline{}
	next := dst
	for i := len(specs) - 1; i >= 0; i-- {
		args := strings.Fields(specs[i])
		if len(args) == 0 {
			continue
		}
		cmd := exec.CommandContext(ctx, args[0], args[1:]...)
		cmd.Stdout = next
		var stderr bytes.Buffer
		cmd.Stderr = &stderr
		stdin, err := cmd.StdinPipe()
		if err != nil {
			p.kill()
			return nil, deverr.Wrap(deverr.DeviceError, err, "restore: create filter stdin pipe")
		}
		if err := cmd.Start(); err != nil {
			p.kill()
			return nil, deverr.Wrap(deverr.DeviceError, err, "restore: start filter "+args[0])
		}
		p.stages = append([]filterStage{{cmd: cmd, stderr: &stderr, downstream: next}}, p.stages...)
		next = stdin
	}
	p.w = next
	return p, nil
}

func (p *filterPipeline) kill() {
	for _, s := range p.stages {
		if s.cmd.Process != nil {
			s.cmd.Process.Kill()
		}
	}
}

// finish closes the pipeline's input so the filter chain drains, then
// waits for each stage in turn, closing the intermediate pipe between
// consecutive stages (the final stage's downstream is the caller's own
// sink, left for the caller to close).
func (p *filterPipeline) finish() error {
	if len(p.stages) == 0 {
		return nil
	}
	if wc, ok := p.w.(io.Closer); ok {
		wc.Close()
	}
	for i, s := range p.stages {
		err := s.cmd.Wait()
		if i < len(p.stages)-1 {
			if wc, ok := s.downstream.(io.Closer); ok {
				wc.Close()
			}
		}
		if err != nil {
			return deverr.Wrap(deverr.DeviceError, err, "restore: filter command failed: "+cmdutil.ErrorDetail(err, s.stderr))
		}
	}
	return nil
}

func (p *filterPipeline) close() {
	p.kill()
}
