// Command tapecore is the CLI front-end over the core storage
// subsystem: device primitives, volume labels, the restore path, the
// changer driver, and the tapetype probe, all in one binary driving the
// internal packages directly.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/mattn/go-isatty"

	"github.com/tapecore/tapecore/internal/changer"
	"github.com/tapecore/tapecore/internal/config"
	"github.com/tapecore/tapecore/internal/deverr"
	"github.com/tapecore/tapecore/internal/device"
	"github.com/tapecore/tapecore/internal/header"
	"github.com/tapecore/tapecore/internal/labeldb"
	"github.com/tapecore/tapecore/internal/logging"
	_ "github.com/tapecore/tapecore/internal/rait"
	"github.com/tapecore/tapecore/internal/restore"
	"github.com/tapecore/tapecore/internal/scsi"
	"github.com/tapecore/tapecore/internal/tapetype"
)

var (
	version   = "0.1.0"
	buildTime = "development"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

// run returns the process exit code: 0 success, 1 recoverable failure,
// 2 fatal (configuration or invariant violation). The core packages
// never exit the process themselves — they return a deverr.Fatal error,
// and only this function decides the exit code.
func run(args []string) int {
	fs := flag.NewFlagSet("tapecore", flag.ContinueOnError)
	configPath := fs.String("config", "/etc/tapecore/config.json", "path to configuration file")
	showVersion := fs.Bool("version", false, "show version information")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	if *showVersion {
		fmt.Printf("tapecore v%s (built: %s)\n", version, buildTime)
		return 0
	}

	remaining := fs.Args()
	if len(remaining) == 0 {
		usage()
		return 1
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		return 2
	}

	logger, err := logging.NewLogger(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		return 2
	}
	defer logger.Close()

	ctx := context.Background()
	cmd, cmdArgs := remaining[0], remaining[1:]

	var runErr error
	switch cmd {
	case "status":
		runErr = cmdStatus(ctx, cfg, logger, cmdArgs)
	case "rewind", "fsf", "bsf", "weof", "eject":
		runErr = cmdPosition(ctx, cfg, logger, cmd, cmdArgs)
	case "label":
		runErr = cmdLabel(ctx, cfg, logger, cmdArgs)
	case "restore":
		runErr = cmdRestore(ctx, cfg, logger, cmdArgs)
	case "tapetype":
		runErr = cmdTapetype(ctx, cfg, logger, cmdArgs)
	case "changer":
		runErr = cmdChanger(ctx, cfg, logger, cmdArgs)
	default:
		usage()
		return 1
	}

	if runErr == nil {
		return 0
	}

	fmt.Fprintf(os.Stderr, "%s: %v\n", cmd, runErr)
	logger.Error("command failed", map[string]interface{}{"command": cmd, "error": runErr.Error()})
	if deverr.Is(runErr, deverr.Fatal) {
		return 2
	}
	return 1
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: tapecore [-config path] <command> [args]

commands:
  status   [-device uri]
  rewind   [-device uri]
  fsf      [-device uri] [-count n]
  bsf      [-device uri] [-count n]
  weof     [-device uri] [-count n]
  eject    [-device uri]
  label    read|write [-device uri] [-datestamp ds] [-name name] [-size bytes]
  restore  [-device uri] [-host re] [-disk re] [-datestamp re] [-strip-header] [-run-helpers] [-out path]
  tapetype [-device uri] [-estimate bytes]
  changer  status|move|load|unload|inventory [-scsi path] [-from n] [-to n] [-drive n] [-slot n]`)
}

func openDevice(ctx context.Context, cfg *config.Config, uri string, write bool) (device.Handle, error) {
	if uri == "" {
		uri = cfg.Device.DefaultURI
	}
	return device.Open(ctx, uri, device.OpenFlags{Write: write}, nil)
}

func cmdStatus(ctx context.Context, cfg *config.Config, logger *logging.Logger, args []string) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	dev := fs.String("device", "", "device URI (defaults to config device.default_uri)")
	fs.Parse(args)

	h, err := openDevice(ctx, cfg, *dev, false)
	if err != nil {
		return err
	}
	defer device.Close(h)

	st, err := device.Status(ctx, h)
	if err != nil {
		return err
	}
	fmt.Printf("online=%v bot=%v eot=%v write-protected=%v file=%v block=%v\n",
		st.Online.Value, st.BOT.Value, st.EOT.Value, st.WriteProtected.Value, st.FileNo.Value, st.BlockNo.Value)
	logger.Info("status", map[string]interface{}{"device": *dev, "online": st.Online.Value})
	return nil
}

func cmdPosition(ctx context.Context, cfg *config.Config, logger *logging.Logger, op string, args []string) error {
	fs := flag.NewFlagSet(op, flag.ExitOnError)
	dev := fs.String("device", "", "device URI (defaults to config device.default_uri)")
	count := fs.Int("count", 1, "count argument for fsf/bsf/weof")
	fs.Parse(args)

	h, err := openDevice(ctx, cfg, *dev, op == "weof")
	if err != nil {
		return err
	}
	defer device.Close(h)

	switch op {
	case "rewind":
		err = device.Rewind(ctx, h)
	case "fsf":
		err = device.FSF(ctx, h, *count)
	case "bsf":
		err = device.BSF(ctx, h, *count)
	case "weof":
		err = device.WEOF(ctx, h, *count)
	case "eject":
		err = device.Eject(ctx, h)
	}
	if err != nil {
		return err
	}
	logger.Info("position", map[string]interface{}{"device": *dev, "op": op, "count": *count})
	return nil
}

func cmdLabel(ctx context.Context, cfg *config.Config, logger *logging.Logger, args []string) error {
	if len(args) == 0 {
		return deverr.New(deverr.InvalidArg, "label requires read|write")
	}
	sub, rest := args[0], args[1:]

	fs := flag.NewFlagSet("label-"+sub, flag.ExitOnError)
	dev := fs.String("device", "", "device URI (defaults to config device.default_uri)")
	datestamp := fs.String("datestamp", "", "14-digit datestamp for write")
	name := fs.String("name", "", "volume label for write")
	size := fs.Int("size", cfg.Device.BlockSize, "header block size in bytes")
	fs.Parse(rest)

	switch sub {
	case "read":
		h, err := openDevice(ctx, cfg, *dev, false)
		if err != nil {
			return err
		}
		defer device.Close(h)
		ds, label, err := header.Rdlabel(ctx, h)
		if err != nil {
			return err
		}
		fmt.Printf("datestamp=%s label=%s\n", ds, label)
		return nil
	case "write":
		h, err := openDevice(ctx, cfg, *dev, true)
		if err != nil {
			return err
		}
		defer device.Close(h)
		if err := header.Wrlabel(ctx, h, *datestamp, *name, *size); err != nil {
			return err
		}
		logger.Info("label written", map[string]interface{}{"device": *dev, "name": *name})
		return nil
	default:
		return deverr.New(deverr.InvalidArg, "label requires read|write, got "+sub)
	}
}

func cmdRestore(ctx context.Context, cfg *config.Config, logger *logging.Logger, args []string) error {
	fs := flag.NewFlagSet("restore", flag.ExitOnError)
	dev := fs.String("device", "", "device URI (defaults to config device.default_uri)")
	host := fs.String("host", "", "host regex filter")
	disk := fs.String("disk", "", "disk regex filter")
	datestamp := fs.String("datestamp", "", "datestamp regex filter")
	stripHeader := fs.Bool("strip-header", false, "omit the dump-file header from restored output")
	runHelpers := fs.Bool("run-helpers", false, "pipe matched files through their decrypt/uncompress helpers")
	out := fs.String("out", "", "output file path (defaults to stdout)")
	fs.Parse(args)

	h, err := openDevice(ctx, cfg, *dev, false)
	if err != nil {
		return err
	}
	defer device.Close(h)

	match, err := restore.CompileMatch(*host, *disk, *datestamp)
	if err != nil {
		return err
	}

	w := os.Stdout
	if *out != "" && *out != "-" {
		f, err := os.Create(*out)
		if err != nil {
			return deverr.Wrap(deverr.DeviceError, err, "restore: create output file")
		}
		defer f.Close()
		w = f
	}

	opts := restore.Options{
		Matches:              []restore.MatchSpec{match},
		StripHeader:          *stripHeader,
		RunHelpers:           *runHelpers,
		BlockSize:            cfg.Restore.BlockSize,
		MaxConsecutiveErrors: cfg.Restore.MaxConsecutiveErrors,
		Output:               w,
	}

	res, err := restore.Restore(ctx, h, opts)
	if err != nil {
		return err
	}
	logger.Info("restore complete", map[string]interface{}{
		"device": *dev, "run_id": res.RunID, "files": res.FilesRestored, "bytes": res.BytesRestored,
	})
	fmt.Fprintf(os.Stderr, "restored %d file(s), %d byte(s)\n", res.FilesRestored, res.BytesRestored)
	return nil
}

func cmdTapetype(ctx context.Context, cfg *config.Config, logger *logging.Logger, args []string) error {
	fs := flag.NewFlagSet("tapetype", flag.ExitOnError)
	dev := fs.String("device", "", "device URI (defaults to config device.default_uri)")
	estimate := fs.Int64("estimate", 100*1024*1024, "estimated volume capacity in bytes, used to size probe passes")
	fs.Parse(args)

	h, err := openDevice(ctx, cfg, *dev, true)
	if err != nil {
		return err
	}
	defer device.Close(h)

	prober := &tapetype.Prober{W: tapetype.DeviceWriter{Handle: h}, BlockSize: cfg.Device.BlockSize}
	report, err := prober.Probe(ctx, *estimate)
	if err != nil {
		return err
	}
	fmt.Println(report.String())
	logger.Info("tapetype probe complete", map[string]interface{}{
		"device": *dev, "hwcompr": report.Compressibility.HardwareCompression,
	})
	return nil
}

func cmdChanger(ctx context.Context, cfg *config.Config, logger *logging.Logger, args []string) error {
	if len(args) == 0 {
		return deverr.New(deverr.InvalidArg, "changer requires status|move|load|unload|inventory")
	}
	sub, rest := args[0], args[1:]

	fs := flag.NewFlagSet("changer-"+sub, flag.ExitOnError)
	scsiDev := fs.String("scsi", cfg.Changer.SCSIDevice, "changer SCSI device path")
	from := fs.Uint("from", 0, "source element address")
	to := fs.Uint("to", 0, "destination element address")
	drive := fs.Uint("drive", 0, "drive (DTE) element address")
	slot := fs.Uint("slot", 0, "storage (STE) element address")
	driveDevice := fs.String("drive-device", "", "tape device URI backing -drive, required for inventory")
	fs.Parse(rest)

	t, err := scsi.OpenTransport(*scsiDev)
	if err != nil {
		return deverr.Wrap(deverr.DeviceError, err, "changer: open SCSI transport "+*scsiDev)
	}
	defer t.Close()

	d, err := changer.NewDriver(ctx, t)
	if err != nil {
		return err
	}
	d.RewindRetryBudget = cfg.Changer.RewindRetryBudget
	d.EmuBarcode = cfg.Changer.EmulateBarcode

	switch sub {
	case "status":
		if err := d.GenericElementStatus(ctx); err != nil {
			return err
		}
		printElementTable(d)
	case "move":
		if err := d.Move(ctx, uint16(*from), uint16(*to)); err != nil {
			return err
		}
		logger.Info("changer move", map[string]interface{}{"from": *from, "to": *to})
	case "load":
		if err := d.Load(ctx, uint16(*drive), uint16(*slot)); err != nil {
			return err
		}
		logger.Info("changer load", map[string]interface{}{"drive": *drive, "slot": *slot})
	case "unload":
		if err := d.Unload(ctx, uint16(*drive), uint16(*slot)); err != nil {
			return err
		}
		logger.Info("changer unload", map[string]interface{}{"drive": *drive, "slot": *slot})
	case "inventory":
		if *driveDevice == "" {
			return deverr.New(deverr.InvalidArg, "changer inventory requires -drive-device")
		}
		db, err := labeldb.Open(cfg.Changer.LabelDBPath)
		if err != nil {
			return err
		}
		defer db.Close()
		d.LabelMap = db

		if err := d.GenericElementStatus(ctx); err != nil {
			return err
		}
		dh, err := device.Open(ctx, *driveDevice, device.OpenFlags{}, nil)
		if err != nil {
			return err
		}
		defer device.Close(dh)
		if err := d.Inventory(ctx, uint16(*drive), deviceReader{h: dh}); err != nil {
			return err
		}
		logger.Info("changer inventory complete", map[string]interface{}{"warnings": len(d.Warnings)})
	default:
		return deverr.New(deverr.InvalidArg, "changer requires status|move|load|unload|inventory, got "+sub)
	}
	return nil
}

// colorize wraps occ in green ("full") or gray ("empty") ANSI codes
// when stdout is a terminal.
func colorize(occ string, isFull bool) string {
	if !isatty.IsTerminal(os.Stdout.Fd()) && !isatty.IsCygwinTerminal(os.Stdout.Fd()) {
		return occ
	}
	code := "90"
	if isFull {
		code = "32"
	}
	return fmt.Sprintf("\x1b[%sm%s\x1b[0m", code, occ)
}

func printElementTable(d *changer.Driver) {
	for _, t := range []changer.ElementType{changer.MediumTransport, changer.Storage, changer.ImportExport, changer.DataTransfer} {
		n := d.Table.Len(t)
		for i := 0; i < n; i++ {
			e := d.Table.At(t, i)
			isFull := e.Occupancy == changer.Full
			occ := "empty"
			if isFull {
				occ = "full"
			}
			occ = colorize(occ, isFull)
			tag := strings.TrimSpace(e.VolTag)
			fmt.Printf("%s addr=%d %s voltag=%q source=%d\n", e.Type, e.Address, occ, tag, e.Source)
		}
	}
}

// deviceReader adapts an open device.Handle (a mounted drive) to the
// changer.Reader surface Inventory needs to recover a freshly-loaded
// tape's label.
type deviceReader struct {
	h device.Handle
}

func (r deviceReader) Rewind(ctx context.Context) error {
	return device.Rewind(ctx, r.h)
}

func (r deviceReader) ReadFirstBlock(ctx context.Context) ([]byte, error) {
	buf := make([]byte, 32*1024)
	n, err := device.Read(ctx, r.h, buf)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}
