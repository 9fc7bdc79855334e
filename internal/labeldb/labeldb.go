// Package labeldb is a pure-Go, cgo-free SQLite-backed implementation
// of the changer package's MapBarCode collaborator: one row per library
// slot, recording the volume tag and label last seen there.
package labeldb

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/tapecore/tapecore/internal/changer"
	"github.com/tapecore/tapecore/internal/deverr"
)

// DB wraps a SQLite connection holding one row per storage-element slot:
// its last-known volume tag and the label (volume name) read from the
// cartridge mounted there during inventory.
type DB struct {
	sql *sql.DB
}

// Open creates dbPath's parent directory if needed and opens (creating
// if absent) the label database. WAL mode with a single writer
// connection keeps concurrent CLI invocations from tripping over each
// other on the same file.
func Open(dbPath string) (*DB, error) {
	dir := filepath.Dir(dbPath)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, deverr.Wrap(deverr.DeviceError, err, "labeldb: create directory")
		}
	}
	conn, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, deverr.Wrap(deverr.DeviceError, err, "labeldb: open")
	}
	conn.SetMaxOpenConns(1)
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, deverr.Wrap(deverr.DeviceError, err, "labeldb: ping")
	}
	db := &DB{sql: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, err
	}
	return db, nil
}

func (db *DB) migrate() error {
	_, err := db.sql.Exec(`
		CREATE TABLE IF NOT EXISTS slots (
			slot_address INTEGER PRIMARY KEY,
			vol_tag      TEXT NOT NULL DEFAULT '',
			label        TEXT NOT NULL DEFAULT '',
			valid        INTEGER NOT NULL DEFAULT 1,
			updated_at   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return deverr.Wrap(deverr.DeviceError, err, "labeldb: create schema")
	}
	return nil
}

// Close releases the underlying connection.
func (db *DB) Close() error {
	return db.sql.Close()
}

// Update implements changer.MapBarCode: ActionResetValid marks every
// slot stale ahead of a fresh inventory pass; ActionUpdateSlot upserts
// the just-read volTag/label for one slot and marks it valid again.
func (db *DB) Update(ctx context.Context, action changer.BarcodeAction, slotAddr uint16, volTag, label string) error {
	switch action {
	case changer.ActionResetValid:
		_, err := db.sql.ExecContext(ctx, `UPDATE slots SET valid = 0`)
		if err != nil {
			return deverr.Wrap(deverr.DeviceError, err, "labeldb: reset valid")
		}
		return nil
	case changer.ActionUpdateSlot:
		_, err := db.sql.ExecContext(ctx, `
			INSERT INTO slots (slot_address, vol_tag, label, valid, updated_at)
			VALUES (?, ?, ?, 1, CURRENT_TIMESTAMP)
			ON CONFLICT(slot_address) DO UPDATE SET
				vol_tag = excluded.vol_tag,
				label = excluded.label,
				valid = 1,
				updated_at = CURRENT_TIMESTAMP
		`, slotAddr, volTag, label)
		if err != nil {
			return deverr.Wrap(deverr.DeviceError, err, "labeldb: update slot")
		}
		return nil
	case changer.ActionFindSlot, changer.ActionBarcodeBarcode:
		// These are read-shaped requests; MapBarCode's Update signature
		// carries no result channel for them, so Inventory never issues
		// them. FindSlotByLabel below is the real query path.
		return deverr.New(deverr.InvalidArg, "labeldb: query actions are not expressible through Update, use FindSlotByLabel")
	default:
		return deverr.New(deverr.InvalidArg, fmt.Sprintf("labeldb: unknown barcode action %d", action))
	}
}

// SlotRecord is one row of the label database, returned by lookups.
type SlotRecord struct {
	SlotAddress uint16
	VolTag      string
	Label       string
	Valid       bool
	UpdatedAt   time.Time
}

// FindSlotByLabel returns the slot address last known to hold the
// cartridge labelled label, used to map a requested volume name to a
// library slot without a physical inventory pass.
func (db *DB) FindSlotByLabel(ctx context.Context, label string) (SlotRecord, bool, error) {
	row := db.sql.QueryRowContext(ctx, `
		SELECT slot_address, vol_tag, label, valid, updated_at
		FROM slots WHERE label = ? AND valid = 1
		ORDER BY updated_at DESC LIMIT 1
	`, label)
	var rec SlotRecord
	var valid int
	if err := row.Scan(&rec.SlotAddress, &rec.VolTag, &rec.Label, &valid, &rec.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return SlotRecord{}, false, nil
		}
		return SlotRecord{}, false, deverr.Wrap(deverr.DeviceError, err, "labeldb: find slot by label")
	}
	rec.Valid = valid != 0
	return rec, true, nil
}

// AllValid returns every slot record still marked valid, in slot-address
// order, for inventory reporting.
func (db *DB) AllValid(ctx context.Context) ([]SlotRecord, error) {
	rows, err := db.sql.QueryContext(ctx, `
		SELECT slot_address, vol_tag, label, valid, updated_at
		FROM slots WHERE valid = 1
		ORDER BY slot_address ASC
	`)
	if err != nil {
		return nil, deverr.Wrap(deverr.DeviceError, err, "labeldb: list valid slots")
	}
	defer rows.Close()

	var out []SlotRecord
	for rows.Next() {
		var rec SlotRecord
		var valid int
		if err := rows.Scan(&rec.SlotAddress, &rec.VolTag, &rec.Label, &valid, &rec.UpdatedAt); err != nil {
			return nil, deverr.Wrap(deverr.DeviceError, err, "labeldb: scan slot row")
		}
		rec.Valid = valid != 0
		out = append(out, rec)
	}
	return out, rows.Err()
}
