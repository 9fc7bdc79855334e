package labeldb

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/tapecore/tapecore/internal/changer"
)

func TestUpdateSlotThenFindByLabel(t *testing.T) {
	tmpDir := t.TempDir()
	db, err := Open(filepath.Join(tmpDir, "labels.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	if err := db.Update(ctx, changer.ActionUpdateSlot, 3, "BC-0003", "DailySet1-03"); err != nil {
		t.Fatalf("Update: %v", err)
	}

	rec, ok, err := db.FindSlotByLabel(ctx, "DailySet1-03")
	if err != nil {
		t.Fatalf("FindSlotByLabel: %v", err)
	}
	if !ok {
		t.Fatalf("expected slot to be found")
	}
	if rec.SlotAddress != 3 {
		t.Fatalf("SlotAddress = %d, want 3", rec.SlotAddress)
	}
	if rec.VolTag != "BC-0003" {
		t.Fatalf("VolTag = %q, want BC-0003", rec.VolTag)
	}
	if !rec.Valid {
		t.Fatalf("expected slot to be valid")
	}
}

func TestResetValidInvalidatesUntilNextUpdate(t *testing.T) {
	tmpDir := t.TempDir()
	db, err := Open(filepath.Join(tmpDir, "labels.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	if err := db.Update(ctx, changer.ActionUpdateSlot, 1, "BC-0001", "Vol1"); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if err := db.Update(ctx, changer.ActionResetValid, 0, "", ""); err != nil {
		t.Fatalf("ResetValid: %v", err)
	}

	if _, ok, err := db.FindSlotByLabel(ctx, "Vol1"); err != nil {
		t.Fatalf("FindSlotByLabel: %v", err)
	} else if ok {
		t.Fatalf("slot should no longer be valid after ActionResetValid")
	}

	if err := db.Update(ctx, changer.ActionUpdateSlot, 1, "BC-0001", "Vol1"); err != nil {
		t.Fatalf("Update after reset: %v", err)
	}
	all, err := db.AllValid(ctx)
	if err != nil {
		t.Fatalf("AllValid: %v", err)
	}
	if len(all) != 1 || all[0].Label != "Vol1" {
		t.Fatalf("AllValid = %+v, want one Vol1 record", all)
	}
}

func TestFindSlotByLabelUnknown(t *testing.T) {
	tmpDir := t.TempDir()
	db, err := Open(filepath.Join(tmpDir, "labels.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	_, ok, err := db.FindSlotByLabel(context.Background(), "NoSuchLabel")
	if err != nil {
		t.Fatalf("FindSlotByLabel: %v", err)
	}
	if ok {
		t.Fatalf("expected no record for an unknown label")
	}
}
