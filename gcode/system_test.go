package gcode

import (
	"strings"
	"testing"

	"github.com/Smitter/GRBL-LM4F120H5QR/machine"
	"github.com/Smitter/GRBL-LM4F120H5QR/settings"
)

func TestSystemCommandsSetAndDumpSetting(t *testing.T) {
	in, _ := newTestInterpreter(t)
	rec := settings.Defaults()
	sc := NewSystemCommands(in, &rec)

	var changed bool
	sc.OnSettingsChanged = func(*settings.Record) { changed = true }

	if _, err := sc.Execute("$8=750"); err != nil {
		t.Fatalf("$8=750: %v", err)
	}
	if rec.Acceleration != 750 {
		t.Fatalf("expected Acceleration updated to 750, got %v", rec.Acceleration)
	}
	if !changed {
		t.Fatal("expected OnSettingsChanged to fire")
	}

	dump, err := sc.Execute("$$")
	if err != nil {
		t.Fatalf("$$: %v", err)
	}
	if !strings.Contains(dump, "$8=750") {
		t.Fatalf("expected dump to include updated setting, got %q", dump)
	}
}

func TestSystemCommandsUnlockAlarm(t *testing.T) {
	in, sys := newTestInterpreter(t)
	rec := settings.Defaults()
	sc := NewSystemCommands(in, &rec)

	sys.SetState(machine.StateAlarm)
	if _, err := sc.Execute("$X"); err != nil {
		t.Fatalf("$X: %v", err)
	}
	if sys.PendingFlags()&machine.PendingResetAlarm == 0 {
		t.Fatal("expected $X to raise PendingResetAlarm")
	}
}

func TestSystemCommandsRejectsGarbage(t *testing.T) {
	in, _ := newTestInterpreter(t)
	rec := settings.Defaults()
	sc := NewSystemCommands(in, &rec)
	if _, err := sc.Execute("$zzz"); err == nil {
		t.Fatal("expected an error for a malformed setting command")
	}
}
