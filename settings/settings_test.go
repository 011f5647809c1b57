package settings

import "testing"

func TestLoadJSONAppliesDefaults(t *testing.T) {
	r, err := LoadJSON([]byte(`{"pulse_microseconds": 5}`))
	if err != nil {
		t.Fatalf("LoadJSON: %v", err)
	}
	if r.PulseMicroseconds != 5 {
		t.Fatalf("expected explicit pulse_microseconds to survive, got %v", r.PulseMicroseconds)
	}
	if r.Acceleration != Defaults().Acceleration {
		t.Fatalf("expected default acceleration, got %v", r.Acceleration)
	}
	if r.StepsPerMM[0] != Defaults().StepsPerMM[0] {
		t.Fatalf("expected default steps_per_mm, got %v", r.StepsPerMM[0])
	}
}

func TestFrameRoundTrip(t *testing.T) {
	orig := Defaults()
	orig.StepsPerMM = [3]float64{80, 80, 400}
	orig.HomingEnable = true
	orig.HardLimitEnable = true
	orig.ReportInches = false

	frame := orig.EncodeFrame()
	got, err := DecodeFrame(frame)
	if err != nil {
		t.Fatalf("DecodeFrame: %v", err)
	}
	if got.StepsPerMM != orig.StepsPerMM {
		t.Fatalf("steps_per_mm mismatch: got %v want %v", got.StepsPerMM, orig.StepsPerMM)
	}
	if got.HomingEnable != orig.HomingEnable || got.HardLimitEnable != orig.HardLimitEnable {
		t.Fatalf("boolean fields did not survive round trip: %+v", got)
	}
	if got.MaxAcceleration != orig.MaxAcceleration {
		t.Fatalf("max_acceleration mismatch: got %v want %v", got.MaxAcceleration, orig.MaxAcceleration)
	}
}

func TestFrameDetectsCorruption(t *testing.T) {
	d := Defaults()
	frame := d.EncodeFrame()
	frame[2] ^= 0xFF
	if _, err := DecodeFrame(frame); err != ErrChecksumMismatch {
		t.Fatalf("expected ErrChecksumMismatch, got %v", err)
	}
}

func TestFrameRejectsUnknownVersion(t *testing.T) {
	d := Defaults()
	frame := d.EncodeFrame()
	frame[0] = 99
	if _, err := DecodeFrame(frame); err == nil {
		t.Fatal("expected an error for a tampered version byte")
	}
}
