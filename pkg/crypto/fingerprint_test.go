package crypto

import "testing"

func TestFingerprint_Deterministic(t *testing.T) {
	a := Fingerprint([]byte("1/day:2024-03-04/daily_loss"), []byte(`{"kind":"daily_loss"}`))
	b := Fingerprint([]byte("1/day:2024-03-04/daily_loss"), []byte(`{"kind":"daily_loss"}`))

	if a != b {
		t.Errorf("same input produced different fingerprints: %s vs %s", a, b)
	}
	if !ValidFingerprint(a) {
		t.Errorf("fingerprint has invalid format: %s", a)
	}
}

func TestFingerprint_PartBoundaries(t *testing.T) {
	tests := []struct {
		name string
		a, b [][]byte
	}{
		{"shifted boundary", [][]byte{[]byte("ab"), []byte("c")}, [][]byte{[]byte("a"), []byte("bc")}},
		{"different evidence", [][]byte{[]byte("k"), []byte("9400")}, [][]byte{[]byte("k"), []byte("9401")}},
		{"extra empty part", [][]byte{[]byte("k")}, [][]byte{[]byte("k"), {}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if Fingerprint(tt.a...) == Fingerprint(tt.b...) {
				t.Error("different inputs must produce different fingerprints")
			}
		})
	}
}

func TestValidFingerprint(t *testing.T) {
	if ValidFingerprint("abc") {
		t.Error("short string must be invalid")
	}
	if ValidFingerprint(string(make([]byte, FingerprintSize))) {
		t.Error("non-hex string must be invalid")
	}
}
