package source

import "testing"

func TestNormalizeCRLFKeepsLoneCR(t *testing.T) {
	out, changed := normalizeCRLF([]byte("a\r\nb\rc"))
	if !changed {
		t.Fatalf("want changed")
	}
	if string(out) != "a\nb\rc" {
		t.Fatalf("want %q, got %q", "a\nb\rc", out)
	}
	if _, changed := normalizeCRLF([]byte("plain")); changed {
		t.Fatalf("plain input must not report a change")
	}
}
