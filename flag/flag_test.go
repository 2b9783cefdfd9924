package flag_test

import (
	"testing"

	"github.com/EDI-Systems/M7M01-Eukaron-sub003/flag"
)

func TestParseSize(t *testing.T) {
	tests := []struct {
		in   string
		dflt string
		want uint64
		ok   bool
	}{
		{"1m", "m", 1 << 20, true},
		{"512k", "m", 512 << 10, true},
		{"2g", "m", 2 << 30, true},
		{"64", "k", 64 << 10, true},
		{"0x10", "k", 0x10 << 10, true},
		{"1M", "m", 1 << 20, true},
		{"x1m", "m", 0, false},
	}

	for _, tt := range tests {
		got, err := flag.ParseSize(tt.in, tt.dflt)
		if tt.ok && (err != nil || got != tt.want) {
			t.Errorf("ParseSize(%q) = %d, %v; want %d", tt.in, got, err, tt.want)
		}
		if !tt.ok && err == nil {
			t.Errorf("ParseSize(%q) succeeded, want error", tt.in)
		}
	}
}

func TestParseAddr(t *testing.T) {
	got, err := flag.ParseAddr("0x20000000")
	if err != nil || got != 0x20000000 {
		t.Fatalf("ParseAddr = %#x, %v", got, err)
	}

	if _, err := flag.ParseAddr("zzz"); err == nil {
		t.Error("bad address accepted")
	}
}
