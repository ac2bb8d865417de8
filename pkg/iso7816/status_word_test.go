package iso7816

import (
	"strings"
	"testing"
)

func TestStatusWordClassification(t *testing.T) {
	tests := []struct {
		name     string
		sw       StatusWord
		success  bool
		warning  bool
		isErr    bool
		moreData bool
	}{
		{"no error", SWNoError, true, false, false, false},
		{"data available", NewStatusWord(0x61, 0x10), true, false, false, false},
		{"more GET STATUS data", SWMoreDataAvailable, false, true, false, true},
		{"auth failed", SWAuthenticationFailed, false, true, false, false},
		{"not found", SWFileOrAppNotFound, false, false, true, false},
		{"security status", SWSecurityStatusNotSat, false, false, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.sw.IsSuccess(); got != tt.success {
				t.Errorf("IsSuccess() = %v, want %v", got, tt.success)
			}
			if got := tt.sw.IsWarning(); got != tt.warning {
				t.Errorf("IsWarning() = %v, want %v", got, tt.warning)
			}
			if got := tt.sw.IsError(); got != tt.isErr {
				t.Errorf("IsError() = %v, want %v", got, tt.isErr)
			}
			if got := tt.sw.IsMoreData(); got != tt.moreData {
				t.Errorf("IsMoreData() = %v, want %v", got, tt.moreData)
			}
		})
	}
}

func TestStatusWordCounter(t *testing.T) {
	sw := NewStatusWord(0x63, 0xC2)
	if !sw.IsCounter() {
		t.Fatal("63C2 should be a counter word")
	}
	if sw.Counter() != 2 {
		t.Errorf("Counter() = %d, want 2", sw.Counter())
	}

	if SWAuthenticationFailed.IsCounter() {
		t.Error("6300 should not be a counter word")
	}
}

func TestStatusWordVerbose(t *testing.T) {
	tests := []struct {
		sw       StatusWord
		contains string
	}{
		{NewStatusWord(0x61, 0x20), "32 bytes available"},
		{NewStatusWord(0x6C, 0x08), "correct Le is 8"},
		{SWMoreDataAvailable, "More data available"},
		{SWFileOrAppNotFound, "not found"},
		{NewStatusWord(0x6A, 0xFF), "wrong parameters"},
	}

	for _, tt := range tests {
		got := tt.sw.Verbose()
		if !strings.Contains(strings.ToLower(got), strings.ToLower(tt.contains)) {
			t.Errorf("Verbose(%04X) = %q, want substring %q", uint16(tt.sw), got, tt.contains)
		}
	}
}
