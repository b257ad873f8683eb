package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestDedupKeyString(t *testing.T) {
	tests := []struct {
		name string
		key  DedupKey
		want string
	}{
		{name: "default prefix", key: DedupKey{Campaign: "1", ChatID: 42}, want: "bot:1:added:42"},
		{name: "custom prefix", key: DedupKey{Prefix: "mirror", Campaign: "spring", ChatID: 1001}, want: "mirror:spring:added:1001"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.key.String(); got != tt.want {
				t.Fatalf("DedupKey.String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestResolutionErrorUnwrap(t *testing.T) {
	err := fmt.Errorf("source: %w", &ResolutionError{Ref: "@nowhere", Err: ErrChatNotFound})
	if !IsResolution(err) {
		t.Fatalf("expected resolution error")
	}
	if !errors.Is(err, ErrChatNotFound) {
		t.Fatalf("expected ErrChatNotFound in chain")
	}
	if IsResolution(ErrStoreUnavailable) {
		t.Fatalf("store error is not a resolution error")
	}
}

func TestRunModeString(t *testing.T) {
	if RunModeOnePass.String() != "one_pass" || RunModeContinuous.String() != "continuous" {
		t.Fatalf("unexpected run mode names: %s, %s", RunModeOnePass, RunModeContinuous)
	}
}
