package main

import (
	"errors"
	"fmt"
	"testing"

	"github.com/urpm-project/urpm"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"resolver", &urpm.Error{Kind: urpm.ErrResolver}, 1},
		{"environment", &urpm.Error{Kind: urpm.ErrEnvironment}, 2},
		{"transaction", &urpm.Error{Kind: urpm.ErrTransaction}, 3},
		{"user", &urpm.Error{Kind: urpm.ErrUser}, 4},
		{"internal", &urpm.Error{Kind: urpm.ErrInternal}, 1},
		{"wrapped", fmt.Errorf("context: %w", &urpm.Error{Kind: urpm.ErrEnvironment}), 2},
		{"plain", errors.New("boom"), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := exitCode(tt.err); got != tt.want {
				t.Errorf("exitCode(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}

func TestParseID(t *testing.T) {
	if n, err := parseID("42"); err != nil || n != 42 {
		t.Fatalf("parseID(42) = %d, %v", n, err)
	}
	if _, err := parseID("not-a-number"); err == nil {
		t.Fatal("expected an error for a non-numeric id")
	}
}
