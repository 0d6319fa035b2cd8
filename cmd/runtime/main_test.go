package main

import (
	"bytes"
	"strings"
	"testing"
)

func TestRun_UnknownSubcommandPrintsUsage(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := Run([]string{"runtime", "bogus"}, &stdout, &stderr)
	if code != 2 {
		t.Fatalf("expected exit code 2, got %d", code)
	}
	if !strings.Contains(stderr.String(), "Usage:") {
		t.Fatalf("expected usage message, got %q", stderr.String())
	}
}

func TestRun_HealthDispatchesToRunHealth(t *testing.T) {
	var stdout, stderr bytes.Buffer
	t.Setenv("REMOTE_HTTP_URL", "http://127.0.0.1:1")

	code := Run([]string{"runtime", "health"}, &stdout, &stderr)
	if code != 1 {
		t.Fatalf("expected unreachable node to report failure, got %d", code)
	}
	if !strings.Contains(stderr.String(), "unreachable") {
		t.Fatalf("expected unreachable message, got %q", stderr.String())
	}
}
