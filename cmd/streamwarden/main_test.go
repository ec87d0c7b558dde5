package main

import "testing"

func TestEnvOr(t *testing.T) {
	t.Setenv("STREAMWARDEN_TEST_VAR", "set")
	if got := envOr("STREAMWARDEN_TEST_VAR", "fallback"); got != "set" {
		t.Fatalf("envOr = %q, want %q", got, "set")
	}
	if got := envOr("STREAMWARDEN_TEST_UNSET", "fallback"); got != "fallback" {
		t.Fatalf("envOr = %q, want %q", got, "fallback")
	}
}
