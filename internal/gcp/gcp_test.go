package gcp

import (
	"context"
	"testing"
)

func TestGetEnv(t *testing.T) {
	t.Setenv("OCRWORKER_GCP_TEST", "set")
	if got := GetEnv("OCRWORKER_GCP_TEST", "fallback"); got != "set" {
		t.Errorf("GetEnv() = %q, want set", got)
	}
	if got := GetEnv("OCRWORKER_GCP_TEST_UNSET", "fallback"); got != "fallback" {
		t.Errorf("GetEnv() = %q, want fallback", got)
	}
}

func TestNewFirestoreClient_RequiresProject(t *testing.T) {
	if _, err := NewFirestoreClient(context.Background(), "", ""); err == nil {
		t.Error("NewFirestoreClient(\"\") succeeded")
	}
}
