package logging

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestErrorsGoToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "errors.log")
	if err := os.WriteFile(path, []byte("stale\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	log, err := New(path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	log.Infof("info line")
	log.Warnf("warn line")
	log.Errorf("boom %d", 42)
	log.Error(errors.New("second failure"))
	log.Error(nil)
	if err := log.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	got := string(b)
	if strings.Contains(got, "stale") {
		t.Error("errors file was not truncated")
	}
	if strings.Contains(got, "info line") || strings.Contains(got, "warn line") {
		t.Error("non-error lines reached the errors file")
	}
	if !strings.Contains(got, "boom 42") || !strings.Contains(got, "second failure") {
		t.Errorf("errors file = %q", got)
	}
	if !strings.Contains(got, "logger_test.go") {
		t.Errorf("error lines should name the caller: %q", got)
	}
}

func TestDiscard(t *testing.T) {
	log := Discard()
	log.Infof("x")
	log.Errorf("y")
	if err := log.Close(); err != nil {
		t.Fatal(err)
	}
}
