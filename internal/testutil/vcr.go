// Package testutil holds helpers shared by package tests.
package testutil

import (
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"gopkg.in/dnaeon/go-vcr.v2/cassette"
	"gopkg.in/dnaeon/go-vcr.v2/recorder"
)

// Recording reports whether cassettes are being re-recorded (VCR_MODE=record).
func Recording() bool {
	return os.Getenv("VCR_MODE") == "record"
}

// VendorKey returns the real key from envVar when recording and a
// placeholder when replaying. Recording without the key skips the test.
func VendorKey(t *testing.T, envVar string) string {
	t.Helper()
	if !Recording() {
		return "test-key"
	}
	key := os.Getenv(envVar)
	if key == "" {
		t.Skipf("%s not set, cannot record", envVar)
	}
	return key
}

// ReplayClient returns an HTTP client served from
// testdata/fixtures/<cassette>.yaml. The recorder is stopped on test cleanup.
func ReplayClient(t *testing.T, cassetteName string) *http.Client {
	t.Helper()

	mode := recorder.ModeReplaying
	if Recording() {
		mode = recorder.ModeRecording
	}

	r, err := recorder.NewAsMode(filepath.Join("testdata", "fixtures", cassetteName), mode, nil)
	if err != nil {
		t.Fatalf("open cassette %s: %v", cassetteName, err)
	}

	// Prompts differ between runs; method and URL identify an interaction.
	r.SetMatcher(func(r *http.Request, i cassette.Request) bool {
		return r.Method == i.Method && r.URL.String() == i.URL
	})
	r.AddFilter(func(i *cassette.Interaction) error {
		for _, h := range []string{"Authorization", "X-Api-Key", "Api-Key"} {
			delete(i.Request.Headers, h)
		}
		return nil
	})

	t.Cleanup(func() {
		if err := r.Stop(); err != nil {
			t.Errorf("stop cassette %s: %v", cassetteName, err)
		}
	})
	return &http.Client{Transport: r}
}
