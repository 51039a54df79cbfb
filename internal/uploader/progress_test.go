package uploader

import (
	"bytes"
	"io"
	"strings"
	"testing"
	"time"
)

func TestProgressReaderCountsBytes(t *testing.T) {
	var reports []int64
	pr := newProgressReader(strings.NewReader("hello world"), 0, func(n int64) {
		reports = append(reports, n)
	})

	out := new(bytes.Buffer)
	if _, err := io.Copy(out, pr); err != nil {
		t.Fatalf("copy: %v", err)
	}

	if out.String() != "hello world" {
		t.Errorf("payload corrupted: %q", out.String())
	}
	if len(reports) == 0 {
		t.Fatal("expected at least one progress report")
	}
	if got := reports[len(reports)-1]; got != 11 {
		t.Errorf("final report = %d, want 11", got)
	}
	for i := 1; i < len(reports); i++ {
		if reports[i] < reports[i-1] {
			t.Errorf("reports decreased: %v", reports)
		}
	}
}

func TestProgressReaderThrottlesIntermediateReports(t *testing.T) {
	var reports []int64
	pr := newProgressReader(bytes.NewReader(make([]byte, 64)), time.Hour, func(n int64) {
		reports = append(reports, n)
	})

	buf := make([]byte, 8)
	for {
		if _, err := pr.Read(buf); err == io.EOF {
			break
		} else if err != nil {
			t.Fatalf("read: %v", err)
		}
	}

	// One report per interval at most, except the guaranteed final one.
	if len(reports) > 2 {
		t.Errorf("expected throttled reports, got %d: %v", len(reports), reports)
	}
	if got := reports[len(reports)-1]; got != 64 {
		t.Errorf("final report = %d, want 64", got)
	}
}

func TestProgressReaderFinalReportNotDuplicated(t *testing.T) {
	var reports []int64
	pr := newProgressReader(strings.NewReader("abc"), 0, func(n int64) {
		reports = append(reports, n)
	})

	if _, err := io.Copy(io.Discard, pr); err != nil {
		t.Fatalf("copy: %v", err)
	}
	// The EOF-only read after the payload must not repeat the last count.
	for i := 1; i < len(reports); i++ {
		if reports[i] == reports[i-1] {
			t.Errorf("duplicate report %d at index %d: %v", reports[i], i, reports)
		}
	}
}

func TestProgressReaderNilCallback(t *testing.T) {
	pr := newProgressReader(strings.NewReader("data"), 0, nil)
	if _, err := io.Copy(io.Discard, pr); err != nil {
		t.Fatalf("copy with nil callback: %v", err)
	}
}
