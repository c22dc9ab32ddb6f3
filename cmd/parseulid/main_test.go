package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/oklog/ulid"
)

func TestScan(t *testing.T) {
	ts := time.Date(2020, 2, 13, 10, 0, 0, 0, time.UTC)
	id := ulid.MustNew(ulid.Timestamp(ts), bytes.NewReader(make([]byte, 16))).String()

	logs := strings.Join([]string{
		`level=info ts=2020-02-13T10:00:00Z msg="got a GET request" url=http://localhost:8080/test/ request_id=` + id,
		`level=debug msg="request buffer too small" request_id=` + id + ` have=2068 need=6000`,
		`level=info msg="no id here"`,
	}, "\n")

	var out bytes.Buffer
	if err := scan(strings.NewReader(logs), &out); err != nil {
		t.Fatalf("scan: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1: %q", len(lines), out.String())
	}
	if !strings.Contains(lines[0], id) || !strings.Contains(lines[0], "2020-02-13 10:00:00 +0000 UTC") {
		t.Fatalf("unexpected output %q", lines[0])
	}
}

func TestDescribeInvalid(t *testing.T) {
	if err := describe(&bytes.Buffer{}, "not-an-id"); err == nil {
		t.Fatal("expected an error")
	}
}
