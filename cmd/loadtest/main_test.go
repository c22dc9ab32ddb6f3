package main

import (
	"net/http"
	"strings"
	"testing"
)

func TestCheck(t *testing.T) {
	html := http.Header{"Content-Type": []string{"text/html"}}
	for _, tc := range []struct {
		name   string
		method string
		status int
		header http.Header
		body   string
		size   int
		ok     bool
	}{
		{name: "get", method: "GET", status: 200, header: html, body: "hello world", size: 11, ok: true},
		{name: "get any size", method: "GET", status: 200, header: html, body: "hello", size: -1, ok: true},
		{name: "get short body", method: "GET", status: 200, header: html, body: "hello", size: 11},
		{name: "post", method: "POST", status: 503, header: html, size: 11, ok: true},
		{name: "post with body", method: "POST", status: 503, header: html, body: "x", size: 11},
		{name: "get wrong status", method: "GET", status: 503, header: html, size: -1},
		{name: "wrong content type", method: "GET", status: 200, header: http.Header{}, body: "a", size: 1},
	} {
		t.Run(tc.name, func(t *testing.T) {
			resp := &http.Response{StatusCode: tc.status, Header: tc.header}
			err := check(resp, strings.NewReader(tc.body), expect(tc.method, tc.size))
			if tc.ok && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tc.ok && err == nil {
				t.Fatal("expected an error")
			}
		})
	}
}

func TestMethodSlice(t *testing.T) {
	var m methodSlice
	m.Set("get")
	m.Set("Post")
	if got := m.String(); got != "GET,POST" {
		t.Fatalf("got %q", got)
	}
}
