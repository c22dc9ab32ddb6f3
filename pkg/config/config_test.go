package config

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoad(t *testing.T) {
	for _, tc := range []struct {
		name string
		in   string
		want Config
		err  string
	}{
		{
			name: "empty",
			in:   "",
			want: *Default(),
		},
		{
			name: "full",
			in: `
connection: close
max_request_size: 65536
metrics_address: ":9100"
tftp_address: ":69"
log_level: debug
`,
			want: Config{Connection: "close", MaxRequestSize: 65536, MetricsAddress: ":9100", TFTPAddress: ":69", LogLevel: "debug"},
		},
		{
			name: "unlimited",
			in:   "max_request_size: 0",
			want: Config{Connection: "keep-alive", LogLevel: "info"},
		},
		{name: "unknown key", in: "listen: foo", err: "field listen not found"},
		{name: "bad policy", in: "connection: upgrade", err: "invalid connection policy"},
		{name: "negative size", in: "max_request_size: -1", err: "must not be negative"},
		{name: "small size", in: "max_request_size: 100", err: "must be at least"},
		{name: "bad level", in: "log_level: trace", err: "invalid log_level"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := Load(tc.in)
			if tc.err != "" {
				if err == nil || !strings.Contains(err.Error(), tc.err) {
					t.Fatalf("got error %v, want %q", err, tc.err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if *cfg != tc.want {
				t.Fatalf("got %+v, want %+v", *cfg, tc.want)
			}
		})
	}
}

func TestLoadFile(t *testing.T) {
	dir, err := ioutil.TempDir("", "config")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	fn := filepath.Join(dir, "filehttp.yml")
	if err := ioutil.WriteFile(fn, []byte("connection: close\n"), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadFile(fn)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Connection != "close" {
		t.Fatalf("connection=%q want=close", cfg.Connection)
	}

	if _, err := LoadFile(filepath.Join(dir, "missing.yml")); err == nil {
		t.Fatal("expected an error for a missing file")
	}
}
