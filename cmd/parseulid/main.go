// Prints the time and entropy of filehttp request ids.
//
// Ids are read from the arguments or, without arguments, from the request_id
// field of logfmt lines on stdin:
//
//	filehttp ... 2>&1 | parseulid
package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/go-logfmt/logfmt"
	"github.com/oklog/ulid"
	"github.com/pkg/errors"
)

const idKey = "request_id"

func describe(w io.Writer, s string) error {
	ul, err := ulid.ParseStrict(s)
	if err != nil {
		return errors.Wrapf(err, "parsing %q", s)
	}
	t := int64(ul.Time())
	fmt.Fprintln(w, "id:", s, "time:", time.Unix(t/1e3, (t%1e3)*1e6).UTC(), "entropy:", fmt.Sprintf("%x", ul.Entropy()))
	return nil
}

// scan describes every request id found in the logfmt stream, once per id.
func scan(r io.Reader, w io.Writer) error {
	seen := make(map[string]struct{})
	d := logfmt.NewDecoder(r)
	for d.ScanRecord() {
		for d.ScanKeyval() {
			if string(d.Key()) != idKey {
				continue
			}
			id := string(d.Value())
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			if err := describe(w, id); err != nil {
				fmt.Fprintln(os.Stderr, err)
			}
		}
	}
	return d.Err()
}

func main() {
	if len(os.Args) > 1 {
		var failed bool
		for _, s := range os.Args[1:] {
			if err := describe(os.Stdout, s); err != nil {
				fmt.Fprintln(os.Stderr, err)
				failed = true
			}
		}
		if failed {
			os.Exit(1)
		}
		return
	}
	if err := scan(os.Stdin, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "error reading logs:", err)
		os.Exit(1)
	}
}
