// Package fileload reads the served file into memory.
package fileload

import (
	"io/ioutil"
	"os"

	"github.com/pkg/errors"
)

// Load reads the whole file at path. The returned slice is never nil, an
// empty file yields an empty slice.
func Load(path string) ([]byte, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, errors.Wrap(err, "reading file")
	}
	if fi.IsDir() {
		return nil, errors.Errorf("%s is a directory", path)
	}
	b, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "reading file")
	}
	if b == nil {
		b = []byte{}
	}
	return b, nil
}
