// Package tftpmirror serves the preloaded file over TFTP for any requested
// name.
package tftpmirror

import (
	"bytes"
	"io"
	"net"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	tftp "github.com/pin/tftp/v3"
	"github.com/pkg/errors"
)

// Mirror is a read-only TFTP server.
type Mirror struct {
	srv    *tftp.Server
	data   []byte
	logger log.Logger
}

// New returns a mirror of data. Write requests are refused.
func New(data []byte, logger log.Logger) *Mirror {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	m := &Mirror{data: data, logger: logger}
	m.srv = tftp.NewServer(m.read, nil)
	m.srv.SetTimeout(5 * time.Second)
	return m
}

func (m *Mirror) read(filename string, rf io.ReaderFrom) error {
	var remote string
	if ot, ok := rf.(tftp.OutgoingTransfer); ok {
		ot.SetSize(int64(len(m.data)))
		raddr := ot.RemoteAddr()
		remote = raddr.String()
	}
	n, err := rf.ReadFrom(bytes.NewReader(m.data))
	if err != nil {
		level.Warn(m.logger).Log("msg", "transfer failed", "filename", filename, "remote", remote, "err", err)
		return err
	}
	level.Info(m.logger).Log("msg", "file sent", "filename", filename, "remote", remote, "bytes", n)
	return nil
}

// ListenAndServe listens on the UDP address and serves until Shutdown.
func (m *Mirror) ListenAndServe(addr string) error {
	pc, err := net.ListenPacket("udp", addr)
	if err != nil {
		return errors.Wrap(err, "listening for tftp")
	}
	return m.Serve(pc)
}

// Serve serves requests arriving on pc until Shutdown.
func (m *Mirror) Serve(pc net.PacketConn) error {
	level.Info(m.logger).Log("msg", "tftp mirror listening", "addr", pc.LocalAddr(), "bytes", len(m.data))
	return m.srv.Serve(pc)
}

// Shutdown stops the server.
func (m *Mirror) Shutdown() {
	m.srv.Shutdown()
}
