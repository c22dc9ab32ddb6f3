package queue

import (
	"bufio"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Response is a response handed to Send. Chunks are written as they are, the
// queue never modifies nor retains them after Send returns.
type Response struct {
	StatusCode uint16
	Reason     string
	Headers    []Header
	Chunks     [][]byte
	// Disconnect closes the connection once the response is sent.
	Disconnect bool
}

// ContentLength returns the total size of the response chunks.
func (r *Response) ContentLength() int {
	var n int
	for _, c := range r.Chunks {
		n += len(c)
	}
	return n
}

// countingWriter counts the bytes that reach the connection.
type countingWriter struct {
	c *conn
	n int
}

func (w *countingWriter) Write(p []byte) (int, error) {
	n, err := w.c.nc.Write(p)
	w.n += n
	return n, err
}

// writeResponse serializes resp on the connection in a single flush. The
// Content-Length header is derived from the chunks since the whole entity is
// known up front. Date is added and Connection is forced to close when the
// connection is about to be closed.
func (c *conn) writeResponse(resp *Response, head, closeAfter bool) (int, error) {
	cw := &countingWriter{c: c}
	bw := bufio.NewWriter(cw)

	fmt.Fprintf(bw, "HTTP/1.1 %03d %s\r\n", resp.StatusCode, resp.Reason)
	for _, h := range resp.Headers {
		switch {
		case strings.EqualFold(h.Name, "Content-Length"), strings.EqualFold(h.Name, "Date"):
			continue
		case strings.EqualFold(h.Name, "Connection") && closeAfter:
			continue
		}
		fmt.Fprintf(bw, "%s: %s\r\n", h.Name, h.Value)
	}
	if closeAfter {
		bw.WriteString("Connection: close\r\n")
	}
	fmt.Fprintf(bw, "Date: %s\r\n", time.Now().UTC().Format(http.TimeFormat))
	bw.WriteString("Content-Length: " + strconv.Itoa(resp.ContentLength()) + "\r\n\r\n")
	if !head {
		for _, chunk := range resp.Chunks {
			bw.Write(chunk)
		}
	}
	err := bw.Flush()
	return cw.n, err
}

// writeStatus answers a request the queue handles itself.
func (c *conn) writeStatus(code int, reason string) error {
	resp := &Response{
		StatusCode: uint16(code),
		Reason:     reason,
		Headers: []Header{
			{Name: "Server", Value: "HTTPServer"},
			{Name: "Content-Type", Value: "text/plain"},
		},
		Chunks: [][]byte{[]byte(reason)},
	}
	_, err := c.writeResponse(resp, false, false)
	return err
}
