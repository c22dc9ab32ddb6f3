package queue

import (
	"bufio"
	"io/ioutil"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"
)

func newTestQueue(t *testing.T) (*Queue, string) {
	t.Helper()
	q := New(nil)
	if err := q.AddURL("http://127.0.0.1:0/test/"); err != nil {
		t.Fatalf("AddURL: %v", err)
	}
	t.Cleanup(func() { q.Close() })
	addrs := q.Addrs()
	if len(addrs) != 1 {
		t.Fatalf("got %d listeners, want 1", len(addrs))
	}
	return q, addrs[0].String()
}

func dial(t *testing.T, addr, raw string) net.Conn {
	t.Helper()
	c, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	if _, err := c.Write([]byte(raw)); err != nil {
		t.Fatalf("write: %v", err)
	}
	return c
}

type received struct {
	n   int
	err error
}

func receiveAsync(q *Queue, id RequestID, buf []byte) <-chan received {
	ch := make(chan received, 1)
	go func() {
		n, err := q.Receive(id, buf)
		ch <- received{n, err}
	}()
	return ch
}

func wait(t *testing.T, ch <-chan received) received {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for Receive")
	}
	return received{}
}

func TestReceiveAndSend(t *testing.T) {
	q, addr := newTestQueue(t)
	c := dial(t, addr, "GET /test/index.html?x=1 HTTP/1.1\r\nHost: example.org\r\nUser-Agent: test\r\n\r\n")

	buf := make([]byte, HeaderSize+2048)
	r := wait(t, receiveAsync(q, NullID, buf))
	if r.err != nil {
		t.Fatalf("Receive: %v", r.err)
	}
	req, err := DecodeRequest(buf[:r.n])
	if err != nil {
		t.Fatalf("DecodeRequest: %v", err)
	}
	if req.ID.IsNull() {
		t.Fatalf("expected a request id")
	}
	if req.Verb != VerbGET {
		t.Fatalf("verb=%s want=GET", req.Verb)
	}
	if got, want := req.CookedURL.FullURL, "http://example.org/test/index.html?x=1"; got != want {
		t.Fatalf("full url=%q want=%q", got, want)
	}
	if got, want := req.Header("user-agent"), "test"; got != want {
		t.Fatalf("user-agent=%q want=%q", got, want)
	}

	n, err := q.Send(req.ID, &Response{
		StatusCode: 200,
		Reason:     "OK",
		Headers: []Header{
			{Name: "Connection", Value: "keep-alive"},
			{Name: "Content-Type", Value: "text/html"},
		},
		Chunks: [][]byte{[]byte("hello")},
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if n == 0 {
		t.Fatalf("Send reported 0 bytes")
	}

	resp, err := http.ReadResponse(bufio.NewReader(c), nil)
	if err != nil {
		t.Fatalf("ReadResponse: %v", err)
	}
	defer resp.Body.Close()
	body, _ := ioutil.ReadAll(resp.Body)
	if resp.StatusCode != 200 || string(body) != "hello" {
		t.Fatalf("status=%d body=%q", resp.StatusCode, body)
	}
	if got := resp.Header.Get("Content-Length"); got != "5" {
		t.Fatalf("content-length=%q want=5", got)
	}
	if got := resp.Header.Get("Connection"); got != "keep-alive" {
		t.Fatalf("connection=%q want=keep-alive", got)
	}

	// The connection stays open for the next request.
	if _, err := c.Write([]byte("DELETE /test/ HTTP/1.1\r\nHost: example.org\r\n\r\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	r = wait(t, receiveAsync(q, NullID, buf))
	if r.err != nil {
		t.Fatalf("Receive: %v", r.err)
	}
	req2, err := DecodeRequest(buf[:r.n])
	if err != nil {
		t.Fatalf("DecodeRequest: %v", err)
	}
	if req2.Verb != VerbDELETE || req2.ID == req.ID {
		t.Fatalf("verb=%s id=%s previous=%s", req2.Verb, req2.ID, req.ID)
	}
}

func TestReceiveMoreData(t *testing.T) {
	q, addr := newTestQueue(t)
	big := strings.Repeat("a", 4096)
	dial(t, addr, "GET /test/ HTTP/1.1\r\nHost: example.org\r\nX-Big: "+big+"\r\n\r\n")

	buf := make([]byte, HeaderSize+2048)
	r := wait(t, receiveAsync(q, NullID, buf))
	if CodeOf(r.err) != CodeMoreData {
		t.Fatalf("got %v, want more data", r.err)
	}
	if r.n <= len(buf) {
		t.Fatalf("required size %d should exceed %d", r.n, len(buf))
	}
	id, size, err := DecodeHeader(buf)
	if err != nil {
		t.Fatalf("DecodeHeader: %v", err)
	}
	if id.IsNull() || int(size) != r.n {
		t.Fatalf("id=%s size=%d n=%d", id, size, r.n)
	}

	// Still too small: the request stays held.
	r = wait(t, receiveAsync(q, id, make([]byte, r.n-1)))
	if CodeOf(r.err) != CodeMoreData {
		t.Fatalf("got %v, want more data", r.err)
	}

	buf = make([]byte, r.n)
	r = wait(t, receiveAsync(q, id, buf))
	if r.err != nil {
		t.Fatalf("Receive: %v", r.err)
	}
	req, err := DecodeRequest(buf[:r.n])
	if err != nil {
		t.Fatalf("DecodeRequest: %v", err)
	}
	if req.ID != id {
		t.Fatalf("id=%s want=%s", req.ID, id)
	}
	if got := req.Header("X-Big"); got != big {
		t.Fatalf("header truncated to %d bytes", len(got))
	}
}

func TestReceiveConnectionInvalid(t *testing.T) {
	q, addr := newTestQueue(t)
	c := dial(t, addr, "GET /test/ HTTP/1.1\r\nHost: example.org\r\nX-Big: "+strings.Repeat("b", 4096)+"\r\n\r\n")

	buf := make([]byte, HeaderSize+2048)
	r := wait(t, receiveAsync(q, NullID, buf))
	if CodeOf(r.err) != CodeMoreData {
		t.Fatalf("got %v, want more data", r.err)
	}
	id, _, _ := DecodeHeader(buf)
	c.Close()

	// Wait for the queue to notice the peer went away.
	deadline := time.Now().Add(5 * time.Second)
	for {
		q.mtx.Lock()
		rec := q.held[id]
		q.mtx.Unlock()
		if rec == nil {
			t.Fatalf("request %s not held", id)
		}
		if !rec.conn.valid() {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("connection never invalidated")
		}
		time.Sleep(10 * time.Millisecond)
	}

	r = wait(t, receiveAsync(q, id, make([]byte, r.n)))
	if CodeOf(r.err) != CodeConnectionInvalid {
		t.Fatalf("got %v, want connection invalid", r.err)
	}

	// The connection is released once its request is gone.
	deadline = time.Now().Add(5 * time.Second)
	for {
		q.mtx.Lock()
		n := len(q.conns)
		q.mtx.Unlock()
		if n == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("%d connection(s) still tracked", n)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestReceiveUnknownID(t *testing.T) {
	q, _ := newTestQueue(t)
	_, err := q.Receive(RequestID{1}, make([]byte, HeaderSize))
	if CodeOf(err) != CodeConnectionInvalid {
		t.Fatalf("got %v, want connection invalid", err)
	}
	_, err = q.Receive(NullID, make([]byte, HeaderSize-1))
	if CodeOf(err) != CodeInsufficientBuffer {
		t.Fatalf("got %v, want insufficient buffer", err)
	}
}

func TestUnregisteredPath(t *testing.T) {
	_, addr := newTestQueue(t)
	c := dial(t, addr, "GET /other/ HTTP/1.1\r\nHost: example.org\r\n\r\n")
	resp, err := http.ReadResponse(bufio.NewReader(c), nil)
	if err != nil {
		t.Fatalf("ReadResponse: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status=%d want=404", resp.StatusCode)
	}
}

func TestCloseAbortsReceive(t *testing.T) {
	q, _ := newTestQueue(t)
	ch := receiveAsync(q, NullID, make([]byte, HeaderSize+2048))
	q.Close()
	r := wait(t, ch)
	if CodeOf(r.err) != CodeOperationAborted {
		t.Fatalf("got %v, want operation aborted", r.err)
	}
	if err := q.AddURL("http://127.0.0.1:0/other/"); CodeOf(err) != CodeOperationAborted {
		t.Fatalf("AddURL after Close: got %v", err)
	}
}

func TestSendDisconnect(t *testing.T) {
	q, addr := newTestQueue(t)
	c := dial(t, addr, "POST /test/ HTTP/1.1\r\nHost: example.org\r\nContent-Length: 3\r\n\r\nabc")

	buf := make([]byte, HeaderSize+2048)
	r := wait(t, receiveAsync(q, NullID, buf))
	if r.err != nil {
		t.Fatalf("Receive: %v", r.err)
	}
	req, err := DecodeRequest(buf[:r.n])
	if err != nil {
		t.Fatalf("DecodeRequest: %v", err)
	}
	if req.Verb != VerbPOST {
		t.Fatalf("verb=%s want=POST", req.Verb)
	}
	if _, err := q.Send(req.ID, &Response{
		StatusCode: 503,
		Reason:     "Not Implemented",
		Headers:    []Header{{Name: "Connection", Value: "keep-alive"}},
		Disconnect: true,
	}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	br := bufio.NewReader(c)
	resp, err := http.ReadResponse(br, nil)
	if err != nil {
		t.Fatalf("ReadResponse: %v", err)
	}
	body, _ := ioutil.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != 503 || len(body) != 0 {
		t.Fatalf("status=%d body=%q", resp.StatusCode, body)
	}
	// ReadResponse turns "Connection: close" into resp.Close.
	if !resp.Close {
		t.Fatalf("response doesn't close the connection: %v", resp.Header)
	}
	c.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, err := br.ReadByte(); err == nil {
		t.Fatalf("expected the connection to be closed")
	}

	if _, err := q.Send(req.ID, &Response{StatusCode: 200, Reason: "OK"}); CodeOf(err) != CodeConnectionInvalid {
		t.Fatalf("second Send: got %v, want connection invalid", err)
	}
}

func TestAddRemoveURL(t *testing.T) {
	q, _ := newTestQueue(t)
	if err := q.AddURL("http://127.0.0.1:0/test/"); CodeOf(err) != CodeAlreadyExists {
		t.Fatalf("duplicate AddURL: got %v", err)
	}
	if err := q.AddURL("http://127.0.0.1:0/test"); CodeOf(err) != CodeInvalidParameter {
		t.Fatalf("AddURL without trailing slash: got %v", err)
	}
	if err := q.AddURL("http://127.0.0.1:0/more/"); err != nil {
		t.Fatalf("AddURL on the same port: %v", err)
	}
	if got := len(q.Addrs()); got != 1 {
		t.Fatalf("listeners=%d want=1", got)
	}
	if err := q.RemoveURL("http://127.0.0.1:0/test/"); err != nil {
		t.Fatalf("RemoveURL: %v", err)
	}
	if err := q.RemoveURL("http://127.0.0.1:0/test/"); CodeOf(err) != CodeNotFound {
		t.Fatalf("second RemoveURL: got %v", err)
	}
	if err := q.RemoveURL("http://127.0.0.1:0/more/"); err != nil {
		t.Fatalf("RemoveURL: %v", err)
	}
	if got := len(q.Addrs()); got != 0 {
		t.Fatalf("listeners=%d want=0", got)
	}
}
