// Package queue implements an HTTP request queue. Listeners registered with
// AddURL accept HTTP/1.x connections and append every request matching a
// registered prefix to the queue; the consumer pulls encoded request records
// with Receive and answers them with Send.
package queue

import (
	"crypto/rand"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/oklog/ulid"
	"github.com/pkg/errors"
)

// Queue is a process-wide request queue bound to one or more URL prefixes.
type Queue struct {
	logger log.Logger

	mtx       sync.Mutex
	listeners map[string]*listener
	conns     map[*conn]struct{}
	// held keeps records handed out partially, waiting for a retry with
	// their id. active keeps records handed out fully, waiting for Send.
	held    map[RequestID]*record
	active  map[RequestID]*record
	entropy io.Reader

	pending   chan *record
	quit      chan struct{}
	closeOnce sync.Once
}

type listener struct {
	ln       net.Listener
	prefixes []urlPrefix
}

// record is a request waiting in the queue.
type record struct {
	id   RequestID
	conn *conn
	data []byte
	head bool
	// close is set when the client asked for the connection to be closed.
	close bool
	done  chan bool
}

// New returns an empty queue. Nothing is accepted until AddURL is called.
func New(logger log.Logger) *Queue {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Queue{
		logger:    logger,
		listeners: make(map[string]*listener),
		conns:     make(map[*conn]struct{}),
		held:      make(map[RequestID]*record),
		active:    make(map[RequestID]*record),
		entropy:   ulid.Monotonic(rand.Reader, 0),
		pending:   make(chan *record),
		quit:      make(chan struct{}),
	}
}

// AddURL registers a fully-qualified URL prefix like "http://+:8080/test/".
func (q *Queue) AddURL(rawURL string) error {
	p, err := parseURLPrefix(rawURL)
	if err != nil {
		return NewError(CodeInvalidParameter, "add url", err)
	}

	q.mtx.Lock()
	defer q.mtx.Unlock()
	if q.closed() {
		return NewError(CodeOperationAborted, "add url", nil)
	}
	for _, l := range q.listeners {
		for _, existing := range l.prefixes {
			if existing.host == p.host && existing.port == p.port && existing.path == p.path {
				return NewError(CodeAlreadyExists, "add url", errors.Errorf("%q already registered", rawURL))
			}
		}
	}

	addr := p.bindAddr()
	if l, ok := q.listeners[addr]; ok {
		l.prefixes = append(l.prefixes, p)
		return nil
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return NewError(CodeIO, "add url", err)
	}
	l := &listener{ln: ln, prefixes: []urlPrefix{p}}
	q.listeners[addr] = l
	level.Debug(q.logger).Log("msg", "listening", "url", rawURL, "addr", ln.Addr())
	go q.accept(l)
	return nil
}

// RemoveURL deregisters a prefix previously added with AddURL. The listener
// is closed once no prefix is left on it.
func (q *Queue) RemoveURL(rawURL string) error {
	p, err := parseURLPrefix(rawURL)
	if err != nil {
		return NewError(CodeInvalidParameter, "remove url", err)
	}

	q.mtx.Lock()
	defer q.mtx.Unlock()
	for addr, l := range q.listeners {
		for i, existing := range l.prefixes {
			if existing.host != p.host || existing.port != p.port || existing.path != p.path {
				continue
			}
			l.prefixes = append(l.prefixes[:i], l.prefixes[i+1:]...)
			if len(l.prefixes) == 0 {
				delete(q.listeners, addr)
				l.ln.Close()
			}
			return nil
		}
	}
	return NewError(CodeNotFound, "remove url", errors.Errorf("%q not registered", rawURL))
}

// Addrs returns the addresses of the active listeners.
func (q *Queue) Addrs() []net.Addr {
	q.mtx.Lock()
	defer q.mtx.Unlock()
	addrs := make([]net.Addr, 0, len(q.listeners))
	for _, l := range q.listeners {
		addrs = append(addrs, l.ln.Addr())
	}
	return addrs
}

// Close shuts the queue down. Pending and future calls to Receive fail with
// CodeOperationAborted. It is safe to call Close more than once.
func (q *Queue) Close() error {
	q.closeOnce.Do(func() {
		close(q.quit)
		q.mtx.Lock()
		defer q.mtx.Unlock()
		for addr, l := range q.listeners {
			l.ln.Close()
			delete(q.listeners, addr)
		}
		for c := range q.conns {
			c.nc.Close()
		}
	})
	return nil
}

func (q *Queue) closed() bool {
	select {
	case <-q.quit:
		return true
	default:
		return false
	}
}

// Receive copies the next request record into buf and returns its size.
//
// With the null id, Receive blocks until a request is available. With a
// non-null id, it continues the request that a previous call reported with
// CodeMoreData. When the record doesn't fit, as much of it as possible is
// copied, the record is held aside under its id and Receive returns the
// required size along with CodeMoreData.
func (q *Queue) Receive(id RequestID, buf []byte) (int, error) {
	if len(buf) < HeaderSize {
		return 0, NewError(CodeInsufficientBuffer, "receive", errors.Errorf("buffer of %d bytes, need at least %d", len(buf), HeaderSize))
	}

	var rec *record
	if id.IsNull() {
		var err error
		if rec, err = q.next(); err != nil {
			return 0, err
		}
	} else {
		q.mtx.Lock()
		rec = q.held[id]
		delete(q.held, id)
		q.mtx.Unlock()
		if rec == nil {
			return 0, NewError(CodeConnectionInvalid, "receive", errors.Errorf("unknown request %s", id))
		}
		if !rec.conn.valid() {
			rec.done <- true
			return 0, NewError(CodeConnectionInvalid, "receive", errors.Errorf("connection of request %s was closed", id))
		}
	}

	n := copy(buf, rec.data)
	q.mtx.Lock()
	defer q.mtx.Unlock()
	if n < len(rec.data) {
		q.held[rec.id] = rec
		return len(rec.data), NewError(CodeMoreData, "receive", nil)
	}
	q.active[rec.id] = rec
	return n, nil
}

// next blocks until a record from a live connection is available.
func (q *Queue) next() (*record, error) {
	for {
		select {
		case rec := <-q.pending:
			if !rec.conn.valid() {
				level.Debug(q.logger).Log("msg", "dropping request from closed connection", "request_id", rec.id)
				rec.done <- true
				continue
			}
			return rec, nil
		case <-q.quit:
			return nil, NewError(CodeOperationAborted, "receive", nil)
		}
	}
}

// Send writes the response to the request identified by id and returns the
// number of bytes written.
func (q *Queue) Send(id RequestID, resp *Response) (int, error) {
	q.mtx.Lock()
	rec := q.active[id]
	delete(q.active, id)
	q.mtx.Unlock()
	if rec == nil {
		return 0, NewError(CodeConnectionInvalid, "send", errors.Errorf("unknown request %s", id))
	}

	closeAfter := resp.Disconnect || rec.close
	n, err := rec.conn.writeResponse(resp, rec.head, closeAfter)
	if err != nil {
		rec.conn.invalidate()
		rec.done <- true
		return n, NewError(CodeConnectionInvalid, "send", err)
	}
	rec.done <- closeAfter
	return n, nil
}

func (q *Queue) newID() RequestID {
	q.mtx.Lock()
	defer q.mtx.Unlock()
	return RequestID(ulid.MustNew(ulid.Timestamp(time.Now()), q.entropy))
}

func (q *Queue) accept(l *listener) {
	for {
		nc, err := l.ln.Accept()
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Temporary() {
				level.Warn(q.logger).Log("msg", "accept error", "err", err)
				time.Sleep(10 * time.Millisecond)
				continue
			}
			level.Debug(q.logger).Log("msg", "listener stopped", "addr", l.ln.Addr(), "err", err)
			return
		}

		c := newConn(nc)
		q.mtx.Lock()
		if q.closed() {
			q.mtx.Unlock()
			nc.Close()
			return
		}
		q.conns[c] = struct{}{}
		q.mtx.Unlock()

		go func() {
			q.serve(l, c)
			q.mtx.Lock()
			delete(q.conns, c)
			q.mtx.Unlock()
		}()
	}
}

// match returns the registered prefix serving path.
func (q *Queue) match(l *listener, path string) (urlPrefix, bool) {
	q.mtx.Lock()
	defer q.mtx.Unlock()
	var (
		best  urlPrefix
		found bool
	)
	for _, p := range l.prefixes {
		if p.matches(path) && (!found || len(p.path) > len(best.path)) {
			best, found = p, true
		}
	}
	return best, found
}

func (q *Queue) enqueue(rec *record) bool {
	select {
	case q.pending <- rec:
		return true
	case <-q.quit:
		return false
	}
}

func portOf(addr net.Addr) string {
	if tcp, ok := addr.(*net.TCPAddr); ok {
		return strconv.Itoa(tcp.Port)
	}
	_, port, _ := net.SplitHostPort(addr.String())
	return port
}
