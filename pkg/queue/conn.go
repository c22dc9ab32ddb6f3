package queue

import (
	"bufio"
	"io"
	"io/ioutil"
	"net"
	"net/http"
	"strings"
	"sync"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
)

type conn struct {
	nc net.Conn
	br *bufio.Reader

	mtx     sync.Mutex
	invalid bool
}

func newConn(nc net.Conn) *conn {
	return &conn{nc: nc, br: bufio.NewReader(nc)}
}

func (c *conn) valid() bool {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return !c.invalid
}

func (c *conn) invalidate() {
	c.mtx.Lock()
	c.invalid = true
	c.mtx.Unlock()
}

// serve reads requests from c one at a time. A request is only read once the
// previous one has been answered.
func (q *Queue) serve(l *listener, c *conn) {
	logger := log.With(q.logger, "remote", c.nc.RemoteAddr())
	defer func() {
		c.invalidate()
		c.nc.Close()
	}()

	for {
		hr, err := http.ReadRequest(c.br)
		if err != nil {
			if err != io.EOF {
				level.Debug(logger).Log("msg", "failed to read request", "err", err)
				if _, ok := err.(net.Error); !ok {
					c.writeStatus(http.StatusBadRequest, "Bad Request")
				}
			}
			return
		}
		if _, err := io.Copy(ioutil.Discard, hr.Body); err != nil {
			level.Debug(logger).Log("msg", "failed to read request body", "err", err)
			return
		}
		hr.Body.Close()

		p, ok := q.match(l, hr.URL.Path)
		if !ok {
			level.Debug(logger).Log("msg", "no registered url", "path", hr.URL.Path)
			if err := c.writeStatus(http.StatusNotFound, "Not Found"); err != nil || hr.Close {
				return
			}
			continue
		}

		rec, err := q.newRecord(c, hr, p)
		if err != nil {
			level.Warn(logger).Log("msg", "failed to queue request", "err", err)
			c.writeStatus(http.StatusInternalServerError, "Internal Server Error")
			return
		}
		if !q.enqueue(rec) {
			return
		}

		// Watch for the peer going away while the request is in flight. Any
		// byte that arrives instead stays buffered for the next ReadRequest.
		peeked := make(chan struct{})
		go func() {
			defer close(peeked)
			if _, err := c.br.Peek(1); err != nil {
				c.invalidate()
			}
		}()

		var closeAfter bool
		select {
		case closeAfter = <-rec.done:
		case <-q.quit:
			return
		}
		if closeAfter {
			return
		}
		<-peeked
		if !c.valid() {
			return
		}
	}
}

func (q *Queue) newRecord(c *conn, hr *http.Request, p urlPrefix) (*record, error) {
	host := hr.Host
	if host == "" {
		host = p.host
		if host == "+" || host == "*" {
			host = "localhost"
		}
		host = net.JoinHostPort(host, portOf(c.nc.LocalAddr()))
	}
	var query string
	if hr.URL.RawQuery != "" {
		query = "?" + hr.URL.RawQuery
	}

	req := &Request{
		ID:     q.newID(),
		Verb:   parseVerb(hr.Method),
		Proto:  hr.Proto,
		RawURL: hr.RequestURI,
		CookedURL: CookedURL{
			FullURL: "http://" + host + hr.URL.Path + query,
			Host:    host,
			AbsPath: hr.URL.Path,
			Query:   query,
		},
		RemoteAddr: c.nc.RemoteAddr().String(),
	}
	if req.Verb == VerbUnknown {
		req.UnknownVerb = hr.Method
	}
	if hr.Host != "" {
		req.Headers = append(req.Headers, Header{Name: "Host", Value: hr.Host})
	}
	for name, values := range hr.Header {
		for _, v := range values {
			req.Headers = append(req.Headers, Header{Name: name, Value: v})
		}
	}

	data, err := EncodeRequest(req)
	if err != nil {
		return nil, err
	}
	return &record{
		id:    req.ID,
		conn:  c,
		data:  data,
		head:  strings.EqualFold(hr.Method, http.MethodHead),
		close: hr.Close,
		done:  make(chan bool, 1),
	}, nil
}
