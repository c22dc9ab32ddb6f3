// Package server implements the receive loop answering requests pulled from
// a request queue with the content of a single file.
package server

import (
	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/pkg/errors"

	"github.com/simonpasquier/filehttp/pkg/queue"
)

// InitialSlack is added to queue.HeaderSize for the first request buffer.
// Most requests fit in it.
const InitialSlack = 2048

// Queue is the request queue consumed by the loop.
type Queue interface {
	Sender
	Receive(id queue.RequestID, buf []byte) (int, error)
}

// Options configures a Server.
type Options struct {
	Connection ConnectionPolicy
	// Pool provides the request buffers. Defaults to an unbounded heap pool.
	Pool    BufferPool
	Metrics *Metrics
}

// Server answers GET requests with the file content and any other verb with
// 503.
type Server struct {
	q      Queue
	file   []byte
	logger log.Logger
	opts   Options
}

// New returns a server reading requests from q. file is never modified.
func New(q Queue, file []byte, logger log.Logger, opts Options) *Server {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	if opts.Connection == "" {
		opts.Connection = KeepAlive
	}
	if opts.Pool == nil {
		opts.Pool = NewBufferPool(0)
	}
	return &Server{q: q, file: file, logger: logger, opts: opts}
}

// outcome is the result of one receive attempt.
type outcome interface {
	isOutcome()
}

// needNewRequest resets the request id and waits for the next request.
type needNewRequest struct{}

// needIdentity retries the request id with a buffer of exactly size bytes.
type needIdentity struct {
	id   queue.RequestID
	size int
}

// parsed carries a complete request ready to be answered.
type parsed struct {
	req *queue.Request
}

func (needNewRequest) isOutcome() {}
func (needIdentity) isOutcome()   {}
func (parsed) isOutcome()         {}

// Run pulls requests from the queue until an unrecoverable error happens and
// returns that error. queue.CodeOf gives its result code. Run never returns
// nil.
func (s *Server) Run() error {
	size := queue.HeaderSize + InitialSlack
	buf := s.opts.Pool.Get(size)
	if buf == nil {
		return queue.NewError(queue.CodeNotEnoughMemory, "allocate", errors.Errorf("request buffer of %d bytes", size))
	}
	defer func() {
		if buf != nil {
			s.opts.Pool.Put(buf)
		}
	}()
	s.opts.Metrics.observeBuffer(len(buf), false)

	id := queue.NullID
	for {
		for i := range buf {
			buf[i] = 0
		}

		out, err := s.receive(id, buf)
		if err != nil {
			if queue.CodeOf(err) == queue.CodeOperationAborted {
				level.Info(s.logger).Log("msg", "receive loop aborted")
			} else {
				level.Error(s.logger).Log("msg", "receive loop stopped", "err", err)
			}
			return err
		}

		switch o := out.(type) {
		case needNewRequest:
			id = queue.NullID

		case needIdentity:
			level.Debug(s.logger).Log("msg", "request buffer too small", "request_id", o.id, "have", len(buf), "need", o.size)
			id = o.id
			s.opts.Pool.Put(buf)
			buf = s.opts.Pool.Get(o.size)
			if buf == nil {
				err := queue.NewError(queue.CodeNotEnoughMemory, "allocate", errors.Errorf("request buffer of %d bytes", o.size))
				level.Error(s.logger).Log("msg", "receive loop stopped", "err", err)
				return err
			}
			s.opts.Metrics.observeBuffer(len(buf), true)

		case parsed:
			if err := s.dispatch(o.req); err != nil {
				level.Error(s.logger).Log("msg", "receive loop stopped", "err", err)
				return err
			}
			id = queue.NullID
		}
	}
}

// receive performs one read from the queue and classifies the result.
func (s *Server) receive(id queue.RequestID, buf []byte) (outcome, error) {
	n, err := s.q.Receive(id, buf)
	switch queue.CodeOf(err) {
	case queue.CodeSuccess:
		req, err := queue.DecodeRequest(buf[:n])
		if err != nil {
			return nil, errors.Wrap(err, "decoding request")
		}
		return parsed{req: req}, nil

	case queue.CodeMoreData:
		rid, _, err := queue.DecodeHeader(buf)
		if err != nil {
			return nil, errors.Wrap(err, "decoding partial request")
		}
		return needIdentity{id: rid, size: n}, nil

	case queue.CodeConnectionInvalid:
		if id.IsNull() {
			return nil, err
		}
		// The client went away while its request was retried with a
		// larger buffer.
		level.Debug(s.logger).Log("msg", "connection closed during retry", "request_id", id)
		s.opts.Metrics.observeInvalidated()
		return needNewRequest{}, nil
	}
	return nil, err
}

func (s *Server) dispatch(req *queue.Request) error {
	var (
		status uint16
		reason string
		body   []byte
	)
	switch req.Verb {
	case queue.VerbGET:
		level.Info(s.logger).Log("msg", "got a GET request", "url", req.CookedURL.FullURL, "user_agent", req.Header("User-Agent"), "request_id", req.ID)
		status, reason, body = 200, "OK", s.file
	default:
		verb := req.Verb.String()
		if req.Verb == queue.VerbUnknown {
			verb = req.UnknownVerb
		}
		level.Info(s.logger).Log("msg", "got an unsupported request", "verb", verb, "url", req.CookedURL.FullURL, "request_id", req.ID)
		status, reason = 503, "Not Implemented"
	}

	n, err := SendResponse(s.q, req, status, reason, body, s.opts.Connection)
	if err != nil {
		return errors.Wrapf(err, "sending response to %s", req.ID)
	}
	s.opts.Metrics.observeResponse(req.Verb.String(), status, n)
	return nil
}
