package server

import (
	"github.com/pkg/errors"

	"github.com/simonpasquier/filehttp/pkg/queue"
)

// ConnectionPolicy tells whether connections are kept open after a response.
type ConnectionPolicy string

const (
	// KeepAlive leaves the connection open for the next request.
	KeepAlive ConnectionPolicy = "keep-alive"
	// Close asks the queue to disconnect once the response is written.
	Close ConnectionPolicy = "close"
)

// ParseConnectionPolicy validates s. The empty string selects KeepAlive.
func ParseConnectionPolicy(s string) (ConnectionPolicy, error) {
	switch ConnectionPolicy(s) {
	case "", KeepAlive:
		return KeepAlive, nil
	case Close:
		return Close, nil
	}
	return "", errors.Errorf("invalid connection policy %q (expecting %q or %q)", s, KeepAlive, Close)
}

// fixedHeaders is attached to every response, in this order. The Connection
// value comes from the policy.
var fixedHeaders = []queue.Header{
	{Name: "Server", Value: "HTTPServer"},
	{Name: "Accept-Charset", Value: "UTF-8"},
	{Name: "Accept-Ranges", Value: "bytes"},
	{Name: "Connection"},
	{Name: "Content-Type", Value: "text/html"},
}

func responseHeaders(policy ConnectionPolicy) []queue.Header {
	headers := make([]queue.Header, len(fixedHeaders))
	copy(headers, fixedHeaders)
	for i := range headers {
		if headers[i].Name == "Connection" {
			headers[i].Value = string(policy)
		}
	}
	return headers
}

// Sender is the part of the request queue used to answer requests.
type Sender interface {
	Send(id queue.RequestID, resp *queue.Response) (int, error)
}

// SendResponse answers req with a single call to s.Send. body is attached as
// the only entity chunk when it isn't nil; it is referenced, not copied. The
// queue computes the content length since the whole entity is sent at once.
func SendResponse(s Sender, req *queue.Request, status uint16, reason string, body []byte, policy ConnectionPolicy) (int, error) {
	resp := &queue.Response{
		StatusCode: status,
		Reason:     reason,
		Headers:    responseHeaders(policy),
		Disconnect: policy == Close,
	}
	if body != nil {
		resp.Chunks = [][]byte{body}
	}
	return s.Send(req.ID, resp)
}
