package queue

import (
	"bytes"
	"encoding/binary"
	"strings"

	"github.com/oklog/ulid"
	"github.com/pkg/errors"
	xdr "github.com/rasky/go-xdr/xdr2"
)

// HeaderSize is the size of the fixed part of an encoded request record: the
// request id (16 bytes) followed by the total record size (4 bytes). A buffer
// holding at least HeaderSize bytes of a record is enough to continue it.
const HeaderSize = 20

// RequestID identifies an in-flight request. The zero value is the null id.
type RequestID ulid.ULID

// NullID asks Receive for whatever request comes next.
var NullID RequestID

// IsNull reports whether id is the null id.
func (id RequestID) IsNull() bool {
	return id == NullID
}

func (id RequestID) String() string {
	return ulid.ULID(id).String()
}

// Verb is the HTTP method of a request.
type Verb uint32

// Known verbs. The values are part of the record encoding.
const (
	// VerbUnknown marks a method without a constant of its own.
	VerbUnknown Verb = iota
	VerbOPTIONS
	VerbGET
	VerbHEAD
	VerbPOST
	VerbPUT
	VerbDELETE
	VerbTRACE
	VerbCONNECT
	VerbPATCH
)

var verbNames = [...]string{
	VerbUnknown: "UNKNOWN",
	VerbOPTIONS: "OPTIONS",
	VerbGET:     "GET",
	VerbHEAD:    "HEAD",
	VerbPOST:    "POST",
	VerbPUT:     "PUT",
	VerbDELETE:  "DELETE",
	VerbTRACE:   "TRACE",
	VerbCONNECT: "CONNECT",
	VerbPATCH:   "PATCH",
}

func (v Verb) String() string {
	if int(v) < len(verbNames) {
		return verbNames[v]
	}
	return verbNames[VerbUnknown]
}

func parseVerb(method string) Verb {
	for v, name := range verbNames {
		if Verb(v) != VerbUnknown && name == method {
			return Verb(v)
		}
	}
	return VerbUnknown
}

// Header is a single HTTP header.
type Header struct {
	Name  string
	Value string
}

// CookedURL is the normalized form of the request target.
type CookedURL struct {
	FullURL string
	Host    string
	AbsPath string
	Query   string
}

// Request is a request decoded from a receive buffer.
type Request struct {
	ID RequestID
	// Verb is VerbUnknown for methods without a constant, UnknownVerb then
	// holds the method as sent.
	Verb        Verb
	UnknownVerb string
	Proto       string
	RawURL      string
	CookedURL   CookedURL
	RemoteAddr  string
	Headers     []Header
}

// Header returns the first value of the named header, case-insensitively.
func (r *Request) Header(name string) string {
	for _, h := range r.Headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

type wireHeader struct {
	Name  string
	Value string
}

// wireRecord is the XDR layout of a request record. ID and Size must stay the
// first two fields, see HeaderSize.
type wireRecord struct {
	ID          [16]byte
	Size        uint32
	Verb        uint32
	UnknownVerb string
	Proto       string
	RawURL      string
	FullURL     string
	Host        string
	AbsPath     string
	Query       string
	RemoteAddr  string
	Headers     []wireHeader
}

// EncodeRequest returns the record form of r as stored by the queue.
func EncodeRequest(r *Request) ([]byte, error) {
	w := wireRecord{
		ID:          r.ID,
		Verb:        uint32(r.Verb),
		UnknownVerb: r.UnknownVerb,
		Proto:       r.Proto,
		RawURL:      r.RawURL,
		FullURL:     r.CookedURL.FullURL,
		Host:        r.CookedURL.Host,
		AbsPath:     r.CookedURL.AbsPath,
		Query:       r.CookedURL.Query,
		RemoteAddr:  r.RemoteAddr,
		Headers:     make([]wireHeader, 0, len(r.Headers)),
	}
	for _, h := range r.Headers {
		w.Headers = append(w.Headers, wireHeader{Name: h.Name, Value: h.Value})
	}

	var buf bytes.Buffer
	if _, err := xdr.Marshal(&buf, w); err != nil {
		return nil, errors.Wrap(err, "encoding request record")
	}
	b := buf.Bytes()
	// The size is only known once encoded; XDR stores it as a fixed 4-byte
	// big-endian word right after the id.
	binary.BigEndian.PutUint32(b[16:HeaderSize], uint32(len(b)))
	return b, nil
}

// DecodeHeader reads the request id and the total record size from the
// beginning of buf. buf may hold a truncated record.
func DecodeHeader(buf []byte) (RequestID, uint32, error) {
	if len(buf) < HeaderSize {
		return NullID, 0, NewError(CodeInsufficientBuffer, "decode", nil)
	}
	var id RequestID
	copy(id[:], buf[:16])
	return id, binary.BigEndian.Uint32(buf[16:HeaderSize]), nil
}

// DecodeRequest decodes a complete request record.
func DecodeRequest(buf []byte) (*Request, error) {
	_, size, err := DecodeHeader(buf)
	if err != nil {
		return nil, err
	}
	if int(size) > len(buf) {
		return nil, NewError(CodeMoreData, "decode", errors.Errorf("record needs %d bytes, got %d", size, len(buf)))
	}

	var w wireRecord
	if _, err := xdr.Unmarshal(bytes.NewReader(buf[:size]), &w); err != nil {
		return nil, NewError(CodeInvalidParameter, "decode", err)
	}
	r := &Request{
		ID:          RequestID(w.ID),
		Verb:        Verb(w.Verb),
		UnknownVerb: w.UnknownVerb,
		Proto:       w.Proto,
		RawURL:      w.RawURL,
		CookedURL: CookedURL{
			FullURL: w.FullURL,
			Host:    w.Host,
			AbsPath: w.AbsPath,
			Query:   w.Query,
		},
		RemoteAddr: w.RemoteAddr,
		Headers:    make([]Header, 0, len(w.Headers)),
	}
	for _, h := range w.Headers {
		r.Headers = append(r.Headers, Header{Name: h.Name, Value: h.Value})
	}
	return r, nil
}
