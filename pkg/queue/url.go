package queue

import (
	"net"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// urlPrefix is a parsed registration URL such as "http://+:8080/test/".
type urlPrefix struct {
	raw  string
	host string
	port int
	path string
}

// bindAddr is the address the listener for this prefix binds to. The strong
// (+) and weak (*) wildcards listen on every interface.
func (p urlPrefix) bindAddr() string {
	host := p.host
	if host == "+" || host == "*" {
		host = ""
	}
	return net.JoinHostPort(host, strconv.Itoa(p.port))
}

// matches reports whether the request path falls under the prefix. Matching
// is case-insensitive and "/test" matches the prefix "/test/".
func (p urlPrefix) matches(path string) bool {
	path = strings.ToLower(path)
	if strings.HasPrefix(path, p.path) {
		return true
	}
	return path+"/" == p.path
}

func parseURLPrefix(raw string) (urlPrefix, error) {
	const scheme = "http://"
	if len(raw) < len(scheme) || !strings.EqualFold(raw[:len(scheme)], scheme) {
		return urlPrefix{}, errors.Errorf("unsupported scheme in %q, expecting %s", raw, scheme)
	}
	rest := raw[len(scheme):]
	i := strings.IndexByte(rest, '/')
	if i < 0 {
		return urlPrefix{}, errors.Errorf("missing path in %q", raw)
	}
	hostport, path := rest[:i], rest[i:]
	if !strings.HasSuffix(path, "/") {
		return urlPrefix{}, errors.Errorf("path of %q must end with /", raw)
	}

	host, port := hostport, 80
	if strings.LastIndexByte(hostport, ':') > strings.LastIndexByte(hostport, ']') {
		h, p, err := net.SplitHostPort(hostport)
		if err != nil {
			return urlPrefix{}, errors.Wrapf(err, "invalid host in %q", raw)
		}
		port, err = strconv.Atoi(p)
		if err != nil || port < 0 || port > 65535 {
			return urlPrefix{}, errors.Errorf("invalid port in %q", raw)
		}
		host = h
	} else {
		host = strings.TrimSuffix(strings.TrimPrefix(host, "["), "]")
	}
	if host == "" {
		return urlPrefix{}, errors.Errorf("missing host in %q", raw)
	}

	return urlPrefix{
		raw:  raw,
		host: strings.ToLower(host),
		port: port,
		path: strings.ToLower(path),
	}, nil
}
