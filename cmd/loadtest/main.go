// Load generator checking the answers of a filehttp server.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"io/ioutil"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/pkg/errors"
)

var (
	help             bool
	concurrent, rate int
	expectSize       int
	duration         time.Duration
)

type methodSlice []string

func (m *methodSlice) String() string {
	return strings.Join(*m, ",")
}

func (m *methodSlice) Set(v string) error {
	*m = append(*m, strings.ToUpper(v))
	return nil
}

var (
	uri     string
	methods methodSlice
)

func init() {
	flag.BoolVar(&help, "help", false, "Help message")
	flag.StringVar(&uri, "uri", "", "URL served by filehttp")
	flag.IntVar(&rate, "rate", 1, "Number of requests per second")
	flag.IntVar(&concurrent, "concurrent", 1, "Maximum number of concurrent requests")
	flag.IntVar(&expectSize, "expect-size", -1, "Expected size of the GET body (-1 to skip the check)")
	flag.DurationVar(&duration, "duration", 0, "Stop after this duration (0 runs until interrupted)")
	flag.Var(&methods, "method", "HTTP method to send (can be repeated, default GET)")
}

// expectation is what filehttp answers for a method.
type expectation struct {
	status int
	size   int
}

func expect(method string, size int) expectation {
	if method == http.MethodGet {
		return expectation{status: http.StatusOK, size: size}
	}
	return expectation{status: http.StatusServiceUnavailable, size: 0}
}

func check(resp *http.Response, body io.Reader, want expectation) error {
	n, err := io.Copy(ioutil.Discard, body)
	if err != nil {
		return errors.Wrap(err, "reading body")
	}
	if resp.StatusCode != want.status {
		return errors.Errorf("got %d status code, want %d", resp.StatusCode, want.status)
	}
	if want.size >= 0 && int(n) != want.size {
		return errors.Errorf("got %d bytes, want %d", n, want.size)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/html" {
		return errors.Errorf("got content type %q", ct)
	}
	return nil
}

type stats struct {
	ok, failed uint64
}

func do(ctx context.Context, logger log.Logger, client *http.Client, method string, st *stats, ch chan struct{}) {
	want := expect(method, expectSize)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ch:
			req, err := http.NewRequest(method, uri, nil)
			if err != nil {
				level.Error(logger).Log("err", err)
				return
			}
			resp, err := client.Do(req.WithContext(ctx))
			if err != nil {
				if ctx.Err() == nil {
					atomic.AddUint64(&st.failed, 1)
					level.Warn(logger).Log("msg", "request failed", "method", method, "err", err)
				}
				break
			}
			err = check(resp, resp.Body, want)
			resp.Body.Close()
			if err != nil {
				atomic.AddUint64(&st.failed, 1)
				level.Warn(logger).Log("msg", "unexpected response", "method", method, "err", err)
				break
			}
			atomic.AddUint64(&st.ok, 1)
		}
	}
}

func main() {
	flag.Parse()
	if help {
		fmt.Fprintln(os.Stderr, "Simple HTTP load tester for filehttp")
		flag.PrintDefaults()
		os.Exit(0)
	}

	if uri == "" {
		fmt.Fprintln(os.Stderr, "Missing --uri parameter.")
		flag.PrintDefaults()
		os.Exit(1)
	}
	if rate <= 0 || concurrent <= 0 {
		fmt.Fprintln(os.Stderr, "--rate and --concurrent must be positive.")
		os.Exit(1)
	}
	if len(methods) == 0 {
		methods = methodSlice{http.MethodGet}
	}

	logger := log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr))
	logger = log.With(logger, "ts", log.DefaultTimestampUTC)

	client := &http.Client{
		Transport: &http.Transport{
			IdleConnTimeout: 1 * time.Minute,
		},
		Timeout: 30 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	if duration > 0 {
		cancel()
		ctx, cancel = context.WithTimeout(context.Background(), duration)
	}
	var (
		wg sync.WaitGroup
		st = make(map[string]*stats)
	)
	for _, method := range methods {
		ch := make(chan struct{}, concurrent)
		st[method] = &stats{}
		for i := 0; i < concurrent; i++ {
			wg.Add(1)
			go func(method string) {
				defer wg.Done()
				do(ctx, logger, client, method, st[method], ch)
			}(method)
		}

		wg.Add(1)
		interval := time.Second / time.Duration(rate)
		go func() {
			defer wg.Done()
			for {
				// Randomize the delay between requests.
				d := float64(interval) + (0.5-rand.Float64())*float64(interval)
				tick := time.NewTicker(time.Duration(d))
				select {
				case <-ctx.Done():
					tick.Stop()
					return
				case <-tick.C:
					tick.Stop()
					select {
					case ch <- struct{}{}:
					default:
						level.Warn(logger).Log("msg", "channel full")
					}
				}
			}
		}()
	}

	level.Info(logger).Log("msg", "initialization completed", "uri", uri, "methods", methods.String())
	s := make(chan os.Signal, 1)
	signal.Notify(s, os.Interrupt)
	// Block until a signal is received or the duration elapses.
	select {
	case <-s:
	case <-ctx.Done():
	}
	level.Info(logger).Log("msg", "shutting down")
	cancel()
	wg.Wait()

	var failed uint64
	for method, m := range st {
		level.Info(logger).Log("method", method, "ok", atomic.LoadUint64(&m.ok), "failed", atomic.LoadUint64(&m.failed))
		failed += atomic.LoadUint64(&m.failed)
	}
	if failed > 0 {
		os.Exit(1)
	}
}
