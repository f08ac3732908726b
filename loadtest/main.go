// Command loadtest drives POST /offload/{entry} on a running isolated server
// and prints latency percentiles.
package main

import (
	"flag"
	"fmt"
	"log"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/valyala/fasthttp"
)

func main() {
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)

	addr := flag.String("addr", "http://127.0.0.1:8080", "server base URL")
	entry := flag.String("entry", "upper", "entry to invoke")
	body := flag.String("body", `"hello"`, "JSON argument")
	requests := flag.Int("n", 1000, "total requests")
	concurrency := flag.Int("c", 32, "concurrent clients")
	timeout := flag.Duration("timeout", 10*time.Second, "per-request timeout")
	flag.Parse()

	client := &fasthttp.Client{
		MaxConnsPerHost: *concurrency,
		ReadTimeout:     *timeout,
		WriteTimeout:    *timeout,
	}
	url := *addr + "/offload/" + *entry

	var (
		next      atomic.Int64
		failures  atomic.Int64
		mu        sync.Mutex
		latencies = make([]time.Duration, 0, *requests)
		wg        sync.WaitGroup
	)

	start := time.Now()
	for i := 0; i < *concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req := fasthttp.AcquireRequest()
			resp := fasthttp.AcquireResponse()
			defer fasthttp.ReleaseRequest(req)
			defer fasthttp.ReleaseResponse(resp)

			for next.Add(1) <= int64(*requests) {
				req.Reset()
				req.SetRequestURI(url)
				req.Header.SetMethod(fasthttp.MethodPost)
				req.Header.SetContentType("application/json")
				req.SetBodyString(*body)

				t0 := time.Now()
				err := client.DoTimeout(req, resp, *timeout)
				d := time.Since(t0)
				if err != nil || resp.StatusCode() != fasthttp.StatusOK {
					failures.Add(1)
					continue
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	elapsed := time.Since(start)

	fmt.Printf("requests: %d  failures: %d  elapsed: %s  rps: %.1f\n",
		*requests, failures.Load(), elapsed, float64(*requests)/elapsed.Seconds())
	if len(latencies) == 0 {
		return
	}
	slices.Sort(latencies)
	for _, p := range []float64{0.5, 0.9, 0.99} {
		fmt.Printf("p%.0f: %s\n", p*100, percentile(latencies, p))
	}
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	i := int(float64(len(sorted)-1) * p)
	return sorted[i]
}
