// Command example offloads a slow log analysis to a worker while the caller's
// own event loop keeps ticking.
package main

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/fluxorio/isolate/pkg/future"
	"github.com/fluxorio/isolate/pkg/offload"
	"github.com/fluxorio/isolate/pkg/reactor"
)

func analyzeLog(ctx context.Context, file string) (string, error) {
	deadline := time.Now().Add(300 * time.Millisecond)
	for time.Now().Before(deadline) {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
	}
	return fmt.Sprintf("report for %s: 3 errors, 12 warnings", file), nil
}

func main() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	loop := reactor.New(64)
	finished := make(chan struct{})
	var once sync.Once
	loop.OnIdle(func() { once.Do(func() { close(finished) }) })
	loop.Start()

	// The hold keeps the loop alive until the report is in.
	loop.Hold()
	ticks := 0
	reported := false
	var tick func()
	tick = func() {
		if reported {
			return
		}
		ticks++
		log.Printf("tick %d", ticks)
		loop.After(50*time.Millisecond, tick)
	}
	_ = loop.Post(tick)

	offload.Run(ctx, analyzeLog, "log.txt").OnComplete(func(r future.Result[string]) {
		err := loop.Post(func() {
			defer loop.Release()
			reported = true
			if r.Err != nil {
				log.Printf("analysis failed: %v", r.Err)
			} else {
				log.Printf("%s (after %d ticks)", r.Value, ticks)
			}
		})
		if err != nil {
			log.Printf("post result: %v", err)
			once.Do(func() { close(finished) })
		}
	})

	select {
	case <-finished:
	case <-ctx.Done():
		log.Printf("gave up: %v", ctx.Err())
	}
	_ = loop.Stop(context.Background())
	_ = offload.Default().Supervisor().Shutdown(context.Background())
}
