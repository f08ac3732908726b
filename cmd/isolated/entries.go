package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fluxorio/isolate/pkg/isolate"
)

// upper is the smallest useful entry; handy for smoke tests.
func upper(ctx context.Context, s string) (string, error) {
	return strings.ToUpper(s), nil
}

// wordCount counts words per distinct lower-cased token.
func wordCount(ctx context.Context, text string) (map[string]any, error) {
	counts := make(map[string]any)
	total := 0
	for _, w := range strings.Fields(strings.ToLower(text)) {
		n, _ := counts[w].(int)
		counts[w] = n + 1
		total++
	}
	return map[string]any{"total": total, "words": counts}, nil
}

// primes lists the primes below n. Arguments arrive as JSON numbers.
func primes(ctx context.Context, n float64) ([]int, error) {
	limit := int(n)
	if limit < 0 || limit > 10_000_000 {
		return nil, fmt.Errorf("limit %d out of range", limit)
	}
	sieve := make([]bool, limit)
	var out []int
	for i := 2; i < limit; i++ {
		if sieve[i] {
			continue
		}
		out = append(out, i)
		for j := i * i; j < limit; j += i {
			sieve[j] = true
		}
		if i%4096 == 0 && ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	return out, nil
}

// analyzeLog simulates a CPU-heavy analysis of a log file.
func analyzeLog(ctx context.Context, file string) (string, error) {
	deadline := time.Now().Add(200 * time.Millisecond)
	for time.Now().Before(deadline) {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
	}
	return fmt.Sprintf("report for %s: 3 errors, 12 warnings", file), nil
}

type grepArgs struct {
	Text    string `json:"text"`
	Pattern string `json:"pattern"`
}

// grepLines returns the lines of Text containing Pattern.
func grepLines(ctx context.Context, args grepArgs) ([]string, error) {
	if args.Pattern == "" {
		return nil, fmt.Errorf("empty pattern")
	}
	out := []string{}
	for _, line := range strings.Split(args.Text, "\n") {
		if strings.Contains(line, args.Pattern) {
			out = append(out, line)
		}
	}
	return out, nil
}

func registerEntries(reg *isolate.Registry) error {
	entries := map[string]isolate.Entry{
		"upper":      isolate.MustCall(upper),
		"wordcount":  isolate.MustCall(wordCount),
		"primes":     isolate.MustCall(primes),
		"analyzelog": isolate.MustCall(analyzeLog),
		"grep":       isolate.MustCall(grepLines),
	}
	for name, e := range entries {
		if err := reg.Register(name, e); err != nil {
			return err
		}
	}
	return nil
}
