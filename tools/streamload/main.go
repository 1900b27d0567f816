// Command streamload opens many concurrent subscriptions to the journal event
// stream of a running bot and reports how many frames of each kind arrived.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type counters struct {
	connected   atomic.Int64
	connectErrs atomic.Int64
	streamErrs  atomic.Int64

	mu     sync.Mutex
	frames map[string]int64
}

func (c *counters) frame(kind string) {
	c.mu.Lock()
	c.frames[kind]++
	c.mu.Unlock()
}

func (c *counters) fields() []zap.Field {
	c.mu.Lock()
	defer c.mu.Unlock()

	kinds := make([]string, 0, len(c.frames))
	for k := range c.frames {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)

	fields := []zap.Field{
		zap.Int64("connected", c.connected.Load()),
		zap.Int64("connect_errs", c.connectErrs.Load()),
		zap.Int64("stream_errs", c.streamErrs.Load()),
	}
	for _, k := range kinds {
		fields = append(fields, zap.Int64(k, c.frames[k]))
	}
	return fields
}

func main() {
	var (
		targetURL   string
		connections int
		duration    time.Duration
		rampUp      time.Duration
	)
	flag.StringVar(&targetURL, "url", "http://localhost:9090/events/stream", "event stream URL")
	flag.IntVar(&connections, "conns", 200, "concurrent subscriptions")
	flag.DurationVar(&duration, "dur", time.Minute, "test duration, 0 runs until interrupted")
	flag.DurationVar(&rampUp, "ramp", 0, "spread connection starts across this window")
	flag.Parse()

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	if connections <= 0 {
		logger.Fatal("conns must be positive", zap.Int("conns", connections))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, duration)
		defer cancel()
	}

	client := &http.Client{Transport: &http.Transport{
		MaxConnsPerHost:     connections + 10,
		MaxIdleConnsPerHost: connections + 10,
		DisableCompression:  true,
		DialContext:         (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
	}}

	stats := &counters{frames: make(map[string]int64)}
	start := time.Now()

	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				logger.Info("Status", stats.fields()...)
			}
		}
	}()

	var g errgroup.Group
	interval := rampUp / time.Duration(connections)
	for i := 0; i < connections && ctx.Err() == nil; i++ {
		if i > 0 && interval > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(interval):
			}
		}
		g.Go(func() error {
			subscribe(ctx, client, targetURL, stats)
			return nil
		})
	}
	_ = g.Wait()

	fmt.Printf("done in %s\n", time.Since(start).Truncate(time.Millisecond))
	logger.Info("Totals", stats.fields()...)
}

// subscribe reads one stream until ctx ends, counting frames by their event name.
func subscribe(ctx context.Context, client *http.Client, url string, stats *counters) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		stats.connectErrs.Add(1)
		return
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := client.Do(req)
	if err != nil {
		stats.connectErrs.Add(1)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		stats.connectErrs.Add(1)
		return
	}
	stats.connected.Add(1)

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event:"):
			stats.frame(strings.TrimSpace(strings.TrimPrefix(line, "event:")))
		case strings.HasPrefix(line, ":"):
			stats.frame("ping")
		}
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		stats.streamErrs.Add(1)
	}
}
