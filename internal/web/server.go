// Package web serves the bot status: Prometheus metrics, open positions and a
// server-sent event stream of the trade journal.
package web

import (
	"compress/gzip"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/crypto/acme/autocert"

	"github.com/vadiminshakov/dcabot/internal/domain"
	"github.com/vadiminshakov/dcabot/internal/storage/positions"
)

const (
	journalPollInterval = 3 * time.Second
	heartbeatInterval   = 20 * time.Second
	shutdownTimeout     = 5 * time.Second
)

type positionReader interface {
	Summaries(ctx context.Context) ([]positions.Summary, error)
}

type journalReader interface {
	EventsAfter(index uint64) ([]domain.OrderEventRecord, error)
}

// Server exposes /metrics, /positions and /events/stream.
type Server struct {
	Addr      string
	l         *zap.Logger
	positions positionReader
	journal   journalReader
	gatherer  prometheus.Gatherer
	poll      time.Duration
}

func NewServer(l *zap.Logger, addr string, positions positionReader, journal journalReader,
	gatherer prometheus.Gatherer) *Server {
	return &Server{
		Addr:      addr,
		l:         l,
		positions: positions,
		journal:   journal,
		gatherer:  gatherer,
		poll:      journalPollInterval,
	}
}

// Handler returns the routes of the status server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	if s.gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	mux.HandleFunc("/positions", s.handlePositions)
	mux.HandleFunc("/events/stream", s.handleEventStream)
	return mux
}

func (s *Server) httpServer(addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}

// shutdownOnDone stops servers once ctx is cancelled.
func (s *Server) shutdownOnDone(ctx context.Context, servers ...*http.Server) {
	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.l.Warn("Server shutdown", zap.String("addr", srv.Addr), zap.Error(err))
		}
	}
}

// Start serves plain HTTP until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	srv := s.httpServer(s.Addr, s.Handler())
	go s.shutdownOnDone(ctx, srv)

	s.l.Info("Status server listening", zap.String("addr", s.Addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "status server")
	}
	return nil
}

// StartWithAutoTLS serves HTTPS with ACME certificates for domains. Port 80
// answers the HTTP-01 challenges.
func (s *Server) StartWithAutoTLS(ctx context.Context, domains []string, cacheDir string) error {
	if len(domains) == 0 {
		return errors.New("no domains provided for automatic TLS")
	}
	if cacheDir == "" {
		cacheDir = "cert-cache"
	}

	manager := &autocert.Manager{
		Prompt:     autocert.AcceptTOS,
		HostPolicy: autocert.HostWhitelist(domains...),
		Cache:      autocert.DirCache(cacheDir),
	}

	challenge := s.httpServer(":80", manager.HTTPHandler(nil))
	secure := s.httpServer(s.Addr, s.Handler())
	secure.TLSConfig = manager.TLSConfig()
	secure.TLSConfig.MinVersion = tls.VersionTLS12

	go s.shutdownOnDone(ctx, challenge, secure)
	go func() {
		if err := challenge.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.l.Error("ACME challenge server failed", zap.Error(err))
		}
	}()

	s.l.Info("Status server listening with TLS", zap.String("addr", s.Addr), zap.Strings("domains", domains))
	if err := secure.ListenAndServeTLS("", ""); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "status server")
	}
	return nil
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	if s.positions == nil {
		http.Error(w, "position store not available", http.StatusServiceUnavailable)
		return
	}

	summaries, err := s.positions.Summaries(r.Context())
	if err != nil {
		s.l.Error("Failed to load positions", zap.Error(err))
		http.Error(w, "failed to load positions", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	var body io.Writer = w
	if strings.Contains(r.Header.Get("Accept-Encoding"), "gzip") {
		w.Header().Set("Content-Encoding", "gzip")
		w.Header().Set("Vary", "Accept-Encoding")
		gz := gzip.NewWriter(w)
		defer gz.Close()
		body = gz
	}

	if err := json.NewEncoder(body).Encode(summaries); err != nil {
		s.l.Warn("Failed to write positions", zap.Error(err))
	}
}

// eventStream writes journal records as server-sent events.
type eventStream struct {
	w       http.ResponseWriter
	flusher http.Flusher
	pair    string // empty streams every pair
	last    uint64
	sent    int
}

func (es *eventStream) write(records []domain.OrderEventRecord) error {
	for _, rec := range records {
		es.last = rec.Index
		if es.pair != "" && rec.Event.Pair != es.pair {
			continue
		}
		payload, err := json.Marshal(rec.Event)
		if err != nil {
			return errors.Wrapf(err, "encode event %d", rec.Index)
		}
		fmt.Fprintf(es.w, "id: %d\nevent: %s\ndata: %s\n\n", rec.Index, rec.Event.Kind, payload)
		es.sent++
	}
	if len(records) > 0 {
		es.flusher.Flush()
	}
	return nil
}

// handleEventStream streams journal events after Last-Event-ID (or the
// last_event_id query parameter), optionally only those of ?pair=.
func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		http.Error(w, "journal not available", http.StatusServiceUnavailable)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	es := &eventStream{
		w:       w,
		flusher: flusher,
		pair:    strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("pair"))),
		last:    s.parseLastEventID(r.Header.Get("Last-Event-ID"), r.URL.Query().Get("last_event_id")),
	}
	poll := func() error {
		records, err := s.journal.EventsAfter(es.last)
		if err != nil {
			return err
		}
		return es.write(records)
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache, no-store, must-revalidate")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	h.Set("Access-Control-Allow-Origin", "*")

	if err := poll(); err != nil {
		s.l.Error("Event stream initial load", zap.Error(err))
		http.Error(w, "failed to load events", http.StatusInternalServerError)
		return
	}
	if es.last == 0 {
		fmt.Fprint(w, "event: no_data\ndata: {}\n\n")
	}
	flusher.Flush()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()
	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			s.l.Debug("Event stream closed", zap.Int("sent", es.sent), zap.Uint64("last", es.last))
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case <-ticker.C:
			if err := poll(); err != nil {
				s.l.Warn("Event stream poll", zap.Error(err))
			}
		}
	}
}

// parseLastEventID prefers the Last-Event-ID header; the query parameter lets
// a client resume from a known index by hand.
func (s *Server) parseLastEventID(headerVal, queryVal string) uint64 {
	raw := strings.TrimSpace(headerVal)
	if raw == "" {
		raw = strings.TrimSpace(queryVal)
	}
	if raw == "" {
		return 0
	}

	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		s.l.Debug("Invalid last event id", zap.String("id", raw), zap.Error(err))
		return 0
	}
	return id
}
