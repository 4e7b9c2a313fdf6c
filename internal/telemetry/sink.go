// Package telemetry reports UsageEvent/ErrorEvent payloads to the business
// backend (and, optionally, a ClickHouse mirror) without ever blocking or
// failing the request path that produced them.
//
// Modeled directly on the teacher's internal/logger.Logger: entries land on
// a buffered channel and are drained by one background goroutine; a full
// channel drops the entry and counts it rather than applying backpressure
// to the caller.
package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nulpointcorp/inference-gateway/internal/models"
)

const (
	channelBuffer = 10_000
	batchSize     = 100
	flushInterval = time.Second
	clientTimeout = 5 * time.Second
)

type kind int

const (
	kindUsage kind = iota
	kindError
)

type entry struct {
	kind  kind
	usage models.UsageEvent
	err   models.ErrorEvent
}

// ClickHouseMirror accepts an async copy of every delivered event. It is
// satisfied by a thin adapter over clickhouse-go/v2's driver.Conn; nil is a
// valid value (no mirroring configured).
type ClickHouseMirror interface {
	InsertUsage(ctx context.Context, ev models.UsageEvent) error
	InsertError(ctx context.Context, ev models.ErrorEvent) error
}

// Sink implements spec §4.7's fire-and-forget telemetry reporting.
type Sink struct {
	ch        chan entry
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	droppedEvents int64

	baseCtx context.Context
	log     *slog.Logger
	client  *http.Client
	baseURL string
	mirror  ClickHouseMirror
}

// New starts the background flush goroutine. mirror may be nil.
func New(ctx context.Context, slogger *slog.Logger, baseURL string, mirror ClickHouseMirror) *Sink {
	s := &Sink{
		ch:      make(chan entry, channelBuffer),
		done:    make(chan struct{}),
		baseCtx: ctx,
		log:     slogger,
		client:  &http.Client{Timeout: clientTimeout},
		baseURL: baseURL,
		mirror:  mirror,
	}

	s.wg.Add(1)
	go s.run()

	return s
}

// ReportUsage implements report_usage. Non-blocking: a full channel drops
// the event.
func (s *Sink) ReportUsage(ev models.UsageEvent) {
	select {
	case s.ch <- entry{kind: kindUsage, usage: ev}:
	default:
		atomic.AddInt64(&s.droppedEvents, 1)
	}
}

// ReportError implements report_error. Non-blocking: a full channel drops
// the event.
func (s *Sink) ReportError(ev models.ErrorEvent) {
	select {
	case s.ch <- entry{kind: kindError, err: ev}:
	default:
		atomic.AddInt64(&s.droppedEvents, 1)
	}
}

// DroppedEvents reports how many telemetry entries were discarded because
// the channel was full.
func (s *Sink) DroppedEvents() int64 {
	return atomic.LoadInt64(&s.droppedEvents)
}

// Close stops accepting new work, drains whatever is already queued, and
// returns without waiting for in-flight HTTP deliveries — per spec §5,
// telemetry subtasks continue to completion independently of request
// cancellation or shutdown.
func (s *Sink) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
	})
	s.wg.Wait()
	return nil
}

func (s *Sink) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	batch := make([]entry, 0, batchSize)

	flush := func() {
		for _, e := range batch {
			s.deliver(e)
		}
		batch = batch[:0]
	}

	for {
		select {
		case e := <-s.ch:
			batch = append(batch, e)
			if len(batch) >= batchSize {
				flush()
			}

		case <-ticker.C:
			flush()

		case <-s.done:
			for {
				select {
				case e := <-s.ch:
					batch = append(batch, e)
					if len(batch) >= batchSize {
						flush()
					}
				default:
					flush()
					return
				}
			}
		}
	}
}

// deliver fires each entry as an independent, untracked goroutine — the
// POST and the optional ClickHouse insert must never hold up draining the
// rest of the batch.
func (s *Sink) deliver(e entry) {
	switch e.kind {
	case kindUsage:
		go s.postJSON(s.baseURL+"/v1/telemetry/usage", e.usage)
		if s.mirror != nil {
			go func() {
				if err := s.mirror.InsertUsage(s.baseCtx, e.usage); err != nil {
					s.log.WarnContext(s.baseCtx, "telemetry_clickhouse_usage_error", slog.String("error", err.Error()))
				}
			}()
		}
	case kindError:
		go s.postJSON(s.baseURL+"/v1/telemetry/errors", e.err)
		if s.mirror != nil {
			go func() {
				if err := s.mirror.InsertError(s.baseCtx, e.err); err != nil {
					s.log.WarnContext(s.baseCtx, "telemetry_clickhouse_error_error", slog.String("error", err.Error()))
				}
			}()
		}
	}
}

func (s *Sink) postJSON(url string, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		s.log.WarnContext(s.baseCtx, "telemetry_encode_error", slog.String("error", err.Error()))
		return
	}

	ctx, cancel := context.WithTimeout(s.baseCtx, clientTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		s.log.WarnContext(s.baseCtx, "telemetry_request_build_error", slog.String("error", err.Error()))
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		s.log.WarnContext(s.baseCtx, "telemetry_post_error", slog.String("url", url), slog.String("error", err.Error()))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		s.log.WarnContext(s.baseCtx, "telemetry_post_non_2xx",
			slog.String("url", url), slog.Int("status", resp.StatusCode))
	}
}
