package telemetry

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"

	"github.com/nulpointcorp/inference-gateway/internal/models"
)

// clickHouseBatchSize and clickHouseFlushInterval mirror the batching
// constants the teacher's request logger used for its own async writer —
// the same shape, now draining into ClickHouse inserts instead of log
// lines.
const (
	clickHouseBatchSize     = 100
	clickHouseFlushInterval = time.Second
	clickHouseChannelBuffer = 10_000
)

// ClickHouseTable names the two tables a mirror writes into.
type ClickHouseTable struct {
	Usage  string
	Errors string
}

// DefaultClickHouseTable is used when no override is configured.
var DefaultClickHouseTable = ClickHouseTable{Usage: "gateway_usage_events", Errors: "gateway_error_events"}

type clickHouseEntry struct {
	isUsage bool
	usage   models.UsageEvent
	err     models.ErrorEvent
}

// ClickHouseWriter batches UsageEvent/ErrorEvent rows and inserts them into
// ClickHouse on a background goroutine, so a slow or unreachable analytics
// cluster never adds latency to the request path it mirrors. It implements
// the Sink's ClickHouseMirror interface.
type ClickHouseWriter struct {
	conn  clickhouse.Conn
	table ClickHouseTable

	ch        chan clickHouseEntry
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	dropped int64
}

// NewClickHouseWriter opens a connection against dsn and starts the
// background batching goroutine.
func NewClickHouseWriter(dsn string, table ClickHouseTable) (*ClickHouseWriter, error) {
	opts, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("telemetry: parse clickhouse dsn: %w", err)
	}

	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("telemetry: open clickhouse connection: %w", err)
	}

	if table == (ClickHouseTable{}) {
		table = DefaultClickHouseTable
	}

	w := &ClickHouseWriter{
		conn:  conn,
		table: table,
		ch:    make(chan clickHouseEntry, clickHouseChannelBuffer),
		done:  make(chan struct{}),
	}

	w.wg.Add(1)
	go w.run()

	return w, nil
}

// InsertUsage queues a UsageEvent for the next batch flush. Non-blocking: a
// full channel drops the row and counts it.
func (w *ClickHouseWriter) InsertUsage(_ context.Context, ev models.UsageEvent) error {
	select {
	case w.ch <- clickHouseEntry{isUsage: true, usage: ev}:
		return nil
	default:
		atomic.AddInt64(&w.dropped, 1)
		return fmt.Errorf("telemetry: clickhouse queue full, usage event dropped")
	}
}

// InsertError queues an ErrorEvent for the next batch flush. Non-blocking: a
// full channel drops the row and counts it.
func (w *ClickHouseWriter) InsertError(_ context.Context, ev models.ErrorEvent) error {
	select {
	case w.ch <- clickHouseEntry{isUsage: false, err: ev}:
		return nil
	default:
		atomic.AddInt64(&w.dropped, 1)
		return fmt.Errorf("telemetry: clickhouse queue full, error event dropped")
	}
}

// Dropped reports how many rows were discarded because the queue was full.
func (w *ClickHouseWriter) Dropped() int64 {
	return atomic.LoadInt64(&w.dropped)
}

// Close stops accepting new rows, flushes whatever remains queued, and
// closes the underlying connection.
func (w *ClickHouseWriter) Close() error {
	w.closeOnce.Do(func() {
		close(w.done)
	})
	w.wg.Wait()
	return w.conn.Close()
}

func (w *ClickHouseWriter) run() {
	defer w.wg.Done()

	ticker := time.NewTicker(clickHouseFlushInterval)
	defer ticker.Stop()

	batch := make([]clickHouseEntry, 0, clickHouseBatchSize)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		w.flushBatch(batch)
		batch = batch[:0]
	}

	for {
		select {
		case e := <-w.ch:
			batch = append(batch, e)
			if len(batch) >= clickHouseBatchSize {
				flush()
			}

		case <-ticker.C:
			flush()

		case <-w.done:
			for {
				select {
				case e := <-w.ch:
					batch = append(batch, e)
					if len(batch) >= clickHouseBatchSize {
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

func (w *ClickHouseWriter) flushBatch(batch []clickHouseEntry) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	w.flushUsage(ctx, batch)
	w.flushErrors(ctx, batch)
}

func (w *ClickHouseWriter) flushUsage(ctx context.Context, batch []clickHouseEntry) {
	stmt := fmt.Sprintf(
		"INSERT INTO %s (request_id, token, model, api_endpoint, input_tokens, output_tokens, model_id, provider_id, provider_token_id, reported_at)",
		w.table.Usage,
	)
	b, err := w.conn.PrepareBatch(ctx, stmt)
	if err != nil {
		return
	}
	any := false
	for _, e := range batch {
		if !e.isUsage {
			continue
		}
		any = true
		_ = b.Append(
			e.usage.RequestID,
			e.usage.Token,
			e.usage.Model,
			e.usage.Endpoint,
			uint32(e.usage.InputTokens),
			uint32(e.usage.OutputTokens),
			e.usage.ModelID,
			e.usage.ProviderID,
			e.usage.ProviderTokenID,
			time.Now().UTC(),
		)
	}
	if any {
		_ = b.Send()
	}
}

func (w *ClickHouseWriter) flushErrors(ctx context.Context, batch []clickHouseEntry) {
	stmt := fmt.Sprintf(
		"INSERT INTO %s (token, model, api_endpoint, message, provider_token_id, reported_at)",
		w.table.Errors,
	)
	b, err := w.conn.PrepareBatch(ctx, stmt)
	if err != nil {
		return
	}
	any := false
	for _, e := range batch {
		if e.isUsage {
			continue
		}
		any = true
		_ = b.Append(
			e.err.Token,
			e.err.Model,
			e.err.Endpoint,
			e.err.Message,
			e.err.ProviderTokenID,
			time.Now().UTC(),
		)
	}
	if any {
		_ = b.Send()
	}
}
