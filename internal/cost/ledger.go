package cost

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/alfred-ai/signalhub/internal/tiers"
)

// Period is a rollup granularity for cost summaries, grounded on the
// original's CostPeriod enum.
type Period string

const (
	PeriodHourly  Period = "hourly"
	PeriodDaily   Period = "daily"
	PeriodWeekly  Period = "weekly"
	PeriodMonthly Period = "monthly"
)

func (p Period) window() time.Duration {
	switch p {
	case PeriodHourly:
		return time.Hour
	case PeriodWeekly:
		return 7 * 24 * time.Hour
	case PeriodMonthly:
		return 30 * 24 * time.Hour
	default:
		return 24 * time.Hour
	}
}

// Record is one completed request's usage and cost, grounded on the
// original's ModelUsage.
type Record struct {
	ID            string    `json:"id"`
	Timestamp     time.Time `json:"timestamp"`
	Tier          tiers.Tier `json:"tier"`
	InputTokens   int       `json:"input_tokens"`
	OutputTokens  int       `json:"output_tokens"`
	Cost          float64   `json:"cost"`
	RoutingReason string    `json:"routing_reason"`
	CacheHit      bool      `json:"cache_hit"`
	LatencyMs     int64     `json:"latency_ms"`
	ToolName      string    `json:"tool_name,omitempty"`
	SessionID     string    `json:"session_id,omitempty"`
	ClientID      string    `json:"client_id,omitempty"`
	Cancelled     bool      `json:"cancelled"`
}

// Summary is a rollup over a time window, grounded on the original's CostSummary.
type Summary struct {
	Period            Period         `json:"period"`
	StartTime         time.Time      `json:"start_time"`
	EndTime           time.Time      `json:"end_time"`
	TotalCost         float64        `json:"total_cost"`
	TotalSaved        float64        `json:"total_saved"`
	RoutingSavings    float64        `json:"routing_savings"`
	CacheSavings      float64        `json:"cache_savings"`
	TotalRequests     int            `json:"total_requests"`
	CacheHits         int            `json:"cache_hits"`
	TierDistribution  map[string]int `json:"tier_distribution"`
	AverageLatencyMs  float64        `json:"average_latency_ms"`
}

// Storage is the durable backing store boundary for the ledger.
// Out-of-scope production deployments back this with a real database;
// this package ships FileStorage as the reference implementation.
type Storage interface {
	Append(ctx context.Context, records []Record) error
	Range(ctx context.Context, start, end time.Time) ([]Record, error)
	Recent(ctx context.Context, limit int, sessionID, clientID string) ([]Record, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// Ledger is the cost ledger of spec component G: it calculates cost on
// record, buffers writes through a bounded channel so logging never
// blocks the response path, and answers summary/trends/cleanup queries
// against Storage. Grounded on the teacher's metering.AsyncLogger
// batched-drain pattern, rebuilt on errgroup for goroutine lifecycle
// management instead of a bare WaitGroup.
type Ledger struct {
	calc    *Calculator
	storage Storage
	logger  zerolog.Logger

	ch    chan Record
	group *errgroup.Group
	quit  chan struct{}

	mu      sync.Mutex
	dropped int64
}

// NewLedger creates a ledger and starts its background writer.
// bufferSize<=0 defaults to 10000 queued records before writes start
// dropping (spec §4.G: "never block the response path on persistence").
func NewLedger(ctx context.Context, calc *Calculator, storage Storage, bufferSize int, logger zerolog.Logger) *Ledger {
	if bufferSize <= 0 {
		bufferSize = 10000
	}
	l := &Ledger{
		calc:    calc,
		storage: storage,
		logger:  logger.With().Str("component", "cost-ledger").Logger(),
		ch:      make(chan Record, bufferSize),
		quit:    make(chan struct{}),
	}
	g, gctx := errgroup.WithContext(ctx)
	l.group = g
	g.Go(func() error { return l.drain(gctx) })
	return l
}

// Calculate prices usage at tier without recording it.
func (l *Ledger) Calculate(tier tiers.Tier, usage Usage) float64 {
	return l.calc.Calculate(tier, usage)
}

// Record queues a usage record for async persistence. A cache hit is
// costed at zero regardless of token counts, matching the original's
// track_usage behavior. Record never blocks: a full buffer drops the
// record and increments the dropped counter.
func (l *Ledger) Record(r Record) {
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now()
	}
	if r.CacheHit || r.Cancelled {
		r.Cost = 0
	}
	select {
	case l.ch <- r:
	default:
		l.mu.Lock()
		l.dropped++
		l.mu.Unlock()
		l.logger.Warn().Str("record_id", r.ID).Msg("cost ledger buffer full, dropping record")
	}
}

// Dropped returns how many records have been dropped due to backpressure.
func (l *Ledger) Dropped() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dropped
}

func (l *Ledger) drain(ctx context.Context) error {
	batch := make([]Record, 0, 100)
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := l.storage.Append(ctx, batch); err != nil {
			l.logger.Error().Err(err).Int("count", len(batch)).Msg("failed to persist cost records")
		}
		batch = batch[:0]
	}

	for {
		select {
		case r, ok := <-l.ch:
			if !ok {
				flush()
				return nil
			}
			batch = append(batch, r)
			if len(batch) >= 100 || len(l.ch) == 0 {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-l.quit:
			for len(l.ch) > 0 {
				batch = append(batch, <-l.ch)
			}
			flush()
			return nil
		}
	}
}

// Close stops the background writer, flushing any buffered records.
func (l *Ledger) Close() error {
	close(l.quit)
	return l.group.Wait()
}

// Summary rolls up cost and savings over a period ending at end (or now
// if end is zero), optionally restricted to one client's requests (spec
// §4.G "aggregate by window/tier/user"), grounded on the original's
// get_summary.
func (l *Ledger) Summary(ctx context.Context, period Period, start, end time.Time, clientID string) (Summary, error) {
	if end.IsZero() {
		end = time.Now()
	}
	if start.IsZero() {
		start = end.Add(-period.window())
	}

	all, err := l.storage.Range(ctx, start, end)
	if err != nil {
		return Summary{}, err
	}

	records := all
	if clientID != "" {
		records = make([]Record, 0, len(all))
		for _, r := range all {
			if r.ClientID == clientID {
				records = append(records, r)
			}
		}
	}

	summary := Summary{
		Period:           period,
		StartTime:        start,
		EndTime:          end,
		TotalRequests:    len(records),
		TierDistribution: make(map[string]int),
	}

	var totalLatency float64
	for _, r := range records {
		summary.TotalCost += r.Cost
		totalLatency += float64(r.LatencyMs)
		summary.TierDistribution[r.Tier.String()]++

		if r.CacheHit {
			summary.CacheHits++
			baseline := l.calc.Calculate(tiers.Large, Usage{InputTokens: estimateOrDefault(r.InputTokens, 1000), OutputTokens: estimateOrDefault(r.OutputTokens, 500)})
			summary.CacheSavings += baseline
			continue
		}
		large := l.calc.Calculate(tiers.Large, Usage{InputTokens: r.InputTokens, OutputTokens: r.OutputTokens})
		summary.RoutingSavings += large - r.Cost
	}

	summary.TotalSaved = summary.RoutingSavings + summary.CacheSavings
	if summary.TotalRequests > 0 {
		summary.AverageLatencyMs = totalLatency / float64(summary.TotalRequests)
	}
	return summary, nil
}

func estimateOrDefault(v, fallback int) int {
	if v == 0 {
		return fallback
	}
	return v
}

// Trends returns numPeriods consecutive summaries ending now, oldest
// first, optionally restricted to one client, grounded on the original's
// get_cost_trends.
func (l *Ledger) Trends(ctx context.Context, period Period, numPeriods int, clientID string) ([]Summary, error) {
	trends := make([]Summary, 0, numPeriods)
	end := time.Now()
	for i := 0; i < numPeriods; i++ {
		start := end.Add(-period.window())
		s, err := l.Summary(ctx, period, start, end, clientID)
		if err != nil {
			return nil, err
		}
		trends = append(trends, s)
		end = start
	}
	sort.SliceStable(trends, func(i, j int) bool { return trends[i].StartTime.Before(trends[j].StartTime) })
	return trends, nil
}

// RecentUsage returns up to limit recent records, optionally filtered by
// session and/or client.
func (l *Ledger) RecentUsage(ctx context.Context, limit int, sessionID, clientID string) ([]Record, error) {
	return l.storage.Recent(ctx, limit, sessionID, clientID)
}

// Cleanup deletes records older than daysToKeep, grounded on the
// original's cleanup_old_records.
func (l *Ledger) Cleanup(ctx context.Context, daysToKeep int) (int, error) {
	cutoff := time.Now().AddDate(0, 0, -daysToKeep)
	deleted, err := l.storage.DeleteBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		l.logger.Info().Int("count", deleted).Msg("cleaned up old cost records")
	}
	return deleted, nil
}

// FileStorage is a newline-delimited-JSON reference Storage backed by a
// single append-only file, adequate for single-process deployments and
// tests. A production deployment is expected to supply a database-backed
// Storage instead.
type FileStorage struct {
	mu   sync.Mutex
	path string
}

// NewFileStorage opens (creating if absent) the ledger file at path.
func NewFileStorage(path string) (*FileStorage, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	_ = f.Close()
	return &FileStorage{path: path}, nil
}

// Append writes records as newline-delimited JSON.
func (s *FileStorage) Append(ctx context.Context, records []Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	for _, r := range records {
		if err := enc.Encode(r); err != nil {
			return err
		}
	}
	return nil
}

func (s *FileStorage) readAll() ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	var out []Record
	for dec.More() {
		var r Record
		if err := dec.Decode(&r); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// Range returns records with Timestamp in [start, end].
func (s *FileStorage) Range(ctx context.Context, start, end time.Time) ([]Record, error) {
	all, err := s.readAll()
	if err != nil {
		return nil, err
	}
	out := make([]Record, 0, len(all))
	for _, r := range all {
		if !r.Timestamp.Before(start) && !r.Timestamp.After(end) {
			out = append(out, r)
		}
	}
	return out, nil
}

// Recent returns up to limit records, most recent first, optionally
// filtered by session id and/or client id.
func (s *FileStorage) Recent(ctx context.Context, limit int, sessionID, clientID string) ([]Record, error) {
	all, err := s.readAll()
	if err != nil {
		return nil, err
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Timestamp.After(all[j].Timestamp) })

	out := make([]Record, 0, limit)
	for _, r := range all {
		if sessionID != "" && r.SessionID != sessionID {
			continue
		}
		if clientID != "" && r.ClientID != clientID {
			continue
		}
		out = append(out, r)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// DeleteBefore removes records with Timestamp before cutoff, rewriting
// the file, and returns the number removed.
func (s *FileStorage) DeleteBefore(ctx context.Context, cutoff time.Time) (int, error) {
	all, err := s.readAll()
	if err != nil {
		return 0, err
	}

	kept := make([]Record, 0, len(all))
	removed := 0
	for _, r := range all {
		if r.Timestamp.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, r)
	}
	if removed == 0 {
		return 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	for _, r := range kept {
		if err := enc.Encode(r); err != nil {
			return 0, err
		}
	}
	return removed, nil
}
