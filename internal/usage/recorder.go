// Package usage persists per-request LLM cost accounting.
package usage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/nikhilbhutani/docstream/internal/envelope"
	"github.com/nikhilbhutani/docstream/internal/llm"
)

// DB is the subset of *pgxpool.Pool the recorder needs.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

type Recorder struct {
	db DB
}

func NewRecorder(db DB) *Recorder {
	return &Recorder{db: db}
}

type Record struct {
	RequestID    string
	Kind         envelope.Kind
	Provider     string
	Model        string
	InputTokens  int
	OutputTokens int
	CostUSD      float64
	LatencyMs    int64
	Metadata     map[string]any
}

func (r *Recorder) Record(ctx context.Context, rec Record) error {
	metadata, err := json.Marshal(rec.Metadata)
	if err != nil {
		return fmt.Errorf("encode usage metadata: %w", err)
	}

	_, err = r.db.Exec(ctx,
		`INSERT INTO llm_usage_logs (request_id, kind, provider, model, input_tokens, output_tokens, total_tokens, cost_usd, latency_ms, metadata)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		rec.RequestID, string(rec.Kind), rec.Provider, rec.Model, rec.InputTokens, rec.OutputTokens,
		rec.InputTokens+rec.OutputTokens, rec.CostUSD, rec.LatencyMs, metadata,
	)
	if err != nil {
		return fmt.Errorf("insert LLM usage log: %w", err)
	}
	return nil
}

// RecordUsage stores the accounting of one completed model call.
func (r *Recorder) RecordUsage(ctx context.Context, kind envelope.Kind, requestID string, u llm.Usage) error {
	return r.Record(ctx, Record{
		RequestID:    requestID,
		Kind:         kind,
		Provider:     u.Provider,
		Model:        u.ProviderModel,
		InputTokens:  u.InputTokens,
		OutputTokens: u.OutputTokens,
		CostUSD:      u.TotalCost,
		LatencyMs:    u.LatencyMs,
		Metadata:     map[string]any{"model_id": u.Model},
	})
}

type Summary struct {
	Kind         string  `json:"kind"`
	Provider     string  `json:"provider"`
	Model        string  `json:"model"`
	TotalCalls   int     `json:"total_calls"`
	TotalTokens  int     `json:"total_tokens"`
	TotalCostUSD float64 `json:"total_cost_usd"`
}

// Summary aggregates usage between the optional bounds.
func (r *Recorder) Summary(ctx context.Context, startDate, endDate *time.Time) ([]Summary, error) {
	query := `SELECT kind, provider, model, COUNT(*) AS total_calls,
			         COALESCE(SUM(total_tokens), 0) AS total_tokens,
			         COALESCE(SUM(cost_usd), 0) AS total_cost_usd
			  FROM llm_usage_logs WHERE TRUE`
	var args []any
	argIdx := 1

	if startDate != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *startDate)
		argIdx++
	}
	if endDate != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, *endDate)
	}

	query += " GROUP BY kind, provider, model ORDER BY total_cost_usd DESC"

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query usage summary: %w", err)
	}
	defer rows.Close()

	summaries := []Summary{}
	for rows.Next() {
		var s Summary
		if err := rows.Scan(&s.Kind, &s.Provider, &s.Model, &s.TotalCalls, &s.TotalTokens, &s.TotalCostUSD); err != nil {
			return nil, fmt.Errorf("scan usage summary: %w", err)
		}
		summaries = append(summaries, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read usage summary: %w", err)
	}
	return summaries, nil
}
