package worker

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/ppiankov/patfam/internal/model"
)

// Runner aggregates the patent family of one molecule
type Runner interface {
	Run(ctx context.Context, q model.MoleculeQuery) (*model.AggregationResult, error)
}

// QueryJob is one molecule of a batch
type QueryJob struct {
	Index  int
	Query  model.MoleculeQuery
	Runner Runner
}

// Execute runs the aggregation for the job's molecule
func (j *QueryJob) Execute(ctx context.Context) Result {
	result, err := j.Runner.Run(ctx, j.Query)
	return &QueryResult{
		Index:  j.Index,
		Query:  j.Query,
		Result: result,
		Error:  err,
	}
}

// QueryResult is the outcome of one molecule of a batch.
// Result is set even on error when the run reached the FAILED state.
type QueryResult struct {
	Index  int
	Query  model.MoleculeQuery
	Result *model.AggregationResult
	Error  error
}

// GetError returns the error from the run
func (r *QueryResult) GetError() error {
	return r.Error
}

// BatchProcessor aggregates several molecules concurrently.
// Runs share the runner, and therefore its source budgets.
type BatchProcessor struct {
	runner      Runner
	concurrency int
}

// NewBatchProcessor creates a new batch processor
func NewBatchProcessor(runner Runner, concurrency int) *BatchProcessor {
	return &BatchProcessor{
		runner:      runner,
		concurrency: concurrency,
	}
}

// ProcessQueries runs every query and returns results in input order
func (b *BatchProcessor) ProcessQueries(ctx context.Context, queries []model.MoleculeQuery) []*QueryResult {
	if len(queries) == 0 {
		return []*QueryResult{}
	}

	jobs := make([]Job, len(queries))
	for i, q := range queries {
		jobs[i] = &QueryJob{Index: i, Query: q, Runner: b.runner}
	}

	pool := NewPool(ctx, b.concurrency)
	results := pool.Run(jobs)

	out := make([]*QueryResult, 0, len(results))
	for _, r := range results {
		out = append(out, r.(*QueryResult))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })

	return out
}

// ProcessFile reads queries from a file and processes them concurrently
func (b *BatchProcessor) ProcessFile(ctx context.Context, filePath string) ([]*QueryResult, error) {
	queries, err := ReadQueriesFromFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("read queries: %w", err)
	}

	return b.ProcessQueries(ctx, queries), nil
}

// ReadQueriesFromFile reads one molecule per line as "primary[,brand]".
// Blank lines and # comments are skipped, repeated primaries are dropped.
func ReadQueriesFromFile(filePath string) ([]model.MoleculeQuery, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer func() { _ = file.Close() }()

	var queries []model.MoleculeQuery
	seen := make(map[string]bool)

	scanner := bufio.NewScanner(file)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())

		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		primary, brand, _ := strings.Cut(line, ",")
		q, err := model.NewMoleculeQuery(primary, brand)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}

		key := strings.ToLower(q.PrimaryName)
		if !seen[key] {
			seen[key] = true
			queries = append(queries, q)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan file: %w", err)
	}

	return queries, nil
}
