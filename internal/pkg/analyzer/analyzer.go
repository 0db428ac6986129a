package analyzer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/airenas/go-app/pkg/goapp"
	"github.com/airenas/voxinsight/internal/pkg/persistence"
	"github.com/airenas/voxinsight/internal/pkg/utils"
	"github.com/spf13/viper"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

// Completer sends prompts to the language model
type Completer interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// Analyzer produces structured analysis of a transcript
type Analyzer struct {
	llm       Completer
	chunkSize int
	parallel  int
	timeout   time.Duration

	merge func([]*segment) *persistence.AnalysisData
}

const (
	defaultChunkSize = 12000
	defaultParallel  = 3
	defaultTimeout   = 5 * time.Minute
)

// New creates analyzer.
// chunkSize is measured in runes, timeout is a deadline for one model request
func New(llm Completer, chunkSize, parallel int, timeout time.Duration) (*Analyzer, error) {
	if llm == nil {
		return nil, fmt.Errorf("no llm")
	}
	if chunkSize < 1 {
		return nil, fmt.Errorf("wrong chunk size %d", chunkSize)
	}
	if parallel < 1 {
		return nil, fmt.Errorf("wrong parallel %d", parallel)
	}
	if timeout <= 0 {
		return nil, fmt.Errorf("wrong timeout %v", timeout)
	}
	return &Analyzer{llm: llm, chunkSize: chunkSize, parallel: parallel, timeout: timeout, merge: merge}, nil
}

// NewFromConfig reads analyzer.chunkSize, analyzer.parallel, analyzer.timeout
func NewFromConfig(llm Completer, cfg *viper.Viper) (*Analyzer, error) {
	chunkSize, parallel, timeout := defaultChunkSize, defaultParallel, defaultTimeout
	if cfg != nil {
		if v := cfg.GetInt("analyzer.chunkSize"); v != 0 {
			chunkSize = v
		}
		if v := cfg.GetInt("analyzer.parallel"); v != 0 {
			parallel = v
		}
		if v := cfg.GetDuration("analyzer.timeout"); v != 0 {
			timeout = v
		}
	}
	return New(llm, chunkSize, parallel, timeout)
}

// Timeout returns the deadline of one model request
func (a *Analyzer) Timeout() time.Duration {
	return a.timeout
}

// Analyze runs the model over text, splitting it into chunks if text is longer than chunk size
func (a *Analyzer) Analyze(ctx context.Context, text string) (*persistence.AnalysisData, error) {
	if strings.TrimSpace(text) == "" {
		return nil, utils.NewValidationErr(fmt.Errorf("empty transcript"))
	}
	chunks := split(text, a.chunkSize)
	if len(chunks) == 1 {
		seg, err := a.analyzeOne(ctx, chunks[0], 0, 1)
		if err != nil {
			return nil, err
		}
		return finalize(&seg.data, seg.hasSentiment), nil
	}
	goapp.Log.Info().Int("chunks", len(chunks)).Int("size", a.chunkSize).Msg("analyze in chunks")

	res := make([]*segment, len(chunks))
	errs := make([]error, len(chunks))
	g := &errgroup.Group{}
	g.SetLimit(a.parallel)
	for i, c := range chunks {
		i, c := i, c
		g.Go(func() error {
			seg, err := a.analyzeOne(ctx, c, i, len(chunks))
			if err != nil {
				goapp.Log.Warn().Err(err).Int("chunk", i).Msg("chunk dropped")
				errs[i] = fmt.Errorf("chunk %d: %w", i, err)
				return nil
			}
			res[i] = seg
			return nil
		})
	}
	_ = g.Wait()

	ok := 0
	for _, s := range res {
		if s != nil {
			ok++
		}
	}
	if ok == 0 {
		return nil, fmt.Errorf("all %d chunks failed: %w", len(chunks), multierr.Combine(errs...))
	}
	return a.merge(res), nil
}

func (a *Analyzer) analyzeOne(ctx context.Context, text string, i, n int) (*segment, error) {
	ctx, cf := context.WithTimeout(ctx, a.timeout)
	defer cf()
	resp, err := a.llm.Complete(ctx, systemPrompt, userPrompt(text, i, n))
	if err != nil {
		return nil, fmt.Errorf("can't analyze: %w", err)
	}
	res, err := parse(resp)
	if err != nil {
		goapp.Log.Warn().Err(err).Int("chunk", i).Msg("degraded to raw result")
	}
	return res, nil
}

// split cuts text into contiguous chunks of at most size runes
func split(text string, size int) []string {
	r := []rune(text)
	if len(r) <= size {
		return []string{text}
	}
	res := make([]string, 0, len(r)/size+1)
	for i := 0; i < len(r); i += size {
		end := i + size
		if end > len(r) {
			end = len(r)
		}
		res = append(res, string(r[i:end]))
	}
	return res
}
