package processor

import (
	"context"

	exchange "github.com/goliatone/go-exchange"
	"github.com/goliatone/go-exchange/ordering"
	apperrors "github.com/goliatone/go-errors"
)

// Pipeline runs stages one after another on the same exchange. Synchronous
// stages continue on the calling goroutine; when a stage goes asynchronous
// the rest of the chain resumes on the goroutine that completes it. A
// failure on the exchange stops the chain.
type Pipeline struct {
	stages []AsyncProcessor
}

func NewPipeline(stages ...AsyncProcessor) *Pipeline {
	kept := make([]AsyncProcessor, 0, len(stages))
	for _, s := range stages {
		if s != nil {
			kept = append(kept, s)
		}
	}
	return &Pipeline{stages: kept}
}

// NewOrderedPipeline sorts stages by priority before chaining them. Stages
// without a priority rank as 0; equal ranks keep their given order.
func NewOrderedPipeline(order ordering.Order, stages ...AsyncProcessor) *Pipeline {
	return NewPipeline(ordering.Sorted(stages, order)...)
}

func (p *Pipeline) Len() int { return len(p.stages) }

func (p *Pipeline) Process(ctx context.Context, ex *exchange.Exchange, cb Callback) bool {
	return p.run(ctx, ex, 0, cb, true)
}

func (p *Pipeline) run(ctx context.Context, ex *exchange.Exchange, from int, cb Callback, sync bool) bool {
	for i := from; i < len(p.stages); i++ {
		if !continueWith(ctx, ex, i, len(p.stages)) {
			break
		}
		next := i + 1
		done := p.stages[i].Process(ctx, ex, CallbackFunc(func(doneSync bool) {
			if doneSync {
				return
			}
			p.run(ctx, ex, next, cb, false)
		}))
		if !done {
			return false
		}
	}
	cb.Done(sync)
	return sync
}

func continueWith(ctx context.Context, ex *exchange.Exchange, index, total int) bool {
	if ex.IsFailed() {
		return false
	}
	if err := ctx.Err(); err != nil {
		ex.SetFailure(apperrors.Wrap(err, apperrors.CategoryOperation, "pipeline cancelled").
			WithTextCode(ErrCodePipelineCancelled).
			WithMetadata(map[string]any{
				"exchange_id":      ex.ID(),
				"completed_stages": index,
				"total_stages":     total,
			}))
		return false
	}
	return true
}

// Ranked gives a stage a priority for NewOrderedPipeline.
func Ranked(p AsyncProcessor, priority int) AsyncProcessor {
	return rankedProcessor{AsyncProcessor: p, priority: priority}
}

type rankedProcessor struct {
	AsyncProcessor
	priority int
}

func (r rankedProcessor) Priority() int { return r.priority }
