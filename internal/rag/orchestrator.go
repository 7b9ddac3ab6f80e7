package rag

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/apperr"
	"github.com/hyperjump/kotae/internal/embedding"
	"github.com/hyperjump/kotae/internal/indexer"
	"github.com/hyperjump/kotae/internal/llm"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/prompt"
	"github.com/hyperjump/kotae/internal/vector"
)

// Retriever returns ranked chunks for a query.
type Retriever interface {
	Retrieve(ctx context.Context, query string, k int) (models.RetrievalResult, error)
}

// Orchestrator serves chat turns and fronts the ingestion pipeline. It keeps no
// per-conversation state; every Ask is independent.
type Orchestrator struct {
	retriever         Retriever
	builder           *prompt.Builder
	completer         llm.Completer
	indexer           *indexer.Indexer
	embedder          embedding.Embedder
	store             vector.Store
	k                 int
	completion        llm.Options
	completionTimeout time.Duration
	healthTimeout     time.Duration
	logger            *zap.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithIndexer enables the ingestion entry points.
func WithIndexer(idx *indexer.Indexer) Option {
	return func(o *Orchestrator) { o.indexer = idx }
}

// WithHealthTargets sets the embedder and store probed by Health.
func WithHealthTargets(e embedding.Embedder, s vector.Store) Option {
	return func(o *Orchestrator) {
		o.embedder = e
		o.store = s
	}
}

// WithRetrievalK sets how many chunks each turn retrieves. 0 uses the retriever default.
func WithRetrievalK(k int) Option {
	return func(o *Orchestrator) { o.k = k }
}

// WithCompletionOptions sets generation settings for every turn.
func WithCompletionOptions(opts llm.Options) Option {
	return func(o *Orchestrator) { o.completion = opts }
}

// WithCompletionTimeout bounds the generation phase of a turn.
func WithCompletionTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.completionTimeout = d }
}

// WithHealthTimeout bounds each dependency probe in Health.
func WithHealthTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.healthTimeout = d
		}
	}
}

// WithLogger sets a logger for state transitions.
func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// New creates an orchestrator.
func New(retriever Retriever, builder *prompt.Builder, completer llm.Completer, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		retriever:     retriever,
		builder:       builder,
		completer:     completer,
		healthTimeout: 5 * time.Second,
		logger:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Ask runs one chat turn and returns its event stream. The channel is closed after the
// terminal event, or without one if ctx is canceled first.
func (o *Orchestrator) Ask(ctx context.Context, req models.ChatRequest) <-chan Event {
	out := make(chan Event)
	go o.run(ctx, req, out)
	return out
}

type turn struct {
	o     *Orchestrator
	ctx   context.Context
	out   chan<- Event
	state State
	start time.Time
}

func (t *turn) to(s State) {
	t.o.logger.Debug("chat state",
		zap.String("from", string(t.state)),
		zap.String("to", string(s)),
		zap.Duration("elapsed", time.Since(t.start)))
	t.state = s
}

func (t *turn) emit(e Event) bool {
	select {
	case t.out <- e:
		return true
	case <-t.ctx.Done():
		return false
	}
}

// fail emits the terminal Error unless the caller is already gone.
func (t *turn) fail(err error) {
	if t.ctx.Err() != nil {
		t.o.logger.Debug("chat canceled", zap.String("state", string(t.state)))
		return
	}
	t.to(StateFailed)
	t.o.logger.Error("chat failed", zap.String("kind", string(apperr.KindOf(err))), zap.Error(err))
	t.emit(errorEvent(apperr.Message(err), err))
}

func (o *Orchestrator) run(ctx context.Context, req models.ChatRequest, out chan<- Event) {
	defer close(out)
	t := &turn{o: o, ctx: ctx, out: out, start: time.Now()}

	if err := req.Validate(); err != nil {
		t.fail(err)
		return
	}

	t.to(StateRetrieving)
	result, err := o.retriever.Retrieve(ctx, req.Message, o.k)
	if err != nil {
		t.fail(err)
		return
	}

	t.to(StateBuilding)
	p := o.builder.Build(req.Message, req.ConversationHistory, result)
	if n := o.builder.TokenCount(p); n > 0 {
		o.logger.Debug("prompt assembled", zap.Int("tokens", n), zap.Int("passages", p.Passages))
	}
	if !t.emit(sourcesEvent(result[:p.Passages].Sources())) {
		return
	}

	t.to(StateGenerating)
	genCtx, cancel := ctx, context.CancelFunc(func() {})
	if o.completionTimeout > 0 {
		genCtx, cancel = context.WithTimeout(ctx, o.completionTimeout)
	}
	defer cancel()

	tokens, err := o.completer.Stream(genCtx, p.Messages, o.completion)
	if err != nil {
		t.fail(completionError(genCtx, err))
		return
	}
	fragments := 0
	for {
		select {
		case <-ctx.Done():
			o.logger.Debug("chat canceled", zap.String("state", string(t.state)), zap.Int("fragments", fragments))
			return
		case tok, ok := <-tokens:
			if !ok {
				if genCtx.Err() != nil {
					t.fail(completionError(genCtx, genCtx.Err()))
					return
				}
				t.to(StateDraining)
				if t.emit(Event{Type: EventDone}) {
					t.to(StateDone)
				}
				o.logger.Debug("chat complete", zap.Int("fragments", fragments))
				return
			}
			if tok.Err != nil {
				t.fail(completionError(genCtx, tok.Err))
				return
			}
			fragments++
			if !t.emit(contentEvent(tok.Content)) {
				return
			}
		}
	}
}

// completionError keeps a typed error and classifies anything else as CompletionUnavailable.
func completionError(ctx context.Context, err error) error {
	if apperr.KindOf(err) != apperr.KindInternal {
		return err
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return apperr.CompletionUnavailable("completion timed out", err)
	}
	return apperr.CompletionUnavailable("completion failed", err)
}

// Search runs retrieval only.
func (o *Orchestrator) Search(ctx context.Context, query string, k int) (models.RetrievalResult, error) {
	return o.retriever.Retrieve(ctx, query, k)
}
