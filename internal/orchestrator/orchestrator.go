// Package orchestrator drives a multi-stage response pipeline over knowledge
// retrieval, web search, and LLM completion.
//
// A request walks the states Idle, RAGSearch, LLMExpand, Summarize,
// WebSearch, Compose, Done. Direct-chat requests skip retrieval, web search,
// and summarization. Every stage degrades instead of aborting: a failed
// external call is replaced by a deterministic substitute tagged as degraded,
// and composition works over whatever contributions survived. Only an empty
// query is an error to the caller.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/quarrylabs/quarry/internal/cache"
	"github.com/quarrylabs/quarry/internal/log"
	"github.com/quarrylabs/quarry/internal/query"
	"github.com/quarrylabs/quarry/internal/summarize"
	"github.com/quarrylabs/quarry/internal/websearch"
)

// State identifies one stage of the response pipeline.
type State string

const (
	StateIdle      State = "idle"
	StateRAGSearch State = "rag_search"
	StateLLMExpand State = "llm_expand"
	StateSummarize State = "summarize"
	StateWebSearch State = "web_search"
	StateCompose   State = "compose"
	StateDone      State = "done"
)

// Role identifies the author of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Turn is one conversation turn. Turns are never mutated once appended.
type Turn struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Defaults for the pipeline.
const (
	// DefaultStageTimeout bounds each external call.
	DefaultStageTimeout = 30 * time.Second

	// DefaultMaxHistoryTurns bounds the conversation window passed to the
	// LLM. Older turns are dropped, newest kept.
	DefaultMaxHistoryTurns = 100

	// DefaultTopK is how many knowledge matches the retrieval stage asks for.
	DefaultTopK = 5

	// maxExpansionMatches caps how many matches feed the degraded expansion.
	maxExpansionMatches = 3

	// snippetLimit truncates citation snippets.
	snippetLimit = 300
)

// apologyMessage is returned when composition itself fails.
const apologyMessage = "I'm sorry, but something went wrong while preparing your answer. Please try again."

// degradedNote is appended to an answer assembled from degraded contributions.
const degradedNote = "Note: some of my sources were unavailable, so this answer may be incomplete."

// CompleteOptions tunes one LLM completion.
type CompleteOptions struct {
	Temperature float64
	MaxTokens   int
}

// LLM produces a completion for a conversation.
type LLM interface {
	Complete(ctx context.Context, turns []Turn, opts CompleteOptions) (string, error)
}

// KnowledgeSearcher retrieves ranked knowledge-base matches for an owner.
type KnowledgeSearcher interface {
	Search(ctx context.Context, ownerID, q string, opts ...query.SearchOption) ([]query.Match, error)
}

// WebSearcher runs a web search.
type WebSearcher interface {
	Search(ctx context.Context, q string, settings map[string]string) (*websearch.Response, error)
}

// ProgressFunc is invoked synchronously before each state begins. Panics are
// swallowed so a misbehaving observer cannot abort a request.
type ProgressFunc func(State)

// StageResult is the outcome of one stage: the value it contributed, and
// whether that value is a degraded substitute recorded with its cause.
type StageResult[T any] struct {
	Value    T
	Degraded bool
	Err      error
}

// CitationKind distinguishes knowledge-base citations from web citations.
type CitationKind string

const (
	CitationKnowledge CitationKind = "knowledge"
	CitationWeb       CitationKind = "web"
)

// Citation points at one supporting source of the answer.
type Citation struct {
	Kind     CitationKind `json:"kind"`
	Title    string       `json:"title,omitempty"`
	Source   string       `json:"source"`
	Snippet  string       `json:"snippet,omitempty"`
	Score    float64      `json:"score,omitempty"`
	Position int          `json:"position,omitempty"`
}

// Request is one orchestrated question.
type Request struct {
	OwnerID string
	Query   string

	// History is the prior conversation, oldest first. The orchestrator
	// appends the user turn and the assistant turn; callers keep the
	// returned history for the next request.
	History []Turn

	// DirectChat skips retrieval, summarization, and web search.
	DirectChat bool

	// SearchSettings is passed through to the web search provider and
	// participates in the cache key.
	SearchSettings map[string]string
}

// Response is the composed answer.
type Response struct {
	ID        string
	Answer    string
	Citations []Citation

	// Degraded reports whether any stage contributed a substitute output.
	Degraded bool

	// History is the conversation including the new user and assistant turns.
	History []Turn

	Elapsed time.Duration
}

// contributions collects stage outputs for composition.
type contributions struct {
	kb       StageResult[[]query.Match]
	expanded StageResult[string]
	summary  StageResult[string]
	web      StageResult[*websearch.Response]
}

// Orchestrator runs the response pipeline. Safe for concurrent use.
type Orchestrator struct {
	llm       LLM
	knowledge KnowledgeSearcher
	web       WebSearcher
	results   *cache.Cache
	fallback  *summarize.Extractive
	logger    log.Logger

	limiter      *rate.Limiter
	retry        RetryConfig
	progress     ProgressFunc
	stageTimeout time.Duration
	maxHistory   int
	topK         int
	completeOpts CompleteOptions

	// searchSettings is the baseline passed to the web provider; per-request
	// settings override matching keys.
	searchSettings map[string]string

	// composeFn is replaceable so composition failure paths are testable.
	composeFn func(*contributions) (string, []Citation)

	// afterRespond runs fire-and-forget once a response is ready; its
	// failures are logged and never reach the caller.
	afterRespond func(Response)
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithWebSearch enables the web search stage. Without it the stage always
// contributes a degraded (empty) result.
func WithWebSearch(w WebSearcher) Option {
	return func(o *Orchestrator) { o.web = w }
}

// WithCache sets the result cache consulted before web searches.
func WithCache(c *cache.Cache) Option {
	return func(o *Orchestrator) { o.results = c }
}

// WithProgress registers a per-state progress callback.
func WithProgress(fn ProgressFunc) Option {
	return func(o *Orchestrator) { o.progress = fn }
}

// WithRateLimiter limits LLM call frequency. Each retry attempt waits on it.
func WithRateLimiter(l *rate.Limiter) Option {
	return func(o *Orchestrator) { o.limiter = l }
}

// WithRetryConfig overrides the LLM retry policy.
func WithRetryConfig(rc RetryConfig) Option {
	return func(o *Orchestrator) { o.retry = rc }
}

// WithStageTimeout bounds each external call.
func WithStageTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.stageTimeout = d
		}
	}
}

// WithMaxHistoryTurns bounds the conversation window sent to the LLM.
func WithMaxHistoryTurns(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxHistory = n
		}
	}
}

// WithTopK sets how many knowledge matches retrieval requests.
func WithTopK(k int) Option {
	return func(o *Orchestrator) {
		if k > 0 {
			o.topK = k
		}
	}
}

// WithCompleteOptions sets the temperature and token limit applied to every
// LLM completion.
func WithCompleteOptions(co CompleteOptions) Option {
	return func(o *Orchestrator) { o.completeOpts = co }
}

// WithSearchSettings sets baseline web search settings, e.g. the result
// language. Per-request settings override matching keys.
func WithSearchSettings(settings map[string]string) Option {
	return func(o *Orchestrator) { o.searchSettings = settings }
}

// WithAfterRespond registers a fire-and-forget hook invoked with each
// completed response, e.g. to hand it to a speech synthesizer.
func WithAfterRespond(fn func(Response)) Option {
	return func(o *Orchestrator) { o.afterRespond = fn }
}

// New creates an Orchestrator. llm and knowledge are required; web search
// and caching are optional.
func New(llm LLM, knowledge KnowledgeSearcher, logger log.Logger, opts ...Option) (*Orchestrator, error) {
	if llm == nil {
		return nil, fmt.Errorf("llm provider is required")
	}
	if knowledge == nil {
		return nil, fmt.Errorf("knowledge searcher is required")
	}
	if logger == nil {
		logger = log.NewNop()
	}

	o := &Orchestrator{
		llm:          llm,
		knowledge:    knowledge,
		fallback:     summarize.NewExtractive(),
		logger:       logger,
		retry:        DefaultRetryConfig(),
		stageTimeout: DefaultStageTimeout,
		maxHistory:   DefaultMaxHistoryTurns,
		topK:         DefaultTopK,
	}
	o.composeFn = o.compose
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Respond runs the full pipeline for one request. It fails only on an empty
// query or a canceled context; provider failures degrade the answer instead.
func (o *Orchestrator) Respond(ctx context.Context, req Request) (*Response, error) {
	q := strings.TrimSpace(req.Query)
	if q == "" {
		return nil, query.ErrEmptyQuery
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("request aborted: %w", err)
	}

	start := time.Now()
	id := uuid.NewString()
	history := o.window(append(slices.Clone(req.History), Turn{
		Role:      RoleUser,
		Content:   q,
		Timestamp: start,
	}))

	o.emit(StateIdle)
	var c contributions

	if !req.DirectChat {
		o.emit(StateRAGSearch)
		c.kb = o.searchKnowledge(ctx, req.OwnerID, q)
	}

	o.emit(StateLLMExpand)
	c.expanded = o.expand(ctx, history, c.kb.Value)

	if !req.DirectChat {
		o.emit(StateSummarize)
		c.summary = o.summarizeStage(ctx, q, c.expanded.Value)

		o.emit(StateWebSearch)
		c.web = o.searchWeb(ctx, q, o.mergeSettings(req.SearchSettings))
	}

	// Provider failures degrade, but the caller walking away does not: a
	// canceled request is an error, not a degraded answer.
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("request aborted: %w", err)
	}

	o.emit(StateCompose)
	answer, citations := o.composeSafely(&c)

	history = append(history, Turn{
		Role:      RoleAssistant,
		Content:   answer,
		Timestamp: time.Now(),
	})
	o.emit(StateDone)

	resp := &Response{
		ID:        id,
		Answer:    answer,
		Citations: citations,
		Degraded:  c.kb.Degraded || c.expanded.Degraded || c.summary.Degraded || c.web.Degraded,
		History:   history,
		Elapsed:   time.Since(start),
	}

	if o.afterRespond != nil {
		go func(r Response) {
			defer func() {
				if p := recover(); p != nil {
					o.logger.Warn("after-respond hook panicked", "request_id", r.ID, "panic", p)
				}
			}()
			o.afterRespond(r)
		}(*resp)
	}

	o.logger.Info("response composed",
		"request_id", id,
		"degraded", resp.Degraded,
		"citations", len(citations),
		"elapsed", resp.Elapsed,
	)
	return resp, nil
}

// emit invokes the progress callback, swallowing panics.
func (o *Orchestrator) emit(s State) {
	if o.progress == nil {
		return
	}
	defer func() {
		if p := recover(); p != nil {
			o.logger.Warn("progress callback panicked", "state", s, "panic", p)
		}
	}()
	o.progress(s)
}

// mergeSettings overlays per-request settings on the configured baseline.
func (o *Orchestrator) mergeSettings(reqSettings map[string]string) map[string]string {
	if len(o.searchSettings) == 0 {
		return reqSettings
	}
	merged := make(map[string]string, len(o.searchSettings)+len(reqSettings))
	for k, v := range o.searchSettings {
		merged[k] = v
	}
	for k, v := range reqSettings {
		merged[k] = v
	}
	return merged
}

// window bounds the conversation to the newest maxHistory turns.
func (o *Orchestrator) window(h []Turn) []Turn {
	if len(h) <= o.maxHistory {
		return h
	}
	return h[len(h)-o.maxHistory:]
}

func (o *Orchestrator) stageContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, o.stageTimeout)
}

// searchKnowledge runs the retrieval stage. On failure the stage contributes
// no matches and is tagged degraded.
func (o *Orchestrator) searchKnowledge(ctx context.Context, ownerID, q string) StageResult[[]query.Match] {
	sctx, cancel := o.stageContext(ctx)
	defer cancel()

	matches, err := o.knowledge.Search(sctx, ownerID, q, query.WithTopK(o.topK))
	if err != nil {
		o.logger.Warn("knowledge search degraded", "owner_id", ownerID, "error", err)
		return StageResult[[]query.Match]{Degraded: true, Err: err}
	}
	return StageResult[[]query.Match]{Value: matches}
}

// expand asks the LLM to answer the question grounded in the retrieved
// matches. The degraded substitute is the raw match content itself, which is
// deterministic and still useful to compose over.
func (o *Orchestrator) expand(ctx context.Context, history []Turn, matches []query.Match) StageResult[string] {
	sctx, cancel := o.stageContext(ctx)
	defer cancel()

	turns := history
	if len(matches) > 0 {
		sys := Turn{
			Role:      RoleSystem,
			Content:   "Use the following reference material when answering:\n\n" + joinMatches(matches, len(matches)),
			Timestamp: time.Now(),
		}
		turns = append([]Turn{sys}, history...)
	}

	text, err := o.completeWithRetry(sctx, turns, o.completeOpts)
	if err != nil {
		o.logger.Warn("llm expansion degraded", "error", err)
		return StageResult[string]{Value: joinMatches(matches, maxExpansionMatches), Degraded: true, Err: err}
	}
	return StageResult[string]{Value: text}
}

// summarizeStage condenses the expanded context via the LLM, falling back to
// the deterministic extractive summarizer on failure.
func (o *Orchestrator) summarizeStage(ctx context.Context, q, text string) StageResult[string] {
	if strings.TrimSpace(text) == "" {
		return StageResult[string]{}
	}

	sctx, cancel := o.stageContext(ctx)
	defer cancel()

	prompt := []Turn{
		{
			Role:      RoleSystem,
			Content:   "Summarize the assistant's draft answer into a concise response. Keep facts, drop filler.",
			Timestamp: time.Now(),
		},
		{Role: RoleUser, Content: q, Timestamp: time.Now()},
		{Role: RoleAssistant, Content: text, Timestamp: time.Now()},
	}
	summary, err := o.completeWithRetry(sctx, prompt, o.completeOpts)
	if err != nil {
		o.logger.Warn("summarization degraded, using extractive fallback", "error", err)
		return StageResult[string]{
			Value:    o.fallback.Summarize(text, summarize.DefaultMaxSentences),
			Degraded: true,
			Err:      err,
		}
	}
	return StageResult[string]{Value: summary}
}

// searchWeb consults the result cache, then the provider. Cache failures are
// misses; provider failures degrade to an empty result.
func (o *Orchestrator) searchWeb(ctx context.Context, q string, settings map[string]string) StageResult[*websearch.Response] {
	if o.web == nil {
		return StageResult[*websearch.Response]{Degraded: true, Err: fmt.Errorf("no web search provider configured")}
	}

	if o.results != nil {
		if raw, ok := o.results.Get(q, settings); ok {
			var cached websearch.Response
			if err := json.Unmarshal([]byte(raw), &cached); err == nil {
				return StageResult[*websearch.Response]{Value: &cached}
			}
			// Undecodable entry, treat as a miss.
			o.logger.Warn("discarding undecodable cached search result", "query", q)
		}
	}

	sctx, cancel := o.stageContext(ctx)
	defer cancel()

	resp, err := o.web.Search(sctx, q, settings)
	if err != nil {
		o.logger.Warn("web search degraded", "error", err)
		return StageResult[*websearch.Response]{Degraded: true, Err: err}
	}

	if o.results != nil {
		if raw, err := json.Marshal(resp); err == nil {
			o.results.Set(q, string(raw), settings)
		}
	}
	return StageResult[*websearch.Response]{Value: resp}
}

// composeSafely applies the degrade-not-abort policy to composition itself:
// a panic yields the apology message instead of reaching the caller.
func (o *Orchestrator) composeSafely(c *contributions) (answer string, citations []Citation) {
	defer func() {
		if p := recover(); p != nil {
			o.logger.Error("compose failed", "panic", p)
			answer = apologyMessage
			citations = nil
		}
	}()
	return o.composeFn(c)
}

// compose assembles the final answer from whatever the stages produced,
// real or degraded, plus a citation list.
func (o *Orchestrator) compose(c *contributions) (string, []Citation) {
	body := strings.TrimSpace(c.summary.Value)
	if body == "" {
		body = strings.TrimSpace(c.expanded.Value)
	}
	if body == "" && len(c.kb.Value) > 0 {
		body = joinMatches(c.kb.Value, maxExpansionMatches)
	}
	if body == "" {
		body = "I wasn't able to gather any supporting material for this question right now."
	}

	var citations []Citation
	for _, m := range c.kb.Value {
		citations = append(citations, Citation{
			Kind:    CitationKnowledge,
			Source:  m.Source,
			Snippet: truncate(m.Content, snippetLimit),
			Score:   float64(m.Score),
		})
	}
	if c.web.Value != nil {
		for _, r := range c.web.Value.Results {
			citations = append(citations, Citation{
				Kind:     CitationWeb,
				Title:    r.Title,
				Source:   r.URL,
				Snippet:  truncate(r.Snippet, snippetLimit),
				Position: r.Position,
			})
		}
	}

	if c.kb.Degraded || c.expanded.Degraded || c.summary.Degraded || c.web.Degraded {
		body += "\n\n" + degradedNote
	}
	return body, citations
}

// joinMatches concatenates up to limit match contents, separated by blank
// lines, preserving rank order.
func joinMatches(matches []query.Match, limit int) string {
	if limit > len(matches) {
		limit = len(matches)
	}
	parts := make([]string, 0, limit)
	for _, m := range matches[:limit] {
		if s := strings.TrimSpace(m.Content); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "\n\n")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
