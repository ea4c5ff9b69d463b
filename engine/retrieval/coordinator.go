package retrieval

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/palisade-ai/palisade/engine/core"
	"github.com/palisade-ai/palisade/engine/retrieval/embedder"
	"github.com/palisade-ai/palisade/engine/retrieval/graphdb"
	"github.com/palisade-ai/palisade/engine/retrieval/vectordb"
	"github.com/palisade-ai/palisade/pkg/logger"
)

// Source identifies which store produced an item. Vector results outrank
// graph results on score ties.
type Source string

const (
	SourceVector Source = "vector"
	SourceGraph  Source = "graph"
)

// Item is one ranked piece of retrieved context, ephemeral and scoped to a
// single request.
type Item struct {
	Source     Source
	Score      float64
	Content    string
	Scope      core.Scope
	Provenance string
}

// Result is the joined, ranked output of one retrieval fan-out. Degraded is
// set when either source failed; retrieval failure is never fatal.
type Result struct {
	Items    []Item
	Degraded bool
}

// Options tunes one coordinator instance.
type Options struct {
	DefaultTopK   int
	MaxHops       int
	MinScore      float64
	VectorTimeout time.Duration
	GraphTimeout  time.Duration
}

func (o *Options) withDefaults() Options {
	out := Options{DefaultTopK: 5, MaxHops: 2, VectorTimeout: 5 * time.Second, GraphTimeout: 5 * time.Second}
	if o == nil {
		return out
	}
	if o.DefaultTopK > 0 {
		out.DefaultTopK = o.DefaultTopK
	}
	if o.MaxHops > 0 {
		out.MaxHops = o.MaxHops
	}
	if o.MinScore > 0 {
		out.MinScore = o.MinScore
	}
	if o.VectorTimeout > 0 {
		out.VectorTimeout = o.VectorTimeout
	}
	if o.GraphTimeout > 0 {
		out.GraphTimeout = o.GraphTimeout
	}
	return out
}

// Coordinator fans one query out to the vector and graph stores, verifies
// scope tags, and merges both result sets into a single ranked sequence.
// Either store may be nil; the coordinator degrades instead of failing.
type Coordinator struct {
	embedder embedder.Embedder
	vectors  vectordb.Store
	graph    graphdb.Store
	opts     Options
	tracer   trace.Tracer
}

func NewCoordinator(emb embedder.Embedder, vectors vectordb.Store, graph graphdb.Store, opts *Options) (*Coordinator, error) {
	if vectors != nil && emb == nil {
		return nil, errors.New("retrieval: embedder is required when a vector store is configured")
	}
	return &Coordinator{
		embedder: emb,
		vectors:  vectors,
		graph:    graph,
		opts:     opts.withDefaults(),
		tracer:   otel.Tracer("palisade.retrieval"),
	}, nil
}

type sourceBatch struct {
	items []Item
	err   error
}

// Retrieve runs the fan-out/join for one request. Both lookups are issued
// concurrently and constrained to the effective scope; an item tagged outside
// that scope, whether a foreign division or a sibling department, is dropped,
// never surfaced. The returned sequence is bounded by topK after
// merge-ranking, not per source.
func (c *Coordinator) Retrieve(ctx context.Context, queryText string, scope core.Scope, topK int) (*Result, error) {
	log := logger.FromContext(ctx).With("division", scope.DivisionID)
	if strings.TrimSpace(queryText) == "" {
		return &Result{}, nil
	}
	if topK <= 0 {
		topK = c.opts.DefaultTopK
	}
	start := time.Now()
	ctx, span := c.tracer.Start(ctx, "palisade.retrieval.retrieve", trace.WithAttributes(
		attribute.String("division", scope.DivisionID),
		attribute.Int("top_k", topK),
	))
	defer span.End()

	var vector, graph sourceBatch
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		vector = c.searchVectors(groupCtx, queryText, scope, topK)
		return nil
	})
	group.Go(func() error {
		graph = c.traverseGraph(groupCtx, queryText, scope, topK)
		return nil
	})
	_ = group.Wait()

	degraded := false
	if vector.err != nil {
		degraded = true
		recordSourceFailure(ctx, scope.DivisionID, SourceVector)
		log.Warn("vector retrieval failed, degrading", "error", core.RedactError(vector.err))
	}
	if graph.err != nil {
		degraded = true
		recordSourceFailure(ctx, scope.DivisionID, SourceGraph)
		log.Warn("graph retrieval failed, degrading", "error", core.RedactError(graph.err))
	}

	items := mergeRanked(
		c.verifyScope(ctx, scope, vector.items),
		c.verifyScope(ctx, scope, graph.items),
		topK,
	)
	recordQueryLatency(ctx, scope.DivisionID, time.Since(start))
	span.SetAttributes(attribute.Int("results", len(items)), attribute.Bool("degraded", degraded))
	if vector.err != nil && graph.err != nil {
		span.SetStatus(codes.Error, "both retrieval sources failed")
	}
	log.Debug("retrieval joined", "results", len(items), "degraded", degraded)
	return &Result{Items: items, Degraded: degraded}, nil
}

func (c *Coordinator) searchVectors(ctx context.Context, queryText string, scope core.Scope, topK int) sourceBatch {
	if c.vectors == nil {
		return sourceBatch{err: errors.New("retrieval: vector store not configured")}
	}
	ctx, cancel := context.WithTimeout(ctx, c.opts.VectorTimeout)
	defer cancel()
	ctx, span := c.tracer.Start(ctx, "palisade.retrieval.vector_search")
	defer span.End()
	vectorQuery, err := c.embedder.EmbedQuery(ctx, queryText)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return sourceBatch{err: fmt.Errorf("embed query: %w", err)}
	}
	matches, err := c.vectors.Search(ctx, vectordb.CollectionForScope(scope), vectorQuery, vectordb.SearchOptions{
		TopK:     topK,
		MinScore: c.opts.MinScore,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return sourceBatch{err: err}
	}
	items := make([]Item, 0, len(matches))
	for _, match := range matches {
		items = append(items, Item{
			Source:     SourceVector,
			Score:      match.Score,
			Content:    match.Text,
			Scope:      match.Scope,
			Provenance: "vector:" + match.ID,
		})
	}
	span.SetAttributes(attribute.Int("matches", len(items)))
	return sourceBatch{items: items}
}

func (c *Coordinator) traverseGraph(ctx context.Context, queryText string, scope core.Scope, topK int) sourceBatch {
	if c.graph == nil {
		return sourceBatch{err: errors.New("retrieval: graph store not configured")}
	}
	ctx, cancel := context.WithTimeout(ctx, c.opts.GraphTimeout)
	defer cancel()
	ctx, span := c.tracer.Start(ctx, "palisade.retrieval.graph_traverse")
	defer span.End()
	hits, err := c.graph.Traverse(ctx, scope.DivisionID, seedTerms(queryText), c.opts.MaxHops)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return sourceBatch{err: err}
	}
	if len(hits) > topK {
		hits = hits[:topK]
	}
	items := make([]Item, 0, len(hits))
	for _, hit := range hits {
		items = append(items, Item{
			Source: SourceGraph,
			// Closer entities score higher; depth 0 is an exact seed match.
			Score:      1 / float64(1+hit.Depth),
			Content:    renderEntity(hit.Entity),
			Scope:      core.Scope{DivisionID: hit.Entity.DivisionID},
			Provenance: "graph:" + hit.Entity.ID,
		})
	}
	span.SetAttributes(attribute.Int("matches", len(items)))
	return sourceBatch{items: items}
}

// verifyScope drops any item outside the request's effective scope. A foreign
// division tag means a store returned data it never should have; a sibling
// department tag is just as invisible when the effective scope names a
// department. Items with no department tag, such as graph entities, are
// division-wide. Every drop is logged as a security event.
func (c *Coordinator) verifyScope(ctx context.Context, scope core.Scope, items []Item) []Item {
	kept := items[:0]
	for _, item := range items {
		divisionWide := item.Scope.SameDivision(scope) && item.Scope.DepartmentID == ""
		if divisionWide || scope.Contains(item.Scope) {
			kept = append(kept, item)
			continue
		}
		recordScopeDrop(ctx, scope.DivisionID, item.Source)
		logger.FromContext(ctx).Error("dropped item with foreign scope tag",
			"effective_scope", scope.String(),
			"item_scope", item.Scope.String(),
			"source", string(item.Source),
			"provenance", item.Provenance,
		)
	}
	return kept
}

// mergeRanked normalizes each source's scores to [0,1] independently, then
// orders by normalized score descending. Ties break by source priority
// (vector before graph), then insertion order.
func mergeRanked(vector, graph []Item, topK int) []Item {
	normalize(vector)
	normalize(graph)
	merged := make([]Item, 0, len(vector)+len(graph))
	merged = append(merged, vector...)
	merged = append(merged, graph...)
	sort.SliceStable(merged, func(i, j int) bool {
		if merged[i].Score == merged[j].Score {
			return sourceRank(merged[i].Source) < sourceRank(merged[j].Source)
		}
		return merged[i].Score > merged[j].Score
	})
	if topK > 0 && len(merged) > topK {
		merged = merged[:topK]
	}
	return merged
}

// normalize min-max scales scores within one batch. A single-item batch, or a
// batch with uniform scores, normalizes to 1.
func normalize(items []Item) {
	if len(items) == 0 {
		return
	}
	minScore, maxScore := items[0].Score, items[0].Score
	for _, item := range items[1:] {
		if item.Score < minScore {
			minScore = item.Score
		}
		if item.Score > maxScore {
			maxScore = item.Score
		}
	}
	span := maxScore - minScore
	for i := range items {
		if span == 0 {
			items[i].Score = 1
			continue
		}
		items[i].Score = (items[i].Score - minScore) / span
	}
}

func sourceRank(s Source) int {
	if s == SourceVector {
		return 0
	}
	return 1
}

// seedTerms tokenizes the query into candidate graph seeds. Entity matching
// itself happens inside the graph store.
func seedTerms(queryText string) []string {
	fields := strings.FieldsFunc(strings.ToLower(queryText), func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9' || r == '-' || r == '_')
	})
	terms := make([]string, 0, len(fields))
	for _, field := range fields {
		if len(field) > 2 {
			terms = append(terms, field)
		}
	}
	return terms
}

func renderEntity(entity graphdb.Entity) string {
	var b strings.Builder
	b.WriteString(entity.Type)
	b.WriteString(" ")
	if entity.Name != "" {
		b.WriteString(entity.Name)
	} else {
		b.WriteString(entity.ID)
	}
	keys := make([]string, 0, len(entity.Properties))
	for k := range entity.Properties {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteString(fmt.Sprintf("; %s=%s", k, entity.Properties[k]))
	}
	return b.String()
}
