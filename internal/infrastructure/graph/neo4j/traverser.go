package neo4j

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/ametov/corpus-qa/internal/core/domain"
)

const (
	maxSeedEntities        = 16
	defaultMaxVisitedNodes = 200
)

// Traverser expands query terms through the entity graph and maps the hit
// entities back to their source chunks. Graph schema:
//
//	(:Entity {name})-[:RELATES_TO]-(:Entity)
//	(:Entity)-[:MENTIONED_IN]->(:Chunk {id, doc_id, project_id, position, text})
//
// Traversal is bounded twice: by hop depth (baked into the Cypher pattern,
// the driver cannot parameterize variable-length bounds) and by a visited
// node cap, so a dense graph cannot blow up a request.
type Traverser struct {
	driver   neo4j.DriverWithContext
	database string
	maxNodes int
}

func NewTraverser(uri, username, password, database string, maxNodes int) (*Traverser, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(username, password, ""))
	if err != nil {
		return nil, fmt.Errorf("create neo4j driver: %w", err)
	}
	if maxNodes <= 0 {
		maxNodes = defaultMaxVisitedNodes
	}
	return &Traverser{driver: driver, database: database, maxNodes: maxNodes}, nil
}

func (t *Traverser) Close(ctx context.Context) error {
	return t.driver.Close(ctx)
}

func (t *Traverser) Traverse(
	ctx context.Context,
	seeds []string,
	maxHops, k int,
	filter domain.SearchFilter,
) ([]domain.RetrievalCandidate, error) {
	seeds = normalizeSeeds(seeds)
	if len(seeds) == 0 || k <= 0 {
		return nil, nil
	}
	if maxHops < 0 {
		maxHops = 0
	}

	session := t.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeRead,
		DatabaseName: t.database,
	})
	defer session.Close(ctx)

	records, err := neo4j.ExecuteRead(ctx, session,
		func(tx neo4j.ManagedTransaction) ([]*neo4j.Record, error) {
			result, err := tx.Run(ctx, traversalQuery(maxHops), map[string]any{
				"seeds":      seeds,
				"seedLimit":  maxSeedEntities,
				"nodeLimit":  t.maxNodes,
				"projectId":  filter.ProjectID,
				"documentId": filter.DocumentID,
				"k":          k,
			})
			if err != nil {
				return nil, err
			}
			return result.Collect(ctx)
		})
	if err != nil {
		return nil, domain.WrapError(domain.ErrRetrievalUnavailable, "neo4j.traverse", err)
	}

	out := make([]domain.RetrievalCandidate, 0, len(records))
	for _, record := range records {
		chunkID := recordString(record, "chunkId")
		if chunkID == "" {
			continue
		}
		hops := recordInt(record, "hops")
		out = append(out, domain.RetrievalCandidate{
			ChunkID:      chunkID,
			DocumentID:   recordString(record, "documentId"),
			Text:         recordString(record, "text"),
			Score:        hopScore(hops),
			Backend:      domain.BackendGraph,
			Position:     int(recordInt(record, "position")),
			GraphContext: graphContext(recordStrings(record, "entities"), hops),
		})
	}
	return out, nil
}

// traversalQuery interpolates only the hop bound, which is a validated
// non-negative integer, never user input.
func traversalQuery(maxHops int) string {
	return fmt.Sprintf(`
UNWIND $seeds AS seed
MATCH (e:Entity) WHERE toLower(e.name) CONTAINS seed
WITH DISTINCT e LIMIT $seedLimit
MATCH path = (e)-[:RELATES_TO*0..%d]-(related:Entity)
WITH related, min(length(path)) AS hops
ORDER BY hops ASC
LIMIT $nodeLimit
MATCH (related)-[:MENTIONED_IN]->(c:Chunk)
WHERE ($projectId = '' OR c.project_id = $projectId)
  AND ($documentId = '' OR c.doc_id = $documentId)
WITH c, min(hops) AS hops, collect(DISTINCT related.name)[0..5] AS entities
RETURN c.id AS chunkId, c.doc_id AS documentId, coalesce(c.text, '') AS text,
       coalesce(c.position, 0) AS position, hops, entities
ORDER BY hops ASC, chunkId ASC
LIMIT $k`, maxHops)
}

// hopScore decays with graph distance: a direct entity match scores 1.0,
// each hop away halves relevance roughly via 1/(1+hops).
func hopScore(hops int64) float64 {
	if hops < 0 {
		hops = 0
	}
	return 1.0 / (1.0 + float64(hops))
}

func graphContext(entities []string, hops int64) string {
	if len(entities) == 0 {
		return ""
	}
	sort.Strings(entities)
	if hops == 0 {
		return fmt.Sprintf("entities: %s (direct match)", strings.Join(entities, ", "))
	}
	return fmt.Sprintf("entities: %s (%d hops from query terms)", strings.Join(entities, ", "), hops)
}

func normalizeSeeds(seeds []string) []string {
	seen := make(map[string]struct{}, len(seeds))
	out := make([]string, 0, len(seeds))
	for _, seed := range seeds {
		seed = strings.ToLower(strings.TrimSpace(seed))
		if len(seed) < 2 {
			continue
		}
		if _, dup := seen[seed]; dup {
			continue
		}
		seen[seed] = struct{}{}
		out = append(out, seed)
	}
	if len(out) > maxSeedEntities {
		out = out[:maxSeedEntities]
	}
	return out
}

func recordString(record *neo4j.Record, key string) string {
	v, ok := record.Get(key)
	if !ok || v == nil {
		return ""
	}
	s, _ := v.(string)
	return s
}

func recordInt(record *neo4j.Record, key string) int64 {
	v, ok := record.Get(key)
	if !ok || v == nil {
		return 0
	}
	n, _ := v.(int64)
	return n
}

func recordStrings(record *neo4j.Record, key string) []string {
	v, ok := record.Get(key)
	if !ok || v == nil {
		return nil
	}
	raw, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}
