package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"

	fgerrors "github.com/filegraph/filegraph/internal/errors"
)

// Neo4jConfig holds connection parameters for the production store.
type Neo4jConfig struct {
	URI      string
	Username string
	Password string
	Database string
}

// Neo4jStore implements Store over a Neo4j server. Every node carries the
// common :Node label plus its concrete label, and all timestamps are
// stored as Unix milliseconds.
type Neo4jStore struct {
	driver neo4j.DriverWithContext
	config Neo4jConfig
}

var _ Store = (*Neo4jStore)(nil)

// NewNeo4jStore connects to the server and verifies connectivity.
func NewNeo4jStore(ctx context.Context, cfg Neo4jConfig) (*Neo4jStore, error) {
	driver, err := neo4j.NewDriverWithContext(cfg.URI,
		neo4j.BasicAuth(cfg.Username, cfg.Password, ""))
	if err != nil {
		return nil, fmt.Errorf("creating neo4j driver: %w", err)
	}

	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("neo4j unreachable at %s: %w", cfg.URI, err)
	}

	return &Neo4jStore{driver: driver, config: cfg}, nil
}

// session acquires a pooled session. Each operation holds its session for
// its own lifetime only, never across embedding calls.
func (s *Neo4jStore) session(ctx context.Context, mode neo4j.AccessMode) neo4j.SessionWithContext {
	return s.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   mode,
		DatabaseName: s.config.Database,
	})
}

// execWrite runs one write statement under the transient-retry policy.
func (s *Neo4jStore) execWrite(ctx context.Context, cypher string, params map[string]any) error {
	return withWriteRetry(ctx, func() error {
		session := s.session(ctx, neo4j.AccessModeWrite)
		defer func() { _ = session.Close(ctx) }()

		_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
			result, err := tx.Run(ctx, cypher, params)
			if err != nil {
				return nil, err
			}
			return result.Consume(ctx)
		})
		return err
	})
}

// queryRead runs one read statement and collects all records.
func (s *Neo4jStore) queryRead(ctx context.Context, cypher string, params map[string]any) ([]*neo4j.Record, error) {
	session := s.session(ctx, neo4j.AccessModeRead)
	defer func() { _ = session.Close(ctx) }()

	records, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, cypher, params)
		if err != nil {
			return nil, err
		}
		return result.Collect(ctx)
	})
	if err != nil {
		return nil, err
	}
	return records.([]*neo4j.Record), nil
}

// EnsureSchema creates constraints and indexes. Statements use IF NOT
// EXISTS so bootstrap is idempotent across restarts.
func (s *Neo4jStore) EnsureSchema(ctx context.Context, dimensions int) error {
	for _, stmt := range schemaStatements(dimensions) {
		if err := s.execWrite(ctx, stmt, nil); err != nil {
			return fgerrors.Wrap(fgerrors.ErrCodeGraphWrite, err)
		}
	}

	slog.Info("graph schema ensured",
		slog.Int("dimensions", dimensions),
		slog.String("vector_index", VectorIndexName))
	return nil
}

// schemaStatements builds the bootstrap DDL. The id constraint, the
// path/type indexes and the full-text index are always created; the
// vector index needs a dimension and is created only once embeddings
// are configured.
func schemaStatements(dimensions int) []string {
	statements := []string{
		`CREATE CONSTRAINT node_id_unique IF NOT EXISTS FOR (n:Node) REQUIRE n.id IS UNIQUE`,
		`CREATE INDEX node_type_idx IF NOT EXISTS FOR (n:Node) ON (n.type)`,
		`CREATE INDEX node_path_idx IF NOT EXISTS FOR (n:Node) ON (n.path)`,
		fmt.Sprintf(`CREATE FULLTEXT INDEX %s IF NOT EXISTS FOR (n:Node)
			ON EACH [n.path, n.name, n.language, n.title, n.description, n.text, n.content]`,
			FullTextIndexName),
	}
	if dimensions > 0 {
		// Index config cannot be parameterized.
		statements = append(statements, fmt.Sprintf(
			`CREATE VECTOR INDEX %s IF NOT EXISTS FOR (n:Node) ON (n.embedding)
			OPTIONS {indexConfig: {`+"`vector.dimensions`"+`: %d, `+"`vector.similarity_function`"+`: 'cosine'}}`,
			VectorIndexName, dimensions))
	}
	return statements
}

// UpsertFile merges the File by path. A null embedding param removes the
// property, which keeps chunked files out of the vector index.
func (s *Neo4jStore) UpsertFile(ctx context.Context, file *FileRecord, subscriptionID string) error {
	extra, err := encodeExtra(file.Extra)
	if err != nil {
		return err
	}

	params := map[string]any{
		"id":            file.ID,
		"path":          file.Path,
		"absolute_path": file.AbsolutePath,
		"name":          file.Name,
		"extension":     file.Extension,
		"language":      file.Language,
		"size_bytes":    file.SizeBytes,
		"line_count":    int64(file.LineCount),
		"modified_at":   file.ModifiedAt.UnixMilli(),
		"indexed_at":    file.IndexedAt.UnixMilli(),
		"has_chunks":    file.HasChunks,
		"content":       nullableString(file.Content),
		"embedding":     toFloat64s(file.Embedding),
		"extra":         extra,
	}

	cypher := `MERGE (f:Node:File {path: $path})
		SET f.id = $id, f.type = 'file', f.absolute_path = $absolute_path,
			f.name = $name, f.extension = $extension, f.language = $language,
			f.size_bytes = $size_bytes, f.line_count = $line_count,
			f.modified_at = $modified_at, f.indexed_at = $indexed_at,
			f.has_chunks = $has_chunks, f.content = $content,
			f.embedding = $embedding, f.extra = $extra`

	if err := s.execWrite(ctx, cypher, params); err != nil {
		return fgerrors.Wrap(fgerrors.ErrCodeGraphWrite, err)
	}

	if subscriptionID == "" {
		return nil
	}

	edgeCypher := `MATCH (s:Node:Subscription {id: $sub_id})
		MATCH (f:Node:File {path: $path})
		MERGE (s)-[:WATCHES]->(f)
		MERGE (f)-[:WATCHED_BY]->(s)`
	err = s.execWrite(ctx, edgeCypher, map[string]any{
		"sub_id": subscriptionID,
		"path":   file.Path,
	})
	if err != nil {
		return fgerrors.Wrap(fgerrors.ErrCodeGraphWrite, err)
	}
	return nil
}

// GetFile returns the File record for path, or nil when absent.
func (s *Neo4jStore) GetFile(ctx context.Context, path string) (*FileRecord, error) {
	records, err := s.queryRead(ctx,
		`MATCH (f:Node:File {path: $path}) RETURN f`,
		map[string]any{"path": path})
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}

	node, ok := records[0].Values[0].(dbtype.Node)
	if !ok {
		return nil, fmt.Errorf("unexpected record shape for file %s", path)
	}
	return fileFromProps(node.Props), nil
}

// DeleteFile removes the File and all chunks hanging off it.
func (s *Neo4jStore) DeleteFile(ctx context.Context, path string) error {
	cypher := `MATCH (f:Node:File {path: $path})
		OPTIONAL MATCH (f)-[:HAS_CHUNK]->(c:Node:FileChunk)
		DETACH DELETE f, c`
	if err := s.execWrite(ctx, cypher, map[string]any{"path": path}); err != nil {
		return fgerrors.Wrap(fgerrors.ErrCodeGraphWrite, err)
	}
	return nil
}

// UpsertChunk merges the chunk by its content-addressed id and attaches
// the HAS_CHUNK edge carrying the chunk index.
func (s *Neo4jStore) UpsertChunk(ctx context.Context, chunk *ChunkRecord) error {
	cypher := `MERGE (c:Node:FileChunk {id: $id})
		SET c.type = 'file_chunk', c.chunk_index = $chunk_index, c.text = $text,
			c.start_offset = $start_offset, c.end_offset = $end_offset,
			c.embedding = $embedding, c.dimensions = $dimensions, c.model = $model,
			c.parent_path = $parent_path, c.total_chunks = $total_chunks,
			c.has_next = $has_next, c.has_prev = $has_prev
		WITH c
		MATCH (f:Node:File {path: $parent_path})
		MERGE (f)-[r:HAS_CHUNK]->(c)
		SET r.index = $chunk_index`

	params := map[string]any{
		"id":           chunk.ID,
		"chunk_index":  int64(chunk.Index),
		"text":         chunk.Text,
		"start_offset": int64(chunk.StartOffset),
		"end_offset":   int64(chunk.EndOffset),
		"embedding":    toFloat64s(chunk.Embedding),
		"dimensions":   int64(chunk.Dimensions),
		"model":        chunk.Model,
		"parent_path":  chunk.ParentPath,
		"total_chunks": int64(chunk.TotalChunks),
		"has_next":     chunk.HasNext,
		"has_prev":     chunk.HasPrev,
	}

	if err := s.execWrite(ctx, cypher, params); err != nil {
		return fgerrors.Wrap(fgerrors.ErrCodeGraphWrite, err)
	}
	return nil
}

// CountChunks returns the number of chunks attached to a file.
func (s *Neo4jStore) CountChunks(ctx context.Context, path string) (int, error) {
	records, err := s.queryRead(ctx,
		`MATCH (:Node:File {path: $path})-[:HAS_CHUNK]->(c:Node:FileChunk)
		RETURN count(c) AS n`,
		map[string]any{"path": path})
	if err != nil {
		return 0, err
	}
	if len(records) == 0 {
		return 0, nil
	}
	n, _ := records[0].Values[0].(int64)
	return int(n), nil
}

// DeleteChunks removes every chunk of a file and reports the count.
func (s *Neo4jStore) DeleteChunks(ctx context.Context, path string) (int, error) {
	var deleted int
	err := withWriteRetry(ctx, func() error {
		session := s.session(ctx, neo4j.AccessModeWrite)
		defer func() { _ = session.Close(ctx) }()

		result, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
			res, err := tx.Run(ctx,
				`MATCH (:Node:File {path: $path})-[:HAS_CHUNK]->(c:Node:FileChunk)
				DETACH DELETE c
				RETURN count(c) AS deleted`,
				map[string]any{"path": path})
			if err != nil {
				return nil, err
			}
			record, err := res.Single(ctx)
			if err != nil {
				return int64(0), nil
			}
			return record.Values[0], nil
		})
		if err != nil {
			return err
		}
		n, _ := result.(int64)
		deleted = int(n)
		return nil
	})
	if err != nil {
		return 0, fgerrors.Wrap(fgerrors.ErrCodeGraphWrite, err)
	}
	return deleted, nil
}

// UpsertSubscription merges the subscription record by id.
func (s *Neo4jStore) UpsertSubscription(ctx context.Context, sub *SubscriptionRecord) error {
	cypher := `MERGE (s:Node:Subscription {id: $id})
		SET s.type = 'subscription', s.path = $path, s.recursive = $recursive,
			s.include_patterns = $include_patterns, s.ignore_patterns = $ignore_patterns,
			s.debounce_millis = $debounce_millis, s.generate_embeddings = $generate_embeddings,
			s.status = $status, s.files_indexed = $files_indexed,
			s.last_indexed_time = $last_indexed_time, s.error = $error`

	params := map[string]any{
		"id":                  sub.ID,
		"path":                sub.Path,
		"recursive":           sub.Recursive,
		"include_patterns":    toAnySlice(sub.IncludePatterns),
		"ignore_patterns":     toAnySlice(sub.IgnorePatterns),
		"debounce_millis":     int64(sub.DebounceMillis),
		"generate_embeddings": sub.GenerateEmbeddings,
		"status":              string(sub.Status),
		"files_indexed":       int64(sub.FilesIndexed),
		"last_indexed_time":   sub.LastIndexedTime.UnixMilli(),
		"error":               sub.Error,
	}

	if err := s.execWrite(ctx, cypher, params); err != nil {
		return fgerrors.Wrap(fgerrors.ErrCodeGraphWrite, err)
	}
	return nil
}

// GetSubscription returns the record for id, or nil when absent.
func (s *Neo4jStore) GetSubscription(ctx context.Context, id string) (*SubscriptionRecord, error) {
	records, err := s.queryRead(ctx,
		`MATCH (s:Node:Subscription {id: $id}) RETURN s`,
		map[string]any{"id": id})
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	node, ok := records[0].Values[0].(dbtype.Node)
	if !ok {
		return nil, fmt.Errorf("unexpected record shape for subscription %s", id)
	}
	return subscriptionFromProps(node.Props), nil
}

// ListSubscriptions returns every subscription record.
func (s *Neo4jStore) ListSubscriptions(ctx context.Context) ([]*SubscriptionRecord, error) {
	records, err := s.queryRead(ctx, `MATCH (s:Node:Subscription) RETURN s ORDER BY s.path`, nil)
	if err != nil {
		return nil, err
	}

	subs := make([]*SubscriptionRecord, 0, len(records))
	for _, record := range records {
		if node, ok := record.Values[0].(dbtype.Node); ok {
			subs = append(subs, subscriptionFromProps(node.Props))
		}
	}
	return subs, nil
}

// DeleteSubscription removes the subscription, its watched files and
// their chunks.
func (s *Neo4jStore) DeleteSubscription(ctx context.Context, id string) error {
	cypher := `MATCH (s:Node:Subscription {id: $id})
		OPTIONAL MATCH (s)-[:WATCHES]->(f:Node:File)
		OPTIONAL MATCH (f)-[:HAS_CHUNK]->(c:Node:FileChunk)
		DETACH DELETE s, f, c`
	if err := s.execWrite(ctx, cypher, map[string]any{"id": id}); err != nil {
		return fgerrors.Wrap(fgerrors.ErrCodeGraphWrite, err)
	}
	return nil
}

// VectorSearch runs KNN over the vector index and joins chunk hits to
// their parent file.
func (s *Neo4jStore) VectorSearch(ctx context.Context, vector []float32, k int, types []string) ([]*SearchHit, error) {
	cypher := `CALL db.index.vector.queryNodes($index, $k, $vector)
		YIELD node, score
		WITH node, score WHERE node.type IN $types
		OPTIONAL MATCH (parent:Node:File)-[:HAS_CHUNK]->(node)
		RETURN node, score, parent`

	records, err := s.queryRead(ctx, cypher, map[string]any{
		"index":  VectorIndexName,
		"k":      int64(k),
		"vector": toFloat64s(vector),
		"types":  toAnySlice(allTypesIfEmpty(types)),
	})
	if err != nil {
		return nil, fgerrors.Wrap(fgerrors.ErrCodeSearchFailed, err)
	}
	return hitsFromRecords(records), nil
}

// FullTextSearch runs a lucene-style query over the full-text index.
func (s *Neo4jStore) FullTextSearch(ctx context.Context, query string, limit int, types []string) ([]*SearchHit, error) {
	cypher := `CALL db.index.fulltext.queryNodes($index, $query)
		YIELD node, score
		WITH node, score WHERE node.type IN $types
		OPTIONAL MATCH (parent:Node:File)-[:HAS_CHUNK]->(node)
		RETURN node, score, parent
		LIMIT $limit`

	records, err := s.queryRead(ctx, cypher, map[string]any{
		"index": FullTextIndexName,
		"query": query,
		"limit": int64(limit),
		"types": toAnySlice(allTypesIfEmpty(types)),
	})
	if err != nil {
		return nil, fgerrors.Wrap(fgerrors.ErrCodeSearchFailed, err)
	}
	return hitsFromRecords(records), nil
}

// Clear wipes every node. The caller must pass ClearToken.
func (s *Neo4jStore) Clear(ctx context.Context, token string) error {
	if token != ClearToken {
		return fgerrors.New(fgerrors.ErrCodeInvalidInput, "refusing to clear without safety token", nil)
	}
	if err := s.execWrite(ctx, `MATCH (n:Node) DETACH DELETE n`, nil); err != nil {
		return fgerrors.Wrap(fgerrors.ErrCodeGraphWrite, err)
	}
	slog.Warn("graph cleared")
	return nil
}

// Close shuts down the driver pool.
func (s *Neo4jStore) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}

// hitsFromRecords converts (node, score, parent) rows into SearchHits.
func hitsFromRecords(records []*neo4j.Record) []*SearchHit {
	hits := make([]*SearchHit, 0, len(records))
	for _, record := range records {
		node, ok := record.Values[0].(dbtype.Node)
		if !ok {
			continue
		}
		score, _ := record.Values[1].(float64)

		props := node.Props
		hit := &SearchHit{
			ID:         propString(props, "id"),
			Type:       propString(props, "type"),
			Score:      score,
			ChunkIndex: -1,
		}

		if hit.Type == TypeFileChunk {
			hit.Content = propString(props, "text")
			hit.ChunkIndex = int(propInt(props, "chunk_index"))
			hit.Path = propString(props, "parent_path")
			if parent, ok := record.Values[2].(dbtype.Node); ok {
				hit.Path = propString(parent.Props, "path")
				hit.AbsolutePath = propString(parent.Props, "absolute_path")
				hit.Name = propString(parent.Props, "name")
				hit.Language = propString(parent.Props, "language")
			}
		} else {
			hit.Path = propString(props, "path")
			hit.AbsolutePath = propString(props, "absolute_path")
			hit.Name = propString(props, "name")
			hit.Language = propString(props, "language")
			hit.Content = propString(props, "content")
		}

		hits = append(hits, hit)
	}
	return hits
}

func fileFromProps(props map[string]any) *FileRecord {
	return &FileRecord{
		ID:           propString(props, "id"),
		Path:         propString(props, "path"),
		AbsolutePath: propString(props, "absolute_path"),
		Name:         propString(props, "name"),
		Extension:    propString(props, "extension"),
		Language:     propString(props, "language"),
		SizeBytes:    propInt(props, "size_bytes"),
		LineCount:    int(propInt(props, "line_count")),
		ModifiedAt:   time.UnixMilli(propInt(props, "modified_at")),
		IndexedAt:    time.UnixMilli(propInt(props, "indexed_at")),
		HasChunks:    propBool(props, "has_chunks"),
		Content:      propString(props, "content"),
		Embedding:    propFloats(props, "embedding"),
		Extra:        decodeExtra(propString(props, "extra")),
	}
}

func subscriptionFromProps(props map[string]any) *SubscriptionRecord {
	return &SubscriptionRecord{
		ID:                 propString(props, "id"),
		Path:               propString(props, "path"),
		Recursive:          propBool(props, "recursive"),
		IncludePatterns:    propStrings(props, "include_patterns"),
		IgnorePatterns:     propStrings(props, "ignore_patterns"),
		DebounceMillis:     int(propInt(props, "debounce_millis")),
		GenerateEmbeddings: propBool(props, "generate_embeddings"),
		Status:             SubscriptionStatus(propString(props, "status")),
		FilesIndexed:       int(propInt(props, "files_indexed")),
		LastIndexedTime:    time.UnixMilli(propInt(props, "last_indexed_time")),
		Error:              propString(props, "error"),
	}
}

// Property conversion helpers. The driver hands back any-typed values.

func propString(props map[string]any, key string) string {
	s, _ := props[key].(string)
	return s
}

func propInt(props map[string]any, key string) int64 {
	n, _ := props[key].(int64)
	return n
}

func propBool(props map[string]any, key string) bool {
	b, _ := props[key].(bool)
	return b
}

func propFloats(props map[string]any, key string) []float32 {
	raw, ok := props[key].([]any)
	if !ok || len(raw) == 0 {
		return nil
	}
	out := make([]float32, 0, len(raw))
	for _, v := range raw {
		if f, ok := v.(float64); ok {
			out = append(out, float32(f))
		}
	}
	return out
}

func propStrings(props map[string]any, key string) []string {
	raw, ok := props[key].([]any)
	if !ok || len(raw) == 0 {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// toFloat64s converts an embedding for the wire; nil stays nil so a null
// param removes the property.
func toFloat64s(v []float32) any {
	if v == nil {
		return nil
	}
	out := make([]float64, len(v))
	for i, f := range v {
		out[i] = float64(f)
	}
	return out
}

func toAnySlice(v []string) []any {
	out := make([]any, len(v))
	for i, s := range v {
		out[i] = s
	}
	return out
}

func allTypesIfEmpty(types []string) []string {
	if len(types) == 0 {
		return []string{TypeFile, TypeFileChunk, TypeSubscription}
	}
	return types
}

// nullableString maps "" to null so chunked files store no content.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func encodeExtra(extra map[string]string) (any, error) {
	if len(extra) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(extra)
	if err != nil {
		return nil, fgerrors.Wrap(fgerrors.ErrCodeInvalidInput, err)
	}
	return string(raw), nil
}

func decodeExtra(raw string) map[string]string {
	if raw == "" {
		return nil
	}
	var extra map[string]string
	if err := json.Unmarshal([]byte(raw), &extra); err != nil {
		return nil
	}
	return extra
}
