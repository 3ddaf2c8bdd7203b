package redis

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/redis/rueidis"

	"github.com/kailas-cloud/recall/internal/backend"
	"github.com/kailas-cloud/recall/internal/domain"
)

// QueryVector runs a KNN similarity search via FT.SEARCH.
func (s *Store) QueryVector(
	ctx context.Context, embedding []float32, topK int, filter map[string]string,
) ([]domain.SearchResult, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	if len(embedding) != s.cfg.VectorDim {
		return nil, fmt.Errorf("%w: query vector dim %d, index expects %d",
			domain.ErrInvalidArgument, len(embedding), s.cfg.VectorDim)
	}
	if topK <= 0 {
		return nil, fmt.Errorf("%w: topK must be positive, got %d", domain.ErrInvalidArgument, topK)
	}

	knnPart := fmt.Sprintf("[KNN %d @%s $BLOB]", topK, fieldVector)
	queryStr := "*=>" + knnPart
	if f := buildTagFilter(filter); f != "" {
		queryStr = fmt.Sprintf("(%s)=>%s", f, knnPart)
	}

	cmd := s.client.B().Arbitrary("FT.SEARCH").
		Args(s.cfg.IndexName, queryStr,
			"PARAMS", "2", "BLOB", vectorToBytes(embedding),
			"DIALECT", "2").
		Build()
	raw, err := s.client.Do(ctx, cmd).ToArray()
	if err != nil {
		return nil, s.wrap("FT.SEARCH", err)
	}

	results := s.parseKNN(raw)
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	return results, nil
}

// QueryKeyword runs a BM25 text search via FT.SEARCH WITHSCORES.
func (s *Store) QueryKeyword(
	ctx context.Context, text string, topK int, filter map[string]string,
) ([]domain.SearchResult, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: query text is required", domain.ErrInvalidArgument)
	}
	if topK <= 0 {
		return nil, fmt.Errorf("%w: topK must be positive, got %d", domain.ErrInvalidArgument, topK)
	}

	queryStr := fmt.Sprintf("@%s:(%s)", fieldContent, escapeQuery(text))
	if f := buildTagFilter(filter); f != "" {
		queryStr = f + " " + queryStr
	}

	cmd := s.client.B().Arbitrary("FT.SEARCH").
		Args(s.cfg.IndexName, queryStr,
			"WITHSCORES",
			"LIMIT", "0", strconv.Itoa(topK),
			"DIALECT", "2").
		Build()
	raw, err := s.client.Do(ctx, cmd).ToArray()
	if err != nil {
		return nil, s.wrap("FT.SEARCH", err)
	}

	results := s.parseBM25(raw)
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	return results, nil
}

// QueryHybrid runs KNN and BM25 searches, then fuses the rankings via
// alpha-weighted reciprocal rank fusion.
func (s *Store) QueryHybrid(
	ctx context.Context, embedding []float32, text string, topK int, alpha float64, filter map[string]string,
) ([]domain.SearchResult, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	if err := backend.ValidateAlpha(alpha); err != nil {
		return nil, err
	}

	vecResults, err := s.QueryVector(ctx, embedding, topK, filter)
	if err != nil {
		return nil, fmt.Errorf("hybrid vector leg: %w", err)
	}
	kwResults, err := s.QueryKeyword(ctx, text, topK, filter)
	if err != nil {
		return nil, fmt.Errorf("hybrid keyword leg: %w", err)
	}

	return backend.FuseRRF(vecResults, kwResults, topK, alpha), nil
}

// --- Result parsing ---

// parseKNN parses the 2-stride RESP2 reply [total, key1, fields1, ...].
// The cosine distance in __vector_score is converted to a similarity.
func (s *Store) parseKNN(raw []rueidis.RedisMessage) []domain.SearchResult {
	if len(raw) == 0 {
		return nil
	}

	var results []domain.SearchResult
	for i := 1; i+1 < len(raw); i += 2 {
		key, err := raw[i].ToString()
		if err != nil {
			continue
		}
		fields, err := raw[i+1].ToArray()
		if err != nil {
			continue
		}

		r := s.resultFromFields(key, parseFieldPairs(fields))
		if scoreStr, ok := r.Metadata[scoreField]; ok {
			if dist, err := strconv.ParseFloat(scoreStr, 64); err == nil {
				r.Score = max(0, 1.0-dist) // cosine distance → similarity, clamped to [0,1]
			}
			delete(r.Metadata, scoreField)
		}
		results = append(results, r)
	}
	return results
}

// parseBM25 parses the 3-stride RESP2 reply [total, key1, score1, fields1, ...].
func (s *Store) parseBM25(raw []rueidis.RedisMessage) []domain.SearchResult {
	if len(raw) == 0 {
		return nil
	}

	var results []domain.SearchResult
	for i := 1; i+2 < len(raw); i += 3 {
		key, err := raw[i].ToString()
		if err != nil {
			continue
		}
		scoreStr, err := raw[i+1].ToString()
		if err != nil {
			continue
		}
		score, err := strconv.ParseFloat(scoreStr, 64)
		if err != nil {
			continue
		}
		fields, err := raw[i+2].ToArray()
		if err != nil {
			continue
		}

		r := s.resultFromFields(key, parseFieldPairs(fields))
		r.Score = score
		results = append(results, r)
	}
	return results
}

func (s *Store) resultFromFields(key string, fields map[string]string) domain.SearchResult {
	r := domain.SearchResult{ID: s.id(key), Metadata: fields}
	if content, ok := fields[fieldContent]; ok {
		r.Content = content
		delete(fields, fieldContent)
	}
	if blob, ok := fields[fieldVector]; ok {
		r.Vector = bytesToVector(blob)
		delete(fields, fieldVector)
	}
	return r
}

func parseFieldPairs(fields []rueidis.RedisMessage) map[string]string {
	m := make(map[string]string, len(fields)/2)
	for j := 0; j+1 < len(fields); j += 2 {
		name, err := fields[j].ToString()
		if err != nil {
			continue
		}
		value, err := fields[j+1].ToString()
		if err != nil {
			continue
		}
		m[name] = value
	}
	return m
}

// --- Query building ---

// buildTagFilter renders an exact-match metadata filter as TAG clauses.
func buildTagFilter(filter map[string]string) string {
	if len(filter) == 0 {
		return ""
	}
	keys := make([]string, 0, len(filter))
	for k := range filter {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("@%s:{%s}", k, escapeTag(filter[k])))
	}
	return strings.Join(parts, " ")
}

// ftSpecialChars are FT.SEARCH query syntax characters needing escapes.
const ftSpecialChars = `,.<>{}[]"':;!@#$%^&*()-+=~|/\ `

func escapeQuery(q string) string {
	var b strings.Builder
	for _, field := range strings.Fields(q) {
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(escapeToken(field))
	}
	return b.String()
}

func escapeTag(v string) string {
	return escapeToken(v)
}

func escapeToken(tok string) string {
	var b strings.Builder
	for _, r := range tok {
		if strings.ContainsRune(ftSpecialChars, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
