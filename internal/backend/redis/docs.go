package redis

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"strconv"

	"github.com/redis/rueidis"

	"github.com/kailas-cloud/recall/internal/backend"
	"github.com/kailas-cloud/recall/internal/domain"
)

// AddDocuments stores documents as hashes in a single DoMulti round-trip.
func (s *Store) AddDocuments(ctx context.Context, docs []backend.Document) error {
	if err := s.guard(); err != nil {
		return err
	}
	if len(docs) == 0 {
		return nil
	}

	cmds := make([]rueidis.Completed, 0, len(docs))
	for _, doc := range docs {
		if doc.ID == "" {
			return fmt.Errorf("%w: document id is required", domain.ErrInvalidArgument)
		}
		if len(doc.Embedding) != s.cfg.VectorDim {
			return fmt.Errorf("%w: document %s: vector dim %d, index expects %d",
				domain.ErrInvalidArgument, doc.ID, len(doc.Embedding), s.cfg.VectorDim)
		}

		cmd := s.client.B().Hset().Key(s.key(doc.ID)).FieldValue().
			FieldValue(fieldContent, doc.Content).
			FieldValue(fieldVector, vectorToBytes(doc.Embedding))
		for k, v := range doc.Metadata {
			cmd = cmd.FieldValue(k, v)
		}
		cmds = append(cmds, cmd.Build())
	}

	for i, res := range s.client.DoMulti(ctx, cmds...) {
		if err := res.Error(); err != nil {
			return s.wrap("HSET", fmt.Errorf("document %s: %w", docs[i].ID, err))
		}
	}
	return nil
}

// DeleteDocuments removes documents by id and/or metadata filter and
// returns the number of keys actually removed.
func (s *Store) DeleteDocuments(ctx context.Context, ids []string, filter map[string]string) (int, error) {
	if err := s.guard(); err != nil {
		return 0, err
	}
	if err := backend.ValidateDeleteSelector(ids, filter); err != nil {
		return 0, err
	}

	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, s.key(id))
	}

	if len(filter) > 0 {
		matched, err := s.searchKeys(ctx, buildTagFilter(filter))
		if err != nil {
			return 0, err
		}
		keys = append(keys, matched...)
	}
	if len(keys) == 0 {
		return 0, nil
	}

	cmd := s.client.B().Del().Key(keys...).Build()
	removed, err := s.client.Do(ctx, cmd).AsInt64()
	if err != nil {
		return 0, s.wrap("DEL", err)
	}
	return int(removed), nil
}

// Statistics reports index name, document count, and vector dimension.
func (s *Store) Statistics(ctx context.Context) (backend.Statistics, error) {
	if err := s.guard(); err != nil {
		return backend.Statistics{}, err
	}

	cmd := s.client.B().Arbitrary("FT.SEARCH").
		Args(s.cfg.IndexName, "*", "LIMIT", "0", "0").Build()
	raw, err := s.client.Do(ctx, cmd).ToArray()
	if err != nil {
		return backend.Statistics{}, s.wrap("FT.SEARCH", err)
	}

	count := 0
	if len(raw) > 0 {
		if total, err := raw[0].AsInt64(); err == nil {
			count = int(total)
		}
	}
	return backend.Statistics{
		IndexName:     s.cfg.IndexName,
		DocumentCount: count,
		VectorDim:     s.cfg.VectorDim,
	}, nil
}

// searchKeys returns document keys matching an FT.SEARCH query, content
// excluded (NOCONTENT).
func (s *Store) searchKeys(ctx context.Context, query string) ([]string, error) {
	if query == "" {
		query = "*"
	}
	cmd := s.client.B().Arbitrary("FT.SEARCH").
		Args(s.cfg.IndexName, query, "NOCONTENT", "LIMIT", "0", strconv.Itoa(maxDeleteBatch), "DIALECT", "2").
		Build()
	raw, err := s.client.Do(ctx, cmd).ToArray()
	if err != nil {
		return nil, s.wrap("FT.SEARCH", err)
	}

	var keys []string
	for i := 1; i < len(raw); i++ {
		if key, err := raw[i].ToString(); err == nil {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

// maxDeleteBatch bounds how many filter-matched documents one delete call removes.
const maxDeleteBatch = 10000

func vectorToBytes(v []float32) string {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return rueidis.BinaryString(buf)
}

func bytesToVector(data string) []float32 {
	if len(data)%4 != 0 {
		return nil
	}
	vec := make([]float32, len(data)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32([]byte(data[i*4 : i*4+4])))
	}
	return vec
}
