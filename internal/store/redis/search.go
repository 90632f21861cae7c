package redis

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/rueidis"

	"github.com/mattmiller85/keepers-server/internal/store"
)

// searchLimit caps the number of hits a single search returns.
const searchLimit = 10

// ensureIndex creates the full-text index over text and tags if it does not
// exist yet.
func (s *Store) ensureIndex(ctx context.Context) error {
	cmd := s.b().Arbitrary("FT.CREATE").Args(
		indexName,
		"ON", "HASH",
		"PREFIX", "1", keyPrefix,
		"SCHEMA",
		fieldText, "TEXT",
		fieldTags, "TEXT",
	).Build()

	err := s.do(ctx, cmd).Error()
	if err != nil && !isRedisErr(err, "index already exists") {
		return fmt.Errorf("create index: %w", err)
	}
	return nil
}

// Search runs a full-text query over the text and tags fields. The image
// payload is excluded from results; callers wanting it fetch the single
// document through GetKeeper.
func (s *Store) Search(ctx context.Context, query string) (store.SearchResults, error) {
	if err := s.checkLive(ctx); err != nil {
		return store.SearchResults{}, err
	}

	started := time.Now()

	cmd := s.b().Arbitrary("FT.SEARCH").Args(
		indexName,
		buildSearchQuery(query),
		"WITHSCORES",
		"RETURN", "3", fieldText, fieldTags, fieldCreated,
		"LIMIT", "0", strconv.Itoa(searchLimit),
		"DIALECT", "2",
	).Build()

	raw, err := s.do(ctx, cmd).ToArray()
	if err != nil {
		return store.SearchResults{}, fmt.Errorf("search: %w", err)
	}

	results, err := parseSearchReply(raw)
	if err != nil {
		return store.SearchResults{}, err
	}
	results.TookMs = time.Since(started).Milliseconds()
	return results, nil
}

// buildSearchQuery forms a field-union query matching either text or tags,
// mirroring a multi-field match.
func buildSearchQuery(query string) string {
	return fmt.Sprintf("@%s|%s:(%s)", fieldText, fieldTags, escapeQuery(query))
}

// escapeQuery neutralises RediSearch query syntax in user input.
func escapeQuery(query string) string {
	var b strings.Builder
	b.Grow(len(query))
	for _, r := range query {
		switch r {
		case ',', '.', '<', '>', '{', '}', '[', ']', '"', '\'', ':', ';',
			'!', '@', '#', '$', '%', '^', '&', '*', '(', ')', '-', '+',
			'=', '~', '|', '/', '\\':
			b.WriteByte(' ')
		default:
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}

// parseSearchReply flattens the RESP2 FT.SEARCH WITHSCORES reply:
// [total, key, score, fields, key, score, fields, ...].
func parseSearchReply(raw []rueidis.RedisMessage) (store.SearchResults, error) {
	if len(raw) == 0 {
		return store.SearchResults{}, nil
	}

	var results store.SearchResults
	for i := 1; i+2 < len(raw); i += 3 {
		key, err := raw[i].ToString()
		if err != nil {
			return store.SearchResults{}, fmt.Errorf("parse hit key: %w", err)
		}

		scoreStr, err := raw[i+1].ToString()
		if err != nil {
			return store.SearchResults{}, fmt.Errorf("parse hit score: %w", err)
		}
		score, err := strconv.ParseFloat(scoreStr, 64)
		if err != nil {
			return store.SearchResults{}, fmt.Errorf("parse hit score %q: %w", scoreStr, err)
		}

		fieldValues, err := raw[i+2].ToArray()
		if err != nil {
			return store.SearchResults{}, fmt.Errorf("parse hit fields: %w", err)
		}
		fields := make(map[string]string, len(fieldValues)/2)
		for j := 0; j+1 < len(fieldValues); j += 2 {
			name, err := fieldValues[j].ToString()
			if err != nil {
				continue
			}
			value, err := fieldValues[j+1].ToString()
			if err != nil {
				continue
			}
			fields[name] = value
		}

		results.Results = append(results.Results,
			documentResultFromFields(idFromKey(key), fields, score, false))
	}

	return results, nil
}
