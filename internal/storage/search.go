package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/procpulse-io/procpulse/internal/event"
)

// ErrEmptySearchQuery is returned when a search is issued with no usable tokens.
var ErrEmptySearchQuery = errors.New("search query cannot be empty")

// Search performs a case-insensitive text search over summary and result.
//
// With the full-text index enabled the query is tokenized into a prefix
// conjunction (tok1:* & tok2:*) against a 'simple' tsvector, so no language
// stemming is applied. Otherwise each token becomes an ILIKE conjunction
// over both columns. Results are paginated, newest first.
func (s *EventStore) Search(ctx context.Context, q event.SearchQuery) (*event.PagedEvents, error) {
	tokens := searchTokens(q.Query)
	if len(tokens) == 0 {
		return nil, ErrEmptySearchQuery
	}

	ctx, cancel := s.conn.RequestContext(ctx)
	defer cancel()

	page := q.Page.Normalize()

	if s.conn.cfg.FullTextEnabled {
		return s.searchFullText(ctx, tokens, page)
	}

	return s.searchLike(ctx, tokens, page)
}

func (s *EventStore) searchFullText(
	ctx context.Context,
	tokens []string,
	page event.PageRequest,
) (*event.PagedEvents, error) {
	prefixed := make([]string, len(tokens))
	for i, tok := range tokens {
		prefixed[i] = tok + ":*"
	}

	query := `SELECT ` + selectColumns + `, COUNT(*) OVER() AS total_count
		 FROM events
		WHERE to_tsvector('simple', summary || ' ' || COALESCE(result, '')) @@ to_tsquery('simple', $1)
		  AND is_deleted = FALSE
		ORDER BY event_timestamp DESC
		LIMIT $2 OFFSET $3`

	args := []interface{}{strings.Join(prefixed, " & "), page.PageSize, page.Offset()}

	return s.queryPagedEvents(ctx, query, args, page)
}

func (s *EventStore) searchLike(
	ctx context.Context,
	tokens []string,
	page event.PageRequest,
) (*event.PagedEvents, error) {
	var (
		sb   strings.Builder
		args []interface{}
	)

	sb.WriteString(`SELECT ` + selectColumns + `, COUNT(*) OVER() AS total_count
		 FROM events
		WHERE is_deleted = FALSE`)

	for _, tok := range tokens {
		args = append(args, "%"+escapeLike(tok)+"%")
		fmt.Fprintf(&sb, ` AND (summary ILIKE $%d OR result ILIKE $%d)`, len(args), len(args))
	}

	args = append(args, page.PageSize, page.Offset())
	fmt.Fprintf(&sb, " ORDER BY event_timestamp DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	return s.queryPagedEvents(ctx, sb.String(), args, page)
}

// searchTokens splits the raw query into whitespace-separated tokens with
// tsquery meta-characters stripped. Tokens reduced to nothing are dropped.
func searchTokens(raw string) []string {
	fields := strings.Fields(raw)
	tokens := make([]string, 0, len(fields))

	for _, f := range fields {
		tok := escapeTSQueryToken(f)
		if tok != "" {
			tokens = append(tokens, tok)
		}
	}

	return tokens
}

// escapeTSQueryToken strips the characters that carry meaning in tsquery
// syntax so user input can never change the query structure.
func escapeTSQueryToken(tok string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '&', '|', '!', '(', ')', ':', '*', '\'', '\\', '<', '>':
			return -1
		default:
			return r
		}
	}, tok)
}

// escapeLike escapes the LIKE wildcards in a token.
func escapeLike(tok string) string {
	tok = strings.ReplaceAll(tok, `\`, `\\`)
	tok = strings.ReplaceAll(tok, `%`, `\%`)
	tok = strings.ReplaceAll(tok, `_`, `\_`)

	return tok
}
