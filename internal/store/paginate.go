package store

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"golang.org/x/sync/errgroup"
)

type SortDirection string

const (
	SortAsc  SortDirection = "ASC"
	SortDesc SortDirection = "DESC"
)

type PageRequest struct {
	Page      int64
	Limit     int64
	Sort      string
	Direction SortDirection
}

type Page[T any] struct {
	Docs          []T
	TotalDocs     int64
	Limit         int64
	Page          int64
	TotalPages    int64
	PagingCounter int64
	HasPrevPage   bool
	HasNextPage   bool
	PrevPage      *int64
	NextPage      *int64
}

// Stage is one step of an aggregate query: an optional join and an
// optional filter with `?` placeholders bound to Args. Stages are
// applied in order and shared verbatim between the count and the fetch
// query, so both always see the same filters.
type Stage struct {
	Join  string
	Where string
	Args  []any
}

// AggregateQuery is a multi-stage query against one root table.
type AggregateQuery struct {
	Select string
	From   string
	Stages []Stage
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Aggregate runs q twice, once reduced to a count and once fetched as
// the requested page, concurrently, and maps every fetched row through
// mapRow. Deterministic paging requires a stable req.Sort key.
func Aggregate[T any](ctx context.Context, db querier, q AggregateQuery, req PageRequest, mapRow func(pgx.Rows) (T, error)) (*Page[T], error) {
	if req.Page < 1 {
		req.Page = 1
	}
	if req.Limit < 1 {
		req.Limit = 10
	}
	if req.Direction == "" {
		req.Direction = SortAsc
	}

	countSQL, fetchSQL, args := buildAggregateSQL(q, req)
	offset := (req.Page - 1) * req.Limit
	fetchArgs := append(append([]any{}, args...), offset, req.Limit)

	var (
		total int64
		docs  []T
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return db.QueryRow(gctx, countSQL, args...).Scan(&total)
	})
	g.Go(func() error {
		rows, err := db.Query(gctx, fetchSQL, fetchArgs...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			doc, err := mapRow(rows)
			if err != nil {
				return err
			}
			docs = append(docs, doc)
		}
		return rows.Err()
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return newPage(docs, total, req), nil
}

// buildAggregateSQL renders the count and fetch statements from one
// shared stage list. Placeholders are `?` in stages and are renumbered
// to $n in stage order; the fetch statement reuses the same argument
// positions and appends offset/limit at the end.
func buildAggregateSQL(q AggregateQuery, req PageRequest) (countSQL, fetchSQL string, args []any) {
	var joins []string
	var wheres []string
	for _, st := range q.Stages {
		if st.Join != "" {
			joins = append(joins, st.Join)
		}
		if st.Where != "" {
			wheres = append(wheres, st.Where)
		}
		args = append(args, st.Args...)
	}

	var b strings.Builder
	b.WriteString(" FROM ")
	b.WriteString(q.From)
	for _, j := range joins {
		b.WriteString(" ")
		b.WriteString(j)
	}
	if len(wheres) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(wheres, " AND "))
	}
	body := b.String()

	next := 1
	countSQL = numberPlaceholders("SELECT count(*)"+body, &next)

	next = 1
	fetch := "SELECT " + q.Select + body
	fetch = numberPlaceholders(fetch, &next)
	if req.Sort != "" {
		fetch += " ORDER BY " + req.Sort + " " + string(req.Direction)
	}
	fetch += fmt.Sprintf(" OFFSET $%d LIMIT $%d", next, next+1)
	return countSQL, fetch, args
}

func numberPlaceholders(sql string, next *int) string {
	var b strings.Builder
	for _, r := range sql {
		if r == '?' {
			b.WriteString("$" + strconv.Itoa(*next))
			*next++
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func newPage[T any](docs []T, total int64, req PageRequest) *Page[T] {
	totalPages := total / req.Limit
	if total%req.Limit != 0 {
		totalPages++
	}
	p := &Page[T]{
		Docs:          docs,
		TotalDocs:     total,
		Limit:         req.Limit,
		Page:          req.Page,
		TotalPages:    totalPages,
		PagingCounter: (req.Page-1)*req.Limit + 1,
	}
	if req.Page > 1 {
		p.HasPrevPage = true
		prev := req.Page - 1
		p.PrevPage = &prev
	}
	if req.Page < totalPages {
		p.HasNextPage = true
		next := req.Page + 1
		p.NextPage = &next
	}
	return p
}
