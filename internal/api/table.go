package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/and161185/petmem/internal/convert"
)

// Filter is an equality predicate rendered as column=eq.value.
type Filter struct {
	Column string
	Value  string
}

// Eq builds an equality filter.
func Eq(column, value string) Filter { return Filter{Column: column, Value: value} }

// Table is a row-level REST client for /rest/v1/{table}.
// Outgoing rows pass through convert.Row before encoding.
type Table struct {
	base string
	x    Executor
}

// NewTable creates a row-level table client rooted at the provider URL.
func NewTable(baseURL string, x Executor) *Table {
	return &Table{base: baseURL, x: x}
}

// Select returns the raw JSON array of matching rows.
func (t *Table) Select(ctx context.Context, token, table string, filters ...Filter) ([]byte, error) {
	q := query(filters)
	q.Set("select", "*")
	return t.do(ctx, http.MethodGet, token, table, q, nil, nil)
}

// Insert writes one row and returns the stored representation.
func (t *Table) Insert(ctx context.Context, token, table string, row map[string]any) ([]byte, error) {
	return t.write(ctx, http.MethodPost, token, table, nil, row, "return=representation")
}

// Upsert inserts or merges on the onConflict column.
func (t *Table) Upsert(ctx context.Context, token, table, onConflict string, row map[string]any) ([]byte, error) {
	q := url.Values{}
	if onConflict != "" {
		q.Set("on_conflict", onConflict)
	}
	return t.write(ctx, http.MethodPost, token, table, q, row, "resolution=merge-duplicates,return=representation")
}

// Update patches every row matching filters.
func (t *Table) Update(ctx context.Context, token, table string, row map[string]any, filters ...Filter) ([]byte, error) {
	if len(filters) == 0 {
		return nil, fmt.Errorf("update %s: refusing unfiltered update", table)
	}
	return t.write(ctx, http.MethodPatch, token, table, query(filters), row, "return=representation")
}

// Delete removes every row matching filters.
func (t *Table) Delete(ctx context.Context, token, table string, filters ...Filter) error {
	if len(filters) == 0 {
		return fmt.Errorf("delete %s: refusing unfiltered delete", table)
	}
	_, err := t.do(ctx, http.MethodDelete, token, table, query(filters), nil, nil)
	return err
}

func (t *Table) write(ctx context.Context, method, token, table string, q url.Values, row map[string]any, prefer string) ([]byte, error) {
	clean, err := convert.Row(row)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", table, err)
	}
	h := http.Header{}
	h.Set("Prefer", prefer)
	return t.do(ctx, method, token, table, q, clean, h)
}

func (t *Table) do(ctx context.Context, method, token, table string, q url.Values, body any, h http.Header) ([]byte, error) {
	if table == "" {
		return nil, fmt.Errorf("table is required")
	}
	u := joinURL(t.base, "/rest/v1/"+url.PathEscape(table))
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := newRequest(method, u, body, h)
	if err != nil {
		return nil, err
	}
	resp, err := t.x.Execute(ctx, req, token)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, table, err)
	}
	if err := checkResponse(resp); err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, table, err)
	}
	return resp.Body, nil
}

func query(filters []Filter) url.Values {
	q := url.Values{}
	for _, f := range filters {
		q.Add(f.Column, "eq."+f.Value)
	}
	return q
}
