// Package gate evaluates jq filter queries on JSON documents.
package gate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/itchyny/gojq"
)

// Gate is a jq query that must evaluate to true for a document to pass.
type Gate struct {
	query *gojq.Query
}

// New parses jqQuery.
func New(jqQuery string) (*Gate, error) {
	query, err := gojq.Parse(jqQuery)
	if err != nil {
		return nil, fmt.Errorf("parsing jq query %q failed: %w", jqQuery, err)
	}

	return &Gate{query: query}, nil
}

func goJQIterToSlice(iter gojq.Iter) ([]any, []error) {
	var result []any
	var errors []error

	for {
		res, ok := iter.Next()
		if !ok {
			return result, errors
		}

		if err, isErr := res.(error); isErr {
			errors = append(errors, err)
			continue
		}

		result = append(result, res)
	}
}

func errString(errs []error) string {
	var result strings.Builder

	for i, err := range errs {
		if i > 0 {
			result.WriteString("; ")
		}

		result.WriteString(fmt.Sprintf("error %d: %s", i, err))
	}

	return result.String()
}

// Passes returns true if the query evaluates to true for the JSON document
// doc. The query must return exactly 1 boolean result.
func (g *Gate) Passes(ctx context.Context, doc []byte) (bool, error) {
	var docUn any

	if len(doc) == 0 {
		return false, errors.New("json document is empty")
	}

	if err := json.Unmarshal(doc, &docUn); err != nil {
		return false, fmt.Errorf("unmarshaling json failed: %w", err)
	}

	result, errs := goJQIterToSlice(g.query.RunWithContext(ctx, docUn))
	if len(errs) != 0 {
		return false, fmt.Errorf("json query returned errors, query: %q, errors: %s", g.query.String(), errString(errs))
	}

	if len(result) == 0 {
		return false, fmt.Errorf("json query returned 0 results, expected 1, query: %q", g.query.String())
	}

	if len(result) > 1 {
		return false, fmt.Errorf("json query returned multiple results, expected 1, query: %q, result: '%+v'", g.query.String(), result)
	}

	val, ok := result[0].(bool)
	if !ok {
		return false, fmt.Errorf(
			"json query returned non-bool result: %+v (%T), query: %q",
			result[0], result[0], g.query.String(),
		)
	}

	return val, nil
}

func (g *Gate) String() string {
	return g.query.String()
}
