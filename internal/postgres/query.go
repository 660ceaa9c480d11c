package postgres

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mesh-intelligence/shelf/pkg/types"
)

// queryBuilder accumulates positional arguments so that conditions can
// reference them as $1, $2, ...
type queryBuilder struct {
	args []any
}

// arg records v and returns its placeholder.
func (q *queryBuilder) arg(v any) string {
	q.args = append(q.args, v)
	return fmt.Sprintf("$%d", len(q.args))
}

// fieldExpr returns the JSONB expression selecting a top-level field.
// Field names are validated before they reach this point.
func fieldExpr(field string) string {
	return fmt.Sprintf("body->'%s'", field)
}

// valueCondition builds the condition matching a single scalar value.
func (q *queryBuilder) valueCondition(field string, v any) (string, error) {
	if field == types.IDField {
		s, ok := v.(string)
		if !ok {
			return "FALSE", nil
		}
		return "doc_id = " + q.arg(s), nil
	}
	if v == nil {
		return fmt.Sprintf("(%s IS NULL OR %s = 'null'::jsonb)", fieldExpr(field), fieldExpr(field)), nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("%w: %v", types.ErrInvalidFilter, err)
	}
	return fmt.Sprintf("%s = %s::jsonb", fieldExpr(field), q.arg(string(data))), nil
}

// where compiles the filter into a WHERE clause scoped to one collection of
// one database.
func (q *queryBuilder) where(dbName, collection string, filter types.Filter) (string, error) {
	if err := filter.Validate(); err != nil {
		return "", err
	}
	conditions := []string{
		"db_name = " + q.arg(dbName),
		"collection = " + q.arg(collection),
	}
	for _, field := range filter.Fields() {
		values, err := types.FilterValues(filter[field])
		if err != nil {
			return "", err
		}
		if len(values) == 0 {
			conditions = append(conditions, "FALSE")
			continue
		}
		alts := make([]string, 0, len(values))
		for _, v := range values {
			cond, err := q.valueCondition(field, v)
			if err != nil {
				return "", err
			}
			alts = append(alts, cond)
		}
		if len(alts) == 1 {
			conditions = append(conditions, alts[0])
		} else {
			conditions = append(conditions, "("+strings.Join(alts, " OR ")+")")
		}
	}
	return " WHERE " + strings.Join(conditions, " AND "), nil
}

// order compiles ordering and paging. Insertion order breaks ties.
func order(opts types.FindOptions) (string, error) {
	if err := opts.Validate(); err != nil {
		return "", err
	}
	dir := "ASC"
	if opts.Desc {
		dir = "DESC"
	}
	var clause string
	switch opts.OrderBy {
	case "":
		clause = " ORDER BY seq " + dir
	case types.IDField:
		clause = fmt.Sprintf(" ORDER BY doc_id %s, seq ASC", dir)
	default:
		clause = fmt.Sprintf(" ORDER BY %s %s, seq ASC", fieldExpr(opts.OrderBy), dir)
	}
	if opts.Limit > 0 {
		clause += fmt.Sprintf(" LIMIT %d", opts.Limit)
	}
	if opts.Offset > 0 {
		clause += fmt.Sprintf(" OFFSET %d", opts.Offset)
	}
	return clause, nil
}
