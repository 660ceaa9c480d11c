// This file compiles Filter and FindOptions values into SQL over the
// documents table. Field names are validated by types.Filter.Validate before
// being spliced into json paths.
package sqlite

import (
	"fmt"
	"strings"

	"github.com/mesh-intelligence/shelf/pkg/types"
)

// fieldExpr returns the SQL expression selecting a top-level document field.
func fieldExpr(field string) string {
	if field == types.IDField {
		return "doc_id"
	}
	return fmt.Sprintf("json_extract(body, '$.%s')", field)
}

// valueCondition builds the condition matching a single scalar value.
func valueCondition(field string, v any) (string, []any) {
	switch vv := v.(type) {
	case nil:
		if field == types.IDField {
			return "0", nil
		}
		return fieldExpr(field) + " IS NULL", nil
	case bool:
		if field == types.IDField {
			return "0", nil
		}
		// json_extract maps true/false to 1/0; json_type keeps booleans
		// distinct from numbers.
		lit := "false"
		if vv {
			lit = "true"
		}
		return fmt.Sprintf("json_type(body, '$.%s') = ?", field), []any{lit}
	default:
		return fieldExpr(field) + " = ?", []any{vv}
	}
}

// buildWhere compiles the filter into a WHERE clause restricted to the
// collection.
func buildWhere(collection string, filter types.Filter) (string, []any, error) {
	if err := filter.Validate(); err != nil {
		return "", nil, err
	}
	conditions := []string{"collection = ?"}
	args := []any{collection}

	for _, field := range filter.Fields() {
		values, err := types.FilterValues(filter[field])
		if err != nil {
			return "", nil, err
		}
		if len(values) == 0 {
			conditions = append(conditions, "0")
			continue
		}
		var alts []string
		for _, v := range values {
			cond, condArgs := valueCondition(field, v)
			alts = append(alts, cond)
			args = append(args, condArgs...)
		}
		if len(alts) == 1 {
			conditions = append(conditions, alts[0])
		} else {
			conditions = append(conditions, "("+strings.Join(alts, " OR ")+")")
		}
	}
	return " WHERE " + strings.Join(conditions, " AND "), args, nil
}

// buildOrder compiles ordering and paging. Insertion order breaks ties.
func buildOrder(opts types.FindOptions) (string, error) {
	if err := opts.Validate(); err != nil {
		return "", err
	}
	dir := "ASC"
	if opts.Desc {
		dir = "DESC"
	}
	var clause string
	if opts.OrderBy != "" {
		clause = fmt.Sprintf(" ORDER BY %s %s, seq ASC", fieldExpr(opts.OrderBy), dir)
	} else {
		clause = " ORDER BY seq " + dir
	}
	switch {
	case opts.Limit > 0:
		clause += fmt.Sprintf(" LIMIT %d", opts.Limit)
	case opts.Offset > 0:
		// SQLite requires LIMIT before OFFSET.
		clause += " LIMIT -1"
	}
	if opts.Offset > 0 {
		clause += fmt.Sprintf(" OFFSET %d", opts.Offset)
	}
	return clause, nil
}
