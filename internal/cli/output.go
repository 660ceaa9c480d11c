package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/mesh-intelligence/shelf/pkg/types"
)

// printJSON writes v as indented JSON.
func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal output: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

// printDocument writes a document as "_id" followed by its fields in key
// order, one per line.
func printDocument(w io.Writer, doc types.Document) {
	fmt.Fprintf(w, "%s: %s\n", types.IDField, doc.ID())
	keys := make([]string, 0, len(doc))
	for k := range doc {
		if k != types.IDField {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(w, "  %s: %s\n", k, formatValue(doc[k]))
	}
}

func formatValue(v any) string {
	switch vv := v.(type) {
	case string:
		return vv
	case nil:
		return "null"
	default:
		data, err := json.Marshal(vv)
		if err != nil {
			return fmt.Sprint(vv)
		}
		return string(data)
	}
}

// parseFilter turns key=value arguments into a filter. Values are read as
// JSON scalars when they parse as one (42, true, null) and as strings
// otherwise; a|b|c matches any of the listed values.
func parseFilter(args []string) (types.Filter, error) {
	filter := make(types.Filter, len(args))
	for _, arg := range args {
		key, raw, ok := strings.Cut(arg, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("filter %q: want key=value", arg)
		}
		if _, dup := filter[key]; dup {
			return nil, fmt.Errorf("filter %q: key given twice", key)
		}
		if strings.Contains(raw, "|") {
			parts := strings.Split(raw, "|")
			values := make([]any, len(parts))
			for i, p := range parts {
				values[i] = parseValue(p)
			}
			filter[key] = values
			continue
		}
		filter[key] = parseValue(raw)
	}
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	return filter, nil
}

func parseValue(raw string) any {
	switch raw {
	case "null":
		return nil
	case "true":
		return true
	case "false":
		return false
	}
	if n, err := strconv.ParseFloat(raw, 64); err == nil {
		return n
	}
	return raw
}
