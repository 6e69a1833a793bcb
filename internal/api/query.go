package api

import (
	"net/url"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"shrike/internal/filtermask"
)

// ==== Парсинг query-параметров ====

type listParams struct {
	Limit    int
	Offset   int
	Linkages []string
}

// параметры с "_" зарезервированы и не попадают в фильтры
var reservedParams = map[string]struct{}{
	"_limit": {}, "_offset": {}, "_linkages": {}, "topic": {},
}

func parseListParams(q url.Values) listParams {
	lp := listParams{Limit: 50}

	if lv := q.Get("_limit"); lv != "" {
		if n, err := strconv.Atoi(lv); err == nil && n >= 0 && n <= 1000 {
			lp.Limit = n
		}
	}
	if ov := q.Get("_offset"); ov != "" {
		if n, err := strconv.Atoi(ov); err == nil && n >= 0 {
			lp.Offset = n
		}
	}
	if raw := strings.TrimSpace(q.Get("_linkages")); raw != "" {
		for _, name := range strings.Split(raw, ",") {
			if name = strings.TrimSpace(name); name != "" {
				lp.Linkages = append(lp.Linkages, name)
			}
		}
	}
	return lp
}

// query comparator suffixes, applied as field__op=value
var queryOps = map[string]string{
	"eq": "==", "ne": "!=",
	"has": "has", "not_has": "not_has",
	"in": "in", "not_in": "not_in",
}

// masksFromQuery builds filter masks from query parameters. A bare
// field=value means equality; field__op=value selects the comparator.
// Values parse as YAML scalars, so numbers and booleans keep their type;
// in-list values split on commas.
func masksFromQuery(q url.Values) ([]filtermask.FilterMask, error) {
	var exprs []filtermask.Expression
	for param, values := range q {
		if _, reserved := reservedParams[param]; reserved {
			continue
		}
		field, comparator := param, "=="
		if i := strings.Index(param, "__"); i > 0 {
			op, ok := queryOps[param[i+2:]]
			if !ok {
				return nil, &filtermask.UnknownComparatorError{Comparator: param[i+2:]}
			}
			field, comparator = param[:i], op
		}
		for _, raw := range values {
			var value any
			if comparator == "in" || comparator == "not_in" {
				var list []any
				for _, el := range strings.Split(raw, ",") {
					list = append(list, scalar(strings.TrimSpace(el)))
				}
				value = list
			} else {
				value = scalar(raw)
			}
			exprs = append(exprs, filtermask.Expression{
				Path:       strings.Split(field, "."),
				Comparator: comparator,
				Value:      value,
			})
		}
	}
	if len(exprs) == 0 {
		return nil, nil
	}
	mask, err := filtermask.New(exprs)
	if err != nil {
		return nil, err
	}
	return []filtermask.FilterMask{mask}, nil
}

func scalar(raw string) any {
	var v any
	if err := yaml.Unmarshal([]byte(raw), &v); err != nil {
		return raw
	}
	return v
}

func paginate(recs []map[string]any, lp listParams) []map[string]any {
	start := lp.Offset
	if start > len(recs) {
		start = len(recs)
	}
	end := start + lp.Limit
	if end > len(recs) {
		end = len(recs)
	}
	return recs[start:end]
}
