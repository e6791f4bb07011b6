// Copyright (c) 2025 Steve Taranto <staranto@gmail.com>.
// SPDX-License-Identifier: Apache-2.0

// Package filters applies --filter expressions to result rows.
//
// An expression is KEY OP TARGET where KEY is an attribute output key and OP
// is one of
//
//	=  equal            ~  equal ignoring case
//	^  has prefix       @  contains (substring, list item or map key)
//	<  less than        >  greater than
//	/  matches regexp
//
// Any operator may be negated with a leading '!'. Numeric values compare
// numerically and accept size targets such as 2MB or 512KiB.
package filters

import (
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/apex/log"
	"github.com/dustin/go-humanize"
	"github.com/tidwall/gjson"

	"github.com/staranto/studiocache/internal/attrs"
)

var filterRegex = regexp.MustCompile(`^(.*?)(!?[=^~<>@/])(.*)$`)

// Filter is a single parsed --filter expression.
type Filter struct {
	Key     string
	Negate  bool
	Operand string
	Target  string
}

var stringOps = map[string]func(value, target string) bool{
	"=": func(v, t string) bool { return v == t },
	"~": strings.EqualFold,
	"^": strings.HasPrefix,
	"@": strings.Contains,
	"<": func(v, t string) bool { return v < t },
	">": func(v, t string) bool { return v > t },
	"/": func(v, t string) bool {
		matched, _ := regexp.MatchString(t, v)
		return matched
	},
}

var numericOps = map[string]func(value, target float64) bool{
	"=": func(v, t float64) bool { return v == t },
	"<": func(v, t float64) bool { return v < t },
	">": func(v, t float64) bool { return v > t },
}

// BuildFilters parses a comma separated filter specification. The delimiter
// can be changed with STUDIOCACHE_FILTER_DELIM. Malformed entries are logged
// and skipped.
func BuildFilters(spec string) []Filter {
	if spec == "" {
		return nil
	}

	delim := ","
	if d, ok := os.LookupEnv("STUDIOCACHE_FILTER_DELIM"); ok {
		delim = d
	}

	var filters []Filter
	for _, fs := range strings.Split(spec, delim) {
		parts := filterRegex.FindStringSubmatch(fs)
		if parts == nil {
			log.Errorf("invalid filter: %s", fs)
			continue
		}
		op, negate := strings.CutPrefix(parts[2], "!")
		filters = append(filters, Filter{
			Key:     parts[1],
			Negate:  negate,
			Operand: op,
			Target:  parts[3],
		})
	}
	return filters
}

// Match reports whether value, a decoded JSON value, satisfies f. Values the
// operand cannot be applied to never match, negated or not.
func (f Filter) Match(value any) bool {
	var matched, ok bool
	switch v := value.(type) {
	case nil:
		return false
	case string:
		matched, ok = f.matchString(v)
	case bool:
		matched, ok = f.matchString(strconv.FormatBool(v))
	case float64:
		matched, ok = f.matchNumber(v)
	case []any, map[string]any:
		matched, ok = f.matchMember(v)
	}
	if !ok {
		return false
	}
	return matched != f.Negate
}

func (f Filter) matchString(v string) (bool, bool) {
	op, ok := stringOps[f.Operand]
	if !ok {
		log.Errorf("unsupported filtering operand: %s", f.Operand)
		return false, false
	}
	if f.Operand == "/" {
		if _, err := regexp.Compile(f.Target); err != nil {
			log.Errorf("invalid regex: %s", f.Target)
			return false, false
		}
	}
	return op(v, f.Target), true
}

func (f Filter) matchNumber(v float64) (bool, bool) {
	op, ok := numericOps[f.Operand]
	if !ok {
		// Prefix, contains and regex work on the text form.
		return f.matchString(strconv.FormatFloat(v, 'f', -1, 64))
	}
	tgt, ok := parseNumber(f.Target)
	if !ok {
		log.Errorf("invalid numeric target: %s", f.Target)
		return false, false
	}
	return op(v, tgt), true
}

func (f Filter) matchMember(v any) (bool, bool) {
	if f.Operand != "@" {
		log.Errorf("unsupported operand %s for list or map values", f.Operand)
		return false, false
	}
	switch val := v.(type) {
	case []any:
		for _, item := range val {
			if s, ok := item.(string); ok && s == f.Target {
				return true, true
			}
		}
		return false, true
	case map[string]any:
		_, found := val[f.Target]
		return found, true
	}
	return false, false
}

// parseNumber accepts plain numbers and humanized sizes.
func parseNumber(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if n, err := strconv.ParseFloat(s, 64); err == nil {
		return n, true
	}
	if n, err := humanize.ParseBytes(s); err == nil {
		return float64(n), true
	}
	return 0, false
}

// FilterDataset returns the rows of candidates, a JSON array, that match spec.
// Each returned row holds the attrs keyed by their output keys.
func FilterDataset(candidates gjson.Result, al attrs.AttrList, spec string) []map[string]interface{} {
	filters := BuildFilters(spec)

	var rows []map[string]interface{}
	for _, candidate := range candidates.Array() {
		if !applyFilters(candidate, al, filters) {
			continue
		}
		// Transforms are applied later, at output.
		row := make(map[string]interface{}, len(al))
		for _, a := range al {
			row[a.OutputKey] = candidate.Get(a.Key).Value()
		}
		rows = append(rows, row)
	}
	return rows
}

// applyFilters reports whether candidate matches every filter. Filters naming
// an unknown output key are reported and ignored.
func applyFilters(candidate gjson.Result, al attrs.AttrList, filters []Filter) bool {
	for _, f := range filters {
		key := ""
		for _, a := range al {
			if a.OutputKey == f.Key {
				key = a.Key
				break
			}
		}
		if key == "" {
			log.Warnf("filter key not found: %s", f.Key)
			continue
		}

		if !f.Match(candidate.Get(key).Value()) {
			return false
		}
	}
	return true
}
