// Copyright (c) 2025 Steve Taranto <staranto@gmail.com>.
// SPDX-License-Identifier: Apache-2.0

// Package attrs parses the --attrs flag, which selects, renames and
// transforms the columns of a command's result rows.
package attrs

import (
	"fmt"
	"math"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/apex/log"
	"github.com/dustin/go-humanize"

	"github.com/staranto/studiocache/internal/config"
)

// now is replaced in tests.
var now = time.Now

var lengthRe = regexp.MustCompile(`-?\d+`)

// Attr represents each of the keys to be included in the output. Keys are
// gjson paths into a result row.
type Attr struct {
	// The gjson path to extract from the row.
	Key string `yaml:"key"`
	// Should this Attr be included in output or is it just intended for
	// filtering and sorting?
	Include bool `yaml:"include"`
	// The key to use in the output. This is also the column title when
	// output=text.
	OutputKey string `yaml:"outputKey"`
	// Transformation spec to apply to the output value.
	TransformSpec string `yaml:"transformSpec"`
}

// Transform applies the spec to value. The spec is a string of flags:
//
//	t   RFC3339 timestamps rendered in the configured timezone
//	r   RFC3339 timestamps rendered relative to now ("3 days ago")
//	h   numbers rendered as human byte sizes
//	l/u lower or upper case; the last one wins
//	N   truncate to N characters; -N keeps both ends around ".."
func (a *Attr) Transform(value interface{}) interface{} {
	if n, ok := value.(float64); ok {
		if strings.ContainsAny(a.TransformSpec, "hH") && n >= 0 {
			return humanize.Bytes(uint64(n))
		}
		return value
	}

	result, ok := value.(string)
	if !ok {
		return value
	}

	if strings.ContainsAny(a.TransformSpec, "rR") {
		if t, err := time.Parse(time.RFC3339Nano, result); err == nil {
			result = humanize.RelTime(t, now(), "ago", "from now")
		}
	} else if strings.ContainsAny(a.TransformSpec, "tT") {
		result = localTime(result)
	}

	// We need to know which case transformation appears last. This covers the
	// case where a global case transformation has been prepended to the attr's
	// own, letting the attr's carry more weight. --attrs '*::U,key::l' will be
	// lower case.
	lastL := strings.LastIndexAny(a.TransformSpec, "lL")
	lastU := strings.LastIndexAny(a.TransformSpec, "uU")

	if lastL > lastU {
		result = strings.ToLower(result)
	} else if lastU > lastL {
		result = strings.ToUpper(result)
	}

	if a.TransformSpec != "" {
		// Take the last (overriding) length.
		match := lengthRe.FindAllString(a.TransformSpec, -1)
		if len(match) != 0 {
			l, _ := strconv.Atoi(match[len(match)-1])
			abs := int(math.Abs(float64(l)))
			if len(result) > abs {
				if l < 0 {
					lr := abs/2 - 1
					if lr < 1 {
						lr = 1
					}
					result = result[0:lr] + ".." + result[len(result)-lr:]
				} else {
					result = result[:l]
				}
			}
		}
	}

	return result
}

// localTime converts an RFC3339 value to the timezone named by the config
// file's timezone key or TZ. Without either the value is returned as is.
func localTime(value string) string {
	tz, _ := config.GetString("timezone", "")
	if tz == "" {
		tz = os.Getenv("TZ")
	}
	if tz == "" {
		return value
	}

	loc, err := time.LoadLocation(tz)
	if err != nil {
		log.WithError(err).Debugf("bad timezone %s", tz)
		return value
	}
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		log.Debugf("failed to parse time: %s", value)
		return value
	}
	return t.In(loc).Format("2006-01-02T15:04:05MST")
}

type AttrList []Attr

// String returns the list in the format of the --attrs flag.
func (a *AttrList) String() string {
	result := make([]string, 0, len(*a))
	for _, attr := range *a {
		result = append(result, fmt.Sprintf("%s:%s:%s", attr.Key, attr.OutputKey, attr.TransformSpec))
	}
	return strings.Join(result, ",")
}

// Set parses each spec from the --attrs flag and adds it to the AttrList.
func (a *AttrList) Set(value string) error {
	if value == "" || value == "*" {
		return nil
	}

	const (
		keyIdx = iota
		outputIdx
		transformIdx
	)

	// There are three : delimited fields in each spec. The first is the gjson
	// path into the row, the second the output key and the third the
	// transformation spec. The latter two are optional. The output key
	// defaults to the last segment of the path.
	specs := strings.Split(value, ",")
specloop:
	for _, spec := range specs {
		attr := Attr{
			Include: true,
		}

		fields := strings.Split(spec, ":")
		if len(fields) > transformIdx+1 {
			return fmt.Errorf("invalid attr spec %q", spec)
		}

		// A leading ! excludes the attr from output but keeps it for sorting
		// and filtering. A leading . is accepted for the row root.
		attr.Key = strings.TrimSpace(fields[keyIdx])
		if strings.HasPrefix(attr.Key, "!") {
			attr.Include = false
			attr.Key = attr.Key[1:]
		}
		attr.Key = strings.TrimPrefix(attr.Key, ".")
		if attr.Key == "" {
			return fmt.Errorf("invalid attr spec %q", spec)
		}

		if attr.Key == "*" {
			attr.Include = false
		}

		segments := strings.Split(attr.Key, ".")
		attr.OutputKey = segments[len(segments)-1]
		if len(fields) > outputIdx && strings.TrimSpace(fields[outputIdx]) != "" {
			attr.OutputKey = strings.TrimSpace(fields[outputIdx])
		}

		if len(fields) > transformIdx {
			attr.TransformSpec = strings.TrimSpace(fields[transformIdx])
		}

		// If the attr already exists in the list (because it's one of the
		// command's defaults or was entered twice) update it in place.
		for i := range *a {
			if (*a)[i].Key == attr.Key || (*a)[i].OutputKey == attr.Key {
				(*a)[i].Include = attr.Include
				(*a)[i].OutputKey = attr.OutputKey
				(*a)[i].TransformSpec = attr.TransformSpec
				continue specloop
			}
		}

		*a = append(*a, attr)
	}

	return nil
}

// SetGlobalTransformSpec inserts the transform spec of a "*" attr into the
// front of all attrs in the list.
func (alist *AttrList) SetGlobalTransformSpec() {
	spec := ""

	// If there is more than one global spec, only the first is used.
	for a := range *alist {
		if (*alist)[a].Key == "*" {
			spec = (*alist)[a].TransformSpec
			break
		}
	}

	if spec == "" {
		return
	}

	for a := range *alist {
		(*alist)[a].TransformSpec = spec + "," + (*alist)[a].TransformSpec
	}
}

func (a *AttrList) Type() string {
	return "list"
}
