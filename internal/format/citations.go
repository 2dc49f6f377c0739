// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package format

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// factRefPattern matches bracketed references to verified facts: [fact_3] or
// [fact_1; fact_4].
var factRefPattern = regexp.MustCompile(`\[([^\[\]]+)\]`)

// CitedKeys returns the distinct fact keys referenced in text, ordered by
// fact number. Bracketed content that is not a fact key (Markdown links,
// footnotes) is ignored.
func CitedKeys(text string) []string {
	seen := make(map[string]bool)
	var keys []string
	for _, m := range factRefPattern.FindAllStringSubmatch(text, -1) {
		for _, part := range strings.FieldsFunc(m[1], func(r rune) bool { return r == ';' || r == ',' }) {
			key := strings.TrimSpace(part)
			if isFactKey(key) && !seen[key] {
				seen[key] = true
				keys = append(keys, key)
			}
		}
	}
	sort.Slice(keys, func(i, j int) bool { return factNumber(keys[i]) < factNumber(keys[j]) })
	return keys
}

func isFactKey(s string) bool {
	return factNumber(s) > 0
}

// factNumber returns N for "fact_N", or 0 when s is not a fact key.
func factNumber(s string) int {
	rest, ok := strings.CutPrefix(s, "fact_")
	if !ok || rest == "" {
		return 0
	}
	n, err := strconv.Atoi(rest)
	if err != nil || n < 1 {
		return 0
	}
	return n
}
