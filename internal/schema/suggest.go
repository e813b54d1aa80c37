package schema

import (
	"sort"
	"strings"

	"github.com/sahilm/fuzzy"
)

// Suggest returns the supported kind closest to an unknown kind name, or ""
// when nothing matches.
func Suggest(kind string) string {
	kind = strings.ToLower(strings.TrimSpace(kind))
	if kind == "" {
		return ""
	}

	names := make([]string, 0, len(kinds)+len(kindAliases))
	for _, k := range kinds {
		names = append(names, string(k))
	}
	aliases := make([]string, 0, len(kindAliases))
	for alias := range kindAliases {
		aliases = append(aliases, alias)
	}
	sort.Strings(aliases)
	names = append(names, aliases...)

	// Abbreviations: "integr" → "integer".
	if matches := fuzzy.Find(kind, names); len(matches) > 0 {
		return canonical(matches[0].Str)
	}

	// Decorated names: "datetimez" contains "datetime".
	best := ""
	for _, name := range names {
		if len(fuzzy.Find(name, []string{kind})) > 0 && len(name) > len(best) {
			best = name
		}
	}
	if best == "" {
		return ""
	}
	return canonical(best)
}

func canonical(name string) string {
	k, _ := ParseKind(name)
	return string(k)
}
