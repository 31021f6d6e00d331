package fields

import (
	"maps"
	"slices"
)

// Mapping translates caller-facing field names into provider identifiers.
type Mapping struct {
	SummaryField string
	Aliases      map[string]string
}

// NewMapping returns a Mapping using summaryField for SummaryAlias, falling
// back to DefaultSummaryField when empty.
func NewMapping(summaryField string, aliases map[string]string) Mapping {
	if summaryField == "" {
		summaryField = DefaultSummaryField
	}
	return Mapping{SummaryField: summaryField, Aliases: aliases}
}

// Resolve rewrites aliased keys to provider identifiers. Unknown keys pass
// through unchanged. When an alias and its target are both present, the
// explicit provider identifier wins. When several aliases share a target, the
// alphabetically first alias wins.
func (m Mapping) Resolve(in map[string]any) FieldMap {
	out := make(FieldMap, len(in))
	for _, key := range slices.Sorted(maps.Keys(in)) {
		target := m.target(key)
		if target != key {
			if _, explicit := in[target]; explicit {
				continue
			}
			if _, taken := out[target]; taken {
				continue
			}
		}
		out[target] = in[key]
	}
	return out
}

func (m Mapping) target(key string) string {
	if key == SummaryAlias {
		return m.SummaryField
	}
	if id, ok := m.Aliases[key]; ok && id != "" {
		return id
	}
	return key
}
