// Package filterquery parses the job filter mini-language and applies its
// sidecar half to candidate work items.
//
// A query is whitespace-separated "prefix:value" tokens, e.g.
//
//	state:open label:bug,enhancement -label:wontfix priority:high -risk:high
//
// Values are comma lists (scalar for state:). Unknown prefixes are ignored so
// stored queries stay readable by older and newer versions alike.
package filterquery

import (
	"strings"
)

const DefaultState = "open"

// Params is the parsed form of a filter query. It is never persisted;
// the source string is.
type Params struct {
	State string `json:"state"`

	// Provider-native.
	Labels        []string `json:"labels"`
	ExcludeLabels []string `json:"exclude_labels"`

	// Sidecar namespace.
	Priority             []string `json:"priority"`
	ExcludePriority      []string `json:"exclude_priority"`
	Difficulty           []string `json:"difficulty"`
	ExcludeDifficulty    []string `json:"exclude_difficulty"`
	Risk                 []string `json:"risk"`
	ExcludeRisk          []string `json:"exclude_risk"`
	Type                 []string `json:"type"`
	ExcludeType          []string `json:"exclude_type"`
	SidecarStatus        []string `json:"sidecar_status"`
	ExcludeSidecarStatus []string `json:"exclude_sidecar_status"`
	AffectedAreas        []string `json:"affected_areas"`
	ExcludeAffectedAreas []string `json:"exclude_affected_areas"`
}

// Defaults returns the record an empty query parses to.
func Defaults() Params {
	return Params{
		State:                DefaultState,
		Labels:               []string{},
		ExcludeLabels:        []string{},
		Priority:             []string{},
		ExcludePriority:      []string{},
		Difficulty:           []string{},
		ExcludeDifficulty:    []string{},
		Risk:                 []string{},
		ExcludeRisk:          []string{},
		Type:                 []string{},
		ExcludeType:          []string{},
		SidecarStatus:        []string{},
		ExcludeSidecarStatus: []string{},
		AffectedAreas:        []string{},
		ExcludeAffectedAreas: []string{},
	}
}

type listField func(p *Params) *[]string

// prefixes is matched in order. Each exclude prefix comes before its include
// counterpart.
var prefixes = []struct {
	prefix string
	field  listField // nil for state:
}{
	{"state:", nil},
	{"-label:", func(p *Params) *[]string { return &p.ExcludeLabels }},
	{"label:", func(p *Params) *[]string { return &p.Labels }},
	{"-priority:", func(p *Params) *[]string { return &p.ExcludePriority }},
	{"priority:", func(p *Params) *[]string { return &p.Priority }},
	{"-difficulty:", func(p *Params) *[]string { return &p.ExcludeDifficulty }},
	{"difficulty:", func(p *Params) *[]string { return &p.Difficulty }},
	{"-risk:", func(p *Params) *[]string { return &p.ExcludeRisk }},
	{"risk:", func(p *Params) *[]string { return &p.Risk }},
	{"-type:", func(p *Params) *[]string { return &p.ExcludeType }},
	{"type:", func(p *Params) *[]string { return &p.Type }},
	{"-sidecar-status:", func(p *Params) *[]string { return &p.ExcludeSidecarStatus }},
	{"sidecar-status:", func(p *Params) *[]string { return &p.SidecarStatus }},
	{"-affected-area:", func(p *Params) *[]string { return &p.ExcludeAffectedAreas }},
	{"affected-area:", func(p *Params) *[]string { return &p.AffectedAreas }},
}

// Parse parses q. Empty or whitespace-only input yields Defaults(); Parse
// never fails.
func Parse(q string) Params {
	p := Defaults()
	for _, tok := range strings.Fields(q) {
		for _, e := range prefixes {
			if !strings.HasPrefix(tok, e.prefix) {
				continue
			}
			raw := tok[len(e.prefix):]
			if e.field == nil {
				if v := strings.TrimSpace(raw); v != "" {
					p.State = v
				}
				break
			}
			dst := e.field(&p)
			*dst = append(*dst, splitValues(raw)...)
			break
		}
	}
	return p
}

func splitValues(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, v := range parts {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// HasSidecarFilters reports whether any sidecar category is non-empty.
func (p Params) HasSidecarFilters() bool {
	for _, l := range p.sidecarLists() {
		if len(l) > 0 {
			return true
		}
	}
	return false
}

func (p Params) sidecarLists() [][]string {
	return [][]string{
		p.Priority, p.ExcludePriority,
		p.Difficulty, p.ExcludeDifficulty,
		p.Risk, p.ExcludeRisk,
		p.Type, p.ExcludeType,
		p.SidecarStatus, p.ExcludeSidecarStatus,
		p.AffectedAreas, p.ExcludeAffectedAreas,
	}
}

// String renders p back into canonical query form: state first, then every
// non-empty category in prefix-table order. Parse(p.String()) equals p.
func (p Params) String() string {
	var b strings.Builder
	b.WriteString("state:")
	if p.State == "" {
		b.WriteString(DefaultState)
	} else {
		b.WriteString(p.State)
	}
	cp := p
	for _, e := range prefixes {
		if e.field == nil {
			continue
		}
		vals := *e.field(&cp)
		if len(vals) == 0 {
			continue
		}
		b.WriteByte(' ')
		b.WriteString(e.prefix)
		b.WriteString(strings.Join(vals, ","))
	}
	return b.String()
}
