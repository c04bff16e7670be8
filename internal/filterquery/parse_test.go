package filterquery

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEmptyIsDefaults(t *testing.T) {
	t.Parallel()
	want := Defaults()
	for _, q := range []string{"", "   ", "\t\n"} {
		got := Parse(q)
		assert.Equal(t, want, got, "query %q", q)
		assert.NotNil(t, got.Labels)
		assert.NotNil(t, got.ExcludeAffectedAreas)
	}
	assert.False(t, want.HasSidecarFilters())
}

func TestParseTokens(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		query string
		check func(t *testing.T, p Params)
	}{
		{
			name:  "empty middle value dropped",
			query: "label:bug,,feature",
			check: func(t *testing.T, p Params) {
				assert.Equal(t, []string{"bug", "feature"}, p.Labels)
			},
		},
		{
			name:  "exclude and include independent",
			query: "-label:x label:y",
			check: func(t *testing.T, p Params) {
				assert.Equal(t, []string{"y"}, p.Labels)
				assert.Equal(t, []string{"x"}, p.ExcludeLabels)
			},
		},
		{
			name:  "include before exclude",
			query: "label:y -label:x",
			check: func(t *testing.T, p Params) {
				assert.Equal(t, []string{"y"}, p.Labels)
				assert.Equal(t, []string{"x"}, p.ExcludeLabels)
			},
		},
		{
			name:  "empty state keeps default",
			query: "state: label:bug",
			check: func(t *testing.T, p Params) {
				assert.Equal(t, "open", p.State)
			},
		},
		{
			name:  "state overrides",
			query: "state:closed",
			check: func(t *testing.T, p Params) {
				assert.Equal(t, "closed", p.State)
			},
		},
		{
			name:  "trailing comma and bare prefix",
			query: "label: priority:high,",
			check: func(t *testing.T, p Params) {
				assert.Empty(t, p.Labels)
				assert.Equal(t, []string{"high"}, p.Priority)
			},
		},
		{
			name:  "duplicates accumulate",
			query: "label:a label:b,a",
			check: func(t *testing.T, p Params) {
				assert.Equal(t, []string{"a", "b", "a"}, p.Labels)
			},
		},
		{
			name:  "unknown prefixes ignored",
			query: "assignee:me milestone:v2 label:bug",
			check: func(t *testing.T, p Params) {
				assert.Equal(t, []string{"bug"}, p.Labels)
				assert.False(t, p.HasSidecarFilters())
			},
		},
		{
			name:  "sidecar namespace",
			query: "priority:high -risk:high difficulty:easy -difficulty:hard type:bug -type:chore sidecar-status:ready -sidecar-status:blocked affected-area:api,db -affected-area:ui",
			check: func(t *testing.T, p Params) {
				assert.Equal(t, []string{"high"}, p.Priority)
				assert.Equal(t, []string{"high"}, p.ExcludeRisk)
				assert.Equal(t, []string{"easy"}, p.Difficulty)
				assert.Equal(t, []string{"hard"}, p.ExcludeDifficulty)
				assert.Equal(t, []string{"bug"}, p.Type)
				assert.Equal(t, []string{"chore"}, p.ExcludeType)
				assert.Equal(t, []string{"ready"}, p.SidecarStatus)
				assert.Equal(t, []string{"blocked"}, p.ExcludeSidecarStatus)
				assert.Equal(t, []string{"api", "db"}, p.AffectedAreas)
				assert.Equal(t, []string{"ui"}, p.ExcludeAffectedAreas)
			},
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			tt.check(t, Parse(tt.query))
		})
	}
}

func TestHasSidecarFilters(t *testing.T) {
	t.Parallel()
	assert.False(t, Parse("state:open label:bug").HasSidecarFilters())
	assert.True(t, Parse("priority:high").HasSidecarFilters())
	assert.True(t, Parse("-affected-area:ui").HasSidecarFilters())
}

func TestParamsStringRoundTrip(t *testing.T) {
	t.Parallel()
	p := Parse("  label:bug,enhancement -label:wontfix state:all priority:high -risk:high affected-area:api ")
	s := p.String()
	require.Equal(t, "state:all -label:wontfix label:bug,enhancement priority:high -risk:high affected-area:api", s)
	assert.Equal(t, p, Parse(s))
	assert.Equal(t, "state:open", Defaults().String())
}
