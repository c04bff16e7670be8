package domain

import (
	"strconv"
	"strings"
)

// ItemType tags a TargetItem variant.
type ItemType string

const (
	ItemIssue    ItemType = "issue"
	ItemPR       ItemType = "pr"
	ItemCodebase ItemType = "codebase"
	ItemCustom   ItemType = "custom"
)

// TargetItem is one unit of work for a run. Which fields are meaningful
// depends on Type:
//
//	issue:    Number, Title, Body, Labels
//	pr:       Number, Title, Body, HeadRef, BaseRef
//	codebase: none
//	custom:   none
type TargetItem struct {
	Type    ItemType `json:"type"`
	Number  int      `json:"number,omitempty"`
	Title   string   `json:"title,omitempty"`
	Body    string   `json:"body,omitempty"`
	Labels  []string `json:"labels,omitempty"`
	HeadRef string   `json:"head_ref,omitempty"`
	BaseRef string   `json:"base_ref,omitempty"`
}

// Fields returns the placeholder values the variant defines. Keys a variant
// does not define are absent, so their placeholders stay literal.
func (it TargetItem) Fields() map[string]string {
	f := map[string]string{"type": string(it.Type)}
	switch it.Type {
	case ItemIssue:
		f["number"] = strconv.Itoa(it.Number)
		f["title"] = it.Title
		f["body"] = it.Body
		f["labels"] = strings.Join(it.Labels, ",")
	case ItemPR:
		f["number"] = strconv.Itoa(it.Number)
		f["title"] = it.Title
		f["body"] = it.Body
		f["head_ref"] = it.HeadRef
		f["base_ref"] = it.BaseRef
	}
	return f
}

// Entity returns the issue/PR this item references, if any.
func (it TargetItem) Entity() (EntityType, int, bool) {
	switch it.Type {
	case ItemIssue:
		return EntityIssue, it.Number, true
	case ItemPR:
		return EntityPR, it.Number, true
	}
	return "", 0, false
}

// ItemMetadata is sidecar metadata about an issue or PR, stored apart from
// the provider's own representation.
type ItemMetadata struct {
	RepoKey       string     `json:"repo_key" db:"repo_key"`
	Number        int        `json:"number" db:"number"`
	Priority      string     `json:"priority,omitempty" db:"priority"`
	Difficulty    string     `json:"difficulty,omitempty" db:"difficulty"`
	Risk          string     `json:"risk,omitempty" db:"risk"`
	Type          string     `json:"type,omitempty" db:"type"`
	Status        string     `json:"status,omitempty" db:"status"`
	AffectedAreas StringList `json:"affected_areas,omitempty" db:"affected_areas"`
}

// Repository is a registered code repository.
type Repository struct {
	ID        string `json:"id"`
	Owner     string `json:"owner"`
	Name      string `json:"name"`
	LocalPath string `json:"local_path"`
}

// Key is the "owner/name" identifier used for sidecar lookups.
func (r Repository) Key() string { return r.Owner + "/" + r.Name }
