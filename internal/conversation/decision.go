package conversation

import (
	"strings"
)

// Status is the confirmation state of a decision.
type Status string

const (
	StatusConfirmed   Status = "confirmed"
	StatusPending     Status = "pending"
	StatusConflicting Status = "conflicting"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusConfirmed, StatusPending, StatusConflicting:
		return true
	}
	return false
}

// ParseStatus normalizes model output to a status. Anything unrecognised is
// treated as pending.
func ParseStatus(raw string) Status {
	s := Status(strings.ToLower(strings.TrimSpace(raw)))
	if s.Valid() {
		return s
	}
	return StatusPending
}

// Decision is a requirement or choice inferred from the conversation. The id
// is assigned here, never by the model.
type Decision struct {
	ID                string   `json:"id"`
	Title             string   `json:"title"`
	Details           string   `json:"details"`
	Status            Status   `json:"status"`
	Category          string   `json:"category"`
	RelatedMessageIDs []string `json:"related_message_ids"`
}

func (d Decision) clone() Decision {
	d.RelatedMessageIDs = append([]string(nil), d.RelatedMessageIDs...)
	return d
}

// DecisionUpdate carries the user-editable fields of a decision. Nil fields
// are left unchanged.
type DecisionUpdate struct {
	Status  *Status
	Details *string
}

// Category is a display bucket for decisions.
type Category struct {
	Key   string `json:"key"`
	Title string `json:"title"`
}

// OtherCategory collects decisions whose category is not recognised.
var OtherCategory = Category{Key: "other", Title: "Other"}

// Categories are the fixed display buckets, in display order.
var Categories = []Category{
	{Key: "purpose", Title: "App Purpose"},
	{Key: "users", Title: "User Personas"},
	{Key: "features", Title: "Features"},
	{Key: "technical", Title: "Technical Requirements"},
}

var categoryAliases = map[string]string{
	"technology": "technical",
}

// Bucket maps a decision's category key to the key of its display bucket.
func Bucket(category string) string {
	key := strings.ToLower(strings.TrimSpace(category))
	if alias, ok := categoryAliases[key]; ok {
		key = alias
	}
	for _, c := range Categories {
		if c.Key == key {
			return key
		}
	}
	return OtherCategory.Key
}

// Group is the decisions of one display bucket.
type Group struct {
	Category  Category   `json:"category"`
	Decisions []Decision `json:"decisions"`
}

func groupDecisions(decisions []Decision) []Group {
	byKey := make(map[string][]Decision, len(Categories)+1)
	for _, d := range decisions {
		key := Bucket(d.Category)
		byKey[key] = append(byKey[key], d.clone())
	}

	groups := make([]Group, 0, len(Categories)+1)
	for _, c := range Categories {
		groups = append(groups, Group{Category: c, Decisions: nonNil(byKey[c.Key])})
	}
	if other := byKey[OtherCategory.Key]; len(other) > 0 {
		groups = append(groups, Group{Category: OtherCategory, Decisions: other})
	}
	return groups
}

func decisionKey(title, category string) string {
	return strings.ToLower(strings.TrimSpace(title)) + "\x00" + strings.ToLower(strings.TrimSpace(category))
}

func mergeIDs(existing, added []string) []string {
	seen := make(map[string]struct{}, len(existing)+len(added))
	out := make([]string, 0, len(existing)+len(added))
	for _, ids := range [][]string{existing, added} {
		for _, id := range ids {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}

func nonNil(ds []Decision) []Decision {
	if ds == nil {
		return []Decision{}
	}
	return ds
}
