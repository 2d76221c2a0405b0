package intent

import "strings"

// LabelTable maps classifier labels onto canonical action names. It is
// versioned so the version can be logged with every classified action.
type LabelTable struct {
	Version   string
	Threshold float64
	labels    map[string]string
}

func NewLabelTable(version string, threshold float64, labels map[string]string) LabelTable {
	copied := make(map[string]string, len(labels))
	for label, action := range labels {
		copied[strings.ToLower(label)] = action
	}
	return LabelTable{Version: version, Threshold: threshold, labels: copied}
}

// DefaultLabelTable is the built-in mapping for the classifier labels the
// team assistant understands.
func DefaultLabelTable(threshold float64) LabelTable {
	return NewLabelTable("2026.05.1", threshold, map[string]string{
		"greeting":           ActionHelp,
		"get_help":           ActionHelp,
		"join_team":          ActionRegister,
		"register":           ActionRegister,
		"my_status":          "myinfo",
		"list_players":       "roster",
		"show_roster":        "roster",
		"check_availability": "availability",
		"set_availability":   "availability",
		"match_info":         "matches",
		"next_match":         "matches",
		"payment_status":     "payments",
		"pending_approvals":  "pending",
		"add_player":         "addplayer",
	})
}

// Lookup returns the action for label when confidence reaches the
// threshold.
func (t LabelTable) Lookup(label string, confidence float64) (string, bool) {
	if confidence < t.Threshold {
		return "", false
	}
	action, ok := t.labels[strings.ToLower(strings.TrimSpace(label))]
	return action, ok
}

func (t LabelTable) Len() int {
	return len(t.labels)
}
