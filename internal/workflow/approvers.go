package workflow

import (
	"fmt"
	"strings"
)

// Approver is one member of an assignment's approver list. Ids and display
// names travel together so the two can never fall out of step.
type Approver struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
}

// NormalizeApprovers trims ids, drops duplicates keeping the first occurrence
// and its position, and fills a missing display name from a later duplicate.
// An empty id is an error.
func NormalizeApprovers(in []Approver) ([]Approver, error) {
	out := make([]Approver, 0, len(in))
	index := make(map[string]int, len(in))
	for i, a := range in {
		id := strings.TrimSpace(a.ID)
		if id == "" {
			return nil, fmt.Errorf("approver %d has an empty id", i)
		}
		name := strings.TrimSpace(a.DisplayName)
		if pos, seen := index[id]; seen {
			if out[pos].DisplayName == "" {
				out[pos].DisplayName = name
			}
			continue
		}
		index[id] = len(out)
		out = append(out, Approver{ID: id, DisplayName: name})
	}
	return out, nil
}

// ApproversFromParallel zips separate id and name slices. names may be empty
// or shorter; otherwise it must line up with ids.
func ApproversFromParallel(ids, names []string) ([]Approver, error) {
	if len(names) > len(ids) {
		return nil, fmt.Errorf("got %d names for %d approver ids", len(names), len(ids))
	}
	out := make([]Approver, len(ids))
	for i, id := range ids {
		out[i].ID = id
		if i < len(names) {
			out[i].DisplayName = names[i]
		}
	}
	return out, nil
}

// ApproverIDs returns the ids in order.
func ApproverIDs(approvers []Approver) []string {
	ids := make([]string, len(approvers))
	for i, a := range approvers {
		ids[i] = a.ID
	}
	return ids
}

// ApproverNames returns the display names in order, index-aligned with
// ApproverIDs.
func ApproverNames(approvers []Approver) []string {
	names := make([]string, len(approvers))
	for i, a := range approvers {
		names[i] = a.DisplayName
	}
	return names
}

// HasApprover reports whether id is in the list.
func HasApprover(approvers []Approver, id string) bool {
	for _, a := range approvers {
		if a.ID == id {
			return true
		}
	}
	return false
}

// SameApprovers reports whether both lists hold the same ids in the same order.
func SameApprovers(a, b []Approver) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].ID != b[i].ID {
			return false
		}
	}
	return true
}
