package notifications

import "strings"

func splitIDs(s string) []string {
	parts := strings.Split(s, ",")
	ids := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			ids = append(ids, p)
		}
	}
	return ids
}

// JoinNames renders names as "A", "A and B" or "A, B, and C".
func JoinNames(names []string) string {
	switch len(names) {
	case 0:
		return ""
	case 1:
		return names[0]
	case 2:
		return names[0] + " and " + names[1]
	default:
		return strings.Join(names[:len(names)-1], ", ") + ", and " + names[len(names)-1]
	}
}

// AssigneeIDs collects the distinct user ids referenced by assignee changes.
func AssigneeIDs(changes []Change) []string {
	seen := make(map[string]bool)
	ids := make([]string, 0)
	for _, c := range changes {
		if c.Type != ChangeAssignee {
			continue
		}
		for _, v := range []*string{c.Old, c.New} {
			for _, id := range splitIDs(derefString(v)) {
				if !seen[id] {
					seen[id] = true
					ids = append(ids, id)
				}
			}
		}
	}
	return ids
}

// ResolveAssignees replaces comma-separated user ids in assignee changes with
// display names. Unknown ids are kept as they are.
func ResolveAssignees(changes []Change, names map[string]string) []Change {
	out := make([]Change, len(changes))
	for i, c := range changes {
		if c.Type == ChangeAssignee {
			c.Old = resolveIDs(c.Old, names)
			c.New = resolveIDs(c.New, names)
		}
		out[i] = c
	}
	return out
}

func resolveIDs(v *string, names map[string]string) *string {
	if v == nil {
		return nil
	}
	ids := splitIDs(*v)
	resolved := make([]string, 0, len(ids))
	for _, id := range ids {
		if name, ok := names[id]; ok && name != "" {
			resolved = append(resolved, name)
		} else {
			resolved = append(resolved, id)
		}
	}
	return StringPtr(JoinNames(resolved))
}
