package tui

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/aretw0/espalier/pkg/domain"
)

// Report formats an outcome as markdown.
func Report(o *domain.Outcome) string {
	var sb strings.Builder

	title := o.RunID
	if o.Pipeline != "" {
		title = o.Pipeline + " · " + o.RunID
	}
	fmt.Fprintf(&sb, "# %s\n\n", title)
	fmt.Fprintf(&sb, "**Status:** %s", o.Status)
	if !o.StartedAt.IsZero() && !o.FinishedAt.IsZero() {
		fmt.Fprintf(&sb, " in %s", o.FinishedAt.Sub(o.StartedAt).Round(time.Millisecond))
	}
	sb.WriteString("\n\n")

	if o.Status == domain.StatusFailed || o.Status == domain.StatusCanceled {
		if o.FailedNode != "" {
			fmt.Fprintf(&sb, "**Failed node:** `%s`\n\n", o.FailedNode)
		}
		if len(o.Causes) == 0 && o.Error != "" {
			fmt.Fprintf(&sb, "> %s\n\n", o.Error)
		}
		if len(o.Causes) > 0 {
			sb.WriteString("## Causes\n\n")
			for _, c := range o.Causes {
				fmt.Fprintf(&sb, "- %s\n", c)
			}
			sb.WriteString("\n")
		}
	}

	if len(o.Outputs) > 0 {
		sb.WriteString("## Outputs\n\n| Name | Value |\n|---|---|\n")
		names := make([]string, 0, len(o.Outputs))
		for name := range o.Outputs {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(&sb, "| %s | %s |\n", name, cell(o.Outputs[name]))
		}
		sb.WriteString("\n")
	}

	if len(o.History) > 0 {
		sb.WriteString("## Nodes\n\n")
		for i, h := range o.History {
			fmt.Fprintf(&sb, "%d. `%s` → %s\n", i+1, h.Node, strings.Join(sortedKeys(h.Outputs), ", "))
		}
	}
	return sb.String()
}

func cell(v any) string {
	var s string
	switch t := v.(type) {
	case string:
		s = t
	default:
		data, err := json.Marshal(t)
		if err != nil {
			s = fmt.Sprint(t)
		} else {
			s = string(data)
		}
	}
	s = strings.ReplaceAll(s, "|", "\\|")
	return strings.ReplaceAll(s, "\n", " ")
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
