package starship

import (
	"strings"

	"gitlab.com/tinyland/lab/loop-pulse/pkg/components"
)

// ssColorize wraps text in the given hex colour. If color is empty or plain
// output was requested, text is returned unmodified.
func ssColorize(text, color string, plain bool) string {
	if color == "" || plain {
		return text
	}
	return components.Colorize(text, color)
}

// ssFormatLine joins segments with a single space and drops rightmost
// segments while the visible width exceeds maxWidth. The first segment is
// always kept, truncated if it alone is too wide.
func ssFormatLine(segments []*Segment, maxWidth int, plain bool) string {
	if len(segments) == 0 {
		return ""
	}
	if maxWidth <= 0 {
		maxWidth = ssDefaultMaxWidth
	}

	var parts []string
	total := 0
	for i, seg := range segments {
		text := seg.Text
		if seg.Icon != "" {
			text = seg.Icon + " " + text
		}
		w := components.VisibleLen(text)
		if i > 0 {
			w++
		}
		if i > 0 && total+w > maxWidth {
			break
		}
		parts = append(parts, ssColorize(text, seg.Color, plain))
		total += w
	}
	line := strings.Join(parts, " ")
	if total > maxWidth {
		line = components.Truncate(line, maxWidth)
	}
	return line
}
