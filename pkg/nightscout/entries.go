package nightscout

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"time"
)

// Entry is one sensor glucose value.
type Entry struct {
	ID         string  `json:"_id,omitempty"`
	SGV        float64 `json:"sgv"`
	Date       int64   `json:"date"`
	DateString string  `json:"dateString,omitempty"`
	Direction  string  `json:"direction,omitempty"`
	Device     string  `json:"device,omitempty"`
	Type       string  `json:"type,omitempty"`
}

// Time returns the reading time from the millisecond epoch.
func (e Entry) Time() time.Time {
	return time.UnixMilli(e.Date)
}

// Entries returns the newest count SGV entries, oldest first.
func (c *Client) Entries(ctx context.Context, count int) ([]Entry, error) {
	if count <= 0 {
		count = 1
	}
	var out []Entry
	q := url.Values{"count": {strconv.Itoa(count)}}
	if err := c.getJSON(ctx, "/api/v1/entries/sgv.json", q, &out); err != nil {
		return nil, fmt.Errorf("nightscout: entries: %w", err)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out, nil
}

var directionArrows = map[string]string{
	"DoubleUp":          "⇈",
	"SingleUp":          "↑",
	"FortyFiveUp":       "↗",
	"Flat":              "→",
	"FortyFiveDown":     "↘",
	"SingleDown":        "↓",
	"DoubleDown":        "⇊",
	"NONE":              "",
	"NOT COMPUTABLE":    "-",
	"RATE OUT OF RANGE": "⇕",
}

// DirectionArrow maps a Nightscout trend name to an arrow glyph.
func DirectionArrow(direction string) string {
	if a, ok := directionArrows[direction]; ok {
		return a
	}
	return ""
}
