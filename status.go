package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"gopkg.in/yaml.v3"

	"gitlab.com/tinyland/lab/loop-pulse/pkg/components"
	"gitlab.com/tinyland/lab/loop-pulse/pkg/nightscout"
	"gitlab.com/tinyland/lab/loop-pulse/pkg/state"
)

// statusOptions controls -status output.
type statusOptions struct {
	Format     string // text, json or yaml
	Units      string
	Thresholds components.Thresholds
	Width      int // 0 means unknown
	Color      bool
	Now        time.Time
}

// statusDoc is the -status document for json and yaml output.
type statusDoc struct {
	Units     string      `json:"units" yaml:"units"`
	Glucose   *glucoseDoc `json:"glucose,omitempty" yaml:"glucose,omitempty"`
	Loop      *loopDoc    `json:"loop,omitempty" yaml:"loop,omitempty"`
	Rows      []state.Row `json:"rows" yaml:"rows"`
	Updated   time.Time   `json:"updated" yaml:"updated"`
	LastError string      `json:"last_error,omitempty" yaml:"last_error,omitempty"`
}

type glucoseDoc struct {
	Value      string    `json:"value" yaml:"value"`
	Mgdl       float64   `json:"mgdl" yaml:"mgdl"`
	Direction  string    `json:"direction,omitempty" yaml:"direction,omitempty"`
	Delta      string    `json:"delta,omitempty" yaml:"delta,omitempty"`
	Time       time.Time `json:"time" yaml:"time"`
	AgeMinutes int       `json:"age_minutes" yaml:"age_minutes"`
	Source     string    `json:"source,omitempty" yaml:"source,omitempty"`
}

type loopDoc struct {
	State      string    `json:"state" yaml:"state"`
	Symbol     string    `json:"symbol" yaml:"symbol"`
	Time       time.Time `json:"time" yaml:"time"`
	EventualBG string    `json:"eventual_bg,omitempty" yaml:"eventual_bg,omitempty"`
}

func newStatusDoc(snap state.Snapshot, units string, now time.Time) statusDoc {
	doc := statusDoc{
		Units:     units,
		Rows:      snap.InfoRows(units, now),
		Updated:   snap.Updated,
		LastError: snap.LastError,
	}
	if g := snap.Glucose; g != nil {
		gd := &glucoseDoc{
			Value:      nightscout.FormatBG(g.Latest.Mgdl, units),
			Mgdl:       g.Latest.Mgdl,
			Direction:  g.Latest.Direction,
			Time:       g.Latest.Time,
			AgeMinutes: int(now.Sub(g.Latest.Time) / time.Minute),
			Source:     g.Source,
		}
		if g.HasDelta {
			gd.Delta = nightscout.FormatDelta(g.Delta, units)
		}
		doc.Glucose = gd
	}
	if ds := snap.Loop; ds != nil {
		ld := &loopDoc{State: ds.State.String(), Symbol: ds.State.Symbol(), Time: ds.LoopTime}
		if ds.EventualBG != nil {
			ld.EventualBG = nightscout.FormatBG(*ds.EventualBG, units)
		}
		doc.Loop = ld
	}
	return doc
}

// renderStatus formats snap for -status.
func renderStatus(snap state.Snapshot, opts statusOptions) (string, error) {
	switch strings.ToLower(opts.Format) {
	case "", "text":
		return renderStatusText(snap, opts), nil
	case "json":
		b, err := json.MarshalIndent(newStatusDoc(snap, opts.Units, opts.Now), "", "  ")
		if err != nil {
			return "", fmt.Errorf("status: encode json: %w", err)
		}
		return string(b) + "\n", nil
	case "yaml":
		b, err := yaml.Marshal(newStatusDoc(snap, opts.Units, opts.Now))
		if err != nil {
			return "", fmt.Errorf("status: encode yaml: %w", err)
		}
		return string(b), nil
	}
	return "", fmt.Errorf("status: unknown format %q (want text, json or yaml)", opts.Format)
}

func renderStatusText(snap state.Snapshot, opts statusOptions) string {
	r := lipgloss.NewRenderer(io.Discard)
	if opts.Color {
		r.SetColorProfile(termenv.TrueColor)
	} else {
		r.SetColorProfile(termenv.Ascii)
	}
	dim := r.NewStyle().Foreground(lipgloss.Color(components.ColorDim))
	name := r.NewStyle().Width(15)
	bgStyle := r.NewStyle()
	if opts.Color {
		// Bold is emitted even under the Ascii profile.
		name = name.Bold(true)
		bgStyle = bgStyle.Bold(true)
	}

	doc := newStatusDoc(snap, opts.Units, opts.Now)
	var b strings.Builder

	if g := doc.Glucose; g != nil {
		bg := bgStyle.
			Foreground(lipgloss.Color(opts.Thresholds.Classify(g.Mgdl).Color())).
			Render(g.Value + " " + nightscout.DirectionArrow(g.Direction))
		line := bg
		if g.Delta != "" {
			line += " " + g.Delta
		}
		line += "  " + dim.Render(ago(opts.Now.Sub(g.Time)))
		b.WriteString(line + "\n")
	} else {
		b.WriteString(dim.Render("no glucose data") + "\n")
	}
	if l := doc.Loop; l != nil {
		line := l.Symbol + " " + l.State + " " + dim.Render(ago(opts.Now.Sub(l.Time)))
		if l.EventualBG != "" {
			line += "  eventual " + l.EventualBG
		}
		b.WriteString(line + "\n")
	}
	if doc.LastError != "" {
		b.WriteString(r.NewStyle().Foreground(lipgloss.Color(components.ColorUrgent)).Render("error: "+doc.LastError) + "\n")
	}
	b.WriteString("\n")

	for _, row := range doc.Rows {
		line := name.Render(row.Name) + row.Value
		if opts.Width > 0 {
			line = components.Truncate(line, opts.Width)
		}
		b.WriteString(line + "\n")
	}
	return b.String()
}

func ago(d time.Duration) string {
	if s := state.Ago(d); s != "now" {
		return s + " ago"
	}
	return "now"
}
