// Package remote builds the text commands a follower sends to the looping
// phone (bolus, meal, override, temp target, custom action) and hands them to
// a Dispatcher. Commands are plain strings such as "Bolus_0.6" that an
// automation on the receiving side parses.
package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrInvalidAmount is returned for amounts that do not parse or are not
	// positive.
	ErrInvalidAmount = errors.New("remote: invalid amount")
	// ErrExceedsMax is returned when an amount is above the configured limit.
	ErrExceedsMax = errors.New("remote: amount exceeds configured maximum")
	// ErrUnknownPreset is returned for override, temp target or custom action
	// names that are not configured.
	ErrUnknownPreset = errors.New("remote: unknown preset")
)

// Kind identifies a command type.
type Kind string

const (
	KindBolus      Kind = "bolus"
	KindMeal       Kind = "meal"
	KindOverride   Kind = "override"
	KindTempTarget Kind = "temptarget"
	KindCustom     Kind = "custom"
)

// Kinds lists every command kind.
var Kinds = []Kind{KindBolus, KindMeal, KindOverride, KindTempTarget, KindCustom}

// ParseKind maps a CLI name to a Kind.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	if !slices.Contains(Kinds, k) {
		return "", fmt.Errorf("remote: unknown command kind %q", s)
	}
	return k, nil
}

// ShortcutName is the automation each kind is routed to.
func (k Kind) ShortcutName() string {
	switch k {
	case KindBolus:
		return "Remote Bolus"
	case KindMeal:
		return "Remote Meal"
	case KindOverride:
		return "Remote Override"
	case KindTempTarget:
		return "Remote Temp Target"
	case KindCustom:
		return "Remote Custom Action"
	}
	return ""
}

// Command is one remote command ready to dispatch.
type Command struct {
	ID        uuid.UUID `json:"id"`
	Kind      Kind      `json:"kind"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

func newCommand(k Kind, text string) Command {
	return Command{ID: uuid.New(), Kind: k, Text: text, CreatedAt: time.Now().UTC()}
}

// Bolus builds "Bolus_<units>". A decimal comma is accepted.
func Bolus(text string, maxBolus float64) (Command, error) {
	v, err := strconv.ParseFloat(strings.ReplaceAll(strings.TrimSpace(text), ",", "."), 64)
	if err != nil || v <= 0 {
		return Command{}, fmt.Errorf("%w: bolus %q", ErrInvalidAmount, text)
	}
	if v > maxBolus {
		return Command{}, fmt.Errorf("%w: bolus %sU > %.1fU", ErrExceedsMax, formatUnits(v), maxBolus)
	}
	return newCommand(KindBolus, "Bolus_"+formatUnits(v)), nil
}

// formatUnits always shows a decimal point ("1.0", "0.35") because the
// receiving automations expect it.
func formatUnits(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

// Meal describes a meal entry in grams.
type Meal struct {
	Carbs   int
	Fat     int
	Protein int
	Note    string
}

// MealCommand builds "Meal_Carbs_<c>g_Fat_<f>g_Protein_<p>g_Note_<n>". Each
// macro must be non-negative and at most maxGrams. An all-zero meal is sent
// as is, so a note alone can be passed on.
func MealCommand(m Meal, maxGrams int) (Command, error) {
	for _, g := range []int{m.Carbs, m.Fat, m.Protein} {
		if g < 0 {
			return Command{}, fmt.Errorf("%w: negative grams", ErrInvalidAmount)
		}
		if g > maxGrams {
			return Command{}, fmt.Errorf("%w: %dg > %dg", ErrExceedsMax, g, maxGrams)
		}
	}
	text := fmt.Sprintf("Meal_Carbs_%dg_Fat_%dg_Protein_%dg_Note_%s", m.Carbs, m.Fat, m.Protein, m.Note)
	return newCommand(KindMeal, text), nil
}

// ParseMeal reads "carbs[,fat[,protein]]" as entered on the command line.
func ParseMeal(value, note string) (Meal, error) {
	m := Meal{Note: note}
	parts := strings.Split(value, ",")
	if len(parts) > 3 {
		return m, fmt.Errorf("%w: meal %q", ErrInvalidAmount, value)
	}
	dst := []*int{&m.Carbs, &m.Fat, &m.Protein}
	for i, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSuffix(p, "g"))
		if err != nil {
			return m, fmt.Errorf("%w: meal %q", ErrInvalidAmount, value)
		}
		*dst[i] = n
	}
	return m, nil
}

// Override builds "overridetoenact_<name>" for a configured override.
func Override(name string, presets []string) (Command, error) {
	return preset(KindOverride, "overridetoenact_", name, presets)
}

// TempTarget builds "TempTarget_<name>" for a configured temp target.
func TempTarget(name string, presets []string) (Command, error) {
	return preset(KindTempTarget, "TempTarget_", name, presets)
}

// CustomAction builds "CustomAction_<name>" for a configured action.
func CustomAction(name string, presets []string) (Command, error) {
	return preset(KindCustom, "CustomAction_", name, presets)
}

func preset(k Kind, prefix, name string, presets []string) (Command, error) {
	if !slices.Contains(presets, name) {
		return Command{}, fmt.Errorf("%w: %s %q", ErrUnknownPreset, k, name)
	}
	return newCommand(k, prefix+name), nil
}

// ParsePresets splits a configured list such as "Exercise, Sleep, 🍕 Pizza".
// Entries are separated by ", " so names may contain other punctuation.
func ParsePresets(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ", ") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ShortcutURL is the URL that runs the kind's automation with the command
// text as input.
func ShortcutURL(cmd Command) string {
	return "shortcuts://run-shortcut?name=" + queryEscape(cmd.Kind.ShortcutName()) +
		"&input=text&text=" + queryEscape(cmd.Text)
}

// queryEscape escapes s for a query value. Spaces become %20, which the
// shortcut host expects; '&', '=' and '+' in a meal note are escaped so they
// stay part of the text.
func queryEscape(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

// Dispatcher delivers a command to the looping phone.
type Dispatcher interface {
	Dispatch(ctx context.Context, cmd Command) error
}

// ShortcutDispatcher writes the shortcut URL for each command, one per line.
// Opening the URL is left to the host (a phone, or `open` on macOS).
type ShortcutDispatcher struct {
	W io.Writer
}

// Dispatch writes the command's shortcut URL.
func (d ShortcutDispatcher) Dispatch(ctx context.Context, cmd Command) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := fmt.Fprintln(d.W, ShortcutURL(cmd)); err != nil {
		return fmt.Errorf("remote: write shortcut url: %w", err)
	}
	return nil
}

// Request is what the CLI collects before building a command.
type Request struct {
	Kind  Kind
	Value string
	Note  string
}

// Limits and presets from configuration.
type Limits struct {
	MaxBolus      float64
	MaxCarbs      int
	Overrides     []string
	TempTargets   []string
	CustomActions []string
}

// Build turns a Request into a Command using the configured limits.
func Build(req Request, lim Limits) (Command, error) {
	switch req.Kind {
	case KindBolus:
		return Bolus(req.Value, lim.MaxBolus)
	case KindMeal:
		m, err := ParseMeal(req.Value, req.Note)
		if err != nil {
			return Command{}, err
		}
		return MealCommand(m, lim.MaxCarbs)
	case KindOverride:
		return Override(req.Value, lim.Overrides)
	case KindTempTarget:
		return TempTarget(req.Value, lim.TempTargets)
	case KindCustom:
		return CustomAction(req.Value, lim.CustomActions)
	}
	return Command{}, fmt.Errorf("remote: unknown command kind %q", req.Kind)
}
