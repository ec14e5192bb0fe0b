package remote

import (
	"bytes"
	"context"
	"errors"
	"net/url"
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestBolus(t *testing.T) {
	tests := []struct {
		in   string
		want string
		err  error
	}{
		{"0.6", "Bolus_0.6", nil},
		{"0,35", "Bolus_0.35", nil},
		{" 1 ", "Bolus_1.0", nil},
		{"2", "", ErrExceedsMax},
		{"0", "", ErrInvalidAmount},
		{"-1", "", ErrInvalidAmount},
		{"abc", "", ErrInvalidAmount},
		{"", "", ErrInvalidAmount},
	}
	for _, tt := range tests {
		cmd, err := Bolus(tt.in, 1.5)
		if tt.err != nil {
			if !errors.Is(err, tt.err) {
				t.Errorf("Bolus(%q) err = %v, want %v", tt.in, err, tt.err)
			}
			continue
		}
		if err != nil {
			t.Errorf("Bolus(%q): %v", tt.in, err)
			continue
		}
		if cmd.Text != tt.want || cmd.Kind != KindBolus {
			t.Errorf("Bolus(%q) = %+v, want %q", tt.in, cmd, tt.want)
		}
		if cmd.ID == uuid.Nil || cmd.CreatedAt.IsZero() {
			t.Errorf("Bolus(%q) missing id or timestamp", tt.in)
		}
	}
}

func TestMealCommand(t *testing.T) {
	cmd, err := MealCommand(Meal{Carbs: 25, Fat: 15, Protein: 10, Note: "Testmeal"}, 30)
	if err != nil {
		t.Fatal(err)
	}
	if cmd.Text != "Meal_Carbs_25g_Fat_15g_Protein_10g_Note_Testmeal" {
		t.Errorf("Text = %q", cmd.Text)
	}
	if _, err := MealCommand(Meal{Carbs: 10, Fat: 31}, 30); !errors.Is(err, ErrExceedsMax) {
		t.Errorf("fat over max: err = %v", err)
	}
	cmd, err = MealCommand(Meal{Note: "snack"}, 30)
	if err != nil || cmd.Text != "Meal_Carbs_0g_Fat_0g_Protein_0g_Note_snack" {
		t.Errorf("all-zero meal = %q, %v", cmd.Text, err)
	}
	if _, err := MealCommand(Meal{Carbs: -5}, 30); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("negative: err = %v", err)
	}
}

func TestParseMeal(t *testing.T) {
	m, err := ParseMeal("20g,5,", "pizza")
	if err != nil {
		t.Fatal(err)
	}
	if m.Carbs != 20 || m.Fat != 5 || m.Protein != 0 || m.Note != "pizza" {
		t.Errorf("ParseMeal = %+v", m)
	}
	if _, err := ParseMeal("1,2,3,4", ""); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("too many parts: err = %v", err)
	}
	if _, err := ParseMeal("x", ""); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("bad number: err = %v", err)
	}
}

func TestPresetCommands(t *testing.T) {
	presets := ParsePresets("🏃 Exercise, Sleep,  , Pre-Meal")
	if len(presets) != 3 || presets[0] != "🏃 Exercise" {
		t.Fatalf("ParsePresets = %q", presets)
	}

	cmd, err := Override("Sleep", presets)
	if err != nil || cmd.Text != "overridetoenact_Sleep" {
		t.Errorf("Override = %+v, %v", cmd, err)
	}
	cmd, err = TempTarget("🏃 Exercise", presets)
	if err != nil || cmd.Text != "TempTarget_🏃 Exercise" {
		t.Errorf("TempTarget = %+v, %v", cmd, err)
	}
	cmd, err = CustomAction("Pre-Meal", presets)
	if err != nil || cmd.Text != "CustomAction_Pre-Meal" || cmd.Kind != KindCustom {
		t.Errorf("CustomAction = %+v, %v", cmd, err)
	}
	if _, err := Override("Party", presets); !errors.Is(err, ErrUnknownPreset) {
		t.Errorf("unknown preset: err = %v", err)
	}
}

func TestShortcutURL(t *testing.T) {
	cmd := Command{Kind: KindMeal, Text: "Meal_Carbs_20g_Fat_0g_Protein_0g_Note_rice"}
	got := ShortcutURL(cmd)
	want := "shortcuts://run-shortcut?name=Remote%20Meal&input=text&text=Meal_Carbs_20g_Fat_0g_Protein_0g_Note_rice"
	if got != want {
		t.Errorf("ShortcutURL =\n %s\nwant\n %s", got, want)
	}

	got = ShortcutURL(Command{Kind: KindTempTarget, Text: "TempTarget_é"})
	if !strings.HasSuffix(got, "text=TempTarget_%C3%A9") || !strings.Contains(got, "name=Remote%20Temp%20Target") {
		t.Errorf("ShortcutURL = %s", got)
	}
}

func TestShortcutURLKeepsNoteIntact(t *testing.T) {
	text := "Meal_Carbs_20g_Fat_0g_Protein_0g_Note_fish & chips = 2+1 #late"
	got := ShortcutURL(Command{Kind: KindMeal, Text: text})
	if strings.Contains(got, "+") || strings.Contains(got, " ") {
		t.Errorf("ShortcutURL has raw spaces or plus signs: %s", got)
	}
	u, err := url.Parse(got)
	if err != nil {
		t.Fatal(err)
	}
	q := u.Query()
	if q.Get("text") != text || q.Get("input") != "text" || q.Get("name") != "Remote Meal" {
		t.Errorf("decoded query = %v", q)
	}
}

func TestParseKind(t *testing.T) {
	for _, k := range Kinds {
		got, err := ParseKind(strings.ToUpper(string(k)))
		if err != nil || got != k {
			t.Errorf("ParseKind(%q) = %q, %v", k, got, err)
		}
		if k.ShortcutName() == "" {
			t.Errorf("%s has no shortcut name", k)
		}
	}
	if _, err := ParseKind("sms"); err == nil {
		t.Error("expected error for unknown kind")
	}
}

func TestBuild(t *testing.T) {
	lim := Limits{MaxBolus: 1, MaxCarbs: 30, Overrides: []string{"Sleep"}}
	cmd, err := Build(Request{Kind: KindMeal, Value: "12", Note: "apple"}, lim)
	if err != nil || cmd.Text != "Meal_Carbs_12g_Fat_0g_Protein_0g_Note_apple" {
		t.Errorf("Build meal = %+v, %v", cmd, err)
	}
	if _, err := Build(Request{Kind: KindBolus, Value: "1.2"}, lim); !errors.Is(err, ErrExceedsMax) {
		t.Errorf("Build bolus err = %v", err)
	}
	if _, err := Build(Request{Kind: KindTempTarget, Value: "Sleep"}, lim); !errors.Is(err, ErrUnknownPreset) {
		t.Errorf("Build temp target err = %v", err)
	}
	if _, err := Build(Request{Kind: "sms"}, lim); err == nil {
		t.Error("expected error for unknown kind")
	}
}

func TestShortcutDispatcher(t *testing.T) {
	var buf bytes.Buffer
	d := ShortcutDispatcher{W: &buf}
	cmd, _ := Bolus("0.5", 1)
	if err := d.Dispatch(context.Background(), cmd); err != nil {
		t.Fatal(err)
	}
	if buf.String() != "shortcuts://run-shortcut?name=Remote%20Bolus&input=text&text=Bolus_0.5\n" {
		t.Errorf("wrote %q", buf.String())
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := d.Dispatch(ctx, cmd); !errors.Is(err, context.Canceled) {
		t.Errorf("cancelled dispatch err = %v", err)
	}
}
