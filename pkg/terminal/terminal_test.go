package terminal

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/muesli/termenv"
)

func tempFile(t *testing.T) *os.File {
	t.Helper()
	f, err := os.Create(filepath.Join(t.TempDir(), "out"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { f.Close() })
	return f
}

func TestInteractiveFalseForFiles(t *testing.T) {
	if Interactive(tempFile(t)) {
		t.Error("regular file reported as terminal")
	}
	if Interactive(nil) {
		t.Error("nil file reported as terminal")
	}
}

func TestWidthFallsBackToColumns(t *testing.T) {
	f := tempFile(t)
	t.Setenv("COLUMNS", "132")
	if w := Width(f); w != 132 {
		t.Errorf("Width = %d, want 132", w)
	}
	t.Setenv("COLUMNS", "wide")
	if w := Width(f); w != 0 {
		t.Errorf("Width = %d, want 0 for bad COLUMNS", w)
	}
	t.Setenv("COLUMNS", "")
	if w := Width(nil); w != 0 {
		t.Errorf("Width(nil) = %d", w)
	}
}

func TestColorEnabled(t *testing.T) {
	f := tempFile(t)
	t.Setenv("NO_COLOR", "")
	t.Setenv("CLICOLOR_FORCE", "")
	t.Setenv("TERM", "xterm-256color")
	if ColorEnabled(f) {
		t.Error("colour enabled for a regular file")
	}

	t.Setenv("CLICOLOR_FORCE", "1")
	if !ColorEnabled(f) {
		t.Error("CLICOLOR_FORCE ignored")
	}

	t.Setenv("NO_COLOR", "1")
	if ColorEnabled(f) || !PlainPrompt() {
		t.Error("NO_COLOR ignored")
	}

	t.Setenv("NO_COLOR", "")
	t.Setenv("TERM", "dumb")
	if ColorEnabled(f) {
		t.Error("TERM=dumb ignored")
	}
}

func TestProfileNil(t *testing.T) {
	if Profile(nil) != termenv.Ascii {
		t.Error("nil file should be Ascii")
	}
}

func TestEnvInt(t *testing.T) {
	t.Setenv("LP_TEST_INT", "-3")
	if envInt("LP_TEST_INT", 7) != 7 {
		t.Error("negative value accepted")
	}
	t.Setenv("LP_TEST_INT", "12")
	if envInt("LP_TEST_INT", 7) != 12 {
		t.Error("valid value rejected")
	}
}
