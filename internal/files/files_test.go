package files

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

func TestGuard_Check(t *testing.T) {
	root := t.TempDir()
	g := NewGuard([]string{root})

	tests := []struct {
		name    string
		path    string
		allowed bool
	}{
		{"root itself", root, true},
		{"child", filepath.Join(root, "a", "b.txt"), true},
		{"dot dot escape", filepath.Join(root, "..", "other"), false},
		{"sibling with shared prefix", root + "-evil", false},
		{"outside", "/etc/passwd", false},
		{"nul byte", root + "/a\x00b", false},
		{"empty", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := g.Check(tt.path)
			if tt.allowed {
				if err != nil {
					t.Fatalf("Check(%q): %v", tt.path, err)
				}
				if !filepath.IsAbs(got) {
					t.Errorf("Check(%q) = %q, want absolute", tt.path, got)
				}
				return
			}
			if !errors.Is(err, ErrAccessDenied) {
				t.Fatalf("Check(%q) error = %v, want ErrAccessDenied", tt.path, err)
			}
		})
	}
}

func TestGuard_FilesystemRoot(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix filesystem root")
	}
	g := NewGuard([]string{"/"})
	for _, path := range []string{"/", "/etc/passwd", t.TempDir()} {
		if _, err := g.Check(path); err != nil {
			t.Errorf("Check(%q) under / = %v, want allowed", path, err)
		}
	}
}

func TestGuard_DefaultsToHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	g := NewGuard(nil)
	roots := g.Roots()
	if len(roots) != 1 {
		t.Fatalf("Roots() = %v, want one root", roots)
	}
	want, _ := filepath.Abs(home)
	if roots[0] != want {
		t.Errorf("Roots()[0] = %q, want %q", roots[0], want)
	}
}

func TestReadWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.txt")
	if err := Write(path, "hello\n"); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := Read(path)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got != "hello\n" {
		t.Errorf("Read = %q", got)
	}
	if !Exists(path) {
		t.Error("Exists = false after Write")
	}
	if Exists(path + ".missing") {
		t.Error("Exists = true for missing file")
	}
	if _, err := Read(path + ".missing"); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Read missing error = %v", err)
	}
}

func TestMkdir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b", "c")
	if err := Mkdir(dir); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}
	// Existing directories are fine.
	if err := Mkdir(dir); err != nil {
		t.Fatalf("Mkdir again: %v", err)
	}
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		t.Fatalf("stat %s: %v", dir, err)
	}
}

func TestList_DirectoriesFirstThenName(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"zeta.txt", "Alpha.txt", "beta.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	for _, name := range []string{"src", "Docs"} {
		if err := os.Mkdir(filepath.Join(dir, name), 0o755); err != nil {
			t.Fatal(err)
		}
	}

	entries, err := List(dir)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name)
	}
	want := []string{"Docs", "src", "Alpha.txt", "beta.txt", "zeta.txt"}
	if strings.Join(names, ",") != strings.Join(want, ",") {
		t.Fatalf("names = %v, want %v", names, want)
	}
	if !entries[0].IsDirectory || entries[2].IsDirectory {
		t.Error("directory flags wrong")
	}
	if entries[2].Size != 1 {
		t.Errorf("size = %d, want 1", entries[2].Size)
	}
	if entries[2].Path != filepath.Join(dir, "Alpha.txt") {
		t.Errorf("path = %q", entries[2].Path)
	}
}

func TestList_Missing(t *testing.T) {
	if _, err := List(filepath.Join(t.TempDir(), "nope")); err == nil {
		t.Fatal("expected error for missing directory")
	}
}

func TestReadSettings_Missing(t *testing.T) {
	settings, err := ReadSettings(t.TempDir())
	if err != nil {
		t.Fatalf("ReadSettings: %v", err)
	}
	if settings != nil {
		t.Errorf("settings = %v, want nil", settings)
	}
}

func TestReadSettings_ToleratesComments(t *testing.T) {
	project := t.TempDir()
	os.MkdirAll(filepath.Join(project, ".claude"), 0o755)
	doc := `{
  // disabled for now
  "disabledSkills": ["deploy",],
  "model": "sonnet-4", /* trailing */
}`
	if err := os.WriteFile(SettingsPath(project), []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}

	settings, err := ReadSettings(project)
	if err != nil {
		t.Fatalf("ReadSettings: %v", err)
	}
	if settings["model"] != "sonnet-4" {
		t.Errorf("model = %v", settings["model"])
	}
	disabled, ok := settings["disabledSkills"].([]any)
	if !ok || len(disabled) != 1 || disabled[0] != "deploy" {
		t.Errorf("disabledSkills = %v", settings["disabledSkills"])
	}
}

func TestReadSettings_Malformed(t *testing.T) {
	project := t.TempDir()
	os.MkdirAll(filepath.Join(project, ".claude"), 0o755)
	os.WriteFile(SettingsPath(project), []byte(`{"model": `), 0o644)
	if _, err := ReadSettings(project); err == nil {
		t.Fatal("expected parse error")
	}

	os.WriteFile(SettingsPath(project), []byte(`[1, 2]`), 0o644)
	if _, err := ReadSettings(project); !errors.Is(err, ErrNotObject) {
		t.Fatalf("array settings error = %v, want ErrNotObject", err)
	}
}

func TestWriteSettings_ReplacesWholesale(t *testing.T) {
	project := t.TempDir()
	if err := WriteSettings(project, map[string]any{"a": 1.0, "b": "x"}); err != nil {
		t.Fatalf("WriteSettings: %v", err)
	}
	if err := WriteSettings(project, map[string]any{"c": true}); err != nil {
		t.Fatalf("WriteSettings: %v", err)
	}

	settings, err := ReadSettings(project)
	if err != nil {
		t.Fatalf("ReadSettings: %v", err)
	}
	if len(settings) != 1 || settings["c"] != true {
		t.Errorf("settings = %v, want only c", settings)
	}

	entries, _ := os.ReadDir(filepath.Join(project, ".claude"))
	if len(entries) != 1 {
		t.Errorf("leftover temp files: %v", entries)
	}
	if err := WriteSettings(project, nil); !errors.Is(err, ErrNotObject) {
		t.Errorf("nil settings error = %v", err)
	}
}

func TestReadPlan(t *testing.T) {
	project := t.TempDir()
	if _, ok, err := ReadPlan(project); ok || err != nil {
		t.Fatalf("ReadPlan missing = %v, %v", ok, err)
	}

	os.MkdirAll(filepath.Join(project, ".claude"), 0o755)
	os.WriteFile(PlanPath(project), []byte("# Plan\n- step\n"), 0o644)
	plan, ok, err := ReadPlan(project)
	if err != nil || !ok {
		t.Fatalf("ReadPlan = %v, %v", ok, err)
	}
	if plan != "# Plan\n- step\n" {
		t.Errorf("plan = %q", plan)
	}
}

func TestSanitizeError(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil || home == "/" {
		t.Skip("no usable home directory")
	}
	msg := SanitizeError(errors.New("open " + filepath.Join(home, "secret", "file") + ": denied"))
	if strings.Contains(msg, home) {
		t.Errorf("home leaked: %q", msg)
	}
	if !strings.Contains(msg, "~") {
		t.Errorf("missing ~: %q", msg)
	}
	if SanitizeError(nil) != "" {
		t.Error("nil error should sanitize to empty")
	}
}
