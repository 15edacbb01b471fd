package agentinfo

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestListSkills_NoSkillsDir(t *testing.T) {
	skills, err := ListSkills(t.TempDir())
	if err != nil {
		t.Fatalf("ListSkills: %v", err)
	}
	if len(skills) != 0 {
		t.Errorf("skills = %v, want none", skills)
	}
}

func TestListSkills(t *testing.T) {
	project := t.TempDir()
	skillsRoot := filepath.Join(project, ".claude", "skills")

	writeFile(t, filepath.Join(skillsRoot, "genius-dev", "skill.yaml"),
		"name: Genius Dev\ndescription: Writes the code\ntriggers: [build, implement]\n")
	writeFile(t, filepath.Join(skillsRoot, "deploy", "skill.md"),
		"# Deploy Helper\n\nShips the app to production.\n")
	if err := os.MkdirAll(filepath.Join(skillsRoot, "bare"), 0o755); err != nil {
		t.Fatal(err)
	}
	writeFile(t, filepath.Join(skillsRoot, "stray.txt"), "not a skill")
	writeFile(t, filepath.Join(project, ".claude", "settings.json"),
		`{"disabledSkills": ["deploy"], // off for now
}`)

	skills, err := ListSkills(project)
	if err != nil {
		t.Fatalf("ListSkills: %v", err)
	}
	if len(skills) != 3 {
		t.Fatalf("got %d skills, want 3: %+v", len(skills), skills)
	}

	bare, deploy, genius := skills[0], skills[1], skills[2]
	if bare.ID != "bare" || bare.Name != "bare" || !bare.Enabled || bare.Category != CategoryCustom {
		t.Errorf("bare = %+v", bare)
	}
	if deploy.Name != "Deploy Helper" || deploy.Description != "Ships the app to production." {
		t.Errorf("deploy = %+v", deploy)
	}
	if deploy.Enabled {
		t.Error("deploy should be disabled")
	}
	if genius.Name != "Genius Dev" || genius.Description != "Writes the code" {
		t.Errorf("genius = %+v", genius)
	}
	if genius.Category != CategoryCore || !genius.Enabled {
		t.Errorf("genius = %+v", genius)
	}
	if len(genius.Triggers) != 2 || genius.Triggers[0] != "build" {
		t.Errorf("triggers = %v", genius.Triggers)
	}
	if genius.Path != filepath.Join(skillsRoot, "genius-dev") {
		t.Errorf("path = %q", genius.Path)
	}
}

func TestDisabledSkills_MalformedSettings(t *testing.T) {
	project := t.TempDir()
	writeFile(t, filepath.Join(project, ".claude", "settings.json"), `{"disabledSkills": [`)
	if got := DisabledSkills(project); len(got) != 0 {
		t.Errorf("DisabledSkills = %v, want empty", got)
	}

	writeFile(t, filepath.Join(project, ".claude", "settings.json"), `{"disabledSkills": "deploy"}`)
	if got := DisabledSkills(project); len(got) != 0 {
		t.Errorf("DisabledSkills = %v, want empty", got)
	}
}

func TestParseSkillMarkdown_Truncates(t *testing.T) {
	long := ""
	for i := 0; i < 150; i++ {
		long += "é"
	}
	name, desc := parseSkillMarkdown("## sub\n" + long + "\n# Title\n")
	if name != "Title" {
		t.Errorf("name = %q", name)
	}
	if len([]rune(desc)) != maxDescription {
		t.Errorf("description has %d runes, want %d", len([]rune(desc)), maxDescription)
	}
}

func writeScript(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts not supported on windows")
	}
	path := filepath.Join(t.TempDir(), "agent")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestAuthChecker(t *testing.T) {
	tests := []struct {
		name   string
		script string
		want   AuthStatus
	}{
		{
			name:   "authenticated",
			script: "if [ \"$1\" = --version ]; then echo '1.2.3 (Claude Code)'; fi\nexit 0\n",
			want:   AuthStatus{Installed: true, Authenticated: true, Version: "1.2.3 (Claude Code)"},
		},
		{
			name:   "logged out",
			script: "if [ \"$1\" = --version ]; then echo 1.2.3; exit 0; fi\nexit 1\n",
			want:   AuthStatus{Installed: true, Version: "1.2.3"},
		},
		{
			name:   "broken",
			script: "exit 2\n",
			want:   AuthStatus{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &AuthChecker{Binary: writeScript(t, tt.script)}
			if got := c.Status(context.Background()); got != tt.want {
				t.Errorf("Status = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestAuthChecker_NotInstalled(t *testing.T) {
	c := &AuthChecker{Binary: filepath.Join(t.TempDir(), "missing")}
	if got := c.Status(context.Background()); got.Installed {
		t.Errorf("Status = %+v, want not installed", got)
	}
}
