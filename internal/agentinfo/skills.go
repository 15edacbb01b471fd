package agentinfo

import (
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	"gopkg.in/yaml.v3"

	"github.com/benW3ART/vibes-sub001/internal/files"
)

const (
	skillsDir        = "skills"
	skillYAML        = "skill.yaml"
	skillMarkdown    = "skill.md"
	maxDescription   = 100
	disabledSkillKey = "disabledSkills"
)

// Skill categories.
const (
	CategoryCore   = "core"
	CategoryCustom = "custom"
)

// Skill describes one directory under <project>/.claude/skills.
type Skill struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Path        string   `json:"path"`
	Enabled     bool     `json:"enabled"`
	Category    string   `json:"category"`
	Triggers    []string `json:"triggers,omitempty"`
}

type skillManifest struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Triggers    []string `yaml:"triggers"`
}

// ListSkills enumerates the project's skills, flagging those listed in
// the disabledSkills array of settings.json. A project without a skills
// directory has no skills.
func ListSkills(projectPath string) ([]Skill, error) {
	dir := filepath.Join(projectPath, ".claude", skillsDir)
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return []Skill{}, nil
	}
	if err != nil {
		return nil, err
	}

	disabled := DisabledSkills(projectPath)
	skills := make([]Skill, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		skill := readSkill(filepath.Join(dir, entry.Name()), entry.Name())
		_, off := disabled[skill.ID]
		skill.Enabled = !off
		skills = append(skills, skill)
	}
	sort.Slice(skills, func(i, j int) bool { return skills[i].ID < skills[j].ID })
	return skills, nil
}

// DisabledSkills returns the set of disabled skill ids. Missing or
// malformed settings yield an empty set.
func DisabledSkills(projectPath string) map[string]struct{} {
	set := make(map[string]struct{})
	settings, err := files.ReadSettings(projectPath)
	if err != nil || settings == nil {
		return set
	}
	list, ok := settings[disabledSkillKey].([]any)
	if !ok {
		return set
	}
	for _, v := range list {
		if id, ok := v.(string); ok {
			set[id] = struct{}{}
		}
	}
	return set
}

func readSkill(path, id string) Skill {
	skill := Skill{ID: id, Name: id, Path: path, Category: CategoryCustom}
	if strings.Contains(id, "genius") {
		skill.Category = CategoryCore
	}

	if data, err := os.ReadFile(filepath.Join(path, skillYAML)); err == nil {
		var manifest skillManifest
		if yaml.Unmarshal(data, &manifest) == nil {
			if manifest.Name != "" {
				skill.Name = manifest.Name
			}
			skill.Description = manifest.Description
			skill.Triggers = manifest.Triggers
		}
		return skill
	}

	if data, err := os.ReadFile(filepath.Join(path, skillMarkdown)); err == nil {
		name, description := parseSkillMarkdown(string(data))
		if name != "" {
			skill.Name = name
		}
		skill.Description = description
	}
	return skill
}

// parseSkillMarkdown takes the first heading as the name and the first
// non-heading line as the description.
func parseSkillMarkdown(content string) (name, description string) {
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimRight(line, "\r")
		switch {
		case strings.HasPrefix(line, "# "):
			if name == "" {
				name = strings.TrimSpace(line[2:])
			}
		case strings.HasPrefix(line, "#"), strings.TrimSpace(line) == "":
		default:
			if description == "" {
				description = truncate(strings.TrimSpace(line), maxDescription)
			}
		}
		if name != "" && description != "" {
			break
		}
	}
	return name, description
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
