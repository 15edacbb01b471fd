// Package files is the host's file-access helper: plain reads and
// writes, sorted directory listings and the project's .claude files.
package files

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/tidwall/jsonc"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/benW3ART/vibes-sub001/internal/protocol"
)

const (
	claudeDir    = ".claude"
	settingsFile = "settings.json"
	planFile     = "plan.md"
)

// ErrNotObject is returned when settings are not a JSON object.
var ErrNotObject = errors.New("settings must be a JSON object")

// Read returns the content of a UTF-8 text file.
func Read(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Write replaces the content of path.
func Write(path, content string) error {
	return os.WriteFile(path, []byte(content), 0o644)
}

// Mkdir creates dir and any missing parents.
func Mkdir(dir string) error {
	return os.MkdirAll(dir, 0o755)
}

// Exists reports whether path exists.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// List returns the entries of dir, directories first, then by name in
// locale collation order.
func List(dir string) ([]protocol.FileInfo, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	result := make([]protocol.FileInfo, 0, len(entries))
	for _, entry := range entries {
		fullPath := filepath.Join(dir, entry.Name())
		// Follow symlinks the way stat does.
		info, err := os.Stat(fullPath)
		if err != nil {
			info, err = entry.Info()
			if err != nil {
				continue
			}
		}
		result = append(result, protocol.FileInfo{
			Name:        entry.Name(),
			Path:        fullPath,
			IsDirectory: info.IsDir(),
			Size:        info.Size(),
			Modified:    info.ModTime().UTC(),
		})
	}

	SortEntries(result)
	return result, nil
}

// SortEntries orders entries directories first, then by name.
func SortEntries(entries []protocol.FileInfo) {
	collator := collate.New(language.Und)
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.IsDirectory != b.IsDirectory {
			return a.IsDirectory
		}
		return collator.CompareString(a.Name, b.Name) < 0
	})
}

// SettingsPath returns <project>/.claude/settings.json.
func SettingsPath(projectPath string) string {
	return filepath.Join(projectPath, claudeDir, settingsFile)
}

// PlanPath returns <project>/.claude/plan.md.
func PlanPath(projectPath string) string {
	return filepath.Join(projectPath, claudeDir, planFile)
}

// ReadSettings returns the project's settings object, or nil when the
// file does not exist. Comments and trailing commas are tolerated.
func ReadSettings(projectPath string) (map[string]any, error) {
	data, err := os.ReadFile(SettingsPath(projectPath))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return ParseSettings(data)
}

// ParseSettings decodes a settings.json document.
func ParseSettings(data []byte) (map[string]any, error) {
	var value any
	if err := json.Unmarshal(jsonc.ToJSON(data), &value); err != nil {
		return nil, fmt.Errorf("parse %s: %w", settingsFile, err)
	}
	settings, ok := value.(map[string]any)
	if !ok {
		return nil, ErrNotObject
	}
	return settings, nil
}

// WriteSettings replaces the project's settings.json wholesale.
func WriteSettings(projectPath string, settings map[string]any) error {
	if settings == nil {
		return ErrNotObject
	}
	data, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", settingsFile, err)
	}
	data = append(data, '\n')

	path := SettingsPath(projectPath)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return writeAtomic(path, data)
}

// ReadPlan returns the project's plan and whether it exists.
func ReadPlan(projectPath string) (string, bool, error) {
	data, err := os.ReadFile(PlanPath(projectPath))
	if errors.Is(err, os.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return string(data), true, nil
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return nil
}
