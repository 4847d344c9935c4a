// Package tasks loads the pending task list from a YAML (or JSON) file.
//
// Example:
//
//	- id: report
//	  title: Write weekly report
//	  due: 2025-03-14T17:00:00+09:00
//	- id: inbox
//	  title: Inbox zero
//	- id: launch
//	  title: Launch checklist
//	  has_subtasks: true
package tasks

import (
	"os"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	appLog "autoplan/internal/log"
	"autoplan/internal/model"
)

// Load reads the task file at path. Tasks without an id are rejected;
// repeated ids keep their first occurrence.
func Load(path string) ([]model.Task, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "tasks: read")
	}
	return Parse(data)
}

// Parse decodes a task list.
func Parse(data []byte) ([]model.Task, error) {
	var raw []model.Task
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, errors.Wrap(err, "tasks: parse")
	}

	out := make([]model.Task, 0, len(raw))
	seen := make(map[string]bool, len(raw))
	for i, t := range raw {
		t.ID = strings.TrimSpace(t.ID)
		if t.ID == "" {
			return nil, errors.Errorf("tasks: entry %d (%q) has no id", i, t.Title)
		}
		if seen[t.ID] {
			appLog.Warn("tasks: duplicate id ignored", "id", t.ID, "index", i)
			continue
		}
		seen[t.ID] = true
		out = append(out, t)
	}
	return out, nil
}
