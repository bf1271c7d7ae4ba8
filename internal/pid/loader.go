package pid

import (
	"encoding/json"
	"fmt"
	"os"
)

// Profile is the on-disk form of additional catalog entries.
type Profile struct {
	Name        string         `json:"name,omitempty"`
	Description string         `json:"description,omitempty"`
	PIDs        []ProfileEntry `json:"pids"`
}

type ProfileEntry struct {
	ID       string   `json:"id"`
	Bytes    int      `json:"bytes"`
	Priority int      `json:"priority,omitempty"`
	Name     string   `json:"name"`
	Unit     string   `json:"unit,omitempty"`
	Scale    *float64 `json:"scale,omitempty"`
	Offset   float64  `json:"offset,omitempty"`
}

type ProfileLoader struct {
	validator *Validator
}

func NewProfileLoader() (*ProfileLoader, error) {
	validator, err := NewValidator()
	if err != nil {
		return nil, fmt.Errorf("failed to create validator: %w", err)
	}

	return &ProfileLoader{validator: validator}, nil
}

// Load reads and validates one profile file.
func (l *ProfileLoader) Load(path string) ([]Info, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read profile %s: %w", path, err)
	}

	return l.Parse(data)
}

func (l *ProfileLoader) Parse(data []byte) ([]Info, error) {
	if err := l.validator.ValidateProfile(data); err != nil {
		return nil, err
	}

	var profile Profile
	if err := json.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("failed to unmarshal profile: %w", err)
	}

	entries := make([]Info, 0, len(profile.PIDs))
	for _, p := range profile.PIDs {
		id, err := ParseID(p.ID)
		if err != nil {
			return nil, err
		}

		info := Info{
			ID:       id,
			Bytes:    p.Bytes,
			Priority: p.Priority,
			Name:     p.Name,
			Unit:     p.Unit,
		}
		if p.Scale != nil || p.Offset != 0 {
			scale := 1.0
			if p.Scale != nil {
				scale = *p.Scale
			}
			info.Convert = Linear(scale, p.Offset)
		}
		entries = append(entries, info)
	}

	return entries, nil
}

// BuildRegistry merges the built-in catalog with the given profile files.
func BuildRegistry(profilePaths []string) (*Registry, error) {
	entries := DefaultEntries()
	if len(profilePaths) == 0 {
		return NewRegistry(entries)
	}

	loader, err := NewProfileLoader()
	if err != nil {
		return nil, err
	}

	for _, path := range profilePaths {
		extra, err := loader.Load(path)
		if err != nil {
			return nil, fmt.Errorf("validation failed for %s: %w", path, err)
		}
		entries = append(entries, extra...)
	}

	return NewRegistry(entries)
}
