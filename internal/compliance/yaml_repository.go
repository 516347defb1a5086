package compliance

import (
	"context"
	"errors"
	"os"

	"gopkg.in/yaml.v3"
)

// YAMLRepository implements Repository from a static file, for operators
// small enough that a blacklist is a handful of known-bad addresses rather
// than a live feed.
type YAMLRepository struct {
	entries map[string]Entry
}

type yamlBlacklistFile struct {
	Entries []YAMLEntry `yaml:"entries"`
}

type YAMLEntry struct {
	Address string `yaml:"address"`
	Reason  string `yaml:"reason"`
	AddedBy string `yaml:"added_by"`
}

// NewYAMLRepository loads a blacklist from a YAML file at path.
func NewYAMLRepository(path string) (*YAMLRepository, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var file yamlBlacklistFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, err
	}
	return NewYAMLRepositoryFromEntries(file.Entries), nil
}

// NewYAMLRepositoryFromEntries builds a repository directly from parsed
// entries, used by tests and by callers that already loaded the file as
// part of the larger config document.
func NewYAMLRepositoryFromEntries(raw []YAMLEntry) *YAMLRepository {
	entries := make(map[string]Entry, len(raw))
	for _, e := range raw {
		entries[e.Address] = Entry{
			Address: e.Address,
			Reason:  e.Reason,
			AddedBy: e.AddedBy,
		}
	}
	return &YAMLRepository{entries: entries}
}

func (r *YAMLRepository) IsListed(_ context.Context, address string) (bool, error) {
	_, ok := r.entries[address]
	return ok, nil
}

func (r *YAMLRepository) ListEntries(_ context.Context) ([]Entry, error) {
	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	return out, nil
}

func (r *YAMLRepository) AddEntry(_ context.Context, entry Entry) error {
	return errors.New("compliance: yaml repository is read-only")
}

func (r *YAMLRepository) RemoveEntry(_ context.Context, address string) error {
	return errors.New("compliance: yaml repository is read-only")
}

func (r *YAMLRepository) Close() error { return nil }
