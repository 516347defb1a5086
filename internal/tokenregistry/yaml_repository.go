package tokenregistry

import (
	"context"
	"errors"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/x402fac/facilitator/pkg/protocol"
)

// YAMLEntry is the on-disk shape of one deployment in a deployments file.
type YAMLEntry struct {
	Network       string `yaml:"network"`
	Asset         string `yaml:"asset"`
	Symbol        string `yaml:"symbol"`
	Decimals      uint8  `yaml:"decimals"`
	EIP712Name    string `yaml:"eip712_name,omitempty"`
	EIP712Version string `yaml:"eip712_version,omitempty"`
}

type yamlDeploymentsFile struct {
	Deployments []YAMLEntry `yaml:"deployments"`
}

// YAMLRepository implements Repository from a static file, for operators
// whose accepted-token list is small and changes rarely.
type YAMLRepository struct {
	deployments map[string]Deployment
}

var zeroTime = time.Time{}

// NewYAMLRepository loads deployments from a YAML file on disk.
func NewYAMLRepository(path string) (*YAMLRepository, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var file yamlDeploymentsFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, err
	}
	return NewYAMLRepositoryFromEntries(file.Deployments), nil
}

// NewYAMLRepositoryFromEntries builds a repository directly from entries,
// primarily for tests and for config-embedded deployment lists.
func NewYAMLRepositoryFromEntries(entries []YAMLEntry) *YAMLRepository {
	deployments := make(map[string]Deployment, len(entries))
	for _, e := range entries {
		d := Deployment{
			Network:       protocol.Network(e.Network),
			Asset:         e.Asset,
			Symbol:        e.Symbol,
			Decimals:      e.Decimals,
			EIP712Name:    e.EIP712Name,
			EIP712Version: e.EIP712Version,
			CreatedAt:     zeroTime,
			UpdatedAt:     zeroTime,
		}
		deployments[d.Key()] = d
	}
	return &YAMLRepository{deployments: deployments}
}

func (r *YAMLRepository) GetDeployment(_ context.Context, network protocol.Network, asset string) (Deployment, error) {
	d, ok := r.deployments[key(network, asset)]
	if !ok {
		return Deployment{}, ErrDeploymentNotFound
	}
	return d, nil
}

func (r *YAMLRepository) ListDeployments(_ context.Context) ([]Deployment, error) {
	deployments := make([]Deployment, 0, len(r.deployments))
	for _, d := range r.deployments {
		deployments = append(deployments, d)
	}
	return deployments, nil
}

func (r *YAMLRepository) AddDeployment(_ context.Context, _ Deployment) error {
	return errors.New("tokenregistry: yaml repository is read-only")
}

func (r *YAMLRepository) RemoveDeployment(_ context.Context, _ protocol.Network, _ string) error {
	return errors.New("tokenregistry: yaml repository is read-only")
}

func (r *YAMLRepository) Close() error {
	return nil
}
