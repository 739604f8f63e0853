package ldb

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Tree shapes understood by TreeLB.
const (
	TreePERoot        = "PE_Root"
	TreePEProcessRoot = "PE_Process_Root"
)

// TreeConfig is the declarative TreeLB configuration: the tree shape and the
// leaf algorithms run at each level. The keys match the JSON form accepted
// by ConfigureTreeLBString.
type TreeConfig struct {
	Tree    string       `yaml:"tree" json:"tree"`
	Root    LevelConfig  `yaml:"Root" json:"Root"`
	Process *LevelConfig `yaml:"Process,omitempty" json:"Process,omitempty"`
}

// LevelConfig configures one tree level.
type LevelConfig struct {
	PE         *int     `yaml:"pe,omitempty" json:"pe,omitempty"`
	StepFreq   int      `yaml:"step_freq,omitempty" json:"step_freq,omitempty"`
	Strategies []string `yaml:"strategies" json:"strategies"`
}

// ValidTrees is the set of recognized tree shapes.
var ValidTrees = map[string]bool{TreePERoot: true, TreePEProcessRoot: true}

// ValidLeafStrategies is the set of leaf algorithm names TreeLB can run.
// Shared by Validate and the TreeLB leaf factory.
var ValidLeafStrategies = map[string]bool{
	"Greedy":       true,
	"GreedyRefine": true,
	"RefineA":      true,
	"Refine":       true,
	"Random":       true,
	"Dummy":        true,
	"Rotate":       true,
}

// RootPE returns the root level's PE, 0 when unset.
func (c *TreeConfig) RootPE() int {
	if c.Root.PE == nil {
		return 0
	}
	return *c.Root.PE
}

// Validate checks the tree shape, level presence and strategy names.
func (c *TreeConfig) Validate() error {
	if !ValidTrees[c.Tree] {
		return fmt.Errorf("unknown tree %q", c.Tree)
	}
	if err := c.Root.validate("Root"); err != nil {
		return err
	}
	if c.RootPE() < 0 {
		return fmt.Errorf("root pe must be >= 0, got %d", c.RootPE())
	}
	switch c.Tree {
	case TreePEProcessRoot:
		if c.Process == nil {
			return fmt.Errorf("tree %s needs a Process level", c.Tree)
		}
		if err := c.Process.validate("Process"); err != nil {
			return err
		}
	case TreePERoot:
		if c.Process != nil {
			return fmt.Errorf("tree %s has no Process level", c.Tree)
		}
	}
	return nil
}

func (l *LevelConfig) validate(level string) error {
	if len(l.Strategies) == 0 {
		return fmt.Errorf("%s level needs at least one strategy", level)
	}
	for _, s := range l.Strategies {
		if !ValidLeafStrategies[s] {
			return fmt.Errorf("%s level: unknown strategy %q", level, s)
		}
	}
	if l.StepFreq < 0 {
		return fmt.Errorf("%s step_freq must be >= 0, got %d", level, l.StepFreq)
	}
	return nil
}

// ParseTreeConfig decodes a TreeConfig from YAML or JSON.
func ParseTreeConfig(data []byte) (*TreeConfig, error) {
	var cfg TreeConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing TreeLB config: %w", err)
	}
	return &cfg, nil
}

// LoadTreeConfig reads and parses a TreeLB config file.
func LoadTreeConfig(path string) (*TreeConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading TreeLB config: %w", err)
	}
	return ParseTreeConfig(data)
}

// PERootConfig is the single-level tree running strategy at PE 0.
func PERootConfig(strategy string) TreeConfig {
	root := 0
	return TreeConfig{
		Tree: TreePERoot,
		Root: LevelConfig{PE: &root, Strategies: []string{strategy}},
	}
}
