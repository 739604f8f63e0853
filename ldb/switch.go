package ldb

import "fmt"

// SwitchConfig builds the TreeLB configuration that makes a running TreeLB
// behave like strategy name. DistributedLB and MetisLB are not tree leaf
// algorithms and cannot be reached this way.
func SwitchConfig(name string) (TreeConfig, error) {
	switch name {
	case "DistributedLB", "MetisLB":
		return TreeConfig{}, fmt.Errorf("%s: %w", name, ErrReconfigureUnsupported)
	case "Hybrid":
		root := 0
		return TreeConfig{
			Tree: TreePEProcessRoot,
			Root: LevelConfig{PE: &root, StepFreq: 3, Strategies: []string{"GreedyRefine"}},
			Process: &LevelConfig{
				Strategies: []string{"GreedyRefine"},
			},
		}, nil
	default:
		return PERootConfig(name), nil
	}
}

// SwitchLoadbalancer reconfigures every TreeLB to run the to-th entry of
// Args.StrategyNames. A target that cannot be reconfigured is logged and
// left alone, returning ErrReconfigureUnsupported.
func (m *Manager) SwitchLoadbalancer(from, to int) error {
	if m.State() == StateUninitialized {
		return ErrNotInitialized
	}
	names := m.args.StrategyNames
	if to < 0 || to >= len(names) {
		return fmt.Errorf("switch target %d out of range [0,%d)", to, len(names))
	}
	cfg, err := SwitchConfig(names[to])
	if err != nil {
		m.warnf("switch", "[LB] switch %d -> %s ignored: %v", from, names[to], err)
		m.recordSwitch(from, to, names[to], err)
		return err
	}
	err = m.ConfigureTreeLB(cfg)
	m.recordSwitch(from, to, names[to], err)
	return err
}

// ConfigureTreeLB applies cfg to every TreeLB instance.
func (m *Manager) ConfigureTreeLB(cfg TreeConfig) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("TreeLB config: %w", err)
	}
	found := false
	for _, s := range m.Strategies() {
		if s == nil || s.Name() != "TreeLB" {
			continue
		}
		if err := s.Configure(cfg); err != nil {
			return fmt.Errorf("configuring TreeLB: %w", err)
		}
		found = true
	}
	if !found {
		return ErrNoTreeLB
	}
	return nil
}

// ConfigureTreeLBString parses a JSON (or YAML) configuration and applies it.
func (m *Manager) ConfigureTreeLBString(s string) error {
	cfg, err := ParseTreeConfig([]byte(s))
	if err != nil {
		return err
	}
	return m.ConfigureTreeLB(*cfg)
}
