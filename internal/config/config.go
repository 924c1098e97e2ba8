// Package config loads machine descriptions for the simulator.
package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"samepage/kernel/klog"
	"samepage/kernel/kmain"
	"samepage/kernel/ksm"
	"samepage/kernel/proc"
)

// userSlots is the number of process slots available to a workload. Boot
// spawns the reserved processes and the simulator adds one caller.
const userSlots = proc.MaxProcs - 3

// Machine describes the simulated machine and its workload.
type Machine struct {
	Memory    Memory    `yaml:"memory"`
	KSM       KSM       `yaml:"ksm"`
	Log       Log       `yaml:"log"`
	Processes []Process `yaml:"processes"`
}

// Memory describes physical memory.
type Memory struct {
	Frames uint32 `yaml:"frames"`
}

// KSM holds the samepage merging settings.
type KSM struct {
	MaxGroups    int    `yaml:"max_groups"`
	MaxGroupRefs int    `yaml:"max_group_refs"`
	ReservedPIDs int    `yaml:"reserved_pids"`
	Policy       string `yaml:"policy"`
}

// Log holds the logging settings.
type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Process describes a group of identical processes.
type Process struct {
	Name  string `yaml:"name"`
	Count int    `yaml:"count"`
	Pages []Page `yaml:"pages"`
}

// Page describes the contents of one or more consecutive pages. At most one
// content source may be set; a page without one stays zero-filled.
type Page struct {
	Fill    *uint8 `yaml:"fill,omitempty"`
	Pattern string `yaml:"pattern,omitempty"`
	Random  *int64 `yaml:"random,omitempty"`
	Repeat  int    `yaml:"repeat,omitempty"`
}

// Default returns the machine used when no configuration file is given.
func Default() *Machine {
	def := ksm.DefaultConfig()

	return &Machine{
		Memory: Memory{Frames: 4096},
		KSM: KSM{
			MaxGroups:    def.MaxGroups,
			MaxGroupRefs: def.MaxGroupRefs,
			ReservedPIDs: def.ReservedPIDs,
			Policy:       def.Policy.String(),
		},
		Log: Log{Level: "info", Format: "text"},
	}
}

// Load reads and validates a machine description from path.
func Load(path string) (*Machine, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	m, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// Parse decodes and validates a machine description. Missing settings keep
// their defaults.
func Parse(data []byte) (*Machine, error) {
	m := Default()
	if err := yaml.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	m.applyDefaults()
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Machine) applyDefaults() {
	for i := range m.Processes {
		p := &m.Processes[i]
		if p.Count == 0 {
			p.Count = 1
		}
		if p.Name == "" {
			p.Name = fmt.Sprintf("proc%d", i)
		}
		for j := range p.Pages {
			if p.Pages[j].Repeat == 0 {
				p.Pages[j].Repeat = 1
			}
		}
	}
}

// Validate checks the machine description for consistency.
func (m *Machine) Validate() error {
	var errs []error

	if m.Memory.Frames < 16 {
		errs = append(errs, fmt.Errorf("memory.frames must be at least 16, got %d", m.Memory.Frames))
	}
	if _, err := m.KSMConfig(); err != nil {
		errs = append(errs, err)
	}
	if _, err := klog.ParseLevel(m.Log.Level); err != nil {
		errs = append(errs, err)
	}
	if _, err := klog.ParseFormat(m.Log.Format); err != nil {
		errs = append(errs, err)
	}

	var instances int
	for i, p := range m.Processes {
		if p.Count < 0 {
			errs = append(errs, fmt.Errorf("processes[%d] (%s): count must not be negative", i, p.Name))
		}
		instances += p.Count

		for j, page := range p.Pages {
			if err := page.validate(); err != nil {
				errs = append(errs, fmt.Errorf("processes[%d] (%s): pages[%d]: %w", i, p.Name, j, err))
			}
		}
	}
	if instances > userSlots {
		errs = append(errs, fmt.Errorf("workload needs %d processes, at most %d are available", instances, userSlots))
	}

	return errors.Join(errs...)
}

func (p Page) validate() error {
	var sources int
	if p.Fill != nil {
		sources++
	}
	if p.Pattern != "" {
		sources++
	}
	if p.Random != nil {
		sources++
	}

	switch {
	case sources > 1:
		return errors.New("fill, pattern and random are mutually exclusive")
	case p.Repeat < 0:
		return errors.New("repeat must not be negative")
	}
	return nil
}

// KSMConfig converts the ksm section into a ksm.Config.
func (m *Machine) KSMConfig() (ksm.Config, error) {
	policy, err := ksm.ParsePolicy(m.KSM.Policy)
	if err != nil {
		return ksm.Config{}, err
	}

	cfg := ksm.Config{
		MaxGroups:    m.KSM.MaxGroups,
		MaxGroupRefs: m.KSM.MaxGroupRefs,
		ReservedPIDs: m.KSM.ReservedPIDs,
		Policy:       policy,
	}

	switch {
	case cfg.MaxGroups <= 0:
		return cfg, fmt.Errorf("ksm.max_groups must be positive, got %d", cfg.MaxGroups)
	case cfg.MaxGroupRefs < 0 || cfg.MaxGroupRefs == 1:
		return cfg, fmt.Errorf("ksm.max_group_refs must be 0 (unbounded) or at least 2, got %d", cfg.MaxGroupRefs)
	case cfg.ReservedPIDs < 0:
		return cfg, fmt.Errorf("ksm.reserved_pids must not be negative, got %d", cfg.ReservedPIDs)
	}
	return cfg, nil
}

// BootOptions returns the options used to boot the kernel for this machine.
func (m *Machine) BootOptions() (kmain.Options, error) {
	cfg, err := m.KSMConfig()
	if err != nil {
		return kmain.Options{}, err
	}
	return kmain.Options{Frames: m.Memory.Frames, KSM: cfg}, nil
}

// PageCount returns the number of pages a single instance of p maps.
func (p Process) PageCount() int {
	var n int
	for _, page := range p.Pages {
		n += page.Repeat
	}
	return n
}
