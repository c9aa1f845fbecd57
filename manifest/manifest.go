// Package manifest handles kestrel.toml project configuration.
package manifest

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/BurntSushi/toml"

	"github.com/chazu/kestrel/vm"
	"github.com/chazu/kestrel/vm/dist"
)

// FileName is the manifest file looked up by Load and FindAndLoad.
const FileName = "kestrel.toml"

// Defaults applied after decoding.
const (
	DefaultPort    = 8081
	DefaultWorkers = 4
)

//go:embed schema.cue
var schemaSource string

// Manifest represents a kestrel.toml project configuration. Limit keys left
// unset keep the value of the selected profile.
type Manifest struct {
	Project    Project           `toml:"project" json:"project"`
	Limits     Limits            `toml:"limits" json:"limits"`
	Verify     Verify            `toml:"verify" json:"verify"`
	Exceptions map[string]string `toml:"exceptions" json:"exceptions,omitempty"`
	Server     Server            `toml:"server" json:"server"`

	// Dir is the directory containing the kestrel.toml file (set at load time).
	Dir string `toml:"-" json:"-"`
}

// Project contains project metadata.
type Project struct {
	Name  string `toml:"name" json:"name,omitempty"`
	Entry string `toml:"entry" json:"entry,omitempty"`
}

// Limits overrides the executor limits.
type Limits struct {
	Untrusted                  bool   `toml:"untrusted" json:"untrusted"`
	MaxBytes                   *int   `toml:"max_bytes" json:"max_bytes,omitempty"`
	MaxConstPool               *int   `toml:"max_const_pool" json:"max_const_pool,omitempty"`
	MaxFunctions               *int   `toml:"max_functions" json:"max_functions,omitempty"`
	MaxInstructionsPerFunction *int   `toml:"max_instructions_per_function" json:"max_instructions_per_function,omitempty"`
	MaxSteps                   *int64 `toml:"max_steps" json:"max_steps,omitempty"`
	MaxCallDepth               *int   `toml:"max_call_depth" json:"max_call_depth,omitempty"`
	MaxHandlersPerFrame        *int   `toml:"max_handlers_per_frame" json:"max_handlers_per_frame,omitempty"`
	MaxArrayLength             *int   `toml:"max_array_length" json:"max_array_length,omitempty"`
}

// Verify configures the verifier and entry resolution.
type Verify struct {
	ControlFlow        *bool `toml:"control_flow" json:"control_flow,omitempty"`
	StrictEntry        bool  `toml:"strict_entry" json:"strict_entry"`
	LegacyTypeMatching *bool `toml:"legacy_type_matching" json:"legacy_type_matching,omitempty"`
}

// Server configures `kes serve`.
type Server struct {
	Port              int      `toml:"port" json:"port"`
	Workers           int      `toml:"workers" json:"workers"`
	BanThreshold      int      `toml:"ban_threshold" json:"ban_threshold"`
	Store             string   `toml:"store" json:"store,omitempty"`
	AllowCapabilities []string `toml:"allow_capabilities" json:"allow_capabilities,omitempty"`
	DenyCapabilities  []string `toml:"deny_capabilities" json:"deny_capabilities,omitempty"`
}

// Load parses a kestrel.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	m, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}
	return m, nil
}

// Parse decodes and validates manifest text, then applies defaults.
func Parse(data []byte) (*Manifest, error) {
	var m Manifest
	md, err := toml.Decode(string(data), &m)
	if err != nil {
		return nil, fmt.Errorf("parse error: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		sort.Strings(keys)
		return nil, fmt.Errorf("unknown keys: %s", strings.Join(keys, ", "))
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}

	// Defaults
	if m.Server.Port == 0 {
		m.Server.Port = DefaultPort
	}
	if m.Server.Workers == 0 {
		m.Server.Workers = DefaultWorkers
	}
	return &m, nil
}

// Validate checks the manifest against the embedded CUE schema.
func (m *Manifest) Validate() error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("manifest: encode for validation: %w", err)
	}

	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("manifest: schema: %w", err)
	}
	v := ctx.CompileBytes(data, cue.Filename(FileName))
	if err := v.Err(); err != nil {
		return fmt.Errorf("manifest: %w", err)
	}

	def := schema.LookupPath(cue.ParsePath("#Manifest"))
	if err := def.Unify(v).Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("invalid manifest: %w", err)
	}
	return nil
}

// FindAndLoad walks up from startDir to find a kestrel.toml file,
// then loads and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

// VMConfig builds the executor configuration. A nil manifest yields the
// trusted defaults.
func (m *Manifest) VMConfig() vm.Config {
	if m == nil {
		return vm.DefaultConfig()
	}
	cfg := vm.NewConfig(m.Limits.Untrusted)

	l := &cfg.Limits
	setInt(&l.MaxBytes, m.Limits.MaxBytes)
	setInt(&l.MaxConstPool, m.Limits.MaxConstPool)
	setInt(&l.MaxFunctions, m.Limits.MaxFunctions)
	setInt(&l.MaxInstructionsPerFunction, m.Limits.MaxInstructionsPerFunction)
	if m.Limits.MaxSteps != nil {
		l.MaxSteps = *m.Limits.MaxSteps
	}
	setInt(&l.MaxCallDepth, m.Limits.MaxCallDepth)
	setInt(&l.MaxHandlersPerFrame, m.Limits.MaxHandlersPerFrame)
	setInt(&l.MaxArrayLength, m.Limits.MaxArrayLength)

	if m.Verify.ControlFlow != nil {
		cfg.VerifyControlFlow = *m.Verify.ControlFlow
	}
	cfg.StrictEntry = m.Verify.StrictEntry
	if m.Verify.LegacyTypeMatching != nil {
		cfg.LegacyTypeMatching = *m.Verify.LegacyTypeMatching
	}
	if m.Project.Entry != "" {
		cfg.Entry = m.Project.Entry
	}
	if len(m.Exceptions) > 0 {
		cfg.ExceptionParents = make(map[string]string, len(m.Exceptions))
		for child, parent := range m.Exceptions {
			cfg.ExceptionParents[child] = parent
		}
	}
	return cfg
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

// Policy returns the capability policy for chunks received by the server.
func (m *Manifest) Policy() *dist.CapabilityPolicy {
	if m == nil {
		return dist.NewPermissivePolicy()
	}
	p := dist.NewPermissivePolicy()
	if len(m.Server.AllowCapabilities) > 0 {
		p = dist.NewRestrictedPolicy(m.Server.AllowCapabilities)
	}
	for _, c := range m.Server.DenyCapabilities {
		p.Deny(c)
	}
	return p
}

// StorePath resolves the configured store path against the manifest
// directory. It returns "" when no store is configured.
func (m *Manifest) StorePath() string {
	if m == nil || m.Server.Store == "" {
		return ""
	}
	if filepath.IsAbs(m.Server.Store) {
		return m.Server.Store
	}
	return filepath.Join(m.Dir, m.Server.Store)
}
