package dist

import (
	"fmt"
	"sort"

	"github.com/chazu/kestrel/pkg/bytecode"
)

// Capabilities a program can exercise.
const (
	CapPrint   = "io.print" // PRINT
	CapStatics = "statics"  // GET_STATIC, SET_STATIC
)

// RequiredCapabilities returns the sorted capabilities p uses.
func RequiredCapabilities(p *bytecode.Program) []string {
	set := make(map[string]bool)
	for _, fn := range p.Functions {
		for _, in := range fn.Code {
			switch in.Op {
			case bytecode.OpPrint:
				set[CapPrint] = true
			case bytecode.OpGetStatic, bytecode.OpSetStatic:
				set[CapStatics] = true
			}
		}
	}
	caps := make([]string, 0, len(set))
	for c := range set {
		caps = append(caps, c)
	}
	sort.Strings(caps)
	return caps
}

// CheckDeclared rejects a program that uses a capability its chunk did not
// declare.
func CheckDeclared(p *bytecode.Program, declared []string) error {
	have := make(map[string]bool, len(declared))
	for _, c := range declared {
		have[c] = true
	}
	for _, c := range RequiredCapabilities(p) {
		if !have[c] {
			return fmt.Errorf("dist: program uses undeclared capability %q", c)
		}
	}
	return nil
}

// CapabilityPolicy controls which capabilities are allowed when receiving
// chunks from a peer. A nil AllowedCapabilities means "allow all".
type CapabilityPolicy struct {
	AllowedCapabilities map[string]bool // nil = allow all
	DeniedCapabilities  map[string]bool
}

// NewPermissivePolicy creates a policy that allows all capabilities.
func NewPermissivePolicy() *CapabilityPolicy {
	return &CapabilityPolicy{}
}

// NewRestrictedPolicy creates a policy that only allows the specified
// capabilities.
func NewRestrictedPolicy(allowed []string) *CapabilityPolicy {
	m := make(map[string]bool, len(allowed))
	for _, c := range allowed {
		m[c] = true
	}
	return &CapabilityPolicy{AllowedCapabilities: m}
}

// NewDenyPolicy allows everything except the listed capabilities.
func NewDenyPolicy(denied []string) *CapabilityPolicy {
	p := NewPermissivePolicy()
	for _, c := range denied {
		p.Deny(c)
	}
	return p
}

// Check verifies that all capabilities required by a manifest are allowed
// by this policy. Returns an error naming the first denied capability.
func (p *CapabilityPolicy) Check(manifest *CapabilityManifest) error {
	if manifest == nil {
		return nil
	}
	for _, c := range manifest.Required {
		if p.DeniedCapabilities[c] {
			return fmt.Errorf("dist: capability %q is explicitly denied", c)
		}
		if p.AllowedCapabilities != nil && !p.AllowedCapabilities[c] {
			return fmt.Errorf("dist: capability %q is not allowed", c)
		}
	}
	return nil
}

// Deny adds a capability to the deny list.
func (p *CapabilityPolicy) Deny(c string) {
	if p.DeniedCapabilities == nil {
		p.DeniedCapabilities = make(map[string]bool)
	}
	p.DeniedCapabilities[c] = true
}
