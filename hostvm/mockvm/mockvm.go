// Package mockvm is a scripted, in-memory implementation of hostvm.VM,
// built the way the teacher builds in-memory test fixtures (compare
// trie_go.NewInMemoryKVStore): a fixed program of externalities fed to the
// driver one at a time, with an optional hook to inspect or assert on each
// resume answer. Used by the driver's own tests and by the demo client,
// which always runs its scripted program on it.
package mockvm

import (
	"fmt"

	"github.com/iotaledger/runtimehost/hostvm"
)

// Step is one point in a scripted VM program.
type Step struct {
	Ext hostvm.Externality
	// OnResume, if set, is called with the answer the driver resumed this
	// step with, before advancing to the next step. Use it to assert the
	// driver computed the expected answer, or to feed a later step from an
	// earlier one's result.
	OnResume func(hostvm.Answer)
}

// VM is a scripted hostvm.VM.
type VM struct {
	steps      []Step
	pos        int
	version    hostvm.TrieEntryVersion
	versionSet bool
	compiler   hostvm.Compiler

	// origin is the prototype this VM was instantiated from, if any, so
	// IntoPrototype can hand back one that instantiates again.
	origin *Prototype
}

// New creates a scripted VM that will present steps in order. ReadyToRun
// steps are consumed by Advance; every other kind is consumed by Resume.
func New(steps []Step) *VM {
	return &VM{steps: steps}
}

// WithVersion declares the runtime-version metadata StateTrieVersion
// reports.
func (m *VM) WithVersion(v hostvm.TrieEntryVersion) *VM {
	m.version = v
	m.versionSet = true
	return m
}

// Current implements hostvm.VM.
func (m *VM) Current() hostvm.Externality {
	if m.pos >= len(m.steps) {
		panic("mockvm: program exhausted without reaching Finished/Error")
	}
	return m.steps[m.pos].Ext
}

// Advance implements hostvm.VM.
func (m *VM) Advance() {
	cur := m.Current()
	if cur.Kind != hostvm.ReadyToRun {
		panic(fmt.Sprintf("mockvm: Advance called while paused on %s", cur.Kind))
	}
	m.pos++
}

// Resume implements hostvm.VM.
func (m *VM) Resume(ans hostvm.Answer) {
	cur := m.Current()
	if cur.Kind != ans.Kind {
		panic(fmt.Sprintf("mockvm: resume kind mismatch: paused on %s, resumed with %s", cur.Kind, ans.Kind))
	}
	if m.steps[m.pos].OnResume != nil {
		m.steps[m.pos].OnResume(ans)
	}
	m.pos++
}

// StateTrieVersion implements hostvm.VM.
func (m *VM) StateTrieVersion() (hostvm.TrieEntryVersion, bool) {
	return m.version, m.versionSet
}

// IntoPrototype implements hostvm.VM.
func (m *VM) IntoPrototype() hostvm.Prototype {
	p := Prototype{compiler: m.compiler, version: m.version, versionSet: m.versionSet}
	if m.origin != nil {
		p.runtimeVersion = m.origin.runtimeVersion
		p.instantiateFunc = m.origin.instantiateFunc
	}
	return p
}

// Done reports whether the scripted program ran to completion.
func (m *VM) Done() bool {
	return m.pos >= len(m.steps)
}

// Prototype is the reusable, not-yet-instantiated counterpart of VM.
type Prototype struct {
	compiler        hostvm.Compiler
	version         hostvm.TrieEntryVersion
	versionSet      bool
	runtimeVersion  []byte
	instantiateFunc func(functionName string, params [][]byte) (hostvm.VM, error)
}

// NewPrototype wraps a factory function as an hostvm.Prototype, letting
// tests control exactly what VM program CallRuntimeVersion / Config.Prototype
// produces on instantiation.
func NewPrototype(runtimeVersionBytes []byte, instantiate func(functionName string, params [][]byte) (hostvm.VM, error)) Prototype {
	return Prototype{runtimeVersion: runtimeVersionBytes, instantiateFunc: instantiate}
}

// Instantiate implements hostvm.Prototype.
func (p Prototype) Instantiate(functionName string, params [][]byte) (hostvm.VM, error) {
	if p.instantiateFunc == nil {
		return nil, fmt.Errorf("mockvm: prototype has no instantiate function")
	}
	vm, err := p.instantiateFunc(functionName, params)
	if m, ok := vm.(*VM); ok && err == nil {
		origin := p
		m.origin = &origin
	}
	return vm, err
}

// RuntimeVersionBytes implements hostvm.Prototype.
func (p Prototype) RuntimeVersionBytes() ([]byte, error) {
	return p.runtimeVersion, nil
}

// Compiler is a scripted hostvm.Compiler: it returns a fixed prototype (or
// error) regardless of the code bytes offered, letting tests exercise
// CallRuntimeVersion without a real compiler.
type Compiler struct {
	Proto Prototype
	Err   error
}

// Compile implements hostvm.Compiler.
func (c Compiler) Compile(code []byte) (hostvm.Prototype, error) {
	if c.Err != nil {
		return nil, c.Err
	}
	return c.Proto, nil
}
