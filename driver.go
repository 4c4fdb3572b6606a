// Package runtimehost implements the runtime host driver: a suspension
// state machine that drives an opaque WebAssembly VM collaborator
// (github.com/iotaledger/runtimehost/hostvm) to completion, resolving its
// storage, signature, and trie-root externalities against a storage
// overlay (github.com/iotaledger/runtimehost/overlay), a nested
// transaction stack (github.com/iotaledger/runtimehost/txstack), and an
// on-demand root calculator (github.com/iotaledger/runtimehost/rootcalc).
//
// Grounded in the teacher's mutable.Trie: a single entry point (Update,
// here run) drives a cached, mutate-in-place structure to completion one
// operation at a time, returning control only when it genuinely needs more
// information from outside.
package runtimehost

import (
	"bytes"

	"github.com/cockroachdb/errors"
	deadlock "github.com/sasha-s/go-deadlock"
	"go.uber.org/atomic"

	"github.com/iotaledger/runtimehost/hostvm"
	"github.com/iotaledger/runtimehost/hostvm/sigcheck"
	"github.com/iotaledger/runtimehost/internal/nibble"
	"github.com/iotaledger/runtimehost/internal/scale"
	"github.com/iotaledger/runtimehost/logsink"
	"github.com/iotaledger/runtimehost/overlay"
	"github.com/iotaledger/runtimehost/rootcalc"
	"github.com/iotaledger/runtimehost/txstack"
)

// RecalcDepth is the root-recalculation depth hint passed to every fresh
// rootcalc.Calculator (spec §4.E).
const RecalcDepth = 16

// Verifier checks a signature against a message and public key. Config's
// zero value defaults to hostvm/sigcheck.Verify.
type Verifier func(publicKey, message, signature []byte) bool

// Config is run's input (spec §6).
type Config struct {
	Prototype    hostvm.Prototype
	Compiler     hostvm.Compiler
	FunctionName string
	Params       [][]byte

	MainTrie     *overlay.Diff
	OffchainTrie *overlay.Diff

	MaxLogLevel uint32

	Verifier Verifier
}

// clearPrefixState tracks an in-flight StorageClearPrefix externality
// across its repeated NeedsNextKey round-trips.
type clearPrefixState struct {
	prefix  []byte
	max     *uint32
	removed uint32
	cursor  []byte
}

// Driver is the suspension state machine's owner (spec §3's Driver
// entity). The zero value is not usable; construct via Run.
//
// Exactly one owner at a time is a contract, not something the type
// enforces by construction; mu and gen turn a violation of that contract
// into a loud failure (spec §7: invariant violations must abort loudly)
// instead of silent corruption from two goroutines driving the same
// suspension concurrently, or a caller injecting into a handle the
// driver has already moved past.
type Driver struct {
	mu  deadlock.Mutex
	gen atomic.Uint64

	vm       hostvm.VM
	compiler hostvm.Compiler
	verifier Verifier

	mainTrie     *overlay.Diff
	offchainTrie *overlay.Diff
	txStack      *txstack.Stack

	version     hostvm.TrieEntryVersion
	maxLogLevel uint32
	logs        *logsink.Sink

	rootCalc         *rootcalc.Calculator
	rootCalcQueryKey []byte

	nextKeyPurpose   nextKeyPurpose
	nextKeyRequested []byte
	clearPrefix      *clearPrefixState

	storagePurpose       storagePurpose
	pendingStorageKey    []byte
	pendingAppendElement []byte
}

// Run constructs a Driver from cfg, instantiates the VM, and drives it to
// its first suspension or termination.
func Run(cfg Config) Status {
	vm, err := cfg.Prototype.Instantiate(cfg.FunctionName, cfg.Params)
	if err != nil {
		return Status{Kind: StatusFinished, Finished: &FinishedStatus{
			Err: &WasmVmError{Err: err, Prototype: cfg.Prototype},
		}}
	}

	version, ok := vm.StateTrieVersion()
	if !ok {
		version = hostvm.V0
	}

	main := cfg.MainTrie
	if main == nil {
		main = overlay.New()
	}
	offchain := cfg.OffchainTrie
	if offchain == nil {
		offchain = overlay.New()
	}
	verifier := cfg.Verifier
	if verifier == nil {
		verifier = sigcheck.Verify
	}

	d := &Driver{
		vm:           vm,
		compiler:     cfg.Compiler,
		verifier:     verifier,
		mainTrie:     main,
		offchainTrie: offchain,
		txStack:      txstack.New(),
		version:      version,
		maxLogLevel:  cfg.MaxLogLevel,
		logs:         logsink.New(),
	}
	return d.runLoop()
}

// runLoop drives step until it yields a Status to the caller, then stamps
// the returned handle (if any) with the new generation so a later call
// through a stale handle from a prior suspension is caught by checkGen
// instead of corrupting state silently.
func (d *Driver) runLoop() Status {
	d.mu.Lock()
	defer d.mu.Unlock()

	var st Status
	for {
		var yield bool
		if st, yield = d.step(); yield {
			break
		}
	}
	return d.stampGen(st)
}

// stampGen assigns the driver's next generation to st's suspension handle
// (if any), so a later call through a stale handle from a prior suspension
// is caught by checkGen instead of corrupting state silently. Every path
// that hands a suspension Status back to the caller -- whether freshly
// produced by runLoop's step loop or re-yielded directly by a re-entry
// method without another trip through step -- must go through this.
func (d *Driver) stampGen(st Status) Status {
	g := d.gen.Inc()
	switch st.Kind {
	case StatusNeedsStorage:
		st.Storage.gen = g
	case StatusNeedsNextKey:
		st.NextKey.gen = g
	case StatusNeedsMerkle:
		st.Merkle.gen = g
	case StatusNeedsSignature:
		st.Signature.gen = g
	}
	return st
}

// checkGen panics if g does not match the driver's current generation,
// i.e. the handle it came from belongs to a suspension the driver has
// already been advanced past.
func (d *Driver) checkGen(g uint64) {
	if d.gen.Load() != g {
		panic(invariantf("stale suspension handle used after the driver already advanced past it"))
	}
}

// step inspects the VM's current externality, resolves it as far as
// possible without external input, and reports whether it must yield.
func (d *Driver) step() (Status, bool) {
	cur := d.vm.Current()

	if cur.ChildTrie != nil {
		if ans, handled := childTrieStub(cur); handled {
			d.vm.Resume(ans)
			return Status{}, false
		}
	}

	switch cur.Kind {
	case hostvm.ReadyToRun:
		d.vm.Advance()
		return Status{}, false

	case hostvm.Finished:
		return Status{Kind: StatusFinished, Finished: &FinishedStatus{Success: &Success{
			ReturnValue:      cur.ReturnValue,
			MainTrie:         d.mainTrie,
			StateTrieVersion: d.version,
			OffchainTrie:     d.offchainTrie,
			Logs:             d.logs.String(),
			Prototype:        d.vm.IntoPrototype(),
		}}}, true

	case hostvm.Error:
		return Status{Kind: StatusFinished, Finished: &FinishedStatus{Err: &WasmVmError{
			Err:       errors.Newf("wasm trap: %s", cur.ErrorMessage),
			Logs:      d.logs.String(),
			Prototype: d.vm.IntoPrototype(),
		}}}, true

	case hostvm.StorageGet:
		if value, version, present := d.mainTrie.Get(cur.Key); present {
			d.vm.Resume(hostvm.Answer{
				Kind: hostvm.StorageGet, StorageValue: value, StorageFound: value != nil,
				StorageVersion: hostvm.TrieEntryVersion(version),
			})
			return Status{}, false
		}
		d.storagePurpose = purposeStorageGet
		d.pendingStorageKey = cur.Key
		return Status{Kind: StatusNeedsStorage, Storage: &NeedsStorage{d: d}}, true

	case hostvm.StorageSet:
		d.mainTrie.Set(cur.Key, cur.Value, int(d.version))
		d.vm.Resume(hostvm.Answer{Kind: hostvm.StorageSet})
		return Status{}, false

	case hostvm.StorageAppend:
		if d.mainTrie.Has(cur.Key) {
			base, _, _ := d.mainTrie.Get(cur.Key)
			d.mainTrie.Set(cur.Key, scale.AppendElement(base, cur.Value), int(d.version))
			d.vm.Resume(hostvm.Answer{Kind: hostvm.StorageAppend})
			return Status{}, false
		}
		d.storagePurpose = purposeStorageAppend
		d.pendingStorageKey = cur.Key
		d.pendingAppendElement = cur.Value
		return Status{Kind: StatusNeedsStorage, Storage: &NeedsStorage{d: d}}, true

	case hostvm.StorageClearPrefix:
		d.clearPrefix = &clearPrefixState{prefix: cur.ClearPrefix, max: cur.ClearMax, cursor: cur.ClearPrefix}
		d.nextKeyPurpose = purposeClearPrefix
		return Status{Kind: StatusNeedsNextKey, NextKey: &NeedsNextKey{d: d}}, true

	case hostvm.StorageRoot:
		if d.rootCalc == nil {
			d.rootCalc = rootcalc.New(d.mainTrie.Clone(), d.version, RecalcDepth)
		}
		return d.handleRootCalcProgress()

	case hostvm.StorageNextKey:
		d.nextKeyPurpose = purposeNextKeyPlain
		d.nextKeyRequested = cur.Key
		return Status{Kind: StatusNeedsNextKey, NextKey: &NeedsNextKey{d: d}}, true

	case hostvm.OffchainStorageSet:
		d.offchainTrie.Set(cur.Key, cur.Value, int(d.version))
		d.vm.Resume(hostvm.Answer{Kind: hostvm.OffchainStorageSet})
		return Status{}, false

	case hostvm.SignatureVerification:
		return Status{Kind: StatusNeedsSignature, Signature: &NeedsSignature{d: d}}, true

	case hostvm.CallRuntimeVersion:
		proto, err := d.compiler.Compile(cur.RuntimeCode)
		if err != nil {
			d.vm.Resume(hostvm.Answer{Kind: hostvm.CallRuntimeVersion, RuntimeVersionOK: false})
			return Status{}, false
		}
		vb, err := proto.RuntimeVersionBytes()
		if err != nil {
			d.vm.Resume(hostvm.Answer{Kind: hostvm.CallRuntimeVersion, RuntimeVersionOK: false})
			return Status{}, false
		}
		d.vm.Resume(hostvm.Answer{Kind: hostvm.CallRuntimeVersion, RuntimeVersionBytes: vb, RuntimeVersionOK: true})
		return Status{}, false

	case hostvm.StartStorageTransaction:
		d.txStack.Start(d.mainTrie)
		d.vm.Resume(hostvm.Answer{Kind: hostvm.StartStorageTransaction})
		return Status{}, false

	case hostvm.EndStorageTransaction:
		restored, err := d.txStack.End(cur.Rollback)
		if err != nil {
			panic(invariantf("EndStorageTransaction: %v", err))
		}
		if cur.Rollback {
			d.mainTrie = restored
		}
		d.vm.Resume(hostvm.Answer{Kind: hostvm.EndStorageTransaction})
		return Status{}, false

	case hostvm.GetMaxLogLevel:
		d.vm.Resume(hostvm.Answer{Kind: hostvm.GetMaxLogLevel, MaxLogLevel: d.maxLogLevel})
		return Status{}, false

	case hostvm.LogEmit:
		if err := d.logs.Write(cur.LogText); err != nil {
			return Status{Kind: StatusFinished, Finished: &FinishedStatus{Err: &LogsTooLongError{
				Prototype: d.vm.IntoPrototype(),
			}}}, true
		}
		d.vm.Resume(hostvm.Answer{Kind: hostvm.LogEmit})
		return Status{}, false

	default:
		panic(invariantf("unhandled externality kind %s", cur.Kind))
	}
}

// childTrieStub answers a non-main-trie externality with an empty/no-op
// result (spec §1 non-goals, §4.E "Main trie only"), without consulting
// the client.
func childTrieStub(cur hostvm.Externality) (hostvm.Answer, bool) {
	switch cur.Kind {
	case hostvm.StorageGet:
		return hostvm.Answer{Kind: hostvm.StorageGet, StorageFound: false}, true
	case hostvm.StorageSet, hostvm.StorageAppend:
		return hostvm.Answer{Kind: cur.Kind}, true
	case hostvm.StorageClearPrefix:
		return hostvm.Answer{Kind: hostvm.StorageClearPrefix, ClearPrefixRemoved: 0, ClearPrefixAllDone: true}, true
	case hostvm.StorageRoot:
		return hostvm.Answer{Kind: hostvm.StorageRoot}, true
	case hostvm.StorageNextKey:
		return hostvm.Answer{Kind: hostvm.StorageNextKey, NextKeyFound: false}, true
	default:
		return hostvm.Answer{}, false
	}
}

// handleRootCalcProgress drives the in-flight root calculator, yielding
// only the three externally-visible suspensions it can produce, skipping
// straight past odd-nibble storage-value requests (spec §4.E trie-root
// sub-protocol: "no storage key can have an odd-nibble length").
func (d *Driver) handleRootCalcProgress() (Status, bool) {
	p := d.rootCalc.Progress()
	switch p.Kind {
	case rootcalc.Done:
		d.vm.Resume(hostvm.Answer{Kind: hostvm.StorageRoot, Root: p.Root})
		d.rootCalc = nil
		return Status{}, false

	case rootcalc.NeedsClosestDescendant:
		d.nextKeyPurpose = purposeRootCalcNextKey
		d.rootCalcQueryKey = p.Key
		return Status{Kind: StatusNeedsNextKey, NextKey: &NeedsNextKey{d: d}}, true

	case rootcalc.NeedsStorageValue:
		if nibble.IsOdd(p.Key) {
			d.rootCalc.FeedStorageValue(nil, hostvm.V0, false)
			return d.handleRootCalcProgress()
		}
		packed, err := nibble.Pack(p.Key)
		if err != nil {
			panic(invariantf("root calculator produced a malformed storage key: %v", err))
		}
		d.storagePurpose = purposeRootCalcValue
		d.pendingStorageKey = packed
		return Status{Kind: StatusNeedsStorage, Storage: &NeedsStorage{d: d}}, true

	case rootcalc.NeedsClosestDescendantMerkle:
		return Status{Kind: StatusNeedsMerkle, Merkle: &NeedsMerkle{d: d}}, true

	default:
		panic(invariantf("unknown root calculator progress kind %v", p.Kind))
	}
}

// injectNextKey routes a NeedsNextKey answer to its plain/clear-prefix/
// root-calc consumer (spec §4.E "On inject_key(answer)").
func (d *Driver) injectNextKey(answer []byte, found bool) Status {
	switch d.nextKeyPurpose {
	case purposeClearPrefix:
		return d.injectClearPrefixKey(answer, found)
	case purposeRootCalcNextKey:
		d.rootCalc.FeedClosestDescendant(answer, found)
		return d.runLoop()
	default:
		return d.injectPlainNextKey(answer, found)
	}
}

func (d *Driver) injectPlainNextKey(answer []byte, found bool) Status {
	res := d.mainTrie.StorageNextKey(d.nextKeyRequested, answer, found, false)
	switch res.Kind {
	case overlay.ResultFound:
		d.vm.Resume(hostvm.Answer{Kind: hostvm.StorageNextKey, NextKey: res.Key, NextKeyFound: true})
		return d.runLoop()
	case overlay.ResultNone:
		d.vm.Resume(hostvm.Answer{Kind: hostvm.StorageNextKey, NextKeyFound: false})
		return d.runLoop()
	case overlay.ResultNextOf:
		d.nextKeyRequested = res.Key
		return d.stampGen(Status{Kind: StatusNeedsNextKey, NextKey: &NeedsNextKey{d: d}})
	default:
		panic(invariantf("unknown overlay next-key result kind %v", res.Kind))
	}
}

func (d *Driver) injectClearPrefixKey(answer []byte, found bool) Status {
	cp := d.clearPrefix
	if !found {
		d.vm.Resume(hostvm.Answer{Kind: hostvm.StorageClearPrefix, ClearPrefixRemoved: cp.removed, ClearPrefixAllDone: false})
		d.clearPrefix = nil
		return d.runLoop()
	}
	if !bytes.HasPrefix(answer, cp.prefix) {
		panic(invariantf("ClearPrefix next-key answer %x does not match prefix %x", answer, cp.prefix))
	}
	if cp.max != nil && cp.removed >= *cp.max {
		d.vm.Resume(hostvm.Answer{Kind: hostvm.StorageClearPrefix, ClearPrefixRemoved: cp.removed, ClearPrefixAllDone: true})
		d.clearPrefix = nil
		return d.runLoop()
	}
	d.mainTrie.Set(answer, nil, int(d.version))
	cp.removed++
	cp.cursor = answer
	return d.stampGen(Status{Kind: StatusNeedsNextKey, NextKey: &NeedsNextKey{d: d}})
}

// injectStorageValue routes a NeedsStorage answer to its get/append/
// root-calc consumer (spec §4.E "The NeedsStorage handle").
func (d *Driver) injectStorageValue(value []byte, version hostvm.TrieEntryVersion, found bool) Status {
	switch d.storagePurpose {
	case purposeStorageAppend:
		var base []byte
		if found {
			base = value
		}
		d.mainTrie.Set(d.pendingStorageKey, scale.AppendElement(base, d.pendingAppendElement), int(d.version))
		d.vm.Resume(hostvm.Answer{Kind: hostvm.StorageAppend})
		return d.runLoop()
	case purposeRootCalcValue:
		d.rootCalc.FeedStorageValue(value, version, found)
		return d.runLoop()
	default:
		d.vm.Resume(hostvm.Answer{
			Kind: hostvm.StorageGet, StorageValue: value, StorageFound: found, StorageVersion: version,
		})
		return d.runLoop()
	}
}

// verifySignature runs the configured Verifier.
func (d *Driver) verifySignature(message, signature, publicKey []byte) bool {
	return d.verifier(publicKey, message, signature)
}

// resumeSignature resumes the VM with valid as the SignatureVerification
// verdict.
func (d *Driver) resumeSignature(valid bool) Status {
	d.vm.Resume(hostvm.Answer{Kind: hostvm.SignatureVerification, SignatureValid: valid})
	return d.runLoop()
}

// IntoPrototype cancels the suspended driver, discarding all accumulated
// diffs, logs, and transaction state, and returns a fresh VM prototype
// (spec §5 cancellation, testable property 10).
func (d *Driver) IntoPrototype() hostvm.Prototype {
	return d.vm.IntoPrototype()
}
