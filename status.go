package runtimehost

import "github.com/iotaledger/runtimehost/hostvm"

// StatusKind discriminates which suspension (or termination) a Status
// carries, mirroring spec §3's Status tagged enumeration.
type StatusKind int

const (
	StatusFinished StatusKind = iota
	StatusNeedsStorage
	StatusNeedsNextKey
	StatusNeedsMerkle
	StatusNeedsSignature
)

func (k StatusKind) String() string {
	switch k {
	case StatusFinished:
		return "Finished"
	case StatusNeedsStorage:
		return "NeedsStorage"
	case StatusNeedsNextKey:
		return "NeedsNextKey"
	case StatusNeedsMerkle:
		return "NeedsMerkle"
	case StatusNeedsSignature:
		return "NeedsSignature"
	default:
		return "Unknown"
	}
}

// Status is what run/the re-entry methods return: exactly one of the
// pointer fields matching Kind is non-nil. Each non-terminal field is a
// handle that owns the suspended Driver by move (spec §4.E): calling one of
// its injection methods consumes the suspension and advances the driver,
// returning the next Status.
type Status struct {
	Kind StatusKind

	Finished  *FinishedStatus
	Storage   *NeedsStorage
	NextKey   *NeedsNextKey
	Merkle    *NeedsMerkle
	Signature *NeedsSignature
}

// FinishedStatus is Status's terminal payload: either a Success or one of
// the two terminal error kinds from spec §7.
type FinishedStatus struct {
	Success *Success
	Err     error
}

// nextKeyPurpose routes an inject_key answer back to the right consumer
// (spec §4.E's three `ExternalStorageNextKey`/`ExternalStorageClearPrefix`/
// `ExternalStorageRoot` branches), without exposing the distinction to the
// caller: the observable surface (Key/OrEqual/BranchNodes/Prefix) already
// encodes it per spec §4.E's `NeedsNextKey` handle description.
type nextKeyPurpose int

const (
	purposeNextKeyPlain nextKeyPurpose = iota
	purposeClearPrefix
	purposeRootCalcNextKey
)

// NeedsNextKey is the suspension yielded for StorageNextKey,
// StorageClearPrefix, and the root calculator's closest-descendant
// requests (spec §4.E "The NeedsNextKey handle").
type NeedsNextKey struct {
	d   *Driver
	gen uint64
}

// Key returns the key the client should query the backing store for. For
// root-calculator descent (BranchNodes() true) it is a nibble path and
// InjectKey expects a nibble path back; otherwise both are byte keys.
func (h *NeedsNextKey) Key() []byte {
	d := h.d
	switch d.nextKeyPurpose {
	case purposeClearPrefix:
		return d.clearPrefix.cursor
	case purposeRootCalcNextKey:
		return d.rootCalcQueryKey
	default:
		return d.nextKeyRequested
	}
}

// OrEqual reports whether the client's query should include Key itself.
func (h *NeedsNextKey) OrEqual() bool {
	d := h.d
	switch d.nextKeyPurpose {
	case purposeClearPrefix:
		return d.clearPrefix.removed == 0
	case purposeRootCalcNextKey:
		return true
	default:
		return false
	}
}

// BranchNodes reports whether the backing store should consider internal
// branch nodes a valid answer (true only for root-calculator descent).
func (h *NeedsNextKey) BranchNodes() bool {
	return h.d.nextKeyPurpose == purposeRootCalcNextKey
}

// Prefix returns the clear-prefix prefix, the root calculator's descent
// query key, or nil for a plain next-key request.
func (h *NeedsNextKey) Prefix() []byte {
	d := h.d
	switch d.nextKeyPurpose {
	case purposeClearPrefix:
		return d.clearPrefix.prefix
	case purposeRootCalcNextKey:
		return d.rootCalcQueryKey
	default:
		return nil
	}
}

// InjectKey supplies the backing store's answer and advances the driver.
func (h *NeedsNextKey) InjectKey(answer []byte, found bool) Status {
	h.d.checkGen(h.gen)
	return h.d.injectNextKey(answer, found)
}

// IntoPrototype abandons the suspended driver (spec §5 cancellation).
func (h *NeedsNextKey) IntoPrototype() hostvm.Prototype { return h.d.IntoPrototype() }

// storagePurpose routes an inject_value answer (spec §4.E's "NeedsStorage
// handle": "value-get resumes with the bytes; append performs the
// SCALE-append ...; root-calc feeds the value with its version").
type storagePurpose int

const (
	purposeStorageGet storagePurpose = iota
	purposeStorageAppend
	purposeRootCalcValue
)

// NeedsStorage is the suspension yielded for a plain storage get, a
// storage append whose base value isn't in the overlay, or the root
// calculator's value requests.
type NeedsStorage struct {
	d   *Driver
	gen uint64
}

// Key returns the key the client should fetch from the backing store.
func (h *NeedsStorage) Key() []byte {
	return h.d.pendingStorageKey
}

// InjectValue supplies the backing store's answer and advances the driver.
func (h *NeedsStorage) InjectValue(value []byte, version hostvm.TrieEntryVersion, found bool) Status {
	h.d.checkGen(h.gen)
	return h.d.injectStorageValue(value, version, found)
}

// IntoPrototype abandons the suspended driver (spec §5 cancellation).
func (h *NeedsStorage) IntoPrototype() hostvm.Prototype { return h.d.IntoPrototype() }

// NeedsMerkle is the suspension yielded for the root calculator's
// closest-descendant-merkle requests.
type NeedsMerkle struct {
	d   *Driver
	gen uint64
}

// Key returns the nibble path whose merkle value is being asked about.
func (h *NeedsMerkle) Key() []byte {
	return h.d.rootCalc.Progress().Key
}

// InjectMerkleValue supplies a known merkle value directly.
func (h *NeedsMerkle) InjectMerkleValue(value []byte) Status {
	h.d.checkGen(h.gen)
	h.d.rootCalc.FeedClosestDescendantMerkle(value, true)
	return h.d.runLoop()
}

// ResumeUnknown declines to supply a merkle value; the calculator falls
// back to computing it by descent.
func (h *NeedsMerkle) ResumeUnknown() Status {
	h.d.checkGen(h.gen)
	h.d.rootCalc.FeedClosestDescendantMerkle(nil, false)
	return h.d.runLoop()
}

// IntoPrototype abandons the suspended driver (spec §5 cancellation).
func (h *NeedsMerkle) IntoPrototype() hostvm.Prototype { return h.d.IntoPrototype() }

// NeedsSignature is the suspension yielded for SignatureVerification. The
// driver only forwards decisions (spec §1); IsValid runs the embedded
// verifier (hostvm/sigcheck) as a convenience, but VerifyAndResume is the
// only path that actually consults it -- ResumeSuccess/ResumeFailed bypass
// it entirely for debugging, per spec §4.E.
type NeedsSignature struct {
	d   *Driver
	gen uint64
}

func (h *NeedsSignature) Message() []byte   { return h.d.vm.Current().Message }
func (h *NeedsSignature) Signature() []byte { return h.d.vm.Current().Signature }
func (h *NeedsSignature) PublicKey() []byte { return h.d.vm.Current().PublicKey }

// IsValid runs the embedded verifier without resuming the VM.
func (h *NeedsSignature) IsValid() bool {
	return h.d.verifySignature(h.Message(), h.Signature(), h.PublicKey())
}

// VerifyAndResume runs the embedded verifier and resumes the VM with its
// verdict.
func (h *NeedsSignature) VerifyAndResume() Status {
	h.d.checkGen(h.gen)
	return h.d.resumeSignature(h.IsValid())
}

// ResumeSuccess resumes the VM as if verification succeeded, bypassing the
// verifier.
func (h *NeedsSignature) ResumeSuccess() Status {
	h.d.checkGen(h.gen)
	return h.d.resumeSignature(true)
}

// ResumeFailed resumes the VM as if verification failed, bypassing the
// verifier.
func (h *NeedsSignature) ResumeFailed() Status {
	h.d.checkGen(h.gen)
	return h.d.resumeSignature(false)
}

// IntoPrototype abandons the suspended driver (spec §5 cancellation).
func (h *NeedsSignature) IntoPrototype() hostvm.Prototype { return h.d.IntoPrototype() }
