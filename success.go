package runtimehost

import (
	"fmt"

	"github.com/cockroachdb/errors"

	"github.com/iotaledger/runtimehost/hostvm"
	"github.com/iotaledger/runtimehost/overlay"
)

// Success is the Finished(Ok(...)) payload (spec §6).
type Success struct {
	ReturnValue      []byte
	MainTrie         *overlay.Diff
	StateTrieVersion hostvm.TrieEntryVersion
	OffchainTrie     *overlay.Diff
	Logs             string
	Prototype        hostvm.Prototype
}

// WasmVmError is the VM-faulted terminal error (spec §7). The accumulated
// logs and a reusable prototype are carried along so the caller can inspect
// and retry without re-instantiating from scratch.
type WasmVmError struct {
	Err       error
	Logs      string
	Prototype hostvm.Prototype
}

func (e *WasmVmError) Error() string {
	return fmt.Sprintf("runtimehost: wasm vm fault: %v", e.Err)
}

func (e *WasmVmError) Unwrap() error { return e.Err }

// LogsTooLongError is the log-cap terminal error (spec §3 invariant 6, §7).
type LogsTooLongError struct {
	Prototype hostvm.Prototype
}

func (e *LogsTooLongError) Error() string {
	return "runtimehost: log buffer would exceed its 1 MiB cap"
}

// errInvariant marks a condition §7 calls a driver bug rather than a normal
// suspension or terminal error: these must abort loudly, not be recovered.
var errInvariant = errors.New("runtimehost: invariant violation")

func invariantf(format string, args ...interface{}) error {
	return errors.Wrapf(errInvariant, format, args...)
}
