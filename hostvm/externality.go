// Package hostvm defines the VM collaborator the driver consumes: a
// pausable WebAssembly interpreter that yields typed host-call requests
// ("externalities") and is resumed with a matching answer. The interpreter
// itself is out of scope (spec §1); this package only fixes the shape of
// the conversation.
package hostvm

// Kind enumerates the externalities a VM can be paused on, one row per
// entry of spec §4.E's resolution table.
type Kind int

const (
	ReadyToRun Kind = iota
	Finished
	Error
	StorageGet
	StorageSet
	StorageAppend
	StorageClearPrefix
	StorageRoot
	StorageNextKey
	OffchainStorageSet
	SignatureVerification
	CallRuntimeVersion
	StartStorageTransaction
	EndStorageTransaction
	GetMaxLogLevel
	LogEmit
)

func (k Kind) String() string {
	switch k {
	case ReadyToRun:
		return "ReadyToRun"
	case Finished:
		return "Finished"
	case Error:
		return "Error"
	case StorageGet:
		return "StorageGet"
	case StorageSet:
		return "StorageSet"
	case StorageAppend:
		return "StorageAppend"
	case StorageClearPrefix:
		return "StorageClearPrefix"
	case StorageRoot:
		return "StorageRoot"
	case StorageNextKey:
		return "StorageNextKey"
	case OffchainStorageSet:
		return "OffchainStorageSet"
	case SignatureVerification:
		return "SignatureVerification"
	case CallRuntimeVersion:
		return "CallRuntimeVersion"
	case StartStorageTransaction:
		return "StartStorageTransaction"
	case EndStorageTransaction:
		return "EndStorageTransaction"
	case GetMaxLogLevel:
		return "GetMaxLogLevel"
	case LogEmit:
		return "LogEmit"
	default:
		return "Unknown"
	}
}

// TrieEntryVersion is the per-entry state-trie format tag (spec §3).
type TrieEntryVersion int

const (
	V0 TrieEntryVersion = iota
	V1
)

// Externality describes what the VM is currently paused on. Fields not
// relevant to Kind are zero. ChildTrie != nil flags a non-main-trie
// operation, which the driver answers with an empty/no-op result without
// consulting the client (spec's child-trie placeholder).
type Externality struct {
	Kind      Kind
	ChildTrie []byte

	Key     []byte // StorageGet / StorageSet / StorageAppend / StorageNextKey / OffchainStorageSet
	Value   []byte // StorageSet / StorageAppend(element) / OffchainStorageSet
	Version TrieEntryVersion

	ClearPrefix []byte
	ClearMax    *uint32 // nil means unbounded

	RuntimeCode []byte // CallRuntimeVersion

	Rollback bool // EndStorageTransaction

	Message   []byte // SignatureVerification
	Signature []byte
	PublicKey []byte

	LogText string // LogEmit, already formatted by the runtime

	ReturnValue  []byte // Finished
	ErrorMessage string // Error
}

// Answer is fed back into a paused VM via Resume. Only the fields relevant
// to the externality kind the VM is currently paused on are read.
type Answer struct {
	Kind Kind

	StorageValue   []byte
	StorageVersion TrieEntryVersion
	StorageFound   bool

	NextKey      []byte
	NextKeyFound bool

	MerkleValue []byte
	MerkleKnown bool

	SignatureValid bool

	RuntimeVersionBytes []byte
	RuntimeVersionOK    bool

	MaxLogLevel uint32

	ClearPrefixRemoved  uint32
	ClearPrefixAllDone  bool

	Root [32]byte
}

// VM is the pausable interpreter the driver drives. Advance is only valid
// while Current().Kind == ReadyToRun; every other kind is resolved by a
// matching Resume call, after which the VM has moved on to a new
// Current() (possibly ReadyToRun again, possibly another externality,
// possibly Finished/Error).
type VM interface {
	Current() Externality
	Advance()
	Resume(Answer)

	// StateTrieVersion reports the version declared in the VM's runtime
	// version metadata, if any. ok == false means the driver must default
	// to V0 (spec §6).
	StateTrieVersion() (version TrieEntryVersion, ok bool)

	// IntoPrototype discards the VM's execution state and returns a fresh,
	// reusable prototype (spec §5 cancellation / §6 Success handle).
	IntoPrototype() Prototype
}

// Prototype is a compiled-but-not-instantiated runtime, reusable across
// calls.
type Prototype interface {
	// Instantiate starts a fresh call of functionName with the
	// concatenation of params as the argument payload.
	Instantiate(functionName string, params [][]byte) (VM, error)

	// RuntimeVersionBytes returns the SCALE-encoded runtime version
	// metadata advertised by this prototype, without instantiating it.
	RuntimeVersionBytes() ([]byte, error)
}

// Compiler compiles fresh WebAssembly code into a runnable Prototype. The
// driver uses it to answer CallRuntimeVersion, always with default heap
// pages, a one-shot execution hint, and unresolved imports disallowed
// (spec §4.E); it never caches the result across calls.
type Compiler interface {
	Compile(code []byte) (Prototype, error)
}
