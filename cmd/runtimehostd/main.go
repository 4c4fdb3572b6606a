// Command runtimehostd is the demo "outer client" spec.md §1 treats as
// opaque: it owns a real backing store and pumps a runtimehost.Driver
// against it end to end, answering every suspension kind the driver can
// yield. It is deliberately thin -- the interesting logic lives in
// runtimehost itself -- but it is a realistic caller, not a test harness,
// grounded on examples/trie_bench/main.go's CLI shape (SPEC_FULL.md §4.I).
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/golang/glog"
	"github.com/iotaledger/hive.go/core/kvstore"
	"github.com/iotaledger/hive.go/core/kvstore/badger"
	"github.com/iotaledger/hive.go/core/kvstore/mapdb"
	"github.com/mr-tron/base58"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/term"

	runtimehost "github.com/iotaledger/runtimehost"
	"github.com/iotaledger/runtimehost/hostvm"
	"github.com/iotaledger/runtimehost/hostvm/mockvm"
	"github.com/iotaledger/runtimehost/hostvm/sigcheck"
	"github.com/iotaledger/runtimehost/internal/nibble"
)

var (
	configPath = flag.String("config", "", "path to a TOML config file (max_log_level, function_name, db_path, sentry_dsn)")
	dbDir      = flag.String("db", "", "badger database directory; empty uses an in-memory store")
	demoKeyHex = flag.String("key", "01", "hex-encoded demo storage key to write and read back")
)

func main() {
	flag.Parse()
	defer glog.Flush()

	fcfg, err := loadFileConfig(*configPath)
	must(err)
	if *dbDir != "" {
		fcfg.DBPath = *dbDir
	}

	if fcfg.SentryDSN != "" {
		must(sentry.Init(sentry.ClientOptions{Dsn: fcfg.SentryDSN}))
		defer sentry.Flush(2 * time.Second)
	}

	demoKey, err := hexDecode(*demoKeyHex)
	must(err)

	kvs, closeStore := openBackingStore(fcfg.DBPath)
	defer closeStore()
	store := newBackingStore(kvs)

	kp := sigcheck.DeriveKeyPair(derivePassphraseSeed())
	glog.Infof("runtimehostd: demo signing key (base58): %s", base58.Encode(kp.PublicKeyBytes()))

	glog.Infof("runtimehostd: starting demo run, function=%s max_log_level=%d", fcfg.FunctionName, fcfg.MaxLogLevel)
	runDemo(fcfg, demoKey, kp, store)
}

func runDemo(fcfg fileConfig, demoKey []byte, kp sigcheck.KeyPair, store *backingStore) {
	proto := mockvm.NewPrototype(nil, func(functionName string, params [][]byte) (hostvm.VM, error) {
		return mockvm.New(demoProgram(demoKey, kp)), nil
	})

	st := runtimehost.Run(runtimehost.Config{
		Prototype:    proto,
		FunctionName: fcfg.FunctionName,
		MaxLogLevel:  fcfg.MaxLogLevel,
	})

	for {
		switch st.Kind {
		case runtimehost.StatusFinished:
			reportFinished(st)
			return

		case runtimehost.StatusNeedsStorage:
			value, version, found, err := store.get(st.Storage.Key())
			must(err)
			st = st.Storage.InjectValue(value, version, found)

		case runtimehost.StatusNeedsNextKey:
			h := st.NextKey
			if h.BranchNodes() {
				// Root-calculator descent: Key() is a nibble path naming the
				// inclusive lower bound of a scan over the whole store, and
				// the answer goes back as a nibble path too.
				after, err := nibble.Pack(h.Key())
				must(err)
				key, found, err := store.nextKey(after, true, nil)
				must(err)
				st = h.InjectKey(nibble.Unpack(key), found)
				continue
			}
			key, found, err := store.nextKey(h.Key(), h.OrEqual(), h.Prefix())
			must(err)
			st = h.InjectKey(key, found)

		case runtimehost.StatusNeedsMerkle:
			// The demo backing store keeps no precomputed merkle values, so
			// it always declines and lets the root calculator descend.
			st = st.Merkle.ResumeUnknown()

		case runtimehost.StatusNeedsSignature:
			st = st.Signature.VerifyAndResume()

		default:
			glog.Fatalf("runtimehostd: unhandled status kind %v", st.Kind)
		}
	}
}

func reportFinished(st runtimehost.Status) {
	f := st.Finished
	if f.Err != nil {
		glog.Errorf("runtimehostd: run failed: %v", f.Err)
		sentry.CaptureException(f.Err)
		os.Exit(1)
	}
	s := f.Success
	glog.Infof("runtimehostd: run finished, return=%q logs=%d bytes", s.ReturnValue, len(s.Logs))
	fmt.Printf("return value: %s\n", s.ReturnValue)
	fmt.Printf("state trie version: %v\n", s.StateTrieVersion)
	fmt.Printf("runtime logs:\n%s\n", s.Logs)
}

func openBackingStore(dbPath string) (kvstore.KVStore, func()) {
	if dbPath == "" {
		glog.Infof("runtimehostd: using in-memory backing store")
		return mapdb.NewMapDB(), func() {}
	}
	glog.Infof("runtimehostd: opening badger backing store at %s", dbPath)
	db, err := badger.CreateDB(dbPath)
	must(err)
	return badger.New(db), func() { _ = db.Close() }
}

// derivePassphraseSeed prompts the operator for a passphrase when stdin is a
// terminal (mirroring models/trie_kzg_bn256/kzg_setup/kzg_setup.go's
// operator-entered secret setup), falling back to a fixed demo seed
// otherwise so the command stays usable in non-interactive contexts (CI,
// pipes) without blocking forever.
func derivePassphraseSeed() []byte {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		seed := blake2b.Sum256([]byte("runtimehostd-demo-seed"))
		return seed[:]
	}
	fmt.Print("signing key passphrase: ")
	pass, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	must(err)
	seed := blake2b.Sum256(pass)
	return seed[:]
}

func hexDecode(s string) ([]byte, error) {
	if len(s)%2 != 0 {
		return nil, fmt.Errorf("runtimehostd: odd-length hex key %q", s)
	}
	out := make([]byte, len(s)/2)
	for i := range out {
		hi, err := hexNibble(s[2*i])
		if err != nil {
			return nil, err
		}
		lo, err := hexNibble(s[2*i+1])
		if err != nil {
			return nil, err
		}
		out[i] = hi<<4 | lo
	}
	return out, nil
}

func hexNibble(c byte) (byte, error) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', nil
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, nil
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, nil
	default:
		return 0, fmt.Errorf("runtimehostd: invalid hex digit %q", c)
	}
}

func must(err error) {
	if err != nil {
		glog.Errorf("runtimehostd: fatal: %v", err)
		os.Exit(1)
	}
}
