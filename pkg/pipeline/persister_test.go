package pipeline

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"

	"gocompile/pkg/persist"
)

func TestPersistRoundTrip(t *testing.T) {
	ctx := context.Background()
	d := persist.NewDisk("", 0)
	s := newStore(t, Options{Backend: d})
	runAll(t, s, programs["Recursion"])
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	for _, n := range ArtifactNames() {
		if _, err := d.Load(ctx, n); err != nil {
			t.Errorf("%s not persisted: %v", n, err)
		}
	}

	again := newStore(t, Options{Backend: d})
	if again.State() != Simulated {
		t.Fatalf("reloaded state = %s", again.State())
	}
	for _, n := range ArtifactNames() {
		want, _ := s.Artifact(n)
		got, ok := again.Artifact(n)
		if !ok || !bytes.Equal(got, want) {
			t.Errorf("%s differs after reload", n)
		}
	}
	if again.SetSource(programs["Recursion"]) {
		t.Error("reloaded source not recognised as unchanged")
	}
}

func TestLoadTruncates(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		value   []byte // nil removes the entry
		raw     bool   // store value without the source stamp
		want    Stage
		present bool // source still loaded
	}{
		{"MissingCode", KeyCode, nil, false, Empty, false},
		{"BadTokens", KeyTokens, []byte("{"), false, Empty, true},
		{"UnstampedTokens", KeyTokens, []byte("[]"), true, Empty, true},
		{"NullTree", KeyParseTree, []byte("null"), false, Lexed, true},
		{"BadIR", KeyIntermediateCode, []byte("halt\n"), false, SymbolsBuilt, true},
		{"MissingOptimizedCode", KeyOptimizedCode, nil, false, IRGenerated, true},
		{"BadListing", KeyRegistersAssemblyCode, []byte("    BOGUS r0\n"), false, CodeGenerated, true},
		{"ForeignListing", KeyScheduledAssemblyCode, stamp(fingerprint("x = 2;", Options{}), []byte("    HALT\n")), true, Allocated, true},
		{"BadSteps", KeyMemoryExecutionSteps, []byte("[{"), false, Scheduled, true},
		{"BadDiagnostics", KeyDiagnostics, []byte("[]"), false, Simulated, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			d := persist.NewDisk("", 0)
			s := newStore(t, Options{Backend: d})
			runAll(t, s, exampleSource)
			if err := s.Close(); err != nil {
				t.Fatal(err)
			}
			value := tt.value
			if value != nil && !tt.raw && tt.key != KeyCode {
				value = stamp(s.fp, value)
			}
			if value == nil {
				_ = d.Delete(ctx, tt.key)
			} else if err := d.Save(ctx, tt.key, value); err != nil {
				t.Fatal(err)
			}

			again := newStore(t, Options{Backend: d})
			if again.State() != tt.want {
				t.Errorf("state = %s, want %s", again.State(), tt.want)
			}
			if _, ok := again.Source(); ok != tt.present {
				t.Errorf("source present = %v", ok)
			}
			if err := again.Flush(ctx); err != nil {
				t.Fatal(err)
			}
			if tt.want < Simulated && tt.present {
				// entries past the last loaded stage are removed
				if _, err := d.Load(ctx, KeyMemoryExecutionSteps); !errors.Is(err, persist.ErrNotFound) {
					t.Errorf("stale steps still stored: %v", err)
				}
			}
		})
	}
}

func TestSetSourceDeletesArtifacts(t *testing.T) {
	ctx := context.Background()
	d := persist.NewDisk("", 0)
	s := newStore(t, Options{Backend: d})
	runAll(t, s, exampleSource)
	if err := s.Flush(ctx); err != nil {
		t.Fatal(err)
	}
	s.SetSource("x = 2;")
	if err := s.Flush(ctx); err != nil {
		t.Fatal(err)
	}
	if got := d.List(); len(got) != 2 {
		t.Errorf("stored keys = %v, want code and diagnostics", got)
	}
	if v, _ := d.Load(ctx, KeyCode); string(v) != "x = 2;" {
		t.Errorf("stored code = %q", v)
	}
}

// keepingBackend stores normally but never deletes anything, like a
// backend that goes down halfway through a flush.
type keepingBackend struct {
	persist.Backend
}

func (keepingBackend) Delete(ctx context.Context, key string) error {
	return errBackendDown
}

func TestLoadIgnoresArtifactsOfOlderSource(t *testing.T) {
	ctx := context.Background()
	d := persist.NewDisk("", 0)
	first := newStore(t, Options{Backend: d})
	runAll(t, first, "a = 1;")
	if err := first.Close(); err != nil {
		t.Fatal(err)
	}

	second := newStore(t, Options{Backend: keepingBackend{d}})
	second.SetSource("b = 2;")
	if err := second.Close(); !errors.Is(err, errBackendDown) {
		t.Fatalf("Close error = %v", err)
	}
	if _, err := d.Load(ctx, KeyTokens); err != nil {
		t.Fatalf("old tokens should still be stored: %v", err)
	}

	again := newStore(t, Options{Backend: d})
	if src, _ := again.Source(); src != "b = 2;" {
		t.Errorf("source = %q", src)
	}
	if again.State() != Empty {
		t.Errorf("state = %s, want Empty", again.State())
	}
	if toks, ok := again.Tokens(); ok {
		t.Errorf("tokens of the old source loaded: %v", toks)
	}
	if err := again.Flush(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := d.Load(ctx, KeyTokens); !errors.Is(err, persist.ErrNotFound) {
		t.Errorf("old tokens not removed: %v", err)
	}
}

func TestLoadIgnoresArtifactsOfOtherOptions(t *testing.T) {
	d := persist.NewDisk("", 0)
	first := newStore(t, Options{Backend: d, Registers: 8})
	runAll(t, first, exampleSource)
	if err := first.Close(); err != nil {
		t.Fatal(err)
	}
	again := newStore(t, Options{Backend: d, Registers: 4})
	if again.State() != Empty {
		t.Errorf("state with a different register count = %s, want Empty", again.State())
	}
	if _, ok := again.Source(); !ok {
		t.Error("source not loaded")
	}
}

// failingBackend refuses every write.
type failingBackend struct {
	mu    sync.Mutex
	saves int
}

var errBackendDown = errors.New("backend down")

func (f *failingBackend) Load(ctx context.Context, key string) ([]byte, error) {
	return nil, persist.ErrNotFound
}

func (f *failingBackend) Save(ctx context.Context, key string, value []byte) error {
	f.mu.Lock()
	f.saves++
	f.mu.Unlock()
	return errBackendDown
}

func (f *failingBackend) Delete(ctx context.Context, key string) error {
	return errBackendDown
}

func TestPersistFailureKeepsWorking(t *testing.T) {
	b := &failingBackend{}
	s := newStore(t, Options{Backend: b})
	runAll(t, s, exampleSource)
	if s.State() != Simulated {
		t.Fatalf("state = %s", s.State())
	}
	err := s.Flush(context.Background())
	if !errors.Is(err, errBackendDown) {
		t.Errorf("Flush error = %v", err)
	}
	// failed writes stay queued
	if err := s.Flush(context.Background()); !errors.Is(err, errBackendDown) {
		t.Errorf("second Flush error = %v", err)
	}
	if steps, ok := s.Steps(); !ok || len(steps) == 0 {
		t.Error("steps lost after a persistence failure")
	}
}

func TestPersisterKeepsNewerValue(t *testing.T) {
	d := persist.NewDisk("", 0)
	p := &persister{b: d, log: quietLogger(), dirty: make(map[string][]byte)}
	p.put("code", []byte("a"))
	p.put("code", []byte("b"))
	p.put("tokens", nil)
	if err := p.flush(context.Background()); err != nil {
		t.Fatal(err)
	}
	if v, _ := d.Read("code"); string(v) != "b" {
		t.Errorf("code = %q", v)
	}
	if len(p.dirty) != 0 {
		t.Errorf("queue not empty: %v", p.dirty)
	}
}
