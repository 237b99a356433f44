package persist

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestDisk_Write(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		data         []byte
		quota        int
		expectError  error
		expectedUsed int
	}{
		{
			name:         "Valid write",
			key:          "code",
			data:         []byte{1, 2, 3},
			expectedUsed: 3,
		},
		{
			name:         "Nested key",
			key:          "session-1/tokens",
			data:         []byte("[]"),
			expectedUsed: 2,
		},
		{
			name:        "Invalid key special chars",
			key:         "code!",
			data:        []byte{1},
			expectError: ErrInvalidKey,
		},
		{
			name:        "Invalid key path traversal",
			key:         "../passwd",
			data:        []byte{1},
			expectError: ErrInvalidKey,
		},
		{
			name:        "Invalid key empty segment",
			key:         "a//b",
			data:        []byte{1},
			expectError: ErrInvalidKey,
		},
		{
			name:        "Quota exceeded",
			key:         "big",
			data:        make([]byte, 11),
			quota:       10,
			expectError: ErrQuotaExceeded,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDisk("", tt.quota)
			err := d.Write(tt.key, tt.data)
			if !errors.Is(err, tt.expectError) {
				t.Fatalf("Write() error = %v, want %v", err, tt.expectError)
			}
			if d.Used() != tt.expectedUsed {
				t.Errorf("Used() = %d, want %d", d.Used(), tt.expectedUsed)
			}
			if tt.expectError == nil {
				got, err := d.Read(tt.key)
				if err != nil || !reflect.DeepEqual(got, tt.data) {
					t.Errorf("Read() = %v, %v", got, err)
				}
			}
		})
	}
}

func TestDisk_OverwriteAndRemove(t *testing.T) {
	d := NewDisk("", 10)
	if err := d.Write("a", make([]byte, 8)); err != nil {
		t.Fatal(err)
	}
	// replacing frees the old value first
	if err := d.Write("a", make([]byte, 10)); err != nil {
		t.Fatalf("overwrite within quota failed: %v", err)
	}
	if err := d.Write("b", []byte{1}); !errors.Is(err, ErrQuotaExceeded) {
		t.Errorf("expected quota error, got %v", err)
	}
	if err := d.Remove("a"); err != nil {
		t.Fatal(err)
	}
	if err := d.Remove("a"); err != nil {
		t.Errorf("removing an absent key: %v", err)
	}
	if d.Used() != 0 {
		t.Errorf("Used() = %d after remove", d.Used())
	}
	if _, err := d.Read("a"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Read after remove: %v", err)
	}
}

func TestDisk_DeepCopy(t *testing.T) {
	d := NewDisk("", 0)
	data := []byte{1, 2, 3}
	if err := d.Write("k", data); err != nil {
		t.Fatal(err)
	}
	data[0] = 9
	got, _ := d.Read("k")
	if got[0] != 1 {
		t.Error("Write kept a reference to the caller's slice")
	}
	got[1] = 9
	again, _ := d.Read("k")
	if again[1] != 2 {
		t.Error("Read returned the stored slice")
	}
}

func TestDisk_Persistence(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	d, err := OpenDisk(dir, 0)
	if err != nil {
		t.Fatal(err)
	}
	if err := d.Save(ctx, "s1/code", []byte("x = 1;")); err != nil {
		t.Fatal(err)
	}
	if err := d.Save(ctx, "s1/tokens", []byte("[]")); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(dir, "s1", "code")); err != nil {
		t.Fatalf("file not written through: %v", err)
	}
	if err := d.Delete(ctx, "s1/tokens"); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(dir, "s1", "tokens")); !os.IsNotExist(err) {
		t.Errorf("deleted key still on disk: %v", err)
	}

	// files with names that are not keys are ignored
	if err := os.WriteFile(filepath.Join(dir, "bad name"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	reopened, err := OpenDisk(dir, 0)
	if err != nil {
		t.Fatal(err)
	}
	if got := reopened.List(); !reflect.DeepEqual(got, []string{"s1/code"}) {
		t.Errorf("List() = %v", got)
	}
	v, err := reopened.Load(ctx, "s1/code")
	if err != nil || string(v) != "x = 1;" {
		t.Errorf("Load = %q, %v", v, err)
	}
	if reopened.Used() != len("x = 1;") {
		t.Errorf("Used() = %d", reopened.Used())
	}
}

func TestDisk_MissingDirectory(t *testing.T) {
	d, err := OpenDisk(filepath.Join(t.TempDir(), "absent"), 0)
	if err != nil {
		t.Fatalf("OpenDisk on a missing directory: %v", err)
	}
	if len(d.List()) != 0 {
		t.Errorf("expected an empty disk")
	}
}

func TestPrefixed(t *testing.T) {
	ctx := context.Background()
	d := NewDisk("", 0)
	a := Prefixed{B: d, Prefix: "alpha"}
	b := Prefixed{B: d, Prefix: "beta"}

	if err := a.Save(ctx, "code", []byte("a")); err != nil {
		t.Fatal(err)
	}
	if err := b.Save(ctx, "code", []byte("b")); err != nil {
		t.Fatal(err)
	}
	if got := d.List(); !reflect.DeepEqual(got, []string{"alpha/code", "beta/code"}) {
		t.Errorf("keys = %v", got)
	}
	v, _ := a.Load(ctx, "code")
	if string(v) != "a" {
		t.Errorf("alpha/code = %q", v)
	}
	if err := b.Delete(ctx, "code"); err != nil {
		t.Fatal(err)
	}
	if _, err := b.Load(ctx, "code"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Load after delete: %v", err)
	}
	if err := (Prefixed{B: d, Prefix: "../x"}).Save(ctx, "code", nil); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("bad prefix accepted: %v", err)
	}
}
