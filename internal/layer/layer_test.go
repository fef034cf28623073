package layer

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestMemFS_XattrRoundTrip(t *testing.T) {
	fs := NewMemFS()
	if err := fs.MkdirAll("a", 0755); err != nil {
		t.Fatalf("MkdirAll failed: %v", err)
	}

	if _, err := fs.Getxattr("a", RedirectXattr); !errors.Is(err, ErrXattrNotFound) {
		t.Fatalf("Getxattr on unset attr = %v, want ErrXattrNotFound", err)
	}

	if err := fs.Setxattr("a", RedirectXattr, []byte("/b")); err != nil {
		t.Fatalf("Setxattr failed: %v", err)
	}
	v, err := fs.Getxattr("a", RedirectXattr)
	if err != nil {
		t.Fatalf("Getxattr failed: %v", err)
	}
	if string(v) != "/b" {
		t.Errorf("Getxattr = %q, want %q", v, "/b")
	}

	if err := fs.Removexattr("a", RedirectXattr); err != nil {
		t.Fatalf("Removexattr failed: %v", err)
	}
	if _, err := fs.Getxattr("a", RedirectXattr); !errors.Is(err, ErrXattrNotFound) {
		t.Errorf("Getxattr after remove = %v, want ErrXattrNotFound", err)
	}
}

func TestMemFS_XattrOnMissingEntry(t *testing.T) {
	fs := NewMemFS()
	if err := fs.Setxattr("missing", OpaqueXattr, []byte("y")); err == nil {
		t.Error("Setxattr on missing entry should fail")
	}
	if _, err := fs.Getxattr("missing", OpaqueXattr); err == nil {
		t.Error("Getxattr on missing entry should fail")
	}
}

func TestMemFS_Whiteout(t *testing.T) {
	fs := NewMemFS()
	if err := fs.Whiteout("gone"); err != nil {
		t.Fatalf("Whiteout failed: %v", err)
	}

	wh, err := fs.IsWhiteout("gone")
	if err != nil {
		t.Fatalf("IsWhiteout failed: %v", err)
	}
	if !wh {
		t.Error("expected whiteout node")
	}

	if err := fs.Remove("gone"); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	wh, err = fs.IsWhiteout("gone")
	if err != nil {
		t.Fatalf("IsWhiteout after remove failed: %v", err)
	}
	if wh {
		t.Error("whiteout state must not survive removal")
	}
}

func TestMemFS_FailureInjection(t *testing.T) {
	fs := NewMemFS()
	if err := fs.MkdirAll("d", 0755); err != nil {
		t.Fatalf("MkdirAll failed: %v", err)
	}
	boom := errors.New("boom")
	fs.FailWith("readdir", "d", boom)

	if _, err := fs.ReadDir("d"); !errors.Is(err, boom) {
		t.Errorf("ReadDir = %v, want injected error", err)
	}
	// Other paths are unaffected.
	if _, err := fs.ReadDir("."); err != nil {
		t.Errorf("ReadDir(.) = %v, want nil", err)
	}
}

func TestBoolMarker(t *testing.T) {
	fs := NewMemFS()
	if err := fs.MkdirAll("d", 0755); err != nil {
		t.Fatalf("MkdirAll failed: %v", err)
	}

	set, err := BoolMarker(fs, "d", ImpureXattr)
	if err != nil || set {
		t.Fatalf("BoolMarker unset = (%v, %v), want (false, nil)", set, err)
	}

	if err := SetBoolMarker(fs, "d", ImpureXattr); err != nil {
		t.Fatalf("SetBoolMarker failed: %v", err)
	}
	set, err = BoolMarker(fs, "d", ImpureXattr)
	if err != nil || !set {
		t.Fatalf("BoolMarker set = (%v, %v), want (true, nil)", set, err)
	}

	// Any value other than "y" counts as unset.
	if err := fs.Setxattr("d", OpaqueXattr, []byte("n")); err != nil {
		t.Fatalf("Setxattr failed: %v", err)
	}
	set, err = BoolMarker(fs, "d", OpaqueXattr)
	if err != nil || set {
		t.Fatalf("BoolMarker non-y value = (%v, %v), want (false, nil)", set, err)
	}
}

func TestSet_Stack(t *testing.T) {
	a := &Layer{Index: 0}
	b := &Layer{Index: 1}
	c := &Layer{Index: 2}
	s := NewSet(a, b, c)

	sub := s.Stack(1)
	if sub.Len() != 2 {
		t.Fatalf("Stack(1).Len() = %d, want 2", sub.Len())
	}
	if sub.Upper() != b {
		t.Error("Stack(1) upper should be the original lower-1")
	}
	if sub.Upper().Index != 1 {
		t.Error("layer indexes must keep their original values")
	}
	if len(sub.Lowers()) != 1 || sub.Lowers()[0] != c {
		t.Error("Stack(1) lowers should hold only the original lower-2")
	}
}

func TestOpen_Validation(t *testing.T) {
	upper := t.TempDir()
	lower := t.TempDir()
	nested := filepath.Join(upper, "nested")
	if err := os.MkdirAll(nested, 0755); err != nil {
		t.Fatalf("MkdirAll failed: %v", err)
	}
	file := filepath.Join(lower, "plain")
	if err := os.WriteFile(file, nil, 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	tests := []struct {
		name    string
		upper   string
		lowers  []string
		wantErr error
	}{
		{
			name:   "valid stack",
			upper:  upper,
			lowers: []string{lower},
		},
		{
			name:   "lower only",
			lowers: []string{lower},
		},
		{
			name:    "no layers",
			wantErr: ErrNoLayers,
		},
		{
			name:    "missing root",
			upper:   filepath.Join(upper, "does-not-exist"),
			lowers:  []string{lower},
			wantErr: os.ErrNotExist,
		},
		{
			name:    "root is a file",
			upper:   file,
			wantErr: ErrNotDirectory,
		},
		{
			name:    "nested roots",
			upper:   upper,
			lowers:  []string{nested},
			wantErr: ErrNestedLayers,
		},
		{
			name:    "duplicate roots",
			upper:   lower,
			lowers:  []string{lower},
			wantErr: ErrNestedLayers,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			set, err := Open(tt.upper, tt.lowers)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Open() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Open() failed: %v", err)
			}
			want := len(tt.lowers)
			if tt.upper != "" {
				want++
			}
			if set.Len() != want {
				t.Errorf("Open() opened %d layers, want %d", set.Len(), want)
			}
		})
	}
}
