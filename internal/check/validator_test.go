package check

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhangyi089/overlayfs-progs/internal/layer"
	"github.com/zhangyi089/overlayfs-progs/internal/walk"
)

// twoLayers builds an empty upper/lower pair of in-memory layers.
func twoLayers() (*layer.Layer, *layer.MemFS, *layer.Layer, *layer.MemFS) {
	ufs := layer.NewMemFS()
	lfs := layer.NewMemFS()
	upper := &layer.Layer{Root: "/upper", FS: ufs, Index: 0}
	lower := &layer.Layer{Root: "/lower", FS: lfs, Index: 1}
	return upper, ufs, lower, lfs
}

// scan walks the stack and runs the full validation pass.
func scan(t *testing.T, layers ...*layer.Layer) *Validator {
	t.Helper()
	set := layer.NewSet(layers...)
	index := walk.NewIndex(set)
	v := NewValidator(set, index)
	walk.New(set, index, v).Walk()
	v.Finish()
	return v
}

// rules extracts the rule of every finding, in order.
func rules(v *Validator) []Rule {
	out := make([]Rule, 0, len(v.Findings()))
	for _, f := range v.Findings() {
		out = append(out, f.Rule)
	}
	return out
}

func TestValidator_CleanTree(t *testing.T) {
	upper, ufs, lower, lfs := twoLayers()
	require.NoError(t, ufs.WriteFile("f", []byte("new")))
	require.NoError(t, lfs.WriteFile("f", []byte("old")))
	require.NoError(t, lfs.MkdirAll("only-below", 0755))

	v := scan(t, upper, lower)

	assert.Empty(t, v.Findings())
	assert.Empty(t, v.Errors())
}

func TestValidator_OrphanWhiteout(t *testing.T) {
	upper, ufs, lower, lfs := twoLayers()
	require.NoError(t, ufs.Whiteout("orphan"))
	require.NoError(t, ufs.Whiteout("covered"))
	require.NoError(t, lfs.WriteFile("covered", nil))

	v := scan(t, upper, lower)

	require.Len(t, v.Findings(), 1)
	f := v.Findings()[0]
	assert.Equal(t, RuleOrphanWhiteout, f.Rule)
	assert.Equal(t, "orphan", f.Path)
	assert.Equal(t, 0, f.Layer)
}

func TestValidator_BottomLayerWhiteoutsAreOrphans(t *testing.T) {
	bottom := layer.NewMemFS()
	require.NoError(t, bottom.Whiteout("wh"))
	l := &layer.Layer{Root: "/bottom", FS: bottom, Index: 2}

	v := scan(t, l)

	require.Len(t, v.Findings(), 1)
	assert.Equal(t, RuleOrphanWhiteout, v.Findings()[0].Rule)
	assert.Equal(t, 2, v.Findings()[0].Layer)
}

func TestValidator_InvalidRedirect(t *testing.T) {
	upper, ufs, lower, _ := twoLayers()
	require.NoError(t, ufs.MkdirAll("a", 0755))
	require.NoError(t, ufs.Setxattr("a", layer.RedirectXattr, []byte("/missing")))
	require.NoError(t, layer.SetBoolMarker(ufs, ".", layer.ImpureXattr))

	v := scan(t, upper, lower)

	require.Len(t, v.Findings(), 1)
	f := v.Findings()[0]
	assert.Equal(t, RuleInvalidRedirect, f.Rule)
	assert.Equal(t, "a", f.Path)
	assert.Equal(t, "missing", f.Origin)
}

// Upper directory "a" redirected to "/b"; lower directory "b" with nothing
// covering it above.
func TestValidator_MissingWhiteoutAtOrigin(t *testing.T) {
	upper, ufs, lower, lfs := twoLayers()
	require.NoError(t, ufs.MkdirAll("a", 0755))
	require.NoError(t, ufs.Setxattr("a", layer.RedirectXattr, []byte("/b")))
	require.NoError(t, layer.SetBoolMarker(ufs, ".", layer.ImpureXattr))
	require.NoError(t, lfs.MkdirAll("b", 0755))

	v := scan(t, upper, lower)

	require.Len(t, v.Findings(), 1)
	f := v.Findings()[0]
	assert.Equal(t, RuleMissingWhiteout, f.Rule)
	assert.Equal(t, "a", f.Path)
	assert.Equal(t, "b", f.Origin)
}

func TestValidator_UniqueCoveredRedirectIsClean(t *testing.T) {
	upper, ufs, lower, lfs := twoLayers()
	require.NoError(t, ufs.MkdirAll("a", 0755))
	require.NoError(t, ufs.Setxattr("a", layer.RedirectXattr, []byte("/b")))
	require.NoError(t, layer.SetBoolMarker(ufs, ".", layer.ImpureXattr))
	require.NoError(t, lfs.MkdirAll("b", 0755))
	require.NoError(t, ufs.Whiteout("b"))

	v := scan(t, upper, lower)

	assert.Empty(t, v.Findings())
}

func TestValidator_RedirectMergeConflict(t *testing.T) {
	upper, ufs, lower, lfs := twoLayers()
	require.NoError(t, ufs.MkdirAll("a", 0755))
	require.NoError(t, ufs.Setxattr("a", layer.RedirectXattr, []byte("/b")))
	require.NoError(t, layer.SetBoolMarker(ufs, ".", layer.ImpureXattr))
	require.NoError(t, lfs.MkdirAll("b", 0755))
	require.NoError(t, ufs.MkdirAll("b", 0755))

	v := scan(t, upper, lower)

	require.Len(t, v.Findings(), 1)
	f := v.Findings()[0]
	assert.Equal(t, RuleRedirectMergeConflict, f.Rule)
	assert.Equal(t, "a", f.Path)
	assert.Equal(t, "b", f.CoverPath)
}

func TestValidator_DuplicateRedirect(t *testing.T) {
	upper, ufs, lower, lfs := twoLayers()
	require.NoError(t, ufs.MkdirAll("a1", 0755))
	require.NoError(t, ufs.MkdirAll("a2", 0755))
	require.NoError(t, ufs.Setxattr("a1", layer.RedirectXattr, []byte("/b")))
	require.NoError(t, ufs.Setxattr("a2", layer.RedirectXattr, []byte("/b")))
	require.NoError(t, layer.SetBoolMarker(ufs, ".", layer.ImpureXattr))
	require.NoError(t, lfs.MkdirAll("b", 0755))
	require.NoError(t, ufs.Whiteout("b"))

	v := scan(t, upper, lower)

	require.Len(t, v.Findings(), 1)
	f := v.Findings()[0]
	assert.Equal(t, RuleDuplicateRedirect, f.Rule)
	assert.Equal(t, "b", f.Path)
	assert.Equal(t, []string{"a1", "a2"}, f.Claimants)
}

// A whiteout inside a redirected directory covers entries of the redirect's
// origin tree, not of the directory's own name. It must not be treated as an
// orphan.
func TestValidator_WhiteoutInRedirectDirCoversOriginEntry(t *testing.T) {
	upper, ufs, lower, lfs := twoLayers()
	require.NoError(t, ufs.MkdirAll("a", 0755))
	require.NoError(t, ufs.Setxattr("a", layer.RedirectXattr, []byte("/b")))
	require.NoError(t, ufs.Whiteout("a/f"))
	require.NoError(t, ufs.Whiteout("b"))
	require.NoError(t, layer.SetBoolMarker(ufs, ".", layer.ImpureXattr))
	require.NoError(t, lfs.MkdirAll("b", 0755))
	require.NoError(t, lfs.WriteFile("b/f", nil))

	v := scan(t, upper, lower)

	assert.Empty(t, v.Findings())
}

func TestValidator_WhiteoutInRedirectDirWithNoOriginEntryIsOrphan(t *testing.T) {
	upper, ufs, lower, lfs := twoLayers()
	require.NoError(t, ufs.MkdirAll("a", 0755))
	require.NoError(t, ufs.Setxattr("a", layer.RedirectXattr, []byte("/b")))
	require.NoError(t, ufs.Whiteout("a/g"))
	require.NoError(t, ufs.Whiteout("b"))
	require.NoError(t, layer.SetBoolMarker(ufs, ".", layer.ImpureXattr))
	require.NoError(t, lfs.MkdirAll("b", 0755))

	v := scan(t, upper, lower)

	require.Len(t, v.Findings(), 1)
	f := v.Findings()[0]
	assert.Equal(t, RuleOrphanWhiteout, f.Rule)
	assert.Equal(t, "a/g", f.Path)
}

func TestValidator_ImpureMarker(t *testing.T) {
	tests := []struct {
		name  string
		setup func(ufs, lfs *layer.MemFS)
		want  []Rule
	}{
		{
			name: "missing on dir with merge child",
			setup: func(ufs, lfs *layer.MemFS) {
				require.NoError(t, ufs.MkdirAll("d/m", 0755))
				require.NoError(t, layer.SetBoolMarker(ufs, ".", layer.ImpureXattr))
				require.NoError(t, lfs.MkdirAll("d/m", 0755))
			},
			want: []Rule{RuleMissingImpure},
		},
		{
			name: "missing on dir with origin-tracked child",
			setup: func(ufs, lfs *layer.MemFS) {
				require.NoError(t, ufs.MkdirAll("d", 0755))
				require.NoError(t, ufs.WriteFile("d/f", nil))
				require.NoError(t, ufs.Setxattr("d/f", layer.OriginXattr, []byte{1}))
			},
			want: []Rule{RuleMissingImpure},
		},
		{
			name: "present and justified",
			setup: func(ufs, lfs *layer.MemFS) {
				require.NoError(t, ufs.MkdirAll("d/m", 0755))
				require.NoError(t, layer.SetBoolMarker(ufs, ".", layer.ImpureXattr))
				require.NoError(t, layer.SetBoolMarker(ufs, "d", layer.ImpureXattr))
				require.NoError(t, lfs.MkdirAll("d/m", 0755))
			},
			want: nil,
		},
		{
			name: "stale on dir with plain children",
			setup: func(ufs, lfs *layer.MemFS) {
				require.NoError(t, ufs.MkdirAll("d", 0755))
				require.NoError(t, ufs.WriteFile("d/f", nil))
				require.NoError(t, layer.SetBoolMarker(ufs, "d", layer.ImpureXattr))
			},
			want: []Rule{RuleStaleImpure},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			upper, ufs, lower, lfs := twoLayers()
			tt.setup(ufs, lfs)

			v := scan(t, upper, lower)

			var got []Rule
			for _, f := range v.Findings() {
				got = append(got, f.Rule)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestValidator_OperationalErrorDoesNotStopScan(t *testing.T) {
	upper, ufs, lower, _ := twoLayers()
	require.NoError(t, ufs.MkdirAll("bad", 0755))
	require.NoError(t, ufs.Whiteout("orphan"))
	ufs.FailWith("readdir", "bad", assert.AnError)

	v := scan(t, upper, lower)

	assert.Equal(t, []Rule{RuleOrphanWhiteout}, rules(v))
	require.Len(t, v.Errors(), 1)
	assert.Equal(t, "bad", v.Errors()[0].Path)
}
