package vfs

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	files []OutputFile
	ended int
	fail  error
}

func (s *recordingSink) Push(ctx context.Context, f OutputFile) error {
	if s.fail != nil {
		return s.fail
	}
	s.files = append(s.files, f)
	return nil
}

func (s *recordingSink) End() {
	s.ended++
}

func newTestTree(t *testing.T) *Dir {
	t.Helper()
	tree := NewDir()
	require.NoError(t, tree.Put("/test.txt", []byte("a")))
	require.NoError(t, tree.Put("/path/to/another/test.txt", []byte("b")))
	return tree
}

func collect(t *testing.T, w *Walker, tree *Dir) []OutputFile {
	t.Helper()
	files, err := w.Walk(tree)
	require.NoError(t, err)
	return slices.Collect(files)
}

func TestWalk_FromRoot(t *testing.T) {
	got := collect(t, NewWalker("/"), newTestTree(t))

	want := []OutputFile{
		{Path: "path/to/another/test.txt", Contents: []byte("b")},
		{Path: "test.txt", Contents: []byte("a")},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Walk() mismatch (-want +got):\n%s", diff)
	}
}

func TestWalk_FromSubdirectory(t *testing.T) {
	tests := []struct {
		name string
		root string
	}{
		{"leading and trailing slash", "/path/to/"},
		{"bare", "path/to"},
		{"doubled separators", "//path//to//"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := collect(t, NewWalker(tt.root), newTestTree(t))
			require.Len(t, got, 1)
			assert.Equal(t, "another/test.txt", got[0].Path)
			assert.Equal(t, []byte("b"), got[0].Contents)
		})
	}
}

func TestWalk_RoundTrip(t *testing.T) {
	tree := NewDir()
	require.NoError(t, tree.Put("a/b/c.txt", []byte("b")))

	got := collect(t, NewWalker(""), tree)
	require.Len(t, got, 1)
	assert.Equal(t, OutputFile{Path: "a/b/c.txt", Contents: []byte("b")}, got[0])

	got = collect(t, NewWalker("a/b/"), tree)
	require.Len(t, got, 1)
	assert.Equal(t, OutputFile{Path: "c.txt", Contents: []byte("b")}, got[0])
}

func TestWalk_PathNotFound(t *testing.T) {
	tree := newTestTree(t)

	for _, root := range []string{"/missing", "/path/nope/", "/test.txt"} {
		t.Run(root, func(t *testing.T) {
			_, err := NewWalker(root).Walk(tree)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrPathNotFound))

			var pathErr *PathError
			require.True(t, errors.As(err, &pathErr))
			assert.Equal(t, "lookup", pathErr.Op)
		})
	}
}

func TestWalk_Idempotent(t *testing.T) {
	tree := newTestTree(t)
	require.NoError(t, tree.Put("z/1.js", []byte("1")))
	require.NoError(t, tree.Put("b.js", []byte("2")))

	w := NewWalker("")
	first := collect(t, w, tree)
	second := collect(t, w, tree)

	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("second walk differs (-first +second):\n%s", diff)
	}
}

func TestWalk_LexicographicOrder(t *testing.T) {
	tree := NewDir()
	for _, p := range []string{"c.js", "a/z.js", "b.js", "a/a.js", "A.js"} {
		require.NoError(t, tree.Put(p, []byte(p)))
	}

	var paths []string
	for _, f := range collect(t, NewWalker(""), tree) {
		paths = append(paths, f.Path)
	}
	assert.Equal(t, []string{"A.js", "a/a.js", "a/z.js", "b.js", "c.js"}, paths)
}

func TestWalk_StopsEarly(t *testing.T) {
	tree := NewDir()
	for _, p := range []string{"1", "2", "3"} {
		require.NoError(t, tree.Put("d/"+p, nil))
	}

	files, err := NewWalker("").Walk(tree)
	require.NoError(t, err)

	var seen []string
	for f := range files {
		seen = append(seen, f.Path)
		if len(seen) == 2 {
			break
		}
	}
	assert.Equal(t, []string{"d/1", "d/2"}, seen)
}

func TestPump_Close(t *testing.T) {
	sink := &recordingSink{}
	require.NoError(t, NewWalker("/").Pump(context.Background(), newTestTree(t), sink))

	assert.Len(t, sink.files, 2)
	assert.Equal(t, 1, sink.ended)
}

func TestPump_KeepOpen(t *testing.T) {
	sink := &recordingSink{}
	w := NewWalker("/", KeepOpen())
	assert.False(t, w.Closes())

	require.NoError(t, w.Pump(context.Background(), newTestTree(t), sink))
	require.NoError(t, w.Pump(context.Background(), newTestTree(t), sink))

	assert.Len(t, sink.files, 4)
	assert.Equal(t, 0, sink.ended)
}

func TestPump_PushError(t *testing.T) {
	boom := errors.New("consumer gone")
	sink := &recordingSink{fail: boom}

	err := NewWalker("").Pump(context.Background(), newTestTree(t), sink)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, sink.ended)
}

func TestPump_EmptyTree(t *testing.T) {
	sink := &recordingSink{}
	require.NoError(t, NewWalker("").Pump(context.Background(), NewDir(), sink))
	assert.Empty(t, sink.files)
	assert.Equal(t, 1, sink.ended)
}

func TestDir_Put(t *testing.T) {
	tree := NewDir()
	require.NoError(t, tree.Put("a/b.txt", []byte("x")))

	t.Run("overwrite file", func(t *testing.T) {
		require.NoError(t, tree.Put("a/b.txt", []byte("y")))
		n, err := tree.Lookup("a/b.txt")
		require.NoError(t, err)
		assert.Equal(t, []byte("y"), n.(*File).Data)
	})

	t.Run("file over directory", func(t *testing.T) {
		err := tree.Put("a", []byte("x"))
		assert.ErrorIs(t, err, ErrIsDir)
	})

	t.Run("directory through file", func(t *testing.T) {
		err := tree.Put("a/b.txt/c", []byte("x"))
		assert.ErrorIs(t, err, ErrNotDir)
	})

	t.Run("empty path", func(t *testing.T) {
		err := tree.Put("/", []byte("x"))
		assert.ErrorIs(t, err, ErrInvalidPath)
	})
}

func TestLoad(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/project/dist/app.js", []byte("app"), 0600))
	require.NoError(t, afero.WriteFile(fs, "/project/dist/vendor/lib.js", []byte("lib"), 0600))
	require.NoError(t, fs.MkdirAll("/project/empty", 0750))

	tree, err := Load(fs, "/")
	require.NoError(t, err)

	got := collect(t, NewWalker("/project"), tree)
	want := []OutputFile{
		{Path: "dist/app.js", Contents: []byte("app")},
		{Path: "dist/vendor/lib.js", Contents: []byte("lib")},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Load() mismatch (-want +got):\n%s", diff)
	}

	empty, err := tree.LookupDir("project/empty")
	require.NoError(t, err)
	assert.Equal(t, 0, empty.Len())
}

func TestLoad_SubRoot(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/out/a.js", []byte("a"), 0600))

	tree, err := Load(fs, "/out")
	require.NoError(t, err)
	assert.Equal(t, []string{"a.js"}, tree.Names())
}

func TestLoad_MissingRoot(t *testing.T) {
	tree, err := Load(afero.NewMemMapFs(), "/nothing")
	require.NoError(t, err)
	assert.Equal(t, 0, tree.Len())
}
