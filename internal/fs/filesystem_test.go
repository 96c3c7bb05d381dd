package fs

import (
	"testing"

	"github.com/nsimlab/nsim/internal/disk"
)

func newFormatted(t *testing.T, sectors int) *FileSystem {
	t.Helper()
	d := disk.New(sectors)
	fsys, err := Format(d, nil)
	if err != nil {
		t.Fatalf("Format: %v", err)
	}
	return fsys
}

func TestCreateThenOpen(t *testing.T) {
	fsys := newFormatted(t, 256)
	if err := fsys.Create("hello.txt", 40); err != nil {
		t.Fatalf("Create: %v", err)
	}
	of, err := fsys.Open("hello.txt")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if of == nil {
		t.Fatal("Open returned nil for an existing file")
	}
	if of.Header.FileLength() != 40 {
		t.Fatalf("FileLength = %d, want 40", of.Header.FileLength())
	}
}

func TestOpenMissingReturnsNil(t *testing.T) {
	fsys := newFormatted(t, 256)
	of, err := fsys.Open("nope.txt")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if of != nil {
		t.Fatal("Open returned non-nil for a missing file")
	}
}

func TestCreateDuplicateFails(t *testing.T) {
	fsys := newFormatted(t, 256)
	if err := fsys.Create("a.txt", 10); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := fsys.Create("a.txt", 10); err == nil {
		t.Fatal("expected an error creating a duplicate name")
	}
}

func TestCreateDirAndNestedCreate(t *testing.T) {
	fsys := newFormatted(t, 256)
	if err := fsys.CreateDir("sub"); err != nil {
		t.Fatalf("CreateDir: %v", err)
	}
	if err := fsys.Create("sub/f.txt", 20); err != nil {
		t.Fatalf("Create nested: %v", err)
	}
	of, err := fsys.Open("sub/f.txt")
	if err != nil {
		t.Fatalf("Open nested: %v", err)
	}
	if of == nil {
		t.Fatal("nested file not found after create")
	}
}

func TestCreateFailsOnMissingParent(t *testing.T) {
	fsys := newFormatted(t, 256)
	if err := fsys.Create("nodir/f.txt", 20); err == nil {
		t.Fatal("expected an error creating under a nonexistent directory")
	}
}

func TestCreateFailsIfParentIsFile(t *testing.T) {
	fsys := newFormatted(t, 256)
	if err := fsys.Create("f.txt", 10); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := fsys.Create("f.txt/g.txt", 10); err == nil {
		t.Fatal("expected an error treating a file as a directory component")
	}
}

func TestRemoveFile(t *testing.T) {
	fsys := newFormatted(t, 256)
	if err := fsys.Create("a.txt", 10); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := fsys.Remove("a.txt"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	of, err := fsys.Open("a.txt")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if of != nil {
		t.Fatal("file still present after Remove")
	}
}

func TestRemoveNonexistentFails(t *testing.T) {
	fsys := newFormatted(t, 256)
	if err := fsys.Remove("nope.txt"); err == nil {
		t.Fatal("expected an error removing a nonexistent file")
	}
}

func TestRemoveNonEmptyDirectoryFails(t *testing.T) {
	fsys := newFormatted(t, 256)
	if err := fsys.CreateDir("sub"); err != nil {
		t.Fatalf("CreateDir: %v", err)
	}
	if err := fsys.Create("sub/f.txt", 10); err != nil {
		t.Fatalf("Create nested: %v", err)
	}
	if err := fsys.Remove("sub"); err == nil {
		t.Fatal("expected an error removing a non-empty directory")
	}
}

func TestRemoveEmptyDirectorySucceeds(t *testing.T) {
	fsys := newFormatted(t, 256)
	if err := fsys.CreateDir("sub"); err != nil {
		t.Fatalf("CreateDir: %v", err)
	}
	if err := fsys.Remove("sub"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
}

func TestListRecursive(t *testing.T) {
	fsys := newFormatted(t, 512)
	if err := fsys.CreateDir("sub"); err != nil {
		t.Fatalf("CreateDir: %v", err)
	}
	if err := fsys.Create("top.txt", 5); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := fsys.Create("sub/nested.txt", 5); err != nil {
		t.Fatalf("Create nested: %v", err)
	}

	entries, err := fsys.List("", true)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	names := map[string]bool{}
	for _, e := range entries {
		names[e.Name] = true
	}
	for _, want := range []string{"top.txt", "sub", "sub/nested.txt"} {
		if !names[want] {
			t.Fatalf("recursive listing missing %q: got %v", want, names)
		}
	}
}

func TestComputeUsageAggregatesBottomUp(t *testing.T) {
	fsys := newFormatted(t, 512)
	if err := fsys.CreateDir("sub"); err != nil {
		t.Fatalf("CreateDir: %v", err)
	}
	if err := fsys.Create("top.txt", 100); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := fsys.Create("sub/a.txt", 40); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := fsys.Create("sub/b.txt", 60); err != nil {
		t.Fatalf("Create: %v", err)
	}

	usages, err := fsys.ComputeUsage("")
	if err != nil {
		t.Fatalf("ComputeUsage: %v", err)
	}
	byPath := map[string]Usage{}
	for _, u := range usages {
		byPath[u.Path] = u
	}
	sub, ok := byPath["/sub"]
	if !ok {
		t.Fatal("missing usage record for /sub")
	}
	if sub.Bytes != 100 {
		t.Fatalf("sub.Bytes = %d, want 100", sub.Bytes)
	}
	root, ok := byPath["/"]
	if !ok {
		t.Fatal("missing usage record for /")
	}
	if root.Bytes != 200 {
		t.Fatalf("root.Bytes = %d, want 200", root.Bytes)
	}
}

func TestFormatThenReopenPreservesState(t *testing.T) {
	d := disk.New(256)
	fsys, err := Format(d, nil)
	if err != nil {
		t.Fatalf("Format: %v", err)
	}
	if err := fsys.Create("a.txt", 10); err != nil {
		t.Fatalf("Create: %v", err)
	}

	reopened, err := OpenFileSystem(d)
	if err != nil {
		t.Fatalf("OpenFileSystem: %v", err)
	}
	of, err := reopened.Open("a.txt")
	if err != nil {
		t.Fatalf("Open after reopen: %v", err)
	}
	if of == nil {
		t.Fatal("file not visible after reopening the filesystem")
	}
}
