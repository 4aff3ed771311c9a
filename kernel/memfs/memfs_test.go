package memfs

import (
	"reflect"
	"testing"

	"minos/kernel"
)

func testFS(t *testing.T) *FileSystem {
	t.Helper()

	var fs FileSystem
	fs.Init()
	return &fs
}

func TestCreateAndListDir(t *testing.T) {
	fs := testFS(t)

	for _, path := range []string{"/usr/share", "/etc", "/bin"} {
		if err := fs.CreateDir(path); err != nil {
			t.Fatalf("CreateDir(%q): %v", path, err)
		}
	}
	if err := fs.CreateFile("/readme"); err != nil {
		t.Fatal(err)
	}

	entries, err := fs.ListDir()
	if err != nil {
		t.Fatal(err)
	}

	exp := []DirEntry{
		{Name: "bin", IsDir: true},
		{Name: "etc", IsDir: true},
		{Name: "readme", IsDir: false},
		{Name: "usr", IsDir: true},
	}
	if !reflect.DeepEqual(entries, exp) {
		t.Fatalf("expected sorted listing %v; got %v", exp, entries)
	}
}

func TestCreateDirIsIdempotent(t *testing.T) {
	fs := testFS(t)

	if err := fs.CreateDir("/a/b"); err != nil {
		t.Fatal(err)
	}
	if err := fs.WriteFile("/a/b/keep", []byte("x"), false); err != nil {
		t.Fatal(err)
	}
	if err := fs.CreateDir("/a/b"); err != nil {
		t.Fatal(err)
	}

	// Recreating an existing directory must not discard its contents.
	if _, err := fs.ReadFile("/a/b/keep"); err != nil {
		t.Fatalf("expected /a/b/keep to survive CreateDir; got %v", err)
	}
}

func TestWriteAndReadFile(t *testing.T) {
	fs := testFS(t)

	if err := fs.WriteFile("/notes/todo", []byte("first"), false); err != nil {
		t.Fatal(err)
	}
	if err := fs.WriteFile("/notes/todo", []byte(" second"), true); err != nil {
		t.Fatal(err)
	}

	content, err := fs.ReadFile("/notes/todo")
	if err != nil {
		t.Fatal(err)
	}
	if exp := "first second"; string(content) != exp {
		t.Fatalf("expected content %q; got %q", exp, content)
	}

	// Overwrite replaces the content.
	if err = fs.WriteFile("/notes/todo", []byte("fresh"), false); err != nil {
		t.Fatal(err)
	}
	if content, _ = fs.ReadFile("/notes/todo"); string(content) != "fresh" {
		t.Fatalf("expected content %q; got %q", "fresh", content)
	}

	// Mutating the returned slice must not affect the stored content.
	content[0] = '!'
	if content, _ = fs.ReadFile("/notes/todo"); string(content) != "fresh" {
		t.Fatalf("expected ReadFile to return a copy; got %q", content)
	}
}

func TestCreateFileTruncates(t *testing.T) {
	fs := testFS(t)

	if err := fs.WriteFile("/f", []byte("data"), false); err != nil {
		t.Fatal(err)
	}
	if err := fs.CreateFile("/f"); err != nil {
		t.Fatal(err)
	}

	content, err := fs.ReadFile("/f")
	if err != nil {
		t.Fatal(err)
	}
	if len(content) != 0 {
		t.Fatalf("expected CreateFile to truncate; got %q", content)
	}
}

func TestChangeDir(t *testing.T) {
	fs := testFS(t)

	if err := fs.CreateDir("/usr/share/doc"); err != nil {
		t.Fatal(err)
	}

	specs := []struct {
		path    string
		expErr  *kernel.Error
		expPath string
	}{
		{"/usr", nil, "/usr"},
		{"share", nil, "/usr/share"},
		{"doc", nil, "/usr/share/doc"},
		{"..", nil, "/usr/share"},
		{"/", nil, "/"},
		{"..", ErrAtRoot, "/"},
		{"/missing", ErrNotFound, "/"},
	}

	for specIndex, spec := range specs {
		err := fs.ChangeDir(spec.path)
		if err != spec.expErr {
			t.Fatalf("[spec %d] expected ChangeDir(%q) to return %v; got %v", specIndex, spec.path, spec.expErr, err)
		}
		if got := fs.CurrentPath(); got != spec.expPath {
			t.Fatalf("[spec %d] expected working directory %q; got %q", specIndex, spec.expPath, got)
		}
	}
}

func TestRelativePathsResolveAgainstWorkingDir(t *testing.T) {
	fs := testFS(t)

	if err := fs.CreateDir("/home"); err != nil {
		t.Fatal(err)
	}
	if err := fs.ChangeDir("/home"); err != nil {
		t.Fatal(err)
	}
	if err := fs.WriteFile("notes", []byte("hi"), false); err != nil {
		t.Fatal(err)
	}

	content, err := fs.ReadFile("/home/notes")
	if err != nil {
		t.Fatal(err)
	}
	if string(content) != "hi" {
		t.Fatalf("expected content %q; got %q", "hi", content)
	}

	entries, err := fs.ListDir()
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name != "notes" {
		t.Fatalf("unexpected listing: %v", entries)
	}
}

func TestParentComponentsInPaths(t *testing.T) {
	fs := testFS(t)

	if err := fs.CreateDir("/a/b"); err != nil {
		t.Fatal(err)
	}
	if err := fs.WriteFile("/a/b/../note", []byte("up one"), false); err != nil {
		t.Fatal(err)
	}

	// The ".." collapsed during resolution, so the file lives under /a.
	content, err := fs.ReadFile("/a/note")
	if err != nil {
		t.Fatal(err)
	}
	if string(content) != "up one" {
		t.Fatalf("expected content %q; got %q", "up one", content)
	}

	if err = fs.ChangeDir("/a/b"); err != nil {
		t.Fatal(err)
	}
	if content, err = fs.ReadFile("../note"); err != nil {
		t.Fatal(err)
	}
	if string(content) != "up one" {
		t.Fatalf("expected content %q; got %q", "up one", content)
	}

	if err = fs.ChangeDir("../../a/b/.."); err != nil {
		t.Fatal(err)
	}
	if got := fs.CurrentPath(); got != "/a" {
		t.Fatalf("expected working directory /a; got %q", got)
	}

	// Walking past the root stays at the root.
	if err = fs.ChangeDir("/../../a"); err != nil {
		t.Fatal(err)
	}
	if got := fs.CurrentPath(); got != "/a" {
		t.Fatalf("expected working directory /a; got %q", got)
	}
}

func TestTypeMismatchErrors(t *testing.T) {
	fs := testFS(t)

	if err := fs.CreateDir("/dir"); err != nil {
		t.Fatal(err)
	}
	if err := fs.WriteFile("/file", []byte("x"), false); err != nil {
		t.Fatal(err)
	}

	if _, err := fs.ReadFile("/dir"); err != ErrNotAFile {
		t.Fatalf("expected ErrNotAFile reading a directory; got %v", err)
	}
	if err := fs.WriteFile("/dir", nil, false); err != ErrNotAFile {
		t.Fatalf("expected ErrNotAFile writing a directory; got %v", err)
	}
	if err := fs.ChangeDir("/file"); err != ErrNotADirectory {
		t.Fatalf("expected ErrNotADirectory entering a file; got %v", err)
	}
	if err := fs.CreateDir("/file/sub"); err != ErrNotADirectory {
		t.Fatalf("expected ErrNotADirectory creating under a file; got %v", err)
	}
	if err := fs.WriteFile("/file/sub", nil, false); err != ErrNotADirectory {
		t.Fatalf("expected ErrNotADirectory writing under a file; got %v", err)
	}
	if _, err := fs.ReadFile("/missing"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound; got %v", err)
	}
	if err := fs.WriteFile("/", nil, false); err != ErrNotAFile {
		t.Fatalf("expected ErrNotAFile writing the root; got %v", err)
	}
}

func TestOperationsWithoutInit(t *testing.T) {
	var fs FileSystem

	if _, err := fs.ListDir(); err != errNotInitialized {
		t.Fatalf("expected errNotInitialized; got %v", err)
	}
	if err := fs.CreateDir("/x"); err != errNotInitialized {
		t.Fatalf("expected errNotInitialized; got %v", err)
	}
	if err := fs.WriteFile("/x", nil, false); err != errNotInitialized {
		t.Fatalf("expected errNotInitialized; got %v", err)
	}
	if _, err := fs.ReadFile("/x"); err != errNotInitialized {
		t.Fatalf("expected errNotInitialized; got %v", err)
	}
	if err := fs.ChangeDir("/x"); err != errNotInitialized {
		t.Fatalf("expected errNotInitialized; got %v", err)
	}
}
