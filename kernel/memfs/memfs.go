// Package memfs implements a hierarchical in-memory filesystem used as the
// backing store for the kernel shell.
package memfs

import (
	"sort"
	"strings"

	"minos/kernel"
)

var (
	// ErrNotFound is returned when a path does not resolve to a node.
	ErrNotFound = &kernel.Error{Module: "memfs", Message: "path not found"}

	// ErrNotADirectory is returned when a path component resolves to a
	// file where a directory is required.
	ErrNotADirectory = &kernel.Error{Module: "memfs", Message: "not a directory"}

	// ErrNotAFile is returned when a file operation targets a directory.
	ErrNotAFile = &kernel.Error{Module: "memfs", Message: "not a file"}

	// ErrAtRoot is returned when changing to the parent of the root
	// directory.
	ErrAtRoot = &kernel.Error{Module: "memfs", Message: "already at root directory"}

	errNotInitialized = &kernel.Error{Module: "memfs", Message: "filesystem not initialized"}
)

// node is a file or directory in the tree. Directories keep their children
// keyed by name; files keep their content.
type node struct {
	isDir   bool
	content []byte
	entries map[string]*node
}

func newDirNode() *node {
	return &node{isDir: true, entries: make(map[string]*node)}
}

// DirEntry describes one entry of a directory listing.
type DirEntry struct {
	Name  string
	IsDir bool
}

// FileSystem is a tree of directories and files kept entirely in memory
// together with a current working directory. The zero value is not usable
// before Init runs.
type FileSystem struct {
	root *node

	// cwd holds the path components of the working directory relative
	// to the root.
	cwd []string

	initialized bool
}

// Init creates an empty filesystem rooted at "/".
func (fs *FileSystem) Init() {
	fs.root = newDirNode()
	fs.cwd = nil
	fs.initialized = true
}

// ListDir returns the entries of the working directory sorted by name.
func (fs *FileSystem) ListDir() ([]DirEntry, *kernel.Error) {
	if !fs.initialized {
		return nil, errNotInitialized
	}

	dir, err := fs.workingDir()
	if err != nil {
		return nil, err
	}

	entries := make([]DirEntry, 0, len(dir.entries))
	for name, child := range dir.entries {
		entries = append(entries, DirEntry{Name: name, IsDir: child.isDir})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

// CreateDir creates a directory at path, creating missing intermediate
// directories. Relative paths resolve against the working directory.
func (fs *FileSystem) CreateDir(path string) *kernel.Error {
	if !fs.initialized {
		return errNotInitialized
	}

	cur := fs.root
	for _, part := range fs.pathParts(path) {
		if !cur.isDir {
			return ErrNotADirectory
		}
		next, exists := cur.entries[part]
		if !exists {
			next = newDirNode()
			cur.entries[part] = next
		}
		cur = next
	}

	if !cur.isDir {
		return ErrNotADirectory
	}
	return nil
}

// CreateFile creates an empty file at path, creating missing intermediate
// directories. An existing file at the same path is truncated.
func (fs *FileSystem) CreateFile(path string) *kernel.Error {
	return fs.WriteFile(path, nil, false)
}

// WriteFile writes content to the file at path, creating the file and any
// missing intermediate directories. With append set the content is added to
// the end of the file instead of replacing it.
func (fs *FileSystem) WriteFile(path string, content []byte, appendMode bool) *kernel.Error {
	if !fs.initialized {
		return errNotInitialized
	}

	parts := fs.pathParts(path)
	if len(parts) == 0 {
		return ErrNotAFile
	}

	cur := fs.root
	for _, part := range parts[:len(parts)-1] {
		if !cur.isDir {
			return ErrNotADirectory
		}
		next, exists := cur.entries[part]
		if !exists {
			next = newDirNode()
			cur.entries[part] = next
		}
		cur = next
	}

	if !cur.isDir {
		return ErrNotADirectory
	}

	name := parts[len(parts)-1]
	file, exists := cur.entries[name]
	if exists && file.isDir {
		return ErrNotAFile
	}
	if !exists {
		file = &node{}
		cur.entries[name] = file
	}

	if appendMode {
		file.content = append(file.content, content...)
	} else {
		file.content = append([]byte(nil), content...)
	}
	return nil
}

// ReadFile returns a copy of the content of the file at path.
func (fs *FileSystem) ReadFile(path string) ([]byte, *kernel.Error) {
	if !fs.initialized {
		return nil, errNotInitialized
	}

	file, err := fs.resolve(path)
	if err != nil {
		return nil, err
	}
	if file.isDir {
		return nil, ErrNotAFile
	}
	return append([]byte(nil), file.content...), nil
}

// ChangeDir switches the working directory. "/" selects the root and ".."
// the parent of the working directory.
func (fs *FileSystem) ChangeDir(path string) *kernel.Error {
	if !fs.initialized {
		return errNotInitialized
	}

	switch path {
	case "/":
		fs.cwd = nil
		return nil
	case "..":
		if len(fs.cwd) == 0 {
			return ErrAtRoot
		}
		fs.cwd = fs.cwd[:len(fs.cwd)-1]
		return nil
	}

	target, err := fs.resolve(path)
	if err != nil {
		return err
	}
	if !target.isDir {
		return ErrNotADirectory
	}

	fs.cwd = fs.pathParts(path)
	return nil
}

// CurrentPath returns the absolute path of the working directory.
func (fs *FileSystem) CurrentPath() string {
	if len(fs.cwd) == 0 {
		return "/"
	}
	return "/" + strings.Join(fs.cwd, "/")
}

// workingDir resolves the working directory node.
func (fs *FileSystem) workingDir() (*node, *kernel.Error) {
	cur := fs.root
	for _, part := range fs.cwd {
		next, exists := cur.entries[part]
		if !exists {
			return nil, ErrNotFound
		}
		cur = next
	}
	if !cur.isDir {
		return nil, ErrNotADirectory
	}
	return cur, nil
}

// resolve walks path to its node without creating anything.
func (fs *FileSystem) resolve(path string) (*node, *kernel.Error) {
	cur := fs.root
	for _, part := range fs.pathParts(path) {
		if !cur.isDir {
			return nil, ErrNotADirectory
		}
		next, exists := cur.entries[part]
		if !exists {
			return nil, ErrNotFound
		}
		cur = next
	}
	return cur, nil
}

// pathParts resolves path to its component list relative to the root.
// Relative paths start from the working directory; "." components are
// dropped and ".." components pop the preceding one. A ".." that walks past
// the root stays at the root.
func (fs *FileSystem) pathParts(path string) []string {
	var parts []string
	if !strings.HasPrefix(path, "/") {
		parts = append(parts, fs.cwd...)
	}

	for _, part := range strings.Split(path, "/") {
		switch part {
		case "", ".":
		case "..":
			if len(parts) > 0 {
				parts = parts[:len(parts)-1]
			}
		default:
			parts = append(parts, part)
		}
	}
	return parts
}
