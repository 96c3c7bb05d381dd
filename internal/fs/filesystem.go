package fs

import (
	"strings"

	"github.com/nsimlab/nsim/internal/disk"
	"github.com/nsimlab/nsim/internal/pathutil"
	"github.com/pkg/errors"
)

// Well-known sectors located on bootup, before any directory lookup is
// possible.
const (
	FreeMapSector   = 0
	DirectorySector = 1
)

// FreeMapFileSize is the byte size of the free-map's own on-disk file,
// one bit per sector on the disk it describes.
func FreeMapFileSize(numSectors int) int {
	return disk.NewBitmap(numSectors).ByteSize()
}

// FileSystem is the hierarchical directory-as-file tree: a free-sector
// bitmap and a root directory, both represented as ordinary files
// whose headers live at the two well-known sectors above. The free
// map's own header is kept in memory so every allocation can update
// and flush it through the same readFile/writeFile path as any other
// file, rather than assuming its data sectors are contiguous.
type FileSystem struct {
	disk    *disk.Disk
	mapHdr  *FileHeader
	freeMap *disk.Bitmap

	// dirCapacity is the directory table size new directories are
	// created with. Existing directories carry their own capacity in
	// their header's byte length, so only creation needs this.
	dirCapacity int
}

// directoryFor returns a Directory sized to match hdr's on-disk byte
// length, ready for FetchFrom. A directory's table size is baked into
// the byte length its header was allocated with, so a reader never
// needs to be told it out of band.
func directoryFor(hdr *FileHeader) *Directory {
	return NewDirectory(hdr.FileLength() / entrySize)
}

// Format initializes a fresh filesystem on d: writes headers for the
// free map and root directory at their well-known sectors, then writes
// their (mostly empty) contents back. A nil opts is replaced with
// DefaultOptions().
func Format(d *disk.Disk, opts *Options) (*FileSystem, error) {
	if opts == nil {
		opts = DefaultOptions()
	}

	freeMap := disk.NewBitmap(d.NumSectors())
	freeMap.Mark(FreeMapSector)
	freeMap.Mark(DirectorySector)

	mapHdr := NewFileHeader()
	if err := mapHdr.Allocate(freeMap, d, FreeMapFileSize(d.NumSectors())); err != nil {
		return nil, errors.Wrap(err, "fs: format: allocate free map")
	}
	dirHdr := NewFileHeader()
	if err := dirHdr.Allocate(freeMap, d, DirectoryFileSize(opts.NumDirEntries)); err != nil {
		return nil, errors.Wrap(err, "fs: format: allocate root directory")
	}

	if err := mapHdr.WriteBack(d, FreeMapSector); err != nil {
		return nil, err
	}
	if err := dirHdr.WriteBack(d, DirectorySector); err != nil {
		return nil, err
	}

	fsys := &FileSystem{disk: d, mapHdr: mapHdr, freeMap: freeMap, dirCapacity: opts.NumDirEntries}

	root := NewDirectory(opts.NumDirEntries)
	if err := root.WriteBack(d, dirHdr); err != nil {
		return nil, err
	}
	if err := fsys.writeFreeMap(); err != nil {
		return nil, err
	}
	return fsys, nil
}

// OpenFileSystem attaches to an already-formatted filesystem image,
// reloading the free map from disk and recovering the directory
// capacity Format was called with from the root directory's own size.
func OpenFileSystem(d *disk.Disk) (*FileSystem, error) {
	mapHdr := NewFileHeader()
	if err := mapHdr.FetchFrom(d, FreeMapSector); err != nil {
		return nil, errors.Wrap(err, "fs: open: fetch free map header")
	}
	raw, err := readFile(d, mapHdr)
	if err != nil {
		return nil, errors.Wrap(err, "fs: open: read free map")
	}
	freeMap, err := disk.UnmarshalBitmap(raw, d.NumSectors())
	if err != nil {
		return nil, err
	}

	dirHdr := NewFileHeader()
	if err := dirHdr.FetchFrom(d, DirectorySector); err != nil {
		return nil, errors.Wrap(err, "fs: open: fetch root directory header")
	}

	return &FileSystem{
		disk:        d,
		mapHdr:      mapHdr,
		freeMap:     freeMap,
		dirCapacity: dirHdr.FileLength() / entrySize,
	}, nil
}

// writeFreeMap flushes the in-memory free map bitmap back through its
// own file header, the last step of every mutating operation below.
func (fsys *FileSystem) writeFreeMap() error {
	return errors.Wrap(writeFile(fsys.disk, fsys.mapHdr, fsys.freeMap.Marshal()), "fs: write free map")
}

func splitPath(path string) []string {
	clean := pathutil.Normalize(path)
	clean = strings.Trim(clean, "/")
	if clean == "" || clean == "." {
		return nil
	}
	return strings.Split(clean, "/")
}

// resolveParent walks every component of path but the last, requiring
// each to be an in-use, non-file directory entry. It returns the
// sector of the final directory reached, that directory's loaded
// contents, and the leaf component name.
func (fsys *FileSystem) resolveParent(path string) (int, *Directory, string, error) {
	parts := splitPath(path)
	if len(parts) == 0 {
		return 0, nil, "", errors.New("fs: empty path")
	}

	sector := DirectorySector
	hdr := NewFileHeader()
	if err := hdr.FetchFrom(fsys.disk, sector); err != nil {
		return 0, nil, "", err
	}
	dir := directoryFor(hdr)
	if err := dir.FetchFrom(fsys.disk, hdr); err != nil {
		return 0, nil, "", err
	}

	for _, comp := range parts[:len(parts)-1] {
		entry, ok := dir.FindEntry(comp)
		if !ok {
			return 0, nil, "", errors.Errorf("fs: no such directory component %q", comp)
		}
		if entry.IsFile {
			return 0, nil, "", errors.Errorf("fs: path component %q is a file, not a directory", comp)
		}
		sector = int(entry.Sector)
		hdr = NewFileHeader()
		if err := hdr.FetchFrom(fsys.disk, sector); err != nil {
			return 0, nil, "", err
		}
		dir = directoryFor(hdr)
		if err := dir.FetchFrom(fsys.disk, hdr); err != nil {
			return 0, nil, "", err
		}
	}

	return sector, dir, parts[len(parts)-1], nil
}

// Create adds a new file of initialSize bytes at path. It fails
// without writing anything back if the leaf already exists, the
// directory is full, there is no free sector for the header, or there
// is not enough free space for the data.
func (fsys *FileSystem) Create(path string, initialSize int) error {
	parentSector, dir, leaf, err := fsys.resolveParent(path)
	if err != nil {
		return err
	}
	if dir.Find(leaf) != -1 {
		return errors.Errorf("fs: %q already exists", leaf)
	}

	sector, ok := fsys.freeMap.FindAndSet()
	if !ok {
		return errors.New("fs: no free sector for file header")
	}
	if !dir.Add(leaf, sector, true) {
		fsys.freeMap.Clear(sector)
		return errors.New("fs: directory is full")
	}

	hdr := NewFileHeader()
	if err := hdr.Allocate(fsys.freeMap, fsys.disk, initialSize); err != nil {
		fsys.freeMap.Clear(sector)
		dir.Remove(leaf)
		return errors.Wrap(err, "fs: create")
	}

	// Every step from here on mutates live disk state only on success;
	// on failure, unwind the bitmap and directory claims made above so
	// fsys.freeMap never diverges from what actually made it to disk.
	rollback := func() {
		hdr.Deallocate(fsys.freeMap, fsys.disk)
		fsys.freeMap.Clear(sector)
		dir.Remove(leaf)
	}

	if err := hdr.WriteBack(fsys.disk, sector); err != nil {
		rollback()
		return err
	}
	parentHdr := NewFileHeader()
	if err := parentHdr.FetchFrom(fsys.disk, parentSector); err != nil {
		rollback()
		return err
	}
	if err := dir.WriteBack(fsys.disk, parentHdr); err != nil {
		rollback()
		return err
	}
	return fsys.writeFreeMap()
}

// CreateDir adds a new, empty subdirectory at path.
func (fsys *FileSystem) CreateDir(path string) error {
	parentSector, dir, leaf, err := fsys.resolveParent(path)
	if err != nil {
		return err
	}
	if dir.Find(leaf) != -1 {
		return errors.Errorf("fs: %q already exists", leaf)
	}

	sector, ok := fsys.freeMap.FindAndSet()
	if !ok {
		return errors.New("fs: no free sector for directory header")
	}
	if !dir.Add(leaf, sector, false) {
		fsys.freeMap.Clear(sector)
		return errors.New("fs: directory is full")
	}

	hdr := NewFileHeader()
	if err := hdr.Allocate(fsys.freeMap, fsys.disk, DirectoryFileSize(fsys.dirCapacity)); err != nil {
		fsys.freeMap.Clear(sector)
		dir.Remove(leaf)
		return errors.Wrap(err, "fs: create dir")
	}

	rollback := func() {
		hdr.Deallocate(fsys.freeMap, fsys.disk)
		fsys.freeMap.Clear(sector)
		dir.Remove(leaf)
	}

	if err := hdr.WriteBack(fsys.disk, sector); err != nil {
		rollback()
		return err
	}

	empty := NewDirectory(fsys.dirCapacity)
	if err := empty.WriteBack(fsys.disk, hdr); err != nil {
		rollback()
		return err
	}

	parentHdr := NewFileHeader()
	if err := parentHdr.FetchFrom(fsys.disk, parentSector); err != nil {
		rollback()
		return err
	}
	if err := dir.WriteBack(fsys.disk, parentHdr); err != nil {
		rollback()
		return err
	}
	return fsys.writeFreeMap()
}

// OpenFile is an opaque handle bound to a file header's sector,
// returned by Open.
type OpenFile struct {
	Sector int
	Header *FileHeader
}

// ReadAt reads the entire file's bytes. Files in this simulation have
// a fixed size set at creation, so there is no partial-read offset API
// beyond what ByteToSector already provides internally.
func (of *OpenFile) ReadAt(d *disk.Disk) ([]byte, error) {
	return readFile(d, of.Header)
}

// WriteAt overwrites the entire file's bytes; len(data) must equal the
// file's allocated size.
func (of *OpenFile) WriteAt(d *disk.Disk, data []byte) error {
	return writeFile(d, of.Header, data)
}

// Open resolves path fully and returns a handle to its header, or nil
// if any component is missing.
func (fsys *FileSystem) Open(path string) (*OpenFile, error) {
	_, dir, leaf, err := fsys.resolveParent(path)
	if err != nil {
		return nil, err
	}
	sector := dir.Find(leaf)
	if sector == -1 {
		return nil, nil
	}
	hdr := NewFileHeader()
	if err := hdr.FetchFrom(fsys.disk, sector); err != nil {
		return nil, err
	}
	return &OpenFile{Sector: sector, Header: hdr}, nil
}

// Remove deletes the file or empty directory at path. It fails if the
// leaf is absent or if it names a non-empty directory — deleting a
// populated subtree in one call is not supported.
func (fsys *FileSystem) Remove(path string) error {
	parentSector, dir, leaf, err := fsys.resolveParent(path)
	if err != nil {
		return err
	}
	entry, ok := dir.FindEntry(leaf)
	if !ok {
		return errors.Errorf("fs: %q not found", leaf)
	}

	hdr := NewFileHeader()
	if err := hdr.FetchFrom(fsys.disk, int(entry.Sector)); err != nil {
		return err
	}

	if !entry.IsFile {
		sub := directoryFor(hdr)
		if err := sub.FetchFrom(fsys.disk, hdr); err != nil {
			return err
		}
		if !sub.IsEmpty() {
			return errors.Errorf("fs: %q is a non-empty directory", leaf)
		}
	}

	if err := hdr.Deallocate(fsys.freeMap, fsys.disk); err != nil {
		return err
	}
	fsys.freeMap.Clear(int(entry.Sector))
	dir.Remove(leaf)

	// The bitmap above now reflects a removal that hasn't reached disk
	// yet. If either remaining step fails, re-mark those sectors used
	// and re-add the entry so the live free map can't hand out a
	// sector the on-disk directory still references.
	rollback := func() {
		hdr.MarkUsed(fsys.freeMap, fsys.disk)
		fsys.freeMap.Mark(int(entry.Sector))
		dir.Add(leaf, int(entry.Sector), entry.IsFile)
	}

	parentHdr := NewFileHeader()
	if err := parentHdr.FetchFrom(fsys.disk, parentSector); err != nil {
		rollback()
		return err
	}
	if err := dir.WriteBack(fsys.disk, parentHdr); err != nil {
		rollback()
		return err
	}
	return fsys.writeFreeMap()
}

// List returns the directory entries at path. When recursive is true
// it descends into every subdirectory, returning entries in
// depth-first order with Name rewritten to the path relative to path.
func (fsys *FileSystem) List(path string, recursive bool) ([]Entry, error) {
	sector := DirectorySector
	if parts := splitPath(path); len(parts) > 0 {
		_, dir, leaf, err := fsys.resolveParent(path)
		if err != nil {
			return nil, err
		}
		s := dir.Find(leaf)
		if s == -1 {
			return nil, errors.Errorf("fs: %q not found", leaf)
		}
		sector = s
	}

	hdr := NewFileHeader()
	if err := hdr.FetchFrom(fsys.disk, sector); err != nil {
		return nil, err
	}
	dir := directoryFor(hdr)
	if err := dir.FetchFrom(fsys.disk, hdr); err != nil {
		return nil, err
	}

	if !recursive {
		return dir.List(), nil
	}
	return fsys.recursiveList(dir, "")
}

func (fsys *FileSystem) recursiveList(dir *Directory, prefix string) ([]Entry, error) {
	var out []Entry
	for _, e := range dir.List() {
		full := e
		full.Name = prefix + e.Name
		out = append(out, full)
		if !e.IsFile {
			hdr := NewFileHeader()
			if err := hdr.FetchFrom(fsys.disk, int(e.Sector)); err != nil {
				return nil, err
			}
			sub := directoryFor(hdr)
			if err := sub.FetchFrom(fsys.disk, hdr); err != nil {
				return nil, err
			}
			children, err := fsys.recursiveList(sub, full.Name+"/")
			if err != nil {
				return nil, err
			}
			out = append(out, children...)
		}
	}
	return out, nil
}

// Usage bottom-up aggregates the logical byte size of every file
// beneath path, the way a directory-size rollup folds child sizes into
// their parent: a subdirectory's size is the sum of its own files plus
// every descendant subdirectory's size.
type Usage struct {
	Path  string
	Bytes int64
	Files int
}

// ComputeUsage walks the directory rooted at path bottom-up, returning
// one Usage record per directory visited (including path itself).
func (fsys *FileSystem) ComputeUsage(path string) ([]Usage, error) {
	sector := DirectorySector
	name := "/"
	if parts := splitPath(path); len(parts) > 0 {
		_, dir, leaf, err := fsys.resolveParent(path)
		if err != nil {
			return nil, err
		}
		s, ok := dir.FindEntry(leaf)
		if !ok {
			return nil, errors.Errorf("fs: %q not found", leaf)
		}
		if s.IsFile {
			return nil, errors.Errorf("fs: %q is a file, not a directory", leaf)
		}
		sector = int(s.Sector)
		name = leaf
	}

	hdr := NewFileHeader()
	if err := hdr.FetchFrom(fsys.disk, sector); err != nil {
		return nil, err
	}
	dir := directoryFor(hdr)
	if err := dir.FetchFrom(fsys.disk, hdr); err != nil {
		return nil, err
	}

	var out []Usage
	total, files, err := fsys.usageOf(dir, name, &out)
	if err != nil {
		return nil, err
	}
	out = append(out, Usage{Path: name, Bytes: total, Files: files})
	return out, nil
}

func (fsys *FileSystem) usageOf(dir *Directory, name string, out *[]Usage) (int64, int, error) {
	var total int64
	var files int
	for _, e := range dir.List() {
		if e.IsFile {
			hdr := NewFileHeader()
			if err := hdr.FetchFrom(fsys.disk, int(e.Sector)); err != nil {
				return 0, 0, err
			}
			total += int64(hdr.FileLength())
			files++
			continue
		}
		hdr := NewFileHeader()
		if err := hdr.FetchFrom(fsys.disk, int(e.Sector)); err != nil {
			return 0, 0, err
		}
		sub := directoryFor(hdr)
		if err := sub.FetchFrom(fsys.disk, hdr); err != nil {
			return 0, 0, err
		}
		childName := name + "/" + e.Name
		if name == "/" {
			childName = "/" + e.Name
		}
		subTotal, subFiles, err := fsys.usageOf(sub, childName, out)
		if err != nil {
			return 0, 0, err
		}
		*out = append(*out, Usage{Path: childName, Bytes: subTotal, Files: subFiles})
		total += subTotal
		files += subFiles
	}
	return total, files, nil
}
