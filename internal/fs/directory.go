package fs

import (
	"encoding/binary"
	"fmt"

	"github.com/nsimlab/nsim/internal/disk"
	"github.com/pkg/errors"
)

// MaxNameLen bounds a directory entry's name, the way NachOS's
// DirectoryEntry reserves a fixed char array rather than a pointer.
const MaxNameLen = 32

const entrySize = 1 /*InUse*/ + 1 /*IsFile*/ + 4 /*Sector*/ + MaxNameLen

// NumDirEntries is the default directory table size, used unless an
// Options overrides it.
const NumDirEntries = 64

// Entry is one slot in a directory's fixed table.
type Entry struct {
	InUse  bool
	IsFile bool
	Sector int32
	Name   string
}

// Directory is the in-memory form of a directory file: a fixed table
// of entries, unique by name among the in-use ones. Its capacity is
// fixed at creation and recoverable from its on-disk size, so a
// reader never needs to know it ahead of time.
type Directory struct {
	entries []Entry
}

// NewDirectory returns an empty directory table of capacity slots.
func NewDirectory(capacity int) *Directory {
	return &Directory{entries: make([]Entry, capacity)}
}

// DirectoryFileSize is the byte size a directory table of capacity
// slots occupies, handed to FileHeader.Allocate when creating the
// root directory or any subdirectory.
func DirectoryFileSize(capacity int) int {
	return entrySize * capacity
}

func (e *Entry) marshal(buf []byte) {
	if e.InUse {
		buf[0] = 1
	}
	if e.IsFile {
		buf[1] = 1
	}
	binary.LittleEndian.PutUint32(buf[2:6], uint32(e.Sector))
	name := make([]byte, MaxNameLen)
	copy(name, e.Name)
	copy(buf[6:6+MaxNameLen], name)
}

func (e *Entry) unmarshal(buf []byte) {
	e.InUse = buf[0] != 0
	e.IsFile = buf[1] != 0
	e.Sector = int32(binary.LittleEndian.Uint32(buf[2:6]))
	end := 6 + MaxNameLen
	nameBuf := buf[6:end]
	n := 0
	for n < len(nameBuf) && nameBuf[n] != 0 {
		n++
	}
	e.Name = string(nameBuf[:n])
}

// FetchFrom loads the directory's entries from the file described by
// h.
func (dir *Directory) FetchFrom(d *disk.Disk, h *FileHeader) error {
	raw, err := readFile(d, h)
	if err != nil {
		return errors.Wrap(err, "fs: directory fetch")
	}
	for i := range dir.entries {
		off := i * entrySize
		if off+entrySize > len(raw) {
			break
		}
		dir.entries[i].unmarshal(raw[off : off+entrySize])
	}
	return nil
}

// WriteBack persists the directory's entries to the file described by
// h.
func (dir *Directory) WriteBack(d *disk.Disk, h *FileHeader) error {
	raw := make([]byte, len(dir.entries)*entrySize)
	for i := range dir.entries {
		dir.entries[i].marshal(raw[i*entrySize : (i+1)*entrySize])
	}
	return errors.Wrap(writeFile(d, h, raw), "fs: directory write back")
}

// Find returns the header sector for name, or -1 if no in-use entry
// matches.
func (dir *Directory) Find(name string) int {
	for _, e := range dir.entries {
		if e.InUse && e.Name == name {
			return int(e.Sector)
		}
	}
	return -1
}

// FindEntry returns the entry for name and whether it was found.
func (dir *Directory) FindEntry(name string) (Entry, bool) {
	for _, e := range dir.entries {
		if e.InUse && e.Name == name {
			return e, true
		}
	}
	return Entry{}, false
}

// Add inserts a new entry into the first free slot. It reports false
// if name already exists, the name is too long, or the table is full.
func (dir *Directory) Add(name string, sector int, isFile bool) bool {
	if len(name) > MaxNameLen {
		return false
	}
	if dir.Find(name) != -1 {
		return false
	}
	for i := range dir.entries {
		if !dir.entries[i].InUse {
			dir.entries[i] = Entry{InUse: true, IsFile: isFile, Sector: int32(sector), Name: name}
			return true
		}
	}
	return false
}

// Remove clears the entry for name. It reports false if name was not
// found.
func (dir *Directory) Remove(name string) bool {
	for i := range dir.entries {
		if dir.entries[i].InUse && dir.entries[i].Name == name {
			dir.entries[i] = Entry{}
			return true
		}
	}
	return false
}

// List returns the in-use entries in table order.
func (dir *Directory) List() []Entry {
	out := make([]Entry, 0, len(dir.entries))
	for _, e := range dir.entries {
		if e.InUse {
			out = append(out, e)
		}
	}
	return out
}

// IsEmpty reports whether the directory holds no entries at all,
// used by FileSystem.Remove to refuse deleting a non-empty directory.
func (dir *Directory) IsEmpty() bool {
	return len(dir.List()) == 0
}

func readFile(d *disk.Disk, h *FileHeader) ([]byte, error) {
	n := int(h.NumBytes)
	out := make([]byte, n)
	for offset := 0; offset < n; offset += disk.SectorSize {
		sector, err := h.ByteToSector(d, offset)
		if err != nil {
			return nil, err
		}
		buf := make([]byte, disk.SectorSize)
		if err := d.ReadSector(sector, buf); err != nil {
			return nil, err
		}
		end := offset + disk.SectorSize
		if end > n {
			end = n
		}
		copy(out[offset:end], buf[:end-offset])
	}
	return out, nil
}

func writeFile(d *disk.Disk, h *FileHeader, data []byte) error {
	n := int(h.NumBytes)
	if len(data) != n {
		return fmt.Errorf("fs: writeFile: data is %d bytes, header expects %d", len(data), n)
	}
	for offset := 0; offset < n; offset += disk.SectorSize {
		sector, err := h.ByteToSector(d, offset)
		if err != nil {
			return err
		}
		end := offset + disk.SectorSize
		if end > n {
			end = n
		}
		buf := make([]byte, disk.SectorSize)
		copy(buf, data[offset:end])
		if err := d.WriteSector(sector, buf); err != nil {
			return err
		}
	}
	return nil
}
