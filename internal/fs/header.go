// Package fs implements the chained-index file header and the
// hierarchical directory-as-file tree built on top of internal/disk.
package fs

import (
	"encoding/binary"

	"github.com/nsimlab/nsim/internal/disk"
	"github.com/pkg/errors"
)

// NumDirect is the number of data-sector slots a single FileHeader
// carries. With int32-encoded fields this is the largest value for
// which the header still marshals into exactly one SectorSize sector:
// 4 (NumBytes) + 4 (NumSectors) + 4*NumDirect <= SectorSize.
const NumDirect = (disk.SectorSize - 8) / 4

// FileHeader is the on-disk i-node: a fixed-size record giving a
// file's logical length and the sectors holding its data. Slot 0 of
// DataSectors is unused data storage and instead, once the file
// outgrows one header's direct capacity, holds the sector of the next
// chained FileHeader.
type FileHeader struct {
	NumBytes    int32
	NumSectors  int32
	DataSectors [NumDirect]int32
}

// NewFileHeader returns a header with every field initialized to -1,
// matching the original's memset-to-garbage constructor whose only job
// is making an uninitialized header visibly invalid rather than
// plausibly zero.
func NewFileHeader() *FileHeader {
	h := &FileHeader{NumBytes: -1, NumSectors: -1}
	for i := range h.DataSectors {
		h.DataSectors[i] = -1
	}
	return h
}

func divRoundUp(n, d int) int {
	return (n + d - 1) / d
}

// Allocate claims sectors from freeMap for a fresh file of fileSize
// bytes, zero-filling each claimed data sector. It returns an error if
// freeMap does not have enough clear bits, without mutating freeMap.
//
// The free-sector pre-check here counts the chain-header sectors a
// multi-header file will need, not just its data sectors — the
// original NachOS check only counted numSectors and could fail
// partway through allocation on a fragmented disk; this header's
// Allocate will not claim a sector it cannot also account for.
func (h *FileHeader) Allocate(freeMap *disk.Bitmap, d *disk.Disk, fileSize int) error {
	h.NumBytes = int32(fileSize)
	numSectors := divRoundUp(fileSize, disk.SectorSize)
	h.NumSectors = int32(numSectors)

	if freeMap.NumClear() < requiredSectors(numSectors) {
		return errors.New("fs: not enough free space for allocation")
	}

	if numSectors < NumDirect {
		for i := 0; i < numSectors+1; i++ {
			sector, ok := freeMap.FindAndSet()
			if !ok {
				return errors.New("fs: free map exhausted during allocation")
			}
			h.DataSectors[i] = int32(sector)
			if err := zeroSector(d, sector); err != nil {
				return err
			}
		}
		return nil
	}

	for i := 0; i < NumDirect; i++ {
		sector, ok := freeMap.FindAndSet()
		if !ok {
			return errors.New("fs: free map exhausted during allocation")
		}
		h.DataSectors[i] = int32(sector)
		if err := zeroSector(d, sector); err != nil {
			return err
		}
	}

	next := NewFileHeader()
	remaining := fileSize - (NumDirect-1)*disk.SectorSize
	if err := next.Allocate(freeMap, d, remaining); err != nil {
		return err
	}
	if err := next.WriteBack(d, int(h.DataSectors[0])); err != nil {
		return err
	}
	return nil
}

// requiredSectors returns the true number of sectors an allocation of
// numSectors data sectors will consume, including every chained
// header's own sector, computed the way the Allocate recursion above
// actually consumes them.
func requiredSectors(numSectors int) int {
	if numSectors < NumDirect {
		return numSectors + 1
	}
	return NumDirect + requiredSectors(numSectors-(NumDirect-1))
}

func zeroSector(d *disk.Disk, sector int) error {
	return d.WriteSector(sector, make([]byte, disk.SectorSize))
}

// Deallocate releases every sector this (possibly chained) header
// occupies back into freeMap, recursing into the chain if one exists.
func (h *FileHeader) Deallocate(freeMap *disk.Bitmap, d *disk.Disk) error {
	numSectors := int(h.NumSectors)

	if numSectors > NumDirect-1 {
		next := NewFileHeader()
		if err := next.FetchFrom(d, int(h.DataSectors[0])); err != nil {
			return err
		}
		if err := next.Deallocate(freeMap, d); err != nil {
			return err
		}
	}

	numBlock := numSectors + 1
	if numBlock > NumDirect {
		numBlock = NumDirect
	}
	for i := 0; i < numBlock; i++ {
		sector := int(h.DataSectors[i])
		if !freeMap.Test(sector) {
			return errors.Errorf("fs: deallocate: sector %d was not marked used", sector)
		}
		freeMap.Clear(sector)
	}
	return nil
}

// MarkUsed re-marks every sector this (possibly chained) header
// occupies as in-use in freeMap, the inverse of Deallocate. It exists
// so a caller that already deallocated a header's sectors can undo
// that when a later step of the same operation fails, without
// touching disk contents that are still valid.
func (h *FileHeader) MarkUsed(freeMap *disk.Bitmap, d *disk.Disk) error {
	numSectors := int(h.NumSectors)

	numBlock := numSectors + 1
	if numBlock > NumDirect {
		numBlock = NumDirect
	}
	for i := 0; i < numBlock; i++ {
		freeMap.Mark(int(h.DataSectors[i]))
	}

	if numSectors > NumDirect-1 {
		next := NewFileHeader()
		if err := next.FetchFrom(d, int(h.DataSectors[0])); err != nil {
			return err
		}
		if err := next.MarkUsed(freeMap, d); err != nil {
			return err
		}
	}
	return nil
}

// FetchFrom reads this header's fields from sector on d.
func (h *FileHeader) FetchFrom(d *disk.Disk, sector int) error {
	buf := make([]byte, disk.SectorSize)
	if err := d.ReadSector(sector, buf); err != nil {
		return errors.Wrap(err, "fs: fetch header")
	}
	return h.unmarshal(buf)
}

// WriteBack writes this header's fields to sector on d.
func (h *FileHeader) WriteBack(d *disk.Disk, sector int) error {
	return errors.Wrap(d.WriteSector(sector, h.marshal()), "fs: write back header")
}

// ByteToSector translates a byte offset within the file into the disk
// sector holding it, descending the header chain iteratively rather
// than recursively, per the Design Notes.
func (h *FileHeader) ByteToSector(d *disk.Disk, offset int) (int, error) {
	cur := h
	for {
		if offset < (NumDirect-1)*disk.SectorSize {
			return int(cur.DataSectors[offset/disk.SectorSize+1]), nil
		}
		next := NewFileHeader()
		if err := next.FetchFrom(d, int(cur.DataSectors[0])); err != nil {
			return 0, err
		}
		offset -= (NumDirect - 1) * disk.SectorSize
		cur = next
	}
}

// FileLength returns the file's logical size in bytes.
func (h *FileHeader) FileLength() int {
	return int(h.NumBytes)
}

func (h *FileHeader) marshal() []byte {
	buf := make([]byte, disk.SectorSize)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(h.NumBytes))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(h.NumSectors))
	for i, s := range h.DataSectors {
		off := 8 + i*4
		binary.LittleEndian.PutUint32(buf[off:off+4], uint32(s))
	}
	return buf
}

func (h *FileHeader) unmarshal(buf []byte) error {
	if len(buf) < disk.SectorSize {
		return errors.New("fs: header buffer too short")
	}
	h.NumBytes = int32(binary.LittleEndian.Uint32(buf[0:4]))
	h.NumSectors = int32(binary.LittleEndian.Uint32(buf[4:8]))
	for i := range h.DataSectors {
		off := 8 + i*4
		h.DataSectors[i] = int32(binary.LittleEndian.Uint32(buf[off : off+4]))
	}
	return nil
}
