// Package disk simulates the fixed-block storage device the
// filesystem layer is built on: a flat array of equally sized
// sectors, addressed by sector number, read and written one whole
// sector at a time.
package disk

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
)

// SectorSize is the number of bytes moved by one ReadSector/WriteSector
// call. The file header record in internal/fs is sized to fit exactly
// one sector.
const SectorSize = 128

// DefaultNumSectors is the sector count a freshly formatted disk image
// carries unless the caller asks for a different size.
const DefaultNumSectors = 2048

// Disk is a simulated block device: `NumSectors` fixed-size sectors,
// held in memory and optionally mirrored to a backing file so a run's
// image can be inspected or reopened later.
type Disk struct {
	sectors [][SectorSize]byte
	backing *os.File

	reads  int64
	writes int64
}

// New returns an in-memory disk of n sectors, all zeroed.
func New(n int) *Disk {
	return &Disk{sectors: make([][SectorSize]byte, n)}
}

// Open returns a disk of n sectors backed by the file at path. If the
// file already exists and is the right size its contents are used as
// the initial sector image; otherwise it is created and zero-filled.
func Open(path string, n int) (*Disk, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, errors.Wrapf(err, "disk: open %s", path)
	}
	d := &Disk{sectors: make([][SectorSize]byte, n), backing: f}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "disk: stat %s", path)
	}
	want := int64(n) * SectorSize
	if info.Size() == want {
		buf := make([]byte, want)
		if _, err := f.ReadAt(buf, 0); err != nil {
			f.Close()
			return nil, errors.Wrapf(err, "disk: read existing image %s", path)
		}
		for i := 0; i < n; i++ {
			copy(d.sectors[i][:], buf[i*SectorSize:(i+1)*SectorSize])
		}
	} else {
		if err := f.Truncate(want); err != nil {
			f.Close()
			return nil, errors.Wrapf(err, "disk: truncate %s", path)
		}
	}
	return d, nil
}

// NumSectors returns the sector count this disk was created with.
func (d *Disk) NumSectors() int {
	return len(d.sectors)
}

// Close releases the backing file, if any.
func (d *Disk) Close() error {
	if d.backing == nil {
		return nil
	}
	return d.backing.Close()
}

func (d *Disk) checkRange(n int) error {
	if n < 0 || n >= len(d.sectors) {
		return fmt.Errorf("disk: sector %d out of range [0,%d)", n, len(d.sectors))
	}
	return nil
}

// ReadSector copies sector n's contents into buf, which must be at
// least SectorSize bytes.
func (d *Disk) ReadSector(n int, buf []byte) error {
	if err := d.checkRange(n); err != nil {
		return err
	}
	if len(buf) < SectorSize {
		return fmt.Errorf("disk: ReadSector buffer too small: %d < %d", len(buf), SectorSize)
	}
	d.reads++
	copy(buf, d.sectors[n][:])
	return nil
}

// WriteSector overwrites sector n with the first SectorSize bytes of
// buf and, for a file-backed disk, flushes that sector to the backing
// file immediately.
func (d *Disk) WriteSector(n int, buf []byte) error {
	if err := d.checkRange(n); err != nil {
		return err
	}
	if len(buf) < SectorSize {
		return fmt.Errorf("disk: WriteSector buffer too small: %d < %d", len(buf), SectorSize)
	}
	d.writes++
	copy(d.sectors[n][:], buf[:SectorSize])
	if d.backing != nil {
		if _, err := d.backing.WriteAt(d.sectors[n][:], int64(n)*SectorSize); err != nil {
			return errors.Wrapf(err, "disk: flush sector %d", n)
		}
	}
	return nil
}

// Stats returns the cumulative read/write sector counts.
func (d *Disk) Stats() (reads, writes int64) {
	return d.reads, d.writes
}
