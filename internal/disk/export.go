package disk

import (
	"github.com/golang/snappy"
	"github.com/pkg/errors"
)

// Export serializes every sector into a single snappy-compressed
// block that Import can load back. Compressing follows the
// grailbio-bio convention of snappy-framing on-disk shards rather than
// keeping raw bytes.
func (d *Disk) Export() []byte {
	raw := make([]byte, len(d.sectors)*SectorSize)
	for i, s := range d.sectors {
		copy(raw[i*SectorSize:], s[:])
	}
	return snappy.Encode(nil, raw)
}

// Import replaces a disk's sector contents from a blob produced by
// Export. The disk must already have the right sector count.
func (d *Disk) Import(compressed []byte) error {
	raw, err := snappy.Decode(nil, compressed)
	if err != nil {
		return errors.Wrap(err, "disk: snappy decode")
	}
	want := len(d.sectors) * SectorSize
	if len(raw) != want {
		return errors.Errorf("disk: decoded image is %d bytes, want %d", len(raw), want)
	}
	for i := range d.sectors {
		copy(d.sectors[i][:], raw[i*SectorSize:(i+1)*SectorSize])
	}
	return nil
}
