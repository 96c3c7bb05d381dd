package disk

import (
	"bytes"
	"path/filepath"
	"testing"
)

func TestReadWriteSector(t *testing.T) {
	d := New(16)
	buf := bytes.Repeat([]byte{0xAB}, SectorSize)
	if err := d.WriteSector(3, buf); err != nil {
		t.Fatalf("WriteSector: %v", err)
	}
	got := make([]byte, SectorSize)
	if err := d.ReadSector(3, got); err != nil {
		t.Fatalf("ReadSector: %v", err)
	}
	if !bytes.Equal(got, buf) {
		t.Fatal("read back did not match written sector")
	}
}

func TestReadSectorOutOfRange(t *testing.T) {
	d := New(4)
	buf := make([]byte, SectorSize)
	if err := d.ReadSector(-1, buf); err == nil {
		t.Fatal("expected error for negative sector")
	}
	if err := d.ReadSector(4, buf); err == nil {
		t.Fatal("expected error for sector == NumSectors")
	}
}

func TestOpenPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "image.disk")

	d1, err := Open(path, 8)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	buf := bytes.Repeat([]byte{0x42}, SectorSize)
	if err := d1.WriteSector(2, buf); err != nil {
		t.Fatalf("WriteSector: %v", err)
	}
	if err := d1.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	d2, err := Open(path, 8)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer d2.Close()
	got := make([]byte, SectorSize)
	if err := d2.ReadSector(2, got); err != nil {
		t.Fatalf("ReadSector after reopen: %v", err)
	}
	if !bytes.Equal(got, buf) {
		t.Fatal("sector contents did not survive reopen")
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	d := New(8)
	buf := bytes.Repeat([]byte{0x7A}, SectorSize)
	d.WriteSector(5, buf)

	blob := d.Export()

	d2 := New(8)
	if err := d2.Import(blob); err != nil {
		t.Fatalf("Import: %v", err)
	}
	got := make([]byte, SectorSize)
	d2.ReadSector(5, got)
	if !bytes.Equal(got, buf) {
		t.Fatal("sector contents did not survive export/import round trip")
	}
}
