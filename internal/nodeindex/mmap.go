package nodeindex

import (
	"encoding/binary"
	"fmt"
	"os"

	"github.com/edsrzf/mmap-go"
)

const (
	// Each node entry: lat (int32) + lon (int32) = 8 bytes
	// Using fixed-point: value * 1e7 to store as int32
	entrySize = 8
	// Upper bound on node ids the index will address
	maxNodeID = 20_000_000_000
)

// MmapIndex is a memory-mapped node coordinate index.
// Coordinates of node n are stored at offset n*8 of a sparse file sized for the
// largest id the caller expects, so lookups are O(1) and disk use follows the
// ids actually written.
type MmapIndex struct {
	file  *os.File
	data  mmap.MMap
	path  string
	limit int64 // Exclusive upper bound on addressable ids
}

// NewMmapIndex creates an index at path able to hold ids in [0, maxID]
func NewMmapIndex(path string, maxID int64) (*MmapIndex, error) {
	if maxID < 0 || maxID >= maxNodeID {
		return nil, fmt.Errorf("node id %d out of range", maxID)
	}
	limit := maxID + 1
	size := limit * entrySize

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create mmap file: %w", err)
	}

	// Truncate to full size (creates sparse file on Linux)
	if err := f.Truncate(size); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to truncate file: %w", err)
	}

	data, err := mmap.MapRegion(f, int(size), mmap.RDWR, 0, 0)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to mmap file: %w", err)
	}

	return &MmapIndex{
		file:  f,
		data:  data,
		path:  path,
		limit: limit,
	}, nil
}

// Put stores a node's coordinates; ids outside the index are ignored
func (m *MmapIndex) Put(nodeID int64, lat, lon float64) {
	if nodeID < 0 || nodeID >= m.limit {
		return
	}

	offset := nodeID * entrySize
	binary.LittleEndian.PutUint32(m.data[offset:], uint32(int32(lat*1e7)))
	binary.LittleEndian.PutUint32(m.data[offset+4:], uint32(int32(lon*1e7)))
}

// Get retrieves a node's coordinates
// Returns (0, 0, false) if the node doesn't exist
func (m *MmapIndex) Get(nodeID int64) (lat, lon float64, ok bool) {
	if nodeID < 0 || nodeID >= m.limit {
		return 0, 0, false
	}

	offset := nodeID * entrySize
	latInt := int32(binary.LittleEndian.Uint32(m.data[offset:]))
	lonInt := int32(binary.LittleEndian.Uint32(m.data[offset+4:]))

	// (0,0) doubles as the empty marker; a node exactly there reads as missing
	if latInt == 0 && lonInt == 0 {
		return 0, 0, false
	}

	return float64(latInt) / 1e7, float64(lonInt) / 1e7, true
}

// Sync flushes changes to disk
func (m *MmapIndex) Sync() error {
	return m.data.Flush()
}

// Close unmaps and closes the index file
func (m *MmapIndex) Close() error {
	if err := m.data.Unmap(); err != nil {
		m.file.Close()
		return fmt.Errorf("failed to unmap index: %w", err)
	}
	return m.file.Close()
}

// Remove closes the index and deletes its backing file
func (m *MmapIndex) Remove() error {
	closeErr := m.Close()
	if err := os.Remove(m.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove index file: %w", err)
	}
	return closeErr
}
