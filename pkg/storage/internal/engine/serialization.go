package engine

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/marmos91/pagefs/pkg/storage"
)

// Records, page links and page entries are JSON encoded: they are small and
// being able to read them in a raw dump is worth the size. The record count
// is a fixed-width binary integer.

// record is the persisted form of a storage.FileRecord.
type record struct {
	storage.FileRecord

	// Uncounted is set once the record has been removed from the live count
	// (tombstoned). Deleting an uncounted record leaves the count alone.
	Uncounted bool `json:"uncounted,omitempty"`
}

// pageLink is the value of an association key; the offset lives in the key.
type pageLink struct {
	Hash   string `json:"hash"`
	Length int    `json:"length"`
}

// pageEntry tracks a stored page. Refs counts associations across all files.
type pageEntry struct {
	Size int   `json:"size"`
	Refs int64 `json:"refs"`
}

func encodeRecord(r *record) ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("failed to encode record %s: %w", r.Path, err)
	}
	return data, nil
}

func decodeRecord(data []byte) (*record, error) {
	var r record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to decode record: %w", err)
	}
	if r.Metadata == nil {
		r.Metadata = storage.Metadata{}
	}
	return &r, nil
}

func encodePageLink(l pageLink) ([]byte, error) {
	return json.Marshal(l)
}

func decodePageLink(data []byte) (pageLink, error) {
	var l pageLink
	if err := json.Unmarshal(data, &l); err != nil {
		return l, fmt.Errorf("failed to decode page link: %w", err)
	}
	return l, nil
}

func encodePageEntry(e pageEntry) ([]byte, error) {
	return json.Marshal(e)
}

func decodePageEntry(data []byte) (pageEntry, error) {
	var e pageEntry
	if err := json.Unmarshal(data, &e); err != nil {
		return e, fmt.Errorf("failed to decode page entry: %w", err)
	}
	return e, nil
}

func encodeCount(n int64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(n))
	return buf
}

func decodeCount(data []byte) (int64, error) {
	if len(data) != 8 {
		return 0, fmt.Errorf("invalid record count length: %d", len(data))
	}
	return int64(binary.BigEndian.Uint64(data)), nil
}
