package engine

import (
	"fmt"
	"strconv"
	"strings"
)

// Key Namespace
// =============
//
// Both engines are ordered key-value stores, so every data type lives under
// its own prefix. Range scans over a prefix drive listings and page walks.
//
// Data Type          Prefix   Key Format                        Value
// ========================================================================
// File Records       "r:"     r:<path>                          record (JSON)
// Page Associations  "a:"     a:<path>\x00<offset as %016x>     pageLink (JSON)
// Page Entries       "pg:"    pg:<hash>                         pageEntry (JSON)
// Config Entries     "cfg:"   cfg:<name>                        raw bytes
// Record Count       "meta:"  meta:record_count                 int64 (binary)
//
// Association keys separate the path from the offset with a NUL byte. Paths
// never contain NUL, so the associations of "/a" never share a prefix with
// the associations of "/a:b". Offsets are zero-padded hex so lexical order is
// stream order.

const (
	prefixRecord = "r:"
	prefixAssoc  = "a:"
	prefixPage   = "pg:"
	prefixConfig = "cfg:"
)

var keyRecordCount = []byte("meta:record_count")

func keyRecord(path string) []byte {
	return []byte(prefixRecord + path)
}

func keyAssocPrefix(path string) []byte {
	return []byte(prefixAssoc + path + "\x00")
}

func keyAssoc(path string, offset int64) []byte {
	return []byte(fmt.Sprintf("%s%s\x00%016x", prefixAssoc, path, offset))
}

func keyPage(hash string) []byte {
	return []byte(prefixPage + hash)
}

func keyConfig(name string) []byte {
	return []byte(prefixConfig + name)
}

// offsetFromAssocKey extracts the stream offset from an association key.
func offsetFromAssocKey(key []byte) (int64, error) {
	s := string(key)
	idx := strings.LastIndexByte(s, 0)
	if idx < 0 {
		return 0, fmt.Errorf("malformed association key %q", s)
	}
	offset, err := strconv.ParseInt(s[idx+1:], 16, 64)
	if err != nil {
		return 0, fmt.Errorf("malformed association key %q: %w", s, err)
	}
	return offset, nil
}
