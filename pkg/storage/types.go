package storage

// Metadata is a file's string-keyed metadata.
type Metadata map[string]string

// Clone returns a copy that can be modified without affecting m.
func (m Metadata) Clone() Metadata {
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Has reports whether key is present.
func (m Metadata) Has(key string) bool {
	_, ok := m[key]
	return ok
}

// FileRecord is the stored state of one path.
type FileRecord struct {
	// Path is the canonical path (unique key)
	Path string `json:"path"`

	// Version is the record's version stamp. It advances on every metadata
	// change and is preserved by renames.
	Version uint64 `json:"version"`

	// Metadata holds declared size, content hash, timestamps and markers
	Metadata Metadata `json:"metadata"`

	// DeclaredSize is the size announced when the upload started; nil while
	// unknown (chunked upload without a length)
	DeclaredSize *int64 `json:"declared_size,omitempty"`

	// UploadedSize is the number of bytes associated so far
	UploadedSize int64 `json:"uploaded_size"`

	// UploadComplete is set once the page writer has finished ingestion
	UploadComplete bool `json:"upload_complete"`
}

// Clone returns a deep copy of the record.
func (r *FileRecord) Clone() *FileRecord {
	if r == nil {
		return nil
	}
	out := *r
	out.Metadata = r.Metadata.Clone()
	if r.DeclaredSize != nil {
		size := *r.DeclaredSize
		out.DeclaredSize = &size
	}
	return &out
}

// PageRef associates a page with a file at an offset.
type PageRef struct {
	Hash   string `json:"hash"`
	Offset int64  `json:"offset"`
	Length int    `json:"length"`
}

// ConfigEntry is a named configuration value.
type ConfigEntry struct {
	Name  string
	Value []byte
}
