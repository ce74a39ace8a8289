package cache

import (
	"bytes"
	"encoding/gob"
	"fmt"

	"github.com/golang/snappy"
)

// TagPair is a (tag, title) pair carried in a cache entry.
type TagPair struct {
	Tag   string
	Title string
}

// EntryExtra carries the custom script fields of a cache entry.
type EntryExtra struct {
	CSS string
	JS  string
}

// Entry is the fixed binary schema of a cached page: the subset of page
// fields relevant to rendering, addressed by the page's content hash.
type Entry struct {
	ID               int64
	AuthorID         int64
	AuthorName       string
	CreatedAt        string
	CreatorID        int64
	CreatorName      string
	Description      string
	EditorKey        string
	IsPrivate        bool
	IsPublished      bool
	PublishEndDate   string
	PublishStartDate string
	ContentType      string
	Render           string
	Tags             []TagPair
	Extra            EntryExtra
	ApprovalStatus   string
	Title            string
	Toc              string
	UpdatedAt        string
}

// Encode serializes the entry to its compact binary form: gob encoding
// wrapped in snappy block compression.
func (e *Entry) Encode() ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(e); err != nil {
		return nil, fmt.Errorf("failed to encode cache entry: %w", err)
	}
	return snappy.Encode(nil, buf.Bytes()), nil
}

// DecodeEntry deserializes an entry previously produced by Encode.
func DecodeEntry(blob []byte) (*Entry, error) {
	raw, err := snappy.Decode(nil, blob)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress cache entry: %w", err)
	}
	var e Entry
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&e); err != nil {
		return nil, fmt.Errorf("failed to decode cache entry: %w", err)
	}
	return &e, nil
}
