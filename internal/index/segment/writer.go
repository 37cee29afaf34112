package segment

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"time"
)

// MagicBytes identifies a valid .scx index file.
const (
	MagicBytes    uint32 = 0x53435849
	FormatVersion uint32 = 1
	HeaderSize    int    = 64
	FooterSize    int    = 32
)

// Header is the 64-byte header written at the start of every index file.
type Header struct {
	Magic      uint32
	Version    uint32
	GroupCount uint32
	DocCount   uint32
	CreatedAt  int64
	DictOffset int64
	DictSize   int64
	PostOffset int64
	PostSize   int64
}

// Group is every document path stored under one (category, key) pair.
type Group struct {
	Category []byte
	Key      []byte
	Paths    []string
}

// DictEntry maps a (category, key) pair to its path list offset, length, and
// document frequency in the file.
type DictEntry struct {
	Category   []byte `json:"c"`
	Key        []byte `json:"k"`
	PostOffset int64  `json:"o"`
	PostLen    int    `json:"l"`
	DocFreq    int    `json:"d"`
}

// Writer serialises groups into an index file.
type Writer struct{}

// NewWriter creates a Writer.
func NewWriter() *Writer {
	return &Writer{}
}

// Write atomically replaces the file at finalPath with the given groups. It
// writes to a .tmp file first and renames on success. An empty group list
// produces a valid empty file.
func (w *Writer) Write(finalPath string, groups []Group) error {
	tmpPath := finalPath + ".tmp"

	if err := os.MkdirAll(filepath.Dir(finalPath), 0755); err != nil {
		return fmt.Errorf("creating index directory: %w", err)
	}
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("creating temp index file: %w", err)
	}
	defer f.Close()
	defer os.Remove(tmpPath)

	header := Header{
		Magic:      MagicBytes,
		Version:    FormatVersion,
		GroupCount: uint32(len(groups)),
		CreatedAt:  time.Now().Unix(),
	}
	headerBytes := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint32(headerBytes[0:4], header.Magic)
	binary.LittleEndian.PutUint32(headerBytes[4:8], header.Version)
	binary.LittleEndian.PutUint32(headerBytes[8:12], header.GroupCount)
	binary.LittleEndian.PutUint64(headerBytes[48:56], uint64(header.CreatedAt))

	if _, err := f.Write(headerBytes); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}

	postingsStart := int64(HeaderSize)
	offset := postingsStart
	dict := make([]DictEntry, 0, len(groups))
	docs := make(map[string]struct{})
	for _, g := range groups {
		postingsData, err := json.Marshal(g.Paths)
		if err != nil {
			return fmt.Errorf("marshaling paths for key %q: %w", g.Key, err)
		}
		if _, err := f.Write(postingsData); err != nil {
			return fmt.Errorf("writing paths for key %q: %w", g.Key, err)
		}
		dict = append(dict, DictEntry{
			Category:   g.Category,
			Key:        g.Key,
			PostOffset: offset - postingsStart,
			PostLen:    len(postingsData),
			DocFreq:    len(g.Paths),
		})
		offset += int64(len(postingsData))
		for _, p := range g.Paths {
			docs[p] = struct{}{}
		}
	}

	postingsSize := offset - postingsStart
	dictStart := offset
	dictData, err := json.Marshal(dict)
	if err != nil {
		return fmt.Errorf("marshaling dictionary: %w", err)
	}
	if _, err := f.Write(dictData); err != nil {
		return fmt.Errorf("writing dictionary: %w", err)
	}
	dictSize := int64(len(dictData))
	checksum := crc32.ChecksumIEEE(dictData)
	footer := make([]byte, FooterSize)
	binary.LittleEndian.PutUint32(footer[0:4], checksum)
	binary.LittleEndian.PutUint32(footer[4:8], uint32(len(docs)))
	binary.LittleEndian.PutUint64(footer[8:16], uint64(dictStart))
	binary.LittleEndian.PutUint64(footer[16:24], uint64(dictSize))
	binary.LittleEndian.PutUint64(footer[24:32], uint64(postingsSize))
	if _, err := f.Write(footer); err != nil {
		return fmt.Errorf("writing footer: %w", err)
	}
	binary.LittleEndian.PutUint32(headerBytes[12:16], uint32(len(docs)))
	binary.LittleEndian.PutUint64(headerBytes[16:24], uint64(dictStart))
	binary.LittleEndian.PutUint64(headerBytes[24:32], uint64(dictSize))
	binary.LittleEndian.PutUint64(headerBytes[32:40], uint64(postingsStart))
	binary.LittleEndian.PutUint64(headerBytes[40:48], uint64(postingsSize))
	if _, err := f.WriteAt(headerBytes, 0); err != nil {
		return fmt.Errorf("updating header: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("syncing index file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing index file: %w", err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return fmt.Errorf("renaming index file: %w", err)
	}
	return nil
}
