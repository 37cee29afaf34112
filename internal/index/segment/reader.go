package segment

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"hash/crc32"
	"io/fs"
	"os"

	apperrors "github.com/Adithya-Monish-Kumar-K/searchcore/pkg/errors"
)

type Reader struct {
	file     *os.File
	filePath string
	header   Header
	dict     []DictEntry
	postBase int64
}

// OpenReader opens and validates an index file. A missing file wraps
// ErrIndexNotFound; a file that fails validation wraps ErrIndexCorrupt.
func OpenReader(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("opening index file %s: %w", path, apperrors.ErrIndexNotFound)
		}
		return nil, fmt.Errorf("opening index file %s: %w: %v", path, apperrors.ErrIndexIO, err)
	}
	headerBytes := make([]byte, HeaderSize)
	if _, err := f.ReadAt(headerBytes, 0); err != nil {
		f.Close()
		return nil, fmt.Errorf("reading header of %s: %w: %v", path, apperrors.ErrIndexCorrupt, err)
	}
	magic := binary.LittleEndian.Uint32(headerBytes[0:4])
	if magic != MagicBytes {
		f.Close()
		return nil, fmt.Errorf("invalid index file %s: bad magic bytes %x: %w", path, magic, apperrors.ErrIndexCorrupt)
	}
	header := Header{
		Magic:      magic,
		Version:    binary.LittleEndian.Uint32(headerBytes[4:8]),
		GroupCount: binary.LittleEndian.Uint32(headerBytes[8:12]),
		DocCount:   binary.LittleEndian.Uint32(headerBytes[12:16]),
		DictOffset: int64(binary.LittleEndian.Uint64(headerBytes[16:24])),
		DictSize:   int64(binary.LittleEndian.Uint64(headerBytes[24:32])),
		PostOffset: int64(binary.LittleEndian.Uint64(headerBytes[32:40])),
		PostSize:   int64(binary.LittleEndian.Uint64(headerBytes[40:48])),
		CreatedAt:  int64(binary.LittleEndian.Uint64(headerBytes[48:56])),
	}
	if header.Version != FormatVersion {
		f.Close()
		return nil, fmt.Errorf("index file %s has version %d, want %d: %w", path, header.Version, FormatVersion, apperrors.ErrIndexCorrupt)
	}
	dictBytes := make([]byte, header.DictSize)
	if _, err := f.ReadAt(dictBytes, header.DictOffset); err != nil {
		f.Close()
		return nil, fmt.Errorf("reading dictionary of %s: %w: %v", path, apperrors.ErrIndexCorrupt, err)
	}
	footer := make([]byte, FooterSize)
	if _, err := f.ReadAt(footer, header.DictOffset+header.DictSize); err != nil {
		f.Close()
		return nil, fmt.Errorf("reading footer of %s: %w: %v", path, apperrors.ErrIndexCorrupt, err)
	}
	if binary.LittleEndian.Uint32(footer[0:4]) != crc32.ChecksumIEEE(dictBytes) {
		f.Close()
		return nil, fmt.Errorf("dictionary checksum mismatch in %s: %w", path, apperrors.ErrIndexCorrupt)
	}
	var dict []DictEntry
	if err := json.Unmarshal(dictBytes, &dict); err != nil {
		f.Close()
		return nil, fmt.Errorf("parsing dictionary of %s: %w: %v", path, apperrors.ErrIndexCorrupt, err)
	}
	return &Reader{
		file:     f,
		filePath: path,
		header:   header,
		dict:     dict,
		postBase: header.PostOffset,
	}, nil
}

// Groups reads every (category, key) group with its document paths.
func (r *Reader) Groups() ([]Group, error) {
	groups := make([]Group, 0, len(r.dict))
	for _, entry := range r.dict {
		paths, err := r.readPaths(entry)
		if err != nil {
			return nil, err
		}
		groups = append(groups, Group{
			Category: entry.Category,
			Key:      entry.Key,
			Paths:    paths,
		})
	}
	return groups, nil
}

func (r *Reader) readPaths(entry DictEntry) ([]string, error) {
	buf := make([]byte, entry.PostLen)
	if _, err := r.file.ReadAt(buf, r.postBase+entry.PostOffset); err != nil {
		return nil, fmt.Errorf("reading paths of %s: %w: %v", r.filePath, apperrors.ErrIndexCorrupt, err)
	}
	var paths []string
	if err := json.Unmarshal(buf, &paths); err != nil {
		return nil, fmt.Errorf("parsing paths of %s: %w: %v", r.filePath, apperrors.ErrIndexCorrupt, err)
	}
	return paths, nil
}

func (r *Reader) GroupCount() int {
	return len(r.dict)
}

func (r *Reader) DocCount() uint32 {
	return r.header.DocCount
}

func (r *Reader) Close() error {
	return r.file.Close()
}
