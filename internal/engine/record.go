package engine

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log"

	"github.com/zeebo/xxh3"
	"github.com/rivulet/kvs/internal/kverrors"
)

// recordKind tags a persisted command as Set or Remove.
type recordKind int8

const (
	recordRemove recordKind = iota
	recordSet
)

// on-disk layout: [8-byte checksum][4-byte keyLen][4-byte valLen][1-byte kind][1-byte reserved][key][val]
const (
	hdrLen = 18
	csLen  = 8
)

// writeCommand emits a self-delimiting record and returns its total length.
func writeCommand(w io.Writer, kind recordKind, key, val string) (int64, error) {
	totalLen := hdrLen + len(key) + len(val)
	buf := make([]byte, totalLen)

	sb := buf[csLen:]
	binary.LittleEndian.PutUint32(sb, uint32(len(key)))
	sb = sb[4:]
	binary.LittleEndian.PutUint32(sb, uint32(len(val)))
	sb = sb[4:]
	sb[0] = byte(kind)
	sb = sb[1:]
	sb[0] = 0 // reserved, keeps the header length even
	sb = sb[1:]
	copy(sb, key)
	sb = sb[len(key):]
	copy(sb, val)
	sb = sb[len(val):]

	if len(sb) != 0 {
		log.Panicf("unexpected remaining data on record buffer: %v", sb)
	}

	checksum := xxh3.Hash(buf[csLen:])
	binary.LittleEndian.PutUint64(buf[:csLen], checksum)

	if _, err := w.Write(buf); err != nil {
		return 0, err
	}
	return int64(totalLen), nil
}

// readCommand reads exactly one record at off via two ReadAt calls: the
// fixed header, then the key+value payload it describes.
func readCommand(r io.ReaderAt, off int64, verifyChecksum bool) (key, val string, kind recordKind, err error) {
	var hdr [hdrLen]byte
	if _, err = r.ReadAt(hdr[:], off); err != nil {
		return "", "", 0, err
	}

	checksum, keyLen, valLen, kind := parseHeader(hdr)

	buf := make([]byte, hdrLen+keyLen+valLen)
	copy(buf, hdr[:])
	if _, err = r.ReadAt(buf[hdrLen:], off+hdrLen); err != nil {
		return "", "", kind, err
	}

	if verifyChecksum {
		if computed := xxh3.Hash(buf[csLen:]); computed != checksum {
			return "", "", kind, fmt.Errorf("%w: expected %x, got %x", kverrors.ErrChecksumMismatch, checksum, computed)
		}
	}

	key = string(buf[hdrLen : hdrLen+keyLen])
	val = string(buf[hdrLen+keyLen:])
	return key, val, kind, nil
}

func parseHeader(hdr [hdrLen]byte) (checksum uint64, keyLen, valLen int, kind recordKind) {
	sb := hdr[:]
	checksum = binary.LittleEndian.Uint64(sb)
	sb = sb[csLen:]
	keyLen = int(binary.LittleEndian.Uint32(sb))
	sb = sb[4:]
	valLen = int(binary.LittleEndian.Uint32(sb))
	sb = sb[4:]
	kind = recordKind(sb[0])
	return checksum, keyLen, valLen, kind
}

// scannedRecord is a single decoded record plus its start offset, produced
// while replaying a segment on open.
type scannedRecord struct {
	key   string
	val   string
	off   int64
	kind  recordKind
	end   int64 // offset immediately past this record
}

// recordScanner decodes a concatenated stream of records without look-back,
// tracking the byte offset immediately past the most recently scanned
// record so callers can compute precise [start, end) ranges.
type recordScanner struct {
	reader         *bufio.Reader
	record         *scannedRecord
	pos            int64
	err            error
	verifyChecksum bool
}

func newRecordScanner(r io.ReaderAt, verifyChecksum bool) *recordScanner {
	const maxInt64 = 1<<63 - 1
	sr := io.NewSectionReader(r, 0, maxInt64)
	return &recordScanner{reader: bufio.NewReader(sr), verifyChecksum: verifyChecksum}
}

func isEOF(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
}

// scan advances to the next record, returning false at a clean end of
// stream or on a truncated/corrupt tail (which is treated as a torn
// last write and silently dropped, not an error).
func (rs *recordScanner) scan() bool {
	if rs.err != nil {
		return false
	}
	rs.record = nil

	var hdr [hdrLen]byte
	if _, err := io.ReadFull(rs.reader, hdr[:]); err != nil {
		if !isEOF(err) {
			rs.err = fmt.Errorf("read record header: %w", err)
		}
		return false
	}

	checksum, keyLen, valLen, kind := parseHeader(hdr)
	buf := make([]byte, hdrLen+keyLen+valLen)
	copy(buf, hdr[:])
	if _, err := io.ReadFull(rs.reader, buf[hdrLen:]); err != nil {
		if !isEOF(err) {
			rs.err = fmt.Errorf("read record payload: %w", err)
		}
		// a partial tail record means the process crashed mid-write; we
		// drop it rather than failing the whole replay.
		return false
	}

	if rs.verifyChecksum {
		if computed := xxh3.Hash(buf[csLen:]); computed != checksum {
			rs.err = fmt.Errorf("%w: expected %x, got %x", kverrors.ErrChecksumMismatch, checksum, computed)
			return false
		}
	}

	start := rs.pos
	rs.pos += int64(len(buf))
	rs.record = &scannedRecord{
		key:  string(buf[hdrLen : hdrLen+keyLen]),
		val:  string(buf[hdrLen+keyLen:]),
		off:  start,
		kind: kind,
		end:  rs.pos,
	}
	return true
}
