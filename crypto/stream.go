package crypto

import (
	"crypto/cipher"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	// RecordSize is the largest plaintext sealed into a single record.
	RecordSize = 64 * 1024
	headerSize = 4
)

// ErrCorruptStream is returned when a record header is out of bounds.
var ErrCorruptStream = errors.New("crypto: corrupt record stream")

// Layout describes the records found in an encrypted file.
type Layout struct {
	// Records is the number of complete records, and the counter of the next one.
	Records uint64
	// Plaintext is the total plaintext length of the complete records.
	Plaintext int64
	// End is the byte offset just past the last complete record. Bytes after
	// End belong to a torn record and are discarded on the next append.
	End int64
}

// Scan walks the record headers of src without decrypting anything.
func Scan(src io.ReaderAt, size int64, alg Algorithm) (Layout, error) {
	if alg == AlgorithmNone {
		return Layout{Plaintext: size, End: size}, nil
	}

	var (
		layout Layout
		hdr    [headerSize]byte
		pos    int64
	)
	for pos+headerSize <= size {
		if _, err := src.ReadAt(hdr[:], pos); err != nil {
			return Layout{}, fmt.Errorf("read record header at %d: %w", pos, err)
		}
		n := int64(binary.BigEndian.Uint32(hdr[:]))
		if n <= tagSize || n > RecordSize+tagSize {
			return Layout{}, fmt.Errorf("%w: record %d at offset %d has length %d", ErrCorruptStream, layout.Records, pos, n)
		}
		if pos+headerSize+n > size {
			break
		}
		layout.Records++
		layout.Plaintext += n - tagSize
		pos += headerSize + n
	}
	layout.End = pos
	return layout, nil
}

// Writer seals plaintext into records appended to dst. Close must be called
// to flush the final partial record.
type Writer struct {
	dst     io.Writer
	aead    cipher.AEAD
	iv      []byte
	counter uint64
	buf     []byte
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

// NewWriter returns a writer whose first record uses counter next. For
// AlgorithmNone the plaintext is passed through unchanged.
func NewWriter(dst io.Writer, alg Algorithm, secret Secret, next uint64) (io.WriteCloser, error) {
	if alg == AlgorithmNone {
		return nopWriteCloser{dst}, nil
	}
	aead, err := newAEAD(alg, secret)
	if err != nil {
		return nil, err
	}
	return &Writer{
		dst:     dst,
		aead:    aead,
		iv:      secret.IV,
		counter: next,
		buf:     make([]byte, 0, RecordSize),
	}, nil
}

func (w *Writer) Write(p []byte) (int, error) {
	written := 0
	for len(p) > 0 {
		take := min(RecordSize-len(w.buf), len(p))
		w.buf = append(w.buf, p[:take]...)
		p = p[take:]
		written += take
		if len(w.buf) == RecordSize {
			if err := w.flush(); err != nil {
				return written, err
			}
		}
	}
	return written, nil
}

// Close seals any buffered plaintext. It does not close dst.
func (w *Writer) Close() error {
	return w.flush()
}

func (w *Writer) flush() error {
	if len(w.buf) == 0 {
		return nil
	}
	record := make([]byte, headerSize, headerSize+len(w.buf)+w.aead.Overhead())
	record = sealRecord(w.aead, w.iv, w.counter, record, w.buf)
	binary.BigEndian.PutUint32(record[:headerSize], uint32(len(record)-headerSize))
	if _, err := w.dst.Write(record); err != nil {
		return fmt.Errorf("write record %d: %w", w.counter, err)
	}
	w.counter++
	w.buf = w.buf[:0]
	return nil
}

type reader struct {
	src     io.Reader
	aead    cipher.AEAD
	iv      []byte
	counter uint64
	sealed  []byte
	plain   []byte
}

// NewReader returns the decrypted plaintext of src starting at the plaintext
// offset. A torn trailing record is not returned.
func NewReader(src io.ReaderAt, size int64, alg Algorithm, secret Secret, offset int64) (io.Reader, error) {
	layout, err := Scan(src, size, alg)
	if err != nil {
		return nil, err
	}
	if offset < 0 || offset > layout.Plaintext {
		return nil, fmt.Errorf("offset %d outside plaintext length %d", offset, layout.Plaintext)
	}
	if alg == AlgorithmNone {
		return io.NewSectionReader(src, offset, size-offset), nil
	}

	aead, err := newAEAD(alg, secret)
	if err != nil {
		return nil, err
	}

	var (
		hdr     [headerSize]byte
		pos     int64
		covered int64
		counter uint64
	)
	for pos < layout.End {
		if _, err := src.ReadAt(hdr[:], pos); err != nil {
			return nil, fmt.Errorf("read record header at %d: %w", pos, err)
		}
		n := int64(binary.BigEndian.Uint32(hdr[:]))
		if covered+n-tagSize > offset {
			break
		}
		covered += n - tagSize
		counter++
		pos += headerSize + n
	}

	r := &reader{
		src:     io.NewSectionReader(src, pos, layout.End-pos),
		aead:    aead,
		iv:      secret.IV,
		counter: counter,
	}
	if skip := offset - covered; skip > 0 {
		if _, err := io.CopyN(io.Discard, r, skip); err != nil {
			return nil, fmt.Errorf("seek to plaintext offset %d: %w", offset, err)
		}
	}
	return r, nil
}

func (r *reader) Read(p []byte) (int, error) {
	for len(r.plain) == 0 {
		if err := r.next(); err != nil {
			return 0, err
		}
	}
	n := copy(p, r.plain)
	r.plain = r.plain[n:]
	return n, nil
}

func (r *reader) next() error {
	var hdr [headerSize]byte
	if _, err := io.ReadFull(r.src, hdr[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return io.EOF
		}
		return fmt.Errorf("read record %d header: %w", r.counter, err)
	}
	n := int(binary.BigEndian.Uint32(hdr[:]))
	if n <= tagSize || n > RecordSize+tagSize {
		return fmt.Errorf("%w: record %d has length %d", ErrCorruptStream, r.counter, n)
	}
	if cap(r.sealed) < n {
		r.sealed = make([]byte, n)
	}
	r.sealed = r.sealed[:n]
	if _, err := io.ReadFull(r.src, r.sealed); err != nil {
		return fmt.Errorf("read record %d: %w", r.counter, err)
	}
	plain, err := openRecord(r.aead, r.iv, r.counter, r.plain[:0], r.sealed)
	if err != nil {
		return err
	}
	r.plain = plain
	r.counter++
	return nil
}
