package models

import (
	"time"

	"go.uber.org/zap/zapcore"

	"fileclient/checksum"
	"fileclient/crypto"
)

// File is the persisted record of one locally stored payload. Values are
// immutable: the With methods return modified copies.
type File struct {
	ID          FileID
	URL         URL
	Path        string
	Name        string
	ContentType string
	MD5         checksum.MD5
	SHA256      checksum.SHA256
	Algorithm   crypto.Algorithm
	Secret      crypto.Secret
	Timestamp   time.Time
	// Length is the expected plaintext length, nil while unknown.
	Length *int64
}

func (f File) WithURL(url URL) File {
	f.URL = url
	return f
}

func (f File) WithName(name string) File {
	f.Name = name
	return f
}

func (f File) WithContentType(contentType string) File {
	f.ContentType = contentType
	return f
}

func (f File) WithLength(length int64) File {
	f.Length = &length
	return f
}

func (f File) WithChecksums(md5 checksum.MD5, sha256 checksum.SHA256) File {
	f.MD5 = md5
	f.SHA256 = sha256
	return f
}

// HasChecksums reports whether final digests were recorded.
func (f File) HasChecksums() bool {
	return f.MD5 != "" && f.SHA256 != ""
}

// MarshalLogObject omits the encryption secret.
func (f File) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddInt64("id", int64(f.ID))
	if f.URL != "" {
		enc.AddString("url", f.URL.String())
	}
	enc.AddString("path", f.Path)
	if f.Name != "" {
		enc.AddString("name", f.Name)
	}
	if f.ContentType != "" {
		enc.AddString("content_type", f.ContentType)
	}
	if f.SHA256 != "" {
		enc.AddString("sha256", f.SHA256.String())
	}
	enc.AddString("encryption", string(f.Algorithm))
	if f.Length != nil {
		enc.AddInt64("length", *f.Length)
	}
	enc.AddTime("timestamp", f.Timestamp)
	return nil
}
