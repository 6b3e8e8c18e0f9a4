// Package archive implements the portable migration container: a small
// cleartext header (magic, format version, compression code, KDF salt,
// key check) followed by a DARE-encrypted, compressed tar stream.
//
// The tar stream holds up to four members under fixed names. The manifest
// is mandatory and always written first; the other members are optional
// and their absence is meaningful (a backup without a database simply has
// no database member).
package archive

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/sitepack/sitepack/internal/compress"
	"github.com/sitepack/sitepack/internal/cryptoutil"
)

const (
	MemberManifest      = "manifest.json"
	MemberConfig        = "config.env"
	MemberDatabase      = "database.sql"
	MemberStoragePrefix = "storage/"

	// Extension is the conventional archive file extension.
	Extension = ".spk"
)

const (
	magic         = "SPAK"
	formatVersion = uint16(1)
	headerSize    = 4 + 2 + 1 + cryptoutil.SaltSize + 8
)

var (
	// ErrWrite indicates the container could not be produced.
	ErrWrite = errors.New("archive write failed")
	// ErrWrongPassword indicates the supplied password does not match.
	ErrWrongPassword = errors.New("wrong archive password")
	// ErrCorrupt indicates the container is damaged or not an archive.
	ErrCorrupt = errors.New("corrupt archive")
	// ErrMissingManifest indicates a container without a manifest member.
	ErrMissingManifest = errors.New("archive has no manifest")
)

type header struct {
	compression string
	salt        []byte
	keyCheck    []byte
}

func writeHeader(w io.Writer, h header) error {
	code, err := compress.Code(h.compression)
	if err != nil {
		return err
	}
	buf := &bytes.Buffer{}
	buf.WriteString(magic)
	if err := binary.Write(buf, binary.BigEndian, formatVersion); err != nil {
		return err
	}
	buf.WriteByte(code)
	buf.Write(h.salt)
	buf.Write(h.keyCheck)
	_, err = w.Write(buf.Bytes())
	return err
}

func readHeader(r io.Reader) (header, error) {
	raw := make([]byte, headerSize)
	if _, err := io.ReadFull(r, raw); err != nil {
		return header{}, fmt.Errorf("%w: truncated header", ErrCorrupt)
	}
	if string(raw[:4]) != magic {
		return header{}, fmt.Errorf("%w: bad magic", ErrCorrupt)
	}
	if ver := binary.BigEndian.Uint16(raw[4:6]); ver != formatVersion {
		return header{}, fmt.Errorf("%w: unsupported format version %d", ErrCorrupt, ver)
	}
	kind, err := compress.KindFromCode(raw[6])
	if err != nil {
		return header{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	salt := raw[7 : 7+cryptoutil.SaltSize]
	check := raw[7+cryptoutil.SaltSize:]
	return header{compression: kind, salt: salt, keyCheck: check}, nil
}
