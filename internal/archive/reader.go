package archive

import (
	"archive/tar"
	"bytes"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/sitepack/sitepack/internal/compress"
	"github.com/sitepack/sitepack/internal/cryptoutil"
	"github.com/sitepack/sitepack/internal/manifest"
)

// Reader is a handle on an opened archive. Open validates the password
// and the manifest before any other member is touched.
type Reader struct {
	path        string
	key         []byte
	compression string
	manifest    manifest.Manifest
}

// Open validates the container at path against the password and reads
// its manifest. A wrong password is detected from the header key check;
// stream-level failures past that point mean corruption.
func Open(path, password string) (*Reader, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	defer file.Close()

	hdr, err := readHeader(file)
	if err != nil {
		return nil, err
	}
	key, err := cryptoutil.DeriveKey(password, hdr.salt)
	if err != nil {
		return nil, err
	}
	if subtle.ConstantTimeCompare(cryptoutil.KeyCheck(key, hdr.salt), hdr.keyCheck) != 1 {
		return nil, ErrWrongPassword
	}

	r := &Reader{path: path, key: key, compression: hdr.compression}
	if err := r.readManifest(file); err != nil {
		return nil, err
	}
	return r, nil
}

// Manifest returns the archive's manifest.
func (r *Reader) Manifest() manifest.Manifest { return r.manifest }

func (r *Reader) readManifest(payload io.Reader) error {
	tr, closeStream, err := r.payloadStream(payload)
	if err != nil {
		return err
	}
	defer closeStream()

	hdr, err := tr.Next()
	if errors.Is(err, io.EOF) {
		return ErrMissingManifest
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if hdr.Name != MemberManifest {
		return ErrMissingManifest
	}
	data := &bytes.Buffer{}
	if _, err := io.Copy(data, tr); err != nil {
		return fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	m, err := manifest.Read(data.Bytes())
	if err != nil {
		return err
	}
	r.manifest = m
	return nil
}

// ExtractAll unpacks every present member below dir, preserving relative
// structure. Members absent from the archive are simply not produced.
func (r *Reader) ExtractAll(dir string) error {
	file, err := os.Open(r.path)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer file.Close()
	if _, err := readHeader(file); err != nil {
		return err
	}

	tr, closeStream, err := r.payloadStream(file)
	if err != nil {
		return err
	}
	defer closeStream()

	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		target, err := memberPath(dir, hdr.Name)
		if err != nil {
			return err
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o750); err != nil {
				return fmt.Errorf("extract %s: %w", hdr.Name, err)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o750); err != nil {
				return fmt.Errorf("extract %s: %w", hdr.Name, err)
			}
			if err := writeExtracted(target, tr, hdr); err != nil {
				return err
			}
		}
	}
}

func writeExtracted(target string, tr io.Reader, hdr *tar.Header) error {
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(hdr.Mode)&0o777)
	if err != nil {
		return fmt.Errorf("extract %s: %w", hdr.Name, err)
	}
	defer out.Close()
	if _, err := io.Copy(out, tr); err != nil {
		return fmt.Errorf("%w: member %s: %v", ErrCorrupt, hdr.Name, err)
	}
	return nil
}

func (r *Reader) payloadStream(payload io.Reader) (*tar.Reader, func(), error) {
	dec, err := cryptoutil.DecryptReader(payload, r.key)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	comp, err := compress.WrapReader(r.compression, dec)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return tar.NewReader(comp), func() { comp.Close() }, nil
}

func memberPath(dir, name string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(name))
	if clean == ".." || strings.HasPrefix(clean, ".."+string(os.PathSeparator)) || filepath.IsAbs(clean) {
		return "", fmt.Errorf("%w: unsafe member path %q", ErrCorrupt, name)
	}
	return filepath.Join(dir, clean), nil
}
