package archive

import (
	"archive/tar"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/sitepack/sitepack/internal/compress"
	"github.com/sitepack/sitepack/internal/cryptoutil"
	"github.com/sitepack/sitepack/internal/manifest"
)

// Input carries the members of one archive. DatabaseDumpPath and
// StorageTreeRoot may be empty; the corresponding members are then
// omitted from the container.
type Input struct {
	Manifest         manifest.Manifest
	Config           []byte
	DatabaseDumpPath string
	StorageTreeRoot  string
}

// Builder assembles password-protected migration archives.
type Builder struct {
	Compression string
}

// Create writes the container to path. The archive is written to a
// temporary file in the same directory and renamed into place, so a
// failed build never leaves partial output at the final path.
func (b *Builder) Create(path, password string, in Input) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrWrite, err)
	}
	defer os.Remove(tmp.Name())

	if err := b.Write(tmp, password, in); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: %v", ErrWrite, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("%w: %v", ErrWrite, err)
	}
	return nil
}

// Write streams the container to w. The manifest member is always first.
func (b *Builder) Write(w io.Writer, password string, in Input) error {
	salt, err := cryptoutil.NewSalt()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrWrite, err)
	}
	key, err := cryptoutil.DeriveKey(password, salt)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrWrite, err)
	}
	if err := writeHeader(w, header{
		compression: b.Compression,
		salt:        salt,
		keyCheck:    cryptoutil.KeyCheck(key, salt),
	}); err != nil {
		return fmt.Errorf("%w: %v", ErrWrite, err)
	}

	enc, err := cryptoutil.EncryptWriter(w, key)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrWrite, err)
	}
	comp, err := compress.WrapWriter(b.Compression, enc)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrWrite, err)
	}
	tw := tar.NewWriter(comp)

	if err := b.writeMembers(tw, in); err != nil {
		return err
	}

	for _, closer := range []io.Closer{tw, comp, enc} {
		if err := closer.Close(); err != nil {
			return fmt.Errorf("%w: %v", ErrWrite, err)
		}
	}
	return nil
}

func (b *Builder) writeMembers(tw *tar.Writer, in Input) error {
	manifestBytes, err := in.Manifest.Serialize()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrWrite, err)
	}
	if err := writeFileMember(tw, MemberManifest, manifestBytes); err != nil {
		return err
	}
	if in.Config != nil {
		if err := writeFileMember(tw, MemberConfig, in.Config); err != nil {
			return err
		}
	}
	if in.DatabaseDumpPath != "" {
		if err := copyFileMember(tw, MemberDatabase, in.DatabaseDumpPath); err != nil {
			return err
		}
	}
	if in.StorageTreeRoot != "" {
		if err := writeTreeMember(tw, in.StorageTreeRoot); err != nil {
			return err
		}
	}
	return nil
}

func writeFileMember(tw *tar.Writer, name string, data []byte) error {
	hdr := &tar.Header{
		Name:    name,
		Mode:    0o600,
		Size:    int64(len(data)),
		ModTime: time.Now().UTC(),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("%w: member %s: %v", ErrWrite, name, err)
	}
	if _, err := tw.Write(data); err != nil {
		return fmt.Errorf("%w: member %s: %v", ErrWrite, name, err)
	}
	return nil
}

func copyFileMember(tw *tar.Writer, name, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("%w: member %s: %v", ErrWrite, name, err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return fmt.Errorf("%w: member %s: %v", ErrWrite, name, err)
	}
	hdr := &tar.Header{
		Name:    name,
		Mode:    0o600,
		Size:    info.Size(),
		ModTime: info.ModTime(),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("%w: member %s: %v", ErrWrite, name, err)
	}
	if _, err := io.Copy(tw, file); err != nil {
		return fmt.Errorf("%w: member %s: %v", ErrWrite, name, err)
	}
	return nil
}

func writeTreeMember(tw *tar.Writer, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("%w: walk %s: %v", ErrWrite, path, err)
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrWrite, err)
		}
		if rel == "." {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return fmt.Errorf("%w: stat %s: %v", ErrWrite, path, err)
		}
		// Only regular files and directories travel; sockets, devices
		// and symlinks are host artifacts.
		if !info.Mode().IsRegular() && !info.IsDir() {
			return nil
		}
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return fmt.Errorf("%w: %v", ErrWrite, err)
		}
		hdr.Name = MemberStoragePrefix + filepath.ToSlash(rel)
		if info.IsDir() {
			hdr.Name += "/"
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return fmt.Errorf("%w: member %s: %v", ErrWrite, hdr.Name, err)
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		file, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("%w: member %s: %v", ErrWrite, hdr.Name, err)
		}
		defer file.Close()
		if _, err := io.Copy(tw, file); err != nil {
			return fmt.Errorf("%w: member %s: %v", ErrWrite, hdr.Name, err)
		}
		return nil
	})
}
