package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// TempFor creates an empty temporary file next to dst, keeping dst's
// extension so tools that infer the container from the name still work.
// The caller publishes it with Commit or removes it.
func TempFor(dst string) (string, error) {
	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("create directory %s: %w", dir, err)
	}

	ext := filepath.Ext(dst)
	base := strings.TrimSuffix(filepath.Base(dst), ext)
	f, err := os.CreateTemp(dir, "."+base+".tmp-*"+ext)
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	name := f.Name()
	if err := f.Close(); err != nil {
		_ = os.Remove(name)
		return "", fmt.Errorf("close temp file: %w", err)
	}
	return name, nil
}

// Commit atomically moves a finished temp file to dst.
func Commit(tmp, dst string) error {
	if err := os.Rename(tmp, dst); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("publish %s: %w", dst, err)
	}
	return nil
}

// CopyFile copies src to dst through a temp file so readers never see a
// partially written dst.
func CopyFile(src, dst string) error {
	in, err := os.Open(src) // #nosec G304 - src comes from the pipeline's own layout
	if err != nil {
		return fmt.Errorf("open source file: %w", err)
	}
	defer func() { _ = in.Close() }()

	tmp, err := TempFor(dst)
	if err != nil {
		return err
	}

	out, err := os.OpenFile(tmp, os.O_WRONLY|os.O_TRUNC, 0o600) // #nosec G304 - tmp is created by TempFor
	if err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("open temp file: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("copy data: %w", err)
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("close temp file: %w", err)
	}

	return Commit(tmp, dst)
}
