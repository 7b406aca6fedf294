package archive

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testLimit = 1 << 20

func zipOf(t *testing.T, entries map[string]string) []byte {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range entries {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestPackUnpack(t *testing.T) {
	src := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(src, "kernels", "gfx9"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "build.sh"), []byte("#!/bin/sh\n"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "kernels", "gfx9", "v_add.s"), []byte("v_add_f32 v0, v1, v2"), 0o644))

	data, err := Pack(src)
	require.NoError(t, err)

	dest := filepath.Join(t.TempDir(), "deploy")
	require.NoError(t, Unpack(data, dest, false, testLimit))

	b, err := os.ReadFile(filepath.Join(dest, "kernels", "gfx9", "v_add.s"))
	require.NoError(t, err)
	assert.Equal(t, "v_add_f32 v0, v1, v2", string(b))

	info, err := os.Stat(filepath.Join(dest, "build.sh"))
	require.NoError(t, err)
	assert.NotZero(t, info.Mode().Perm()&0o100)
}

func TestUnpackOverwrites(t *testing.T) {
	dest := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dest, "a.txt"), []byte("old contents that are longer"), 0o644))
	require.NoError(t, Unpack(zipOf(t, map[string]string{"a.txt": "new"}), dest, false, testLimit))
	b, err := os.ReadFile(filepath.Join(dest, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "new", string(b))
}

func TestUnpackRejectsEscapingEntries(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "dest")
	err := Unpack(zipOf(t, map[string]string{"ok.txt": "ok", "../evil.txt": "evil"}), dest, false, testLimit)
	require.ErrorIs(t, err, ErrPathOutsideRoot)
	_, err = os.Stat(dest)
	assert.True(t, os.IsNotExist(err))
}

func TestUnpackEnforcesSizeLimit(t *testing.T) {
	data := zipOf(t, map[string]string{"a.bin": strings.Repeat("a", 600), "b.bin": strings.Repeat("b", 600)})

	dest := filepath.Join(t.TempDir(), "dest")
	err := Unpack(data, dest, false, 1000)
	require.ErrorIs(t, err, ErrTooLarge)
	_, err = os.Stat(dest)
	assert.True(t, os.IsNotExist(err), "nothing is written when declared sizes exceed the limit")

	require.NoError(t, Unpack(data, t.TempDir(), false, 1200))
}

func TestUnpackBoundsUnderstatedSizes(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.CreateHeader(&zip.FileHeader{Name: "bomb.bin", Method: zip.Deflate})
	require.NoError(t, err)
	_, err = w.Write(bytes.Repeat([]byte{0}, 64<<10))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, err)
	target := filepath.Join(t.TempDir(), "bomb.bin")
	budget := int64(1024)
	err = extractFile(zr.File[0], target, &budget)
	require.ErrorIs(t, err, ErrTooLarge)

	info, err := os.Stat(target)
	require.NoError(t, err)
	assert.LessOrEqual(t, info.Size(), int64(1025))
}

func TestUnpackInvalidArchive(t *testing.T) {
	err := Unpack([]byte("definitely not a zip archive"), t.TempDir(), false, testLimit)
	assert.Error(t, err)
}

func TestUnpackPreservesTimestamps(t *testing.T) {
	stamp := time.Date(2020, 1, 2, 3, 4, 5, 0, time.UTC)
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.CreateHeader(&zip.FileHeader{Name: "old.txt", Method: zip.Deflate, Modified: stamp})
	require.NoError(t, err)
	_, err = w.Write([]byte("x"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	dest := t.TempDir()
	require.NoError(t, Unpack(buf.Bytes(), dest, true, testLimit))
	info, err := os.Stat(filepath.Join(dest, "old.txt"))
	require.NoError(t, err)
	assert.True(t, info.ModTime().Equal(stamp), "got %s", info.ModTime())
}

func TestSecureJoin(t *testing.T) {
	root := filepath.Join(string(filepath.Separator), "srv", "root")
	p, err := SecureJoin(root, "a/b.txt")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "a", "b.txt"), p)

	p, err = SecureJoin(root, "")
	require.NoError(t, err)
	assert.Equal(t, root, p)

	_, err = SecureJoin(root, "a/../../x")
	assert.ErrorIs(t, err, ErrPathOutsideRoot)
	_, err = SecureJoin(root, "..")
	assert.ErrorIs(t, err, ErrPathOutsideRoot)
}
