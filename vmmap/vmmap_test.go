package vmmap_test

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frobware/go-raspeval"
	"github.com/frobware/go-raspeval/vmmap"
)

const fixturePID = 4242

const fixtureMaps = `5581a0c00000-5581a0c02000 r--p 00000000 fd:01 1001                       /system/bin/app_process64
5581a0c02000-5581a0c05000 r-xp 00002000 fd:01 1001                       /system/bin/app_process64
7f10000000-7f10020000 r--p 00000000 fd:01 2002                           /apex/com.android.runtime/lib64/bionic/libc.so
7f10020000-7f100a0000 r-xp 00020000 fd:01 2002                           /apex/com.android.runtime/lib64/bionic/libc.so
7f100a0000-7f100a4000 rw-p 000a0000 fd:01 2002                           /apex/com.android.runtime/lib64/bionic/libc.so
7f20000000-7f20010000 r--p 00000000 fd:01 3003                           /system/lib64/libcrypto.so
7f30000000-7f30001000 rw-p 00000000 00:00 0                              [anon:scudo]
7ffc00000000-7ffc00021000 rw-p 00000000 00:00 0                          [stack]
`

func writeFixture(t *testing.T, maps string) string {
	t.Helper()
	root := t.TempDir()
	dir := filepath.Join(root, strconv.Itoa(fixturePID))
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "maps"), []byte(maps), 0644))
	return root
}

func TestRead_SortedSnapshot(t *testing.T) {
	m, err := vmmap.Read(writeFixture(t, fixtureMaps), fixturePID)
	require.NoError(t, err)
	require.Len(t, m, 8)
	for i := 1; i < len(m); i++ {
		assert.Less(t, m[i-1].StartAddr, m[i].StartAddr)
	}
}

func TestRead_MissingProcess(t *testing.T) {
	_, err := vmmap.Read(t.TempDir(), fixturePID)
	require.Error(t, err)
}

func TestProtectionAt(t *testing.T) {
	m, err := vmmap.Read(writeFixture(t, fixtureMaps), fixturePID)
	require.NoError(t, err)

	tests := []struct {
		addr uintptr
		want raspeval.Protection
	}{
		{0x5581a0c00000, raspeval.ProtRead},
		{0x5581a0c03000, raspeval.ProtRead | raspeval.ProtExec},
		{0x7f100a0fff, raspeval.ProtRead | raspeval.ProtWrite},
		{0x7f30000000, raspeval.ProtRead | raspeval.ProtWrite},
	}
	for _, tt := range tests {
		got, err := m.ProtectionAt(tt.addr)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "addr %#x", tt.addr)
	}

	_, err = m.ProtectionAt(0x1000)
	require.Error(t, err)
	_, err = m.ProtectionAt(0x5581a0c05000)
	require.Error(t, err, "end address is exclusive")
}

func TestFindByName(t *testing.T) {
	m, err := vmmap.Read(writeFixture(t, fixtureMaps), fixturePID)
	require.NoError(t, err)

	img, ok := m.FindByName("libc.so")
	require.True(t, ok)
	assert.Equal(t, "/apex/com.android.runtime/lib64/bionic/libc.so", img.Path)
	assert.Equal(t, uintptr(0x7f10000000), img.Start)
	assert.Equal(t, uintptr(0), img.Offset)

	img, ok = m.FindByName("libcrypto")
	require.True(t, ok)
	assert.Equal(t, "/system/lib64/libcrypto.so", img.Path)

	_, ok = m.FindByName("libfrida-gadget.so")
	assert.False(t, ok)

	_, ok = m.FindByName("stack")
	assert.False(t, ok, "pseudo mappings are never images")
}

func TestFindByName_SkipsDeletedImages(t *testing.T) {
	maps := fixtureMaps +
		"7f40000000-7f40010000 r--p 00000000 fd:01 4004 /data/app/lib/arm64/libhook.so (deleted)\n" +
		"7f50000000-7f50010000 r--p 00000000 fd:01 5005 /data/app/lib/arm64/libhook_v2.so\n"
	m, err := vmmap.Read(writeFixture(t, maps), fixturePID)
	require.NoError(t, err)

	// Both are prefix matches; the deleted one is mapped lower.
	img, ok := m.FindByName("libhook")
	require.True(t, ok)
	assert.Equal(t, "/data/app/lib/arm64/libhook_v2.so", img.Path)

	only := fixtureMaps + "7f40000000-7f40010000 r--p 00000000 fd:01 4004 /data/app/lib/arm64/libgone.so (deleted)\n"
	m, err = vmmap.Read(writeFixture(t, only), fixturePID)
	require.NoError(t, err)
	_, ok = m.FindByName("libgone.so")
	assert.False(t, ok)
}

func TestFindByPath(t *testing.T) {
	m, err := vmmap.Read(writeFixture(t, fixtureMaps), fixturePID)
	require.NoError(t, err)

	img, ok := m.FindByPath("/system/bin/app_process64")
	require.True(t, ok)
	assert.Equal(t, uintptr(0x5581a0c00000), img.Start)

	_, ok = m.FindByPath("/system/bin/linker64")
	assert.False(t, ok)
}

func TestReadSelf(t *testing.T) {
	m, err := vmmap.Read(vmmap.DefaultProcRoot, os.Getpid())
	if err != nil {
		t.Skipf("proc filesystem not available: %v", err)
	}
	require.NotEmpty(t, m)

	var probe int
	_, ok := m.Containing(uintptr(addrOf(&probe)))
	assert.True(t, ok, "a heap or stack variable lies in some mapping")
}
