package mtr

import (
	"testing"

	"github.com/ibkv-project/ibkv/buffer"
	"github.com/ibkv-project/ibkv/redolog"
	"github.com/stretchr/testify/require"
)

func newTestEnv(t *testing.T) (*buffer.Manager, *redolog.Log) {
	t.Helper()
	bm, err := buffer.NewManager(8, nil)
	require.NoError(t, err)
	log, err := redolog.Open(t.TempDir(), 1, 1, 64*1024, 1<<20)
	require.NoError(t, err)
	t.Cleanup(func() { _ = log.CloseFiles() })
	return bm, log
}

func TestPageGetMissWithoutPut(t *testing.T) {
	bm, log := newTestEnv(t)
	m := New(bm, log)
	m.Start()

	_, ok := m.PageGet(buffer.NewPageID(0, 1), SLatch)
	require.False(t, ok, "a page never Put into the directory is not resident")
}

func TestWriteUlintAndCommit(t *testing.T) {
	bm, log := newTestEnv(t)
	pageID := buffer.NewPageID(0, 1)

	frameID, ok := bm.AllocateFrame(buffer.PoolDefault)
	require.True(t, ok)
	bm.Put(pageID, frameID)

	m := New(bm, log)
	m.Start()

	got, ok := m.PageGet(pageID, XLatch)
	require.True(t, ok)
	require.Equal(t, frameID, got)

	require.NoError(t, m.WriteUlint(frameID, 100, 0xdeadbeef, 4))

	endLSN, err := m.Commit()
	require.NoError(t, err)
	require.Greater(t, endLSN, uint64(0))

	data := bm.Data(frameID)
	require.Equal(t, []byte{0xde, 0xad, 0xbe, 0xef}, data[100:104])
}

func TestCommitWithNoWritesStillReleasesLatches(t *testing.T) {
	bm, log := newTestEnv(t)
	pageID := buffer.NewPageID(0, 2)
	frameID, ok := bm.AllocateFrame(buffer.PoolDefault)
	require.True(t, ok)
	bm.Put(pageID, frameID)

	m := New(bm, log)
	m.Start()
	_, ok = m.PageGet(pageID, SLatch)
	require.True(t, ok)

	_, err := m.Commit()
	require.NoError(t, err)

	// A second, independent Mtr should be able to take an X latch now
	// that the first released its S latch.
	m2 := New(bm, log)
	m2.Start()
	_, ok = m2.PageGet(pageID, XLatch)
	require.True(t, ok)
	_, err = m2.Commit()
	require.NoError(t, err)
}
