package engine

import (
	"context"
	"testing"

	"github.com/c2h5oh/datasize"
	"github.com/ibkv-project/ibkv/btree"
	"github.com/ibkv-project/ibkv/common"
	"github.com/ibkv-project/ibkv/config"
	"github.com/ibkv-project/ibkv/lock"
	"github.com/ibkv-project/ibkv/record"
	"github.com/ibkv-project/ibkv/txn"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.BufPoolSize = 4 * datasize.MB
	cfg.LogBufferSize = 64 * datasize.KB
	cfg.LogFileSize = 256 * datasize.KB
	return cfg
}

func testSchema(name string) *TableSchema {
	s := TableSchemaCreate(name, FormatBarracuda)
	s.AddCol(&record.Column{Name: "id", Type: record.TypeInt, Len: 8})
	s.AddCol(&record.Column{Name: "val", Type: record.TypeVarChar, Len: 64})
	s.IndexSchemaSetClustered("id")
	return s
}

func TestStartupRejectsUnknownFormat(t *testing.T) {
	_, err := Startup(testConfig(t), Format("BOGUS"))
	require.Error(t, err)
	require.Equal(t, common.ErrUnsupported, common.CodeOf(err))
}

func TestStartupAndShutdown(t *testing.T) {
	e, err := Startup(testConfig(t), FormatBarracuda)
	require.NoError(t, err)
	require.NotNil(t, e.Buffer)
	require.NotNil(t, e.Redo)
	require.NotNil(t, e.Registry)
	require.NoError(t, e.Shutdown(ShutdownFast))
}

func TestPanicLatchBlocksFurtherWork(t *testing.T) {
	e, err := Startup(testConfig(t), FormatBarracuda)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Shutdown(ShutdownFastest) })

	_, ok := e.Panicked()
	require.False(t, ok)

	e.SetPanic(common.ErrCorruption)
	code, ok := e.Panicked()
	require.True(t, ok)
	require.Equal(t, common.ErrCorruption, code)

	h := e.TrxBegin(txn.ReadCommitted)
	_, err = e.CursorOpenTable(h, "widgets")
	require.Error(t, err)
	require.Equal(t, common.ErrCorruption, common.CodeOf(err))
}

func TestTableCreateAndCursorRoundTrip(t *testing.T) {
	e, err := Startup(testConfig(t), FormatBarracuda)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Shutdown(ShutdownFastest) })

	h := e.TrxBegin(txn.ReadCommitted)
	_, err = e.TableCreate(h, 1, testSchema("widgets"))
	require.NoError(t, err)
	require.NoError(t, e.TrxCommit(h))

	id, ok := e.TableGetID("widgets")
	require.True(t, ok)
	require.NotZero(t, id)

	ctx := context.Background()
	h2 := e.TrxBegin(txn.ReadCommitted)
	cur, err := e.CursorOpenTable(h2, "widgets")
	require.NoError(t, err)
	cur.SetLockMode(lock.ModeX)

	table, ok := e.Dict.GetTable("widgets")
	require.True(t, ok)

	row1 := ClustReadTupleCreate(table)
	require.NoError(t, row1.SetInt(0, 1))
	require.NoError(t, row1.SetBytes(1, []byte("hello"), 0))
	require.NoError(t, cur.CursorInsertRow(ctx, row1))

	key := ClustSearchTupleCreate(table)
	require.NoError(t, key.SetInt(0, 1))
	require.NoError(t, cur.CursorMoveTo(key, btree.ModeGE))
	got, err := cur.CursorReadRow()
	require.NoError(t, err)
	require.NotNil(t, got)
	gotVal, _, err := got.Bytes(1)
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), gotVal)

	require.NoError(t, e.TrxCommit(h2))
}

func TestDatabaseDropRemovesMatchingTables(t *testing.T) {
	e, err := Startup(testConfig(t), FormatBarracuda)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Shutdown(ShutdownFastest) })

	h := e.TrxBegin(txn.ReadCommitted)
	_, err = e.TableCreate(h, 1, testSchema("shop/widgets"))
	require.NoError(t, err)
	_, err = e.TableCreate(h, 1, testSchema("shop/gadgets"))
	require.NoError(t, err)
	_, err = e.TableCreate(h, 1, testSchema("other/thing"))
	require.NoError(t, err)
	require.NoError(t, e.TrxCommit(h))

	dropped := e.DatabaseDrop("shop/")
	require.ElementsMatch(t, []string{"shop/widgets", "shop/gadgets"}, dropped)

	_, ok := e.TableGetID("shop/widgets")
	require.False(t, ok)
	_, ok = e.TableGetID("other/thing")
	require.True(t, ok)
}
