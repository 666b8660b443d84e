package row

import (
	"context"
	"testing"
	"time"

	"github.com/ibkv-project/ibkv/btree"
	"github.com/ibkv-project/ibkv/buffer"
	"github.com/ibkv-project/ibkv/common"
	"github.com/ibkv-project/ibkv/dict"
	"github.com/ibkv-project/ibkv/lock"
	"github.com/ibkv-project/ibkv/mtr"
	"github.com/ibkv-project/ibkv/mvcc"
	"github.com/ibkv-project/ibkv/record"
	"github.com/ibkv-project/ibkv/redolog"
	"github.com/ibkv-project/ibkv/txn"
	"github.com/stretchr/testify/require"
)

func testCols() []*record.Column {
	return []*record.Column{
		{Name: "id", Type: record.TypeInt, Len: 8},
		{Name: "val", Type: record.TypeVarChar, Len: 64},
	}
}

type testEnv struct {
	bm    *buffer.Manager
	m     *mtr.Mtr
	tm    *txn.Manager
	vers  *Versions
	d     *dict.Dictionary
	table *dict.Table
	pb    *Prebuilt
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	bm, err := buffer.NewManager(64, nil)
	require.NoError(t, err)
	log, err := redolog.Open(t.TempDir(), 1, 1, 64*1024, 1<<20)
	require.NoError(t, err)
	t.Cleanup(func() { _ = log.CloseFiles() })

	tree, err := btree.CreateRoot(bm, 1, 1, testCols(), 1, true, true)
	require.NoError(t, err)
	m := mtr.New(bm, log)

	d := dict.New()
	table, err := d.CreateTable("widgets", testCols())
	require.NoError(t, err)
	d.AddIndex(table, &dict.Index{Name: "PRIMARY", KeyCols: []string{"id"}, Unique: true, Clustered: true, Tree: tree})

	tm := txn.NewManager(lock.New(4, 200*time.Millisecond), mvcc.NewStore())
	trx := tm.Begin(txn.RepeatableRead)
	pb := NewPrebuilt(table, trx, table.Clustered)

	return &testEnv{bm: bm, m: m, tm: tm, vers: NewVersions(), d: d, table: table, pb: pb}
}

func insertRow(t *testing.T, env *testEnv, id int64, val string) {
	t.Helper()
	row := record.NewRowTuple(testCols())
	require.NoError(t, row.SetInt(0, id))
	require.NoError(t, row.SetBytes(1, []byte(val), 0))
	env.m.Start()
	require.NoError(t, Insert(context.Background(), env.m, env.tm, env.pb, env.vers, row))
	_, err := env.m.Commit()
	require.NoError(t, err)
}

func TestInsertThenSearchFindsRow(t *testing.T) {
	env := newTestEnv(t)
	insertRow(t, env, 7, "seven")

	env.m.Start()
	key := record.NewKeyTuple(testCols(), 1)
	require.NoError(t, key.SetInt(0, 7))
	got, err := Search(env.m, env.tm, env.pb, env.vers, key, btree.ModeGE)
	require.NoError(t, err)
	require.NotNil(t, got)
	v, _, _ := got.Int(0)
	require.Equal(t, int64(7), v)
	_, err = env.m.Commit()
	require.NoError(t, err)
}

func TestDuplicateInsertFails(t *testing.T) {
	env := newTestEnv(t)
	insertRow(t, env, 1, "one")

	row := record.NewRowTuple(testCols())
	require.NoError(t, row.SetInt(0, 1))
	require.NoError(t, row.SetBytes(1, []byte("dup"), 0))
	env.m.Start()
	err := Insert(context.Background(), env.m, env.tm, env.pb, env.vers, row)
	require.Error(t, err)
	require.Equal(t, common.ErrDuplicateKey, common.CodeOf(err))
	_, _ = env.m.Commit()
}

func TestDeleteThenSearchFindsNothing(t *testing.T) {
	env := newTestEnv(t)
	insertRow(t, env, 2, "two")

	env.m.Start()
	key := record.NewKeyTuple(testCols(), 1)
	require.NoError(t, key.SetInt(0, 2))
	got, err := Search(env.m, env.tm, env.pb, env.vers, key, btree.ModeGE)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.NoError(t, Delete(context.Background(), env.m, env.tm, env.pb, env.vers))
	_, err = env.m.Commit()
	require.NoError(t, err)

	env.m.Start()
	got2, err := Search(env.m, env.tm, env.pb, env.vers, key, btree.ModeGE)
	require.NoError(t, err)
	require.Nil(t, got2)
	_, _ = env.m.Commit()
}

func TestUpdateChangesVisibleValue(t *testing.T) {
	env := newTestEnv(t)
	insertRow(t, env, 3, "three")

	env.m.Start()
	key := record.NewKeyTuple(testCols(), 1)
	require.NoError(t, key.SetInt(0, 3))
	_, err := Search(env.m, env.tm, env.pb, env.vers, key, btree.ModeGE)
	require.NoError(t, err)

	newRow := record.NewRowTuple(testCols())
	require.NoError(t, newRow.SetInt(0, 3))
	require.NoError(t, newRow.SetBytes(1, []byte("THREE"), 0))
	require.NoError(t, Update(context.Background(), env.m, env.tm, env.pb, env.vers, newRow))
	_, err = env.m.Commit()
	require.NoError(t, err)

	env.m.Start()
	got, err := Search(env.m, env.tm, env.pb, env.vers, key, btree.ModeGE)
	require.NoError(t, err)
	require.NotNil(t, got)
	b, _, _ := got.Bytes(1)
	require.Equal(t, []byte("THREE"), b)
	_, _ = env.m.Commit()
}

func TestDMLDelayAdmitsStatementWithinBurst(t *testing.T) {
	d := NewDMLDelay(1000, 1)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, d.Wait(ctx))
}

func TestGraphStopsAtFirstFailingNode(t *testing.T) {
	var ran []string
	g := NewGraph(
		Step{Label: "a", Run: func() error { ran = append(ran, "a"); return nil }},
		Step{Label: "b", Run: func() error { return common.NewError(common.ErrGeneric, "boom") }},
		Step{Label: "c", Run: func() error { ran = append(ran, "c"); return nil }},
	)
	err := g.Run()
	require.Error(t, err)
	require.Equal(t, []string{"a"}, ran)
}
