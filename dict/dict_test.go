package dict

import (
	"testing"

	"github.com/ibkv-project/ibkv/common"
	"github.com/ibkv-project/ibkv/record"
	"github.com/stretchr/testify/require"
)

func cols() []*Column {
	return []*Column{
		{Name: "id", Type: record.TypeInt, Len: 8},
		{Name: "name", Type: record.TypeVarChar, Len: 64},
	}
}

func TestCreateTableAssignsIncreasingIDs(t *testing.T) {
	d := New()
	t1, err := d.CreateTable("users", cols())
	require.NoError(t, err)
	t2, err := d.CreateTable("orders", cols())
	require.NoError(t, err)
	require.Equal(t, uint64(1), t1.ID)
	require.Equal(t, uint64(2), t2.ID)
}

func TestCreateTableDuplicateNameErrors(t *testing.T) {
	d := New()
	_, err := d.CreateTable("users", cols())
	require.NoError(t, err)
	_, err = d.CreateTable("users", cols())
	require.Error(t, err)
	require.Equal(t, common.ErrTablespaceAlreadyExists, common.CodeOf(err))
}

func TestDropTableRemovesFromBothIndexes(t *testing.T) {
	d := New()
	tbl, _ := d.CreateTable("users", cols())
	require.NoError(t, d.DropTable("users"))
	_, ok := d.GetTable("users")
	require.False(t, ok)
	_, ok = d.GetTableByID(tbl.ID)
	require.False(t, ok)
}

func TestRenameTable(t *testing.T) {
	d := New()
	tbl, _ := d.CreateTable("users", cols())
	require.NoError(t, d.RenameTable("users", "accounts"))
	require.Equal(t, "accounts", tbl.Name)
	_, ok := d.GetTable("users")
	require.False(t, ok)
	got, ok := d.GetTable("accounts")
	require.True(t, ok)
	require.Equal(t, tbl.ID, got.ID)
}

func TestAddIndexAssignsIDAndSlot(t *testing.T) {
	d := New()
	tbl, _ := d.CreateTable("users", cols())
	clust := &Index{Name: "PRIMARY", KeyCols: []string{"id"}, Unique: true, Clustered: true}
	d.AddIndex(tbl, clust)
	require.Equal(t, uint64(1), clust.ID)
	require.Same(t, clust, tbl.Clustered)

	sec := &Index{Name: "idx_name", KeyCols: []string{"name"}}
	d.AddIndex(tbl, sec)
	require.Len(t, tbl.Secondary, 1)
	require.NotEqual(t, clust.ID, sec.ID)
}

func TestDropIndexNotFound(t *testing.T) {
	d := New()
	tbl, _ := d.CreateTable("users", cols())
	err := d.DropIndex(tbl, "missing")
	require.Error(t, err)
	require.Equal(t, common.ErrTableNotFound, common.CodeOf(err))
}

func TestBackgroundDropListOnlyListsPendingTables(t *testing.T) {
	d := New()
	t1, _ := d.CreateTable("users", cols())
	_, _ = d.CreateTable("orders", cols())
	d.MarkDropPending(t1)
	pending := d.BackgroundDropList()
	require.Len(t, pending, 1)
	require.Equal(t, t1.ID, pending[0].ID)
}

func TestTablesReturnsAscendingIDOrder(t *testing.T) {
	d := New()
	_, _ = d.CreateTable("c", cols())
	_, _ = d.CreateTable("a", cols())
	_, _ = d.CreateTable("b", cols())
	tables := d.Tables()
	require.Len(t, tables, 3)
	require.Equal(t, uint64(1), tables[0].ID)
	require.Equal(t, uint64(2), tables[1].ID)
	require.Equal(t, uint64(3), tables[2].ID)
}
