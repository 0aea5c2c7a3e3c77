package catalog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, AutoMigrate(db))
	return db
}

func sampleDescriptor(name string) *Descriptor {
	min, max := int32(0), int32(9)
	return &Descriptor{
		Name:     name,
		NumLocal: 1,
		Ranges:   []RangeDescriptor{{MinConst: &min, MaxConst: &max}},
		Flows: []FlowDescriptor{
			{Name: "OUT", Kind: 1, OutDeps: []string{"next_class"}},
		},
		Flags:            2,
		DependenciesGoal: 1,
	}
}

func TestGormCatalog_RegisterAndGet(t *testing.T) {
	db := setupTestDB(t)
	cat := NewGormCatalog(db)
	ctx := context.Background()

	require.NoError(t, cat.Register(ctx, sampleDescriptor("gemm")))

	got, err := cat.Get(ctx, "gemm")
	require.NoError(t, err)
	assert.Equal(t, "gemm", got.Name)
	assert.Equal(t, 1, got.NumLocal)
	require.Len(t, got.Ranges, 1)
	assert.Equal(t, int32(0), *got.Ranges[0].MinConst)
	require.Len(t, got.Flows, 1)
	assert.Equal(t, "OUT", got.Flows[0].Name)
	assert.Equal(t, []string{"next_class"}, got.Flows[0].OutDeps)
}

func TestGormCatalog_Get_NotFound(t *testing.T) {
	db := setupTestDB(t)
	cat := NewGormCatalog(db)

	_, err := cat.Get(context.Background(), "missing")
	assert.Error(t, err)
}

func TestGormCatalog_RegisterUpserts(t *testing.T) {
	db := setupTestDB(t)
	cat := NewGormCatalog(db)
	ctx := context.Background()

	require.NoError(t, cat.Register(ctx, sampleDescriptor("potrf")))

	updated := sampleDescriptor("potrf")
	updated.DependenciesGoal = 5
	require.NoError(t, cat.Register(ctx, updated))

	got, err := cat.Get(ctx, "potrf")
	require.NoError(t, err)
	assert.Equal(t, uint32(5), got.DependenciesGoal)

	all, err := cat.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestGormCatalog_List(t *testing.T) {
	db := setupTestDB(t)
	cat := NewGormCatalog(db)
	ctx := context.Background()

	require.NoError(t, cat.Register(ctx, sampleDescriptor("a")))
	require.NoError(t, cat.Register(ctx, sampleDescriptor("b")))

	all, err := cat.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}
