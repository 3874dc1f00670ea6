package db

import (
	"context"
	"testing"

	"personachat/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnect_SQLiteSingleConnection(t *testing.T) {
	gdb, err := Connect("sqlite", ":memory:")
	require.NoError(t, err)
	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	assert.Equal(t, 1, sqlDB.Stats().MaxOpenConnections)
}

func TestSeedPersonas_Idempotent(t *testing.T) {
	gdb, err := Connect("sqlite", ":memory:")
	require.NoError(t, err)
	require.NoError(t, Migrate(gdb))
	ctx := context.Background()

	n, err := SeedPersonas(ctx, gdb)
	require.NoError(t, err)
	assert.Equal(t, len(DefaultPersonas), n)

	n, err = SeedPersonas(ctx, gdb)
	require.NoError(t, err)
	assert.Zero(t, n)

	var personas []models.Persona
	require.NoError(t, gdb.Order("id asc").Find(&personas).Error)
	require.Len(t, personas, len(DefaultPersonas))
	for i, p := range personas {
		assert.True(t, p.IsDefault)
		assert.Equal(t, DefaultPersonas[i].Name, p.Name)
		assert.Nil(t, p.CreatedBy)
	}
}

func TestSeedPersonas_KeepsUserPersonaWithSameName(t *testing.T) {
	gdb, err := Connect("sqlite", ":memory:")
	require.NoError(t, err)
	require.NoError(t, Migrate(gdb))
	owner := uint(1)
	require.NoError(t, gdb.Create(&models.Persona{Name: DefaultPersonas[0].Name, CreatedBy: &owner}).Error)

	n, err := SeedPersonas(context.Background(), gdb)
	require.NoError(t, err)
	assert.Equal(t, len(DefaultPersonas), n)
}
