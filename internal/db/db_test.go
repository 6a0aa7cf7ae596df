package db

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"commit-reveal-oracle/internal/config"
)

func TestOpenWithoutDatabase(t *testing.T) {
	db, err := Open(config.Config{}, nil)
	require.NoError(t, err)
	assert.Nil(t, db)
	assert.NoError(t, AutoMigrate(nil))
}

func TestOpenUnsupportedDialect(t *testing.T) {
	_, err := Open(config.Config{DBDialect: "sqlite", DBDsn: "file::memory:"}, nil)
	assert.ErrorContains(t, err, "unsupported DB_DIALECT")
}
