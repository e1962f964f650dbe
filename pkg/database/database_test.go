package database

import (
	"context"
	"database/sql"
	"io"
	"os"
	"path/filepath"
	"testing"

	"library_catalog/pkg/config"
	"library_catalog/pkg/models"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func TestOpenSQLiteCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "data", "library.db")

	db, err := Open(config.DatabaseConfig{Driver: config.DriverSQLite, Path: path, MaxRetries: 1}, quietLogger())
	require.NoError(t, err)
	defer Close(db)

	_, err = os.Stat(path)
	assert.NoError(t, err)
	assert.NoError(t, Ping(context.Background(), db))
}

func TestVerify(t *testing.T) {
	db, err := Open(config.DatabaseConfig{Driver: config.DriverSQLite, Path: ":memory:", MaxRetries: 1}, quietLogger())
	require.NoError(t, err)
	defer Close(db)

	assert.Error(t, Verify(db), "open does not create the schema")
	require.NoError(t, db.AutoMigrate(&models.Book{}))
	assert.NoError(t, Verify(db))
}

func TestPreparePoolClosesOnPingFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "library.db")
	sqlDB, err := sql.Open("sqlite3", path)
	require.NoError(t, err)

	err = preparePool(sqlDB, config.DatabaseConfig{Driver: config.DriverSQLite})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database ping failed")
	assert.EqualError(t, sqlDB.Ping(), "sql: database is closed")
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(config.DatabaseConfig{Driver: "oracle"}, quietLogger())
	assert.Error(t, err)
}
