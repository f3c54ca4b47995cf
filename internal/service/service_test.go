package service

import (
	"testing"

	"encchat/internal/config"
	"encchat/internal/crypt"
	"encchat/internal/models"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const testSecret = "service-test-secret"

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(&models.User{}, &models.Message{}, &models.RefreshToken{}))
	return db
}

func testConfig() config.Config {
	return config.Config{JWTSecret: testSecret, AccessTokenTTLMinutes: 60, RefreshTokenTTLDays: 7}
}

func newTestCipher(t *testing.T) *crypt.AEAD {
	t.Helper()
	key, err := crypt.GenerateKey()
	require.NoError(t, err)
	c, err := crypt.NewFromBase64(key)
	require.NoError(t, err)
	return c
}
