package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func openHealthTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

func setupHealthRouter(t *testing.T, db *gorm.DB, rdb *redis.Client) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	h := NewHealthHandler(db, rdb)
	router := gin.New()
	router.GET("/health", h.Health)
	router.GET("/ready", h.Ready)
	return router
}

func getReady(t *testing.T, router *gin.Engine) (int, map[string]string) {
	t.Helper()
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ready", nil))

	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return w.Code, body
}

func TestHealth(t *testing.T) {
	router := setupHealthRouter(t, openHealthTestDB(t), nil)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"presence-service"`)
}

func TestReady(t *testing.T) {
	t.Run("local fan-out", func(t *testing.T) {
		code, body := getReady(t, setupHealthRouter(t, openHealthTestDB(t), nil))

		assert.Equal(t, http.StatusOK, code)
		assert.Equal(t, "ready", body["status"])
		assert.Equal(t, "local", body["fanout"])
	})

	t.Run("redis fan-out up", func(t *testing.T) {
		mr := miniredis.RunT(t)
		rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = rdb.Close() })

		code, body := getReady(t, setupHealthRouter(t, openHealthTestDB(t), rdb))

		assert.Equal(t, http.StatusOK, code)
		assert.Equal(t, "redis", body["fanout"])
	})

	t.Run("redis fan-out down", func(t *testing.T) {
		mr := miniredis.RunT(t)
		rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
		t.Cleanup(func() { _ = rdb.Close() })
		mr.Close()

		code, body := getReady(t, setupHealthRouter(t, openHealthTestDB(t), rdb))

		assert.Equal(t, http.StatusServiceUnavailable, code)
		assert.Equal(t, "redis not reachable", body["error"])
		assert.Equal(t, "redis", body["fanout"])
	})

	t.Run("database down", func(t *testing.T) {
		db := openHealthTestDB(t)
		sqlDB, err := db.DB()
		require.NoError(t, err)
		require.NoError(t, sqlDB.Close())

		code, body := getReady(t, setupHealthRouter(t, db, nil))

		assert.Equal(t, http.StatusServiceUnavailable, code)
		assert.Equal(t, "database not reachable", body["error"])
	})

	t.Run("no database", func(t *testing.T) {
		code, _ := getReady(t, setupHealthRouter(t, nil, nil))
		assert.Equal(t, http.StatusServiceUnavailable, code)
	})
}
