package cmd

import (
	"os"
	"path/filepath"
	"strconv"
)

// getEnv gets environment variable or returns default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvInt gets an integer environment variable or returns default value
func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return n
}

// cacheDir returns the blob cache directory, overridable via env
func cacheDir(dataDir string) string {
	return getEnv("CONDUCTOR_CACHE_DIR", filepath.Join(dataDir, "cache"))
}

// cacheCapacity returns the cache size limit in bytes (default 1 GiB)
func cacheCapacity() int64 {
	return int64(getEnvInt("CONDUCTOR_CACHE_CAPACITY", 1<<30))
}
