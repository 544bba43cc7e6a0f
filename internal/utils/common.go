package utils

import (
	"os"
	"strconv"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
)

// CreateIfNotExists creates the directory path if it does not exist yet.
func CreateIfNotExists(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return os.MkdirAll(path, os.ModePerm)
	}
	return nil
}

// ReadEnv reads an env file into a map. Values can be quoted.
func ReadEnv(file string) (map[string]string, error) {
	return godotenv.Read(file)
}

// EnvBool interprets common truthy values, anything else is false.
func EnvBool(env map[string]string, key string) bool {
	v, ok := env[key]
	if !ok {
		return false
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	return err == nil && b
}

// EnvList splits a space separated env value, dropping empty items.
func EnvList(env map[string]string, key string) []string {
	return CleanupSlice(strings.Fields(env[key]))
}

// CleanupSlice trims every item and drops the empty ones.
func CleanupSlice(slice []string) []string {
	var cleanSlice []string
	for _, item := range slice {
		if strings.TrimSpace(item) == "" {
			continue
		}
		cleanSlice = append(cleanSlice, strings.TrimSpace(item))
	}
	return cleanSlice
}

// UniqueSlice removes duplicated entries keeping the first occurrence order.
func UniqueSlice(slice []string) []string {
	keys := make(map[string]bool)
	var list []string
	for _, entry := range slice {
		if _, value := keys[entry]; !value {
			keys[entry] = true
			list = append(list, entry)
		}
	}
	return list
}

// Sync flushes filesystem buffers.
func Sync() {
	syscall.Sync()
}
