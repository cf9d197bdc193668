package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMask(t *testing.T) {
	assert.Equal(t, "", mask(""))
	assert.Equal(t, "***", mask("short"))
	assert.Equal(t, "1234...cdef", mask("1234567890abcdef"))
}

func TestCommandsRegistered(t *testing.T) {
	for _, path := range [][]string{
		{"serve"},
		{"scrape"},
		{"status"},
		{"auth", "test"},
		{"auth", "set-password"},
		{"auth", "set-session"},
		{"config", "show"},
		{"version"},
	} {
		cmd, _, err := rootCmd.Find(path)
		if assert.NoError(t, err, path) {
			assert.Equal(t, path[len(path)-1], cmd.Name())
		}
	}
}
