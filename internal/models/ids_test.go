package models

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestNewLocalID_NeverServerShaped(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := NewLocalID()
		assert.False(t, IsServerID(id), "local id %s must not match server shape", id)
		assert.False(t, seen[id], "local id %s minted twice", id)
		seen[id] = true
	}
}

func TestIsServerID(t *testing.T) {
	assert.True(t, IsServerID(uuid.NewString()))
	assert.True(t, IsServerID("3E83A3C9-8F6A-4A9D-9D6C-2B1C6D0A1B2C"))

	assert.False(t, IsServerID(""))
	assert.False(t, IsServerID("offline_whatever"))
	assert.False(t, IsServerID("offline_"+uuid.NewString()))
	assert.False(t, IsServerID("12345"))
	assert.False(t, IsServerID("not-a-uuid-at-all"))

	// Alternate encodings the UUID parser tolerates are not the authority's
	// canonical shape and must read as local.
	canonical := uuid.NewString()
	assert.False(t, IsServerID("urn:uuid:"+canonical))
	assert.False(t, IsServerID("{"+canonical+"}"))
	assert.False(t, IsServerID(strings.ReplaceAll(canonical, "-", "")))
}
