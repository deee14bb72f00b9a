package hashing

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashIsStableAndKeyed(t *testing.T) {
	a, err := NewHasher("secret-a")
	require.NoError(t, err)
	b, err := NewHasher("secret-b")
	require.NoError(t, err)

	first := a.Hash("203.0.113.7")
	assert.Equal(t, first, a.Hash("203.0.113.7"))
	assert.Len(t, first, digestSize*2)
	assert.NotEqual(t, first, a.Hash("203.0.113.8"))
	assert.NotEqual(t, first, b.Hash("203.0.113.7"))
	assert.NotContains(t, first, "203")
}

func TestNewHasherLongAndEmptySecrets(t *testing.T) {
	long, err := NewHasher(strings.Repeat("k", 100))
	require.NoError(t, err)
	assert.Len(t, long.Hash("x"), digestSize*2)

	e1, err := NewHasher("")
	require.NoError(t, err)
	e2, err := NewHasher("")
	require.NoError(t, err)
	assert.NotEqual(t, e1.Hash("x"), e2.Hash("x"))
}

func TestIdentity(t *testing.T) {
	h, err := NewHasher("secret")
	require.NoError(t, err)

	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "198.51.100.4:51234"
	assert.Equal(t, h.Hash("198.51.100.4"), h.Identity(nil)(req))

	empty := h.Identity(func(*http.Request) string { return "" })
	assert.Empty(t, empty(req))
}
