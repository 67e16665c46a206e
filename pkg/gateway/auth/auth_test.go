package auth

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseBearer(t *testing.T) {
	r := httptest.NewRequest("GET", "/v1/calls", nil)
	_, ok := ParseBearer(r)
	assert.False(t, ok)

	r.Header.Set("Authorization", "Basic abc")
	_, ok = ParseBearer(r)
	assert.False(t, ok)

	r.Header.Set("Authorization", "Bearer   ")
	_, ok = ParseBearer(r)
	assert.False(t, ok)

	r.Header.Set("Authorization", "Bearer k1")
	token, ok := ParseBearer(r)
	assert.True(t, ok)
	assert.Equal(t, "k1", token)
}

func TestCredential_QueryTokenOnlyForLive(t *testing.T) {
	token, ok := Credential(httptest.NewRequest("GET", "/v1/live?access_token=k2", nil))
	assert.True(t, ok)
	assert.Equal(t, "k2", token)

	_, ok = Credential(httptest.NewRequest("GET", "/v1/calls?access_token=k2", nil))
	assert.False(t, ok)
}

func TestValid(t *testing.T) {
	keys := map[string]struct{}{"k1": {}, "k2": {}}
	assert.True(t, Valid(keys, "k2"))
	assert.False(t, Valid(keys, "k3"))
	assert.False(t, Valid(nil, "k1"))
}

func TestPrincipalContext(t *testing.T) {
	_, ok := PrincipalFrom(context.Background())
	assert.False(t, ok)

	ctx := WithPrincipal(context.Background(), &Principal{APIKey: "k1"})
	p, ok := PrincipalFrom(ctx)
	assert.True(t, ok)
	assert.Equal(t, "k1", p.APIKey)
}
