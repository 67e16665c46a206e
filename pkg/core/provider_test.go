package core

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vango-go/callcoach/pkg/core/types"
)

func TestReasonerRegistry(t *testing.T) {
	reg := NewReasonerRegistry()
	echo := ReasonerFunc{ID: "echo", Fn: func(_ context.Context, req *types.GuidanceRequest) ([]byte, error) {
		return []byte(req.SessionID), nil
	}}
	reg.Register(echo)
	reg.Register(ReasonerFunc{ID: "alpha"})

	assert.Equal(t, []string{"alpha", "echo"}, reg.List())

	got, ok := reg.Get("echo")
	require.True(t, ok)
	out, err := got.Reason(context.Background(), &types.GuidanceRequest{SessionID: "s1"})
	require.NoError(t, err)
	assert.Equal(t, "s1", string(out))

	_, ok = reg.Get("missing")
	assert.False(t, ok)
}
