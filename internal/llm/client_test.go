package llm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockClientGenerate(t *testing.T) {
	c := NewMockClient()
	out, err := c.Generate(context.Background(), "hello", 0)
	require.NoError(t, err)
	assert.Contains(t, out, "hello")
}

func TestMockClientScoreBounded(t *testing.T) {
	c := NewMockClient()
	s, err := c.Score(context.Background(), "this failed with an error")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, s, 0.0)
	assert.LessOrEqual(t, s, 1.0)
}

func TestNewUnknownProviderFallsBackToMock(t *testing.T) {
	c, err := New("bogus", "", "")
	require.NoError(t, err)
	assert.Equal(t, "mock", c.Name())
}

func TestMockClientHealthAlwaysOK(t *testing.T) {
	c := NewMockClient()
	require.NoError(t, c.Health(context.Background()))
}
