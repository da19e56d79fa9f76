package idgen

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_IsUUID(t *testing.T) {
	id := New()
	_, err := uuid.Parse(id)
	require.NoError(t, err)
	assert.NotEqual(t, id, New())
}

func TestWithPrefix(t *testing.T) {
	id := WithPrefix("anom_")
	assert.True(t, strings.HasPrefix(id, "anom_"))
	assert.Len(t, id, len("anom_")+24)
	assert.NotEqual(t, id, WithPrefix("anom_"))
}
