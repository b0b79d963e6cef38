package crypto

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey() string {
	return base64.StdEncoding.EncodeToString([]byte(strings.Repeat("k", 32)))
}

func TestSecretBox_SealOpen(t *testing.T) {
	box, err := NewSecretBox(testKey())
	require.NoError(t, err)

	url := "https://discord.com/api/webhooks/123/abc-token"
	sealed, err := box.Seal(url)
	require.NoError(t, err)
	assert.True(t, IsSealed(sealed))
	assert.NotContains(t, sealed, "abc-token")

	again, err := box.Seal(sealed)
	require.NoError(t, err)
	assert.Equal(t, sealed, again, "sealing a sealed value must be a no-op")

	opened, err := box.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, url, opened)
}

func TestSecretBox_PlaintextPassthrough(t *testing.T) {
	box, err := NewSecretBox(testKey())
	require.NoError(t, err)

	out, err := box.Open("https://hooks.slack.com/services/T1/B2/x")
	require.NoError(t, err)
	assert.Equal(t, "https://hooks.slack.com/services/T1/B2/x", out)

	empty, err := box.Seal("")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestSecretBox_Errors(t *testing.T) {
	_, err := NewSecretBox("")
	assert.Error(t, err)

	_, err = NewSecretBox(base64.StdEncoding.EncodeToString([]byte("short")))
	assert.Error(t, err)

	box, err := NewSecretBox(testKey())
	require.NoError(t, err)
	_, err = box.Open(sealedPrefix + "!!!")
	assert.ErrorIs(t, err, ErrMalformed)
}
