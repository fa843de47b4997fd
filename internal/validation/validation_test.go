package validation

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidateSlug_Valid(t *testing.T) {
	require.NoError(t, ValidateSlug("metro-fire"))
	require.NoError(t, ValidateSlug("org1"))
	require.NoError(t, ValidateSlug("a1b"))
}

func TestValidateSlug_Length(t *testing.T) {
	require.ErrorIs(t, ValidateSlug("ab"), ErrSlugTooShort)

	long := make([]byte, 65)
	for i := range long {
		long[i] = 'a'
	}
	require.ErrorIs(t, ValidateSlug(string(long)), ErrSlugTooLong)
}

func TestValidateSlug_Format(t *testing.T) {
	require.ErrorIs(t, ValidateSlug("-bad"), ErrInvalidSlug)
	require.ErrorIs(t, ValidateSlug("bad-"), ErrInvalidSlug)
	require.ErrorIs(t, ValidateSlug("has_underscore"), ErrInvalidSlug)
}

func TestNormalizeSlug(t *testing.T) {
	require.Equal(t, "metro-fire", NormalizeSlug("  Metro-Fire "))
}

func TestValidateWebhookURL(t *testing.T) {
	require.NoError(t, ValidateWebhookURL("https://hooks.example.com/planward"))
	require.Error(t, ValidateWebhookURL(""))
	require.Error(t, ValidateWebhookURL("http://insecure.example.com"))
}

func TestValidateVersionLabel(t *testing.T) {
	require.NoError(t, ValidateVersionLabel("v1"))
	require.NoError(t, ValidateVersionLabel("2026-hurricane-season"))
	require.Error(t, ValidateVersionLabel(""))
	require.Error(t, ValidateVersionLabel("   "))

	long := make([]byte, 65)
	for i := range long {
		long[i] = 'v'
	}
	require.Error(t, ValidateVersionLabel(string(long)))
}

func TestValidateUpdateType(t *testing.T) {
	require.NoError(t, ValidateUpdateType("status_note"))
	require.NoError(t, ValidateUpdateType("evacuation"))
	require.Error(t, ValidateUpdateType(""))
	require.Error(t, ValidateUpdateType("Status Note"))
	require.Error(t, ValidateUpdateType("_leading"))
}
