package phone

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize_Missing(t *testing.T) {
	_, err := Normalize("")
	assert.ErrorIs(t, err, ErrMissing)

	_, err = Normalize("   ")
	assert.ErrorIs(t, err, ErrMissing)
}

func TestNormalize_Masked(t *testing.T) {
	_, err := Normalize("9*045511")
	assert.ErrorIs(t, err, ErrMasked)

	_, err = Normalize("+357 99 *** 511")
	assert.ErrorIs(t, err, ErrMasked)
}

func TestNormalize_MissingCountryCode(t *testing.T) {
	// 8 digits: below the international threshold
	_, err := Normalize("99045511")
	assert.ErrorIs(t, err, ErrMissingCountryCode)

	// formatting characters do not count towards the length
	_, err = Normalize("(99) 04-55")
	assert.ErrorIs(t, err, ErrMissingCountryCode)
}

func TestNormalize_Canonical(t *testing.T) {
	got, err := Normalize("+35799045511")
	require.NoError(t, err)
	assert.Equal(t, "35799045511", got)

	got, err = Normalize("+357 99 04 55 11")
	require.NoError(t, err)
	assert.Equal(t, "35799045511", got)
}

func TestNormalize_ExactThreshold(t *testing.T) {
	got, err := Normalize("1234567890")
	require.NoError(t, err)
	assert.Equal(t, "1234567890", got)
}
