package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "JBSWY3DPEHPK3PXP"

func TestGenerateAndValidateTOTP(t *testing.T) {
	code, err := GenerateTOTP(testSecret)
	require.NoError(t, err)
	assert.Len(t, code, 6)

	ok, err := validateTOTP(code, testSecret)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestGenerateTOTP_NormalizesSecret(t *testing.T) {
	code, err := GenerateTOTP("jbsw y3dp ehpk 3pxp")
	require.NoError(t, err)

	ok, err := validateTOTP(code, testSecret)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestGenerateTOTP_Errors(t *testing.T) {
	_, err := GenerateTOTP("")
	assert.Error(t, err)

	_, err = GenerateTOTP("not-base32!")
	assert.Error(t, err)
}

func TestValidateTOTP_Errors(t *testing.T) {
	_, err := validateTOTP("123456", "")
	assert.Error(t, err)

	_, err = validateTOTP("", testSecret)
	assert.Error(t, err)

	ok, err := validateTOTP("000000", testSecret)
	require.NoError(t, err)
	assert.False(t, ok)
}
