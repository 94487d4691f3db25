package totp

import (
	"testing"
	"time"

	"github.com/raulk/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// base32 of the ASCII string "12345678901234567890".
const rfcSecret = "GEZDGNBVGY3TQOJQGEZDGNBVGY3TQOJQ"

func TestGenerate_RFC6238Vectors(t *testing.T) {
	tests := []struct {
		unix int64
		want string
	}{
		{59, "287082"},
		{1111111109, "081804"},
		{1234567890, "005924"},
	}
	for _, tt := range tests {
		got, err := Generate(rfcSecret, time.Unix(tt.unix, 0))
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "T=%d", tt.unix)
	}
}

func TestGenerate_SameStepSameCode(t *testing.T) {
	a, err := Generate(rfcSecret, time.Unix(60, 0))
	require.NoError(t, err)
	b, err := Generate(rfcSecret, time.Unix(89, 0))
	require.NoError(t, err)
	c, err := Generate(rfcSecret, time.Unix(90, 0))
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.NotEqual(t, b, c)
	assert.Len(t, a, 6)
}

func TestGenerate_NormalizesSecret(t *testing.T) {
	want, err := Generate(rfcSecret, time.Unix(59, 0))
	require.NoError(t, err)
	got, err := Generate("gezd gnbv gy3t qojq gezd gnbv gy3t qojq", time.Unix(59, 0))
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestGenerate_InvalidSecret(t *testing.T) {
	_, err := Generate("", time.Now())
	assert.Error(t, err)

	_, err = Generate("not!base32", time.Now())
	assert.Error(t, err)
}

func TestGenerator_UsesClock(t *testing.T) {
	mock := clock.NewMock()
	mock.Set(time.Unix(1111111109, 0))

	code, err := NewGenerator(rfcSecret, mock).Code()
	require.NoError(t, err)
	assert.Equal(t, "081804", code)
}
