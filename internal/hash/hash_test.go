package hash

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSumDeterministic(t *testing.T) {
	a := Sum([]byte("hello"))
	b := Sum([]byte("hello"))
	assert.Equal(t, a, b)

	c := Sum([]byte("hello!"))
	assert.NotEqual(t, a, c)
}

func TestVerify(t *testing.T) {
	content := []byte("payload")
	d := Sum(content)

	assert.True(t, Verify(content, d))
	assert.False(t, Verify([]byte("other"), d))
}

func TestNullDigest(t *testing.T) {
	assert.Equal(t, Sum(nil), NullDigest)
	assert.Equal(t, Sum([]byte{}), NullDigest)
	assert.True(t, NullDigest.IsNull())
	assert.False(t, NullDigest.IsZero())
	assert.True(t, Digest{}.IsZero())
}

func TestStringRoundTrip(t *testing.T) {
	d := Sum([]byte("round trip"))

	parsed, err := Parse(d.String())
	require.NoError(t, err)
	assert.Equal(t, d, parsed)

	// Bare hex form is accepted too.
	parsed, err = Parse(d.Hex())
	require.NoError(t, err)
	assert.Equal(t, d, parsed)
}

func TestParseRejectsBadInput(t *testing.T) {
	_, err := Parse("sha256:zzzz")
	assert.Error(t, err)

	_, err = Parse("sha256:abcd")
	assert.Error(t, err, "truncated digest must be rejected")
}

func TestTextMarshalRoundTrip(t *testing.T) {
	d := Sum([]byte("text form"))

	text, err := d.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, d.String(), string(text))

	var parsed Digest
	require.NoError(t, parsed.UnmarshalText(text))
	assert.Equal(t, d, parsed)

	// Zero digest round-trips through the empty string.
	text, err = Digest{}.MarshalText()
	require.NoError(t, err)
	assert.Empty(t, text)
	var zero Digest
	require.NoError(t, zero.UnmarshalText(nil))
	assert.True(t, zero.IsZero())
}

func TestCommitmentStable(t *testing.T) {
	content := Sum([]byte("secret"))
	nonce := []byte{1, 2, 3, 4}
	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	c1 := Commitment(content, nonce, ts)
	c2 := Commitment(content, nonce, ts)
	assert.Equal(t, c1, c2)

	// Any input change perturbs the commitment.
	assert.NotEqual(t, c1, Commitment(Sum([]byte("other")), nonce, ts))
	assert.NotEqual(t, c1, Commitment(content, []byte{9}, ts))
	assert.NotEqual(t, c1, Commitment(content, nonce, ts.Add(time.Nanosecond)))
}
