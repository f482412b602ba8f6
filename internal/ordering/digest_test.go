package ordering

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalCanonical(t *testing.T) {
	data, err := MarshalCanonical(Assignment{{ID: "a<b", Order: 0}, {ID: "c", Order: 12}})
	require.NoError(t, err)
	assert.Equal(t, `[{"id":"a<b","order":0},{"id":"c","order":12}]`, string(data))

	data, err = MarshalCanonical(Assignment{})
	require.NoError(t, err)
	assert.Equal(t, `[]`, string(data))
}

func TestDigest_StableAndOrderSensitive(t *testing.T) {
	a := Assignment{{ID: "x", Order: 0}, {ID: "y", Order: 1}}
	b := Assignment{{ID: "y", Order: 0}, {ID: "x", Order: 1}}

	d1, err := Digest(a)
	require.NoError(t, err)
	d2, err := Digest(a)
	require.NoError(t, err)
	d3, err := Digest(b)
	require.NoError(t, err)

	assert.Equal(t, d1, d2)
	assert.NotEqual(t, d1, d3)
	assert.Len(t, d1, 64)
}

func TestDigest_NFCEquivalentIDs(t *testing.T) {
	composed := Assignment{{ID: "caf\u00e9", Order: 0}}
	decomposed := Assignment{{ID: "cafe\u0301", Order: 0}}

	d1, err := Digest(composed)
	require.NoError(t, err)
	d2, err := Digest(decomposed)
	require.NoError(t, err)
	assert.Equal(t, d1, d2)
}
