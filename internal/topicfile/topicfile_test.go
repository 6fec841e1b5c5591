package topicfile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []string{
		"hello",
		"world",
		"café",
		"café", // combining accent variant, distinct from the composed form above
		"日本語",
		"a",
		"topic with spaces",
	}

	for _, topic := range cases {
		t.Run(topic, func(t *testing.T) {
			encoded := Encode(topic)
			decoded, ok := Decode(encoded)
			require.True(t, ok)
			assert.Equal(t, topic, decoded)
		})
	}
}

func TestEncodeIsUppercaseHexNoDelimiters(t *testing.T) {
	encoded := Encode("ab")
	assert.Regexp(t, `^[0-9A-F]+$`, encoded)
}

func TestDecodeRejectsInvalid(t *testing.T) {
	cases := []string{
		"",
		"g",
		"1",
		"1g",
		"zz",
		"41ff", // valid hex, but 0xFF is never valid in UTF-8
	}

	for _, name := range cases {
		t.Run(name, func(t *testing.T) {
			_, ok := Decode(name)
			assert.False(t, ok)
		})
	}
}

func TestNormalizationIsNotApplied(t *testing.T) {
	composed := "café"
	decomposed := "café"
	assert.NotEqual(t, composed, decomposed)
	assert.NotEqual(t, Encode(composed), Encode(decomposed))
}
