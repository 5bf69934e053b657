package bpe

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	m := NewModel("roundtrip")
	require.NoError(t, m.Train([]string{"hello", "hello", "help", "helmet", "shell"}, DefaultTrainOptions()))

	for _, word := range []string{"hello", "help", "shell", "unseen"} {
		encoded := m.Encode(word)
		decoded := m.Decode(encoded)
		assert.Equal(t, word, decoded, "round trip should reproduce %q", word)
	}
}

func TestEncodeIsIdempotentAfterDecodeReencode(t *testing.T) {
	m := NewModel("stability")
	require.NoError(t, m.Train([]string{"banana", "bandana", "band"}, DefaultTrainOptions()))

	for _, word := range []string{"banana", "band"} {
		encoded := m.Encode(word)
		reencoded := m.Encode(m.Decode(encoded))
		assert.Equal(t, encoded, reencoded)
	}
}

func TestTrainProducesMerges(t *testing.T) {
	m := NewModel("merges")
	require.NoError(t, m.Train([]string{"aaaa", "aaaa", "aaaa"}, DefaultTrainOptions()))
	assert.NotEmpty(t, m.Merges)
	assert.Greater(t, int(m.NextCode), int(DefaultDelimiterCode)+1)
}

func TestTrainStopsAtEmptyData(t *testing.T) {
	m := NewModel("empty")
	err := m.Train(nil, DefaultTrainOptions())
	assert.Error(t, err)
}

func TestCompressionRatioNonIncreasing(t *testing.T) {
	data := []string{"mississippi", "mississippi", "ississippi", "sippi"}
	m := NewModel("compression")
	before := m.validateCompressionRate(data)

	opts := DefaultTrainOptions()
	opts.NumMerges = 1
	require.NoError(t, m.Train(data, opts))
	after := m.validateCompressionRate(data)

	assert.LessOrEqual(t, after, before)
}

func TestTrainingStopsAtCodeCeiling(t *testing.T) {
	m := NewModel("ceiling")
	m.NextCode = MaxCode
	err := m.Train([]string{"aaaaaaaaaa", "aaaaaaaaaa"}, DefaultTrainOptions())
	require.NoError(t, err)
	assert.Empty(t, m.Merges, "no merge should be recorded once the code ceiling is reached")
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	m := NewModel("persisted")
	require.NoError(t, m.Train([]string{"hello", "hello", "hello world"}, DefaultTrainOptions()))

	require.NoError(t, m.Save(dir))
	loaded, err := Load(dir, "persisted")
	require.NoError(t, err)

	assert.Equal(t, m.Encode("hello"), loaded.Encode("hello"))
	assert.Equal(t, m.DelimiterCode, loaded.DelimiterCode)
	assert.Equal(t, m.NextCode, loaded.NextCode)
}

func TestTokenize(t *testing.T) {
	// A word following whitespace keeps its single leading space, so the
	// learned vocabulary can distinguish word starts from word interiors.
	tokens := Tokenize("hello, world!")
	assert.Equal(t, []string{"hello", ",", " world", "!"}, tokens)
}

func TestTokenizeCollapsesRepeatedWhitespace(t *testing.T) {
	tokens := Tokenize("a   b")
	assert.Equal(t, []string{"a", " b"}, tokens)
}

func TestEncodeEmptyString(t *testing.T) {
	m := NewModel("empty-input")
	assert.Nil(t, m.Encode(""))
	assert.Equal(t, "", m.Decode(nil))
}
