package chunk

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/biblio-mcp/biblio/internal/errors"
)

func TestSplit_EmptyText(t *testing.T) {
	chunks, err := Split("", DefaultOptions())
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestSplit_ShortTextSingleChunk(t *testing.T) {
	text := "Call me Ishmael."
	chunks, err := Split(text, DefaultOptions())
	require.NoError(t, err)

	require.Len(t, chunks, 1)
	assert.Equal(t, 0, chunks[0].Index)
	assert.Equal(t, text, chunks[0].Text)
	assert.Equal(t, 0, chunks[0].Start)
	assert.Equal(t, len([]rune(text)), chunks[0].End)
}

func TestSplit_ExactWindowSingleChunk(t *testing.T) {
	text := strings.Repeat("a", 1000)
	chunks, err := Split(text, DefaultOptions())
	require.NoError(t, err)
	assert.Len(t, chunks, 1)
}

func TestSplit_FiveThousandRunesFiveChunks(t *testing.T) {
	text := strings.Repeat("x", 5000)
	chunks, err := Split(text, DefaultOptions())
	require.NoError(t, err)

	require.Len(t, chunks, 5)
	assert.Equal(t, 0, chunks[0].Start)
	assert.Equal(t, 1000, chunks[0].End)
	assert.Equal(t, 800, chunks[1].Start)
	assert.Equal(t, 2000, chunks[1].End)
	assert.Equal(t, 3800, chunks[4].Start)
	assert.Equal(t, 5000, chunks[4].End)
}

func TestSplit_ConsecutiveChunksShareOverlap(t *testing.T) {
	// Distinct runes so positions are verifiable.
	var sb strings.Builder
	for i := 0; i < 3500; i++ {
		sb.WriteRune(rune('a' + i%26))
	}
	text := sb.String()

	opts := Options{Window: 1000, Overlap: 200}
	chunks, err := Split(text, opts)
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)

	for i := 1; i < len(chunks); i++ {
		prev := []rune(chunks[i-1].Text)
		cur := []rune(chunks[i].Text)
		assert.Equal(t,
			string(prev[len(prev)-opts.Overlap:]),
			string(cur[:opts.Overlap]),
			"chunk %d should start with the tail of chunk %d", i, i-1)
	}
}

func TestSplit_ConcatenationReconstructsText(t *testing.T) {
	var sb strings.Builder
	for i := 0; i < 4321; i++ {
		sb.WriteRune(rune('A' + i%26))
	}
	text := sb.String()

	opts := Options{Window: 1000, Overlap: 200}
	chunks, err := Split(text, opts)
	require.NoError(t, err)

	var re strings.Builder
	for i, c := range chunks {
		runes := []rune(c.Text)
		if i == 0 {
			re.WriteString(c.Text)
		} else {
			re.WriteString(string(runes[opts.Overlap:]))
		}
	}
	assert.Equal(t, text, re.String())
}

func TestSplit_TinyTailFoldedIntoPrevious(t *testing.T) {
	// 2100 runes: the 100-rune tail is shorter than the overlap,
	// so it joins the second chunk instead of becoming a third.
	text := strings.Repeat("y", 2100)
	chunks, err := Split(text, Options{Window: 1000, Overlap: 200})
	require.NoError(t, err)

	require.Len(t, chunks, 2)
	assert.Equal(t, 2100, chunks[1].End)
	assert.Equal(t, 800, chunks[1].Start)
}

func TestSplit_MultibyteRunesNotSplit(t *testing.T) {
	text := strings.Repeat("日本語テキスト", 500) // 3000 runes
	chunks, err := Split(text, Options{Window: 1000, Overlap: 200})
	require.NoError(t, err)

	require.Len(t, chunks, 3)
	for _, c := range chunks {
		assert.True(t, len([]rune(c.Text)) <= 1200)
		// Every chunk must be valid UTF-8 built from whole runes.
		assert.Equal(t, c.Text, string([]rune(c.Text)))
	}
}

func TestSplit_Deterministic(t *testing.T) {
	text := strings.Repeat("the quick brown fox ", 300)
	a, err := Split(text, DefaultOptions())
	require.NoError(t, err)
	b, err := Split(text, DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestOptions_Validate(t *testing.T) {
	tests := []struct {
		name    string
		opts    Options
		wantErr bool
	}{
		{"defaults", DefaultOptions(), false},
		{"zero window", Options{Window: 0, Overlap: 0}, true},
		{"negative window", Options{Window: -5, Overlap: 0}, true},
		{"negative overlap", Options{Window: 100, Overlap: -1}, true},
		{"overlap equals window", Options{Window: 100, Overlap: 100}, true},
		{"overlap above half", Options{Window: 100, Overlap: 51}, true},
		{"overlap at half", Options{Window: 100, Overlap: 50}, false},
		{"zero overlap", Options{Window: 100, Overlap: 0}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.opts.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, errors.ErrCodeInvalidChunking, errors.GetCode(err))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSplit_ZeroOverlap(t *testing.T) {
	text := strings.Repeat("z", 2500)
	chunks, err := Split(text, Options{Window: 1000, Overlap: 0})
	require.NoError(t, err)

	require.Len(t, chunks, 3)
	assert.Equal(t, 1000, chunks[1].Start)
	assert.Equal(t, 2000, chunks[2].Start)
	assert.Equal(t, 2500, chunks[2].End)
}
