package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeDigitToken(t *testing.T) {
	cases := []struct {
		token string
		want  string
		ok    bool
	}{
		{"0", "0", true},
		{"ゼロ", "0", true},
		{"マル", "0", true},
		{"いち", "1", true},
		{"一", "1", true},
		{"なな", "7", true},
		{"しち", "7", true},
		{"ナナ", "7", true},
		{"シチ", "7", true},
		{"イチ", "1", true},
		{"ニ", "2", true},
		{"サン", "3", true},
		{"ヨン", "4", true},
		{"ゴ", "5", true},
		{"ロク", "6", true},
		{"ハチ", "8", true},
		{"キュウ", "9", true},
		{"きゅう", "9", true},
		{"く", "9", true},
		{"  5  ", "5", true},
		{"hello", "", false},
		{"", "", false},
	}
	for _, c := range cases {
		got, ok := NormalizeDigitToken(c.token)
		assert.Equal(t, c.ok, ok, c.token)
		if c.ok {
			assert.Equal(t, c.want, got, c.token)
		}
	}
}

func TestNormalizeDigitTokensDropsUnknown(t *testing.T) {
	tokens := []Token{
		{Text: "いち", Start: 0, End: 0.3},
		{Text: "um", Start: 0.3, End: 0.4},
		{Text: "に", Start: 0.4, End: 0.7},
	}
	got := NormalizeDigitTokens(tokens)
	require := assert.New(t)
	require.Len(got, 2)
	require.Equal("1", got[0].Text)
	require.Equal("2", got[1].Text)
}
