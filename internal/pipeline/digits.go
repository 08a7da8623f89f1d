package pipeline

import "strings"

// digitReadings maps ASR token spellings to canonical ASCII digits.
// Covers plain ASCII digits plus the common Japanese digit readings
// (on'yomi and the colloquial variants a speaker is likely to utter),
// per §4.3's mandatory normalization step. Tokens not present here are
// dropped rather than guessed at.
var digitReadings = map[string]string{
	"0": "0", "０": "0", "ゼロ": "0", "れい": "0", "レイ": "0", "零": "0", "マル": "0", "まる": "0",
	"1": "1", "１": "1", "いち": "1", "イチ": "1", "一": "1",
	"2": "2", "２": "2", "に": "2", "ニ": "2", "二": "2",
	"3": "3", "３": "3", "さん": "3", "サン": "3", "三": "3",
	"4": "4", "４": "4", "よん": "4", "ヨン": "4", "し": "4", "シ": "4", "四": "4",
	"5": "5", "５": "5", "ご": "5", "ゴ": "5", "五": "5",
	"6": "6", "６": "6", "ろく": "6", "ロク": "6", "六": "6",
	"7": "7", "７": "7", "なな": "7", "ナナ": "7", "しち": "7", "シチ": "7", "七": "7",
	"8": "8", "８": "8", "はち": "8", "ハチ": "8", "八": "8",
	"9": "9", "９": "9", "きゅう": "9", "キュウ": "9", "く": "9", "ク": "9", "九": "9",
}

// NormalizeDigitToken maps a raw ASR token to a canonical ASCII digit.
// Returns ("", false) for tokens that don't resolve to a digit reading.
func NormalizeDigitToken(token string) (string, bool) {
	trimmed := strings.TrimSpace(token)
	if trimmed == "" {
		return "", false
	}
	if d, ok := digitReadings[trimmed]; ok {
		return d, true
	}
	return "", false
}

// NormalizeDigitTokens filters and maps a token sequence down to the
// canonical digit string it spells out, dropping anything that does
// not resolve to a digit reading.
func NormalizeDigitTokens(tokens []Token) []Token {
	out := make([]Token, 0, len(tokens))
	for _, t := range tokens {
		d, ok := NormalizeDigitToken(t.Text)
		if !ok {
			continue
		}
		out = append(out, Token{Text: d, Start: t.Start, End: t.End})
	}
	return out
}
