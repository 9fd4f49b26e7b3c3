// Package textfilter cleans LLM output before it reaches text-to-speech:
// chain-of-thought blocks are stripped, pronunciation substitutions applied,
// and digits expanded to words. The filter is streaming: cleaned text is
// yielded as early as possible, with buffering only inside an open think
// block or a possibly-unfinished trailing token.
package textfilter

import (
	"strings"
)

// Think-block delimiters. The tag pair is what reasoning models emit; the
// sentinel pair survives providers that strip angle brackets.
const (
	thinkOpenTag  = "<think>"
	thinkCloseTag = "</think>"
	sentinelOpen  = "¤" // ¤
	sentinelClose = "¶" // ¶
)

// Config tunes the filter.
type Config struct {
	// Pronunciations maps literal words to spoken replacements. Matching is
	// whole-word and case-insensitive.
	Pronunciations map[string]string

	// Language selects digit expansion: "en" or "hi".
	Language string
}

// Filter is a stateful streaming text cleaner. Not safe for concurrent use.
type Filter struct {
	pronunciations map[string]string
	language       string

	inThink    bool
	closeMark  string // closing marker matching the opener that was seen
	carry      string // held-back text that may start or end a marker
	pendingTok string // trailing token that may continue in the next chunk
}

// New creates a filter. Pronunciation keys are lowercased once here.
func New(cfg Config) *Filter {
	pron := make(map[string]string, len(cfg.Pronunciations))
	for k, v := range cfg.Pronunciations {
		pron[strings.ToLower(k)] = v
	}
	lang := cfg.Language
	if lang == "" {
		lang = "en"
	}
	return &Filter{
		pronunciations: pron,
		language:       lang,
	}
}

// Write consumes the next chunk and returns cleaned text ready to speak.
func (f *Filter) Write(chunk string) string {
	visible := f.stripThink(chunk)
	if visible == "" {
		return ""
	}

	text := f.pendingTok + visible
	cut := len(text)
	for cut > 0 {
		r := rune(text[cut-1])
		if text[cut-1] < 0x80 && !isTokenByte(byte(r)) {
			break
		}
		if text[cut-1] >= 0x80 {
			// Multi-byte rune: conservatively treat as part of a token.
			cut--
			continue
		}
		cut--
	}
	f.pendingTok = text[cut:]
	return f.process(text[:cut])
}

// Flush drains any held-back text at end of stream. An unterminated think
// block is discarded, never spoken.
func (f *Filter) Flush() string {
	var out string
	if !f.inThink && f.carry != "" {
		out = f.process(f.pendingTok + f.carry)
	} else {
		out = f.process(f.pendingTok)
	}
	f.carry = ""
	f.pendingTok = ""
	f.inThink = false
	return out
}

func isTokenByte(b byte) bool {
	return b >= '0' && b <= '9' || b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z'
}

// stripThink removes think-block content, carrying partial markers across
// chunk boundaries.
func (f *Filter) stripThink(chunk string) string {
	text := f.carry + chunk
	f.carry = ""
	var out strings.Builder

	for text != "" {
		if f.inThink {
			if idx := strings.Index(text, f.closeMark); idx >= 0 {
				text = text[idx+len(f.closeMark):]
				f.inThink = false
				continue
			}
			// Keep only a possible partial closing marker.
			f.carry = markerSuffix(text, f.closeMark)
			return out.String()
		}

		openIdx, openLen, closeMark := findOpener(text)
		if openIdx >= 0 {
			out.WriteString(text[:openIdx])
			text = text[openIdx+openLen:]
			f.inThink = true
			f.closeMark = closeMark
			continue
		}

		// No opener: emit all but a possible partial opening marker.
		keep := markerSuffix(text, thinkOpenTag)
		if s := markerSuffix(text, sentinelOpen); len(s) > len(keep) {
			keep = s
		}
		out.WriteString(text[:len(text)-len(keep)])
		f.carry = keep
		return out.String()
	}
	return out.String()
}

// findOpener locates the earliest think-block opener.
func findOpener(text string) (idx, length int, closeMark string) {
	idx, length, closeMark = -1, 0, ""
	if i := strings.Index(text, thinkOpenTag); i >= 0 {
		idx, length, closeMark = i, len(thinkOpenTag), thinkCloseTag
	}
	if i := strings.Index(text, sentinelOpen); i >= 0 && (idx < 0 || i < idx) {
		idx, length, closeMark = i, len(sentinelOpen), sentinelClose
	}
	return idx, length, closeMark
}

// markerSuffix returns the longest suffix of text that is a proper prefix of
// marker, so a marker split across chunks is not emitted by half.
func markerSuffix(text, marker string) string {
	max := len(marker) - 1
	if max > len(text) {
		max = len(text)
	}
	for n := max; n > 0; n-- {
		if strings.HasPrefix(marker, text[len(text)-n:]) {
			return text[len(text)-n:]
		}
	}
	return ""
}

// process applies pronunciation substitutions and digit expansion to text
// whose trailing token is known to be complete.
func (f *Filter) process(text string) string {
	if text == "" {
		return ""
	}
	var out strings.Builder
	i := 0
	for i < len(text) {
		if isTokenByte(text[i]) {
			j := i
			for j < len(text) && isTokenByte(text[j]) {
				j++
			}
			out.WriteString(f.processToken(text[i:j]))
			i = j
			continue
		}
		// Pass through multi-byte runes and separators untouched.
		j := i + 1
		for j < len(text) && !isTokenByte(text[j]) {
			j++
		}
		out.WriteString(text[i:j])
		i = j
	}
	return out.String()
}

func (f *Filter) processToken(token string) string {
	if repl, ok := f.pronunciations[strings.ToLower(token)]; ok {
		return repl
	}
	if isDigits(token) {
		return ExpandNumber(token, f.language)
	}
	return token
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return len(s) > 0
}

var enDigits = []string{"zero", "one", "two", "three", "four", "five", "six", "seven", "eight", "nine"}

var enOnes = []string{"", "one", "two", "three", "four", "five", "six", "seven",
	"eight", "nine", "ten", "eleven", "twelve", "thirteen", "fourteen", "fifteen",
	"sixteen", "seventeen", "eighteen", "nineteen"}

var enTens = []string{"", "", "twenty", "thirty", "forty", "fifty", "sixty", "seventy", "eighty", "ninety"}

var hiDigits = []string{"शून्य", "एक", "दो", "तीन", "चार", "पाँच", "छह", "सात", "आठ", "नौ"}

// ExpandNumber converts a digit run to words. Short numbers read as
// cardinals; long runs such as phone numbers read digit by digit.
func ExpandNumber(digits, language string) string {
	if len(digits) > 4 {
		return digitByDigit(digits, language)
	}
	n := 0
	for i := 0; i < len(digits); i++ {
		n = n*10 + int(digits[i]-'0')
	}
	if language == "hi" {
		// Hindi cardinals are irregular; digit-by-digit keeps it predictable.
		return digitByDigit(digits, language)
	}
	return enCardinal(n)
}

func digitByDigit(digits, language string) string {
	words := make([]string, 0, len(digits))
	table := enDigits
	if language == "hi" {
		table = hiDigits
	}
	for i := 0; i < len(digits); i++ {
		words = append(words, table[digits[i]-'0'])
	}
	return strings.Join(words, " ")
}

func enCardinal(n int) string {
	switch {
	case n < 20:
		if n == 0 {
			return "zero"
		}
		return enOnes[n]
	case n < 100:
		if n%10 == 0 {
			return enTens[n/10]
		}
		return enTens[n/10] + " " + enOnes[n%10]
	case n < 1000:
		out := enOnes[n/100] + " hundred"
		if n%100 != 0 {
			out += " " + enCardinal(n%100)
		}
		return out
	default:
		out := enCardinal(n/1000) + " thousand"
		if n%1000 != 0 {
			out += " " + enCardinal(n%1000)
		}
		return out
	}
}
