package bpe

import "unicode"

// replacementByte stands in for any non-printable byte a token absorbs, so
// a learned vocabulary doesn't fragment across every distinct control
// character. Grounded on data_util.hpp's append_character.
const replacementByte = 254

// isSpaceByte, isDigitByte, isAlnumByte, and isPrintableByte are the coarse
// byte classifier both Tokenize and the streaming file reader in train.go
// drive off of, matching data_util.hpp's character-class helpers
// (is_whitespace/is_punctuation/is_alnum/is_printable).
func isSpaceByte(c byte) bool { return unicode.IsSpace(rune(c)) }
func isDigitByte(c byte) bool { return c >= '0' && c <= '9' }
func isAlnumByte(c byte) bool {
	return c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}
func isPrintableByte(c byte) bool { return c >= 32 && c < 127 }
