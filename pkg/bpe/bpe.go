// Package bpe implements a byte-pair-encoder tokenizer core: a learned
// table of symbol merges applied greedily to turn raw text into a compact
// stream of uint16 codes and back. Grounded on
// original_source/src/ml/byte_pair_encoder.hpp's BytePairEncoderModel.
package bpe


// DefaultDelimiterCode is the code marking a token's start/end, matching
// the source's default constructor argument.
const DefaultDelimiterCode uint16 = 256

// MaxCode is the code-space ceiling: training stops once NextCode reaches
// it, so the highest code a merge is ever assigned is MaxCode-1; 0x7FFF is
// reserved as a padding delimiter elsewhere in the format.
const MaxCode uint16 = 0x7FFE

// Pair is an adjacent pair of symbol codes considered for merging. Every
// merge in this implementation replaces exactly two adjacent codes with
// one new code, so unlike the source's general substring-replace helper,
// merges here are represented directly as (Left, Right) rather than
// arbitrary-length u16strings.
type Pair struct {
	Left, Right uint16
}

// Merge is one learned byte-pair merge: occurrences of Left immediately
// followed by Right collapse into Code. Code values are assigned in
// increasing order as merges are learned, so applying merges in ascending
// Code order during encoding reproduces the order they were learned in,
// and applying them in descending Code order during decoding undoes the
// most recent merge first, mirroring the source's ordered_bpe_codes_
// list and its rbegin/begin traversal split between encode and decode.
type Merge struct {
	Pair
	Code uint16
}

// Model is a trained (or in-training) byte-pair encoder.
type Model struct {
	Name          string
	DelimiterCode uint16

	// Merges is kept sorted descending by Code (most recently learned
	// first), matching setBpeCodes's sort order.
	Merges   []Merge
	NextCode uint16
}

// NewModel constructs an empty model with the default delimiter code.
func NewModel(name string) *Model {
	m := &Model{Name: name}
	m.SetDelimiterCode(DefaultDelimiterCode)
	return m
}

// SetDelimiterCode resets the delimiter and the next code counter,
// matching BytePairEncoderModel::setDelimiterCode.
func (m *Model) SetDelimiterCode(code uint16) {
	m.DelimiterCode = code
	m.NextCode = code + 1
}

// SetMerges installs a learned merge table (e.g. after Load), sorting it
// descending by Code and advancing NextCode past the highest code
// referenced by any merge, matching setBpeCodes.
func (m *Model) SetMerges(merges []Merge) {
	sorted := append([]Merge(nil), merges...)
	sortMergesDescending(sorted)
	m.Merges = sorted
	for _, mg := range sorted {
		next := maxU16(maxU16(mg.Left, mg.Right), mg.Code) + 1
		if next > m.NextCode {
			m.NextCode = next
		}
	}
}

func sortMergesDescending(merges []Merge) {
	for i := 1; i < len(merges); i++ {
		for j := i; j > 0 && merges[j].Code > merges[j-1].Code; j-- {
			merges[j], merges[j-1] = merges[j-1], merges[j]
		}
	}
}

func maxU16(a, b uint16) uint16 {
	if a > b {
		return a
	}
	return b
}

// widen maps each raw byte of token to a code, matching the source's
// construction of a u16string from a char/byte sequence.
func widen(token string) []uint16 {
	out := make([]uint16, len(token))
	for i := 0; i < len(token); i++ {
		out[i] = uint16(token[i])
	}
	return out
}

// narrow maps a code sequence back to bytes, truncating any code above
// 0xFF (which should not occur once delimiters have been trimmed and all
// merges undone).
func narrow(codes []uint16) string {
	buf := make([]byte, len(codes))
	for i, c := range codes {
		buf[i] = byte(c)
	}
	return string(buf)
}

// Encode turns token into its fully merged code sequence: delimiter,
// widened bytes, delimiter, then every learned merge applied in the order
// it was learned (ascending Code). Grounded on
// BytePairEncoderModel::encode(string).
func (m *Model) Encode(token string) []uint16 {
	if token == "" {
		return nil
	}
	seq := make([]uint16, 0, len(token)+2)
	seq = append(seq, m.DelimiterCode)
	seq = append(seq, widen(token)...)
	seq = append(seq, m.DelimiterCode)
	for i := len(m.Merges) - 1; i >= 0; i-- {
		mg := m.Merges[i]
		seq = applyMerge(seq, mg.Left, mg.Right, mg.Code)
	}
	return seq
}

// EncodeAll encodes each token independently.
func (m *Model) EncodeAll(tokens []string) [][]uint16 {
	out := make([][]uint16, len(tokens))
	for i, t := range tokens {
		out[i] = m.Encode(t)
	}
	return out
}

// Decode reverses Encode: every learned merge is expanded back to its two
// constituent codes in descending Code order (most recent merge first),
// then the leading/trailing delimiter is trimmed and the remaining codes
// are narrowed back to bytes. Grounded on
// BytePairEncoderModel::decode.
func (m *Model) Decode(encoded []uint16) string {
	if len(encoded) == 0 {
		return ""
	}
	seq := append([]uint16(nil), encoded...)
	for _, mg := range m.Merges {
		seq = expandCode(seq, mg.Code, mg.Left, mg.Right)
	}
	if len(seq) < 2 {
		return ""
	}
	return narrow(seq[1 : len(seq)-1])
}

// applyMerge replaces every non-overlapping adjacent (left, right) pair in
// seq with code, scanning left to right.
func applyMerge(seq []uint16, left, right, code uint16) []uint16 {
	out := make([]uint16, 0, len(seq))
	for i := 0; i < len(seq); i++ {
		if i+1 < len(seq) && seq[i] == left && seq[i+1] == right {
			out = append(out, code)
			i++
			continue
		}
		out = append(out, seq[i])
	}
	return out
}

// expandCode replaces every occurrence of code with (left, right).
func expandCode(seq []uint16, code, left, right uint16) []uint16 {
	out := make([]uint16, 0, len(seq))
	for _, c := range seq {
		if c == code {
			out = append(out, left, right)
			continue
		}
		out = append(out, c)
	}
	return out
}
