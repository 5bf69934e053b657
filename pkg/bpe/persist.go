package bpe

import (
	"bufio"
	"encoding/binary"
	"io"
	"os"
	"path/filepath"

	"happyml/internal/happymlerr"
)

// ModelFileName is the on-disk file name for a model, matching the
// source's `<name>.bpe` convention.
func (m *Model) ModelFileName() string { return m.Name + ".bpe" }

// Save writes the model's delimiter code and merge table to
// dir/<name>.bpe, matching spec §6's BPE model file layout: `u16
// delimiter_code` followed by, per merge (in learned order, ascending
// Code, mirroring getBpeCodes's construction-order iteration reversed
// from the descending Merges slice), a length-prefixed u16 pair then a
// length-prefixed u16 code. Grounded on
// BytePairEncoderModel::save.
func (m *Model) Save(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return happymlerr.Wrap(happymlerr.ErrIO, "create bpe model directory", err)
	}
	path := filepath.Join(dir, m.ModelFileName())
	f, err := os.Create(path)
	if err != nil {
		return happymlerr.Wrap(happymlerr.ErrIO, "create bpe model file", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	if err := binary.Write(w, binary.LittleEndian, m.DelimiterCode); err != nil {
		return happymlerr.Wrap(happymlerr.ErrIO, "write bpe delimiter code", err)
	}
	for i := len(m.Merges) - 1; i >= 0; i-- {
		mg := m.Merges[i]
		if err := writeU16String(w, []uint16{mg.Left, mg.Right}); err != nil {
			return err
		}
		if err := writeU16String(w, []uint16{mg.Code}); err != nil {
			return err
		}
	}
	if err := w.Flush(); err != nil {
		return happymlerr.Wrap(happymlerr.ErrIO, "flush bpe model file", err)
	}
	return nil
}

func writeU16String(w io.Writer, codes []uint16) error {
	if err := binary.Write(w, binary.LittleEndian, uint16(len(codes))); err != nil {
		return happymlerr.Wrap(happymlerr.ErrIO, "write bpe string length", err)
	}
	if err := binary.Write(w, binary.LittleEndian, codes); err != nil {
		return happymlerr.Wrap(happymlerr.ErrIO, "write bpe string", err)
	}
	return nil
}

func readU16String(r io.Reader) ([]uint16, error) {
	var length uint16
	if err := binary.Read(r, binary.LittleEndian, &length); err != nil {
		return nil, err
	}
	codes := make([]uint16, length)
	if length > 0 {
		if err := binary.Read(r, binary.LittleEndian, codes); err != nil {
			return nil, happymlerr.Wrap(happymlerr.ErrIO, "read bpe string", err)
		}
	}
	return codes, nil
}

// Load reads a model previously written by Save from dir/<name>.bpe. A
// missing file is fatal, per spec §4.3's failure semantics.
func Load(dir, name string) (*Model, error) {
	path := filepath.Join(dir, name+".bpe")
	f, err := os.Open(path)
	if err != nil {
		return nil, happymlerr.Wrap(happymlerr.ErrIO, "open bpe model file", err)
	}
	defer f.Close()
	r := bufio.NewReader(f)

	var delimiterCode uint16
	if err := binary.Read(r, binary.LittleEndian, &delimiterCode); err != nil {
		return nil, happymlerr.Wrap(happymlerr.ErrIO, "read bpe delimiter code", err)
	}

	m := &Model{Name: name}
	m.SetDelimiterCode(delimiterCode)

	var merges []Merge
	for {
		pair, err := readU16String(r)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, happymlerr.Wrap(happymlerr.ErrIO, "read bpe merge pair", err)
		}
		code, err := readU16String(r)
		if err != nil {
			return nil, happymlerr.Wrap(happymlerr.ErrIO, "read bpe merge code", err)
		}
		if len(pair) != 2 || len(code) != 1 {
			return nil, happymlerr.Configf("malformed bpe merge entry in %q", path)
		}
		merges = append(merges, Merge{Pair: Pair{Left: pair[0], Right: pair[1]}, Code: code[0]})
	}
	m.SetMerges(merges)
	return m, nil
}
