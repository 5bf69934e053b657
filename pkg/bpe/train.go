package bpe

import (
	"bufio"
	"math"
	"math/rand"
	"os"
	"path/filepath"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"

	"happyml/internal/happymlerr"
)

// TrainOptions controls one training run. Grounded on
// BytePairEncoderModel::train's parameter list.
type TrainOptions struct {
	// EarlyStoppingPatience < 0 disables validation-based early stopping
	// entirely (the default). >= 0 holds out a validation slice and stops
	// once more than that many consecutive merges fail to improve
	// compression.
	EarlyStoppingPatience int
	// EarlyStoppingImprovementMinimum is the minimum compression-ratio
	// improvement that resets the no-improvement counter.
	EarlyStoppingImprovementMinimum float64
	// MinFrequency is the minimum pair count considered for a merge.
	MinFrequency int
	// NumMerges caps the number of merges learned this call; negative
	// means unbounded (subject only to the code-space ceiling).
	NumMerges int
	// ShowProgress renders an mpb progress bar while merges accumulate.
	ShowProgress bool
}

// DefaultTrainOptions mirrors BytePairEncoderModel::train's defaults.
func DefaultTrainOptions() TrainOptions {
	return TrainOptions{
		EarlyStoppingPatience:           -1,
		EarlyStoppingImprovementMinimum: 0.00001,
		MinFrequency:                    2,
		NumMerges:                       -1,
	}
}

// Train learns merges from data (pre-split tokens, e.g. from Tokenize),
// extending any merges the model already holds. Grounded on
// BytePairEncoderModel::train.
func (m *Model) Train(data []string, opts TrainOptions) error {
	if len(data) == 0 {
		return happymlerr.Configf("Train: no training data")
	}
	trainTokens := data
	var validationTokens []string
	if opts.EarlyStoppingPatience >= 0 {
		trainTokens, validationTokens = splitData(data, 0.2)
		if len(validationTokens) == 0 {
			validationTokens = trainTokens
		}
	}
	seqs := make([][]uint16, len(trainTokens))
	for i, t := range trainTokens {
		seqs[i] = m.Encode(t)
	}
	return m.trainOnSequences(seqs, validationTokens, opts)
}

// TrainOnFile tokenizes an entire file and trains on it, matching
// train_on_file's defaults (no early stopping, min frequency 2, unbounded
// merges).
func (m *Model) TrainOnFile(path string) error {
	tokens, err := tokenizeFile(path)
	if err != nil {
		return err
	}
	opts := DefaultTrainOptions()
	seqs := make([][]uint16, len(tokens))
	for i, t := range tokens {
		seqs[i] = m.Encode(t)
	}
	return m.trainOnSequences(seqs, nil, opts)
}

// TrainOnFolder tokenizes every regular file in a directory and trains on
// the combined token stream, matching train_on_folder.
func (m *Model) TrainOnFolder(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return happymlerr.Wrap(happymlerr.ErrIO, "read training folder", err)
	}
	var seqs [][]uint16
	found := false
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		found = true
		tokens, err := tokenizeFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return err
		}
		for _, t := range tokens {
			seqs = append(seqs, m.Encode(t))
		}
	}
	if !found {
		return happymlerr.Configf("TrainOnFolder: no files found in %q", dir)
	}
	return m.trainOnSequences(seqs, nil, DefaultTrainOptions())
}

// tokenizeFile is the streaming corpus reader: it pulls a file through a
// fixed-size buffer rather than loading the whole corpus into memory first,
// applying the same byte classifier Tokenize uses so large-file training
// tokenizes identically to in-memory training. Grounded on
// data_util.hpp's streamed file-to-token reader.
func tokenizeFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, happymlerr.Wrap(happymlerr.ErrIO, "open training file", err)
	}
	defer f.Close()
	r := bufio.NewReaderSize(f, 256*1024)
	buf := make([]byte, 256*1024)
	var tokens []string
	var token []byte
	var last byte
	flush := func() {
		if len(token) > 0 {
			tokens = append(tokens, string(token))
			token = token[:0]
		}
	}
	for {
		n, readErr := r.Read(buf)
		for i := 0; i < n; i++ {
			c := buf[i]
			switch {
			case c == '\r':
			case isSpaceByte(c):
				if c != last {
					flush()
					token = append(token, c)
				}
			case isPrintableByte(c) && !isAlnumByte(c) && (c != '.' || !isDigitByte(last)):
				flush()
				tokens = append(tokens, string(c))
			case !isPrintableByte(c):
				token = append(token, replacementByte)
			default:
				token = append(token, c)
			}
			last = c
		}
		if readErr != nil {
			break
		}
	}
	flush()
	return tokens, nil
}

// splitData randomly partitions data into train/validation slices using an
// 80/20 split, matching data_util.hpp's splitData.
func splitData(data []string, validationRatio float64) (train, validation []string) {
	validationSize := int(float64(len(data)) * validationRatio)
	trainSize := len(data) - validationSize
	indices := rand.Perm(len(data))
	train = make([]string, 0, trainSize)
	validation = make([]string, 0, validationSize)
	for i := 0; i < trainSize; i++ {
		train = append(train, data[indices[i]])
	}
	for i := trainSize; i < len(data); i++ {
		validation = append(validation, data[indices[i]])
	}
	return train, validation
}

// countPairs tallies every adjacent-symbol pair across every sequence.
func countPairs(seqs [][]uint16) map[Pair]int {
	counts := make(map[Pair]int)
	for _, seq := range seqs {
		for i := 0; i+1 < len(seq); i++ {
			counts[Pair{seq[i], seq[i+1]}]++
		}
	}
	return counts
}

// mostFrequentPair finds the highest-count pair meeting minFrequency,
// breaking ties deterministically by (Left, Right) so training is
// reproducible. Grounded on findMostFrequentPair.
func mostFrequentPair(counts map[Pair]int, minFrequency int) (Pair, int, bool) {
	var best Pair
	bestCount := 0
	found := false
	for p, c := range counts {
		if c < minFrequency {
			continue
		}
		if c > bestCount || (c == bestCount && found && lessPair(p, best)) {
			best, bestCount, found = p, c, true
		}
	}
	return best, bestCount, found
}

func lessPair(a, b Pair) bool {
	if a.Left != b.Left {
		return a.Left < b.Left
	}
	return a.Right < b.Right
}

// validateCompressionRate is the encoded/original length ratio over a
// validation slice, matching validate_compression_rate.
func (m *Model) validateCompressionRate(validationTokens []string) float64 {
	var totalOriginal, totalEncoded int
	for _, t := range validationTokens {
		totalOriginal += len(t)
		totalEncoded += len(m.Encode(t))
	}
	if totalOriginal == 0 {
		return 0
	}
	return float64(totalEncoded) / float64(totalOriginal)
}

// trainOnSequences runs the greedy merge loop described by the training
// loop's pair-frequency vocabulary, recomputing exact pair counts from the
// corpus after every merge rather than patching an approximate frequency
// table; see DESIGN.md for why. Grounded on
// BytePairEncoderModel::train_on_vocab.
func (m *Model) trainOnSequences(seqs [][]uint16, validationTokens []string, opts TrainOptions) error {
	var bar *mpb.Bar
	var progress *mpb.Progress
	if opts.ShowProgress {
		progress = mpb.New(mpb.WithWidth(80))
		total := int64(opts.NumMerges)
		if total <= 0 {
			total = int64(MaxCode - m.NextCode)
		}
		bar = progress.AddBar(total,
			mpb.PrependDecorators(decor.Name("BPE merges: "), decor.Percentage(decor.WCSyncSpace)),
			mpb.AppendDecorators(decor.OnComplete(decor.AverageETA(decor.ET_STYLE_GO), "done!")),
		)
	}

	bestScore := math.Inf(1)
	noImprove := 0
	mergeCount := 0
	for {
		if opts.NumMerges >= 0 && mergeCount >= opts.NumMerges {
			break
		}
		counts := countPairs(seqs)
		pair, count, found := mostFrequentPair(counts, opts.MinFrequency)
		if !found || count == 0 {
			break
		}
		if m.NextCode >= MaxCode {
			break
		}
		if opts.EarlyStoppingPatience >= 0 {
			score := m.validateCompressionRate(validationTokens)
			if score < bestScore-opts.EarlyStoppingImprovementMinimum {
				bestScore = score
				noImprove = 0
			} else {
				noImprove++
				if noImprove > opts.EarlyStoppingPatience {
					break
				}
			}
		}

		code := m.NextCode
		m.Merges = append([]Merge{{Pair: pair, Code: code}}, m.Merges...)
		for i := range seqs {
			seqs[i] = applyMerge(seqs[i], pair.Left, pair.Right, code)
		}
		m.NextCode++
		mergeCount++
		if bar != nil {
			bar.Increment()
		}
	}
	if progress != nil {
		progress.Wait()
	}
	return nil
}
