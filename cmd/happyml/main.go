// HappyML: Lazy-Tensor Neural Network and BPE Tokenizer Engine
// Copyright (C) 2026  Guillermo Perry
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Command happyml is a smoke-test driver, not a CLI product: it wires
// pkg/builder and pkg/bpe end to end against internal/config and
// internal/logging so the engine's core packages can be exercised from a
// single binary without a REPL or TUI in front of them. Grounded on
// cmd/cli/main.go's flag-parsed entry point, with its bubbletea UI and ASIC
// device orchestration replaced by two plain subcommands.
package main

import (
	"flag"
	"fmt"
	"os"

	"happyml/internal/config"
	"happyml/internal/logging"
	"happyml/pkg/bpe"
	"happyml/pkg/builder"
	"happyml/pkg/nn"
	"happyml/pkg/tensor"
)

func main() {
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	logger, err := logging.NewLogger(&logging.LoggingConfig{Level: *logLevel, Format: "text", Output: "stdout"})
	if err != nil {
		fmt.Fprintf(os.Stderr, "happyml: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config: %v", err)
	}

	args := flag.Args()
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: happyml <train-xor|tokenize> [args]")
		os.Exit(2)
	}

	switch args[0] {
	case "train-xor":
		err = runTrainXOR(cfg, logger)
	case "tokenize":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: happyml tokenize <text>")
			os.Exit(2)
		}
		err = runTokenize(logger, args[1])
	default:
		fmt.Fprintf(os.Stderr, "happyml: unknown subcommand %q\n", args[0])
		os.Exit(2)
	}

	if err != nil {
		logger.Fatal("%v", err)
	}
}

// runTrainXOR builds a small dense network through pkg/builder, trains it on
// the XOR truth table, and reports the learned predictions. It exists to
// prove the builder/graph/optimizer stack wires together end to end, not as
// a reusable training entry point.
func runTrainXOR(cfg config.EngineConfig, logger *logging.Logger) error {
	repoRoot, err := os.MkdirTemp("", "happyml-xor-*")
	if err != nil {
		return err
	}
	defer os.RemoveAll(repoRoot)

	b, err := builder.NewNetworkBuilder("Micro Batch", "xor_smoke", repoRoot)
	if err != nil {
		return err
	}
	b.SetLearningRate(0.5).SetSeed(cfg.DefaultSeed)

	input, err := b.AddInput(tensor.Shape{Rows: 1, Cols: 2, Channels: 1}, tensor.Shape{Rows: 1, Cols: 3, Channels: 1}, "tanhApprox")
	if err != nil {
		return err
	}
	if _, err = input.AddOutput(1, "tanhApprox"); err != nil {
		return err
	}

	net, _, err := b.Build()
	if err != nil {
		return err
	}

	samples := xorSamples()
	exit := nn.NewDefaultExitStrategy(500, 1<<62, 2000, 0.01, 1e-6, 50)
	logger.Info("training XOR network (%d samples, up to 2000 epochs)", len(samples))

	err = net.Train(samples, 2000, 4, exit, func(p nn.TrainProgress) {
		if p.Epoch%200 == 0 && p.BatchIndex == 0 {
			logger.Debug("epoch %d/%d loss=%.4f", p.Epoch, p.TotalEpochs, p.Loss)
		}
	})
	if err != nil {
		return err
	}

	for _, s := range samples {
		pred, err := net.PredictOne(s.Given[0])
		if err != nil {
			return err
		}
		logger.Info("xor(%.0f,%.0f) -> %.4f (want %.0f)",
			s.Given[0].ValueAt(0, 0, 0), s.Given[0].ValueAt(0, 1, 0),
			pred.ValueAt(0, 0, 0), s.Expected[0].ValueAt(0, 0, 0))
	}
	return nil
}

func xorSamples() []nn.Sample {
	row := func(v ...float32) tensor.Tensor { return tensor.F32FromRows([][]float32{v}) }
	return []nn.Sample{
		{Given: []tensor.Tensor{row(0, 0)}, Expected: []tensor.Tensor{row(0)}},
		{Given: []tensor.Tensor{row(0, 1)}, Expected: []tensor.Tensor{row(1)}},
		{Given: []tensor.Tensor{row(1, 0)}, Expected: []tensor.Tensor{row(1)}},
		{Given: []tensor.Tensor{row(1, 1)}, Expected: []tensor.Tensor{row(0)}},
	}
}

// runTokenize trains a tiny BPE model on the given text and prints its
// encode/decode round trip, exercising pkg/bpe end to end.
func runTokenize(logger *logging.Logger, text string) error {
	tokens := bpe.Tokenize(text)
	if len(tokens) == 0 {
		return fmt.Errorf("tokenize: input produced no tokens")
	}

	m := bpe.NewModel("smoke")
	opts := bpe.DefaultTrainOptions()
	opts.NumMerges = 20
	if err := m.Train(tokens, opts); err != nil {
		return err
	}

	logger.Info("learned %d merges from %d tokens", len(m.Merges), len(tokens))
	for _, tok := range tokens {
		encoded := m.Encode(tok)
		decoded := m.Decode(encoded)
		logger.Info("%q -> %v -> %q", tok, encoded, decoded)
	}
	return nil
}
