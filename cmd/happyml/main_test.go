package main

import (
	"testing"

	"happyml/internal/config"
	"happyml/internal/logging"
)

func TestRunTrainXORCompletes(t *testing.T) {
	logger := logging.Discard()
	cfg := config.EngineConfig{DefaultSeed: 7}
	if err := runTrainXOR(cfg, logger); err != nil {
		t.Fatalf("runTrainXOR returned error: %v", err)
	}
}

func TestRunTokenizeCompletes(t *testing.T) {
	logger := logging.Discard()
	if err := runTokenize(logger, "hello world hello"); err != nil {
		t.Fatalf("runTokenize returned error: %v", err)
	}
}

func TestRunTokenizeRejectsEmptyInput(t *testing.T) {
	logger := logging.Discard()
	if err := runTokenize(logger, ""); err == nil {
		t.Error("expected error for empty tokenize input, got nil")
	}
}
