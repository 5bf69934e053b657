package builder

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"happyml/pkg/nn"
	"happyml/pkg/tensor"
)

func xorSamples() []nn.Sample {
	row := func(v ...float32) tensor.Tensor { return tensor.F32FromRows([][]float32{v}) }
	return []nn.Sample{
		{Given: []tensor.Tensor{row(0, 0)}, Expected: []tensor.Tensor{row(0)}},
		{Given: []tensor.Tensor{row(0, 1)}, Expected: []tensor.Tensor{row(1)}},
		{Given: []tensor.Tensor{row(1, 0)}, Expected: []tensor.Tensor{row(1)}},
		{Given: []tensor.Tensor{row(1, 1)}, Expected: []tensor.Tensor{row(0)}},
	}
}

func buildXORNetwork(t *testing.T, repoRoot string) *NetworkBuilder {
	t.Helper()
	b, err := NewNetworkBuilder("Micro Batch", "xor_test", repoRoot)
	require.NoError(t, err)
	b.SetLearningRate(0.5)

	input, err := b.AddInput(tensor.Shape{Rows: 1, Cols: 2, Channels: 1}, tensor.Shape{Rows: 1, Cols: 3, Channels: 1}, "tanhApprox")
	require.NoError(t, err)
	_, err = input.AddOutput(1, "tanhApprox")
	require.NoError(t, err)
	return b
}

func TestInvalidModelNameRejected(t *testing.T) {
	_, err := NewNetworkBuilder("Micro Batch", "bad name!", t.TempDir())
	require.Error(t, err)
}

func TestBuildRequiresHeadsAndOutputs(t *testing.T) {
	b, err := NewNetworkBuilder("Micro Batch", "empty_net", t.TempDir())
	require.NoError(t, err)
	_, _, err = b.Build()
	require.Error(t, err)
}

func TestXORNetworkTrainsAndPredicts(t *testing.T) {
	repo := t.TempDir()
	b := buildXORNetwork(t, repo)
	net, _, err := b.Build()
	require.NoError(t, err)

	exit := nn.NewDefaultExitStrategy(2000, 1<<62, 3000, 0.01, 1e-6, 50)
	require.NoError(t, net.Train(xorSamples(), 3000, 4, exit, nil))

	for _, s := range xorSamples() {
		pred, err := net.PredictOne(s.Given[0])
		require.NoError(t, err)
		got := round(pred.ValueAt(0, 0, 0))
		want := round(s.Expected[0].ValueAt(0, 0, 0))
		assert.Equal(t, want, got)
	}
}

func round(v float32) float32 {
	if v >= 0.5 {
		return 1
	}
	return 0
}

func TestSaveLoadConfigRoundTrip(t *testing.T) {
	repo := t.TempDir()
	b := buildXORNetwork(t, repo)
	net, _, err := b.Build()
	require.NoError(t, err)

	exit := nn.NewDefaultExitStrategy(2000, 1<<62, 1500, 0.02, 1e-6, 50)
	require.NoError(t, net.Train(xorSamples(), 1500, 4, exit, nil))

	_, err = b.Save("knowledge")
	require.NoError(t, err)

	reloaded, _, err := Load(repo, "xor_test", "knowledge")
	require.NoError(t, err)

	for _, s := range xorSamples() {
		original, err := net.PredictOne(s.Given[0])
		require.NoError(t, err)
		loadedPred, err := reloaded.PredictOne(s.Given[0])
		require.NoError(t, err)
		assert.InDelta(t, original.ValueAt(0, 0, 0), loadedPred.ValueAt(0, 0, 0), 1e-4)
	}
}

func TestORNetworkWithBinaryCrossEntropy(t *testing.T) {
	row := func(v ...float32) tensor.Tensor { return tensor.F32FromRows([][]float32{v}) }
	samples := []nn.Sample{
		{Given: []tensor.Tensor{row(0, 0)}, Expected: []tensor.Tensor{row(0)}},
		{Given: []tensor.Tensor{row(0, 1)}, Expected: []tensor.Tensor{row(1)}},
		{Given: []tensor.Tensor{row(1, 0)}, Expected: []tensor.Tensor{row(1)}},
		{Given: []tensor.Tensor{row(1, 1)}, Expected: []tensor.Tensor{row(1)}},
	}

	repo := t.TempDir()
	b, err := NewNetworkBuilder("Micro Batch", "or_test", repo)
	require.NoError(t, err)
	b.SetLearningRate(0.5)
	_, err = b.SetLossFunction("binaryCrossEntropy")
	require.NoError(t, err)

	input, err := b.AddInput(tensor.Shape{Rows: 1, Cols: 2, Channels: 1}, tensor.Shape{Rows: 1, Cols: 8, Channels: 1}, "tanhApprox")
	require.NoError(t, err)
	output, err := input.AddOutput(1, "sigmoid")
	require.NoError(t, err)
	_, err = output.SetUseBias(true)
	require.NoError(t, err)

	net, _, err := b.Build()
	require.NoError(t, err)

	exit := nn.NewDefaultExitStrategy(2000, 1<<62, 4000, 0.05, 1e-6, 100)
	require.NoError(t, net.Train(samples, 4000, 4, exit, nil))

	_, err = b.Save("knowledge")
	require.NoError(t, err)
	reloaded, _, err := Load(repo, "or_test", "knowledge")
	require.NoError(t, err)

	for _, s := range samples {
		pred, err := reloaded.PredictOne(s.Given[0])
		require.NoError(t, err)
		assert.Equal(t, round(s.Expected[0].ValueAt(0, 0, 0)), round(pred.ValueAt(0, 0, 0)))
	}
	accuracy, err := reloaded.ComputeBinaryAccuracy(samples)
	require.NoError(t, err)
	assert.Equal(t, 1.0, accuracy)
}

func TestCategoricalXORNetworkWithAdam(t *testing.T) {
	row := func(v ...float32) tensor.Tensor { return tensor.F32FromRows([][]float32{v}) }
	samples := []nn.Sample{
		{Given: []tensor.Tensor{row(0, 0)}, Expected: []tensor.Tensor{row(1, 0)}},
		{Given: []tensor.Tensor{row(0, 1)}, Expected: []tensor.Tensor{row(0, 1)}},
		{Given: []tensor.Tensor{row(1, 0)}, Expected: []tensor.Tensor{row(0, 1)}},
		{Given: []tensor.Tensor{row(1, 1)}, Expected: []tensor.Tensor{row(1, 0)}},
	}

	repo := t.TempDir()
	b, err := NewNetworkBuilder("Adam", "cat_xor_test", repo)
	require.NoError(t, err)
	b.SetLearningRate(0.01)
	_, err = b.SetLossFunction("categoricalCrossEntropy")
	require.NoError(t, err)

	input, err := b.AddInput(tensor.Shape{Rows: 1, Cols: 2, Channels: 1}, tensor.Shape{Rows: 1, Cols: 16, Channels: 1}, "leaky")
	require.NoError(t, err)
	hidden, err := input.AddDense(8, "sigmoid")
	require.NoError(t, err)
	_, err = hidden.AddOutput(2, "softmax")
	require.NoError(t, err)

	net, _, err := b.Build()
	require.NoError(t, err)

	exit := nn.NewDefaultExitStrategy(2000, 1<<62, 4000, 0.05, 1e-6, 100)
	require.NoError(t, net.Train(samples, 4000, 4, exit, nil))

	_, err = b.Save("knowledge")
	require.NoError(t, err)
	reloaded, _, err := Load(repo, "cat_xor_test", "knowledge")
	require.NoError(t, err)

	accuracy, err := reloaded.ComputeCategoricalAccuracy(samples)
	require.NoError(t, err)
	assert.Equal(t, 1.0, accuracy)
}

func TestConcatenateWideRequiresAtLeastTwoParents(t *testing.T) {
	b, err := NewNetworkBuilder("Micro Batch", "concat_test", t.TempDir())
	require.NoError(t, err)
	v, err := b.AddInput(tensor.Shape{Rows: 1, Cols: 2, Channels: 1}, tensor.Shape{Rows: 1, Cols: 2, Channels: 1}, "linear")
	require.NoError(t, err)
	_, err = b.AddConcatenateWide([]*Vertex{v})
	require.Error(t, err)
}

func TestDropoutOnlyAppliesWhereDeclared(t *testing.T) {
	b, err := NewNetworkBuilder("Micro Batch", "dropout_test", t.TempDir())
	require.NoError(t, err)
	input, err := b.AddInput(tensor.Shape{Rows: 1, Cols: 4, Channels: 1}, tensor.Shape{Rows: 1, Cols: 4, Channels: 1}, "linear")
	require.NoError(t, err)
	dropped, err := input.AddDropout(0.5)
	require.NoError(t, err)
	_, err = dropped.AddOutput(2, "linear")
	require.NoError(t, err)

	net, _, err := b.Build()
	require.NoError(t, err)
	out, err := net.PredictOne(tensor.F32FromRows([][]float32{{1, 1, 1, 1}}))
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{Rows: 1, Cols: 2, Channels: 1}, out.Shape())
}
