package nn

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"happyml/pkg/tensor"
)

func row(values ...float32) tensor.Tensor {
	return tensor.F32FromRows([][]float32{values})
}

func TestFullyConnectedForwardShape(t *testing.T) {
	opt := NewMicroBatchOptimizer(0.01, 0)
	layer := NewFullyConnectedLayer("fc", 2, 3, 32, opt, 1)
	out, err := layer.Forward([]tensor.Tensor{row(1, 2)}, false, &TrainingState{})
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{Rows: 1, Cols: 3, Channels: 1}, out.Shape())
}

func TestFullyConnectedBackwardUpdatesWeights(t *testing.T) {
	opt := NewMicroBatchOptimizer(0.1, 0)
	layer := NewFullyConnectedLayer("fc", 2, 1, 32, opt, 1)
	state := &TrainingState{}
	_, err := layer.Forward([]tensor.Tensor{row(1, 1)}, true, state)
	require.NoError(t, err)

	before := tensor.NewF32Tensor(layer.weights)
	_, err = layer.Backward(row(1), state)
	require.NoError(t, err)
	after := layer.weights

	changed := false
	for r := 0; r < 2; r++ {
		if before.ValueAt(r, 0, 0) != after.ValueAt(r, 0, 0) {
			changed = true
		}
	}
	assert.True(t, changed, "weights should change after a backward pass")
}

func TestBiasForwardAddsVector(t *testing.T) {
	opt := NewMicroBatchOptimizer(0.01, 0)
	layer := NewBiasLayer("bias", tensor.Shape{Rows: 1, Cols: 2, Channels: 1}, 32, opt, 1)
	out, err := layer.Forward([]tensor.Tensor{row(1, 1)}, false, &TrainingState{})
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{Rows: 1, Cols: 2, Channels: 1}, out.Shape())
}

func TestActivationLayerReLU(t *testing.T) {
	fn, err := ActivationByName("relu")
	require.NoError(t, err)
	layer := NewActivationLayer("act", fn, tensor.Shape{Rows: 1, Cols: 2, Channels: 1})
	out, err := layer.Forward([]tensor.Tensor{row(-1, 2)}, false, &TrainingState{})
	require.NoError(t, err)
	assert.Equal(t, float32(0), out.ValueAt(0, 0, 0))
	assert.Equal(t, float32(2), out.ValueAt(0, 1, 0))
}

func TestFlattenLayerRoundTrip(t *testing.T) {
	layer := NewFlattenLayer("flatten")
	input := tensor.NewF32Tensor(tensor.NewFromFunctionTensor(tensor.Shape{Rows: 2, Cols: 2, Channels: 1}, func(r, c, _ int) float32 {
		return float32(r*2 + c)
	}))
	state := &TrainingState{}
	flat, err := layer.Forward([]tensor.Tensor{input}, true, state)
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{Rows: 1, Cols: 4, Channels: 1}, flat.Shape())

	back, err := layer.Backward(flat, state)
	require.NoError(t, err)
	require.Len(t, back, 1)
	assert.Equal(t, tensor.Shape{Rows: 2, Cols: 2, Channels: 1}, back[0].Shape())
}

func TestDropoutMasksDuringTraining(t *testing.T) {
	layer, err := NewDropoutLayer("dropout", tensor.Shape{Rows: 1, Cols: 4, Channels: 1}, 1.0, 7)
	require.NoError(t, err)
	out, err := layer.Forward([]tensor.Tensor{row(1, 1, 1, 1)}, true, &TrainingState{})
	require.NoError(t, err)
	for c := 0; c < 4; c++ {
		assert.Equal(t, float32(0), out.ValueAt(0, c, 0), "rate=1.0 should zero every cell")
	}
}

func TestDropoutInvalidRate(t *testing.T) {
	_, err := NewDropoutLayer("dropout", tensor.Shape{Rows: 1, Cols: 1, Channels: 1}, 1.5, 1)
	require.Error(t, err)
}

func TestConcatenateWideLayerShapeMismatch(t *testing.T) {
	_, err := NewConcatenateWideLayer("concat", []tensor.Shape{
		{Rows: 1, Cols: 2, Channels: 1},
		{Rows: 2, Cols: 2, Channels: 1},
	})
	require.Error(t, err)
}

func TestConcatenateWideLayerForwardBackward(t *testing.T) {
	layer, err := NewConcatenateWideLayer("concat", []tensor.Shape{
		{Rows: 1, Cols: 2, Channels: 1},
		{Rows: 1, Cols: 3, Channels: 1},
	})
	require.NoError(t, err)
	out, err := layer.Forward([]tensor.Tensor{row(1, 2), row(3, 4, 5)}, false, &TrainingState{})
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{Rows: 1, Cols: 5, Channels: 1}, out.Shape())

	errs, err := layer.Backward(row(1, 2, 3, 4, 5), &TrainingState{})
	require.NoError(t, err)
	require.Len(t, errs, 2)
	assert.Equal(t, tensor.Shape{Rows: 1, Cols: 2, Channels: 1}, errs[0].Shape())
	assert.Equal(t, tensor.Shape{Rows: 1, Cols: 3, Channels: 1}, errs[1].Shape())
}

func TestLayerNormalizationHandlesZeroVariance(t *testing.T) {
	layer := NewLayerNormalizationLayer("norm", tensor.Shape{Rows: 1, Cols: 3, Channels: 1})
	out, err := layer.Forward([]tensor.Tensor{row(5, 5, 5)}, false, &TrainingState{})
	require.NoError(t, err)
	for c := 0; c < 3; c++ {
		v := out.ValueAt(0, c, 0)
		assert.False(t, v != v, "zero-variance row should not produce NaN")
	}
}

func TestMicroBatchOptimizerUpdate(t *testing.T) {
	opt := NewMicroBatchOptimizer(0.1, 0)
	current := row(1, 1)
	gradient := row(1, 1)
	updated, err := opt.UpdateWeights(opt.RegisterWeights(), current, gradient)
	require.NoError(t, err)
	assert.InDelta(t, 0.9, updated.ValueAt(0, 0, 0), 1e-6)
}

func TestAdamOptimizerMovesTowardNegativeGradient(t *testing.T) {
	opt := NewAdamOptimizer(0.1, 0.1)
	id := opt.RegisterWeights()
	current := row(1)
	gradient := row(1)
	updated, err := opt.UpdateWeights(id, current, gradient)
	require.NoError(t, err)
	assert.Less(t, updated.ValueAt(0, 0, 0), current.ValueAt(0, 0, 0))
}

func TestSGDMOptimizerAccumulatesMomentum(t *testing.T) {
	opt := NewSGDMOptimizer(0.1, 0.1, false)
	id := opt.RegisterWeights()
	current := row(1)
	gradient := row(1)
	first, err := opt.UpdateWeights(id, current, gradient)
	require.NoError(t, err)
	second, err := opt.UpdateWeights(id, first, gradient)
	require.NoError(t, err)
	firstDelta := current.ValueAt(0, 0, 0) - first.ValueAt(0, 0, 0)
	secondDelta := first.ValueAt(0, 0, 0) - second.ValueAt(0, 0, 0)
	assert.Greater(t, secondDelta, firstDelta, "momentum should accumulate across updates")
}

func TestMSELossPartialDerivative(t *testing.T) {
	loss := NewMSELoss()
	truth := row(1, 1)
	prediction := row(2, 2)
	total, err := loss.CalculateTotalError([]tensor.Tensor{truth}, []tensor.Tensor{prediction})
	require.NoError(t, err)
	assert.Equal(t, float32(1.0), loss.Compute(total))
	deriv := loss.PartialDerivative(total, 1)
	assert.Equal(t, float32(2), deriv.ValueAt(0, 0, 0))
}

func TestBinaryCrossEntropyLossPenalizesConfidentlyWrongPositive(t *testing.T) {
	loss := NewBinaryCrossEntropyLoss()

	// Truth is 1 but the model confidently predicts 0: the loss must be
	// large, not collapse to ~0 because the raw error is negative.
	wrong, err := loss.CalculateTotalError([]tensor.Tensor{row(1)}, []tensor.Tensor{row(0)})
	require.NoError(t, err)
	assert.Greater(t, loss.Compute(wrong), float32(5.0))

	right, err := loss.CalculateTotalError([]tensor.Tensor{row(1)}, []tensor.Tensor{row(0.99)})
	require.NoError(t, err)
	assert.Less(t, loss.Compute(right), float32(0.1))
	assert.Greater(t, loss.Compute(wrong), loss.Compute(right))
}

func TestCategoricalCrossEntropyLossPenalizesConfidentlyWrongPositive(t *testing.T) {
	loss := NewCategoricalCrossEntropyLoss()

	wrong, err := loss.CalculateTotalError([]tensor.Tensor{row(1, 0)}, []tensor.Tensor{row(0, 1)})
	require.NoError(t, err)
	right, err := loss.CalculateTotalError([]tensor.Tensor{row(1, 0)}, []tensor.Tensor{row(0.99, 0.01)})
	require.NoError(t, err)

	assert.Greater(t, loss.Compute(wrong), float32(5.0))
	assert.Less(t, loss.Compute(right), float32(0.1))
}

func TestLossByNameUnknown(t *testing.T) {
	_, err := LossByName("not-a-loss")
	require.Error(t, err)
}

func TestDefaultExitStrategyStopsOnEpochCap(t *testing.T) {
	strategy := NewDefaultExitStrategy(100, 1<<62, 5, 0, 0, 0)
	assert.False(t, strategy.IsDone(3, 1.0, 0))
	assert.True(t, strategy.IsDone(5, 1.0, 0))
}

func TestDefaultExitStrategyStopsOnPatience(t *testing.T) {
	strategy := NewDefaultExitStrategy(2, 1<<62, 1000, 0, 0, 0)
	assert.False(t, strategy.IsDone(0, 1.0, 0))
	assert.False(t, strategy.IsDone(1, 2.0, 0))
	assert.True(t, strategy.IsDone(2, 2.0, 0))
}

func TestDefaultExitStrategyRespectsMinEpochs(t *testing.T) {
	strategy := NewDefaultExitStrategy(0, 1<<62, 1000, 0, 0, 5)
	assert.False(t, strategy.IsDone(1, 0.0, 0))
	assert.True(t, strategy.IsDone(5, 0.0, 0))
}

// TestGraphForwardJoinSemantics exercises a small two-head concat network:
// the join node should only fire once both incoming edges are populated.
func TestGraphForwardJoinSemantics(t *testing.T) {
	concatLayer, err := NewConcatenateWideLayer("concat", []tensor.Shape{
		{Rows: 1, Cols: 2, Channels: 1},
		{Rows: 1, Cols: 2, Channels: 1},
	})
	require.NoError(t, err)

	headA := NewNode(1, passthroughLayer{shape: tensor.Shape{Rows: 1, Cols: 2, Channels: 1}})
	headB := NewNode(2, passthroughLayer{shape: tensor.Shape{Rows: 1, Cols: 2, Channels: 1}})
	join := NewOutputNode(3, concatLayer)
	headA.Connect(join.Node)
	headB.Connect(join.Node)

	net := NewNetwork(NewMSELoss(), NewMicroBatchOptimizer(0.01, 0))
	net.AddHead(headA)
	net.AddHead(headB)
	net.AddOutput(join)

	out, err := net.Predict([]tensor.Tensor{row(1, 2), row(3, 4)})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, tensor.Shape{Rows: 1, Cols: 4, Channels: 1}, out[0].Shape())
}

// passthroughLayer is a minimal test double implementing Layer, used to
// isolate graph join/fan-out behavior from any real layer's math.
type passthroughLayer struct {
	shape tensor.Shape
}

func (p passthroughLayer) OutputShape() tensor.Shape { return p.shape }
func (p passthroughLayer) Forward(inputs []tensor.Tensor, _ bool, _ *TrainingState) (tensor.Tensor, error) {
	return inputs[0], nil
}
func (p passthroughLayer) Backward(outputError tensor.Tensor, _ *TrainingState) ([]tensor.Tensor, error) {
	return []tensor.Tensor{outputError}, nil
}

func TestNetworkTrainConverges(t *testing.T) {
	opt := NewMicroBatchOptimizer(0.1, 0.05)
	loss := NewMSELoss()
	net := NewNetwork(loss, opt)

	fc := NewFullyConnectedLayer("fc", 1, 1, 32, opt, 1)

	// Single node acting both as head and output: forward returns the
	// node's own output directly since it has no outgoing edges.
	outputNode := NewOutputNode(1, fc)
	net.AddHead(outputNode.Node)
	net.AddOutput(outputNode)

	samples := []Sample{
		{Given: []tensor.Tensor{row(1)}, Expected: []tensor.Tensor{row(2)}},
		{Given: []tensor.Tensor{row(2)}, Expected: []tensor.Tensor{row(4)}},
	}
	exit := NewDefaultExitStrategy(1000, 1<<62, 200, 0.001, 1e-5, 0)
	err := net.Train(samples, 200, 2, exit, nil)
	require.NoError(t, err)

	pred, err := net.PredictOne(row(1))
	require.NoError(t, err)
	assert.InDelta(t, 2.0, pred.ValueAt(0, 0, 0), 0.5)
}

func TestNetworkTrainRetainsBestCheckpoint(t *testing.T) {
	opt := NewMicroBatchOptimizer(0.1, 0.05)
	loss := NewMSELoss()
	net := NewNetwork(loss, opt)

	fc := NewFullyConnectedLayer("fc", 1, 1, 32, opt, 1)
	outputNode := NewOutputNode(1, fc)
	net.AddHead(outputNode.Node)
	net.AddOutput(outputNode)

	dbPath := t.TempDir() + "/checkpoints.db"
	store, err := OpenCheckpointStore(dbPath)
	require.NoError(t, err)
	defer store.Close()

	paramDir := t.TempDir()
	net.Checkpoint = store
	net.CheckpointPolicy = RetainBest
	net.CheckpointDir = paramDir
	net.CheckpointModel = "checkpoint_test"
	net.CheckpointNodes = []*Node{outputNode.Node}

	samples := []Sample{
		{Given: []tensor.Tensor{row(1)}, Expected: []tensor.Tensor{row(2)}},
		{Given: []tensor.Tensor{row(2)}, Expected: []tensor.Tensor{row(4)}},
	}
	exit := NewDefaultExitStrategy(1000, 1<<62, 50, 0.001, 1e-5, 0)
	require.NoError(t, net.Train(samples, 50, 2, exit, nil))

	_, found, err := store.BestLoss("checkpoint_test")
	require.NoError(t, err)
	assert.True(t, found, "a RetainBest policy should have recorded a best loss across 50 epochs")

	entries, err := os.ReadDir(paramDir)
	require.NoError(t, err)
	assert.NotEmpty(t, entries, "at least one improving epoch should have written parameter files")
}

// TestFullyConnectedGradientMatchesFiniteDifference drives a single FC
// layer with fixed weights through a two-sample MSE batch and checks the
// weight update it applies against a central finite-difference estimate of
// the batch loss. Both samples share the same input so the layer's
// averaged-input approximation is exact and the two gradients differ only
// by the documented mixed-precision and batch scaling.
func TestFullyConnectedGradientMatchesFiniteDifference(t *testing.T) {
	const batch = 2
	x := []float32{1.0, 0.5}
	truths := []float32{0.2, 0.8}
	weights := [][]float32{{0.3}, {-0.2}}

	opt := NewMicroBatchOptimizer(1.0, 0)
	layer := NewFullyConnectedLayer("fc", 2, 1, 32, opt, 1)
	layer.weights = tensor.F32FromRows(weights)
	before := tensor.NewF32Tensor(layer.weights)

	state := &TrainingState{}
	input := row(x...)
	var preds []float32
	for i := 0; i < batch; i++ {
		out, err := layer.Forward([]tensor.Tensor{input}, true, state)
		require.NoError(t, err)
		preds = append(preds, out.ValueAt(0, 0, 0))
	}

	totalError := (preds[0] - truths[0]) + (preds[1] - truths[1])
	partialDerivative := totalError * 2.0 / batch
	_, err := layer.Backward(row(partialDerivative), state)
	require.NoError(t, err)
	after := layer.weights

	// batchLoss is the loss pipeline's view of this batch: the squared sum
	// of per-sample errors for a candidate weight vector.
	batchLoss := func(w0, w1 float32) float32 {
		var total float32
		for i := 0; i < batch; i++ {
			pred := x[0]*w0 + x[1]*w1
			total += pred - truths[i]
		}
		return total * total
	}

	const eps = 1e-3
	fd := []float32{
		(batchLoss(weights[0][0]+eps, weights[1][0]) - batchLoss(weights[0][0]-eps, weights[1][0])) / (2 * eps),
		(batchLoss(weights[0][0], weights[1][0]+eps) - batchLoss(weights[0][0], weights[1][0]-eps)) / (2 * eps),
	}

	scale := mixedPrecisionScale(32)
	for i := 0; i < 2; i++ {
		applied := before.ValueAt(i, 0, 0) - after.ValueAt(i, 0, 0)
		expected := fd[i] * scale / (2 * batch)
		assert.InDelta(t, expected, applied, 1e-2, "weight %d update should track the finite-difference gradient", i)
	}
}

func TestComputeBinaryAccuracyPerfectPredictor(t *testing.T) {
	net := NewNetwork(NewMSELoss(), NewMicroBatchOptimizer(0.01, 0))
	out := NewOutputNode(1, passthroughLayer{shape: tensor.Shape{Rows: 1, Cols: 1, Channels: 1}})
	net.AddHead(out.Node)
	net.AddOutput(out)

	samples := []Sample{
		{Given: []tensor.Tensor{row(0)}, Expected: []tensor.Tensor{row(0)}},
		{Given: []tensor.Tensor{row(1)}, Expected: []tensor.Tensor{row(1)}},
	}
	accuracy, err := net.ComputeBinaryAccuracy(samples)
	require.NoError(t, err)
	assert.Equal(t, 1.0, accuracy)
}

func TestComputeCategoricalAccuracyArgmax(t *testing.T) {
	net := NewNetwork(NewMSELoss(), NewMicroBatchOptimizer(0.01, 0))
	out := NewOutputNode(1, passthroughLayer{shape: tensor.Shape{Rows: 1, Cols: 2, Channels: 1}})
	net.AddHead(out.Node)
	net.AddOutput(out)

	samples := []Sample{
		{Given: []tensor.Tensor{row(0.9, 0.1)}, Expected: []tensor.Tensor{row(1, 0)}},
		{Given: []tensor.Tensor{row(0.2, 0.8)}, Expected: []tensor.Tensor{row(1, 0)}},
	}
	accuracy, err := net.ComputeCategoricalAccuracy(samples)
	require.NoError(t, err)
	assert.Equal(t, 0.5, accuracy)
}

func TestNewProgressBarAdvancesWithoutPanic(t *testing.T) {
	opt := NewMicroBatchOptimizer(0.1, 0)
	loss := NewMSELoss()
	net := NewNetwork(loss, opt)
	fc := NewFullyConnectedLayer("fc", 1, 1, 32, opt, 1)
	outputNode := NewOutputNode(1, fc)
	net.AddHead(outputNode.Node)
	net.AddOutput(outputNode)

	samples := []Sample{
		{Given: []tensor.Tensor{row(1)}, Expected: []tensor.Tensor{row(2)}},
	}
	onProgress, wait := NewProgressBar(3, 1)
	exit := NewDefaultExitStrategy(1000, 1<<62, 3, 0, 0, 0)
	require.NoError(t, net.Train(samples, 3, 1, exit, onProgress))
	wait()
}
