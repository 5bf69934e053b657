package nn

import (
	"math/rand"
	"os"
	"time"

	"happyml/internal/happymlerr"
	"happyml/pkg/tensor"
)

// Edge is a directed connection between two nodes carrying the pending
// forward value and pending backward error for the current sample.
// Grounded on original_source/src/ml/neural_network_node.hpp's
// NeuralNetworkConnection, minus the weak/strong shared_ptr dance: Go's
// garbage collector handles the graph's reference cycles directly, so both
// directions are plain pointers (spec §9's "arena of nodes keyed by stable
// integer ids" note, simplified further since Go needs no ids to break
// cycles).
type Edge struct {
	From, To      *Node
	forwardValue  tensor.Tensor
	backwardError tensor.Tensor
}

// Node is one vertex of the network graph: it owns a layer, its training
// queue state, and its fan-in/fan-out edges. ID is the stable vertex id
// used by the on-disk config and parameter file names. onOutput is set by
// NewOutputNode to capture a terminal node's result; a head/interior node
// leaves it nil and simply drops a value with no outgoing edges.
type Node struct {
	ID              int
	Layer           Layer
	Materialized    bool
	UseNormClipping bool
	ClipThreshold   float32

	inputs   []*Edge
	outputs  []*Edge
	state    TrainingState
	onOutput func(tensor.Tensor)
}

func NewNode(id int, layer Layer) *Node {
	return &Node{ID: id, Layer: layer, ClipThreshold: 5.0}
}

// Connect wires n as a predecessor of child, returning child so calls can
// be chained in builder style. Grounded on
// original_source/src/ml/neural_network_node.hpp's add().
func (n *Node) Connect(child *Node) *Node {
	edge := &Edge{From: n, To: child}
	n.outputs = append(n.outputs, edge)
	child.inputs = append(child.inputs, edge)
	return child
}

func (n *Node) doForward(inputs []tensor.Tensor, forTraining bool) error {
	out, err := n.Layer.Forward(inputs, forTraining, &n.state)
	if err != nil {
		return err
	}
	if n.Materialized {
		out = tensor.NewF32Tensor(out)
	}
	if len(n.outputs) == 0 {
		if n.onOutput != nil {
			n.onOutput(out)
		}
		return nil
	}
	for _, edge := range n.outputs {
		edge.forwardValue = out
		if err := edge.To.forwardFromConnection(forTraining); err != nil {
			return err
		}
	}
	return nil
}

// OutgoingTargetIDs lists the vertex ids this node fans out to, in
// connection order, for config serialization (spec §6's
// "edge:<from_id>:<to_id>[:<to_id>...]" row).
func (n *Node) OutgoingTargetIDs() []int {
	ids := make([]int, len(n.outputs))
	for i, e := range n.outputs {
		ids[i] = e.To.ID
	}
	return ids
}

// ForwardFromInput runs a head node's forward pass from a single externally
// supplied tensor.
func (n *Node) ForwardFromInput(input tensor.Tensor, forTraining bool) error {
	return n.doForward([]tensor.Tensor{input}, forTraining)
}

// forwardFromConnection runs once every incoming edge has a pending forward
// value (join semantics); otherwise it returns without progressing, per
// spec §4.3's "missing inputs cause the call to return without progressing
// that branch."
func (n *Node) forwardFromConnection(forTraining bool) error {
	inputs := make([]tensor.Tensor, 0, len(n.inputs))
	for _, edge := range n.inputs {
		if edge.forwardValue == nil {
			return nil
		}
		inputs = append(inputs, edge.forwardValue)
	}
	if err := n.doForward(inputs, forTraining); err != nil {
		return err
	}
	for _, edge := range n.inputs {
		edge.forwardValue = nil
	}
	return nil
}

// Backward pushes output_error through this node's layer and on to its
// predecessors, fanning errors out across multiple inputs and averaging
// errors that converge back into a single predecessor with fan-out > 1.
// Grounded on original_source/src/ml/neural_network_node.hpp's backward().
func (n *Node) Backward(outputError tensor.Tensor) error {
	priorErrors, err := n.Layer.Backward(outputError, &n.state)
	if err != nil {
		return err
	}
	// The batch's queued inputs are consumed; the next batch starts from an
	// empty queue, mirroring the source layers' drain-the-FIFO backward.
	n.state.Reset()
	if len(n.inputs) == 0 {
		// A head node has no predecessors; its layer's input error stops here.
		return nil
	}
	if len(priorErrors) != len(n.inputs) {
		return happymlerr.Shapef("node %d: layer returned %d errors for %d inputs", n.ID, len(priorErrors), len(n.inputs))
	}
	for i, edge := range n.inputs {
		priorError := priorErrors[i]
		if n.UseNormClipping {
			priorError = tensor.Clip(priorError, -n.ClipThreshold, n.ClipThreshold)
		}
		if n.Materialized {
			priorError = tensor.NewF32Tensor(priorError)
		}
		from := edge.From
		if len(from.outputs) == 1 {
			if err := from.Backward(priorError); err != nil {
				return err
			}
			continue
		}
		edge.backwardError = priorError
		ready := true
		var sum tensor.Tensor
		for _, outEdge := range from.outputs {
			if outEdge.backwardError == nil {
				ready = false
				break
			}
			if sum == nil {
				sum = outEdge.backwardError
			} else {
				sum, err = tensor.Add(sum, outEdge.backwardError)
				if err != nil {
					return err
				}
			}
		}
		if !ready {
			continue
		}
		averaged := tensor.MulScalar(sum, 1.0/float32(len(from.outputs)))
		if err := from.Backward(averaged); err != nil {
			return err
		}
		for _, outEdge := range from.outputs {
			outEdge.backwardError = nil
		}
	}
	return nil
}

// OutputNode is a terminal node that captures the final forward tensor of
// each sample for the caller to drain. Grounded on
// original_source/src/ml/neural_network_node.hpp's NeuralNetworkOutputNode.
type OutputNode struct {
	*Node
	lastOutput tensor.Tensor
}

func NewOutputNode(id int, layer Layer) *OutputNode {
	out := &OutputNode{Node: NewNode(id, layer)}
	out.Node.onOutput = func(t tensor.Tensor) { out.lastOutput = t }
	return out
}

// ConsumeLastOutput drains and materializes the last captured output.
func (o *OutputNode) ConsumeLastOutput() tensor.Tensor {
	t := o.lastOutput
	o.lastOutput = nil
	if t == nil {
		return nil
	}
	return tensor.NewF32Tensor(t)
}

// Network is the trained/trainable DAG. Heads receive external inputs;
// Outputs capture results. Grounded on
// original_source/src/ml/neural_network.hpp's NeuralNetwork/
// NeuralNetworkForTraining split, collapsed into one type since Go has no
// use for the inference-only subclass distinction (Optimizer/Loss are
// simply unused after training).
type Network struct {
	Heads     []*Node
	Outputs   []*OutputNode
	Loss      LossFunction
	Optimizer Optimizer

	// Checkpoint, CheckpointPolicy, CheckpointDir, CheckpointModel, and
	// CheckpointNodes are all optional; when Checkpoint is non-nil, Train
	// consults ShouldRetain once per epoch and persists parameters to
	// CheckpointDir under CheckpointModel whenever it says to.
	Checkpoint       *CheckpointStore
	CheckpointPolicy RetentionPolicy
	CheckpointDir    string
	CheckpointModel  string
	CheckpointNodes  []*Node
}

func NewNetwork(loss LossFunction, optimizer Optimizer) *Network {
	return &Network{Loss: loss, Optimizer: optimizer}
}

func (net *Network) AddHead(n *Node)        { net.Heads = append(net.Heads, n) }
func (net *Network) AddOutput(n *OutputNode) { net.Outputs = append(net.Outputs, n) }

// forward runs one full pass given one tensor per head node and returns one
// tensor per output node. forTraining selects whether layers queue their
// per-sample inputs and whether dropout masks.
func (net *Network) forward(inputs []tensor.Tensor, forTraining bool) ([]tensor.Tensor, error) {
	if len(inputs) != len(net.Heads) {
		return nil, happymlerr.Shapef("forward: expected %d inputs, got %d", len(net.Heads), len(inputs))
	}
	for i, head := range net.Heads {
		if err := head.ForwardFromInput(inputs[i], forTraining); err != nil {
			return nil, err
		}
	}
	results := make([]tensor.Tensor, len(net.Outputs))
	for i, out := range net.Outputs {
		results[i] = out.ConsumeLastOutput()
	}
	return results, nil
}

// Predict runs inference given one tensor per head node and returns one
// tensor per output node.
func (net *Network) Predict(inputs []tensor.Tensor) ([]tensor.Tensor, error) {
	return net.forward(inputs, false)
}

func (net *Network) PredictOne(input tensor.Tensor) (tensor.Tensor, error) {
	results, err := net.Predict([]tensor.Tensor{input})
	if err != nil {
		return nil, err
	}
	return results[0], nil
}

// Sample is one (given, expected) training record. Given and Expected each
// carry one tensor per head/output node, matching Predict's ordering.
type Sample struct {
	Given    []tensor.Tensor
	Expected []tensor.Tensor
}

// TrainProgress is reported once per processed batch so callers can render
// a status line without the driver owning any particular UI.
type TrainProgress struct {
	Epoch        int
	TotalEpochs  int
	BatchIndex   int
	TotalBatches int
	BatchSize    int
	Loss         float32
}

// Train runs the mini-batch driver loop: shuffle, forward every sample
// (queuing per-output truth/prediction pairs), and once batchSize samples
// have accumulated (or the set is exhausted) compute the batch's total
// error, loss, and partial derivative, then run backward. At the end of
// every epoch, if Checkpoint is set, ShouldRetain decides whether that
// epoch's parameters are worth persisting under CheckpointPolicy. Stops
// when exitStrategy reports done. Grounded on
// original_source/src/ml/neural_network.hpp's NeuralNetworkForTraining::train.
func (net *Network) Train(samples []Sample, epochs, batchSize int, exitStrategy ExitStrategy, onProgress func(TrainProgress)) error {
	if batchSize > len(samples) {
		return happymlerr.Shapef("Train: batch size %d larger than training set of %d", batchSize, len(samples))
	}
	outputCount := len(net.Outputs)
	start := time.Now()

	for epoch := 0; epoch < epochs; epoch++ {
		shuffled := shuffleSamples(samples, int64(epoch))

		batchTruths := make([][]tensor.Tensor, outputCount)
		batchPredictions := make([][]tensor.Tensor, outputCount)
		batchOffset := 0
		totalBatches := (len(shuffled) + batchSize - 1) / batchSize
		batchIndex := 0
		var lastLoss float32

		for i, sample := range shuffled {
			predictions, err := net.forward(sample.Given, true)
			if err != nil {
				return err
			}
			for o := 0; o < outputCount; o++ {
				batchPredictions[o] = append(batchPredictions[o], predictions[o])
				batchTruths[o] = append(batchTruths[o], sample.Expected[o])
			}
			batchOffset++

			isLast := i == len(shuffled)-1
			if batchOffset >= batchSize || isLast {
				batchIndex++
				for o := 0; o < outputCount; o++ {
					totalError, err := net.Loss.CalculateTotalError(batchTruths[o], batchPredictions[o])
					if err != nil {
						return err
					}
					loss := net.Loss.Compute(totalError)
					lastLoss = loss
					lossDerivative := net.Loss.PartialDerivative(totalError, float32(batchOffset))
					if err := net.Outputs[o].Backward(lossDerivative); err != nil {
						return err
					}
					batchTruths[o] = batchTruths[o][:0]
					batchPredictions[o] = batchPredictions[o][:0]
				}
				if onProgress != nil {
					onProgress(TrainProgress{
						Epoch: epoch, TotalEpochs: epochs,
						BatchIndex: batchIndex, TotalBatches: totalBatches,
						BatchSize: batchOffset, Loss: lastLoss,
					})
				}
				batchOffset = 0
			}
		}

		if net.Checkpoint != nil {
			retain, err := net.Checkpoint.ShouldRetain(net.CheckpointModel, net.CheckpointPolicy, lastLoss)
			if err != nil {
				return err
			}
			if retain {
				if err := net.SaveParameters(net.CheckpointDir, net.CheckpointNodes); err != nil {
					return err
				}
			}
		}

		if exitStrategy != nil {
			elapsed := time.Since(start).Milliseconds()
			if exitStrategy.IsDone(epoch, lastLoss, elapsed) {
				break
			}
		}
	}
	return nil
}

func shuffleSamples(samples []Sample, seed int64) []Sample {
	shuffled := make([]Sample, len(samples))
	copy(shuffled, samples)
	r := rand.New(rand.NewSource(seed))
	r.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
	return shuffled
}

// SaveParameters writes every parameter-owning node's tensors into dir.
// Grounded on original_source/src/ml/neural_network_node.hpp's
// saveKnowledge recursion, flattened into an explicit node walk since Go's
// Network already holds every node reachable from Heads.
func (net *Network) SaveParameters(dir string, nodes []*Node) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return happymlerr.Wrap(happymlerr.ErrIO, "create parameter directory", err)
	}
	for _, n := range nodes {
		if pl, ok := n.Layer.(ParameterLayer); ok {
			if err := pl.SaveParams(dir, n.ID); err != nil {
				return err
			}
		}
	}
	return nil
}

func (net *Network) LoadParameters(dir string, nodes []*Node) error {
	for _, n := range nodes {
		if pl, ok := n.Layer.(ParameterLayer); ok {
			if err := pl.LoadParams(dir, n.ID); err != nil {
				return err
			}
		}
	}
	return nil
}
