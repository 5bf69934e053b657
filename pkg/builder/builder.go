// Package builder provides the declarative network construction surface:
// a chainable API that mirrors happyml_dsl.hpp's HappymlDSL/NNVertex pair,
// wiring together pkg/nn layers and nodes without requiring the caller to
// touch the graph package directly. Like the source's deferred
// buildLayer recursion, vertex metadata is recorded eagerly but the
// physical nn.Node chain for every vertex is only materialized once,
// inside Build, so Set* calls made between an Add* call and Build still
// take effect.
package builder

import (
	"happyml/internal/happymlerr"
	"happyml/pkg/nn"
	"happyml/pkg/tensor"
)

// LayerKind names the underlying layer a vertex wraps, using the exact
// string literals persisted in the on-disk config (spec §6).
type LayerKind string

const (
	KindFull               LayerKind = "full"
	KindConvolution2DValid LayerKind = "convolution2dValid"
	KindFlatten            LayerKind = "flatten"
	KindNormalize          LayerKind = "normalize"
	KindDropout            LayerKind = "dropout"
	KindConcatenateWide    LayerKind = "concatenateWide"
)

func validModelName(name string) bool {
	if name == "" {
		return false
	}
	for _, r := range name {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '_') {
			return false
		}
	}
	return true
}

// VertexSpec is the serializable metadata for one vertex row of the
// network config file, grounded on happyml_dsl.hpp's buildLayer metadata
// row (vertex id, accepts_input, produces_output, layer kind, activation,
// materialized, use_bias, bits, input shapes, output shape, filters,
// kernel, l2, norm, clip, clip threshold, dropout rate).
type VertexSpec struct {
	ID             int
	AcceptsInput   bool
	ProducesOutput bool
	Kind           LayerKind
	Activation     string
	Materialized   bool
	UseBias        bool
	Bits           int
	InputShapes    []tensor.Shape
	OutputShape    tensor.Shape
	Filters        int
	Kernel         int
	UseL2          bool
	UseNorm        bool
	UseClip        bool
	ClipThreshold  float32
	DropoutRate    float32
	TargetIDs      []int
}

// Vertex is the builder-facing handle returned by every Add* call,
// grounded on happyml_dsl.hpp's NNVertex. Its physical chain of nn.Node
// values (an optional leading flatten, the base layer, an optional bias,
// an optional normalization, and, for full/convolution2dValid vertices,
// a trailing activation node) is only built during NetworkBuilder.Build.
type Vertex struct {
	b    *NetworkBuilder
	spec *VertexSpec
}

// OutputShape reports the tensor shape this vertex produces, for chaining
// into the next declarative call.
func (v *Vertex) OutputShape() tensor.Shape { return v.spec.OutputShape }

func (v *Vertex) SetBits(bits int) *Vertex { v.spec.Bits = bits; return v }

func (v *Vertex) SetUseBias(use bool) (*Vertex, error) {
	if use && v.spec.Kind != KindFull && v.spec.Kind != KindConvolution2DValid {
		return nil, happymlerr.Configf("bias can only be used on full or convolution2dValid layers")
	}
	v.spec.UseBias = use
	return v, nil
}

func (v *Vertex) SetUseL2Regularization(use bool) (*Vertex, error) {
	if use && v.spec.Kind != KindFull && v.spec.Kind != KindConvolution2DValid {
		return nil, happymlerr.Configf("L2 regularization can only be used on full or convolution2dValid layers")
	}
	v.spec.UseL2 = use
	return v, nil
}

func (v *Vertex) SetUseNormalization(use bool) (*Vertex, error) {
	if use && v.spec.Kind != KindFull && v.spec.Kind != KindConvolution2DValid {
		return nil, happymlerr.Configf("layer normalization can only be used on full or convolution2dValid layers")
	}
	v.spec.UseNorm = use
	return v, nil
}

func (v *Vertex) SetMaterialized(materialized bool) (*Vertex, error) {
	if materialized && v.spec.Kind != KindFull && v.spec.Kind != KindConvolution2DValid {
		return nil, happymlerr.Configf("materialized can only be used on full or convolution2dValid layers")
	}
	v.spec.Materialized = materialized
	return v, nil
}

func (v *Vertex) SetUseNormClipping(use bool) *Vertex {
	v.spec.UseClip = use
	return v
}

func (v *Vertex) SetNormClippingThreshold(threshold float32) *Vertex {
	v.spec.ClipThreshold = threshold
	return v.SetUseNormClipping(true)
}

// NetworkBuilder is the entry point, grounded on happyml_dsl.hpp's
// HappymlDSL: it owns the optimizer/loss configuration shared by every
// vertex and accumulates the vertex/edge metadata needed to serialize the
// network config file.
type NetworkBuilder struct {
	modelName        string
	repoRoot         string
	optimizerKind    string
	learningRate     float64
	biasLearningRate float64
	lossKind         string
	seed             uint64
	useDecayMomentum bool

	nextID int
	all    []*Vertex

	builtNet   *nn.Network
	builtNodes []*nn.Node
}

// NewNetworkBuilder constructs a builder for optimizerKind ("Micro Batch",
// "sgdm", or "Adam"), validating modelName against spec §6's
// `[A-Za-z0-9_]` restriction. Default learning rates mirror the DSL
// constructor: 0.005/0.001 for plain SGD, 0.001/0.001 otherwise.
func NewNetworkBuilder(optimizerKind, modelName, repoRoot string) (*NetworkBuilder, error) {
	if !validModelName(modelName) {
		return nil, happymlerr.Configf("model name must contain only alphanumeric characters and underscores, got %q", modelName)
	}
	b := &NetworkBuilder{
		modelName:     modelName,
		repoRoot:      repoRoot,
		optimizerKind: optimizerKind,
		lossKind:      "mse",
	}
	if optimizerKind == "Micro Batch" {
		b.learningRate = 0.005
		b.biasLearningRate = 0.001
	} else {
		b.learningRate = 0.001
		b.biasLearningRate = 0.001
	}
	return b, nil
}

func (b *NetworkBuilder) SetLearningRate(lr float64) *NetworkBuilder { b.learningRate = lr; return b }

func (b *NetworkBuilder) SetBiasLearningRate(lr float64) *NetworkBuilder {
	b.biasLearningRate = lr
	return b
}

func (b *NetworkBuilder) SetLossFunction(name string) (*NetworkBuilder, error) {
	if _, err := nn.LossByName(name); err != nil {
		return nil, err
	}
	b.lossKind = name
	return b, nil
}

func (b *NetworkBuilder) SetModelName(name string) (*NetworkBuilder, error) {
	if !validModelName(name) {
		return nil, happymlerr.Configf("model name must contain only alphanumeric characters and underscores, got %q", name)
	}
	b.modelName = name
	return b, nil
}

func (b *NetworkBuilder) SetModelRepo(path string) *NetworkBuilder { b.repoRoot = path; return b }
func (b *NetworkBuilder) SetSeed(seed uint64) *NetworkBuilder      { b.seed = seed; return b }

// SetUseDecayMomentum enables sgdm's DEMON decay variant; ignored unless
// the optimizer kind is "sgdm".
func (b *NetworkBuilder) SetUseDecayMomentum(use bool) *NetworkBuilder {
	b.useDecayMomentum = use
	return b
}

func (b *NetworkBuilder) ModelName() string         { return b.modelName }
func (b *NetworkBuilder) RepoRoot() string          { return b.repoRoot }
func (b *NetworkBuilder) OptimizerKind() string     { return b.optimizerKind }
func (b *NetworkBuilder) LearningRate() float64     { return b.learningRate }
func (b *NetworkBuilder) BiasLearningRate() float64 { return b.biasLearningRate }
func (b *NetworkBuilder) LossKind() string          { return b.lossKind }

func optimizerByKind(kind string, lr, biasLR float64, useDecayMomentum bool) (nn.Optimizer, error) {
	switch kind {
	case "Micro Batch":
		return nn.NewMicroBatchOptimizer(lr, biasLR), nil
	case "sgdm":
		return nn.NewSGDMOptimizer(lr, biasLR, useDecayMomentum), nil
	case "Adam":
		return nn.NewAdamOptimizer(lr, biasLR), nil
	default:
		return nil, happymlerr.Configf("unknown optimizer %q", kind)
	}
}

func (b *NetworkBuilder) nextVertexID() int { b.nextID++; return b.nextID }

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	neg := i < 0
	if neg {
		i = -i
	}
	var buf [20]byte
	pos := len(buf)
	for i > 0 {
		pos--
		buf[pos] = byte('0' + i%10)
		i /= 10
	}
	if neg {
		pos--
		buf[pos] = '-'
	}
	return string(buf[pos:])
}

func flattenLabel(id int) string { return itoa(id) + "_flatten" }

func newVertex(b *NetworkBuilder, spec *VertexSpec) *Vertex {
	v := &Vertex{b: b, spec: spec}
	b.all = append(b.all, v)
	return v
}

// addInput is the shared implementation behind AddInput/AddInputOutput/
// AddConvolutionInput2D: a head vertex accepting one externally supplied
// tensor. Grounded on happyml_dsl.hpp's addInputLayer/addInputOutputLayer
// pair.
func (b *NetworkBuilder) addInput(inputShape, outputShape tensor.Shape, kind LayerKind, forOutput bool, activation string, filters, kernel int) (*Vertex, error) {
	if kind != KindFull && kind != KindConvolution2DValid {
		return nil, happymlerr.Configf("addInput: unsupported kind %q", kind)
	}
	if forOutput && kind != KindFull && kind != KindConvolution2DValid {
		return nil, happymlerr.Configf("only full or convolution2dValid layers can be used as output")
	}
	spec := &VertexSpec{
		ID: b.nextVertexID(), AcceptsInput: true, Kind: kind, Activation: activation, ProducesOutput: forOutput,
		Bits: 32, InputShapes: []tensor.Shape{inputShape}, OutputShape: outputShape,
		UseL2: kind == KindFull, Filters: filters, Kernel: kernel, ClipThreshold: 5.0,
	}
	return newVertex(b, spec), nil
}

// AddInput declares a dense (fully connected) head vertex feeding the rest
// of the network.
func (b *NetworkBuilder) AddInput(inputShape, outputShape tensor.Shape, activation string) (*Vertex, error) {
	return b.addInput(inputShape, outputShape, KindFull, false, activation, 0, 0)
}

// AddInputOutput declares a dense head vertex that is also the network's
// sole output (a one-layer network).
func (b *NetworkBuilder) AddInputOutput(inputShape, outputShape tensor.Shape, activation string) (*Vertex, error) {
	return b.addInput(inputShape, outputShape, KindFull, true, activation, 0, 0)
}

// AddConvolutionInput2D declares a convolutional head vertex.
func (b *NetworkBuilder) AddConvolutionInput2D(inputShape tensor.Shape, filters, kernelSize int, activation string) (*Vertex, error) {
	out := tensor.Shape{Rows: inputShape.Rows - kernelSize + 1, Cols: inputShape.Cols - kernelSize + 1, Channels: filters}
	return b.addInput(inputShape, out, KindConvolution2DValid, false, activation, filters, kernelSize)
}

// addLayer is the common path for every non-head, non-concatenate
// declarative call: it records a new vertex chained from a single parent.
func (parent *Vertex) addLayer(outputShape tensor.Shape, kind LayerKind, forOutput bool, activation string, filters, kernel int) (*Vertex, error) {
	if forOutput && kind != KindFull && kind != KindConvolution2DValid {
		return nil, happymlerr.Configf("only full or convolution2dValid layers can be used as output")
	}
	spec := &VertexSpec{
		ID: parent.b.nextVertexID(), Kind: kind, Activation: activation, ProducesOutput: forOutput,
		Bits: 32, InputShapes: []tensor.Shape{parent.spec.OutputShape}, OutputShape: outputShape,
		UseL2: kind == KindFull, Filters: filters, Kernel: kernel, ClipThreshold: 5.0,
	}
	v := newVertex(parent.b, spec)
	parent.spec.TargetIDs = append(parent.spec.TargetIDs, spec.ID)
	return v, nil
}

// AddDense appends a fully connected layer of the given output width.
func (parent *Vertex) AddDense(outputWidth int, activation string) (*Vertex, error) {
	return parent.addLayer(tensor.Shape{Rows: 1, Cols: outputWidth, Channels: 1}, KindFull, false, activation, 0, 0)
}

// AddOutput appends a fully connected output layer of the given output
// width, terminating this branch of the network.
func (parent *Vertex) AddOutput(outputWidth int, activation string) (*Vertex, error) {
	return parent.addLayer(tensor.Shape{Rows: 1, Cols: outputWidth, Channels: 1}, KindFull, true, activation, 0, 0)
}

// AddConvolution2D appends a valid-cross-correlation convolution with the
// given filter count and square kernel size.
func (parent *Vertex) AddConvolution2D(filters, kernelSize int, activation string) (*Vertex, error) {
	in := parent.spec.OutputShape
	out := tensor.Shape{Rows: in.Rows - kernelSize + 1, Cols: in.Cols - kernelSize + 1, Channels: filters}
	return parent.addLayer(out, KindConvolution2DValid, false, activation, filters, kernelSize)
}

// AddConvolutionOutput2D is AddConvolution2D for a terminal output vertex.
func (parent *Vertex) AddConvolutionOutput2D(filters, kernelSize int, activation string) (*Vertex, error) {
	in := parent.spec.OutputShape
	out := tensor.Shape{Rows: in.Rows - kernelSize + 1, Cols: in.Cols - kernelSize + 1, Channels: filters}
	return parent.addLayer(out, KindConvolution2DValid, true, activation, filters, kernelSize)
}

// AddDropout appends a dropout layer with the given drop rate.
func (parent *Vertex) AddDropout(rate float32) (*Vertex, error) {
	spec := &VertexSpec{
		ID: parent.b.nextVertexID(), Kind: KindDropout, Activation: "linear",
		Bits: 32, InputShapes: []tensor.Shape{parent.spec.OutputShape}, OutputShape: parent.spec.OutputShape,
		DropoutRate: rate, ClipThreshold: 5.0,
	}
	v := newVertex(parent.b, spec)
	parent.spec.TargetIDs = append(parent.spec.TargetIDs, spec.ID)
	return v, nil
}

// AddNormalization appends a standalone layer-normalization vertex.
func (parent *Vertex) AddNormalization() (*Vertex, error) {
	spec := &VertexSpec{
		ID: parent.b.nextVertexID(), Kind: KindNormalize, Activation: "linear",
		Bits: 32, InputShapes: []tensor.Shape{parent.spec.OutputShape}, OutputShape: parent.spec.OutputShape,
		ClipThreshold: 5.0,
	}
	v := newVertex(parent.b, spec)
	parent.spec.TargetIDs = append(parent.spec.TargetIDs, spec.ID)
	return v, nil
}

// AddConcatenateWide joins two or more parent vertices column-wise.
// Grounded on happyml_dsl.hpp's LayerType::concatenate branch.
func (b *NetworkBuilder) AddConcatenateWide(parents []*Vertex) (*Vertex, error) {
	if len(parents) < 2 {
		return nil, happymlerr.Shapef("AddConcatenateWide: need at least 2 parents, got %d", len(parents))
	}
	shapes := make([]tensor.Shape, len(parents))
	for i, p := range parents {
		shapes[i] = p.spec.OutputShape
	}
	outputShape, err := concatenatedShape(shapes)
	if err != nil {
		return nil, err
	}
	spec := &VertexSpec{
		ID: b.nextVertexID(), Kind: KindConcatenateWide, Activation: "linear",
		Bits: 32, InputShapes: shapes, OutputShape: outputShape, ClipThreshold: 5.0,
	}
	v := newVertex(b, spec)
	for _, p := range parents {
		p.spec.TargetIDs = append(p.spec.TargetIDs, spec.ID)
	}
	return v, nil
}

func concatenatedShape(shapes []tensor.Shape) (tensor.Shape, error) {
	rows, channels, cols := shapes[0].Rows, shapes[0].Channels, 0
	for _, s := range shapes {
		if s.Rows != rows {
			return tensor.Shape{}, happymlerr.Shapef("AddConcatenateWide: all input shapes must have the same rows, got %d and %d", rows, s.Rows)
		}
		if s.Channels != channels {
			return tensor.Shape{}, happymlerr.Shapef("AddConcatenateWide: all input shapes must have the same channels, got %d and %d", channels, s.Channels)
		}
		cols += s.Cols
	}
	return tensor.Shape{Rows: rows, Cols: cols, Channels: channels}, nil
}

// builtVertex holds the physical nodes Build materializes for one spec.
type builtVertex struct {
	head *nn.Node
	tail *nn.Node
	out  *nn.OutputNode
}

// Build finalizes the graph into a trainable nn.Network: it walks every
// recorded vertex in declaration order (guaranteed to be a valid
// topological order, since a vertex can only be created from an already
// existing parent handle), materializes each one's physical nn.Node
// chain from its current spec, wires declared edges, and registers heads/
// outputs. Grounded on happyml_dsl.hpp's HappymlDSL::build /
// NNVertex::buildLayer.
func (b *NetworkBuilder) Build() (*nn.Network, []*nn.Node, error) {
	if b.builtNet != nil {
		return b.builtNet, b.builtNodes, nil
	}
	if len(b.all) == 0 {
		return nil, nil, happymlerr.Configf("Build: network has no vertices")
	}
	optimizer, err := optimizerByKind(b.optimizerKind, b.learningRate, b.biasLearningRate, b.useDecayMomentum)
	if err != nil {
		return nil, nil, err
	}
	loss, err := nn.LossByName(b.lossKind)
	if err != nil {
		return nil, nil, err
	}

	built := make(map[int]*builtVertex, len(b.all))
	var allNodes []*nn.Node
	var heads []*nn.Node
	var outputs []*nn.OutputNode

	for _, v := range b.all {
		bv, nodes, err := buildVertexChain(v.spec, optimizer, b.seed)
		if err != nil {
			return nil, nil, err
		}
		built[v.spec.ID] = bv
		allNodes = append(allNodes, nodes...)
		if v.spec.AcceptsInput {
			heads = append(heads, bv.head)
		}
		if v.spec.ProducesOutput {
			outputs = append(outputs, bv.out)
		}
	}
	for _, v := range b.all {
		from := built[v.spec.ID]
		for _, targetID := range v.spec.TargetIDs {
			to, ok := built[targetID]
			if !ok {
				return nil, nil, happymlerr.Configf("Build: vertex %d targets unknown vertex %d", v.spec.ID, targetID)
			}
			from.tail.Connect(to.head)
		}
	}
	if len(heads) == 0 {
		return nil, nil, happymlerr.Configf("Build: network has no input vertices")
	}
	if len(outputs) == 0 {
		return nil, nil, happymlerr.Configf("Build: network has no output vertices")
	}

	net := nn.NewNetwork(loss, optimizer)
	for _, h := range heads {
		net.AddHead(h)
	}
	for _, o := range outputs {
		net.AddOutput(o)
	}
	b.builtNet = net
	b.builtNodes = allNodes
	return net, allNodes, nil
}

// buildVertexChain instantiates one vertex's physical node chain: an
// optional leading flatten, the base layer, an optional bias, an optional
// normalization, and, for full/convolution2dValid vertices, a trailing
// activation node (promoted to an nn.OutputNode when the vertex produces
// output). Every node in the chain shares the vertex's id, matching the
// source's `asString(vertexUniqueId) + "_full"`-style labels, which are
// keyed on the vertex id rather than a separate per-node id.
func buildVertexChain(spec *VertexSpec, optimizer nn.Optimizer, seed uint64) (*builtVertex, []*nn.Node, error) {
	var nodes []*nn.Node
	var head, tail *nn.Node

	appendNode := func(n *nn.Node) {
		n.UseNormClipping = spec.UseClip
		n.ClipThreshold = spec.ClipThreshold
		if head == nil {
			head = n
		} else {
			tail.Connect(n)
		}
		tail = n
		nodes = append(nodes, n)
	}

	inputShape := spec.InputShapes[0]
	switch spec.Kind {
	case KindFull:
		if inputShape.Rows > 1 {
			appendNode(nn.NewNode(spec.ID, nn.NewFlattenLayer(flattenLabel(spec.ID))))
			inputShape = tensor.Shape{Rows: 1, Cols: inputShape.Elements(), Channels: 1}
		}
		label := itoa(spec.ID) + "_full"
		layer := nn.NewFullyConnectedLayer(label, inputShape.Elements(), spec.OutputShape.Elements(), spec.Bits, optimizer, seed+uint64(spec.ID))
		appendNode(nn.NewNode(spec.ID, layer))
	case KindConvolution2DValid:
		label := itoa(spec.ID) + "_c2dv"
		layer := nn.NewConv2DValidLayer(label, inputShape, spec.Filters, spec.Kernel, spec.Bits, optimizer, seed+uint64(spec.ID))
		appendNode(nn.NewNode(spec.ID, layer))
	case KindFlatten:
		appendNode(nn.NewNode(spec.ID, nn.NewFlattenLayer(flattenLabel(spec.ID))))
	case KindNormalize:
		appendNode(nn.NewNode(spec.ID, nn.NewLayerNormalizationLayer(itoa(spec.ID)+"_norm", spec.OutputShape)))
	case KindDropout:
		if inputShape.Rows > 1 {
			appendNode(nn.NewNode(spec.ID, nn.NewFlattenLayer(flattenLabel(spec.ID))))
		}
		layer, err := nn.NewDropoutLayer(itoa(spec.ID)+"_dropout", spec.OutputShape, spec.DropoutRate, seed+uint64(spec.ID))
		if err != nil {
			return nil, nil, err
		}
		appendNode(nn.NewNode(spec.ID, layer))
	case KindConcatenateWide:
		layer, err := nn.NewConcatenateWideLayer(itoa(spec.ID)+"_concat", spec.InputShapes)
		if err != nil {
			return nil, nil, err
		}
		appendNode(nn.NewNode(spec.ID, layer))
	default:
		return nil, nil, happymlerr.Configf("buildVertexChain: unsupported kind %q", spec.Kind)
	}

	if spec.UseBias {
		label := itoa(spec.ID) + "_bias"
		appendNode(nn.NewNode(spec.ID, nn.NewBiasLayer(label, spec.OutputShape, spec.Bits, optimizer, seed+uint64(spec.ID)+1)))
	}
	if spec.UseNorm {
		appendNode(nn.NewNode(spec.ID, nn.NewLayerNormalizationLayer(itoa(spec.ID)+"_norm", spec.OutputShape)))
	}

	bv := &builtVertex{head: head, tail: tail}
	if spec.Kind == KindFull || spec.Kind == KindConvolution2DValid {
		fn, err := nn.ActivationByName(spec.Activation)
		if err != nil {
			return nil, nil, err
		}
		activationLayer := nn.NewActivationLayer(itoa(spec.ID)+"_activation", fn, spec.OutputShape)
		if spec.ProducesOutput {
			out := nn.NewOutputNode(spec.ID, activationLayer)
			out.Node.UseNormClipping = spec.UseClip
			out.Node.ClipThreshold = spec.ClipThreshold
			out.Node.Materialized = spec.Materialized
			tail.Connect(out.Node)
			nodes = append(nodes, out.Node)
			bv.tail = out.Node
			bv.out = out
		} else {
			n := nn.NewNode(spec.ID, activationLayer)
			n.Materialized = spec.Materialized
			appendNode(n)
			n.UseNormClipping = spec.UseClip
			n.ClipThreshold = spec.ClipThreshold
		}
	}
	return bv, nodes, nil
}

// VertexSpecs returns the vertex metadata in declaration order, for config
// serialization.
func (b *NetworkBuilder) VertexSpecs() []*VertexSpec {
	specs := make([]*VertexSpec, len(b.all))
	for i, v := range b.all {
		specs[i] = v.spec
	}
	return specs
}
