package builder

import (
	"bufio"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"happyml/internal/happymlerr"
	"happyml/pkg/nn"
	"happyml/pkg/tensor"
)

// KnowledgeDir is the directory a network's config and parameter files live
// under, rooted at repoRoot, matching spec §6's
// `<repo>/<model-name>/<knowledge-label>/` layout.
func KnowledgeDir(repoRoot, modelName, knowledgeLabel string) string {
	return filepath.Join(repoRoot, modelName, knowledgeLabel)
}

const configFileName = "model.config"

// WriteConfig serializes the builder's header and every recorded vertex/edge
// into dir/model.config, grounded on spec §6's `:`-delimited row format.
// Every vertex row is written, in declaration order, before any edge row,
// since a vertex can target vertices declared after it and ParseConfig
// rejects an edge naming a vertex it has not read yet.
func (b *NetworkBuilder) WriteConfig(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return happymlerr.Wrap(happymlerr.ErrIO, "create config directory", err)
	}
	path := filepath.Join(dir, configFileName)
	f, err := os.Create(path)
	if err != nil {
		return happymlerr.Wrap(happymlerr.ErrIO, "create config file", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	rows := []string{
		"optimizer:" + b.optimizerKind,
		"learningRate:" + formatFloat(b.learningRate),
		"biasLearningRate:" + formatFloat(b.biasLearningRate),
		"loss:" + b.lossKind,
	}
	for _, row := range rows {
		if _, err := w.WriteString(row + "\n"); err != nil {
			return happymlerr.Wrap(happymlerr.ErrIO, "write config header", err)
		}
	}
	for _, v := range b.all {
		if _, err := w.WriteString(vertexRow(v.spec) + "\n"); err != nil {
			return happymlerr.Wrap(happymlerr.ErrIO, "write vertex row", err)
		}
	}
	for _, v := range b.all {
		if len(v.spec.TargetIDs) > 0 {
			if _, err := w.WriteString(edgeRow(v.spec) + "\n"); err != nil {
				return happymlerr.Wrap(happymlerr.ErrIO, "write edge row", err)
			}
		}
	}
	if err := w.Flush(); err != nil {
		return happymlerr.Wrap(happymlerr.ErrIO, "flush config file", err)
	}
	return nil
}

func vertexRow(spec *VertexSpec) string {
	fields := []string{
		"vertex",
		itoa(spec.ID),
		formatBool(spec.AcceptsInput),
		formatBool(spec.ProducesOutput),
		string(spec.Kind),
		spec.Activation,
		formatBool(spec.Materialized),
		formatBool(spec.UseBias),
		itoa(spec.Bits),
		itoa(len(spec.InputShapes)),
	}
	for _, s := range spec.InputShapes {
		fields = append(fields, itoa(s.Rows), itoa(s.Cols), itoa(s.Channels))
	}
	fields = append(fields,
		itoa(spec.OutputShape.Rows), itoa(spec.OutputShape.Cols), itoa(spec.OutputShape.Channels),
		itoa(spec.Filters), itoa(spec.Kernel),
		formatBool(spec.UseL2), formatBool(spec.UseNorm),
		formatBool(spec.UseClip), formatFloat32(spec.ClipThreshold),
		formatFloat32(spec.DropoutRate),
	)
	return strings.Join(fields, ":")
}

func edgeRow(spec *VertexSpec) string {
	fields := make([]string, 0, len(spec.TargetIDs)+2)
	fields = append(fields, "edge", itoa(spec.ID))
	for _, id := range spec.TargetIDs {
		fields = append(fields, itoa(id))
	}
	return strings.Join(fields, ":")
}

func formatBool(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func parseBool(s string) (bool, error) {
	switch s {
	case "true":
		return true, nil
	case "false":
		return false, nil
	default:
		return false, happymlerr.Configf("expected true/false, got %q", s)
	}
}

func formatFloat(f float64) string  { return strconv.FormatFloat(f, 'g', -1, 64) }
func formatFloat32(f float32) string { return strconv.FormatFloat(float64(f), 'g', -1, 32) }

func parseInt(s string) (int, error) {
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, happymlerr.Configf("expected integer, got %q", s)
	}
	return v, nil
}

func parseFloat64(s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, happymlerr.Configf("expected float, got %q", s)
	}
	return v, nil
}

func parseFloat32(s string) (float32, error) {
	v, err := parseFloat64(s)
	if err != nil {
		return 0, err
	}
	return float32(v), nil
}

// LoadNetworkBuilder parses dir/model.config into a NetworkBuilder whose
// recorded vertices/edges mirror the file exactly, ready for Build. Grounded
// on spec §6's network config file format; a missing config file is fatal
// per spec §4.3's failure semantics.
func LoadNetworkBuilder(dir, modelName, repoRoot string) (*NetworkBuilder, error) {
	path := filepath.Join(dir, configFileName)
	f, err := os.Open(path)
	if err != nil {
		return nil, happymlerr.Wrap(happymlerr.ErrIO, "open config file", err)
	}
	defer f.Close()
	return ParseConfig(f, modelName, repoRoot)
}

// ParseConfig reads the config text format from r.
func ParseConfig(r io.Reader, modelName, repoRoot string) (*NetworkBuilder, error) {
	b := &NetworkBuilder{modelName: modelName, repoRoot: repoRoot, lossKind: "mse"}
	specByID := map[int]*VertexSpec{}
	haveOptimizer := false

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r\n")
		if line == "" {
			continue
		}
		fields := strings.Split(line, ":")
		switch fields[0] {
		case "optimizer":
			if len(fields) != 2 {
				return nil, happymlerr.Configf("malformed optimizer row: %q", line)
			}
			b.optimizerKind = fields[1]
			haveOptimizer = true
		case "learningRate":
			v, err := parseFloat64(fields[1])
			if err != nil {
				return nil, err
			}
			b.learningRate = v
		case "biasLearningRate":
			v, err := parseFloat64(fields[1])
			if err != nil {
				return nil, err
			}
			b.biasLearningRate = v
		case "loss":
			b.lossKind = fields[1]
		case "vertex":
			spec, err := parseVertexRow(fields)
			if err != nil {
				return nil, err
			}
			specByID[spec.ID] = spec
			v := &Vertex{b: b, spec: spec}
			b.all = append(b.all, v)
			if spec.ID > b.nextID {
				b.nextID = spec.ID
			}
		case "edge":
			if err := parseEdgeRow(fields, specByID); err != nil {
				return nil, err
			}
		default:
			return nil, happymlerr.Configf("unknown config row kind %q", fields[0])
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, happymlerr.Wrap(happymlerr.ErrIO, "read config file", err)
	}
	if !haveOptimizer {
		return nil, happymlerr.Configf("config file missing optimizer row")
	}
	return b, nil
}

func parseVertexRow(fields []string) (*VertexSpec, error) {
	// vertex:id:accepts:produces:kind:activation:materialized:use_bias:bits:n_inputs:(r:c:ch)xN:r:c:ch:filters:kernel:l2:norm:clip:clip_thresh:dropout
	const fixedHeadFields = 10 // "vertex" + 9 scalar fields up to and including n_inputs
	if len(fields) < fixedHeadFields {
		return nil, happymlerr.Configf("malformed vertex row: too few fields")
	}
	spec := &VertexSpec{}
	var err error
	if spec.ID, err = parseInt(fields[1]); err != nil {
		return nil, err
	}
	if spec.AcceptsInput, err = parseBool(fields[2]); err != nil {
		return nil, err
	}
	if spec.ProducesOutput, err = parseBool(fields[3]); err != nil {
		return nil, err
	}
	spec.Kind = LayerKind(fields[4])
	spec.Activation = fields[5]
	if spec.Materialized, err = parseBool(fields[6]); err != nil {
		return nil, err
	}
	if spec.UseBias, err = parseBool(fields[7]); err != nil {
		return nil, err
	}
	if spec.Bits, err = parseInt(fields[8]); err != nil {
		return nil, err
	}
	nInputs, err := parseInt(fields[9])
	if err != nil {
		return nil, err
	}

	pos := fixedHeadFields
	spec.InputShapes = make([]tensor.Shape, nInputs)
	for i := 0; i < nInputs; i++ {
		if pos+3 > len(fields) {
			return nil, happymlerr.Configf("malformed vertex row: truncated input shape %d", i)
		}
		shape, err := parseShape(fields[pos : pos+3])
		if err != nil {
			return nil, err
		}
		spec.InputShapes[i] = shape
		pos += 3
	}
	if pos+3 > len(fields) {
		return nil, happymlerr.Configf("malformed vertex row: missing output shape")
	}
	if spec.OutputShape, err = parseShape(fields[pos : pos+3]); err != nil {
		return nil, err
	}
	pos += 3

	const tailFields = 7 // filters:kernel:l2:norm:clip:clip_thresh:dropout
	if pos+tailFields != len(fields) {
		return nil, happymlerr.Configf("malformed vertex row: unexpected field count")
	}
	if spec.Filters, err = parseInt(fields[pos]); err != nil {
		return nil, err
	}
	if spec.Kernel, err = parseInt(fields[pos+1]); err != nil {
		return nil, err
	}
	if spec.UseL2, err = parseBool(fields[pos+2]); err != nil {
		return nil, err
	}
	if spec.UseNorm, err = parseBool(fields[pos+3]); err != nil {
		return nil, err
	}
	if spec.UseClip, err = parseBool(fields[pos+4]); err != nil {
		return nil, err
	}
	if spec.ClipThreshold, err = parseFloat32(fields[pos+5]); err != nil {
		return nil, err
	}
	if spec.DropoutRate, err = parseFloat32(fields[pos+6]); err != nil {
		return nil, err
	}
	return spec, nil
}

func parseShape(fields []string) (tensor.Shape, error) {
	r, err := parseInt(fields[0])
	if err != nil {
		return tensor.Shape{}, err
	}
	c, err := parseInt(fields[1])
	if err != nil {
		return tensor.Shape{}, err
	}
	ch, err := parseInt(fields[2])
	if err != nil {
		return tensor.Shape{}, err
	}
	return tensor.Shape{Rows: r, Cols: c, Channels: ch}, nil
}

func parseEdgeRow(fields []string, specByID map[int]*VertexSpec) error {
	if len(fields) < 3 {
		return happymlerr.Configf("malformed edge row: too few fields")
	}
	fromID, err := parseInt(fields[1])
	if err != nil {
		return err
	}
	from, ok := specByID[fromID]
	if !ok {
		return happymlerr.Configf("edge row references unknown vertex %d", fromID)
	}
	for _, raw := range fields[2:] {
		toID, err := parseInt(raw)
		if err != nil {
			return err
		}
		if _, ok := specByID[toID]; !ok {
			return happymlerr.Configf("edge row references unknown vertex %d", toID)
		}
		from.TargetIDs = append(from.TargetIDs, toID)
	}
	return nil
}

// Save builds the network (if not already built), then writes its config
// and every parameter-owning node's tensors under
// KnowledgeDir(repoRoot, modelName, knowledgeLabel). Grounded on spec §4.3's
// "Saving" paragraph.
func (b *NetworkBuilder) Save(knowledgeLabel string) ([]*nn.Node, error) {
	net, nodes, err := b.Build()
	if err != nil {
		return nil, err
	}
	dir := KnowledgeDir(b.repoRoot, b.modelName, knowledgeLabel)
	if err := b.WriteConfig(dir); err != nil {
		return nil, err
	}
	if err := net.SaveParameters(dir, nodes); err != nil {
		return nil, err
	}
	return nodes, nil
}

// Load reads the config file at KnowledgeDir(repoRoot, modelName,
// knowledgeLabel), rebuilds the network, and loads every parameter-owning
// node's tensors from disk. A missing parameter file or a shape mismatch
// between the configured layer and the loaded tensor is fatal, per spec
// §4.3's failure semantics.
func Load(repoRoot, modelName, knowledgeLabel string) (*nn.Network, []*nn.Node, error) {
	dir := KnowledgeDir(repoRoot, modelName, knowledgeLabel)
	b, err := LoadNetworkBuilder(dir, modelName, repoRoot)
	if err != nil {
		return nil, nil, err
	}
	net, nodes, err := b.Build()
	if err != nil {
		return nil, nil, err
	}
	if err := net.LoadParameters(dir, nodes); err != nil {
		return nil, nil, err
	}
	return net, nodes, nil
}
