// Package ctw implements a Context-Tree Weighting prequential predictor used
// as a universal-prediction anomaly feature — spec §4.4. CTW produces
// avg_logloss_bits and regret_bits against a marginal KT baseline: a
// positive regret means the stream is less structured than iid noise seen
// through the tree.
package ctw

import (
	"errors"
	"math"

	"github.com/octoreflex/triaged/internal/mathx"
)

// ErrInvalidConfig is returned when Alphabet or Depth is out of the
// hard-bounded range.
var ErrInvalidConfig = errors.New("ctw: invalid config")

// Config holds the alphabet size and tree depth, both hard-bounded per
// spec.md §4.4 — deeper trees or larger alphabets are rejected outright
// rather than silently clamped.
type Config struct {
	Alphabet int // 2, 3, or 4
	Depth    int // 1..12
}

func (c Config) validate() error {
	if c.Alphabet < 2 || c.Alphabet > 4 {
		return ErrInvalidConfig
	}
	if c.Depth < 1 || c.Depth > 12 {
		return ErrInvalidConfig
	}
	return nil
}

// ktEstimator is a Krichevsky-Trofimov counter with a Jeffreys +0.5
// pseudo-count per symbol.
type ktEstimator struct {
	counts []float64 // len == alphabet, each initialized to 0.5
}

func newKT(alphabet int) *ktEstimator {
	c := make([]float64, alphabet)
	for i := range c {
		c[i] = 0.5
	}
	return &ktEstimator{counts: c}
}

// logProb returns log P_KT(symbol) = log(counts[symbol] / total).
func (k *ktEstimator) logProb(symbol int) float64 {
	var total float64
	for _, c := range k.counts {
		total += c
	}
	return math.Log(k.counts[symbol]) - math.Log(total)
}

func (k *ktEstimator) update(symbol int) {
	k.counts[symbol]++
}

// node is one internal context-tree node: a KT estimator over the next
// symbol plus one child per alphabet symbol, lazily allocated.
type node struct {
	kt       *ktEstimator
	children []*node // len == alphabet when allocated; nil entries until visited
}

func newNode(alphabet int) *node {
	return &node{kt: newKT(alphabet), children: make([]*node, alphabet)}
}

// Result is the per-step output of Predictor.Update.
type Result struct {
	LogLossBits         float64 // -log2 P_w(observed symbol)
	BaselineLogLossBits float64 // -log2 P_marginal(observed symbol)
	CumLogLossBits      float64
	CumBaselineBits     float64
	RegretBits          float64 // CumLogLossBits - CumBaselineBits
}

// Features summarizes a CTW predictor's state as anomaly-detection inputs.
type Features struct {
	AvgLogLossBits float64
	RegretBits     float64
	IsPredictable  bool
}

// PredictableLogLossThreshold is the average-log-loss-bits cutoff below
// which a stream is considered IsPredictable.
const PredictableLogLossThreshold = 1.0

// Predictor walks a context tree of the configured depth, maintaining a KT
// mixture weight at each node plus a separate marginal KT baseline. It owns
// its state exclusively (no internal synchronization), matching the
// per-PID single-writer inference model.
type Predictor struct {
	cfg Config

	root     *node
	marginal *ktEstimator

	history []int // the last Depth observed symbols, oldest first

	steps           int
	cumLogLossBits  float64
	cumBaselineBits float64
}

// New constructs a Predictor for the given config.
func New(cfg Config) (*Predictor, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Predictor{
		cfg:      cfg,
		root:     newNode(cfg.Alphabet),
		marginal: newKT(cfg.Alphabet),
		history:  make([]int, 0, cfg.Depth),
	}, nil
}

// logPw computes log P_w(symbol) recursively, per spec.md §4.4: a mixture
// of the node's own KT estimate and its child's weighted prediction,
// combined via log-sum-exp with mixture weight w=0.5. At a leaf (depth
// reached, or the relevant child not yet allocated) KT alone is used.
func (p *Predictor) logPw(n *node, ctx []int, symbol int) float64 {
	ktLog := n.kt.logProb(symbol)
	if len(ctx) == 0 {
		return ktLog
	}
	// The next context symbol (most recent observation) selects the child.
	childSym := ctx[len(ctx)-1]
	child := n.children[childSym]
	if child == nil {
		return ktLog
	}
	childLog := p.logPw(child, ctx[:len(ctx)-1], symbol)
	// log(0.5*exp(ktLog) + 0.5*exp(childLog)) = logsumexp(ktLog, childLog) - log2
	return mathx.LogSumExp2(ktLog, childLog) - math.Ln2
}

// updateTree walks the active context path (allocating children as needed)
// and increments each visited node's KT counter for symbol.
func (p *Predictor) updateTree(n *node, ctx []int, symbol int) {
	n.kt.update(symbol)
	if len(ctx) == 0 {
		return
	}
	childSym := ctx[len(ctx)-1]
	if n.children[childSym] == nil {
		n.children[childSym] = newNode(p.cfg.Alphabet)
	}
	p.updateTree(n.children[childSym], ctx[:len(ctx)-1], symbol)
}

// Update folds in one observed symbol (0 ≤ symbol < Alphabet) and returns
// the step's loss/regret bookkeeping. Out-of-range symbols are ignored and
// the prior cumulative state is returned unchanged.
func (p *Predictor) Update(symbol int) Result {
	if symbol < 0 || symbol >= p.cfg.Alphabet {
		return p.snapshot(0, 0)
	}

	logPw := p.logPw(p.root, p.history, symbol)
	logMarginal := p.marginal.logProb(symbol)

	lossBits := -logPw / math.Ln2
	baselineBits := -logMarginal / math.Ln2

	p.updateTree(p.root, p.history, symbol)
	p.marginal.update(symbol)

	p.history = append(p.history, symbol)
	if len(p.history) > p.cfg.Depth {
		p.history = p.history[1:]
	}

	p.steps++
	p.cumLogLossBits += lossBits
	p.cumBaselineBits += baselineBits

	return p.snapshot(lossBits, baselineBits)
}

func (p *Predictor) snapshot(lossBits, baselineBits float64) Result {
	return Result{
		LogLossBits:         lossBits,
		BaselineLogLossBits: baselineBits,
		CumLogLossBits:      p.cumLogLossBits,
		CumBaselineBits:     p.cumBaselineBits,
		RegretBits:          p.cumLogLossBits - p.cumBaselineBits,
	}
}

// Features summarizes the predictor's current cumulative state.
func (p *Predictor) Features() Features {
	var avg float64
	if p.steps > 0 {
		avg = p.cumLogLossBits / float64(p.steps)
	}
	regret := p.cumLogLossBits - p.cumBaselineBits
	return Features{
		AvgLogLossBits: avg,
		RegretBits:     regret,
		IsPredictable:  avg < PredictableLogLossThreshold,
	}
}

// ProcessBatch feeds a sequence of symbols through Update in order.
func (p *Predictor) ProcessBatch(symbols []int) []Result {
	out := make([]Result, len(symbols))
	for i, s := range symbols {
		out[i] = p.Update(s)
	}
	return out
}
