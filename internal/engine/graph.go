// Package engine implements the real-time harmonizer core: the signal graph
// of gain and pitch-shift nodes, the source lifecycle, the mute/solo
// coordinator, the level sampler, and the engine facade that drives one audio
// block through all of it per pump iteration.
package engine

import (
	"errors"
	"math"
	"sync"
	"sync/atomic"
)

// GainNode is a single multiplicative gain stage. The gain value is stored
// atomically so the audio pump can read it without taking the graph lock;
// a gain change takes effect at the next block boundary.
type GainNode struct {
	bits atomic.Uint64
}

// NewGainNode returns a gain node at the given initial level.
func NewGainNode(level float64) *GainNode {
	g := &GainNode{}
	g.Set(level)
	return g
}

// Set stores a new gain value.
func (g *GainNode) Set(level float64) {
	g.bits.Store(math.Float64bits(level))
}

// Get returns the current gain value.
func (g *GainNode) Get() float64 {
	return math.Float64frombits(g.bits.Load())
}

// apply multiplies block in place by the current gain.
func (g *GainNode) apply(block []float64) {
	lvl := g.Get()
	for i := range block {
		block[i] *= lvl
	}
}

// Graph owns the node topology: the dry gain, the voice registry, the summing
// bus, and the monitor gain, plus the set of currently attached sources. It
// is the sole owner of wiring; attach/detach logic lives here and nowhere
// else.
//
// Topology per attached source:
//
//	source ─┬─► dryGain ──────────────► bus
//	        └─► voice.shifter ► voice.gain ► bus   (per voice)
//	bus ─► monitorGain ─► monitor output
//	bus ─► analysis/meter taps, recording sink
type Graph struct {
	mu sync.Mutex

	voices  []*Voice
	byLabel map[string]*Voice

	dryGain     *GainNode
	monitorGain *GainNode

	sources map[Source]struct{}

	blockSize int
	srcBuf    []float64
	voiceBuf  []float64
	shiftBuf  []float64
}

// NewGraph constructs the graph with a fixed voice set. Voices live for the
// process lifetime; they are never destroyed individually, only rewired.
func NewGraph(voices []*Voice, dryLevel float64, blockSize int) *Graph {
	g := &Graph{
		voices:      voices,
		byLabel:     make(map[string]*Voice, len(voices)),
		dryGain:     NewGainNode(dryLevel),
		monitorGain: NewGainNode(1.0),
		sources:     make(map[Source]struct{}),
		blockSize:   blockSize,
		srcBuf:      make([]float64, blockSize),
		voiceBuf:    make([]float64, blockSize),
		shiftBuf:    make([]float64, blockSize),
	}
	for _, v := range voices {
		g.byLabel[v.Label] = v
	}
	return g
}

// Voices returns the voice registry in preset order.
func (g *Graph) Voices() []*Voice { return g.voices }

// Voice looks up a voice by label.
func (g *Graph) Voice(label string) (*Voice, bool) {
	v, ok := g.byLabel[label]
	return v, ok
}

// DryGain returns the dry-path gain node.
func (g *Graph) DryGain() *GainNode { return g.dryGain }

// MonitorGain returns the monitor-path gain node.
func (g *Graph) MonitorGain() *GainNode { return g.monitorGain }

// Attach connects src to the dry path and every voice's pitch-shift path.
// Attaching an already-attached source disconnects it first, so a missing
// prior Detach never crashes or double-wires.
func (g *Graph) Attach(src Source) {
	g.mu.Lock()
	defer g.mu.Unlock()

	delete(g.sources, src)
	g.sources[src] = struct{}{}
}

// Detach disconnects src from all downstream nodes. Detaching a source that
// is not attached is a no-op; disconnection is best-effort and never fails
// past this boundary.
func (g *Graph) Detach(src Source) {
	g.mu.Lock()
	defer g.mu.Unlock()

	delete(g.sources, src)
}

// ConnectionCount reports the number of live edges from attached sources into
// the graph: one dry edge plus one per voice, per source.
func (g *Graph) ConnectionCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	return len(g.sources) * (1 + len(g.voices))
}

// SourceCount reports the number of attached sources.
func (g *Graph) SourceCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	return len(g.sources)
}

// ProcessBlock pulls one block from every attached source, runs it through
// the dry path and each voice, and writes the summed result to bus and the
// monitor-gain-scaled result to monitor. len(bus) and len(monitor) must equal
// the graph block size. Only the pump goroutine may call it.
//
// Source read failures produce silence for that source; the joined error is
// returned for logging but the block is always fully produced.
func (g *Graph) ProcessBlock(bus, monitor []float64) error {
	// Snapshot the topology; source reads and completion callbacks must not
	// run under the graph lock.
	g.mu.Lock()
	sources := make([]Source, 0, len(g.sources))
	for src := range g.sources {
		sources = append(sources, src)
	}
	g.mu.Unlock()

	clear(g.srcBuf)
	var errs []error

	for _, src := range sources {
		if err := src.ReadBlock(g.voiceBuf); err != nil {
			errs = append(errs, err)
			continue
		}
		for i := range g.srcBuf {
			g.srcBuf[i] += g.voiceBuf[i]
		}
	}

	// Dry path.
	copy(bus, g.srcBuf)
	g.dryGain.apply(bus)

	// Voice paths: shift, gain, sum into the bus.
	for _, v := range g.voices {
		v.shifter.Process(g.srcBuf, g.shiftBuf)
		copy(g.voiceBuf, g.shiftBuf)
		v.gain.apply(g.voiceBuf)
		for i := range bus {
			bus[i] += g.voiceBuf[i]
		}
	}

	copy(monitor, bus)
	g.monitorGain.apply(monitor)

	return errors.Join(errs...)
}
