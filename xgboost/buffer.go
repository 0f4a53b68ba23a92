package xgboost

import "github.com/YuminosukeSato/xgbwrap/native"

// PredictionBuffer is the caller-owned memory of the one-off prediction
// protocol. Its regions only grow, and each growth at least doubles the
// region. A buffer must not be shared between concurrent callers.
type PredictionBuffer struct {
	entries  []byte
	output   []float32
	scratch  []float32
	counters []uint32
}

// BufferCapacity reports region sizes in elements.
type BufferCapacity struct {
	Entries int
	Output  int
	Scratch int
}

// NewPredictionBuffer returns an empty buffer. Regions are allocated on first use.
func NewPredictionBuffer() *PredictionBuffer {
	return &PredictionBuffer{}
}

// Capacity returns the current region sizes.
func (p *PredictionBuffer) Capacity() BufferCapacity {
	return BufferCapacity{
		Entries: len(p.entries) / native.EntrySize,
		Output:  len(p.output),
		Scratch: len(p.scratch),
	}
}

func grownLen(current, need int) int {
	if need <= current {
		return current
	}
	if doubled := 2 * current; doubled > need {
		return doubled
	}
	return need
}

func (p *PredictionBuffer) ensureEntries(n int) {
	have := len(p.entries) / native.EntrySize
	if n > have {
		p.entries = make([]byte, native.EntriesLen(grownLen(have, n)))
	}
}

func (p *PredictionBuffer) ensureOutput(n int) {
	if n > len(p.output) {
		p.output = make([]float32, grownLen(len(p.output), n))
	}
}

func (p *PredictionBuffer) ensureScratch(n int) {
	if n > len(p.scratch) {
		size := grownLen(len(p.scratch), n)
		p.scratch = make([]float32, size)
		p.counters = make([]uint32, size)
	}
}
