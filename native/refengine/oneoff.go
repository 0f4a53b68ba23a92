package refengine

import (
	"math"

	"github.com/YuminosukeSato/xgbwrap/native"
	"github.com/YuminosukeSato/xgbwrap/pkg/errors"
)

// CopyEntries implements native.OneOffLibrary.
func (e *Engine) CopyEntries(entries []byte, nbEntries *uint32, values []float32, indices []int32, missing float32) int {
	return e.call("XGBCopyEntries", func() error {
		n := int(*nbEntries)
		if n > len(values) {
			return errors.Newf("row length %d exceeds %d values", n, len(values))
		}
		if indices != nil && len(indices) < n {
			return errors.Newf("row length %d exceeds %d indices", n, len(indices))
		}
		written := 0
		for i := 0; i < n; i++ {
			v := values[i]
			if native.IsMissing(v, missing) {
				continue
			}
			idx := int32(i)
			if indices != nil {
				idx = indices[i]
				if idx < 0 {
					return errors.Newf("negative feature index %d", idx)
				}
			}
			if len(entries) < native.EntriesLen(written+1) {
				return errors.Newf("entry buffer of %d bytes is too small", len(entries))
			}
			native.PutEntry(entries, written, uint32(idx), v)
			written++
		}
		*nbEntries = uint32(written)
		return nil
	})
}

// BoosterPredictOutputSize implements native.OneOffLibrary. The scratch
// region holds the expanded feature vector followed by one margin per group.
func (e *Engine) BoosterPredictOutputSize(h native.BoosterHandle, entries []byte, nbEntries uint32, optionMask int, _ uint32, outLen, scratchLen *uint64) int {
	return e.call("XGBoosterPredictOutputSize", func() error {
		b, err := e.booster(h)
		if err != nil {
			return err
		}
		if len(entries) < native.EntriesLen(int(nbEntries)) {
			return errors.Newf("entry buffer holds fewer than %d entries", nbEntries)
		}
		if err := b.configure(); err != nil {
			return err
		}
		*outLen = uint64(b.outputsPerRow(optionMask))
		*scratchLen = uint64(b.model.NumFeature + b.model.NumGroup)
		return nil
	})
}

// BoosterPredictNoInsideCache implements native.OneOffLibrary. It writes
// only into out, scratch and counters, so callers with private buffers may
// run it concurrently. counters flags the features already seen in the row.
func (e *Engine) BoosterPredictNoInsideCache(h native.BoosterHandle, entries []byte, nbEntries uint32, optionMask int, ntreeLimit uint32,
	outLen, scratchLen uint64, out, scratch []float32, counters []uint32) int {
	return e.call("XGBoosterPredictNoInsideCache", func() error {
		b, err := e.booster(h)
		if err != nil {
			return err
		}
		if !b.isConfigured() {
			return errors.New("booster is not initialized; call XGBoosterLazyInit first")
		}
		m := b.model
		nf, k := m.NumFeature, m.NumGroup
		want := b.outputsPerRow(optionMask)
		switch {
		case int(outLen) != want || len(out) < want:
			return errors.Newf("output length %d (buffer %d) does not match %d", outLen, len(out), want)
		case int(scratchLen) < nf+k || len(scratch) < nf+k || len(counters) < nf+k:
			return errors.Newf("scratch length %d is smaller than %d", scratchLen, nf+k)
		case len(entries) < native.EntriesLen(int(nbEntries)):
			return errors.Newf("entry buffer holds fewer than %d entries", nbEntries)
		}

		fvec := scratch[:nf]
		nan := float32(math.NaN())
		for j := range fvec {
			fvec[j] = nan
			counters[j] = 0
		}
		for i := 0; i < int(nbEntries); i++ {
			idx, v := native.GetEntry(entries, i)
			if int(idx) >= nf {
				continue
			}
			if counters[idx] != 0 {
				return errors.Newf("duplicate feature index %d", idx)
			}
			counters[idx] = 1
			fvec[idx] = v
		}

		limit := b.treeLimit(ntreeLimit)
		margins := scratch[nf : nf+k]
		for g := 0; g < k; g++ {
			margins[g] = float32(b.oneOffMargin(fvec, g, limit))
		}

		if optionMask&native.PredictOutputMargin != 0 {
			copy(out, margins)
			return nil
		}
		switch {
		case k > 1 && want == k:
			softmaxInto(margins, out)
		case k > 1:
			best := 0
			for g := 1; g < k; g++ {
				if margins[g] > margins[best] {
					best = g
				}
			}
			out[0] = float32(best)
		case b.obj.logistic:
			out[0] = float32(sigmoid(float64(margins[0])))
		default:
			out[0] = margins[0]
		}
		return nil
	})
}

// oneOffMargin is the margin of group g for fvec. It accumulates in the same
// order as the batch path so both agree bit for bit before rounding.
func (b *booster) oneOffMargin(fvec []float32, g, limit int) float64 {
	m := b.model
	sum := b.baseMarginFor(nil, 0, g)
	if m.Linear != nil {
		sum += m.Linear[m.NumFeature*m.NumGroup+g]
		for j, v := range fvec {
			if v == v {
				sum += m.Linear[j*m.NumGroup+g] * float64(v)
			}
		}
		return sum
	}
	for t := 0; t < limit; t++ {
		if m.TreeGroup[t] == g {
			sum += m.TreeWeights[t] * float64(m.Trees[t].leafValue(fvec))
		}
	}
	return sum
}

func softmaxInto(margins, out []float32) {
	maxM := margins[0]
	for _, v := range margins[1:] {
		if v > maxM {
			maxM = v
		}
	}
	sum := 0.0
	for _, v := range margins {
		sum += math.Exp(float64(v - maxM))
	}
	for g, v := range margins {
		out[g] = float32(math.Exp(float64(v-maxM)) / sum)
	}
}

// BoosterLazyInit implements native.OneOffLibrary.
func (e *Engine) BoosterLazyInit(h native.BoosterHandle) int {
	return e.call("XGBoosterLazyInit", func() error {
		b, err := e.booster(h)
		if err != nil {
			return err
		}
		return b.configure()
	})
}

func (b *booster) isConfigured() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.configured
}
