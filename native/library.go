// Package native describes the C ABI of the gradient-boosting library as Go
// interfaces and turns nonzero status codes into typed errors.
//
// Every entry point returns an int status where 0 means success. Out values
// are written through pointer arguments, mirroring the C signatures, so a
// cgo binding and the in-process reference engine implement the same surface.
// Slices returned through out pointers (model bytes, batch predictions,
// evaluation strings) are owned by the library and stay valid only until the
// next call on the same handle. Callers copy them out immediately and never
// free them.
package native

// DatasetHandle is an opaque native DMatrix handle.
type DatasetHandle uintptr

// BoosterHandle is an opaque native booster handle.
type BoosterHandle uintptr

// Prediction option mask bits.
const (
	PredictNormal       = 0x00
	PredictOutputMargin = 0x01
)

// Float info field names accepted by DMatrixSetFloatInfo.
const (
	FieldLabel      = "label"
	FieldWeight     = "weight"
	FieldBaseMargin = "base_margin"
)

// Capabilities reports which optional entry point groups a backend exposes.
// It is resolved once when the backend is opened.
type Capabilities struct {
	// OneOff is true when CopyEntries, BoosterPredictOutputSize,
	// BoosterPredictNoInsideCache and BoosterLazyInit are all present.
	OneOff bool

	// Collective is true when the rabit init/rank/checkpoint entry points are present.
	Collective bool
}

// Library is the base ABI every backend provides.
type Library interface {
	// Name identifies the backend ("reference", "xgboost").
	Name() string

	// GetLastError returns the message of the most recent failed call.
	GetLastError() string

	Capabilities() Capabilities

	DMatrixCreateFromMat(data []float32, nrow, ncol uint64, missing float32, out *DatasetHandle) int
	DMatrixCreateFromCSR(indptr []uint64, indices []uint32, data []float32, ncol uint64, out *DatasetHandle) int
	DMatrixFree(h DatasetHandle) int
	DMatrixSetFloatInfo(h DatasetHandle, field string, data []float32) int
	DMatrixSetGroup(h DatasetHandle, group []uint32) int
	DMatrixNumRow(h DatasetHandle, out *uint64) int
	DMatrixNumCol(h DatasetHandle, out *uint64) int
	DMatrixSaveBinary(h DatasetHandle, path string, silent bool) int

	BoosterCreate(dmats []DatasetHandle, out *BoosterHandle) int
	BoosterFree(h BoosterHandle) int
	BoosterSetParam(h BoosterHandle, name, value string) int
	BoosterLoadModelFromBuffer(h BoosterHandle, buf []byte) int
	BoosterGetModelRaw(h BoosterHandle, out *[]byte) int
	BoosterBoostedRounds(h BoosterHandle, out *int) int

	BoosterUpdateOneIter(h BoosterHandle, iter int, dtrain DatasetHandle) int
	BoosterBoostOneIter(h BoosterHandle, dtrain DatasetHandle, grad, hess []float32) int
	BoosterEvalOneIter(h BoosterHandle, iter int, dmats []DatasetHandle, names []string, out *string) int

	// BoosterPredict runs the batch path. It is not reentrant for one handle.
	BoosterPredict(h BoosterHandle, dmat DatasetHandle, optionMask int, ntreeLimit uint32, out *[]float32) int
}

// OneOffLibrary adds the cache-free single-row prediction protocol found in
// extended builds of the native library.
type OneOffLibrary interface {
	Library

	// CopyEntries encodes one row into entries. On input *nbEntries is the
	// number of values; on output it is the number of non-missing entries
	// written. indices == nil means values is a dense row.
	CopyEntries(entries []byte, nbEntries *uint32, values []float32, indices []int32, missing float32) int

	// BoosterPredictOutputSize reports the output length and the scratch
	// length the fill phase needs for the encoded row.
	BoosterPredictOutputSize(h BoosterHandle, entries []byte, nbEntries uint32, optionMask int, ntreeLimit uint32, outLen, scratchLen *uint64) int

	// BoosterPredictNoInsideCache writes outLen values into out using only
	// caller memory. scratch and counters are working memory.
	BoosterPredictNoInsideCache(h BoosterHandle, entries []byte, nbEntries uint32, optionMask int, ntreeLimit uint32,
		outLen, scratchLen uint64, out, scratch []float32, counters []uint32) int

	// BoosterLazyInit finishes booster configuration ahead of the first prediction.
	BoosterLazyInit(h BoosterHandle) int
}

// CollectiveLibrary adds the rabit-style distributed checkpoint primitives.
type CollectiveLibrary interface {
	Library

	RabitInit(args []string) int
	RabitFinalize() int
	RabitGetRank() int
	RabitGetWorldSize() int
	RabitIsDistributed() bool
	RabitGetProcessorName() string
	RabitVersionNumber() int

	BoosterLoadRabitCheckpoint(h BoosterHandle, version *int) int
	BoosterSaveRabitCheckpoint(h BoosterHandle) int
}
