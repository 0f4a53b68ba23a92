//go:build xgboost

// Package cxgb binds the XGBoost C library through cgo and registers it as
// the "xgboost" backend.
//
// The base ABI is linked directly. The one-off prediction and rabit
// checkpoint entry points exist only in some builds, so they are resolved
// with dlsym when the backend is opened and reported through Capabilities.
package cxgb

/*
#cgo LDFLAGS: -lxgboost -ldl
#cgo CFLAGS: -I/usr/local/include

#define _GNU_SOURCE
#include <dlfcn.h>
#include <stdlib.h>
#include <xgboost/c_api.h>

typedef int (*copy_entries_fn)(void*, bst_ulong*, const float*, const int*, float);
typedef int (*output_size_fn)(BoosterHandle, const void*, bst_ulong, int, unsigned, bst_ulong*, bst_ulong*);
typedef int (*no_cache_fn)(BoosterHandle, const void*, bst_ulong, int, unsigned, bst_ulong, bst_ulong, float*, float*, unsigned*);
typedef int (*booster_fn)(BoosterHandle);
typedef int (*load_ckpt_fn)(BoosterHandle, int*);
typedef void (*rabit_init_fn)(int, char**);
typedef void (*void_fn)(void);
typedef int (*int_fn)(void);
typedef void (*name_fn)(char*, bst_ulong*, bst_ulong);

static void* xgbw_sym(const char* name) { return dlsym(RTLD_DEFAULT, name); }

static int xgbw_copy_entries(void* fn, void* entries, bst_ulong* n, const float* values, const int* indices, float missing) {
	return ((copy_entries_fn)fn)(entries, n, values, indices, missing);
}

static int xgbw_output_size(void* fn, BoosterHandle h, const void* entries, bst_ulong n, int mask, unsigned limit,
		bst_ulong* out_len, bst_ulong* scratch_len) {
	return ((output_size_fn)fn)(h, entries, n, mask, limit, out_len, scratch_len);
}

static int xgbw_no_cache(void* fn, BoosterHandle h, const void* entries, bst_ulong n, int mask, unsigned limit,
		bst_ulong out_len, bst_ulong scratch_len, float* out, float* scratch, unsigned* counters) {
	return ((no_cache_fn)fn)(h, entries, n, mask, limit, out_len, scratch_len, out, scratch, counters);
}

static int xgbw_booster(void* fn, BoosterHandle h) { return ((booster_fn)fn)(h); }
static int xgbw_load_ckpt(void* fn, BoosterHandle h, int* version) { return ((load_ckpt_fn)fn)(h, version); }
static void xgbw_rabit_init(void* fn, int argc, char** argv) { ((rabit_init_fn)fn)(argc, argv); }
static void xgbw_void(void* fn) { ((void_fn)fn)(); }
static int xgbw_int(void* fn) { return ((int_fn)fn)(); }
static void xgbw_name(void* fn, char* out, bst_ulong* out_len, bst_ulong max_len) { ((name_fn)fn)(out, out_len, max_len); }
*/
import "C"

import (
	"runtime"
	"sync"
	"unsafe"

	"github.com/YuminosukeSato/xgbwrap/native"
	"github.com/YuminosukeSato/xgbwrap/pkg/errors"
)

func init() {
	native.Register(native.BackendXGBoost, func() (native.Library, error) { return Open() })
}

type symbols struct {
	copyEntries, outputSize, noCache, lazyInit unsafe.Pointer

	rabitInit, rabitFinalize, rabitRank, rabitWorld, rabitDistributed unsafe.Pointer
	rabitName, rabitVersion, loadCheckpoint, saveCheckpoint         unsafe.Pointer
}

func lookup(name string) unsafe.Pointer {
	cname := C.CString(name)
	defer C.free(unsafe.Pointer(cname))
	return C.xgbw_sym(cname)
}

func allFound(ptrs ...unsafe.Pointer) bool {
	for _, p := range ptrs {
		if p == nil {
			return false
		}
	}
	return true
}

// Library is the cgo backend. It implements native.OneOffLibrary and
// native.CollectiveLibrary; Capabilities tells which groups are usable.
type Library struct {
	sym  symbols
	caps native.Capabilities

	errMu   sync.Mutex
	lastErr string
}

var (
	_ native.OneOffLibrary     = (*Library)(nil)
	_ native.CollectiveLibrary = (*Library)(nil)
)

// Open resolves the optional entry points of the linked library.
func Open() (*Library, error) {
	var major, minor, patch C.int
	C.XGBoostVersion(&major, &minor, &patch)
	if major < 1 {
		return nil, errors.Newf("libxgboost %d.%d.%d is too old", int(major), int(minor), int(patch))
	}
	s := symbols{
		copyEntries:      lookup("XGBoosterCopyEntries"),
		outputSize:       lookup("XGBoosterPredictOutputSize"),
		noCache:          lookup("XGBoosterPredictNoInsideCache"),
		lazyInit:         lookup("XGBoosterLazyInit"),
		rabitInit:        lookup("RabitInit"),
		rabitFinalize:    lookup("RabitFinalize"),
		rabitRank:        lookup("RabitGetRank"),
		rabitWorld:       lookup("RabitGetWorldSize"),
		rabitDistributed: lookup("RabitIsDistributed"),
		rabitName:        lookup("RabitGetProcessorName"),
		rabitVersion:     lookup("RabitVersionNumber"),
		loadCheckpoint:   lookup("XGBoosterLoadRabitCheckpoint"),
		saveCheckpoint:   lookup("XGBoosterSaveRabitCheckpoint"),
	}
	return &Library{
		sym: s,
		caps: native.Capabilities{
			OneOff: allFound(s.copyEntries, s.outputSize, s.noCache, s.lazyInit),
			Collective: allFound(s.rabitInit, s.rabitFinalize, s.rabitRank, s.rabitWorld, s.rabitDistributed,
				s.rabitName, s.rabitVersion, s.loadCheckpoint, s.saveCheckpoint),
		},
	}, nil
}

func (l *Library) Name() string                      { return native.BackendXGBoost }
func (l *Library) Capabilities() native.Capabilities { return l.caps }

func (l *Library) GetLastError() string {
	l.errMu.Lock()
	defer l.errMu.Unlock()
	return l.lastErr
}

// call runs fn pinned to one OS thread so the thread-local XGBGetLastError
// belongs to the same call.
func (l *Library) call(fn func() C.int) int {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	ret := fn()
	if ret != 0 {
		msg := C.GoString(C.XGBGetLastError())
		l.errMu.Lock()
		l.lastErr = msg
		l.errMu.Unlock()
	}
	return int(ret)
}

func dmat(h native.DatasetHandle) C.DMatrixHandle  { return C.DMatrixHandle(unsafe.Pointer(uintptr(h))) }
func booster(h native.BoosterHandle) C.BoosterHandle { return C.BoosterHandle(unsafe.Pointer(uintptr(h))) }

func floatPtr(s []float32) *C.float {
	if len(s) == 0 {
		return nil
	}
	return (*C.float)(unsafe.Pointer(&s[0]))
}

func (l *Library) DMatrixCreateFromMat(data []float32, nrow, ncol uint64, missing float32, out *native.DatasetHandle) int {
	return l.call(func() C.int {
		var h C.DMatrixHandle
		ret := C.XGDMatrixCreateFromMat(floatPtr(data), C.bst_ulong(nrow), C.bst_ulong(ncol), C.float(missing), &h)
		*out = native.DatasetHandle(uintptr(unsafe.Pointer(h)))
		return ret
	})
}

func (l *Library) DMatrixCreateFromCSR(indptr []uint64, indices []uint32, data []float32, ncol uint64, out *native.DatasetHandle) int {
	return l.call(func() C.int {
		var h C.DMatrixHandle
		var ip *C.size_t
		if len(indptr) > 0 {
			ip = (*C.size_t)(unsafe.Pointer(&indptr[0]))
		}
		var idx *C.uint
		if len(indices) > 0 {
			idx = (*C.uint)(unsafe.Pointer(&indices[0]))
		}
		ret := C.XGDMatrixCreateFromCSREx(ip, idx, floatPtr(data),
			C.size_t(len(indptr)), C.size_t(len(data)), C.size_t(ncol), &h)
		*out = native.DatasetHandle(uintptr(unsafe.Pointer(h)))
		return ret
	})
}

func (l *Library) DMatrixFree(h native.DatasetHandle) int {
	return l.call(func() C.int { return C.XGDMatrixFree(dmat(h)) })
}

func (l *Library) DMatrixSetFloatInfo(h native.DatasetHandle, field string, data []float32) int {
	return l.call(func() C.int {
		cfield := C.CString(field)
		defer C.free(unsafe.Pointer(cfield))
		return C.XGDMatrixSetFloatInfo(dmat(h), cfield, floatPtr(data), C.bst_ulong(len(data)))
	})
}

func (l *Library) DMatrixSetGroup(h native.DatasetHandle, group []uint32) int {
	return l.call(func() C.int {
		cfield := C.CString("group")
		defer C.free(unsafe.Pointer(cfield))
		var p *C.uint
		if len(group) > 0 {
			p = (*C.uint)(unsafe.Pointer(&group[0]))
		}
		return C.XGDMatrixSetUIntInfo(dmat(h), cfield, p, C.bst_ulong(len(group)))
	})
}

func (l *Library) DMatrixNumRow(h native.DatasetHandle, out *uint64) int {
	return l.call(func() C.int {
		var n C.bst_ulong
		ret := C.XGDMatrixNumRow(dmat(h), &n)
		*out = uint64(n)
		return ret
	})
}

func (l *Library) DMatrixNumCol(h native.DatasetHandle, out *uint64) int {
	return l.call(func() C.int {
		var n C.bst_ulong
		ret := C.XGDMatrixNumCol(dmat(h), &n)
		*out = uint64(n)
		return ret
	})
}

func (l *Library) DMatrixSaveBinary(h native.DatasetHandle, path string, silent bool) int {
	return l.call(func() C.int {
		cpath := C.CString(path)
		defer C.free(unsafe.Pointer(cpath))
		s := C.int(0)
		if silent {
			s = 1
		}
		return C.XGDMatrixSaveBinary(dmat(h), cpath, s)
	})
}

func (l *Library) BoosterCreate(dmats []native.DatasetHandle, out *native.BoosterHandle) int {
	return l.call(func() C.int {
		handles := make([]C.DMatrixHandle, len(dmats))
		for i, d := range dmats {
			handles[i] = dmat(d)
		}
		var p *C.DMatrixHandle
		if len(handles) > 0 {
			p = &handles[0]
		}
		var h C.BoosterHandle
		ret := C.XGBoosterCreate(p, C.bst_ulong(len(handles)), &h)
		*out = native.BoosterHandle(uintptr(unsafe.Pointer(h)))
		return ret
	})
}

func (l *Library) BoosterFree(h native.BoosterHandle) int {
	return l.call(func() C.int { return C.XGBoosterFree(booster(h)) })
}

func (l *Library) BoosterSetParam(h native.BoosterHandle, name, value string) int {
	return l.call(func() C.int {
		cname := C.CString(name)
		defer C.free(unsafe.Pointer(cname))
		cvalue := C.CString(value)
		defer C.free(unsafe.Pointer(cvalue))
		return C.XGBoosterSetParam(booster(h), cname, cvalue)
	})
}

func (l *Library) BoosterLoadModelFromBuffer(h native.BoosterHandle, buf []byte) int {
	return l.call(func() C.int {
		if len(buf) == 0 {
			return C.XGBoosterLoadModelFromBuffer(booster(h), nil, 0)
		}
		return C.XGBoosterLoadModelFromBuffer(booster(h), unsafe.Pointer(&buf[0]), C.bst_ulong(len(buf)))
	})
}

func (l *Library) BoosterGetModelRaw(h native.BoosterHandle, out *[]byte) int {
	return l.call(func() C.int {
		var n C.bst_ulong
		var p *C.char
		ret := C.XGBoosterGetModelRaw(booster(h), &n, &p)
		if ret == 0 {
			*out = C.GoBytes(unsafe.Pointer(p), C.int(n))
		}
		return ret
	})
}

func (l *Library) BoosterBoostedRounds(h native.BoosterHandle, out *int) int {
	return l.call(func() C.int {
		var n C.int
		ret := C.XGBoosterBoostedRounds(booster(h), &n)
		*out = int(n)
		return ret
	})
}

func (l *Library) BoosterUpdateOneIter(h native.BoosterHandle, iter int, dtrain native.DatasetHandle) int {
	return l.call(func() C.int { return C.XGBoosterUpdateOneIter(booster(h), C.int(iter), dmat(dtrain)) })
}

func (l *Library) BoosterBoostOneIter(h native.BoosterHandle, dtrain native.DatasetHandle, grad, hess []float32) int {
	return l.call(func() C.int {
		return C.XGBoosterBoostOneIter(booster(h), dmat(dtrain), floatPtr(grad), floatPtr(hess), C.bst_ulong(len(grad)))
	})
}

func (l *Library) BoosterEvalOneIter(h native.BoosterHandle, iter int, dmats []native.DatasetHandle, names []string, out *string) int {
	return l.call(func() C.int {
		if len(dmats) == 0 {
			*out = ""
			return 0
		}
		handles := make([]C.DMatrixHandle, len(dmats))
		for i, d := range dmats {
			handles[i] = dmat(d)
		}
		cnames := make([]*C.char, len(names))
		for i, name := range names {
			cnames[i] = C.CString(name)
		}
		defer func() {
			for _, p := range cnames {
				C.free(unsafe.Pointer(p))
			}
		}()
		var res *C.char
		ret := C.XGBoosterEvalOneIter(booster(h), C.int(iter), &handles[0], &cnames[0], C.bst_ulong(len(handles)), &res)
		if ret == 0 {
			*out = C.GoString(res)
		}
		return ret
	})
}

// BoosterPredict returns a view of library memory, valid until the next call
// on h.
func (l *Library) BoosterPredict(h native.BoosterHandle, d native.DatasetHandle, optionMask int, ntreeLimit uint32, out *[]float32) int {
	return l.call(func() C.int {
		var n C.bst_ulong
		var p *C.float
		ret := C.XGBoosterPredict(booster(h), dmat(d), C.int(optionMask), C.uint(ntreeLimit), 0, &n, &p)
		if ret == 0 {
			*out = unsafe.Slice((*float32)(unsafe.Pointer(p)), int(n))
		}
		return ret
	})
}

func (l *Library) missing(op string) int {
	l.errMu.Lock()
	l.lastErr = op + " is not exported by the loaded libxgboost"
	l.errMu.Unlock()
	return -1
}

func (l *Library) CopyEntries(entries []byte, nbEntries *uint32, values []float32, indices []int32, missing float32) int {
	if l.sym.copyEntries == nil {
		return l.missing("XGBoosterCopyEntries")
	}
	if len(values) == 0 {
		*nbEntries = 0
		return 0
	}
	return l.call(func() C.int {
		n := C.bst_ulong(*nbEntries)
		var idx *C.int
		if indices != nil {
			idx = (*C.int)(unsafe.Pointer(&indices[0]))
		}
		ret := C.xgbw_copy_entries(l.sym.copyEntries, unsafe.Pointer(&entries[0]), &n, floatPtr(values), idx, C.float(missing))
		*nbEntries = uint32(n)
		return ret
	})
}

func entriesPtr(entries []byte) unsafe.Pointer {
	if len(entries) == 0 {
		return nil
	}
	return unsafe.Pointer(&entries[0])
}

func (l *Library) BoosterPredictOutputSize(h native.BoosterHandle, entries []byte, nbEntries uint32, optionMask int, ntreeLimit uint32, outLen, scratchLen *uint64) int {
	if l.sym.outputSize == nil {
		return l.missing("XGBoosterPredictOutputSize")
	}
	return l.call(func() C.int {
		var o, s C.bst_ulong
		ret := C.xgbw_output_size(l.sym.outputSize, booster(h), entriesPtr(entries), C.bst_ulong(nbEntries),
			C.int(optionMask), C.uint(ntreeLimit), &o, &s)
		*outLen, *scratchLen = uint64(o), uint64(s)
		return ret
	})
}

func (l *Library) BoosterPredictNoInsideCache(h native.BoosterHandle, entries []byte, nbEntries uint32, optionMask int, ntreeLimit uint32,
	outLen, scratchLen uint64, out, scratch []float32, counters []uint32) int {
	if l.sym.noCache == nil {
		return l.missing("XGBoosterPredictNoInsideCache")
	}
	return l.call(func() C.int {
		var cnt *C.uint
		if len(counters) > 0 {
			cnt = (*C.uint)(unsafe.Pointer(&counters[0]))
		}
		return C.xgbw_no_cache(l.sym.noCache, booster(h), entriesPtr(entries), C.bst_ulong(nbEntries),
			C.int(optionMask), C.uint(ntreeLimit), C.bst_ulong(outLen), C.bst_ulong(scratchLen),
			floatPtr(out), floatPtr(scratch), cnt)
	})
}

func (l *Library) BoosterLazyInit(h native.BoosterHandle) int {
	if l.sym.lazyInit == nil {
		return l.missing("XGBoosterLazyInit")
	}
	return l.call(func() C.int { return C.xgbw_booster(l.sym.lazyInit, booster(h)) })
}

func (l *Library) RabitInit(args []string) int {
	if l.sym.rabitInit == nil {
		return l.missing("RabitInit")
	}
	argv := make([]*C.char, len(args)+1)
	for i, a := range args {
		argv[i] = C.CString(a)
	}
	defer func() {
		for _, p := range argv[:len(args)] {
			C.free(unsafe.Pointer(p))
		}
	}()
	C.xgbw_rabit_init(l.sym.rabitInit, C.int(len(args)), &argv[0])
	return 0
}

func (l *Library) RabitFinalize() int {
	if l.sym.rabitFinalize == nil {
		return l.missing("RabitFinalize")
	}
	C.xgbw_void(l.sym.rabitFinalize)
	return 0
}

func (l *Library) RabitGetRank() int {
	if l.sym.rabitRank == nil {
		return 0
	}
	return int(C.xgbw_int(l.sym.rabitRank))
}

func (l *Library) RabitGetWorldSize() int {
	if l.sym.rabitWorld == nil {
		return 1
	}
	return int(C.xgbw_int(l.sym.rabitWorld))
}

func (l *Library) RabitIsDistributed() bool {
	if l.sym.rabitDistributed == nil {
		return false
	}
	return C.xgbw_int(l.sym.rabitDistributed) != 0
}

func (l *Library) RabitGetProcessorName() string {
	if l.sym.rabitName == nil {
		return ""
	}
	buf := make([]byte, 256)
	var n C.bst_ulong
	C.xgbw_name(l.sym.rabitName, (*C.char)(unsafe.Pointer(&buf[0])), &n, C.bst_ulong(len(buf)))
	if int(n) > len(buf) {
		n = C.bst_ulong(len(buf))
	}
	return string(buf[:n])
}

func (l *Library) RabitVersionNumber() int {
	if l.sym.rabitVersion == nil {
		return 0
	}
	return int(C.xgbw_int(l.sym.rabitVersion))
}

func (l *Library) BoosterLoadRabitCheckpoint(h native.BoosterHandle, version *int) int {
	if l.sym.loadCheckpoint == nil {
		return l.missing("XGBoosterLoadRabitCheckpoint")
	}
	return l.call(func() C.int {
		var v C.int
		ret := C.xgbw_load_ckpt(l.sym.loadCheckpoint, booster(h), &v)
		*version = int(v)
		return ret
	})
}

func (l *Library) BoosterSaveRabitCheckpoint(h native.BoosterHandle) int {
	if l.sym.saveCheckpoint == nil {
		return l.missing("XGBoosterSaveRabitCheckpoint")
	}
	return l.call(func() C.int { return C.xgbw_booster(l.sym.saveCheckpoint, booster(h)) })
}
