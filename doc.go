// Package xgbwrap drives a native gradient-boosted-tree library from Go for
// training and low-latency single-row scoring.
//
// The native library is reached through the ABI described in package native.
// Two backends implement it: native/refengine, a pure-Go engine that is
// always available, and native/cxgb, a cgo binding to libxgboost compiled in
// with the "xgboost" build tag.
//
// # Quick Start
//
//	package main
//
//	import (
//	    "bytes"
//	    "fmt"
//	    "log"
//
//	    "github.com/YuminosukeSato/xgbwrap/modelio"
//	    "github.com/YuminosukeSato/xgbwrap/native"
//	    _ "github.com/YuminosukeSato/xgbwrap/native/refengine"
//	    "github.com/YuminosukeSato/xgbwrap/predictor"
//	    "github.com/YuminosukeSato/xgbwrap/training"
//	    "github.com/YuminosukeSato/xgbwrap/xgboost"
//	)
//
//	func main() {
//	    lib, err := native.OpenDefault()
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//
//	    src := &training.SliceSource{Features: 2, Rows: []training.Example{
//	        {Label: 0, Values: []float32{0.1, 1}},
//	        {Label: 1, Values: []float32{0.9, 0}},
//	    }}
//	    m, err := training.Train(lib, src, training.BinaryClassification, training.DefaultConfig())
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    defer m.Close()
//
//	    var buf bytes.Buffer
//	    if err := modelio.Write(&buf, modelio.FromTraining(m)); err != nil {
//	        log.Fatal(err)
//	    }
//	    p, err := predictor.Load(lib, &buf)
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    defer p.Close()
//
//	    score, err := p.NewSession().Score(xgboost.DenseRow([]float32{0.8, 0}))
//	    fmt.Println(score, err)
//	}
//
// # Packages
//
//   - native: ABI interfaces, status checking, backend registry
//   - native/refengine: in-process engine implementing the ABI
//   - native/cxgb: cgo binding to libxgboost (build tag "xgboost")
//   - collective: distributed checkpoint service
//   - xgboost: DMatrix, Booster, PredictionBuffer and the one-off protocol
//   - training: parameter catalog, matrix building, label policy, boosting loop
//   - modelio: persisted model envelope
//   - predictor: envelope-backed predictors and scoring sessions
//   - pkg/errors, pkg/log: error types and structured logging
//
// # Concurrency
//
// A Booster serializes batch work behind one mutex. Single-row scoring takes
// no lock, so any number of goroutines may score against one Booster as long
// as each owns its PredictionBuffer (or predictor.Session).
package xgbwrap
