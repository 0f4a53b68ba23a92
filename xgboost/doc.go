// Package xgboost owns native datasets and boosters.
//
// DMatrix and Booster wrap native handles and free them exactly once on
// Close. Batch operations on a Booster are serialized by an internal mutex;
// the one-off path (PredictOneOff) runs without it and writes only into a
// caller-owned PredictionBuffer, so one Booster can serve many goroutines as
// long as each keeps its own buffer:
//
//	lib, _ := native.OpenDefault()
//	train, _ := xgboost.NewDenseDMatrix(lib, xgboost.DenseData{Values: x, Rows: n, Cols: f},
//	    xgboost.WithLabels(y))
//	defer train.Close()
//
//	b, _ := xgboost.NewBooster(lib, xgboost.Params{{Key: "objective", Value: "binary:logistic"}}, train)
//	defer b.Close()
//	for i := 0; i < 10; i++ {
//	    _ = b.Update(train, i, nil)
//	}
//
//	buf := xgboost.NewPredictionBuffer()
//	p, _ := b.PredictOneOff(xgboost.DenseRow(x[:f]), buf, false, 0)
package xgboost
