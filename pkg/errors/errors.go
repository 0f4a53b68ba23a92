// Package errors はxgbwrap全体のエラーハンドリングと警告システムを提供します。
// ネイティブ呼び出しの失敗、入力検証の失敗、永続化フォーマットの破損を
// 区別できる構造化されたエラー型を定義します。
package errors

import (
	"fmt"
	"log"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
)

// ===========================================================================
//
//	グローバル警告ハンドリング
//
// ===========================================================================
var (
	warningMutex   sync.Mutex
	warningHandler = func(w error) {
		log.Printf("xgbwrap-Warning: %v\n", w)
	}
	// zerologロガー（循環importを避けるため遅延初期化）
	zerologWarnFunc func(warning error)
)

// SetZerologWarnFunc はzerolog警告関数を設定します（循環importを避けるため）。
func SetZerologWarnFunc(warnFunc func(warning error)) {
	warningMutex.Lock()
	defer warningMutex.Unlock()
	zerologWarnFunc = warnFunc
}

// Warn は警告を発生させます。
// zerologが設定されている場合は構造化ログとして出力し、そうでなければ従来のハンドラを使用します。
func Warn(w error) {
	warningMutex.Lock()
	defer warningMutex.Unlock()

	if zerologWarnFunc != nil {
		zerologWarnFunc(w)
		return
	}

	if warningHandler != nil {
		warningHandler(w)
	}
}

// ===========================================================================
//
//	警告型
//
// ===========================================================================

// DroppedRowsWarning は学習データの一部の行が読み飛ばされた場合の警告です。
// 例えば、ラベルがNaNの行はデータセットに含まれません。
type DroppedRowsWarning struct {
	Reason string
	Count  int
	Total  int
}

func (w *DroppedRowsWarning) Error() string {
	return fmt.Sprintf("%d of %d rows were dropped: %s", w.Count, w.Total, w.Reason)
}

// MarshalZerologObject はzerologのイベントに構造化された警告情報を追加します。
func (w *DroppedRowsWarning) MarshalZerologObject(e *zerolog.Event) {
	e.Str("reason", w.Reason).
		Int("count", w.Count).
		Int("total", w.Total).
		Str("type", "DroppedRowsWarning")
}

// NewDroppedRowsWarning は新しいDroppedRowsWarningを作成します。
func NewDroppedRowsWarning(reason string, count, total int) *DroppedRowsWarning {
	return &DroppedRowsWarning{Reason: reason, Count: count, Total: total}
}

// ===========================================================================
//
//	構造化されたエラー型
//
// ===========================================================================

// NativeCallError はネイティブライブラリの呼び出しが0以外のステータスを返した場合のエラーです。
// Message にはネイティブ側の最終エラーメッセージが格納されます。リトライはしません。
type NativeCallError struct {
	Op      string
	Status  int
	Message string
}

func (e *NativeCallError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("xgbwrap: native call %s failed with status %d", e.Op, e.Status)
	}
	return fmt.Sprintf("xgbwrap: native call %s failed with status %d: %s", e.Op, e.Status, e.Message)
}

// MarshalZerologObject はzerologのイベントに構造化されたエラー情報を追加します。
func (e *NativeCallError) MarshalZerologObject(event *zerolog.Event) {
	event.Str("operation", e.Op).
		Int("status", e.Status).
		Str("message", e.Message).
		Str("type", "NativeCallError")
}

// NewNativeCallError は新しいNativeCallErrorを作成し、スタックトレースを付与します。
func NewNativeCallError(op string, status int, message string) error {
	err := &NativeCallError{Op: op, Status: status, Message: message}
	return errors.WithStack(err)
}

// ValidationError は入力パラメータの検証に失敗した場合のエラーです。
// ネイティブ呼び出しの前に検出できる不整合（特徴量の不一致、配列長の不一致など）を表します。
type ValidationError struct {
	ParamName string
	Reason    string
	Value     interface{}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("xgbwrap: validation failed for parameter '%s': %s (got: %v)", e.ParamName, e.Reason, e.Value)
}

// MarshalZerologObject はzerologのイベントに構造化されたエラー情報を追加します。
func (e *ValidationError) MarshalZerologObject(event *zerolog.Event) {
	event.Str("param_name", e.ParamName).
		Str("reason", e.Reason).
		Interface("value", e.Value).
		Str("type", "ValidationError")
}

// NewValidationError は新しいValidationErrorを作成し、スタックトレースを付与します。
func NewValidationError(param, reason string, value interface{}) error {
	err := &ValidationError{ParamName: param, Reason: reason, Value: value}
	return errors.WithStack(err)
}

// SerializationError は永続化されたモデルが破損・切り詰め・非互換バージョンの場合のエラーです。
type SerializationError struct {
	Op     string
	Reason string
	Err    error
}

func (e *SerializationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("xgbwrap: %s: %s: %v", e.Op, e.Reason, e.Err)
	}
	return fmt.Sprintf("xgbwrap: %s: %s", e.Op, e.Reason)
}

func (e *SerializationError) Unwrap() error {
	return e.Err
}

// MarshalZerologObject はzerologのイベントに構造化されたエラー情報を追加します。
func (e *SerializationError) MarshalZerologObject(event *zerolog.Event) {
	event.Str("operation", e.Op).
		Str("reason", e.Reason).
		Str("type", "SerializationError")
	if e.Err != nil {
		event.Str("cause", e.Err.Error())
	}
}

// NewSerializationError は新しいSerializationErrorを作成し、スタックトレースを付与します。
func NewSerializationError(op, reason string, err error) error {
	serErr := &SerializationError{Op: op, Reason: reason, Err: err}
	return errors.WithStack(serErr)
}

// ===========================================================================
//
//	cockroachdb/errors ラッパー関数
//
// ===========================================================================

// Is はエラーが特定のターゲットエラーかどうかを判定します。
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As はエラーが特定の型にキャスト可能かどうかを判定します。
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// Wrap は既存のエラーをメッセージ付きでラップします。
func Wrap(err error, message string) error {
	return errors.Wrap(err, message)
}

// Wrapf は既存のエラーをフォーマット文字列でラップします。
func Wrapf(err error, format string, args ...interface{}) error {
	return errors.Wrapf(err, format, args...)
}

// New は新しいエラーを作成します。
func New(message string) error {
	return errors.New(message)
}

// Newf は新しいフォーマット済みエラーを作成します。
func Newf(format string, args ...interface{}) error {
	return errors.Newf(format, args...)
}

// IsNativeCall はエラーチェーンにNativeCallErrorが含まれるかを判定します。
func IsNativeCall(err error) bool {
	var target *NativeCallError
	return errors.As(err, &target)
}

// IsValidation はエラーチェーンにValidationErrorが含まれるかを判定します。
func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

// IsSerialization はエラーチェーンにSerializationErrorが含まれるかを判定します。
func IsSerialization(err error) bool {
	var target *SerializationError
	return errors.As(err, &target)
}

// ===========================================================================
//
//	共通エラー変数
//
// ===========================================================================

var (
	// ErrClosed は解放済みのハンドルを使用した場合のエラーです。
	ErrClosed = New("handle already closed")

	// ErrEmptyData は空のデータが渡された場合のエラーです。
	ErrEmptyData = New("empty data")

	// ErrExtendedLibraryRequired はキャッシュなし単一行予測のエントリポイントが
	// ネイティブライブラリに存在しない場合のエラーです。
	ErrExtendedLibraryRequired = New("extended native library required: one-off prediction entry points are missing")

	// ErrCollectiveUnavailable は分散チェックポイントのエントリポイントが存在しない場合のエラーです。
	ErrCollectiveUnavailable = New("native library does not provide collective checkpoint entry points")
)
