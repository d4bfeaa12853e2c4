package utils

import (
	"errors"
	"runtime/debug"
)

// StackError はエラーが発生した時点のスタックトレースを保持します
type StackError struct {
	Err   error
	Stack []byte
}

func (e *StackError) Error() string {
	return e.Err.Error()
}

func (e *StackError) Unwrap() error {
	return e.Err
}

// WithStack はエラーにスタックトレースを付与します
// 既にスタックトレースを持つエラーはそのまま返します
func WithStack(err error) error {
	if err == nil {
		return nil
	}
	var se *StackError
	if errors.As(err, &se) {
		return err
	}
	return &StackError{Err: err, Stack: debug.Stack()}
}

// StackTrace はエラーに付与されたスタックトレースを返します
// 付与されていない場合は呼び出し時点のスタックトレースを返します
func StackTrace(err error) string {
	var se *StackError
	if errors.As(err, &se) {
		return string(se.Stack)
	}
	return string(debug.Stack())
}
