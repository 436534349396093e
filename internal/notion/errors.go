package notion

import (
	"fmt"
)

// エラーコード。HTTP レイヤーではこの値をそのままレスポンスの code に使います。
const (
	CodeInvalidIdentifier = "INVALID_IDENTIFIER"
	CodeExportFailed      = "EXPORT_FAILED"
	CodeEntryNotFound     = "ENTRY_NOT_FOUND"
	CodeNotArchive        = "NOT_ARCHIVE"
)

// Error はエクスポート処理で発生する分類済みのエラーです。
// errors.Is はコードが一致すれば真を返します。
type Error struct {
	Code    string
	Message string
	Err     error
}

var (
	ErrInvalidIdentifier = &Error{Code: CodeInvalidIdentifier, Message: "invalid URL or block id"}
	ErrExportFailed      = &Error{Code: CodeExportFailed, Message: "export task failed"}
	ErrEntryNotFound     = &Error{Code: CodeEntryNotFound, Message: "file not found in archive"}
	ErrNotArchive        = &Error{Code: CodeNotArchive, Message: "export payload is not a zip archive"}
)

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is はコードで比較します。
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

func newError(kind *Error, err error) *Error {
	return &Error{
		Code:    kind.Code,
		Message: kind.Message,
		Err:     err,
	}
}

// StatusError はエクスポートサービスが 2xx 以外を返したことを表します。
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("notion %s %s: unexpected status %d", e.Method, e.Path, e.StatusCode)
	}
	return fmt.Sprintf("notion %s %s: unexpected status %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}
