package internal

import (
	"errors"
	"fmt"
)

// 錯誤碼
const (
	CodeMalformedMessage    = "MALFORMED_MESSAGE"
	CodeMatchNotFound       = "MATCH_NOT_FOUND"
	CodeParticipantNotFound = "PARTICIPANT_NOT_FOUND"
	CodeSendFailure         = "SEND_FAILURE"
	CodeStaleWaitingEntry   = "STALE_WAITING_ENTRY"
	CodeMatchExists         = "MATCH_EXISTS"
	CodeInvalidRole         = "INVALID_ROLE"
	CodeIllegalMove         = "ILLEGAL_MOVE"
)

// RelayError 中繼層錯誤
//
// 所有錯誤都只影響單一連接或單一對局，不會讓進程崩潰。
// 比較時只看 Code，所以 errors.Is(Wrap(err, ...), ErrMatchNotFound) 成立。
type RelayError struct {
	Code    string
	Message string
	Err     error
}

func (e *RelayError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *RelayError) Unwrap() error {
	return e.Err
}

// Is 以錯誤碼比較
func (e *RelayError) Is(target error) bool {
	t, ok := target.(*RelayError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

func newRelayError(code, message string) *RelayError {
	return &RelayError{Code: code, Message: message}
}

func wrapRelayError(err error, code, message string) *RelayError {
	return &RelayError{Code: code, Message: message, Err: err}
}

// 預定義錯誤
var (
	ErrMalformedMessage    = newRelayError(CodeMalformedMessage, "malformed message")
	ErrMatchNotFound       = newRelayError(CodeMatchNotFound, "game not found")
	ErrParticipantNotFound = newRelayError(CodeParticipantNotFound, "players not found")
	ErrSendFailure         = newRelayError(CodeSendFailure, "connection is not open")
	ErrStaleWaitingEntry   = newRelayError(CodeStaleWaitingEntry, "waiting player disconnected")
	ErrMatchExists         = newRelayError(CodeMatchExists, "game already exists")
	ErrInvalidRole         = newRelayError(CodeInvalidRole, "invalid player role")
	ErrIllegalMove         = newRelayError(CodeIllegalMove, "illegal move")
)

// ErrorCode 取出錯誤碼，非 RelayError 返回空字串
func ErrorCode(err error) string {
	var re *RelayError
	if errors.As(err, &re) {
		return re.Code
	}
	return ""
}
