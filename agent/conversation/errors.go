package conversation

import (
	"errors"
	"fmt"

	"github.com/Lynn-1221/Agents/types"
)

// MalformedError is returned by responders when a reply does not have the
// expected structure. Raw carries the reply for diagnosis.
type MalformedError struct {
	Raw string
	Err error
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("malformed reply: %v", e.Err)
}

func (e *MalformedError) Unwrap() error { return e.Err }

// Malformed wraps a parse failure of raw.
func Malformed(raw string, err error) error {
	return &MalformedError{Raw: raw, Err: err}
}

// TurnError 会话因某一轮失败而停止时返回的错误，
// Code 通过 types.Error 暴露，可用 types.IsCode 判断。
type TurnError struct {
	SessionID   string
	Participant string
	Round       int
	// Raw 为 MalformedReply 时最后一次的原始回复
	Raw string
	Err *types.Error
}

func (e *TurnError) Error() string {
	if e.Participant == "" {
		return fmt.Sprintf("session %s round %d: %v", e.SessionID, e.Round, e.Err)
	}
	return fmt.Sprintf("session %s round %d participant %s: %v", e.SessionID, e.Round, e.Participant, e.Err)
}

func (e *TurnError) Unwrap() error { return e.Err }

// Code returns the error code of the failure.
func (e *TurnError) Code() types.ErrorCode { return e.Err.Code }

// AsTurnError finds a *TurnError in err's chain.
func AsTurnError(err error) (*TurnError, bool) {
	var te *TurnError
	if errors.As(err, &te) {
		return te, true
	}
	return nil, false
}
