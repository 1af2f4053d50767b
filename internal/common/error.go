package common

import (
	"errors"
	"fmt"
)

type ErrNo struct {
	ErrCode int    `json:"err_code"`
	ErrMsg  string `json:"err_msg"`
}

const (
	SuccessCode = 0
	ServiceErr  = iota + 10000
	RequestInvalid
	TokenInvalid
	PasswordErr
	UserNotExists
	YamlInvalid
	ParamsInvalid
	RunNotExists
	RunInProgress
	RunStartFail
	GetHistoryFail
	GetHistoryDetailFail
	WebhookInvalid
	PermissionDenied
)

var errorMsg = map[int]string{
	SuccessCode:          "success",
	ServiceErr:           "service error",
	RequestInvalid:       "request invalid",
	TokenInvalid:         "token invalid",
	PasswordErr:          "password error",
	UserNotExists:        "user not exists",
	YamlInvalid:          "yaml invalid",
	ParamsInvalid:        "params invalid",
	RunNotExists:         "run not exists",
	RunInProgress:        "another run is in progress",
	RunStartFail:         "run starts fail",
	GetHistoryFail:       "get history fail",
	GetHistoryDetailFail: "get history detail fail",
	WebhookInvalid:       "webhook invalid",
	PermissionDenied:     "permission denied",
}

func (e ErrNo) Error() string {
	return fmt.Sprintf("err_code=%d, err_msg=%s", e.ErrCode, e.ErrMsg)
}

func (e ErrNo) Is(target error) bool {
	t, ok := target.(ErrNo)
	return ok && t.ErrCode == e.ErrCode
}

func NewErrNo(errCode int) error {
	return ErrNo{
		ErrCode: errCode,
		ErrMsg:  errorMsg[errCode],
	}
}

// WrapErrNo keeps errCode but carries the detail of err in the message.
func WrapErrNo(errCode int, err error) error {
	return ErrNo{
		ErrCode: errCode,
		ErrMsg:  fmt.Sprintf("%s: %v", errorMsg[errCode], err),
	}
}

func ConvertErr(err error) ErrNo {
	e := ErrNo{}
	if errors.As(err, &e) {
		return e
	}
	e = ErrNo{
		ErrCode: ServiceErr,
		ErrMsg:  err.Error(),
	}
	return e
}
