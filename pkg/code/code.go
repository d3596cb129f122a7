// Package code numeric result codes carried by gateway replies
// Package code 网关响应携带的数字结果码
package code

import (
	"fmt"
	"net/http"
	"strings"
)

// Code result code with bilingual message
// Code 带双语消息的结果码
type Code struct {
	code    int
	status  bool
	Lang    lang
	data    any
	details []string
}

var codes = map[int]string{}

// NewError registers a failure code, panicking on duplicates
// NewError 注册失败结果码，重复时 panic
func NewError(code int, l lang) *Code {
	register(code, l)
	return &Code{code: code, status: false, Lang: l}
}

// NewSuss registers a success code
// NewSuss 注册成功结果码
func NewSuss(code int, l lang) *Code {
	register(code, l)
	return &Code{code: code, status: true, Lang: l}
}

func register(code int, l lang) {
	if _, ok := codes[code]; ok {
		panic(fmt.Sprintf("code %d already registered", code))
	}
	codes[code] = l.GetMessage()
}

// Error implements error
func (e *Code) Error() string {
	if len(e.details) > 0 {
		return e.Msg() + ": " + strings.Join(e.details, ",")
	}
	return e.Msg()
}

// Code numeric value
func (e *Code) Code() int { return e.code }

// Status true for success codes
func (e *Code) Status() bool { return e.status }

// Msg message in the configured language
func (e *Code) Msg() string { return e.Lang.GetMessage() }

// StatusCode HTTP status used when the code is served over plain HTTP
// StatusCode 通过 HTTP 返回时使用的状态码
func (e *Code) StatusCode() int {
	switch {
	case e.status:
		return http.StatusOK
	case e.code == ErrorNotFoundAPI.code:
		return http.StatusNotFound
	case e.code >= 400 && e.code < 600 && http.StatusText(e.code) != "":
		return e.code
	default:
		return http.StatusInternalServerError
	}
}

// HaveDetails reports whether details are attached
func (e *Code) HaveDetails() bool { return len(e.details) > 0 }

// Details extra error details
func (e *Code) Details() []string { return e.details }

// Data attached payload
func (e *Code) Data() any { return e.data }

// HaveData reports whether a payload is attached
func (e *Code) HaveData() bool { return e.data != nil }

// WithData returns a copy of e carrying data
// WithData 返回携带数据的副本，不修改已注册的结果码
func (e *Code) WithData(data any) *Code {
	c := *e
	c.data = data
	return &c
}

// WithDetails returns a copy of e carrying details
// WithDetails 返回携带详情的副本
func (e *Code) WithDetails(details ...string) *Code {
	c := *e
	c.details = append([]string(nil), details...)
	return &c
}

// Is matches codes by numeric value so wrapped copies compare equal
func (e *Code) Is(target error) bool {
	t, ok := target.(*Code)
	return ok && t.code == e.code
}

// Lookup returns the registered message of a numeric code
func Lookup(code int) (string, bool) {
	msg, ok := codes[code]
	return msg, ok
}
