package model

// Envelope wraps admin console responses (login, profile, dispatch logs, summary).
type Envelope struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
	Data any    `json:"data,omitempty"`
}

const (
	SuccessCode      = "000000"
	ErrorCode        = "999999"
	UnauthorizedCode = "401000"
)

func Success(msg string, data any) Envelope {
	return Envelope{Code: SuccessCode, Msg: msg, Data: data}
}

func Error(msg string) Envelope {
	return Envelope{Code: ErrorCode, Msg: msg}
}

// Unauthorized is returned for a missing, expired or forged admin token.
func Unauthorized(msg string) Envelope {
	return Envelope{Code: UnauthorizedCode, Msg: msg}
}
