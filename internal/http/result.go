package httpapi

// Result 统一响应信封
// - code: 2000 成功，其它为错误码
// - type: 'success' | 'error'
// - message: string
// - result: any
type Result[T any] struct {
	Code    int    `json:"code"`
	Type    string `json:"type"`
	Message string `json:"message"`
	Result  T      `json:"result"`
}

const (
	ResultSuccess = 2000
	ResultError   = -1

	ResultValidation = 4000
	ResultForbidden  = 4030
	ResultNotFound   = 4040
	ResultConflict   = 4090
	ResultOutOfRange = 4220
)

func Ok[T any](result T) Result[T] {
	return Result[T]{Code: ResultSuccess, Type: "success", Message: "ok", Result: result}
}

func Fail(message string) Result[any] {
	return Result[any]{Code: ResultError, Type: "error", Message: message, Result: nil}
}

// FailWith 带错误码和附加数据的失败响应
func FailWith(code int, message string, result any) Result[any] {
	return Result[any]{Code: code, Type: "error", Message: message, Result: result}
}

// PageResult 分页列表
type PageResult[T any] struct {
	Items []T `json:"items"`
	Total int `json:"total"`
	Page  int `json:"page"`
	Size  int `json:"size"`
}
