package serializer

// Response 基础序列化器
type Response struct {
	Code          int         `json:"code"`
	Data          interface{} `json:"data,omitempty"`
	Msg           string      `json:"msg"`
	Error         string      `json:"error,omitempty"`
	CorrelationID string      `json:"correlation_id,omitempty"`
}

// NewResponse wraps data in a successful response.
func NewResponse(data interface{}) Response {
	return Response{Data: data}
}
