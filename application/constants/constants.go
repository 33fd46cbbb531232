package constants

// These values will be injected at build time, DO NOT EDIT.

// BackendVersion 当前后端版本号
var BackendVersion = "1.0.0"

// LastCommit 最后commit id
var LastCommit = "000000"

const (
	APIPrefix      = "/api/v1"
	CrHeaderPrefix = "X-Cr-"
	// CorrelationHeader carries the correlation ID in and out of a request.
	CorrelationHeader = CrHeaderPrefix + "Correlation-Id"
)
