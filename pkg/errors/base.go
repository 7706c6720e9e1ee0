package errors

import (
	"net/http"

	"google.golang.org/grpc/codes"
)

// OK represents a successful operation.
var OK = Register(&Errno{
	Code:     0,
	HTTP:     http.StatusOK,
	GRPCCode: codes.OK,
	Message:  "Success",
})

// Common errors shared by every surface.
var (
	// ErrBadRequest indicates a malformed request.
	ErrBadRequest = Register(&Errno{
		Code:     MakeCode(ServiceCommon, CategoryRequest, 0),
		HTTP:     http.StatusBadRequest,
		GRPCCode: codes.InvalidArgument,
		Message:  "Bad request",
	})

	// ErrInvalidParam indicates an invalid parameter.
	ErrInvalidParam = Register(&Errno{
		Code:     MakeCode(ServiceCommon, CategoryRequest, 1),
		HTTP:     http.StatusBadRequest,
		GRPCCode: codes.InvalidArgument,
		Message:  "Invalid parameter",
	})

	// ErrValidationFailed indicates request validation failure.
	ErrValidationFailed = Register(&Errno{
		Code:     MakeCode(ServiceCommon, CategoryRequest, 2),
		HTTP:     http.StatusBadRequest,
		GRPCCode: codes.InvalidArgument,
		Message:  "Validation failed",
	})

	// ErrNotFound indicates the requested resource does not exist.
	ErrNotFound = Register(&Errno{
		Code:     MakeCode(ServiceCommon, CategoryResource, 0),
		HTTP:     http.StatusNotFound,
		GRPCCode: codes.NotFound,
		Message:  "Resource not found",
	})

	// ErrInternal indicates an internal server error.
	ErrInternal = Register(&Errno{
		Code:     MakeCode(ServiceCommon, CategoryInternal, 0),
		HTTP:     http.StatusInternalServerError,
		GRPCCode: codes.Internal,
		Message:  "Internal server error",
	})

	// ErrServiceUnavailable indicates a dependency is unavailable.
	ErrServiceUnavailable = Register(&Errno{
		Code:     MakeCode(ServiceCommon, CategoryNetwork, 0),
		HTTP:     http.StatusServiceUnavailable,
		GRPCCode: codes.Unavailable,
		Message:  "Service unavailable",
	})

	// ErrTimeout indicates an upstream call exceeded its deadline.
	ErrTimeout = Register(&Errno{
		Code:     MakeCode(ServiceCommon, CategoryTimeout, 0),
		HTTP:     http.StatusGatewayTimeout,
		GRPCCode: codes.DeadlineExceeded,
		Message:  "Request timeout",
	})

	// ErrConfigInvalid indicates an invalid configuration.
	ErrConfigInvalid = Register(&Errno{
		Code:     MakeCode(ServiceCommon, CategoryConfig, 0),
		HTTP:     http.StatusInternalServerError,
		GRPCCode: codes.Internal,
		Message:  "Invalid configuration",
	})
)

// RAG query service errors.
//
// Admission errors (rate limit, token budget) are raised before any
// retrieval or generation work and never consume budget. Processing
// errors (retrieval, generation) identify which pipeline step failed so
// callers can distinguish "no answer possible" from "infrastructure
// failed".
var (
	// ErrInvalidQuery indicates a malformed query request, such as an
	// empty query or an out-of-range top_k. Rejected before admission,
	// with no side effects.
	ErrInvalidQuery = Register(&Errno{
		Code:     MakeCode(ServiceRAG, CategoryRequest, 0),
		HTTP:     http.StatusBadRequest,
		GRPCCode: codes.InvalidArgument,
		Message:  "Invalid query request",
	})

	// ErrWorkspaceNotFound indicates an unknown workspace.
	ErrWorkspaceNotFound = Register(&Errno{
		Code:     MakeCode(ServiceRAG, CategoryResource, 0),
		HTTP:     http.StatusNotFound,
		GRPCCode: codes.NotFound,
		Message:  "Workspace not found",
	})

	// ErrRateLimitExceeded indicates a sliding-window rate limit was hit.
	// The response carries limit, remaining and retry_after details.
	ErrRateLimitExceeded = Register(&Errno{
		Code:     MakeCode(ServiceRAG, CategoryRateLimit, 0),
		HTTP:     http.StatusTooManyRequests,
		GRPCCode: codes.ResourceExhausted,
		Message:  "Rate limit exceeded",
	})

	// ErrTokenBudgetExceeded indicates the workspace daily or monthly
	// token budget is exhausted.
	ErrTokenBudgetExceeded = Register(&Errno{
		Code:     MakeCode(ServiceRAG, CategoryRateLimit, 1),
		HTTP:     http.StatusTooManyRequests,
		GRPCCode: codes.ResourceExhausted,
		Message:  "Token budget exceeded",
	})

	// ErrEmbeddingFailed indicates the embedding provider failed.
	ErrEmbeddingFailed = Register(&Errno{
		Code:     MakeCode(ServiceRAG, CategoryInternal, 0),
		HTTP:     http.StatusInternalServerError,
		GRPCCode: codes.Internal,
		Message:  "Embedding generation failed",
	})

	// ErrRetrievalFailed indicates vector search failed or timed out.
	ErrRetrievalFailed = Register(&Errno{
		Code:     MakeCode(ServiceRAG, CategoryInternal, 1),
		HTTP:     http.StatusInternalServerError,
		GRPCCode: codes.Internal,
		Message:  "Document retrieval failed",
	})

	// ErrGenerationFailed indicates the LLM call failed or timed out.
	// Never retried automatically, a retry could duplicate token cost.
	ErrGenerationFailed = Register(&Errno{
		Code:     MakeCode(ServiceRAG, CategoryInternal, 2),
		HTTP:     http.StatusInternalServerError,
		GRPCCode: codes.Internal,
		Message:  "Answer generation failed",
	})

	// ErrIndexingFailed indicates document chunk ingestion failed.
	ErrIndexingFailed = Register(&Errno{
		Code:     MakeCode(ServiceRAG, CategoryInternal, 3),
		HTTP:     http.StatusInternalServerError,
		GRPCCode: codes.Internal,
		Message:  "Document indexing failed",
	})

	// ErrCacheUnavailable indicates the result cache backend is down.
	// Reads fail open to a miss; this code is only surfaced by
	// administrative cache operations.
	ErrCacheUnavailable = Register(&Errno{
		Code:     MakeCode(ServiceRAG, CategoryCache, 0),
		HTTP:     http.StatusServiceUnavailable,
		GRPCCode: codes.Unavailable,
		Message:  "Result cache unavailable",
	})

	// ErrVectorStoreUnavailable indicates the vector store is unreachable.
	ErrVectorStoreUnavailable = Register(&Errno{
		Code:     MakeCode(ServiceRAG, CategoryNetwork, 0),
		HTTP:     http.StatusServiceUnavailable,
		GRPCCode: codes.Unavailable,
		Message:  "Vector store unavailable",
	})
)

// IsAdmissionError reports whether err is a pre-flight admission
// rejection (rate limit or token budget). Admission errors are
// deterministic and side-effect free, callers may retry once the
// underlying window or quota changes.
func IsAdmissionError(err error) bool {
	code := GetCode(err)
	return code == ErrRateLimitExceeded.Code || code == ErrTokenBudgetExceeded.Code
}

// IsProcessingError reports whether err occurred during retrieval or
// generation, after admission succeeded.
func IsProcessingError(err error) bool {
	switch GetCode(err) {
	case ErrEmbeddingFailed.Code, ErrRetrievalFailed.Code, ErrGenerationFailed.Code:
		return true
	}
	return false
}
