// Package errors provides structured error handling for AmanRAG.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: Storage errors (index, chunk store, cache)
//   - 3XX: Remote service errors (embedding, generation, scoring)
//   - 4XX: Validation errors
//   - 5XX: Retrieval pipeline errors
package errors

// Category classifies an error by the layer that raised it.
type Category string

const (
	CategoryConfig     Category = "CONFIG"
	CategoryStorage    Category = "STORAGE"
	CategoryRemote     Category = "REMOTE"
	CategoryValidation Category = "VALIDATION"
	CategoryPipeline   Category = "PIPELINE"
)

// Severity describes how the caller should react.
type Severity string

const (
	// SeverityFatal aborts the current command.
	SeverityFatal Severity = "FATAL"
	// SeverityError fails one operation.
	SeverityError Severity = "ERROR"
	// SeverityWarning means the request continues with reduced quality.
	SeverityWarning Severity = "WARNING"
)

const (
	// Config errors (100-199)
	ErrCodeConfigNotFound = "ERR_101_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid  = "ERR_102_CONFIG_INVALID"

	// Storage errors (200-299)
	ErrCodeIndexUnavailable = "ERR_201_INDEX_UNAVAILABLE"
	ErrCodeCorruptIndex     = "ERR_202_CORRUPT_INDEX"
	ErrCodeChunkStore       = "ERR_203_CHUNK_STORE"
	ErrCodeCacheStore       = "ERR_204_CACHE_STORE"
	ErrCodeDataDirLocked    = "ERR_205_DATA_DIR_LOCKED"

	// Remote service errors (300-399)
	ErrCodeNetworkTimeout        = "ERR_301_NETWORK_TIMEOUT"
	ErrCodeNetworkUnavailable    = "ERR_302_NETWORK_UNAVAILABLE"
	ErrCodeEmbeddingUnavailable  = "ERR_303_EMBEDDING_UNAVAILABLE"
	ErrCodeScoringUnavailable    = "ERR_304_SCORING_UNAVAILABLE"
	ErrCodeGenerationUnavailable = "ERR_305_GENERATION_UNAVAILABLE"
	ErrCodeRemoteRejected        = "ERR_306_REMOTE_REJECTED"

	// Validation errors (400-499)
	ErrCodeInvalidInput      = "ERR_401_INVALID_INPUT"
	ErrCodeDimensionMismatch = "ERR_402_DIMENSION_MISMATCH"
	ErrCodeQueryEmpty        = "ERR_404_QUERY_EMPTY"
	ErrCodeUnknownPath       = "ERR_407_UNKNOWN_PATH"

	// Pipeline errors (500-599)
	ErrCodeInternal           = "ERR_501_INTERNAL"
	ErrCodeRecallFailed       = "ERR_506_RECALL_FAILED"
	ErrCodeRerankFailed       = "ERR_507_RERANK_FAILED"
	ErrCodeParentLookupFailed = "ERR_508_PARENT_LOOKUP_FAILED"
	ErrCodeNoCandidates       = "ERR_509_NO_CANDIDATES"
	ErrCodeTransformFailed    = "ERR_510_TRANSFORM_FAILED"
)

// categoryFromCode reads the hundreds digit of the code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryPipeline
	}
	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryStorage
	case '3':
		return CategoryRemote
	case '4':
		return CategoryValidation
	default:
		return CategoryPipeline
	}
}

func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeCorruptIndex, ErrCodeConfigInvalid:
		return SeverityFatal
	case ErrCodeRecallFailed, ErrCodeRerankFailed, ErrCodeTransformFailed, ErrCodeNoCandidates:
		return SeverityWarning
	}
	if isRetryableCode(code) {
		return SeverityWarning
	}
	return SeverityError
}

// isRetryableCode reports codes worth another attempt against the same service.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeNetworkTimeout, ErrCodeNetworkUnavailable,
		ErrCodeEmbeddingUnavailable, ErrCodeScoringUnavailable, ErrCodeGenerationUnavailable:
		return true
	default:
		return false
	}
}
