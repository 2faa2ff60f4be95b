package xerr

// Unified business error codes.
const (
	SuccessCode = 20000 // generic success

	// --- client request errors (400xx) ---
	InvalidParamsCode       = 40000 // invalid request parameters
	ValidationFailedCode    = 40001 // parameter validation failed
	FileTooLargeCode        = 40003 // file exceeds configured maximum
	FileNameInvalidCode     = 40004 // filename invalid
	ChunkIndexInvalidCode   = 40005 // chunk index out of range
	ChunkTooLargeCode       = 40006 // chunk payload exceeds expected size
	SessionNotAcceptingCode = 40007 // session status does not accept the operation
	SessionExpiredCode      = 40010 // upload session past its deadline

	// --- authentication & authorization (401xx/403xx) ---
	UnauthorizedCode = 40100 // missing or unusable credentials
	TokenInvalidCode = 40101 // token invalid or expired
	ForbiddenCode    = 40300 // caller does not own the resource

	// --- resource not found (404xx) ---
	NotFoundCode              = 40400 // generic not found
	FileNotFoundCode          = 40402 // file record not found
	UploadSessionNotFoundCode = 40406 // upload session not found

	// --- content rejected (422xx) ---
	SecurityRejectedCode = 42200 // content failed security validation

	// --- rate / quota (429xx) ---
	TooManySessionsCode = 42900 // per-user active session cap reached

	// --- server internal errors (500xx) ---
	InternalServerErrorCode = 50000 // generic internal error
	DatabaseErrorCode       = 50001 // database operation failed
	StorageErrorCode        = 50002 // blob storage operation failed
	MQErrorCode             = 50003 // message queue operation failed
	CorruptStateCode        = 50010 // session invariant violated
	MissingChunkCode        = 50011 // staging disagrees with chunk bookkeeping
	RelayFailedCode         = 50012 // remote relay exhausted its retries
)
