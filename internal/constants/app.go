package constants

import (
	"time"
)

// Block planning limits for block blob uploads and ranged downloads
const (
	// MaxBlockSize - absolute maximum size of a single block (4 MiB)
	MaxBlockSize = 4 * 1024 * 1024

	// MaxBlockCount - a blob may not be assembled from this many blocks or more
	MaxBlockCount = 50000

	// BlockGranularity - chunk sizes are always a multiple of this (1 MiB)
	BlockGranularity = 1 * 1024 * 1024

	// MinBlockSize - smallest chunk the planner will choose (1 MiB)
	MinBlockSize = BlockGranularity
)

// S3 multipart limits
const (
	// MinS3PartSize - AWS S3 minimum part size (5 MiB, except last part)
	MinS3PartSize = 5 * 1024 * 1024

	// MaxS3PartSize - AWS S3 maximum part size (5 GiB)
	MaxS3PartSize = 5 * 1024 * 1024 * 1024

	// MaxS3PartCount - AWS S3 maximum number of parts per upload
	MaxS3PartCount = 10000

	// MaxBufferedPartSize - largest part staged from memory (512 MiB).
	// 10,000 such parts cover the 5 TiB S3 object limit.
	MaxBufferedPartSize = 512 * 1024 * 1024
)

// Transfer concurrency defaults
const (
	// DefaultParallelTransferThreadCount - workers per transfer job
	DefaultParallelTransferThreadCount = 10

	// DefaultNumberOfConcurrentTransfers - jobs allowed to run at the same time
	DefaultNumberOfConcurrentTransfers = 2

	// AbsoluteMaxThreads - absolute maximum workers allowed per job
	AbsoluteMaxThreads = 64

	// MaxConcurrentTransfers - absolute maximum concurrent jobs
	MaxConcurrentTransfers = 16
)

// Retry configuration
const (
	// MaxRetries - maximum number of retries for transient errors
	MaxRetries = 10

	// RetryInitialDelay - initial delay before first retry (200ms)
	RetryInitialDelay = 200 * time.Millisecond

	// RetryMaxDelay - maximum delay between retries (15s)
	// Exponential backoff with jitter caps at this value
	RetryMaxDelay = 15 * time.Second

	// CredentialRetryDelay - pause before retrying after a credential refresh
	CredentialRetryDelay = 1 * time.Second
)

// Speed tracking
const (
	// SpeedWindowCapacity - number of samples held by the speed tracker
	SpeedWindowCapacity = 100

	// SpeedMinSamples - samples required before a rate is reported
	SpeedMinSamples = 3
)

// I/O buffers
const (
	// DownloadReadBufferSize - download bodies are consumed in reads of this size,
	// with a cancellation check between reads (64 KiB)
	DownloadReadBufferSize = 64 * 1024
)

// Credential refresh
const (
	// SASRefreshBuffer - a cached SAS token is refreshed this long before it expires
	SASRefreshBuffer = 2 * time.Minute

	// SASEndpointTimeout - timeout for one SAS token endpoint call
	SASEndpointTimeout = 30 * time.Second
)

// Disk space safety margin
const (
	// DiskSpaceSafetyMargin - multiplier applied to the download size (15% extra)
	DiskSpaceSafetyMargin = 1.15
)

// Event System
const (
	// EventBusDefaultBuffer - default buffer size for event channels (1000)
	EventBusDefaultBuffer = 1000

	// EventBusMaxBuffer - maximum buffer size for high-throughput scenarios (5000)
	EventBusMaxBuffer = 5000
)

// UI Updates
const (
	// ProgressRefreshRate - refresh interval for progress bars (300ms)
	ProgressRefreshRate = 300 * time.Millisecond
)

// Per-operation timeouts
const (
	// BlockOperationTimeout - timeout for staging or downloading a single block
	BlockOperationTimeout = 10 * time.Minute

	// CommitTimeout - timeout for the final block list commit
	CommitTimeout = 5 * time.Minute
)

// HTTP Client Timeouts
const (
	// HTTPIdleConnTimeout - how long to keep idle connections open (90 seconds)
	HTTPIdleConnTimeout = 90 * time.Second

	// HTTPTLSHandshakeTimeout - timeout for TLS handshake (60 seconds)
	HTTPTLSHandshakeTimeout = 60 * time.Second

	// HTTPExpectContinueTimeout - timeout for 100-continue response (1 second)
	HTTPExpectContinueTimeout = 1 * time.Second

	// HTTPDialTimeout - timeout for establishing connection (30 seconds)
	HTTPDialTimeout = 30 * time.Second

	// HTTPDialKeepAlive - keep-alive period for dialer (30 seconds)
	HTTPDialKeepAlive = 30 * time.Second
)

// Blob metadata keys written on encrypted uploads
const (
	MetadataEncryption = "blobxferenc"
	MetadataIV         = "blobxferiv"

	// EncryptionAlgorithm - value stored under MetadataEncryption
	EncryptionAlgorithm = "aes-256-ctr"
)
