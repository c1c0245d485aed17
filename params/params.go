package params

import "time"

const (
	ServerBodyLimit          = 1048576 // 1 MiB
	ServerIdleTimeout        = 30 * time.Second
	ServerReadTimeout        = 10 * time.Second
	ServerWriteTimeout       = 10 * time.Second
	HealthCheckServerAddr    = ":3001"  // health check server address
	CibaKeyPrefix            = "ciba:"  // cache key prefix of ciba request mirrors
	AuthReqIDLength          = 43       // length of generated auth_req_id values
	ClientSecretLength       = 32       // length of generated client secrets
	MaskedSecretPrefixLength = 4        // characters of a secret kept visible in logs
	CibaGrantType            = "urn:openid:params:grant-type:ciba"
	RevokeAllTokensValue     = "all"    // token value that revokes every token of the caller
	CibaCacheRetryDelay      = 50 * time.Millisecond
	CibaDefaultChunkSize     = 500              // expired requests loaded per sweep
	CibaDefaultTickInterval  = 10 * time.Second // sweeper timer period
	CibaDefaultExpiresIn     = 3600             // seconds
	CibaDefaultPollInterval  = 5                // seconds
	CibaDefaultCacheGrace    = 60               // seconds a mirror outlives its expiration date
	CallbackDefaultTimeout   = 10 * time.Second
	TokenCleanupInterval     = 10 * time.Minute
	TokenCleanupBatchSize    = 1000
	RevokeAnyTokenScope      = "revoke_any_token"
)
