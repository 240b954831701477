package observability

// Attribute keys, span names and metric names shared by every component, so
// logs from the registry, the adapters and the limiter line up.

// --- Provider / model ---

const (
	AttrProvider     = "aimux.provider"
	AttrProviderName = "aimux.provider.name"
	AttrSDKMode      = "aimux.sdk_mode"
	AttrModel        = "aimux.model"
	AttrModelCount   = "aimux.model.count"
	AttrBaseURL      = "aimux.base_url"
	AttrSilent       = "aimux.silent"
	AttrCacheHit     = "aimux.cache.hit"
	AttrCacheKey     = "aimux.cache.key"
	AttrFinishReason = "llm.finish_reason"
)

// --- Token usage ---

const (
	AttrTokensPrompt     = "llm.tokens.prompt"     // #nosec G101 -- LLM tokens, not a credential
	AttrTokensCompletion = "llm.tokens.completion" // #nosec G101 -- LLM tokens, not a credential
	AttrTokensTotal      = "llm.tokens.total"      // #nosec G101 -- LLM tokens, not a credential
)

// --- Resilience ---

const (
	AttrRetryAttempt     = "retry.attempt"
	AttrRetryMaxAttempts = "retry.max_attempts"
	AttrRetryDelay       = "retry.delay"
	AttrRetryRateLimited = "retry.rate_limited"
	AttrLimiterName      = "ratelimit.name"
	AttrLimiterLabel     = "ratelimit.label"
	AttrLimiterWait      = "ratelimit.wait"
	AttrLimiterInWindow  = "ratelimit.in_window"
)

// --- Accounts ---

const (
	AttrAccountID          = "account.id"
	AttrAccountType        = "account.type"
	AttrAccountFingerprint = "account.fingerprint"
	AttrAccountEvent       = "account.event"
)

// --- HTTP ---

const (
	AttrHTTPMethod           = "http.method"
	AttrHTTPStatusCode       = "http.status_code"
	AttrHTTPURL              = "http.url"
	AttrHTTPRequestBodySize  = "http.request.body.size"
	AttrHTTPResponseBodySize = "http.response.body.size"
)

// --- General ---

const (
	AttrError             = "error"
	AttrErrorKind         = "error.kind"
	AttrDuration          = "duration"
	AttrStatus            = "status"
	AttrStatusDescription = "status_description"
)

// --- Span names ---

const (
	SpanChatCompletion = "aimux.chat_completion"
	SpanListModels     = "aimux.list_models"
	SpanRegistration   = "aimux.registration"
)

// --- Metric names ---

const (
	MetricRequestCount     = "aimux.request.count"
	MetricRequestDuration  = "aimux.request.duration"
	MetricRetryCount       = "aimux.retry.count"
	MetricRateLimitWait    = "aimux.ratelimit.wait"
	MetricTokensTotal      = "aimux.tokens.total"
	MetricRegistrationFail = "aimux.registration.failures"
)
