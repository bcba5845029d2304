package goRotate

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/rs/zerolog"

	internalaudit "github.com/MrEthical07/goRotate/internal/audit"
	"github.com/MrEthical07/goRotate/internal/flows"
	internalmetrics "github.com/MrEthical07/goRotate/internal/metrics"
	"github.com/MrEthical07/goRotate/internal/rate"
	"github.com/MrEthical07/goRotate/permission"
	"github.com/MrEthical07/goRotate/session"
)

// RoleSource resolves the roles currently assigned to a principal. It is consulted on
// every login and every rotation, so role changes take effect at the next refresh.
type RoleSource interface {
	RolesOf(ctx context.Context, principal string) ([]string, error)
}

// RoleSourceFunc adapts a function to [RoleSource].
type RoleSourceFunc func(ctx context.Context, principal string) ([]string, error)

// RolesOf calls f.
func (f RoleSourceFunc) RolesOf(ctx context.Context, principal string) ([]string, error) {
	return f(ctx, principal)
}

// StaticRoles is a fixed principal to roles mapping. Unknown principals have no roles.
type StaticRoles map[string][]string

// RolesOf returns a copy of the principal's roles.
func (s StaticRoles) RolesOf(_ context.Context, principal string) ([]string, error) {
	return append([]string(nil), s[principal]...), nil
}

// IssuedPair is an access/refresh credential pair. RefreshToken is opaque; Record is
// the persisted state backing it.
type IssuedPair = flows.IssuedPair

// SessionInfo is one live session as tracked by the session registry.
type SessionInfo = session.Entry

// LoginAttempt identifies the caller of one login attempt. Which fields form the
// limiter key is decided by [RateLimitConfig.KeyStrategy].
type LoginAttempt struct {
	Origin    string
	Principal string
}

// Verdict is the outcome of [Engine.GateLoginAttempt].
type Verdict = rate.Verdict

// RateLimitedError carries the retry-after of a blocking [Verdict].
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("%v: retry after %ds", ErrRateLimited, e.RetryAfterSeconds())
}

// Unwrap returns [ErrRateLimited].
func (e *RateLimitedError) Unwrap() error { return ErrRateLimited }

// RetryAfterSeconds rounds RetryAfter up to whole seconds, minimum one.
func (e *RateLimitedError) RetryAfterSeconds() int {
	return rate.Block(e.RetryAfter).RetryAfterSeconds()
}

// VerdictError returns nil for an admitting verdict and a [*RateLimitedError] otherwise.
func VerdictError(v Verdict) error {
	if v.Allowed {
		return nil
	}
	return &RateLimitedError{RetryAfter: v.RetryAfter}
}

// RejectReason classifies a client-facing rotation rejection.
type RejectReason uint8

const (
	// RejectUnknownToken means the presented token has no record.
	RejectUnknownToken RejectReason = iota + 1
	// RejectExpired means the presented token is past its expiry.
	RejectExpired
	// RejectReuseDetected means the token was already consumed and its family is now revoked.
	RejectReuseDetected
)

// String returns the reason code.
func (r RejectReason) String() string {
	switch r {
	case RejectUnknownToken:
		return "unknown_token"
	case RejectExpired:
		return "expired"
	case RejectReuseDetected:
		return "reuse_detected"
	default:
		return "unknown"
	}
}

// Rejection is a client-facing rotation rejection. It carries enough identifiers to
// build a precise response or audit entry, and unwraps to [ErrUnknownToken],
// [ErrExpired] or [ErrReuseDetected].
type Rejection struct {
	Reason    RejectReason
	TokenID   string
	FamilyID  string
	Principal string
}

func (r *Rejection) Error() string {
	if r.FamilyID != "" {
		return fmt.Sprintf("%v (family %s)", r.Unwrap(), r.FamilyID)
	}
	return r.Unwrap().Error()
}

// Unwrap maps the reason to its sentinel.
func (r *Rejection) Unwrap() error {
	switch r.Reason {
	case RejectUnknownToken:
		return ErrUnknownToken
	case RejectExpired:
		return ErrExpired
	case RejectReuseDetected:
		return ErrReuseDetected
	default:
		return ErrUnauthorized
	}
}

// RotationOutcome is the result of [Engine.Rotate]: exactly one of Pair and Rejected
// is set.
type RotationOutcome struct {
	Pair     *IssuedPair
	Rejected *Rejection
}

// OK reports whether a new pair was issued.
func (o RotationOutcome) OK() bool {
	return o.Pair != nil
}

// Err returns the rejection as an error, or nil.
func (o RotationOutcome) Err() error {
	if o.Rejected == nil {
		return nil
	}
	return o.Rejected
}

// AuthResult is returned by [Engine.ValidateAccess].
type AuthResult struct {
	Principal   string
	FamilyID    string
	TokenID     string
	ExpiresAt   time.Time
	Permissions permission.Set
}

// Can reports whether every perm is present in the token's permission set.
func (r *AuthResult) Can(perms ...string) bool {
	return r != nil && r.Permissions.HasAll(perms...)
}

// SecurityReport is a read-only snapshot of the engine's security posture, returned
// by [Engine.SecurityReport].
type SecurityReport struct {
	SigningAlgorithm     string
	AccessTTL            time.Duration
	RefreshTTL           time.Duration
	MaxSessions          int
	OverflowPolicy       string
	RateLimitMaxAttempts int
	RateLimitWindow      time.Duration
	RateLimitBlock       time.Duration
	RateLimitKeyStrategy string
	RateLimitBackend     string
	StoreBackend         string
	RevocationIndex      bool
	SweeperEnabled       bool
	SweepRetention       time.Duration
	RegisteredRoles      int
	KnownPermissions     int
	AuditEnabled         bool
	AuditDropped         uint64
}

// AuditEvent is a structured audit record emitted by the engine.
type AuditEvent = internalaudit.Event

// AuditSink receives [AuditEvent] values from the engine's audit dispatcher.
type AuditSink = internalaudit.Sink

// NoOpSink is an [AuditSink] that silently discards all events.
type NoOpSink = internalaudit.NoOpSink

// ChannelSink is a buffered channel-based [AuditSink].
type ChannelSink = internalaudit.ChannelSink

// JSONWriterSink is an [AuditSink] that writes JSON-encoded events to an [io.Writer].
type JSONWriterSink = internalaudit.JSONWriterSink

// MultiSink fans one event out to several sinks.
type MultiSink = internalaudit.MultiSink

// AMQPPublisher is the subset of *amqp091.Channel used by [NewAMQPSink].
type AMQPPublisher = internalaudit.Publisher

// LogSink writes events through a zerolog logger.
type LogSink = internalaudit.LogSink

// SentrySink reports reuse detections, and any other listed event types, to Sentry.
type SentrySink = internalaudit.SentrySink

// AMQPSink publishes each event as a persistent JSON message.
type AMQPSink = internalaudit.AMQPSink

// NewLogSink returns a [LogSink] writing through logger.
func NewLogSink(logger zerolog.Logger) *LogSink {
	return internalaudit.NewLogSink(logger)
}

// NewSentrySink captures through hub, or through the current global hub when nil.
// Event types listed in also are captured in addition to reuse detections.
func NewSentrySink(hub *sentry.Hub, also ...string) *SentrySink {
	return internalaudit.NewSentrySink(hub, also...)
}

// NewAMQPSink publishes to exchange with routingKey. An empty exchange with the queue
// name as routing key uses the default exchange.
func NewAMQPSink(publisher AMQPPublisher, exchange, routingKey string) *AMQPSink {
	return internalaudit.NewAMQPSink(publisher, exchange, routingKey)
}

// NewChannelSink creates a [ChannelSink] with the given buffer capacity.
func NewChannelSink(buffer int) *ChannelSink {
	return internalaudit.NewChannelSink(buffer)
}

// NewJSONWriterSink creates a [JSONWriterSink] that writes to w.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return internalaudit.NewJSONWriterSink(w)
}

// Audit event types.
const (
	EventLoginIssued          = internalaudit.EventLoginIssued
	EventLoginRateLimited     = internalaudit.EventLoginRateLimited
	EventRefreshRotated       = internalaudit.EventRefreshRotated
	EventRefreshRejected      = internalaudit.EventRefreshRejected
	EventRefreshReuseDetected = internalaudit.EventRefreshReuseDetected
	EventSessionEvicted       = internalaudit.EventSessionEvicted
	EventSessionRevoked       = internalaudit.EventSessionRevoked
	EventSessionsRevokedAll   = internalaudit.EventSessionsRevokedAll
	EventSweepCompleted       = internalaudit.EventSweepCompleted
)

// MetricID identifies a specific counter or histogram in the in-process metrics system.
type MetricID = internalmetrics.MetricID

const (
	MetricLoginIssued          = internalmetrics.MetricLoginIssued
	MetricLoginRejected        = internalmetrics.MetricLoginRejected
	MetricLoginRateLimited     = internalmetrics.MetricLoginRateLimited
	MetricRefreshSuccess       = internalmetrics.MetricRefreshSuccess
	MetricRefreshFailure       = internalmetrics.MetricRefreshFailure
	MetricRefreshUnknownToken  = internalmetrics.MetricRefreshUnknownToken
	MetricRefreshExpired       = internalmetrics.MetricRefreshExpired
	MetricRefreshReuseDetected = internalmetrics.MetricRefreshReuseDetected
	MetricRefreshConsumeRace   = internalmetrics.MetricRefreshConsumeRace
	MetricFamilyRevoked        = internalmetrics.MetricFamilyRevoked
	MetricSessionCreated       = internalmetrics.MetricSessionCreated
	MetricSessionEvicted       = internalmetrics.MetricSessionEvicted
	MetricSessionRevoked       = internalmetrics.MetricSessionRevoked
	MetricLogoutAll            = internalmetrics.MetricLogoutAll
	MetricAccessValidated      = internalmetrics.MetricAccessValidated
	MetricAccessRejected       = internalmetrics.MetricAccessRejected
	MetricIssuanceFailed       = internalmetrics.MetricIssuanceFailed
	MetricSweepRecordsDeleted  = internalmetrics.MetricSweepRecordsDeleted
	MetricSweepFailure         = internalmetrics.MetricSweepFailure
	MetricRotateLatency        = internalmetrics.MetricRotateLatency

	metricIDCount = internalmetrics.Count
)

// Metrics holds atomic counters and the optional rotate-latency histogram.
type Metrics = internalmetrics.Metrics

// MetricsSnapshot is a point-in-time copy of all metrics.
type MetricsSnapshot = internalmetrics.Snapshot

// NewMetrics creates a [Metrics] instance. When Enabled is false every operation is a no-op.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return internalmetrics.New(internalmetrics.Config{
		Enabled:                 cfg.Enabled,
		EnableLatencyHistograms: cfg.EnableLatencyHistograms,
	})
}
