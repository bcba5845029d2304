package flows

import (
	"context"

	"github.com/MrEthical07/goRotate/internal/metrics"
	"github.com/MrEthical07/goRotate/jwt"
	"github.com/MrEthical07/goRotate/revocation"
)

// ValidateFailureKind classifies access-token validation failures for root-level mapping.
type ValidateFailureKind int

const (
	ValidateFailureNone ValidateFailureKind = iota
	ValidateFailureUnauthorized
	ValidateFailureRevoked
	ValidateFailureIndex
)

// ValidateResult returns either the parsed claims or a classified failure.
type ValidateResult struct {
	Failure ValidateFailureKind
	Err     error
	Claims  *jwt.AccessClaims
}

// ValidateDeps captures access validation dependencies.
type ValidateDeps struct {
	ParseAccess func(string) (*jwt.AccessClaims, error)
	Index       revocation.Index
	Metrics     *metrics.Metrics
}

// RunValidate verifies an access token's signature and claims, then checks both its
// jti and its family against the revocation index.
func RunValidate(ctx context.Context, token string, deps ValidateDeps) ValidateResult {
	res := runValidate(ctx, token, deps)
	if res.Failure == ValidateFailureNone {
		deps.Metrics.Inc(metrics.MetricAccessValidated)
	} else {
		deps.Metrics.Inc(metrics.MetricAccessRejected)
	}
	return res
}

func runValidate(ctx context.Context, token string, deps ValidateDeps) ValidateResult {
	claims, err := deps.ParseAccess(token)
	if err != nil {
		return ValidateResult{Failure: ValidateFailureUnauthorized, Err: err}
	}
	if deps.Index == nil {
		return ValidateResult{Claims: claims}
	}

	for _, id := range [...]string{claims.ID, claims.FamilyID} {
		revoked, err := deps.Index.IsRevoked(ctx, id)
		if err != nil {
			return ValidateResult{Failure: ValidateFailureIndex, Err: err, Claims: claims}
		}
		if revoked {
			return ValidateResult{Failure: ValidateFailureRevoked, Claims: claims}
		}
	}
	return ValidateResult{Claims: claims}
}
