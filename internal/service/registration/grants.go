package registration

import (
	"context"
	"time"

	"github.com/ignite/onboarding/internal/domain"
	"github.com/ignite/onboarding/internal/pkg/httpretry"
	"github.com/ignite/onboarding/internal/pkg/logger"
)

// GrantPair holds the two upload grants of one registration.
type GrantPair struct {
	Ground domain.UploadGrant
	Aerial domain.UploadGrant
}

// Keys returns the resource keys in slot order.
func (p GrantPair) Keys() []string {
	return []string{p.Ground.ResourceKey, p.Aerial.ResourceKey}
}

// GrantIssuer requests upload grants for an account's asset slots. Gateway
// calls are retried with backoff; keys are derived from the account id so a
// retry targets the same object.
type GrantIssuer struct {
	storage     StorageGateway
	ttl         time.Duration
	maxAttempts int
	backoff     httpretry.Backoff
	stepTimeout time.Duration
}

// NewGrantIssuer creates an issuer. maxAttempts counts the first call.
func NewGrantIssuer(storage StorageGateway, ttl time.Duration, maxAttempts int, backoff httpretry.Backoff, stepTimeout time.Duration) *GrantIssuer {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	return &GrantIssuer{
		storage:     storage,
		ttl:         ttl,
		maxAttempts: maxAttempts,
		backoff:     backoff,
		stepTimeout: stepTimeout,
	}
}

// Issue returns a grant for both slots or a GRANTS_ISSUED stage error. When
// a later slot fails, grants already issued are revoked before returning.
func (g *GrantIssuer) Issue(ctx context.Context, accountID int64, contentTypes map[domain.AssetSlot]string) (GrantPair, error) {
	var pair GrantPair
	var issued []string
	for _, slot := range domain.AssetSlots {
		grant, err := g.issueSlot(ctx, accountID, slot, contentTypes[slot])
		if err != nil {
			g.revoke(ctx, accountID, issued)
			return GrantPair{}, stageErr(StageGrantsIssued, ErrGrantIssuance, err)
		}
		issued = append(issued, grant.ResourceKey)
		switch slot {
		case domain.SlotGround:
			pair.Ground = grant
		case domain.SlotAerial:
			pair.Aerial = grant
		}
	}
	return pair, nil
}

func (g *GrantIssuer) issueSlot(ctx context.Context, accountID int64, slot domain.AssetSlot, contentType string) (domain.UploadGrant, error) {
	key := domain.ResourceKey(accountID, slot)

	var lastErr error
	for attempt := 1; attempt <= g.maxAttempts; attempt++ {
		callCtx, cancel := withStepTimeout(ctx, g.stepTimeout)
		url, expiresAt, err := g.storage.IssuePutGrant(callCtx, key, contentType, g.ttl)
		cancel()
		if err == nil {
			return domain.UploadGrant{
				Slot:        slot,
				ResourceKey: key,
				ContentType: contentType,
				SignedURL:   url,
				ExpiresAt:   expiresAt,
			}, nil
		}

		lastErr = err
		if ctx.Err() != nil {
			return domain.UploadGrant{}, ctx.Err()
		}
		if attempt == g.maxAttempts {
			break
		}
		logger.Warn("grant issuance failed, retrying",
			"account_id", accountID, "slot", slot, "attempt", attempt, "error", err)
		if err := g.backoff.Wait(ctx, attempt); err != nil {
			return domain.UploadGrant{}, err
		}
	}
	return domain.UploadGrant{}, lastErr
}

// revoke withdraws grants from a partly failed Issue. The stage never
// completed, so the compensator does not see these keys.
func (g *GrantIssuer) revoke(ctx context.Context, accountID int64, keys []string) {
	if len(keys) == 0 {
		return
	}
	revoker, ok := g.storage.(GrantRevoker)
	if !ok {
		logger.Info("partial upload grants left to expire", "account_id", accountID, "keys", keys)
		return
	}
	ctx = context.WithoutCancel(ctx)
	for _, key := range keys {
		callCtx, cancel := withStepTimeout(ctx, g.stepTimeout)
		err := revoker.RevokePutGrant(callCtx, key)
		cancel()
		if err != nil {
			logger.Warn("revoke partial upload grant failed",
				"account_id", accountID, "key", key, "error", err)
		}
	}
}

func withStepTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
