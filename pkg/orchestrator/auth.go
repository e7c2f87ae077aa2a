package orchestrator

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/codeready-toolchain/destiny/pkg/models"
)

// Robot authentication errors, per spec.md §6/§7.
var (
	// ErrInvalidSignature is returned when the HMAC over the request body
	// and timestamp doesn't match the signature header.
	ErrInvalidSignature = errors.New("invalid robot request signature")

	// ErrTimestampOutOfWindow is returned when the signed timestamp falls
	// outside the configured replay window.
	ErrTimestampOutOfWindow = errors.New("robot request timestamp outside replay window")

	// ErrReplayedRequest is returned when a signature has already been
	// accepted once within the current replay window.
	ErrReplayedRequest = errors.New("robot request signature already used")
)

// VerifyRequest authenticates one robot polling-protocol request: the HMAC
// over body+timestamp must match signatureHex under robot's signing key,
// the timestamp must fall within the configured replay window, and the
// exact signature must not have been accepted before within that window.
//
// robot.ClientSecretHash doubles as the HMAC signing key. The raw secret
// issued to the robot at registration is never persisted; both sides
// independently derive sha256(secret) as the key they actually sign with,
// so a database compromise dumps the signing key (enough to check
// signatures against traffic it can already observe), not a credential
// that would let someone impersonate this robot against a future rotation.
func (o *Orchestrator) VerifyRequest(ctx context.Context, robot models.Robot, body []byte, timestampHeader, signatureHex string) error {
	ts, err := time.Parse(time.RFC3339, timestampHeader)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTimestampOutOfWindow, err)
	}
	skew := time.Since(ts)
	if skew < 0 {
		skew = -skew
	}
	if skew > o.authCfg.ReplayWindow {
		return ErrTimestampOutOfWindow
	}

	mac := hmac.New(sha256.New, []byte(robot.ClientSecretHash))
	mac.Write(body)
	mac.Write([]byte(timestampHeader))
	expected := mac.Sum(nil)

	given, err := hex.DecodeString(signatureHex)
	if err != nil || !hmac.Equal(expected, given) {
		return ErrInvalidSignature
	}

	nonceKey := "robotauth:nonce:" + robot.ID + ":" + signatureHex
	accepted, err := o.redis.SetNX(ctx, nonceKey, "1", o.authCfg.ReplayWindow).Result()
	if err != nil {
		return fmt.Errorf("failed to check replay cache: %w", err)
	}
	if !accepted {
		return ErrReplayedRequest
	}
	return nil
}

// Sign computes the HMAC signature a robot would attach to a request,
// exposed for pkg/orchestrator's own tests and for issuing example
// requests during robot onboarding.
func Sign(clientSecretHash []byte, body []byte, timestampHeader string) string {
	mac := hmac.New(sha256.New, clientSecretHash)
	mac.Write(body)
	mac.Write([]byte(timestampHeader))
	return hex.EncodeToString(mac.Sum(nil))
}
