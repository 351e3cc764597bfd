package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Valkey key pattern for password reset tokens:
//
//	pwreset_ticket:{uuid} -> user_id (STRING with TTL)

func passwordResetKey(ticket string) string {
	return "pwreset_ticket:" + ticket
}

// CreatePasswordResetTicket generates a single-use password-reset token, stores it in Valkey with the given TTL, and
// returns the token. This is the out-of-band credential a reset email links the recipient to; anyone holding it can
// set a new password for userID, so the caller must mail it rather than return it from an HTTP response.
func CreatePasswordResetTicket(ctx context.Context, rdb *redis.Client, userID uuid.UUID, ttl time.Duration) (string, error) {
	ticket := uuid.New().String()

	err := rdb.Set(ctx, passwordResetKey(ticket), userID.String(), ttl).Err()
	if err != nil {
		return "", fmt.Errorf("store password reset ticket: %w", err)
	}

	return ticket, nil
}

// ConsumePasswordResetTicket atomically reads and deletes a password-reset token from Valkey, returning the
// associated user ID. Returns ErrInvalidToken if the token does not exist or has already been consumed.
func ConsumePasswordResetTicket(ctx context.Context, rdb *redis.Client, ticket string) (uuid.UUID, error) {
	val, err := rdb.GetDel(ctx, passwordResetKey(ticket)).Result()
	if errors.Is(err, redis.Nil) {
		return uuid.Nil, ErrInvalidToken
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("consume password reset ticket: %w", err)
	}

	userID, err := uuid.Parse(val)
	if err != nil {
		return uuid.Nil, fmt.Errorf("parse user ID from password reset ticket: %w", err)
	}

	return userID, nil
}
