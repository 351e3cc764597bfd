package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Valkey key pattern for email verification tokens:
//
//	email_verify_ticket:{uuid} -> user_id (STRING with TTL)

func emailVerifyKey(ticket string) string {
	return "email_verify_ticket:" + ticket
}

// CreateEmailVerificationTicket generates a single-use email-verification token, stores it in Valkey with the given
// TTL, and returns the token. The token is the only credential mailed to the address being verified, so possessing
// it is treated as proof of ownership.
func CreateEmailVerificationTicket(ctx context.Context, rdb *redis.Client, userID uuid.UUID, ttl time.Duration) (string, error) {
	ticket := uuid.New().String()

	err := rdb.Set(ctx, emailVerifyKey(ticket), userID.String(), ttl).Err()
	if err != nil {
		return "", fmt.Errorf("store email verification ticket: %w", err)
	}

	return ticket, nil
}

// ConsumeEmailVerificationTicket atomically reads and deletes an email-verification token from Valkey, returning
// the associated user ID. Returns ErrInvalidToken if the token does not exist or has already been consumed.
func ConsumeEmailVerificationTicket(ctx context.Context, rdb *redis.Client, ticket string) (uuid.UUID, error) {
	val, err := rdb.GetDel(ctx, emailVerifyKey(ticket)).Result()
	if errors.Is(err, redis.Nil) {
		return uuid.Nil, ErrInvalidToken
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("consume email verification ticket: %w", err)
	}

	userID, err := uuid.Parse(val)
	if err != nil {
		return uuid.Nil, fmt.Errorf("parse user ID from email verification ticket: %w", err)
	}

	return userID, nil
}
