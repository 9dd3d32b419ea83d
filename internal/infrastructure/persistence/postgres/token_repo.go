package postgres

import (
	"context"
	"fmt"

	"github.com/null2264/MoodleBot/internal/domain/account"
	"github.com/null2264/MoodleBot/internal/domain/shared"
	"github.com/null2264/MoodleBot/pkg/tokenseal"
)

// TokenRepository implements account.TokenStore for PostgreSQL.
// Values are sealed before they are written when a sealing key is configured.
type TokenRepository struct {
	db     Querier
	sealer *tokenseal.Sealer
}

// NewTokenRepository creates a new TokenRepository.
func NewTokenRepository(db Querier, sealer *tokenseal.Sealer) *TokenRepository {
	return &TokenRepository{db: db, sealer: sealer}
}

var _ account.TokenStore = (*TokenRepository)(nil)

// Get returns the stored token for userID.
func (r *TokenRepository) Get(ctx context.Context, userID account.UserID) (account.Token, bool, error) {
	query := `
		SELECT token
		FROM elearningbot.token
		WHERE user_id = $1
		LIMIT 1
	`

	var stored string
	err := r.db.QueryRow(ctx, query, userID.String()).Scan(&stored)
	if err != nil {
		if IsNoRows(err) {
			return account.Token{}, false, nil
		}
		return account.Token{}, false, fmt.Errorf("failed to get token: %w", err)
	}

	value, err := r.sealer.Open(stored)
	if err != nil {
		return account.Token{}, false, fmt.Errorf("failed to open token for user %s: %w", userID, err)
	}

	return account.Token{UserID: userID, Value: value}, true, nil
}

// Put inserts the token. An existing row for the user is left untouched and
// shared.ErrAlreadyRegistered is returned.
func (r *TokenRepository) Put(ctx context.Context, token account.Token) error {
	if !token.UserID.IsValid() || token.IsZero() {
		return shared.NewDomainError("account", "Put", shared.ErrEmptyValue, "user id and token are required")
	}

	sealed, err := r.sealer.Seal(token.Value)
	if err != nil {
		return fmt.Errorf("failed to seal token: %w", err)
	}

	query := `
		INSERT INTO elearningbot.token (user_id, token)
		VALUES ($1, $2)
		ON CONFLICT (user_id) DO NOTHING
	`

	tag, err := r.db.Exec(ctx, query, token.UserID.String(), sealed)
	if err != nil {
		if IsUniqueViolation(err) {
			return shared.ErrAlreadyRegistered
		}
		return fmt.Errorf("failed to insert token: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return shared.ErrAlreadyRegistered
	}

	return nil
}
