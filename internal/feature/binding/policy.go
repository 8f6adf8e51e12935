// Package binding enforces the account linking policy: external verification
// before a link is stored, one link per user and game, and a cooldown before
// a stored link may be replaced.
package binding

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"game_results_bot/internal/domain"
	"game_results_bot/internal/logging"
)

type accountCollection interface {
	FindOne(ctx context.Context, filter interface{}, opts ...*options.FindOneOptions) *mongo.SingleResult
	Find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) (*mongo.Cursor, error)
	ReplaceOne(ctx context.Context, filter interface{}, replacement interface{}, opts ...*options.ReplaceOptions) (*mongo.UpdateResult, error)
}

// accountVerifier checks that an external account exists before it is linked.
type accountVerifier interface {
	Verify(ctx context.Context, game domain.Game, accountID, region string) (domain.Verification, error)
}

// timeNow is overridable for tests.
var timeNow = time.Now

// Policy owns game account links and the rebind cooldown.
type Policy struct {
	accounts accountCollection
	verifier accountVerifier
	cooldown time.Duration
	logger   *logrus.Entry
}

// NewPolicy constructs a Policy. A non-positive cooldown falls back to the
// default rebind cooldown.
func NewPolicy(accounts accountCollection, verifier accountVerifier, cooldown time.Duration, logger *logrus.Entry) *Policy {
	if cooldown <= 0 {
		cooldown = domain.RebindCooldown
	}
	if logger == nil {
		logger = logging.Logger()
	}

	return &Policy{
		accounts: accounts,
		verifier: verifier,
		cooldown: cooldown,
		logger:   logger,
	}
}

// Status describes the rebind position for one (user, game) pair.
type Status struct {
	Bound     bool
	Account   domain.GameAccount
	CanRebind bool
	HoursLeft float64
}

// Status reports whether the user has a link for the game and whether it may
// be replaced right now.
func (p *Policy) Status(ctx context.Context, userID int64, game domain.Game) (Status, error) {
	account, found, err := p.get(ctx, userID, game)
	if err != nil {
		return Status{}, err
	}
	if !found {
		return Status{CanRebind: true}, nil
	}

	now := timeNow().UTC()
	return Status{
		Bound:     true,
		Account:   account,
		CanRebind: account.CanRebind(p.cooldown, now),
		HoursLeft: account.HoursUntilRebind(p.cooldown, now),
	}, nil
}

// Bind links an external account to the user for one game. The account is
// verified first; an existing link is replaced atomically, but only after the
// cooldown since its last change has elapsed.
func (p *Policy) Bind(ctx context.Context, userID int64, game domain.Game, accountID, region string) (domain.GameAccount, error) {
	if p == nil || p.accounts == nil {
		return domain.GameAccount{}, errors.New("binding policy is not initialized")
	}
	if ctx == nil {
		return domain.GameAccount{}, errors.New("context is required")
	}
	if userID == 0 {
		return domain.GameAccount{}, errors.New("user id is required")
	}
	if !game.Valid() {
		return domain.GameAccount{}, fmt.Errorf("unsupported game %q", game)
	}
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return domain.GameAccount{}, errors.New("account id is required")
	}

	now := timeNow().UTC().Truncate(time.Millisecond)

	existing, found, err := p.get(ctx, userID, game)
	if err != nil {
		return domain.GameAccount{}, err
	}
	if found && !existing.CanRebind(p.cooldown, now) {
		p.logger.WithFields(logging.Fields{
			"event":      "rebind_blocked",
			"user_id":    userID,
			"game":       game,
			"hours_left": existing.HoursUntilRebind(p.cooldown, now),
		}).Info("rebind attempted inside cooldown window")
		return domain.GameAccount{}, domain.ErrCooldownActive
	}

	verification := domain.Verification{Valid: true}
	if p.verifier != nil {
		verification, err = p.verifier.Verify(ctx, game, accountID, region)
		if err != nil {
			return domain.GameAccount{}, fmt.Errorf("verify %s account: %w", game, err)
		}
	}
	if !verification.Valid {
		return domain.GameAccount{}, domain.ErrInvalidAccount
	}

	// A replacement is a new link: it starts from default settings, only the
	// creation timestamp survives.
	account := domain.GameAccount{
		UserID:      userID,
		Game:        game,
		AccountID:   accountID,
		Nickname:    verification.Nickname,
		Region:      region,
		IsVerified:  p.verifier != nil,
		LastChanged: now,
		CreatedAt:   now,
		Settings:    domain.DefaultGameSettings(),
	}
	if found {
		account.CreatedAt = existing.CreatedAt
	}

	if _, err := p.accounts.ReplaceOne(ctx,
		bson.M{"user_id": userID, "game": game},
		account,
		options.Replace().SetUpsert(true),
	); err != nil {
		return domain.GameAccount{}, fmt.Errorf("store account link: %w", err)
	}

	event := "account_bound"
	if found {
		event = "account_rebound"
	}
	p.logger.WithFields(logging.Fields{
		"event":      event,
		"user_id":    userID,
		"game":       game,
		"account_id": accountID,
	}).Info("linked game account")

	return account, nil
}

// Get fetches the link for one (user, game) pair.
func (p *Policy) Get(ctx context.Context, userID int64, game domain.Game) (domain.GameAccount, bool, error) {
	return p.get(ctx, userID, game)
}

// List returns every link the user holds, in stored order.
func (p *Policy) List(ctx context.Context, userID int64) ([]domain.GameAccount, error) {
	if p == nil || p.accounts == nil {
		return nil, errors.New("binding policy is not initialized")
	}
	if ctx == nil {
		return nil, errors.New("context is required")
	}
	if userID == 0 {
		return nil, errors.New("user id is required")
	}

	cursor, err := p.accounts.Find(ctx, bson.M{"user_id": userID})
	if err != nil {
		return nil, fmt.Errorf("list account links: %w", err)
	}
	defer cursor.Close(ctx)

	var accounts []domain.GameAccount
	if err := cursor.All(ctx, &accounts); err != nil {
		return nil, fmt.Errorf("decode account links: %w", err)
	}

	return accounts, nil
}

func (p *Policy) get(ctx context.Context, userID int64, game domain.Game) (domain.GameAccount, bool, error) {
	if p == nil || p.accounts == nil {
		return domain.GameAccount{}, false, errors.New("binding policy is not initialized")
	}
	if ctx == nil {
		return domain.GameAccount{}, false, errors.New("context is required")
	}
	if userID == 0 {
		return domain.GameAccount{}, false, errors.New("user id is required")
	}

	result := p.accounts.FindOne(ctx, bson.M{"user_id": userID, "game": game})
	if result == nil {
		return domain.GameAccount{}, false, errors.New("find account link returned no result")
	}
	if err := result.Err(); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.GameAccount{}, false, nil
		}
		return domain.GameAccount{}, false, fmt.Errorf("find account link: %w", err)
	}

	var account domain.GameAccount
	if err := result.Decode(&account); err != nil {
		return domain.GameAccount{}, false, fmt.Errorf("decode account link: %w", err)
	}

	return account, true, nil
}
