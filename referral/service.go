package referral

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// ErrSelfReferral signals a user redeeming their own code.
var ErrSelfReferral = errors.New("referral: cannot refer yourself")

// rewardAmount is the fixed credit granted to each side: HK$100.
const rewardAmount int64 = 10000

// rewardValidity is how long a granted reward stays usable.
const rewardValidity = 12 // months

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Service owns referral codes, relationships and reward credit.
type Service struct {
	pool    TxBeginner
	repo    Repository
	now     func() time.Time
	codeGen func(time.Time) string
}

// NewService builds the referral service.
func NewService(pool TxBeginner, repo Repository) *Service {
	return &Service{
		pool:    pool,
		repo:    repo,
		now:     time.Now,
		codeGen: NewCode,
	}
}

// WithClock overrides the time source for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// WithCodeGenerator overrides code generation for tests.
func (s *Service) WithCodeGenerator(gen func(time.Time) string) *Service {
	s.codeGen = gen
	return s
}

// IssueCode returns the user's referral code, creating one on first call.
// Generation retries on code collision; a concurrent first call for the
// same user resolves to whichever insert won.
func (s *Service) IssueCode(ctx context.Context, userID string) (Code, error) {
	if userID == "" {
		return Code{}, fmt.Errorf("referral: user id is required")
	}

	existing, err := s.repo.GetCodeByUser(ctx, userID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, ErrCodeNotFound) {
		return Code{}, err
	}

	const maxCodeRetries = 5
	for attempt := 0; attempt < maxCodeRetries; attempt++ {
		created, err := s.repo.InsertCode(ctx, Code{UserID: userID, Code: s.codeGen(s.now())})
		switch {
		case err == nil:
			return created, nil
		case errors.Is(err, ErrCodeExists):
			return s.repo.GetCodeByUser(ctx, userID)
		case errors.Is(err, ErrDuplicateCode):
			continue
		default:
			return Code{}, err
		}
	}
	return Code{}, fmt.Errorf("referral: exhausted code retries")
}

// Register links a new user to the owner of the shared code. Each user can
// be referred at most once, and never by themselves.
func (s *Service) Register(ctx context.Context, code, refereeID string) (Relationship, error) {
	if code == "" || refereeID == "" {
		return Relationship{}, fmt.Errorf("referral: code and referee id are required")
	}

	c, err := s.repo.GetCodeByValue(ctx, code)
	if err != nil {
		return Relationship{}, err
	}
	if c.UserID == refereeID {
		return Relationship{}, ErrSelfReferral
	}

	return s.repo.InsertRelationship(ctx, Relationship{
		ReferrerID: c.UserID,
		RefereeID:  refereeID,
	})
}

// CompleteFirstOrder grants both sides their reward when the referee's
// first order completes. The relationship row is locked and the
// reward_granted flag checked under the lock, so a completion hook firing
// twice grants exactly once. A referee with no referral is a no-op.
func (s *Service) CompleteFirstOrder(ctx context.Context, refereeID, orderID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("referral: begin reward tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rel, err := s.repo.GetRelationshipForUpdate(ctx, tx, refereeID)
	if errors.Is(err, ErrRelationshipNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if rel.RewardGranted || rel.Status == RelationshipCompleted {
		return nil
	}

	now := s.now()
	if err := s.repo.CompleteRelationship(ctx, tx, rel.ID, orderID, now); err != nil {
		return err
	}

	expiry := now.AddDate(0, rewardValidity, 0)
	for _, userID := range []string{rel.ReferrerID, rel.RefereeID} {
		if _, err := s.repo.InsertReward(ctx, tx, Reward{
			UserID:         userID,
			RelationshipID: rel.ID,
			Amount:         rewardAmount,
			Remaining:      rewardAmount,
			ExpiresAt:      expiry,
		}); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("referral: commit reward: %w", err)
	}
	return nil
}

// UseCredit consumes up to amount of the user's credit against an order
// deposit, draining rewards soonest-expiry first with partial consumption
// across rows. Returns the amount actually used, which is less than
// requested when credit runs short.
func (s *Service) UseCredit(ctx context.Context, userID string, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("referral: credit amount must be positive")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("referral: begin credit tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rewards, err := s.repo.ListActiveRewards(ctx, tx, userID, s.now())
	if err != nil {
		return 0, err
	}

	var used int64
	for _, rw := range rewards {
		if used == amount {
			break
		}
		take := amount - used
		if take > rw.Remaining {
			take = rw.Remaining
		}
		if err := s.repo.DeductReward(ctx, tx, rw.ID, take); err != nil {
			return 0, err
		}
		used += take
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("referral: commit credit: %w", err)
	}
	return used, nil
}

// Balance sums the user's live credit.
func (s *Service) Balance(ctx context.Context, userID string) (int64, error) {
	rewards, err := s.repo.ListRewards(ctx, userID)
	if err != nil {
		return 0, err
	}
	now := s.now()
	var total int64
	for _, rw := range rewards {
		if rw.Remaining > 0 && rw.ExpiresAt.After(now) {
			total += rw.Remaining
		}
	}
	return total, nil
}

// Relationship returns the referee's relationship, if any.
func (s *Service) Relationship(ctx context.Context, refereeID string) (Relationship, error) {
	return s.repo.GetRelationshipByReferee(ctx, refereeID)
}

// Rewards returns the user's reward history.
func (s *Service) Rewards(ctx context.Context, userID string) ([]Reward, error) {
	return s.repo.ListRewards(ctx, userID)
}
