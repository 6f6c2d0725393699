package consent

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehr/medbridge/internal/platform/clock"
	"github.com/ehr/medbridge/internal/platform/db/dbtest"
)

type mockTokenRepo struct {
	mu     sync.Mutex
	tokens []*Token
	seq    int64
}

func (m *mockTokenRepo) Insert(_ context.Context, t *Token) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	t.Seq = m.seq
	cp := *t
	m.tokens = append(m.tokens, &cp)
	return nil
}

func (m *mockTokenRepo) Latest(_ context.Context, entryID uuid.UUID) (*Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var matches []*Token
	for _, t := range m.tokens {
		if t.EntryID == entryID {
			matches = append(matches, t)
		}
	}
	if len(matches) == 0 {
		return nil, ErrTokenNotFound
	}
	sort.Slice(matches, func(i, j int) bool {
		if !matches[i].IssuedAt.Equal(matches[j].IssuedAt) {
			return matches[i].IssuedAt.After(matches[j].IssuedAt)
		}
		return matches[i].Seq > matches[j].Seq
	})
	cp := *matches[0]
	return &cp, nil
}

func (m *mockTokenRepo) MarkUsed(_ context.Context, id uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tokens {
		if t.ID == id {
			if t.Used {
				return false, nil
			}
			t.Used = true
			return true, nil
		}
	}
	return false, nil
}

func (m *mockTokenRepo) usedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, t := range m.tokens {
		if t.Used {
			n++
		}
	}
	return n
}

var t0 = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

func newTestLedger() (*Ledger, *mockTokenRepo, *clock.ManagedClock) {
	repo := &mockTokenRepo{}
	clk := clock.NewManaged(t0)
	return NewLedger(repo, &dbtest.TxRunner{}, clk, DefaultTTL), repo, clk
}

func fixedCodes(codes ...string) func() (string, error) {
	i := 0
	return func() (string, error) {
		c := codes[i%len(codes)]
		i++
		return c, nil
	}
}

func TestGenerateCode_Format(t *testing.T) {
	for i := 0; i < 200; i++ {
		code, err := GenerateCode()
		require.NoError(t, err)
		require.Len(t, code, CodeLength)
		for _, r := range code {
			require.True(t, r >= '0' && r <= '9', "non-digit in %q", code)
		}
	}
}

func TestIssue_SetsTTLFromClock(t *testing.T) {
	l, repo, _ := newTestLedger()
	entryID := uuid.New()

	issued, err := l.Issue(context.Background(), entryID)
	require.NoError(t, err)
	assert.Equal(t, t0.Add(10*time.Minute), issued.ExpiresAt)
	require.Len(t, repo.tokens, 1)
	assert.False(t, repo.tokens[0].Used)
	assert.Equal(t, issued.Code, repo.tokens[0].Code)
}

func TestValidateAndConsume_Success(t *testing.T) {
	l, repo, clk := newTestLedger()
	l.SetCodeGenerator(fixedCodes("482913"))
	entryID := uuid.New()
	ctx := context.Background()

	_, err := l.Issue(ctx, entryID)
	require.NoError(t, err)
	clk.WarpForward(9 * time.Minute)

	require.NoError(t, l.ValidateAndConsume(ctx, entryID, "482913"))
	assert.Equal(t, 1, repo.usedCount())

	err = l.ValidateAndConsume(ctx, entryID, "482913")
	assert.ErrorIs(t, err, ErrTokenAlreadyUsed)
}

func TestValidateAndConsume_NotFound(t *testing.T) {
	l, _, _ := newTestLedger()
	err := l.ValidateAndConsume(context.Background(), uuid.New(), "000000")
	assert.ErrorIs(t, err, ErrTokenNotFound)
}

func TestValidateAndConsume_Expired(t *testing.T) {
	l, repo, clk := newTestLedger()
	l.SetCodeGenerator(fixedCodes("482913"))
	entryID := uuid.New()
	ctx := context.Background()

	_, err := l.Issue(ctx, entryID)
	require.NoError(t, err)
	clk.WarpForward(11 * time.Minute)

	err = l.ValidateAndConsume(ctx, entryID, "482913")
	assert.ErrorIs(t, err, ErrTokenExpired)
	assert.Equal(t, 0, repo.usedCount())
}

func TestValidateAndConsume_Mismatch(t *testing.T) {
	l, repo, _ := newTestLedger()
	l.SetCodeGenerator(fixedCodes("482913"))
	entryID := uuid.New()
	ctx := context.Background()

	_, err := l.Issue(ctx, entryID)
	require.NoError(t, err)

	err = l.ValidateAndConsume(ctx, entryID, "111111")
	assert.ErrorIs(t, err, ErrTokenMismatch)
	assert.Equal(t, 0, repo.usedCount())
}

func TestValidateAndConsume_OnlyLatestTokenCounts(t *testing.T) {
	l, _, clk := newTestLedger()
	l.SetCodeGenerator(fixedCodes("111111", "222222"))
	entryID := uuid.New()
	ctx := context.Background()

	_, err := l.Issue(ctx, entryID)
	require.NoError(t, err)
	clk.WarpForward(time.Minute)
	_, err = l.Issue(ctx, entryID)
	require.NoError(t, err)

	assert.ErrorIs(t, l.ValidateAndConsume(ctx, entryID, "111111"), ErrTokenMismatch)
	require.NoError(t, l.ValidateAndConsume(ctx, entryID, "222222"))
	assert.ErrorIs(t, l.ValidateAndConsume(ctx, entryID, "111111"), ErrTokenAlreadyUsed)
}

func TestValidateAndConsume_SameInstantLatestWins(t *testing.T) {
	l, _, _ := newTestLedger()
	l.SetCodeGenerator(fixedCodes("111111", "222222"))
	entryID := uuid.New()
	ctx := context.Background()

	first, err := l.Issue(ctx, entryID)
	require.NoError(t, err)
	second, err := l.Issue(ctx, entryID)
	require.NoError(t, err)
	require.Equal(t, first.ExpiresAt, second.ExpiresAt)

	assert.ErrorIs(t, l.ValidateAndConsume(ctx, entryID, "111111"), ErrTokenMismatch)
	require.NoError(t, l.ValidateAndConsume(ctx, entryID, "222222"))
}

func TestValidateAndConsume_ConcurrentExactlyOnce(t *testing.T) {
	l, repo, _ := newTestLedger()
	l.SetCodeGenerator(fixedCodes("482913"))
	entryID := uuid.New()
	ctx := context.Background()

	_, err := l.Issue(ctx, entryID)
	require.NoError(t, err)

	const attempts = 8
	errs := make([]error, attempts)
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			errs[i] = l.ValidateAndConsume(ctx, entryID, "482913")
		}(i)
	}
	close(start)
	wg.Wait()

	successes := 0
	for _, err := range errs {
		if err == nil {
			successes++
			continue
		}
		assert.True(t, errors.Is(err, ErrTokenAlreadyUsed), "unexpected error %v", err)
	}
	assert.Equal(t, 1, successes)
	assert.Equal(t, 1, repo.usedCount())
}

func TestValidateAndConsume_ChecksUsedBeforeExpiry(t *testing.T) {
	l, _, clk := newTestLedger()
	l.SetCodeGenerator(fixedCodes("482913"))
	entryID := uuid.New()
	ctx := context.Background()

	_, err := l.Issue(ctx, entryID)
	require.NoError(t, err)
	require.NoError(t, l.ValidateAndConsume(ctx, entryID, "482913"))

	clk.WarpForward(time.Hour)
	assert.ErrorIs(t, l.ValidateAndConsume(ctx, entryID, "482913"), ErrTokenAlreadyUsed)
}
