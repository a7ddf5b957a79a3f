// Package allocation picks the storage account that receives an upload.
package allocation

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/testforge/backend/internal/models"
	apierrors "github.com/testforge/backend/internal/pkg/errors"
)

// Score weights. They sum to 1.
const (
	weightStorage   = 0.35
	weightBandwidth = 0.25
	weightUploads   = 0.25
	weightRecency   = 0.15
)

const (
	// DefaultTopK is the number of best candidates entered into the weighted draw.
	DefaultTopK = 3
	// recencyWindow is the idle time after which an account gets the full recency bonus.
	recencyWindow = 30 * 24 * time.Hour
)

// RandSource yields uniform values in [0, 1). *math/rand/v2.Rand satisfies it.
// The selector serializes calls, so the source need not be safe for concurrent use.
type RandSource interface {
	Float64() float64
}

// Candidate is an eligible account with its computed score.
type Candidate struct {
	Account *models.StorageAccount
	Score   float64
}

// Selector spreads uploads over the accounts that can take them,
// biased toward those with the most headroom.
type Selector struct {
	mu    sync.Mutex // guards rand
	rand  RandSource
	clock clock.Clock
	topK  int
}

// NewSelector creates a selector using the given random source and clock.
func NewSelector(rnd RandSource, clk clock.Clock) *Selector {
	if clk == nil {
		clk = clock.New()
	}
	return &Selector{rand: rnd, clock: clk, topK: DefaultTopK}
}

// Select returns one account from pool able to accommodate size bytes.
// It returns *apierrors.CapacityExhaustedError when no account qualifies.
func (s *Selector) Select(pool []*models.StorageAccount, size int64) (*models.StorageAccount, error) {
	candidates := s.Rank(pool, size)
	if len(candidates) == 0 {
		return nil, &apierrors.CapacityExhaustedError{Required: size, Candidates: len(pool)}
	}

	if len(candidates) > s.topK {
		candidates = candidates[:s.topK]
	}
	return s.draw(candidates), nil
}

// Rank filters pool to eligible accounts and orders them by descending score.
func (s *Selector) Rank(pool []*models.StorageAccount, size int64) []Candidate {
	now := s.clock.Now()

	var out []Candidate
	for _, a := range pool {
		if a == nil || !a.Selectable() || !a.CanAccommodate(size) {
			continue
		}
		out = append(out, Candidate{Account: a, Score: Score(a, now)})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Account.Priority > out[j].Account.Priority
	})
	return out
}

// draw performs a score-weighted random pick over candidates.
func (s *Selector) draw(candidates []Candidate) *models.StorageAccount {
	var total float64
	for _, c := range candidates {
		total += c.Score
	}
	if total <= 0 {
		return candidates[0].Account
	}

	s.mu.Lock()
	r := s.rand.Float64() * total
	s.mu.Unlock()
	for _, c := range candidates {
		r -= c.Score
		if r < 0 {
			return c.Account
		}
	}
	// Float rounding can leave r at exactly zero after the last candidate.
	return candidates[len(candidates)-1].Account
}

// Score combines capacity headroom and idle time into a value in [0, 1].
func Score(a *models.StorageAccount, now time.Time) float64 {
	return weightStorage*a.StorageAvailability() +
		weightBandwidth*a.BandwidthAvailability() +
		weightUploads*a.UploadAvailability() +
		weightRecency*Recency(a.LastUsedAt, now)
}

// Recency is min(daysSinceLastUse/30, 1). A never used account scores 1.
func Recency(lastUsed *time.Time, now time.Time) float64 {
	if lastUsed == nil {
		return 1
	}
	idle := now.Sub(*lastUsed)
	if idle <= 0 {
		return 0
	}
	return math.Min(float64(idle)/float64(recencyWindow), 1)
}
