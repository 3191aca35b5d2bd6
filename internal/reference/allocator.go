// Package reference allocates human-friendly booking references (TS001..TS999).
package reference

import (
	"context"
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"castlebook/internal/models"
	"castlebook/internal/retry"
)

// Source lists references already in the store.
type Source interface {
	ListReferences(ctx context.Context, prefix string) ([]string, error)
}

// Allocator derives the next reference from the store on every call. It does not reserve
// anything: the unique index on insert decides, and callers retry with a higher attempt.
type Allocator struct {
	source Source
	prefix string
	reads  retry.Policy
	now    func() time.Time
	intn   func(n int) int
	logger *zerolog.Logger
}

type Option func(*Allocator)

func WithPrefix(prefix string) Option {
	return func(a *Allocator) {
		if prefix != "" {
			a.prefix = prefix
		}
	}
}

// WithReadPolicy sets the retry policy of the reference scan.
func WithReadPolicy(p retry.Policy) Option {
	return func(a *Allocator) { a.reads = p }
}

func WithClock(now func() time.Time) Option {
	return func(a *Allocator) { a.now = now }
}

func WithRand(intn func(n int) int) Option {
	return func(a *Allocator) { a.intn = intn }
}

func WithLogger(logger *zerolog.Logger) Option {
	return func(a *Allocator) {
		if logger != nil {
			l := logger.With().Str("component", "reference_allocator").Logger()
			a.logger = &l
		}
	}
}

func NewAllocator(source Source, opts ...Option) *Allocator {
	nop := zerolog.Nop()
	a := &Allocator{
		source: source,
		prefix: models.DefaultReferencePrefix,
		reads:  retry.Default,
		now:    time.Now,
		intn:   rand.Intn,
		logger: &nop,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Allocator) Prefix() string {
	return a.prefix
}

// Allocate returns a candidate reference. attempt 0 extends the sequence (max+1); any later
// attempt, or a full sequence tail, scans for the lowest free number. When all numbers are
// used it falls back to a date+random code. Only a failed store read is an error.
func (a *Allocator) Allocate(ctx context.Context, attempt int) (string, error) {
	var refs []string
	_, err := a.reads.Do(ctx, func(int) error {
		var err error
		refs, err = a.source.ListReferences(ctx, a.prefix)
		return err
	}, nil)
	if err != nil {
		return "", fmt.Errorf("failed to list references: %w", err)
	}

	used := a.sequences(refs)

	if attempt == 0 {
		highest := 0
		for n := range used {
			if n > highest {
				highest = n
			}
		}
		if highest < models.MaxReferenceSequence {
			return a.Format(highest + 1), nil
		}
	}

	if n, ok := lowestFree(used); ok {
		a.logger.Debug().Int("attempt", attempt).Int("sequence", n).Msg("reference gap scan")
		return a.Format(n), nil
	}

	ref := a.fallback()
	a.logger.Warn().Int("attempt", attempt).Str("reference", ref).Msg("reference sequence exhausted, using fallback")
	return ref, nil
}

// Format renders sequence number n as a reference.
func (a *Allocator) Format(n int) string {
	return fmt.Sprintf("%s%03d", a.prefix, n)
}

// Parse extracts the sequence number from a friendly reference.
func (a *Allocator) Parse(ref string) (int, bool) {
	rest, ok := strings.CutPrefix(ref, a.prefix)
	if !ok || len(rest) != 3 {
		return 0, false
	}
	n, err := strconv.Atoi(rest)
	if err != nil || n < 1 || n > models.MaxReferenceSequence {
		return 0, false
	}
	return n, true
}

func (a *Allocator) sequences(refs []string) map[int]struct{} {
	used := make(map[int]struct{}, len(refs))
	for _, ref := range refs {
		if n, ok := a.Parse(ref); ok {
			used[n] = struct{}{}
		}
	}
	return used
}

func lowestFree(used map[int]struct{}) (int, bool) {
	for n := 1; n <= models.MaxReferenceSequence; n++ {
		if _, taken := used[n]; !taken {
			return n, true
		}
	}
	return 0, false
}

func (a *Allocator) fallback() string {
	return fmt.Sprintf("%s%s%03d", a.prefix, a.now().Format("060102"), a.intn(1000))
}
