// Package dataset implements the DatasetManager's corpus storage, sampling
// strategies, and timing-query serving (spec.md §4.3).
package dataset

import (
	"fmt"
	"math/rand/v2"
	"sync"

	"github.com/aiperf/aiperf-go/pkg/config"
	"github.com/aiperf/aiperf-go/pkg/seed"
)

// Sampler picks the next conversation id to serve.
type Sampler interface {
	Next() (string, error)
}

// NewSampler builds the Sampler named by strategy, deriving its RNG from
// rootSeed via the hierarchical scheme in pkg/seed (spec.md §4.3, §8
// property 4).
func NewSampler(strategy config.SamplingStrategy, ids []string, rootSeed int64) (Sampler, error) {
	if len(ids) == 0 {
		return nil, fmt.Errorf("dataset: sampler requested but dataset is empty")
	}
	switch strategy {
	case config.SampleRandom:
		return &randomSampler{ids: ids, rng: seed.NewRand(rootSeed, "dataset.sampler.random")}, nil
	case config.SampleSequential:
		return &sequentialSampler{ids: ids}, nil
	case config.SampleShuffle:
		return newShuffleSampler(ids, seed.NewRand(rootSeed, "dataset.sampler.shuffle")), nil
	default:
		return nil, fmt.Errorf("dataset: unknown sampling strategy %q", strategy)
	}
}

// randomSampler independently chooses one id uniformly on every call.
type randomSampler struct {
	mu  sync.Mutex
	ids []string
	rng *rand.Rand
}

func (s *randomSampler) Next() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ids[s.rng.IntN(len(s.ids))], nil
}

// sequentialSampler iterates in insertion order, wrapping at the end.
// Touched only by the DatasetManager's own goroutine, per spec.md §5
// ("no locking required"), but we still guard it since replies may be
// served from pull-dispatched goroutines.
type sequentialSampler struct {
	mu  sync.Mutex
	ids []string
	idx int
}

func (s *sequentialSampler) Next() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.ids[s.idx%len(s.ids)]
	s.idx++
	return id, nil
}

// shuffleSampler shuffles the id list, iterates once, reshuffles, with no
// repeat before a full pass.
type shuffleSampler struct {
	mu      sync.Mutex
	ids     []string
	rng     *rand.Rand
	order   []int
	pos     int
}

func newShuffleSampler(ids []string, rng *rand.Rand) *shuffleSampler {
	s := &shuffleSampler{ids: ids, rng: rng}
	s.reshuffle()
	return s
}

func (s *shuffleSampler) reshuffle() {
	s.order = make([]int, len(s.ids))
	for i := range s.order {
		s.order[i] = i
	}
	s.rng.Shuffle(len(s.order), func(i, j int) {
		s.order[i], s.order[j] = s.order[j], s.order[i]
	})
	s.pos = 0
}

func (s *shuffleSampler) Next() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pos >= len(s.order) {
		s.reshuffle()
	}
	id := s.ids[s.order[s.pos]]
	s.pos++
	return id, nil
}
