// Package dataset turns the corpus index into reproducible splits and
// batched sample streams.
package dataset

import (
	"fmt"
	"hash/fnv"
	"math"
	"math/rand"
	"sort"

	"github.com/avoskres/satseg/internal/config"
	"github.com/avoskres/satseg/internal/models"
)

// Split is the immutable result of partitioning an index: two disjoint,
// together-exhaustive subsets.
type Split struct {
	Train []models.Item
	Val   []models.Item
}

// Partition assigns items to train and validation subsets, stratified
// by each item's stratum key: within every stratum about valFraction of
// the members go to validation. A pure function of its arguments — the
// same (index, fraction, seed) always reproduces the same membership.
func Partition(index models.Index, valFraction float64, seed int64) (Split, error) {
	if len(index) == 0 {
		return Split{}, fmt.Errorf("%w: dataset index is empty", config.ErrInvalid)
	}
	if valFraction <= 0 || valFraction >= 1 {
		return Split{}, fmt.Errorf("%w: validation fraction must be in (0, 1), got %g", config.ErrInvalid, valFraction)
	}

	strata := make(map[string][]models.Item)
	for _, item := range index {
		strata[item.Stratum] = append(strata[item.Stratum], item)
	}

	keys := make([]string, 0, len(strata))
	for k := range strata {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var split Split
	for _, key := range keys {
		members := strata[key]
		nVal := int(math.Round(valFraction * float64(len(members))))
		if nVal >= len(members) {
			return Split{}, fmt.Errorf("%w: stratum %q has %d item(s), too few to keep one on each side at fraction %g",
				config.ErrInvalid, key, len(members), valFraction)
		}

		shuffled := make([]models.Item, len(members))
		copy(shuffled, members)
		rng := rand.New(rand.NewSource(stratumSeed(seed, key)))
		rng.Shuffle(len(shuffled), func(i, j int) {
			shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
		})

		split.Val = append(split.Val, shuffled[:nVal]...)
		split.Train = append(split.Train, shuffled[nVal:]...)
	}
	return split, nil
}

// stratumSeed derives a per-stratum seed so membership inside one
// stratum does not depend on how the others shuffled.
func stratumSeed(seed int64, key string) int64 {
	h := fnv.New64a()
	h.Write([]byte(key))
	return seed ^ int64(h.Sum64())
}
