package classifier

import (
	"math"
	"math/rand"
	"sort"

	"github.com/pkg/errors"
)

// StratifiedSplit partitions sample indices into train and test sets with
// the class proportions of labels preserved. The test set has
// ceil(testFrac*N) samples, allocated per class by largest remainder.
// The same seed always yields the same split.
func StratifiedSplit(labels []int, testFrac float64, seed int64) (train, test []int, err error) {
	n := len(labels)
	if testFrac <= 0 || testFrac >= 1 {
		return nil, nil, errors.Errorf("test fraction %v must be in (0, 1)", testFrac)
	}
	byClass := make(map[int][]int)
	for i, l := range labels {
		byClass[l] = append(byClass[l], i)
	}
	classes := make([]int, 0, len(byClass))
	for c, members := range byClass {
		if len(members) < 2 {
			return nil, nil, errors.Errorf("class %d has only %d member; every class needs at least 2", c, len(members))
		}
		classes = append(classes, c)
	}
	sort.Ints(classes)

	nTest := int(math.Ceil(testFrac * float64(n)))
	nTrain := n - nTest
	if nTest < len(classes) || nTrain < len(classes) {
		return nil, nil, errors.Errorf("%d samples cannot be split %d/%d over %d classes", n, nTrain, nTest, len(classes))
	}

	// floor allocation, then hand out the rest by largest remainder
	alloc := make([]int, len(classes))
	type rem struct {
		k    int
		frac float64
	}
	rems := make([]rem, len(classes))
	assigned := 0
	for k, c := range classes {
		exact := float64(nTest) * float64(len(byClass[c])) / float64(n)
		alloc[k] = int(math.Floor(exact))
		rems[k] = rem{k: k, frac: exact - float64(alloc[k])}
		assigned += alloc[k]
	}
	sort.SliceStable(rems, func(i, j int) bool { return rems[i].frac > rems[j].frac })
	for i := 0; assigned < nTest; i++ {
		k := rems[i%len(rems)].k
		if alloc[k] < len(byClass[classes[k]])-1 {
			alloc[k]++
			assigned++
		}
	}

	rng := rand.New(rand.NewSource(seed))
	for k, c := range classes {
		members := append([]int(nil), byClass[c]...)
		rng.Shuffle(len(members), func(i, j int) { members[i], members[j] = members[j], members[i] })
		test = append(test, members[:alloc[k]]...)
		train = append(train, members[alloc[k]:]...)
	}
	rng.Shuffle(len(train), func(i, j int) { train[i], train[j] = train[j], train[i] })
	rng.Shuffle(len(test), func(i, j int) { test[i], test[j] = test[j], test[i] })
	return train, test, nil
}
