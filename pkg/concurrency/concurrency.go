// Package concurrency provides generic worker-pool helpers used to fan out
// independent work, such as per-race pipelines and per-voter ballot encoding.
package concurrency

import (
	"fmt"
	"sync"
)

// minItemsForParallel is the threshold below which the overhead of spawning
// workers outweighs the benefit and the helpers run sequentially.
const minItemsForParallel = 4

// ForEach runs fn over every item, using up to cores workers. The index passed
// to fn is the item's position in the input slice. The first error encountered
// is returned; remaining items still run to completion.
func ForEach[T any](cores int, items []T, fn func(i int, item T) error) error {
	if cores <= 1 || len(items) < minItemsForParallel {
		for i, item := range items {
			if err := fn(i, item); err != nil {
				return err
			}
		}
		return nil
	}

	var (
		wg       sync.WaitGroup
		errOnce  sync.Once
		firstErr error
	)
	sem := make(chan struct{}, cores)

	for i, item := range items {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, item T) {
			defer wg.Done()
			defer func() { <-sem }()
			if err := fn(i, item); err != nil {
				errOnce.Do(func() { firstErr = err })
			}
		}(i, item)
	}
	wg.Wait()

	return firstErr
}

// Map runs fn over every item and collects the results in input order, using
// up to cores workers. If any call fails, Map returns the first error and a
// nil slice.
func Map[T, R any](cores int, items []T, fn func(i int, item T) (R, error)) ([]R, error) {
	results := make([]R, len(items))
	err := ForEach(cores, items, func(i int, item T) error {
		r, err := fn(i, item)
		if err != nil {
			return fmt.Errorf("item %d: %w", i, err)
		}
		results[i] = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}
