package util

import (
	"time"

	"github.com/DaveHalls/nft-dark-forest/service/logger"
)

// Track logs the time it takes to execute a function when deferred as
// `defer util.Track("name", time.Now())`.
func Track(s string, startTime time.Time) {
	logger.For(nil).Debugf("%s took %v", s, time.Since(startTime))
}

// Filter returns the elements of s for which keep returns true.
func Filter[T any](s []T, keep func(T) bool) []T {
	result := make([]T, 0, len(s))
	for _, v := range s {
		if keep(v) {
			result = append(result, v)
		}
	}
	return result
}

// Map applies fn to every element of s.
func Map[T, U any](s []T, fn func(T) U) []U {
	result := make([]U, len(s))
	for i, v := range s {
		result[i] = fn(v)
	}
	return result
}

// Dedupe returns s with duplicates removed, preserving first-seen order.
func Dedupe[T comparable](s []T) []T {
	seen := make(map[T]struct{}, len(s))
	result := make([]T, 0, len(s))
	for _, v := range s {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		result = append(result, v)
	}
	return result
}
