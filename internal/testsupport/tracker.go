package testsupport

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"conveyor/internal/services/tracker"
)

// FakeTracker is an in-memory tracker.API for tests. It records label
// mutations and can be told to fail, simulating an unreachable tracker.
type FakeTracker struct {
	mu     sync.Mutex
	issues map[string]*fakeIssue
	broken bool

	AddCalls    []string
	RemoveCalls []string
}

type fakeIssue struct {
	summary string
	labels  map[string]struct{}
}

// NewFakeTracker builds an empty fake tracker.
func NewFakeTracker() *FakeTracker {
	return &FakeTracker{issues: make(map[string]*fakeIssue)}
}

// Seed registers an issue with the given labels.
func (f *FakeTracker) Seed(key, summary string, labels ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	issue := &fakeIssue{summary: summary, labels: make(map[string]struct{})}
	for _, label := range labels {
		issue.labels[label] = struct{}{}
	}
	f.issues[key] = issue
}

// SetBroken makes every call fail until cleared.
func (f *FakeTracker) SetBroken(broken bool) {
	f.mu.Lock()
	f.broken = broken
	f.mu.Unlock()
}

// HasLabel reports whether the issue currently carries the label.
func (f *FakeTracker) HasLabel(key, label string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	issue, ok := f.issues[key]
	if !ok {
		return false
	}
	_, ok = issue.labels[label]
	return ok
}

func (f *FakeTracker) Search(_ context.Context, query string) ([]tracker.Issue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.broken {
		return nil, errors.New("tracker unavailable")
	}
	keys := make([]string, 0, len(f.issues))
	for key := range f.issues {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var result []tracker.Issue
	for _, key := range keys {
		issue := f.issues[key]
		if query != "" && !strings.Contains(issue.summary, query) && query != "*" {
			// The fake matches everything unless the query names a summary
			// substring; collectors in tests usually pass "*".
			continue
		}
		result = append(result, tracker.Issue{
			Key:     key,
			Summary: issue.summary,
			Labels:  labelSlice(issue),
		})
	}
	return result, nil
}

func (f *FakeTracker) Labels(_ context.Context, key string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.broken {
		return nil, errors.New("tracker unavailable")
	}
	issue, ok := f.issues[key]
	if !ok {
		return nil, errors.New("issue not found: " + key)
	}
	return labelSlice(issue), nil
}

func (f *FakeTracker) AddLabel(_ context.Context, key, label string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.broken {
		return errors.New("tracker unavailable")
	}
	issue, ok := f.issues[key]
	if !ok {
		return errors.New("issue not found: " + key)
	}
	issue.labels[label] = struct{}{}
	f.AddCalls = append(f.AddCalls, key+":"+label)
	return nil
}

func (f *FakeTracker) RemoveLabel(_ context.Context, key, label string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.broken {
		return errors.New("tracker unavailable")
	}
	issue, ok := f.issues[key]
	if !ok {
		return errors.New("issue not found: " + key)
	}
	delete(issue.labels, label)
	f.RemoveCalls = append(f.RemoveCalls, key+":"+label)
	return nil
}

func labelSlice(issue *fakeIssue) []string {
	labels := make([]string, 0, len(issue.labels))
	for label := range issue.labels {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	return labels
}

var _ tracker.API = (*FakeTracker)(nil)
