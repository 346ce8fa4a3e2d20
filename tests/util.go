package testutil

import (
	"encoding/json"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/pmezard/go-difflib/difflib"
)

// FakeClock is a manually advanced clock for deterministic retry/cool-down tests.
type FakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func NewFakeClock(now time.Time) *FakeClock {
	return &FakeClock{now: now}
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *FakeClock) Set(now time.Time) {
	c.mu.Lock()
	c.now = now
	c.mu.Unlock()
}

func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// JSONEqual compares two JSON payloads structurally and reports a unified
// diff on mismatch.
func JSONEqual(t *testing.T, got, want []byte) {
	t.Helper()
	var g, w interface{}
	if err := json.Unmarshal(got, &g); err != nil {
		t.Fatalf("unmarshalling got: %v\n%s", err, got)
	}
	if err := json.Unmarshal(want, &w); err != nil {
		t.Fatalf("unmarshalling want: %v\n%s", err, want)
	}
	if !reflect.DeepEqual(g, w) {
		t.Errorf("JSON mismatch:\n%s", diff(string(indent(got)), string(indent(want))))
	}
}

func indent(data []byte) []byte {
	var buf interface{}
	if err := json.Unmarshal(data, &buf); err != nil {
		return data
	}
	out, err := json.MarshalIndent(buf, "", "  ")
	if err != nil {
		return data
	}
	return out
}

func diff(got, want string) string {
	text, _ := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(want),
		B:        difflib.SplitLines(got),
		FromFile: "want",
		ToFile:   "got",
		Context:  2,
	})
	return text
}

// Marshall JSON-encodes obj, failing the test on error.
func Marshall(t *testing.T, obj interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(obj)
	if err != nil {
		t.Fatalf("Marshall() failed: %v", err)
	}
	return data
}
