package monitoring

import (
	"fmt"
	"sync"
	"testing"
)

func TestSetLogger(t *testing.T) {
	defer SetLogger(nil)

	var got []string
	SetLogger(func(format string, v ...interface{}) {
		got = append(got, fmt.Sprintf(format, v...))
	})
	Logf("frame %d", 7)

	if len(got) != 1 || got[0] != "frame 7" {
		t.Fatalf("captured %q, want [\"frame 7\"]", got)
	}

	SetLogger(nil)
	Logf("dropped")
	if len(got) != 1 {
		t.Errorf("no-op logger forwarded a line: %q", got)
	}
}

func TestPrefixed(t *testing.T) {
	defer SetLogger(nil)

	var got string
	SetLogger(func(format string, v ...interface{}) {
		got = fmt.Sprintf(format, v...)
	})

	logf := Prefixed("[af cam0] ")
	logf("settled at %d", 60)
	if got != "[af cam0] settled at 60" {
		t.Errorf("got %q", got)
	}
}

func TestPrefixed_FollowsLoggerSwap(t *testing.T) {
	defer SetLogger(nil)

	logf := Prefixed("x ")
	var calls int
	SetLogger(func(string, ...interface{}) { calls++ })
	logf("one")
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestSetLogger_Concurrent(t *testing.T) {
	defer SetLogger(nil)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				SetLogger(nil)
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				Logf("tick %d", j)
			}
		}()
	}
	wg.Wait()
}
