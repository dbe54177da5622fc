package util

import (
	"sync"
	"testing"
	"time"
)

func TestSafeGoWithName_Runs(t *testing.T) {
	var wg sync.WaitGroup
	executed := false

	wg.Add(1)
	SafeGoWithName("test-goroutine", func() {
		defer wg.Done()
		executed = true
	})
	wg.Wait()

	if !executed {
		t.Error("SafeGoWithName did not execute the function")
	}
}

func TestSafeGoWithName_RecoversPanic(t *testing.T) {
	done := make(chan struct{})

	SafeGoWithName("test-panic-goroutine", func() {
		defer close(done)
		panic("test named panic")
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("panicking goroutine did not complete in time")
	}
}
