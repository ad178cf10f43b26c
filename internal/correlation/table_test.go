package correlation

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
)

func TestResolveConsumesOnce(t *testing.T) {
	table := NewTable()
	if !table.Record("p1", Entry{RequestID: "r1"}) {
		t.Fatal("expected record to succeed")
	}

	e, ok := table.Resolve("p1")
	if !ok || e.RequestID != "r1" {
		t.Fatalf("expected r1, got %+v ok=%v", e, ok)
	}
	if _, ok := table.Resolve("p1"); ok {
		t.Fatal("expected second resolve to miss")
	}
	if table.Len() != 0 {
		t.Fatalf("expected empty table, got %d", table.Len())
	}
}

func TestResolveUnknown(t *testing.T) {
	table := NewTable()
	if _, ok := table.Resolve("never-issued"); ok {
		t.Fatal("expected unknown id to miss")
	}
}

func TestRecordDoesNotOverwrite(t *testing.T) {
	table := NewTable()
	table.Record("p1", Entry{RequestID: "r1"})
	if table.Record("p1", Entry{RequestID: "r2"}) {
		t.Fatal("expected duplicate record to be rejected")
	}
	e, _ := table.Resolve("p1")
	if e.RequestID != "r1" {
		t.Fatalf("expected original entry, got %s", e.RequestID)
	}
}

func TestConcurrentResolveSingleWinner(t *testing.T) {
	table := NewTable()
	const ids = 50
	for i := 0; i < ids; i++ {
		table.Record(fmt.Sprintf("p%d", i), Entry{RequestID: fmt.Sprintf("r%d", i)})
	}

	var wins atomic.Int32
	var wg sync.WaitGroup
	for worker := 0; worker < 4; worker++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < ids; i++ {
				if _, ok := table.Resolve(fmt.Sprintf("p%d", i)); ok {
					wins.Add(1)
				}
			}
		}()
	}
	wg.Wait()
	if wins.Load() != ids {
		t.Fatalf("expected %d resolutions, got %d", ids, wins.Load())
	}
}
