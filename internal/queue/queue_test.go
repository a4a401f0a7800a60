package queue

import (
	"sync"
	"testing"

	"github.com/axiolab/bytelog/internal/record"
)

func TestFIFOOrder(t *testing.T) {
	q := New()

	for i := 0; i < 100; i++ {
		q.Put(record.LogPackage{SourceID: 1, AcquisitionTime: uint64(i)})
	}
	if q.Len() != 100 {
		t.Fatalf("expected 100 queued, got %d", q.Len())
	}

	for i := 0; i < 100; i++ {
		pkg, ok := q.TryPop()
		if !ok {
			t.Fatalf("queue empty after %d pops", i)
		}
		if pkg.AcquisitionTime != uint64(i) {
			t.Fatalf("pop %d returned time %d", i, pkg.AcquisitionTime)
		}
	}

	if _, ok := q.TryPop(); ok {
		t.Fatal("expected empty queue")
	}
}

func TestTryPopEmpty(t *testing.T) {
	q := New()
	if _, ok := q.TryPop(); ok {
		t.Fatal("TryPop on empty queue returned true")
	}
	if !q.Empty() {
		t.Fatal("new queue should be empty")
	}
}

func TestConcurrentProducersConsumers(t *testing.T) {
	const (
		producers       = 8
		perProducer     = 1000
		consumerThreads = 4
	)

	q := New()

	var produced sync.WaitGroup
	for p := 0; p < producers; p++ {
		produced.Add(1)
		go func(p int) {
			defer produced.Done()
			for i := 0; i < perProducer; i++ {
				q.Put(record.LogPackage{
					SourceID:        uint8(p),
					AcquisitionTime: uint64(i + 1),
				})
			}
		}(p)
	}
	produced.Wait()

	var (
		mu    sync.Mutex
		total int
		wg    sync.WaitGroup
	)
	for c := 0; c < consumerThreads; c++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			count := 0
			for {
				if _, ok := q.TryPop(); !ok {
					break
				}
				count++
			}
			mu.Lock()
			total += count
			mu.Unlock()
		}()
	}
	wg.Wait()

	if total != producers*perProducer {
		t.Fatalf("expected %d records drained, got %d", producers*perProducer, total)
	}
	if !q.Empty() {
		t.Fatalf("queue should be empty, %d left", q.Len())
	}

	puts, pops := q.Stats()
	if puts != int64(producers*perProducer) || pops != puts {
		t.Errorf("stats mismatch: puts=%d pops=%d", puts, pops)
	}
}

func TestShrinkKeepsOrder(t *testing.T) {
	q := New()

	// Force several compactions of the backing slice.
	next := uint64(1)
	read := uint64(1)
	for round := 0; round < 5; round++ {
		for i := 0; i < shrinkThreshold+10; i++ {
			q.Put(record.LogPackage{AcquisitionTime: next})
			next++
		}
		for i := 0; i < shrinkThreshold; i++ {
			pkg, ok := q.TryPop()
			if !ok {
				t.Fatal("unexpected empty queue")
			}
			if pkg.AcquisitionTime != read {
				t.Fatalf("expected %d, got %d", read, pkg.AcquisitionTime)
			}
			read++
		}
	}

	for {
		pkg, ok := q.TryPop()
		if !ok {
			break
		}
		if pkg.AcquisitionTime != read {
			t.Fatalf("expected %d, got %d", read, pkg.AcquisitionTime)
		}
		read++
	}
	if read != next {
		t.Fatalf("drained %d records, produced %d", read-1, next-1)
	}
}
