package library

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// audioExtensions are the file types catalogued as audiobooks.
var audioExtensions = map[string]struct{}{
	".m4b":  {},
	".m4a":  {},
	".mp3":  {},
	".flac": {},
	".ogg":  {},
	".opus": {},
}

func isAudioFile(path string) bool {
	_, ok := audioExtensions[strings.ToLower(filepath.Ext(path))]
	return ok
}

// fileInfo is a filesystem entry emitted by the walker.
type fileInfo struct {
	Path  string
	Size  int64
	MTime time.Time
}

// errorReporter records a per-path traversal error; the walk continues.
type errorReporter func(path string, err error)

// dirQueue is an unbounded, concurrency-safe queue of directory paths.
// It tracks a pending counter so that walkTree knows when all work is done.
//
// Termination protocol:
//   - Push increments pending BEFORE enqueuing (caller must own the increment).
//   - Done decrements pending AFTER all children of a directory have been
//     pushed. When pending reaches 0, Done closes the queue and broadcasts.
type dirQueue struct {
	mu      sync.Mutex
	cond    *sync.Cond
	items   []string
	head    int // index of the next item to pop; avoids O(n) re-slicing
	pending atomic.Int64
	closed  bool
}

func newDirQueue() *dirQueue {
	q := &dirQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push enqueues a directory. Must be called after incrementing pending.
func (q *dirQueue) Push(dir string) {
	q.mu.Lock()
	q.items = append(q.items, dir)
	q.mu.Unlock()
	q.cond.Signal()
}

// Pop blocks until an item is available or the queue is closed.
// Returns ("", false) when the queue is closed and empty.
func (q *dirQueue) Pop() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.head >= len(q.items) && !q.closed {
		q.cond.Wait()
	}
	if q.head >= len(q.items) {
		return "", false
	}
	item := q.items[q.head]
	q.items[q.head] = "" // release string reference so GC can collect it
	q.head++
	if q.head >= 1000 && q.head >= len(q.items)/2 {
		q.items = append(q.items[:0], q.items[q.head:]...)
		q.head = 0
	}
	return item, true
}

// Done must be called once per directory after all its child-directories
// have been pushed. Decrements pending; if pending reaches 0, closes the
// queue.
func (q *dirQueue) Done() {
	if q.pending.Add(-1) == 0 {
		q.mu.Lock()
		q.closed = true
		q.mu.Unlock()
		q.cond.Broadcast()
	}
}

// walkTree traverses root concurrently using numWorkers goroutines and sends
// every regular audio file it finds to out, closing out when done. Symlinks
// and non-regular files are skipped; traversal errors go to report and the
// walk continues.
func walkTree(ctx context.Context, root string, numWorkers int, out chan<- fileInfo, report errorReporter) {
	defer close(out)

	if numWorkers < 1 {
		numWorkers = 1
	}

	q := newDirQueue()
	q.pending.Add(1)
	q.Push(root)

	var wg sync.WaitGroup
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			walkerWorker(ctx, q, out, report)
		}()
	}
	wg.Wait()
}

func walkerWorker(ctx context.Context, q *dirQueue, out chan<- fileInfo, report errorReporter) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		dir, ok := q.Pop()
		if !ok {
			return
		}

		entries, err := os.ReadDir(dir)
		if err != nil {
			report(dir, err)
			q.Done()
			continue
		}

		for _, entry := range entries {
			path := filepath.Join(dir, entry.Name())

			if entry.IsDir() {
				// Increment BEFORE pushing so pending is never zero prematurely.
				q.pending.Add(1)
				q.Push(path)
				continue
			}
			if entry.Type()&fs.ModeSymlink != 0 || !entry.Type().IsRegular() {
				continue
			}
			if !isAudioFile(path) {
				continue
			}

			info, err := entry.Info()
			if err != nil {
				report(path, err)
				continue
			}

			select {
			case out <- fileInfo{Path: path, Size: info.Size(), MTime: info.ModTime()}:
			case <-ctx.Done():
				q.Done()
				return
			}
		}

		q.Done()
	}
}
