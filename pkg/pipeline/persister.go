package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"gocompile/pkg/persist"
)

const saveTimeout = 10 * time.Second

// persister copies queued artifacts to a backend from its own goroutine.
// put never waits on the backend; a failed write stays queued for the next
// round and the store carries on in memory.
type persister struct {
	b   persist.Backend
	log *log.Logger

	mu    sync.Mutex
	dirty map[string][]byte // nil value: delete the key

	flushMu sync.Mutex // one flush at a time, in queue order
	kick    chan struct{}
	stop    chan struct{}
	done    chan struct{}
	once    sync.Once
}

func newPersister(b persist.Backend, logger *log.Logger, interval time.Duration) *persister {
	p := &persister{
		b:     b,
		log:   logger,
		dirty: make(map[string][]byte),
		kick:  make(chan struct{}, 1),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	go p.loop(interval)
	return p
}

func (p *persister) put(key string, value []byte) {
	p.mu.Lock()
	p.dirty[key] = value
	p.mu.Unlock()
	select {
	case p.kick <- struct{}{}:
	default:
	}
}

func (p *persister) loop(interval time.Duration) {
	defer close(p.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-p.kick:
		case <-ticker.C:
		case <-p.stop:
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
		if err := p.flush(ctx); err != nil {
			p.log.Printf("persist: %v", err)
		}
		cancel()
	}
}

// flush writes everything queued so far. Keys that fail are queued again
// unless a newer value arrived in the meantime.
func (p *persister) flush(ctx context.Context) error {
	p.flushMu.Lock()
	defer p.flushMu.Unlock()

	p.mu.Lock()
	batch := p.dirty
	p.dirty = make(map[string][]byte)
	p.mu.Unlock()
	if len(batch) == 0 {
		return nil
	}

	keys := make([]string, 0, len(batch))
	for k := range batch {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var errs []error
	failed := make(map[string][]byte)
	for _, k := range keys {
		v := batch[k]
		var err error
		if v == nil {
			err = p.b.Delete(ctx, k)
		} else {
			err = p.b.Save(ctx, k, v)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", k, err))
			failed[k] = v
		}
	}
	if len(failed) > 0 {
		p.mu.Lock()
		for k, v := range failed {
			if _, newer := p.dirty[k]; !newer {
				p.dirty[k] = v
			}
		}
		p.mu.Unlock()
	}
	return errors.Join(errs...)
}

// close stops the goroutine and makes one last attempt at the queue.
func (p *persister) close() error {
	var err error
	p.once.Do(func() {
		close(p.stop)
		<-p.done
		ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
		defer cancel()
		err = p.flush(ctx)
	})
	return err
}
