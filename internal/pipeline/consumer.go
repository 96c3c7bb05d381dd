package pipeline

import (
	"sync"
	"sync/atomic"
	"time"
)

// SampleFunc receives one observation of a named queue's depth.
// Optional; nil disables sampling.
type SampleFunc func(queueName string, size, capacity, workerCount int)

// minConsumers is the fixed floor the adaptive controller will never
// shrink below, independent of how many consumers a run started with.
const minConsumers = 2

// Controller owns the worker (consumer) pool that drains workerQueue
// into writerQueue, growing and shrinking it in response to backlog.
type Controller struct {
	in, out     *Queue[*Item]
	transformer Transformer

	checkPeriod   time.Duration
	lowWatermark  float64
	highWatermark float64
	sample        SampleFunc

	wg           sync.WaitGroup
	mu           sync.Mutex
	active       int
	stopRequests int32
}

// NewController returns a controller with initial consumers already
// running against in/out. The shrink floor is always minConsumers,
// regardless of how many consumers the pool started with.
func NewController(in, out *Queue[*Item], t Transformer, checkPeriod time.Duration, low, high float64, initial int) *Controller {
	c := &Controller{
		in:            in,
		out:           out,
		transformer:   t,
		checkPeriod:   checkPeriod,
		lowWatermark:  low,
		highWatermark: high,
	}
	for i := 0; i < initial; i++ {
		c.spawn()
	}
	return c
}

// SetSampleFunc installs fn to be called once per check period with the
// worker queue's current depth. Must be called before Run.
func (c *Controller) SetSampleFunc(fn SampleFunc) {
	c.sample = fn
}

func (c *Controller) spawn() {
	c.mu.Lock()
	c.active++
	id := c.active
	c.mu.Unlock()
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.consumeLoop(id)
	}()
	trace("controller spawned consumer %d", id)
}

func (c *Controller) activeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

func (c *Controller) consumeLoop(id int) {
	for {
		item, ok := c.in.Dequeue()
		if !ok {
			c.mu.Lock()
			c.active--
			c.mu.Unlock()
			trace("consumer %d exiting: worker queue closed", id)
			return
		}
		item.Payload = c.transformer.Transform(item.Payload)
		c.out.Enqueue(item)

		if atomic.LoadInt32(&c.stopRequests) > 0 {
			atomic.AddInt32(&c.stopRequests, -1)
			c.mu.Lock()
			c.active--
			c.mu.Unlock()
			trace("consumer %d exiting: stop requested", id)
			return
		}
	}
}

// Run samples worker_queue.Fill() every checkPeriod, spawning a
// consumer above highWatermark and requesting one stop below
// lowWatermark (never below minConsumers, counting stop requests not
// yet acted on), until done is closed.
func (c *Controller) Run(done <-chan struct{}) {
	ticker := time.NewTicker(c.checkPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			f := c.in.Fill()
			switch {
			case f > c.highWatermark:
				c.spawn()
			case f < c.lowWatermark && c.activeCount()-int(atomic.LoadInt32(&c.stopRequests)) > minConsumers:
				atomic.AddInt32(&c.stopRequests, 1)
			}
			if c.sample != nil {
				c.sample("worker", c.in.Len(), c.in.Cap(), c.activeCount())
			}
		}
	}
}

// Wait blocks until every consumer has exited (the worker queue has
// been closed and drained), then closes out.
func (c *Controller) Wait() {
	c.wg.Wait()
	c.out.Close()
	trace("consumer pool drained, closing writer queue")
}
