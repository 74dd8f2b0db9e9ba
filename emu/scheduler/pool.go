/*
 * S390 - I/O request run queue and worker pool.
 *
 * Copyright 2024, Richard Cornwell
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in
 * all copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 */

// Package scheduler runs queued I/O requests on a pool of worker goroutines.
//
// Requests are kept on one run queue ordered by priority, higher values
// first. Within one priority resume requests go ahead of start requests,
// otherwise order of arrival is kept. The pool grows when the idle workers
// can't absorb the queue and shrinks when workers sit idle too long.
package scheduler

import (
	"log/slog"
	"sync"
	"time"
)

// Work that can be placed on the run queue. The link is owned by the job
// so that a job is on the queue at most once.
type Job interface {
	RunLink() *Link
	Execute()
}

// Run queue link, embedded in each job.
type Link struct {
	next     *Link
	job      Job
	priority int
	resume   bool
	queued   bool
}

// Pool sizing policy.
type Config struct {
	Max         int           // 0 unbounded while busy, < 0 new worker per request
	MinIdle     int           // Idle workers kept after timeout
	IdleTimeout time.Duration // How long a worker waits for work
}

// Snapshot of pool counters.
type Stats struct {
	Threads int // Live workers
	Idle    int // Workers waiting for work
	Waiting int // Requests on run queue
	Peak    int // Most workers alive at once
}

var DefaultConfig = Config{
	Max:         8,
	MinIdle:     1,
	IdleTimeout: 2 * time.Second,
}

type Pool struct {
	mu       sync.Mutex
	head     *Link         // Run queue
	waiting  int           // Requests on queue
	threads  int           // Live workers
	idle     int           // Workers waiting
	starting int           // Workers spawned, not yet running
	peak     int           // High water mark of threads
	cfg      Config        // Sizing policy
	bell     chan struct{} // Wake one idle worker
	quit     chan struct{} // Closed on quiesce
	stopped  bool
	wg       sync.WaitGroup
}

// Create a new pool, no workers are started until work arrives.
func New(cfg Config) *Pool {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultConfig.IdleTimeout
	}
	if cfg.MinIdle < 0 {
		cfg.MinIdle = 0
	}
	return &Pool{
		cfg:  cfg,
		bell: make(chan struct{}, 1),
		quit: make(chan struct{}),
	}
}

// Place job on run queue. Returns false if job is already queued or the
// pool has been stopped.
func (p *Pool) Submit(job Job, priority int, resume bool) bool {
	l := job.RunLink()
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped || l.queued {
		return false
	}
	l.job = job
	l.priority = priority
	l.resume = resume
	p.insert(l)
	p.waiting++

	if p.cfg.Max < 0 {
		p.spawn()
		return true
	}
	if p.idle > 0 {
		p.ring()
	}
	if p.waiting > p.idle+p.starting && p.canSpawn() {
		p.spawn()
	}
	return true
}

// Take job off run queue if it has not been started. Returns true if job
// was found and removed.
func (p *Pool) Remove(job Job) bool {
	l := job.RunLink()
	p.mu.Lock()
	defer p.mu.Unlock()
	if !l.queued {
		return false
	}
	prev := &p.head
	for cur := p.head; cur != nil; cur = cur.next {
		if cur == l {
			*prev = cur.next
			cur.next = nil
			cur.queued = false
			p.waiting--
			return true
		}
		prev = &cur.next
	}
	panic("scheduler: queued job missing from run queue")
}

// Check if job is waiting on run queue.
func (p *Pool) Queued(job Job) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return job.RunLink().queued
}

// Return counters.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{Threads: p.threads, Idle: p.idle, Waiting: p.waiting, Peak: p.peak}
}

// Stop accepting work, let workers drain the queue and exit. Returns false
// if workers did not finish before timeout.
func (p *Pool) Quiesce(timeout time.Duration) bool {
	p.mu.Lock()
	if !p.stopped {
		p.stopped = true
		close(p.quit)
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(timeout):
		slog.Warn("Timed out waiting for I/O workers to finish.")
		return false
	}
}

// Insert in priority order, resume ahead of start at equal priority.
func (p *Pool) insert(l *Link) {
	prev := &p.head
	for cur := p.head; cur != nil; cur = cur.next {
		if l.priority > cur.priority || (l.priority == cur.priority && l.resume && !cur.resume) {
			break
		}
		prev = &cur.next
	}
	l.next = *prev
	*prev = l
	l.queued = true
}

// Remove head of run queue.
func (p *Pool) pop() *Link {
	l := p.head
	if l == nil {
		return nil
	}
	if !l.queued {
		panic("scheduler: run queue link not marked queued")
	}
	p.head = l.next
	l.next = nil
	l.queued = false
	p.waiting--
	return l
}

func (p *Pool) canSpawn() bool {
	return p.cfg.Max <= 0 || p.threads < p.cfg.Max
}

// Must be called with lock held.
func (p *Pool) spawn() {
	p.threads++
	p.starting++
	if p.threads > p.peak {
		p.peak = p.threads
	}
	p.wg.Add(1)
	go p.worker()
}

// Wake an idle worker, bell holds at most one ring.
func (p *Pool) ring() {
	select {
	case p.bell <- struct{}{}:
	default:
	}
}

// Worker loop, runs jobs until idle too long or pool stopped.
func (p *Pool) worker() {
	defer p.wg.Done()

	p.mu.Lock()
	p.starting--
	for {
		if l := p.pop(); l != nil {
			// More work behind us, get someone else on it.
			if p.head != nil {
				if p.idle > 0 {
					p.ring()
				}
				if p.waiting > p.idle+p.starting && p.cfg.Max >= 0 && p.canSpawn() {
					p.spawn()
				}
			}
			p.mu.Unlock()
			l.job.Execute()
			p.mu.Lock()
			continue
		}

		if p.stopped || p.cfg.Max < 0 || (p.cfg.Max > 0 && p.threads > p.cfg.Max) {
			break
		}

		p.idle++
		p.mu.Unlock()
		timedOut := false
		timer := time.NewTimer(p.cfg.IdleTimeout)
		select {
		case <-p.bell:
		case <-timer.C:
			timedOut = true
		case <-p.quit:
		}
		timer.Stop()
		p.mu.Lock()
		p.idle--
		if timedOut && p.head == nil && p.idle >= p.cfg.MinIdle {
			break
		}
	}
	p.threads--
	p.mu.Unlock()
}
