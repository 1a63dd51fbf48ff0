package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/openfederation/centralid/internal/central/domain"
	"github.com/openfederation/centralid/pkg/slogx"
)

var (
	tasksSubmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "centralid_rename_tasks_total",
			Help: "Rename tasks submitted per site",
		},
		[]string{"site"},
	)

	tasksFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "centralid_rename_tasks_failed_total",
			Help: "Rename tasks that finished in failure per site",
		},
		[]string{"site"},
	)
)

// Executor runs one task against its site.
type Executor func(ctx context.Context, task domain.RenameTask) error

type submission struct {
	handle Handle
	task   domain.RenameTask
}

// Pool is an in-process Dispatcher backed by a fixed worker pool. Task
// handles and statuses live in memory; restart loses queued work, which
// is acceptable because every task is idempotent and resubmittable from
// the rename_progress table.
type Pool struct {
	exec    Executor
	workers int

	// mu covers status, draining, and the send side of queue: Submit
	// and the close in Stop both take it, so a send can never race the
	// close.
	mu       sync.Mutex
	queue    chan submission
	status   map[uuid.UUID]*Status
	draining bool

	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewPool(workers, depth int, exec Executor) *Pool {
	if workers <= 0 {
		workers = 4
	}
	if depth <= 0 {
		depth = 256
	}
	return &Pool{
		exec:    exec,
		queue:   make(chan submission, depth),
		workers: workers,
		status:  make(map[uuid.UUID]*Status),
	}
}

// Start launches the workers. The provided context scopes task
// execution; cancelling it aborts in-flight tasks.
func (p *Pool) Start(ctx context.Context) {
	for range p.workers {
		p.wg.Add(1)
		go p.worker(ctx)
	}
}

// Stop closes intake and waits for in-flight tasks to settle.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		p.mu.Lock()
		p.draining = true
		close(p.queue)
		p.mu.Unlock()
	})
	p.wg.Wait()
}

func (p *Pool) Submit(ctx context.Context, site string, task domain.RenameTask) (Handle, error) {
	h := Handle{
		ID:          uuid.New(),
		Site:        site,
		SubmittedAt: time.Now().UTC(),
	}

	p.mu.Lock()
	if p.draining {
		p.mu.Unlock()
		return Handle{}, ErrStopped
	}
	p.status[h.ID] = &Status{Handle: h, State: StateQueued, Task: task}

	select {
	case p.queue <- submission{handle: h, task: task}:
		p.mu.Unlock()
		tasksSubmitted.WithLabelValues(site).Inc()
		return h, nil
	default:
		delete(p.status, h.ID)
		p.mu.Unlock()
		return Handle{}, ErrQueueFull
	}
}

func (p *Pool) Status(id uuid.UUID) (Status, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	s, ok := p.status[id]
	if !ok {
		return Status{}, ErrNoSuchJob
	}
	return *s, nil
}

func (p *Pool) Failed() []Status {
	p.mu.Lock()
	defer p.mu.Unlock()

	var out []Status
	for _, s := range p.status {
		if s.State == StateFailed {
			out = append(out, *s)
		}
	}
	return out
}

func (p *Pool) worker(ctx context.Context) {
	defer p.wg.Done()

	log := slogx.FromContext(ctx)

	for sub := range p.queue {
		p.setState(sub.handle.ID, StateRunning, "")

		err := p.exec(ctx, sub.task)
		if err != nil {
			tasksFailed.WithLabelValues(sub.handle.Site).Inc()
			p.setState(sub.handle.ID, StateFailed, err.Error())
			log.Error("rename task failed",
				"site", sub.handle.Site,
				"from", sub.task.From,
				"to", sub.task.To,
				"err", err,
			)
			continue
		}

		p.setState(sub.handle.ID, StateDone, "")
	}
}

func (p *Pool) setState(id uuid.UUID, state State, errMsg string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if s, ok := p.status[id]; ok {
		s.State = state
		s.Err = errMsg
	}
}
