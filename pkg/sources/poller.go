package sources

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/OrderlyNetwork/formula-playground-sub001/pkg/models"
	"github.com/robfig/cron/v3"
)

type pollJob struct {
	spec  string
	entry cron.EntryID
}

// Poller refreshes api nodes on their cron schedules.
type Poller struct {
	logger  *slog.Logger
	fetcher *APIFetcher
	cron    *cron.Cron

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	jobs    map[string]pollJob
	started bool
}

func NewPoller(logger *slog.Logger, fetcher *APIFetcher) *Poller {
	return &Poller{
		logger:  logger.With("module", "api_poller"),
		fetcher: fetcher,
		cron: cron.New(cron.WithChain(
			cron.SkipIfStillRunning(cron.DefaultLogger),
			cron.Recover(cron.DefaultLogger),
		)),
		jobs: make(map[string]pollJob),
	}
}

// Sync schedules every api node that declares a schedule and drops jobs for nodes that no
// longer do. Invalid schedules are reported together; valid ones are still applied.
func (p *Poller) Sync(nodes []*models.Node) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	wanted := make(map[string]string)

	for _, node := range nodes {
		if data, ok := node.Data.(models.APIData); ok && data.Schedule != "" {
			wanted[node.ID] = data.Schedule
		}
	}

	for id, job := range p.jobs {
		if spec, ok := wanted[id]; !ok || spec != job.spec {
			p.cron.Remove(job.entry)
			delete(p.jobs, id)
		}
	}

	var errs []error

	for id, spec := range wanted {
		if _, exists := p.jobs[id]; exists {
			continue
		}

		entry, err := p.cron.AddFunc(spec, p.job(id))
		if err != nil {
			errs = append(errs, fmt.Errorf("invalid schedule %q for node %s: %w", spec, id, err))

			continue
		}

		p.jobs[id] = pollJob{spec: spec, entry: entry}
		p.logger.Info("Scheduled api node", "node_id", id, "schedule", spec)
	}

	return errors.Join(errs...)
}

// Jobs returns the number of scheduled nodes.
func (p *Poller) Jobs() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return len(p.jobs)
}

func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return
	}

	p.ctx, p.cancel = context.WithCancel(ctx)
	p.started = true
	p.cron.Start()
	p.logger.InfoContext(ctx, "API poller started", "jobs", len(p.jobs))
}

// Stop halts scheduling and waits for running refreshes to return.
func (p *Poller) Stop() {
	p.mu.Lock()

	if !p.started {
		p.mu.Unlock()

		return
	}

	p.started = false
	p.cancel()
	p.mu.Unlock()

	<-p.cron.Stop().Done()
	p.logger.Info("API poller stopped")
}

func (p *Poller) job(nodeID string) func() {
	return func() {
		p.mu.Lock()
		ctx := p.ctx
		p.mu.Unlock()

		if ctx == nil || ctx.Err() != nil {
			return
		}

		if _, err := p.fetcher.Refresh(ctx, nodeID); err != nil {
			p.logger.WarnContext(ctx, "Scheduled refresh failed", "node_id", nodeID, "error", err)
		}
	}
}
