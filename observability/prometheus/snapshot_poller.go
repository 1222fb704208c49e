package prometheus

import (
	"context"
	"sync"
	"time"

	"github.com/Swind/go-task-scheduler/core"
	prom "github.com/prometheus/client_golang/prometheus"
)

// SchedulerSnapshotProvider provides current scheduler stats snapshots.
type SchedulerSnapshotProvider interface {
	Stats() core.SchedulerStats
}

var classes = []core.PriorityClass{core.ClassForeground, core.ClassBackground}

// SnapshotPoller periodically exports scheduler Stats() snapshots into Prometheus gauges.
type SnapshotPoller struct {
	interval time.Duration

	schedulersMu sync.RWMutex
	schedulers   map[string]SchedulerSnapshotProvider

	running       *prom.GaugeVec
	activeWorkers *prom.GaugeVec
	pendingWakes  *prom.GaugeVec
	globalQueued  *prom.GaugeVec
	primaryQueued *prom.GaugeVec
	inlineRuns    *prom.GaugeVec

	threads          *prom.GaugeVec
	maxThreads       *prom.GaugeVec
	waiters          *prom.GaugeVec
	oversubscription *prom.GaugeVec
	limitReached     *prom.GaugeVec
	localQueued      *prom.GaugeVec

	stateMu sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewSnapshotPoller creates a snapshot poller and registers its collectors.
func NewSnapshotPoller(reg prom.Registerer, interval time.Duration) (*SnapshotPoller, error) {
	if reg == nil {
		reg = prom.DefaultRegisterer
	}
	if interval <= 0 {
		interval = time.Second
	}

	gauge := func(name, help string, labels ...string) *prom.GaugeVec {
		return prom.NewGaugeVec(prom.GaugeOpts{
			Namespace: "taskscheduler",
			Name:      name,
			Help:      help,
		}, append([]string{"scheduler"}, labels...))
	}

	p := &SnapshotPoller{
		interval:   interval,
		schedulers: make(map[string]SchedulerSnapshotProvider),

		running:       gauge("running", "Scheduler running state (1=running, 0=stopped)."),
		activeWorkers: gauge("active_workers", "Nominal worker count of the current generation."),
		pendingWakes:  gauge("pending_wakes", "Launches between queueing and waking a worker."),
		globalQueued:  gauge("global_queued", "Tasks in the global queue.", "priority"),
		primaryQueued: gauge("primary_queued", "Tasks in the primary queue."),
		inlineRuns:    gauge("inline_executions", "Tasks run inline since the scheduler was created."),

		threads:          gauge("threads", "Worker threads per class by state.", "class", "state"),
		maxThreads:       gauge("max_threads", "Thread ceiling per class.", "class"),
		waiters:          gauge("waiters", "Threads preparing to wait or parked per class.", "class"),
		oversubscription: gauge("oversubscription", "Blocked workers currently counted per class.", "class"),
		limitReached:     gauge("oversubscription_limit_reached", "Whether a class is at its thread ceiling (1=yes).", "class"),
		localQueued:      gauge("local_queued", "Tasks in worker local queues per class.", "class"),
	}

	for _, c := range []**prom.GaugeVec{
		&p.running, &p.activeWorkers, &p.pendingWakes, &p.globalQueued, &p.primaryQueued, &p.inlineRuns,
		&p.threads, &p.maxThreads, &p.waiters, &p.oversubscription, &p.limitReached, &p.localQueued,
	} {
		registered, err := registerCollector(reg, *c)
		if err != nil {
			return nil, err
		}
		*c = registered
	}
	return p, nil
}

// AddScheduler adds or replaces a scheduler snapshot provider by name.
func (p *SnapshotPoller) AddScheduler(name string, provider SchedulerSnapshotProvider) {
	if p == nil || provider == nil {
		return
	}
	name = normalizeLabel(name, "scheduler")
	p.schedulersMu.Lock()
	p.schedulers[name] = provider
	p.schedulersMu.Unlock()
}

// Start begins periodic polling; repeated calls are no-ops.
func (p *SnapshotPoller) Start(ctx context.Context) {
	if p == nil {
		return
	}

	p.stateMu.Lock()
	if p.started {
		p.stateMu.Unlock()
		return
	}
	pollCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	p.started = true
	done := p.done
	p.stateMu.Unlock()

	go p.loop(pollCtx, done)
}

// Stop stops periodic polling; repeated calls are safe.
func (p *SnapshotPoller) Stop() {
	if p == nil {
		return
	}

	p.stateMu.Lock()
	if !p.started {
		p.stateMu.Unlock()
		return
	}
	cancel := p.cancel
	done := p.done
	p.stateMu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}

	p.stateMu.Lock()
	p.started = false
	p.cancel = nil
	p.done = nil
	p.stateMu.Unlock()
}

func (p *SnapshotPoller) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.collectOnce()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.collectOnce()
		}
	}
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func (p *SnapshotPoller) collectOnce() {
	p.schedulersMu.RLock()
	defer p.schedulersMu.RUnlock()

	for name, provider := range p.schedulers {
		stats := provider.Stats()
		p.running.WithLabelValues(name).Set(boolGauge(stats.Running))
		p.activeWorkers.WithLabelValues(name).Set(float64(stats.ActiveWorkers))
		p.pendingWakes.WithLabelValues(name).Set(float64(stats.PendingWakes))
		p.primaryQueued.WithLabelValues(name).Set(float64(stats.PrimaryQueued))
		p.inlineRuns.WithLabelValues(name).Set(float64(stats.InlineExecutions))
		for level, n := range stats.GlobalByPriority {
			p.globalQueued.WithLabelValues(name, core.Priority(level).String()).Set(float64(n))
		}

		for _, class := range classes {
			cs := stats.Class(class)
			label := class.String()
			p.threads.WithLabelValues(name, label, "created").Set(float64(cs.Created))
			p.threads.WithLabelValues(name, label, "active").Set(float64(cs.Active))
			p.threads.WithLabelValues(name, label, "standby").Set(float64(cs.Standby))
			p.maxThreads.WithLabelValues(name, label).Set(float64(cs.MaxThreads))
			p.waiters.WithLabelValues(name, label).Set(float64(cs.Waiters))
			p.oversubscription.WithLabelValues(name, label).Set(float64(cs.Oversubscription))
			p.limitReached.WithLabelValues(name, label).Set(boolGauge(cs.LimitReached))
			p.localQueued.WithLabelValues(name, label).Set(float64(cs.LocalQueued))
		}
	}
}
