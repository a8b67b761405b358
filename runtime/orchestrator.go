package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"presence-lab/contract"
	"presence-lab/moderation"
	"presence-lab/observability"
	"presence-lab/runtime/workers"
	"presence-lab/sink"
	"strings"
	"sync"
	"time"
)

type OrchestratorConfig struct {
	CleanupInterval     time.Duration
	InactivityThreshold time.Duration
	MetricInterval      time.Duration
	CensorNames         bool
	CharReplacement     rune
	JournalBufferSize   int
}

// Orchestrator owns the shared presence state (registry, open sessions, broadcaster, name moderation)
// and the supervised background workers: sweeper, heartbeat and journal writer.
type Orchestrator struct {
	mu          sync.Mutex
	log         *slog.Logger
	config      OrchestratorConfig
	supervisor  contract.ISupervisor
	registry    *Registry
	sessions    *Sessions
	broadcaster *Broadcaster
	monitoring  *observability.MonitoringManager
	journal     contract.Journal
	censor      contract.Censor
	workers     []contract.Worker
}

// NewOrchestrator builds the runtime. journal may be nil to run without history.
func NewOrchestrator(
	log *slog.Logger,
	supervisor contract.ISupervisor,
	monitoring *observability.MonitoringManager,
	journal contract.Journal,
	config OrchestratorConfig,
) *Orchestrator {
	sessions := NewSessions()
	return &Orchestrator{
		log:         log,
		config:      config,
		supervisor:  supervisor,
		registry:    NewRegistry(),
		sessions:    sessions,
		broadcaster: NewBroadcaster(log, sessions, monitoring),
		monitoring:  monitoring,
		journal:     journal,
	}
}

func (o *Orchestrator) Registry() *Registry { return o.registry }

func (o *Orchestrator) Sessions() *Sessions { return o.sessions }

func (o *Orchestrator) Broadcaster() *Broadcaster { return o.broadcaster }

// Censor is nil until Prepare ran, or when name moderation is disabled.
func (o *Orchestrator) Censor() contract.Censor {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.censor
}

// Add registers extra workers supervised with the presence ones (gRPC health).
func (o *Orchestrator) Add(workers ...contract.Worker) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.workers = append(o.workers, workers...)
}

// Prepare loads the moderation dictionary and builds the workers.
// Heavy work (file loading, automaton build) happens before taking the lock.
func (o *Orchestrator) Prepare() error {
	var censor contract.Censor
	if o.config.CensorNames {
		moderator, err := o.prepareModeration()
		if err != nil {
			return err
		}
		censor = moderator
	}

	prepared := []contract.Worker{
		workers.NewSweeperWorker(o.log, o.registry, o.broadcaster, o.monitoring,
			o.config.CleanupInterval, o.config.InactivityThreshold),
		workers.NewHeartbeatWorker(o.log, o.registry, o.monitoring, o.config.MetricInterval),
	}
	if o.journal != nil {
		journalSink := sink.NewJournalSink(o.journal, o.log, o.config.JournalBufferSize)
		o.broadcaster.Add(journalSink)
		prepared = append(prepared, journalSink)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	o.censor = censor
	o.workers = append(o.workers, prepared...)
	return nil
}

// Start runs every worker under the supervisor and blocks until they are all stopped.
func (o *Orchestrator) Start(ctx context.Context) {
	o.mu.Lock()
	o.supervisor.Add(o.workers...)
	o.mu.Unlock()

	o.log.Info("Starting orchestrator and all supervised workers")
	o.supervisor.Run(ctx)
}

// Stop cancels the supervised workers. Open connections are not drained.
func (o *Orchestrator) Stop() {
	o.log.Info("Requesting orchestrator shutdown")
	o.supervisor.Stop()
}

// prepareModeration loads the reserved words and builds the Aho-Corasick automaton.
func (o *Orchestrator) prepareModeration() (*moderation.Moderator, error) {
	data, err := NewEmbeddedCensoredLoader().LoadAll(CensoredDir)
	if err != nil {
		return nil, err
	}

	o.log.Info(fmt.Sprintf("%d censored files loaded [%s]",
		len(data.Languages), strings.Join(data.Languages, ",")))
	o.log.Info(fmt.Sprintf("%d unique censored words loaded", len(data.Words)))

	return moderation.NewModerator(data.Words, o.config.CharReplacement, o.log)
}
