// Package agent is the device's cooperative control loop: it owns every
// economy service behind one mutex and drives them from cron ticks. On the
// microcontroller this was a single thread; here the mutex is the equivalent
// serialization boundary, since ledger, sync, and decay share mutable state
// with a strict persistence ordering.
package agent

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/PocketPetLabs/petcore/internal/device"
	"github.com/PocketPetLabs/petcore/internal/pet"
	"github.com/PocketPetLabs/petcore/internal/remote"
	"github.com/PocketPetLabs/petcore/internal/syncer"
	"github.com/PocketPetLabs/petcore/pkg/economy"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// ErrOffline is returned by user-driven network actions when no connection
// is available.
var ErrOffline = errors.New("offline")

// Intervals are the tick cadences. Sync and poll calls block for the network
// timeout, so they run from cron jobs, never from a latency-sensitive path.
type Intervals struct {
	ConfigPoll time.Duration
	SyncPass   time.Duration
	Compaction time.Duration
	DecayTick  time.Duration
	Liveness   time.Duration
}

// DefaultIntervals mirrors the device's polling cadence.
func DefaultIntervals() Intervals {
	return Intervals{
		ConfigPoll: 30 * time.Second,
		SyncPass:   60 * time.Second,
		Compaction: 10 * time.Minute,
		DecayTick:  30 * time.Second,
		Liveness:   60 * time.Second,
	}
}

// Agent wires the services together and schedules their ticks.
type Agent struct {
	mu sync.Mutex

	ledger  *economy.Ledger
	scores  *economy.ScoreQueue
	engine  *syncer.Engine
	model   *pet.Model
	devices *device.Manager
	client  *remote.Client
	online  syncer.ConnectivityFunc
	logger  *zap.Logger

	intervals Intervals
	cron      *cron.Cron
}

// New wires an Agent.
func New(
	ledger *economy.Ledger,
	scores *economy.ScoreQueue,
	engine *syncer.Engine,
	model *pet.Model,
	devices *device.Manager,
	client *remote.Client,
	online syncer.ConnectivityFunc,
	intervals Intervals,
	logger *zap.Logger,
) (*Agent, error) {
	if ledger == nil || scores == nil || engine == nil || model == nil || devices == nil || client == nil || online == nil {
		return nil, errors.New("agent: nil dependency")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Agent{
		ledger:    ledger,
		scores:    scores,
		engine:    engine,
		model:     model,
		devices:   devices,
		client:    client,
		online:    online,
		logger:    logger,
		intervals: intervals,
		cron:      cron.New(),
	}, nil
}

// Initialize loads all persisted state. Must run before Start.
func (agent *Agent) Initialize(ctx context.Context) error {
	agent.mu.Lock()
	defer agent.mu.Unlock()

	if err := agent.devices.Load(ctx); err != nil {
		return err
	}
	if err := agent.ledger.Initialize(ctx); err != nil {
		return err
	}
	if err := agent.scores.Initialize(ctx); err != nil {
		return err
	}
	if err := agent.model.Initialize(ctx); err != nil {
		return err
	}
	if !agent.devices.Identity().Paired {
		code, err := agent.devices.EnsurePairingCode(ctx)
		if err != nil {
			return err
		}
		agent.logger.Info("device unpaired, awaiting pairing", zap.String("pairing_code", code))
	}
	agent.logger.Info("state loaded",
		zap.Int64("balance", agent.ledger.Balance()),
		zap.Int("pending_spends", agent.ledger.PendingCount()),
		zap.Int("pending_scores", agent.scores.PendingCount()))
	return nil
}

// Run starts the schedule and blocks until ctx is done.
func (agent *Agent) Run(ctx context.Context) error {
	if err := agent.register(ctx); err != nil {
		return err
	}
	agent.cron.Start()
	agent.logger.Info("agent started")
	<-ctx.Done()
	stopCtx := agent.cron.Stop()
	<-stopCtx.Done()
	agent.logger.Info("agent stopped")
	return nil
}

// Spend is the entry point for user actions that cost coins (feed, game).
// Local-first: the debit commits regardless of connectivity.
func (agent *Agent) Spend(ctx context.Context, amount economy.Amount, category string) (bool, error) {
	agent.mu.Lock()
	defer agent.mu.Unlock()
	return agent.ledger.TrySpend(ctx, amount, category)
}

// RecordScore queues a finished game's score for submission.
func (agent *Agent) RecordScore(ctx context.Context, score int64) (bool, error) {
	agent.mu.Lock()
	defer agent.mu.Unlock()
	return agent.scores.QueueScore(ctx, score)
}

// Jobs lists open jobs from the user's groups. Driven by the jobs screen,
// so it requires connectivity and a paired identity.
func (agent *Agent) Jobs(ctx context.Context) ([]remote.Job, error) {
	agent.mu.Lock()
	defer agent.mu.Unlock()
	if !agent.online() {
		return nil, ErrOffline
	}
	deviceID := agent.devices.DeviceID()
	if deviceID == "" {
		return nil, remote.ErrNoIdentity
	}
	return agent.client.FetchJobs(ctx, deviceID)
}

// CompleteJob reports a job finished by this device's user.
func (agent *Agent) CompleteJob(ctx context.Context, jobID string) error {
	agent.mu.Lock()
	defer agent.mu.Unlock()
	deviceID := agent.devices.DeviceID()
	if deviceID == "" {
		return remote.ErrNoIdentity
	}
	if err := agent.client.MarkJobComplete(ctx, deviceID, jobID); err != nil {
		return err
	}
	agent.logger.Info("job completed", zap.String("job_id", jobID))
	return nil
}

// FactoryReset wipes all persisted state.
func (agent *Agent) FactoryReset(ctx context.Context) error {
	agent.mu.Lock()
	defer agent.mu.Unlock()
	if err := agent.ledger.Reset(ctx); err != nil {
		return err
	}
	if err := agent.scores.Reset(ctx); err != nil {
		return err
	}
	if err := agent.model.Reset(ctx); err != nil {
		return err
	}
	return agent.devices.Clear(ctx)
}

func (agent *Agent) register(ctx context.Context) error {
	jobs := []struct {
		interval time.Duration
		run      func()
	}{
		{agent.intervals.ConfigPoll, func() { agent.pollConfig(ctx) }},
		{agent.intervals.SyncPass, func() { agent.syncPass(ctx) }},
		{agent.intervals.Compaction, func() { agent.compactPass(ctx) }},
		{agent.intervals.DecayTick, func() { agent.decayTick(ctx) }},
		{agent.intervals.Liveness, agent.liveness},
	}
	for _, job := range jobs {
		if _, err := agent.cron.AddFunc("@every "+job.interval.String(), job.run); err != nil {
			return err
		}
	}
	return nil
}

// pollConfig fetches the authoritative device config and folds it into local
// state: identity, decay parameters, earned coins, last-known snapshot.
func (agent *Agent) pollConfig(ctx context.Context) {
	agent.mu.Lock()
	defer agent.mu.Unlock()

	if !agent.online() {
		return
	}
	identity := agent.devices.Identity()
	config, err := agent.client.FetchConfig(ctx, identity.DeviceID, identity.PairingCode)
	if err != nil {
		if errors.Is(err, remote.ErrNotFound) {
			agent.logger.Debug("device not paired yet")
		} else {
			agent.logger.Warn("config poll failed", zap.Error(err))
		}
		return
	}

	if err := agent.devices.ApplyConfig(ctx, config); err != nil {
		agent.logger.Error("apply config failed", zap.Error(err))
	}
	if config.HungerDecayPer24h != nil && config.HappinessDecayPer24h != nil {
		agent.model.SetConfig(economy.Config{
			HungerDecayPer24h:    *config.HungerDecayPer24h,
			HappinessDecayPer24h: *config.HappinessDecayPer24h,
		})
	}
	if config.CoinsEarnedSinceLastSync > 0 {
		earned, err := economy.NewAmount(config.CoinsEarnedSinceLastSync)
		if err == nil {
			if err := agent.ledger.Credit(ctx, earned); err != nil {
				agent.logger.Error("credit earned coins failed", zap.Error(err))
			} else {
				agent.logger.Info("earned coins credited",
					zap.Int64("coins", earned.Int64()),
					zap.Int64("balance", agent.ledger.Balance()))
			}
		}
	}
	if err := agent.devices.RememberServerState(ctx, config.Balance, config.Coins, config.BTCPrice); err != nil {
		agent.logger.Error("remember server state failed", zap.Error(err))
	}
	if config.HasNewJob && config.NewJobTitle != "" && config.NewJobReward > 0 {
		agent.logger.Info("new job available",
			zap.String("title", config.NewJobTitle),
			zap.Int64("reward", config.NewJobReward))
	}
}

func (agent *Agent) syncPass(ctx context.Context) {
	agent.mu.Lock()
	defer agent.mu.Unlock()

	spends := agent.engine.SyncSpends(ctx)
	scores := agent.engine.SyncScores(ctx)
	if spends > 0 || scores > 0 {
		agent.logger.Info("sync pass complete",
			zap.Int("spends_synced", spends),
			zap.Int("scores_synced", scores))
	}
}

func (agent *Agent) compactPass(ctx context.Context) {
	agent.mu.Lock()
	defer agent.mu.Unlock()

	spends := agent.engine.CompactSpends(ctx)
	scores := agent.engine.CompactScores(ctx)
	if spends > 0 || scores > 0 {
		agent.logger.Info("compaction complete",
			zap.Int("spends_removed", spends),
			zap.Int("scores_removed", scores))
	}
}

func (agent *Agent) decayTick(ctx context.Context) {
	agent.mu.Lock()
	defer agent.mu.Unlock()

	if err := agent.model.Tick(ctx); err != nil {
		agent.logger.Error("decay tick failed", zap.Error(err))
	}
}

// liveness is the watchdog stand-in: the firmware reset a hardware watchdog
// here, the daemon just proves the loop is alive.
func (agent *Agent) liveness() {
	agent.mu.Lock()
	defer agent.mu.Unlock()

	agent.logger.Debug("alive",
		zap.Int64("balance", agent.ledger.Balance()),
		zap.Int("pending_spends", agent.ledger.PendingCount()),
		zap.Int("pending_scores", agent.scores.PendingCount()),
		zap.String("mood", agent.model.Mood()))
}
