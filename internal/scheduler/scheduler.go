// Package scheduler implements the Task Scheduler (spec §4.3): cron-driven
// execution of server actions, reconciled against persisted ScheduledTask
// rows every 60s and protected against overlapping runs of the same task.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/timmy-time/catalyst/internal/clock"
	"github.com/timmy-time/catalyst/internal/gateway"
	"github.com/timmy-time/catalyst/internal/model"
	"github.com/timmy-time/catalyst/internal/store"
)

const reconcileInterval = 60 * time.Second

var standardParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Config holds the scheduler's tunables (spec §6).
type Config struct {
	// SuspensionEnforced gates the suspended-server dispatch skip (spec
	// §4.3): when false, a suspended server's tasks still fire.
	SuspensionEnforced bool
}

// Scheduler loads enabled ScheduledTask rows, installs one gocron job per
// task, and dispatches fired tasks through the Gateway's AgentSender.
type Scheduler struct {
	cfg    Config
	cron   gocron.Scheduler
	store  store.ScheduledTaskStore
	server store.ServerStore
	sender gateway.AgentSender
	clk    clock.Clock
	log    *zap.Logger

	runningMu sync.Mutex
	running   map[string]bool // task id -> currently executing

	jobsMu sync.Mutex
	jobs   map[string]gocron.Job // task id -> installed job

	lastReconcile atomic.Int64 // unix nanos of the last completed reconciliation pass
}

// Alive reports whether the scheduler has completed a reconciliation pass
// recently, for the gateway's /healthz endpoint.
func (s *Scheduler) Alive() bool {
	last := s.lastReconcile.Load()
	if last == 0 {
		return false
	}
	return s.clk.Now().Sub(time.Unix(0, last)) < 3*reconcileInterval
}

// New constructs a Scheduler. Call Start to load tasks and begin firing.
func New(cfg Config, taskStore store.ScheduledTaskStore, serverStore store.ServerStore, sender gateway.AgentSender, clk clock.Clock, log *zap.Logger) (*Scheduler, error) {
	gs, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("scheduler: create gocron scheduler: %w", err)
	}
	s := &Scheduler{
		cfg:     cfg,
		cron:    gs,
		store:   taskStore,
		server:  serverStore,
		sender:  sender,
		clk:     clk,
		log:     log.Named("scheduler"),
		running: make(map[string]bool),
		jobs:    make(map[string]gocron.Job),
	}
	s.lastReconcile.Store(clk.Now().UnixNano())
	return s, nil
}

// Start loads every enabled task, installs its job, and begins the 60s
// reconciliation loop. It returns once ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	if err := s.reconcile(ctx); err != nil {
		return err
	}
	s.cron.Start()

	ticker := s.clk.NewTicker(reconcileInterval)
	defer ticker.Stop()
	defer func() {
		if err := s.cron.Shutdown(); err != nil {
			s.log.Warn("gocron shutdown error", zap.Error(err))
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.Chan():
			if err := s.reconcile(ctx); err != nil {
				s.log.Error("reconciliation pass failed", zap.Error(err))
			}
		}
	}
}

// reconcile implements spec §4.3's five reconciliation steps.
func (s *Scheduler) reconcile(ctx context.Context) error {
	enabled, err := s.store.ListEnabled(ctx)
	if err != nil {
		return fmt.Errorf("scheduler: list enabled tasks: %w", err)
	}

	seen := make(map[string]bool, len(enabled))
	now := s.clk.Now()

	for i := range enabled {
		t := enabled[i]
		seen[t.ID] = true

		s.jobsMu.Lock()
		_, installed := s.jobs[t.ID]
		s.jobsMu.Unlock()

		if !installed {
			if err := s.install(t); err != nil {
				s.log.Error("failed to install task", zap.String("task_id", t.ID), zap.Error(err))
				_ = s.store.Update(ctx, &model.ScheduledTask{
					ID: t.ID, LastStatus: model.TaskStatusFailed, LastError: err.Error(),
				})
				continue
			}
		}

		if t.NextRunAt == nil {
			sched, err := standardParser.Parse(t.Schedule)
			if err != nil {
				s.log.Error("invalid cron expression during reconcile", zap.String("task_id", t.ID), zap.Error(err))
				continue
			}
			next := sched.Next(now)
			t.NextRunAt = &next
			_ = s.store.Update(ctx, &t)
		}

		if t.NextRunAt != nil && !t.NextRunAt.After(now) {
			s.runTask(context.Background(), t)
		}
	}

	s.jobsMu.Lock()
	for id, job := range s.jobs {
		if !seen[id] {
			_ = s.cron.RemoveJob(job.ID())
			delete(s.jobs, id)
		}
	}
	s.jobsMu.Unlock()

	s.lastReconcile.Store(s.clk.Now().UnixNano())
	return nil
}

// install parses and validates the cron expression and registers one gocron
// job for the task, tagged with its id. Invalid expressions are rejected per
// spec §4.3's Validation clause and the job is not installed.
func (s *Scheduler) install(t model.ScheduledTask) error {
	if _, err := standardParser.Parse(t.Schedule); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", t.Schedule, err)
	}

	taskID := t.ID
	job, err := s.cron.NewJob(
		gocron.CronJob(t.Schedule, false),
		gocron.NewTask(func() {
			task, err := s.store.GetByID(context.Background(), taskID)
			if err != nil {
				s.log.Warn("task disappeared before fire, skipping", zap.String("task_id", taskID))
				return
			}
			s.runTask(context.Background(), *task)
		}),
		gocron.WithTags(taskID),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("gocron.NewJob: %w", err)
	}

	s.jobsMu.Lock()
	s.jobs[taskID] = job
	s.jobsMu.Unlock()
	return nil
}

// runTask enforces the per-task single-flight property (spec §8 property 4)
// and dispatches the task's action, recording the outcome.
func (s *Scheduler) runTask(ctx context.Context, t model.ScheduledTask) {
	s.runningMu.Lock()
	if s.running[t.ID] {
		s.runningMu.Unlock()
		s.log.Warn("task still running, dropping this fire", zap.String("task_id", t.ID))
		return
	}
	s.running[t.ID] = true
	s.runningMu.Unlock()

	defer func() {
		s.runningMu.Lock()
		delete(s.running, t.ID)
		s.runningMu.Unlock()
	}()

	ranAt := s.clk.Now()
	status, errMsg := s.dispatch(ctx, t)

	sched, parseErr := standardParser.Parse(t.Schedule)
	next := ranAt.Add(time.Minute) // fallback if the stored expression somehow no longer parses
	if parseErr == nil {
		next = sched.Next(ranAt)
	}

	if err := s.store.RecordRun(ctx, t.ID, ranAt, status, errMsg, next); err != nil {
		s.log.Error("failed to record task run", zap.String("task_id", t.ID), zap.Error(err))
	}
}

// dispatch performs one action per spec §4.3's Dispatch rules and returns the
// outcome to record.
func (s *Scheduler) dispatch(ctx context.Context, t model.ScheduledTask) (model.TaskStatus, string) {
	sv, err := s.server.GetByUUIDOrID(ctx, t.ServerID)
	if err != nil {
		return model.TaskStatusFailed, fmt.Sprintf("server not found: %v", err)
	}

	if sv.SuspendedAt != nil && s.cfg.SuspensionEnforced {
		msg := "skipped: server is suspended"
		s.log.Warn(msg, zap.String("task_id", t.ID), zap.String("server_id", sv.ID))
		return model.TaskStatusFailed, msg
	}

	if !s.sender.AgentOnline(sv.NodeID) {
		return model.TaskStatusFailed, "node offline"
	}

	var msgType gateway.MessageType
	extra := map[string]any{}
	for k, v := range t.Payload {
		extra[k] = v
	}
	extra["environment"] = buildTaskEnvironment(sv)

	switch t.Action {
	case model.ActionStart:
		msgType = gateway.TypeStartServer
	case model.ActionStop:
		msgType = gateway.TypeStopServer
	case model.ActionRestart:
		msgType = gateway.TypeRestartServer
	case model.ActionBackup:
		msgType = gateway.TypeRunBackup
	case model.ActionCommand:
		cmd, _ := t.Payload["command"].(string)
		if cmd == "" {
			return model.TaskStatusFailed, "command action requires payload.command"
		}
		msgType = gateway.TypeRunCommand
	default:
		return model.TaskStatusFailed, fmt.Sprintf("unknown task action %q", t.Action)
	}

	if err := s.sender.SendToAgent(sv.NodeID, msgType, sv.UUID, "", extra); err != nil {
		return model.TaskStatusFailed, err.Error()
	}
	return model.TaskStatusSuccess, ""
}
