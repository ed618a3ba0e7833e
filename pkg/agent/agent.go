package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"wg-mesh/pkg/model"
)

// ErrApplyFailed wraps failures of the apply step. The previous config file
// is restored so the next cycle sees the drift again.
var ErrApplyFailed = errors.New("apply failed")

// State of the agent lifecycle.
type State int

const (
	StateUnregistered State = iota
	StateConverging
)

func (s State) String() string {
	switch s {
	case StateUnregistered:
		return "unregistered"
	case StateConverging:
		return "converging"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Options configures an Agent.
type Options struct {
	Role      model.Role
	UID       string
	Interface string
	// Endpoint is required for the master and ignored for slaves.
	Endpoint string

	Interval     time.Duration
	ApplyTimeout time.Duration

	Coordinator Coordinator
	Config      ConfigFile
	Applier     Applier
	// History is optional.
	History Recorder
	Logger  logrus.FieldLogger
}

// Agent registers once and then keeps the local WireGuard config in line
// with what the coordinator renders for it.
type Agent struct {
	opts Options
	log  logrus.FieldLogger

	mu       sync.Mutex
	state    State
	identity Identity

	nudge chan struct{}
}

func New(opts Options) (*Agent, error) {
	if !opts.Role.Valid() {
		return nil, fmt.Errorf("%w: role must be master or slave", model.ErrInvalidRequest)
	}
	if opts.UID == "" {
		return nil, fmt.Errorf("%w: uid is required", model.ErrInvalidRequest)
	}
	if opts.Role == model.RoleMaster && opts.Endpoint == "" {
		return nil, fmt.Errorf("%w: master requires an endpoint", model.ErrInvalidRequest)
	}
	if opts.Coordinator == nil || opts.Applier == nil || opts.Config.Path == "" {
		return nil, errors.New("agent: coordinator, applier and config file are required")
	}
	if opts.Interval <= 0 {
		opts.Interval = 60 * time.Second
	}
	if opts.ApplyTimeout <= 0 {
		opts.ApplyTimeout = 30 * time.Second
	}
	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Agent{
		opts:  opts,
		log:   log.WithFields(logrus.Fields{"role": opts.Role, "uid": opts.UID, "interface": opts.Interface}),
		nudge: make(chan struct{}, 1),
	}, nil
}

func (a *Agent) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

func (a *Agent) Identity() Identity {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.identity
}

// Register obtains the identity and moves the agent to Converging.
func (a *Agent) Register(ctx context.Context) error {
	id, err := a.opts.Coordinator.Register(ctx, RegisterParams{
		Role:      a.opts.Role,
		UID:       a.opts.UID,
		Interface: a.opts.Interface,
		Endpoint:  a.opts.Endpoint,
	})
	if err != nil {
		return fmt.Errorf("register: %w", err)
	}
	a.mu.Lock()
	a.identity = id
	a.state = StateConverging
	a.mu.Unlock()
	a.log.WithFields(logrus.Fields{"address": id.Address, "public_key": id.PublicKey}).Info("registered")
	return nil
}

// Nudge asks the loop to sync now instead of waiting for the next tick.
func (a *Agent) Nudge() {
	select {
	case a.nudge <- struct{}{}:
	default:
	}
}

// SyncOnce runs one convergence cycle and reports whether the file changed
// and was applied.
func (a *Agent) SyncOnce(ctx context.Context) (bool, error) {
	if a.State() != StateConverging {
		return false, errors.New("agent is not registered")
	}
	desired, err := a.fetch(ctx)
	if errors.Is(err, model.ErrNotRegistered) {
		// Coordinator lost our identity, so register again and retry.
		a.log.WithError(err).Warn("coordinator does not know this node; registering again")
		if err := a.Register(ctx); err != nil {
			return false, err
		}
		desired, err = a.fetch(ctx)
	}
	if err != nil {
		return false, fmt.Errorf("sync: %w", err)
	}

	current, existed, err := a.opts.Config.Read()
	if err != nil {
		return false, err
	}
	if existed && current == desired {
		a.log.Debug("config unchanged")
		return false, nil
	}
	if err := a.opts.Config.Write(desired); err != nil {
		return false, err
	}

	hash := hashConfig(desired)
	applyCtx, cancel := context.WithTimeout(ctx, a.opts.ApplyTimeout)
	applyErr := a.opts.Applier.Apply(applyCtx, a.opts.Interface, a.opts.Config.Path)
	cancel()
	if applyErr != nil {
		a.record(ctx, hash, ResultFailed, applyErr.Error())
		if err := a.opts.Config.Restore(current, existed); err != nil {
			a.log.WithError(err).Error("restore previous config failed")
		} else {
			a.record(ctx, hash, ResultRolledBack, "")
		}
		return false, fmt.Errorf("%w: %v", ErrApplyFailed, applyErr)
	}
	a.record(ctx, hash, ResultApplied, "")
	a.log.WithField("path", a.opts.Config.Path).Info("config applied")
	return true, nil
}

// Run drives SyncOnce on every tick or nudge until ctx is done. Cycle
// failures are logged; the loop only stops on cancellation.
func (a *Agent) Run(ctx context.Context) error {
	if a.State() != StateConverging {
		return errors.New("agent is not registered")
	}
	ticker := time.NewTicker(a.opts.Interval)
	defer ticker.Stop()
	for {
		if _, err := a.SyncOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			a.log.WithError(err).Warn("sync cycle failed")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		case <-a.nudge:
		}
	}
}

func (a *Agent) fetch(ctx context.Context) (string, error) {
	id := a.Identity()
	return a.opts.Coordinator.Sync(ctx, SyncParams{
		Role:      a.opts.Role,
		PublicKey: id.PublicKey,
		Interface: a.opts.Interface,
	})
}

func (a *Agent) record(ctx context.Context, hash, result, detail string) {
	if a.opts.History == nil {
		return
	}
	if err := a.opts.History.Record(ctx, hash, result, detail); err != nil {
		a.log.WithError(err).Debug("history record failed")
	}
}
