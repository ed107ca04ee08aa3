// Package lifecycle implements the request lifecycle manager: it owns the
// per-user conversation machines, serializes each user's events in arrival
// order, materializes accepted requests into tasks, and drives them through
// the single-flight supervisor.
package lifecycle

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/dkoval/atelier/internal/conversation"
	"github.com/dkoval/atelier/internal/history"
	"github.com/dkoval/atelier/internal/inference"
	"github.com/dkoval/atelier/internal/observability"
	"github.com/dkoval/atelier/internal/stylize"
	"github.com/dkoval/atelier/internal/supervisor"
	"github.com/dkoval/atelier/internal/task"
)

type Config struct {
	// DataRoot is where task working directories are allocated.
	DataRoot string
	// MaxAssetsPerRequest caps submittable buffers; pair-based job types
	// are forced down to an even cap.
	MaxAssetsPerRequest int
	// EventQueueSize bounds each user's inbound event queue.
	EventQueueSize int
	// ConversationTTL expires conversations with no user activity. Zero
	// disables expiry. Processing conversations are never expired.
	ConversationTTL time.Duration
}

// The raw buffer accepts a few times the submit cap; the trim rule cuts the
// excess at submit and reports the discard count.
const bufferSlack = 4

var ErrClosed = errors.New("lifecycle manager closed")

type userState struct {
	machine      *conversation.Machine
	queue        chan Event
	lastActivity time.Time
}

type Manager struct {
	cfg     Config
	engine  inference.Engine
	sup     *supervisor.Supervisor
	store   history.Store
	metrics *observability.Metrics
	logger  zerolog.Logger

	mu          sync.Mutex
	users       map[string]*userState
	subscribers map[string]map[int]chan Outcome
	nextSubID   int

	done      chan struct{}
	closeOnce sync.Once
}

func NewManager(
	cfg Config,
	engine inference.Engine,
	sup *supervisor.Supervisor,
	store history.Store,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *Manager {
	if cfg.MaxAssetsPerRequest <= 0 {
		cfg.MaxAssetsPerRequest = stylize.MaxAssetsPerRequest
	}
	if cfg.EventQueueSize <= 0 {
		cfg.EventQueueSize = 64
	}
	return &Manager{
		cfg:         cfg,
		engine:      engine,
		sup:         sup,
		store:       store,
		metrics:     metrics,
		logger:      logger,
		users:       make(map[string]*userState),
		subscribers: make(map[string]map[int]chan Outcome),
		done:        make(chan struct{}),
	}
}

// Close stops the per-user event loops. In-flight pipelines finish on their
// own through the supervisor.
func (m *Manager) Close() {
	m.closeOnce.Do(func() { close(m.done) })
}

// Subscribe returns a channel of outcome values for one user and a cancel
// func. Slow subscribers lose outcomes rather than blocking the core.
func (m *Manager) Subscribe(userID string) (<-chan Outcome, func()) {
	ch := make(chan Outcome, 64)
	m.mu.Lock()
	m.nextSubID++
	id := m.nextSubID
	if _, ok := m.subscribers[userID]; !ok {
		m.subscribers[userID] = make(map[int]chan Outcome)
	}
	m.subscribers[userID][id] = ch
	m.mu.Unlock()

	return ch, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		subs := m.subscribers[userID]
		if subs == nil {
			return
		}
		if c, ok := subs[id]; ok {
			delete(subs, id)
			close(c)
		}
		if len(subs) == 0 {
			delete(m.subscribers, userID)
		}
	}
}

// Dispatch enqueues an event onto the user's sequential queue. Events for
// one user are processed one at a time in arrival order; the resulting
// outcomes are published to the user's subscribers.
func (m *Manager) Dispatch(ctx context.Context, ev Event) error {
	us := m.userFor(ev.UserID)
	select {
	case us.queue <- ev:
		return nil
	case <-m.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) userFor(userID string) *userState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.userForLocked(userID)
}

func (m *Manager) userForLocked(userID string) *userState {
	us, ok := m.users[userID]
	if !ok {
		us = &userState{
			machine:      conversation.New(),
			queue:        make(chan Event, m.cfg.EventQueueSize),
			lastActivity: time.Now().UTC(),
		}
		m.users[userID] = us
		go m.loop(us)
	}
	return us
}

// StartJanitor periodically expires conversations that went quiet while a
// request was half-built, so abandoned buffers do not pin memory forever.
func (m *Manager) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-m.done:
				return
			case <-ticker.C:
				m.expireInactive()
			}
		}
	}()
}

func (m *Manager) expireInactive() {
	ttl := m.cfg.ConversationTTL
	if ttl <= 0 {
		return
	}
	now := time.Now().UTC()

	var expired []string
	m.mu.Lock()
	for id, us := range m.users {
		if now.Sub(us.lastActivity) < ttl {
			continue
		}
		state := us.machine.State()
		if state == conversation.Processing || state == conversation.Idle {
			continue
		}
		us.machine.Reset()
		us.lastActivity = now
		expired = append(expired, id)
	}
	m.updateGaugeLocked()
	m.mu.Unlock()

	for _, id := range expired {
		m.logger.Debug().Str("user_id", id).Msg("conversation expired")
		m.publish(Outcome{
			UserID: id,
			Kind:   OutcomePrompt,
			Code:   CodeConversationExpired,
			State:  conversation.Idle,
		})
	}
}

func (m *Manager) loop(us *userState) {
	for {
		select {
		case <-m.done:
			return
		case ev := <-us.queue:
			m.Handle(ev)
		}
	}
}

// Handle processes one event synchronously, publishes the immediate outcome
// to the user's subscribers, and returns it. Callers must serialize events
// per user; Dispatch does this. Deferred outcomes (terminal results of a
// submitted request) are published when the computation finishes, always
// after the immediate outcome of the submit.
func (m *Manager) Handle(ev Event) Outcome {
	m.observeEvent(string(ev.Type))
	m.mu.Lock()
	m.userForLocked(ev.UserID).lastActivity = time.Now().UTC()
	m.mu.Unlock()

	var out Outcome
	var followup func()
	switch ev.Type {
	case EventBegin:
		out = m.handleBegin(ev)
	case EventSelect:
		out = m.handleSelect(ev)
	case EventUpload:
		out = m.handleUpload(ev)
	case EventSubmit:
		out, followup = m.handleSubmit(ev)
	case EventCancel:
		out = m.handleCancel(ev)
	default:
		out = m.handleOther(ev)
	}

	m.publish(out)
	if followup != nil {
		followup()
	}
	return out
}

func (m *Manager) handleBegin(ev Event) Outcome {
	us := m.userFor(ev.UserID)
	m.mu.Lock()
	err := us.machine.Begin()
	state := us.machine.State()
	m.updateGaugeLocked()
	m.mu.Unlock()

	if err != nil {
		return m.guidance(ev.UserID, state)
	}
	return Outcome{
		UserID:  ev.UserID,
		Kind:    OutcomePrompt,
		Code:    CodeChooseJobType,
		State:   state,
		Choices: stylize.All(),
	}
}

func (m *Manager) handleSelect(ev Event) Outcome {
	us := m.userFor(ev.UserID)
	jt, parseErr := stylize.ParseJobType(ev.JobTypeCode)

	m.mu.Lock()
	state := us.machine.State()
	if parseErr != nil || us.machine.Select(jt) != nil {
		m.mu.Unlock()
		if parseErr != nil && state == conversation.ChoosingJobType {
			return Outcome{UserID: ev.UserID, Kind: OutcomeRejected, Code: CodeUnknownJobType, State: state}
		}
		return m.guidance(ev.UserID, state)
	}
	state = us.machine.State()
	m.updateGaugeLocked()
	m.mu.Unlock()

	return Outcome{
		UserID:     ev.UserID,
		Kind:       OutcomePrompt,
		Code:       CodeSendImages,
		State:      state,
		JobType:    jt,
		HasJobType: true,
		Capacity:   stylize.Capacity(jt, m.cfg.MaxAssetsPerRequest),
	}
}

func (m *Manager) handleUpload(ev Event) Outcome {
	// Format validation happens at ingestion; invalid formats are never
	// buffered and do not touch the state machine.
	us := m.userFor(ev.UserID)
	format, err := stylize.ParseFormat(ev.AssetMIME)
	if err != nil {
		m.mu.Lock()
		state := us.machine.State()
		m.mu.Unlock()
		return Outcome{UserID: ev.UserID, Kind: OutcomeRejected, Code: CodeUnsupportedFormat, State: state}
	}
	m.mu.Lock()
	state := us.machine.State()
	if state == conversation.CollectingAssets &&
		us.machine.AssetCount() >= bufferSlack*m.cfg.MaxAssetsPerRequest {
		m.mu.Unlock()
		return Outcome{UserID: ev.UserID, Kind: OutcomeRejected, Code: CodeBufferFull, State: state}
	}
	n, addErr := us.machine.AddAsset(stylize.AssetRecord{Data: ev.AssetData, Format: format})
	m.mu.Unlock()

	if addErr != nil {
		return m.guidance(ev.UserID, state)
	}
	return Outcome{
		UserID:     ev.UserID,
		Kind:       OutcomeAccepted,
		Code:       CodeAssetBuffered,
		State:      state,
		AssetCount: n,
	}
}

// handleSubmit returns the immediate outcome plus, on acceptance, a followup
// that starts the request pipeline. The followup runs after the outcome has
// been published so the queued notice always precedes the terminal one.
func (m *Manager) handleSubmit(ev Event) (Outcome, func()) {
	us := m.userFor(ev.UserID)

	m.mu.Lock()
	state := us.machine.State()
	plan, ok, err := us.machine.PlanSubmit(m.cfg.MaxAssetsPerRequest)
	if err != nil {
		m.mu.Unlock()
		return m.guidance(ev.UserID, state), nil
	}
	jt := us.machine.JobType()
	if !ok {
		m.mu.Unlock()
		return Outcome{
			UserID:     ev.UserID,
			Kind:       OutcomeRejected,
			Code:       CodeNotEnoughImages,
			State:      state,
			JobType:    jt,
			HasJobType: true,
		}, nil
	}
	assets, gen, err := us.machine.BeginProcessing(plan)
	if err != nil {
		m.mu.Unlock()
		return m.guidance(ev.UserID, state), nil
	}
	state = us.machine.State()
	m.updateGaugeLocked()
	m.mu.Unlock()

	if m.metrics != nil && plan.Discarded > 0 {
		m.metrics.DiscardedAssets.Add(float64(plan.Discarded))
	}

	out := Outcome{
		UserID:     ev.UserID,
		Kind:       OutcomeAccepted,
		Code:       CodeProcessingQueued,
		State:      state,
		JobType:    jt,
		HasJobType: true,
		AssetCount: plan.Keep,
		Discarded:  plan.Discarded,
	}
	return out, func() {
		go m.runRequest(ev.UserID, jt, gen, assets, plan, ev.AsFiles)
	}
}

func (m *Manager) handleCancel(ev Event) Outcome {
	us := m.userFor(ev.UserID)
	m.mu.Lock()
	prev := us.machine.State()
	wasProcessing := us.machine.Reset()
	m.updateGaugeLocked()
	m.mu.Unlock()

	if wasProcessing {
		m.sup.Cancel(ev.UserID)
	}
	if prev == conversation.Idle {
		return Outcome{UserID: ev.UserID, Kind: OutcomePrompt, Code: CodeNothingToCancel, State: conversation.Idle}
	}
	return Outcome{UserID: ev.UserID, Kind: OutcomePrompt, Code: CodeRequestCancelled, State: conversation.Idle}
}

func (m *Manager) handleOther(ev Event) Outcome {
	us := m.userFor(ev.UserID)
	m.mu.Lock()
	state := us.machine.State()
	m.mu.Unlock()

	if state == conversation.Idle {
		return Outcome{UserID: ev.UserID, Kind: OutcomePrompt, Code: CodeUnknownCommand, State: state}
	}
	return m.guidance(ev.UserID, state)
}

// guidance names the expected next step for the current state without
// mutating anything.
func (m *Manager) guidance(userID string, state conversation.State) Outcome {
	code := CodeStartRequestFirst
	switch state {
	case conversation.ChoosingJobType:
		code = CodeChooseJobTypeFirst
	case conversation.CollectingAssets:
		code = CodeSendImages
	case conversation.Processing:
		code = CodeProcessingBusy
	}
	return Outcome{UserID: userID, Kind: OutcomePrompt, Code: code, State: state}
}

// runRequest is the per-request pipeline: materialize assets, submit to the
// supervisor, await the terminal outcome, and restore the conversation. It
// runs outside the user's event loop so Cancel stays responsive; the
// conversation state is re-checked between asset writes.
func (m *Manager) runRequest(
	userID string,
	jt stylize.JobType,
	gen uint64,
	assets []stylize.AssetRecord,
	plan stylize.TrimPlan,
	asFiles bool,
) {
	submittedAt := time.Now().UTC()

	tk, err := task.New(m.cfg.DataRoot, jt, userID)
	if err != nil {
		m.logger.Error().Err(err).Str("user_id", userID).Msg("task allocation failed")
		m.failRequest(userID, jt, gen, plan, inference.KindUnknown, submittedAt)
		return
	}

	for i, rec := range assets {
		if !m.stillProcessing(userID, gen) {
			m.logger.Debug().Str("user_id", userID).Msg("request cancelled while materializing assets")
			m.releaseAbandoned(userID, tk)
			m.recordTerminal(userID, jt, plan, supervisor.Outcome{Kind: supervisor.Cancelled}, submittedAt)
			return
		}
		if err := tk.WriteAsset(i, rec); err != nil {
			m.logger.Error().Err(err).Str("user_id", userID).Msg("asset materialization failed")
			m.releaseAbandoned(userID, tk)
			m.failRequest(userID, jt, gen, plan, inference.KindUnknown, submittedAt)
			return
		}
	}
	if !m.stillProcessing(userID, gen) {
		m.logger.Debug().Str("user_id", userID).Msg("request cancelled before submission")
		m.releaseAbandoned(userID, tk)
		m.recordTerminal(userID, jt, plan, supervisor.Outcome{Kind: supervisor.Cancelled}, submittedAt)
		return
	}

	compute := func(ctx context.Context) ([]stylize.ResultAsset, error) {
		if m.metrics != nil {
			m.metrics.ObserveQueueWait(time.Since(submittedAt))
		}
		started := time.Now()
		paths, err := m.engine.Run(ctx, tk)
		if m.metrics != nil {
			m.metrics.ObserveInferenceDuration(time.Since(started))
		}
		if err != nil {
			return nil, err
		}
		return loadResults(paths)
	}

	var h *supervisor.Handle
	for {
		// Only the pipeline holding the machine's current generation may
		// cancel or claim the user's slot; a stale one must not supersede
		// a request that replaced it.
		if !m.stillProcessing(userID, gen) {
			m.logger.Debug().Str("user_id", userID).Msg("request superseded before submission")
			m.releaseAbandoned(userID, tk)
			m.recordTerminal(userID, jt, plan, supervisor.Outcome{Kind: supervisor.Cancelled}, submittedAt)
			return
		}
		// Supersession: a still-live prior handle must reach its terminal
		// outcome before this request can claim the user's slot.
		if prev, ok := m.sup.InFlight(userID); ok {
			m.sup.Cancel(userID)
			_, _ = prev.Await(context.Background())
			continue
		}
		h, err = m.sup.Submit(userID, tk, compute)
		if errors.Is(err, supervisor.ErrRequestInFlight) {
			continue
		}
		break
	}
	if err != nil {
		m.logger.Error().Err(err).Str("user_id", userID).Msg("supervisor submission failed")
		m.releaseAbandoned(userID, tk)
		m.failRequest(userID, jt, gen, plan, inference.KindUnknown, submittedAt)
		return
	}

	out, _ := h.Await(context.Background())
	m.finishRequest(userID, jt, gen, plan, asFiles, out, submittedAt)
}

func (m *Manager) stillProcessing(userID string, gen uint64) bool {
	us := m.userFor(userID)
	m.mu.Lock()
	defer m.mu.Unlock()
	return us.machine.State() == conversation.Processing && us.machine.Generation() == gen
}

// releaseAbandoned reclaims a task that never reached the supervisor. The
// release shares the task's exactly-once guarantee with the supervisor path.
func (m *Manager) releaseAbandoned(userID string, tk *task.Task) {
	if err := tk.Done(); err != nil {
		m.logger.Warn().Err(err).Str("user_id", userID).Msg("task cleanup failed")
	}
}

func (m *Manager) finishRequest(
	userID string,
	jt stylize.JobType,
	gen uint64,
	plan stylize.TrimPlan,
	asFiles bool,
	out supervisor.Outcome,
	submittedAt time.Time,
) {
	us := m.userFor(userID)
	m.mu.Lock()
	us.machine.FinishProcessing(gen)
	m.updateGaugeLocked()
	m.mu.Unlock()

	m.recordTerminal(userID, jt, plan, out, submittedAt)

	switch out.Kind {
	case supervisor.Success:
		m.publish(Outcome{
			UserID:     userID,
			Kind:       OutcomeResultReady,
			State:      conversation.Idle,
			JobType:    jt,
			HasJobType: true,
			AssetCount: plan.Keep,
			Discarded:  plan.Discarded,
			Results:    out.Results,
			AsFiles:    asFiles,
		})
	case supervisor.Failed:
		m.publish(Outcome{
			UserID:     userID,
			Kind:       OutcomeFailed,
			State:      conversation.Idle,
			JobType:    jt,
			HasJobType: true,
			ErrorKind:  out.ErrorKind,
		})
	case supervisor.Cancelled:
		// The cancel handler already answered the user; the terminal
		// signal is consumed silently.
	}
}

func (m *Manager) failRequest(
	userID string,
	jt stylize.JobType,
	gen uint64,
	plan stylize.TrimPlan,
	kind inference.Kind,
	submittedAt time.Time,
) {
	m.finishRequest(userID, jt, gen, plan, false, supervisor.Outcome{
		Kind:      supervisor.Failed,
		ErrorKind: kind,
	}, submittedAt)
}

func (m *Manager) recordTerminal(
	userID string,
	jt stylize.JobType,
	plan stylize.TrimPlan,
	out supervisor.Outcome,
	submittedAt time.Time,
) {
	if m.metrics != nil {
		m.metrics.ObserveOutcome(jt.Shortcut(), out.Kind.String())
	}
	if m.store == nil {
		return
	}
	record := history.Record{
		UserID:      userID,
		JobType:     jt.Shortcut(),
		AssetCount:  plan.Keep,
		Discarded:   plan.Discarded,
		Outcome:     out.Kind.String(),
		SubmittedAt: submittedAt,
		FinishedAt:  time.Now().UTC(),
	}
	if out.Kind == supervisor.Failed {
		record.ErrorKind = string(out.ErrorKind)
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := m.store.SaveRecord(ctx, record); err != nil {
			m.logger.Warn().Err(err).Str("user_id", userID).Msg("history record save failed")
		}
	}()
}

func (m *Manager) publish(out Outcome) {
	m.mu.Lock()
	subs := m.subscribers[out.UserID]
	channels := make([]chan Outcome, 0, len(subs))
	for _, ch := range subs {
		channels = append(channels, ch)
	}
	m.mu.Unlock()

	for _, ch := range channels {
		select {
		case ch <- out:
		default:
		}
	}
}

func (m *Manager) observeEvent(event string) {
	if m.metrics != nil {
		m.metrics.ObserveEvent(event)
	}
}

func (m *Manager) updateGaugeLocked() {
	if m.metrics == nil {
		return
	}
	n := 0
	for _, us := range m.users {
		if us.machine.State() != conversation.Idle {
			n++
		}
	}
	m.metrics.ActiveConversations.Set(float64(n))
}

// loadResults reads result files into memory. The task's working directory
// is released before the outcome is delivered, so callers never hold paths
// into it.
func loadResults(paths []string) ([]stylize.ResultAsset, error) {
	out := make([]stylize.ResultAsset, 0, len(paths))
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		mimeType := "image/jpeg"
		if strings.EqualFold(filepath.Ext(path), ".png") {
			mimeType = "image/png"
		}
		out = append(out, stylize.ResultAsset{
			Name: filepath.Base(path),
			Data: data,
			MIME: mimeType,
		})
	}
	return out, nil
}
