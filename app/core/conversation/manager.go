package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	config "schedmate/app/configs"
	"schedmate/app/core/calendar"
	"schedmate/app/core/disambig"
	"schedmate/app/core/eventstore"
	"schedmate/app/core/extraction"
	"schedmate/app/core/slotfill"
	"schedmate/app/core/timeparse"
	"schedmate/app/pkg/logger"
	"schedmate/app/pkg/types"
)

// slotChange is the pseudo slot asked when an edit target is resolved but
// no changed field has been collected yet.
const slotChange slotfill.Slot = "change"

// Extractor is the extraction-service boundary the manager talks to.
// *extraction.Adapter satisfies it.
type Extractor interface {
	Extract(ctx context.Context, message string, sctx extraction.SessionContext) (extraction.Result, error)
}

// Manager is the top-level finite-state machine per user. It implements
// types.Agent: one inbound message in, one reply out, all session
// mutation serialized under the repository's per-user lock.
type Manager struct {
	name      string
	extractor Extractor
	engine    *slotfill.Engine
	submitter *calendar.Submitter
	store     *eventstore.Store
	sessions  *Repository
	limiter   *rateLimiter
	loc       *time.Location
	confirm   bool
	maxIdle   time.Duration

	now func() time.Time
}

func NewManager(name string, extractor Extractor, submitter *calendar.Submitter, store *eventstore.Store, sessionCfg config.SessionConfig) *Manager {
	loc, err := time.LoadLocation(sessionCfg.Timezone)
	if err != nil {
		logger.Error("Unknown timezone %q, falling back to UTC", sessionCfg.Timezone)
		loc = time.UTC
	}
	return &Manager{
		name:      name,
		extractor: extractor,
		engine:    slotfill.NewEngine(time.Duration(sessionCfg.DefaultDurationMin) * time.Minute),
		submitter: submitter,
		store:     store,
		sessions:  NewRepository(),
		limiter: newRateLimiter(sessionCfg.RateLimitMessages,
			time.Duration(sessionCfg.RateLimitWindowSec)*time.Second),
		loc:     loc,
		confirm: sessionCfg.ConfirmBeforeApply,
		maxIdle: time.Duration(sessionCfg.InactivityTimeoutSec) * time.Second,
		now:     time.Now,
	}
}

func (m *Manager) Name() string {
	return m.name
}

// SweepSessions evicts sessions past the inactivity timeout. Registered
// as a scheduler job.
func (m *Manager) SweepSessions() int {
	m.limiter.prune(m.now())
	evicted := m.sessions.Sweep(m.now(), m.maxIdle)
	if evicted > 0 {
		logger.Info("Evicted %d inactive session(s)", evicted)
	}
	return evicted
}

func (m *Manager) Process(ctx context.Context, msg types.Message) (types.Message, error) {
	userID := strings.TrimSpace(msg.UserID)
	if userID == "" {
		userID = "anonymous"
	}
	content := strings.TrimSpace(msg.Content)
	if content == "" {
		return m.newReply(msg, "", nil), nil
	}

	now := m.now().In(m.loc)
	if !m.limiter.Allow(userID, now) {
		return m.newReply(msg, replyRateLimited, map[string]interface{}{"rate_limited": true}), nil
	}

	sess := m.sessions.Acquire(userID, now)
	defer m.sessions.Release(userID)
	sess.LastActivity = now

	reply := m.handle(ctx, sess, content, now)
	return m.newReply(msg, reply, map[string]interface{}{"phase": sess.State.Phase.String()}), nil
}

func (m *Manager) handle(ctx context.Context, sess *Session, content string, now time.Time) string {
	if isCancelCommand(content) {
		if sess.State.Phase == PhaseIdle {
			return replyClarify
		}
		sess.Reset()
		return replyDiscarded
	}
	if isHelpCommand(content) {
		return helpText
	}

	switch sess.State.Phase {
	case PhaseIdle:
		return m.handleIdle(ctx, sess, content, now)
	case PhaseAwaitingSlot:
		return m.handleSlotAnswer(ctx, sess, content, now)
	case PhaseAwaitingDisambiguation:
		return m.handleSelection(ctx, sess, content, now)
	case PhaseAwaitingConfirmation:
		return m.handleConfirmation(ctx, sess, content, now)
	case PhaseErrorRecovery:
		return m.handleRecovery(ctx, sess, content, now)
	}
	sess.Reset()
	return replyClarify
}

func (m *Manager) handleIdle(ctx context.Context, sess *Session, content string, now time.Time) string {
	res, err := m.extract(ctx, sess, content)
	if err != nil {
		return m.extractionFailure(err)
	}

	switch res.Intent {
	case extraction.IntentHelp:
		return helpText
	case extraction.IntentQuery:
		return m.handleQuery(ctx, res, now)
	case extraction.IntentCreate:
		sess.Intent = extraction.IntentCreate
		sess.Draft = slotfill.Draft{}
		m.engine.Merge(&sess.Draft, res.Fields)
		return m.advanceCreate(ctx, sess, now)
	case extraction.IntentEdit, extraction.IntentCancel:
		sess.Intent = res.Intent
		sess.Draft = slotfill.Draft{}
		if res.Intent == extraction.IntentEdit {
			m.engine.Merge(&sess.Draft, res.Fields)
		}
		return m.resolveTarget(ctx, sess, res, now)
	default:
		return replyClarify
	}
}

func (m *Manager) handleSlotAnswer(ctx context.Context, sess *Session, content string, now time.Time) string {
	slot := sess.State.Slot

	res, err := m.extract(ctx, sess, content)
	switch {
	case err != nil && isTransient(err):
		return replyTransient
	case err != nil:
		// Malformed extraction output. The raw fragment still stands as
		// the answer for the pending slot.
		res = extraction.Result{Intent: sess.Intent}
	}

	if slot == slotChange {
		m.engine.Merge(&sess.Draft, res.Fields)
		if !m.engine.HasChanges(sess.Draft) {
			return changePrompt(sess.Target, m.loc)
		}
		return m.advanceEdit(ctx, sess, now)
	}

	m.engine.Merge(&sess.Draft, res.Fields)
	if slotEmpty(sess.Draft, slot) {
		m.engine.MergeAnswer(&sess.Draft, slot, content)
	}

	switch sess.Intent {
	case extraction.IntentEdit:
		return m.advanceEdit(ctx, sess, now)
	default:
		return m.advanceCreate(ctx, sess, now)
	}
}

func (m *Manager) handleSelection(ctx context.Context, sess *Session, content string, now time.Time) string {
	ref, ok := disambig.Select(content, sess.Candidates)
	if !ok {
		// Invalid selection keeps the candidate list and state untouched.
		return candidateList(sess.Candidates, m.loc)
	}
	sess.Target = ref
	sess.Draft.TargetID = ref.ID
	sess.Candidates = nil

	switch sess.Intent {
	case extraction.IntentCancel:
		sess.State = State{Phase: PhaseAwaitingConfirmation}
		return confirmCancelPrompt(sess.Target, m.loc)
	default:
		return m.advanceEdit(ctx, sess, now)
	}
}

func (m *Manager) handleConfirmation(ctx context.Context, sess *Session, content string, now time.Time) string {
	if isNo(content) {
		sess.Reset()
		return replyDiscarded
	}
	if isYes(content) {
		switch sess.Intent {
		case extraction.IntentCancel:
			return m.finalizeCancel(ctx, sess)
		case extraction.IntentEdit:
			return m.finalizeEdit(ctx, sess, now)
		default:
			return m.finalizeCreate(ctx, sess, now)
		}
	}

	if sess.Intent == extraction.IntentCancel {
		return confirmCancelPrompt(sess.Target, m.loc)
	}

	// A non-yes/no reply during create/edit confirmation may be a field
	// change ("make it 5pm instead").
	res, err := m.extract(ctx, sess, content)
	if err == nil && hasFields(res.Fields) {
		m.engine.Merge(&sess.Draft, res.Fields)
	}
	if sess.Intent == extraction.IntentEdit {
		return confirmUpdatePrompt(sess.Target, m.loc)
	}
	return confirmCreatePrompt(sess.Draft)
}

func (m *Manager) handleRecovery(ctx context.Context, sess *Session, content string, now time.Time) string {
	if !isRetryCommand(content) {
		return replyRecoveryHint
	}
	if sess.PendingOp == nil {
		sess.Reset()
		return replyClarify
	}
	// Resubmission reuses the same correlation id, so a backend that
	// already applied the first attempt will not apply it twice.
	return m.submit(ctx, sess, *sess.PendingOp)
}

// resolveTarget finds the event an edit/cancel refers to, asking the user
// to pick when more than one plausibly matches.
func (m *Manager) resolveTarget(ctx context.Context, sess *Session, res extraction.Result, now time.Time) string {
	hint := strings.TrimSpace(res.TargetHint)

	if hint == "" || disambig.IsLastReference(hint) {
		last, err := m.store.Last(ctx, sess.UserID)
		if err != nil {
			sess.Reset()
			return replyNoRecent
		}
		sess.Target = last
		sess.Draft.TargetID = last.ID
		if sess.Intent == extraction.IntentCancel {
			sess.State = State{Phase: PhaseAwaitingConfirmation}
			return confirmCancelPrompt(sess.Target, m.loc)
		}
		return m.advanceEdit(ctx, sess, now)
	}

	candidates := m.gatherCandidates(ctx, sess.UserID, hint)

	ref := disambig.Reference{Title: hint}
	if sess.Intent == extraction.IntentCancel && res.Fields.Date != "" {
		if day, err := timeparse.Date(res.Fields.Date, now); err == nil {
			ref.Date = day
		}
	}

	outcome := disambig.Resolve(ref, candidates)
	switch outcome.State {
	case disambig.Resolved:
		sess.Target = outcome.Match
		sess.Draft.TargetID = outcome.Match.ID
		if sess.Intent == extraction.IntentCancel {
			sess.State = State{Phase: PhaseAwaitingConfirmation}
			return confirmCancelPrompt(sess.Target, m.loc)
		}
		return m.advanceEdit(ctx, sess, now)
	case disambig.Ambiguous:
		sess.Candidates = outcome.Choices
		sess.State = State{Phase: PhaseAwaitingDisambiguation}
		return candidateList(sess.Candidates, m.loc)
	default:
		sess.Reset()
		return notFoundReply(hint)
	}
}

// gatherCandidates unions the user's recent events with the backend's
// text search, recent first, deduped by id.
func (m *Manager) gatherCandidates(ctx context.Context, userID string, hint string) []calendar.EventRef {
	recent, err := m.store.Recent(ctx, userID, 0)
	if err != nil {
		logger.Error("Recent events lookup failed for %s: %v", userID, err)
	}

	seen := make(map[string]bool, len(recent))
	candidates := make([]calendar.EventRef, 0, len(recent))
	for _, r := range recent {
		seen[r.ID] = true
		candidates = append(candidates, r)
	}

	found, err := m.submitter.Backend().SearchByText(ctx, hint)
	if err != nil {
		logger.Error("Backend search failed for %q: %v", hint, err)
	}
	for _, f := range found {
		if !seen[f.ID] {
			seen[f.ID] = true
			candidates = append(candidates, f)
		}
	}
	return candidates
}

// advanceCreate runs the completion check after a merge: ask for the next
// missing slot, or finalize (behind confirmation when configured).
func (m *Manager) advanceCreate(ctx context.Context, sess *Session, now time.Time) string {
	if slot, ok := m.engine.NextSlot(sess.Draft); ok {
		sess.State = State{Phase: PhaseAwaitingSlot, Slot: slot}
		return slotPrompt(slot)
	}
	if m.confirm {
		sess.State = State{Phase: PhaseAwaitingConfirmation}
		return confirmCreatePrompt(sess.Draft)
	}
	return m.finalizeCreate(ctx, sess, now)
}

func (m *Manager) advanceEdit(ctx context.Context, sess *Session, now time.Time) string {
	if !m.engine.HasChanges(sess.Draft) {
		sess.State = State{Phase: PhaseAwaitingSlot, Slot: slotChange}
		return changePrompt(sess.Target, m.loc)
	}
	if m.confirm {
		sess.State = State{Phase: PhaseAwaitingConfirmation}
		return confirmUpdatePrompt(sess.Target, m.loc)
	}
	return m.finalizeEdit(ctx, sess, now)
}

func (m *Manager) finalizeCreate(ctx context.Context, sess *Session, now time.Time) string {
	fields, err := m.engine.FinalizeCreate(sess.Draft, now)
	if err != nil {
		return m.reopenSlot(sess, err)
	}
	op := calendar.BuildCreate(sess.UserID, fields, sess.NextOpCounter())
	return m.submit(ctx, sess, op)
}

func (m *Manager) finalizeEdit(ctx context.Context, sess *Session, now time.Time) string {
	fields, err := m.engine.FinalizeUpdate(sess.Draft, sess.Target, now)
	if err != nil {
		return m.reopenSlot(sess, err)
	}
	op := calendar.BuildUpdate(sess.UserID, sess.Target.ID, fields, sess.NextOpCounter())
	return m.submit(ctx, sess, op)
}

func (m *Manager) finalizeCancel(ctx context.Context, sess *Session) string {
	op := calendar.BuildDelete(sess.UserID, sess.Target.ID, sess.NextOpCounter())
	return m.submit(ctx, sess, op)
}

// submit sends one operation to the backend. Success resets the session
// to idle and records the touched event; failure preserves the draft and
// the operation so an explicit retry resubmits the same correlation id.
func (m *Manager) submit(ctx context.Context, sess *Session, op calendar.Operation) string {
	ref, err := m.submitter.Submit(ctx, op)
	if err != nil {
		if errors.Is(err, calendar.ErrNotFound) {
			logger.Error("Operation %s target missing: %v", op.Kind, err)
			sess.Reset()
			return notFoundReply("")
		}
		logger.Error("Operation %s failed for %s: %v", op.Kind, sess.UserID, err)
		pending := op
		sess.PendingOp = &pending
		sess.State = State{Phase: PhaseErrorRecovery}
		return replyRecoveryHint
	}

	target := sess.Target
	sess.Reset()

	switch op.Kind {
	case calendar.OpDelete:
		if err := m.store.Remove(ctx, sess.UserID, op.TargetID); err != nil {
			logger.Error("Failed to drop cached event %s: %v", op.TargetID, err)
		}
		return cancelledReply(target)
	case calendar.OpUpdate:
		if err := m.store.Record(ctx, sess.UserID, ref); err != nil {
			logger.Error("Failed to cache event %s: %v", ref.ID, err)
		}
		return updatedReply(ref, m.loc)
	default:
		if err := m.store.Record(ctx, sess.UserID, ref); err != nil {
			logger.Error("Failed to cache event %s: %v", ref.ID, err)
		}
		return createdReply(ref, m.loc)
	}
}

// reopenSlot maps a finalization failure back to the slot that needs to
// be collected again.
func (m *Manager) reopenSlot(sess *Session, err error) string {
	var serr *slotfill.SlotError
	if !errors.As(err, &serr) {
		logger.Error("Finalization failed for %s: %v", sess.UserID, err)
		sess.Reset()
		return replyClarify
	}
	clearSlot(&sess.Draft, serr.Slot)
	sess.State = State{Phase: PhaseAwaitingSlot, Slot: serr.Slot}
	return reaskPrompt(serr.Slot)
}

func (m *Manager) handleQuery(ctx context.Context, res extraction.Result, now time.Time) string {
	frag := strings.TrimSpace(res.Fields.DateRange)
	if frag == "" {
		frag = strings.TrimSpace(res.Fields.Date)
	}
	if frag == "" {
		frag = "today"
	}

	from, to, label, err := queryRange(frag, now)
	if err != nil {
		return fmt.Sprintf("I couldn't work out which day you mean by %q.", frag)
	}

	events, err := m.submitter.Backend().ListRange(ctx, from, to)
	if err != nil {
		logger.Error("Calendar listing failed: %v", err)
		return replyTransient
	}
	return queryReply(label, events, m.loc)
}

// queryRange turns a range fragment into [from, to) plus a display label.
func queryRange(frag string, now time.Time) (time.Time, time.Time, string, error) {
	lower := strings.ToLower(strings.TrimSpace(frag))
	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	switch lower {
	case "this week", "week":
		return startOfDay, startOfDay.AddDate(0, 0, 7), "this week", nil
	case "next week":
		from := startOfDay.AddDate(0, 0, 7)
		return from, from.AddDate(0, 0, 7), "next week", nil
	}

	day, err := timeparse.Date(frag, now)
	if err != nil {
		return time.Time{}, time.Time{}, "", err
	}
	label := "on " + day.Format("Monday, Jan 2")
	switch lower {
	case "today":
		label = "today"
	case "tomorrow":
		label = "tomorrow"
	}
	return day, day.AddDate(0, 0, 1), label, nil
}

func (m *Manager) extract(ctx context.Context, sess *Session, content string) (extraction.Result, error) {
	sctx := extraction.SessionContext{
		State:       sess.State.Phase.String(),
		PendingSlot: string(sess.State.Slot),
		DraftTitle:  sess.Draft.Title,
		DraftDate:   sess.Draft.Date,
		DraftTime:   sess.Draft.Time,
	}
	return m.extractor.Extract(ctx, content, sctx)
}

func (m *Manager) extractionFailure(err error) string {
	if isTransient(err) {
		logger.Error("Extraction unavailable: %v", err)
		return replyTransient
	}
	logger.Error("Extraction rejected: %v", err)
	return replyClarify
}

func (m *Manager) newReply(msg types.Message, content string, meta map[string]interface{}) types.Message {
	if meta == nil {
		meta = map[string]interface{}{}
	}
	for k, v := range msg.Meta {
		if _, exists := meta[k]; !exists {
			meta[k] = v
		}
	}
	return types.Message{
		ID:        fmt.Sprintf("asst-%d", m.now().UnixNano()),
		Content:   content,
		Role:      types.MessageRoleAssistant,
		ChannelID: msg.ChannelID,
		UserID:    msg.UserID,
		RequestID: msg.RequestID,
		Meta:      meta,
	}
}

func changePrompt(target calendar.EventRef, loc *time.Location) string {
	return fmt.Sprintf("What would you like to change about %s?", eventLine(target, loc))
}

func isTransient(err error) bool {
	var terr *extraction.TransientError
	return errors.As(err, &terr)
}

func hasFields(f extraction.Fields) bool {
	return f.Title != "" || f.Date != "" || f.Time != "" || f.Duration != "" ||
		f.Description != "" || f.Location != ""
}

func slotEmpty(d slotfill.Draft, slot slotfill.Slot) bool {
	switch slot {
	case slotfill.SlotDate:
		return d.Date == ""
	case slotfill.SlotTime:
		return d.Time == ""
	case slotfill.SlotTitle:
		return d.Title == ""
	case slotfill.SlotDuration:
		return d.Duration == ""
	}
	return false
}

func clearSlot(d *slotfill.Draft, slot slotfill.Slot) {
	switch slot {
	case slotfill.SlotDate:
		d.Date = ""
	case slotfill.SlotTime:
		d.Time = ""
	case slotfill.SlotTitle:
		d.Title = ""
	case slotfill.SlotDuration:
		d.Duration = ""
	}
}
