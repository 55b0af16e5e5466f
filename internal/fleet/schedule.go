package fleet

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/ShayCichocki/armada/internal/agent"
	"github.com/ShayCichocki/armada/internal/conflict"
	"github.com/ShayCichocki/armada/internal/events"
	"github.com/ShayCichocki/armada/internal/squad"
	"github.com/ShayCichocki/armada/pkg/models"
)

// tick is one scheduling pass. It runs after every inbox message and on the ticker.
func (c *Coordinator) tick() {
	if c.draining && len(c.inflight) == 0 {
		c.finishDrain()
		return
	}
	if c.state != StateRunning {
		return
	}

	if promoted := c.backlog.Promote(); len(promoted) > 0 {
		for _, id := range promoted {
			c.saveStory(id)
		}
		c.dirtyProgress = true
	}
	c.refreshClusters()
	c.integrate()

	for _, id := range c.squads.RetireIdle(c.hasReadyWork) {
		c.publishSquadActivity(id, events.SquadRetired, "")
	}

	if !c.paused && !c.draining {
		c.assignReady()
		c.refreshClusters()
		c.checkComplete()
	}
}

func (c *Coordinator) hasReadyWork(domain string) bool {
	return len(c.backlog.GetReady(domain)) > 0
}

// refreshClusters recomputes the cluster table. Phase unlocks follow from it.
func (c *Coordinator) refreshClusters() {
	exhausted := make(map[string]bool)
	for _, st := range c.backlog.ExhaustedFailed(c.policy.Retry.MaxAttempts) {
		exhausted[st.ID] = true
	}
	stuck := c.backlog.Stuck(c.policy.Retry.MaxAttempts)
	_, perDomain := c.squads.ActiveAgents()
	if c.table.Refresh(c.backlog.Snapshot(), exhausted, stuck, perDomain) {
		c.dirtyDomains = true
	}
}

// assignReady places every ready story of an unlocked domain on a squad.
func (c *Coordinator) assignReady() {
	for _, st := range c.backlog.GetReady("") {
		if !c.table.Unlocked(st.Domain) {
			continue
		}
		before := c.squads.Live()
		sq, err := c.squads.Place(st)
		if err != nil {
			var capErr *squad.AssignmentCapacityError
			if errors.As(err, &capErr) {
				c.debugf("[fleet] story %s waiting: %s", st.ID, capErr.Reason)
				continue
			}
			log.Printf("[fleet] failed to place story %s: %v", st.ID, err)
			continue
		}
		if c.squads.Live() > before {
			log.Printf("[fleet] %s formed %s (%s) for domain %s", c.project, sq.ID, sq.Name, st.Domain)
			c.publishSquadActivity(sq.ID, events.SquadFormed, "")
		}
		c.launch(st, sq)
	}
}

// launch starts an execution of a story the squad manager has just placed.
func (c *Coordinator) launch(st *models.Story, sq *models.Squad) {
	if err := c.backlog.Assign(st.ID, sq.ID); err != nil {
		c.squads.Release(sq.ID, st.ID)
		c.debugf("[fleet] assign %s: %v", st.ID, err)
		return
	}
	if err := c.transition(st.ID, models.StoryStatusInProgress, ""); err != nil {
		c.squads.Release(sq.ID, st.ID)
		return
	}
	current, err := c.backlog.Get(st.ID)
	if err != nil {
		return
	}

	member, _ := c.squads.Worker(sq.ID, st.ID)
	role := member.Role
	if role == "" {
		role = models.RoleCoder
	}

	runCtx, cancel := context.WithCancel(c.ctx)
	r := &run{
		id:      uuid.New().String()[:8],
		storyID: st.ID,
		squadID: sq.ID,
		agentID: member.ID,
		role:    role,
		keys:    conflict.Candidate{Resources: current.Resources}.Keys(),
		started: c.now(),
		cancel:  cancel,
	}
	c.inflight[st.ID] = r

	c.publishSquadActivity(sq.ID, events.SquadAssigned, st.ID)
	c.bus.Publish(&events.StoryStarted{
		StoryID: st.ID,
		Title:   current.Title,
		Domain:  current.Domain,
		SquadID: sq.ID,
		AgentID: member.ID,
		Attempt: current.Attempts + 1,
	})
	c.debugf("[fleet] run %s: story %s on %s (attempt %d)", r.id, st.ID, member.ID, current.Attempts+1)

	a := agent.Assignment{
		Project: c.project,
		Story:   current,
		SquadID: sq.ID,
		AgentID: member.ID,
		Role:    role,
		Attempt: current.Attempts + 1,
	}
	reporter := agent.ReporterFunc(func(msgType models.MessageType, content, toolName string) {
		c.send(agentMsg{run: r, msgType: msgType, content: content, toolName: toolName, at: c.now()})
	})
	go func() {
		res := c.executor.Execute(runCtx, a, reporter)
		c.send(resultMsg{run: r, result: res})
	}()
}

func (c *Coordinator) handleAgentMessage(m agentMsg) {
	if c.inflight[m.run.storyID] != m.run {
		return
	}
	msgType := m.msgType
	if !msgType.Valid() {
		msgType = models.MessageChat
	}
	msg := models.AgentMessage{
		ID:        uuid.New().String()[:8],
		AgentID:   m.run.agentID,
		AgentType: m.run.role,
		SquadID:   m.run.squadID,
		StoryID:   m.run.storyID,
		Type:      msgType,
		Content:   m.content,
		ToolName:  m.toolName,
		Timestamp: m.at,
	}
	if c.store != nil {
		if err := c.store.SaveMessage(c.project, msg, c.policy.Events.MessageWindow); err != nil {
			c.debugf("[fleet] persist message: %v", err)
		}
	}
	c.bus.Publish(&events.AgentMessage{AgentMessage: msg})
}

// handleResult advances a story after its execution returns.
func (c *Coordinator) handleResult(r *run, res agent.Result) {
	if c.inflight[r.storyID] != r {
		c.debugf("[fleet] dropping stale result of run %s (story %s)", r.id, r.storyID)
		return
	}
	delete(c.inflight, r.storyID)
	r.cancel()
	c.metrics.recordTokens(res.TokensUsed)
	c.dirtyProgress = true

	st, err := c.backlog.Get(r.storyID)
	if err != nil {
		return
	}
	if !res.Success {
		c.squads.Release(r.squadID, st.ID)
		c.publishSquadActivity(r.squadID, events.SquadReleased, st.ID)
		c.debugf("[fleet] %v", res.Err(st.ID))
		c.fail(st, res.Reason)
		return
	}

	if res.Tests.Written > 0 || res.Tests.Failing > 0 {
		c.squads.BeginTesting(r.squadID, st.ID)
		if err := c.transition(st.ID, models.StoryStatusTesting, ""); err != nil {
			return
		}
		// Publish the busy tester and the testing story before the outcome is applied.
		c.flush()
		c.squads.EndTesting(r.squadID, st.ID)
		if res.Tests.Failing > 0 {
			c.squads.Release(r.squadID, st.ID)
			c.publishSquadActivity(r.squadID, events.SquadReleased, st.ID)
			c.fail(st, fmt.Sprintf("%d of %d tests failing", res.Tests.Failing, res.Tests.Written))
			return
		}
	}

	c.squads.Release(r.squadID, st.ID)
	c.publishSquadActivity(r.squadID, events.SquadReleased, st.ID)
	if err := c.transition(st.ID, models.StoryStatusMerging, ""); err != nil {
		return
	}
	c.enterMergeWindow(st, r.squadID, res)
	c.integrate()
}

// enterMergeWindow resolves a finished story against every story already waiting
// to integrate and orders it behind the ones it overlaps.
func (c *Coordinator) enterMergeWindow(st *models.Story, squadID string, res agent.Result) {
	entry := &mergeEntry{
		candidate: conflict.Candidate{
			StoryID:     st.ID,
			Resources:   st.Resources,
			Changes:     res.Changes,
			CompletedAt: c.now(),
		},
		squadID: squadID,
		tests:   res.Tests,
		tokens:  res.TokensUsed,
		after:   make(map[string]bool),
	}

	keys := entry.candidate.Keys()
	for _, otherID := range append([]string(nil), c.mergeOrder...) {
		other := c.merging[otherID]
		if len(conflict.Overlap(other.candidate.Keys(), keys)) == 0 {
			continue
		}
		out := c.resolver.Resolve(other.candidate, entry.candidate)
		c.recordConflict(out)
		if out.Resolution == models.ResolutionEscalated {
			c.escalate(out)
			return
		}
		if out.First == otherID {
			entry.after[otherID] = true
		} else {
			other.after[st.ID] = true
		}
	}

	c.merging[st.ID] = entry
	c.mergeOrder = append(c.mergeOrder, st.ID)
}

func (c *Coordinator) recordConflict(out conflict.Outcome) {
	for _, rec := range out.Records {
		if c.store != nil {
			if err := c.store.SaveConflict(c.project, rec); err != nil {
				log.Printf("[fleet] failed to persist conflict %s: %v", rec.ID, err)
			}
		}
		if c.recorder != nil {
			c.recorder.RecordConflict(c.project, rec.Resolution)
		}
	}
	c.metrics.recordConflict(out.Resolution)
	c.bus.Publish(&events.Conflict{
		StoryIDs:   []string{out.First, out.Second},
		Resolution: out.Resolution,
		Records:    out.Records,
	})
	c.debugf("[fleet] conflict %s vs %s on %v: %s", out.First, out.Second, out.Keys(), out.Resolution)
}

// escalate sends both stories back to ready and holds them until the conflict is resolved.
func (c *Coordinator) escalate(out conflict.Outcome) {
	id := out.ConflictID()
	ids := []string{out.First, out.Second}
	for _, sid := range ids {
		c.leaveMergeWindow(sid)
		if err := c.transition(sid, models.StoryStatusReady, ""); err != nil {
			continue
		}
		if err := c.backlog.TagConflict(sid, id); err == nil {
			c.saveStory(sid)
		}
	}

	var keys []string
	for _, rec := range out.Records {
		if rec.Resolution == models.ResolutionEscalated {
			keys = append(keys, rec.ResourceKey)
		}
	}
	esc := &conflict.ConflictEscalatedError{ConflictID: id, StoryIDs: ids, ResourceKeys: keys}
	log.Printf("[fleet] %s: %v", c.project, esc)
	go func() {
		if err := c.sink.Enqueue(c.ctx, esc); err != nil {
			log.Printf("[fleet] failed to enqueue conflict %s: %v", id, err)
		}
	}()
}

func (c *Coordinator) leaveMergeWindow(id string) {
	delete(c.merging, id)
	for i, sid := range c.mergeOrder {
		if sid == id {
			c.mergeOrder = append(c.mergeOrder[:i], c.mergeOrder[i+1:]...)
			break
		}
	}
}

// integrate completes every merging story that is no longer held.
// A story is held while a story it must follow is still merging, or while an
// executing story that overlaps it started before it finished.
func (c *Coordinator) integrate() {
	for progressed := true; progressed; {
		progressed = false
		for _, id := range append([]string(nil), c.mergeOrder...) {
			e, ok := c.merging[id]
			if !ok || c.held(e) {
				continue
			}
			c.complete(id, e)
			progressed = true
		}
	}
}

func (c *Coordinator) held(e *mergeEntry) bool {
	for dep := range e.after {
		if _, ok := c.merging[dep]; ok {
			return true
		}
	}
	keys := e.candidate.Keys()
	for _, r := range c.inflight {
		if r.started.Before(e.candidate.CompletedAt) && len(conflict.Overlap(r.keys, keys)) > 0 {
			return true
		}
	}
	return false
}

func (c *Coordinator) complete(id string, e *mergeEntry) {
	c.leaveMergeWindow(id)
	if err := c.transition(id, models.StoryStatusDone, ""); err != nil {
		return
	}
	st, err := c.backlog.Get(id)
	if err != nil {
		return
	}

	var dur int64
	if st.StartedAt != nil && st.CompletedAt != nil {
		d := st.CompletedAt.Sub(*st.StartedAt)
		dur = d.Milliseconds()
		c.metrics.recordCompletion(*st.CompletedAt, d)
		if c.recorder != nil {
			c.recorder.RecordStory(c.project, models.StoryStatusDone, d)
		}
	}
	c.squads.RecordCompletion(e.squadID, e.tests.Written, e.tests.Passing)
	c.dirtyDomains = true

	c.bus.Publish(&events.StoryCompleted{
		StoryID:      id,
		Domain:       st.Domain,
		SquadID:      e.squadID,
		DurationMs:   dur,
		TokensUsed:   e.tokens,
		TestsWritten: e.tests.Written,
		TestsPassing: e.tests.Passing,
	})
	c.debugf("[fleet] story %s integrated (%dms)", id, dur)
}

// fail records a failed execution and schedules the retry if budget remains.
func (c *Coordinator) fail(st *models.Story, reason string) {
	if err := c.transition(st.ID, models.StoryStatusFailed, reason); err != nil {
		return
	}
	if c.recorder != nil {
		var d time.Duration
		if st.StartedAt != nil {
			d = c.now().Sub(*st.StartedAt)
		}
		c.recorder.RecordStory(c.project, models.StoryStatusFailed, d)
	}

	ev := &events.StoryFailed{
		StoryID:   st.ID,
		Domain:    st.Domain,
		Reason:    reason,
		Attempts:  st.Attempts,
		WillRetry: !st.Exhausted(c.policy.Retry.MaxAttempts),
	}
	if ev.WillRetry {
		if err := c.transition(st.ID, models.StoryStatusPending, ""); err == nil {
			retryAt := c.now().Add(c.policy.Retry.Backoff(st.Attempts + 1))
			if err := c.backlog.SetRetryAt(st.ID, retryAt); err == nil {
				c.saveStory(st.ID)
			}
			ev.RetryAt = &retryAt
		}
	}
	c.bus.Publish(ev)

	if !ev.WillRetry {
		log.Printf("[fleet] %s story %s failed after %d attempts: %s", c.project, st.ID, st.Attempts+1, reason)
		c.bus.Publish(&events.Error{
			Code:    "retry_exhausted",
			StoryID: st.ID,
			Domain:  st.Domain,
			Reason:  reason,
		})
		c.publishFailedSummary()
		c.dirtyDomains = true
	}
}

// finishDrain ends a stop: stories still executing are abandoned and failed.
func (c *Coordinator) finishDrain() {
	if c.drainTimer != nil {
		c.drainTimer.Stop()
		c.drainTimer = nil
	}

	ids := make([]string, 0, len(c.inflight))
	for id := range c.inflight {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		r := c.inflight[id]
		r.cancel()
		delete(c.inflight, id)
		c.squads.EndTesting(r.squadID, id)
		c.squads.Release(r.squadID, id)
		if c.transition(id, models.StoryStatusFailed, DrainReason) == nil {
			st, _ := c.backlog.Get(id)
			c.bus.Publish(&events.StoryFailed{
				StoryID:   id,
				Domain:    st.Domain,
				Reason:    DrainReason,
				Attempts:  st.Attempts,
				WillRetry: !st.Exhausted(c.policy.Retry.MaxAttempts),
			})
		}
	}
	c.integrate()

	for _, id := range c.squads.RetireAll() {
		c.publishSquadActivity(id, events.SquadRetired, "")
	}
	c.draining = false
	c.paused = false
	c.setState(StateIdle)

	var err error
	if len(ids) > 0 {
		err = &DrainTimeoutError{StoryIDs: ids}
		log.Printf("[fleet] %s stopped: %v", c.project, err)
		c.publishFailedSummary()
	} else {
		log.Printf("[fleet] %s stopped", c.project)
	}
	snap := c.buildSnapshot()
	for _, w := range c.stopWaiters {
		w <- reply{snap: snap, err: err}
	}
	c.stopWaiters = nil
}

// checkComplete finishes the fleet once every story is done or stuck behind an
// exhausted failure, and nothing is executing, merging or held by a conflict.
func (c *Coordinator) checkComplete() {
	if len(c.inflight) > 0 || len(c.merging) > 0 {
		return
	}
	stuck := c.backlog.Stuck(c.policy.Retry.MaxAttempts)
	for _, st := range c.backlog.Snapshot() {
		if st.Status == models.StoryStatusDone {
			continue
		}
		if st.ConflictID != "" || !stuck[st.ID] {
			return
		}
	}

	payload := &events.Complete{Phase: events.CompletePhaseCompleted, Degraded: c.table.Degraded()}
	next := StateCompleted
	if phase, failed := c.table.FailedPhase(); failed {
		payload.Phase = events.CompletePhaseError
		payload.FailedPhase = phase
		next = StateError
	}

	for _, id := range c.squads.RetireAll() {
		c.publishSquadActivity(id, events.SquadRetired, "")
	}
	c.refreshClusters()
	c.setState(next)
	c.bus.Publish(payload)
	log.Printf("[fleet] %s finished: phase=%s degraded=%v", c.project, payload.Phase, payload.Degraded)
}

func (c *Coordinator) publishSquadActivity(squadID, action, storyID string) {
	status := models.SquadStatusCompleted
	for _, sq := range c.squads.Snapshot() {
		if sq.ID == squadID {
			status = sq.Status
			break
		}
	}
	c.bus.Publish(&events.SquadActivity{SquadID: squadID, Action: action, StoryID: storyID, Status: status})
	c.dirtySquads = true
}

func (c *Coordinator) publishFailedSummary() {
	c.bus.Publish(&events.FailedSummary{Stories: c.failedStories()})
}

func (c *Coordinator) failedStories() []events.FailedStory {
	failed := c.backlog.Failed()
	out := make([]events.FailedStory, 0, len(failed))
	for _, st := range failed {
		out = append(out, events.FailedStory{
			ID:        st.ID,
			Title:     st.Title,
			Domain:    st.Domain,
			Attempts:  st.Attempts,
			LastError: st.LastError,
			Exhausted: st.Exhausted(c.policy.Retry.MaxAttempts),
		})
	}
	return out
}
