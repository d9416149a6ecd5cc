package session

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/Lmdudester/Clawd-sub001/internal/container"
	"github.com/Lmdudester/Clawd-sub001/internal/events/bus"
	"github.com/Lmdudester/Clawd-sub001/internal/session/store"
	v1 "github.com/Lmdudester/Clawd-sub001/pkg/api/v1"
)

// markDirtyLocked schedules a snapshot write. Mutations within the debounce
// window coalesce into one save. Caller holds the lock.
func (m *Manager) markDirtyLocked() {
	if m.persistTimer != nil {
		m.persistTimer.Reset(persistDebounce)
		return
	}
	m.persistTimer = time.AfterFunc(persistDebounce, m.persistNow)
}

func (m *Manager) persistNow() {
	m.mu.Lock()
	state := m.snapshotLocked()
	m.mu.Unlock()

	if err := m.store.Save(state); err != nil {
		m.logger.Error("session snapshot save failed", zap.Error(err))
	}
}

// snapshotLocked builds the snapshot document, oldest session first so the
// file is stable across saves.
func (m *Manager) snapshotLocked() *store.State {
	state := &store.State{
		Sessions:       make([]store.PersistedSession, 0, len(m.sessions)),
		InternalSecret: m.internalSecret,
	}
	for _, sess := range m.sessions {
		messages := make([]v1.SessionMessage, len(sess.messages))
		copy(messages, sess.messages)
		state.Sessions = append(state.Sessions, store.PersistedSession{
			Info:            sess.info,
			Messages:        messages,
			SessionToken:    sess.sessionToken,
			ContainerID:     sess.info.ContainerID,
			ManagerAPIToken: sess.managerAPIToken,
			ManagerState:    sess.managerState,
		})
	}
	sort.Slice(state.Sessions, func(i, j int) bool {
		return state.Sessions[i].Info.CreatedAt.Before(state.Sessions[j].Info.CreatedAt)
	})
	return state
}

// Restore loads the snapshot and reconciles it against the container daemon.
// Runs once at boot, before any server accepts traffic.
//
// Sessions whose container is still running come back as reconnecting and
// wait for their agent to re-authenticate; sessions whose container is gone
// or stopped come back in the error state with no container attached.
// Terminated sessions are dropped. Containers carrying this instance's
// labels but no restored live session are pruned.
func (m *Manager) Restore(ctx context.Context) error {
	state, err := m.store.Load()
	if err != nil {
		return err
	}

	secret := ""
	var persisted []store.PersistedSession
	if state != nil {
		secret = state.InternalSecret
		persisted = state.Sessions
	}
	if secret == "" {
		secret = newToken()
	}

	type restored struct {
		sess *session
		keep bool
	}
	var restoredSessions []restored
	keep := make(map[string]bool)

	for _, ps := range persisted {
		if ps.Info.Status == v1.SessionStatusTerminated {
			continue
		}

		sess := &session{
			info:            ps.Info,
			messages:        ps.Messages,
			sessionToken:    ps.SessionToken,
			managerAPIToken: ps.ManagerAPIToken,
			managerState:    ps.ManagerState,
		}
		for _, msg := range sess.messages {
			if msg.ID > sess.nextMessageID {
				sess.nextMessageID = msg.ID
			}
		}

		entry := restored{sess: sess}
		if ps.Info.Status.Live() {
			runState, err := m.containers.Status(ctx, ps.Info.ID)
			if err != nil {
				m.logger.WithSessionID(ps.Info.ID).Warn("container status check failed during restore",
					zap.Error(err))
				runState = container.StateNotFound
			}
			if runState == container.StateRunning {
				if ps.Info.Status != v1.SessionStatusReconnecting {
					sess.preDisconnect = ps.Info.Status
				}
				sess.info.Status = v1.SessionStatusReconnecting
				sess.info.ContainerID = ps.ContainerID
				entry.keep = true
			} else {
				sess.info.Status = v1.SessionStatusError
				sess.info.ContainerID = nil
			}
		} else {
			sess.info.ContainerID = nil
		}
		restoredSessions = append(restoredSessions, entry)
	}

	var events []*bus.Event
	m.mu.Lock()
	m.internalSecret = secret
	for _, entry := range restoredSessions {
		m.sessions[entry.sess.info.ID] = entry.sess
		if entry.keep {
			keep[entry.sess.info.ID] = true
		}
		if entry.sess.managerState != nil && entry.sess.managerState.Paused {
			m.scheduleResumeLocked(entry.sess)
		}
		events = append(events, sessionUpdateEvent(entry.sess.info))
	}
	m.markDirtyLocked()
	m.mu.Unlock()

	if err := m.containers.Reconcile(ctx, keep); err != nil {
		m.logger.Warn("container reconciliation failed", zap.Error(err))
	}
	m.publish(events...)

	m.logger.Info("session state restored",
		zap.Int("sessions", len(restoredSessions)),
		zap.Int("awaiting_reconnect", len(keep)))
	return nil
}
