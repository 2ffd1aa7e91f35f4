package ws

import (
	"context"
	"errors"
	"time"

	"github.com/gorilla/websocket"

	"github.com/syncmarks/syncmarks/internal/domain"
	"github.com/syncmarks/syncmarks/internal/fanout"
	"github.com/syncmarks/syncmarks/internal/logger"
	"github.com/syncmarks/syncmarks/internal/merge"
	"github.com/syncmarks/syncmarks/internal/normalize"
	"github.com/syncmarks/syncmarks/internal/protocol"
	"github.com/syncmarks/syncmarks/internal/registry"
)

const (
	writeTimeout = 10 * time.Second
	// maxMessageBytes bounds one inbound frame; a full-tree import is
	// sent as individual creates, not one giant message.
	maxMessageBytes = 1 << 20
)

// Session drives one websocket connection: bootstrap (snapshot or
// replay), then a read pump feeding the merge engine and a write pump
// draining the fan-out outbox. A disconnect mid-mutation never cancels
// an already accepted event.
type Session struct {
	conn   *websocket.Conn
	client *domain.ClientSession
	cursor *uint64 // last acked revision supplied at connect, nil for first sync

	engine     *merge.Engine
	registry   *registry.Registry
	dispatcher *fanout.Dispatcher
	norm       *normalize.Normalizer
	log        logger.Logger

	heartbeat time.Duration
	outbox    *fanout.Outbox
}

// Deps bundles what a session needs to run.
type Deps struct {
	Engine     *merge.Engine
	Registry   *registry.Registry
	Dispatcher *fanout.Dispatcher
	Normalizer *normalize.Normalizer
	Logger     logger.Logger
	Heartbeat  time.Duration
}

// NewSession wraps an upgraded connection. The client session must
// already be registered and its outbox attached.
func NewSession(conn *websocket.Conn, client *domain.ClientSession, cursor *uint64, outbox *fanout.Outbox, d Deps) *Session {
	return &Session{
		conn:       conn,
		client:     client,
		cursor:     cursor,
		engine:     d.Engine,
		registry:   d.Registry,
		dispatcher: d.Dispatcher,
		norm:       d.Normalizer,
		log:        d.Logger,
		heartbeat:  d.Heartbeat,
		outbox:     outbox,
	}
}

// Run blocks until the connection ends. It always leaves the session
// unregistered and the outbox closed.
func (s *Session) Run(ctx context.Context) {
	defer func() {
		s.dispatcher.Drop(s.client.SessionID)
		_ = s.conn.Close()
	}()

	if err := s.bootstrap(ctx); err != nil {
		s.log.Warn("bootstrap failed",
			logger.String("session_id", s.client.SessionID),
			logger.Error(err))
		return
	}

	done := make(chan struct{})
	go s.writePump(done)
	s.readPump(ctx)
	<-done
}

// bootstrap brings the client to parity: incremental replay when its
// cursor is still within the retention window, full snapshot otherwise.
// Runs before the write pump starts, so it may write directly. Live
// events accepted meanwhile queue in the outbox and follow; the
// revision-based protocol makes any overlap harmless.
func (s *Session) bootstrap(ctx context.Context) error {
	if s.cursor != nil {
		events, end, ok, err := s.engine.Replay(ctx, s.client.AccountID, *s.cursor)
		if err != nil {
			return err
		}
		if ok {
			if err := s.write(protocol.ServerFrame{Type: protocol.FrameReplay, Cursor: *s.cursor}); err != nil {
				return err
			}
			for i := range events {
				if err := s.write(protocol.Event(&events[i])); err != nil {
					return err
				}
			}
			return s.write(protocol.ServerFrame{Type: protocol.FrameReplayEnd, Cursor: end})
		}
		s.log.Info("cursor past retention window, sending snapshot",
			logger.String("session_id", s.client.SessionID),
			logger.Uint64("cursor", *s.cursor))
	}

	nodes, cursor, err := s.engine.Snapshot(ctx, s.client.AccountID)
	if err != nil {
		return err
	}
	return s.write(protocol.Snapshot(nodes, cursor))
}

// readPump parses client frames until the connection drops. A rejected
// mutation answers only this session and never tears the session down.
func (s *Session) readPump(ctx context.Context) {
	s.conn.SetReadLimit(maxMessageBytes)
	s.refreshDeadline()
	s.conn.SetPongHandler(func(string) error {
		s.registry.Heartbeat(s.client.SessionID)
		s.refreshDeadline()
		return nil
	})

	for {
		var frame protocol.ClientFrame
		if err := s.conn.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Debug("connection dropped",
					logger.String("session_id", s.client.SessionID),
					logger.Error(err))
			}
			return
		}

		switch frame.Type {
		case protocol.FrameHeartbeat:
			s.registry.Heartbeat(s.client.SessionID)
			s.refreshDeadline()

		case protocol.FrameAck:
			s.registry.UpdateAck(s.client.SessionID, frame.Cursor)

		case protocol.FrameMutation:
			s.handleMutation(ctx, frame.Mutation)

		default:
			s.dispatcher.Send(s.client.SessionID,
				protocol.Rejected(errors.New("validation failed: unknown frame type")))
		}
	}
}

func (s *Session) handleMutation(ctx context.Context, ev *domain.MutationEvent) {
	if err := domain.ValidateEvent(ev); err != nil {
		s.dispatcher.Send(s.client.SessionID, protocol.Rejected(err))
		return
	}

	ev.OriginDeviceID = s.client.DeviceID
	if ev.Node != nil {
		node := s.norm.Node(*ev.Node, nil, ev.Node.FolderType)
		ev.Node = &node
	}

	accepted, dups, err := s.engine.Apply(ctx, s.client.AccountID, s.client.SessionID, ev)
	if err != nil {
		s.dispatcher.Send(s.client.SessionID, protocol.Rejected(err))
		return
	}

	// The originator's ack doubles as its cursor advance.
	s.registry.UpdateAck(s.client.SessionID, accepted.AssignedRevision)
	if !s.dispatcher.Send(s.client.SessionID, protocol.Accepted(accepted.AssignedRevision)) {
		return
	}
	for i := range dups {
		s.dispatcher.Send(s.client.SessionID, protocol.Duplicate(&dups[i]))
	}
}

// writePump drains the outbox and emits heartbeats. Exits when the
// outbox closes (drop/eviction) or a write fails.
func (s *Session) writePump(done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case frame, ok := <-s.outbox.Frames():
			if !ok {
				// Dropped: backpressure or eviction. The client
				// reconnects and catches up via replay.
				_ = s.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "catch up via replay"),
					time.Now().Add(writeTimeout))
				_ = s.conn.Close()
				return
			}
			if err := s.write(frame); err != nil {
				return
			}

		case <-ticker.C:
			if err := s.write(protocol.Heartbeat()); err != nil {
				return
			}
			deadline := time.Now().Add(writeTimeout)
			if err := s.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		}
	}
}

func (s *Session) write(frame protocol.ServerFrame) error {
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.WriteJSON(frame)
}

func (s *Session) refreshDeadline() {
	// Two missed heartbeats end the read loop, mirroring registry eviction.
	_ = s.conn.SetReadDeadline(time.Now().Add(2 * s.heartbeat))
}
