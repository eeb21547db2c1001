// Package transport implements the inbound duplex connection (spec.md
// §4.1, §6.1): a websocket carrying binary PCM audio frames and JSON
// control frames in both directions, decoded into pkg/dialog's C1/C8
// contracts.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/gorilla/mux"

	"github.com/lokutor-ai/voxdialog/pkg/agent"
	"github.com/lokutor-ai/voxdialog/pkg/dialog"
)

// Providers bundles the three adapter contracts a Server hands to every
// session's controller. A single instance is shared across all
// connections; provider implementations are responsible for their own
// per-call connection isolation (spec.md §9 "one upstream connection per
// active stream").
type Providers struct {
	STT dialog.STTProvider
	LLM dialog.LLMProvider
	TTS dialog.TTSProvider
}

// Server accepts websocket connections and drives one dialog.Controller
// per connection.
type Server struct {
	agents    *agent.Store
	providers Providers
	publisher dialog.ArtifactPublisher
	cfg       dialog.Config
	logger    dialog.Logger
}

// NewServer constructs a Server. logger may be nil.
func NewServer(agents *agent.Store, providers Providers, publisher dialog.ArtifactPublisher, cfg dialog.Config, logger dialog.Logger) *Server {
	if logger == nil {
		logger = dialog.NoOpLogger{}
	}
	return &Server{agents: agents, providers: providers, publisher: publisher, cfg: cfg, logger: logger}
}

// RegisterRoutes mounts the websocket endpoint on router at path.
func (s *Server) RegisterRoutes(router *mux.Router, path string) {
	router.HandleFunc(path, s.handleConn)
}

func (s *Server) handleConn(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // the browser client and server rarely share an origin in dev; CORS is handled upstream in production deployments
	})
	if err != nil {
		s.logger.Warn("websocket accept failed", "error", err)
		return
	}

	ctx := r.Context()
	if err := s.serve(ctx, conn); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Warn("session ended with error", "error", err)
		conn.Close(websocket.StatusInternalError, "session error")
		return
	}
	conn.Close(websocket.StatusNormalClosure, "")
}

// serve runs the handshake then the frame loop for one connection.
func (s *Server) serve(ctx context.Context, conn *websocket.Conn) error {
	sink := &connSink{conn: conn}

	cf, err := s.readControlFrame(ctx, conn)
	if err != nil {
		return err
	}
	if cf.Type != dialog.InAudioConfig {
		return errors.New("transport: expected audio_config as first frame")
	}
	if err := dialog.ValidateAudioConfig(cf); err != nil {
		return err
	}

	cf, err = s.readControlFrame(ctx, conn)
	if err != nil {
		return err
	}
	if cf.Type != dialog.InAgentConfig {
		return errors.New("transport: expected agent_config as second frame")
	}
	agentCfg, err := s.agents.Get(cf.AgentID)
	if err != nil {
		var nf *agent.ErrNotFound
		if errors.As(err, &nf) {
			return &dialog.DialogError{Kind: dialog.KindProtocol, Err: err}
		}
		return err
	}

	session := dialog.NewSession(agentCfg, s.cfg)
	egress := dialog.NewEgress(sink, s.logger)
	ctrl := dialog.NewController(session, s.providers.STT, s.providers.LLM, s.providers.TTS, egress, s.publisher, s.logger)

	egressDone := make(chan struct{})
	go func() {
		egress.Run(ctx)
		close(egressDone)
	}()
	defer func() {
		// ctrl.Close stops in-flight work and closes egress, which is what
		// lets Run above return; waiting on egressDone after it guarantees
		// no send race against the connection we're about to close.
		ctrl.Close()
		<-egressDone
	}()

	idleCtx, stopIdleWatch := context.WithCancel(ctx)
	defer stopIdleWatch()
	go s.watchIdle(idleCtx, session, conn)

	ctrl.Greet(ctx)

	for {
		msgType, payload, err := conn.Read(ctx)
		if err != nil {
			return err
		}

		switch msgType {
		case websocket.MessageBinary:
			if err := ctrl.HandleAudio(ctx, payload); err != nil {
				s.logger.Warn("handle audio failed", "error", err)
			}
		case websocket.MessageText:
			frame, err := dialog.DecodeControlFrame(payload)
			if err != nil {
				return err
			}
			if err := ctrl.HandleControlFrame(ctx, frame); err != nil {
				var de *dialog.DialogError
				if errors.As(err, &de) && de.Kind.Fatal() {
					return err
				}
				s.logger.Warn("handle control frame failed", "error", err)
			}
		}
	}
}

// watchIdle closes conn once session has had no audio or control activity
// for longer than the configured IdleSessionTimeout (spec.md §5). conn.Read
// in serve's frame loop has no deadline of its own, so this is the only
// thing that unblocks it on a silently abandoned connection.
func (s *Server) watchIdle(ctx context.Context, session *dialog.Session, conn *websocket.Conn) {
	timeout := s.cfg.IdleSessionTimeout
	if timeout <= 0 {
		return
	}

	ticker := time.NewTicker(timeout / 4)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if session.IdleFor() >= timeout {
				s.logger.Warn("session idle timeout", "idle_for", session.IdleFor())
				conn.Close(websocket.StatusPolicyViolation, "idle timeout")
				return
			}
		}
	}
}

func (s *Server) readControlFrame(ctx context.Context, conn *websocket.Conn) (*dialog.ControlFrame, error) {
	readCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	msgType, payload, err := conn.Read(readCtx)
	if err != nil {
		return nil, err
	}
	if msgType != websocket.MessageText {
		return nil, errors.New("transport: expected text control frame during handshake")
	}
	return dialog.DecodeControlFrame(payload)
}

// connSink implements dialog.Sink by writing JSON text frames over conn.
// The egress multiplexer guarantees a single goroutine calls Send at a
// time (spec.md §9 "single writer per session"), so no additional locking
// is needed here.
type connSink struct {
	conn *websocket.Conn
}

func (c *connSink) Send(ctx context.Context, msg dialog.OutMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return c.conn.Write(ctx, websocket.MessageText, data)
}
