package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"civsense.world/internal/protocol"
	"civsense.world/internal/sim/catalogs"
	"civsense.world/internal/sim/engine"
	"civsense.world/internal/sim/totem"
	"civsense.world/internal/sim/world"
)

type Server struct {
	engine *engine.Engine
	mirror *world.Mirror
	tables *catalogs.Registry
	log    *log.Logger

	params   protocol.EngineParams
	sessions atomic.Uint64

	upgrader websocket.Upgrader
}

func NewServer(e *engine.Engine, mirror *world.Mirror, tables *catalogs.Registry, params protocol.EngineParams, logger *log.Logger) *Server {
	return &Server{
		engine: e,
		mirror: mirror,
		tables: tables,
		log:    logger,
		params: params,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		session, out := s.handshake(conn)
		if session == "" {
			return
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// Writer goroutine.
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case b, ok := <-out:
					if !ok {
						return
					}
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		// Reader loop.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				cancel()
				break
			}
			s.dispatch(msg, out)
		}

		s.log.Printf("ws: session %s closed", session)
	}
}

// dispatch handles one inbound frame. Query and decide messages get a typed
// reply; notifications get an ACK only when malformed.
func (s *Server) dispatch(msg []byte, out chan []byte) {
	base, err := protocol.DecodeBase(msg)
	if err != nil {
		s.nack(out, "", protocol.ErrProtoBadRequest, "undecodable frame")
		return
	}
	if base.ProtocolVersion != protocol.Version {
		s.nack(out, base.Type, protocol.ErrProtoBadRequest, "bad protocol_version")
		return
	}

	switch base.Type {
	case protocol.TypeQuery:
		var q protocol.QueryMsg
		if err := json.Unmarshal(msg, &q); err != nil || q.World == "" {
			s.nack(out, protocol.TypeQuery, protocol.ErrBadRequest, "bad query")
			return
		}
		score := s.engine.QueryScore(q.World, q.Pos[0], q.Pos[1], q.Pos[2])
		s.send(out, protocol.ScoreMsg{
			Type:            protocol.TypeScore,
			ProtocolVersion: protocol.Version,
			ID:              q.ID,
			World:           q.World,
			Pos:             q.Pos,
			Score:           score,
		})

	case protocol.TypeDecide:
		var d protocol.DecideMsg
		if err := json.Unmarshal(msg, &d); err != nil || d.World == "" || d.Kind == "" {
			s.nack(out, protocol.TypeDecide, protocol.ErrBadRequest, "bad decide")
			return
		}
		v := s.engine.Decide(d.World, d.Pos[0], d.Pos[1], d.Pos[2], d.Kind, d.Natural)
		s.send(out, protocol.VerdictMsg{
			Type:            protocol.TypeVerdict,
			ProtocolVersion: protocol.Version,
			ID:              d.ID,
			Outcome:         string(v.Outcome),
			Branch:          v.Branch,
			Score:           v.Score,
			ConversionKind:  v.ConversionKind,
			Pool:            v.Pool,
		})

	case protocol.TypeMutate:
		var m protocol.MutateMsg
		if err := json.Unmarshal(msg, &m); err != nil || m.World == "" {
			s.nack(out, protocol.TypeMutate, protocol.ErrBadRequest, "bad mutate")
			return
		}
		s.mirror.Set(m.World, m.Pos[0], m.Pos[1], m.Pos[2], m.Kind)
		s.engine.NotifyMutation(m.World, m.Pos[0], m.Pos[1], m.Pos[2])

	case protocol.TypePresence:
		var p protocol.PresenceMsg
		if err := json.Unmarshal(msg, &p); err != nil || p.World == "" {
			s.nack(out, protocol.TypePresence, protocol.ErrBadRequest, "bad presence")
			return
		}
		s.engine.NotifyPresence(p.World, p.Pos[0], p.Pos[1], p.Pos[2], p.Radius)

	case protocol.TypeTotemAdd:
		var tm protocol.TotemMsg
		if err := json.Unmarshal(msg, &tm); err != nil || tm.World == "" || tm.Kind == "" {
			s.nack(out, protocol.TypeTotemAdd, protocol.ErrBadRequest, "bad totem")
			return
		}
		if _, ok := s.tables.Table().Heads[tm.Kind]; !ok {
			s.nack(out, protocol.TypeTotemAdd, protocol.ErrUnknownKind, tm.Kind)
			return
		}
		s.engine.PutTotem(totem.Entry{
			World: tm.World,
			X:     tm.Pos[0], Y: tm.Pos[1], Z: tm.Pos[2],
			Kind: tm.Kind,
		})

	case protocol.TypeTotemRemove:
		var tm protocol.TotemMsg
		if err := json.Unmarshal(msg, &tm); err != nil || tm.World == "" {
			s.nack(out, protocol.TypeTotemRemove, protocol.ErrBadRequest, "bad totem")
			return
		}
		s.engine.RemoveTotem(tm.World, tm.Pos[0], tm.Pos[1], tm.Pos[2])

	default:
		s.nack(out, base.Type, protocol.ErrProtoBadRequest, "unknown type")
	}
}

func (s *Server) handshake(conn *websocket.Conn) (session string, out chan []byte) {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return "", nil
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected HELLO"), time.Now().Add(time.Second))
		return "", nil
	}

	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		return "", nil
	}
	if hello.ProtocolVersion != protocol.Version {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "bad protocol_version"), time.Now().Add(time.Second))
		return "", nil
	}

	session = fmt.Sprintf("s-%d", s.sessions.Add(1))
	out = make(chan []byte, 64)

	tbl := s.tables.Table()
	welcome := protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		SessionID:       session,
		Catalogs: protocol.CatalogDigests{
			WeightsDigest: tbl.WeightsDigest,
			HeadsDigest:   tbl.HeadsDigest,
			WeightCount:   len(tbl.Weights),
			HeadCount:     len(tbl.Heads),
		},
		Params: s.params,
	}
	if err := writeJSON(conn, welcome); err != nil {
		return "", nil
	}

	s.log.Printf("ws: session %s joined (%s)", session, hello.ClientName)
	return session, out
}

func (s *Server) send(out chan []byte, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	select {
	case out <- b:
	default:
		// Slow consumer: drop the reply rather than stall the reader.
	}
}

func (s *Server) nack(out chan []byte, ackFor, code, message string) {
	s.send(out, protocol.AckMsg{
		Type:            protocol.TypeAck,
		ProtocolVersion: protocol.Version,
		AckFor:          ackFor,
		Accepted:        false,
		Code:            code,
		Message:         message,
	})
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}
