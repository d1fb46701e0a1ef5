package httpapi

import (
	"context"
	"log"
	"net/http"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	acceptOpts := &websocket.AcceptOptions{}
	if s.cors != nil {
		if s.cors.allowAll {
			acceptOpts.InsecureSkipVerify = true
		} else {
			for origin := range s.cors.origins {
				acceptOpts.OriginPatterns = append(acceptOpts.OriginPatterns, trimScheme(origin))
			}
		}
	}

	conn, err := websocket.Accept(baseWriter(w), r, acceptOpts)
	if err != nil {
		log.Printf("httpapi: websocket accept: %v", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	clientCh, ok := s.subscribe()
	if !ok {
		conn.Close(websocket.StatusGoingAway, "server shutting down")
		return
	}
	defer s.unsubscribe(clientCh)
	s.metrics.IncWSClients(1)
	defer s.metrics.IncWSClients(-1)

	ctx := conn.CloseRead(r.Context())

	ticker := time.NewTicker(20 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				return
			}
		case rec, ok := <-clientCh:
			if !ok {
				return
			}
			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := wsjson.Write(writeCtx, conn, rec)
			cancel()
			if err != nil {
				return
			}
			s.metrics.IncRecordsSent("ws")
		}
	}
}

// trimScheme converts an allowed origin into the host pattern Accept expects.
func trimScheme(origin string) string {
	for _, prefix := range []string{"https://", "http://"} {
		if len(origin) > len(prefix) && origin[:len(prefix)] == prefix {
			return origin[len(prefix):]
		}
	}
	return origin
}
