package feed

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jmarten/ssvepd/rx"
)

const writeTimeout = 5 * time.Second

// WebsocketServer streams every detection event as one JSON message to all
// connected websocket clients.
type WebsocketServer struct {
	server   *http.Server
	listener net.Listener
	upgrader websocket.Upgrader

	mu          sync.Mutex
	connections map[*websocket.Conn]struct{}
}

// NewWebsocketServer starts serving the event stream on ws://address/events.
func NewWebsocketServer(address string) (*WebsocketServer, error) {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("cannot listen: %w", err)
	}

	result := &WebsocketServer{
		listener:    listener,
		connections: make(map[*websocket.Conn]struct{}),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/events", result.handleEvents)
	result.server = &http.Server{Handler: mux}

	go func() {
		err := result.server.Serve(listener)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("event stream server failed: %v", err)
		}
	}()

	log.Printf("event stream listening on ws://%v/events", listener.Addr())
	return result, nil
}

// Addr of the listening socket.
func (s *WebsocketServer) Addr() net.Addr {
	return s.listener.Addr()
}

func (s *WebsocketServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("cannot upgrade event stream connection: %v", err)
		return
	}
	log.Printf("new event stream connection: %v", conn.RemoteAddr())

	s.mu.Lock()
	s.connections[conn] = struct{}{}
	s.mu.Unlock()

	// Drain incoming messages so close frames and pings are processed. The
	// feed itself is write-only.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				s.remove(conn)
				return
			}
		}
	}()
}

func (s *WebsocketServer) remove(conn *websocket.Conn) {
	s.mu.Lock()
	_, ok := s.connections[conn]
	delete(s.connections, conn)
	s.mu.Unlock()
	if ok {
		log.Printf("removing event stream connection: %v", conn.RemoteAddr())
		conn.Close()
	}
}

// Publish sends the event to all connected clients. Clients that fail to
// accept the message in time are dropped.
func (s *WebsocketServer) Publish(event rx.Event) {
	message, err := marshalEvent(event)
	if err != nil {
		log.Printf("cannot marshal event: %v", err)
		return
	}

	s.mu.Lock()
	connections := make([]*websocket.Conn, 0, len(s.connections))
	for conn := range s.connections {
		connections = append(connections, conn)
	}
	s.mu.Unlock()

	for _, conn := range connections {
		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
			s.remove(conn)
		}
	}
}

// Stop closes all connections and shuts the server down.
func (s *WebsocketServer) Stop() {
	s.mu.Lock()
	connections := make([]*websocket.Conn, 0, len(s.connections))
	for conn := range s.connections {
		connections = append(connections, conn)
	}
	s.connections = make(map[*websocket.Conn]struct{})
	s.mu.Unlock()

	for _, conn := range connections {
		conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeTimeout))
		conn.Close()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		log.Printf("cannot shut down event stream server: %v", err)
	}
}
