package feed

import (
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"time"

	"github.com/jmarten/ssvepd/rx"
)

const (
	newConnectionDeadline     = 100 * time.Millisecond
	connectionKeepAlivePeriod = 30 * time.Second

	defaultDecisionSilencePeriod = 2 * time.Second
)

// TCPServer broadcasts stable decisions as text lines to all connected
// clients. Repeats of the same decision are suppressed for a silence period
// so a held decision does not flood the feed on every tick.
type TCPServer struct {
	listener *net.TCPListener
	version  string

	connections []*net.TCPConn

	lastDecision    float64
	lastAnnounced   time.Time
	silencePeriod   time.Duration
	hasLastDecision bool

	msg    chan []byte
	close  chan struct{}
	closed chan struct{}
}

// NewTCPServer starts the feed on the given address.
func NewTCPServer(address string, version string) (*TCPServer, error) {
	localAddress, err := net.ResolveTCPAddr("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve listen address: %w", err)
	}
	listener, err := net.ListenTCP("tcp", localAddress)
	if err != nil {
		return nil, err
	}

	result := &TCPServer{
		listener:      listener,
		version:       version,
		silencePeriod: defaultDecisionSilencePeriod,
		msg:           make(chan []byte, 1),
		close:         make(chan struct{}),
		closed:        make(chan struct{}),
	}
	go result.run()

	log.Printf("decision feed listening on %v", listener.Addr())
	return result, nil
}

// Addr of the listening socket.
func (s *TCPServer) Addr() net.Addr {
	return s.listener.Addr()
}

// SetSilencePeriod replaces the repeat-suppression period.
func (s *TCPServer) SetSilencePeriod(silencePeriod time.Duration) {
	s.silencePeriod = silencePeriod
}

// Publish announces the event's stable decision, if there is one and it is
// not suppressed. Safe to call from the subscriber goroutine.
func (s *TCPServer) Publish(event rx.Event) {
	if event.Stable == nil {
		return
	}
	if !s.shouldAnnounce(*event.Stable, event.Timestamp) {
		return
	}
	s.registerDecision(*event.Stable, event.Timestamp)

	select {
	case s.msg <- []byte(formatDecision(*event.Stable, event.Confidence, event.Timestamp)):
	case <-s.closed:
	}
}

func (s *TCPServer) shouldAnnounce(decision float64, timestamp time.Time) bool {
	if !s.hasLastDecision || s.lastDecision != decision {
		return true
	}
	return timestamp.Sub(s.lastAnnounced) > s.silencePeriod
}

func (s *TCPServer) registerDecision(decision float64, timestamp time.Time) {
	s.lastDecision = decision
	s.lastAnnounced = timestamp
	s.hasLastDecision = true
}

func (s *TCPServer) run() {
	defer close(s.closed)
	welcome := fmt.Sprintf("ssvepd %s decision feed\n", s.version)

	removeConnections := make([]int, 0, 10)
	for {
		select {
		case <-s.close:
			for _, conn := range s.connections {
				conn.Close()
			}
			return
		case bytes := <-s.msg:
			removeConnections = removeConnections[:0]
			for i, conn := range s.connections {
				if _, err := conn.Write(bytes); err != nil {
					log.Printf("found closed connection %v", conn.RemoteAddr())
					removeConnections = append(removeConnections, i)
				}
			}
			for i, index := range removeConnections {
				s.removeConnection(index - i)
			}
		default:
			err := s.listener.SetDeadline(time.Now().Add(newConnectionDeadline))
			if err != nil {
				log.Printf("setting the listener deadline failed: %v", err)
				return
			}
			conn, err := s.listener.AcceptTCP()
			if errors.Is(err, os.ErrDeadlineExceeded) {
				// ignore, nobody is calling
				continue
			} else if errors.Is(err, net.ErrClosed) {
				return
			} else if err != nil {
				log.Println(err)
				continue
			}

			log.Printf("new feed connection: %v", conn.RemoteAddr())
			conn.SetKeepAlivePeriod(connectionKeepAlivePeriod)
			conn.SetKeepAlive(true)
			if _, err := conn.Write([]byte(welcome)); err != nil {
				conn.Close()
				continue
			}
			s.connections = append(s.connections, conn)
		}
	}
}

func (s *TCPServer) removeConnection(index int) {
	if index < 0 || index >= len(s.connections) {
		return
	}
	conn := s.connections[index]
	log.Printf("removing connection %v", conn.RemoteAddr())
	conn.Close()
	last := len(s.connections) - 1
	if index < last {
		copy(s.connections[index:], s.connections[index+1:])
	}
	s.connections[last] = nil
	s.connections = s.connections[:last]
}

// Stop closes all connections and the listener.
func (s *TCPServer) Stop() {
	select {
	case <-s.closed:
		return
	default:
		close(s.close)
		<-s.closed
		s.listener.Close()
	}
}
