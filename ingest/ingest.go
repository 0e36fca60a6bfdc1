// Package ingest receives sample chunks from external acquisition software
// over UDP. Each datagram carries one chunk as a binary float32 frame, the
// shape is validated before the chunk is handed to the session.
package ingest

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log"
	"math"
	"net"
)

const (
	headerSize   = 8
	maxFrameSize = 65507
)

// ErrInvalidFrame indicates a datagram that does not parse as a sample
// chunk.
var ErrInvalidFrame = errors.New("invalid sample frame")

// EncodeChunk serializes a chunk into a datagram: channel count and sample
// count as uint16, the sample rate as float32, then the samples channel by
// channel as float32, all little endian.
func EncodeChunk(chunk [][]float64, sampleRate float64) ([]byte, error) {
	if len(chunk) == 0 || len(chunk[0]) == 0 {
		return nil, fmt.Errorf("%w: empty chunk", ErrInvalidFrame)
	}
	channels := len(chunk)
	samples := len(chunk[0])
	size := headerSize + 4*channels*samples
	if size > maxFrameSize {
		return nil, fmt.Errorf("%w: %d channels x %d samples does not fit into one datagram", ErrInvalidFrame, channels, samples)
	}

	frame := make([]byte, size)
	binary.LittleEndian.PutUint16(frame[0:2], uint16(channels))
	binary.LittleEndian.PutUint16(frame[2:4], uint16(samples))
	binary.LittleEndian.PutUint32(frame[4:8], math.Float32bits(float32(sampleRate)))

	offset := headerSize
	for ch := 0; ch < channels; ch++ {
		if len(chunk[ch]) != samples {
			return nil, fmt.Errorf("%w: channel %d has %d samples, channel 0 has %d", ErrInvalidFrame, ch, len(chunk[ch]), samples)
		}
		for _, value := range chunk[ch] {
			binary.LittleEndian.PutUint32(frame[offset:], math.Float32bits(float32(value)))
			offset += 4
		}
	}
	return frame, nil
}

// DecodeChunk parses a datagram produced by EncodeChunk.
func DecodeChunk(frame []byte) ([][]float64, float64, error) {
	if len(frame) < headerSize {
		return nil, 0, fmt.Errorf("%w: %d bytes is too short", ErrInvalidFrame, len(frame))
	}

	channels := int(binary.LittleEndian.Uint16(frame[0:2]))
	samples := int(binary.LittleEndian.Uint16(frame[2:4]))
	sampleRate := float64(math.Float32frombits(binary.LittleEndian.Uint32(frame[4:8])))
	if channels == 0 || samples == 0 {
		return nil, 0, fmt.Errorf("%w: empty shape %dx%d", ErrInvalidFrame, channels, samples)
	}
	if len(frame) != headerSize+4*channels*samples {
		return nil, 0, fmt.Errorf("%w: got %d bytes, want %d for %dx%d", ErrInvalidFrame, len(frame), headerSize+4*channels*samples, channels, samples)
	}

	chunk := make([][]float64, channels)
	offset := headerSize
	for ch := 0; ch < channels; ch++ {
		chunk[ch] = make([]float64, samples)
		for i := 0; i < samples; i++ {
			chunk[ch][i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(frame[offset:])))
			offset += 4
		}
	}
	return chunk, sampleRate, nil
}

// Ingestor consumes decoded chunks, usually a session.
type Ingestor interface {
	Ingest(chunk [][]float64, sampleRate float64) error
}

// Server listens for sample frames on a UDP port and feeds them to the
// ingestor. Malformed or mismatched frames are logged and dropped, they
// never stop the server.
type Server struct {
	conn     *net.UDPConn
	ingestor Ingestor

	closed chan struct{}
}

// NewServer starts listening on the given address.
func NewServer(address string, ingestor Ingestor) (*Server, error) {
	localAddress, err := net.ResolveUDPAddr("udp", address)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve listen address: %w", err)
	}
	conn, err := net.ListenUDP("udp", localAddress)
	if err != nil {
		return nil, fmt.Errorf("cannot listen: %w", err)
	}

	result := &Server{
		conn:     conn,
		ingestor: ingestor,
		closed:   make(chan struct{}),
	}
	go result.run()

	log.Printf("listening for sample frames on %v", conn.LocalAddr())
	return result, nil
}

// LocalAddr of the listening socket.
func (s *Server) LocalAddr() net.Addr {
	return s.conn.LocalAddr()
}

func (s *Server) run() {
	defer close(s.closed)

	buffer := make([]byte, maxFrameSize)
	for {
		n, remote, err := s.conn.ReadFromUDP(buffer)
		if errors.Is(err, net.ErrClosed) {
			return
		} else if err != nil {
			log.Printf("cannot read sample frame: %v", err)
			continue
		}

		chunk, sampleRate, err := DecodeChunk(buffer[:n])
		if err != nil {
			log.Printf("dropping frame from %v: %v", remote, err)
			continue
		}
		if err := s.ingestor.Ingest(chunk, sampleRate); err != nil {
			log.Printf("dropping frame from %v: %v", remote, err)
		}
	}
}

// Stop closes the socket and waits for the read loop to terminate.
func (s *Server) Stop() {
	select {
	case <-s.closed:
		return
	default:
		s.conn.Close()
		<-s.closed
	}
}
