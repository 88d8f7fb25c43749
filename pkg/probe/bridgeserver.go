package probe

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/sirupsen/logrus"
)

// BridgeServer is the daemon side of TCPBridge: it owns a physical
// Transport (a SerialBitbang or GPIOBitbang, typically) and answers
// frame requests from one or more TCPBridge clients. Grounded on
// pkg/connection/bridge.go's Listen/handleConnection shape, generalized
// from Foenix's fixed memory-command framing to the opcode/length frames
// TCPBridge speaks.
type BridgeServer struct {
	transport Transport
	log       *logrus.Entry
}

// NewBridgeServer wraps transport for serving over TCP.
func NewBridgeServer(transport Transport, log *logrus.Entry) *BridgeServer {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &BridgeServer{transport: transport, log: log}
}

// Listen accepts connections on addr until it errors or the caller kills
// the process; each connection is served on its own goroutine, matching
// bridge.go's one-goroutine-per-client model.
func (s *BridgeServer) Listen(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("probe: starting bridge listener on %s: %w", addr, err)
	}
	defer listener.Close()
	s.log.WithField("addr", addr).Info("bridge daemon listening")

	for {
		conn, err := listener.Accept()
		if err != nil {
			s.log.WithError(err).Warn("bridge accept failed")
			continue
		}
		s.log.WithField("remote", conn.RemoteAddr()).Info("bridge client connected")
		go s.serve(conn)
	}
}

func (s *BridgeServer) serve(conn net.Conn) {
	defer conn.Close()
	for {
		header := make([]byte, 5)
		if _, err := io.ReadFull(conn, header); err != nil {
			if err != io.EOF {
				s.log.WithError(err).Warn("bridge read header failed")
			}
			return
		}
		op := header[0]
		length := binary.BigEndian.Uint32(header[1:])
		payload := make([]byte, length)
		if length > 0 {
			if _, err := io.ReadFull(conn, payload); err != nil {
				s.log.WithError(err).Warn("bridge read payload failed")
				return
			}
		}

		status, resp := s.dispatch(op, payload)
		out := make([]byte, 5+len(resp))
		out[0] = status
		binary.BigEndian.PutUint32(out[1:], uint32(len(resp)))
		copy(out[5:], resp)
		if _, err := conn.Write(out); err != nil {
			s.log.WithError(err).Warn("bridge write response failed")
			return
		}
	}
}

func (s *BridgeServer) dispatch(op byte, payload []byte) (byte, []byte) {
	switch op {
	case opJTAGIO:
		if len(payload) < 4 {
			return statusError, []byte("short JTAGIO payload")
		}
		tmsLen := int(binary.BigEndian.Uint32(payload))
		tmsBytes := (tmsLen + 7) / 8
		if len(payload) < 4+tmsBytes {
			return statusError, []byte("truncated JTAGIO tms")
		}
		tms, err := unpackBits(payload[:4+tmsBytes])
		if err != nil {
			return statusError, []byte(err.Error())
		}
		tdi, err := unpackBits(payload[4+tmsBytes:])
		if err != nil {
			return statusError, []byte(err.Error())
		}
		tdo, err := s.transport.JTAGIO(tms, tdi)
		if err == ErrJTAGUnsupported {
			return statusUnsupported, nil
		}
		if err != nil {
			return statusError, []byte(err.Error())
		}
		return statusOK, packBits(tdo)

	case opSWDIO:
		if len(payload) < 4 {
			return statusError, []byte("short SWDIO payload")
		}
		dirLen := int(binary.BigEndian.Uint32(payload))
		dirBytes := (dirLen + 7) / 8
		if len(payload) < 4+dirBytes {
			return statusError, []byte("truncated SWDIO dir")
		}
		dir, err := unpackBits(payload[:4+dirBytes])
		if err != nil {
			return statusError, []byte(err.Error())
		}
		io2, err := unpackBits(payload[4+dirBytes:])
		if err != nil {
			return statusError, []byte(err.Error())
		}
		out, err := s.transport.SWDIO(dir, io2)
		if err != nil {
			return statusError, []byte(err.Error())
		}
		return statusOK, packBits(out)

	case opSetSpeed:
		if len(payload) < 4 {
			return statusError, []byte("short SetSpeed payload")
		}
		khz := int(binary.BigEndian.Uint32(payload))
		got, err := s.transport.SetSpeed(khz)
		if err != nil {
			return statusError, []byte(err.Error())
		}
		resp := make([]byte, 4)
		binary.BigEndian.PutUint32(resp, uint32(got))
		return statusOK, resp

	case opSWJSequence:
		bits, err := unpackBits(payload)
		if err != nil {
			return statusError, []byte(err.Error())
		}
		if err := s.transport.SWJSequence(bits); err != nil {
			return statusError, []byte(err.Error())
		}
		return statusOK, nil

	case opSWJPins:
		if len(payload) < 12 {
			return statusError, []byte("short SWJPins payload")
		}
		out := Pin(binary.BigEndian.Uint32(payload[0:]))
		mask := Pin(binary.BigEndian.Uint32(payload[4:]))
		waitUs := binary.BigEndian.Uint32(payload[8:])
		state, err := s.transport.SWJPins(out, mask, time.Duration(waitUs)*time.Microsecond)
		if err == ErrPinsUnsupported {
			return statusUnsupported, nil
		}
		if err != nil {
			return statusError, []byte(err.Error())
		}
		resp := make([]byte, 4)
		binary.BigEndian.PutUint32(resp, uint32(state))
		return statusOK, resp

	case opActiveProtocol:
		return statusOK, []byte{byte(s.transport.ActiveProtocol())}

	case opTargetResetAssert:
		if err := s.transport.TargetResetAssert(); err != nil {
			return statusError, []byte(err.Error())
		}
		return statusOK, nil

	case opTargetResetDeassert:
		if err := s.transport.TargetResetDeassert(); err != nil {
			return statusError, []byte(err.Error())
		}
		return statusOK, nil

	default:
		return statusError, []byte(fmt.Sprintf("unknown bridge opcode %d", op))
	}
}
