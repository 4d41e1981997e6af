// Package stratumv2 implements the lifecycle subset of Stratum V2: the
// binary, TLV-framed handshake (SetupConnection /
// SetupConnection.Success / SetupConnection.Error) needed to accept a
// connection and report capability, without the full mining-job
// message set stratum_v1 already carries for this gateway.
package stratumv2

import (
	"bufio"
	"bytes"
	"encoding/binary"

	"github.com/lightningnetwork/lnd/tlv"

	"github.com/btcsuite/bsd/bserr"
	"github.com/btcsuite/bsd/channel"
)

// Message type tags, assigned the same numeric space Stratum V2 uses
// for its frame header message_type field.
const (
	TypeSetupConnection        tlv.Type = 0x00
	TypeSetupConnectionSuccess tlv.Type = 0x01
	TypeSetupConnectionError   tlv.Type = 0x02
)

// Protocol identifies which Stratum V2 sub-protocol a connection
// negotiates; this gateway only ever accepts Mining.
const ProtocolMining = 0x00

// SetupConnection is the client's opening handshake frame.
type SetupConnection struct {
	Protocol   uint8
	MinVersion uint16
	MaxVersion uint16
	Flags      uint32
	Endpoint   string
}

// Server drives the Stratum V2 handshake lifecycle. Full mining-job
// exchange is out of scope: once the handshake completes, the
// connection is reported Ready and HandleConnection returns; no job
// notifications are sent over a Stratum V2 connection.
type Server struct{}

// New returns a Server.
func New() *Server {
	return &Server{}
}

// HandleConnection performs the SetupConnection handshake and leaves
// the channel Ready on success.
func (s *Server) HandleConnection(ch *channel.Channel) {
	r := bufio.NewReader(ch)
	frame, err := channel.ReadTLVFrame(r)
	if err != nil {
		ch.Close()
		return
	}
	if frame.Type != TypeSetupConnection {
		s.reject(ch, bserr.New(bserr.KindBadStream, "expected SetupConnection, got type %d", frame.Type))
		return
	}

	setup, err := decodeSetupConnection(frame.Payload)
	if err != nil {
		s.reject(ch, err)
		return
	}
	if setup.Protocol != ProtocolMining {
		s.reject(ch, bserr.New(bserr.KindInvalidArgument, "unsupported protocol %d", setup.Protocol))
		return
	}

	ch.SetState(channel.Ready)
	_ = s.accept(ch)
}

func decodeSetupConnection(payload []byte) (SetupConnection, error) {
	if len(payload) < 9 {
		return SetupConnection{}, bserr.New(bserr.KindBadStream, "SetupConnection frame too short")
	}
	return SetupConnection{
		Protocol:   payload[0],
		MinVersion: binary.BigEndian.Uint16(payload[1:3]),
		MaxVersion: binary.BigEndian.Uint16(payload[3:5]),
		Flags:      binary.BigEndian.Uint32(payload[5:9]),
	}, nil
}

func (s *Server) accept(ch *channel.Channel) error {
	var buf []byte
	buf = append(buf, 0, 0) // flags placeholder
	return ch.Send(tlvFrame(TypeSetupConnectionSuccess, buf))
}

func (s *Server) reject(ch *channel.Channel, cause error) {
	_ = ch.Send(tlvFrame(TypeSetupConnectionError, []byte(cause.Error())))
	ch.Close()
}

func tlvFrame(typ tlv.Type, payload []byte) []byte {
	var buf bytes.Buffer
	_ = channel.WriteTLVFrame(&buf, typ, payload)
	return buf.Bytes()
}
