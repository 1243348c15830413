package lxp

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Framing constants for the LuxPower TCP envelope.
const (
	// MaxFrameSize bounds a single frame; anything larger is fatal for
	// the connection that produced it.
	MaxFrameSize = 16384

	frameMagic0 = 0xA1
	frameMagic1 = 0x1A

	// minimum bytes needed to learn the frame length
	frameLenPrefix = 6

	headerLength = 20
)

var (
	// ErrProtocol covers bad preamble, bad checksum, unknown function
	// codes and truncated frames.
	ErrProtocol = errors.New("protocol error")
)

// Decode attempts to extract one frame from the front of buf.
//
// Returns the packet and the number of bytes consumed. A nil packet with
// n == 0 means more data is needed; needed then hints at the total frame
// size, or 0 if even the length field is incomplete. A nil packet with
// n > 0 is a frame that was consumed but failed to parse - the stream
// may continue. An error with n == 0 is unrecoverable for this stream.
func Decode(buf []byte) (p Packet, n int, needed int, err error) {
	if len(buf) < frameLenPrefix {
		return nil, 0, 0, nil
	}

	if buf[0] != frameMagic0 || buf[1] != frameMagic1 {
		return nil, 0, 0, fmt.Errorf("%w: %02x %02x header not found", ErrProtocol, buf[0], buf[1])
	}

	// the length field excludes the first 6 bytes
	frameLen := frameLenPrefix + int(binary.LittleEndian.Uint16(buf[4:6]))
	if frameLen > MaxFrameSize {
		return nil, 0, 0, fmt.Errorf("%w: frame length %d exceeds %d", ErrProtocol, frameLen, MaxFrameSize)
	}

	if len(buf) < frameLen {
		return nil, 0, frameLen, nil
	}

	p, err = ParseFrame(buf[:frameLen])
	if err != nil {
		// frame is consumed either way; caller logs and carries on
		return nil, frameLen, 0, err
	}

	return p, frameLen, 0, nil
}

// ParseFrame parses one complete frame.
func ParseFrame(frame []byte) (Packet, error) {
	if len(frame) < 19 {
		return nil, fmt.Errorf("%w: truncated frame (%d bytes)", ErrProtocol, len(frame))
	}

	protocol := binary.LittleEndian.Uint16(frame[2:4])
	function := TcpFunction(frame[7])

	datalog, err := NewSerial(frame[8:18])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProtocol, err)
	}

	if function == FuncHeartbeat {
		return Heartbeat{Datalog: datalog}, nil
	}

	if len(frame) < headerLength+2 {
		return nil, fmt.Errorf("%w: truncated %s frame (%d bytes)", ErrProtocol, function, len(frame))
	}

	data := frame[headerLength : len(frame)-2]
	sum := binary.LittleEndian.Uint16(frame[len(frame)-2:])
	if got := checksum(data); got != sum {
		return nil, fmt.Errorf("%w: checksum mismatch, got %04x, expected %04x", ErrProtocol, sum, got)
	}

	switch function {
	case FuncTranslatedData:
		return parseTranslatedData(protocol, datalog, data)
	case FuncReadParam:
		return parseParam(datalog, data, false)
	case FuncWriteParam:
		return parseParam(datalog, data, true)
	}

	return nil, fmt.Errorf("%w: unknown tcp function %d", ErrProtocol, uint8(function))
}

func parseTranslatedData(protocol uint16, datalog Serial, data []byte) (Packet, error) {
	if len(data) < 16 {
		return nil, fmt.Errorf("%w: short TranslatedData (%d bytes)", ErrProtocol, len(data))
	}

	// data[0] is an address byte: 0 going to the inverter, 1 coming back
	df := DeviceFunction(data[1])
	switch df {
	case ReadHold, ReadInput, WriteSingle, WriteMulti:
	default:
		return nil, fmt.Errorf("%w: unknown device function %d", ErrProtocol, data[1])
	}

	inverter, err := NewSerial(data[2:12])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	register := binary.LittleEndian.Uint16(data[12:14])
	rest := data[14:]

	var values []byte
	switch {
	case protocol == 1 || df == WriteSingle:
		// fixed two-byte value slot
		values = rest
	case df == WriteMulti && len(rest) == 2:
		// reply: echoes the number of registers written
		values = rest
	case df == WriteMulti:
		// request: register count u16, then a value length byte
		if len(rest) < 3 {
			return nil, fmt.Errorf("%w: short WriteMulti data", ErrProtocol)
		}
		n := int(rest[2])
		if len(rest) < 3+n {
			return nil, fmt.Errorf("%w: WriteMulti values truncated", ErrProtocol)
		}
		values = rest[3 : 3+n]
	default:
		// protocol 2 read replies carry a value length byte
		n := int(rest[0])
		if len(rest) < 1+n {
			return nil, fmt.Errorf("%w: values truncated, want %d bytes, have %d", ErrProtocol, n, len(rest)-1)
		}
		values = rest[1 : 1+n]
	}

	owned := make([]byte, len(values))
	copy(owned, values)

	return TranslatedData{
		Datalog:        datalog,
		DeviceFunction: df,
		Inverter:       inverter,
		Register:       register,
		Values:         owned,
	}, nil
}

func parseParam(datalog Serial, data []byte, write bool) (Packet, error) {
	if len(data) < 2 {
		return nil, fmt.Errorf("%w: short param data (%d bytes)", ErrProtocol, len(data))
	}
	register := binary.LittleEndian.Uint16(data[0:2])
	values := make([]byte, len(data)-2)
	copy(values, data[2:])

	if write {
		return WriteParam{Datalog: datalog, Register: register, Values: values}, nil
	}
	return ReadParam{Datalog: datalog, Register: register, Values: values}, nil
}

// BuildFrame encodes a packet into its wire representation.
func BuildFrame(p Packet) []byte {
	switch p := p.(type) {
	case Heartbeat:
		// no data section, no checksum
		frame := buildHeader(2, FuncHeartbeat, p.Datalog, 0)
		return frame[:19]
	case TranslatedData:
		protocol := uint16(1)
		if p.DeviceFunction == WriteMulti {
			protocol = 2
		}

		data := make([]byte, 0, 16+len(p.Values)+3)
		data = append(data, 0, byte(p.DeviceFunction))
		data = append(data, p.Inverter.Bytes()...)
		data = binary.LittleEndian.AppendUint16(data, p.Register)
		if p.DeviceFunction == WriteMulti {
			data = binary.LittleEndian.AppendUint16(data, uint16(len(p.Values)/2))
			data = append(data, byte(len(p.Values)))
		}
		data = append(data, p.Values...)

		return appendData(buildHeader(protocol, FuncTranslatedData, p.Datalog, len(data)), data)
	case ReadParam:
		data := binary.LittleEndian.AppendUint16(nil, p.Register)
		data = append(data, p.Values...)
		return appendData(buildHeader(2, FuncReadParam, p.Datalog, len(data)), data)
	case WriteParam:
		data := binary.LittleEndian.AppendUint16(nil, p.Register)
		data = append(data, p.Values...)
		return appendData(buildHeader(2, FuncWriteParam, p.Datalog, len(data)), data)
	}
	return nil
}

func buildHeader(protocol uint16, function TcpFunction, datalog Serial, dataLen int) []byte {
	h := make([]byte, headerLength, headerLength+dataLen+2)
	h[0] = frameMagic0
	h[1] = frameMagic1
	binary.LittleEndian.PutUint16(h[2:4], protocol)

	// the length field counts everything after itself
	packetLen := headerLength - frameLenPrefix + dataLen
	if function != FuncHeartbeat {
		packetLen += 2 // checksum
	} else {
		packetLen-- // heartbeats have a 19 byte header
	}
	binary.LittleEndian.PutUint16(h[4:6], uint16(packetLen))

	h[6] = 1
	h[7] = byte(function)
	copy(h[8:18], datalog.Bytes())
	if function != FuncHeartbeat {
		h[18] = byte(dataLen + 2)
	}
	return h
}

func appendData(frame, data []byte) []byte {
	frame = append(frame, data...)
	return binary.LittleEndian.AppendUint16(frame, checksum(data))
}

// checksum is CRC16/Modbus over the data section.
func checksum(data []byte) uint16 {
	const poly = 0xA001
	crc := uint16(0xFFFF)

	for _, b := range data {
		crc ^= uint16(b)
		for i := 0; i < 8; i++ {
			if crc&1 != 0 {
				crc = (crc >> 1) ^ poly
			} else {
				crc >>= 1
			}
		}
	}

	return crc
}
