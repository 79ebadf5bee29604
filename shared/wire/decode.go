package wire

import (
	"encoding/binary"
	"fmt"
	"math"
)

// ErrMalformed is returned when a body that was successfully framed (i.e.
// the length prefix was satisfied) does not parse as a valid envelope.
var ErrMalformed = fmt.Errorf("wire: malformed envelope payload")

// decodeBody parses a complete, already-length-delimited envelope body.
func decodeBody(body []byte) (*Envelope, error) {
	c := &cursor{buf: body}

	header, err := readHeader(c)
	if err != nil {
		return nil, err
	}

	e := &Envelope{Header: header}

	switch header.Type {
	case MessageTypeHeartbeat:
		e.Heartbeat, err = readHeartbeat(c)
	case MessageTypeTelemetry:
		e.Telemetry, err = readTelemetry(c)
	case MessageTypeSensorData:
		e.Sensor, err = readSensorData(c)
	case MessageTypeCommand:
		e.Command, err = readCommand(c)
	case MessageTypeAck:
		e.Ack, err = readAck(c)
	default:
		return nil, fmt.Errorf("%w: unknown message type tag %d", ErrMalformed, header.Type)
	}
	if err != nil {
		return nil, err
	}

	if err := e.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrMalformed, err)
	}
	return e, nil
}

func readHeader(c *cursor) (Header, error) {
	var h Header
	var err error
	if h.DeviceID, err = c.readString(); err != nil {
		return h, err
	}
	if h.SequenceNum, err = c.readUint64(); err != nil {
		return h, err
	}
	if h.TimestampMs, err = c.readUint64(); err != nil {
		return h, err
	}
	tag, err := c.readByte()
	if err != nil {
		return h, err
	}
	h.Type = MessageType(tag)
	return h, nil
}

func readHeartbeat(c *cursor) (*Heartbeat, error) {
	h := &Heartbeat{}
	var err error
	if h.UptimeMs, err = c.readUint64(); err != nil {
		return nil, err
	}
	state, err := c.readByte()
	if err != nil {
		return nil, err
	}
	h.State = DroneState(state)
	if h.PendingCommands, err = c.readUint32(); err != nil {
		return nil, err
	}
	if h.Healthy, err = c.readBool(); err != nil {
		return nil, err
	}
	return h, nil
}

func readTelemetry(c *cursor) (*Telemetry, error) {
	t := &Telemetry{}
	var err error

	if t.GPS.Lat, err = c.readFloat64(); err != nil {
		return nil, err
	}
	if t.GPS.Lon, err = c.readFloat64(); err != nil {
		return nil, err
	}
	if t.GPS.AltM, err = c.readFloat64(); err != nil {
		return nil, err
	}
	if t.GPS.HeadingDeg, err = c.readFloat64(); err != nil {
		return nil, err
	}
	if t.GPS.SpeedMS, err = c.readFloat64(); err != nil {
		return nil, err
	}
	if t.GPS.Satellites, err = c.readUint32(); err != nil {
		return nil, err
	}
	if t.GPS.HDOP, err = c.readFloat64(); err != nil {
		return nil, err
	}

	if t.Battery.VoltageV, err = c.readFloat64(); err != nil {
		return nil, err
	}
	if t.Battery.CurrentA, err = c.readFloat64(); err != nil {
		return nil, err
	}
	if t.Battery.RemainingPercent, err = c.readUint32(); err != nil {
		return nil, err
	}
	if t.Battery.SecondsRemaining, err = c.readUint32(); err != nil {
		return nil, err
	}

	state, err := c.readByte()
	if err != nil {
		return nil, err
	}
	t.State = DroneState(state)

	if t.FC.Armed, err = c.readBool(); err != nil {
		return nil, err
	}
	if t.FC.GPSLock, err = c.readBool(); err != nil {
		return nil, err
	}
	if t.FC.Mode, err = c.readString(); err != nil {
		return nil, err
	}
	if t.FC.ErrorCount, err = c.readUint32(); err != nil {
		return nil, err
	}
	nFaults, err := c.readUint32()
	if err != nil {
		return nil, err
	}
	t.FC.Faults = make([]string, 0, nFaults)
	for i := uint32(0); i < nFaults; i++ {
		f, err := c.readString()
		if err != nil {
			return nil, err
		}
		t.FC.Faults = append(t.FC.Faults, f)
	}

	if t.UptimeMs, err = c.readUint64(); err != nil {
		return nil, err
	}
	if t.LinkQuality, err = c.readUint32(); err != nil {
		return nil, err
	}
	return t, nil
}

func readSensorData(c *cursor) (*SensorData, error) {
	s := &SensorData{}
	var err error
	if s.SensorType, err = c.readString(); err != nil {
		return nil, err
	}
	n, err := c.readUint32()
	if err != nil {
		return nil, err
	}
	s.Readings = make(map[string]float64, n)
	for i := uint32(0); i < n; i++ {
		k, err := c.readString()
		if err != nil {
			return nil, err
		}
		v, err := c.readFloat64()
		if err != nil {
			return nil, err
		}
		s.Readings[k] = v
	}
	if s.TimestampMs, err = c.readUint64(); err != nil {
		return nil, err
	}
	return s, nil
}

func readCommand(c *cursor) (*Command, error) {
	cmd := &Command{}
	var err error
	if cmd.CommandID, err = c.readUint64(); err != nil {
		return nil, err
	}
	typ, err := c.readByte()
	if err != nil {
		return nil, err
	}
	cmd.Type = CommandType(typ)
	if cmd.Type > CommandEmergencyStop {
		cmd.Type = commandTypeUnknown
	}
	if cmd.ExpiresAtMs, err = c.readUint64(); err != nil {
		return nil, err
	}
	if cmd.Priority, err = c.readByte(); err != nil {
		return nil, err
	}
	n, err := c.readUint32()
	if err != nil {
		return nil, err
	}
	cmd.Params = make(map[string]string, n)
	for i := uint32(0); i < n; i++ {
		k, err := c.readString()
		if err != nil {
			return nil, err
		}
		v, err := c.readString()
		if err != nil {
			return nil, err
		}
		cmd.Params[k] = v
	}
	return cmd, nil
}

func readAck(c *cursor) (*Ack, error) {
	a := &Ack{}
	var err error
	if a.AckSequenceID, err = c.readUint64(); err != nil {
		return nil, err
	}
	if a.CommandID, err = c.readUint64(); err != nil {
		return nil, err
	}
	status, err := c.readByte()
	if err != nil {
		return nil, err
	}
	a.Status = AckStatus(status)
	if a.Message, err = c.readString(); err != nil {
		return nil, err
	}
	if a.ProcessingTimeMs, err = c.readUint64(); err != nil {
		return nil, err
	}
	return a, nil
}

// cursor is a bounds-checked reader over a byte slice. Every read method
// returns ErrMalformed (wrapped) if the buffer is exhausted early, which
// decodeBody surfaces as a protocol error rather than a panic.
type cursor struct {
	buf []byte
	pos int
}

func (c *cursor) need(n int) error {
	if c.pos+n > len(c.buf) {
		return fmt.Errorf("%w: unexpected end of envelope body", ErrMalformed)
	}
	return nil
}

func (c *cursor) readByte() (byte, error) {
	if err := c.need(1); err != nil {
		return 0, err
	}
	b := c.buf[c.pos]
	c.pos++
	return b, nil
}

func (c *cursor) readBool() (bool, error) {
	b, err := c.readByte()
	return b != 0, err
}

func (c *cursor) readUint32() (uint32, error) {
	if err := c.need(4); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint32(c.buf[c.pos : c.pos+4])
	c.pos += 4
	return v, nil
}

func (c *cursor) readUint64() (uint64, error) {
	if err := c.need(8); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint64(c.buf[c.pos : c.pos+8])
	c.pos += 8
	return v, nil
}

func (c *cursor) readFloat64() (float64, error) {
	bits, err := c.readUint64()
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(bits), nil
}

// maxStringLen bounds a single string field so a corrupted length prefix
// cannot force an oversized allocation before the overall body-length check
// (applied by the caller against the 4-byte frame prefix) would catch it.
const maxStringLen = MaxMessageSize

func (c *cursor) readString() (string, error) {
	n, err := c.readUint32()
	if err != nil {
		return "", err
	}
	if n > maxStringLen {
		return "", fmt.Errorf("%w: string field length %d exceeds maximum", ErrMalformed, n)
	}
	if err := c.need(int(n)); err != nil {
		return "", err
	}
	s := string(c.buf[c.pos : c.pos+int(n)])
	c.pos += int(n)
	return s, nil
}
