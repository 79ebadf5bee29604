package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
)

// ErrTooLarge is returned by Encode when the serialized envelope would
// exceed MaxMessageSize.
var ErrTooLarge = fmt.Errorf("wire: encoded envelope exceeds MaxMessageSize (%d bytes)", MaxMessageSize)

// Encode serializes an envelope into its on-wire form: a 4-byte big-endian
// length prefix followed by the serialized body. It fails if the envelope
// does not pass Validate or if the serialized body would exceed
// MaxMessageSize.
func Encode(e *Envelope) ([]byte, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}

	var body bytes.Buffer
	writeHeader(&body, e.Header)

	switch e.Header.Type {
	case MessageTypeHeartbeat:
		writeHeartbeat(&body, e.Heartbeat)
	case MessageTypeTelemetry:
		writeTelemetry(&body, e.Telemetry)
	case MessageTypeSensorData:
		writeSensorData(&body, e.Sensor)
	case MessageTypeCommand:
		writeCommand(&body, e.Command)
	case MessageTypeAck:
		writeAck(&body, e.Ack)
	}

	if body.Len() > MaxMessageSize {
		return nil, ErrTooLarge
	}

	out := make([]byte, 4+body.Len())
	binary.BigEndian.PutUint32(out[:4], uint32(body.Len()))
	copy(out[4:], body.Bytes())
	return out, nil
}

func writeHeader(b *bytes.Buffer, h Header) {
	writeString(b, h.DeviceID)
	writeUint64(b, h.SequenceNum)
	writeUint64(b, h.TimestampMs)
	b.WriteByte(byte(h.Type))
}

func writeHeartbeat(b *bytes.Buffer, h *Heartbeat) {
	writeUint64(b, h.UptimeMs)
	b.WriteByte(byte(h.State))
	writeUint32(b, h.PendingCommands)
	writeBool(b, h.Healthy)
}

func writeTelemetry(b *bytes.Buffer, t *Telemetry) {
	writeFloat64(b, t.GPS.Lat)
	writeFloat64(b, t.GPS.Lon)
	writeFloat64(b, t.GPS.AltM)
	writeFloat64(b, t.GPS.HeadingDeg)
	writeFloat64(b, t.GPS.SpeedMS)
	writeUint32(b, t.GPS.Satellites)
	writeFloat64(b, t.GPS.HDOP)

	writeFloat64(b, t.Battery.VoltageV)
	writeFloat64(b, t.Battery.CurrentA)
	writeUint32(b, t.Battery.RemainingPercent)
	writeUint32(b, t.Battery.SecondsRemaining)

	b.WriteByte(byte(t.State))

	writeBool(b, t.FC.Armed)
	writeBool(b, t.FC.GPSLock)
	writeString(b, t.FC.Mode)
	writeUint32(b, t.FC.ErrorCount)
	writeUint32(b, uint32(len(t.FC.Faults)))
	for _, f := range t.FC.Faults {
		writeString(b, f)
	}

	writeUint64(b, t.UptimeMs)
	writeUint32(b, t.LinkQuality)
}

func writeSensorData(b *bytes.Buffer, s *SensorData) {
	writeString(b, s.SensorType)
	writeUint32(b, uint32(len(s.Readings)))
	for k, v := range s.Readings {
		writeString(b, k)
		writeFloat64(b, v)
	}
	writeUint64(b, s.TimestampMs)
}

func writeCommand(b *bytes.Buffer, c *Command) {
	writeUint64(b, c.CommandID)
	b.WriteByte(byte(c.Type))
	writeUint64(b, c.ExpiresAtMs)
	b.WriteByte(c.Priority)
	writeUint32(b, uint32(len(c.Params)))
	for k, v := range c.Params {
		writeString(b, k)
		writeString(b, v)
	}
}

func writeAck(b *bytes.Buffer, a *Ack) {
	writeUint64(b, a.AckSequenceID)
	writeUint64(b, a.CommandID)
	b.WriteByte(byte(a.Status))
	writeString(b, a.Message)
	writeUint64(b, a.ProcessingTimeMs)
}

func writeString(b *bytes.Buffer, s string) {
	writeUint32(b, uint32(len(s)))
	b.WriteString(s)
}

func writeUint32(b *bytes.Buffer, v uint32) {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	b.Write(tmp[:])
}

func writeUint64(b *bytes.Buffer, v uint64) {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	b.Write(tmp[:])
}

func writeFloat64(b *bytes.Buffer, v float64) {
	writeUint64(b, math.Float64bits(v))
}

func writeBool(b *bytes.Buffer, v bool) {
	if v {
		b.WriteByte(1)
	} else {
		b.WriteByte(0)
	}
}
