package asdu

import "math"

// Monitor-direction value readers/writers. Each pairs a Body []byte (as
// produced by/consumed from InfoObj) with the typed value plus quality
// and, where the TypeID carries one, a time tag.

// SinglePointBody encodes an SIQ element, with an optional trailing
// CP24Time2a/CP56Time2a appended by the caller when the TypeID calls
// for one (use AppendCP24/AppendCP56).
func SinglePointBody(v SinglePointValue, q QualityDescriptor) []byte {
	b := byte(q) &^ 0x01
	if v {
		b |= 0x01
	}
	return []byte{b}
}

func DecodeSinglePoint(body []byte) (SinglePointValue, QualityDescriptor) {
	b := body[0]
	return SinglePointValue(b&0x01 != 0), QualityDescriptor(b &^ 0x01)
}

// DoublePointBody encodes a DIQ element.
func DoublePointBody(v DoublePointValue, q QualityDescriptor) []byte {
	b := (byte(q) &^ 0x03) | byte(v&0x03)
	return []byte{b}
}

func DecodeDoublePoint(body []byte) (DoublePointValue, QualityDescriptor) {
	b := body[0]
	return DoublePointValue(b & 0x03), QualityDescriptor(b &^ 0x03)
}

// StepPositionBody encodes a VTI + QDS element.
func StepPositionBody(v StepPosition, q QualityDescriptor) []byte {
	return []byte{v.byte(), byte(q)}
}

func DecodeStepPosition(body []byte) (StepPosition, QualityDescriptor) {
	return parseStepPosition(body[0]), QualityDescriptor(body[1])
}

// Bitstring32Body encodes a BSI(4) + QDS element.
func Bitstring32Body(v uint32, q QualityDescriptor) []byte {
	b := appendUint32(nil, v)
	return append(b, byte(q))
}

func DecodeBitstring32(body []byte) (uint32, QualityDescriptor) {
	c := &cursor{data: body}
	v := c.uint32()
	return v, QualityDescriptor(c.byte())
}

// MeasuredNormalizedBody encodes an NVA(2) + QDS element.
func MeasuredNormalizedBody(v Normalize, q QualityDescriptor) []byte {
	b := appendUint16(nil, uint16(v))
	return append(b, byte(q))
}

func DecodeMeasuredNormalized(body []byte) (Normalize, QualityDescriptor) {
	c := &cursor{data: body}
	v := c.int16()
	return Normalize(v), QualityDescriptor(c.byte())
}

// MeasuredNormalizedNoQualityBody encodes M_ME_ND_1's bare NVA(2), no
// quality descriptor.
func MeasuredNormalizedNoQualityBody(v Normalize) []byte {
	return appendUint16(nil, uint16(v))
}

func DecodeMeasuredNormalizedNoQuality(body []byte) Normalize {
	c := &cursor{data: body}
	return Normalize(c.int16())
}

// MeasuredScaledBody encodes an SVA(2) + QDS element.
func MeasuredScaledBody(v Scaled, q QualityDescriptor) []byte {
	b := appendUint16(nil, uint16(v))
	return append(b, byte(q))
}

func DecodeMeasuredScaled(body []byte) (Scaled, QualityDescriptor) {
	c := &cursor{data: body}
	v := c.int16()
	return Scaled(v), QualityDescriptor(c.byte())
}

// MeasuredFloatBody encodes an IEEE754(4) + QDS element.
func MeasuredFloatBody(v Floating, q QualityDescriptor) []byte {
	b := appendUint32(nil, math.Float32bits(float32(v)))
	return append(b, byte(q))
}

func DecodeMeasuredFloat(body []byte) (Floating, QualityDescriptor) {
	c := &cursor{data: body}
	v := c.float32()
	return Floating(v), QualityDescriptor(c.byte())
}

// IntegratedTotalsBody encodes a BCR(5) element.
func IntegratedTotalsBody(r BinaryCounterReading) []byte {
	return r.bytes()
}

func DecodeIntegratedTotals(body []byte) BinaryCounterReading {
	c := &cursor{data: body}
	return c.bcr()
}

// EndOfInitBody encodes M_EI_NA_1's COI byte.
func EndOfInitBody(c COICause) []byte {
	return []byte{c.byte()}
}

func DecodeEndOfInit(body []byte) COICause {
	return parseCOI(body[0])
}

// AppendCP24 / AppendCP56 append a time tag to an already-built element
// body, matching the TypeID's catalog timeTag.
func AppendCP24(body []byte, t CP24Time2a) []byte {
	return append(body, t[:]...)
}

func AppendCP56(body []byte, t CP56Time2a) []byte {
	return append(body, t[:]...)
}

// SplitTimeTag separates the base element bytes from a trailing CP24 or
// CP56 tag, per the TypeID's catalog entry. For TypeIDs that carry no
// time tag it returns body unchanged and both tags nil.
func SplitTimeTag(typ TypeID, body []byte) (base []byte, cp24 *CP24Time2a, cp56 *CP56Time2a) {
	switch catalogTimeTag[typ] {
	case timeCP24:
		n := len(body) - 3
		var t CP24Time2a
		copy(t[:], body[n:])
		return body[:n], &t, nil
	case timeCP56:
		n := len(body) - 7
		var t CP56Time2a
		copy(t[:], body[n:])
		return body[:n], nil, &t
	default:
		return body, nil, nil
	}
}
