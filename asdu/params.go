package asdu

import "fmt"

// Params (AppLayerParameters) describes the field widths and addressing
// rules negotiated for a link, per companion standard 101/104 §7.2.1.
// Once built, a Params value must not be mutated — every codec function
// that takes one only reads it.
type Params struct {
	// SizeOfTypeID is always 1; kept as a field for symmetry with the
	// other widths and to make codec code read uniformly.
	SizeOfTypeID int
	// SizeOfVSQ is always 1 (sequence-flag bit + 7-bit count).
	SizeOfVSQ int
	// SizeOfCOT is 1 or 2. When 2, the second byte carries the
	// originator address.
	SizeOfCOT int
	// SizeOfCA (Common Address of ASDU) is 1 or 2 bytes.
	SizeOfCA int
	// SizeOfIOA (Information Object Address) is 1, 2 or 3 bytes.
	SizeOfIOA int
	// OriginatorAddress is this station's originator address, written
	// into the second COT byte when SizeOfCOT == 2 and the ASDU's own
	// OrigAddr is zero.
	OriginatorAddress OriginAddr
	// MaxSizeOfASDU bounds the whole encoded ASDU length (identifier
	// plus information objects); must be <= 249 to leave room for APCI
	// framing within a 253-byte APDU.
	MaxSizeOfASDU int
}

// OriginAddr is the originator address, range 0..255.
type OriginAddr uint8

// ParamsWide104 is the common default for CS104: 2-byte CA, 3-byte IOA,
// 1-byte COT (no originator address byte).
var ParamsWide104 = Params{
	SizeOfTypeID:      1,
	SizeOfVSQ:         1,
	SizeOfCOT:         1,
	SizeOfCA:          2,
	SizeOfIOA:         3,
	OriginatorAddress: 0,
	MaxSizeOfASDU:     249,
}

// ParamsNarrow101 is a common CS101 default: 1-byte CA, 2-byte IOA.
var ParamsNarrow101 = Params{
	SizeOfTypeID:      1,
	SizeOfVSQ:         1,
	SizeOfCOT:         1,
	SizeOfCA:          1,
	SizeOfIOA:         2,
	OriginatorAddress: 0,
	MaxSizeOfASDU:     249,
}

// Valid checks the constraints named in the data model: widths in range
// and MaxSizeOfASDU small enough to leave room for framing.
func (p Params) Valid() error {
	if p.SizeOfCOT != 1 && p.SizeOfCOT != 2 {
		return fmt.Errorf("asdu: sizeOfCOT must be 1 or 2, got %d", p.SizeOfCOT)
	}
	if p.SizeOfCA != 1 && p.SizeOfCA != 2 {
		return fmt.Errorf("asdu: sizeOfCA must be 1 or 2, got %d", p.SizeOfCA)
	}
	if p.SizeOfIOA < 1 || p.SizeOfIOA > 3 {
		return fmt.Errorf("asdu: sizeOfIOA must be 1..3, got %d", p.SizeOfIOA)
	}
	if p.MaxSizeOfASDU <= 0 || p.MaxSizeOfASDU > 249 {
		return fmt.Errorf("asdu: maxSizeOfASDU must be 1..249, got %d", p.MaxSizeOfASDU)
	}
	return nil
}

// IdentifierSize returns the width of the fixed data-unit identifier
// (type id + VSQ + COT + CA) for these parameters.
func (p Params) IdentifierSize() int {
	return p.SizeOfTypeID + p.SizeOfVSQ + p.SizeOfCOT + p.SizeOfCA
}
