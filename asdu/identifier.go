package asdu

import "fmt"

/*
TypeID (Type Identification, 1 byte).

Value range:
  - 0 is not used;
  - 1-127 standard IEC 101/104 definitions;
  - 128-135 reserved for message routing;
  - 136-255 special use.
*/
type TypeID uint8

// Process information in monitor direction.
const (
	MSpNa1 TypeID = 1  // single-point information
	MSpTa1 TypeID = 2  // single-point information with CP24Time2a
	MDpNa1 TypeID = 3  // double-point information
	MDpTa1 TypeID = 4  // double-point information with CP24Time2a
	MStNa1 TypeID = 5  // step position information
	MStTa1 TypeID = 6  // step position information with CP24Time2a
	MBoNa1 TypeID = 7  // bitstring of 32 bit
	MBoTa1 TypeID = 8  // bitstring of 32 bit with CP24Time2a
	MMeNa1 TypeID = 9  // measured value, normalized value
	MMeTa1 TypeID = 10 // measured value, normalized value with CP24Time2a
	MMeNb1 TypeID = 11 // measured value, scaled value
	MMeTb1 TypeID = 12 // measured value, scaled value with CP24Time2a
	MMeNc1 TypeID = 13 // measured value, short floating point
	MMeTc1 TypeID = 14 // measured value, short floating point with CP24Time2a
	MItNa1 TypeID = 15 // integrated totals
	MItTa1 TypeID = 16 // integrated totals with CP24Time2a
	MEpTa1 TypeID = 17 // event of protection equipment with CP24Time2a
	MEpTb1 TypeID = 18 // packed start events of protection equipment with CP24Time2a
	MEpTc1 TypeID = 19 // packed output circuit information with CP24Time2a
	MPsNa1 TypeID = 20 // packed single-point information with status change detection
	MMeNd1 TypeID = 21 // measured value, normalized value without quality descriptor

	MSpTb1 TypeID = 30 // single-point information with CP56Time2a
	MDpTb1 TypeID = 31 // double-point information with CP56Time2a
	MStTb1 TypeID = 32 // step position information with CP56Time2a
	MBoTb1 TypeID = 33 // bitstring of 32 bit with CP56Time2a
	MMeTd1 TypeID = 34 // measured value, normalized value with CP56Time2a
	MMeTe1 TypeID = 35 // measured value, scaled value with CP56Time2a
	MMeTf1 TypeID = 36 // measured value, short floating point with CP56Time2a
	MItTb1 TypeID = 37 // integrated totals with CP56Time2a
	MEpTd1 TypeID = 38 // event of protection equipment with CP56Time2a
	MEpTe1 TypeID = 39 // packed start events of protection equipment with CP56Time2a
	MEpTf1 TypeID = 40 // packed output circuit information with CP56Time2a
)

// System information in monitor direction.
const (
	MEiNa1 TypeID = 70 // end of initialization
)

// Command in control direction.
const (
	CScNa1 TypeID = 45 // single command
	CDcNa1 TypeID = 46 // double command
	CRcNa1 TypeID = 47 // regulating step command
	CSeNa1 TypeID = 48 // set-point command, normalized value
	CSeNb1 TypeID = 49 // set-point command, scaled value
	CSeNc1 TypeID = 50 // set-point command, short floating point
	CBoNa1 TypeID = 51 // bitstring of 32 bit command

	CScTa1 TypeID = 58 // single command with CP56Time2a
	CDcTa1 TypeID = 59 // double command with CP56Time2a
	CRcTa1 TypeID = 60 // regulating step command with CP56Time2a
	CSeTa1 TypeID = 61 // set-point command, normalized value with CP56Time2a
	CSeTb1 TypeID = 62 // set-point command, scaled value with CP56Time2a
	CSeTc1 TypeID = 63 // set-point command, short floating point with CP56Time2a
	CBoTa1 TypeID = 64 // bitstring of 32 bit command with CP56Time2a
)

// System information in control direction.
const (
	CIcNa1 TypeID = 100 // interrogation command
	CCiNa1 TypeID = 101 // counter interrogation command
	CRdNa1 TypeID = 102 // read command
	CCsNa1 TypeID = 103 // clock synchronization command
	CTsNa1 TypeID = 104 // test command
	CRpNa1 TypeID = 105 // reset process command
	CCdNa1 TypeID = 106 // delay acquisition command
)

// Parameter in control direction.
const (
	PMeNa1 TypeID = 110 // parameter of measured value, normalized value
	PMeNb1 TypeID = 111 // parameter of measured value, scaled value
	PMeNc1 TypeID = 112 // parameter of measured value, short floating point
	PAcNa1 TypeID = 113 // parameter activation
)

// File transfer, structural framing only.
const (
	FFrNa1 TypeID = 120 // file ready
	FSrNa1 TypeID = 121 // section ready
	FScNa1 TypeID = 122 // call directory, select file, call file, call section
	FLsNa1 TypeID = 123 // last section, last segment
	FAfNa1 TypeID = 124 // ack file, ack section
	FSgNa1 TypeID = 125 // segment
	FDrTa1 TypeID = 126 // directory
)

func (id TypeID) String() string {
	if name, ok := typeIDNames[id]; ok {
		return name
	}
	return fmt.Sprintf("TypeID(%d)", id)
}

var typeIDNames = map[TypeID]string{
	MSpNa1: "M_SP_NA_1", MSpTa1: "M_SP_TA_1", MDpNa1: "M_DP_NA_1", MDpTa1: "M_DP_TA_1",
	MStNa1: "M_ST_NA_1", MStTa1: "M_ST_TA_1", MBoNa1: "M_BO_NA_1", MBoTa1: "M_BO_TA_1",
	MMeNa1: "M_ME_NA_1", MMeTa1: "M_ME_TA_1", MMeNb1: "M_ME_NB_1", MMeTb1: "M_ME_TB_1",
	MMeNc1: "M_ME_NC_1", MMeTc1: "M_ME_TC_1", MItNa1: "M_IT_NA_1", MItTa1: "M_IT_TA_1",
	MEpTa1: "M_EP_TA_1", MEpTb1: "M_EP_TB_1", MEpTc1: "M_EP_TC_1", MPsNa1: "M_PS_NA_1",
	MMeNd1: "M_ME_ND_1",
	MSpTb1: "M_SP_TB_1", MDpTb1: "M_DP_TB_1", MStTb1: "M_ST_TB_1", MBoTb1: "M_BO_TB_1",
	MMeTd1: "M_ME_TD_1", MMeTe1: "M_ME_TE_1", MMeTf1: "M_ME_TF_1", MItTb1: "M_IT_TB_1",
	MEpTd1: "M_EP_TD_1", MEpTe1: "M_EP_TE_1", MEpTf1: "M_EP_TF_1",
	MEiNa1: "M_EI_NA_1",
	CScNa1: "C_SC_NA_1", CDcNa1: "C_DC_NA_1", CRcNa1: "C_RC_NA_1", CSeNa1: "C_SE_NA_1",
	CSeNb1: "C_SE_NB_1", CSeNc1: "C_SE_NC_1", CBoNa1: "C_BO_NA_1",
	CScTa1: "C_SC_TA_1", CDcTa1: "C_DC_TA_1", CRcTa1: "C_RC_TA_1", CSeTa1: "C_SE_TA_1",
	CSeTb1: "C_SE_TB_1", CSeTc1: "C_SE_TC_1", CBoTa1: "C_BO_TA_1",
	CIcNa1: "C_IC_NA_1", CCiNa1: "C_CI_NA_1", CRdNa1: "C_RD_NA_1", CCsNa1: "C_CS_NA_1",
	CTsNa1: "C_TS_NA_1", CRpNa1: "C_RP_NA_1", CCdNa1: "C_CD_NA_1",
	PMeNa1: "P_ME_NA_1", PMeNb1: "P_ME_NB_1", PMeNc1: "P_ME_NC_1", PAcNa1: "P_AC_NA_1",
	FFrNa1: "F_FR_NA_1", FSrNa1: "F_SR_NA_1", FScNa1: "F_SC_NA_1", FLsNa1: "F_LS_NA_1",
	FAfNa1: "F_AF_NA_1", FSgNa1: "F_SG_NA_1", FDrTa1: "F_DR_TA_1",
}

// COT (Cause of Transmission, 6 bits) controls message routing.
type COT uint8

const (
	CotPeriodic    COT = 1
	CotBackground  COT = 2
	CotSpontaneous COT = 3
	CotInitialized COT = 4
	CotRequest     COT = 5
	CotActivation  COT = 6
	CotActCon      COT = 7
	CotDeact       COT = 8
	CotDeactCon    COT = 9
	CotActTerm     COT = 10
	CotRetRemote   COT = 11
	CotRetLocal    COT = 12
	CotFile        COT = 13
	CotInrogen     COT = 20 // interrogated by general interrogation
	// CotInro1..CotInro16 interrogated by interrogation group N (group = COT-20).
	CotReqCoGen COT = 37 // interrogated by counter general interrogation
	// CotReqCo1..CotReqCo4 interrogated by counter interrogation group N (group = COT-37).
	CotUnknownType      COT = 44
	CotUnknownCause     COT = 45
	CotUnknownCA        COT = 46
	CotUnknownIOA       COT = 47
)

func (c COT) String() string {
	if name, ok := cotNames[c]; ok {
		return name
	}
	switch {
	case c >= 21 && c <= 36:
		return fmt.Sprintf("INRO%d", c-20)
	case c >= 38 && c <= 41:
		return fmt.Sprintf("REQCO%d", c-37)
	default:
		return fmt.Sprintf("COT(%d)", c)
	}
}

var cotNames = map[COT]string{
	CotPeriodic: "PERIODIC", CotBackground: "BACKGROUND", CotSpontaneous: "SPONTANEOUS",
	CotInitialized: "INITIALIZED", CotRequest: "REQUEST", CotActivation: "ACTIVATION",
	CotActCon: "ACTIVATION_CON", CotDeact: "DEACTIVATION", CotDeactCon: "DEACTIVATION_CON",
	CotActTerm: "ACTIVATION_TERM", CotRetRemote: "RETURN_REMOTE", CotRetLocal: "RETURN_LOCAL",
	CotFile: "FILE_TRANSFER", CotInrogen: "INROGEN", CotReqCoGen: "REQCOGEN",
	CotUnknownType: "UNKNOWN_TYPE", CotUnknownCause: "UNKNOWN_CAUSE",
	CotUnknownCA: "UNKNOWN_CA", CotUnknownIOA: "UNKNOWN_IOA",
}

// CommonAddr (Common Address of ASDU) addresses a station. 0xFFFF (or
// 0xFF for 1-byte width) is the global broadcast address.
type CommonAddr uint16

const (
	// GlobalCommonAddr is the broadcast common address for a 2-byte CA
	// width. For a 1-byte CA width the broadcast value is 0xFF.
	GlobalCommonAddr CommonAddr = 0xFFFF
)

// IOA (Information Object Address) addresses a point within a station.
type IOA uint32

// Identifier is the fixed six(-ish)-byte data unit identifier shared by
// every ASDU: type, variable structure qualifier, cause of transmission
// (with test/negative flags and optional originator), and common address.
type Identifier struct {
	Type       TypeID
	Variable   VariableStruct
	Cause      CauseOfTransmission
	OrigAddr   OriginAddr
	CommonAddr CommonAddr
}

// VariableStruct (VSQ) packs the sequence flag and object/element count
// into one byte: bit 7 is the sequence flag, bits 0-6 are the count
// (0..127).
type VariableStruct struct {
	IsSequence bool
	Number     int
}

func (v VariableStruct) byte() byte {
	b := byte(v.Number & 0x7f)
	if v.IsSequence {
		b |= 0x80
	}
	return b
}

func parseVariableStruct(b byte) VariableStruct {
	return VariableStruct{IsSequence: b&0x80 != 0, Number: int(b & 0x7f)}
}

// CauseOfTransmission packs the cause byte (and, when Params.SizeOfCOT
// == 2, the originator address byte).
type CauseOfTransmission struct {
	IsTest     bool
	IsNegative bool
	Cause      COT
}

func (c CauseOfTransmission) byte() byte {
	b := byte(c.Cause) & 0x3f
	if c.IsTest {
		b |= 0x80
	}
	if c.IsNegative {
		b |= 0x40
	}
	return b
}

func parseCauseOfTransmission(b byte) CauseOfTransmission {
	return CauseOfTransmission{
		IsTest:     b&0x80 != 0,
		IsNegative: b&0x40 != 0,
		Cause:      COT(b & 0x3f),
	}
}
