package asdu

// timeTag classifies the trailing timestamp (if any) carried by an
// information object of a given TypeID.
type timeTag int

const (
	timeNone timeTag = iota
	timeCP24
	timeCP56
)

func (t timeTag) size() int {
	switch t {
	case timeCP24:
		return 3
	case timeCP56:
		return 7
	default:
		return 0
	}
}

// baseElementSize is the encoded size, in bytes, of one information
// element *excluding* any trailing time tag - e.g. SIQ is 1 byte, NVA+QDS
// is 3 bytes. This table is the "collapse near-duplicate branches"
// redesign: every TypeID's wire shape is data, not a switch arm.
var baseElementSize = map[TypeID]int{
	MSpNa1: 1, MSpTa1: 1, MSpTb1: 1, // SIQ
	MDpNa1: 1, MDpTa1: 1, MDpTb1: 1, // DIQ
	MStNa1: 2, MStTa1: 2, MStTb1: 2, // VTI + QDS
	MBoNa1: 5, MBoTa1: 5, MBoTb1: 5, // BSI(4) + QDS
	MMeNa1: 3, MMeTa1: 3, MMeTd1: 3, // NVA(2) + QDS
	MMeNb1: 3, MMeTb1: 3, MMeTe1: 3, // SVA(2) + QDS
	MMeNc1: 5, MMeTc1: 5, MMeTf1: 5, // IEEE754(4) + QDS
	MItNa1: 5, MItTa1: 5, MItTb1: 5, // BCR
	MMeNd1: 2, // NVA only, no quality
	MEiNa1: 1, // COI

	CScNa1: 1, CScTa1: 1, // SCO
	CDcNa1: 1, CDcTa1: 1, // DCO
	CRcNa1: 1, CRcTa1: 1, // RCO
	CSeNa1: 3, CSeTa1: 3, // NVA + QOS
	CSeNb1: 3, CSeTb1: 3, // SVA + QOS
	CSeNc1: 5, CSeTc1: 5, // float + QOS
	CBoNa1: 4, CBoTa1: 4, // BSI only

	CIcNa1: 1, // QOI
	CCiNa1: 1, // QCC
	CRdNa1: 0,
	CCsNa1: 0, // CP56Time2a only, handled via timeTag
	CTsNa1: 2, // test word FBP
	CRpNa1: 1, // QRP
	CCdNa1: 0,

	PMeNa1: 3, PMeNb1: 3, PMeNc1: 5,
	PAcNa1: 1,
}

var catalogTimeTag = map[TypeID]timeTag{
	MSpTa1: timeCP24, MDpTa1: timeCP24, MStTa1: timeCP24, MBoTa1: timeCP24,
	MMeTa1: timeCP24, MMeTb1: timeCP24, MMeTc1: timeCP24, MItTa1: timeCP24,
	MEpTa1: timeCP24, MEpTb1: timeCP24, MEpTc1: timeCP24,

	MSpTb1: timeCP56, MDpTb1: timeCP56, MStTb1: timeCP56, MBoTb1: timeCP56,
	MMeTd1: timeCP56, MMeTe1: timeCP56, MMeTf1: timeCP56, MItTb1: timeCP56,
	MEpTd1: timeCP56, MEpTe1: timeCP56, MEpTf1: timeCP56,

	CScTa1: timeCP56, CDcTa1: timeCP56, CRcTa1: timeCP56,
	CSeTa1: timeCP56, CSeTb1: timeCP56, CSeTc1: timeCP56, CBoTa1: timeCP56,
	CCsNa1: timeCP56,
}

func elementSize(t TypeID) (int, bool) {
	base, ok := baseElementSize[t]
	if !ok {
		return 0, false
	}
	return base + catalogTimeTag[t].size(), true
}
