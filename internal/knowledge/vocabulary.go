package knowledge

import (
	"fmt"
	"strings"
)

// Condition describes the state of the water at a source.
type Condition int

const (
	ConditionPoolGreen Condition = iota + 1
	ConditionPoolMaintained
	ConditionDry
	ConditionStagnant
	ConditionFlowing
)

var conditionNames = map[Condition]string{
	ConditionPoolGreen:      "pool-green",
	ConditionPoolMaintained: "pool-maintained",
	ConditionDry:            "dry",
	ConditionStagnant:       "stagnant",
	ConditionFlowing:        "flowing",
}

func (c Condition) String() string { return enumString(conditionNames, c) }

// MarshalText implements [encoding.TextMarshaler].
func (c Condition) MarshalText() ([]byte, error) { return enumText(conditionNames, c) }

// LifeStage is the most developed mosquito stage observed.
type LifeStage int

const (
	StageEgg LifeStage = iota + 1
	StageLarva
	StageEarlyInstar
	StageLateInstar
	StagePupa
	StageAdult
)

var stageNames = map[LifeStage]string{
	StageEgg:         "egg",
	StageLarva:       "larva",
	StageEarlyInstar: "early-instar",
	StageLateInstar:  "late-instar",
	StagePupa:        "pupa",
	StageAdult:       "adult",
}

func (s LifeStage) String() string { return enumString(stageNames, s) }

// MarshalText implements [encoding.TextMarshaler].
func (s LifeStage) MarshalText() ([]byte, error) { return enumText(stageNames, s) }

// Genus is a mosquito genus from the fixed species list.
type Genus string

const (
	GenusAedes          Genus = "Aedes"
	GenusAnopheles      Genus = "Anopheles"
	GenusCoquillettidia Genus = "Coquillettidia"
	GenusCulex          Genus = "Culex"
	GenusCuliseta       Genus = "Culiseta"
	GenusMansonia       Genus = "Mansonia"
	GenusPsorophora     Genus = "Psorophora"
	GenusUranotaenia    Genus = "Uranotaenia"
)

// Genera lists every recognised genus in a fixed order.
var Genera = []Genus{
	GenusAedes, GenusAnopheles, GenusCoquillettidia, GenusCulex,
	GenusCuliseta, GenusMansonia, GenusPsorophora, GenusUranotaenia,
}

// Treatment is a control measure applied or recommended at a source.
type Treatment string

const (
	TreatmentLarvicide  Treatment = "larvicide"
	TreatmentBti        Treatment = "bti"
	TreatmentMethoprene Treatment = "methoprene"
	TreatmentOil        Treatment = "oil"
	TreatmentFish       Treatment = "mosquitofish"
	TreatmentAdulticide Treatment = "adulticide"
)

// SourceType classifies the water-holding feature.
type SourceType string

const (
	SourcePool       SourceType = "pool"
	SourcePond       SourceType = "pond"
	SourceDitch      SourceType = "ditch"
	SourceTire       SourceType = "tire"
	SourceContainer  SourceType = "container"
	SourceFountain   SourceType = "fountain"
	SourceCatchBasin SourceType = "catch-basin"
	SourceStormDrain SourceType = "storm-drain"
	SourceSpa        SourceType = "spa"
)

// DriverKind is what keeps water present at a source.
type DriverKind string

const (
	DriverIrrigation DriverKind = "irrigation"
	DriverRain       DriverKind = "rain"
	DriverLeak       DriverKind = "leak"
	DriverRunoff     DriverKind = "runoff"
	DriverTide       DriverKind = "tide"
)

// FacilitatorKind is a site feature that makes breeding easier.
type FacilitatorKind string

const (
	FacilitatorVegetation FacilitatorKind = "vegetation"
	FacilitatorDebris     FacilitatorKind = "debris"
	FacilitatorAlgae      FacilitatorKind = "algae"
	FacilitatorShade      FacilitatorKind = "shade"
	FacilitatorLeafLitter FacilitatorKind = "leaf-litter"
)

// Cause is the underlying reason a source exists.
type Cause string

const (
	CauseAbandoned   Cause = "abandoned"
	CauseForeclosure Cause = "foreclosure"
	CauseNeglect     Cause = "neglect"
	CauseBroken      Cause = "broken-equipment"
	CauseClogged     Cause = "clogged-drain"
)

// Unit is the unit of a [Measurement].
type Unit string

const (
	UnitFeet    Unit = "ft"
	UnitMeters  Unit = "m"
	UnitInches  Unit = "in"
	UnitGallons Unit = "gal"
)

// Measurement is a dimension or volume spoken by the inspector.
type Measurement struct {
	Value float64 `json:"value"`
	Unit  Unit    `json:"unit"`
}

func (m Measurement) String() string {
	return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.2f", m.Value), "0"), ".") + " " + string(m.Unit)
}

// ReportType selects the fieldseeker report variant.
type ReportType int

const (
	MosquitoSource ReportType = iota + 1
	Inspection
)

var reportTypeNames = map[ReportType]string{
	MosquitoSource: "mosquito-source",
	Inspection:     "inspection",
}

func (r ReportType) String() string { return enumString(reportTypeNames, r) }

// MarshalText implements [encoding.TextMarshaler].
func (r ReportType) MarshalText() ([]byte, error) { return enumText(reportTypeNames, r) }

func enumString[K ~int](names map[K]string, k K) string {
	if s, ok := names[k]; ok {
		return s
	}
	return fmt.Sprintf("unknown(%d)", k)
}

func enumText[K ~int](names map[K]string, k K) ([]byte, error) {
	s, ok := names[k]
	if !ok {
		return nil, fmt.Errorf("knowledge: invalid enum value %d", k)
	}
	return []byte(s), nil
}
