package knowledge

// Field names one entry of a report checklist.
type Field int

const (
	FieldDipCount Field = iota + 1
	FieldLarvaeCount
	FieldPupaeCount
	FieldEggCount
	FieldConditions
	FieldGenus
	FieldLifeStage
)

var fieldNames = map[Field]string{
	FieldDipCount:    "dip_count",
	FieldLarvaeCount: "larvae_count",
	FieldPupaeCount:  "pupae_count",
	FieldEggCount:    "egg_count",
	FieldConditions:  "conditions",
	FieldGenus:       "genus",
	FieldLifeStage:   "life_stage",
}

func (f Field) String() string { return enumString(fieldNames, f) }

// FieldseekerReport holds the values an inspector's report is checked against.
type FieldseekerReport struct {
	Type        *ReportType `json:"type,omitempty"`
	DipCount    *int        `json:"dip_count,omitempty"`
	LarvaeCount *int        `json:"larvae_count,omitempty"`
	PupaeCount  *int        `json:"pupae_count,omitempty"`
	EggCount    *int        `json:"egg_count,omitempty"`
	Conditions  *Condition  `json:"conditions,omitempty"`
	Genus       *Genus      `json:"genus,omitempty"`
	LifeStage   *LifeStage  `json:"life_stage,omitempty"`
}

// IsSet reports whether field f has a value.
func (r FieldseekerReport) IsSet(f Field) bool {
	switch f {
	case FieldDipCount:
		return r.DipCount != nil
	case FieldLarvaeCount:
		return r.LarvaeCount != nil
	case FieldPupaeCount:
		return r.PupaeCount != nil
	case FieldEggCount:
		return r.EggCount != nil
	case FieldConditions:
		return r.Conditions != nil
	case FieldGenus:
		return r.Genus != nil
	case FieldLifeStage:
		return r.LifeStage != nil
	}
	return false
}

var (
	inspectionChecklist = []Field{
		FieldDipCount, FieldLarvaeCount, FieldPupaeCount,
		FieldConditions, FieldGenus, FieldLifeStage,
	}
	mosquitoSourceChecklist = []Field{
		FieldDipCount, FieldLarvaeCount, FieldPupaeCount, FieldEggCount,
		FieldConditions, FieldGenus, FieldLifeStage,
	}
)

// Report is the closed set of fieldseeker report variants:
// [SourceInspection] and [MosquitoSourceReport]. The interface is sealed; use
// [VisitReport] to handle every variant.
type Report interface {
	Kind() ReportType
	Values() FieldseekerReport
	// Checklist returns the fields that must be set for the report to be
	// complete, in presentation order.
	Checklist() []Field
	IsComplete() bool
	// Missing returns the checklist fields that are not yet set.
	Missing() []Field

	sealed()
}

// SourceInspection is a routine inspection of a known source.
type SourceInspection struct {
	FieldseekerReport
}

// MosquitoSourceReport records a newly identified mosquito source. It
// additionally requires an egg count.
type MosquitoSourceReport struct {
	FieldseekerReport
}

func (SourceInspection) Kind() ReportType     { return Inspection }
func (MosquitoSourceReport) Kind() ReportType { return MosquitoSource }

func (r SourceInspection) Values() FieldseekerReport     { return r.FieldseekerReport }
func (r MosquitoSourceReport) Values() FieldseekerReport { return r.FieldseekerReport }

func (SourceInspection) Checklist() []Field     { return append([]Field(nil), inspectionChecklist...) }
func (MosquitoSourceReport) Checklist() []Field { return append([]Field(nil), mosquitoSourceChecklist...) }

func (r SourceInspection) IsComplete() bool     { return len(r.Missing()) == 0 }
func (r MosquitoSourceReport) IsComplete() bool { return len(r.Missing()) == 0 }

func (r SourceInspection) Missing() []Field {
	return missing(r.FieldseekerReport, inspectionChecklist)
}

func (r MosquitoSourceReport) Missing() []Field {
	return missing(r.FieldseekerReport, mosquitoSourceChecklist)
}

func (SourceInspection) sealed()     {}
func (MosquitoSourceReport) sealed() {}

// NewReport wraps values in the variant for t. It returns false for an
// unknown report type.
func NewReport(t ReportType, values FieldseekerReport) (Report, bool) {
	switch t {
	case Inspection:
		return SourceInspection{values}, true
	case MosquitoSource:
		return MosquitoSourceReport{values}, true
	}
	return nil, false
}

// VisitReport dispatches r to the handler for its variant. Requiring one
// handler per variant makes every consumer handle the full set; adding a
// variant changes this signature and breaks every call site at compile time.
// A nil r yields the zero value of T.
func VisitReport[T any](r Report, onInspection func(SourceInspection) T, onSource func(MosquitoSourceReport) T) T {
	switch v := r.(type) {
	case SourceInspection:
		return onInspection(v)
	case MosquitoSourceReport:
		return onSource(v)
	}
	var zero T
	return zero
}

func missing(r FieldseekerReport, checklist []Field) []Field {
	var out []Field
	for _, f := range checklist {
		if !r.IsSet(f) {
			out = append(out, f)
		}
	}
	return out
}
