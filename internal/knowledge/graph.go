// Package knowledge turns an inspector's transcript into a structured,
// partially populated knowledge graph about a mosquito source.
//
// A [Graph] is a fixed set of sub-graphs (breeding, source, driver,
// facilitator, root cause, adult production and the fieldseeker report).
// Every field is a pointer and starts nil: nil means "not mentioned", which is
// different from false or zero. Extraction never fails; anything it does not
// recognise simply leaves fields unset.
//
// Derived booleans ("has breeding", "implies source", "report complete") are
// methods computed from field state and are never stored. The graph itself is
// never persisted either: it is recomputed from the transcript whenever the
// structured view is needed, so extraction rules can evolve without a schema
// change.
package knowledge

// Breeding records evidence of mosquitoes developing at the source.
type Breeding struct {
	// Breeding is the explicit breeding flag ("breeding", "no breeding").
	Breeding  *bool      `json:"breeding,omitempty"`
	Genus     *Genus     `json:"genus,omitempty"`
	Stage     *LifeStage `json:"stage,omitempty"`
	Treatment *Treatment `json:"treatment,omitempty"`
}

// Has reports whether the breeding flag is true or a genus, stage or
// treatment is known.
func (b Breeding) Has() bool {
	return isTrue(b.Breeding) || b.Genus != nil || b.Stage != nil || b.Treatment != nil
}

// Source describes the water-holding feature itself.
type Source struct {
	Type      *SourceType  `json:"type,omitempty"`
	Condition *Condition   `json:"condition,omitempty"`
	Size      *Measurement `json:"size,omitempty"`
}

// Has reports whether any source attribute is known.
func (s Source) Has() bool {
	return s.Type != nil || s.Condition != nil || s.Size != nil
}

// Driver records what keeps water present.
type Driver struct {
	Kind *DriverKind `json:"kind,omitempty"`
}

// Has reports whether a driver is known.
func (d Driver) Has() bool { return d.Kind != nil }

// Facilitator records site features that make breeding easier.
type Facilitator struct {
	Kind *FacilitatorKind `json:"kind,omitempty"`
}

// Has reports whether a facilitator is known.
func (f Facilitator) Has() bool { return f.Kind != nil }

// RootCause records why the source exists at all.
type RootCause struct {
	Cause *Cause `json:"cause,omitempty"`
}

// Has reports whether a root cause is known.
func (r RootCause) Has() bool { return r.Cause != nil }

// AdultProduction records evidence of adult mosquitoes at the site.
type AdultProduction struct {
	Observed     *bool `json:"observed,omitempty"`
	LandingCount *int  `json:"landing_count,omitempty"`
}

// Has reports whether adults were observed or a positive landing count was
// given. A spoken count of zero is evidence of absence.
func (a AdultProduction) Has() bool {
	return isTrue(a.Observed) || (a.LandingCount != nil && *a.LandingCount > 0)
}

// Graph is the complete extraction result.
type Graph struct {
	Breeding        Breeding          `json:"breeding"`
	Source          Source            `json:"source"`
	Driver          Driver            `json:"driver"`
	Facilitator     Facilitator       `json:"facilitator"`
	RootCause       RootCause         `json:"root_cause"`
	AdultProduction AdultProduction   `json:"adult_production"`
	Report          FieldseekerReport `json:"report"`
}

func (g Graph) HasBreeding() bool        { return g.Breeding.Has() }
func (g Graph) HasSource() bool          { return g.Source.Has() }
func (g Graph) HasDriver() bool          { return g.Driver.Has() }
func (g Graph) HasFacilitator() bool     { return g.Facilitator.Has() }
func (g Graph) HasRootCause() bool       { return g.RootCause.Has() }
func (g Graph) HasAdultProduction() bool { return g.AdultProduction.Has() }

// Implication edges. Each sub-graph is implied by its own evidence or by the
// evidence of the sub-graphs it is inferred from:
//
//	adult production <- breeding
//	breeding         <- source, adult production
//	driver           <- root cause
//	facilitator      <- root cause, source
//	root cause       <- driver, facilitator
//	source           <- facilitator, breeding

func (g Graph) ImpliesAdultProduction() bool {
	return g.HasAdultProduction() || g.HasBreeding()
}

func (g Graph) ImpliesBreeding() bool {
	return g.HasBreeding() || g.HasSource() || g.HasAdultProduction()
}

func (g Graph) ImpliesDriver() bool {
	return g.HasDriver() || g.HasRootCause()
}

func (g Graph) ImpliesFacilitator() bool {
	return g.HasFacilitator() || g.HasRootCause() || g.HasSource()
}

func (g Graph) ImpliesRootCause() bool {
	return g.HasRootCause() || g.HasDriver() || g.HasFacilitator()
}

func (g Graph) ImpliesSource() bool {
	return g.HasSource() || g.HasFacilitator() || g.HasBreeding()
}

// ReportVariant returns the report variant selected by the extracted report
// type, or false when no report type was mentioned.
func (g Graph) ReportVariant() (Report, bool) {
	if g.Report.Type == nil {
		return nil, false
	}
	return NewReport(*g.Report.Type, g.Report)
}

// Derived is the read-only view of every derived boolean, for the
// presentation layer.
type Derived struct {
	Has      map[string]bool `json:"has"`
	Implies  map[string]bool `json:"implies"`
	Complete *bool           `json:"complete,omitempty"`
	Missing  []string        `json:"missing,omitempty"`
}

// Snapshot pairs a graph with its derived values.
type Snapshot struct {
	Graph   Graph   `json:"graph"`
	Derived Derived `json:"derived"`
}

// Snapshot computes every derived value of g.
func (g Graph) Snapshot() Snapshot {
	d := Derived{
		Has: map[string]bool{
			"adult_production": g.HasAdultProduction(),
			"breeding":         g.HasBreeding(),
			"driver":           g.HasDriver(),
			"facilitator":      g.HasFacilitator(),
			"root_cause":       g.HasRootCause(),
			"source":           g.HasSource(),
		},
		Implies: map[string]bool{
			"adult_production": g.ImpliesAdultProduction(),
			"breeding":         g.ImpliesBreeding(),
			"driver":           g.ImpliesDriver(),
			"facilitator":      g.ImpliesFacilitator(),
			"root_cause":       g.ImpliesRootCause(),
			"source":           g.ImpliesSource(),
		},
	}
	if r, ok := g.ReportVariant(); ok {
		complete := r.IsComplete()
		d.Complete = &complete
		for _, f := range r.Missing() {
			d.Missing = append(d.Missing, f.String())
		}
	}
	return Snapshot{Graph: g, Derived: d}
}

func isTrue(b *bool) bool { return b != nil && *b }
