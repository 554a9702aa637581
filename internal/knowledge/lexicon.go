package knowledge

import (
	"cmp"
	"slices"
	"strings"
)

// rule maps a lower-case token phrase to a graph update.
type rule struct {
	phrase []string
	apply  func(*Graph)
}

// lexicon indexes rules by their first token, longest phrase first.
var lexicon = buildLexicon()

func buildLexicon() map[string][]rule {
	idx := make(map[string][]rule)
	add := func(apply func(*Graph), phrases ...string) {
		for _, p := range phrases {
			toks := strings.Fields(p)
			idx[toks[0]] = append(idx[toks[0]], rule{phrase: toks, apply: apply})
		}
	}

	// Report type.
	add(setReportType(MosquitoSource), "mosquito source", "new source")
	add(setReportType(Inspection), "inspection", "inspected", "inspecting", "inspect")

	// Breeding flag.
	add(setBreeding(true), "breeding", "actively breeding")
	add(setBreeding(false), "no breeding", "not breeding", "isnt breeding", "without breeding")

	// Conditions.
	add(setCondition(ConditionPoolGreen), "green", "murky")
	add(setCondition(ConditionPoolMaintained), "maintained", "clear", "blue")
	add(setCondition(ConditionDry), "dry", "dried up", "empty")
	add(setCondition(ConditionStagnant), "stagnant", "standing water")
	add(setCondition(ConditionFlowing), "flowing", "running water")

	// Genera.
	for _, g := range Genera {
		add(func(gr *Graph) { setGenus(gr, g) }, strings.ToLower(string(g)))
	}

	// Life stages.
	add(setStage(StageEgg), "egg", "eggs", "egg raft", "egg rafts")
	add(setStage(StageLarva), "larva", "larvae", "larval", "larvas", "wrigglers")
	add(setStage(StageEarlyInstar),
		"early instar", "early instars", "first instar", "second instar",
		"1st instar", "2nd instar", "first instars", "second instars")
	add(setStage(StageLateInstar),
		"late instar", "late instars", "third instar", "fourth instar",
		"3rd instar", "4th instar", "third instars", "fourth instars")
	add(setStage(StagePupa), "pupa", "pupae", "pupal", "pupas", "tumblers")
	add(func(g *Graph) {
		setStage(StageAdult)(g)
		setObserved(g)
	}, "adult", "adults")

	// Treatments.
	add(setTreatment(TreatmentLarvicide), "larvicide", "larvicided", "larviciding")
	add(setTreatment(TreatmentBti), "bti", "dunks", "mosquito dunks")
	add(setTreatment(TreatmentMethoprene), "methoprene", "altosid")
	add(setTreatment(TreatmentOil), "oil", "larvicidal oil")
	add(setTreatment(TreatmentFish), "mosquitofish", "mosquito fish", "gambusia", "fish")
	add(setTreatment(TreatmentAdulticide), "adulticide", "fogging", "fogged")

	// Source types.
	add(setSourceType(SourcePool), "pool", "pools", "swimming pool")
	add(setSourceType(SourcePond), "pond", "ponds")
	add(setSourceType(SourceDitch), "ditch", "ditches")
	add(setSourceType(SourceTire), "tire", "tires", "tyre", "tyres")
	add(setSourceType(SourceContainer), "container", "containers", "bucket", "buckets")
	add(setSourceType(SourceFountain), "fountain", "fountains")
	add(setSourceType(SourceCatchBasin), "catch basin", "catch basins")
	add(setSourceType(SourceStormDrain), "storm drain", "storm drains")
	add(setSourceType(SourceSpa), "spa", "hot tub", "jacuzzi")

	// Drivers.
	add(setDriver(DriverIrrigation), "irrigation", "sprinkler", "sprinklers", "overwatering")
	add(setDriver(DriverRain), "rain", "rainfall", "rainwater", "rain water")
	add(setDriver(DriverLeak), "leak", "leaking", "leaky")
	add(setDriver(DriverRunoff), "runoff")
	add(setDriver(DriverTide), "tide", "tidal")

	// Facilitators.
	add(setFacilitator(FacilitatorVegetation), "vegetation", "weeds", "cattails", "overgrown")
	add(setFacilitator(FacilitatorDebris), "debris", "trash")
	add(setFacilitator(FacilitatorAlgae), "algae")
	add(setFacilitator(FacilitatorShade), "shade", "shaded", "shady")
	add(setFacilitator(FacilitatorLeafLitter), "leaves", "leaf litter")

	// Root causes.
	add(setCause(CauseAbandoned), "abandoned", "vacant")
	add(setCause(CauseForeclosure), "foreclosure", "foreclosed")
	add(setCause(CauseNeglect), "neglect", "neglected", "unmaintained")
	add(setCause(CauseBroken), "broken")
	add(setCause(CauseClogged), "clogged")

	// Adult activity.
	add(setObserved, "biting", "landing", "landings", "bites", "swarm", "swarming")

	for k := range idx {
		slices.SortStableFunc(idx[k], func(a, b rule) int {
			return cmp.Compare(len(b.phrase), len(a.phrase))
		})
	}
	return idx
}

// matchRule returns the longest rule whose phrase starts at toks[i].
func matchRule(toks []string, i int) (rule, bool) {
	for _, r := range lexicon[toks[i]] {
		if i+len(r.phrase) <= len(toks) && slices.Equal(toks[i:i+len(r.phrase)], r.phrase) {
			return r, true
		}
	}
	return rule{}, false
}

// isVocabulary reports whether tok starts any phrase or is a quantity noun.
func isVocabulary(tok string) bool {
	if _, ok := lexicon[tok]; ok {
		return true
	}
	if _, ok := countNouns[tok]; ok {
		return true
	}
	_, ok := units[tok]
	return ok
}

func setReportType(t ReportType) func(*Graph) {
	return func(g *Graph) { g.Report.Type = ptr(t) }
}

func setBreeding(v bool) func(*Graph) {
	return func(g *Graph) { g.Breeding.Breeding = ptr(v) }
}

// setCondition fills both the source and the report; they track the same
// observation.
func setCondition(c Condition) func(*Graph) {
	return func(g *Graph) {
		g.Source.Condition = ptr(c)
		g.Report.Conditions = ptr(c)
	}
}

func setGenus(g *Graph, genus Genus) {
	g.Breeding.Genus = ptr(genus)
	g.Report.Genus = ptr(genus)
}

func setStage(s LifeStage) func(*Graph) {
	return func(g *Graph) {
		g.Breeding.Stage = ptr(s)
		g.Report.LifeStage = ptr(s)
	}
}

func setTreatment(t Treatment) func(*Graph) {
	return func(g *Graph) { g.Breeding.Treatment = ptr(t) }
}

func setSourceType(t SourceType) func(*Graph) {
	return func(g *Graph) { g.Source.Type = ptr(t) }
}

func setDriver(k DriverKind) func(*Graph) {
	return func(g *Graph) { g.Driver.Kind = ptr(k) }
}

func setFacilitator(k FacilitatorKind) func(*Graph) {
	return func(g *Graph) { g.Facilitator.Kind = ptr(k) }
}

func setCause(c Cause) func(*Graph) {
	return func(g *Graph) { g.RootCause.Cause = ptr(c) }
}

func setObserved(g *Graph) { g.AdultProduction.Observed = ptr(true) }

// ptr returns a fresh pointer so no two graphs share a field value.
func ptr[T any](v T) *T { return &v }
