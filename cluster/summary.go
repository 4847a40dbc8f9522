/*
Copyright © 2025 the Clyfar authors.
This file is part of Clyfar.

Clyfar is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

Clyfar is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with Clyfar.  If not, see <http://www.gnu.org/licenses/>.
*/

package cluster

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/bingham-research-center/clyfar"
)

// memberMetrics holds the block-weighted possibility summaries used for
// risk profiles and null ordering.
type memberMetrics struct {
	weightedModerate      float64
	weightedHigh          float64
	weightedNonBackground float64
	weightedExtreme       float64
	weightedBackground    float64
	blockMeans            map[string]map[string]float64
	nullScore             float64
}

// aligned is one member's trajectories reindexed to the canonical daily
// horizon.
type aligned struct {
	poss     map[string][]float64
	p50, p90 []float64
	valid    []bool // day is finite across all categories and not masked
}

// FromDailyMax adapts core daily-max frames into clustering inputs keyed
// by stable member label.
func FromDailyMax(dailymax map[clyfar.Member]*clyfar.DailyMaxFrame,
	frames map[clyfar.Member]*clyfar.MemberFrame) (map[string]*MemberData, map[string]WeatherSeries) {

	members := make(map[string]*MemberData, len(dailymax))
	weather := make(map[string]WeatherSeries, len(frames))
	for m, df := range dailymax {
		poss := make(map[string][]float64, len(categories))
		for _, cat := range categories {
			poss[cat] = df.Possibility(cat)
		}
		members[m.Label()] = &MemberData{
			Dates:       df.Dates,
			Possibility: poss,
			P50:         df.PercentileColumn(50),
			P90:         df.PercentileColumn(90),
		}
	}
	for m, f := range frames {
		weather[m.Label()] = WeatherSeries{Snow: f.Snow, Wind: f.Wind}
	}
	return members, weather
}

// BuildSummary builds the deterministic null-first clustering summary.
// init is the normalized init string used in artefact names.
func BuildSummary(init string, members map[string]*MemberData,
	weather map[string]WeatherSeries) (*Summary, error) {

	if len(members) == 0 {
		return nil, fmt.Errorf("cluster: no members provided")
	}
	var names []string
	var dropped []string
	for name, md := range members {
		if md == nil || md.P50 == nil || md.P90 == nil || len(md.Possibility) < len(categories) {
			dropped = append(dropped, name)
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	sort.Strings(dropped)
	if len(names) == 0 {
		return nil, fmt.Errorf("cluster: no members with complete possibility and percentile data")
	}

	// Canonical daily horizon: sorted union of member dates.
	index := unionIndex(members, names)
	nSteps := len(index)

	alignedByName := make(map[string]*aligned, len(names))
	for _, name := range names {
		alignedByName[name] = alignMember(members[name], index)
	}

	metrics := make(map[string]*memberMetrics, len(names))
	for _, name := range names {
		metrics[name] = computeMetrics(alignedByName[name])
	}

	activeMask := activeWindow(alignedByName, names, nSteps)
	activeDays := 0
	for _, a := range activeMask {
		if a {
			activeDays++
		}
	}

	// Stage 1: cluster 0 is reserved for strict background members.
	var nullMembers, nonNull []string
	for _, name := range names {
		if isStrictBackground(alignedByName[name]) {
			nullMembers = append(nullMembers, name)
		} else {
			nonNull = append(nonNull, name)
		}
	}

	labels := make(map[string]int, len(names))
	clustersByID := make(map[int][]string)
	medoids := make(map[int]string)
	if len(nullMembers) > 0 {
		clustersByID[0] = nullMembers
		for _, name := range nullMembers {
			labels[name] = 0
		}
		// The null medoid is the member with the least non-background
		// signal.
		medoid := nullMembers[0]
		for _, name := range nullMembers[1:] {
			if metrics[name].nullScore < metrics[medoid].nullScore {
				medoid = name
			}
		}
		medoids[0] = medoid
	}

	// Stage 2: agglomerative clustering of the non-null members.
	meta := stage2Meta{selectedK: 0, minSizeRequired: 1,
		scores: map[string]float64{}, passing: map[string]float64{}}
	var dNonNull [][]float64
	diag := emptyDiagnostics(len(nonNull))

	switch {
	case len(nonNull) == 0:
		// Nothing to cluster.
	case len(nonNull) == 1:
		labels[nonNull[0]] = 1
		clustersByID[1] = nonNull
		medoids[1] = nonNull[0]
		meta.selectedK = 1
	default:
		xPoss, validPoss, xPct, validPct := buildFeatures(alignedByName, nonNull, activeMask, nSteps)
		zscoreColumns(xPoss, validPoss)
		zscoreColumns(xPct, validPct)
		dPoss := maskedEuclidean(xPoss, validPoss)
		dPct := maskedEuclidean(xPct, validPct)
		n := len(nonNull)
		D := make([][]float64, n)
		for i := range D {
			D[i] = make([]float64, n)
			for j := range D[i] {
				D[i][j] = possibilityWeight*dPoss[i][j] + percentileWeight*dPct[i][j]
			}
		}
		dNonNull = D
		diag = DistanceDiagnostics{
			NonNullMembers:  n,
			Possibility:     distanceQuantiles(dPoss),
			Percentile:      distanceQuantiles(dPct),
			Combined:        distanceQuantiles(D),
			NearestNeighbor: nearestNeighborDiagnostics(D, nonNull, 5),
		}

		var rawLabels []int
		rawLabels, meta = chooseK(D)

		// Remap raw cluster ids by increasing non-background severity so
		// cluster ids are stable and meaningful.
		rawToMembers := make(map[int][]string)
		for i, name := range nonNull {
			rawToMembers[rawLabels[i]] = append(rawToMembers[rawLabels[i]], name)
		}
		rawMedoids := make(map[int]string)
		for rawID, membersC := range rawToMembers {
			rawMedoids[rawID] = medoidOf(membersC, nonNull, D)
		}
		rawIDs := make([]int, 0, len(rawToMembers))
		for rawID := range rawToMembers {
			rawIDs = append(rawIDs, rawID)
		}
		sort.Slice(rawIDs, func(a, b int) bool {
			sa := severity(rawToMembers[rawIDs[a]], metrics)
			sb := severity(rawToMembers[rawIDs[b]], metrics)
			if sa[0] != sb[0] {
				return sa[0] < sb[0]
			}
			if sa[1] != sb[1] {
				return sa[1] < sb[1]
			}
			return rawIDs[a] < rawIDs[b]
		})
		for newID, rawID := range rawIDs {
			id := newID + 1
			membersC := append([]string(nil), rawToMembers[rawID]...)
			sort.Strings(membersC)
			clustersByID[id] = membersC
			medoids[id] = rawMedoids[rawID]
			for _, name := range membersC {
				labels[name] = id
			}
		}
	}

	evidence, display, weakSingletons := evaluateSingletons(
		clustersByID, medoids, nonNull, dNonNull, metrics, alignedByName,
		diag.NearestNeighbor.P75)

	total := len(names)
	ids := make([]int, 0, len(clustersByID))
	for id := range clustersByID {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	var clusters []ClusterProfile
	for _, id := range ids {
		kind := "scenario"
		if id == 0 {
			kind = "null"
		}
		p := clusterProfile(id, kind, clustersByID[id], medoids[id], metrics, weather)
		p.Fraction = round(float64(len(clustersByID[id]))/float64(total), 3)
		p.Evidence = evidence[id]
		p.Display = display[id]
		clusters = append(clusters, p)
	}

	var reps []string
	var linkageParts, spreadParts []string
	for _, c := range clusters {
		reps = append(reps, c.Medoid)
		linkageParts = append(linkageParts, fmt.Sprintf("%s → %s ozone (Cluster %d)",
			c.GEFSWeather.Pattern, c.ClyfarOzone.DominantCategory, c.ID))
		spreadParts = append(spreadParts, fmt.Sprintf("%d%% %s risk",
			int(math.Round(100*c.Fraction)), c.ClyfarOzone.RiskLevel))
	}
	linkageNote := ""
	if len(linkageParts) > 0 {
		linkageNote = strings.Join(linkageParts, ". ") + "."
	}

	assignment := make(map[string]int, len(labels))
	for name, id := range labels {
		assignment[name] = id
	}

	return &Summary{
		SchemaVersion: SchemaVersion,
		Init:          init,
		Method: Method{
			Stage1: Stage1{
				Name:              "strict_background_only",
				MissingDataPolicy: missingDataPolicy,
				StrictAllBackground: StrictLimits{
					BackgroundTarget: strictBackgroundTarget,
					OtherTarget:      strictOtherTarget,
					Tolerance:        strictTolerance,
				},
				ActiveWindow: ActiveWindow{
					Name:       "ensemble_non_background_days",
					ActiveDays: activeDays,
					TotalDays:  nSteps,
				},
			},
			Stage2: Stage2{
				Name:                 "agglomerative_average_precomputed_distance",
				KMin:                 kMin,
				KMax:                 kMax,
				SelectedK:            meta.selectedK,
				SilhouetteScores:     meta.scores,
				ScoresPassingMinSize: meta.passing,
				MinSizeGuardRelaxed:  meta.relaxed,
				FallbackUsed:         meta.fallback,
				DistanceWeights: map[string]float64{
					"possibility": possibilityWeight,
					"percentile":  percentileWeight,
				},
				DistanceDiagnostics: diag,
				SingletonPolicy:     singletonPolicy,
				SingletonThresholds: SingletonThresholds{
					MinPassCriteria:           singletonMinPassCriteria,
					SeparationRule:            "nearest_distance >= nearest_neighbor_p75",
					P90LiftPpb:                singletonP90RiskLiftPpb,
					WeightedNonBackgroundLift: singletonNonBackgroundLift,
				},
			},
			TimeBlocks: TimeBlocks{Names: blockNames, Weights: blockWeights},
		},
		NMembers:              total,
		NClusters:             len(clusters),
		Clusters:              clusters,
		RepresentativeMembers: reps,
		MemberAssignment:      assignment,
		LinkageNote:           linkageNote,
		SpreadSummary: fmt.Sprintf("%d clusters; %s",
			len(clusters), strings.Join(spreadParts, ", ")),
		QualityFlags: QualityFlags{
			NullSelectedByThreshold: len(nullMembers),
			NullTargetSize:          len(nullMembers),
			StrictAllBackground:     len(nullMembers) == total,
			StrictNullMembers:       len(nullMembers),
			NonNullMembers:          len(nonNull),
			ActiveWindowDays:        activeDays,
			MinSizeGuardRelaxed:     meta.relaxed,
			WeakSingletonClusters:   weakSingletons,
			DroppedMembersMissing:   dropped,
		},
	}, nil
}

// unionIndex builds the sorted union of the members' daily dates.
func unionIndex(members map[string]*MemberData, names []string) []time.Time {
	seen := make(map[string]time.Time)
	for _, name := range names {
		for _, d := range members[name].Dates {
			seen[d.Format("2006-01-02")] = d
		}
	}
	out := make([]time.Time, 0, len(seen))
	for _, d := range seen {
		out = append(out, d)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Before(out[b]) })
	return out
}

// alignMember reindexes a member onto the canonical horizon and derives
// its valid-day mask: all four categories finite and not masked missing.
func alignMember(md *MemberData, index []time.Time) *aligned {
	pos := make(map[string]int, len(md.Dates))
	for i, d := range md.Dates {
		pos[d.Format("2006-01-02")] = i
	}
	n := len(index)
	a := &aligned{
		poss:  make(map[string][]float64, len(categories)),
		p50:   make([]float64, n),
		p90:   make([]float64, n),
		valid: make([]bool, n),
	}
	for _, cat := range categories {
		a.poss[cat] = make([]float64, n)
	}
	for i, d := range index {
		src, ok := pos[d.Format("2006-01-02")]
		if !ok {
			for _, cat := range categories {
				a.poss[cat][i] = math.NaN()
			}
			a.p50[i] = math.NaN()
			a.p90[i] = math.NaN()
			continue
		}
		finite := true
		for _, cat := range categories {
			v := md.Possibility[cat][src]
			a.poss[cat][i] = v
			if math.IsNaN(v) {
				finite = false
			}
		}
		a.p50[i] = md.P50[src]
		a.p90[i] = md.P90[src]
		masked := len(md.MissingDays) == len(md.Dates) && md.MissingDays[src]
		a.valid[i] = finite && !masked
	}
	return a
}

// computeMetrics derives block-weighted possibility summaries.
func computeMetrics(a *aligned) *memberMetrics {
	n := len(a.valid)
	masked := func(cat string) []float64 {
		out := make([]float64, n)
		for i := range out {
			if a.valid[i] {
				out[i] = a.poss[cat][i]
			} else {
				out[i] = math.NaN()
			}
		}
		return out
	}
	bg := masked("background")
	moderate := masked("moderate")
	elevated := masked("elevated")
	extreme := masked("extreme")
	high := make([]float64, n)
	nonBackground := make([]float64, n)
	for i := range high {
		high[i] = elevated[i] + extreme[i]
		nonBackground[i] = moderate[i] + high[i]
	}

	blocks := map[string]map[string]float64{
		"moderate":       blockMeans(moderate),
		"high":           blockMeans(high),
		"non_background": blockMeans(nonBackground),
		"extreme":        blockMeans(extreme),
		"background":     blockMeans(bg),
	}
	m := &memberMetrics{
		weightedModerate:      weightedFromBlockMeans(blocks["moderate"]),
		weightedHigh:          weightedFromBlockMeans(blocks["high"]),
		weightedNonBackground: weightedFromBlockMeans(blocks["non_background"]),
		weightedExtreme:       weightedFromBlockMeans(blocks["extreme"]),
		weightedBackground:    weightedFromBlockMeans(blocks["background"]),
		blockMeans:            blocks,
	}
	// Lower score means less non-background signal; used to pick the
	// null medoid.
	raw := m.weightedNonBackground + 0.6*m.weightedExtreme - 0.3*m.weightedBackground
	if math.IsNaN(raw) || math.IsInf(raw, 0) {
		m.nullScore = math.Inf(1)
	} else {
		m.nullScore = raw
	}
	return m
}

// isStrictBackground reports whether every valid day is background-only
// within numeric tolerance.
func isStrictBackground(a *aligned) bool {
	any := false
	for i, valid := range a.valid {
		if !valid {
			continue
		}
		any = true
		if a.poss["background"][i] < strictBackgroundTarget-strictTolerance {
			return false
		}
		for _, cat := range categories[1:] {
			if a.poss[cat][i] > strictOtherTarget+strictTolerance {
				return false
			}
		}
	}
	return any
}

// activeWindow marks days where any member carries non-background
// possibility.
func activeWindow(alignedByName map[string]*aligned, names []string, nSteps int) []bool {
	active := make([]bool, nSteps)
	for _, name := range names {
		a := alignedByName[name]
		for i := 0; i < nSteps; i++ {
			if !a.valid[i] {
				continue
			}
			for _, cat := range categories[1:] {
				if a.poss[cat][i] > strictOtherTarget+strictTolerance {
					active[i] = true
					break
				}
			}
		}
	}
	return active
}

// buildFeatures assembles the block-weighted possibility and percentile
// feature matrices for the non-null members, restricted to the active
// window when one exists.
func buildFeatures(alignedByName map[string]*aligned, names []string,
	activeMask []bool, nSteps int) (xPoss [][]float64, validPoss [][]bool, xPct [][]float64, validPct [][]bool) {

	mask := activeMask
	anyActive := false
	for _, a := range mask {
		if a {
			anyActive = true
			break
		}
	}
	if !anyActive {
		mask = make([]bool, nSteps)
		for i := range mask {
			mask[i] = true
		}
	}
	dayW := dailyWeights(nSteps)
	for i := range dayW {
		if !mask[i] {
			dayW[i] = 0
		}
	}

	for _, name := range names {
		a := alignedByName[name]
		w := make([]float64, nSteps)
		for i := range w {
			if a.valid[i] {
				w[i] = dayW[i]
			}
		}

		possVec := make([]float64, 0, 3*nSteps)
		possValid := make([]bool, 0, 3*nSteps)
		for _, cat := range []string{"moderate", "elevated", "extreme"} {
			for i := 0; i < nSteps; i++ {
				possVec = append(possVec, a.poss[cat][i]*w[i])
				possValid = append(possValid, a.valid[i] && w[i] > 0)
			}
		}
		xPoss = append(xPoss, possVec)
		validPoss = append(validPoss, possValid)

		pctVec := make([]float64, 0, 2*nSteps)
		pctValid := make([]bool, 0, 2*nSteps)
		for _, col := range [][]float64{a.p50, a.p90} {
			for i := 0; i < nSteps; i++ {
				pctVec = append(pctVec, col[i]*w[i])
				pctValid = append(pctValid, a.valid[i] && !math.IsNaN(col[i]) && w[i] > 0)
			}
		}
		xPct = append(xPct, pctVec)
		validPct = append(validPct, pctValid)
	}
	return xPoss, validPoss, xPct, validPct
}

// severity orders clusters by mean non-background then high possibility.
func severity(membersC []string, metrics map[string]*memberMetrics) [2]float64 {
	var nb, hi []float64
	for _, name := range membersC {
		nb = append(nb, metrics[name].weightedNonBackground)
		hi = append(hi, metrics[name].weightedHigh)
	}
	return [2]float64{nanMean(nb), nanMean(hi)}
}

// medoidOf returns the cluster member minimizing total distance to the
// other members.
func medoidOf(membersC, nonNull []string, D [][]float64) string {
	idx := make(map[string]int, len(nonNull))
	for i, name := range nonNull {
		idx[name] = i
	}
	best := membersC[0]
	bestSum := math.Inf(1)
	sorted := append([]string(nil), membersC...)
	sort.Strings(sorted)
	for _, name := range sorted {
		var sum float64
		for _, other := range membersC {
			sum += D[idx[name]][idx[other]]
		}
		if sum < bestSum {
			bestSum = sum
			best = name
		}
	}
	return best
}

func distanceQuantiles(D [][]float64) DistanceQuantiles {
	n := len(D)
	if n <= 1 {
		return DistanceQuantiles{}
	}
	var vals []float64
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			vals = append(vals, D[i][j])
		}
	}
	if len(vals) == 0 {
		return DistanceQuantiles{}
	}
	sorted := append([]float64(nil), vals...)
	sort.Float64s(sorted)
	return DistanceQuantiles{
		NPairs: len(vals),
		Min:    round(sorted[0], 4),
		P25:    round(quantileLinear(vals, 0.25), 4),
		Median: round(nanMedian(vals), 4),
		P75:    round(quantileLinear(vals, 0.75), 4),
		Max:    round(sorted[len(sorted)-1], 4),
	}
}

func nearestNeighborDiagnostics(D [][]float64, members []string, topN int) NearestNeighbor {
	n := len(D)
	if n <= 1 {
		return NearestNeighbor{TopMembers: []NeighborDistance{}}
	}
	nnVals := make([]float64, n)
	pairs := make([]NeighborDistance, n)
	for i, member := range members {
		nearest := math.Inf(1)
		for j := 0; j < n; j++ {
			if j != i && D[i][j] < nearest {
				nearest = D[i][j]
			}
		}
		nnVals[i] = nearest
		pairs[i] = NeighborDistance{Member: member, NearestDistance: round(nearest, 4)}
	}
	sort.SliceStable(pairs, func(a, b int) bool {
		return pairs[a].NearestDistance > pairs[b].NearestDistance
	})
	if topN > len(pairs) {
		topN = len(pairs)
	}
	return NearestNeighbor{
		Median:     round(nanMedian(nnVals), 4),
		P75:        round(quantileLinear(nnVals, 0.75), 4),
		Max:        round(maxOf(nnVals), 4),
		TopMembers: pairs[:topN],
	}
}

func emptyDiagnostics(n int) DistanceDiagnostics {
	return DistanceDiagnostics{
		NonNullMembers:  n,
		NearestNeighbor: NearestNeighbor{TopMembers: []NeighborDistance{}},
	}
}

func maxOf(vals []float64) float64 {
	out := math.Inf(-1)
	for _, v := range vals {
		if v > out {
			out = v
		}
	}
	return out
}

// classifyRisk maps weighted risk summaries onto a dominant category and
// risk level.
func classifyRisk(nonBackground, high, extreme float64) (string, string) {
	if math.IsNaN(nonBackground) || math.IsNaN(high) || math.IsNaN(extreme) {
		return "unknown", "unknown"
	}
	switch {
	case extreme >= 0.30:
		return "extreme", "very high"
	case high >= 0.50:
		return "elevated", "high"
	case nonBackground >= 0.30:
		return "moderate", "medium"
	}
	return "background", "low"
}

// weatherProfile summarizes snow/wind tendencies for a cluster's members.
func weatherProfile(weather map[string]WeatherSeries, membersC []string) WeatherProfile {
	var snowVals, windVals []float64
	for _, name := range membersC {
		ws := weather[name]
		for _, v := range ws.Snow {
			if !math.IsNaN(v) {
				snowVals = append(snowVals, v)
			}
		}
		for _, v := range ws.Wind {
			if !math.IsNaN(v) {
				windVals = append(windVals, v)
			}
		}
	}
	p := WeatherProfile{SnowTendency: "unknown", WindTendency: "unknown", Pattern: "variable"}
	if len(snowVals) > 0 {
		snowIn := nanMedian(snowVals) / 25.4
		switch {
		case snowIn > 2:
			p.SnowTendency = fmt.Sprintf("high (>%.0f inches)", snowIn)
		case snowIn > 1:
			p.SnowTendency = fmt.Sprintf("moderate (%.1f inches)", snowIn)
		default:
			p.SnowTendency = "low (<1 inch)"
		}
	}
	if len(windVals) > 0 {
		windMph := nanMedian(windVals) * 2.24
		switch {
		case windMph > 10:
			p.WindTendency = fmt.Sprintf("breezy (>%.0f mph)", windMph)
		case windMph > 5:
			p.WindTendency = fmt.Sprintf("light (%.0f mph)", windMph)
		default:
			p.WindTendency = "calm (<5 mph)"
		}
	}
	switch {
	case strings.HasPrefix(p.SnowTendency, "high") && strings.HasPrefix(p.WindTendency, "calm"):
		p.Pattern = "stagnant cold pool"
	case strings.HasPrefix(p.SnowTendency, "low") && strings.HasPrefix(p.WindTendency, "breezy"):
		p.Pattern = "active mixing"
	case strings.HasPrefix(p.SnowTendency, "moderate"):
		p.Pattern = "typical winter"
	}
	return p
}

// clusterProfile assembles the cluster-level payload.
func clusterProfile(id int, kind string, membersC []string, medoid string,
	metrics map[string]*memberMetrics, weather map[string]WeatherSeries) ClusterProfile {

	mean := func(get func(*memberMetrics) float64) float64 {
		vals := make([]float64, len(membersC))
		for i, name := range membersC {
			vals[i] = get(metrics[name])
		}
		return nanMean(vals)
	}
	wnb := mean(func(m *memberMetrics) float64 { return m.weightedNonBackground })
	wmod := mean(func(m *memberMetrics) float64 { return m.weightedModerate })
	whigh := mean(func(m *memberMetrics) float64 { return m.weightedHigh })
	wext := mean(func(m *memberMetrics) float64 { return m.weightedExtreme })
	wbg := mean(func(m *memberMetrics) float64 { return m.weightedBackground })
	dominant, risk := classifyRisk(wnb, whigh, wext)

	blockSummary := make(map[string]map[string]Float)
	for _, metricName := range []string{"moderate", "high", "non_background", "extreme", "background"} {
		blockSummary[metricName] = make(map[string]Float, len(blockNames))
		for _, blockName := range blockNames {
			vals := make([]float64, len(membersC))
			for i, name := range membersC {
				vals[i] = metrics[name].blockMeans[metricName][blockName]
			}
			blockSummary[metricName][blockName] = Float(round(nanMean(vals), 3))
		}
	}

	sorted := append([]string(nil), membersC...)
	sort.Strings(sorted)
	return ClusterProfile{
		ID:      id,
		Kind:    kind,
		Members: sorted,
		Medoid:  medoid,
		ClyfarOzone: OzoneProfile{
			DominantCategory: dominant,
			RiskLevel:        risk,
		},
		RiskProfile: RiskProfile{
			WeightedNonBackground: Float(round(wnb, 3)),
			WeightedModerate:      Float(round(wmod, 3)),
			WeightedHigh:          Float(round(whigh, 3)),
			WeightedExtreme:       Float(round(wext, 3)),
			WeightedBackground:    Float(round(wbg, 3)),
			BlockMeans:            blockSummary,
		},
		GEFSWeather: weatherProfile(weather, membersC),
	}
}

// p90Peak is the member's observed p90 maximum over valid days.
func p90Peak(a *aligned) float64 {
	var peak = math.NaN()
	for i, valid := range a.valid {
		v := a.p90[i]
		if !valid || math.IsNaN(v) {
			continue
		}
		if math.IsNaN(peak) || v > peak {
			peak = v
		}
	}
	return peak
}

// evaluateSingletons gates singleton scenario clusters on three evidence
// criteria; singletons with fewer than the required passes are retained
// but marked de-emphasized.
func evaluateSingletons(clustersByID map[int][]string, medoids map[int]string,
	nonNull []string, D [][]float64, metrics map[string]*memberMetrics,
	alignedByName map[string]*aligned, nnP75 float64) (map[int]Evidence, map[int]Display, int) {

	evidence := make(map[int]Evidence)
	display := make(map[int]Display)
	weak := 0
	idx := make(map[string]int, len(nonNull))
	for i, name := range nonNull {
		idx[name] = i
	}

	ids := make([]int, 0, len(clustersByID))
	for id := range clustersByID {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		membersC := clustersByID[id]
		kind := "scenario"
		if id == 0 {
			kind = "null"
		}
		reason := "not_applicable_non_singleton"
		if kind != "scenario" {
			reason = "not_applicable_non_scenario"
		}
		evidence[id] = Evidence{Score: 1, Passed: true, Reasons: []string{reason}}
		display[id] = Display{Status: "primary"}

		if kind != "scenario" || len(membersC) != 1 || D == nil || len(nonNull) <= 1 {
			continue
		}
		member := membersC[0]
		mi, ok := idx[member]
		if !ok {
			continue
		}

		nearestDistance := math.Inf(1)
		for j := range nonNull {
			if j != mi && D[mi][j] < nearestDistance {
				nearestDistance = D[mi][j]
			}
		}

		// Mean distance to each other scenario cluster.
		nearestClusterID := -1
		nearestClusterMean := math.Inf(1)
		for _, otherID := range ids {
			if otherID == id || otherID == 0 {
				continue
			}
			var sum float64
			var count int
			for _, other := range clustersByID[otherID] {
				if oi, ok := idx[other]; ok {
					sum += D[mi][oi]
					count++
				}
			}
			if count == 0 {
				continue
			}
			if mean := sum / float64(count); mean < nearestClusterMean {
				nearestClusterMean = mean
				nearestClusterID = otherID
			}
		}

		singletonPeak := p90Peak(alignedByName[member])
		nearestMedoidPeak := math.NaN()
		nearestClusterWNB := math.NaN()
		if nearestClusterID >= 0 {
			if medoid, ok := medoids[nearestClusterID]; ok {
				if a, ok := alignedByName[medoid]; ok {
					nearestMedoidPeak = p90Peak(a)
				}
			}
			var vals []float64
			for _, other := range clustersByID[nearestClusterID] {
				if m, ok := metrics[other]; ok && !math.IsNaN(m.weightedNonBackground) {
					vals = append(vals, m.weightedNonBackground)
				}
			}
			if len(vals) > 0 {
				nearestClusterWNB = nanMean(vals)
			}
		}

		separation := !math.IsInf(nearestDistance, 1) && !math.IsNaN(nnP75) &&
			nearestDistance >= nnP75
		riskLift := !math.IsNaN(singletonPeak) && !math.IsNaN(nearestMedoidPeak) &&
			singletonPeak-nearestMedoidPeak >= singletonP90RiskLiftPpb
		singletonWNB := metrics[member].weightedNonBackground
		possLift := !math.IsNaN(singletonWNB) && !math.IsNaN(nearestClusterWNB) &&
			singletonWNB-nearestClusterWNB >= singletonNonBackgroundLift

		criteria := map[string]Criterion{
			"separation_nearest_vs_nn_p75": {
				Passed: separation,
				Values: map[string]Float{
					"nearest_distance":     Float(round(nearestDistance, 4)),
					"nearest_neighbor_p75": Float(round(nnP75, 4)),
				},
			},
			"p90_risk_lift_vs_nearest_medoid": {
				Passed: riskLift,
				Values: map[string]Float{
					"singleton_p90_peak":      Float(round(singletonPeak, 3)),
					"nearest_medoid_p90_peak": Float(round(nearestMedoidPeak, 3)),
					"required_lift_ppb":       Float(singletonP90RiskLiftPpb),
				},
			},
			"possibility_lift_vs_nearest_cluster_mean": {
				Passed: possLift,
				Values: map[string]Float{
					"singleton_weighted_non_background":            Float(round(singletonWNB, 4)),
					"nearest_cluster_weighted_non_background_mean": Float(round(nearestClusterWNB, 4)),
					"required_lift":                                Float(singletonNonBackgroundLift),
				},
			},
		}
		passCount := 0
		var reasons []string
		for _, name := range []string{
			"separation_nearest_vs_nn_p75",
			"p90_risk_lift_vs_nearest_medoid",
			"possibility_lift_vs_nearest_cluster_mean",
		} {
			if criteria[name].Passed {
				passCount++
				reasons = append(reasons, name)
			}
		}
		if reasons == nil {
			reasons = []string{"no_criteria_passed"}
		}
		passed := passCount >= singletonMinPassCriteria
		ev := Evidence{
			Score:    round(float64(passCount)/3, 3),
			Passed:   passed,
			Reasons:  reasons,
			Criteria: criteria,
		}
		if nearestClusterID >= 0 {
			nid := nearestClusterID
			ev.NearestClusterID = &nid
		}
		evidence[id] = ev
		if !passed {
			weak++
			display[id] = Display{Status: "deemphasized", WarningCode: "weak_singleton_evidence"}
		}
	}
	return evidence, display, weak
}
