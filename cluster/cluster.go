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

// Package cluster builds the deterministic null-first scenario clustering
// summary over the ensemble: cluster 0 is reserved for strict
// background-only members, the remainder cluster by agglomerative average
// linkage on a combined possibility/percentile distance, and singleton
// scenario clusters are evidence-gated before display.
package cluster

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"
)

// Float is a float64 whose non-finite values marshal as JSON null,
// honoring the artefact NaN policy.
type Float float64

// MarshalJSON implements json.Marshaler.
func (f Float) MarshalJSON() ([]byte, error) {
	v := float64(f)
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return []byte("null"), nil
	}
	return json.Marshal(v)
}

// SchemaVersion identifies the summary payload schema.
const SchemaVersion = "1.3"

// Lead-time blocks and their design weights.
var (
	blockNames  = []string{"days_1_5", "days_6_10", "days_11_15"}
	blockStarts = []int{0, 5, 10}
	blockEnds   = []int{5, 10, -1} // -1: open-ended
	blockWeights = []float64{0.55, 0.30, 0.15}
)

// Stage-1 strict null selection thresholds.
const (
	strictBackgroundTarget = 1.0
	strictOtherTarget      = 0.0
	strictTolerance        = 1e-6
)

// Stage-2 clustering parameters.
const (
	kMin = 1
	kMax = 3

	possibilityWeight = 0.60
	percentileWeight  = 0.40

	missingDataPolicy = "ignore_missing_days"
	singletonPolicy   = "evidence_gated_lenient"

	singletonMinPassCriteria   = 2
	singletonP90RiskLiftPpb    = 4.0
	singletonNonBackgroundLift = 0.01
)

var categories = []string{"background", "moderate", "elevated", "extreme"}

// MemberData is one member's daily-max trajectory, aligned to Dates.
type MemberData struct {
	Dates       []time.Time
	Possibility map[string][]float64 // category → values
	P50, P90    []float64
	// MissingDays optionally marks days to exclude from all criteria,
	// aligned to Dates.
	MissingDays []bool
}

// WeatherSeries carries optional weather context for cluster profiles.
type WeatherSeries struct {
	Snow, Wind []float64
}

// Summary is the schema-versioned clustering payload.
type Summary struct {
	SchemaVersion         string            `json:"schema_version"`
	Init                  string            `json:"init"`
	Method                Method            `json:"method"`
	NMembers              int               `json:"n_members"`
	NClusters             int               `json:"n_clusters"`
	Clusters              []ClusterProfile  `json:"clusters"`
	RepresentativeMembers []string          `json:"representative_members"`
	MemberAssignment      map[string]int    `json:"member_assignment"`
	LinkageNote           string            `json:"linkage_note"`
	SpreadSummary         string            `json:"spread_summary"`
	QualityFlags          QualityFlags      `json:"quality_flags"`
}

// Method documents the two-stage algorithm parameters in the payload.
type Method struct {
	Stage1     Stage1     `json:"stage_1"`
	Stage2     Stage2     `json:"stage_2"`
	TimeBlocks TimeBlocks `json:"time_blocks"`
}

type Stage1 struct {
	Name                string       `json:"name"`
	MissingDataPolicy   string       `json:"missing_data_policy"`
	StrictAllBackground StrictLimits `json:"strict_all_background"`
	ActiveWindow        ActiveWindow `json:"active_window"`
}

type StrictLimits struct {
	BackgroundTarget float64 `json:"background_target"`
	OtherTarget      float64 `json:"other_target"`
	Tolerance        float64 `json:"tolerance"`
}

type ActiveWindow struct {
	Name       string `json:"name"`
	ActiveDays int    `json:"active_days"`
	TotalDays  int    `json:"total_days"`
}

type Stage2 struct {
	Name                 string               `json:"name"`
	KMin                 int                  `json:"k_min"`
	KMax                 int                  `json:"k_max"`
	SelectedK            int                  `json:"selected_k"`
	SilhouetteScores     map[string]float64   `json:"silhouette_scores"`
	ScoresPassingMinSize map[string]float64   `json:"scores_passing_min_size"`
	MinSizeGuardRelaxed  bool                 `json:"min_size_guard_relaxed"`
	FallbackUsed         bool                 `json:"fallback_used"`
	DistanceWeights      map[string]float64   `json:"distance_weights"`
	DistanceDiagnostics  DistanceDiagnostics  `json:"distance_diagnostics"`
	SingletonPolicy      string               `json:"singleton_policy"`
	SingletonThresholds  SingletonThresholds  `json:"singleton_evidence_thresholds"`
}

type SingletonThresholds struct {
	MinPassCriteria            int     `json:"min_pass_criteria"`
	SeparationRule             string  `json:"separation_rule"`
	P90LiftPpb                 float64 `json:"p90_lift_ppb"`
	WeightedNonBackgroundLift  float64 `json:"weighted_non_background_lift"`
}

type TimeBlocks struct {
	Names   []string  `json:"names"`
	Weights []float64 `json:"weights"`
}

// DistanceDiagnostics summarizes the stage-2 distance matrices.
type DistanceDiagnostics struct {
	NonNullMembers  int               `json:"non_null_members"`
	Possibility     DistanceQuantiles `json:"possibility"`
	Percentile      DistanceQuantiles `json:"percentile"`
	Combined        DistanceQuantiles `json:"combined"`
	NearestNeighbor NearestNeighbor   `json:"nearest_neighbor"`
}

type DistanceQuantiles struct {
	NPairs int     `json:"n_pairs"`
	Min    float64 `json:"min"`
	P25    float64 `json:"p25"`
	Median float64 `json:"median"`
	P75    float64 `json:"p75"`
	Max    float64 `json:"max"`
}

type NearestNeighbor struct {
	Median     float64            `json:"median"`
	P75        float64            `json:"p75"`
	Max        float64            `json:"max"`
	TopMembers []NeighborDistance `json:"top_members"`
}

type NeighborDistance struct {
	Member          string  `json:"member"`
	NearestDistance float64 `json:"nearest_distance"`
}

// ClusterProfile describes one cluster in the payload.
type ClusterProfile struct {
	ID          int            `json:"id"`
	Kind        string         `json:"kind"`
	Members     []string       `json:"members"`
	Fraction    float64        `json:"fraction"`
	Medoid      string         `json:"medoid"`
	ClyfarOzone OzoneProfile   `json:"clyfar_ozone"`
	RiskProfile RiskProfile    `json:"risk_profile"`
	GEFSWeather WeatherProfile `json:"gefs_weather"`
	Evidence    Evidence       `json:"evidence"`
	Display     Display        `json:"display"`
}

type OzoneProfile struct {
	DominantCategory string `json:"dominant_category"`
	RiskLevel        string `json:"risk_level"`
}

type RiskProfile struct {
	WeightedNonBackground Float                       `json:"weighted_non_background"`
	WeightedModerate      Float                       `json:"weighted_moderate"`
	WeightedHigh          Float                       `json:"weighted_high"`
	WeightedExtreme       Float                       `json:"weighted_extreme"`
	WeightedBackground    Float                       `json:"weighted_background"`
	BlockMeans            map[string]map[string]Float `json:"block_means"`
}

type WeatherProfile struct {
	SnowTendency string `json:"snow_tendency"`
	WindTendency string `json:"wind_tendency"`
	Pattern      string `json:"pattern"`
}

// Evidence carries the singleton evidence assessment; non-singleton and
// null clusters pass by construction.
type Evidence struct {
	Score            float64             `json:"singleton_evidence_score"`
	Passed           bool                `json:"singleton_evidence_passed"`
	Reasons          []string            `json:"evidence_reasons"`
	Criteria         map[string]Criterion `json:"criteria,omitempty"`
	NearestClusterID *int                `json:"nearest_cluster_id,omitempty"`
}

type Criterion struct {
	Passed bool             `json:"passed"`
	Values map[string]Float `json:"values,omitempty"`
}

type Display struct {
	Status      string `json:"status"`
	WarningCode string `json:"warning_code,omitempty"`
}

// QualityFlags summarizes the run for downstream consumers.
type QualityFlags struct {
	NullFallbackApplied     bool     `json:"null_fallback_applied"`
	NullSelectedByThreshold int      `json:"null_selected_by_threshold"`
	NullTargetSize          int      `json:"null_target_size"`
	StrictAllBackground     bool     `json:"strict_all_background"`
	StrictNullMembers       int      `json:"strict_null_members"`
	NonNullMembers          int      `json:"non_null_members"`
	ActiveWindowDays        int      `json:"active_window_days"`
	MinSizeGuardRelaxed     bool     `json:"min_size_guard_relaxed"`
	WeakSingletonClusters   int      `json:"weak_singleton_clusters"`
	DroppedMembersMissing   []string `json:"dropped_members_missing_data"`
}

// blockRange is one valid lead block with its renormalized weight.
type blockRange struct {
	name        string
	start, stop int
	weight      float64
}

// blockRanges returns the valid blocks and renormalized weights for a
// horizon of nSteps days.
func blockRanges(nSteps int) []blockRange {
	var ranges []blockRange
	var total float64
	for i, name := range blockNames {
		start := blockStarts[i]
		if start >= nSteps {
			continue
		}
		stop := nSteps
		if blockEnds[i] >= 0 && blockEnds[i] < nSteps {
			stop = blockEnds[i]
		}
		if stop <= start {
			continue
		}
		ranges = append(ranges, blockRange{name: name, start: start, stop: stop, weight: blockWeights[i]})
		total += blockWeights[i]
	}
	if total > 0 {
		for i := range ranges {
			ranges[i].weight /= total
		}
	}
	return ranges
}

// blockMeans computes per-block means of one trajectory, NaN for blocks
// with no finite values.
func blockMeans(values []float64) map[string]float64 {
	out := make(map[string]float64, len(blockNames))
	for _, name := range blockNames {
		out[name] = math.NaN()
	}
	for _, b := range blockRanges(len(values)) {
		out[b.name] = nanMean(values[b.start:b.stop])
	}
	return out
}

// weightedFromBlockMeans collapses block means to one value, renormalizing
// the design weights over the blocks that have data.
func weightedFromBlockMeans(means map[string]float64) float64 {
	var sum, wsum float64
	for i, name := range blockNames {
		v := means[name]
		if math.IsNaN(v) {
			continue
		}
		sum += v * blockWeights[i]
		wsum += blockWeights[i]
	}
	if wsum == 0 {
		return math.NaN()
	}
	return sum / wsum
}

// dailyWeights spreads each block's weight over its days so Euclidean
// distances contribute per the design block weights.
func dailyWeights(nSteps int) []float64 {
	out := make([]float64, nSteps)
	for _, b := range blockRanges(nSteps) {
		w := math.Sqrt(b.weight / float64(b.stop-b.start))
		for i := b.start; i < b.stop; i++ {
			out[i] = w
		}
	}
	return out
}

func nanMean(vals []float64) float64 {
	var sum float64
	var n int
	for _, v := range vals {
		if math.IsNaN(v) {
			continue
		}
		sum += v
		n++
	}
	if n == 0 {
		return math.NaN()
	}
	return sum / float64(n)
}

func nanMedian(vals []float64) float64 {
	finite := vals[:0:0]
	for _, v := range vals {
		if !math.IsNaN(v) {
			finite = append(finite, v)
		}
	}
	if len(finite) == 0 {
		return math.NaN()
	}
	sort.Float64s(finite)
	n := len(finite)
	if n%2 == 1 {
		return finite[n/2]
	}
	return 0.5 * (finite[n/2-1] + finite[n/2])
}

// quantileLinear is the conventional linear-interpolated quantile of the
// finite entries.
func quantileLinear(vals []float64, q float64) float64 {
	finite := make([]float64, 0, len(vals))
	for _, v := range vals {
		if !math.IsNaN(v) {
			finite = append(finite, v)
		}
	}
	n := len(finite)
	if n == 0 {
		return math.NaN()
	}
	if n == 1 {
		return finite[0]
	}
	sort.Float64s(finite)
	h := q * float64(n-1)
	lo := int(math.Floor(h))
	if lo >= n-1 {
		return finite[n-1]
	}
	frac := h - float64(lo)
	return finite[lo] + frac*(finite[lo+1]-finite[lo])
}

func round(v float64, places int) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return v
	}
	scale := math.Pow(10, float64(places))
	return math.Round(v*scale) / scale
}

// zscoreColumns standardizes each column over its valid entries with
// epsilon stabilization, setting invalid entries to NaN.
func zscoreColumns(x [][]float64, valid [][]bool) {
	if len(x) == 0 {
		return
	}
	nCols := len(x[0])
	for j := 0; j < nCols; j++ {
		var sum float64
		var n int
		for i := range x {
			if valid[i][j] && !math.IsNaN(x[i][j]) {
				sum += x[i][j]
				n++
			}
		}
		if n == 0 {
			for i := range x {
				x[i][j] = math.NaN()
			}
			continue
		}
		mu := sum / float64(n)
		var ss float64
		for i := range x {
			if valid[i][j] && !math.IsNaN(x[i][j]) {
				d := x[i][j] - mu
				ss += d * d
			}
		}
		sigma := math.Sqrt(ss/float64(n)) + 1e-6
		for i := range x {
			if valid[i][j] && !math.IsNaN(x[i][j]) {
				x[i][j] = (x[i][j] - mu) / sigma
			} else {
				x[i][j] = math.NaN()
			}
		}
	}
}

// maskedEuclidean computes pairwise Euclidean distance over the mutually
// valid dimensions of each pair, rescaled by sqrt(d/m) so distances over
// fewer observed dimensions stay comparable.
func maskedEuclidean(x [][]float64, valid [][]bool) [][]float64 {
	n := len(x)
	D := make([][]float64, n)
	for i := range D {
		D[i] = make([]float64, n)
	}
	if n <= 1 {
		return D
	}
	d := len(x[0])
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			var ss float64
			var m int
			for c := 0; c < d; c++ {
				if !valid[i][c] || !valid[j][c] ||
					math.IsNaN(x[i][c]) || math.IsNaN(x[j][c]) {
					continue
				}
				diff := x[i][c] - x[j][c]
				ss += diff * diff
				m++
			}
			var dist float64
			if m > 0 {
				dist = math.Sqrt(ss) * math.Sqrt(float64(d)/float64(m))
			}
			D[i][j] = dist
			D[j][i] = dist
		}
	}
	return D
}

// clusterFromDistance cuts an agglomerative average-linkage tree over the
// precomputed distance matrix at k clusters, returning labels 1..k. Ties
// in merge distance break toward the pair with the lowest indices, keeping
// the procedure deterministic.
func clusterFromDistance(D [][]float64, k int) []int {
	n := len(D)
	if n == 0 {
		return nil
	}
	labels := make([]int, n)
	if n == 1 || k <= 1 {
		for i := range labels {
			labels[i] = 1
		}
		return labels
	}
	if k > n {
		k = n
	}

	// Active clusters as member index sets with a live distance matrix
	// updated by the average-linkage rule.
	clusters := make([][]int, n)
	for i := range clusters {
		clusters[i] = []int{i}
	}
	dist := make([][]float64, n)
	for i := range dist {
		dist[i] = append([]float64(nil), D[i]...)
	}
	active := make([]bool, n)
	for i := range active {
		active[i] = true
	}
	nActive := n

	for nActive > k {
		bi, bj := -1, -1
		best := math.Inf(1)
		for i := 0; i < n; i++ {
			if !active[i] {
				continue
			}
			for j := i + 1; j < n; j++ {
				if !active[j] {
					continue
				}
				if dist[i][j] < best {
					best = dist[i][j]
					bi, bj = i, j
				}
			}
		}
		// Merge bj into bi with average-linkage distance update.
		ni := float64(len(clusters[bi]))
		nj := float64(len(clusters[bj]))
		for c := 0; c < n; c++ {
			if !active[c] || c == bi || c == bj {
				continue
			}
			d := (ni*dist[bi][c] + nj*dist[bj][c]) / (ni + nj)
			dist[bi][c] = d
			dist[c][bi] = d
		}
		clusters[bi] = append(clusters[bi], clusters[bj]...)
		active[bj] = false
		nActive--
	}

	label := 0
	for i := 0; i < n; i++ {
		if !active[i] {
			continue
		}
		label++
		for _, idx := range clusters[i] {
			labels[idx] = label
		}
	}
	return labels
}

// silhouetteFromDistance computes the average silhouette over a
// precomputed distance matrix, returning -1 for degenerate partitions.
func silhouetteFromDistance(D [][]float64, labels []int) float64 {
	n := len(labels)
	unique := make(map[int]int)
	for _, l := range labels {
		unique[l]++
	}
	if n < 3 || len(unique) < 2 || len(unique) >= n {
		return -1
	}
	var sVals []float64
	for i := 0; i < n; i++ {
		li := labels[i]
		if unique[li] <= 1 {
			return -1
		}
		var aSum float64
		var aCount int
		for j := 0; j < n; j++ {
			if j != i && labels[j] == li {
				aSum += D[i][j]
				aCount++
			}
		}
		ai := 0.
		if aCount > 0 {
			ai = aSum / float64(aCount)
		}
		bi := math.Inf(1)
		for other := range unique {
			if other == li {
				continue
			}
			var bSum float64
			var bCount int
			for j := 0; j < n; j++ {
				if labels[j] == other {
					bSum += D[i][j]
					bCount++
				}
			}
			if bCount > 0 {
				if mean := bSum / float64(bCount); mean < bi {
					bi = mean
				}
			}
		}
		if math.IsInf(bi, 1) {
			return -1
		}
		denom := math.Max(ai, bi)
		si := 0.
		if denom > 0 {
			si = (bi - ai) / denom
		}
		sVals = append(sVals, si)
	}
	if len(sVals) == 0 {
		return -1
	}
	var sum float64
	for _, s := range sVals {
		sum += s
	}
	return sum / float64(len(sVals))
}

func minClusterSize(labels []int) int {
	if len(labels) == 0 {
		return 0
	}
	counts := make(map[int]int)
	for _, l := range labels {
		counts[l]++
	}
	min := math.MaxInt
	for _, c := range counts {
		if c < min {
			min = c
		}
	}
	return min
}

// chooseK selects the cluster count in [kMin, kMax] by silhouette with a
// minimum-cluster-size guard, relaxing the guard (and flagging it) when no
// candidate satisfies it.
func chooseK(D [][]float64) ([]int, stage2Meta) {
	n := len(D)
	onesLabels := func() []int {
		labels := make([]int, n)
		for i := range labels {
			labels[i] = 1
		}
		return labels
	}
	meta := stage2Meta{selectedK: 1, minSizeRequired: 1,
		scores: map[string]float64{}, passing: map[string]float64{}}
	if n <= 2 {
		return onesLabels(), meta
	}

	maxK := kMax
	if n-1 < maxK {
		maxK = n - 1
	}
	minK := 2
	if maxK < minK {
		return onesLabels(), meta
	}
	minSizeRequired := 1
	if n >= 6 {
		minSizeRequired = 2
	}
	meta.minSizeRequired = minSizeRequired

	allScores := make(map[int]float64)
	var bestLabels []int
	bestK := -1
	bestScore := -2.
	for k := minK; k <= maxK; k++ {
		labelsK := clusterFromDistance(D, k)
		score := silhouetteFromDistance(D, labelsK)
		allScores[k] = score
		meta.scores[fmt.Sprint(k)] = round(score, 4)
		if minClusterSize(labelsK) < minSizeRequired {
			continue
		}
		meta.passing[fmt.Sprint(k)] = round(score, 4)
		if score > bestScore {
			bestScore = score
			bestK = k
			bestLabels = labelsK
		}
	}
	if bestLabels != nil {
		meta.selectedK = bestK
		return bestLabels, meta
	}

	// All candidate k violate the min-size guard: keep the structure of
	// the best-scoring k and flag the relaxation.
	fallbackK := -1
	fallbackScore := -2.
	for k := minK; k <= maxK; k++ {
		s := allScores[k]
		if s > fallbackScore || (s == fallbackScore && (fallbackK < 0 || k < fallbackK)) {
			fallbackScore = s
			fallbackK = k
		}
	}
	meta.passing = map[string]float64{}
	if fallbackK > 0 {
		meta.selectedK = fallbackK
		meta.relaxed = true
		meta.fallback = true
		return clusterFromDistance(D, fallbackK), meta
	}
	meta.fallback = true
	return onesLabels(), meta
}

type stage2Meta struct {
	selectedK       int
	minSizeRequired int
	scores          map[string]float64
	passing         map[string]float64
	relaxed         bool
	fallback        bool
}
