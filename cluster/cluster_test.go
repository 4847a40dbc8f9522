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
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"testing"
	"time"
)

func testDates(days int) []time.Time {
	out := make([]time.Time, days)
	for i := range out {
		out[i] = time.Date(2025, 1, 10+i, 0, 0, 0, 0, time.UTC)
	}
	return out
}

// backgroundMember is strictly background on every day.
func backgroundMember(days int) *MemberData {
	dates := testDates(days)
	poss := map[string][]float64{
		"background": constSlice(days, 1),
		"moderate":   constSlice(days, 0),
		"elevated":   constSlice(days, 0),
		"extreme":    constSlice(days, 0),
	}
	return &MemberData{
		Dates: dates, Possibility: poss,
		P50: constSlice(days, 35), P90: constSlice(days, 40),
	}
}

// riskMember carries non-background possibility scaled by level.
func riskMember(days int, level float64, peak float64) *MemberData {
	dates := testDates(days)
	poss := map[string][]float64{
		"background": constSlice(days, 1-level),
		"moderate":   constSlice(days, level),
		"elevated":   constSlice(days, level/2),
		"extreme":    constSlice(days, level/4),
	}
	return &MemberData{
		Dates: dates, Possibility: poss,
		P50: constSlice(days, 40+20*level), P90: constSlice(days, peak),
	}
}

func constSlice(n int, v float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func TestStrictBackgroundMembersFormClusterZero(t *testing.T) {
	members := map[string]*MemberData{
		"clyfar001": backgroundMember(15),
		"clyfar002": backgroundMember(15),
		"clyfar003": riskMember(15, 0.8, 80),
		"clyfar004": riskMember(15, 0.78, 79),
	}
	s, err := BuildSummary("20250110_0600Z", members, nil)
	if err != nil {
		t.Fatal(err)
	}
	if s.SchemaVersion != "1.3" {
		t.Errorf("schema version = %s; want 1.3", s.SchemaVersion)
	}
	if s.MemberAssignment["clyfar001"] != 0 || s.MemberAssignment["clyfar002"] != 0 {
		t.Errorf("background members not in cluster 0: %v", s.MemberAssignment)
	}
	if s.MemberAssignment["clyfar003"] == 0 || s.MemberAssignment["clyfar004"] == 0 {
		t.Errorf("risk members must not join cluster 0: %v", s.MemberAssignment)
	}
	if s.QualityFlags.StrictNullMembers != 2 {
		t.Errorf("strict null members = %d; want 2", s.QualityFlags.StrictNullMembers)
	}
	// Every member is assigned to exactly one cluster.
	counted := 0
	for _, c := range s.Clusters {
		counted += len(c.Members)
	}
	if counted != len(members) {
		t.Errorf("clusters cover %d members; want %d", counted, len(members))
	}
}

func TestAllBackgroundEnsemble(t *testing.T) {
	members := make(map[string]*MemberData)
	for i := 1; i <= 5; i++ {
		members[fmt.Sprintf("clyfar%03d", i)] = backgroundMember(10)
	}
	s, err := BuildSummary("20250110_0600Z", members, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !s.QualityFlags.StrictAllBackground {
		t.Error("all-background ensemble should set strict_all_background")
	}
	if s.NClusters != 1 || s.Clusters[0].ID != 0 {
		t.Errorf("expected a single null cluster, got %d clusters", s.NClusters)
	}
	if s.Method.Stage1.ActiveWindow.ActiveDays != 0 {
		t.Errorf("active days = %d; want 0", s.Method.Stage1.ActiveWindow.ActiveDays)
	}
}

func TestSelectedKWithinBounds(t *testing.T) {
	members := map[string]*MemberData{}
	// Two well-separated behavior groups and no background members.
	for i := 1; i <= 4; i++ {
		members[fmt.Sprintf("clyfar%03d", i)] = riskMember(15, 0.1+0.01*float64(i), 50)
	}
	for i := 5; i <= 8; i++ {
		members[fmt.Sprintf("clyfar%03d", i)] = riskMember(15, 0.85+0.01*float64(i-4), 95)
	}
	s, err := BuildSummary("20250110_0600Z", members, nil)
	if err != nil {
		t.Fatal(err)
	}
	k := s.Method.Stage2.SelectedK
	if k < 1 || k > 3 {
		t.Errorf("selected k = %d; want within [1,3]", k)
	}
	// Non-null clusters partition the non-null members.
	seen := map[string]int{}
	for _, c := range s.Clusters {
		if c.ID == 0 {
			continue
		}
		for _, m := range c.Members {
			seen[m]++
		}
	}
	for name, count := range seen {
		if count != 1 {
			t.Errorf("member %s appears in %d non-null clusters", name, count)
		}
	}
	if len(seen) != len(members) {
		t.Errorf("non-null clusters cover %d members; want %d", len(seen), len(members))
	}
}

func TestSingletonIsRetained(t *testing.T) {
	members := map[string]*MemberData{}
	for i := 1; i <= 6; i++ {
		members[fmt.Sprintf("clyfar%03d", i)] = riskMember(15, 0.2, 55)
	}
	// One extreme outlier member.
	members["clyfar007"] = riskMember(15, 0.95, 110)
	s, err := BuildSummary("20250110_0600Z", members, nil)
	if err != nil {
		t.Fatal(err)
	}
	assigned, ok := s.MemberAssignment["clyfar007"]
	if !ok {
		t.Fatal("outlier member missing from assignment")
	}
	if assigned == 0 {
		t.Error("outlier member must not land in the null cluster")
	}
	// If the outlier forms a singleton, it is retained (possibly
	// de-emphasized) rather than dropped.
	for _, c := range s.Clusters {
		if len(c.Members) == 1 && c.Members[0] == "clyfar007" {
			if c.Display.Status != "primary" && c.Display.Status != "deemphasized" {
				t.Errorf("singleton display status = %s", c.Display.Status)
			}
		}
	}
	if s.Method.Stage2.SelectedK > 0 && s.QualityFlags.MinSizeGuardRelaxed {
		// A relaxed guard must be flagged in both places.
		if !s.Method.Stage2.MinSizeGuardRelaxed {
			t.Error("relax flag inconsistent between quality flags and method")
		}
	}
}

func TestSummarySerializesWithoutNaN(t *testing.T) {
	members := map[string]*MemberData{
		"clyfar001": backgroundMember(15),
		"clyfar002": riskMember(15, 0.9, 90),
	}
	// Percentiles partly missing, so some profile values go NaN.
	for i := 0; i < 5; i++ {
		members["clyfar002"].P90[i] = math.NaN()
	}
	s, err := BuildSummary("20250110_0600Z", members, nil)
	if err != nil {
		t.Fatal(err)
	}
	b, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("summary does not serialize: %v", err)
	}
	if strings.Contains(string(b), "NaN") {
		t.Error("summary contains a NaN token")
	}
}

func TestBlockRangesRenormalize(t *testing.T) {
	// A 7-day horizon has only the first two blocks.
	ranges := blockRanges(7)
	if len(ranges) != 2 {
		t.Fatalf("got %d blocks; want 2", len(ranges))
	}
	total := 0.
	for _, b := range ranges {
		total += b.weight
	}
	if math.Abs(total-1) > 1e-12 {
		t.Errorf("renormalized weights sum to %g; want 1", total)
	}
	if ranges[1].stop != 7 {
		t.Errorf("second block ends at %d; want 7", ranges[1].stop)
	}
}

func TestClusterFromDistanceDeterministic(t *testing.T) {
	D := [][]float64{
		{0, 1, 9, 9},
		{1, 0, 9, 9},
		{9, 9, 0, 1},
		{9, 9, 1, 0},
	}
	labels := clusterFromDistance(D, 2)
	if labels[0] != labels[1] || labels[2] != labels[3] || labels[0] == labels[2] {
		t.Errorf("expected pairs {0,1} and {2,3}, got %v", labels)
	}
	again := clusterFromDistance(D, 2)
	for i := range labels {
		if labels[i] != again[i] {
			t.Fatalf("clustering not deterministic: %v vs %v", labels, again)
		}
	}
}

func TestSilhouettePrefersTrueStructure(t *testing.T) {
	D := [][]float64{
		{0, 0.1, 5, 5, 5, 5},
		{0.1, 0, 5, 5, 5, 5},
		{5, 5, 0, 0.1, 0.1, 0.1},
		{5, 5, 0.1, 0, 0.1, 0.1},
		{5, 5, 0.1, 0.1, 0, 0.1},
		{5, 5, 0.1, 0.1, 0.1, 0},
	}
	s2 := silhouetteFromDistance(D, clusterFromDistance(D, 2))
	s3 := silhouetteFromDistance(D, clusterFromDistance(D, 3))
	if !(s2 > s3) {
		t.Errorf("silhouette should prefer the true 2-cluster structure: k2=%g k3=%g", s2, s3)
	}
}
