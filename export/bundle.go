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

package export

import (
	"fmt"
	"time"

	"github.com/bingham-research-center/clyfar"
	"github.com/bingham-research-center/clyfar/cluster"
)

// WriteClusteringSummary exports the scenario clustering summary artefact.
func (e *Exporter) WriteClusteringSummary(init time.Time, summary *cluster.Summary) (string, error) {
	fname := fmt.Sprintf("forecast_clustering_summary_%s.json", clyfar.InitString(init))
	fpath, err := e.writeJSON(fname, summary)
	if err == nil {
		e.logger().Infof("export: created %s", fname)
	}
	return fpath, err
}

// Bundle lists the artefacts written for one cycle.
type Bundle struct {
	PossibilityHeatmaps []string
	Exceedance          string
	PercentileScenarios []string
	WeatherMembers      []string
	WeatherPercentiles  string
	ClusteringSummary   string
}

// Files returns every artefact path in the bundle.
func (b *Bundle) Files() []string {
	var out []string
	out = append(out, b.PossibilityHeatmaps...)
	out = append(out, b.Exceedance)
	out = append(out, b.PercentileScenarios...)
	out = append(out, b.WeatherMembers...)
	out = append(out, b.WeatherPercentiles, b.ClusteringSummary)
	return out
}

// WriteAll produces the full artefact family for one cycle. The bundle is
// complete only after every member artefact has been written; the
// completion log line is the "bundle complete" signal.
func (e *Exporter) WriteAll(init time.Time,
	frames map[clyfar.Member]*clyfar.MemberFrame,
	dailymax map[clyfar.Member]*clyfar.DailyMaxFrame,
	percentiles []int) (*Bundle, error) {

	b := &Bundle{}
	var err error
	if b.PossibilityHeatmaps, err = e.WritePossibilityHeatmaps(init, dailymax); err != nil {
		return nil, err
	}
	if b.Exceedance, err = e.WriteExceedanceProbabilities(init, dailymax); err != nil {
		return nil, err
	}
	if b.PercentileScenarios, err = e.WritePercentileScenarios(init, dailymax); err != nil {
		return nil, err
	}
	if b.WeatherMembers, err = e.WriteWeatherMembers(init, frames); err != nil {
		return nil, err
	}
	if b.WeatherPercentiles, err = e.WriteWeatherPercentiles(init, frames, percentiles); err != nil {
		return nil, err
	}

	members, weather := cluster.FromDailyMax(dailymax, frames)
	summary, err := cluster.BuildSummary(clyfar.InitString(init), members, weather)
	if err != nil {
		return nil, fmt.Errorf("export: building clustering summary: %v", err)
	}
	if b.ClusteringSummary, err = e.WriteClusteringSummary(init, summary); err != nil {
		return nil, err
	}

	e.logger().Infof("export: bundle complete for %s (%d files)",
		clyfar.InitString(init), len(b.Files()))
	return b, nil
}
