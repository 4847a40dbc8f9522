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

package clyfarutil

import (
	"os"
	"testing"

	"github.com/BurntSushi/toml"

	"github.com/bingham-research-center/clyfar"
)

func TestExampleConfigDecodes(t *testing.T) {
	b, err := os.ReadFile("../cmd/clyfar/configExample.toml")
	if err != nil {
		t.Fatal(err)
	}
	var cfg Config
	if _, err := toml.Decode(string(b), &cfg); err != nil {
		t.Fatalf("decoding example configuration: %v", err)
	}
	if cfg.GEFSBaseURL == "" {
		t.Error("example configuration must set GEFSBaseURL")
	}
	if cfg.Members != clyfar.MaxMembers {
		t.Errorf("Members = %d; want %d", cfg.Members, clyfar.MaxMembers)
	}
	if cfg.DeltaH != clyfar.DefaultDeltaH || cfg.MaxH != clyfar.LoRes.MaxLead() {
		t.Errorf("stepping = %d/%d; want %d/%d",
			cfg.DeltaH, cfg.MaxH, clyfar.DefaultDeltaH, clyfar.LoRes.MaxLead())
	}
	if len(cfg.Percentiles) != 3 {
		t.Errorf("percentiles = %v; want three entries", cfg.Percentiles)
	}
	if cfg.LocalTimeZone != clyfar.LocalTimeZone {
		t.Errorf("LocalTimeZone = %s; want %s", cfg.LocalTimeZone, clyfar.LocalTimeZone)
	}
	if cfg.MaskThreshold != clyfar.ElevationThreshold || cfg.MaskBuffer != clyfar.ElevationBuffer {
		t.Errorf("mask config = %g+%g; want %g+%g", cfg.MaskThreshold, cfg.MaskBuffer,
			clyfar.ElevationThreshold, clyfar.ElevationBuffer)
	}
	if cfg.SmoothElevation {
		t.Error("elevation smoothing must default off in the example config")
	}
}
