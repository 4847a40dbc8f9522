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

// Command clyfar is the command-line interface for the Clyfar winter
// ozone forecasting system.
package main

import (
	"fmt"
	"os"

	"github.com/bingham-research-center/clyfar/clyfarutil"
)

func main() {
	if err := clyfarutil.Root.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
