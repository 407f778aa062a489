/*
Copyright The CloudNativePG Contributors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package manifest

// CompactPageRanges folds a sorted, ascending list of bad page numbers
// into the manifest's compact range form.
func CompactPageRanges(badPages []int) []PageRange {
	if len(badPages) == 0 {
		return nil
	}

	ranges := make([]PageRange, 0, len(badPages))
	start := badPages[0]
	prev := badPages[0]

	flush := func(last int) {
		ranges = append(ranges, PageRange{First: start, Last: last})
	}

	for _, page := range badPages[1:] {
		if page == prev+1 {
			prev = page
			continue
		}
		flush(prev)
		start, prev = page, page
	}
	flush(prev)

	return ranges
}
