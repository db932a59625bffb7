// Package consistency detects and repairs receipt fragments written outside
// their canonical path. Scanning runs against a single tree snapshot, never
// a live view, so transient states are not reported as corruption.
package consistency

import (
	"sort"

	"github.com/m3loqt/unihealth-app-sub008/internal/model"
	"github.com/m3loqt/unihealth-app-sub008/internal/store"
	"github.com/m3loqt/unihealth-app-sub008/internal/treepath"
)

// Scan walks the top level of the snapshot and returns every leaked receipt
// record, sorted by key for stable reports. Read-only: the snapshot is not
// mutated and the returned records alias its values.
func Scan(snap store.Tree) []model.LeakedReceiptRecord {
	var out []model.LeakedReceiptRecord
	for key, value := range snap {
		if !treepath.IsLeaked(key, value) {
			continue
		}
		out = append(out, model.LeakedReceiptRecord{Key: key, Value: value})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}
