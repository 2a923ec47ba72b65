// Package ir provides the canonical value representation shared by every
// replica.
//
// All other internal packages import ir; ir imports nothing internal.
//
// Key design constraints:
//   - Values are a closed set: null, string, int64, finite float64, bool,
//     array, object
//   - Canonical JSON is byte-stable across replicas (sorted keys, NFC strings)
//   - Floats keep their type through a round trip ("2.0", never "2")
//   - All JSON tags use snake_case
package ir
