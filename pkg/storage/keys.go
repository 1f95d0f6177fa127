package storage

import (
	"fmt"
)

// Key schema for the event store:
//
//	evt:<measurement>:<unixnano>:<seq>  -> JSON record
//
// Timestamps and sequence numbers are zero-padded so that keys of one
// measurement sort chronologically. The sequence breaks ties between records
// written in the same nanosecond.
const prefixEvent = "evt:"

// eventKey returns the key for one record.
// Format: "evt:{measurement}:{unixnano:020}:{seq:010}"
func eventKey(measurement string, unixNano int64, seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%s:%020d:%010d", prefixEvent, measurement, unixNano, seq))
}

// eventPrefix returns the prefix for all records of a measurement.
// Format: "evt:{measurement}:"
func eventPrefix(measurement string) []byte {
	return []byte(fmt.Sprintf("%s%s:", prefixEvent, measurement))
}

// keyUpperBound returns the exclusive upper bound for a prefix scan
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}
