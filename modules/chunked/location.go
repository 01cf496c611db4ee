// SPDX-License-Identifier: Apache-2.0

package chunked

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/arrayvc/arrayvc/modules/ndarray"
)

// Location encoding separators (spec §4.1 "Location encoding (on-disk)").
// Fixed repository constants, chosen from ASCII punctuation that never
// appears in a generated file uid or a decimal integer.
const (
	sepKey   = ":" // separates format code from the rest of the record
	hashSep  = "#" // separates file uid from the collection/row/shape tail
	listSep  = "," // separates collection from row, and shape dims from each other
	sliceSep = "@" // separates row from the shape field
)

// FormatCode identifies which backend a BackendLocation was produced by
// (spec §9 "Dynamic dispatch over backends → a small capability set").
const FormatCode = "00"

// Location is a BackendLocation for the chunked array backend (spec §3).
type Location struct {
	FileUID    string
	Collection int64
	Row        int64
	Shape      ndarray.Shape
}

// Encode renders a Location as the short ASCII record spec §4.1 specifies:
// <fmtcode><sep><uid><hashsep><collection><listsep><row><slicesep><s0,s1,…>
func (l Location) Encode() []byte {
	dims := make([]string, len(l.Shape))
	for i, d := range l.Shape {
		dims[i] = strconv.FormatInt(d, 10)
	}
	s := FormatCode + sepKey + l.FileUID + hashSep +
		strconv.FormatInt(l.Collection, 10) + listSep + strconv.FormatInt(l.Row, 10) +
		sliceSep + strings.Join(dims, listSep)
	return []byte(s)
}

// ErrMalformedLocation is returned when decoding a corrupt location record.
type ErrMalformedLocation struct {
	Record string
}

func (e *ErrMalformedLocation) Error() string {
	return fmt.Sprintf("chunked: malformed location record %q", e.Record)
}

// DecodeLocation parses the bytes produced by Location.Encode. It accepts
// any two-character leading format code, not just FormatCode — callers
// that must only accept chunked-backend locations check the code
// themselves (see Registry.Read, which dispatches on it first).
func DecodeLocation(b []byte) (Location, error) {
	s := string(b)
	fail := func() (Location, error) { return Location{}, &ErrMalformedLocation{Record: s} }

	_, rest, ok := strings.Cut(s, sepKey)
	if !ok {
		return fail()
	}
	uid, tail, ok := strings.Cut(rest, hashSep)
	if !ok {
		return fail()
	}
	head, shapeStr, ok := strings.Cut(tail, sliceSep)
	if !ok {
		return fail()
	}
	collStr, rowStr, ok := strings.Cut(head, listSep)
	if !ok {
		return fail()
	}
	coll, err := strconv.ParseInt(collStr, 10, 64)
	if err != nil {
		return fail()
	}
	row, err := strconv.ParseInt(rowStr, 10, 64)
	if err != nil {
		return fail()
	}
	var shape ndarray.Shape
	if shapeStr != "" { // empty shape ⇒ rank-0, spec §4.1 and §8 boundary case
		parts := strings.Split(shapeStr, listSep)
		shape = make(ndarray.Shape, len(parts))
		for i, p := range parts {
			d, err := strconv.ParseInt(p, 10, 64)
			if err != nil {
				return fail()
			}
			shape[i] = d
		}
	}
	return Location{FileUID: uid, Collection: coll, Row: row, Shape: shape}, nil
}
