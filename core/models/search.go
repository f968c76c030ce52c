package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/exp/constraints"
)

// ScalingPolicy controls how values are spaced across a parameter range.
type ScalingPolicy string

const (
	ScalingLinear      ScalingPolicy = "linear"
	ScalingLogarithmic ScalingPolicy = "log"
)

// Number covers the numeric types a parameter range can hold.
type Number interface {
	constraints.Integer | constraints.Float
}

// Range is an inclusive numeric interval.
type Range[T Number] struct {
	Min T
	Max T
}

// Valid reports whether the interval is non-empty.
func (r Range[T]) Valid() bool {
	return r.Min <= r.Max
}

// Parameter defines one dimension of the hyperparameter search space.
type Parameter struct {
	Name    string
	Bounds  Range[float64]
	Scale   ScalingPolicy
	Integer bool // sampled values are rounded to whole numbers
}

// ParamValue is a named hyperparameter value.
type ParamValue struct {
	Name  string
	Value float64
}

// HyperparameterCandidate is one immutable point in the search space.
// Params keeps the search-space definition order.
type HyperparameterCandidate struct {
	Index  int
	Params []ParamValue
}

// StringMap renders the parameters in the remote service's string form.
func (c HyperparameterCandidate) StringMap() map[string]string {
	out := make(map[string]string, len(c.Params))
	for _, p := range c.Params {
		out[p.Name] = strconv.FormatFloat(p.Value, 'g', -1, 64)
	}
	return out
}

// String returns a compact human-readable form for logs.
func (c HyperparameterCandidate) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "candidate %d {", c.Index)
	for i, p := range c.Params {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s=%g", p.Name, p.Value)
	}
	b.WriteByte('}')
	return b.String()
}

// MarshalJSON renders the candidate as an object with parameters in
// definition order, so artifact output is stable across runs.
func (c HyperparameterCandidate) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, p := range c.Params {
		if i > 0 {
			buf.WriteByte(',')
		}
		name, err := json.Marshal(p.Name)
		if err != nil {
			return nil, err
		}
		value, err := json.Marshal(p.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(name)
		buf.WriteByte(':')
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// FoldSplit is one cross-validation fold's data locations.
type FoldSplit struct {
	Index              int
	TrainLocation      string
	ValidationLocation string
}

// BuildFoldSplits derives the k fold locations from the base training
// location, following the layout the dataset split step produces:
// <base>/fold-<i>/train and <base>/fold-<i>/validation.
func BuildFoldSplits(trainLocation string, k int) []FoldSplit {
	base := strings.TrimRight(trainLocation, "/")
	splits := make([]FoldSplit, k)
	for i := 0; i < k; i++ {
		splits[i] = FoldSplit{
			Index:              i,
			TrainLocation:      fmt.Sprintf("%s/fold-%d/train", base, i),
			ValidationLocation: fmt.Sprintf("%s/fold-%d/validation", base, i),
		}
	}
	return splits
}
