package tsdb

import (
	"encoding/binary"
	"fmt"
	"math"
)

// ValueType tags the element shape of a bucket's value column. It is fixed
// at bucket creation and persisted in the bucket header.
type ValueType uint16

const (
	RawFloat ValueType = 1 + iota
	RawInt
	TupleFloat2
	TupleFloat3
	TupleFloat4
	BasicAggregation
)

func (t ValueType) String() string {
	switch t {
	case RawFloat:
		return "raw_float"
	case RawInt:
		return "raw_int"
	case TupleFloat2:
		return "tuple_float_2"
	case TupleFloat3:
		return "tuple_float_3"
	case TupleFloat4:
		return "tuple_float_4"
	case BasicAggregation:
		return "basic_aggregation"
	}
	return fmt.Sprintf("value_type(%d)", uint16(t))
}

// ParseValueType - reverse of String, used by configuration and the CLI.
func ParseValueType(s string) (ValueType, error) {
	switch s {
	case "raw_float":
		return RawFloat, nil
	case "raw_int":
		return RawInt, nil
	case "tuple_float_2":
		return TupleFloat2, nil
	case "tuple_float_3":
		return TupleFloat3, nil
	case "tuple_float_4":
		return TupleFloat4, nil
	case "basic_aggregation":
		return BasicAggregation, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidValueType, s)
}

// Value holds one sample value. The active representation depends on the
// owning bucket's value type: Float for RawFloat, Int for RawInt, Tuple for
// the tuple types and BasicAggregation.
type Value struct {
	Float float32
	Int   uint32
	Tuple []float32
}

// Float32 - shorthand constructor for a RawFloat value.
func Float32(v float32) Value { return Value{Float: v} }

// Uint32 - shorthand constructor for a RawInt value.
func Uint32(v uint32) Value { return Value{Int: v} }

// TupleOf - shorthand constructor for a tuple value.
func TupleOf(vs ...float32) Value { return Value{Tuple: vs} }

// Aggregation is the interpretation of a BasicAggregation tuple.
type Aggregation struct {
	Min   float32
	Max   float32
	Sum   float32
	Count float32
}

// Agg reinterprets a 4-float tuple value as an Aggregation.
func (v Value) Agg() Aggregation {
	if len(v.Tuple) != 4 {
		return Aggregation{}
	}
	return Aggregation{Min: v.Tuple[0], Max: v.Tuple[1], Sum: v.Tuple[2], Count: v.Tuple[3]}
}

// Point is one timestamped sample.
type Point struct {
	Ts    uint32
	Value Value
}

// valueColumn is the packed value store behind a bucket. Scalar columns hold
// one array, tuple columns hold arity parallel arrays. Element width is
// always 4 bytes, little-endian on the wire.
type valueColumn interface {
	len() int
	at(i int) Value
	set(i int, v Value) error
	insert(i int, v Value) error
	push(v Value) error
	// slice returns a copy of [i:j); the receiver is untouched.
	slice(i, j int) valueColumn
	extend(o valueColumn) error
	encodeTo(dst []byte) []byte
	decode(data []byte) error
}

func newValueColumn(t ValueType) (valueColumn, error) {
	switch t {
	case RawFloat:
		return &floatColumn{}, nil
	case RawInt:
		return &intColumn{}, nil
	case TupleFloat2:
		return newTupleColumn(2), nil
	case TupleFloat3:
		return newTupleColumn(3), nil
	case TupleFloat4:
		return newTupleColumn(4), nil
	case BasicAggregation:
		return newTupleColumn(4), nil
	}
	return nil, fmt.Errorf("%w: %d", ErrInvalidValueType, uint16(t))
}

type floatColumn struct {
	v []float32
}

func (c *floatColumn) len() int          { return len(c.v) }
func (c *floatColumn) at(i int) Value    { return Value{Float: c.v[i]} }
func (c *floatColumn) set(i int, v Value) error {
	c.v[i] = v.Float
	return nil
}

func (c *floatColumn) insert(i int, v Value) error {
	c.v = append(c.v, 0)
	copy(c.v[i+1:], c.v[i:])
	c.v[i] = v.Float
	return nil
}

func (c *floatColumn) push(v Value) error {
	c.v = append(c.v, v.Float)
	return nil
}

func (c *floatColumn) slice(i, j int) valueColumn {
	return &floatColumn{v: append([]float32(nil), c.v[i:j]...)}
}

func (c *floatColumn) extend(o valueColumn) error {
	other, ok := o.(*floatColumn)
	if !ok {
		return ErrInvalidValueType
	}
	c.v = append(c.v, other.v...)
	return nil
}

func (c *floatColumn) encodeTo(dst []byte) []byte {
	for _, v := range c.v {
		dst = binary.LittleEndian.AppendUint32(dst, math.Float32bits(v))
	}
	return dst
}

func (c *floatColumn) decode(data []byte) error {
	if len(data)%4 != 0 {
		return fmt.Errorf("float column data length %d not a multiple of 4", len(data))
	}
	c.v = make([]float32, 0, len(data)/4)
	for off := 0; off < len(data); off += 4 {
		c.v = append(c.v, math.Float32frombits(binary.LittleEndian.Uint32(data[off:])))
	}
	return nil
}

type intColumn struct {
	v []uint32
}

func (c *intColumn) len() int       { return len(c.v) }
func (c *intColumn) at(i int) Value { return Value{Int: c.v[i]} }
func (c *intColumn) set(i int, v Value) error {
	c.v[i] = v.Int
	return nil
}

func (c *intColumn) insert(i int, v Value) error {
	c.v = append(c.v, 0)
	copy(c.v[i+1:], c.v[i:])
	c.v[i] = v.Int
	return nil
}

func (c *intColumn) push(v Value) error {
	c.v = append(c.v, v.Int)
	return nil
}

func (c *intColumn) slice(i, j int) valueColumn {
	return &intColumn{v: append([]uint32(nil), c.v[i:j]...)}
}

func (c *intColumn) extend(o valueColumn) error {
	other, ok := o.(*intColumn)
	if !ok {
		return ErrInvalidValueType
	}
	c.v = append(c.v, other.v...)
	return nil
}

func (c *intColumn) encodeTo(dst []byte) []byte {
	for _, v := range c.v {
		dst = binary.LittleEndian.AppendUint32(dst, v)
	}
	return dst
}

func (c *intColumn) decode(data []byte) error {
	if len(data)%4 != 0 {
		return fmt.Errorf("int column data length %d not a multiple of 4", len(data))
	}
	c.v = make([]uint32, 0, len(data)/4)
	for off := 0; off < len(data); off += 4 {
		c.v = append(c.v, binary.LittleEndian.Uint32(data[off:]))
	}
	return nil
}

// tupleColumn stores n-tuples column-wise: arity parallel float arrays of
// equal length. The columnar layout is what the on-wire format serializes,
// do not collapse it into an array of tuples.
type tupleColumn struct {
	arity int
	cols  [][]float32
}

func newTupleColumn(arity int) *tupleColumn {
	return &tupleColumn{arity: arity, cols: make([][]float32, arity)}
}

func (c *tupleColumn) len() int { return len(c.cols[0]) }

func (c *tupleColumn) at(i int) Value {
	t := make([]float32, c.arity)
	for k := range c.cols {
		t[k] = c.cols[k][i]
	}
	return Value{Tuple: t}
}

func (c *tupleColumn) check(v Value) error {
	if len(v.Tuple) != c.arity {
		return fmt.Errorf("%w: got %d, want %d", ErrTupleSize, len(v.Tuple), c.arity)
	}
	return nil
}

func (c *tupleColumn) set(i int, v Value) error {
	if err := c.check(v); err != nil {
		return err
	}
	for k := range c.cols {
		c.cols[k][i] = v.Tuple[k]
	}
	return nil
}

func (c *tupleColumn) insert(i int, v Value) error {
	if err := c.check(v); err != nil {
		return err
	}
	for k := range c.cols {
		c.cols[k] = append(c.cols[k], 0)
		copy(c.cols[k][i+1:], c.cols[k][i:])
		c.cols[k][i] = v.Tuple[k]
	}
	return nil
}

func (c *tupleColumn) push(v Value) error {
	if err := c.check(v); err != nil {
		return err
	}
	for k := range c.cols {
		c.cols[k] = append(c.cols[k], v.Tuple[k])
	}
	return nil
}

func (c *tupleColumn) slice(i, j int) valueColumn {
	out := newTupleColumn(c.arity)
	for k := range c.cols {
		out.cols[k] = append([]float32(nil), c.cols[k][i:j]...)
	}
	return out
}

func (c *tupleColumn) extend(o valueColumn) error {
	other, ok := o.(*tupleColumn)
	if !ok || other.arity != c.arity {
		return ErrInvalidValueType
	}
	for k := range c.cols {
		c.cols[k] = append(c.cols[k], other.cols[k]...)
	}
	return nil
}

func (c *tupleColumn) encodeTo(dst []byte) []byte {
	for k := range c.cols {
		for _, v := range c.cols[k] {
			dst = binary.LittleEndian.AppendUint32(dst, math.Float32bits(v))
		}
	}
	return dst
}

// decode splits the byte stream evenly across the arity sub-arrays.
func (c *tupleColumn) decode(data []byte) error {
	if len(data)%(4*c.arity) != 0 {
		return fmt.Errorf("tuple column data length %d not divisible by %d", len(data), 4*c.arity)
	}
	part := len(data) / c.arity
	for k := range c.cols {
		chunk := data[k*part : (k+1)*part]
		c.cols[k] = make([]float32, 0, part/4)
		for off := 0; off < len(chunk); off += 4 {
			c.cols[k] = append(c.cols[k], math.Float32frombits(binary.LittleEndian.Uint32(chunk[off:])))
		}
	}
	return nil
}
