package tsdb

import (
	"errors"
	"testing"
)

func TestFloatColumn(t *testing.T) {
	c := &floatColumn{}
	for _, v := range []float32{1.5, 3.5, 2.5} {
		if err := c.push(Value{Float: v}); err != nil {
			t.Fatal(err)
		}
	}
	if c.len() != 3 {
		t.Fatalf("len = %d, want 3", c.len())
	}
	if err := c.insert(1, Value{Float: 9.5}); err != nil {
		t.Fatal(err)
	}
	want := []float32{1.5, 9.5, 3.5, 2.5}
	for i, w := range want {
		if got := c.at(i).Float; got != w {
			t.Errorf("at(%d) = %f, want %f", i, got, w)
		}
	}

	encoded := c.encodeTo(nil)
	if len(encoded) != 4*c.len() {
		t.Fatalf("encoded %d bytes, want %d", len(encoded), 4*c.len())
	}
	decoded := &floatColumn{}
	if err := decoded.decode(encoded); err != nil {
		t.Fatal(err)
	}
	for i, w := range want {
		if got := decoded.at(i).Float; got != w {
			t.Errorf("decoded at(%d) = %f, want %f", i, got, w)
		}
	}
}

func TestIntColumn(t *testing.T) {
	c := &intColumn{}
	for _, v := range []uint32{10, 30} {
		if err := c.push(Value{Int: v}); err != nil {
			t.Fatal(err)
		}
	}
	if err := c.insert(1, Value{Int: 20}); err != nil {
		t.Fatal(err)
	}
	encoded := c.encodeTo(nil)
	decoded := &intColumn{}
	if err := decoded.decode(encoded); err != nil {
		t.Fatal(err)
	}
	for i, w := range []uint32{10, 20, 30} {
		if got := decoded.at(i).Int; got != w {
			t.Errorf("at(%d) = %d, want %d", i, got, w)
		}
	}
}

func TestTupleColumn(t *testing.T) {
	c := newTupleColumn(3)
	if err := c.push(TupleOf(1, 2, 3)); err != nil {
		t.Fatal(err)
	}
	if err := c.push(TupleOf(7, 8, 9)); err != nil {
		t.Fatal(err)
	}
	if err := c.insert(1, TupleOf(4, 5, 6)); err != nil {
		t.Fatal(err)
	}
	if got := c.at(1).Tuple; got[0] != 4 || got[1] != 5 || got[2] != 6 {
		t.Errorf("at(1) = %v, want [4 5 6]", got)
	}

	// the wire form is column-wise: all first elements, then all second, ...
	encoded := c.encodeTo(nil)
	if len(encoded) != 3*3*4 {
		t.Fatalf("encoded %d bytes, want 36", len(encoded))
	}
	decoded := newTupleColumn(3)
	if err := decoded.decode(encoded); err != nil {
		t.Fatal(err)
	}
	if decoded.len() != 3 {
		t.Fatalf("decoded len = %d, want 3", decoded.len())
	}
	for i := 0; i < 3; i++ {
		got, want := decoded.at(i).Tuple, c.at(i).Tuple
		for k := range want {
			if got[k] != want[k] {
				t.Errorf("decoded at(%d)[%d] = %f, want %f", i, k, got[k], want[k])
			}
		}
	}
}

func TestTupleColumnAritySize(t *testing.T) {
	c := newTupleColumn(2)
	if err := c.push(TupleOf(1, 2, 3)); !errors.Is(err, ErrTupleSize) {
		t.Errorf("push arity 3 into arity 2: err = %v, want ErrTupleSize", err)
	}
	if err := c.push(TupleOf(1)); !errors.Is(err, ErrTupleSize) {
		t.Errorf("push arity 1 into arity 2: err = %v, want ErrTupleSize", err)
	}
	if err := c.push(TupleOf(1, 2)); err != nil {
		t.Fatal(err)
	}
	if err := c.insert(0, TupleOf(1, 2, 3)); !errors.Is(err, ErrTupleSize) {
		t.Errorf("insert arity 3 into arity 2: err = %v, want ErrTupleSize", err)
	}
}

func TestColumnSlice(t *testing.T) {
	c := &floatColumn{}
	for i := 0; i < 5; i++ {
		if err := c.push(Value{Float: float32(i)}); err != nil {
			t.Fatal(err)
		}
	}
	s := c.slice(1, 4)
	if s.len() != 3 {
		t.Fatalf("slice len = %d, want 3", s.len())
	}
	// the slice is a copy, mutating it must not touch the original
	if err := s.set(0, Value{Float: 99}); err != nil {
		t.Fatal(err)
	}
	if c.at(1).Float != 1 {
		t.Errorf("original changed through slice: %f", c.at(1).Float)
	}
}
