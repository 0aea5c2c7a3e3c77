package taskclass

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBinOp_Eval(t *testing.T) {
	tests := []struct {
		name     string
		expr     Expr
		locals   []int32
		expected int32
	}{
		{"add", BinOp{Op: OpAdd, Left: Const(3), Right: Const(4)}, nil, 7},
		{"sub", BinOp{Op: OpSub, Left: Const(10), Right: Const(4)}, nil, 6},
		{"mul", BinOp{Op: OpMul, Left: Const(3), Right: Const(4)}, nil, 12},
		{"div", BinOp{Op: OpDiv, Left: Const(9), Right: Const(3)}, nil, 3},
		{"div by zero", BinOp{Op: OpDiv, Left: Const(9), Right: Const(0)}, nil, 0},
		{"mod", BinOp{Op: OpMod, Left: Const(9), Right: Const(4)}, nil, 1},
		{"mod by zero", BinOp{Op: OpMod, Left: Const(9), Right: Const(0)}, nil, 0},
		{"min", BinOp{Op: OpMin, Left: Const(9), Right: Const(4)}, nil, 4},
		{"max", BinOp{Op: OpMax, Left: Const(9), Right: Const(4)}, nil, 9},
		{
			"nested, reads locals",
			BinOp{Op: OpAdd, Left: Inline(func(l []int32) int32 { return l[0] }), Right: Const(1)},
			[]int32{41},
			42,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.expr.Eval(tt.locals))
		})
	}
}

func TestClass_Encoding(t *testing.T) {
	assert.Equal(t, EncodingCounter, (&Class{}).Encoding())
	assert.Equal(t, EncodingMask, (&Class{Flags: FlagUseMaskEncoding}).Encoding())
	assert.Equal(t, EncodingMask, (&Class{Flags: FlagHasInDependencies | FlagUseMaskEncoding}).Encoding())
}

func TestClass_ComputeGoal_StaticWhenFlagsUnset(t *testing.T) {
	c := &Class{DependenciesGoal: 42}
	assert.EqualValues(t, 42, c.ComputeGoal([]int32{1}))
	assert.EqualValues(t, 42, c.ComputeGoal([]int32{2}), "static goal must not vary by locals")
}

func TestClass_ComputeGoal_CounterSumsCtlGatherNB(t *testing.T) {
	c := &Class{
		Flags: FlagCtlGather,
		Flows: []Flow{
			{InDeps: []Dep{{CtlGatherNB: Const(4)}}},
			{InDeps: []Dep{{}}}, // no CtlGatherNB: contributes 1
		},
	}
	assert.EqualValues(t, 5, c.ComputeGoal([]int32{0}))
}

func TestClass_ComputeGoal_CounterSkipsGuardFalseInDeps(t *testing.T) {
	c := &Class{
		Flags: FlagHasInDependencies,
		Flows: []Flow{
			{InDeps: []Dep{{
				Guard:       Inline(func(l []int32) int32 { return l[0] }),
				CtlGatherNB: Const(4),
			}}},
		},
	}
	assert.EqualValues(t, 0, c.ComputeGoal([]int32{0}), "a guard-false in-dep must not count toward the target")
	assert.EqualValues(t, 4, c.ComputeGoal([]int32{1}))
}

func TestClass_ComputeGoal_MaskPreSatisfiesGuardFalseInDeps(t *testing.T) {
	c := &Class{
		Flags:            FlagHasInDependencies | FlagUseMaskEncoding,
		DependenciesGoal: 0b100, // IN_DONE stand-in bit for this test, plus no flow bits required statically
		Flows: []Flow{
			{InDeps: []Dep{{Guard: Inline(func(l []int32) int32 { return l[0] })}}}, // flow 0
			{},
		},
	}
	// locals[0] == 0: flow 0's only in-dep never fires for this instance,
	// so its bit must be pre-satisfied rather than block readiness.
	assert.EqualValues(t, 0b100|0b1, c.ComputeGoal([]int32{0}))
	assert.EqualValues(t, 0b100, c.ComputeGoal([]int32{1}))
}

func TestInstance_KeyString(t *testing.T) {
	tests := []struct {
		name     string
		inst     *Instance
		expected string
	}{
		{"no locals", &Instance{Class: &Class{Name: "gemv"}}, "gemv()"},
		{"one local", &Instance{Class: &Class{Name: "gemv"}, Locals: []int32{3}}, "gemv(3)"},
		{"multiple locals", &Instance{Class: &Class{Name: "gemv"}, Locals: []int32{3, 7}}, "gemv(3,7)"},
		{"negative local", &Instance{Class: &Class{Name: "gemv"}, Locals: []int32{-2, 0}}, "gemv(-2,0)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.inst.KeyString())
		})
	}
}

func TestInstance_Reset_ClearsAllFields(t *testing.T) {
	inst := &Instance{
		Class:    &Class{Name: "gemv"},
		Locals:   []int32{1, 2, 3},
		Priority: 9,
		Data:     []DataRef{{Key: "k"}},
	}
	inst.RingNext = &Instance{}
	inst.RingPrev = &Instance{}

	inst.Reset()

	assert.Nil(t, inst.Class)
	assert.Empty(t, inst.Locals)
	assert.Zero(t, inst.Priority)
	assert.Empty(t, inst.Data)
	assert.Nil(t, inst.RingPrev)
	assert.Nil(t, inst.RingNext)
}
