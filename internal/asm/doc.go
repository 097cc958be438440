// Package asm defines the executable form of xvm programs: ops with encoded
// operands, per-module constant pools, method bodies and class declarations.
//
// Operands are plain ints. Non-negative values index the constant pool;
// small negative values are pseudo-registers (this, the operand stack, the
// frame-local scratch slot, ...); everything at or below RegBase names a
// frame register. Jump targets are written against symbolic labels and
// resolved once, by Link, into displacements relative to the op that jumps.
//
// Programs are produced either with a ModuleBuilder or by Parse, which reads
// the line-oriented .xasm text form.
package asm
