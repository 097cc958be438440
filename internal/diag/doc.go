// Package diag defines the diagnostic model used by the assembler and linker.
//
// Diagnostic is the central record: a Severity, a stable Code, a short
// message, the primary source.Span and optional notes. Producers emit through
// a Reporter (usually a BagReporter) so they do not depend on storage or
// formatting. Render turns a Bag into the CLI form:
//
//	main.xasm:12:5: error[ASM2001]: label "done" is never bound
//	    JMP @done
//	        ^~~~~
//
// Code ranges:
//
//   - ASM1xxx: syntax of the textual assembly
//   - ASM2xxx: operands, labels and jump targets
//   - LNK3xxx: type linking and call-chain resolution
//   - IO4xxx: reading sources and images
package diag
