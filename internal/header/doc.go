// Package header resolves which library headers a generated program must
// include and which system headers those headers pull in.
//
// Resolution is driven by the compiler's include trace (clang -H). Each
// library header yields one include tree. Trees are folded into an explicit
// Graph of direct-include edges, which answers the two questions a caller
// has:
//
//   - Which headers are top level (never included by another header)?
//   - When every header is included by some other header, which minimal set
//     still reaches all of them?
//
// The Resolver computes the answer once and serves it to every later caller.
package header
