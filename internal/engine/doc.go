// Package engine runs the closed generation loop.
//
// One round asks the scheduler for a gadget combination, renders a prompt,
// asks the generator for candidate programs and validates each candidate by
// fusing it alone into a core, compiling and running it. Successful programs
// join the seed corpus and feed back into the scheduler:
//
//   - api-combination mode extracts consecutive call triples from every
//     success; triples never seen before raise the energy of the gadgets
//     taking part in them.
//   - fuzz-driver mode measures each success's branch coverage; a program
//     that covers a branch no earlier program did counts as new, and
//     per-gadget coverage drives the energy formula.
//
// A round without new feedback is quiet. The loop stops after enough
// consecutive quiet rounds, a round cap or a wall-clock budget, then runs
// the mode's corpus minimizer.
//
// Persistence: every candidate, seed metadata row, discovered triple and
// the scheduler counters are written to the store as the loop goes, so a
// later run can resume where this one stopped.
package engine
