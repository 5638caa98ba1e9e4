// Package raspeval holds the types shared by the native attack probes:
// verdicts, probe targets, protections and the evaluation records the
// catalog produces.
package raspeval
