// Package memory holds process-local implementations of the content, task,
// and blob stores for development and tests.
package memory
