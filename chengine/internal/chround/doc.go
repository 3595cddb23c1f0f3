// Package chround holds the per-height bookkeeping owned by the engine kernel.
// Nothing here is safe for concurrent use.
package chround
