// Package stage defines the processor contract shared by all pipeline
// stages and the outcome vocabulary processors report back with.
package stage
