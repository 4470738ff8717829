// Package gitlab implements the GitLab source: stream descriptors and
// their embedded schemas, URL templating, native and emulated pagination,
// group and project partitioning, and record normalization.
//
// A sync resolves root partitions with Partitions and reads each one with
// ReadPartition. Child streams are read once per parent record using the
// context built by the parent's ChildContext.
package gitlab
