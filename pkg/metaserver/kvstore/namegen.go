package kvstore

import "fmt"

// NameGenerator maps a metadata partition to the table names holding its
// rows. Partition scoping happens entirely through table naming, so engines
// for different partitions can share one Store without key collisions.
//
// A NameGenerator is an injected value: construct one per partition and hand
// it to the engines that persist that partition's state.
type NameGenerator struct {
	partitionID uint32
}

// NewNameGenerator returns the naming authority for a partition.
func NewNameGenerator(partitionID uint32) *NameGenerator {
	return &NameGenerator{partitionID: partitionID}
}

// PartitionID returns the partition this generator names tables for.
func (g *NameGenerator) PartitionID() uint32 {
	return g.partitionID
}

// DentryTable returns the table holding the partition's dentry rows.
func (g *NameGenerator) DentryTable() string {
	return fmt.Sprintf("dentry:%d", g.partitionID)
}

// TxTable returns the table holding the partition's pending transaction
// descriptor.
func (g *NameGenerator) TxTable() string {
	return fmt.Sprintf("txinfo:%d", g.partitionID)
}
