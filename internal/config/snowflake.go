package config

import "github.com/bwmarrin/snowflake"

// NewSnowflakeNode uses the configured node id, or fallback when none is set.
func NewSnowflakeNode(cfg Config, fallback int64) (*snowflake.Node, error) {
	nodeID := cfg.SnowflakeNodeID
	if nodeID <= 0 {
		nodeID = fallback
	}
	return snowflake.NewNode(nodeID)
}
