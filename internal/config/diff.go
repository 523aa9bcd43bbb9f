package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	DefaultSearchChanged bool
	NewDefaultSearch     string

	NodesChanged bool       // true if any node was added, removed, or modified
	NodeChanges  []NodeDiff // per-node diffs
}

// NodeDiff describes what changed for a single node between two configs.
type NodeDiff struct {
	Identifier string
	Added      bool
	Removed    bool
	Changed    bool // host, port, password, or secure changed
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Pool.DefaultSearch != new.Pool.DefaultSearch {
		d.DefaultSearchChanged = true
		d.NewDefaultSearch = new.Pool.DefaultSearch
	}

	oldNodes := make(map[string]*NodeConfig, len(old.Nodes))
	for i := range old.Nodes {
		oldNodes[old.Nodes[i].Identifier] = &old.Nodes[i]
	}
	newNodes := make(map[string]*NodeConfig, len(new.Nodes))
	for i := range new.Nodes {
		newNodes[new.Nodes[i].Identifier] = &new.Nodes[i]
	}

	// Detect modified and removed nodes.
	for id, oldNode := range oldNodes {
		newNode, exists := newNodes[id]
		if !exists {
			d.NodeChanges = append(d.NodeChanges, NodeDiff{Identifier: id, Removed: true})
			d.NodesChanged = true
			continue
		}
		if *oldNode != *newNode {
			d.NodeChanges = append(d.NodeChanges, NodeDiff{Identifier: id, Changed: true})
			d.NodesChanged = true
		}
	}

	// Detect added nodes.
	for id := range newNodes {
		if _, exists := oldNodes[id]; !exists {
			d.NodeChanges = append(d.NodeChanges, NodeDiff{Identifier: id, Added: true})
			d.NodesChanged = true
		}
	}

	return d
}
