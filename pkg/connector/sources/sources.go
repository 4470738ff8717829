// Package sources registers every source connector with the connector
// registry. Import it for its side effects.
package sources

import (
	// Register source connectors
	_ "github.com/ajitpratap0/tap-gitlab/pkg/connector/sources/gitlab"
)
