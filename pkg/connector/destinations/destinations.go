// Package destinations registers every destination with the connector
// registry. Import it for its side effects.
package destinations

import (
	// Register destinations by URI scheme
	_ "github.com/ajitpratap0/tap-gitlab/pkg/connector/destinations/gcs"
	_ "github.com/ajitpratap0/tap-gitlab/pkg/connector/destinations/s3"
	_ "github.com/ajitpratap0/tap-gitlab/pkg/connector/destinations/singer"
)
