// Package connector is the framework the tap is built on.
//
// # Architecture Overview
//
// The connector package is organized into several sub-packages:
//
//   - core: The Source and Destination interfaces, stream descriptors,
//     partition contexts and the Singer catalog.
//
//   - base: BaseConnector, which owns the HTTP client (retries, rate
//     limiting, circuit breaker, response cache), per-stream metrics and
//     health checks. Sources embed it.
//
//   - sources: The GitLab source. A source describes its streams and reads
//     one partition at a time; the caller owns the loop and the state.
//
//   - destinations: Singer message writers. Standard output and local
//     files are the common case; S3 and GCS stream the same JSON lines to
//     an object.
//
//   - registry: Sources register by name and destinations by URI scheme
//     during package initialization.
//
// # Usage
//
// Creating a source:
//
//	cfg, err := config.Load("config.json")
//	if err != nil {
//		log.Fatal(err)
//	}
//	src, err := registry.CreateSource("gitlab", cfg)
//	if err != nil {
//		log.Fatal(err)
//	}
//	if err := src.Initialize(ctx, cfg); err != nil {
//		log.Fatal(err)
//	}
//	defer src.Close(ctx)
//
// Creating a destination from an output target:
//
//	dest, err := registry.CreateDestination("s3://bucket/run.jsonl.gz")
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer dest.Close(ctx)
//
// internal/pipeline ties the two together.
package connector
