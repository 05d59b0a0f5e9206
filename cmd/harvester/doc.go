// Package main hosts the harvester command.
//
// A run reads a supplier product list (CSV or XML) from the work directory,
// resolves each product to its supplier page, extracts image links into the
// manifest, downloads and normalizes the images, verifies them, and optionally
// zips and publishes the result:
//
//   - Collect: search or direct URLs are resolved through the page cache, then
//     image links are extracted with the configured selector rules. Headless
//     rendering via Chromedp is used when headless.enabled is set.
//   - Download: manifest entries are fetched in batches; every image is
//     normalized onto a square canvas unless transform.enabled is false.
//   - Integrity: the failure log and the image folder are compared against the
//     manifest according to integrity.mode.
//   - Archive and publish: the image folder is zipped and uploaded to local,
//     GCS, or S3 storage according to publish.backend.
//
// Flags:
//
//	-config       path to a YAML config file (env vars use the HARVESTER_ prefix)
//	-env          dotenv file loaded before config (missing file is ignored)
//	-input        input file, overriding input.path
//	-failed-only  reprocess only records named in the failure log
//	-links-only   stop after writing the manifest
//	-rotate-data  move the previous run's outputs aside first
//
// The exit code is 0 on success, 1 on error, and 2 when the integrity check fails.
// While a run is in progress, metrics.listen_addr serves /healthz, /readyz,
// /metrics, and /v1/run.
package main
