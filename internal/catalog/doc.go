// Package catalog defines the core types, capabilities, and error taxonomy
// shared by the page-resolution and image-download pipeline.
package catalog
