// Package ingest turns supplier input files into product records or, for
// feeds that already list image URLs, straight into manifest entries.
package ingest
