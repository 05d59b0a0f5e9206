// Package supplier provides configurable implementations of the per-site
// capabilities: link extraction from product pages and product search.
package supplier
