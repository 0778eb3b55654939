// Package util holds small helpers shared across packages: safe string
// truncation for logging secrets, URL normalization for audience matching,
// and IP classification for redirect and fetch target vetting.
package util
