// Package uploader provides the upload manager: per backend, a private
// bounded worker pool that moves local log segments to remote object storage
// and hands every caller a handle to the outcome. Managers are collected in
// a Registry keyed by backend name.
package uploader
