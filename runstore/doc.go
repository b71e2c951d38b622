// Package runstore defines the run tracking abstraction the rest of
// the module builds on: runs carrying tags, params, metrics and
// artifacts, grouped into experiments and searchable by tag filters.
//
// Three backends implement Client: runstore/local persists runs as
// JSON documents on disk, runstore/postgres keeps them in SQL with
// artifacts in object storage, and runstore/rest speaks the HTTP
// tracking protocol of a remote server.
package runstore
