// Package airbridge keeps Airtable bases and a SQL warehouse in sync.
//
// It runs in two directions:
//
// Load copies one Airtable table into a warehouse table. Records are read
// page by page through a rate-limited client, shaped into rows with
// canonical column names, and inserted into a staging table. Once every
// record is in, the staging table replaces the destination in one step, so
// readers see either the old table or the new one. When Airtable expires the
// pagination iterator mid-scan, the load starts over from the first page.
//
// Send queries warehouse tables concurrently and writes their rows to one
// Airtable table. Queries run on a bounded worker pool; writes are issued one
// table at a time in chunks of ten records. Failed queries are reported
// together once every other table has been sent.
//
// # Packages
//
//   - pkg/airtable: API client with throttling and 429 backoff, paginated
//     reader, bulk writer, base metadata
//   - pkg/shaper: record to row shaping and row to record conversion
//   - pkg/warehouse: dialect-aware SQL for Snowflake, Postgres, MySQL and SQLite
//   - pkg/loader: staging table load and atomic cutover
//   - pkg/dispatch: concurrent query, serial write fan-in
//   - pkg/config: YAML send config and environment credentials
//   - internal/pipeline: the load and send runs
//
// # Usage
//
//	airbridge load --base-id appXXXX --table-name Projects --destination analytics.raw.projects
//	airbridge send --config-file send.yaml --max-workers 4
package airbridge
