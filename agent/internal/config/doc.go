// Package config loads and watches the probe configuration file (config.yaml).
//
// Top-level types:
//   - Config: tick intervals, verification timeout, metrics port, storage,
//     log level and the ordered target list
//   - Target: id, submit_url, probe_url, payload, tenant, optional timeout,
//     auth and tls
//   - AuthConfig: mode (mtls|apikey|bearer|basic|none); Key(), Token() and
//     Password() resolve secrets from environment variables
//   - StorageConfig: backend (sqlite|redis|memory), path, redis_url
//
// Load(path) reads the YAML file, applies defaults (30s send, 10s validate,
// 300s timeout, port 61616), applies SLA_* environment overrides, then
// validates required fields and enums. Target ids and tenants are restricted
// to [A-Za-z0-9_.-] because they are embedded in "/"-delimited store keys.
//
// Holder publishes the active snapshot through an atomic pointer. Reloader and
// Watch re-read the file on fsnotify events and on a poll interval; a new
// snapshot is published only when the xxhash of the content changed and the
// content validates. A bad reload is logged and the previous snapshot stays.
package config
