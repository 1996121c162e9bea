// Package logging provides component-scoped structured logging for the
// HDMI mixing appliance, built on Logrus with lumberjack file rotation.
//
// The factory hands out one cached logger per component name
// (GetLogger("ingest.cam0")) and reconfigures all of them when the
// global configuration changes, so hot-reloading the log level needs
// no restart. Per-component level overrides cover dot-separated
// children. Correlation IDs flow through context for request tracing.
//
// Field conventions: "component" (logger owner), "camera_id",
// "scene_id", "pipeline_stage", and "op" carry the engine's structured
// context; "correlation_id" ties facade requests to supervisor work.
package logging
