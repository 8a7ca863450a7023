// Package preflight provides readiness checks for the filesystem paths and
// disk capacity a pipeline run depends on.
//
// These checks run in two contexts:
//   - The pipeline API calls RunAll before starting a run. If any check
//     fails, the run is rejected up front instead of failing mid-level.
//   - The CLI "loom health" command displays the same checks alongside
//     database health.
package preflight
