// Package generation defines the boundary between the worker and the external
// video generation pipeline (understanding, retrieval, scripting, synthesis,
// rendering and upload). The pipeline itself is opaque: the worker hands it a
// Request and receives either a Result or a classified Error.
package generation
