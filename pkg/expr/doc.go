// Package expr provides CEL (Common Expression Language) functionality
// for filtering filesystem events.
//
// It creates CEL environments with custom functions for:
//   - File path operations (pathBase, pathDir, pathExt, pathSegments)
//   - Matching paths against group-style rules (pathMatch)
//   - Naming event kinds (kindName)
//   - YAML content extraction (yamlPath)
//
// Conditions compiled with [CompileCondition] have access to variables:
//   - `path` (string): The path relative to the watched root
//   - `file` (string): The absolute path
//   - `kind` (int): The event kind, one of `fs.MATCH` or `fs.GONE`
package expr
