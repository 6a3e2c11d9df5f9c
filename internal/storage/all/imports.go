// Package all wires every built-in writer backend into the storage factory.
//
// This package exists purely for side effects: importing it (even as a blank
// import) runs the init functions of each backend, which register their
// factories with the storage package. The available output kinds are:
//
//   - "local"    (staretl/internal/storage/local)
//   - "s3"       (staretl/internal/storage/s3sink)
//   - "minio"    (staretl/internal/storage/miniosink)
//   - "postgres" (staretl/internal/storage/postgres)
//   - "sqlite"   (staretl/internal/storage/sqlite)
//   - "mssql"    (staretl/internal/storage/mssql)
//
// Typical usage:
//
//	import _ "staretl/internal/storage/all" // enable all built-in backends
//
//	w, err := storage.New(ctx, storage.Config{Kind: spec.Output.Kind, Root: spec.Output.Root})
//	if err != nil { ... }
//	defer w.Close()
//
// A binary that needs only a subset of backends can import those packages
// directly instead.
package all

import (
	_ "staretl/internal/storage/local"
	_ "staretl/internal/storage/miniosink"
	_ "staretl/internal/storage/mssql"
	_ "staretl/internal/storage/postgres"
	_ "staretl/internal/storage/s3sink"
	_ "staretl/internal/storage/sqlite"
)
