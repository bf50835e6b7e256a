// Package wasmpkg is a local package manager and cache for WebAssembly
// components distributed as OCI images.
//
// Pulled images are tracked in a sqlite metadata store while their layers
// live in a content-addressable blob tree under the data root. Every pull
// also refreshes a catalog of known packages and their tags, which outlives
// the local images, and any WIT interface found in a layer is recorded and
// linked to the image.
//
// Basic usage:
//
//	m, _ := wasmpkg.Open(ctx)
//	defer m.Close()
//
//	ref, _ := wasmpkg.ParseReference("ghcr.io/example/app:v1.0.0")
//	res, _ := m.Pull(ctx, ref)
//	fmt.Println(res) // inserted, or already exists
//
//	// Layers by digest
//	images, _ := m.ListImages(ctx)
//	for _, img := range images {
//	    for _, d := range img.LayerDigests() {
//	        data, _ := m.Read(ctx, d)
//	        ...
//	    }
//	}
//
//	// Discovery works offline from the cached catalog
//	tags, _ := m.ListTags(ctx, ref)
//	pkgs, _ := m.SearchPackages(ctx, "example")
//
//	// Maintenance
//	m.Delete(ctx, ref)        // removes blobs no other image uses
//	removed, _ := m.Prune(ctx) // removes unreferenced blobs
//	state, _ := m.StateInfo(ctx)
//
// Offline mode (WithOffline) fails Pull with ErrOffline before any network
// access and serves ListTags from the catalog.
package wasmpkg
