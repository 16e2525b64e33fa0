// Package libcuda implements the driver interfaces on top of NVIDIA's driver library (libcuda.so),
// loaded at runtime with purego: no cgo or CUDA toolkit is needed to build.
//
// The library is searched in $GOCUDA_LIBRARY_PATH, $LD_LIBRARY_PATH, the directories listed in
// /etc/ld.so.conf and finally a few standard locations, see SearchPaths.
//
// Example:
//
//	drv, err := libcuda.Open(0)
//	if err != nil { ... }
//	defer drv.Close()
//	client, err := cuda.NewClient(drv, nil)
package libcuda
