// Command pforge-ffi is the cgo boundary for C13: it builds as a c-shared
// library exposing the four entry points spec.md section 4.13 describes.
// All dispatch logic lives in pkg/ffi; this file only translates between
// Go and the C ABI.
package main

/*
#include <stdlib.h>
#include <stdint.h>

typedef struct FfiResult {
	int32_t code;
	unsigned char *data;
	size_t data_len;
	char *error;
} FfiResult;
*/
import "C"

import (
	"context"
	"unsafe"

	"github.com/pforge-dev/pforge/pkg/ffi"
)

var bridge = ffi.NewBridge()

// versionCString is allocated once and never freed, so every version() call
// returns the same pointer.
var versionCString = C.CString(ffi.Version())

// version returns a static, caller-must-not-free C string.
//
//export version
func version() *C.char {
	return versionCString
}

// handler_init constructs a handler from handlerType/configJSON and returns
// an opaque handle, or 0 on failure.
//
//export handler_init
func handler_init(handlerType *C.char, configJSON *C.char) C.uint64_t {
	t := C.GoString(handlerType)
	var cfg []byte
	if configJSON != nil {
		cfg = []byte(C.GoString(configJSON))
	}

	id, err := bridge.Init(t, cfg)
	if err != nil {
		return 0
	}
	return C.uint64_t(id)
}

// handler_execute runs handle against params_ptr[0:params_len]. The result
// owns its data/error buffers; the caller must call result_free exactly
// once.
//
//export handler_execute
func handler_execute(handle C.uint64_t, paramsPtr *C.uchar, paramsLen C.size_t) C.FfiResult {
	var params []byte
	if paramsPtr != nil && paramsLen > 0 {
		params = C.GoBytes(unsafe.Pointer(paramsPtr), C.int(paramsLen))
	}

	result := bridge.Execute(context.Background(), uint64(handle), params)

	var out C.FfiResult
	out.code = C.int32_t(result.Code)
	switch {
	case result.Code == 0 && len(result.Data) > 0:
		out.data = (*C.uchar)(C.CBytes(result.Data))
		out.data_len = C.size_t(len(result.Data))
	case result.Code != 0:
		out.error = C.CString(result.Err)
	}
	return out
}

// handler_free releases handle.
//
//export handler_free
func handler_free(handle C.uint64_t) {
	bridge.Free(uint64(handle))
}

// result_free releases an FfiResult's owned buffers. Must be called
// exactly once per value returned by handler_execute.
//
//export result_free
func result_free(result C.FfiResult) {
	if result.data != nil {
		C.free(unsafe.Pointer(result.data))
	}
	if result.error != nil {
		C.free(unsafe.Pointer(result.error))
	}
}

func main() {}
