package inference

/*
#cgo LDFLAGS: -ldl
#include <dlfcn.h>
#include <stdlib.h>

typedef void* (*create_delegate_fn)(char**, char**, size_t, void (*)(const char*));
typedef void (*destroy_delegate_fn)(void*);

static void* open_library(const char* path) {
	return dlopen(path, RTLD_NOW | RTLD_LOCAL);
}

static const char* last_error() {
	return dlerror();
}

static void* create_delegate(void* lib) {
	create_delegate_fn fn = (create_delegate_fn)dlsym(lib, "tflite_plugin_create_delegate");
	if (fn == NULL) {
		return NULL;
	}
	return fn(NULL, NULL, 0, NULL);
}

static void destroy_delegate(void* lib, void* delegate) {
	destroy_delegate_fn fn = (destroy_delegate_fn)dlsym(lib, "tflite_plugin_destroy_delegate");
	if (fn != NULL) {
		fn(delegate);
	}
}
*/
import "C"

import (
	"unsafe"

	"golang.org/x/xerrors"
)

// externalDelegate is a TFLite delegate created by a plugin library that
// exports tflite_plugin_create_delegate, such as libedgetpu.
type externalDelegate struct {
	lib unsafe.Pointer
	d   unsafe.Pointer
}

func loadExternalDelegate(path string) (*externalDelegate, error) {
	cpath := C.CString(path)
	defer C.free(unsafe.Pointer(cpath))

	lib := C.open_library(cpath)
	if lib == nil {
		return nil, xerrors.Errorf("dlopen %s: %s", path, C.GoString(C.last_error()))
	}

	d := C.create_delegate(lib)
	if d == nil {
		C.dlclose(lib)
		return nil, xerrors.Errorf("%s: no delegate created", path)
	}

	return &externalDelegate{lib: lib, d: d}, nil
}

func (e *externalDelegate) Ptr() unsafe.Pointer {
	return e.d
}

func (e *externalDelegate) Delete() {
	if e.d != nil {
		C.destroy_delegate(e.lib, e.d)
		e.d = nil
	}
}
