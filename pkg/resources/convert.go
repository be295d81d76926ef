package resources

import (
	"fmt"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
)

// Decode converts a raw object into the typed value out, failing closed when
// the payload does not match the expected shape.
func Decode(object *unstructured.Unstructured, out interface{}) error {
	if err := decodeInto(object.UnstructuredContent(), out); err != nil {
		return fmt.Errorf("%s %s.%s decode error: %w",
			object.GetKind(), object.GetName(), object.GetNamespace(), err)
	}
	return nil
}

// Encode converts a typed object into the generic form accepted by the
// dynamic client. The argument must be a pointer.
func Encode(object interface{}) (map[string]interface{}, error) {
	return runtime.DefaultUnstructuredConverter.ToUnstructured(object)
}

func decodeInto(content map[string]interface{}, out interface{}) error {
	return runtime.DefaultUnstructuredConverter.FromUnstructured(content, out)
}
